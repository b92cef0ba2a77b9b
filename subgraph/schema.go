package subgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

const federationPrelude = `
scalar _Any
scalar FieldSet

directive @key(fields: FieldSet!, resolvable: Boolean = true) repeatable on OBJECT | INTERFACE
directive @external on FIELD_DEFINITION | OBJECT
directive @requires(fields: FieldSet!) on FIELD_DEFINITION
directive @provides(fields: FieldSet!) on FIELD_DEFINITION
directive @shareable repeatable on OBJECT | FIELD_DEFINITION
directive @extends on OBJECT | INTERFACE
directive @inaccessible on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ENUM | SCALAR

type _Service {
  sdl: String
}
`

// Schema is an executable subgraph schema bound to its resolvers.
type Schema struct {
	sdl         string
	schema      *ast.Schema
	exec        graphql.Schema
	fields      map[Coordinate]FieldFunc
	entities    map[string]EntityFunc
	entityTypes []string
}

// NewSchema loads sdl, adds the federation fields and checks that resolvers covers
// every object field and entity type.
func NewSchema(sdl string, resolvers Resolvers) (*Schema, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	entityTypes := keyedTypes(doc)

	sources := []*ast.Source{
		validator.Prelude,
		{Name: "federation.graphql", Input: federationPrelude, BuiltIn: true},
		{Name: "schema.graphql", Input: sdl},
		{Name: "entities.graphql", Input: federationFields(entityTypes), BuiltIn: true},
	}
	schema, err := validator.LoadSchema(sources...)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	s := &Schema{
		sdl:         sdl,
		schema:      schema,
		fields:      make(map[Coordinate]FieldFunc, len(resolvers.Fields)+1),
		entities:    make(map[string]EntityFunc, len(resolvers.Entities)),
		entityTypes: entityTypes,
	}
	for c, fn := range resolvers.Fields {
		s.fields[c] = fn
	}
	for name, fn := range resolvers.Entities {
		s.entities[name] = fn
	}
	s.fields[Coordinate{schema.Query.Name, "_service"}] = func(context.Context, any, map[string]any) (any, error) {
		return s, nil
	}
	s.fields[Coordinate{"_Service", "sdl"}] = func(context.Context, any, map[string]any) (any, error) {
		return s.sdl, nil
	}

	if err := s.checkResolvers(); err != nil {
		return nil, err
	}
	if s.exec, err = s.buildExecutable(); err != nil {
		return nil, err
	}

	logger().Info("subgraph schema loaded",
		"operation", "new_schema",
		"outcome", "success",
		"entities", strings.Join(entityTypes, ","),
		"resolvers", len(resolvers.Fields),
	)
	return s, nil
}

// SDL returns the schema as written by the service, without federation additions.
func (s *Schema) SDL() string {
	return s.sdl
}

// EntityTypes returns the names of the types declared with @key.
func (s *Schema) EntityTypes() []string {
	return append([]string(nil), s.entityTypes...)
}

// AST exposes the validated schema including federation additions.
func (s *Schema) AST() *ast.Schema {
	return s.schema
}

func keyedTypes(doc *ast.SchemaDocument) []string {
	seen := map[string]bool{}
	var names []string
	add := func(defs ast.DefinitionList) {
		for _, def := range defs {
			if def.Kind != ast.Object || def.Directives.ForName("key") == nil || seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			names = append(names, def.Name)
		}
	}
	add(doc.Definitions)
	add(doc.Extensions)
	sort.Strings(names)
	return names
}

func federationFields(entityTypes []string) string {
	var b strings.Builder
	if len(entityTypes) > 0 {
		b.WriteString("union _Entity = ")
		b.WriteString(strings.Join(entityTypes, " | "))
		b.WriteString("\n\n")
	}

	b.WriteString("extend type Query {\n")
	if len(entityTypes) > 0 {
		b.WriteString("  _entities(representations: [_Any!]!): [_Entity]!\n")
	}
	b.WriteString("  _service: _Service!\n}\n")
	return b.String()
}

func (s *Schema) checkResolvers() error {
	var problems []string

	for name, def := range s.schema.Types {
		if def.Kind != ast.Object || def.BuiltIn || strings.HasPrefix(name, "_") {
			continue
		}
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "_") {
				continue
			}
			if s.fields[Coordinate{name, f.Name}] == nil {
				problems = append(problems, "missing field resolver "+name+"."+f.Name)
			}
		}
	}

	for c := range s.fields {
		if strings.HasPrefix(c.Type, "_") {
			continue
		}
		def := s.schema.Types[c.Type]
		if def == nil || def.Fields.ForName(c.Field) == nil {
			problems = append(problems, "resolver for unknown field "+c.String())
		}
	}

	for _, name := range s.entityTypes {
		if s.entities[name] == nil {
			problems = append(problems, "missing entity resolver "+name)
		}
	}
	for name := range s.entities {
		if !slices.Contains(s.entityTypes, name) {
			problems = append(problems, "entity resolver for type without @key "+name)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New("resolver table incomplete: " + strings.Join(problems, "; "))
}

func logger() *slog.Logger {
	return slog.Default().With("module", "subgraph")
}
