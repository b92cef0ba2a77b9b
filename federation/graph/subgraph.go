package graph

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// EntityKey represents the @key directive information of an entity.
type EntityKey struct {
	FieldSet   string   // Field set specified in @key (e.g., "id")
	Fields     []string // Top level field names of FieldSet
	Resolvable bool     // Resolvable parameter of @key directive
}

// Field represents field information of a subgraph type.
type Field struct {
	Name         string
	Type         *ast.Type
	External     bool // @external
	Shareable    bool // @shareable on the field or its type
	Inaccessible bool // @inaccessible
}

// Entity represents an object type carrying at least one @key.
type Entity struct {
	Keys        []EntityKey
	IsExtension bool
}

// SubGraph represents one federated service.
type SubGraph struct {
	Name     string              // Subgraph name (e.g., "catalog")
	Host     string              // GraphQL endpoint (e.g., "http://catalog:4000/query")
	SDL      string              // Schema as served by the service
	Schema   *ast.SchemaDocument // Parsed schema
	entities map[string]*Entity
	fields   map[string]map[string]*Field
}

// NewSubGraph parses the schema of one service and extracts its federation metadata.
// It analyzes @key, @external, @shareable and @inaccessible directives.
func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name + ".graphql", Input: string(src)})
	if err != nil {
		return nil, fmt.Errorf("parse schema of %s: %w", name, err)
	}

	sg := &SubGraph{
		Name:     name,
		Host:     host,
		SDL:      string(src),
		Schema:   doc,
		entities: make(map[string]*Entity),
		fields:   make(map[string]map[string]*Field),
	}

	for _, def := range doc.Definitions {
		sg.addDefinition(def, false)
	}
	for _, ext := range doc.Extensions {
		sg.addDefinition(ext, true)
	}

	return sg, nil
}

func (sg *SubGraph) addDefinition(def *ast.Definition, extension bool) {
	if isFederationType(def.Name) {
		return
	}

	if def.Kind == ast.Object {
		if keys := parseEntityKeys(def.Directives); len(keys) > 0 {
			entity, ok := sg.entities[def.Name]
			if !ok {
				entity = &Entity{IsExtension: extension}
				sg.entities[def.Name] = entity
			}
			entity.Keys = append(entity.Keys, keys...)
		}
	}

	typeShareable := def.Directives.ForName("shareable") != nil
	typeExternal := def.Directives.ForName("external") != nil

	fields := sg.fields[def.Name]
	if fields == nil {
		fields = make(map[string]*Field)
		sg.fields[def.Name] = fields
	}
	for _, f := range def.Fields {
		if strings.HasPrefix(f.Name, "_") {
			continue
		}
		fields[f.Name] = &Field{
			Name:         f.Name,
			Type:         f.Type,
			External:     typeExternal || f.Directives.ForName("external") != nil,
			Shareable:    typeShareable || f.Directives.ForName("shareable") != nil,
			Inaccessible: f.Directives.ForName("inaccessible") != nil,
		}
	}
}

// parseEntityKeys extracts every @key of a type. Only the top level of a field set
// is kept; nested selections are not supported as keys.
func parseEntityKeys(directives ast.DirectiveList) []EntityKey {
	var keys []EntityKey
	for _, d := range directives.ForNames("key") {
		arg := d.Arguments.ForName("fields")
		if arg == nil || arg.Value == nil {
			continue
		}

		resolvable := true
		if r := d.Arguments.ForName("resolvable"); r != nil && r.Value != nil && r.Value.Raw == "false" {
			resolvable = false
		}

		keys = append(keys, EntityKey{
			FieldSet:   arg.Value.Raw,
			Fields:     topLevelFields(arg.Value.Raw),
			Resolvable: resolvable,
		})
	}
	return keys
}

func topLevelFields(fieldSet string) []string {
	var fields []string
	depth := 0
	for _, tok := range strings.Fields(strings.NewReplacer("{", " { ", "}", " } ").Replace(fieldSet)) {
		switch tok {
		case "{":
			depth++
		case "}":
			depth--
		default:
			if depth == 0 {
				fields = append(fields, tok)
			}
		}
	}
	return fields
}

// isFederationType reports whether name is one of the types every subgraph adds.
func isFederationType(name string) bool {
	return strings.HasPrefix(name, "_") || name == "FieldSet"
}

// GetEntity returns the entity information of typeName, if it is an entity here.
func (sg *SubGraph) GetEntity(typeName string) (*Entity, bool) {
	e, ok := sg.entities[typeName]
	return e, ok
}

// Field returns the field information of typeName.fieldName.
func (sg *SubGraph) Field(typeName, fieldName string) (*Field, bool) {
	f, ok := sg.fields[typeName][fieldName]
	return f, ok
}

// KeyFields returns the fields of the first resolvable @key of typeName.
func (sg *SubGraph) KeyFields(typeName string) []string {
	e, ok := sg.entities[typeName]
	if !ok {
		return nil
	}
	for _, k := range e.Keys {
		if k.Resolvable {
			return k.Fields
		}
	}
	return nil
}

// IsKeyField reports whether fieldName is part of any @key of typeName.
func (sg *SubGraph) IsKeyField(typeName, fieldName string) bool {
	e, ok := sg.entities[typeName]
	if !ok {
		return false
	}
	for _, k := range e.Keys {
		for _, f := range k.Fields {
			if f == fieldName {
				return true
			}
		}
	}
	return false
}

// CanResolve reports whether the subgraph can return typeName.fieldName itself.
// External fields are only resolvable when they are part of a key, since the
// service receives them back in every representation.
func (sg *SubGraph) CanResolve(typeName, fieldName string) bool {
	f, ok := sg.Field(typeName, fieldName)
	if !ok {
		return false
	}
	return !f.External || sg.IsKeyField(typeName, fieldName)
}
