package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// SuperGraph represents the graph composed of every subgraph.
type SuperGraph struct {
	SubGraphs []*SubGraph            // List of subgraphs, in configuration order
	Schema    *ast.Schema            // Composed client facing schema
	Ownership map[string][]*SubGraph // Field ownership map (e.g., "Product.id" -> [SubGraph])
}

// NewSuperGraph composes subGraphs into one validated schema.
func NewSuperGraph(subGraphs []*SubGraph) (*SuperGraph, error) {
	if len(subGraphs) == 0 {
		return nil, fmt.Errorf("no subgraphs to compose")
	}

	sg := &SuperGraph{
		SubGraphs: subGraphs,
		Ownership: make(map[string][]*SubGraph),
	}

	doc, err := sg.composeSchema()
	if err != nil {
		return nil, err
	}

	schema, err := validator.ValidateSchemaDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("validate composed schema: %w", err)
	}
	sg.Schema = schema

	sg.buildOwnershipMap()

	return sg, nil
}

// composeSchema merges the definitions and extensions of every subgraph.
// Federation directives are dropped; the composed schema only describes what
// clients may query.
func (sg *SuperGraph) composeSchema() (*ast.SchemaDocument, error) {
	prelude, err := parser.ParseSchema(validator.Prelude)
	if err != nil {
		return nil, fmt.Errorf("parse prelude: %w", err)
	}

	merged := make(map[string]*ast.Definition)
	definedBy := make(map[string]*SubGraph)

	for _, sub := range sg.SubGraphs {
		defs := append(append(ast.DefinitionList{}, sub.Schema.Definitions...), sub.Schema.Extensions...)
		for _, def := range defs {
			if isFederationType(def.Name) {
				continue
			}

			existing, ok := merged[def.Name]
			if !ok {
				existing = &ast.Definition{
					Kind:        def.Kind,
					Name:        def.Name,
					Description: def.Description,
				}
				merged[def.Name] = existing
			}
			if existing.Kind != def.Kind {
				return nil, fmt.Errorf("type %s is a %s in %s but a %s in %s", def.Name, existing.Kind, definedBy[def.Name].Name, def.Kind, sub.Name)
			}
			if existing.Description == "" {
				existing.Description = def.Description
			}
			if _, ok := definedBy[def.Name]; !ok {
				definedBy[def.Name] = sub
			}

			if err := sg.mergeDefinition(existing, def, sub); err != nil {
				return nil, err
			}
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := &ast.SchemaDocument{
		Directives:  prelude.Directives,
		Definitions: append(ast.DefinitionList{}, prelude.Definitions...),
	}
	for _, name := range names {
		doc.Definitions = append(doc.Definitions, merged[name])
	}

	return doc, nil
}

// mergeDefinition merges def of sub into existing.
func (sg *SuperGraph) mergeDefinition(existing, def *ast.Definition, sub *SubGraph) error {
	existing.Interfaces = appendUnique(existing.Interfaces, def.Interfaces...)
	existing.Types = appendUnique(existing.Types, def.Types...)

	for _, v := range def.EnumValues {
		if existing.EnumValues.ForName(v.Name) == nil {
			existing.EnumValues = append(existing.EnumValues, &ast.EnumValueDefinition{Name: v.Name, Description: v.Description})
		}
	}

	for _, f := range def.Fields {
		if strings.HasPrefix(f.Name, "_") {
			continue
		}
		info, _ := sub.Field(def.Name, f.Name)
		if info != nil && info.Inaccessible {
			continue
		}

		current := existing.Fields.ForName(f.Name)
		if current == nil {
			existing.Fields = append(existing.Fields, copyField(f))
			continue
		}

		if current.Type.String() != f.Type.String() {
			return fmt.Errorf("field %s.%s is %s in one subgraph and %s in %s", def.Name, f.Name, current.Type.String(), f.Type.String(), sub.Name)
		}
		if !sg.sharedFieldAllowed(def.Name, f.Name) {
			return fmt.Errorf("field %s.%s is resolved by more than one subgraph; mark it @shareable, @external or make it a key", def.Name, f.Name)
		}
	}

	return nil
}

// sharedFieldAllowed reports whether typeName.fieldName may be declared by several
// subgraphs: it is external or a key everywhere but once, or shareable everywhere.
func (sg *SuperGraph) sharedFieldAllowed(typeName, fieldName string) bool {
	resolvers := 0
	allShareable := true
	for _, sub := range sg.SubGraphs {
		f, ok := sub.Field(typeName, fieldName)
		if !ok || f.External || sub.IsKeyField(typeName, fieldName) {
			continue
		}
		resolvers++
		allShareable = allShareable && f.Shareable
	}
	return resolvers <= 1 || allShareable
}

// copyField creates a copy of a field definition without its directives.
func copyField(f *ast.FieldDefinition) *ast.FieldDefinition {
	args := make(ast.ArgumentDefinitionList, 0, len(f.Arguments))
	for _, a := range f.Arguments {
		args = append(args, &ast.ArgumentDefinition{
			Description:  a.Description,
			Name:         a.Name,
			DefaultValue: a.DefaultValue,
			Type:         a.Type,
		})
	}

	return &ast.FieldDefinition{
		Description:  f.Description,
		Name:         f.Name,
		Arguments:    args,
		DefaultValue: f.DefaultValue,
		Type:         f.Type,
	}
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, l := range list {
			if l == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

// buildOwnershipMap constructs the ownership map.
// It determines which subgraphs can resolve each field in the composed schema.
func (sg *SuperGraph) buildOwnershipMap() {
	for _, def := range sg.Schema.Types {
		if def.BuiltIn || def.Kind != ast.Object {
			continue
		}
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			key := ownershipKey(def.Name, f.Name)
			for _, sub := range sg.SubGraphs {
				if sub.CanResolve(def.Name, f.Name) {
					sg.Ownership[key] = append(sg.Ownership[key], sub)
				}
			}
		}
	}
}

func ownershipKey(typeName, fieldName string) string {
	return typeName + "." + fieldName
}

// GetSubGraphsForField returns the list of subgraphs that can resolve the specified field.
func (sg *SuperGraph) GetSubGraphsForField(typeName, fieldName string) []*SubGraph {
	return sg.Ownership[ownershipKey(typeName, fieldName)]
}

// GetEntityOwnerSubGraph returns the subgraph that defines the entity with @key
// instead of extending it, or nil.
func (sg *SuperGraph) GetEntityOwnerSubGraph(typeName string) *SubGraph {
	for _, sub := range sg.SubGraphs {
		if e, ok := sub.GetEntity(typeName); ok && !e.IsExtension {
			return sub
		}
	}
	return nil
}

// SubGraph returns the subgraph registered under name.
func (sg *SuperGraph) SubGraph(name string) (*SubGraph, bool) {
	for _, sub := range sg.SubGraphs {
		if sub.Name == name {
			return sub, true
		}
	}
	return nil, false
}
