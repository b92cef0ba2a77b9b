package executor

import (
	"github.com/n9te9/kinabalu/federation/planner"
	"github.com/vektah/gqlparser/v2/ast"
)

// pruneResponse shapes data after the original operation: fields the planner added
// for entity resolution (__typename, key fields) are removed and fields no step
// produced become null.
func (e *Executor) pruneResponse(data map[string]any, plan *planner.Plan, variables map[string]any) map[string]any {
	if plan.Operation == nil || e.superGraph == nil || e.superGraph.Schema == nil {
		return data
	}

	schema := e.superGraph.Schema
	var root *ast.Definition
	switch plan.Operation.Operation {
	case ast.Mutation:
		root = schema.Mutation
	default:
		root = schema.Query
	}
	if root == nil {
		return data
	}

	p := &pruner{schema: schema, doc: plan.OriginalDocument, variables: variables}
	return p.object(data, root, plan.Operation.SelectionSet)
}

type pruner struct {
	schema    *ast.Schema
	doc       *ast.QueryDocument
	variables map[string]any
}

func (p *pruner) object(obj map[string]any, def *ast.Definition, sel ast.SelectionSet) map[string]any {
	if def.IsAbstractType() {
		typename, _ := obj["__typename"].(string)
		concrete := p.schema.Types[typename]
		if concrete == nil {
			return map[string]any{}
		}
		def = concrete
	}

	fields := planner.CollectFields(p.schema, p.doc, p.variables, sel, def)
	result := make(map[string]any, len(fields))
	for _, f := range fields {
		key := f.Alias
		if key == "" {
			key = f.Name
		}
		if f.Name == "__typename" {
			result[key] = def.Name
			continue
		}

		fd := def.Fields.ForName(f.Name)
		if fd == nil {
			continue
		}
		result[key] = p.value(obj[key], fd.Type, f.SelectionSet)
	}
	return result
}

func (p *pruner) value(v any, t *ast.Type, sel ast.SelectionSet) any {
	if v == nil {
		return nil
	}

	if t.Elem != nil {
		list, ok := v.([]any)
		if !ok {
			return nil
		}
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = p.value(item, t.Elem, sel)
		}
		return out
	}

	if len(sel) == 0 {
		return v
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	def := p.schema.Types[t.NamedType]
	if def == nil {
		return nil
	}
	return p.object(obj, def, sel)
}
