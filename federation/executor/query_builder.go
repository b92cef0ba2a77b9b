package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/kinabalu/federation/planner"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// representationsVariable is the variable carrying `_entities` representations.
const representationsVariable = "representations"

// QueryBuilder renders plan steps as GraphQL documents for their subgraphs.
type QueryBuilder struct{}

// NewQueryBuilder creates a new QueryBuilder instance.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Build generates a GraphQL query string and its variables from a step.
// Root steps keep the operation type of op. Entity steps become an `_entities`
// query with a type condition on the step's parent type. Only variables the step
// uses are declared and sent.
func (qb *QueryBuilder) Build(
	step *planner.Step,
	op *ast.OperationDefinition,
	variables map[string]any,
	representations []map[string]any,
) (string, map[string]any, error) {
	def := &ast.OperationDefinition{Operation: ast.Query}
	if step.StepType == planner.StepTypeQuery && op != nil {
		def.Operation = op.Operation
	}

	used := map[string]bool{}
	collectVariables(step.SelectionSet, used)

	vars := map[string]any{}
	if op != nil {
		for _, vd := range op.VariableDefinitions {
			if !used[vd.Variable] {
				continue
			}
			def.VariableDefinitions = append(def.VariableDefinitions, &ast.VariableDefinition{
				Variable:     vd.Variable,
				Type:         vd.Type,
				DefaultValue: vd.DefaultValue,
			})
			if v, ok := variables[vd.Variable]; ok {
				vars[vd.Variable] = v
			}
			delete(used, vd.Variable)
		}
	}
	if len(used) > 0 {
		names := make([]string, 0, len(used))
		for name := range used {
			names = append(names, "$"+name)
		}
		sort.Strings(names)
		return "", nil, fmt.Errorf("step %d uses undeclared variables %s", step.ID, strings.Join(names, ", "))
	}

	switch step.StepType {
	case planner.StepTypeQuery:
		def.SelectionSet = step.SelectionSet
	case planner.StepTypeEntity:
		name := uniqueVariable(representationsVariable, op)
		def.VariableDefinitions = append(def.VariableDefinitions, &ast.VariableDefinition{
			Variable: name,
			Type:     ast.NonNullListType(ast.NonNullNamedType("_Any", nil), nil),
		})
		if representations == nil {
			representations = []map[string]any{}
		}
		vars[name] = representations

		def.SelectionSet = ast.SelectionSet{
			&ast.Field{
				Alias: "_entities",
				Name:  "_entities",
				Arguments: ast.ArgumentList{
					{Name: "representations", Value: &ast.Value{Kind: ast.Variable, Raw: name}},
				},
				SelectionSet: ast.SelectionSet{
					&ast.InlineFragment{TypeCondition: step.ParentType, SelectionSet: step.SelectionSet},
				},
			},
		}
	default:
		return "", nil, fmt.Errorf("unknown step type %d", step.StepType)
	}

	var sb strings.Builder
	formatter.NewFormatter(&sb, formatter.WithIndent("  ")).
		FormatQueryDocument(&ast.QueryDocument{Operations: ast.OperationList{def}})

	return sb.String(), vars, nil
}

// uniqueVariable returns name, suffixed until it clashes with no variable of op.
func uniqueVariable(name string, op *ast.OperationDefinition) string {
	if op == nil {
		return name
	}
	for op.VariableDefinitions.ForName(name) != nil {
		name = "_" + name
	}
	return name
}

func collectVariables(sel ast.SelectionSet, vars map[string]bool) {
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				collectValueVariables(arg.Value, vars)
			}
			collectDirectiveVariables(s.Directives, vars)
			collectVariables(s.SelectionSet, vars)
		case *ast.InlineFragment:
			collectDirectiveVariables(s.Directives, vars)
			collectVariables(s.SelectionSet, vars)
		case *ast.FragmentSpread:
			collectDirectiveVariables(s.Directives, vars)
			if s.Definition != nil {
				collectVariables(s.Definition.SelectionSet, vars)
			}
		}
	}
}

func collectDirectiveVariables(dirs ast.DirectiveList, vars map[string]bool) {
	for _, d := range dirs {
		for _, arg := range d.Arguments {
			collectValueVariables(arg.Value, vars)
		}
	}
}

func collectValueVariables(v *ast.Value, vars map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		vars[v.Raw] = true
		return
	}
	for _, child := range v.Children {
		collectValueVariables(child.Value, vars)
	}
}
