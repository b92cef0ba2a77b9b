package planner

import (
	"errors"
	"fmt"

	"github.com/n9te9/kinabalu/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// StepType indicates the type of a step.
type StepType int

const (
	// StepTypeQuery represents a step that resolves root fields of an operation.
	StepTypeQuery StepType = iota
	// StepTypeEntity represents a step that resolves fields of an entity.
	StepTypeEntity
)

func (t StepType) String() string {
	if t == StepTypeEntity {
		return "entity"
	}
	return "query"
}

// Step represents a unit of request to a service.
type Step struct {
	ID            int              // Step ID, equal to its index in Plan.Steps
	SubGraph      *graph.SubGraph  // Subgraph responsible for this step
	StepType      StepType         // Type of the step
	ParentType    string           // Root type for query steps, entity type for entity steps
	SelectionSet  ast.SelectionSet // Selections sent to the subgraph
	DependsOn     []int            // Steps that must finish before this one
	InsertionPath []string         // Response keys leading to the objects this step extends
}

// Plan represents an operation execution plan.
type Plan struct {
	Steps            []*Step                  // List of execution steps
	RootStepIndexes  []int                    // Indexes of root steps
	OriginalDocument *ast.QueryDocument       // Original query document
	Operation        *ast.OperationDefinition // Planned operation
}

// Planner generates execution plans against a super graph.
type Planner struct {
	SuperGraph *graph.SuperGraph
}

// NewPlanner creates a new Planner instance.
func NewPlanner(superGraph *graph.SuperGraph) *Planner {
	return &Planner{SuperGraph: superGraph}
}

// Plan generates an execution plan for one operation of doc.
// doc must be validated against the super graph schema. @skip and @include are
// evaluated here with variables, so skipped fields never reach a subgraph.
func (p *Planner) Plan(doc *ast.QueryDocument, operationName string, variables map[string]any) (*Plan, error) {
	op, err := SelectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	var rootDef *ast.Definition
	switch op.Operation {
	case ast.Query:
		rootDef = p.SuperGraph.Schema.Query
	case ast.Mutation:
		rootDef = p.SuperGraph.Schema.Mutation
	default:
		return nil, fmt.Errorf("%s operations are not supported", op.Operation)
	}
	if rootDef == nil {
		return nil, fmt.Errorf("schema has no %s type", op.Operation)
	}

	b := &builder{
		collector: collector{schema: p.SuperGraph.Schema, doc: doc, variables: variables},
		graph:     p.SuperGraph,
		plan:      &Plan{OriginalDocument: doc, Operation: op},
	}

	fields := b.collectFields(op.SelectionSet, rootDef, nil, map[string]bool{})
	groups, err := b.groupRootFields(rootDef, fields, op.Operation == ast.Mutation)
	if err != nil {
		return nil, err
	}

	prev := -1
	for _, g := range groups {
		var deps []int
		// Mutation root steps run one after another in document order.
		if op.Operation == ast.Mutation && prev >= 0 {
			deps = []int{prev}
		}

		step := b.addStep(g.subGraph, StepTypeQuery, rootDef.Name, nil, deps)
		sel, err := b.buildSelections(step, rootDef, g.fields, nil)
		if err != nil {
			return nil, err
		}
		step.SelectionSet = sel

		b.plan.RootStepIndexes = append(b.plan.RootStepIndexes, step.ID)
		prev = step.ID
	}

	return b.plan, nil
}

// SelectOperation returns the operation of doc named name, or its only operation
// when name is empty.
func SelectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, fmt.Errorf("unknown operation %q", name)
		}
		return op, nil
	}
	if len(doc.Operations) == 0 {
		return nil, errors.New("no operation found")
	}
	if len(doc.Operations) > 1 {
		return nil, errors.New("operationName is required when the document has several operations")
	}
	return doc.Operations[0], nil
}

type builder struct {
	collector
	graph *graph.SuperGraph
	plan  *Plan
}

type fieldGroup struct {
	subGraph *graph.SubGraph
	fields   []*ast.Field
}

// groupRootFields assigns each root field to the first subgraph able to resolve it.
// Query fields are grouped per subgraph; mutation fields only while consecutive.
func (b *builder) groupRootFields(rootDef *ast.Definition, fields []*ast.Field, sequential bool) ([]*fieldGroup, error) {
	var groups []*fieldGroup
	for _, f := range fields {
		if f.Name == "__typename" {
			continue
		}

		owners := b.graph.GetSubGraphsForField(rootDef.Name, f.Name)
		if len(owners) == 0 {
			return nil, fmt.Errorf("no subgraph found for field %s.%s", rootDef.Name, f.Name)
		}
		owner := owners[0]

		var group *fieldGroup
		if sequential {
			if n := len(groups); n > 0 && groups[n-1].subGraph == owner {
				group = groups[n-1]
			}
		} else {
			for _, g := range groups {
				if g.subGraph == owner {
					group = g
					break
				}
			}
		}
		if group == nil {
			group = &fieldGroup{subGraph: owner}
			groups = append(groups, group)
		}
		group.fields = append(group.fields, f)
	}
	return groups, nil
}

func (b *builder) addStep(sub *graph.SubGraph, stepType StepType, parentType string, path []string, deps []int) *Step {
	step := &Step{
		ID:            len(b.plan.Steps),
		SubGraph:      sub,
		StepType:      stepType,
		ParentType:    parentType,
		DependsOn:     deps,
		InsertionPath: append([]string{}, path...),
	}
	if step.DependsOn == nil {
		step.DependsOn = []int{}
	}
	b.plan.Steps = append(b.plan.Steps, step)
	return step
}

// buildSelections builds the selections step sends for fields of def.
// Fields the step's subgraph cannot resolve become entity steps on the subgraph
// that can; the key fields those steps need are added to the returned selections.
func (b *builder) buildSelections(step *Step, def *ast.Definition, fields []*ast.Field, path []string) (ast.SelectionSet, error) {
	result := ast.SelectionSet{}
	var boundaries []*fieldGroup

	for _, f := range fields {
		if f.Name == "__typename" {
			result = append(result, &ast.Field{Alias: f.Alias, Name: f.Name})
			continue
		}

		owners := b.graph.GetSubGraphsForField(def.Name, f.Name)
		if len(owners) == 0 {
			return nil, fmt.Errorf("no subgraph found for field %s.%s", def.Name, f.Name)
		}

		if containsSubGraph(owners, step.SubGraph) {
			field, err := b.localField(step, def, f, path)
			if err != nil {
				return nil, err
			}
			result = append(result, field)
			continue
		}

		// Boundary field: resolved by another subgraph through _entities.
		target := owners[0]
		var group *fieldGroup
		for _, g := range boundaries {
			if g.subGraph == target {
				group = g
				break
			}
		}
		if group == nil {
			group = &fieldGroup{subGraph: target}
			boundaries = append(boundaries, group)
		}
		group.fields = append(group.fields, f)
	}

	for _, g := range boundaries {
		keys := g.subGraph.KeyFields(def.Name)
		if len(keys) == 0 {
			return nil, fmt.Errorf("type %s is not an entity in %s; cannot resolve %s.%s", def.Name, g.subGraph.Name, def.Name, g.fields[0].Name)
		}

		result = ensureField(result, "__typename")
		for _, k := range keys {
			fd := def.Fields.ForName(k)
			if fd == nil || !step.SubGraph.CanResolve(def.Name, k) {
				return nil, fmt.Errorf("key field %s.%s cannot be resolved by %s", def.Name, k, step.SubGraph.Name)
			}
			if t := b.schema.Types[fd.Type.Name()]; t == nil || !t.IsLeafType() {
				return nil, fmt.Errorf("key field %s.%s must be a scalar", def.Name, k)
			}
			result = ensureField(result, k)
		}

		child := b.addStep(g.subGraph, StepTypeEntity, def.Name, path, []int{step.ID})
		sel, err := b.buildSelections(child, def, g.fields, path)
		if err != nil {
			return nil, err
		}
		child.SelectionSet = sel
	}

	return result, nil
}

// localField copies f for the step's own subgraph and plans its children.
func (b *builder) localField(step *Step, def *ast.Definition, f *ast.Field, path []string) (*ast.Field, error) {
	field := copyField(f)
	if len(f.SelectionSet) == 0 {
		return field, nil
	}

	fd := def.Fields.ForName(f.Name)
	childDef := b.schema.Types[fd.Type.Name()]
	if childDef == nil {
		return nil, fmt.Errorf("unknown type %s", fd.Type.Name())
	}

	if childDef.Kind != ast.Object {
		// Abstract types stay in one subgraph; fragments are kept as written.
		field.SelectionSet = b.abstractSelections(f.SelectionSet, map[string]bool{})
		field.SelectionSet = ensureField(field.SelectionSet, "__typename")
		return field, nil
	}

	childPath := append(append([]string{}, path...), responseKey(f))
	children := b.collectFields(f.SelectionSet, childDef, nil, map[string]bool{})
	sel, err := b.buildSelections(step, childDef, children, childPath)
	if err != nil {
		return nil, err
	}
	field.SelectionSet = sel
	return field, nil
}

// collector evaluates selections of one operation against a schema.
type collector struct {
	schema    *ast.Schema
	doc       *ast.QueryDocument
	variables map[string]any
}

// CollectFields returns the fields sel selects on an object of type def, with
// fragments expanded and @skip/@include evaluated against variables.
func CollectFields(schema *ast.Schema, doc *ast.QueryDocument, variables map[string]any, sel ast.SelectionSet, def *ast.Definition) []*ast.Field {
	c := &collector{schema: schema, doc: doc, variables: variables}
	return c.collectFields(sel, def, nil, map[string]bool{})
}

// collectFields flattens sel for an object type: fragments whose condition applies
// are inlined, skipped selections are dropped and fields sharing a response key are
// merged.
func (c *collector) collectFields(sel ast.SelectionSet, def *ast.Definition, fields []*ast.Field, visited map[string]bool) []*ast.Field {
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if !c.included(s.Directives) {
				continue
			}
			merged := false
			for i, existing := range fields {
				if responseKey(existing) == responseKey(s) {
					combined := copyField(existing)
					combined.SelectionSet = append(append(ast.SelectionSet{}, existing.SelectionSet...), s.SelectionSet...)
					fields[i] = combined
					merged = true
					break
				}
			}
			if !merged {
				fields = append(fields, s)
			}
		case *ast.InlineFragment:
			if !c.included(s.Directives) || !c.typeApplies(def, s.TypeCondition) {
				continue
			}
			fields = c.collectFields(s.SelectionSet, def, fields, visited)
		case *ast.FragmentSpread:
			if !c.included(s.Directives) || visited[s.Name] || c.doc == nil {
				continue
			}
			frag := c.doc.Fragments.ForName(s.Name)
			if frag == nil || !c.typeApplies(def, frag.TypeCondition) {
				continue
			}
			visited[s.Name] = true
			fields = c.collectFields(frag.SelectionSet, def, fields, visited)
		}
	}
	return fields
}

// abstractSelections copies sel below an interface or union field. Fragment spreads
// become inline fragments so the step query needs no fragment definitions.
func (b *builder) abstractSelections(sel ast.SelectionSet, visited map[string]bool) ast.SelectionSet {
	out := ast.SelectionSet{}
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if !b.included(s.Directives) {
				continue
			}
			field := copyField(s)
			if len(s.SelectionSet) > 0 {
				field.SelectionSet = ensureField(b.abstractSelections(s.SelectionSet, visited), "__typename")
			}
			out = append(out, field)
		case *ast.InlineFragment:
			if !b.included(s.Directives) {
				continue
			}
			out = append(out, &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				SelectionSet:  b.abstractSelections(s.SelectionSet, visited),
			})
		case *ast.FragmentSpread:
			frag := b.doc.Fragments.ForName(s.Name)
			if !b.included(s.Directives) || frag == nil || visited[s.Name] {
				continue
			}
			visited[s.Name] = true
			out = append(out, &ast.InlineFragment{
				TypeCondition: frag.TypeCondition,
				SelectionSet:  b.abstractSelections(frag.SelectionSet, visited),
			})
		}
	}
	return out
}

func (c *collector) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(c.variables)["if"].(bool); skip {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(c.variables)["if"].(bool); !include {
			return false
		}
	}
	return true
}

func (c *collector) typeApplies(def *ast.Definition, condition string) bool {
	if condition == "" || condition == def.Name {
		return true
	}
	cond := c.schema.Types[condition]
	if cond == nil || !cond.IsAbstractType() {
		return false
	}
	for _, t := range c.schema.GetPossibleTypes(cond) {
		if t.Name == def.Name {
			return true
		}
	}
	return false
}

// copyField copies f without its selections and without @skip/@include, which are
// already evaluated.
func copyField(f *ast.Field) *ast.Field {
	var dirs ast.DirectiveList
	for _, d := range f.Directives {
		if d.Name != "skip" && d.Name != "include" {
			dirs = append(dirs, d)
		}
	}
	return &ast.Field{
		Alias:            f.Alias,
		Name:             f.Name,
		Arguments:        f.Arguments,
		Directives:       dirs,
		Position:         f.Position,
		Definition:       f.Definition,
		ObjectDefinition: f.ObjectDefinition,
	}
}

// ensureField adds an unaliased field name to sel unless it is already selected.
func ensureField(sel ast.SelectionSet, name string) ast.SelectionSet {
	for _, s := range sel {
		if f, ok := s.(*ast.Field); ok && f.Name == name && (f.Alias == "" || f.Alias == name) {
			return sel
		}
	}
	return append(sel, &ast.Field{Name: name})
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func containsSubGraph(list []*graph.SubGraph, sub *graph.SubGraph) bool {
	for _, s := range list {
		if s == sub {
			return true
		}
	}
	return false
}
