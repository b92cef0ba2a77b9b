package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/n9te9/kinabalu/federation/graph"
	"github.com/n9te9/kinabalu/federation/planner"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/errgroup"
)

// Response is the result of executing a plan.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors gqlerror.List  `json:"errors,omitempty"`
}

// Executor executes a query plan by orchestrating requests to subgraphs.
type Executor struct {
	httpClient   *http.Client
	queryBuilder *QueryBuilder
	superGraph   *graph.SuperGraph
}

// NewExecutor creates a new Executor instance.
func NewExecutor(httpClient *http.Client, superGraph *graph.SuperGraph) *Executor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		httpClient:   httpClient,
		queryBuilder: NewQueryBuilder(),
		superGraph:   superGraph,
	}
}

type requestHeaderKey struct{}

// SetRequestHeaderToContext stores the headers every subgraph request made with ctx
// carries.
func SetRequestHeaderToContext(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, requestHeaderKey{}, h)
}

// RequestHeaderFromContext returns the headers stored by SetRequestHeaderToContext.
func RequestHeaderFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(requestHeaderKey{}).(http.Header)
	return h
}

// executionContext holds the execution state.
type executionContext struct {
	ctx       context.Context
	plan      *planner.Plan
	variables map[string]any
	data      map[string]any // Merged response data, written in place
	done      map[int]bool   // Step ID -> finished (successfully or not)
	errors    gqlerror.List
	mu        sync.Mutex
}

// target is an object an entity step extends, with its response path.
type target struct {
	object map[string]any
	path   ast.Path
}

// Execute executes a query plan and returns the merged result.
// It validates the plan is a DAG, then executes steps in dependency order. Failing
// steps do not fail the execution: their fields resolve to null and the failure is
// reported in Response.Errors.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, variables map[string]any) (*Response, error) {
	if err := e.validateDAG(plan); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	execCtx := &executionContext{
		ctx:       ctx,
		plan:      plan,
		variables: variables,
		data:      map[string]any{},
		done:      map[int]bool{},
	}

	if err := e.executeSteps(execCtx, e.findReadySteps(execCtx)); err != nil {
		return nil, err
	}

	resp := &Response{
		Data:   e.pruneResponse(execCtx.data, plan, variables),
		Errors: execCtx.errors,
	}
	sort.SliceStable(resp.Errors, func(i, j int) bool {
		return resp.Errors[i].Path.String() < resp.Errors[j].Path.String()
	})

	return resp, nil
}

// validateDAG validates that the plan is a directed acyclic graph (no cycles).
// It uses topological sort (Kahn's algorithm) to detect cycles.
func (e *Executor) validateDAG(plan *planner.Plan) error {
	inDegree := make(map[int]int, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.ID != i {
			return fmt.Errorf("step at index %d has id %d", i, step.ID)
		}
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= len(plan.Steps) {
				return fmt.Errorf("step %d depends on unknown step %d", step.ID, dep)
			}
		}
		inDegree[step.ID] = len(step.DependsOn)
	}

	queue := make([]int, 0)
	for _, step := range plan.Steps {
		if inDegree[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++

		for _, step := range plan.Steps {
			for _, dep := range step.DependsOn {
				if dep == current {
					inDegree[step.ID]--
					if inDegree[step.ID] == 0 {
						queue = append(queue, step.ID)
					}
				}
			}
		}
	}

	if visited != len(plan.Steps) {
		return errors.New("plan contains circular dependencies")
	}

	return nil
}

// executeSteps executes a wave of steps in parallel and then the steps the wave
// unblocked.
func (e *Executor) executeSteps(execCtx *executionContext, stepIDs []int) error {
	if len(stepIDs) == 0 {
		return nil
	}

	eg, ctx := errgroup.WithContext(execCtx.ctx)
	for _, stepID := range stepIDs {
		step := execCtx.plan.Steps[stepID]
		eg.Go(func() error {
			e.processStep(ctx, execCtx, step)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := execCtx.ctx.Err(); err != nil {
		return err
	}

	return e.executeSteps(execCtx, e.findReadySteps(execCtx))
}

// findReadySteps finds steps not yet executed whose dependencies have all finished.
func (e *Executor) findReadySteps(execCtx *executionContext) []int {
	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	ready := make([]int, 0)
	for _, step := range execCtx.plan.Steps {
		if execCtx.done[step.ID] {
			continue
		}

		allDepsReady := true
		for _, depID := range step.DependsOn {
			if !execCtx.done[depID] {
				allDepsReady = false
				break
			}
		}
		if allDepsReady {
			ready = append(ready, step.ID)
		}
	}

	return ready
}

// processStep sends a single step and merges its result into the response data.
func (e *Executor) processStep(ctx context.Context, execCtx *executionContext, step *planner.Step) {
	defer func() {
		execCtx.mu.Lock()
		execCtx.done[step.ID] = true
		execCtx.mu.Unlock()
	}()

	if step.SubGraph == nil {
		e.recordError(execCtx, step, nil, fmt.Errorf("step %d has nil subgraph", step.ID))
		return
	}

	if step.StepType == planner.StepTypeQuery {
		e.processRootStep(ctx, execCtx, step)
		return
	}
	e.processEntityStep(ctx, execCtx, step)
}

func (e *Executor) processRootStep(ctx context.Context, execCtx *executionContext, step *planner.Step) {
	query, vars, err := e.queryBuilder.Build(step, execCtx.plan.Operation, execCtx.variables, nil)
	if err != nil {
		e.recordError(execCtx, step, nil, fmt.Errorf("failed to build root query: %w", err))
		e.setNullForFailedStep(execCtx, step, nil)
		return
	}

	result, err := e.sendRequest(ctx, step.SubGraph.Host, query, vars)
	if err != nil {
		e.recordError(execCtx, step, nil, err)
		e.setNullForFailedStep(execCtx, step, nil)
		return
	}

	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	e.appendSubgraphErrors(execCtx, step, result.Errors, nil)
	if result.Data == nil {
		setNullFields(execCtx.data, step.SelectionSet)
		return
	}
	if err := Merge(execCtx.data, result.Data); err != nil {
		execCtx.errors = append(execCtx.errors, e.gatewayError(step, nil, fmt.Errorf("failed to merge root result: %w", err)))
	}
}

func (e *Executor) processEntityStep(ctx context.Context, execCtx *executionContext, step *planner.Step) {
	execCtx.mu.Lock()
	targets := collectTargets(execCtx.data, step.InsertionPath)
	representations := e.extractRepresentations(step, targets)
	execCtx.mu.Unlock()

	// Targets without a complete key cannot be resolved and keep their nulls.
	resolvable := make([]target, 0, len(targets))
	reps := make([]map[string]any, 0, len(targets))
	for i, rep := range representations {
		if rep == nil {
			continue
		}
		resolvable = append(resolvable, targets[i])
		reps = append(reps, rep)
	}
	if len(reps) == 0 {
		return
	}

	query, vars, err := e.queryBuilder.Build(step, execCtx.plan.Operation, execCtx.variables, reps)
	if err != nil {
		e.recordError(execCtx, step, resolvable, fmt.Errorf("failed to build entity query: %w", err))
		e.setNullForFailedStep(execCtx, step, resolvable)
		return
	}

	result, err := e.sendRequest(ctx, step.SubGraph.Host, query, vars)
	if err != nil {
		e.recordError(execCtx, step, resolvable, err)
		e.setNullForFailedStep(execCtx, step, resolvable)
		return
	}

	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	e.appendSubgraphErrors(execCtx, step, result.Errors, resolvable)
	if err := e.mergeEntityResults(step, result, resolvable); err != nil {
		execCtx.errors = append(execCtx.errors, e.gatewayError(step, resolvable[0].path, err))
		for _, t := range resolvable {
			setNullFields(t.object, step.SelectionSet)
		}
	}
}

// collectTargets walks path from data and returns the objects at its end. Lists
// on the way are flattened and null values skipped.
func collectTargets(data map[string]any, path []string) []target {
	var targets []target
	var walk func(value any, rest []string, at ast.Path)
	walk = func(value any, rest []string, at ast.Path) {
		switch v := value.(type) {
		case []any:
			for i, item := range v {
				walk(item, rest, appendPath(at, ast.PathIndex(i)))
			}
		case map[string]any:
			if len(rest) == 0 {
				targets = append(targets, target{object: v, path: at})
				return
			}
			walk(v[rest[0]], rest[1:], appendPath(at, ast.PathName(rest[0])))
		}
	}
	walk(data, path, nil)
	return targets
}

// extractRepresentations builds one representation per target, nil where a key
// field is missing.
func (e *Executor) extractRepresentations(step *planner.Step, targets []target) []map[string]any {
	keys := step.SubGraph.KeyFields(step.ParentType)

	reps := make([]map[string]any, len(targets))
	for i, t := range targets {
		typename, _ := t.object["__typename"].(string)
		if typename == "" {
			typename = step.ParentType
		}
		rep := map[string]any{"__typename": typename}
		for _, k := range keys {
			v, ok := t.object[k]
			if !ok || v == nil {
				rep = nil
				break
			}
			rep[k] = v
		}
		reps[i] = rep
	}
	return reps
}

// subgraphResponse is the body a subgraph answers with.
type subgraphResponse struct {
	Data   map[string]any `json:"data"`
	Errors gqlerror.List  `json:"errors"`
}

// mergeEntityResults merges `_entities` results into their targets, in order.
// A null entity nulls the fields the step was asked for.
func (e *Executor) mergeEntityResults(step *planner.Step, result *subgraphResponse, targets []target) error {
	if result.Data == nil {
		for _, t := range targets {
			setNullFields(t.object, step.SelectionSet)
		}
		return nil
	}

	entities, ok := result.Data["_entities"].([]any)
	if !ok {
		return errors.New("subgraph response has no _entities list")
	}
	if len(entities) != len(targets) {
		return fmt.Errorf("subgraph returned %d entities for %d representations", len(entities), len(targets))
	}

	for i, entity := range entities {
		obj, ok := entity.(map[string]any)
		if !ok {
			setNullFields(targets[i].object, step.SelectionSet)
			continue
		}
		if err := Merge(targets[i].object, obj); err != nil {
			return fmt.Errorf("failed to merge entity %d: %w", i, err)
		}
	}
	return nil
}

// setNullForFailedStep sets null for the fields a failed step should have resolved.
func (e *Executor) setNullForFailedStep(execCtx *executionContext, step *planner.Step, targets []target) {
	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	if step.StepType == planner.StepTypeQuery {
		setNullFields(execCtx.data, step.SelectionSet)
		return
	}
	for _, t := range targets {
		setNullFields(t.object, step.SelectionSet)
	}
}

// setNullFields sets null for the response keys of sel not already present in obj.
// Key fields copied from the parent step stay untouched.
func setNullFields(obj map[string]any, sel ast.SelectionSet) {
	for _, s := range sel {
		f, ok := s.(*ast.Field)
		if !ok || f.Name == "__typename" {
			continue
		}
		key := f.Alias
		if key == "" {
			key = f.Name
		}
		if _, exists := obj[key]; !exists {
			obj[key] = nil
		}
	}
}

// recordError records a failed step in the execution context. The cause is logged;
// clients only learn which subgraph failed.
func (e *Executor) recordError(execCtx *executionContext, step *planner.Step, targets []target, err error) {
	var path ast.Path
	if len(targets) > 0 {
		path = targets[0].path
	}

	execCtx.mu.Lock()
	execCtx.errors = append(execCtx.errors, e.gatewayError(step, path, err))
	execCtx.mu.Unlock()
}

func (e *Executor) gatewayError(step *planner.Step, path ast.Path, err error) *gqlerror.Error {
	name := ""
	if step.SubGraph != nil {
		name = step.SubGraph.Name
	}
	logger().Error("subgraph step failed",
		slog.String("operation", "execute_step"),
		slog.String("outcome", "failure"),
		slog.String("service_name", name),
		slog.Int("step", step.ID),
		slog.String("step_type", step.StepType.String()),
		slog.Any("error", err),
	)

	return &gqlerror.Error{
		Err:     err,
		Message: fmt.Sprintf("failed to fetch from subgraph %q", name),
		Path:    path,
		Extensions: map[string]any{
			"serviceName": name,
			"code":        "SUBGRAPH_REQUEST_FAILED",
		},
	}
}

// appendSubgraphErrors records errors returned by a subgraph. Paths of entity
// errors are rewritten from `_entities.i` to the path of the i-th target.
// Locations refer to the subgraph document and are dropped. Callers hold the lock.
func (e *Executor) appendSubgraphErrors(execCtx *executionContext, step *planner.Step, errs gqlerror.List, targets []target) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		out := &gqlerror.Error{
			Message:    err.Message,
			Path:       err.Path,
			Extensions: map[string]any{},
		}
		if out.Message == "" {
			out.Message = "Unknown error from subgraph"
		}
		for k, v := range err.Extensions {
			out.Extensions[k] = v
		}
		out.Extensions["serviceName"] = step.SubGraph.Name

		if step.StepType == planner.StepTypeEntity {
			out.Path = entityErrorPath(err.Path, targets)
		}
		execCtx.errors = append(execCtx.errors, out)
	}
}

func entityErrorPath(path ast.Path, targets []target) ast.Path {
	if len(path) < 2 || path[0] != ast.PathName("_entities") {
		return nil
	}
	i, ok := path[1].(ast.PathIndex)
	if !ok || int(i) < 0 || int(i) >= len(targets) {
		return nil
	}
	out := append(ast.Path{}, targets[i].path...)
	return append(out, path[2:]...)
}

// sendRequest sends a GraphQL request to a subgraph. Headers stored in ctx with
// SetRequestHeaderToContext are sent along.
func (e *Executor) sendRequest(ctx context.Context, host, query string, variables map[string]any) (*subgraphResponse, error) {
	reqBody := map[string]any{
		"query": query,
	}
	if len(variables) > 0 {
		reqBody["variables"] = variables
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range RequestHeaderFromContext(ctx) {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result subgraphResponse
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Data == nil && len(result.Errors) == 0 && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return &result, nil
}

func appendPath(path ast.Path, el ast.PathElement) ast.Path {
	out := make(ast.Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, el)
}

func logger() *slog.Logger {
	return slog.Default().With(slog.String("module", "executor"))
}
