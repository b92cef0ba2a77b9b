package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/n9te9/kinabalu/federation/executor"
	"github.com/n9te9/kinabalu/federation/graph"
	"github.com/n9te9/kinabalu/federation/planner"
)

// executionEngine bundles all read-only components required to serve GraphQL requests.
// It is swapped atomically on reload, so it must never be modified once built.
type executionEngine struct {
	planner    *planner.Planner
	executor   *executor.Executor
	superGraph *graph.SuperGraph
}

// serviceSDL is the schema of one subgraph together with where to reach it.
type serviceSDL struct {
	name string
	host string
	sdl  string
}

// loadSDLs reads the SDL of every service, from its schema files when it lists
// any and from the running subgraph otherwise.
func loadSDLs(ctx context.Context, services []GatewayService, httpClient *http.Client, retry RetryOption) ([]serviceSDL, error) {
	out := make([]serviceSDL, 0, len(services))
	for _, s := range services {
		var sdl []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("read schema of %q: %w", s.Name, err)
			}
			sdl = append(sdl, src...)
			sdl = append(sdl, '\n')
		}

		if len(s.SchemaFiles) == 0 {
			fetched, err := fetchSDL(ctx, s.Host, httpClient, retry)
			if err != nil {
				return nil, fmt.Errorf("fetch schema of %q: %w", s.Name, err)
			}
			sdl = []byte(fetched)
		}

		out = append(out, serviceSDL{name: s.Name, host: s.Host, sdl: string(sdl)})
	}
	return out, nil
}

// buildEngine composes a new SuperGraph from the given SDLs, then wraps it in an
// executionEngine together with a Planner and Executor.
// Services keep their configured order; root fields resolvable by several
// subgraphs go to the first one.
func buildEngine(services []serviceSDL, httpClient *http.Client) (*executionEngine, error) {
	subGraphs := make([]*graph.SubGraph, 0, len(services))
	for _, s := range services {
		sg, err := graph.NewSubGraph(s.name, []byte(s.sdl), s.host)
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", s.name, err)
		}
		subGraphs = append(subGraphs, sg)
	}

	superGraph, err := graph.NewSuperGraph(subGraphs)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	return &executionEngine{
		planner:    planner.NewPlanner(superGraph),
		executor:   executor.NewExecutor(httpClient, superGraph),
		superGraph: superGraph,
	}, nil
}
