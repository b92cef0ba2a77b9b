package gateway

import (
	"context"
	"net/http"

	"github.com/n9te9/kinabalu/federation/graph"
)

func FetchSDLForTest(ctx context.Context, host string, httpClient *http.Client, retry RetryOption) (string, error) {
	return fetchSDL(ctx, host, httpClient, retry)
}

// BuildEngineForTest composes names[i] with sdls[i] and returns the super graph.
func BuildEngineForTest(names, sdls []string, httpClient *http.Client) (*graph.SuperGraph, error) {
	services := make([]serviceSDL, len(names))
	for i := range names {
		services[i] = serviceSDL{name: names[i], host: "http://" + names[i] + "/query", sdl: sdls[i]}
	}
	engine, err := buildEngine(services, httpClient)
	if err != nil {
		return nil, err
	}
	return engine.superGraph, nil
}
