package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// serviceSDLResponse is the response body from a subgraph's GraphQL endpoint
// when queried with `{ _service { sdl } }`.
type serviceSDLResponse struct {
	Data struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
}

// RetryOption defines the retry configuration for SDL fetching.
type RetryOption struct {
	Attempts int    `yaml:"attempts" default:"3"`
	Timeout  string `yaml:"timeout"  default:"5s"`
	Interval string `yaml:"interval" default:"1s"`
}

// fetchSDL fetches the SDL by sending { _service { sdl } } to the subgraph's GraphQL
// endpoint (host). It retries up to attempts times, each with a per-attempt timeout,
// waiting interval between attempts.
func fetchSDL(ctx context.Context, host string, httpClient *http.Client, retry RetryOption) (string, error) {
	attempts := retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	timeoutDuration := parseDuration(retry.Timeout, 5*time.Second)
	interval := parseDuration(retry.Interval, 0)

	body := []byte(`{"query":"{_service{sdl}}"}`)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(interval):
			}
		}

		sdl, err := doFetchSDL(ctx, host, httpClient, body, timeoutDuration)
		if err == nil {
			return sdl, nil
		}
		lastErr = err

		logger().Warn("fetch sdl attempt failed",
			"operation", "fetch_sdl",
			"outcome", "retry",
			"host", host,
			"attempt", i+1,
			"error", err.Error(),
		)
	}
	return "", fmt.Errorf("failed to fetch SDL from %s after %d attempt(s): %w", host, attempts, lastErr)
}

// doFetchSDL performs a single SDL fetch attempt with the given timeout.
// It POSTs the query directly to host (which should be the subgraph's
// GraphQL endpoint, e.g. http://localhost:4000/query).
func doFetchSDL(ctx context.Context, host string, httpClient *http.Client, body []byte, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, host)
	}

	var svcResp serviceSDLResponse
	if err := json.NewDecoder(resp.Body).Decode(&svcResp); err != nil {
		return "", fmt.Errorf("failed to decode SDL response: %w", err)
	}

	if svcResp.Data.Service.SDL == "" {
		return "", fmt.Errorf("empty SDL returned from %s", host)
	}

	return svcResp.Data.Service.SDL, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
