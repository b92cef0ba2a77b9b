package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// PropagationHeader carries the verified claims from the gateway to a subgraph.
//
// Subgraphs trust this header as-is and never re-verify a signature. Anyone able to
// reach a subgraph directly can therefore act as any user; subgraphs must only be
// reachable from the gateway. Replacing the bare JSON with a service-to-service
// signature keeps the single verification at the edge.
const PropagationHeader = "X-Kinabalu-Jwt-Payload"

// anonymousMarker is the explicit "no identity" value of PropagationHeader.
const anonymousMarker = "null"

// ErrMalformedPropagationHeader is logged when a subgraph receives an unreadable
// propagation header. It is never returned to a client.
var ErrMalformedPropagationHeader = errors.New("malformed propagation header")

// HeaderState tells how a subgraph request described its identity.
type HeaderState int

const (
	HeaderAbsent HeaderState = iota
	HeaderAnonymous
	HeaderPresent
	HeaderMalformed
)

func (s HeaderState) String() string {
	switch s {
	case HeaderAbsent:
		return "absent"
	case HeaderAnonymous:
		return "anonymous"
	case HeaderPresent:
		return "present"
	case HeaderMalformed:
		return "malformed"
	}
	return "unknown"
}

// EncodePropagation returns the header value for c; nil encodes as the anonymous marker.
func EncodePropagation(c *Claims) (string, error) {
	if c == nil {
		return anonymousMarker, nil
	}

	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}

	return string(b), nil
}

// Forward sets the propagation header on h, replacing whatever was there.
func Forward(h http.Header, c *Claims) error {
	v, err := EncodePropagation(c)
	if err != nil {
		return err
	}

	h.Set(PropagationHeader, v)
	return nil
}

// ParsePropagation reads the propagation header from h.
// Claims are only non-nil for HeaderPresent. HeaderMalformed comes with an error
// wrapping ErrMalformedPropagationHeader.
func ParsePropagation(h http.Header) (*Claims, HeaderState, error) {
	values := h.Values(PropagationHeader)
	if len(values) == 0 {
		return nil, HeaderAbsent, nil
	}
	if len(values) > 1 {
		return nil, HeaderMalformed, fmt.Errorf("%w: %d values", ErrMalformedPropagationHeader, len(values))
	}

	raw := strings.TrimSpace(values[0])
	if raw == anonymousMarker {
		return nil, HeaderAnonymous, nil
	}
	if raw == "" {
		return nil, HeaderMalformed, fmt.Errorf("%w: empty value", ErrMalformedPropagationHeader)
	}

	var c *Claims
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, HeaderMalformed, fmt.Errorf("%w: %v", ErrMalformedPropagationHeader, err)
	}
	if c == nil {
		return nil, HeaderAnonymous, nil
	}

	return c, HeaderPresent, nil
}

// BuildContext installs the claims described by h into ctx.
// Absent, anonymous and malformed headers all produce an anonymous context.
func BuildContext(ctx context.Context, h http.Header) context.Context {
	c, state, err := ParsePropagation(h)
	if err != nil {
		logger().WarnContext(ctx, "propagation header ignored",
			"operation", "build_context",
			"outcome", "anonymous",
			"header_state", state.String(),
			"error", err.Error(),
		)
	}

	return WithClaims(ctx, c)
}
