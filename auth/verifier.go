package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

// Verifier validates inbound bearer tokens at the edge.
type Verifier struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

// VerifierOption customises a Verifier.
type VerifierOption func(*verifierConfig)

type verifierConfig struct {
	now    func() time.Time
	leeway time.Duration
}

// WithClock overrides the time source used for exp/nbf checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(c *verifierConfig) { c.now = now }
}

// WithLeeway tolerates clock drift when checking exp/nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *verifierConfig) { c.leeway = d }
}

// NewVerifier returns a Verifier bound to one public key, audience and issuer.
func NewVerifier(key *rsa.PublicKey, audience, issuer string, opts ...VerifierOption) (*Verifier, error) {
	if key == nil {
		return nil, errors.New("verification key is required")
	}
	if audience == "" {
		audience = DefaultAudience
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}

	cfg := verifierConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.now),
	}
	if cfg.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(cfg.leeway))
	}

	return &Verifier{
		key:    key,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Verify checks token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("verify token: token is not valid")
	}

	return claims, nil
}

// VerifyRequest extracts and verifies the bearer token of an Authorization header value.
// Any problem yields nil: an anonymous request is a normal request.
func (v *Verifier) VerifyRequest(ctx context.Context, authorization string) *Claims {
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	if token == "" {
		return nil
	}

	claims, err := v.Verify(token)
	if err != nil {
		logger().WarnContext(ctx, "bearer token rejected",
			"operation", "verify_request",
			"outcome", "anonymous",
			"error", err.Error(),
		)
		return nil
	}

	return claims
}

func logger() *slog.Logger {
	return slog.Default().With("module", "auth")
}
