package auth

import "context"

type claimsKey struct{}

// WithClaims returns a copy of ctx that carries c.
// A nil c marks the request as anonymous.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims installed for the current request, or nil.
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}
