package auth

import (
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded identity assertion of one request.
// It is the JWT payload as issued by the accounts service and, unchanged, the value
// forwarded from the gateway to every subgraph. Treat it as read-only once built.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the numeric identity id carried in the subject claim.
func (c *Claims) UserID() (int64, bool) {
	if c == nil {
		return 0, false
	}

	id, err := strconv.ParseInt(strings.TrimSpace(c.Subject), 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// HasRole reports whether role was granted in the assertion.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}

	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}

	return false
}
