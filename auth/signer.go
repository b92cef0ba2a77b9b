package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultAudience      = "KinabaluAudience"
	DefaultIssuer        = "KinabaluIssuer"
	DefaultTokenTTL      = 7 * 24 * time.Hour
	DefaultNotBeforeSkew = 60 * time.Second
)

// SignerSettings configures the claims every signed assertion is bound to.
type SignerSettings struct {
	KeyID         string
	Audience      string
	Issuer        string
	TTL           time.Duration
	NotBeforeSkew time.Duration
}

// Signer mints RS256 assertions with the accounts service private key.
type Signer struct {
	key      *rsa.PrivateKey
	settings SignerSettings
	now      func() time.Time
}

// NewSigner returns a Signer; zero settings fall back to the package defaults.
func NewSigner(key *rsa.PrivateKey, settings SignerSettings) (*Signer, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}

	if settings.Audience == "" {
		settings.Audience = DefaultAudience
	}
	if settings.Issuer == "" {
		settings.Issuer = DefaultIssuer
	}
	if settings.TTL <= 0 {
		settings.TTL = DefaultTokenTTL
	}
	switch {
	case settings.NotBeforeSkew == 0:
		settings.NotBeforeSkew = DefaultNotBeforeSkew
	case settings.NotBeforeSkew < 0:
		settings.NotBeforeSkew = -settings.NotBeforeSkew
	}

	return &Signer{
		key:      key,
		settings: settings,
		now:      time.Now,
	}, nil
}

// Sign builds the claims for subject and returns the compact signed token.
func (s *Signer) Sign(subject, email string, roles []string) (string, error) {
	now := s.now()

	claims := &Claims{
		Email: email,
		Roles: append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.settings.Audience},
			Issuer:    s.settings.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-s.settings.NotBeforeSkew)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.settings.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.settings.KeyID != "" {
		token.Header["kid"] = s.settings.KeyID
	}

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
