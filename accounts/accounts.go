package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/store"
	"github.com/n9te9/kinabalu/subgraph"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultRoles are granted to every user that logs in.
var DefaultRoles = []string{"superuser", "cool"}

// ErrInvalidCredentials is the only login failure a caller ever sees.
var ErrInvalidCredentials = subgraph.NewError(subgraph.CodeUnauthenticated, "Invalid credentials")

// dummyHash is compared against when the email is unknown so that both failure
// paths cost one bcrypt comparison.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z2/UrCvgPqSJp1Oj8DOJ0N9y")

// Credential is a user that can log in.
type Credential struct {
	ID           int64  `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;not null"`
}

func (Credential) TableName() string { return "users" }

// Models lists the tables accounts migrates.
func Models() []any {
	return []any{&Credential{}}
}

// Service issues tokens for stored credentials.
type Service struct {
	users  *store.Repository[Credential]
	signer *auth.Signer
	roles  []string
	cost   int
}

type Option func(*Service)

// WithRoles replaces the roles put into issued tokens.
func WithRoles(roles []string) Option {
	return func(s *Service) { s.roles = append([]string(nil), roles...) }
}

// WithHashCost sets the bcrypt cost used by CreateUser.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(db *gorm.DB, signer *auth.Signer, opts ...Option) *Service {
	s := &Service{
		users:  store.NewRepository[Credential](db),
		signer: signer,
		roles:  DefaultRoles,
		cost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks email and password and returns a signed token for the user.
// Every way of getting it wrong returns ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	log := logger().With("operation", "login")

	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		log.InfoContext(ctx, "login rejected", "outcome", "failure", "reason", "blank_input")
		return "", ErrInvalidCredentials
	}

	users, err := s.users.Find(ctx, map[string]any{"email": email})
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}

	hash := dummyHash
	var user *Credential
	if len(users) > 0 && strings.TrimSpace(users[0].PasswordHash) != "" {
		user = &users[0]
		hash = []byte(user.PasswordHash)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || user == nil {
		log.InfoContext(ctx, "login rejected", "outcome", "failure", "reason", "credentials")
		return "", ErrInvalidCredentials
	}

	token, err := s.signer.Sign(subgraph.FormatID(user.ID), user.Email, s.roles)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	log.InfoContext(ctx, "login succeeded", "outcome", "success", "user_id", user.ID)
	return token, nil
}

// User returns the credential with id, or nil when there is none.
func (s *Service) User(ctx context.Context, id int64) (*Credential, error) {
	u, err := s.users.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// CreateUser stores a credential with a bcrypt hash of password.
func (s *Service) CreateUser(ctx context.Context, email, password string) (*Credential, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required")
	}
	if strings.TrimSpace(password) == "" {
		return nil, errors.New("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &Credential{Email: email, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("email %s is already registered: %w", email, err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	logger().InfoContext(ctx, "user created",
		"operation", "create_user",
		"outcome", "success",
		"user_id", u.ID,
	)
	return u, nil
}

func logger() *slog.Logger {
	return slog.Default().With("module", "accounts")
}
