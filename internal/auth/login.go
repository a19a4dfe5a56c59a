package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUserNotFound is returned by UserStore implementations when no user matches.
var ErrUserNotFound = errors.New("auth: user not found")

// User is an account identified by its email.
type User struct {
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Active       bool   `json:"activo"`
}

// UserStore is the persistence the login flow needs.
type UserStore interface {
	FindUser(ctx context.Context, email string) (User, error)
	RoleNames(ctx context.Context, email string) ([]string, error)
}

// Session is the outcome of a successful login.
type Session struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiraEn"`
}

// Service authenticates users against the store and issues tokens.
type Service struct {
	users  UserStore
	tokens *Tokens
}

func NewService(users UserStore, tokens *Tokens) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	return &Service{users: users, tokens: tokens}, nil
}

// Login verifies credentials and returns a signed token with the user's role names.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.users.FindUser(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !user.Active {
		return Session{}, ErrUserDisabled
	}
	roles, err := s.users.RoleNames(ctx, user.Email)
	if err != nil {
		return Session{}, fmt.Errorf("load roles: %w", err)
	}
	token, expires, err := s.tokens.Generate(user.Email, roles)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Email: user.Email, Roles: dedupeRoles(roles), ExpiresAt: expires}, nil
}

// Authenticate validates a bearer token and returns a context carrying the identity.
func (s *Service) Authenticate(ctx context.Context, token string) (context.Context, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return ctx, err
	}
	ctx = ContextWithUser(ctx, claims.Subject, claims.Roles)
	return ContextWithToken(ctx, token), nil
}
