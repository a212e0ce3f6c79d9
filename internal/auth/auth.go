// Package auth handles registration, login, OAuth sign-in, and the JWT
// middleware guarding the API.
//
// OAuth protocol mechanics live behind ExchangeFunc: the package exchanges a
// provider code for a profile through it and only deals with the resulting
// identity.
package auth

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/leadpilot/leadpilot/internal/idgen"
	"github.com/leadpilot/leadpilot/internal/users"
)

var (
	ErrBadCredentials  = errors.New("auth: invalid email or password")
	ErrUnknownProvider = errors.New("auth: unknown oauth provider")
)

// Profile is what an OAuth exchange yields.
type Profile struct {
	Email   string
	Name    string
	Picture string
}

// ExchangeFunc trades an OAuth authorization code for a user profile.
type ExchangeFunc func(ctx context.Context, code string) (*Profile, error)

// Service implements account creation and sign-in.
type Service struct {
	users     users.Store
	tokens    *TokenManager
	exchanges map[users.AuthProvider]ExchangeFunc
	logger    *slog.Logger

	// OnSignup runs after a new account is created (local or OAuth).
	// The billing layer hooks free-plan activation in here.
	OnSignup func(ctx context.Context, u *users.User)
}

// NewService creates an auth service.
func NewService(userStore users.Store, tokens *TokenManager, logger *slog.Logger) *Service {
	return &Service{
		users:     userStore,
		tokens:    tokens,
		exchanges: make(map[users.AuthProvider]ExchangeFunc),
		logger:    logger,
	}
}

// RegisterExchange wires an OAuth provider's code exchange.
func (s *Service) RegisterExchange(provider users.AuthProvider, fn ExchangeFunc) {
	s.exchanges[provider] = fn
}

// Register creates a local account.
func (s *Service) Register(ctx context.Context, email, password, name string) (*users.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	u := &users.User{
		ID:           idgen.WithPrefix("usr_"),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         users.RoleUser,
		AuthProvider: users.ProviderLocal,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, "", err
	}

	if s.OnSignup != nil {
		s.OnSignup(ctx, u)
	}

	token, err := s.tokens.Generate(u)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user registered", "user_id", u.ID)
	return u, token, nil
}

// Login authenticates a local account.
func (s *Service) Login(ctx context.Context, email, password string) (*users.User, string, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, "", ErrBadCredentials
		}
		return nil, "", err
	}
	if u.PasswordHash == "" {
		// OAuth-only account.
		return nil, "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrBadCredentials
	}

	token, err := s.tokens.Generate(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// OAuthSignIn exchanges a provider code and signs the user in, creating the
// account on first contact.
func (s *Service) OAuthSignIn(ctx context.Context, provider users.AuthProvider, code string) (*users.User, string, error) {
	exchange, ok := s.exchanges[provider]
	if !ok {
		return nil, "", ErrUnknownProvider
	}

	profile, err := exchange(ctx, code)
	if err != nil {
		return nil, "", err
	}

	u, err := s.users.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		// Existing account; refresh profile fields that may have changed.
		if profile.Name != "" {
			u.Name = profile.Name
		}
		if profile.Picture != "" {
			u.ProfilePic = profile.Picture
		}
		if err := s.users.Update(ctx, u); err != nil {
			return nil, "", err
		}
	case errors.Is(err, users.ErrNotFound):
		u = &users.User{
			ID:           idgen.WithPrefix("usr_"),
			Email:        profile.Email,
			Name:         profile.Name,
			ProfilePic:   profile.Picture,
			Role:         users.RoleUser,
			AuthProvider: provider,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, "", err
		}
		if s.OnSignup != nil {
			s.OnSignup(ctx, u)
		}
		s.logger.Info("user registered via oauth", "user_id", u.ID, "provider", provider)
	default:
		return nil, "", err
	}

	token, err := s.tokens.Generate(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}
