package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service handles sign-up, sign-in and token validation.
type Service struct {
	users  *UserStore
	hasher *PasswordHasher
	tokens *TokenManager

	mu      sync.Mutex
	revoked map[string]time.Time // token ID -> expiry
}

// NewService creates a Service.
func NewService(users *UserStore, hasher *PasswordHasher, tokens *TokenManager) *Service {
	return &Service{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		revoked: make(map[string]time.Time),
	}
}

// SignUp registers a new account and its profile.
func (s *Service) SignUp(_ context.Context, name, email, password string) (*Profile, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" {
		return nil, ErrMissingName
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &user{
		Profile: Profile{
			UID:       uuid.NewString(),
			Email:     email,
			Name:      name,
			CreatedAt: time.Now().UTC(),
		},
		PasswordHash: hash,
	}
	if err := s.users.create(u); err != nil {
		return nil, err
	}
	p := u.Profile
	return &p, nil
}

// SignIn verifies the credentials and issues a token.
func (s *Service) SignIn(_ context.Context, email, password string) (*Session, error) {
	u, err := s.users.byEmail(strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	id := Identity{UID: u.UID, Email: u.Email}
	token, claims, err := s.tokens.Issue(id)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, Identity: id, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify validates a token and rejects revoked ones.
func (s *Service) Verify(_ context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	if s.isRevoked(claims.ID) {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// Revoke signs a token out. It returns the claims of the revoked token so
// callers can notify live subscriptions opened with it.
func (s *Service) Revoke(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tokens.now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	return claims, nil
}

// isRevoked reports whether the token ID was signed out.
func (s *Service) isRevoked(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[tokenID]
	return ok
}

// Profile returns the user's profile document.
func (s *Service) Profile(_ context.Context, uid string) (*Profile, error) {
	u, err := s.users.byUID(uid)
	if err != nil {
		return nil, err
	}
	p := u.Profile
	return &p, nil
}
