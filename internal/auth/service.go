package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"parceltrack.org/internal/ids"
	"parceltrack.org/internal/obs"
)

const (
	DefaultMockName = "demo-user"
	AdminUserID     = "admin"
)

// SignupInput carries the fields of a signup request.
type SignupInput struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
	Password  string
	AvatarRef *string
}

// Service verifies credentials, issues tokens and resolves identities.
type Service struct {
	store       Store
	tokens      *TokenIssuer
	adminSecret []byte
	newID       func() string
}

// NewService wires the auth service. An empty adminSecret disables admin token issuance.
func NewService(store Store, tokens *TokenIssuer, adminSecret string) *Service {
	return &Service{
		store:       store,
		tokens:      tokens,
		adminSecret: []byte(adminSecret),
		newID:       ids.NewUserID,
	}
}

// Tokens exposes the issuer so transports can verify bearer tokens.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Login verifies a username-or-email and password pair.
func (s *Service) Login(ctx context.Context, login, password string) (Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return Session{}, ErrUnauthorized
	}
	acc, err := s.store.FindAccountByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, fmt.Errorf("find account: %w", err)
	}
	if err := VerifyPassword(acc.PasswordHash, password); err != nil {
		return Session{}, ErrUnauthorized
	}
	return s.issue(acc.User())
}

// LoginMock finds a display user by name or creates one. It never rejects the caller.
func (s *Service) LoginMock(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultMockName
	}
	p, err := s.store.FindProfileByName(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		p = Profile{ID: s.newID(), Name: name}
		if err := s.store.CreateProfile(ctx, p); err != nil {
			return Session{}, fmt.Errorf("create profile: %w", err)
		}
	default:
		return Session{}, fmt.Errorf("find profile: %w", err)
	}
	return s.issue(User{ID: p.ID, Name: p.Name, Avatar: p.Avatar, Role: RoleUser})
}

// Signup creates a credentialed user and returns a session for it.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return Session{}, fmt.Errorf("%w: username, email, password required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	acc := Account{
		ID:           s.newID(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Avatar:       in.AvatarRef,
		Role:         RoleUser,
	}
	if err := s.store.CreateAccount(ctx, acc, acc.DisplayName()); err != nil {
		if errors.Is(err, ErrConflict) {
			return Session{}, ErrConflict
		}
		return Session{}, fmt.Errorf("create account: %w", err)
	}
	return s.issue(acc.User())
}

// IssueAdminToken exchanges the shared admin secret for an admin session.
func (s *Service) IssueAdminToken(secret string) (Session, error) {
	if len(s.adminSecret) == 0 || secret == "" {
		return Session{}, ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(secret), s.adminSecret) != 1 {
		return Session{}, ErrForbidden
	}
	return s.issue(User{
		ID:       AdminUserID,
		Name:     "Admin",
		Username: "admin",
		Role:     RoleAdmin,
	})
}

// Authenticate resolves a bearer token. Failures yield Anonymous rather than an error.
func (s *Service) Authenticate(ctx context.Context, token string) Identity {
	if strings.TrimSpace(token) == "" {
		return Anonymous
	}
	u, err := s.tokens.Verify(token)
	if err != nil {
		obs.Logger().Debug("bearer token rejected", zap.Error(err))
		return Anonymous
	}
	return NewIdentity(u)
}

// DeleteUser removes a user and its dependent rows. Admin only.
func (s *Service) DeleteUser(ctx context.Context, caller Identity, id string) (Removal, error) {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return Removal{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Removal{}, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	removal, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Removal{}, ErrNotFound
		}
		return Removal{}, fmt.Errorf("delete user: %w", err)
	}
	return removal, nil
}

func (s *Service) issue(u User) (Session, error) {
	token, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, User: u}, nil
}
