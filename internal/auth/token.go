package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parceltrack.org/internal/ids"
)

const (
	DefaultIssuer   = "parceltrack"
	DefaultTokenTTL = 2 * time.Hour
)

// Claims is the signed payload of an access token.
type Claims struct {
	Name     string  `json:"name"`
	Avatar   *string `json:"avatar"`
	Role     Role    `json:"role"`
	Username string  `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithIssuer overrides the iss claim.
func WithIssuer(iss string) TokenOption {
	return func(t *TokenIssuer) {
		if iss = strings.TrimSpace(iss); iss != "" {
			t.issuer = iss
		}
	}
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for iat/exp and validation.
func WithClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokenIssuer constructs an issuer. The secret must be non-empty.
func NewTokenIssuer(secret string, opts ...TokenOption) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth secret is not configured")
	}
	t := &TokenIssuer{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue signs a token for the user.
func (t *TokenIssuer) Issue(u User) (string, error) {
	if strings.TrimSpace(u.ID) == "" {
		return "", errors.New("user id is required")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	now := t.now().UTC()
	claims := Claims{
		Name:     u.Name,
		Avatar:   u.Avatar,
		Role:     u.Role,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        ids.NewTokenID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry and returns the encoded user.
func (t *TokenIssuer) Verify(token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return User{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return User{}, ErrInvalidToken
	}
	return User{
		ID:       claims.Subject,
		Name:     claims.Name,
		Avatar:   claims.Avatar,
		Username: claims.Username,
		Role:     ParseRole(string(claims.Role)),
	}, nil
}
