package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	avatar := "/uploads/avatar_1.png"
	token, err := issuer.Issue(User{ID: "u1", Name: "Ada Lovelace", Avatar: &avatar, Username: "ada"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != "u1" || got.Name != "Ada Lovelace" || got.Username != "ada" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.Role != RoleUser {
		t.Fatalf("expected default role user, got %q", got.Role)
	}
	if got.Avatar == nil || *got.Avatar != avatar {
		t.Fatalf("avatar not preserved: %v", got.Avatar)
	}
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer, err := NewTokenIssuer("test-secret", WithClock(clock))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	if issuer.TTL() != 2*time.Hour {
		t.Fatalf("unexpected default ttl %s", issuer.TTL())
	}
	token, err := issuer.Issue(User{ID: "u1", Name: "n"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(119 * time.Minute)
	if _, err := issuer.Verify(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestTokenRejectsForeignSignature(t *testing.T) {
	a, _ := NewTokenIssuer("secret-a")
	b, _ := NewTokenIssuer("secret-b")
	token, err := a.Issue(User{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenRejectsNoneAlgorithm(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret")
	claims := Claims{
		Name: "x",
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "evil",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := issuer.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret")
	for _, tok := range []string{"", "   ", "abc", strings.Repeat("a.", 3)} {
		if _, err := issuer.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret")
	if _, err := issuer.Issue(User{Name: "nobody"}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}
