package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"parceltrack.org/internal/auth"
)

const (
	authHeader        = "Authorization"
	adminSecretHeader = "x-admin-secret"
	bearer            = "Bearer "
)

// requireAuth returns the caller or writes 401.
func requireAuth(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id := auth.IdentityFromContext(r.Context())
	if err := auth.RequireAuthenticated(id); err != nil {
		handleAuthError(w, r, err)
		return id, false
	}
	return id, true
}

// requireAdmin returns the caller or writes 401/403.
func requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id := auth.IdentityFromContext(r.Context())
	if err := auth.RequireRole(id, auth.RoleAdmin); err != nil {
		handleAuthError(w, r, err)
		return id, false
	}
	return id, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
