package auth

import "strings"

// Role is the privilege level carried in a token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps stored role strings to a Role, defaulting to RoleUser.
func ParseRole(s string) Role {
	if Role(strings.ToLower(strings.TrimSpace(s))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// User is the public shape of an account returned to clients.
type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Avatar   *string `json:"avatar"`
	Username string  `json:"username,omitempty"`
	Email    string  `json:"email,omitempty"`
	Role     Role    `json:"role"`
}

// Identity is the caller resolved from a request. The zero value is anonymous.
type Identity struct {
	User User
	ok   bool
}

// Anonymous is the identity of a request without a valid bearer token.
var Anonymous = Identity{}

// NewIdentity wraps an authenticated user.
func NewIdentity(u User) Identity {
	if u.Role == "" {
		u.Role = RoleUser
	}
	return Identity{User: u, ok: strings.TrimSpace(u.ID) != ""}
}

// Authenticated reports whether the identity came from a verified token.
func (i Identity) Authenticated() bool { return i.ok }

// ID returns the subject id, empty for anonymous callers.
func (i Identity) ID() string {
	if !i.ok {
		return ""
	}
	return i.User.ID
}

// IsAdmin reports whether an authenticated identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.ok && i.User.Role == RoleAdmin }

// Session is returned by every operation that issues a token.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
