package auth

import "context"

// Account is a credentialed user row.
type Account struct {
	ID           string
	FirstName    string
	LastName     string
	Username     string
	Email        string
	PasswordHash string
	Avatar       *string
	Role         Role
}

// DisplayName joins first and last name, falling back to the username.
func (a Account) DisplayName() string {
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	if name == "" {
		return a.Username
	}
	return name
}

// User converts the account into its public shape.
func (a Account) User() User {
	return User{
		ID:       a.ID,
		Name:     a.DisplayName(),
		Avatar:   a.Avatar,
		Username: a.Username,
		Email:    a.Email,
		Role:     ParseRole(string(a.Role)),
	}
}

// Profile is a display-only user row created by mock login or mirrored on signup.
type Profile struct {
	ID     string
	Name   string
	Avatar *string
}

// Removal reports what a user deletion touched.
type Removal struct {
	AuthUsers        int64 `json:"removedAuthUsers"`
	Users            int64 `json:"removedUsers"`
	Analytics        int64 `json:"removedAnalytics"`
	ReleasedPackages int64 `json:"releasedPackages"`
}

// Store persists users. Implementations return ErrNotFound and ErrConflict.
type Store interface {
	// CreateAccount inserts the credentialed row and its mirrored profile atomically.
	CreateAccount(ctx context.Context, acc Account, displayName string) error
	// FindAccountByLogin matches username or email.
	FindAccountByLogin(ctx context.Context, login string) (Account, error)
	FindProfileByName(ctx context.Context, name string) (Profile, error)
	CreateProfile(ctx context.Context, p Profile) error
	// UserExists checks both the credentialed and display tables.
	UserExists(ctx context.Context, id string) (bool, error)
	// DeleteUser removes analytics, releases owned packages and deletes both user rows
	// in one transaction; ErrNotFound (and no changes) when no user row existed.
	DeleteUser(ctx context.Context, id string) (Removal, error)
}
