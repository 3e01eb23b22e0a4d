package tracking

import (
	"context"
	"time"
)

// Store persists packages. Implementations return ErrNotFound and ErrAlreadyExists.
type Store interface {
	GetPackage(ctx context.Context, tn string) (Package, error)
	InsertPackage(ctx context.Context, p Package) error
	// InsertPackageIfAbsent reports whether the row was inserted.
	InsertPackageIfAbsent(ctx context.Context, p Package) (bool, error)
	// UpsertPackage replaces an existing row or inserts a new one.
	UpsertPackage(ctx context.Context, p Package) error
	// UpdatePackage merges non-nil patch fields and sets last_updated to at.
	UpdatePackage(ctx context.Context, tn string, patch Patch, at time.Time) (Package, error)
	SetPackageOwner(ctx context.Context, tn string, owner *string) (Package, error)
	DeletePackage(ctx context.Context, tn string) error
	ListPackages(ctx context.Context) ([]Package, error)
	// ListPackagesByOwner orders by last_updated descending.
	ListPackagesByOwner(ctx context.Context, ownerID string) ([]Package, error)
}

// Directory answers identity questions the tracking rules depend on.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	// AccountIDByUsername resolves a credentialed user's id.
	AccountIDByUsername(ctx context.Context, username string) (string, error)
}
