package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parceltrack.org/internal/auth"
)

// Service implements package CRUD and the ownership rules around it.
type Service struct {
	store            Store
	dir              Directory
	now              func() time.Time
	enforceOwnership bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOwnershipChecks restricts update and delete to the owner or an admin.
func WithOwnershipChecks(on bool) Option {
	return func(s *Service) { s.enforceOwnership = on }
}

// NewService wires the tracking service.
func NewService(store Store, dir Directory, opts ...Option) *Service {
	s := &Service{store: store, dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a package by tracking number. No authentication is required.
func (s *Service) Get(ctx context.Context, tn string) (Package, error) {
	tn = NormalizeTrackingNumber(tn)
	if err := ValidateTrackingNumber("params", tn); err != nil {
		return Package{}, err
	}
	return s.store.GetPackage(ctx, tn)
}

// Create inserts a package. Admins must name an existing owner; other callers own what they create.
func (s *Service) Create(ctx context.Context, caller auth.Identity, in CreateInput) (Package, error) {
	if err := auth.RequireAuthenticated(caller); err != nil {
		return Package{}, err
	}
	in.TrackingNumber = NormalizeTrackingNumber(in.TrackingNumber)
	if err := ValidateCreate(in); err != nil {
		return Package{}, err
	}

	var owner string
	if caller.IsAdmin() {
		if in.OwnerUserID == nil {
			return Package{}, ErrOwnerRequired
		}
		owner = strings.TrimSpace(*in.OwnerUserID)
		if err := s.ensureUserExists(ctx, owner); err != nil {
			return Package{}, err
		}
	} else {
		owner = caller.ID()
	}

	p := Package{
		TrackingNumber:  in.TrackingNumber,
		Carrier:         valueOr(in.Carrier, DefaultCarrier),
		Status:          valueOr(in.Status, DefaultStatus),
		LastLocationLat: in.LastLocationLat,
		LastLocationLng: in.LastLocationLng,
		LastUpdated:     s.now().UTC().Truncate(time.Millisecond),
		OwnerUserID:     &owner,
	}
	if err := s.store.InsertPackage(ctx, p); err != nil {
		return Package{}, err
	}
	return s.store.GetPackage(ctx, p.TrackingNumber)
}

// Update merges the patch into the stored package and bumps lastUpdated.
func (s *Service) Update(ctx context.Context, caller auth.Identity, tn string, patch Patch) (Package, error) {
	if err := auth.RequireAuthenticated(caller); err != nil {
		return Package{}, err
	}
	tn = NormalizeTrackingNumber(tn)
	if err := ValidateTrackingNumber("params", tn); err != nil {
		return Package{}, err
	}
	current, err := s.store.GetPackage(ctx, tn)
	if err != nil {
		return Package{}, err
	}
	if err := s.checkOwnership(caller, current); err != nil {
		return Package{}, err
	}
	at := s.now().UTC().Truncate(time.Millisecond)
	if !at.After(current.LastUpdated) {
		at = current.LastUpdated.Add(time.Millisecond)
	}
	return s.store.UpdatePackage(ctx, tn, patch, at)
}

// SetOwner assigns or clears (owner == nil) the package owner. Admin only.
func (s *Service) SetOwner(ctx context.Context, caller auth.Identity, tn string, owner *string) (Package, error) {
	if err := auth.RequireRole(caller, auth.RoleAdmin); err != nil {
		return Package{}, err
	}
	tn = NormalizeTrackingNumber(tn)
	if err := ValidateTrackingNumber("params", tn); err != nil {
		return Package{}, err
	}
	if owner != nil {
		id := strings.TrimSpace(*owner)
		if id == "" {
			return Package{}, FieldErrors{{Location: "body", Path: "ownerUserId", Msg: "ownerUserId must be a non-empty string or null", Value: *owner}}
		}
		if err := s.ensureUserExists(ctx, id); err != nil {
			return Package{}, err
		}
		owner = &id
	}
	return s.store.SetPackageOwner(ctx, tn, owner)
}

// Delete removes a package.
func (s *Service) Delete(ctx context.Context, caller auth.Identity, tn string) error {
	if err := auth.RequireAuthenticated(caller); err != nil {
		return err
	}
	tn = NormalizeTrackingNumber(tn)
	if err := ValidateTrackingNumber("params", tn); err != nil {
		return err
	}
	if s.enforceOwnership {
		current, err := s.store.GetPackage(ctx, tn)
		if err != nil {
			return err
		}
		if err := s.checkOwnership(caller, current); err != nil {
			return err
		}
	}
	return s.store.DeletePackage(ctx, tn)
}

// ListOwnedBy returns the packages owned by userID, most recently updated first.
func (s *Service) ListOwnedBy(ctx context.Context, userID string) ([]Package, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []Package{}, nil
	}
	pkgs, err := s.store.ListPackagesByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pkgs == nil {
		pkgs = []Package{}
	}
	return pkgs, nil
}

// List returns every package.
func (s *Service) List(ctx context.Context) ([]Package, error) {
	pkgs, err := s.store.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	if pkgs == nil {
		pkgs = []Package{}
	}
	return pkgs, nil
}

type demoPackage struct {
	suffix   string
	carrier  string
	status   string
	lat, lng float64
	age      time.Duration
}

var demoPackages = []demoPackage{
	{"001", "Sundarban Courier Service", "In Transit", 23.8103, 90.4125, 30 * time.Minute},
	{"002", "SteadFast", "Out for Delivery", 22.3569, 91.7832, 10 * time.Minute},
	{"003", "RedX", "At Facility", 24.3636, 88.6241, 3 * time.Hour},
}

// CreateDemoPackages inserts three demo packages owned by the named credentialed user.
// Existing tracking numbers are left untouched. It returns every demo tracking number.
func (s *Service) CreateDemoPackages(ctx context.Context, username string) ([]string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, FieldErrors{{Location: "query", Path: "username", Msg: "username required"}}
	}
	owner, err := s.dir.AccountIDByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	created := make([]string, 0, len(demoPackages))
	for _, d := range demoPackages {
		lat, lng := d.lat, d.lng
		p := Package{
			TrackingNumber:  "BDDEMO" + d.suffix,
			Carrier:         d.carrier,
			Status:          d.status,
			LastLocationLat: &lat,
			LastLocationLng: &lng,
			LastUpdated:     now.Add(-d.age),
			OwnerUserID:     &owner,
		}
		if _, err := s.store.InsertPackageIfAbsent(ctx, p); err != nil {
			return nil, fmt.Errorf("insert demo package %s: %w", p.TrackingNumber, err)
		}
		created = append(created, p.TrackingNumber)
	}
	return created, nil
}

var samplePackages = []struct {
	tn, carrier, status string
	lat, lng            float64
	age                 time.Duration
}{
	{"PKG12345678", "Sundarban Courier Service", "In Transit", 23.8103, 90.4125, time.Hour},
	{"PKG87654321", "SteadFast", "Out for Delivery", 22.3569, 91.7832, 10 * time.Minute},
	{"PKG11112222", "RedX", "Delivered", 24.8949, 91.8687, 24 * time.Hour},
}

// SeedSamples writes the unowned sample packages, replacing any existing rows
// so their timestamps stay relative to startup.
func (s *Service) SeedSamples(ctx context.Context) error {
	now := s.now().UTC().Truncate(time.Millisecond)
	for _, sp := range samplePackages {
		lat, lng := sp.lat, sp.lng
		p := Package{
			TrackingNumber:  sp.tn,
			Carrier:         sp.carrier,
			Status:          sp.status,
			LastLocationLat: &lat,
			LastLocationLng: &lng,
			LastUpdated:     now.Add(-sp.age),
		}
		if err := s.store.UpsertPackage(ctx, p); err != nil {
			return fmt.Errorf("seed %s: %w", sp.tn, err)
		}
	}
	return nil
}

func (s *Service) ensureUserExists(ctx context.Context, id string) error {
	ok, err := s.dir.UserExists(ctx, id)
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}
	if !ok {
		return ErrOwnerNotFound
	}
	return nil
}

func (s *Service) checkOwnership(caller auth.Identity, p Package) error {
	if !s.enforceOwnership || caller.IsAdmin() {
		return nil
	}
	if p.OwnerUserID != nil && *p.OwnerUserID == caller.ID() {
		return nil
	}
	return ErrForbidden
}

func valueOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// IsClientError reports whether err is a caller mistake rather than a store failure.
func IsClientError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrAlreadyExists, ErrInvalidInput, ErrOwnerRequired, ErrOwnerNotFound, ErrForbidden, ErrUserNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
