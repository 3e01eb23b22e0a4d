// Package memory is an in-process store used by tests and by `DATABASE_DRIVER=memory`.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"parceltrack.org/internal/audit"
	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/tracking"
)

// Store keeps users, packages and analytics in maps guarded by one mutex.
type Store struct {
	mu        sync.RWMutex
	accounts  map[string]auth.Account
	profiles  map[string]auth.Profile
	packages  map[string]tracking.Package
	analytics []audit.Hit
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]auth.Account),
		profiles: make(map[string]auth.Profile),
		packages: make(map[string]tracking.Package),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateAccount implements auth.Store.
func (s *Store) CreateAccount(_ context.Context, acc auth.Account, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Username == acc.Username || existing.Email == acc.Email {
			return auth.ErrConflict
		}
	}
	if _, ok := s.accounts[acc.ID]; ok {
		return auth.ErrConflict
	}
	s.accounts[acc.ID] = acc
	s.profiles[acc.ID] = auth.Profile{ID: acc.ID, Name: displayName, Avatar: cloneString(acc.Avatar)}
	return nil
}

// FindAccountByLogin implements auth.Store.
func (s *Store) FindAccountByLogin(_ context.Context, login string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.accounts {
		if acc.Username == login || acc.Email == login {
			return acc, nil
		}
	}
	return auth.Account{}, auth.ErrNotFound
}

// FindProfileByName implements auth.Store. The oldest matching profile wins.
func (s *Store) FindProfileByName(_ context.Context, name string) (auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found auth.Profile
		ok    bool
	)
	for _, p := range s.profiles {
		if p.Name != name {
			continue
		}
		if !ok || p.ID < found.ID {
			found, ok = p, true
		}
	}
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	return found, nil
}

// CreateProfile implements auth.Store.
func (s *Store) CreateProfile(_ context.Context, p auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return auth.ErrConflict
	}
	s.profiles[p.ID] = p
	return nil
}

// UserExists implements auth.Store and tracking.Directory.
func (s *Store) UserExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, inAccounts := s.accounts[id]
	_, inProfiles := s.profiles[id]
	return inAccounts || inProfiles, nil
}

// AccountIDByUsername implements tracking.Directory.
func (s *Store) AccountIDByUsername(_ context.Context, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.accounts {
		if acc.Username == username {
			return acc.ID, nil
		}
	}
	return "", tracking.ErrUserNotFound
}

// DeleteUser implements auth.Store.
func (s *Store) DeleteUser(_ context.Context, id string) (auth.Removal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, inAccounts := s.accounts[id]
	_, inProfiles := s.profiles[id]
	if !inAccounts && !inProfiles {
		return auth.Removal{}, auth.ErrNotFound
	}
	var removal auth.Removal
	kept := s.analytics[:0]
	for _, h := range s.analytics {
		if h.UserID != nil && *h.UserID == id {
			removal.Analytics++
			continue
		}
		kept = append(kept, h)
	}
	s.analytics = kept
	for tn, p := range s.packages {
		if p.OwnerUserID != nil && *p.OwnerUserID == id {
			p.OwnerUserID = nil
			s.packages[tn] = p
			removal.ReleasedPackages++
		}
	}
	if inAccounts {
		delete(s.accounts, id)
		removal.AuthUsers = 1
	}
	if inProfiles {
		delete(s.profiles, id)
		removal.Users = 1
	}
	return removal, nil
}

// GetPackage implements tracking.Store.
func (s *Store) GetPackage(_ context.Context, tn string) (tracking.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packages[tn]
	if !ok {
		return tracking.Package{}, tracking.ErrNotFound
	}
	return clonePackage(p), nil
}

// InsertPackage implements tracking.Store.
func (s *Store) InsertPackage(_ context.Context, p tracking.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[p.TrackingNumber]; ok {
		return tracking.ErrAlreadyExists
	}
	s.packages[p.TrackingNumber] = clonePackage(p)
	return nil
}

// InsertPackageIfAbsent implements tracking.Store.
func (s *Store) InsertPackageIfAbsent(_ context.Context, p tracking.Package) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[p.TrackingNumber]; ok {
		return false, nil
	}
	s.packages[p.TrackingNumber] = clonePackage(p)
	return true, nil
}

// UpsertPackage replaces or inserts p. Seeding uses it.
func (s *Store) UpsertPackage(_ context.Context, p tracking.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[p.TrackingNumber] = clonePackage(p)
	return nil
}

// UpdatePackage implements tracking.Store.
func (s *Store) UpdatePackage(_ context.Context, tn string, patch tracking.Patch, at time.Time) (tracking.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[tn]
	if !ok {
		return tracking.Package{}, tracking.ErrNotFound
	}
	if patch.Carrier != nil {
		p.Carrier = *patch.Carrier
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.LastLocationLat != nil {
		p.LastLocationLat = cloneFloat(patch.LastLocationLat)
	}
	if patch.LastLocationLng != nil {
		p.LastLocationLng = cloneFloat(patch.LastLocationLng)
	}
	p.LastUpdated = at
	s.packages[tn] = p
	return clonePackage(p), nil
}

// SetPackageOwner implements tracking.Store.
func (s *Store) SetPackageOwner(_ context.Context, tn string, owner *string) (tracking.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[tn]
	if !ok {
		return tracking.Package{}, tracking.ErrNotFound
	}
	p.OwnerUserID = cloneString(owner)
	s.packages[tn] = p
	return clonePackage(p), nil
}

// DeletePackage implements tracking.Store.
func (s *Store) DeletePackage(_ context.Context, tn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[tn]; !ok {
		return tracking.ErrNotFound
	}
	delete(s.packages, tn)
	return nil
}

// ListPackages implements tracking.Store, ordered by tracking number.
func (s *Store) ListPackages(_ context.Context) ([]tracking.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracking.Package, 0, len(s.packages))
	for _, p := range s.packages {
		out = append(out, clonePackage(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingNumber < out[j].TrackingNumber })
	return out, nil
}

// ListPackagesByOwner implements tracking.Store.
func (s *Store) ListPackagesByOwner(_ context.Context, ownerID string) ([]tracking.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracking.Package, 0)
	for _, p := range s.packages {
		if p.OwnerUserID != nil && *p.OwnerUserID == ownerID {
			out = append(out, clonePackage(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return strings.Compare(out[i].TrackingNumber, out[j].TrackingNumber) < 0
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}

// RecordHit implements audit.Sink.
func (s *Store) RecordHit(_ context.Context, h audit.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.UserID = cloneString(h.UserID)
	s.analytics = append(s.analytics, h)
	return nil
}

// Hits returns a copy of the recorded analytics rows.
func (s *Store) Hits() []audit.Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Hit, len(s.analytics))
	copy(out, s.analytics)
	return out
}

func clonePackage(p tracking.Package) tracking.Package {
	p.LastLocationLat = cloneFloat(p.LastLocationLat)
	p.LastLocationLng = cloneFloat(p.LastLocationLng)
	p.OwnerUserID = cloneString(p.OwnerUserID)
	return p
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var (
	_ auth.Store         = (*Store)(nil)
	_ tracking.Store     = (*Store)(nil)
	_ tracking.Directory = (*Store)(nil)
	_ audit.Sink         = (*Store)(nil)
)
