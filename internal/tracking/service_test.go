package tracking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/store/memory"
	"parceltrack.org/internal/tracking"
)

type fixture struct {
	svc   *tracking.Service
	store *memory.Store
	now   time.Time
	alice auth.Identity
	bob   auth.Identity
	admin auth.Identity
}

func newFixture(t *testing.T, opts ...tracking.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		now:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	for _, acc := range []auth.Account{
		{ID: "alice-id", Username: "alice", Email: "a@x.io", PasswordHash: "x"},
		{ID: "bob-id", Username: "bob", Email: "b@x.io", PasswordHash: "x"},
	} {
		if err := f.store.CreateAccount(ctx, acc, acc.Username); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
	}
	f.alice = auth.NewIdentity(auth.User{ID: "alice-id", Role: auth.RoleUser})
	f.bob = auth.NewIdentity(auth.User{ID: "bob-id", Role: auth.RoleUser})
	f.admin = auth.NewIdentity(auth.User{ID: auth.AdminUserID, Role: auth.RoleAdmin})

	opts = append([]tracking.Option{tracking.WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = tracking.NewService(f.store, f.store, opts...)
	return f
}

func strp(s string) *string { return &s }
func fp(v float64) *float64 { return &v }

func TestCreateByUserIsSelfOwned(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), f.alice, tracking.CreateInput{
		TrackingNumber: "ABCD1234",
		OwnerUserID:    strp("bob-id"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := tracking.Package{
		TrackingNumber: "ABCD1234",
		Carrier:        tracking.DefaultCarrier,
		Status:         tracking.DefaultStatus,
		LastUpdated:    f.now,
		OwnerUserID:    strp("alice-id"),
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("package mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller auth.Identity
		in     tracking.CreateInput
		want   error
	}{
		{"anonymous", auth.Anonymous, tracking.CreateInput{TrackingNumber: "ABCD1234"}, auth.ErrUnauthorized},
		{"lowercase", f.alice, tracking.CreateInput{TrackingNumber: "abc12345"}, tracking.ErrInvalidInput},
		{"too short", f.admin, tracking.CreateInput{TrackingNumber: "ABC1234", OwnerUserID: strp("alice-id")}, tracking.ErrInvalidInput},
		{"admin without owner", f.admin, tracking.CreateInput{TrackingNumber: "ABCD1234"}, tracking.ErrOwnerRequired},
		{"admin unknown owner", f.admin, tracking.CreateInput{TrackingNumber: "ABCD1234", OwnerUserID: strp("ghost")}, tracking.ErrOwnerNotFound},
		{"blank owner", f.alice, tracking.CreateInput{TrackingNumber: "ABCD1234", OwnerUserID: strp(" ")}, tracking.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, tc.caller, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := f.svc.Get(ctx, "ABCD1234"); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("rejected creates must not persist, got %v", err)
	}
}

func TestCreateByAdmin(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), f.admin, tracking.CreateInput{
		TrackingNumber:  "ADMIN0001",
		Carrier:         strp("DHL"),
		LastLocationLat: fp(23.8),
		LastLocationLng: fp(90.4),
		OwnerUserID:     strp("bob-id"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.OwnerUserID == nil || *p.OwnerUserID != "bob-id" {
		t.Fatalf("expected bob as owner, got %v", p.OwnerUserID)
	}
	if !p.HasLocation() || p.Carrier != "DHL" || p.Status != tracking.DefaultStatus {
		t.Fatalf("unexpected package: %+v", p)
	}
}

func TestCreateDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, f.alice, tracking.CreateInput{TrackingNumber: "ABCD1234"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.bob, tracking.CreateInput{TrackingNumber: "ABCD1234"}); !errors.Is(err, tracking.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateMergesAndBumpsTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, f.alice, tracking.CreateInput{
		TrackingNumber:  "ABCD1234",
		Carrier:         strp("DHL"),
		LastLocationLat: fp(1),
		LastLocationLng: fp(2),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := f.svc.Update(ctx, f.bob, "ABCD1234", tracking.Patch{Status: strp("In Transit")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Carrier != "DHL" || updated.Status != "In Transit" {
		t.Fatalf("merge failed: %+v", updated)
	}
	if *updated.LastLocationLat != 1 || *updated.LastLocationLng != 2 {
		t.Fatalf("location should be kept: %+v", updated)
	}
	if !updated.LastUpdated.After(created.LastUpdated) {
		t.Fatalf("lastUpdated must strictly increase: %v then %v", created.LastUpdated, updated.LastUpdated)
	}

	f.now = f.now.Add(time.Minute)
	again, err := f.svc.Update(ctx, f.alice, "ABCD1234", tracking.Patch{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !again.LastUpdated.Equal(f.now) {
		t.Fatalf("expected lastUpdated %v, got %v", f.now, again.LastUpdated)
	}
}

func TestUpdateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Update(ctx, auth.Anonymous, "ABCD1234", tracking.Patch{}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.Update(ctx, f.alice, "NOPE0000", tracking.Patch{}); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOwnershipChecks(t *testing.T) {
	f := newFixture(t, tracking.WithOwnershipChecks(true))
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, f.alice, tracking.CreateInput{TrackingNumber: "ABCD1234"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Update(ctx, f.bob, "ABCD1234", tracking.Patch{Status: strp("x")}); !errors.Is(err, tracking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden on update, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.bob, "ABCD1234"); !errors.Is(err, tracking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := f.svc.Update(ctx, f.admin, "ABCD1234", tracking.Patch{Status: strp("x")}); err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if err := f.svc.Delete(ctx, f.alice, "ABCD1234"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestSetOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, f.alice, tracking.CreateInput{TrackingNumber: "ABCD1234"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.SetOwner(ctx, f.alice, "ABCD1234", nil); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.SetOwner(ctx, f.admin, "ABCD1234", strp("ghost")); !errors.Is(err, tracking.ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
	if _, err := f.svc.SetOwner(ctx, f.admin, "ABCD1234", strp("")); !errors.Is(err, tracking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	p, err := f.svc.SetOwner(ctx, f.admin, "ABCD1234", strp("bob-id"))
	if err != nil {
		t.Fatalf("SetOwner: %v", err)
	}
	if *p.OwnerUserID != "bob-id" {
		t.Fatalf("owner not set: %v", *p.OwnerUserID)
	}
	if !p.LastUpdated.Equal(created.LastUpdated) {
		t.Fatal("ownership changes must not touch lastUpdated")
	}

	p, err = f.svc.SetOwner(ctx, f.admin, "ABCD1234", nil)
	if err != nil {
		t.Fatalf("SetOwner(nil): %v", err)
	}
	if p.OwnerUserID != nil {
		t.Fatal("owner should be cleared")
	}
	if _, err := f.svc.SetOwner(ctx, f.admin, "NOPE0000", nil); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, f.alice, tracking.CreateInput{TrackingNumber: "ABCD1234"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.svc.Delete(ctx, auth.Anonymous, "ABCD1234"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.bob, "ABCD1234"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.svc.Delete(ctx, f.bob, "ABCD1234"); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOwnedByOrdersNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, tn := range []string{"FIRST0001", "SECOND001", "THIRD0001"} {
		if _, err := f.svc.Create(ctx, f.alice, tracking.CreateInput{TrackingNumber: tn}); err != nil {
			t.Fatalf("Create %s: %v", tn, err)
		}
		f.now = f.now.Add(time.Second)
	}
	if _, err := f.svc.Update(ctx, f.alice, "FIRST0001", tracking.Patch{Status: strp("moved")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pkgs, err := f.svc.ListOwnedBy(ctx, "alice-id")
	if err != nil {
		t.Fatalf("ListOwnedBy: %v", err)
	}
	var got []string
	for _, p := range pkgs {
		got = append(got, p.TrackingNumber)
	}
	if diff := cmp.Diff([]string{"FIRST0001", "THIRD0001", "SECOND001"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	empty, err := f.svc.ListOwnedBy(ctx, "bob-id")
	if err != nil {
		t.Fatalf("ListOwnedBy: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestGetValidatesTrackingNumber(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "bad")
	var fe tracking.FieldErrors
	if !errors.As(err, &fe) || fe[0].Location != "params" {
		t.Fatalf("expected params FieldErrors, got %v", err)
	}
}

func TestCreateDemoPackages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateDemoPackages(ctx, "bob")
	if err != nil {
		t.Fatalf("CreateDemoPackages: %v", err)
	}
	if diff := cmp.Diff([]string{"BDDEMO001", "BDDEMO002", "BDDEMO003"}, created); diff != "" {
		t.Fatalf("unexpected numbers (-want +got):\n%s", diff)
	}
	pkgs, err := f.svc.ListOwnedBy(ctx, "bob-id")
	if err != nil || len(pkgs) != 3 {
		t.Fatalf("expected 3 owned packages, got %d (%v)", len(pkgs), err)
	}
	if _, err := f.svc.CreateDemoPackages(ctx, "bob"); err != nil {
		t.Fatalf("repeat CreateDemoPackages: %v", err)
	}
	if _, err := f.svc.CreateDemoPackages(ctx, "ghost"); !errors.Is(err, tracking.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := f.svc.CreateDemoPackages(ctx, ""); !errors.Is(err, tracking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSeedSamplesReplacesRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.SeedSamples(ctx); err != nil {
		t.Fatalf("SeedSamples: %v", err)
	}
	if _, err := f.svc.Update(ctx, f.alice, "PKG12345678", tracking.Patch{Status: strp("Lost")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := f.svc.SeedSamples(ctx); err != nil {
		t.Fatalf("SeedSamples: %v", err)
	}
	p, err := f.svc.Get(ctx, "PKG12345678")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != "In Transit" || p.OwnerUserID != nil {
		t.Fatalf("sample row not restored: %+v", p)
	}
	if want := f.now.Add(-time.Hour); !p.LastUpdated.Equal(want) {
		t.Fatalf("expected lastUpdated %v, got %v", want, p.LastUpdated)
	}
}
