package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"parceltrack.org/internal/audit"
	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/migrate"
	"parceltrack.org/internal/tracking"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	st, err := Open(migrate.DialectSQLite, filepath.Join(t.TempDir(), "store.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := migrate.NewManager(st.DB(), migrate.DialectSQLite).Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return st
}

func strp(s string) *string { return &s }
func fp(v float64) *float64 { return &v }

func TestAccountsSQLite(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)

	acc := auth.Account{ID: "u1", FirstName: "Ada", Username: "ada", Email: "ada@x.io", PasswordHash: "h", Role: auth.RoleUser}
	if err := st.CreateAccount(ctx, acc, "Ada"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	dup := acc
	dup.ID = "u2"
	if err := st.CreateAccount(ctx, dup, "Ada"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := st.FindAccountByLogin(ctx, "ada@x.io")
	if err != nil {
		t.Fatalf("FindAccountByLogin: %v", err)
	}
	if diff := cmp.Diff(acc, got); diff != "" {
		t.Fatalf("account mismatch (-want +got):\n%s", diff)
	}
	if _, err := st.FindAccountByLogin(ctx, "nobody"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	prof, err := st.FindProfileByName(ctx, "Ada")
	if err != nil || prof.ID != "u1" {
		t.Fatalf("mirrored profile missing: %+v %v", prof, err)
	}
	if err := st.CreateProfile(ctx, auth.Profile{ID: "m1", Name: "Sam"}); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	for _, id := range []string{"u1", "m1"} {
		ok, err := st.UserExists(ctx, id)
		if err != nil || !ok {
			t.Fatalf("UserExists(%s) = %v, %v", id, ok, err)
		}
	}
	if ok, _ := st.UserExists(ctx, "ghost"); ok {
		t.Fatal("ghost must not exist")
	}
	if id, err := st.AccountIDByUsername(ctx, "ada"); err != nil || id != "u1" {
		t.Fatalf("AccountIDByUsername = %q, %v", id, err)
	}
	if _, err := st.AccountIDByUsername(ctx, "Sam"); !errors.Is(err, tracking.ErrUserNotFound) {
		t.Fatalf("display users have no username, got %v", err)
	}
}

func TestPackagesSQLite(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	now := time.UnixMilli(1700000000000).UTC()

	p := tracking.Package{TrackingNumber: "ABCD1234", Carrier: "DHL", Status: "Created", LastUpdated: now, OwnerUserID: strp("u1")}
	if err := st.InsertPackage(ctx, p); err != nil {
		t.Fatalf("InsertPackage: %v", err)
	}
	if err := st.InsertPackage(ctx, p); !errors.Is(err, tracking.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if inserted, err := st.InsertPackageIfAbsent(ctx, p); err != nil || inserted {
		t.Fatalf("InsertPackageIfAbsent = %v, %v", inserted, err)
	}

	updated, err := st.UpdatePackage(ctx, "ABCD1234", tracking.Patch{Status: strp("In Transit"), LastLocationLat: fp(1.5)}, now.Add(time.Second))
	if err != nil {
		t.Fatalf("UpdatePackage: %v", err)
	}
	want := tracking.Package{
		TrackingNumber:  "ABCD1234",
		Carrier:         "DHL",
		Status:          "In Transit",
		LastLocationLat: fp(1.5),
		LastUpdated:     now.Add(time.Second),
		OwnerUserID:     strp("u1"),
	}
	if diff := cmp.Diff(want, updated); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}
	if _, err := st.UpdatePackage(ctx, "NOPE0000", tracking.Patch{}, now); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cleared, err := st.SetPackageOwner(ctx, "ABCD1234", nil)
	if err != nil || cleared.OwnerUserID != nil {
		t.Fatalf("SetPackageOwner(nil) = %+v, %v", cleared, err)
	}
	if _, err := st.SetPackageOwner(ctx, "ABCD1234", strp("u1")); err != nil {
		t.Fatalf("SetPackageOwner: %v", err)
	}

	second := tracking.Package{TrackingNumber: "EFGH5678", Carrier: "c", Status: "s", LastUpdated: now.Add(time.Hour), OwnerUserID: strp("u1")}
	if inserted, err := st.InsertPackageIfAbsent(ctx, second); err != nil || !inserted {
		t.Fatalf("InsertPackageIfAbsent = %v, %v", inserted, err)
	}
	owned, err := st.ListPackagesByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPackagesByOwner: %v", err)
	}
	if len(owned) != 2 || owned[0].TrackingNumber != "EFGH5678" {
		t.Fatalf("unexpected order: %+v", owned)
	}

	second.Status = "replaced"
	second.OwnerUserID = nil
	if err := st.UpsertPackage(ctx, second); err != nil {
		t.Fatalf("UpsertPackage: %v", err)
	}
	all, err := st.ListPackages(ctx)
	if err != nil || len(all) != 2 || all[1].Status != "replaced" {
		t.Fatalf("ListPackages = %+v, %v", all, err)
	}

	if err := st.DeletePackage(ctx, "ABCD1234"); err != nil {
		t.Fatalf("DeletePackage: %v", err)
	}
	if err := st.DeletePackage(ctx, "ABCD1234"); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUserSQLite(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)

	if err := st.CreateAccount(ctx, auth.Account{ID: "u1", Username: "ada", Email: "a@x.io", PasswordHash: "h", Role: auth.RoleUser}, "Ada"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := st.InsertPackage(ctx, tracking.Package{TrackingNumber: "ABCD1234", Carrier: "c", Status: "s", LastUpdated: time.Now(), OwnerUserID: strp("u1")}); err != nil {
		t.Fatalf("InsertPackage: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := st.RecordHit(ctx, audit.Hit{At: time.Now(), Method: "GET", Path: "/api/my-packages", UserID: strp("u1")}); err != nil {
			t.Fatalf("RecordHit: %v", err)
		}
	}
	if err := st.RecordHit(ctx, audit.Hit{At: time.Now(), Method: "GET", Path: "/healthz"}); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}

	removal, err := st.DeleteUser(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	want := auth.Removal{AuthUsers: 1, Users: 1, Analytics: 2, ReleasedPackages: 1}
	if removal != want {
		t.Fatalf("removal = %+v, want %+v", removal, want)
	}
	p, err := st.GetPackage(ctx, "ABCD1234")
	if err != nil || p.OwnerUserID != nil {
		t.Fatalf("package owner not released: %+v %v", p, err)
	}
	if _, err := st.DeleteUser(ctx, "u1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	st := New(db, migrate.DialectPostgres)

	mock.ExpectExec(`insert into packages`).
		WithArgs("ABCD1234", "c", "s", nil, nil, sqlmock.AnyArg(), nil).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = st.InsertPackage(context.Background(), tracking.Package{TrackingNumber: "ABCD1234", Carrier: "c", Status: "s"})
	if !errors.Is(err, tracking.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteUserRollsBackWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	st := New(db, migrate.DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from analytics where user_id = \$1`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`update packages set owner_user_id = null`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from auth_users where id = \$1`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from users where id = \$1`).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if _, err := st.DeleteUser(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(migrate.DialectPostgres, " "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
