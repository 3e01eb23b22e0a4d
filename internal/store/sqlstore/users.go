package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/tracking"
)

const accountColumns = `id, first_name, last_name, username, email, password_hash, avatar, role`

// CreateAccount inserts the credentialed row and its display mirror in one transaction.
func (s *Store) CreateAccount(ctx context.Context, acc auth.Account, displayName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := s.now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, s.q(`
		insert into auth_users (id, first_name, last_name, username, email, password_hash, avatar, role, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`), acc.ID, acc.FirstName, acc.LastName, acc.Username, acc.Email, acc.PasswordHash,
		nullString(acc.Avatar), string(acc.Role), created); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return wrap("insert auth user", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		insert into users (id, name, avatar, created_at) values ($1, $2, $3, $4)
	`), acc.ID, displayName, nullString(acc.Avatar), created); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return wrap("insert user", err)
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit", err)
	}
	return nil
}

// FindAccountByLogin matches the login against username or email.
func (s *Store) FindAccountByLogin(ctx context.Context, login string) (auth.Account, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		select `+accountColumns+`
		from auth_users
		where username = $1 or email = $1
		limit 1
	`), login)
	var (
		acc    auth.Account
		avatar sql.NullString
		role   string
	)
	err := row.Scan(&acc.ID, &acc.FirstName, &acc.LastName, &acc.Username, &acc.Email, &acc.PasswordHash, &avatar, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Account{}, wrap("find account", err)
	}
	acc.Avatar = stringPtr(avatar)
	acc.Role = auth.ParseRole(role)
	return acc, nil
}

// FindProfileByName returns the oldest display user with the name.
func (s *Store) FindProfileByName(ctx context.Context, name string) (auth.Profile, error) {
	var (
		p      auth.Profile
		avatar sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		select id, name, avatar from users
		where name = $1
		order by created_at asc, id asc
		limit 1
	`), name).Scan(&p.ID, &p.Name, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Profile{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Profile{}, wrap("find profile", err)
	}
	p.Avatar = stringPtr(avatar)
	return p, nil
}

func (s *Store) CreateProfile(ctx context.Context, p auth.Profile) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into users (id, name, avatar, created_at) values ($1, $2, $3, $4)
	`), p.ID, p.Name, nullString(p.Avatar), s.now().UTC().UnixMilli())
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	if err != nil {
		return wrap("create profile", err)
	}
	return nil
}

// UserExists checks both the credentialed and the display tables.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		select count(*) from (
			select id from auth_users where id = $1
			union all
			select id from users where id = $1
		) u
	`), id).Scan(&n)
	if err != nil {
		return false, wrap("user exists", err)
	}
	return n > 0, nil
}

// AccountIDByUsername resolves a credentialed user's id.
func (s *Store) AccountIDByUsername(ctx context.Context, username string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.q(`select id from auth_users where username = $1`), username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", tracking.ErrUserNotFound
	}
	if err != nil {
		return "", wrap("account by username", err)
	}
	return id, nil
}

// DeleteUser removes analytics, releases packages and deletes both user rows.
// Nothing is changed when neither user row exists.
func (s *Store) DeleteUser(ctx context.Context, id string) (auth.Removal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Removal{}, wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removal auth.Removal
	steps := []struct {
		query string
		dst   *int64
	}{
		{`delete from analytics where user_id = $1`, &removal.Analytics},
		{`update packages set owner_user_id = null where owner_user_id = $1`, &removal.ReleasedPackages},
		{`delete from auth_users where id = $1`, &removal.AuthUsers},
		{`delete from users where id = $1`, &removal.Users},
	}
	for _, step := range steps {
		res, err := tx.ExecContext(ctx, s.q(step.query), id)
		if err != nil {
			return auth.Removal{}, wrap("delete user", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return auth.Removal{}, wrap("delete user", err)
		}
		*step.dst = n
	}
	if removal.AuthUsers == 0 && removal.Users == 0 {
		return auth.Removal{}, auth.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return auth.Removal{}, wrap("commit", err)
	}
	return removal, nil
}
