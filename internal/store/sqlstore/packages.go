package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parceltrack.org/internal/audit"
	"parceltrack.org/internal/ids"
	"parceltrack.org/internal/tracking"
)

const packageColumns = `tracking_number, carrier, status, last_location_lat, last_location_lng, last_updated, owner_user_id`

func scanPackage(row rowScanner) (tracking.Package, error) {
	var (
		p        tracking.Package
		lat, lng sql.NullFloat64
		updated  int64
		owner    sql.NullString
	)
	if err := row.Scan(&p.TrackingNumber, &p.Carrier, &p.Status, &lat, &lng, &updated, &owner); err != nil {
		return tracking.Package{}, err
	}
	p.LastLocationLat = floatPtr(lat)
	p.LastLocationLng = floatPtr(lng)
	p.LastUpdated = time.UnixMilli(updated).UTC()
	p.OwnerUserID = stringPtr(owner)
	return p, nil
}

func packageArgs(p tracking.Package) []any {
	return []any{
		p.TrackingNumber, p.Carrier, p.Status,
		nullFloat(p.LastLocationLat), nullFloat(p.LastLocationLng),
		p.LastUpdated.UnixMilli(), nullString(p.OwnerUserID),
	}
}

func (s *Store) GetPackage(ctx context.Context, tn string) (tracking.Package, error) {
	p, err := scanPackage(s.db.QueryRowContext(ctx, s.q(`
		select `+packageColumns+` from packages where tracking_number = $1
	`), tn))
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Package{}, tracking.ErrNotFound
	}
	if err != nil {
		return tracking.Package{}, wrap("get package", err)
	}
	return p, nil
}

func (s *Store) InsertPackage(ctx context.Context, p tracking.Package) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into packages (`+packageColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
	`), packageArgs(p)...)
	if isUniqueViolation(err) {
		return tracking.ErrAlreadyExists
	}
	if err != nil {
		return wrap("insert package", err)
	}
	return nil
}

func (s *Store) InsertPackageIfAbsent(ctx context.Context, p tracking.Package) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		insert into packages (`+packageColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (tracking_number) do nothing
	`), packageArgs(p)...)
	if err != nil {
		return false, wrap("insert package", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("insert package", err)
	}
	return n > 0, nil
}

func (s *Store) UpsertPackage(ctx context.Context, p tracking.Package) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into packages (`+packageColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (tracking_number) do update set
			carrier = excluded.carrier,
			status = excluded.status,
			last_location_lat = excluded.last_location_lat,
			last_location_lng = excluded.last_location_lng,
			last_updated = excluded.last_updated,
			owner_user_id = excluded.owner_user_id
	`), packageArgs(p)...)
	if err != nil {
		return wrap("upsert package", err)
	}
	return nil
}

// UpdatePackage merges non-nil patch fields in a single statement.
func (s *Store) UpdatePackage(ctx context.Context, tn string, patch tracking.Patch, at time.Time) (tracking.Package, error) {
	p, err := scanPackage(s.db.QueryRowContext(ctx, s.q(`
		update packages set
			carrier = coalesce($2, carrier),
			status = coalesce($3, status),
			last_location_lat = coalesce($4, last_location_lat),
			last_location_lng = coalesce($5, last_location_lng),
			last_updated = $6
		where tracking_number = $1
		returning `+packageColumns), tn, nullString(patch.Carrier), nullString(patch.Status),
		nullFloat(patch.LastLocationLat), nullFloat(patch.LastLocationLng), at.UnixMilli()))
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Package{}, tracking.ErrNotFound
	}
	if err != nil {
		return tracking.Package{}, wrap("update package", err)
	}
	return p, nil
}

func (s *Store) SetPackageOwner(ctx context.Context, tn string, owner *string) (tracking.Package, error) {
	p, err := scanPackage(s.db.QueryRowContext(ctx, s.q(`
		update packages set owner_user_id = $2
		where tracking_number = $1
		returning `+packageColumns), tn, nullString(owner)))
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Package{}, tracking.ErrNotFound
	}
	if err != nil {
		return tracking.Package{}, wrap("set owner", err)
	}
	return p, nil
}

func (s *Store) DeletePackage(ctx context.Context, tn string) error {
	res, err := s.db.ExecContext(ctx, s.q(`delete from packages where tracking_number = $1`), tn)
	if err != nil {
		return wrap("delete package", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("delete package", err)
	}
	if n == 0 {
		return tracking.ErrNotFound
	}
	return nil
}

func (s *Store) ListPackages(ctx context.Context) ([]tracking.Package, error) {
	return s.listPackages(ctx, `select `+packageColumns+` from packages order by tracking_number`)
}

// ListPackagesByOwner orders by last_updated descending.
func (s *Store) ListPackagesByOwner(ctx context.Context, ownerID string) ([]tracking.Package, error) {
	return s.listPackages(ctx, `
		select `+packageColumns+` from packages
		where owner_user_id = $1
		order by last_updated desc, tracking_number asc
	`, ownerID)
}

func (s *Store) listPackages(ctx context.Context, query string, args ...any) ([]tracking.Package, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, wrap("list packages", err)
	}
	defer rows.Close()
	out := make([]tracking.Package, 0)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, wrap("scan package", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list packages", err)
	}
	return out, nil
}

// RecordHit appends one analytics row.
func (s *Store) RecordHit(ctx context.Context, h audit.Hit) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into analytics (id, ts, method, path, user_id) values ($1, $2, $3, $4, $5)
	`), ids.NewRequestID(), h.At.UnixMilli(), h.Method, h.Path, nullString(h.UserID))
	if err != nil {
		return wrap("record hit", err)
	}
	return nil
}
