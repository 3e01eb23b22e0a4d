package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"parceltrack.org/internal/obs"
)

const defaultSeedsTable = "schema_seeds"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

//go:embed seeds/*.sql
var embeddedSeeds embed.FS

// goose keeps its dialect and base filesystem in package globals.
var gooseMu sync.Mutex

// Manager applies goose schema migrations and tracked SQL seed files.
type Manager struct {
	db         *sql.DB
	dialect    Dialect
	migrations fs.FS
	seeds      fs.FS
	seedsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithMigrations replaces the embedded goose migrations.
func WithMigrations(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.migrations = fsys
		}
	}
}

// WithSeeds replaces the embedded seed files.
func WithSeeds(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.seeds = fsys
		}
	}
}

// NewManager constructs a Manager over the embedded migrations and seeds.
func NewManager(db *sql.DB, dialect Dialect, opts ...Option) *Manager {
	migrations, _ := fs.Sub(embeddedMigrations, "sql")
	seeds, _ := fs.Sub(embeddedSeeds, "seeds")
	m := &Manager{
		db:         db,
		dialect:    dialect,
		migrations: migrations,
		seeds:      seeds,
		seedsTable: defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.withGoose(func() error {
		return goose.UpContext(ctx, m.db, ".")
	})
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.withGoose(func() error {
		version, err := goose.GetDBVersionContext(ctx, m.db)
		if err != nil {
			return err
		}
		if version == 0 {
			return errors.New("no migrations applied")
		}
		return goose.DownContext(ctx, m.db, ".")
	})
}

// Status returns the file names of applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.withGoose(func() error {
		version, err := goose.GetDBVersionContext(ctx, m.db)
		if err != nil {
			return err
		}
		migrations, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			if mig.Version <= version {
				applied = append(applied, path.Base(mig.Source))
			}
		}
		return nil
	})
	return applied, err
}

// Seed applies seed files idempotently.
func (m *Manager) Seed(ctx context.Context) error {
	if err := m.ensureSeedsTable(ctx); err != nil {
		return err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.seeds)
	if err != nil {
		return err
	}
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, name); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
		if err := m.insertRecord(ctx, name); err != nil {
			return err
		}
		obs.Logger().Info("seed applied", zap.String("seed", name))
	}
	return nil
}

func (m *Manager) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(m.migrations)
	goose.SetLogger(gooseLogger{obs.Logger().Sugar()})
	if err := goose.SetDialect(string(m.dialect)); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn()
}

func (m *Manager) ensureSeedsTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at bigint not null
		);`, m.seedsTable)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) exec(ctx context.Context, name string) error {
	sqlBytes, err := fs.ReadFile(m.seeds, name)
	if err != nil {
		return err
	}
	statements := splitStatements(string(sqlBytes))
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) insertRecord(ctx context.Context, name string) error {
	q := m.dialect.Rebind(fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.seedsTable))
	_, err := m.db.ExecContext(ctx, q, name, time.Now().UTC().UnixMilli())
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = true
	}
	return result, rows.Err()
}

func collectSQL(fsys fs.FS) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sql") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements naively splits SQL by semicolon while preserving quoted text.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		switch r {
		case '\'':
			current.WriteRune(r)
			inString = !inString
		case ';':
			current.WriteRune(r)
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}

type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.s.Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.s.Fatalf(strings.TrimSuffix(format, "\n"), v...)
}
