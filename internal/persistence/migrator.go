package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockKey serializes schema changes across daemons sharing a
// journal database.
const migrationLockKey = 0x7661756c74 // "vault"

// Migrator applies the journal schema from a directory of SQL files named
// {version}_{name}.up.sql and {version}_{name}.down.sql.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// MigrationStatus describes one migration.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
}

// migration pairs the up and down files sharing a version. down may be empty.
type migration struct {
	version string
	up      string
	down    string
}

// Up applies every pending migration in version order, each in its own
// transaction.
func (m *Migrator) Up(ctx context.Context) error {
	set, applied, err := m.load(ctx)
	if err != nil {
		return err
	}
	for _, mig := range set {
		if applied[mig.version] {
			continue
		}
		done, err := m.step(ctx, mig.up, func(tx *sql.Tx) (bool, error) {
			var exists bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM public.vault_schema_migrations WHERE version = $1)`,
				mig.version,
			).Scan(&exists)
			return !exists, err
		}, `INSERT INTO public.vault_schema_migrations (version, filename) VALUES ($1, $2)`, mig.version, mig.up)
		if err != nil {
			return err
		}
		if done {
			m.logger.Info().Str("version", mig.version).Str("file", mig.up).Msg("applied migration")
		}
	}
	return nil
}

// Down reverts the most recently applied migration. It is a no-op when
// nothing is applied.
func (m *Migrator) Down(ctx context.Context) error {
	set, applied, err := m.load(ctx)
	if err != nil {
		return err
	}
	var last *migration
	for i := len(set) - 1; i >= 0; i-- {
		if applied[set[i].version] {
			last = &set[i]
			break
		}
	}
	if last == nil {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if last.down == "" {
		return fmt.Errorf("migration %s has no down file", last.version)
	}

	version := last.version
	if _, err := m.step(ctx, last.down, nil,
		`DELETE FROM public.vault_schema_migrations WHERE version = $1`, version,
	); err != nil {
		return err
	}
	m.logger.Info().Str("version", version).Str("file", last.down).Msg("rolled back migration")
	return nil
}

// Status lists every migration on disk and whether it is applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	set, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(set))
	for i, mig := range set {
		out[i] = MigrationStatus{Version: mig.version, Filename: mig.up, Applied: applied[mig.version]}
	}
	return out, nil
}

// load reads the migration set from disk and the applied versions from the
// database.
func (m *Migrator) load(ctx context.Context) ([]migration, map[string]bool, error) {
	set, err := readMigrations(m.migrationsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("list migrations: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.vault_schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.vault_schema_migrations`)
	if err != nil {
		return nil, nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, nil, fmt.Errorf("read applied migrations: %w", err)
		}
		applied[v] = true
	}
	return set, applied, rows.Err()
}

// step runs one SQL file and its bookkeeping statement in a transaction that
// holds the migration lock. When guard is set and returns false the step is
// skipped, which happens when another process applied it first.
func (m *Migrator) step(ctx context.Context, file string, guard func(*sql.Tx) (bool, error), record string, args ...any) (bool, error) {
	script, err := os.ReadFile(filepath.Join(m.migrationsDir, file))
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock for %s: %w", file, err)
	}
	if guard != nil {
		proceed, err := guard(tx)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", file, err)
		}
		if !proceed {
			return false, nil
		}
	}

	m.logger.Debug().Str("file", file).Msg("running migration")
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return false, fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return false, fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", file, err)
	}
	return true, nil
}

// readMigrations pairs up and down files by version, sorted by version.
// Files without an up or down suffix are ignored.
func readMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up = true
		case strings.HasSuffix(name, ".down.sql"):
		default:
			continue
		}

		version, _, ok := strings.Cut(name, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: want {version}_{name}", name)
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &migration{version: version}
			byVersion[version] = mig
		}
		slot := &mig.down
		if up {
			slot = &mig.up
		}
		if *slot != "" {
			return nil, fmt.Errorf("migration %s: %s and %s share a version", version, *slot, name)
		}
		*slot = name
	}

	set := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.up == "" {
			return nil, fmt.Errorf("migration %s: %w", mig.version, errMissingUp)
		}
		set = append(set, *mig)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].version < set[j].version })
	return set, nil
}

var errMissingUp = errors.New("down file without an up file")
