package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres stores slots in ledger.slots. The schema is created by the
// migrations under migrations/.
type Postgres struct {
	db    *sql.DB
	owned bool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{db: db, owned: true}, nil
}

// NewPostgres wraps an existing pool. Close leaves the pool open.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the pool for migrations and the operation journal.
func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM ledger.slots WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ledger.slots (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	return err
}

func (p *Postgres) Close() error {
	if !p.owned {
		return nil
	}
	return p.db.Close()
}
