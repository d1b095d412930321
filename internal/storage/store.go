package storage

import (
	"context"
	"fmt"
	"strings"
)

// Backend is a key-value store the ledger persists through.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Config selects and locates a backend.
type Config struct {
	// Backend is one of "memory", "leveldb", "bolt", "postgres".
	Backend string `yaml:"backend"`
	// Path is the directory (leveldb) or file (bolt) for embedded backends.
	Path string `yaml:"path"`
	// PostgresDSN is used by the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemory(), nil
	case "leveldb":
		return OpenLevelDB(cfg.Path)
	case "bolt":
		return OpenBolt(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
