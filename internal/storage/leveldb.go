package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is a persistent backend on an embedded LevelDB directory.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB creates or opens a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb: path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb open %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set writes synchronously so an acknowledged operation survives a crash.
func (l *LevelDB) Set(_ context.Context, key string, value []byte) error {
	return l.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
