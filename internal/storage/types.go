package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "file" (default), "sqlite"/"sqlite3", "postgres", "memory".
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the campaign repository.
//
// Save replaces the whole record for code. Delete of an absent code is a no-op.
// Implementations must be safe for concurrent use.
type Store interface {
	LoadAll(ctx context.Context) (map[string][]byte, error)
	Save(ctx context.Context, code string, data []byte) error
	Delete(ctx context.Context, code string) error
	Close() error
}
