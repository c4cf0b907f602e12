package storage

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrInvalidKey = errors.New("invalid storage key")
)

// Config configures storage.
//
// Driver values:
//   - "file": one JSON document per key under Path (a directory)
//   - "sqlite": SQLite database file at Path
//   - "memory": process-local map, nothing survives a restart
//
// An empty Driver means "file".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is a small key-value API. Values are opaque documents; callers own
// their encoding.
type Store interface {
	// Get returns (nil, false, nil) when the key was never written.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// ValidKey reports whether key is usable by every driver (it doubles as a
// file name for the file driver).
func ValidKey(key string) bool {
	return keyRe.MatchString(key) && key != "." && key != ".."
}
