// Package cache persists the local message lists between runs.
package cache

import (
	"errors"
	"fmt"
)

// Backend is a string-keyed persistent store.
type Backend interface {
	// Get returns the value for key and whether it exists.
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Supported backend kinds.
const (
	KindSQLite = "sqlite"
	KindBolt   = "bolt"
)

// ErrUnknownBackend is returned by Open for an unsupported kind.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Open opens the backend of the given kind at path.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", KindSQLite:
		return OpenSQLite(path)
	case KindBolt:
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}
