// Package kvstore provides the string key-value store the roulette engine persists into.
//
// Values are opaque strings (the engine stores JSON). Update is an atomic
// read-modify-write: every backend detects concurrent writers and retries.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned when Update could not commit after MaxUpdateRetries attempts.
	ErrConflict = errors.New("kvstore: update conflict")
	// ErrClosed is returned by a store that has already been closed.
	ErrClosed = errors.New("kvstore: store closed")
)

// MaxUpdateRetries bounds the compare-and-swap loop of Update.
const MaxUpdateRetries = 5

// UpdateFunc receives the current value (found=false when the key is absent)
// and returns the value to write. A returned error aborts the update unchanged.
// It may be called more than once.
type UpdateFunc func(current string, found bool) (string, error)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
