// Package blob abstracts the object store holding saved-article HTML.
// Keys are slash-separated paths; there is no referential integrity with
// the relational store, so callers issue deletes explicitly.
package blob

import "context"

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the object bytes, or apperror.ErrNotFound if the key
	// does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
}
