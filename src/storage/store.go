// Package storage wraps the eventually-consistent object store that the
// agent uses as its only coordination medium. There is no compare-and-swap;
// every higher-level protocol achieves idempotency by overwriting at a
// deterministic key, never by read-modify-write.
package storage

import (
	"context"
	"fmt"
)

// Store is the object store contract. Put is at-least-once durable on
// success. List reflects an eventually-consistent snapshot: it may lag a
// recent Put, and repeated calls may return duplicates, so callers must
// tolerate both.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// NotFoundError is returned by Get when no object exists at the path.
type NotFoundError struct {
	Path string
}

// Error ...
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object not found: %s", e.Path)
}

// IsNotFound checks whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
