// Package blob stores uploaded document binaries and issues short-lived
// signed URLs for them. The pipeline never hands out raw storage keys; OCR
// and the review surface both consume expiring signed references.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the object-storage boundary for document payloads.
type Store interface {
	// Put writes the payload under key. Keys are opaque paths owned by the
	// caller; writing an existing key fails rather than overwriting.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open returns the payload for key, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the payload for key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
	// SignedURL mints a fresh, expiring URL for key. References expire, so
	// callers regenerate one per attempt instead of caching.
	SignedURL(key string, ttl time.Duration) (string, error)
}
