package store

import (
	"context"
	"time"

	internalerrors "github.com/jrsteele09/go-sso-session/internal/errors"
)

// ErrNotFound is returned by KeyValue.Get when the key is absent or expired.
var ErrNotFound = internalerrors.ErrNotFound

// KeyValue is the persistence contract the session core is built on.
// Implementations range from an in-memory map to an encrypted file or redis;
// the core never assumes anything beyond these three operations.
type KeyValue interface {
	// Get returns the value for key, or ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl greater than zero expires the entry;
	// zero or negative means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
