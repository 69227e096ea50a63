package session

import (
	"context"
	"time"
)

// Store persists session records keyed by token digest. Implementations must
// make Rotate a single compare-and-swap on the old key.
type Store interface {
	Create(ctx context.Context, key string, rec Record) error
	// Get returns shared.ErrSessionNotFound when the key is unknown.
	Get(ctx context.Context, key string) (Record, error)
	// Rotate loads oldKey, lets next validate it and build the replacement, then
	// atomically marks the old record revoked and stores the replacement under newKey.
	// A concurrent writer on oldKey makes Rotate fail with shared.ErrSessionRevoked.
	Rotate(ctx context.Context, oldKey, newKey string, next func(old Record) (Record, error)) (Record, error)
	// Revoke marks the record revoked. Unknown or already revoked keys are not an error.
	Revoke(ctx context.Context, key string, at time.Time) error
	// Sweep deletes records whose expiry plus retention is not after now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
