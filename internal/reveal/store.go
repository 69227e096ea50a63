package reveal

import (
	"context"
	"time"
)

// Mutation tells a GrantStore what to do with the grant after an update callback.
type Mutation int

const (
	// Keep leaves the stored grant untouched.
	Keep Mutation = iota
	// Write stores the modified grant.
	Write
	// Delete removes the grant.
	Delete
)

// GrantStore is the per-(session, resource) grant table.
type GrantStore interface {
	// Put replaces any grant for the pair.
	Put(ctx context.Context, g Grant) error
	// Update runs fn against the current grant and applies its mutation
	// atomically; a concurrent writer makes fn rerun on fresh state. The
	// mutation is applied even when fn also returns an error, which is then
	// returned. A missing grant yields shared.ErrGrantNotFound.
	Update(ctx context.Context, sessionID, resourceID string, fn func(g *Grant) (Mutation, error)) (Grant, error)
	Delete(ctx context.Context, sessionID, resourceID string) error
	// Sweep removes grants whose expiry plus retention has passed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
