package audit

import "context"

// Store persists entries. Append assigns the next sequence number; appends
// are totally ordered and a committed entry is visible to every later Page.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	Page(ctx context.Context, f Filter, afterSeq int64, limit int) ([]Entry, error)
	Get(ctx context.Context, seq int64) (Entry, error)
}
