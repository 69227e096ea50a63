package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/dateapp/dateapp-admin/internal/shared"
)

// MemoryStore is an in-process Store for tests and the memory driver.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Seq = int64(len(s.entries)) + 1
	e.Meta = cloneMeta(e.Meta)
	s.entries = append(s.entries, e)
	return e, nil
}

// Page implements Store.
func (s *MemoryStore) Page(ctx context.Context, f Filter, afterSeq int64, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Seq > afterSeq })
	out := make([]Entry, 0, limit)
	for _, e := range s.entries[start:] {
		if len(out) == limit {
			break
		}
		if f.Matches(e) {
			e.Meta = cloneMeta(e.Meta)
			out = append(out, e)
		}
	}
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, seq int64) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 1 || seq > int64(len(s.entries)) {
		return Entry{}, shared.ErrNotFound
	}
	e := s.entries[seq-1]
	e.Meta = cloneMeta(e.Meta)
	return e, nil
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
