package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

const quarantineKey = "admin:inconsistent"

// Quarantine tracks resources blocked until reconciled.
type Quarantine interface {
	Mark(ctx context.Context, m Mark) error
	Get(ctx context.Context, resourceID string) (Mark, bool, error)
	Clear(ctx context.Context, resourceID string) error
	List(ctx context.Context) ([]Mark, error)
}

// RedisQuarantine keeps marks in one Redis hash keyed by resource id.
type RedisQuarantine struct {
	client *redis.Client
}

// NewRedisQuarantine constructs a RedisQuarantine.
func NewRedisQuarantine(client *redis.Client) *RedisQuarantine {
	return &RedisQuarantine{client: client}
}

// Mark implements Quarantine. The first mark for a resource wins.
func (q *RedisQuarantine) Mark(ctx context.Context, m Mark) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("actions: encode mark: %w", err)
	}
	if err := q.client.HSetNX(ctx, quarantineKey, m.ResourceID, data).Err(); err != nil {
		return fmt.Errorf("actions: mark %s: %w", m.ResourceID, err)
	}
	return nil
}

// Get implements Quarantine.
func (q *RedisQuarantine) Get(ctx context.Context, resourceID string) (Mark, bool, error) {
	raw, err := q.client.HGet(ctx, quarantineKey, resourceID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Mark{}, false, nil
		}
		return Mark{}, false, fmt.Errorf("actions: read mark %s: %w", resourceID, err)
	}
	var m Mark
	if err := json.Unmarshal(raw, &m); err != nil {
		return Mark{}, false, fmt.Errorf("actions: decode mark: %w", err)
	}
	return m, true, nil
}

// Clear implements Quarantine.
func (q *RedisQuarantine) Clear(ctx context.Context, resourceID string) error {
	if err := q.client.HDel(ctx, quarantineKey, resourceID).Err(); err != nil {
		return fmt.Errorf("actions: clear mark %s: %w", resourceID, err)
	}
	return nil
}

// List implements Quarantine.
func (q *RedisQuarantine) List(ctx context.Context) ([]Mark, error) {
	all, err := q.client.HGetAll(ctx, quarantineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("actions: list marks: %w", err)
	}
	marks := make([]Mark, 0, len(all))
	for _, raw := range all {
		var m Mark
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("actions: decode mark: %w", err)
		}
		marks = append(marks, m)
	}
	sortMarks(marks)
	return marks, nil
}

// MemoryQuarantine is an in-process Quarantine.
type MemoryQuarantine struct {
	mu    sync.Mutex
	marks map[string]Mark
}

// NewMemoryQuarantine constructs an empty MemoryQuarantine.
func NewMemoryQuarantine() *MemoryQuarantine {
	return &MemoryQuarantine{marks: make(map[string]Mark)}
}

// Mark implements Quarantine.
func (q *MemoryQuarantine) Mark(ctx context.Context, m Mark) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.marks[m.ResourceID]; !ok {
		q.marks[m.ResourceID] = m
	}
	return nil
}

// Get implements Quarantine.
func (q *MemoryQuarantine) Get(ctx context.Context, resourceID string) (Mark, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.marks[resourceID]
	return m, ok, nil
}

// Clear implements Quarantine.
func (q *MemoryQuarantine) Clear(ctx context.Context, resourceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.marks, resourceID)
	return nil
}

// List implements Quarantine.
func (q *MemoryQuarantine) List(ctx context.Context) ([]Mark, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	marks := make([]Mark, 0, len(q.marks))
	for _, m := range q.marks {
		marks = append(marks, m)
	}
	sortMarks(marks)
	return marks, nil
}

func sortMarks(marks []Mark) {
	sort.Slice(marks, func(i, j int) bool {
		if marks[i].At.Equal(marks[j].At) {
			return marks[i].ResourceID < marks[j].ResourceID
		}
		return marks[i].At.Before(marks[j].At)
	})
}

var (
	_ Quarantine = (*RedisQuarantine)(nil)
	_ Quarantine = (*MemoryQuarantine)(nil)
)
