package reveal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dateapp/dateapp-admin/internal/shared"
)

const (
	grantKeyPrefix   = "admin:reveal:"
	maxUpdateRetries = 8
)

// RedisGrantStore keeps grants under admin:reveal:<session>:<resource> and
// serialises updates with WATCH/MULTI.
type RedisGrantStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisGrantStore constructs a RedisGrantStore. Grants stay readable for
// retention after expiry so late confirms report GrantExpired.
func NewRedisGrantStore(client *redis.Client, retention time.Duration) *RedisGrantStore {
	if retention < 0 {
		retention = 0
	}
	return &RedisGrantStore{client: client, retention: retention}
}

// Put implements GrantStore.
func (s *RedisGrantStore) Put(ctx context.Context, g Grant) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("reveal: encode grant: %w", err)
	}
	if err := s.client.Set(ctx, grantKey(g.SessionID, g.ResourceID), data, s.ttlFor(g, g.CreatedAt)).Err(); err != nil {
		return fmt.Errorf("reveal: put grant: %w", err)
	}
	return nil
}

// Update implements GrantStore.
func (s *RedisGrantStore) Update(ctx context.Context, sessionID, resourceID string, fn func(g *Grant) (Mutation, error)) (Grant, error) {
	key := grantKey(sessionID, resourceID)
	var (
		result Grant
		fnErr  error
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return shared.ErrGrantNotFound
			}
			return err
		}
		var g Grant
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("reveal: decode grant: %w", err)
		}
		mutation, err := fn(&g)
		result, fnErr = g, err
		switch mutation {
		case Write:
			data, err := json.Marshal(g)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, redis.KeepTTL)
				return nil
			})
			return err
		case Delete:
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}
		return nil
	}
	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, shared.ErrGrantNotFound) {
				return Grant{}, err
			}
			return Grant{}, fmt.Errorf("reveal: update grant: %w", err)
		}
		return result, fnErr
	}
	return Grant{}, fmt.Errorf("reveal: update grant: %w", redis.TxFailedErr)
}

// Delete implements GrantStore.
func (s *RedisGrantStore) Delete(ctx context.Context, sessionID, resourceID string) error {
	if err := s.client.Del(ctx, grantKey(sessionID, resourceID)).Err(); err != nil {
		return fmt.Errorf("reveal: delete grant: %w", err)
	}
	return nil
}

// Sweep implements GrantStore.
func (s *RedisGrantStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, grantKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("reveal: sweep get: %w", err)
		}
		var g Grant
		if err := json.Unmarshal(raw, &g); err != nil {
			return removed, fmt.Errorf("reveal: decode grant: %w", err)
		}
		if now.Before(g.ExpiresAt.Add(s.retention)) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("reveal: sweep del: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("reveal: sweep scan: %w", err)
	}
	return removed, nil
}

func (s *RedisGrantStore) ttlFor(g Grant, now time.Time) time.Duration {
	ttl := g.ExpiresAt.Add(s.retention).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func grantKey(sessionID, resourceID string) string {
	return grantKeyPrefix + sessionID + ":" + resourceID
}

var _ GrantStore = (*RedisGrantStore)(nil)
