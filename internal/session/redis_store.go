package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dateapp/dateapp-admin/internal/shared"
)

const defaultKeyPrefix = "admin:session:"

// RedisStore keeps the session table in Redis. Each record lives under
// prefix+digest with a TTL of expiry plus retention, so expired and revoked
// sessions stay readable long enough to report the right error kind.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{client: client, prefix: defaultKeyPrefix, retention: retention}
}

// Create stores a fresh record.
func (s *RedisStore) Create(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.redisKey(key), data, s.ttlFor(rec, rec.CreatedAt)).Result()
	if err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	if !ok {
		return fmt.Errorf("session: create: token collision")
	}
	return nil
}

// Get loads a record.
func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, shared.ErrSessionNotFound
		}
		return Record{}, fmt.Errorf("session: get: %w", err)
	}
	return decodeRecord(raw)
}

// Rotate implements Store using WATCH/MULTI on the old key.
func (s *RedisStore) Rotate(ctx context.Context, oldKey, newKey string, next func(old Record) (Record, error)) (Record, error) {
	var issued Record
	watched := s.redisKey(oldKey)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, watched).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return shared.ErrSessionNotFound
			}
			return err
		}
		old, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		issued, err = next(old)
		if err != nil {
			return err
		}
		revokedAt := issued.CreatedAt
		old.Revoked = true
		old.RevokedAt = &revokedAt
		oldData, err := json.Marshal(old)
		if err != nil {
			return err
		}
		newData, err := json.Marshal(issued)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, watched, oldData, redis.KeepTTL)
			pipe.Set(ctx, s.redisKey(newKey), newData, s.ttlFor(issued, issued.CreatedAt))
			return nil
		})
		return err
	}
	if err := s.client.Watch(ctx, txf, watched); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer touched the old key first; the only writes are revocations.
			return Record{}, shared.ErrSessionRevoked
		}
		if isSessionError(err) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("session: rotate: %w", err)
	}
	return issued, nil
}

// Revoke implements Store.
func (s *RedisStore) Revoke(ctx context.Context, key string, at time.Time) error {
	watched := s.redisKey(key)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, watched).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if rec.Revoked {
			return nil
		}
		rec.Revoked = true
		rec.RevokedAt = &at
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, watched, data, redis.KeepTTL)
			return nil
		})
		return err
	}
	err := s.client.Watch(ctx, txf, watched)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// Sweep implements Store by scanning the prefix.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("session: sweep get: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return removed, err
		}
		if now.Before(rec.ExpiresAt.Add(s.retention)) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("session: sweep del: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("session: sweep scan: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) ttlFor(rec Record, now time.Time) time.Duration {
	ttl := rec.ExpiresAt.Add(s.retention).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("session: decode record: %w", err)
	}
	return rec, nil
}

func isSessionError(err error) bool {
	return errors.Is(err, shared.ErrSessionNotFound) ||
		errors.Is(err, shared.ErrSessionExpired) ||
		errors.Is(err, shared.ErrSessionRevoked)
}

var _ Store = (*RedisStore)(nil)
