package faststore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable wraps transport-level failures talking to the store.
	ErrUnavailable = errors.New("fast store unavailable")
	// ErrConflict is returned when an optimistic transaction lost its
	// watch and none of its queued writes took effect.
	ErrConflict = errors.New("fast store transaction conflict")
)

// Store is a thin capability layer over the in-memory key-value store.
// It exposes exactly the primitives the checkout core needs and performs
// no retries; retry policy belongs to the caller.
type Store struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying connection for callers that need raw
// pipeline access (bulk hydration).
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping probes store availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the string value and whether the key exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err)
	}
	return val, true, nil
}

// Set writes a value with an optional TTL (0 = no expiry).
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return wrapErr(s.client.Set(ctx, key, value, ttl).Err())
}

// SetIfAbsent performs SET NX with a TTL and reports whether the key was claimed.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

// IncrBy atomically increments an integer counter.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, delta).Result()
	return val, wrapErr(err)
}

// DecrBy atomically decrements an integer counter.
func (s *Store) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	val, err := s.client.DecrBy(ctx, key, delta).Result()
	return val, wrapErr(err)
}

// HashGetAll returns all fields of a hash; an absent key yields an empty map.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return fields, nil
}

// HashSetMulti writes multiple fields of a hash in one round trip.
func (s *Store) HashSetMulti(ctx context.Context, key string, fields map[string]interface{}) error {
	return wrapErr(s.client.HSet(ctx, key, fields).Err())
}

// SetAdd adds members to a set.
func (s *Store) SetAdd(ctx context.Context, key string, members ...interface{}) error {
	return wrapErr(s.client.SAdd(ctx, key, members...).Err())
}

// SetRemove removes members from a set.
func (s *Store) SetRemove(ctx context.Context, key string, members ...interface{}) error {
	return wrapErr(s.client.SRem(ctx, key, members...).Err())
}

// SetCard returns the cardinality of a set.
func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	return n, wrapErr(err)
}

// SortedSetAdd adds a scored member to a sorted set.
func (s *Store) SortedSetAdd(ctx context.Context, key, member string, score float64) error {
	return wrapErr(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// SortedSetRemove removes members from a sorted set.
func (s *Store) SortedSetRemove(ctx context.Context, key string, members ...interface{}) error {
	return wrapErr(s.client.ZRem(ctx, key, members...).Err())
}

// SortedSetRangeByScore returns up to limit members with scores in [min, max].
func (s *Store) SortedSetRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   formatScore(max),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return members, nil
}

// KeysMatching lists keys by glob pattern. Acceptable here because the
// keyspace per pattern is small (one entry per product).
func (s *Store) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return keys, nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return wrapErr(s.client.Del(ctx, keys...).Err())
}

// Txn runs fn inside an optimistic WATCH transaction over the given keys.
// Reads inside fn see a consistent window; writes must be queued via
// tx.TxPipelined. If any watched key changes before commit the queued
// writes are discarded and Txn returns ErrConflict.
func (s *Store) Txn(ctx context.Context, watched []string, fn func(tx *redis.Tx) error) error {
	err := s.client.Watch(ctx, fn, watched...)
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return wrapErr(err)
}

// HashGetAllMulti pipelines HGETALL for many keys and returns a map keyed
// by the input key. Absent keys are skipped.
func (s *Store) HashGetAllMulti(ctx context.Context, keys []string) (map[string]map[string]string, error) {
	if len(keys) == 0 {
		return map[string]map[string]string{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, wrapErr(err)
	}

	out := make(map[string]map[string]string, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out[keys[i]] = fields
	}
	return out, nil
}

func wrapErr(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func formatScore(score float64) string {
	return fmt.Sprintf("%f", score)
}
