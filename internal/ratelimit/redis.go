package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps admissions in one sorted set per key, scored by Unix
// microseconds. It lets several server processes share a rate limit. The
// check and the record are separate round trips, so two processes can still
// both admit a caller at the threshold.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using client. Keys are namespaced under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient parses url (redis://...) and falls back to treating it as a
// plain host:port address.
func NewRedisClient(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return redis.NewClient(opts)
}

// Count implements [Store].
func (s *RedisStore) Count(ctx context.Context, key string, cutoff time.Time) (int, error) {
	k := s.prefix + key
	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff.UnixMicro(), 10))
		card = p.ZCard(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis: prune %q: %w", k, err)
	}
	return int(card.Val()), nil
}

// Record implements [Store].
func (s *RedisStore) Record(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	k := s.prefix + key
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMicro()), Member: uuid.NewString()})
		p.PExpire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: record %q: %w", k, err)
	}
	return nil
}

// Ping checks connectivity; used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
