package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// beginScript returns the stored value, or claims the key with the pending
// marker for the lease (ARGV[2] ms) and returns nil.
var beginScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
	return v
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return false
`)

// abortScript deletes the key only while it still holds the pending marker.
var abortScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps idempotency records in Redis so every API replica sees
// the same claims.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
	lease  time.Duration
}

// NewRedisStore creates a RedisStore. Completed outcomes live for ttl (a
// non-positive ttl uses DefaultTTL); pending claims live for the lease.
func NewRedisStore(client redis.Cmdable, ttl time.Duration, opts ...Option) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := buildOptions(opts)
	return &RedisStore{client: client, ttl: ttl, lease: o.lease}
}

// Begin implements Store.
func (s *RedisStore) Begin(ctx context.Context, key string) (*Response, error) {
	v, err := beginScript.Run(ctx, s.client, []string{key}, pendingMarker, s.lease.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim idempotency key")
	}
	return decode(v)
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key string, resp Response) error {
	if err := s.client.Set(ctx, key, encode(resp), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "store idempotent response")
	}
	return nil
}

// Abort implements Store.
func (s *RedisStore) Abort(ctx context.Context, key string) error {
	if err := abortScript.Run(ctx, s.client, []string{key}, pendingMarker).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
