package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisBackend stores each lock as a key holding the owner's token with a
// PX expiry.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis SET NX failed")
	}
	return ok, nil
}

func (b *RedisBackend) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, b.client, []string{key}, token).Int64()
	if err != nil {
		return errors.Wrap(err, "redis release failed")
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
