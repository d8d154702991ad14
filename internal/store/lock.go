package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a short-lived Redis advisory lock used to serialize educator
// assignment: the conflict check and the batch write must form one
// exclusive section per educator id.
type Lock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewLock creates a locker. The TTL bounds how long a crashed holder
// can keep others out.
func NewLock(client *redis.Client, prefix string, ttl time.Duration) *Lock {
	if prefix == "" {
		prefix = "edusched:lock:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Lock{client: client, prefix: prefix, ttl: ttl, retry: 50 * time.Millisecond}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire blocks until the key is held or the context ends. The
// returned func releases the lock; only the holder's token can release
// it, so an expired-and-reacquired lock is never deleted by the old
// holder.
func (l *Lock) Acquire(ctx context.Context, key string) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				releaseScript.Run(context.Background(), l.client, []string{full}, token)
			}
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
