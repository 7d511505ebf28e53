package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepLock keeps two sweeps of the same kind from running at once.
// TryLock never waits: ok is false when another holder has the lock.
type SweepLock interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// LocalLock serialises sweeps inside one process.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]bool)}
}

func (l *LocalLock) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLock coordinates sweeps across replicas with SET NX PX.
type RedisLock struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisLock holds each lock for at most ttl, so a crashed holder cannot
// block sweeps forever.
func NewRedisLock(client redis.Cmdable, ttl time.Duration, log *zap.Logger) *RedisLock {
	return &RedisLock{client: client, prefix: "link-service:sweep:", ttl: ttl, log: log}
}

func (r *RedisLock) TryLock(ctx context.Context, name string) (func(), bool, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sweep lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
		if err != nil {
			r.log.Warn("failed to release sweep lock", zap.String("key", key), zap.Error(err))
			return
		}
		if n == 0 {
			r.log.Warn("sweep lock expired before release", zap.String("key", key), zap.Duration("ttl", r.ttl))
		}
	}
	return release, true, nil
}
