package runner

import (
	"context"
	"sync"
	"time"
	"trade_pilot/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock single-flight на цикл инструмента. release вызывается только при ok=true.
type Lock interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// LocalLock в пределах процесса.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLock) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false, nil
	}
	return m.Unlock, true, nil
}

// снимаем только свой лок
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock SET NX PX: между несколькими процессами на одном аккаунте.
// TTL должен перекрывать самый долгий цикл.
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{client: client, prefix: "trade_pilot:", ttl: ttl}
}

func (l *RedisLock) TryLock(ctx context.Context, key string) (func(), bool, error) {
	key = l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			logger.Warn("[LOCK] release %s: %v", key, err)
		}
	}
	return release, true, nil
}
