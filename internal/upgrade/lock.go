package upgrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
)

// DeviceLock serializes software downloads per device.
type DeviceLock interface {
	// Acquire blocks until key is held or ctx is done. The returned func
	// releases the lock.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type localLock struct {
	km *kmutex.Kmutex
}

// NewLocalLock returns an in-process DeviceLock.
func NewLocalLock() DeviceLock {
	return &localLock{km: kmutex.New()}
}

func (l *localLock) Acquire(ctx context.Context, key string) (func(), error) {
	acquired := make(chan struct{})
	go func() {
		l.km.Lock(key)
		close(acquired)
	}()
	select {
	case <-acquired:
		return func() { l.km.Unlock(key) }, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			l.km.Unlock(key)
		}()
		return nil, ctx.Err()
	}
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// refreshScript extends the lock only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

type redisLock struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisLock returns a DeviceLock shared by every process using client.
// A live holder refreshes the lock every ttl/3 for as long as it holds it;
// a holder that dies releases it after ttl.
func NewRedisLock(client *redis.Client, ttl time.Duration) DeviceLock {
	return &redisLock{client: client, ttl: ttl, poll: time.Second}
}

func (l *redisLock) Acquire(ctx context.Context, key string) (func(), error) {
	k := "panupgrade:download:" + key
	token := uuid.New().String()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire device lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(k, token, stop, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					_ = releaseScript.Run(context.Background(), l.client, []string{k}, token).Err()
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *redisLock) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := l.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			_ = refreshScript.Run(context.Background(), l.client, []string{key}, token, l.ttl.Milliseconds()).Err()
		}
	}
}
