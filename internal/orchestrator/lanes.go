package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises turns of one conversation. Acquire blocks until the lane
// for key is free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLanes is an in-process keyed mutex. Lanes are reference counted and
// removed once no turn holds or waits on them.
type LocalLanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	slot chan struct{}
	refs int
}

// NewLocalLanes creates an empty lane set.
func NewLocalLanes() *LocalLanes {
	return &LocalLanes{lanes: make(map[string]*lane)}
}

// Acquire implements Locker.
func (l *LocalLanes) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{slot: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	select {
	case ln.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, ln)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-ln.slot
			l.unref(key, ln)
		})
	}, nil
}

func (l *LocalLanes) unref(key string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
}

// Len reports how many lanes are currently tracked.
func (l *LocalLanes) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

var releaseLaneScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLanes is a distributed lane built on SET NX PX with a random token.
// Only the holder of the token can release the lane.
type RedisLanes struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLanes creates a distributed locker. ttl bounds how long a crashed
// holder can block the lane.
func NewRedisLanes(client *redis.Client, ttl time.Duration) *RedisLanes {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLanes{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Acquire implements Locker.
func (r *RedisLanes) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := "orderdesk:lane:" + key
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseLaneScript.Run(ctx, r.client, []string{lockKey}, token).Err()
		})
	}, nil
}

// ChainLockers acquires every locker in order and releases them in reverse.
type ChainLockers []Locker

// Acquire implements Locker.
func (c ChainLockers) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		rel, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}
