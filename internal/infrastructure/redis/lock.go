package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix   = "finmirror:item-lock:"
	releaseTimeout  = 3 * time.Second
	DefaultLeaseTTL = 10 * time.Minute
)

// releaseScript deletes the lock only if it still carries our token, so a
// holder whose lease expired cannot release someone else's lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still carries our token.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ItemLocker is a lease-based per-item lock shared by every API replica.
// While held, the lease is renewed every ttl/3; it outlives its holder by at
// most ttl if the process dies mid-sync.
type ItemLocker struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewItemLocker(client *goredis.Client, ttl time.Duration) *ItemLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &ItemLocker{client: client, ttl: ttl}
}

// TryLock acquires the lease for itemID with SET NX PX. ok is false when
// another holder has it.
func (l *ItemLocker) TryLock(ctx context.Context, itemID string) (func(), bool, error) {
	key := lockKeyPrefix + itemID
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock for item %s: %w", itemID, err)
	}
	if !acquired {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, itemID, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done

			// the caller's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				log.Printf("ItemLocker: failed to release lock for item %s: %v", itemID, err)
			}
		})
	}
	return unlock, true, nil
}

// keepAlive renews the lease until stop is closed or the lease is lost.
func (l *ItemLocker) keepAlive(key, token, itemID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			renewed, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Printf("ItemLocker: failed to renew lock for item %s: %v", itemID, err)
				continue
			}
			if renewed == 0 {
				log.Printf("ItemLocker: lost lock for item %s", itemID)
				return
			}
		}
	}
}
