package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// runLocker serialises evaluation batches on one run. A second batch waits
// until the first has persisted its last essay, so it is compared against
// everything the first one added to the corpus.
type runLocker interface {
	acquire(ctx context.Context, runID uint) (release func(), err error)
}

// batchLocks holds the in-process lock and, when redis is configured, a
// lock shared by every API replica.
type batchLocks struct {
	local  *localRunLocks
	remote *redisRunLock
}

func newBatchLocks(client *redis.Client, ttl time.Duration) *batchLocks {
	locks := &batchLocks{local: newLocalRunLocks()}
	if client != nil {
		locks.remote = &redisRunLock{client: client, ttl: ttl, retry: 200 * time.Millisecond}
	}
	return locks
}

func (l *batchLocks) acquire(ctx context.Context, runID uint) (func(), error) {
	releaseLocal, err := l.local.acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	if l.remote == nil {
		return releaseLocal, nil
	}

	releaseRemote, err := l.remote.acquire(ctx, runID)
	if err != nil {
		releaseLocal()
		return nil, err
	}
	return func() {
		releaseRemote()
		releaseLocal()
	}, nil
}

type localRunLocks struct {
	mu    sync.Mutex
	slots map[uint]*runSlot
}

type runSlot struct {
	held  chan struct{}
	users int
}

func newLocalRunLocks() *localRunLocks {
	return &localRunLocks{slots: make(map[uint]*runSlot)}
}

func (l *localRunLocks) acquire(ctx context.Context, runID uint) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[runID]
	if !ok {
		slot = &runSlot{held: make(chan struct{}, 1)}
		l.slots[runID] = slot
	}
	slot.users++
	l.mu.Unlock()

	select {
	case slot.held <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.held
				l.leave(runID, slot)
			})
		}, nil
	case <-ctx.Done():
		l.leave(runID, slot)
		return nil, ctx.Err()
	}
}

func (l *localRunLocks) leave(runID uint, slot *runSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.users--
	if slot.users == 0 {
		delete(l.slots, runID)
	}
}

// releaseRunLock deletes the key only while it still carries our token, so
// an expired holder cannot free a lock taken over by another replica.
var releaseRunLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRunLock struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func runLockKey(runID uint) string {
	return fmt.Sprintf("essay:run:%d:batch-lock", runID)
}

func (l *redisRunLock) acquire(ctx context.Context, runID uint) (func(), error) {
	key := runLockKey(runID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock run %d: %w", runID, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// The batch context may already be cancelled; unlock regardless.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseRunLock.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
