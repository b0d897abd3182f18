// Package tasks runs deferred background work (generation, judging,
// per-battle timeouts, reveal-to-complete) with typed idempotency keys so a
// redundant trigger or a retry never executes the same task twice.
package tasks

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	rdbPkg "github.com/promptclash/promptclash-backend/pkg/redis"
)

type Kind string

const (
	KindGeneration    Kind = "gen"
	KindJudging       Kind = "judge"
	KindBattleTimeout Kind = "timeout"
	KindComplete      Kind = "complete"
	KindAgentSubmit   Kind = "agent"
)

// Key identifies one logical task. Building the dedupe string from typed
// fields keeps ad hoc formatting from silently colliding.
type Key struct {
	Kind         Kind
	BattleID     string
	SubmissionID string
}

func (k Key) String() string {
	s := "task:" + string(k.Kind) + ":" + k.BattleID
	if k.SubmissionID != "" {
		s += ":" + k.SubmissionID
	}
	return s
}

// Locker claims an idempotency key for a bounded window. A claim that
// fails means another instance already queued the same task.
type Locker interface {
	Acquire(key string, ttl time.Duration) bool
	Release(key string)
}

type RedisLocker struct {
	Rdb *redis.Client
}

func (l *RedisLocker) Acquire(key string, ttl time.Duration) bool {
	ok, err := l.Rdb.SetNX(rdbPkg.Ctx, key, 1, ttl).Result()
	if err != nil {
		log.Printf("Failed to acquire task key %s: %v", key, err)
		return false
	}
	return ok
}

func (l *RedisLocker) Release(key string) {
	l.Rdb.Del(rdbPkg.Ctx, key)
}

// MemoryLocker is a process-local Locker for tests and single-node runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time)}
}

func (l *MemoryLocker) Acquire(key string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[key]; ok && time.Now().Before(until) {
		return false
	}
	l.held[key] = time.Now().Add(ttl)
	return true
}

func (l *MemoryLocker) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// Scheduler is what coordinator code depends on; Runner implements it.
type Scheduler interface {
	// Schedule queues fn to run after delay. The task is dropped as stale
	// if expiry has passed by the time it fires, and deduped on key until
	// expiry. Reports whether the task was newly queued.
	Schedule(key Key, delay time.Duration, expiry time.Time, fn func(context.Context) error) bool
}

type Runner struct {
	Locker Locker
	// Hard per-attempt wall-clock budget.
	Budget time.Duration
	// Bounded retries with linear backoff.
	MaxAttempts int
	Backoff     time.Duration
}

func NewRunner(locker Locker) *Runner {
	return &Runner{
		Locker:      locker,
		Budget:      60 * time.Second,
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
	}
}

func (r *Runner) Schedule(key Key, delay time.Duration, expiry time.Time, fn func(context.Context) error) bool {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		log.Printf("Dropping already-expired task %s", key)
		return false
	}
	if !r.Locker.Acquire(key.String(), ttl) {
		return false
	}
	time.AfterFunc(delay, func() {
		if time.Now().After(expiry) {
			log.Printf("Dropping stale task %s", key)
			return
		}
		r.run(key, expiry, fn)
	})
	return true
}

func (r *Runner) run(key Key, expiry time.Time, fn func(context.Context) error) {
	var err error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if time.Now().After(expiry) {
			log.Printf("Abandoning stale task %s after %d attempts", key, attempt-1)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.Budget)
		err = fn(ctx)
		cancel()
		if err == nil {
			return
		}
		log.Printf("Task %s attempt %d failed: %v", key, attempt, err)
		if attempt < r.MaxAttempts {
			time.Sleep(time.Duration(attempt) * r.Backoff)
		}
	}
	// Exhausted. Release the key so a sweeper retry can requeue the task.
	r.Locker.Release(key.String())
	log.Printf("Task %s exhausted retries: %v", key, err)
}
