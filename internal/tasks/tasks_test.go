package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyString(t *testing.T) {
	cases := []struct {
		key  Key
		want string
	}{
		{Key{Kind: KindBattleTimeout, BattleID: "b1"}, "task:timeout:b1"},
		{Key{Kind: KindGeneration, BattleID: "b1", SubmissionID: "s1"}, "task:gen:b1:s1"},
		{Key{Kind: KindJudging, BattleID: "b2"}, "task:judge:b2"},
	}
	for _, c := range cases {
		if got := c.key.String(); got != c.want {
			t.Errorf("Key.String() = %q, want %q", got, c.want)
		}
	}
}

func TestMemoryLockerDedupes(t *testing.T) {
	l := NewMemoryLocker()
	if !l.Acquire("k", time.Minute) {
		t.Fatal("expected first acquire to succeed")
	}
	if l.Acquire("k", time.Minute) {
		t.Fatal("expected second acquire to fail while held")
	}
	l.Release("k")
	if !l.Acquire("k", time.Minute) {
		t.Fatal("expected acquire after release to succeed")
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	if !l.Acquire("k", 10*time.Millisecond) {
		t.Fatal("expected acquire to succeed")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Acquire("k", time.Minute) {
		t.Fatal("expected acquire after ttl expiry to succeed")
	}
}

func TestRunnerDropsExpiredTask(t *testing.T) {
	r := NewRunner(NewMemoryLocker())
	queued := r.Schedule(
		Key{Kind: KindBattleTimeout, BattleID: "b1"},
		0,
		time.Now().Add(-time.Second),
		func(context.Context) error { t.Fatal("expired task must not run"); return nil },
	)
	if queued {
		t.Fatal("expected expired task to be dropped at schedule time")
	}
}

func TestRunnerDedupesOnKey(t *testing.T) {
	r := NewRunner(NewMemoryLocker())
	var runs atomic.Int32
	key := Key{Kind: KindJudging, BattleID: "b1"}
	fn := func(context.Context) error {
		runs.Add(1)
		return nil
	}

	first := r.Schedule(key, 0, time.Now().Add(time.Minute), fn)
	second := r.Schedule(key, 0, time.Now().Add(time.Minute), fn)
	if !first {
		t.Fatal("expected first schedule to queue")
	}
	if second {
		t.Fatal("expected duplicate schedule to be rejected")
	}

	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("task ran %d times, want 1", got)
	}
}

func TestRunnerDistinctSubmissionsDoNotCollide(t *testing.T) {
	r := NewRunner(NewMemoryLocker())
	expiry := time.Now().Add(time.Minute)
	a := r.Schedule(Key{Kind: KindGeneration, BattleID: "b1", SubmissionID: "s1"}, time.Hour, expiry, func(context.Context) error { return nil })
	b := r.Schedule(Key{Kind: KindGeneration, BattleID: "b1", SubmissionID: "s2"}, time.Hour, expiry, func(context.Context) error { return nil })
	if !a || !b {
		t.Fatalf("expected both submissions to queue independently, got %v %v", a, b)
	}
}

func TestRunnerRetriesThenReleases(t *testing.T) {
	locker := NewMemoryLocker()
	r := NewRunner(locker)
	r.Backoff = time.Millisecond
	key := Key{Kind: KindGeneration, BattleID: "b1", SubmissionID: "s1"}

	var attempts atomic.Int32
	r.Schedule(key, 0, time.Now().Add(time.Minute), func(context.Context) error {
		attempts.Add(1)
		return context.DeadlineExceeded
	})

	deadline := time.Now().Add(time.Second)
	for attempts.Load() < int32(r.MaxAttempts) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := attempts.Load(); got != int32(r.MaxAttempts) {
		t.Fatalf("task attempted %d times, want %d", got, r.MaxAttempts)
	}

	// Exhaustion releases the key so a sweeper pass can requeue.
	time.Sleep(20 * time.Millisecond)
	if !locker.Acquire(key.String(), time.Minute) {
		t.Fatal("expected key to be released after retries were exhausted")
	}
}
