package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/trendwatch/internal/source"
)

type stubLocker struct {
	mu       sync.Mutex
	acquire  bool
	setErr   error
	owner    string
	ttl      time.Duration
	released []string
}

func (l *stubLocker) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.setErr != nil {
		return redis.NewBoolResult(false, l.setErr)
	}
	if l.acquire {
		l.owner, _ = value.(string)
		l.ttl = expiration
	}
	return redis.NewBoolResult(l.acquire, nil)
}

func (l *stubLocker) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, _ := args[0].(string)
	l.released = append(l.released, owner)
	if owner != l.owner {
		return redis.NewCmdResult(int64(0), nil)
	}
	l.owner = ""
	return redis.NewCmdResult(int64(1), nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestAutomaticAgentLoopSurvivesPanickingCycles(t *testing.T) {
	f := newFixture(t)
	f.store.topicPanic = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coord.AutomaticAgentLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	waitFor(t, "three cycles", func() bool { return f.store.topicListings() >= 3 })
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not return after cancel")
	}
}

func TestAutomaticAgentLoopCronWaitsForFireTime(t *testing.T) {
	f := newFixture(t)
	f.coord.cfg.Cron = "0 0 1 1 *"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.coord.AutomaticAgentLoop(ctx, time.Minute)
	if n := f.store.topicListings(); n != 0 {
		t.Fatalf("cron mode must not run before the first fire time, ran %d cycles", n)
	}
}

func TestNextWait(t *testing.T) {
	f := newFixture(t)
	f.clock = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	if got := f.coord.nextWait(nil, 7*time.Minute); got != 7*time.Minute {
		t.Fatalf("interval mode: expected 7m, got %s", got)
	}
	got := f.coord.nextWait(cronexpr.MustParse("*/5 * * * *"), time.Hour)
	if got != 4*time.Minute+30*time.Second {
		t.Fatalf("cron mode: expected 4m30s, got %s", got)
	}
}

func TestCycleOnceSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	lock := &stubLocker{}
	f.coord.locker = lock

	f.coord.cycleOnce(context.Background(), time.Minute)
	if n := f.store.topicListings(); n != 0 {
		t.Fatalf("cycle ran while another instance held the lock")
	}
	if len(lock.released) != 0 {
		t.Fatalf("released a lock it never took: %v", lock.released)
	}
}

func TestCycleOnceReleasesOnlyItsOwnLock(t *testing.T) {
	f := newFixture(t)
	lock := &stubLocker{acquire: true}
	f.coord.locker = lock

	f.coord.cycleOnce(context.Background(), time.Minute)
	if f.store.topicListings() != 1 {
		t.Fatalf("expected one cycle")
	}
	if lock.ttl != time.Minute {
		t.Fatalf("expected lock ttl 1m, got %s", lock.ttl)
	}
	if len(lock.released) != 1 || lock.released[0] == "" || lock.owner != "" {
		t.Fatalf("expected release with our owner value, got %v (owner left %q)", lock.released, lock.owner)
	}

	// the lock expired and another instance took it mid-cycle
	f.coord.locker = &stealingLocker{stubLocker: lock}
	f.coord.cycleOnce(context.Background(), time.Minute)
	if lock.owner != "other-instance" {
		t.Fatalf("another instance's lock was deleted")
	}
}

// stealingLocker hands the lock to someone else right after it is granted.
type stealingLocker struct{ *stubLocker }

func (s *stealingLocker) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	cmd := s.stubLocker.SetNX(ctx, key, value, expiration)
	s.mu.Lock()
	s.owner = "other-instance"
	s.mu.Unlock()
	return cmd
}

func TestCycleOnceRunsWhenLockUnavailable(t *testing.T) {
	f := newFixture(t)
	f.coord.locker = &stubLocker{setErr: errors.New("redis down")}

	f.coord.cycleOnce(context.Background(), time.Minute)
	if f.store.topicListings() != 1 {
		t.Fatalf("cycle must run when the lock backend errors")
	}
}

func TestNotifyLoopRetriesFailedBatch(t *testing.T) {
	f := newFixture(t)
	f.store.addSub("x@example.com", "AI")
	f.store.addTrend("AI news", "http://a.com", "AI")
	f.notifier.fail["x@example.com"] = true

	attempts := func() int {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return f.notifier.attempts
	}
	delivered := func() int {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.deliveries)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coord.NotifyLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	waitFor(t, "a failed attempt", func() bool { return attempts() >= 1 })
	f.notifier.mu.Lock()
	f.notifier.fail = map[string]bool{}
	f.notifier.mu.Unlock()
	waitFor(t, "the retried delivery", func() bool { return delivered() == 1 })
	cancel()
	<-done

	if f.store.count("AI news") != 1 || delivered() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered())
	}
	f.store.mu.Lock()
	notified := f.store.trends[0].Notified
	f.store.mu.Unlock()
	if !notified {
		t.Fatalf("trend not marked notified after retry")
	}
}

type hungSource struct{}

func (hungSource) Fetch(ctx context.Context, query string) ([]source.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcessQueryRetriesTimedOutFetch(t *testing.T) {
	f := newFixture(t)
	empty := &stubSource{items: map[string][]source.Candidate{}}
	f.coord.source = &source.Chain{Providers: []source.Source{hungSource{}, empty}}
	f.coord.cfg.FetchTimeout = 20 * time.Millisecond

	res := f.coord.ProcessQuery(context.Background(), "AI")
	if res.Status != StatusRepeatedFailure {
		t.Fatalf("expected repeated_failure, got %+v", res)
	}
	if res.Error == "" || res.Ingested != 0 {
		t.Fatalf("expected the fetch error to be reported, got %+v", res)
	}
	if empty.calls != 0 {
		t.Fatalf("chain kept going after the deadline: %d calls", empty.calls)
	}
	if f.coord.State("AI") != StateFailed {
		t.Fatalf("expected failed state, got %s", f.coord.State("AI"))
	}

	f.clock = f.clock.Add(16 * time.Minute)
	if f.coord.State("AI") != StateIdle {
		t.Fatalf("failed topic should read idle once the cooldown passed, got %s", f.coord.State("AI"))
	}
}
