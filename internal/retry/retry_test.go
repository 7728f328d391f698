package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond}
	var retried []int
	p.OnRetry = func(op string, attempt int, err error) { retried = append(retried, attempt) }

	calls := 0
	err := p.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[1] != 2 {
		t.Fatalf("unexpected retry hook calls: %v", retried)
	}
}

func TestDoExhausts(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond}
	boom := errors.New("upstream down")
	calls := 0
	err := p.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return boom
	})
	if calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Fatalf("expected exhausted error wrapping cause, got %v", err)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Delay: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "fetch", func(ctx context.Context) error {
			calls++
			return errors.New("fail")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrExhausted) {
			t.Fatalf("expected exhausted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Do did not return after cancel")
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts != 5 || p.Delay != 30*time.Second || p.Cooldown != 15*time.Minute {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestMemoryCooldowns(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCooldowns(func() time.Time { return now })
	ctx := context.Background()

	if _, ok := c.Active(ctx, "AI"); ok {
		t.Fatalf("expected no cooldown")
	}
	if err := c.Start(ctx, "AI", 15*time.Minute); err != nil {
		t.Fatalf("start: %v", err)
	}
	until, ok := c.Active(ctx, "ai")
	if !ok || !until.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("expected case-insensitive cooldown until %v, got %v %v", now.Add(15*time.Minute), until, ok)
	}
	now = now.Add(15 * time.Minute)
	if _, ok := c.Active(ctx, "AI"); ok {
		t.Fatalf("cooldown should have elapsed")
	}
}
