package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// CycleLockKey guards against two processes running a cycle at once.
const CycleLockKey = "trendwatch:cycle:lock"

// releaseLock deletes the lock only while it still holds our owner value.
const releaseLock = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// Locker is the part of a Redis client used for the cycle lock.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// RunCycle processes every known topic once, in order. Topics still cooling
// down after repeated failures are skipped; a topic whose retries run out
// starts a new cooldown.
func (c *Coordinator) RunCycle(ctx context.Context) CycleSummary {
	start := c.now()
	summary := CycleSummary{StartedAt: start, ByStatus: make(map[Status]int)}
	defer func() {
		summary.Duration = c.now().Sub(start)
		cycleDuration.Observe(summary.Duration.Seconds())
		c.logger.Printf("cycle done: topics=%d persisted=%d statuses=%v took=%s",
			summary.Topics, summary.Persisted, summary.ByStatus, summary.Duration.Round(time.Millisecond))
	}()

	topics, err := c.store.ListTopics(ctx, c.cfg.TopicLimit)
	if err != nil {
		summary.Error = err.Error()
		c.logger.Printf("cycle: list topics: %v", err)
		return summary
	}
	summary.Topics = len(topics)

	for _, topic := range topics {
		if ctx.Err() != nil {
			summary.Error = ctx.Err().Error()
			break
		}
		if until, ok := c.cooldowns.Active(ctx, topic); ok {
			c.logger.Printf("topic %q cooling down until %s", topic, until.Format(time.RFC3339))
			res := Result{Topic: topic, Status: StatusCoolingDown}
			pipelineRuns.WithLabelValues(string(res.Status)).Inc()
			summary.add(res)
			continue
		}
		res := c.safeProcess(ctx, topic)
		if res.Status == StatusRepeatedFailure {
			if err := c.cooldowns.Start(ctx, topic, c.policy.Cooldown); err != nil {
				c.logger.Printf("topic %q: start cooldown: %v", topic, err)
			}
		}
		summary.add(res)
	}
	return summary
}

func (c *Coordinator) safeProcess(ctx context.Context, topic string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.states.reset(topic)
			res = Result{Topic: topic, Status: StatusFailed, Error: (&panicError{value: r}).Error()}
			pipelineRuns.WithLabelValues(string(res.Status)).Inc()
			c.logger.Printf("topic %q: recovered: %v", topic, r)
		}
	}()
	return c.ProcessQuery(ctx, topic)
}

// AutomaticAgentLoop runs RunCycle until ctx is cancelled. Without a cron
// expression it runs immediately and then every interval; with one it waits
// for each fire time. Nothing a cycle does can stop the loop.
func (c *Coordinator) AutomaticAgentLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.cfg.CrawlInterval
	}
	var schedule *cronexpr.Expression
	if c.cfg.Cron != "" {
		expr, err := cronexpr.Parse(c.cfg.Cron)
		if err != nil {
			c.logger.Printf("invalid cron %q, using interval %s: %v", c.cfg.Cron, interval, err)
		} else {
			schedule = expr
		}
	}
	c.logger.Printf("background cycle started (interval=%s cron=%q)", interval, c.cfg.Cron)

	first := schedule == nil
	for {
		if !first {
			if !c.sleep(ctx, c.nextWait(schedule, interval)) {
				c.logger.Printf("background cycle stopped")
				return
			}
		}
		first = false
		c.cycleOnce(ctx, interval)
		if ctx.Err() != nil {
			c.logger.Printf("background cycle stopped")
			return
		}
	}
}

func (c *Coordinator) nextWait(schedule *cronexpr.Expression, interval time.Duration) time.Duration {
	if schedule == nil {
		return interval
	}
	now := c.now()
	next := schedule.Next(now)
	if next.IsZero() {
		return interval
	}
	return next.Sub(now)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// cycleOnce runs one cycle behind the optional Redis lock and swallows
// anything it raises.
func (c *Coordinator) cycleOnce(ctx context.Context, ttl time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("cycle recovered: %v", r)
		}
	}()
	if c.locker != nil {
		owner := lockOwner()
		ok, err := c.locker.SetNX(ctx, CycleLockKey, owner, ttl).Result()
		switch {
		case err != nil:
			c.logger.Printf("cycle lock unavailable, running anyway: %v", err)
		case !ok:
			c.logger.Printf("cycle skipped: another instance holds %s", CycleLockKey)
			return
		default:
			defer c.unlockCycle(context.WithoutCancel(ctx), owner)
		}
	}
	c.RunCycle(ctx)
}

func (c *Coordinator) unlockCycle(ctx context.Context, owner string) {
	n, err := c.locker.Eval(ctx, releaseLock, []string{CycleLockKey}, owner).Int64()
	switch {
	case err != nil:
		c.logger.Printf("release %s: %v", CycleLockKey, err)
	case n == 0:
		c.logger.Printf("%s expired before the cycle finished", CycleLockKey)
	}
}

func lockOwner() string {
	host, _ := os.Hostname()
	return host + "/" + uuid.NewString()
}

// NotifyLoop runs FanOut every interval so trends whose delivery failed get
// retried between cycles.
func (c *Coordinator) NotifyLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fanOutSafely(ctx)
		}
	}
}

func (c *Coordinator) fanOutSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("notify loop recovered: %v", r)
		}
	}()
	c.FanOut(ctx)
}
