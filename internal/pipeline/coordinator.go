// Package pipeline runs the fetch, dedup, persist and notify sequence for a
// topic, on demand or as a background cycle over every known topic.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/dedup"
	"github.com/mohammad-safakhou/trendwatch/internal/helpers"
	"github.com/mohammad-safakhou/trendwatch/internal/notifier"
	"github.com/mohammad-safakhou/trendwatch/internal/retry"
	"github.com/mohammad-safakhou/trendwatch/internal/source"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// Store is the persistence the coordinator needs. *store.Store implements it.
type Store interface {
	PersistTrends(ctx context.Context, tagName string, items []store.NewTrend) ([]store.Trend, error)
	ListTopics(ctx context.Context, limit int) ([]string, error)
	ListSubscriptionsWithTags(ctx context.Context) ([]store.Subscription, error)
	UnsentTrendsForTags(ctx context.Context, tagIDs []int64) ([]store.Trend, error)
	MarkNotified(ctx context.Context, trendIDs []int64) (int64, error)
}

// Deduplicator decides whether a candidate is already known.
// *dedup.Engine implements it.
type Deduplicator interface {
	Check(ctx context.Context, c dedup.Candidate) dedup.Verdict
}

// Deps is everything a Coordinator is built from. Store, Source, Dedup and
// Notifier are required.
type Deps struct {
	Store     Store
	Source    source.Source
	Dedup     Deduplicator
	Notifier  notifier.Notifier
	Policy    retry.Policy
	Cooldowns retry.Cooldowns
	Events    EventPublisher
	Enricher  *source.Enricher
	Locker    Locker
	Pipeline  config.PipelineConfig
	Logger    *log.Logger
}

// Coordinator owns no store state between calls; every decision re-reads
// the store.
type Coordinator struct {
	store     Store
	source    source.Source
	dedup     Deduplicator
	notifier  notifier.Notifier
	policy    retry.Policy
	cooldowns retry.Cooldowns
	events    EventPublisher
	enricher  *source.Enricher
	locker    Locker
	cfg       config.PipelineConfig
	logger    *log.Logger
	now       func() time.Time

	states *tracker

	topicMu sync.Mutex
	topics  map[string]*sync.Mutex

	// serializes fan-out between ProcessQuery and NotifyLoop
	fanoutMu sync.Mutex
}

// RetryPolicy maps the pipeline settings onto a retry policy.
func RetryPolicy(cfg config.PipelineConfig) retry.Policy {
	cfg = cfg.Normalize()
	return retry.Policy{
		MaxAttempts: cfg.MaxIngestionRetries,
		Delay:       cfg.ProcessRetryDelay,
		Cooldown:    cfg.IngestionFailureDelay,
	}
}

// New validates deps and builds a Coordinator.
func New(d Deps) (*Coordinator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case d.Source == nil:
		return nil, errors.New("pipeline: source is required")
	case d.Dedup == nil:
		return nil, errors.New("pipeline: dedup is required")
	case d.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	}
	if d.Logger == nil {
		d.Logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if d.Policy.MaxAttempts <= 0 {
		d.Policy = retry.DefaultPolicy()
	}
	if d.Cooldowns == nil {
		d.Cooldowns = retry.NewMemoryCooldowns(nil)
	}
	c := &Coordinator{
		store:     d.Store,
		source:    d.Source,
		dedup:     d.Dedup,
		notifier:  d.Notifier,
		policy:    d.Policy,
		cooldowns: d.Cooldowns,
		events:    d.Events,
		enricher:  d.Enricher,
		locker:    d.Locker,
		cfg:       d.Pipeline.Normalize(),
		logger:    d.Logger,
		now:       time.Now,
		topics:    make(map[string]*sync.Mutex),
	}
	c.states = newTracker(func() time.Time { return c.now() })
	return c, nil
}

// State returns the current state of topic's run. A Failed topic reads as
// Idle again once the retry cooldown has passed.
func (c *Coordinator) State(topic string) State {
	c.states.settle(c.policy.Cooldown)
	return c.states.get(topic)
}

// States returns every topic that is not Idle.
func (c *Coordinator) States() map[string]State {
	c.states.settle(c.policy.Cooldown)
	return c.states.snapshot()
}

func (c *Coordinator) lockTopic(topic string) func() {
	key := topicKey(topic)
	c.topicMu.Lock()
	mu, ok := c.topics[key]
	if !ok {
		mu = &sync.Mutex{}
		c.topics[key] = mu
	}
	c.topicMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (c *Coordinator) move(topic string, next State) {
	if err := c.states.move(topic, next); err != nil {
		c.logger.Printf("state: %v", err)
	}
}

// ProcessQuery runs one fetch/dedup/persist/notify pass for topic. It never
// consults the cooldown gate; that is left to the background cycle. Runs for
// the same topic are serialized.
func (c *Coordinator) ProcessQuery(ctx context.Context, topic string) (res Result) {
	topic = strings.TrimSpace(topic)
	res = Result{Topic: topic}
	defer func() {
		if res.Status != "" {
			pipelineRuns.WithLabelValues(string(res.Status)).Inc()
		}
	}()
	if topic == "" {
		res.Status = StatusFailed
		res.Error = "topic is required"
		return res
	}

	unlock := c.lockTopic(topic)
	defer unlock()

	// an on-demand run leaves a Failed topic behind
	if c.states.get(topic) == StateFailed {
		c.move(topic, StateIdle)
	}
	c.move(topic, StateFetchingCandidates)

	items, err := c.fetch(ctx, topic)
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, retry.ErrExhausted) {
			res.Status = StatusRepeatedFailure
			c.move(topic, StateFailed)
		} else {
			res.Status = StatusFailed
			c.move(topic, StateIdle)
		}
		c.logger.Printf("topic %q: fetch failed: %v", topic, err)
		return res
	}
	res.Ingested = len(items)
	if len(items) == 0 {
		c.move(topic, StateNoResults)
		c.move(topic, StateIdle)
		res.Status = StatusNoResults
		c.logger.Printf("topic %q: no results", topic)
		return res
	}

	c.move(topic, StateDeduplicating)
	items = c.enricher.Enrich(ctx, items)
	accepted := c.filter(ctx, topic, items, &res)

	c.move(topic, StatePersisting)
	trends, err := c.store.PersistTrends(ctx, topic, accepted)
	if err != nil {
		c.move(topic, StateIdle)
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("persist trends: %v", err)
		c.logger.Printf("topic %q: %s", topic, res.Error)
		return res
	}
	res.Persisted = len(trends)
	if len(trends) > 0 {
		trendsPersisted.Add(float64(len(trends)))
		c.publishPersisted(ctx, topic, trends)
	}

	c.move(topic, StateNotifying)
	res.Notify = c.FanOut(ctx)
	c.move(topic, StateIdle)

	res.Status = StatusOK
	if res.Notify.Failed() {
		res.Status = StatusPartialFailure
	}
	c.logger.Printf("topic %q: ingested=%d duplicates=%d invalid=%d persisted=%d sent=%d failed=%d",
		topic, res.Ingested, res.Duplicates, res.Invalid, res.Persisted, res.Notify.SentCount, res.Notify.FailedCount)
	return res
}

func (c *Coordinator) fetch(ctx context.Context, topic string) ([]source.Candidate, error) {
	var (
		items   []source.Candidate
		attempt int
	)
	err := c.policy.Do(ctx, "fetch "+topic, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			fetchRetries.Inc()
		}
		fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
		got, err := c.source.Fetch(fctx, topic)
		if err != nil {
			c.logger.Printf("topic %q: attempt %d/%d: %v", topic, attempt, c.policy.MaxAttempts, err)
			return err
		}
		items = got
		return nil
	})
	return items, err
}

// filter validates and deduplicates items, including repeats inside the
// batch itself, and returns what should be persisted.
func (c *Coordinator) filter(ctx context.Context, topic string, items []source.Candidate, res *Result) []store.NewTrend {
	seen := make(map[string]struct{}, len(items)*2)
	accepted := make([]store.NewTrend, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			res.Invalid++
			c.logger.Printf("topic %q: skip malformed candidate: %v", topic, err)
			continue
		}
		item.Topic = strings.TrimSpace(item.Topic)
		item.URL = helpers.CanonicalOrRaw(item.URL)
		topicSeen := "t:" + strings.ToLower(item.Topic)
		urlSeen := "u:" + strings.ToLower(item.URL)
		_, dupTopic := seen[topicSeen]
		_, dupURL := seen[urlSeen]
		if dupTopic || dupURL {
			res.Duplicates++
			continue
		}

		verdict := c.dedup.Check(ctx, dedup.Candidate{Topic: item.Topic, Summary: item.Summary, URL: item.URL})
		if verdict.Duplicate {
			res.Duplicates++
			continue
		}
		seen[topicSeen] = struct{}{}
		seen[urlSeen] = struct{}{}
		accepted = append(accepted, store.NewTrend{
			Topic:     item.Topic,
			Summary:   helpers.SanitizeHTMLStrict(item.Summary),
			URL:       item.URL,
			Source:    item.Source,
			Embedding: verdict.Vector,
		})
	}
	return accepted
}
