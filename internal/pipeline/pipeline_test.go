package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/dedup"
	"github.com/mohammad-safakhou/trendwatch/internal/notifier"
	"github.com/mohammad-safakhou/trendwatch/internal/retry"
	"github.com/mohammad-safakhou/trendwatch/internal/source"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// memStore is an in-memory Store that also answers the exact dedup lookup.
type memStore struct {
	mu          sync.Mutex
	tags        []store.Tag
	trends      []store.Trend
	trendTags   map[int64][]int64
	subs        []store.Subscription
	topics      []string
	persistErr  error
	persistCall int
	listSubCall int
	topicCalls  int
	topicPanic  bool
}

func newMemStore() *memStore {
	return &memStore{trendTags: make(map[int64][]int64)}
}

func (m *memStore) tag(name string) store.Tag {
	for _, t := range m.tags {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	t := store.Tag{ID: int64(len(m.tags) + 1), Name: name}
	m.tags = append(m.tags, t)
	return t
}

func (m *memStore) addTrend(topic, url string, tags ...string) store.Trend {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := store.Trend{ID: int64(len(m.trends) + 1), Topic: topic, URL: url}
	m.trends = append(m.trends, tr)
	for _, name := range tags {
		m.trendTags[tr.ID] = append(m.trendTags[tr.ID], m.tag(name).ID)
	}
	return tr
}

func (m *memStore) addSub(email string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := store.Subscription{ID: int64(len(m.subs) + 1), Email: email}
	for _, name := range tags {
		sub.Tags = append(sub.Tags, m.tag(name))
	}
	m.subs = append(m.subs, sub)
}

func (m *memStore) TrendExists(ctx context.Context, topic, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.trends {
		if strings.EqualFold(tr.Topic, topic) || (url != "" && strings.EqualFold(tr.URL, url)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) PersistTrends(ctx context.Context, tagName string, items []store.NewTrend) ([]store.Trend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistCall++
	if m.persistErr != nil {
		return nil, m.persistErr
	}
	if len(items) == 0 {
		return nil, nil
	}
	tag := m.tag(tagName)
	var out []store.Trend
	for _, item := range items {
		tr := store.Trend{ID: int64(len(m.trends) + 1), Topic: item.Topic, Summary: item.Summary, URL: item.URL, Source: item.Source}
		m.trends = append(m.trends, tr)
		m.trendTags[tr.ID] = []int64{tag.ID}
		out = append(out, tr)
	}
	return out, nil
}

func (m *memStore) ListTopics(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	m.topicCalls++
	boom := m.topicPanic
	m.mu.Unlock()
	if boom {
		panic("topic listing blew up")
	}
	return m.topics, nil
}

func (m *memStore) topicListings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topicCalls
}

func (m *memStore) ListSubscriptionsWithTags(ctx context.Context) ([]store.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listSubCall++
	return append([]store.Subscription(nil), m.subs...), nil
}

func (m *memStore) UnsentTrendsForTags(ctx context.Context, tagIDs []int64) ([]store.Trend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Trend
	for _, tr := range m.trends {
		if tr.Notified {
			continue
		}
		if intersects(m.trendTags[tr.ID], tagIDs) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *memStore) MarkNotified(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.trends {
		for _, id := range ids {
			if m.trends[i].ID == id && !m.trends[i].Notified {
				m.trends[i].Notified = true
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tr := range m.trends {
		if strings.EqualFold(tr.Topic, topic) {
			n++
		}
	}
	return n
}

func intersects(a, b []int64) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

type stubSource struct {
	items map[string][]source.Candidate
	err   error
	panic string
	calls int
}

func (s *stubSource) Fetch(ctx context.Context, query string) ([]source.Candidate, error) {
	s.calls++
	if s.panic != "" && query == s.panic {
		panic("provider blew up")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.items[query], nil
}

type delivery struct {
	address string
	trends  []notifier.TrendPayload
}

type stubNotifier struct {
	mu         sync.Mutex
	fail       map[string]bool
	deliveries []delivery
	attempts   int
}

func (n *stubNotifier) Deliver(ctx context.Context, address string, trends []notifier.TrendPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.fail[address] {
		return errors.New("smtp refused")
	}
	n.deliveries = append(n.deliveries, delivery{address: address, trends: trends})
	return nil
}

type stubEvents struct{ published []TrendPersisted }

func (s *stubEvents) Publish(ctx context.Context, stream, eventType, version string, payload any) (string, error) {
	s.published = append(s.published, payload.(TrendPersisted))
	return "1-0", nil
}

type fixture struct {
	store    *memStore
	source   *stubSource
	notifier *stubNotifier
	events   *stubEvents
	clock    time.Time
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		source:   &stubSource{items: map[string][]source.Candidate{}},
		notifier: &stubNotifier{fail: map[string]bool{}},
		events:   &stubEvents{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	quiet := log.New(io.Discard, "", 0)
	engine := dedup.New(f.store, config.DedupConfig{}, dedup.Options{}, quiet)
	coord, err := New(Deps{
		Store:     f.store,
		Source:    f.source,
		Dedup:     engine,
		Notifier:  f.notifier,
		Policy:    retry.Policy{MaxAttempts: 3, Cooldown: 15 * time.Minute},
		Cooldowns: retry.NewMemoryCooldowns(func() time.Time { return f.clock }),
		Events:    f.events,
		Logger:    quiet,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	coord.now = func() time.Time { return f.clock }
	f.coord = coord
	return f
}

func candidate(topic, url string) source.Candidate {
	return source.Candidate{Topic: topic, Summary: "summary of " + topic, URL: url, Source: "test"}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error for empty deps")
	}
}

func TestProcessQueryDropsRepeatInsideBatch(t *testing.T) {
	f := newFixture(t)
	f.source.items["AI"] = []source.Candidate{
		candidate("AI breakthrough", "http://a.com"),
		candidate("AI breakthrough", "http://a.com"),
	}

	res := f.coord.ProcessQuery(context.Background(), "AI")
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if res.Persisted != 1 || res.Duplicates != 1 || res.Ingested != 2 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if n := f.store.count("AI breakthrough"); n != 1 {
		t.Fatalf("expected one stored trend, got %d", n)
	}
	if len(f.events.published) != 1 || f.events.published[0].Tag != "AI" {
		t.Fatalf("expected one persisted event, got %+v", f.events.published)
	}
	if f.coord.State("AI") != StateIdle {
		t.Fatalf("expected idle after run, got %s", f.coord.State("AI"))
	}
}

func TestProcessQueryKeepsOneTrendAcrossRuns(t *testing.T) {
	f := newFixture(t)
	f.source.items["AI"] = []source.Candidate{candidate("AI breakthrough", "http://a.com")}

	for i := 0; i < 3; i++ {
		f.coord.ProcessQuery(context.Background(), "AI")
	}
	// same story, different casing and a tracking parameter
	f.source.items["AI"] = []source.Candidate{candidate("ai BREAKTHROUGH", "http://a.com/?utm_source=x")}
	res := f.coord.ProcessQuery(context.Background(), "AI")
	if res.Duplicates != 1 || res.Persisted != 0 {
		t.Fatalf("expected duplicate, got %+v", res)
	}
	if n := f.store.count("AI breakthrough"); n != 1 {
		t.Fatalf("expected one stored trend, got %d", n)
	}
}

func TestProcessQueryNoResults(t *testing.T) {
	f := newFixture(t)

	res := f.coord.ProcessQuery(context.Background(), "quiet")
	if res.Status != StatusNoResults {
		t.Fatalf("expected no_results, got %s", res.Status)
	}
	if f.store.persistCall != 0 || f.store.listSubCall != 0 || f.notifier.attempts != 0 {
		t.Fatalf("store or notifier touched: persist=%d list=%d notify=%d", f.store.persistCall, f.store.listSubCall, f.notifier.attempts)
	}
}

func TestProcessQueryRepeatedFailure(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("upstream timeout")
	f.store.addSub("x@example.com", "X")

	res := f.coord.ProcessQuery(context.Background(), "X")
	if res.Status != StatusRepeatedFailure {
		t.Fatalf("expected repeated_failure, got %+v", res)
	}
	if f.source.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.source.calls)
	}
	if f.store.count("X") != 0 || f.store.persistCall != 0 {
		t.Fatalf("store written after failure")
	}
	if f.notifier.attempts != 0 {
		t.Fatalf("notifier called after failure")
	}
	if f.coord.State("X") != StateFailed {
		t.Fatalf("expected failed state, got %s", f.coord.State("X"))
	}
	// an interactive call leaves the failed state
	f.source.err = nil
	if res := f.coord.ProcessQuery(context.Background(), "X"); res.Status != StatusNoResults {
		t.Fatalf("expected no_results on retry, got %s", res.Status)
	}
	if f.coord.State("X") != StateIdle {
		t.Fatalf("expected idle, got %s", f.coord.State("X"))
	}
}

func TestProcessQueryPersistFailureCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.store.persistErr = errors.New("disk full")
	f.store.addSub("x@example.com", "AI")
	f.source.items["AI"] = []source.Candidate{
		candidate("one", "http://a.com/1"),
		candidate("two", "http://a.com/2"),
		candidate("three", "http://a.com/3"),
	}

	res := f.coord.ProcessQuery(context.Background(), "AI")
	if res.Status != StatusFailed || !strings.Contains(res.Error, "disk full") {
		t.Fatalf("expected failed, got %+v", res)
	}
	if len(f.store.trends) != 0 {
		t.Fatalf("expected nothing committed, got %d trends", len(f.store.trends))
	}
	if f.notifier.attempts != 0 || len(f.events.published) != 0 {
		t.Fatalf("notify or publish ran after persist failure")
	}
	if f.coord.State("AI") != StateIdle {
		t.Fatalf("expected idle, got %s", f.coord.State("AI"))
	}
}

func TestProcessQuerySkipsMalformedCandidates(t *testing.T) {
	f := newFixture(t)
	f.source.items["AI"] = []source.Candidate{
		{Topic: "", URL: "http://a.com/empty"},
		{Topic: "no url"},
		candidate("good", "https://a.com/good"),
	}

	res := f.coord.ProcessQuery(context.Background(), "AI")
	if res.Invalid != 2 || res.Persisted != 1 || res.Status != StatusOK {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProcessQueryEmptyTopic(t *testing.T) {
	f := newFixture(t)
	if res := f.coord.ProcessQuery(context.Background(), "  "); res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if f.source.calls != 0 {
		t.Fatalf("source called for empty topic")
	}
}

func TestProcessQueryReportsNotifyFailure(t *testing.T) {
	f := newFixture(t)
	f.store.addSub("x@example.com", "AI")
	f.notifier.fail["x@example.com"] = true
	f.source.items["AI"] = []source.Candidate{candidate("AI news", "http://a.com")}

	res := f.coord.ProcessQuery(context.Background(), "AI")
	if res.Status != StatusPartialFailure {
		t.Fatalf("expected partial_failure, got %+v", res)
	}
	if res.Persisted != 1 || res.Notify.FailedCount != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.store.count("AI news") != 1 {
		t.Fatalf("persisted trend must survive a notify failure")
	}
}

func TestFanOutDeliversOnceAndMarksNotified(t *testing.T) {
	f := newFixture(t)
	f.store.addSub("x@example.com", "AI")
	f.store.addTrend("AI news", "http://a.com", "AI")

	summary := f.coord.FanOut(context.Background())
	if summary.SentCount != 1 || summary.FailedCount != 0 || summary.TotalSubscriptions != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(f.notifier.deliveries) != 1 {
		t.Fatalf("expected one delivery, got %d", len(f.notifier.deliveries))
	}
	d := f.notifier.deliveries[0]
	if d.address != "x@example.com" || len(d.trends) != 1 || d.trends[0].Topic != "AI news" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if !f.store.trends[0].Notified {
		t.Fatalf("trend not marked notified")
	}

	again := f.coord.FanOut(context.Background())
	if f.notifier.attempts != 1 || again.SentCount != 0 {
		t.Fatalf("second fan-out must be a no-op, attempts=%d summary=%+v", f.notifier.attempts, again)
	}
}

func TestFanOutIsolatesSubscribers(t *testing.T) {
	f := newFixture(t)
	f.store.addSub("a@example.com", "AI")
	f.store.addSub("b@example.com", "Space")
	f.store.addSub("c@example.com")
	f.store.addTrend("AI news", "http://a.com", "AI")
	f.store.addTrend("AI more", "http://a.com/2", "AI")
	f.store.addTrend("Space news", "http://s.com", "Space")
	f.notifier.fail["a@example.com"] = true

	summary := f.coord.FanOut(context.Background())
	if summary.SentCount != 1 || summary.FailedCount != 2 || summary.TotalSubscriptions != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(f.notifier.deliveries) != 1 || f.notifier.deliveries[0].address != "b@example.com" {
		t.Fatalf("expected delivery to b, got %+v", f.notifier.deliveries)
	}
	if f.store.trends[0].Notified || f.store.trends[1].Notified {
		t.Fatalf("failed batch must stay unsent")
	}
	if !f.store.trends[2].Notified {
		t.Fatalf("delivered trend not marked")
	}

	// recovered notifier picks up the leftovers as one batch
	f.notifier.fail = map[string]bool{}
	retried := f.coord.FanOut(context.Background())
	if retried.SentCount != 2 || len(f.notifier.deliveries) != 2 || len(f.notifier.deliveries[1].trends) != 2 {
		t.Fatalf("expected batched retry, got %+v", retried)
	}
}

func TestRunCycleStartsAndHonoursCooldown(t *testing.T) {
	f := newFixture(t)
	f.store.topics = []string{"X", "Y"}
	f.source.err = errors.New("down")

	first := f.coord.RunCycle(context.Background())
	if first.ByStatus[StatusRepeatedFailure] != 2 {
		t.Fatalf("expected two repeated failures, got %+v", first.ByStatus)
	}
	calls := f.source.calls

	f.clock = f.clock.Add(10 * time.Minute)
	second := f.coord.RunCycle(context.Background())
	if second.ByStatus[StatusCoolingDown] != 2 || f.source.calls != calls {
		t.Fatalf("expected both topics cooling down, got %+v calls=%d", second.ByStatus, f.source.calls)
	}

	f.clock = f.clock.Add(6 * time.Minute)
	f.source.err = nil
	third := f.coord.RunCycle(context.Background())
	if third.ByStatus[StatusNoResults] != 2 {
		t.Fatalf("expected topics processed after cooldown, got %+v", third.ByStatus)
	}
	if f.coord.State("X") != StateIdle {
		t.Fatalf("expected idle after cooldown, got %s", f.coord.State("X"))
	}
}

func TestRunCycleContinuesAfterPanic(t *testing.T) {
	f := newFixture(t)
	f.store.topics = []string{"boom", "calm"}
	f.source.panic = "boom"
	f.source.items["calm"] = []source.Candidate{candidate("calm news", "http://c.com")}

	summary := f.coord.RunCycle(context.Background())
	if len(summary.Results) != 2 {
		t.Fatalf("expected both topics processed, got %+v", summary.Results)
	}
	if summary.Results[0].Status != StatusFailed || summary.Results[1].Status != StatusOK {
		t.Fatalf("unexpected statuses: %+v", summary.Results)
	}
	if f.coord.State("boom") != StateIdle {
		t.Fatalf("panicked topic should be reset, got %s", f.coord.State("boom"))
	}
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateFetchingCandidates, true},
		{StateFetchingCandidates, StateNoResults, true},
		{StateFetchingCandidates, StateDeduplicating, true},
		{StateFetchingCandidates, StateFailed, true},
		{StateDeduplicating, StatePersisting, true},
		{StatePersisting, StateNotifying, true},
		{StateNotifying, StateIdle, true},
		{StateFailed, StateIdle, true},
		{StateIdle, StatePersisting, false},
		{StateDeduplicating, StateFailed, false},
		{StateFailed, StateFetchingCandidates, false},
		{StateNoResults, StateDeduplicating, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicy(config.PipelineConfig{MaxIngestionRetries: 4, ProcessRetryDelay: time.Second})
	if p.MaxAttempts != 4 || p.Delay != time.Second || p.Cooldown != 15*time.Minute {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
