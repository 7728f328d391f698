// Package dedup decides whether a candidate trend is already known. It runs
// up to three tiers (exact match, embedding similarity, model judgment) and
// stops at the first tier that reports a duplicate.
package dedup

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// Candidate is the part of an incoming item the tiers look at.
type Candidate struct {
	Topic   string
	Summary string
	URL     string
}

// Text is the string embedded by the semantic tier.
func (c Candidate) Text() string {
	if strings.TrimSpace(c.Summary) == "" {
		return c.Topic
	}
	return c.Topic + "\n" + c.Summary
}

// Exact answers the case-insensitive topic/url lookup.
type Exact interface {
	TrendExists(ctx context.Context, topic, url string) (bool, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSource lists embeddings of recently stored trends.
type VectorSource interface {
	RecentVectors(ctx context.Context, limit int) ([]store.TrendVector, error)
}

// Judge asks a reasoning model whether the candidate repeats a recent topic.
type Judge interface {
	Judge(ctx context.Context, c Candidate, recentTopics []string) (bool, error)
}

// TopicSource lists the topics of recently stored trends, newest first.
type TopicSource interface {
	RecentTopics(ctx context.Context, limit int) ([]string, error)
}

// Options carries the optional collaborators. A tier whose collaborators
// are missing is disabled.
type Options struct {
	Embedder Embedder
	Vectors  VectorSource
	Judge    Judge
	Topics   TopicSource
}

// Tier names the stage that produced a verdict.
type Tier string

const (
	TierNone      Tier = "none"
	TierExact     Tier = "exact"
	TierSemantic  Tier = "semantic"
	TierReasoning Tier = "reasoning"
)

// Verdict is the outcome of Check. Vector holds the candidate embedding when
// the semantic tier computed one, so callers can store it.
type Verdict struct {
	Duplicate  bool
	Tier       Tier
	Similarity float64
	Vector     []float32
}

// Capabilities reports which optional tiers are active.
type Capabilities struct {
	Semantic  bool `json:"semantic"`
	Reasoning bool `json:"reasoning"`
}

// Engine runs the tiers in order. It is safe for concurrent use when its
// collaborators are.
type Engine struct {
	exact  Exact
	opts   Options
	cfg    config.DedupConfig
	caps   Capabilities
	logger *log.Logger
}

// New builds an engine. Capabilities are fixed here from cfg and which
// collaborators were supplied.
func New(exact Exact, cfg config.DedupConfig, opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[DEDUP] ", log.LstdFlags)
	}
	cfg = cfg.Normalize()
	return &Engine{
		exact: exact,
		opts:  opts,
		cfg:   cfg,
		caps: Capabilities{
			Semantic:  cfg.SemanticEnabled && opts.Embedder != nil && opts.Vectors != nil,
			Reasoning: cfg.ReasoningEnabled && opts.Judge != nil && opts.Topics != nil,
		},
		logger: logger,
	}
}

// Capabilities returns the tiers enabled at construction.
func (e *Engine) Capabilities() Capabilities { return e.caps }

// IsDuplicate reports whether the item matches something already stored.
// It never fails: any tier error counts as "not a duplicate".
func (e *Engine) IsDuplicate(ctx context.Context, topic, summary, url string) bool {
	return e.Check(ctx, Candidate{Topic: topic, Summary: summary, URL: url}).Duplicate
}

// Check runs the tiers and reports which one, if any, matched.
func (e *Engine) Check(ctx context.Context, c Candidate) Verdict {
	if e.exactTier(ctx, c) {
		recordDecision(TierExact, true)
		return Verdict{Duplicate: true, Tier: TierExact, Similarity: 1}
	}

	var v Verdict
	if e.caps.Semantic {
		v = e.semanticTier(ctx, c)
		if v.Duplicate {
			recordDecision(TierSemantic, true)
			return v
		}
	}

	if e.caps.Reasoning && e.reasoningTier(ctx, c) {
		recordDecision(TierReasoning, true)
		return Verdict{Duplicate: true, Tier: TierReasoning, Vector: v.Vector, Similarity: v.Similarity}
	}

	recordDecision(TierNone, false)
	return Verdict{Tier: TierNone, Vector: v.Vector, Similarity: v.Similarity}
}

func (e *Engine) exactTier(ctx context.Context, c Candidate) (dup bool) {
	if e.exact == nil {
		return false
	}
	defer e.recoverTier(TierExact, &dup)
	ok, err := e.exact.TrendExists(ctx, c.Topic, c.URL)
	if err != nil {
		e.logger.Printf("exact check failed for %q: %v", c.Topic, err)
		return false
	}
	return ok
}

func (e *Engine) semanticTier(ctx context.Context, c Candidate) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("semantic tier panic for %q: %v", c.Topic, r)
			v = Verdict{Tier: TierNone}
		}
	}()
	vec, err := e.opts.Embedder.Embed(ctx, c.Text())
	if err != nil || len(vec) == 0 {
		if err == nil {
			err = fmt.Errorf("empty embedding")
		}
		e.logger.Printf("embed failed for %q: %v", c.Topic, err)
		return Verdict{Tier: TierNone}
	}
	v = Verdict{Tier: TierNone, Vector: vec}
	recent, err := e.opts.Vectors.RecentVectors(ctx, e.cfg.RecentVectors)
	if err != nil {
		e.logger.Printf("recent vectors failed: %v", err)
		return v
	}
	for _, tv := range recent {
		sim, ok := Cosine(vec, tv.Vector)
		if !ok {
			continue
		}
		if sim > v.Similarity {
			v.Similarity = sim
		}
		if sim > e.cfg.SemanticThreshold {
			v.Duplicate = true
			v.Tier = TierSemantic
			return v
		}
	}
	return v
}

func (e *Engine) reasoningTier(ctx context.Context, c Candidate) (dup bool) {
	defer e.recoverTier(TierReasoning, &dup)
	topics, err := e.opts.Topics.RecentTopics(ctx, e.cfg.RecentTopics)
	if err != nil {
		e.logger.Printf("recent topics failed: %v", err)
		return false
	}
	if len(topics) == 0 {
		return false
	}
	ok, err := e.opts.Judge.Judge(ctx, c, topics)
	if err != nil {
		e.logger.Printf("judge failed for %q: %v", c.Topic, err)
		return false
	}
	return ok
}

func (e *Engine) recoverTier(tier Tier, dup *bool) {
	if r := recover(); r != nil {
		e.logger.Printf("%s tier panic: %v", tier, r)
		*dup = false
	}
}

// Cosine returns the cosine similarity of a and b. ok is false when the
// vectors differ in length or either has zero magnitude.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
