package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// State is the step a topic's pipeline run is currently in.
type State string

const (
	StateIdle               State = "idle"
	StateFetchingCandidates State = "fetching_candidates"
	StateNoResults          State = "no_results"
	StateDeduplicating      State = "deduplicating"
	StatePersisting         State = "persisting"
	StateNotifying          State = "notifying"
	StateFailed             State = "failed"
)

var transitions = map[State][]State{
	StateIdle: {StateFetchingCandidates},
	// Idle covers a fetch aborted by cancellation rather than exhaustion.
	StateFetchingCandidates: {StateNoResults, StateDeduplicating, StateFailed, StateIdle},
	StateNoResults:          {StateIdle},
	StateDeduplicating:      {StatePersisting},
	StatePersisting:         {StateNotifying, StateIdle},
	StateNotifying:          {StateIdle},
	StateFailed:             {StateIdle},
}

// CanTransition reports whether next may follow s.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func topicKey(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// tracker holds the current state per topic. Unknown topics are Idle.
type tracker struct {
	mu       sync.Mutex
	states   map[string]State
	failedAt map[string]time.Time
	now      func() time.Time
}

func newTracker(now func() time.Time) *tracker {
	return &tracker{states: make(map[string]State), failedAt: make(map[string]time.Time), now: now}
}

func (t *tracker) get(topic string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[topicKey(topic)]; ok {
		return s
	}
	return StateIdle
}

func (t *tracker) move(topic string, next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := topicKey(topic)
	cur, ok := t.states[key]
	if !ok {
		cur = StateIdle
	}
	if !cur.CanTransition(next) {
		return fmt.Errorf("invalid transition %s -> %s for %q", cur, next, topic)
	}
	delete(t.failedAt, key)
	if next == StateIdle {
		delete(t.states, key)
		return nil
	}
	if next == StateFailed {
		t.failedAt[key] = t.now()
	}
	t.states[key] = next
	return nil
}

// settle returns Failed topics to Idle once cooldown has passed since they
// failed.
func (t *tracker) settle(cooldown time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for key, at := range t.failedAt {
		if !now.Before(at.Add(cooldown)) {
			delete(t.failedAt, key)
			delete(t.states, key)
		}
	}
}

// reset forces a topic back to Idle, used after a recovered panic.
func (t *tracker) reset(topic string) {
	t.mu.Lock()
	delete(t.states, topicKey(topic))
	delete(t.failedAt, topicKey(topic))
	t.mu.Unlock()
}

func (t *tracker) snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}
