// Package streams appends domain events to Redis streams for downstream
// consumers.
package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher appends envelopes to Redis streams. A nil client turns every
// publish into a no-op.
type Publisher struct {
	client redis.UniversalClient
	maxLen int64
	now    func() time.Time
}

// NewPublisher caps each stream at roughly maxLen entries when maxLen > 0.
func NewPublisher(client redis.UniversalClient, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen, now: time.Now}
}

// Envelope wraps payload in a new envelope with a fresh event id.
func (p *Publisher) Envelope(eventType, version string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		OccurredAt:     p.now().UTC(),
		PayloadVersion: version,
		Data:           data,
	}
	return env, env.Validate()
}

// Publish wraps payload and appends it to stream, returning the entry id.
func (p *Publisher) Publish(ctx context.Context, stream, eventType, version string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", nil
	}
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	env, err := p.Envelope(eventType, version, payload)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}
