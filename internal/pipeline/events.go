package pipeline

import (
	"context"

	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

const (
	// TrendStream is the Redis stream receiving persisted trends.
	TrendStream         = "trendwatch:trends"
	EventTrendPersisted = "trend.persisted"
	eventVersion        = "v1"
)

// EventPublisher appends an event to a stream. *streams.Publisher
// implements it.
type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType, version string, payload any) (string, error)
}

// TrendPersisted is the payload of a trend.persisted event.
type TrendPersisted struct {
	TrendID int64  `json:"trend_id"`
	Tag     string `json:"tag"`
	Topic   string `json:"topic"`
	URL     string `json:"url"`
	Source  string `json:"source,omitempty"`
}

func (c *Coordinator) publishPersisted(ctx context.Context, tag string, trends []store.Trend) {
	if c.events == nil {
		return
	}
	for _, tr := range trends {
		payload := TrendPersisted{TrendID: tr.ID, Tag: tag, Topic: tr.Topic, URL: tr.URL, Source: tr.Source}
		if _, err := c.events.Publish(ctx, TrendStream, EventTrendPersisted, eventVersion, payload); err != nil {
			c.logger.Printf("publish trend %d: %v", tr.ID, err)
			return
		}
	}
}
