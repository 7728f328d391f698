// Package notifier delivers batches of new trends to subscribers.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ErrNoTrends is returned when Deliver is called with an empty batch.
var ErrNoTrends = errors.New("no trends to deliver")

// TrendPayload is one trend as shown to a subscriber.
type TrendPayload struct {
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// Notifier sends one message carrying trends to address. A nil error means
// the message was accepted for delivery.
type Notifier interface {
	Deliver(ctx context.Context, address string, trends []TrendPayload) error
}

// Subject returns "New Trend: <topic>" for a single trend and
// "<N> New Trends for You" otherwise.
func Subject(trends []TrendPayload) string {
	if len(trends) == 1 {
		return "New Trend: " + trends[0].Topic
	}
	return fmt.Sprintf("%d New Trends for You", len(trends))
}

// Body renders the numbered plain-text list of trends. unsubscribeURL is
// appended when non-empty.
func Body(trends []TrendPayload, unsubscribeURL string) string {
	var b strings.Builder
	for i, t := range trends {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Topic)
		if s := strings.TrimSpace(t.Summary); s != "" {
			fmt.Fprintf(&b, "   %s\n", s)
		}
		if t.URL != "" {
			fmt.Fprintf(&b, "   Read more: %s\n", t.URL)
		}
		b.WriteString("\n")
	}
	if unsubscribeURL != "" {
		fmt.Fprintf(&b, "--\nUnsubscribe: %s\n", unsubscribeURL)
	}
	return b.String()
}

// LogNotifier writes messages to a logger instead of sending them.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Deliver(ctx context.Context, address string, trends []TrendPayload) error {
	if len(trends) == 0 {
		return ErrNoTrends
	}
	logger := n.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)
	}
	logger.Printf("to=%s subject=%q\n%s", address, Subject(trends), Body(trends, ""))
	return nil
}
