package pipeline

import (
	"context"

	"github.com/mohammad-safakhou/trendwatch/internal/notifier"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// FanOut delivers every unsent trend to the subscribers whose tags match it,
// one message per subscriber. A trend is marked notified only after its
// delivery succeeded; a failed subscriber leaves its trends for the next
// pass and does not stop the others.
func (c *Coordinator) FanOut(ctx context.Context) NotifySummary {
	c.fanoutMu.Lock()
	defer c.fanoutMu.Unlock()

	var summary NotifySummary
	subs, err := c.store.ListSubscriptionsWithTags(ctx)
	if err != nil {
		summary.Error = err.Error()
		c.logger.Printf("fan-out: %v", err)
		return summary
	}
	summary.TotalSubscriptions = len(subs)

	for _, sub := range subs {
		if ctx.Err() != nil {
			summary.Error = ctx.Err().Error()
			break
		}
		c.notifyOne(ctx, sub, &summary)
	}
	if summary.SentCount > 0 || summary.Failed() {
		c.logger.Printf("fan-out: subscriptions=%d sent=%d failed=%d", summary.TotalSubscriptions, summary.SentCount, summary.FailedCount)
	}
	return summary
}

func (c *Coordinator) notifyOne(ctx context.Context, sub store.Subscription, summary *NotifySummary) {
	ids := sub.TagIDs()
	if len(ids) == 0 {
		return
	}
	trends, err := c.store.UnsentTrendsForTags(ctx, ids)
	if err != nil {
		summary.Error = err.Error()
		c.logger.Printf("fan-out %s: %v", sub.Email, err)
		return
	}
	if len(trends) == 0 {
		return
	}

	payload := make([]notifier.TrendPayload, 0, len(trends))
	trendIDs := make([]int64, 0, len(trends))
	for _, tr := range trends {
		payload = append(payload, notifier.TrendPayload{Topic: tr.Topic, Summary: tr.Summary, URL: tr.URL})
		trendIDs = append(trendIDs, tr.ID)
	}

	if err := c.deliver(ctx, sub.Email, payload); err != nil {
		summary.FailedCount += len(trends)
		notifications.WithLabelValues("failed").Add(float64(len(trends)))
		c.logger.Printf("deliver to %s: %v", sub.Email, err)
		return
	}
	if _, err := c.store.MarkNotified(ctx, trendIDs); err != nil {
		// delivered but still unsent in the store; the next pass repeats it
		summary.Error = err.Error()
		c.logger.Printf("mark notified for %s: %v", sub.Email, err)
	}
	summary.SentCount += len(trends)
	notifications.WithLabelValues("sent").Add(float64(len(trends)))
}

// deliver turns a notifier panic into an error so one subscriber cannot
// break the pass.
func (c *Coordinator) deliver(ctx context.Context, address string, payload []notifier.TrendPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return c.notifier.Deliver(ctx, address, payload)
}
