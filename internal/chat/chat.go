// Package chat answers interactive messages, either conversationally or by
// running the pipeline for the topic the user asked about.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/trendwatch/internal/pipeline"
	"github.com/mohammad-safakhou/trendwatch/internal/reasoning"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

const (
	TypeNews  = "news"
	TypeChat  = "chat"
	TypeError = "error"
)

// Classifier reads the user's intent. reasoning.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, message string) (reasoning.Intent, error)
}

// Querier runs the pipeline for one topic.
type Querier interface {
	ProcessQuery(ctx context.Context, topic string) pipeline.Result
}

// TrendLister reads stored trends for a tag, newest first.
type TrendLister interface {
	RecentTrends(ctx context.Context, tag string, limit int) ([]store.Trend, error)
}

// NewsItem is one trend as returned to the chat client.
type NewsItem struct {
	Title   string `json:"title"`
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
	Link    string `json:"link"`
}

// Reply is the answer to one message.
type Reply struct {
	Type    string     `json:"type"`
	News    []NewsItem `json:"news,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Frontend routes chat messages.
type Frontend struct {
	Classifier Classifier
	Pipeline   Querier
	Trends     TrendLister
	Limit      int
	Logger     *log.Logger
}

// Handle answers message. It never panics; failures come back as an error
// reply.
func (f *Frontend) Handle(ctx context.Context, message string) (reply Reply) {
	logger := f.logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("recovered: %v", r)
			reply = Reply{Type: TypeError, Message: "Something went wrong while handling your message."}
		}
	}()

	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{Type: TypeError, Message: "Message is empty."}
	}
	if f.Classifier == nil {
		return Reply{Type: TypeError, Message: "Chat is not configured on this server."}
	}
	intent, err := f.Classifier.Classify(ctx, message)
	if err != nil {
		logger.Printf("classify: %v", err)
		return Reply{Type: TypeError, Message: "Could not understand the request right now, please try again."}
	}
	if intent.Mode != TypeNews {
		return Reply{Type: TypeChat, Message: intent.Reply}
	}
	return f.news(ctx, intent.Query)
}

func (f *Frontend) news(ctx context.Context, query string) Reply {
	logger := f.logger()
	if f.Pipeline == nil || f.Trends == nil {
		return Reply{Type: TypeError, Message: "News lookup is not configured on this server."}
	}
	res := f.Pipeline.ProcessQuery(ctx, query)
	logger.Printf("news %q: status=%s persisted=%d", query, res.Status, res.Persisted)

	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	trends, err := f.Trends.RecentTrends(ctx, query, limit)
	if err != nil {
		logger.Printf("recent trends %q: %v", query, err)
		return Reply{Type: TypeError, Message: "Could not load stored news right now."}
	}
	if len(trends) > 0 {
		items := make([]NewsItem, 0, len(trends))
		for _, tr := range trends {
			items = append(items, NewsItem{Title: tr.Topic, Topic: tr.Topic, Summary: tr.Summary, Link: tr.URL})
		}
		return Reply{Type: TypeNews, News: items}
	}

	switch res.Status {
	case pipeline.StatusRepeatedFailure, pipeline.StatusFailed:
		return Reply{Type: TypeChat, Message: fmt.Sprintf("I couldn't reach the news sources for %q right now. Try again later or ask about a broader topic.", query)}
	default:
		return Reply{Type: TypeChat, Message: fmt.Sprintf("I found no news about %q. Try a broader or related topic.", query)}
	}
}

var defaultLogger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)

func (f *Frontend) logger() *log.Logger {
	if f.Logger == nil {
		return defaultLogger
	}
	return f.Logger
}
