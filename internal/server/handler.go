package server

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/trendwatch/internal/chat"
	"github.com/mohammad-safakhou/trendwatch/internal/pipeline"
	"github.com/mohammad-safakhou/trendwatch/internal/runtime"
	"github.com/mohammad-safakhou/trendwatch/internal/search"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// Store is the persistence used by the handlers. *store.Store implements it.
type Store interface {
	UpsertSubscription(ctx context.Context, email string, topics []string, notes string) (store.Subscription, error)
	RemoveSubscription(ctx context.Context, email string) (bool, error)
	ListSubscriptionsWithTags(ctx context.Context) ([]store.Subscription, error)
	RecentTrends(ctx context.Context, tag string, limit int) ([]store.Trend, error)
}

// PipelineRunner is the part of the coordinator exposed over HTTP.
type PipelineRunner interface {
	ProcessQuery(ctx context.Context, topic string) pipeline.Result
	FanOut(ctx context.Context) pipeline.NotifySummary
	States() map[string]pipeline.State
}

// ChatResponder answers chat messages.
type ChatResponder interface {
	Handle(ctx context.Context, message string) chat.Reply
}

// TrendSearcher ranks stored trends for a query.
type TrendSearcher interface {
	Search(ctx context.Context, q string, k int) ([]search.Hit, error)
}

// Handler serves the /api routes.
type Handler struct {
	Store    Store
	Pipeline PipelineRunner
	Chat     ChatResponder
	Search   TrendSearcher

	Secret            []byte
	AdminEmail        string
	AdminPasswordHash string
}

// Register mounts every route under g.
func (h *Handler) Register(g *echo.Group) {
	admin := runtime.EchoAuthMiddleware(h.Secret, runtime.ScopeAdmin)

	g.POST("/auth/login", h.login)

	g.POST("/subscriptions/subscribe", h.subscribe)
	g.POST("/subscriptions/unsubscribe", h.unsubscribe)
	g.GET("/subscriptions/unsubscribe", h.unsubscribeLink)
	g.GET("/subscriptions", h.listSubscriptions, admin)

	g.POST("/chat", h.chat)
	g.GET("/trends", h.trends)
	g.GET("/trends/search", h.search)

	g.POST("/pipeline/query", h.pipelineQuery, admin)
	g.POST("/pipeline/fanout", h.pipelineFanOut, admin)
	g.GET("/pipeline/state", h.pipelineState, admin)
}
