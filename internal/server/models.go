package server

import (
	"github.com/mohammad-safakhou/trendwatch/internal/search"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// MessageResponse carries a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthLoginRequest represents the admin login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// SubscribeRequest adds topics to an address.
type SubscribeRequest struct {
	Email  string   `json:"email"`
	Topics []string `json:"topics"`
	Notes  string   `json:"notes"`
}

// UnsubscribeRequest removes an address.
type UnsubscribeRequest struct {
	Email string `json:"email"`
}

// SubscriptionView is one subscription as listed to admins.
type SubscriptionView struct {
	Email  string   `json:"email"`
	Notes  string   `json:"notes"`
	Topics []string `json:"topics"`
}

// SubscriptionsResponse lists subscriptions.
type SubscriptionsResponse struct {
	Subscriptions []SubscriptionView `json:"subscriptions"`
}

// ChatRequest is one user message.
type ChatRequest struct {
	Message string `json:"message"`
}

// TrendsResponse lists stored trends.
type TrendsResponse struct {
	Trends []store.Trend `json:"trends"`
}

// SearchResponse lists ranked trends.
type SearchResponse struct {
	Query string       `json:"query"`
	Hits  []search.Hit `json:"hits"`
}

// PipelineQueryRequest triggers a run for one topic.
type PipelineQueryRequest struct {
	Topic string `json:"topic"`
}
