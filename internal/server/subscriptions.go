package server

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/trendwatch/internal/runtime"
)

// Subscribe
//
//	@Summary	Subscribe an address to topics
//	@Tags		subscriptions
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		SubscribeRequest	true	"Subscription"
//	@Success	200		{object}	MessageResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/subscriptions/subscribe [post]
func (h *Handler) subscribe(c echo.Context) error {
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email address")
	}
	var topics []string
	for _, t := range req.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one topic required")
	}
	if _, err := h.Store.UpsertSubscription(c.Request().Context(), addr.Address, topics, req.Notes); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Subscription added successfully"})
}

// Unsubscribe
//
//	@Summary	Remove a subscription
//	@Tags		subscriptions
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		UnsubscribeRequest	true	"Address"
//	@Success	200		{object}	MessageResponse
//	@Failure	404		{object}	HTTPError
//	@Router		/api/subscriptions/unsubscribe [post]
func (h *Handler) unsubscribe(c echo.Context) error {
	var req UnsubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Email) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email required")
	}
	removed, err := h.Store.RemoveSubscription(c.Request().Context(), req.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, "Email not found")
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Unsubscribed successfully"})
}

// unsubscribeLink handles the signed link embedded in every email.
func (h *Handler) unsubscribeLink(c echo.Context) error {
	tok := strings.TrimSpace(c.QueryParam("token"))
	if tok == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token required")
	}
	email, err := runtime.ParseToken(tok, h.Secret, runtime.ScopeUnsubscribe)
	if errors.Is(err, runtime.ErrMissingScope) {
		return echo.NewHTTPError(http.StatusForbidden, "token is not an unsubscribe link")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired link")
	}
	removed, err := h.Store.RemoveSubscription(c.Request().Context(), email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !removed {
		return c.JSON(http.StatusOK, MessageResponse{Message: "Already unsubscribed"})
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Unsubscribed successfully"})
}

func (h *Handler) listSubscriptions(c echo.Context) error {
	subs, err := h.Store.ListSubscriptionsWithTags(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := SubscriptionsResponse{Subscriptions: make([]SubscriptionView, 0, len(subs))}
	for _, s := range subs {
		out.Subscriptions = append(out.Subscriptions, SubscriptionView{Email: s.Email, Notes: s.Notes, Topics: s.TagNames()})
	}
	return c.JSON(http.StatusOK, out)
}
