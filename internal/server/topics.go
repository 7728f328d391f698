package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/trendwatch/internal/search"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

const (
	defaultTrendLimit = 20
	maxTrendLimit     = 200
)

// Chat
//
//	@Summary	Ask for news or chat
//	@Tags		chat
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		ChatRequest	true	"Message"
//	@Success	200		{object}	chat.Reply
//	@Router		/api/chat [post]
func (h *Handler) chat(c echo.Context) error {
	if h.Chat == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "chat not configured")
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	return c.JSON(http.StatusOK, h.Chat.Handle(c.Request().Context(), req.Message))
}

func (h *Handler) trends(c echo.Context) error {
	limit, err := intParam(c, "limit", defaultTrendLimit, maxTrendLimit)
	if err != nil {
		return err
	}
	items, err := h.Store.RecentTrends(c.Request().Context(), c.QueryParam("tag"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.Trend{}
	}
	return c.JSON(http.StatusOK, TrendsResponse{Trends: items})
}

func (h *Handler) search(c echo.Context) error {
	if h.Search == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search not configured")
	}
	k, err := intParam(c, "k", 10, 50)
	if err != nil {
		return err
	}
	q := c.QueryParam("q")
	hits, err := h.Search.Search(c.Request().Context(), q, k)
	if errors.Is(err, search.ErrEmptyQuery) {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: q, Hits: hits})
}

func (h *Handler) pipelineQuery(c echo.Context) error {
	var req PipelineQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic required")
	}
	return c.JSON(http.StatusOK, h.Pipeline.ProcessQuery(c.Request().Context(), req.Topic))
}

func (h *Handler) pipelineFanOut(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Pipeline.FanOut(c.Request().Context()))
}

func (h *Handler) pipelineState(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"states": h.Pipeline.States()})
}

func intParam(c echo.Context, name string, def, max int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
