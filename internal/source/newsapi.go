package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// NewsAPI queries newsapi.org /v2/everything for the last day.
type NewsAPI struct {
	APIKey   string
	Endpoint string
	Num      int
	Client   *httpclient.Client
	Now      func() time.Time
}

func (n *NewsAPI) Name() string { return "newsapi" }

func (n *NewsAPI) Fetch(ctx context.Context, query string) ([]Candidate, error) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("from", now().Add(-24*time.Hour).UTC().Format("2006-01-02T15:04:05"))
	params.Set("pageSize", strconv.Itoa(defaultNum(n.Num)))
	params.Set("apiKey", n.APIKey)

	var raw struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
			Title       string    `json:"title"`
			Description string    `json:"description"`
			URL         string    `json:"url"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"articles"`
	}
	if err := n.Client.DoJSON(ctx, http.MethodGet, n.Endpoint+"?"+params.Encode(), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}
	if raw.Status == "error" {
		return nil, fmt.Errorf("newsapi error: %s", raw.Message)
	}
	out := make([]Candidate, 0, len(raw.Articles))
	for _, a := range raw.Articles {
		// removed articles are kept by newsapi as placeholders
		if a.Title == "[Removed]" {
			continue
		}
		out = append(out, Candidate{
			Topic:       a.Title,
			Summary:     a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
		})
	}
	return out, nil
}
