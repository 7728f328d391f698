package source

import (
	"context"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// Serper queries the google.serper.dev news endpoint.
type Serper struct {
	APIKey   string
	Endpoint string
	Num      int
	Client   *httpclient.Client
}

func (s *Serper) Name() string { return "serper" }

func (s *Serper) Fetch(ctx context.Context, query string) ([]Candidate, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = "https://google.serper.dev/news"
	}
	payload := map[string]any{"q": query, "num": defaultNum(s.Num), "tbs": "qdr:d", "gl": "us", "hl": "en"}
	var raw struct {
		News []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
			Source  string `json:"source"`
		} `json:"news"`
	}
	headers := map[string]string{"X-API-KEY": s.APIKey}
	if err := s.Client.DoJSON(ctx, http.MethodPost, endpoint, headers, payload, &raw); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]Candidate, 0, len(raw.News))
	for _, r := range raw.News {
		out = append(out, Candidate{
			Topic:       r.Title,
			Summary:     r.Snippet,
			URL:         r.Link,
			Source:      r.Source,
			PublishedAt: ParseDate(r.Date, now),
		})
	}
	return out, nil
}
