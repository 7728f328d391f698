package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// SerpAPI searches Google News through serpapi.com, restricted to the last day.
type SerpAPI struct {
	APIKey   string
	Endpoint string
	Num      int
	Client   *httpclient.Client
}

func (s *SerpAPI) Name() string { return "serpapi" }

func (s *SerpAPI) Fetch(ctx context.Context, query string) ([]Candidate, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = "https://serpapi.com/search"
	}
	params := url.Values{}
	params.Set("api_key", s.APIKey)
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("tbm", "nws")
	params.Set("num", strconv.Itoa(defaultNum(s.Num)))
	params.Set("hl", "en")
	params.Set("gl", "us")
	params.Set("safe", "active")
	params.Set("tbs", "qdr:d")
	params.Set("sort", "date")

	var raw struct {
		Error       string `json:"error"`
		NewsResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Source  string `json:"source"`
			Date    string `json:"date"`
			Snippet string `json:"snippet"`
		} `json:"news_results"`
	}
	if err := s.Client.DoJSON(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil, nil, &raw); err != nil {
		return nil, err
	}
	if raw.Error != "" && len(raw.NewsResults) == 0 {
		// serpapi reports "no results" through the error field
		return nil, nil
	}
	now := time.Now()
	out := make([]Candidate, 0, len(raw.NewsResults))
	for _, r := range raw.NewsResults {
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

func defaultNum(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}
