package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// Brave uses the Brave Search news API.
type Brave struct {
	APIKey   string
	Endpoint string
	Num      int
	Client   *httpclient.Client
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Fetch(ctx context.Context, query string) ([]Candidate, error) {
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/news/search"
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(defaultNum(b.Num)))
	params.Set("freshness", "pd")
	params.Set("safesearch", "strict")

	var raw struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
			PageAge     string `json:"page_age"`
			MetaURL     struct {
				Hostname string `json:"hostname"`
			} `json:"meta_url"`
		} `json:"results"`
	}
	headers := map[string]string{"X-Subscription-Token": b.APIKey}
	if err := b.Client.DoJSON(ctx, http.MethodGet, endpoint+"?"+params.Encode(), headers, nil, &raw); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]Candidate, 0, len(raw.Results))
	for _, r := range raw.Results {
		published := ParseDate(r.PageAge, now)
		if published.IsZero() {
			published = ParseDate(r.Age, now)
		}
		out = append(out, Candidate{
			Topic:       r.Title,
			Summary:     r.Description,
			URL:         r.URL,
			Source:      r.MetaURL.Hostname,
			PublishedAt: published,
		})
	}
	return out, nil
}
