package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// RSS reads a search feed such as Google News RSS. It needs no API key.
type RSS struct {
	Endpoint string
	Num      int
	Client   *httpclient.Client
	parser   *gofeed.Parser
}

func NewRSS(endpoint string, num int, client *httpclient.Client) *RSS {
	return &RSS{Endpoint: endpoint, Num: num, Client: client, parser: gofeed.NewParser()}
}

func (r *RSS) Name() string { return "rss" }

func (r *RSS) Fetch(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", query+" when:1d")
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")
	body, err := r.Client.Do(ctx, http.MethodGet, r.Endpoint+"?"+params.Encode(), map[string]string{"Accept": "application/rss+xml, application/xml"}, nil)
	if err != nil {
		return nil, err
	}
	parser := r.parser
	if parser == nil {
		parser = gofeed.NewParser()
	}
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	limit := defaultNum(r.Num)
	out := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(out) >= limit {
			break
		}
		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}
		title, publisher := splitPublisher(item.Title)
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		out = append(out, Candidate{
			Topic:       title,
			Summary:     summary,
			URL:         item.Link,
			Source:      publisher,
			PublishedAt: published,
		})
	}
	return out, nil
}

// splitPublisher separates the "Headline - Publisher" form used by news feeds.
func splitPublisher(title string) (string, string) {
	i := strings.LastIndex(title, " - ")
	if i <= 0 {
		return strings.TrimSpace(title), ""
	}
	return strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+3:])
}
