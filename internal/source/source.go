// Package source fetches candidate news items for a topic from external
// search and feed providers.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
)

// ErrNoProviders is returned by a Chain with nothing configured.
var ErrNoProviders = errors.New("no news providers configured")

// Candidate is a news item proposed by a provider, not yet deduplicated.
type Candidate struct {
	Topic       string    `json:"topic"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Breaking    bool      `json:"breaking"`
	Score       int       `json:"score"`
}

// Validate rejects candidates that cannot become a trend: a topic and an
// absolute http(s) url are required.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("candidate topic is empty")
	}
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return errors.New("candidate url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("candidate url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("candidate url %q is not absolute http(s)", raw)
	}
	return nil
}

// Source returns candidates for a query.
type Source interface {
	Fetch(ctx context.Context, query string) ([]Candidate, error)
}

// Named is implemented by providers that report a name for logs.
type Named interface {
	Name() string
}

func nameOf(s Source) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// Chain asks providers in order and returns the first non-empty answer.
// Failing providers are skipped. When nothing was found and any provider
// failed, or ctx expired, the joined error is returned so callers can retry.
type Chain struct {
	Providers []Source
	Logger    *log.Logger
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Fetch(ctx context.Context, query string) ([]Candidate, error) {
	if len(c.Providers) == 0 {
		return nil, ErrNoProviders
	}
	logger := c.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SOURCE] ", log.LstdFlags)
	}
	var errs []error
	for _, p := range c.Providers {
		items, err := p.Fetch(ctx, query)
		if err != nil {
			logger.Printf("%s failed for %q: %v", nameOf(p), query, err)
			errs = append(errs, fmt.Errorf("%s: %w", nameOf(p), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(items) > 0 {
			return items, nil
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
