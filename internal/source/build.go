package source

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// FromConfig builds the ranked provider chain described by cfg. Keyed
// providers without a key are skipped with a log line.
func FromConfig(cfg config.SourcesConfig, logger *log.Logger) (Source, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[SOURCE] ", log.LstdFlags)
	}
	client := httpclient.New(20*time.Second, 2, 500*time.Millisecond)
	var providers []Source
	for _, name := range cfg.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "serpapi":
			if cfg.SerpAPI.APIKey == "" {
				logger.Printf("serpapi enabled without api key; skipping")
				continue
			}
			providers = append(providers, &SerpAPI{APIKey: cfg.SerpAPI.APIKey, Num: cfg.MaxResults, Client: client})
		case "serper":
			if cfg.Serper.APIKey == "" {
				logger.Printf("serper enabled without api key; skipping")
				continue
			}
			providers = append(providers, &Serper{APIKey: cfg.Serper.APIKey, Num: cfg.MaxResults, Client: client})
		case "brave":
			if cfg.Brave.APIKey == "" {
				logger.Printf("brave enabled without api key; skipping")
				continue
			}
			providers = append(providers, &Brave{APIKey: cfg.Brave.APIKey, Num: cfg.MaxResults, Client: client})
		case "newsapi":
			if cfg.NewsAPI.APIKey == "" {
				logger.Printf("newsapi enabled without api key; skipping")
				continue
			}
			providers = append(providers, &NewsAPI{APIKey: cfg.NewsAPI.APIKey, Endpoint: cfg.NewsAPI.Endpoint, Num: cfg.MaxResults, Client: client})
		case "rss":
			providers = append(providers, NewRSS(cfg.RSS.Endpoint, cfg.MaxResults, client))
		default:
			return nil, fmt.Errorf("unknown news provider %q", name)
		}
	}
	chain := &Chain{Providers: providers, Logger: logger}
	return &Ranked{Source: chain, Policy: cfg.Policy.Normalize()}, nil
}

// EnricherFromConfig returns nil when enrichment is off.
func EnricherFromConfig(cfg config.EnrichConfig, logger *log.Logger) *Enricher {
	var fetcher PageFetcher
	switch strings.ToLower(cfg.Mode) {
	case "http":
		fetcher = HTTPFetcher{Client: httpclient.New(cfg.Timeout, 1, 500*time.Millisecond)}
	case "chromedp":
		fetcher = ChromeFetcher{}
	default:
		return nil
	}
	return &Enricher{Fetcher: fetcher, MaxChars: cfg.MaxChars, Timeout: cfg.Timeout, Logger: logger}
}
