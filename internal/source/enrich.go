package source

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/trendwatch/internal/helpers"
	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// PageFetcher returns the HTML of an article page.
type PageFetcher interface {
	FetchHTML(ctx context.Context, pageURL string) (string, error)
}

// HTTPFetcher downloads pages with a plain GET.
type HTTPFetcher struct {
	Client *httpclient.Client
}

func (f HTTPFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	body, err := f.Client.Do(ctx, http.MethodGet, pageURL, map[string]string{
		"Accept":     "text/html,application/xhtml+xml",
		"User-Agent": "trendwatch/1.0",
	}, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ChromeFetcher renders pages in headless Chrome, for sites that build the
// article client side.
type ChromeFetcher struct{}

func (ChromeFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("trendwatch/1.0"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// Enricher fills missing summaries from the article body. It is best
// effort: a page that cannot be fetched or parsed leaves the item as is.
type Enricher struct {
	Fetcher  PageFetcher
	MaxChars int
	Timeout  time.Duration
	Logger   *log.Logger
}

// Enrich updates items in place and returns them.
func (e *Enricher) Enrich(ctx context.Context, items []Candidate) []Candidate {
	if e == nil || e.Fetcher == nil {
		return items
	}
	for i := range items {
		if strings.TrimSpace(items[i].Summary) != "" || items[i].URL == "" {
			continue
		}
		if summary := e.summarize(ctx, items[i].URL); summary != "" {
			items[i].Summary = summary
		}
	}
	return items
}

func (e *Enricher) summarize(ctx context.Context, pageURL string) string {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := e.Fetcher.FetchHTML(ctx, pageURL)
	if err != nil {
		e.logf("fetch %s: %v", pageURL, err)
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		e.logf("readability %s: %v", pageURL, err)
		return ""
	}
	text := strings.TrimSpace(article.Excerpt)
	if text == "" {
		text = strings.Join(strings.Fields(article.TextContent), " ")
	}
	max := e.MaxChars
	if max <= 0 {
		max = 400
	}
	return helpers.Truncate(text, max)
}

func (e *Enricher) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
