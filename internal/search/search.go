// Package search ranks stored trends against a free-text query.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("search query is empty")

// TrendLister reads stored trends, newest first.
type TrendLister interface {
	RecentTrends(ctx context.Context, tag string, limit int) ([]store.Trend, error)
}

// Hit is one ranked trend. Fragments holds highlighted snippets per field.
type Hit struct {
	Trend     store.Trend         `json:"trend"`
	Score     float64             `json:"score"`
	Rank      int                 `json:"rank"`
	Fragments map[string][]string `json:"fragments,omitempty"`
}

type document struct {
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
	Source  string `json:"source"`
}

// Searcher indexes the newest Window trends on each call.
type Searcher struct {
	Trends TrendLister
	Window int
}

// Search returns up to k trends matching q, best first.
func (s *Searcher) Search(ctx context.Context, q string, k int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = 10
	}
	window := s.Window
	if window <= 0 {
		window = 500
	}
	trends, err := s.Trends.RecentTrends(ctx, "", window)
	if err != nil {
		return nil, err
	}
	if len(trends) == 0 {
		return []Hit{}, nil
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	defer index.Close()

	byID := make(map[string]store.Trend, len(trends))
	batch := index.NewBatch()
	for _, tr := range trends {
		id := strconv.FormatInt(tr.ID, 10)
		byID[id] = tr
		if err := batch.Index(id, document{Topic: tr.Topic, Summary: tr.Summary, Source: tr.Source}); err != nil {
			return nil, fmt.Errorf("index trend %s: %w", id, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("index batch: %w", err)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	res, err := index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]Hit, 0, len(res.Hits))
	for i, h := range res.Hits {
		tr, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{Trend: tr, Score: h.Score, Rank: i + 1, Fragments: h.Fragments})
	}
	return out, nil
}
