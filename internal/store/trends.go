package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const trendColumns = `tr.id, tr.topic, COALESCE(tr.summary, ''), COALESCE(tr.url, ''), COALESCE(tr.source, ''), tr.notified, tr.created_at`

// TrendExists reports whether a trend with the same topic or url exists,
// compared case-insensitively.
func (s *Store) TrendExists(ctx context.Context, topic, url string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM trends
  WHERE lower(topic) = lower($1) OR ($2 <> '' AND lower(url) = lower($2))
)`, strings.TrimSpace(topic), strings.TrimSpace(url)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("trend exists: %w", err)
	}
	return exists, nil
}

// PersistTrends stores items tagged with tagName in a single transaction.
// Either every item commits or none does.
func (s *Store) PersistTrends(ctx context.Context, tagName string, items []NewTrend) ([]Trend, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]Trend, 0, len(items))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		tag, err := getOrCreateTag(ctx, tx, tagName)
		if err != nil {
			return err
		}
		for _, item := range items {
			tr, err := insertTrendTx(ctx, tx, tag.ID, item)
			if err != nil {
				return err
			}
			out = append(out, tr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordPersisted(ctx, len(out))
	return out, nil
}

func insertTrendTx(ctx context.Context, tx *sql.Tx, tagID int64, item NewTrend) (Trend, error) {
	tr := Trend{Topic: item.Topic, Summary: item.Summary, URL: item.URL, Source: item.Source}
	err := tx.QueryRowContext(ctx, `INSERT INTO trends (topic, summary, url, source) VALUES ($1,$2,$3,$4) RETURNING id, notified, created_at`,
		item.Topic, nullableString(item.Summary), nullableString(item.URL), nullableString(item.Source)).
		Scan(&tr.ID, &tr.Notified, &tr.CreatedAt)
	if err != nil {
		return Trend{}, fmt.Errorf("insert trend: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO trend_tags (trend_id, tag_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, tr.ID, tagID); err != nil {
		return Trend{}, fmt.Errorf("link trend tag: %w", err)
	}
	if len(item.Embedding) > 0 {
		lit, err := encodeVectorLiteral(item.Embedding)
		if err != nil {
			return Trend{}, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO trend_embeddings (trend_id, embedding) VALUES ($1,$2::vector)`, tr.ID, lit); err != nil {
			return Trend{}, fmt.Errorf("insert trend embedding: %w", err)
		}
	}
	return tr, nil
}

// UnsentTrendsForTags returns trends linked to any of tagIDs that have not
// been notified yet. A trend matching several tags is returned once.
func (s *Store) UnsentTrendsForTags(ctx context.Context, tagIDs []int64) ([]Trend, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT `+trendColumns+`
FROM trends tr
JOIN trend_tags tt ON tt.trend_id = tr.id
WHERE tt.tag_id = ANY($1) AND tr.notified = FALSE
ORDER BY tr.id
`, pq.Array(tagIDs))
	if err != nil {
		return nil, fmt.Errorf("unsent trends: %w", err)
	}
	defer rows.Close()
	return scanTrends(rows)
}

// MarkNotified flips notified to true for the given trends. Already
// notified rows are left alone so the flag only ever moves forward.
func (s *Store) MarkNotified(ctx context.Context, trendIDs []int64) (int64, error) {
	if len(trendIDs) == 0 {
		return 0, nil
	}
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE trends SET notified = TRUE WHERE id = ANY($1) AND notified = FALSE`, pq.Array(trendIDs))
		if err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	recordNotified(ctx, affected)
	return affected, nil
}

// RecentTopics returns the topics of the newest trends, newest first.
func (s *Store) RecentTopics(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT topic FROM trends ORDER BY id DESC LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("recent topics: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, err
		}
		out = append(out, topic)
	}
	return out, rows.Err()
}

// RecentTrends lists the newest trends, optionally restricted to one tag.
func (s *Store) RecentTrends(ctx context.Context, tag string, limit int) ([]Trend, error) {
	tag = strings.TrimSpace(tag)
	var (
		rows *sql.Rows
		err  error
	)
	if tag == "" {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+trendColumns+` FROM trends tr ORDER BY tr.id DESC LIMIT $1`, limitArg(limit))
	} else {
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+trendColumns+`
FROM trends tr
JOIN trend_tags tt ON tt.trend_id = tr.id
JOIN tags t ON t.id = tt.tag_id
WHERE lower(t.name) = lower($1)
ORDER BY tr.id DESC
LIMIT $2
`, tag, limitArg(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("recent trends: %w", err)
	}
	defer rows.Close()
	return scanTrends(rows)
}

// RecentVectors returns the newest stored trend embeddings.
func (s *Store) RecentVectors(ctx context.Context, limit int) ([]TrendVector, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT trend_id, embedding::text FROM trend_embeddings ORDER BY created_at DESC, trend_id DESC LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("recent vectors: %w", err)
	}
	defer rows.Close()
	var out []TrendVector
	for rows.Next() {
		var (
			id  int64
			lit string
		)
		if err := rows.Scan(&id, &lit); err != nil {
			return nil, err
		}
		vec, err := decodeVectorLiteral(lit)
		if err != nil {
			return nil, fmt.Errorf("trend %d: %w", id, err)
		}
		out = append(out, TrendVector{TrendID: id, Vector: vec})
	}
	return out, rows.Err()
}

func scanTrends(rows *sql.Rows) ([]Trend, error) {
	var out []Trend
	for rows.Next() {
		var tr Trend
		if err := rows.Scan(&tr.ID, &tr.Topic, &tr.Summary, &tr.URL, &tr.Source, &tr.Notified, &tr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
