package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetOrCreateTag returns the tag matching name, creating it on first use.
// Names match case-insensitively; the first spelling stored wins.
func (s *Store) GetOrCreateTag(ctx context.Context, name string) (Tag, error) {
	return getOrCreateTag(ctx, s.DB, name)
}

func getOrCreateTag(ctx context.Context, q queryer, name string) (Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tag{}, fmt.Errorf("tag name required")
	}
	tag, err := findTag(ctx, q, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Tag{}, err
	}

	err = q.QueryRowContext(ctx, `INSERT INTO tags (name) VALUES ($1) ON CONFLICT (lower(name)) DO NOTHING RETURNING id, name`, name).
		Scan(&tag.ID, &tag.Name)
	switch {
	case err == nil:
		return tag, nil
	case errors.Is(err, sql.ErrNoRows):
		// lost an insert race; the row exists now
		return findTag(ctx, q, name)
	default:
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}
}

func findTag(ctx context.Context, q queryer, name string) (Tag, error) {
	var tag Tag
	err := q.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE lower(name) = lower($1)`, name).Scan(&tag.ID, &tag.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Tag{}, ErrNotFound
	}
	if err != nil {
		return Tag{}, fmt.Errorf("select tag: %w", err)
	}
	return tag, nil
}

// ListTopics returns distinct known topics (tags referenced by a subscription
// or a trend), most recently used first. A tag is used when a trend is filed
// under it or a subscription names it.
func (s *Store) ListTopics(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.name
FROM tags t
LEFT JOIN LATERAL (
    SELECT MAX(tr.created_at) AS at FROM trend_tags tt JOIN trends tr ON tr.id = tt.trend_id WHERE tt.tag_id = t.id
) lt ON TRUE
LEFT JOIN LATERAL (
    SELECT MAX(sb.created_at) AS at FROM subscription_tags st JOIN subscriptions sb ON sb.id = st.subscription_id WHERE st.tag_id = t.id
) ls ON TRUE
WHERE lt.at IS NOT NULL OR ls.at IS NOT NULL
ORDER BY GREATEST(lt.at, ls.at) DESC, t.id DESC
LIMIT $1
`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
