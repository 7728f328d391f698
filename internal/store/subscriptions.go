package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// NormalizeEmail trims and lowercases an address so one mailbox maps to one row.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertSubscription creates the subscription for email or merges topics into
// the existing one. Notes are replaced only when non-empty.
func (s *Store) UpsertSubscription(ctx context.Context, email string, topics []string, notes string) (Subscription, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Subscription{}, fmt.Errorf("email required")
	}
	var sub Subscription
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
INSERT INTO subscriptions (email, notes) VALUES ($1,$2)
ON CONFLICT (email) DO UPDATE SET notes = COALESCE(EXCLUDED.notes, subscriptions.notes)
RETURNING id, email, COALESCE(notes, ''), created_at
`, email, nullableString(strings.TrimSpace(notes))).Scan(&sub.ID, &sub.Email, &sub.Notes, &sub.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
		for _, topic := range uniqueFold(topics) {
			tag, err := getOrCreateTag(ctx, tx, topic)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO subscription_tags (subscription_id, tag_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, sub.ID, tag.ID); err != nil {
				return fmt.Errorf("link subscription tag: %w", err)
			}
		}
		sub.Tags, err = subscriptionTags(ctx, tx, sub.ID)
		return err
	})
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// RemoveSubscription deletes the subscription and its tag links. Tags stay.
func (s *Store) RemoveSubscription(ctx context.Context, email string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE email = $1`, NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetSubscription loads one subscription with its tags.
func (s *Store) GetSubscription(ctx context.Context, email string) (Subscription, error) {
	var sub Subscription
	err := s.DB.QueryRowContext(ctx, `SELECT id, email, COALESCE(notes, ''), created_at FROM subscriptions WHERE email = $1`, NormalizeEmail(email)).
		Scan(&sub.ID, &sub.Email, &sub.Notes, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("select subscription: %w", err)
	}
	sub.Tags, err = subscriptionTags(ctx, s.DB, sub.ID)
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// ListSubscriptionsWithTags returns every subscription with its tags.
func (s *Store) ListSubscriptionsWithTags(ctx context.Context) ([]Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT s.id, s.email, COALESCE(s.notes, ''), s.created_at, t.id, t.name
FROM subscriptions s
LEFT JOIN subscription_tags st ON st.subscription_id = s.id
LEFT JOIN tags t ON t.id = st.tag_id
ORDER BY s.id, t.id
`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub     Subscription
			tagID   sql.NullInt64
			tagName sql.NullString
		)
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Notes, &sub.CreatedAt, &tagID, &tagName); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != sub.ID {
			sub.Tags = []Tag{}
			out = append(out, sub)
		}
		if tagID.Valid {
			last := &out[len(out)-1]
			last.Tags = append(last.Tags, Tag{ID: tagID.Int64, Name: tagName.String})
		}
	}
	return out, rows.Err()
}

func subscriptionTags(ctx context.Context, q queryer, subscriptionID int64) ([]Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT t.id, t.name FROM tags t JOIN subscription_tags st ON st.tag_id = t.id WHERE st.subscription_id = $1 ORDER BY t.id`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("subscription tags: %w", err)
	}
	defer rows.Close()
	tags := []Tag{}
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// uniqueFold trims values and drops case-insensitive repeats, keeping order.
func uniqueFold(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
