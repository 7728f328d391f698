package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store owns subscriptions, tags and trends. Every read goes to Postgres;
// nothing is cached between calls.
type Store struct {
	DB *sql.DB
}

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Tag is a normalized topic label shared by subscriptions and trends.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Trend is a persisted news item that passed deduplication.
type Trend struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	URL       string    `json:"url"`
	Source    string    `json:"source"`
	Notified  bool      `json:"notified"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTrend is an accepted candidate waiting to be persisted.
type NewTrend struct {
	Topic     string
	Summary   string
	URL       string
	Source    string
	Embedding []float32
}

// Subscription is a notification target with its tags of interest.
type Subscription struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Notes     string    `json:"notes,omitempty"`
	Tags      []Tag     `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// TagIDs returns the identifiers of the subscription's tags.
func (s Subscription) TagIDs() []int64 {
	ids := make([]int64, 0, len(s.Tags))
	for _, t := range s.Tags {
		ids = append(ids, t.ID)
	}
	return ids
}

// TagNames returns the names of the subscription's tags.
func (s Subscription) TagNames() []string {
	names := make([]string, 0, len(s.Tags))
	for _, t := range s.Tags {
		names = append(names, t.Name)
	}
	return names
}

// TrendVector is a stored embedding for a trend.
type TrendVector struct {
	TrendID int64
	Vector  []float32
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	metricsOnce      sync.Once
	persistedCounter otelmetric.Int64Counter
	notifiedCounter  otelmetric.Int64Counter
	metricsInitErr   error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	persistedCounter, err = meter.Int64Counter("trends_persisted_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	notifiedCounter, err = meter.Int64Counter("trends_notified_total")
	if err != nil {
		metricsInitErr = err
	}
}

func recordPersisted(ctx context.Context, n int) {
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr != nil || persistedCounter == nil || n <= 0 {
		return
	}
	persistedCounter.Add(ctx, int64(n))
}

func recordNotified(ctx context.Context, n int64) {
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr != nil || notifiedCounter == nil || n <= 0 {
		return
	}
	notifiedCounter.Add(ctx, n)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return fn(tx)
}

func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector value %q: %w", value, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
