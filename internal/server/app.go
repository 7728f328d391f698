package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/chat"
	"github.com/mohammad-safakhou/trendwatch/internal/dedup"
	"github.com/mohammad-safakhou/trendwatch/internal/notifier"
	"github.com/mohammad-safakhou/trendwatch/internal/pipeline"
	"github.com/mohammad-safakhou/trendwatch/internal/queue/streams"
	"github.com/mohammad-safakhou/trendwatch/internal/reasoning"
	"github.com/mohammad-safakhou/trendwatch/internal/retry"
	"github.com/mohammad-safakhou/trendwatch/internal/runtime"
	"github.com/mohammad-safakhou/trendwatch/internal/search"
	"github.com/mohammad-safakhou/trendwatch/internal/source"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// Version is reported in telemetry resources.
var Version = "dev"

const (
	unsubscribeTokenTTL = 30 * 24 * time.Hour
	streamMaxLen        = 10000
)

// App is built once at startup and handed to every surface that needs it.
type App struct {
	Config      *config.Config
	Store       *store.Store
	Redis       *redis.Client
	Dedup       *dedup.Engine
	Coordinator *pipeline.Coordinator
	Chat        *chat.Frontend
	Search      *search.Searcher
	Telemetry   *runtime.Telemetry
	Logger      *log.Logger
}

// NewApp connects to the backing services and wires the components.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logger := log.New(log.Writer(), "[APP] ", log.LstdFlags)
	app := &App{Config: cfg, Logger: logger}

	tele, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, "trendwatch", Version)
	if err != nil {
		return nil, err
	}
	app.Telemetry = tele

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	app.Store = st

	rdb, err := runtime.OpenRedis(ctx, cfg.Storage.Redis)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.Redis = rdb

	llm, err := reasoning.FromConfig(cfg.LLM, nil)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.Dedup = dedup.New(st, cfg.Dedup, dedupOptions(llm, st), nil)

	src, err := source.FromConfig(cfg.Sources, nil)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	deps := pipeline.Deps{
		Store:     st,
		Source:    src,
		Dedup:     app.Dedup,
		Notifier:  buildNotifier(cfg),
		Policy:    pipeline.RetryPolicy(cfg.Pipeline),
		Cooldowns: retry.NewMemoryCooldowns(nil),
		Events:    streams.NewPublisher(nil, 0),
		Enricher:  source.EnricherFromConfig(cfg.Sources.Enrich, nil),
		Pipeline:  cfg.Pipeline,
	}
	// interfaces only get the client when it exists
	if rdb != nil {
		deps.Cooldowns = retry.NewRedisCooldowns(rdb)
		deps.Events = streams.NewPublisher(rdb, streamMaxLen)
		deps.Locker = rdb
	}
	coord, err := pipeline.New(deps)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.Coordinator = coord

	app.Chat = &chat.Frontend{Pipeline: coord, Trends: st, Logger: log.New(log.Writer(), "[CHAT] ", log.LstdFlags)}
	if llm != nil {
		app.Chat.Classifier = reasoning.Classifier{Provider: llm}
	}
	app.Search = &search.Searcher{Trends: st}

	caps := app.Dedup.Capabilities()
	logger.Printf("ready: redis=%t semantic=%t reasoning=%t email=%t", rdb != nil, caps.Semantic, caps.Reasoning, cfg.Notifier.Enabled())
	return app, nil
}

// dedupOptions hands the model-backed tiers to the engine. The semantic tier
// is only wired when the provider can actually embed.
func dedupOptions(llm reasoning.Provider, st *store.Store) dedup.Options {
	var opts dedup.Options
	if llm == nil {
		return opts
	}
	opts.Judge = reasoning.DuplicateJudge{Provider: llm}
	opts.Topics = st
	if reasoning.CanEmbed(llm) {
		opts.Embedder = reasoning.TextEmbedder{Provider: llm}
		opts.Vectors = st
	}
	return opts
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if !cfg.Notifier.Enabled() {
		return notifier.LogNotifier{}
	}
	var sign notifier.TokenSigner
	if secret := cfg.Server.JWTSecret; secret != "" {
		sign = func(email string) (string, error) {
			return runtime.SignJWT(email, []byte(secret), unsubscribeTokenTTL, runtime.ScopeUnsubscribe)
		}
	}
	return notifier.NewEmailNotifier(cfg.Notifier, cfg.Server.PublicBaseURL, sign, nil)
}

// Close releases connections. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			a.Logger.Printf("telemetry shutdown: %v", err)
		}
	}
}
