package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/runtime"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

// Options tweaks Run.
type Options struct {
	// Addr overrides server.address when non-empty.
	Addr string
	// Migrate applies pending migrations before starting.
	Migrate bool
}

// Run serves the HTTP API and runs the background cycle and the notify loop
// until ctx is cancelled or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if err := checkAuthConfig(cfg); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Migrate {
		dsn, err := runtime.BuildPostgresDSN(cfg)
		if err != nil {
			return err
		}
		if err := store.Migrate(store.DefaultMigrationsDir, dsn, "up", 0); err != nil {
			return err
		}
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	e := NewEcho(app)
	addr := opts.Addr
	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.Coordinator.AutomaticAgentLoop(gctx, cfg.Pipeline.CrawlInterval)
		return nil
	})
	g.Go(func() error {
		app.Coordinator.NotifyLoop(gctx, cfg.Notifier.EmailSendInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// checkAuthConfig refuses to serve admin routes without a signing secret.
func checkAuthConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Server.JWTSecret) == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	return nil
}

// NewEcho builds the router for app.
func NewEcho(app *App) *echo.Echo {
	e := newEcho()
	if app.Config.Telemetry.Enabled {
		path := app.Config.Telemetry.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(promhttp.Handler()))
	}
	h := &Handler{
		Store:             app.Store,
		Pipeline:          app.Coordinator,
		Chat:              app.Chat,
		Search:            app.Search,
		Secret:            []byte(app.Config.Server.JWTSecret),
		AdminEmail:        app.Config.Server.AdminEmail,
		AdminPasswordHash: app.Config.Server.AdminPasswordHash,
	}
	h.Register(e.Group("/api"))
	return e
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}
