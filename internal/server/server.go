package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simonmoedinger/aitab/config"
	"github.com/simonmoedinger/aitab/internal/analysis"
	"github.com/simonmoedinger/aitab/internal/assistant"
	"github.com/simonmoedinger/aitab/internal/runtime"
	"github.com/simonmoedinger/aitab/internal/session"
	"github.com/simonmoedinger/aitab/internal/store"
	"github.com/simonmoedinger/aitab/internal/telemetry"
)

// Run wires all dependencies and serves the API until the listener stops.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
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
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	if !cfg.Storage.Postgres.Enabled() {
		return fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	client, err := assistant.NewClient(cfg.Assistant)
	if err != nil {
		return err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	cache := analysis.NewFileCache(cfg.Storage.Redis)
	if cache != nil {
		if err := cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w",
				cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
	}

	poller := analysis.NewPoller(client, cfg.Pipeline.PollInterval, tele, nil)
	catalog := analysis.NewCatalog(client, cache, tele, nil)
	pipeline := analysis.NewPipeline(client, poller, catalog, cfg.Assistant.AssistantID, tele, nil)
	chat := analysis.NewChat(poller, catalog, cfg.Assistant.AssistantID, tele, nil)

	sessions := session.NewManager(cfg.Pipeline.SessionTTL, nil)
	go sessions.StartSweeper(ctx, 0)

	auth := &AuthHandler{Store: st, Secret: secret}
	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	sh := &SessionsHandler{
		Store:      st,
		Sessions:   sessions,
		Pipeline:   pipeline,
		Chat:       chat,
		RunTimeout: cfg.Pipeline.RunTimeout,
		Logger:     log.New(log.Writer(), "[SESSIONS] ", log.LstdFlags),
	}
	sh.Register(api.Group("/sessions"), secret)

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10020"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
