// Package server wires the HTTP surface: auth, diagnosis sessions, one-shot
// report analysis, uploads, text-to-speech, healthz and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"medpilot/config"
	"medpilot/internal/diagnosis"
	"medpilot/internal/provider"
	"medpilot/internal/runtime"
	"medpilot/internal/storage"
	"medpilot/internal/store"
)

func Run(cfg *config.Config) error {
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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	// Postgres is optional: without it the service runs ephemeral-only and
	// every session is in-memory.
	var st *store.Store
	var primary diagnosis.SessionStore
	if dsn, err := cfg.Databases.Postgres.DSN(); err != nil {
		baseLogger.Printf("warn: %v, running with in-memory sessions only", err)
	} else {
		if merr := ApplyMigrations("file://migrations", dsn); merr != nil {
			baseLogger.Printf("warn: migrations: %v", merr)
		}
		st, err = store.NewWithDSN(ctx, dsn)
		if err != nil {
			baseLogger.Printf("warn: postgres unavailable, running with in-memory sessions only: %v", err)
			st = nil
		} else {
			primary = st
		}
	}

	provLogger := log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	prov := provider.New(cfg.LLM, provLogger)

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch := diagnosis.NewOrchestrator(cfg, prov, primary, orchLogger)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	// Redis backs the TTS audio cache. Optional: a miss on every request is
	// the only consequence of running without it.
	var rdb *redis.Client
	if addr := cfg.Databases.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Databases.Redis.Password,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			baseLogger.Printf("warn: redis unavailable, TTS cache disabled: %v", err)
			rdb = nil
		}
	}

	uploader, err := storage.NewUploader(cfg.Storage.S3, log.New(log.Writer(), "[UPLOADS] ", log.LstdFlags))
	if err != nil {
		return err
	}

	api := e.Group("/api")

	if st != nil {
		auth := &AuthHandler{Store: st, Secret: secret}
		auth.Register(api.Group("/auth"))
	} else {
		baseLogger.Printf("warn: auth endpoints disabled without postgres")
	}

	dh := NewDiagnosisHandler(orch)
	dh.Register(api.Group("/diagnosis"), secret)

	protected := api.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))
	protected.GET("/me", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"user_id": c.Get("user_id").(string)})
	})
	protected.POST("/analyze", dh.Analyze)

	tts := NewTTSHandler(prov, rdb, cfg.TTS)
	protected.POST("/tts", tts.Speak)

	uh := &UploadsHandler{Uploader: uploader}
	protected.POST("/uploads", uh.Upload)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10002"
	}
	baseLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}
