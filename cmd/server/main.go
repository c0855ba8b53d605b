package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/api"
	"github.com/gyaneshwarpardhi/vitalsync/internal/config"
	"github.com/gyaneshwarpardhi/vitalsync/internal/idempotency"
	"github.com/gyaneshwarpardhi/vitalsync/internal/ingest"
	"github.com/gyaneshwarpardhi/vitalsync/internal/normalizer"
	"github.com/gyaneshwarpardhi/vitalsync/internal/poll"
	"github.com/gyaneshwarpardhi/vitalsync/internal/schema"
	"github.com/gyaneshwarpardhi/vitalsync/internal/store"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/vitalsync.yaml", "Path to YAML config")
	flag.Parse()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath, nil)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	// ── Logging ──────────────────────────────────────────────────────────────
	var level slog.LevelVar
	lvl, _ := config.ParseLevel(cfg.Logging.Level)
	level.Set(lvl)
	logger := slog.New(newLogHandler(os.Stdout, cfg.Logging.Format, &level))
	slog.SetDefault(logger)

	// ── Storage ──────────────────────────────────────────────────────────────
	st, err := store.Open(cfg.Store.DSN, cfg.Store.OpTimeout)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	cache, err := idempotency.Open(cfg.Cache.URL, cfg.Cache.TTL)
	if err != nil {
		slog.Error("failed to open idempotency cache", "err", err)
		os.Exit(1)
	}
	defer cache.Close()

	// ── Pipeline ─────────────────────────────────────────────────────────────
	validator, err := schema.New()
	if err != nil {
		slog.Error("failed to compile schemas", "err", err)
		os.Exit(1)
	}
	reg := normalizer.Default()
	slog.Info("normalizers registered", "sources", reg.Sources())

	pipeline := ingest.NewPipeline(reg, validator, cache, st, ingest.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := ingest.NewEngine(ctx, pipeline, cfg.Ingest, logger)

	// ── Polling ──────────────────────────────────────────────────────────────
	poller := poll.New(eng, cfg.Poll, poll.WithLogger(logger))
	poller.Start(ctx)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	// Listener, store, cache and ingest sizing need a restart; logging level,
	// webhook rules, server limits and poll jobs apply immediately.
	loader.OnChange(func(newCfg *config.Config) {
		if l, err := config.ParseLevel(newCfg.Logging.Level); err == nil {
			level.Set(l)
		}
		poller.Reload(newCfg.Poll)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(eng, st, loader, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr, "store", storeScheme(cfg.Store.DSN))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	poller.Stop()
	eng.Shutdown() // drains queued deliveries before the store closes
	cancel()
	slog.Info("goodbye")
}

func newLogHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// storeScheme keeps credentials in the DSN out of the logs.
func storeScheme(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return dsn[:i]
	}
	return "unknown"
}
