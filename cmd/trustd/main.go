// trustd is the Trust & Safety moderation daemon: it scans outbound job
// messages, bids and listings for scam and off-platform-contact risk, and
// applies the escalating account-restriction policy.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taskhive/trustengine/pkg/api"
	"github.com/taskhive/trustengine/pkg/config"
	"github.com/taskhive/trustengine/pkg/escalation"
	"github.com/taskhive/trustengine/pkg/moderation"
	"github.com/taskhive/trustengine/pkg/riskscan"
	"github.com/taskhive/trustengine/pkg/store"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("trustd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	policy := config.DefaultPolicy()
	if cfg.PolicyPath != "" {
		p, err := config.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return err
		}
		policy = p
		slog.Info("loaded moderation policy", "path", cfg.PolicyPath)
	}

	driver := cfg.DBDriver
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	st := store.NewSQLStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = st.Init(ctx)
	cancel()
	if err != nil {
		return err
	}

	scanner := riskscan.NewScanner(policy.KeywordBank(), st).WithWindows(policy.ScanWindows())
	escPolicy := escalation.NewPolicy(st, st, policy.Ladder)
	engine := moderation.NewEngine(st, scanner, escPolicy, policy.EngineConfig())

	if cfg.RedisAddr != "" {
		counter := store.NewRedisEventCounter(cfg.RedisAddr, "", 0)
		defer func() { _ = counter.Close() }()
		engine.WithRateCounter(counter)
		slog.Info("redis event counter enabled", "addr", cfg.RedisAddr)
	}

	server := api.NewServer(engine, st, cfg.AppealURL)
	limiter := api.NewIPRateLimiter(20, 40)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           limiter.Middleware(server.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("trustd listening", "port", cfg.Port, "driver", driver)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
