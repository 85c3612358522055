// fedid is a self-hosted ActivityPub federation engine: a relational store
// that owns all protocol state, fronted by a thin stateless HTTP proxy. It
// runs as a single binary with SQLite by default, requiring no external
// database for self-hosted deployments.
//
// Usage:
//
//	export DOMAIN=fedid.example.com
//	export DATABASE_URL=fedid.db
//	./fedid
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klppl/fedid/internal/admin"
	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/delivery"
	"github.com/klppl/fedid/internal/discovery"
	"github.com/klppl/fedid/internal/federation"
	"github.com/klppl/fedid/internal/proxy"
	"github.com/klppl/fedid/internal/sig"
	"github.com/klppl/fedid/internal/store"
)

const version = "1.0.0"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logBroadcaster := admin.NewLogBroadcaster(os.Stdout)
	slog.SetDefault(slog.New(slog.NewJSONHandler(logBroadcaster, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting fedid", "version", version)

	// ─── Configuration ────────────────────────────────────────────────────────
	cfg := config.Load()
	slog.Info("config loaded",
		"domain", cfg.Domain,
		"https", cfg.HTTPS,
		"database", cfg.DatabaseURL,
		"auto_accept_follows", cfg.AutoAcceptFollows,
	)

	// ─── Database ─────────────────────────────────────────────────────────────
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err, "url", cfg.DatabaseURL)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	// ─── Service actor key pair (auto-generated if missing) ───────────────────
	if _, err := sig.LoadOrGenerateKeyPair(cfg.RSAPrivateKeyPath, cfg.RSAPublicKeyPath); err != nil {
		slog.Error("failed to load/generate RSA key pair", "error", err)
		os.Exit(1)
	}
	slog.Info("RSA key pair ready")

	// ─── Federation engine ─────────────────────────────────────────────────────
	engine := federation.New(st, cfg)

	// ─── Discovery ─────────────────────────────────────────────────────────────
	resolver := &discovery.Resolver{Store: st, Config: cfg, Version: version}

	// ─── Admin surface + maintenance scheduler ────────────────────────────────
	adm := admin.New(st)
	adm.Logs = logBroadcaster
	scheduler, err := admin.NewScheduler(adm, cfg.CronSchedule)
	if err != nil {
		slog.Error("failed to build maintenance scheduler", "error", err, "schedule", cfg.CronSchedule)
		os.Exit(1)
	}

	// ─── Graceful shutdown ─────────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ─── Delivery worker ───────────────────────────────────────────────────────
	worker := delivery.New(st, cfg)
	go worker.Run(ctx, 5*time.Second)

	// ─── Maintenance scheduler ─────────────────────────────────────────────────
	scheduler.Start()
	defer scheduler.Stop()

	// ─── HTTP proxy ────────────────────────────────────────────────────────────
	srv := proxy.New(cfg, engine, resolver, adm)
	srv.Start(ctx) // blocks until ctx is cancelled

	slog.Info("fedid stopped")
}
