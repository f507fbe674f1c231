package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/devpulse-io/devpulse/internal/config"
	"github.com/devpulse-io/devpulse/pkg/auth"
	"github.com/devpulse-io/devpulse/pkg/cache"
	"github.com/devpulse-io/devpulse/pkg/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("DEVPULSE_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := cache.Select(ctx, cache.Options{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisTLS:      cfg.RedisTLS,
		TTL:           cfg.CacheTTL,
	}, logger)
	debounced := cache.NewDebounced(store, cfg.DebounceWindow, logger)

	hub := server.NewHub(debounced, prometheus.DefaultRegisterer, logger)
	if err := hub.Hydrate(ctx); err != nil {
		logger.Warn("hydration failed, starting empty", "error", err)
	}

	go hub.RunTick(ctx, cfg.TickInterval)
	go hub.RunPurge(ctx, cfg.PurgeInterval, cfg.PurgeAfter)

	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	srv := server.New(cfg.Addr, hub, verifier, logger)
	return srv.Run(ctx)
}
