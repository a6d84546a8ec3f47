package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"giveaway/internal/auth"
	"giveaway/internal/config"
	"giveaway/internal/escrow"
	"giveaway/internal/events"
	"giveaway/internal/handlers"
	"giveaway/internal/ledger"
	"giveaway/internal/metrics"
	"giveaway/internal/models"
	"giveaway/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const janitorInterval = 10 * time.Minute

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the giveaway HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			_, closeLog, err := initLogger(cfg.LogVerbose, cfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 2. Storage
	store, err := ledger.Open(ctx, cfg.LedgerOptions())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("close store: %v", err)
		}
	}()

	// 3. Token vault, event bus and the giveaway service
	vault := escrow.NewVault()
	bus := events.NewBus(reg)
	defer bus.Stop()

	svc, err := services.NewGiveawayService(services.Config{
		Store:     store,
		Transfers: vault,
		Events:    bus,
		Metrics:   metrics.New(reg),
		Custody:   models.Address(cfg.CustodyAddress),
	})
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, nil)
	if err != nil {
		return err
	}

	// 4. HTTP handler and router
	var limiter *handlers.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = handlers.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	r := gin.Default()
	handlers.NewHTTPHandler(handlers.HandlerConfig{
		Service:  svc,
		Vault:    vault,
		Tokens:   tokens,
		Bus:      bus,
		Gatherer: reg,
		Limiter:  limiter,
	}).Mount(r)

	// 5. Background janitor for idle rate limit buckets
	if limiter != nil {
		go func() {
			ticker := time.NewTicker(janitorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n := limiter.CleanUpInactive(janitorInterval)
					logger.Infof("Performed cleanup of %d inactive rate limit buckets.", n)
				}
			}
		}()
	}

	// 6. Run the server until interrupted
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s (store: %s, custody: %s)", cfg.ListenAddr, cfg.StoreBackend, cfg.CustodyAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
