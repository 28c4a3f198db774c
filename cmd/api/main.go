// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/keyrouter/internal/audit"
	"github.com/adiadia/keyrouter/internal/config"
	"github.com/adiadia/keyrouter/internal/ledger"
	"github.com/adiadia/keyrouter/internal/logging"
	"github.com/adiadia/keyrouter/internal/matcher"
	"github.com/adiadia/keyrouter/internal/persistence/postgres"
	"github.com/adiadia/keyrouter/internal/registry"
	"github.com/adiadia/keyrouter/internal/selector"
	httptransport "github.com/adiadia/keyrouter/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema bootstrap failed: %v", err)
		}
	}

	credentialRepo := registry.NewRepository(pool, logger)
	auditRepo := audit.NewRepository(pool, logger)

	usageLedger := ledger.New(ledger.Options{
		ReservationTimeout: cfg.ReservationTimeout,
		WeekStart:          cfg.WeekStart,
		Logger:             logger,
	})
	go usageLedger.Run(ctx, 15*time.Second, auditRepo)

	var scorer matcher.Scorer = matcher.NewOverlapScorer()
	if cfg.EmbeddingURL != "" {
		scorer = matcher.NewEmbeddingScorer(cfg.EmbeddingURL, logger)
		logger.Info("using embedding scorer", "url", cfg.EmbeddingURL)
	}

	intentSelector := selector.New(
		credentialRepo,
		usageLedger,
		auditRepo,
		scorer,
		logger,
		selector.Options{
			MaxAlternatives: cfg.MaxAlternatives,
			ExpiryHorizon:   cfg.ExpiryHorizon,
		},
	)

	handler := httptransport.NewRouter(httptransport.Deps{
		Selector:             intentSelector,
		Credentials:          credentialRepo,
		Activity:             auditRepo,
		Usage:                usageLedger,
		HealthChecker:        postgres.NewSchemaHealthChecker(pool),
		Logger:               logger,
		AdminToken:           cfg.AdminToken,
		MatchRateLimitPerMin: cfg.MatchRateLimitPerMin,
		Version:              Version,
		Commit:               Commit,
		BuildDate:            BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
