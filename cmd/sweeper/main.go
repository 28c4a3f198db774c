package main

import (
	"context"
	"log"
	"time"

	"github.com/adiadia/keyrouter/internal/audit"
	"github.com/adiadia/keyrouter/internal/config"
	"github.com/adiadia/keyrouter/internal/logging"
	"github.com/adiadia/keyrouter/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	auditRepo := audit.NewRepository(pool, logger)

	logger.Info("sweeper started", "retention", cfg.AuditRetention.String())

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().Add(-cfg.AuditRetention)
		pruned, err := auditRepo.Prune(ctx, cutoff)
		if err != nil {
			logger.Error("prune failed", "error", err)
		} else if pruned > 0 {
			logger.Info("pruned audit records", "count", pruned, "cutoff", cutoff)
		}
		<-ticker.C
	}
}
