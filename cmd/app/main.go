package main

import (
	"context"
	"log"
	"os"
	"time"

	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/repository"
	"onehunt_rewards/pkg/logger"

	"go.uber.org/zap"
)

const startupTimeout = 30 * time.Second

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	err = logger.Initialize(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	code := run(cfg, logger.Logger())
	_ = logger.Sync()
	os.Exit(code)
}

// run prepares the ledger and audits it. The exit code is non-zero when the
// store is unreachable or any balance disagrees with its event log.
func run(cfg *Config, zapLogger *zap.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	repo, err := repository.New(cfg.Database)
	if err != nil {
		zapLogger.Error("Failed to initialize repository", zap.Error(err))
		return 1
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		zapLogger.Error("Failed to migrate database", zap.Error(err))
		return 1
	}

	cache := catalog.NewCache(repo, cfg.Rewards.CatalogRefresh)
	snap, err := cache.Snapshot(ctx)
	if err != nil {
		zapLogger.Error("Failed to load catalog", zap.Error(err))
		return 1
	}
	zapLogger.Info("Catalog loaded",
		zap.Int("tasks", snap.TaskCount()),
		zap.Int("achievements", len(snap.Achievements())),
	)

	drift, err := repo.FindBalanceDrift(ctx)
	if err != nil {
		zapLogger.Error("Failed to audit ledger", zap.Error(err))
		return 1
	}
	for _, d := range drift {
		zapLogger.Warn("Balance does not match reward events",
			zap.Int64("user_id", d.TelegramID),
			zap.Int64("balance", d.Balance),
			zap.Int64("ledger_balance", d.LedgerBalance),
		)
	}
	if len(drift) > 0 {
		zapLogger.Error("Ledger audit failed", zap.Int("users", len(drift)))
		return 1
	}

	zapLogger.Info("Ledger audit passed", zap.String("timezone", cfg.Rewards.Timezone))
	return 0
}
