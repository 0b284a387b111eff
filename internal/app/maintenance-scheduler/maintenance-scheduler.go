// Package maintenancescheduler собирает планировщик фоновых зачисток
// подписок.
package maintenancescheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/cache"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/config"
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
	maintenanceservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/maintenance"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/storage/repository"
)

// App представляет приложение планировщика зачисток.
type App struct {
	maintenanceService *maintenanceservice.MaintenanceService
	db                 *repository.Storage
	logger             *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика зачисток.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(db); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	packs := lifecycleservice.NewCachedPackProvider(db, cacheRedis, logger)
	lifecycle := lifecycleservice.New(db, packs, logger)
	maintenanceService := maintenanceservice.NewMaintenanceService(lifecycle, cfg.Maintenance, logger)

	return &App{
		maintenanceService: maintenanceService,
		db:                 db,
		logger:             logger,
	}, nil
}

// Run запускает обе зачистки и ждёт отмены контекста.
func (a *App) Run(ctx context.Context) error {
	go a.maintenanceService.RunCompleteSweep(ctx)
	go a.maintenanceService.RunPurgeSweep(ctx)

	<-ctx.Done()

	a.logger.Info("shutting down maintenance scheduler")
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close storage", slog.Any("err", err))
	}
	return nil
}
