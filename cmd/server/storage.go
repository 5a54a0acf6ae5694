package main

import (
	"context"
	"fmt"

	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/palmtrace/backend/internal/infrastructure/config"
	"github.com/palmtrace/backend/internal/infrastructure/persistence"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/memory"
	"github.com/palmtrace/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// repositories bundles the repository set chosen by database.driver
type repositories struct {
	companies supplychain.CompanyRepository
	orders    supplychain.PurchaseOrderRepository
	batches   ledger.BatchRepository
	gaps      traceability.GapActionRepository

	// db is nil for the memory driver
	db *persistence.Database
}

func (r *repositories) ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.Ping(ctx)
}

func (r *repositories) close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func openRepositories(ctx context.Context, cfg *config.Config, log *zap.Logger) (*repositories, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return &repositories{
			companies: store.Companies(),
			orders:    store.PurchaseOrders(),
			batches:   store.Batches(),
			gaps:      store.Gaps(),
		}, nil
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:        log.Named("gorm"),
		LogLevel:      cfg.Log.Level,
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		LogSQL:        cfg.Telemetry.DBLogFullSQL,
		Tracing: telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		},
	})
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate || cfg.Database.Driver == config.DriverSQLite {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
		log.Info("Database schema migrated")
	}

	return &repositories{
		companies: persistence.NewGormCompanyRepository(db.DB),
		orders:    persistence.NewGormPurchaseOrderRepository(db.DB),
		batches:   persistence.NewGormBatchRepository(db.DB),
		gaps:      persistence.NewGormGapActionRepository(db.DB),
		db:        db,
	}, nil
}
