package persistence

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormBatchRepository implements ledger.BatchRepository using GORM.
// Draws are conditional updates, so the remaining quantity can never go
// negative even when several processes share the database.
type GormBatchRepository struct {
	db *gorm.DB
}

var _ ledger.BatchRepository = (*GormBatchRepository)(nil)

// NewGormBatchRepository creates a new GormBatchRepository
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// FindByID finds a batch by its ID
func (r *GormBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Batch, error) {
	var model models.BatchModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err, "batch", id)
	}
	return model.ToDomain(), nil
}

// Create inserts a new batch
func (r *GormBatchRepository) Create(ctx context.Context, batch *ledger.Batch) error {
	return translate(r.db.WithContext(ctx).Create(models.BatchModelFromDomain(batch)).Error, "batch", batch.ID)
}

// FindIncoming returns the transactions into a batch, oldest first
func (r *GormBatchRepository) FindIncoming(ctx context.Context, batchID uuid.UUID) ([]ledger.BatchTransaction, error) {
	var rows []models.BatchTransactionModel
	if err := r.db.WithContext(ctx).
		Where("destination_batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	txs := make([]ledger.BatchTransaction, len(rows))
	for i := range rows {
		txs[i] = rows[i].ToDomain()
	}
	return txs, nil
}

// FindOutgoing returns the transactions out of a batch, oldest first
func (r *GormBatchRepository) FindOutgoing(ctx context.Context, batchID uuid.UUID) ([]ledger.BatchTransaction, error) {
	var rows []models.BatchTransactionModel
	if err := r.db.WithContext(ctx).
		Where("source_batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	txs := make([]ledger.BatchTransaction, len(rows))
	for i := range rows {
		txs[i] = rows[i].ToDomain()
	}
	return txs, nil
}

// AppendTransaction draws from the source batch and stores tx in one transaction
func (r *GormBatchRepository) AppendTransaction(ctx context.Context, tx *ledger.BatchTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&models.BatchModel{}).Where("id = ?", tx.DestinationBatchID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.NewNotFoundError("batch", tx.DestinationBatchID)
		}
		if err := consume(db, []ledger.Draw{{BatchID: tx.SourceBatchID, Quantity: tx.Quantity}}); err != nil {
			return err
		}
		return db.Create(models.BatchTransactionModelFromDomain(tx)).Error
	})
}

// Consume draws every quantity or none
func (r *GormBatchRepository) Consume(ctx context.Context, draws []ledger.Draw) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return consume(db, draws)
	})
}

// Release returns drawn quantities, never below zero consumption
func (r *GormBatchRepository) Release(ctx context.Context, draws []ledger.Draw) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		for _, d := range merge(draws) {
			result := db.Model(&models.BatchModel{}).
				Where("id = ?", d.BatchID).
				UpdateColumn("consumed_quantity", gorm.Expr(
					"CASE WHEN consumed_quantity - ? < 0 THEN 0 ELSE consumed_quantity - ? END",
					d.Quantity, d.Quantity))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return shared.NewNotFoundError("batch", d.BatchID)
			}
		}
		return nil
	})
}

// UpdateTransparencyScore writes the derived score and bumps updated_at
func (r *GormBatchRepository) UpdateTransparencyScore(ctx context.Context, id uuid.UUID, score decimal.Decimal) error {
	result := r.db.WithContext(ctx).Model(&models.BatchModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"transparency_score": score,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("batch", id)
	}
	return nil
}

// consume applies merged draws in batch id order inside db's transaction.
// A draw whose guard fails aborts the whole transaction.
func consume(db *gorm.DB, draws []ledger.Draw) error {
	for _, d := range merge(draws) {
		result := db.Model(&models.BatchModel{}).
			Where("id = ? AND consumed_quantity + ? <= quantity", d.BatchID, d.Quantity).
			UpdateColumn("consumed_quantity", gorm.Expr("consumed_quantity + ?", d.Quantity))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			continue
		}

		var current models.BatchModel
		if err := db.Select("id", "quantity", "consumed_quantity").First(&current, "id = ?", d.BatchID).Error; err != nil {
			return translate(err, "batch", d.BatchID)
		}
		return &ledger.MassBalanceError{
			BatchID:   d.BatchID,
			Available: current.Quantity.Sub(current.ConsumedQuantity),
			Requested: d.Quantity,
		}
	}
	return nil
}

// merge sums draws per batch and orders them by id so concurrent
// multi-batch draws lock rows in the same order.
func merge(draws []ledger.Draw) []ledger.Draw {
	totals := make(map[uuid.UUID]decimal.Decimal, len(draws))
	for _, d := range draws {
		totals[d.BatchID] = totals[d.BatchID].Add(d.Quantity)
	}
	out := make([]ledger.Draw, 0, len(totals))
	for id, qty := range totals {
		out = append(out, ledger.Draw{BatchID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BatchID.String() < out[j].BatchID.String()
	})
	return out
}
