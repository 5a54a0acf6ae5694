package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormGapActionRepository implements traceability.GapActionRepository using GORM
type GormGapActionRepository struct {
	db *gorm.DB
}

var _ traceability.GapActionRepository = (*GormGapActionRepository)(nil)

// NewGormGapActionRepository creates a new GormGapActionRepository
func NewGormGapActionRepository(db *gorm.DB) *GormGapActionRepository {
	return &GormGapActionRepository{db: db}
}

// FindByID finds a gap action by its ID
func (r *GormGapActionRepository) FindByID(ctx context.Context, id uuid.UUID) (*traceability.GapAction, error) {
	var model models.GapActionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err, "gap", id)
	}
	return model.ToDomain(), nil
}

// FindByPO returns every gap recorded against an order
func (r *GormGapActionRepository) FindByPO(ctx context.Context, poID uuid.UUID) ([]traceability.GapAction, error) {
	return r.find(ctx, "po_id = ?", poID)
}

// FindPendingByCompany returns open gaps owned by a company, oldest first
func (r *GormGapActionRepository) FindPendingByCompany(ctx context.Context, companyID uuid.UUID) ([]traceability.GapAction, error) {
	return r.find(ctx, "company_id = ? AND status = ?", companyID, traceability.GapStatusPending)
}

// Save inserts a gap or overwrites the stored row with the same ID
func (r *GormGapActionRepository) Save(ctx context.Context, gap *traceability.GapAction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"company_id", "status", "unmatched_quantity",
				"resolved_by", "resolution_notes", "resolved_at",
				"detected_at", "updated_at",
			}),
		}).
		Create(models.GapActionModelFromDomain(gap)).Error
}

func (r *GormGapActionRepository) find(ctx context.Context, query string, args ...any) ([]traceability.GapAction, error) {
	var rows []models.GapActionModel
	if err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	gaps := make([]traceability.GapAction, len(rows))
	for i := range rows {
		gaps[i] = *rows[i].ToDomain()
	}
	return gaps, nil
}
