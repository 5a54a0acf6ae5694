package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormCompanyRepository implements supplychain.CompanyRepository using GORM
type GormCompanyRepository struct {
	db *gorm.DB
}

var _ supplychain.CompanyRepository = (*GormCompanyRepository)(nil)

// NewGormCompanyRepository creates a new GormCompanyRepository
func NewGormCompanyRepository(db *gorm.DB) *GormCompanyRepository {
	return &GormCompanyRepository{db: db}
}

// FindByID finds a company by its ID
func (r *GormCompanyRepository) FindByID(ctx context.Context, id uuid.UUID) (*supplychain.Company, error) {
	var model models.CompanyModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err, "company", id)
	}
	return model.ToDomain(), nil
}

// Save creates or updates a company
func (r *GormCompanyRepository) Save(ctx context.Context, company *supplychain.Company) error {
	return translate(r.db.WithContext(ctx).Save(models.CompanyModelFromDomain(company)).Error, "company", company.ID)
}
