package supplychain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompanyRepository defines the interface for company persistence
type CompanyRepository interface {
	// FindByID finds a company by ID, returning a NOT_FOUND error if absent
	FindByID(ctx context.Context, id uuid.UUID) (*Company, error)

	// Save creates or updates a company
	Save(ctx context.Context, company *Company) error
}

// PurchaseOrderRepository defines the interface for purchase order persistence
type PurchaseOrderRepository interface {
	// FindByID finds a purchase order by ID, returning a NOT_FOUND error if absent
	FindByID(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error)

	// FindByParent returns the orders linked to parentID, oldest first
	FindByParent(ctx context.Context, parentID uuid.UUID) ([]PurchaseOrder, error)

	// FindByCompany returns orders where the company is buyer or seller
	FindByCompany(ctx context.Context, companyID uuid.UUID) ([]PurchaseOrder, error)

	// Create inserts a new purchase order
	Create(ctx context.Context, po *PurchaseOrder) error

	// SaveWithLock updates an order if its stored version still matches,
	// then increments the version
	SaveWithLock(ctx context.Context, po *PurchaseOrder) error

	// UpdateTransparency writes only the cached score columns
	UpdateTransparency(ctx context.Context, id uuid.UUID, toMill, toPlantation decimal.Decimal, at time.Time) error
}
