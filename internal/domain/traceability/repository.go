package traceability

import (
	"context"

	"github.com/google/uuid"
)

// GapActionRepository defines the interface for gap action persistence
type GapActionRepository interface {
	// FindByID finds a gap by ID, returning a NOT_FOUND error if absent
	FindByID(ctx context.Context, id uuid.UUID) (*GapAction, error)

	// FindByPO returns every gap recorded against an order
	FindByPO(ctx context.Context, poID uuid.UUID) ([]GapAction, error)

	// FindPendingByCompany returns open gaps owned by a company, oldest first
	FindPendingByCompany(ctx context.Context, companyID uuid.UUID) ([]GapAction, error)

	// Save inserts or updates a gap keyed by its ID
	Save(ctx context.Context, gap *GapAction) error
}
