package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchRepository defines the interface for batch and batch transaction persistence
type BatchRepository interface {
	// FindByID finds a batch by ID, returning a NOT_FOUND error if absent
	FindByID(ctx context.Context, id uuid.UUID) (*Batch, error)

	// Create inserts a new batch
	Create(ctx context.Context, batch *Batch) error

	// FindIncoming returns the transactions whose destination is batchID, oldest first
	FindIncoming(ctx context.Context, batchID uuid.UUID) ([]BatchTransaction, error)

	// FindOutgoing returns the transactions whose source is batchID, oldest first
	FindOutgoing(ctx context.Context, batchID uuid.UUID) ([]BatchTransaction, error)

	// AppendTransaction consumes tx.Quantity from the source batch and stores tx
	// in one atomic step. Fails with *MassBalanceError if the source would be
	// overdrawn, or a NOT_FOUND error if either batch is missing.
	AppendTransaction(ctx context.Context, tx *BatchTransaction) error

	// Consume draws every quantity or none
	Consume(ctx context.Context, draws []Draw) error

	// Release returns previously consumed quantities
	Release(ctx context.Context, draws []Draw) error

	// UpdateTransparencyScore writes the derived score and bumps updated_at
	UpdateTransparencyScore(ctx context.Context, id uuid.UUID, score decimal.Decimal) error
}
