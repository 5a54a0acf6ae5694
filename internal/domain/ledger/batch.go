package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
)

// OriginRoleKey is the origin_data key naming the producing role of an origin batch
const OriginRoleKey = "role"

// Batch is a company-owned physical lot of material
type Batch struct {
	shared.BaseEntity
	CompanyID         uuid.UUID
	BatchNumber       string
	Quantity          decimal.Decimal
	ConsumedQuantity  decimal.Decimal
	Unit              string
	OriginData        map[string]any
	TransparencyScore decimal.Decimal
}

// NewBatch creates a new batch with nothing consumed yet
func NewBatch(companyID uuid.UUID, quantity decimal.Decimal, unit string, originData map[string]any) (*Batch, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewValidationError("Company ID cannot be empty")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewValidationError("Batch quantity must be positive")
	}
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return nil, shared.NewValidationError("Unit cannot be empty")
	}
	if originData == nil {
		originData = map[string]any{}
	}

	b := &Batch{
		BaseEntity:        shared.NewBaseEntity(),
		CompanyID:         companyID,
		Quantity:          quantity,
		ConsumedQuantity:  decimal.Zero,
		Unit:              unit,
		OriginData:        originData,
		TransparencyScore: decimal.Zero,
	}
	b.BatchNumber = "B-" + strings.ToUpper(b.ID.String()[:8])
	return b, nil
}

// Available returns the quantity not yet drawn from the batch
func (b *Batch) Available() decimal.Decimal {
	return b.Quantity.Sub(b.ConsumedQuantity)
}

// DeclaredRole returns the producing role recorded in origin_data, if any
func (b *Batch) DeclaredRole() (supplychain.CompanyRole, bool) {
	raw, ok := b.OriginData[OriginRoleKey].(string)
	if !ok {
		return "", false
	}
	role := supplychain.ParseCompanyRole(raw)
	return role, role.IsValid()
}

// BatchTransaction records quantity drawn from a source batch into a
// destination batch. Transactions are append-only.
type BatchTransaction struct {
	ID                 uuid.UUID
	SourceBatchID      uuid.UUID
	DestinationBatchID uuid.UUID
	Quantity           decimal.Decimal
	CreatedAt          time.Time
}

// NewBatchTransaction creates a new transaction between two distinct batches
func NewBatchTransaction(sourceID, destinationID uuid.UUID, quantity decimal.Decimal) (*BatchTransaction, error) {
	if sourceID == uuid.Nil || destinationID == uuid.Nil {
		return nil, shared.NewValidationError("Source and destination batch IDs are required")
	}
	if sourceID == destinationID {
		return nil, shared.NewValidationError("A batch cannot be transformed into itself")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewValidationError("Transaction quantity must be positive")
	}
	return &BatchTransaction{
		ID:                 uuid.New(),
		SourceBatchID:      sourceID,
		DestinationBatchID: destinationID,
		Quantity:           quantity,
		CreatedAt:          time.Now(),
	}, nil
}

// Draw is a quantity taken from one batch
type Draw struct {
	BatchID  uuid.UUID
	Quantity decimal.Decimal
}

// MassBalanceError reports an attempt to draw more than a batch has left
type MassBalanceError struct {
	BatchID   uuid.UUID
	Available decimal.Decimal
	Requested decimal.Decimal
}

// Error implements the error interface
func (e *MassBalanceError) Error() string {
	return fmt.Sprintf("mass balance violation on batch %s: requested %s, available %s",
		e.BatchID, e.Requested, e.Available)
}

// Unwrap lets errors.Is match shared.ErrMassBalance
func (e *MassBalanceError) Unwrap() error {
	return shared.ErrMassBalance
}
