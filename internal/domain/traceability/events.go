package traceability

import (
	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Aggregate type constants
const (
	AggregateTypeTransparency = "Transparency"
	AggregateTypeGapAction    = "GapAction"
)

// Event type constants
const (
	EventTypeTransparencyRecalculated = "TransparencyRecalculated"
	EventTypeGapOpened                = "GapOpened"
	EventTypeGapResolved              = "GapResolved"
)

// TransparencyRecalculatedEvent is raised when an order's scores are rewritten
type TransparencyRecalculatedEvent struct {
	shared.BaseDomainEvent
	OrderID      uuid.UUID       `json:"order_id"`
	ToMill       decimal.Decimal `json:"transparency_to_mill"`
	ToPlantation decimal.Decimal `json:"transparency_to_plantation"`
	Trigger      string          `json:"trigger"`
}

// NewTransparencyRecalculatedEvent creates a new TransparencyRecalculatedEvent
func NewTransparencyRecalculatedEvent(poID uuid.UUID, score Score, trigger string) *TransparencyRecalculatedEvent {
	return &TransparencyRecalculatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransparencyRecalculated, AggregateTypeTransparency, poID),
		OrderID:         poID,
		ToMill:          score.ToMill,
		ToPlantation:    score.ToPlantation,
		Trigger:         trigger,
	}
}

// GapOpenedEvent is raised when a gap is opened or reopened
type GapOpenedEvent struct {
	shared.BaseDomainEvent
	GapID     uuid.UUID       `json:"gap_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	CompanyID uuid.UUID       `json:"company_id"`
	Reason    GapReason       `json:"reason"`
	Unmatched decimal.Decimal `json:"unmatched_quantity"`
	Reopened  bool            `json:"reopened"`
}

// NewGapOpenedEvent creates a new GapOpenedEvent
func NewGapOpenedEvent(gap *GapAction, reopened bool) *GapOpenedEvent {
	return &GapOpenedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGapOpened, AggregateTypeGapAction, gap.ID),
		GapID:           gap.ID,
		OrderID:         gap.POID,
		CompanyID:       gap.CompanyID,
		Reason:          gap.Reason,
		Unmatched:       gap.UnmatchedQuantity,
		Reopened:        reopened,
	}
}

// GapResolvedEvent is raised when a gap is closed by a user or by recalculation
type GapResolvedEvent struct {
	shared.BaseDomainEvent
	GapID      uuid.UUID  `json:"gap_id"`
	OrderID    uuid.UUID  `json:"order_id"`
	Reason     GapReason  `json:"reason"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
}

// NewGapResolvedEvent creates a new GapResolvedEvent
func NewGapResolvedEvent(gap *GapAction) *GapResolvedEvent {
	return &GapResolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGapResolved, AggregateTypeGapAction, gap.ID),
		GapID:           gap.ID,
		OrderID:         gap.POID,
		Reason:          gap.Reason,
		ResolvedBy:      gap.ResolvedBy,
	}
}
