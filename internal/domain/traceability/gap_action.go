package traceability

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// GapReason explains why propagation could not trace part of an order
type GapReason string

const (
	GapReasonCycleDetected       GapReason = "cycle_detected"
	GapReasonMissingConfirmation GapReason = "missing_confirmation"
	GapReasonMissingFulfillment  GapReason = "missing_fulfillment"
	GapReasonMissingBatchLink    GapReason = "missing_batch_link"
)

// IsValid checks if the reason is a known GapReason
func (r GapReason) IsValid() bool {
	switch r {
	case GapReasonCycleDetected, GapReasonMissingConfirmation, GapReasonMissingFulfillment, GapReasonMissingBatchLink:
		return true
	}
	return false
}

// ActionType returns the follow-up action a gap of this reason calls for
func (r GapReason) ActionType() GapActionType {
	if r == GapReasonCycleDetected {
		return GapActionEscalate
	}
	return GapActionRequestData
}

// GapActionType is the follow-up expected from the responsible company
type GapActionType string

const (
	GapActionRequestData GapActionType = "request_data"
	GapActionEscalate    GapActionType = "escalate"
)

// GapStatus represents whether a gap is still open
type GapStatus string

const (
	GapStatusPending  GapStatus = "pending"
	GapStatusResolved GapStatus = "resolved"
)

// SystemActor is recorded as creator of gaps opened by propagation
const SystemActor = "system:gap-detector"

// AutoResolveNote is recorded when a recalculation no longer detects a gap
const AutoResolveNote = "cleared by recalculation"

var gapNamespace = uuid.MustParse("6f1c3e0a-5b7d-4c2e-9a41-0d8e2b7f3c15")

// GapID derives the stable identifier of the gap for an order and reason
func GapID(poID uuid.UUID, reason GapReason) uuid.UUID {
	return uuid.NewSHA1(gapNamespace, []byte(poID.String()+"|"+string(reason)))
}

// GapFinding is an unmatched portion of an order reported by propagation
type GapFinding struct {
	POID      uuid.UUID
	CompanyID uuid.UUID
	Reason    GapReason
	Unmatched decimal.Decimal
}

// GapAction is a durable, actionable record of a traceability gap
type GapAction struct {
	ID                uuid.UUID
	POID              uuid.UUID
	CompanyID         uuid.UUID
	Reason            GapReason
	ActionType        GapActionType
	Status            GapStatus
	UnmatchedQuantity decimal.Decimal
	CreatedBy         string
	ResolvedBy        *uuid.UUID
	ResolutionNotes   string
	ResolvedAt        *time.Time
	DetectedAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewGapAction opens a pending gap for a finding
func NewGapAction(f GapFinding) *GapAction {
	now := time.Now()
	return &GapAction{
		ID:                GapID(f.POID, f.Reason),
		POID:              f.POID,
		CompanyID:         f.CompanyID,
		Reason:            f.Reason,
		ActionType:        f.Reason.ActionType(),
		Status:            GapStatusPending,
		UnmatchedQuantity: f.Unmatched,
		CreatedBy:         SystemActor,
		DetectedAt:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsPending returns true while the gap is open
func (g *GapAction) IsPending() bool {
	return g.Status == GapStatusPending
}

// Resolve closes the gap on behalf of a user
func (g *GapAction) Resolve(userID uuid.UUID, notes string) error {
	if g.Status != GapStatusPending {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Gap %s is already %s", g.ID, g.Status))
	}
	if userID == uuid.Nil {
		return shared.NewValidationError("Resolving user is required")
	}
	now := time.Now()
	g.Status = GapStatusResolved
	g.ResolvedBy = &userID
	g.ResolutionNotes = strings.TrimSpace(notes)
	g.ResolvedAt = &now
	g.UpdatedAt = now
	return nil
}

// Redetect applies a fresh finding for the same order and reason.
// A resolved gap is reopened. Returns whether anything changed and
// whether the gap was reopened.
func (g *GapAction) Redetect(f GapFinding) (changed, reopened bool) {
	now := time.Now()
	if g.Status == GapStatusResolved {
		g.Status = GapStatusPending
		g.ResolvedBy = nil
		g.ResolvedAt = nil
		g.ResolutionNotes = ""
		reopened = true
		changed = true
	}
	if !g.UnmatchedQuantity.Equal(f.Unmatched) || g.CompanyID != f.CompanyID {
		g.UnmatchedQuantity = f.Unmatched
		g.CompanyID = f.CompanyID
		changed = true
	}
	if changed {
		g.DetectedAt = now
		g.UpdatedAt = now
	}
	return changed, reopened
}

// AutoResolve closes a pending gap that propagation no longer detects
func (g *GapAction) AutoResolve() {
	now := time.Now()
	g.Status = GapStatusResolved
	g.ResolvedBy = nil
	g.ResolutionNotes = AutoResolveNote
	g.ResolvedAt = &now
	g.UpdatedAt = now
}
