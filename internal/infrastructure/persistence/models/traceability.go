package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/shopspring/decimal"
)

// GapActionModel is the persistence model for a traceability gap action.
// The primary key is derived from (po_id, reason), so upserts are idempotent.
type GapActionModel struct {
	ID                uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	POID              uuid.UUID                  `gorm:"column:po_id;type:uuid;not null;index"`
	CompanyID         uuid.UUID                  `gorm:"type:uuid;not null;index:idx_gap_company_status,priority:1"`
	Reason            traceability.GapReason     `gorm:"type:varchar(40);not null"`
	ActionType        traceability.GapActionType `gorm:"type:varchar(30);not null"`
	Status            traceability.GapStatus     `gorm:"type:varchar(20);not null;default:'pending';index:idx_gap_company_status,priority:2"`
	UnmatchedQuantity decimal.Decimal            `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedBy         string                     `gorm:"type:varchar(100);not null"`
	ResolvedBy        *uuid.UUID                 `gorm:"type:uuid"`
	ResolutionNotes   string                     `gorm:"type:text"`
	ResolvedAt        *time.Time
	DetectedAt        time.Time `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null;index"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (GapActionModel) TableName() string {
	return "gap_actions"
}

// ToDomain converts the persistence model to a domain GapAction.
func (m *GapActionModel) ToDomain() *traceability.GapAction {
	return &traceability.GapAction{
		ID:                m.ID,
		POID:              m.POID,
		CompanyID:         m.CompanyID,
		Reason:            m.Reason,
		ActionType:        m.ActionType,
		Status:            m.Status,
		UnmatchedQuantity: m.UnmatchedQuantity,
		CreatedBy:         m.CreatedBy,
		ResolvedBy:        m.ResolvedBy,
		ResolutionNotes:   m.ResolutionNotes,
		ResolvedAt:        m.ResolvedAt,
		DetectedAt:        m.DetectedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// GapActionModelFromDomain creates a new persistence model from a domain GapAction.
func GapActionModelFromDomain(g *traceability.GapAction) *GapActionModel {
	return &GapActionModel{
		ID:                g.ID,
		POID:              g.POID,
		CompanyID:         g.CompanyID,
		Reason:            g.Reason,
		ActionType:        g.ActionType,
		Status:            g.Status,
		UnmatchedQuantity: g.UnmatchedQuantity,
		CreatedBy:         g.CreatedBy,
		ResolvedBy:        g.ResolvedBy,
		ResolutionNotes:   g.ResolutionNotes,
		ResolvedAt:        g.ResolvedAt,
		DetectedAt:        g.DetectedAt,
		CreatedAt:         g.CreatedAt,
		UpdatedAt:         g.UpdatedAt,
	}
}
