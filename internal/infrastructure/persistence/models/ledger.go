package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BatchModel is the persistence model for the Batch entity.
type BatchModel struct {
	BaseModel
	CompanyID         uuid.UUID         `gorm:"type:uuid;not null;index"`
	BatchNumber       string            `gorm:"type:varchar(50);not null;uniqueIndex"`
	Quantity          decimal.Decimal   `gorm:"type:decimal(18,4);not null"`
	ConsumedQuantity  decimal.Decimal   `gorm:"type:decimal(18,4);not null;default:0"`
	Unit              string            `gorm:"type:varchar(20);not null"`
	OriginData        datatypes.JSONMap `gorm:"column:origin_data"`
	TransparencyScore decimal.Decimal   `gorm:"type:decimal(9,6);not null;default:0"`
}

// TableName returns the table name for GORM
func (BatchModel) TableName() string {
	return "batches"
}

// ToDomain converts the persistence model to a domain Batch entity.
func (m *BatchModel) ToDomain() *ledger.Batch {
	origin := make(map[string]any, len(m.OriginData))
	for k, v := range m.OriginData {
		origin[k] = v
	}
	return &ledger.Batch{
		BaseEntity:        m.BaseModel.ToDomain(),
		CompanyID:         m.CompanyID,
		BatchNumber:       m.BatchNumber,
		Quantity:          m.Quantity,
		ConsumedQuantity:  m.ConsumedQuantity,
		Unit:              m.Unit,
		OriginData:        origin,
		TransparencyScore: m.TransparencyScore,
	}
}

// FromDomain populates the persistence model from a domain Batch entity.
func (m *BatchModel) FromDomain(b *ledger.Batch) {
	m.FromDomainBaseEntity(b.BaseEntity)
	m.CompanyID = b.CompanyID
	m.BatchNumber = b.BatchNumber
	m.Quantity = b.Quantity
	m.ConsumedQuantity = b.ConsumedQuantity
	m.Unit = b.Unit
	m.OriginData = datatypes.JSONMap(b.OriginData)
	m.TransparencyScore = b.TransparencyScore
}

// BatchModelFromDomain creates a new persistence model from a domain Batch entity.
func BatchModelFromDomain(b *ledger.Batch) *BatchModel {
	m := &BatchModel{}
	m.FromDomain(b)
	return m
}

// BatchTransactionModel is the persistence model for an append-only batch transaction.
type BatchTransactionModel struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SourceBatchID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	DestinationBatchID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Quantity           decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CreatedAt          time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BatchTransactionModel) TableName() string {
	return "batch_transactions"
}

// ToDomain converts the persistence model to a domain BatchTransaction.
func (m *BatchTransactionModel) ToDomain() ledger.BatchTransaction {
	return ledger.BatchTransaction{
		ID:                 m.ID,
		SourceBatchID:      m.SourceBatchID,
		DestinationBatchID: m.DestinationBatchID,
		Quantity:           m.Quantity,
		CreatedAt:          m.CreatedAt,
	}
}

// BatchTransactionModelFromDomain creates a new persistence model from a domain BatchTransaction.
func BatchTransactionModelFromDomain(tx *ledger.BatchTransaction) *BatchTransactionModel {
	return &BatchTransactionModel{
		ID:                 tx.ID,
		SourceBatchID:      tx.SourceBatchID,
		DestinationBatchID: tx.DestinationBatchID,
		Quantity:           tx.Quantity,
		CreatedAt:          tx.CreatedAt,
	}
}

