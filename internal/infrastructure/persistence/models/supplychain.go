package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CompanyModel is the persistence model for the Company entity.
type CompanyModel struct {
	BaseModel
	Name   string                    `gorm:"type:varchar(200);not null"`
	Role   supplychain.CompanyRole   `gorm:"type:varchar(30);not null;index"`
	Status supplychain.CompanyStatus `gorm:"type:varchar(20);not null;default:'active'"`
}

// TableName returns the table name for GORM
func (CompanyModel) TableName() string {
	return "companies"
}

// ToDomain converts the persistence model to a domain Company entity.
func (m *CompanyModel) ToDomain() *supplychain.Company {
	return &supplychain.Company{
		BaseEntity: m.BaseModel.ToDomain(),
		Name:       m.Name,
		Role:       m.Role,
		Status:     m.Status,
	}
}

// FromDomain populates the persistence model from a domain Company entity.
func (m *CompanyModel) FromDomain(c *supplychain.Company) {
	m.FromDomainBaseEntity(c.BaseEntity)
	m.Name = c.Name
	m.Role = c.Role
	m.Status = c.Status
}

// CompanyModelFromDomain creates a new persistence model from a domain Company entity.
func CompanyModelFromDomain(c *supplychain.Company) *CompanyModel {
	m := &CompanyModel{}
	m.FromDomain(c)
	return m
}

// StockBatchAllocationModel is one element of purchase_orders.stock_batches.
type StockBatchAllocationModel struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// PurchaseOrderModel is the persistence model for the PurchaseOrder aggregate root.
type PurchaseOrderModel struct {
	AggregateModel
	PONumber         string               `gorm:"type:varchar(50);not null;uniqueIndex"`
	BuyerCompanyID   uuid.UUID            `gorm:"type:uuid;not null;index"`
	SellerCompanyID  uuid.UUID            `gorm:"type:uuid;not null;index"`
	ProductID        uuid.UUID            `gorm:"type:uuid;not null"`
	Quantity         decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	Unit             string               `gorm:"type:varchar(20);not null"`
	UnitPrice        decimal.Decimal      `gorm:"type:decimal(18,4);not null;default:0"`
	DeliveryDate     *time.Time           `gorm:"type:date"`
	DeliveryLocation string               `gorm:"type:varchar(300)"`
	Status           supplychain.POStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	ParentPOID       *uuid.UUID           `gorm:"column:parent_po_id;type:uuid;index"`
	IsDropShipment   bool                 `gorm:"not null;default:false"`

	ConfirmedQuantity         *decimal.Decimal                               `gorm:"type:decimal(18,4)"`
	ConfirmedUnitPrice        *decimal.Decimal                               `gorm:"type:decimal(18,4)"`
	ConfirmedDeliveryDate     *time.Time                                     `gorm:"type:date"`
	ConfirmedDeliveryLocation string                                         `gorm:"type:varchar(300)"`
	DiscrepancyReasons        datatypes.JSONSlice[string]
	StockBatches              datatypes.JSONSlice[StockBatchAllocationModel]
	ConfirmedBy               *uuid.UUID                                     `gorm:"type:uuid"`
	ConfirmedAt               *time.Time
	CancelledAt               *time.Time
	CancelReason              string `gorm:"type:varchar(500)"`

	TransparencyToMill       decimal.Decimal `gorm:"type:decimal(9,6);not null;default:0"`
	TransparencyToPlantation decimal.Decimal `gorm:"type:decimal(9,6);not null;default:0"`
	TransparencyCalculatedAt *time.Time
}

// TableName returns the table name for GORM
func (PurchaseOrderModel) TableName() string {
	return "purchase_orders"
}

// ToDomain converts the persistence model to a domain PurchaseOrder aggregate.
func (m *PurchaseOrderModel) ToDomain() *supplychain.PurchaseOrder {
	po := &supplychain.PurchaseOrder{
		BaseAggregateRoot:         m.ToDomainAggregateRoot(),
		PONumber:                  m.PONumber,
		BuyerCompanyID:            m.BuyerCompanyID,
		SellerCompanyID:           m.SellerCompanyID,
		ProductID:                 m.ProductID,
		Quantity:                  m.Quantity,
		Unit:                      m.Unit,
		UnitPrice:                 m.UnitPrice,
		DeliveryDate:              m.DeliveryDate,
		DeliveryLocation:          m.DeliveryLocation,
		Status:                    m.Status,
		ParentPOID:                m.ParentPOID,
		IsDropShipment:            m.IsDropShipment,
		ConfirmedQuantity:         m.ConfirmedQuantity,
		ConfirmedUnitPrice:        m.ConfirmedUnitPrice,
		ConfirmedDeliveryDate:     m.ConfirmedDeliveryDate,
		ConfirmedDeliveryLocation: m.ConfirmedDeliveryLocation,
		DiscrepancyReasons:        append([]string(nil), m.DiscrepancyReasons...),
		ConfirmedBy:               m.ConfirmedBy,
		ConfirmedAt:               m.ConfirmedAt,
		CancelledAt:               m.CancelledAt,
		CancelReason:              m.CancelReason,
		TransparencyToMill:        m.TransparencyToMill,
		TransparencyToPlantation:  m.TransparencyToPlantation,
		TransparencyCalculatedAt:  m.TransparencyCalculatedAt,
	}
	if len(m.StockBatches) > 0 {
		po.StockBatches = make([]supplychain.StockBatchAllocation, len(m.StockBatches))
		for i, a := range m.StockBatches {
			po.StockBatches[i] = supplychain.StockBatchAllocation{BatchID: a.BatchID, Quantity: a.Quantity}
		}
	}
	return po
}

// FromDomain populates the persistence model from a domain PurchaseOrder aggregate.
func (m *PurchaseOrderModel) FromDomain(o *supplychain.PurchaseOrder) {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.PONumber = o.PONumber
	m.BuyerCompanyID = o.BuyerCompanyID
	m.SellerCompanyID = o.SellerCompanyID
	m.ProductID = o.ProductID
	m.Quantity = o.Quantity
	m.Unit = o.Unit
	m.UnitPrice = o.UnitPrice
	m.DeliveryDate = o.DeliveryDate
	m.DeliveryLocation = o.DeliveryLocation
	m.Status = o.Status
	m.ParentPOID = o.ParentPOID
	m.IsDropShipment = o.IsDropShipment
	m.ConfirmedQuantity = o.ConfirmedQuantity
	m.ConfirmedUnitPrice = o.ConfirmedUnitPrice
	m.ConfirmedDeliveryDate = o.ConfirmedDeliveryDate
	m.ConfirmedDeliveryLocation = o.ConfirmedDeliveryLocation
	m.DiscrepancyReasons = datatypes.JSONSlice[string](append([]string{}, o.DiscrepancyReasons...))
	m.StockBatches = make(datatypes.JSONSlice[StockBatchAllocationModel], len(o.StockBatches))
	for i, a := range o.StockBatches {
		m.StockBatches[i] = StockBatchAllocationModel{BatchID: a.BatchID, Quantity: a.Quantity}
	}
	m.ConfirmedBy = o.ConfirmedBy
	m.ConfirmedAt = o.ConfirmedAt
	m.CancelledAt = o.CancelledAt
	m.CancelReason = o.CancelReason
	m.TransparencyToMill = o.TransparencyToMill
	m.TransparencyToPlantation = o.TransparencyToPlantation
	m.TransparencyCalculatedAt = o.TransparencyCalculatedAt
}

// PurchaseOrderModelFromDomain creates a new persistence model from a domain PurchaseOrder aggregate.
func PurchaseOrderModelFromDomain(o *supplychain.PurchaseOrder) *PurchaseOrderModel {
	m := &PurchaseOrderModel{}
	m.FromDomain(o)
	return m
}
