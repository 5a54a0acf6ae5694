package supplychain

import (
	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Aggregate type constant
const AggregateTypePurchaseOrder = "PurchaseOrder"

// Event type constants
const (
	EventTypePurchaseOrderCreated             = "PurchaseOrderCreated"
	EventTypePurchaseOrderConfirmed           = "PurchaseOrderConfirmed"
	EventTypePurchaseOrderDiscrepancyRaised   = "PurchaseOrderDiscrepancyRaised"
	EventTypePurchaseOrderDiscrepancyAccepted = "PurchaseOrderDiscrepancyAccepted"
	EventTypePurchaseOrderCancelled           = "PurchaseOrderCancelled"
)

// PurchaseOrderCreatedEvent is raised when a new purchase order is created
type PurchaseOrderCreatedEvent struct {
	shared.BaseDomainEvent
	OrderID  uuid.UUID       `json:"order_id"`
	BuyerID  uuid.UUID       `json:"buyer_id"`
	SellerID uuid.UUID       `json:"seller_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// NewPurchaseOrderCreatedEvent creates a new PurchaseOrderCreatedEvent
func NewPurchaseOrderCreatedEvent(po *PurchaseOrder) *PurchaseOrderCreatedEvent {
	return &PurchaseOrderCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePurchaseOrderCreated, AggregateTypePurchaseOrder, po.ID),
		OrderID:         po.ID,
		BuyerID:         po.BuyerCompanyID,
		SellerID:        po.SellerCompanyID,
		Quantity:        po.Quantity,
	}
}

// PurchaseOrderConfirmedEvent is raised when the seller confirms an order
type PurchaseOrderConfirmedEvent struct {
	shared.BaseDomainEvent
	OrderID           uuid.UUID       `json:"order_id"`
	SellerID          uuid.UUID       `json:"seller_id"`
	ConfirmedQuantity decimal.Decimal `json:"confirmed_quantity"`
	StockBatchCount   int             `json:"stock_batch_count"`
	HasDiscrepancy    bool            `json:"has_discrepancy"`
}

// NewPurchaseOrderConfirmedEvent creates a new PurchaseOrderConfirmedEvent
func NewPurchaseOrderConfirmedEvent(po *PurchaseOrder) *PurchaseOrderConfirmedEvent {
	return &PurchaseOrderConfirmedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypePurchaseOrderConfirmed, AggregateTypePurchaseOrder, po.ID),
		OrderID:           po.ID,
		SellerID:          po.SellerCompanyID,
		ConfirmedQuantity: po.EffectiveQuantity(),
		StockBatchCount:   len(po.StockBatches),
		HasDiscrepancy:    po.HasDiscrepancy(),
	}
}

// PurchaseOrderDiscrepancyRaisedEvent is raised when seller terms differ from the request
type PurchaseOrderDiscrepancyRaisedEvent struct {
	shared.BaseDomainEvent
	OrderID uuid.UUID `json:"order_id"`
	BuyerID uuid.UUID `json:"buyer_id"`
	Reasons []string  `json:"reasons"`
}

// NewPurchaseOrderDiscrepancyRaisedEvent creates a new PurchaseOrderDiscrepancyRaisedEvent
func NewPurchaseOrderDiscrepancyRaisedEvent(po *PurchaseOrder) *PurchaseOrderDiscrepancyRaisedEvent {
	return &PurchaseOrderDiscrepancyRaisedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePurchaseOrderDiscrepancyRaised, AggregateTypePurchaseOrder, po.ID),
		OrderID:         po.ID,
		BuyerID:         po.BuyerCompanyID,
		Reasons:         append([]string(nil), po.DiscrepancyReasons...),
	}
}

// PurchaseOrderDiscrepancyAcceptedEvent is raised when the buyer accepts adjusted terms
type PurchaseOrderDiscrepancyAcceptedEvent struct {
	shared.BaseDomainEvent
	OrderID uuid.UUID `json:"order_id"`
}

// NewPurchaseOrderDiscrepancyAcceptedEvent creates a new PurchaseOrderDiscrepancyAcceptedEvent
func NewPurchaseOrderDiscrepancyAcceptedEvent(po *PurchaseOrder) *PurchaseOrderDiscrepancyAcceptedEvent {
	return &PurchaseOrderDiscrepancyAcceptedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePurchaseOrderDiscrepancyAccepted, AggregateTypePurchaseOrder, po.ID),
		OrderID:         po.ID,
	}
}

// PurchaseOrderCancelledEvent is raised when an order is cancelled
type PurchaseOrderCancelledEvent struct {
	shared.BaseDomainEvent
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// NewPurchaseOrderCancelledEvent creates a new PurchaseOrderCancelledEvent
func NewPurchaseOrderCancelledEvent(po *PurchaseOrder) *PurchaseOrderCancelledEvent {
	return &PurchaseOrderCancelledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePurchaseOrderCancelled, AggregateTypePurchaseOrder, po.ID),
		OrderID:         po.ID,
		Reason:          po.CancelReason,
	}
}
