package supplychain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// POStatus represents the lifecycle status of a purchase order
type POStatus string

const (
	POStatusPending     POStatus = "pending"
	POStatusConfirmed   POStatus = "confirmed"
	POStatusDiscrepancy POStatus = "discrepancy"
	POStatusCancelled   POStatus = "cancelled"
)

// IsValid checks if the status is a valid POStatus
func (s POStatus) IsValid() bool {
	switch s {
	case POStatusPending, POStatusConfirmed, POStatusDiscrepancy, POStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of POStatus
func (s POStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if the status can transition to the target status
func (s POStatus) CanTransitionTo(target POStatus) bool {
	switch s {
	case POStatusPending:
		return target == POStatusConfirmed || target == POStatusDiscrepancy || target == POStatusCancelled
	case POStatusDiscrepancy:
		return target == POStatusConfirmed || target == POStatusCancelled
	case POStatusConfirmed, POStatusCancelled:
		return false // Terminal states
	}
	return false
}

// IsSellerConfirmed returns true once the seller has answered the order,
// whether or not the buyer has accepted adjusted terms yet.
func (s POStatus) IsSellerConfirmed() bool {
	return s == POStatusConfirmed || s == POStatusDiscrepancy
}

// Discrepancy reasons
const (
	DiscrepancyQuantity = "quantity"
	DiscrepancyPrice    = "unit_price"
	DiscrepancyDate     = "delivery_date"
	DiscrepancyLocation = "delivery_location"
)

// StockBatchAllocation is a quantity drawn from a ledger batch to fulfil a PO
type StockBatchAllocation struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ConfirmationPayload carries the seller's counter-confirmation.
// Nil or empty fields mean "as requested by the buyer".
type ConfirmationPayload struct {
	ConfirmedQuantity         *decimal.Decimal
	ConfirmedUnitPrice        *decimal.Decimal
	ConfirmedDeliveryDate     *time.Time
	ConfirmedDeliveryLocation string
	StockBatches              []StockBatchAllocation
	ConfirmedBy               *uuid.UUID
}

// PurchaseOrder is a commercial order between a buyer and a seller company.
// It is a node of the commercial-chain graph via ParentPOID.
type PurchaseOrder struct {
	shared.BaseAggregateRoot
	PONumber         string
	BuyerCompanyID   uuid.UUID
	SellerCompanyID  uuid.UUID
	ProductID        uuid.UUID
	Quantity         decimal.Decimal
	Unit             string
	UnitPrice        decimal.Decimal
	DeliveryDate     *time.Time
	DeliveryLocation string
	Status           POStatus
	ParentPOID       *uuid.UUID
	IsDropShipment   bool

	ConfirmedQuantity         *decimal.Decimal
	ConfirmedUnitPrice        *decimal.Decimal
	ConfirmedDeliveryDate     *time.Time
	ConfirmedDeliveryLocation string
	DiscrepancyReasons        []string
	StockBatches              []StockBatchAllocation
	ConfirmedBy               *uuid.UUID
	ConfirmedAt               *time.Time
	CancelledAt               *time.Time
	CancelReason              string

	TransparencyToMill       decimal.Decimal
	TransparencyToPlantation decimal.Decimal
	TransparencyCalculatedAt *time.Time
}

// NewPurchaseOrder creates a new pending purchase order
func NewPurchaseOrder(buyerID, sellerID, productID uuid.UUID, quantity, unitPrice decimal.Decimal, unit string) (*PurchaseOrder, error) {
	if buyerID == uuid.Nil {
		return nil, shared.NewValidationError("Buyer company ID cannot be empty")
	}
	if sellerID == uuid.Nil {
		return nil, shared.NewValidationError("Seller company ID cannot be empty")
	}
	if buyerID == sellerID {
		return nil, shared.NewValidationError("Buyer and seller must be different companies")
	}
	if productID == uuid.Nil {
		return nil, shared.NewValidationError("Product ID cannot be empty")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewValidationError("Quantity must be positive")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewValidationError("Unit price cannot be negative")
	}
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return nil, shared.NewValidationError("Unit cannot be empty")
	}

	po := &PurchaseOrder{
		BaseAggregateRoot:        shared.NewBaseAggregateRoot(),
		BuyerCompanyID:           buyerID,
		SellerCompanyID:          sellerID,
		ProductID:                productID,
		Quantity:                 quantity,
		Unit:                     unit,
		UnitPrice:                unitPrice,
		Status:                   POStatusPending,
		TransparencyToMill:       decimal.Zero,
		TransparencyToPlantation: decimal.Zero,
	}
	po.PONumber = "PO-" + strings.ToUpper(po.ID.String()[:8])

	po.AddDomainEvent(NewPurchaseOrderCreatedEvent(po))

	return po, nil
}

// SetDelivery sets the buyer's requested delivery terms
func (o *PurchaseOrder) SetDelivery(date *time.Time, location string) error {
	if o.Status != POStatusPending {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot change delivery of order in %s status", o.Status))
	}
	o.DeliveryDate = date
	o.DeliveryLocation = strings.TrimSpace(location)
	o.Touch()
	return nil
}

// LinkParent attaches this order to the upstream order it helps fulfil.
// The parent's seller must be this order's buyer.
func (o *PurchaseOrder) LinkParent(parent *PurchaseOrder, dropShipment bool) error {
	if parent == nil {
		return shared.NewValidationError("Parent purchase order is required")
	}
	if parent.ID == o.ID {
		return shared.NewValidationError("Purchase order cannot be its own parent")
	}
	if parent.SellerCompanyID != o.BuyerCompanyID {
		return shared.NewValidationError(fmt.Sprintf(
			"Chain inconsistency: parent %s is sold by %s but this order is bought by %s",
			parent.ID, parent.SellerCompanyID, o.BuyerCompanyID))
	}
	if parent.Status == POStatusCancelled {
		return shared.NewDomainError(shared.CodeInvalidState, "Cannot link to a cancelled purchase order")
	}
	id := parent.ID
	o.ParentPOID = &id
	o.IsDropShipment = dropShipment
	o.Touch()
	return nil
}

// Confirm records the seller's counter-confirmation. Any difference from the
// requested terms moves the order to discrepancy instead of confirmed.
func (o *PurchaseOrder) Confirm(payload ConfirmationPayload) error {
	if o.Status != POStatusPending {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot confirm order in %s status", o.Status))
	}

	qty := o.Quantity
	if payload.ConfirmedQuantity != nil {
		qty = *payload.ConfirmedQuantity
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return shared.NewValidationError("Confirmed quantity must be positive")
	}
	price := o.UnitPrice
	if payload.ConfirmedUnitPrice != nil {
		price = *payload.ConfirmedUnitPrice
	}
	if price.IsNegative() {
		return shared.NewValidationError("Confirmed unit price cannot be negative")
	}
	if err := validateAllocations(payload.StockBatches, qty); err != nil {
		return err
	}

	date := o.DeliveryDate
	if payload.ConfirmedDeliveryDate != nil {
		date = payload.ConfirmedDeliveryDate
	}
	location := o.DeliveryLocation
	if l := strings.TrimSpace(payload.ConfirmedDeliveryLocation); l != "" {
		location = l
	}

	reasons := make([]string, 0)
	if !qty.Equal(o.Quantity) {
		reasons = append(reasons, DiscrepancyQuantity)
	}
	if !price.Equal(o.UnitPrice) {
		reasons = append(reasons, DiscrepancyPrice)
	}
	if !sameDay(date, o.DeliveryDate) {
		reasons = append(reasons, DiscrepancyDate)
	}
	if !strings.EqualFold(location, o.DeliveryLocation) {
		reasons = append(reasons, DiscrepancyLocation)
	}

	now := time.Now()
	o.ConfirmedQuantity = &qty
	o.ConfirmedUnitPrice = &price
	o.ConfirmedDeliveryDate = date
	o.ConfirmedDeliveryLocation = location
	o.StockBatches = append([]StockBatchAllocation(nil), payload.StockBatches...)
	o.DiscrepancyReasons = reasons
	o.ConfirmedBy = payload.ConfirmedBy
	o.ConfirmedAt = &now
	o.UpdatedAt = now

	if len(reasons) > 0 {
		o.Status = POStatusDiscrepancy
		o.AddDomainEvent(NewPurchaseOrderDiscrepancyRaisedEvent(o))
	} else {
		o.Status = POStatusConfirmed
	}
	o.AddDomainEvent(NewPurchaseOrderConfirmedEvent(o))

	return nil
}

// AcceptDiscrepancy records that the buyer accepted the seller's adjusted terms
func (o *PurchaseOrder) AcceptDiscrepancy() error {
	if o.Status != POStatusDiscrepancy {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot accept discrepancy of order in %s status", o.Status))
	}
	o.Status = POStatusConfirmed
	o.Touch()

	o.AddDomainEvent(NewPurchaseOrderDiscrepancyAcceptedEvent(o))

	return nil
}

// Cancel cancels the order. Returns the stock allocations that must be released.
func (o *PurchaseOrder) Cancel(reason string) ([]StockBatchAllocation, error) {
	if !o.Status.CanTransitionTo(POStatusCancelled) {
		return nil, shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot cancel order in %s status", o.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, shared.NewValidationError("Cancel reason is required")
	}

	released := o.StockBatches
	now := time.Now()
	o.Status = POStatusCancelled
	o.StockBatches = nil
	o.CancelledAt = &now
	o.CancelReason = reason
	o.UpdatedAt = now

	o.AddDomainEvent(NewPurchaseOrderCancelledEvent(o))

	return released, nil
}

// RecordTransparency stores freshly computed scores. It does not touch
// UpdatedAt: a score write is not a change of the order itself.
func (o *PurchaseOrder) RecordTransparency(toMill, toPlantation decimal.Decimal, at time.Time) {
	o.TransparencyToMill = toMill
	o.TransparencyToPlantation = toPlantation
	o.TransparencyCalculatedAt = &at
}

// EffectiveQuantity is the seller-confirmed quantity, or the requested
// quantity while unconfirmed.
func (o *PurchaseOrder) EffectiveQuantity() decimal.Decimal {
	if o.ConfirmedQuantity != nil {
		return *o.ConfirmedQuantity
	}
	return o.Quantity
}

// AllocatedQuantity sums the stock batch allocations
func (o *PurchaseOrder) AllocatedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, a := range o.StockBatches {
		total = total.Add(a.Quantity)
	}
	return total
}

// IsSellerConfirmed returns true if the seller has confirmed the order
func (o *PurchaseOrder) IsSellerConfirmed() bool {
	return o.Status.IsSellerConfirmed()
}

// HasDiscrepancy returns true if the seller's terms differ from the request
func (o *PurchaseOrder) HasDiscrepancy() bool {
	return len(o.DiscrepancyReasons) > 0
}

// IsCancelled returns true if the order is cancelled
func (o *PurchaseOrder) IsCancelled() bool {
	return o.Status == POStatusCancelled
}

// SortedAllocations returns the stock allocations ordered by batch id
func (o *PurchaseOrder) SortedAllocations() []StockBatchAllocation {
	out := append([]StockBatchAllocation(nil), o.StockBatches...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].BatchID.String() < out[j].BatchID.String()
	})
	return out
}

func validateAllocations(allocs []StockBatchAllocation, limit decimal.Decimal) error {
	seen := make(map[uuid.UUID]struct{}, len(allocs))
	total := decimal.Zero
	for _, a := range allocs {
		if a.BatchID == uuid.Nil {
			return shared.NewValidationError("Stock batch ID cannot be empty")
		}
		if _, dup := seen[a.BatchID]; dup {
			return shared.NewValidationError(fmt.Sprintf("Stock batch %s listed more than once", a.BatchID))
		}
		seen[a.BatchID] = struct{}{}
		if a.Quantity.LessThanOrEqual(decimal.Zero) {
			return shared.NewValidationError(fmt.Sprintf("Quantity drawn from batch %s must be positive", a.BatchID))
		}
		total = total.Add(a.Quantity)
	}
	if total.GreaterThan(limit) {
		return shared.NewValidationError(fmt.Sprintf("Stock batches total %s exceeds order quantity %s", total, limit))
	}
	return nil
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
