package traceability

import (
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/shopspring/decimal"
)

// ==================== Company DTOs ====================

// RegisterCompanyRequest represents a request to register a supply-chain participant
type RegisterCompanyRequest struct {
	Name string `json:"name" binding:"required,min=1,max=200"`
	Role string `json:"role" binding:"required"`
}

// CompanyResponse represents a company in API responses
type CompanyResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ToCompanyResponse converts a domain Company to CompanyResponse
func ToCompanyResponse(c *supplychain.Company) CompanyResponse {
	return CompanyResponse{
		ID:        c.ID,
		Name:      c.Name,
		Role:      string(c.Role),
		Tier:      c.Role.Tier().String(),
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
	}
}

// ==================== Purchase Order DTOs ====================

// CreatePurchaseOrderRequest represents a request to create a purchase order
type CreatePurchaseOrderRequest struct {
	BuyerCompanyID   uuid.UUID       `json:"buyer_company_id" binding:"required"`
	SellerCompanyID  uuid.UUID       `json:"seller_company_id" binding:"required"`
	ProductID        uuid.UUID       `json:"product_id" binding:"required"`
	Quantity         decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Unit             string          `json:"unit" binding:"required,min=1,max=20"`
	DeliveryDate     *time.Time      `json:"delivery_date"`
	DeliveryLocation string          `json:"delivery_location" binding:"max=200"`
	ParentPOID       *uuid.UUID      `json:"parent_po_id"`
	IsDropShipment   bool            `json:"is_drop_shipment"`
}

// StockBatchInput is one batch allocation in a confirmation
type StockBatchInput struct {
	BatchID  uuid.UUID       `json:"batch_id" binding:"required"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
}

// ConfirmPurchaseOrderRequest carries the seller's counter-confirmation.
// Omitted terms confirm the buyer's requested values.
type ConfirmPurchaseOrderRequest struct {
	ConfirmedQuantity         *decimal.Decimal  `json:"confirmed_quantity"`
	ConfirmedUnitPrice        *decimal.Decimal  `json:"confirmed_unit_price"`
	ConfirmedDeliveryDate     *time.Time        `json:"confirmed_delivery_date"`
	ConfirmedDeliveryLocation string            `json:"confirmed_delivery_location" binding:"max=200"`
	StockBatches              []StockBatchInput `json:"stock_batches" binding:"omitempty,dive"`
	ConfirmedBy               *uuid.UUID        `json:"confirmed_by"`
}

// CancelPurchaseOrderRequest represents a request to cancel a purchase order
type CancelPurchaseOrderRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500"`
}

// StockBatchAllocationResponse is a batch allocation in API responses
type StockBatchAllocationResponse struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// PurchaseOrderResponse represents a purchase order in API responses
type PurchaseOrderResponse struct {
	ID                        uuid.UUID                      `json:"id"`
	PONumber                  string                         `json:"po_number"`
	BuyerCompanyID            uuid.UUID                      `json:"buyer_company_id"`
	SellerCompanyID           uuid.UUID                      `json:"seller_company_id"`
	ProductID                 uuid.UUID                      `json:"product_id"`
	Quantity                  decimal.Decimal                `json:"quantity"`
	Unit                      string                         `json:"unit"`
	UnitPrice                 decimal.Decimal                `json:"unit_price"`
	DeliveryDate              *time.Time                     `json:"delivery_date,omitempty"`
	DeliveryLocation          string                         `json:"delivery_location,omitempty"`
	Status                    string                         `json:"status"`
	ParentPOID                *uuid.UUID                     `json:"parent_po_id,omitempty"`
	IsDropShipment            bool                           `json:"is_drop_shipment"`
	ConfirmedQuantity         *decimal.Decimal               `json:"confirmed_quantity,omitempty"`
	ConfirmedUnitPrice        *decimal.Decimal               `json:"confirmed_unit_price,omitempty"`
	ConfirmedDeliveryDate     *time.Time                     `json:"confirmed_delivery_date,omitempty"`
	ConfirmedDeliveryLocation string                         `json:"confirmed_delivery_location,omitempty"`
	DiscrepancyReasons        []string                       `json:"discrepancy_reasons,omitempty"`
	StockBatches              []StockBatchAllocationResponse `json:"stock_batches,omitempty"`
	ConfirmedAt               *time.Time                     `json:"confirmed_at,omitempty"`
	CancelledAt               *time.Time                     `json:"cancelled_at,omitempty"`
	CancelReason              string                         `json:"cancel_reason,omitempty"`
	TransparencyToMill        decimal.Decimal                `json:"transparency_to_mill"`
	TransparencyToPlantation  decimal.Decimal                `json:"transparency_to_plantation"`
	TransparencyCalculatedAt  *time.Time                     `json:"transparency_calculated_at,omitempty"`
	Version                   int                            `json:"version"`
	CreatedAt                 time.Time                      `json:"created_at"`
	UpdatedAt                 time.Time                      `json:"updated_at"`
}

// ToPurchaseOrderResponse converts a domain PurchaseOrder to PurchaseOrderResponse
func ToPurchaseOrderResponse(po *supplychain.PurchaseOrder) PurchaseOrderResponse {
	allocations := make([]StockBatchAllocationResponse, 0, len(po.StockBatches))
	for _, a := range po.StockBatches {
		allocations = append(allocations, StockBatchAllocationResponse{BatchID: a.BatchID, Quantity: a.Quantity})
	}
	return PurchaseOrderResponse{
		ID:                        po.ID,
		PONumber:                  po.PONumber,
		BuyerCompanyID:            po.BuyerCompanyID,
		SellerCompanyID:           po.SellerCompanyID,
		ProductID:                 po.ProductID,
		Quantity:                  po.Quantity,
		Unit:                      po.Unit,
		UnitPrice:                 po.UnitPrice,
		DeliveryDate:              po.DeliveryDate,
		DeliveryLocation:          po.DeliveryLocation,
		Status:                    string(po.Status),
		ParentPOID:                po.ParentPOID,
		IsDropShipment:            po.IsDropShipment,
		ConfirmedQuantity:         po.ConfirmedQuantity,
		ConfirmedUnitPrice:        po.ConfirmedUnitPrice,
		ConfirmedDeliveryDate:     po.ConfirmedDeliveryDate,
		ConfirmedDeliveryLocation: po.ConfirmedDeliveryLocation,
		DiscrepancyReasons:        po.DiscrepancyReasons,
		StockBatches:              allocations,
		ConfirmedAt:               po.ConfirmedAt,
		CancelledAt:               po.CancelledAt,
		CancelReason:              po.CancelReason,
		TransparencyToMill:        po.TransparencyToMill,
		TransparencyToPlantation:  po.TransparencyToPlantation,
		TransparencyCalculatedAt:  po.TransparencyCalculatedAt,
		Version:                   po.Version,
		CreatedAt:                 po.CreatedAt,
		UpdatedAt:                 po.UpdatedAt,
	}
}

// ==================== Transparency DTOs ====================

// Transparency sources
const (
	SourceCache    = "cache"
	SourceStored   = "stored"
	SourceComputed = "computed"
)

// TransparencyResponse is the traceability of one order
type TransparencyResponse struct {
	POID                     uuid.UUID       `json:"po_id"`
	TransparencyToMill       decimal.Decimal `json:"transparency_to_mill"`
	TransparencyToPlantation decimal.Decimal `json:"transparency_to_plantation"`
	CalculatedAt             time.Time       `json:"calculated_at"`
	Source                   string          `json:"source"`
}

func toTransparencyResponse(poID uuid.UUID, t traceability.Transparency, source string) TransparencyResponse {
	return TransparencyResponse{
		POID:                     poID,
		TransparencyToMill:       t.ToMill,
		TransparencyToPlantation: t.ToPlantation,
		CalculatedAt:             t.CalculatedAt,
		Source:                   source,
	}
}

// ChainEntryResponse is an order positioned in a commercial chain.
// Depth is negative for ancestors and positive for descendants.
type ChainEntryResponse struct {
	Depth int                   `json:"depth"`
	Order PurchaseOrderResponse `json:"order"`
}

// CommercialChainResponse is the chain around one order
type CommercialChainResponse struct {
	POID   uuid.UUID            `json:"po_id"`
	Orders []ChainEntryResponse `json:"orders"`
}

// RecalculateRequest selects what to recompute. Exactly one id must be set.
type RecalculateRequest struct {
	CompanyID *uuid.UUID `json:"company_id"`
	POID      *uuid.UUID `json:"po_id"`
}

// RecalculationResponse summarises a forced recomputation
type RecalculationResponse struct {
	Orders       []TransparencyResponse `json:"orders"`
	GapsOpened   int                    `json:"gaps_opened"`
	GapsReopened int                    `json:"gaps_reopened"`
	GapsResolved int                    `json:"gaps_resolved"`
}

// ==================== Gap DTOs ====================

// ResolveGapRequest represents a request to close a gap
type ResolveGapRequest struct {
	ResolvedBy uuid.UUID `json:"resolved_by" binding:"required"`
	Notes      string    `json:"notes" binding:"max=2000"`
}

// GapActionResponse represents a gap action in API responses
type GapActionResponse struct {
	ID                uuid.UUID       `json:"id"`
	POID              uuid.UUID       `json:"po_id"`
	CompanyID         uuid.UUID       `json:"company_id"`
	Reason            string          `json:"reason"`
	ActionType        string          `json:"action_type"`
	Status            string          `json:"status"`
	UnmatchedQuantity decimal.Decimal `json:"unmatched_quantity"`
	CreatedBy         string          `json:"created_by"`
	ResolvedBy        *uuid.UUID      `json:"resolved_by,omitempty"`
	ResolutionNotes   string          `json:"resolution_notes,omitempty"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	DetectedAt        time.Time       `json:"detected_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ToGapActionResponse converts a domain GapAction to GapActionResponse
func ToGapActionResponse(g *traceability.GapAction) GapActionResponse {
	return GapActionResponse{
		ID:                g.ID,
		POID:              g.POID,
		CompanyID:         g.CompanyID,
		Reason:            string(g.Reason),
		ActionType:        string(g.ActionType),
		Status:            string(g.Status),
		UnmatchedQuantity: g.UnmatchedQuantity,
		CreatedBy:         g.CreatedBy,
		ResolvedBy:        g.ResolvedBy,
		ResolutionNotes:   g.ResolutionNotes,
		ResolvedAt:        g.ResolvedAt,
		DetectedAt:        g.DetectedAt,
		CreatedAt:         g.CreatedAt,
	}
}

// ToGapActionResponses converts a slice of gap actions
func ToGapActionResponses(gaps []traceability.GapAction) []GapActionResponse {
	out := make([]GapActionResponse, len(gaps))
	for i := range gaps {
		out[i] = ToGapActionResponse(&gaps[i])
	}
	return out
}

// ==================== Batch DTOs ====================

// RecordBatchRequest represents a request to record a batch
type RecordBatchRequest struct {
	CompanyID  uuid.UUID       `json:"company_id" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity" binding:"required"`
	Unit       string          `json:"unit" binding:"required,min=1,max=20"`
	OriginData map[string]any  `json:"origin_data"`
}

// BatchResponse represents a batch in API responses
type BatchResponse struct {
	ID                uuid.UUID       `json:"id"`
	CompanyID         uuid.UUID       `json:"company_id"`
	BatchNumber       string          `json:"batch_number"`
	Quantity          decimal.Decimal `json:"quantity"`
	ConsumedQuantity  decimal.Decimal `json:"consumed_quantity"`
	Available         decimal.Decimal `json:"available"`
	Unit              string          `json:"unit"`
	OriginData        map[string]any  `json:"origin_data"`
	TransparencyScore decimal.Decimal `json:"transparency_score"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ToBatchResponse converts a domain Batch to BatchResponse
func ToBatchResponse(b *ledger.Batch) BatchResponse {
	return BatchResponse{
		ID:                b.ID,
		CompanyID:         b.CompanyID,
		BatchNumber:       b.BatchNumber,
		Quantity:          b.Quantity,
		ConsumedQuantity:  b.ConsumedQuantity,
		Available:         b.Available(),
		Unit:              b.Unit,
		OriginData:        b.OriginData,
		TransparencyScore: b.TransparencyScore,
		CreatedAt:         b.CreatedAt,
	}
}

// RecordBatchTransactionRequest represents a draw from one batch into another
type RecordBatchTransactionRequest struct {
	SourceBatchID      uuid.UUID       `json:"source_batch_id" binding:"required"`
	DestinationBatchID uuid.UUID       `json:"destination_batch_id" binding:"required"`
	Quantity           decimal.Decimal `json:"quantity" binding:"required"`
}

// BatchTransactionResponse represents a batch transaction in API responses
type BatchTransactionResponse struct {
	ID                 uuid.UUID       `json:"id"`
	SourceBatchID      uuid.UUID       `json:"source_batch_id"`
	DestinationBatchID uuid.UUID       `json:"destination_batch_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ToBatchTransactionResponse converts a domain BatchTransaction
func ToBatchTransactionResponse(tx *ledger.BatchTransaction) BatchTransactionResponse {
	return BatchTransactionResponse{
		ID:                 tx.ID,
		SourceBatchID:      tx.SourceBatchID,
		DestinationBatchID: tx.DestinationBatchID,
		Quantity:           tx.Quantity,
		CreatedAt:          tx.CreatedAt,
	}
}

// CompositionResponse is the origin breakdown of a batch
type CompositionResponse struct {
	BatchID      uuid.UUID                  `json:"batch_id"`
	Fractions    map[string]decimal.Decimal `json:"fractions"`
	Unknown      decimal.Decimal            `json:"unknown"`
	ToMill       decimal.Decimal            `json:"to_mill"`
	ToPlantation decimal.Decimal            `json:"to_plantation"`
}

// ToCompositionResponse converts a Composition
func ToCompositionResponse(batchID uuid.UUID, c ledger.Composition) CompositionResponse {
	fractions := make(map[string]decimal.Decimal, len(c.Fractions))
	for _, role := range c.Roles() {
		fractions[string(role)] = c.Fractions[role].Round(traceability.ScorePrecision)
	}
	return CompositionResponse{
		BatchID:      batchID,
		Fractions:    fractions,
		Unknown:      c.Unknown.Round(traceability.ScorePrecision),
		ToMill:       c.FractionAtOrUpstreamOf(supplychain.TierMill).Round(traceability.ScorePrecision),
		ToPlantation: c.FractionAtOrUpstreamOf(supplychain.TierPlantation).Round(traceability.ScorePrecision),
	}
}
