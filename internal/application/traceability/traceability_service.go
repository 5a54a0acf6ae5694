// Package traceability hosts the application services that confirm
// purchase orders, maintain the batch ledger and serve transparency scores
// and gap actions.
package traceability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/palmtrace/backend/internal/infrastructure/logger"
	"github.com/palmtrace/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const serviceName = "traceability"

// TraceabilityService exposes the supply-chain operations: order
// confirmation and cancellation, batch recording, transparency queries
// and gap handling.
type TraceabilityService struct {
	companies supplychain.CompanyRepository
	orders    supplychain.PurchaseOrderRepository
	ledger    *ledger.BatchLedger
	graph     *traceability.POGraph
	detector  *traceability.GapDetector
	recalc    *Recalculator
	locker    shared.Locker
	logger    *zap.Logger

	eventPublisher shared.EventPublisher
	metrics        *telemetry.TraceabilityMetrics
}

// NewTraceabilityService creates a new TraceabilityService
func NewTraceabilityService(
	companies supplychain.CompanyRepository,
	orders supplychain.PurchaseOrderRepository,
	batchLedger *ledger.BatchLedger,
	graph *traceability.POGraph,
	detector *traceability.GapDetector,
	recalc *Recalculator,
	locker shared.Locker,
	logger *zap.Logger,
) *TraceabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceabilityService{
		companies: companies,
		orders:    orders,
		ledger:    batchLedger,
		graph:     graph,
		detector:  detector,
		recalc:    recalc,
		locker:    locker,
		logger:    logger.Named("traceability-service"),
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *TraceabilityService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the traceability metrics collector
func (s *TraceabilityService) SetMetrics(m *telemetry.TraceabilityMetrics) {
	s.metrics = m
}

// ==================== Companies ====================

// RegisterCompany registers a supply-chain participant
func (s *TraceabilityService) RegisterCompany(ctx context.Context, req RegisterCompanyRequest) (*CompanyResponse, error) {
	company, err := supplychain.NewCompany(req.Name, supplychain.ParseCompanyRole(req.Role))
	if err != nil {
		return nil, err
	}
	if err := s.companies.Save(ctx, company); err != nil {
		return nil, err
	}
	response := ToCompanyResponse(company)
	return &response, nil
}

// GetCompany retrieves a company by ID
func (s *TraceabilityService) GetCompany(ctx context.Context, id uuid.UUID) (*CompanyResponse, error) {
	company, err := s.companies.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	response := ToCompanyResponse(company)
	return &response, nil
}

// ==================== Purchase orders ====================

// CreatePurchaseOrder creates a pending order. An order linked to a parent
// changes the parent's fulfilment, so the parent chain is rescored.
func (s *TraceabilityService) CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*PurchaseOrderResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "create_purchase_order")
	defer span.End()

	for _, id := range []uuid.UUID{req.BuyerCompanyID, req.SellerCompanyID} {
		if _, err := s.companies.FindByID(ctx, id); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	po, err := supplychain.NewPurchaseOrder(req.BuyerCompanyID, req.SellerCompanyID, req.ProductID, req.Quantity, req.UnitPrice, req.Unit)
	if err != nil {
		return nil, err
	}
	if req.DeliveryDate != nil || req.DeliveryLocation != "" {
		if err := po.SetDelivery(req.DeliveryDate, req.DeliveryLocation); err != nil {
			return nil, err
		}
	}
	if req.ParentPOID != nil {
		parent, err := s.orders.FindByID(ctx, *req.ParentPOID)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if err := po.LinkParent(parent, req.IsDropShipment); err != nil {
			return nil, err
		}
	}

	if err := s.orders.Create(ctx, po); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrPOID, po.ID)
	s.publish(ctx, po)

	if po.ParentPOID != nil {
		if _, err := s.recalc.Cascade(ctx, *po.ParentPOID, TriggerLink); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("order created but rescoring its parent failed: %w", err)
		}
	}

	telemetry.SetOK(span)
	response := ToPurchaseOrderResponse(po)
	return &response, nil
}

// GetPurchaseOrder retrieves a purchase order by ID
func (s *TraceabilityService) GetPurchaseOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrderResponse, error) {
	po, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	response := ToPurchaseOrderResponse(po)
	return &response, nil
}

// ConfirmPurchaseOrder records the seller's confirmation. Stock batches in
// the payload must belong to the seller and are drawn atomically under the
// same mass-balance guard as batch transactions. The order and its
// ancestors are rescored before returning.
func (s *TraceabilityService) ConfirmPurchaseOrder(ctx context.Context, poID uuid.UUID, req ConfirmPurchaseOrderRequest) (*PurchaseOrderResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "confirm_purchase_order",
		telemetry.WithAttribute(telemetry.SpanAttrPOID, poID),
	)
	defer span.End()

	allocations := make([]supplychain.StockBatchAllocation, 0, len(req.StockBatches))
	draws := make([]ledger.Draw, 0, len(req.StockBatches))
	for _, sb := range req.StockBatches {
		allocations = append(allocations, supplychain.StockBatchAllocation{BatchID: sb.BatchID, Quantity: sb.Quantity})
		draws = append(draws, ledger.Draw{BatchID: sb.BatchID, Quantity: sb.Quantity})
	}

	po, err := s.withOrder(ctx, poID, func(po *supplychain.PurchaseOrder) error {
		if err := s.checkOwnership(ctx, po.SellerCompanyID, draws); err != nil {
			return err
		}
		if err := po.Confirm(supplychain.ConfirmationPayload{
			ConfirmedQuantity:         req.ConfirmedQuantity,
			ConfirmedUnitPrice:        req.ConfirmedUnitPrice,
			ConfirmedDeliveryDate:     req.ConfirmedDeliveryDate,
			ConfirmedDeliveryLocation: req.ConfirmedDeliveryLocation,
			StockBatches:              allocations,
			ConfirmedBy:               req.ConfirmedBy,
		}); err != nil {
			return err
		}
		if err := s.ledger.Allocate(ctx, draws); err != nil {
			if errors.Is(err, shared.ErrMassBalance) {
				s.metrics.RecordMassBalanceRejection(ctx, "allocate")
			}
			return err
		}
		return nil
	}, func(ctx context.Context) {
		if err := s.ledger.Release(ctx, draws); err != nil {
			logger.WithLogger(ctx, s.logger).Error("failed to release allocations of unsaved confirmation",
				zap.String("po_id", poID.String()), zap.Error(err))
		}
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrPOStatus, string(po.Status))

	return s.rescored(ctx, span, po.ID, TriggerConfirmation)
}

// AcceptDiscrepancy confirms an order on the seller's adjusted terms
func (s *TraceabilityService) AcceptDiscrepancy(ctx context.Context, poID uuid.UUID) (*PurchaseOrderResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "accept_discrepancy",
		telemetry.WithAttribute(telemetry.SpanAttrPOID, poID),
	)
	defer span.End()

	if _, err := s.withOrder(ctx, poID, func(po *supplychain.PurchaseOrder) error {
		return po.AcceptDiscrepancy()
	}, nil); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return s.rescored(ctx, span, poID, TriggerDiscrepancyAccepted)
}

// CancelPurchaseOrder cancels an order, returns its stock allocations to
// their batches and rescores its ancestors.
func (s *TraceabilityService) CancelPurchaseOrder(ctx context.Context, poID uuid.UUID, req CancelPurchaseOrderRequest) (*PurchaseOrderResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "cancel_purchase_order",
		telemetry.WithAttribute(telemetry.SpanAttrPOID, poID),
	)
	defer span.End()

	var released []supplychain.StockBatchAllocation
	if _, err := s.withOrder(ctx, poID, func(po *supplychain.PurchaseOrder) error {
		var err error
		released, err = po.Cancel(req.Reason)
		return err
	}, nil); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	draws := make([]ledger.Draw, 0, len(released))
	for _, a := range released {
		draws = append(draws, ledger.Draw{BatchID: a.BatchID, Quantity: a.Quantity})
	}
	if err := s.ledger.Release(ctx, draws); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("order cancelled but releasing its stock failed: %w", err)
	}

	return s.rescored(ctx, span, poID, TriggerCancellation)
}

// withOrder loads an order under its lock, applies mutate and saves it with
// the optimistic version check. When the save fails after mutate succeeded,
// undo runs so side effects outside the order can be compensated. Domain
// events are published after the lock is released.
func (s *TraceabilityService) withOrder(
	ctx context.Context,
	poID uuid.UUID,
	mutate func(po *supplychain.PurchaseOrder) error,
	undo func(ctx context.Context),
) (*supplychain.PurchaseOrder, error) {
	release, err := s.locker.Acquire(ctx, OrderLockKey(poID))
	if err != nil {
		return nil, err
	}
	po, err := func() (*supplychain.PurchaseOrder, error) {
		defer release()

		po, err := s.orders.FindByID(ctx, poID)
		if err != nil {
			return nil, err
		}
		if err := mutate(po); err != nil {
			return nil, err
		}
		if err := s.orders.SaveWithLock(ctx, po); err != nil {
			if undo != nil {
				undo(ctx)
			}
			return nil, err
		}
		return po, nil
	}()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, po)
	return po, nil
}

// rescored cascades a recomputation from the order and returns it with its fresh scores
func (s *TraceabilityService) rescored(ctx context.Context, span trace.Span, poID uuid.UUID, trigger string) (*PurchaseOrderResponse, error) {
	outcome, err := s.recalc.Cascade(ctx, poID, trigger)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("order saved but rescoring failed: %w", err)
	}
	po, err := s.orders.FindByID(ctx, poID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if t, ok := outcome.Scores[poID]; ok {
		telemetry.SetAttributes(span,
			telemetry.SpanAttrMillScore, t.ToMill,
			telemetry.SpanAttrPlantScore, t.ToPlantation,
		)
	}
	telemetry.SetOK(span)
	response := ToPurchaseOrderResponse(po)
	return &response, nil
}

func (s *TraceabilityService) checkOwnership(ctx context.Context, sellerID uuid.UUID, draws []ledger.Draw) error {
	for _, d := range draws {
		batch, err := s.ledger.Batch(ctx, d.BatchID)
		if err != nil {
			return err
		}
		if batch.CompanyID != sellerID {
			return shared.NewValidationError(fmt.Sprintf("Batch %s is not owned by the seller", d.BatchID))
		}
	}
	return nil
}

func (s *TraceabilityService) publish(ctx context.Context, aggregates ...shared.AggregateRoot) {
	if s.eventPublisher == nil {
		for _, agg := range aggregates {
			agg.ClearDomainEvents()
		}
		return
	}
	for _, agg := range aggregates {
		events := agg.GetDomainEvents()
		agg.ClearDomainEvents()
		if len(events) == 0 {
			continue
		}
		if err := s.eventPublisher.Publish(ctx, events...); err != nil {
			logger.WithLogger(ctx, s.logger).Warn("failed to publish domain events", zap.Error(err))
		}
	}
}

// ==================== Transparency ====================

// GetTransparency returns an order's current scores, recomputing them when
// the cached result is missing or stale.
func (s *TraceabilityService) GetTransparency(ctx context.Context, poID uuid.UUID) (*TransparencyResponse, error) {
	t, source, err := s.recalc.Lookup(ctx, poID)
	if err != nil {
		return nil, err
	}
	response := toTransparencyResponse(poID, t, source)
	return &response, nil
}

// GetCommercialChain returns the ancestors of an order root first, the
// order itself and its descendants breadth first.
func (s *TraceabilityService) GetCommercialChain(ctx context.Context, poID uuid.UUID) (*CommercialChainResponse, error) {
	links, err := s.graph.CommercialChain(ctx, poID)
	if err != nil {
		return nil, err
	}
	entries := make([]ChainEntryResponse, 0, len(links))
	for _, l := range links {
		entries = append(entries, ChainEntryResponse{Depth: l.Depth, Order: ToPurchaseOrderResponse(l.Order)})
	}
	return &CommercialChainResponse{POID: poID, Orders: entries}, nil
}

// RecalculateTransparency drops cached results and recomputes either one
// order's chain or everything a company takes part in.
func (s *TraceabilityService) RecalculateTransparency(ctx context.Context, req RecalculateRequest) (*RecalculationResponse, error) {
	if (req.CompanyID == nil) == (req.POID == nil) {
		return nil, shared.NewValidationError("Exactly one of company_id and po_id is required")
	}

	var (
		outcome *Outcome
		err     error
	)
	if req.POID != nil {
		s.recalc.Invalidate(ctx, *req.POID)
		outcome, err = s.recalc.Cascade(ctx, *req.POID, TriggerManual)
	} else {
		if _, err := s.companies.FindByID(ctx, *req.CompanyID); err != nil {
			return nil, err
		}
		outcome, err = s.recalc.RecalculateCompany(ctx, *req.CompanyID, TriggerManual)
	}
	if err != nil {
		return nil, err
	}

	response := &RecalculationResponse{
		Orders:       make([]TransparencyResponse, 0, len(outcome.Order)),
		GapsOpened:   len(outcome.Gaps.Opened),
		GapsReopened: len(outcome.Gaps.Reopened),
		GapsResolved: len(outcome.Gaps.AutoResolved),
	}
	for _, id := range outcome.Order {
		response.Orders = append(response.Orders, toTransparencyResponse(id, outcome.Scores[id], SourceComputed))
	}
	return response, nil
}

// ==================== Gaps ====================

// ListGaps returns the pending gaps a company must act on
func (s *TraceabilityService) ListGaps(ctx context.Context, companyID uuid.UUID) ([]GapActionResponse, error) {
	if _, err := s.companies.FindByID(ctx, companyID); err != nil {
		return nil, err
	}
	gaps, err := s.detector.OpenGapsFor(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return ToGapActionResponses(gaps), nil
}

// ResolveGap closes a gap. Scores are not recomputed; callers request that
// explicitly once the underlying data is fixed.
func (s *TraceabilityService) ResolveGap(ctx context.Context, gapID uuid.UUID, req ResolveGapRequest) (*GapActionResponse, error) {
	gap, err := s.detector.Resolve(ctx, gapID, req.ResolvedBy, req.Notes)
	if err != nil {
		return nil, err
	}
	if s.eventPublisher != nil {
		if err := s.eventPublisher.Publish(ctx, traceability.NewGapResolvedEvent(gap)); err != nil {
			logger.WithLogger(ctx, s.logger).Warn("failed to publish gap resolution", zap.Error(err))
		}
	}
	response := ToGapActionResponse(gap)
	return &response, nil
}

// ==================== Batch ledger ====================

// RecordBatch records a batch produced or received by a company
func (s *TraceabilityService) RecordBatch(ctx context.Context, req RecordBatchRequest) (*BatchResponse, error) {
	batch, err := s.ledger.RecordBatch(ctx, req.CompanyID, req.Quantity, req.Unit, req.OriginData)
	if err != nil {
		return nil, err
	}
	response := ToBatchResponse(batch)
	return &response, nil
}

// GetBatch retrieves a batch by ID
func (s *TraceabilityService) GetBatch(ctx context.Context, id uuid.UUID) (*BatchResponse, error) {
	batch, err := s.ledger.Batch(ctx, id)
	if err != nil {
		return nil, err
	}
	response := ToBatchResponse(batch)
	return &response, nil
}

// RecordBatchTransaction draws quantity from one batch into another
func (s *TraceabilityService) RecordBatchTransaction(ctx context.Context, req RecordBatchTransactionRequest) (*BatchTransactionResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "record_batch_transaction",
		telemetry.WithAttribute(telemetry.SpanAttrBatchID, req.SourceBatchID),
		telemetry.WithAttribute(telemetry.SpanAttrQuantity, req.Quantity),
	)
	defer span.End()

	tx, err := s.ledger.RecordTransaction(ctx, req.SourceBatchID, req.DestinationBatchID, req.Quantity)
	if err != nil {
		if errors.Is(err, shared.ErrMassBalance) {
			s.metrics.RecordMassBalanceRejection(ctx, "record_transaction")
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	// orders drawing on the changed lineage keep their gaps current
	if err := s.rescoreAllocating(ctx, req.DestinationBatchID); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("transaction recorded but rescoring affected orders failed: %w", err)
	}

	telemetry.SetOK(span)
	response := ToBatchTransactionResponse(tx)
	return &response, nil
}

// rescoreAllocating cascades every live order that allocates stock from
// batchID or any batch downstream of it.
func (s *TraceabilityService) rescoreAllocating(ctx context.Context, batchID uuid.UUID) error {
	affected, err := s.ledger.Downstream(ctx, batchID)
	if err != nil {
		return err
	}
	inLineage := make(map[uuid.UUID]bool, len(affected))
	var owners []uuid.UUID
	seenOwner := make(map[uuid.UUID]bool)
	for _, id := range affected {
		inLineage[id] = true
		b, err := s.ledger.Batch(ctx, id)
		if err != nil {
			return err
		}
		if !seenOwner[b.CompanyID] {
			seenOwner[b.CompanyID] = true
			owners = append(owners, b.CompanyID)
		}
	}

	var targets []uuid.UUID
	for _, owner := range owners {
		orders, err := s.orders.FindByCompany(ctx, owner)
		if err != nil {
			return fmt.Errorf("failed to load orders of company %s: %w", owner, err)
		}
		for i := range orders {
			po := &orders[i]
			if po.SellerCompanyID != owner || po.IsCancelled() {
				continue
			}
			for _, a := range po.StockBatches {
				if inLineage[a.BatchID] {
					targets = append(targets, po.ID)
					break
				}
			}
		}
	}

	for _, id := range targets {
		if _, err := s.recalc.Cascade(ctx, id, TriggerLineage); err != nil {
			return err
		}
	}
	if len(targets) > 0 {
		logger.WithLogger(ctx, s.logger).Debug("Rescored orders after lineage change",
			zap.String("batch_id", batchID.String()),
			zap.Int("orders", len(targets)),
		)
	}
	return nil
}

// GetBatchComposition returns the origin breakdown of a batch
func (s *TraceabilityService) GetBatchComposition(ctx context.Context, batchID uuid.UUID) (*CompositionResponse, error) {
	if _, err := s.ledger.Batch(ctx, batchID); err != nil {
		return nil, err
	}
	comp, err := s.ledger.OriginComposition(ctx, batchID)
	if err != nil {
		return nil, err
	}
	response := ToCompositionResponse(batchID, comp)
	return &response, nil
}
