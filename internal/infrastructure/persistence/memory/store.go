// Package memory provides in-process repository implementations for
// development and tests. All repositories of one Store share a lock, so
// multi-row operations are atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/shopspring/decimal"
)

// Store holds every aggregate in maps guarded by one RWMutex
type Store struct {
	mu           sync.RWMutex
	companies    map[uuid.UUID]supplychain.Company
	orders       map[uuid.UUID]supplychain.PurchaseOrder
	batches      map[uuid.UUID]ledger.Batch
	transactions map[uuid.UUID][]ledger.BatchTransaction // keyed by destination
	gaps         map[uuid.UUID]traceability.GapAction
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		companies:    make(map[uuid.UUID]supplychain.Company),
		orders:       make(map[uuid.UUID]supplychain.PurchaseOrder),
		batches:      make(map[uuid.UUID]ledger.Batch),
		transactions: make(map[uuid.UUID][]ledger.BatchTransaction),
		gaps:         make(map[uuid.UUID]traceability.GapAction),
	}
}

// Companies returns the company repository view of the store
func (s *Store) Companies() *CompanyRepository { return &CompanyRepository{s: s} }

// PurchaseOrders returns the purchase order repository view of the store
func (s *Store) PurchaseOrders() *PurchaseOrderRepository { return &PurchaseOrderRepository{s: s} }

// Batches returns the batch repository view of the store
func (s *Store) Batches() *BatchRepository { return &BatchRepository{s: s} }

// Gaps returns the gap action repository view of the store
func (s *Store) Gaps() *GapActionRepository { return &GapActionRepository{s: s} }

// =============================================================================
// Companies
// =============================================================================

// CompanyRepository is the in-memory supplychain.CompanyRepository
type CompanyRepository struct{ s *Store }

var _ supplychain.CompanyRepository = (*CompanyRepository)(nil)

// FindByID finds a company by ID
func (r *CompanyRepository) FindByID(_ context.Context, id uuid.UUID) (*supplychain.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, shared.NewNotFoundError("company", id)
	}
	return &c, nil
}

// Save creates or updates a company
func (r *CompanyRepository) Save(_ context.Context, company *supplychain.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.companies[company.ID] = *company
	return nil
}

// =============================================================================
// Purchase orders
// =============================================================================

// PurchaseOrderRepository is the in-memory supplychain.PurchaseOrderRepository
type PurchaseOrderRepository struct{ s *Store }

var _ supplychain.PurchaseOrderRepository = (*PurchaseOrderRepository)(nil)

// FindByID finds an order by ID
func (r *PurchaseOrderRepository) FindByID(_ context.Context, id uuid.UUID) (*supplychain.PurchaseOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	po, ok := r.s.orders[id]
	if !ok {
		return nil, shared.NewNotFoundError("purchase order", id)
	}
	out := cloneOrder(po)
	return &out, nil
}

// FindByParent returns the children of an order, oldest first
func (r *PurchaseOrderRepository) FindByParent(_ context.Context, parentID uuid.UUID) ([]supplychain.PurchaseOrder, error) {
	return r.filter(func(po *supplychain.PurchaseOrder) bool {
		return po.ParentPOID != nil && *po.ParentPOID == parentID
	}), nil
}

// FindByCompany returns orders where the company is buyer or seller
func (r *PurchaseOrderRepository) FindByCompany(_ context.Context, companyID uuid.UUID) ([]supplychain.PurchaseOrder, error) {
	return r.filter(func(po *supplychain.PurchaseOrder) bool {
		return po.BuyerCompanyID == companyID || po.SellerCompanyID == companyID
	}), nil
}

// Create inserts a new order
func (r *PurchaseOrderRepository) Create(_ context.Context, po *supplychain.PurchaseOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[po.ID]; exists {
		return shared.ErrAlreadyExists
	}
	r.s.orders[po.ID] = cloneOrder(*po)
	return nil
}

// SaveWithLock updates an order if its version is unchanged
func (r *PurchaseOrderRepository) SaveWithLock(_ context.Context, po *supplychain.PurchaseOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.orders[po.ID]
	if !ok {
		return shared.NewNotFoundError("purchase order", po.ID)
	}
	if current.Version != po.Version {
		return shared.ErrConcurrencyConflict
	}
	po.Version++
	// score columns are owned by UpdateTransparency
	po.TransparencyToMill = current.TransparencyToMill
	po.TransparencyToPlantation = current.TransparencyToPlantation
	po.TransparencyCalculatedAt = current.TransparencyCalculatedAt
	r.s.orders[po.ID] = cloneOrder(*po)
	return nil
}

// UpdateTransparency writes the score columns only
func (r *PurchaseOrderRepository) UpdateTransparency(_ context.Context, id uuid.UUID, toMill, toPlantation decimal.Decimal, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	po, ok := r.s.orders[id]
	if !ok {
		return shared.NewNotFoundError("purchase order", id)
	}
	po.RecordTransparency(toMill, toPlantation, at)
	r.s.orders[id] = po
	return nil
}

func (r *PurchaseOrderRepository) filter(keep func(*supplychain.PurchaseOrder) bool) []supplychain.PurchaseOrder {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]supplychain.PurchaseOrder, 0)
	for _, po := range r.s.orders {
		if keep(&po) {
			out = append(out, cloneOrder(po))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func cloneOrder(po supplychain.PurchaseOrder) supplychain.PurchaseOrder {
	po.StockBatches = append([]supplychain.StockBatchAllocation(nil), po.StockBatches...)
	po.DiscrepancyReasons = append([]string(nil), po.DiscrepancyReasons...)
	po.ClearDomainEvents()
	return po
}

// =============================================================================
// Batches
// =============================================================================

// BatchRepository is the in-memory ledger.BatchRepository
type BatchRepository struct{ s *Store }

var _ ledger.BatchRepository = (*BatchRepository)(nil)

// FindByID finds a batch by ID
func (r *BatchRepository) FindByID(_ context.Context, id uuid.UUID) (*ledger.Batch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil, shared.NewNotFoundError("batch", id)
	}
	out := cloneBatch(b)
	return &out, nil
}

// Create inserts a new batch
func (r *BatchRepository) Create(_ context.Context, batch *ledger.Batch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.batches[batch.ID]; exists {
		return shared.ErrAlreadyExists
	}
	r.s.batches[batch.ID] = cloneBatch(*batch)
	return nil
}

// FindIncoming returns transactions into a batch, oldest first
func (r *BatchRepository) FindIncoming(_ context.Context, batchID uuid.UUID) ([]ledger.BatchTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]ledger.BatchTransaction(nil), r.s.transactions[batchID]...), nil
}

// FindOutgoing returns transactions out of a batch, oldest first
func (r *BatchRepository) FindOutgoing(_ context.Context, batchID uuid.UUID) ([]ledger.BatchTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []ledger.BatchTransaction
	for _, txs := range r.s.transactions {
		for _, tx := range txs {
			if tx.SourceBatchID == batchID {
				out = append(out, tx)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// AppendTransaction draws from the source and stores tx atomically
func (r *BatchRepository) AppendTransaction(_ context.Context, tx *ledger.BatchTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.batches[tx.DestinationBatchID]; !ok {
		return shared.NewNotFoundError("batch", tx.DestinationBatchID)
	}
	if err := r.consumeLocked([]ledger.Draw{{BatchID: tx.SourceBatchID, Quantity: tx.Quantity}}); err != nil {
		return err
	}
	r.s.transactions[tx.DestinationBatchID] = append(r.s.transactions[tx.DestinationBatchID], *tx)
	return nil
}

// Consume draws every quantity or none
func (r *BatchRepository) Consume(_ context.Context, draws []ledger.Draw) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.consumeLocked(draws)
}

// Release returns drawn quantities, never below zero consumption
func (r *BatchRepository) Release(_ context.Context, draws []ledger.Draw) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range draws {
		b, ok := r.s.batches[d.BatchID]
		if !ok {
			return shared.NewNotFoundError("batch", d.BatchID)
		}
		b.ConsumedQuantity = decimal.Max(decimal.Zero, b.ConsumedQuantity.Sub(d.Quantity))
		r.s.batches[d.BatchID] = b
	}
	return nil
}

// UpdateTransparencyScore writes the derived score
func (r *BatchRepository) UpdateTransparencyScore(_ context.Context, id uuid.UUID, score decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return shared.NewNotFoundError("batch", id)
	}
	b.TransparencyScore = score
	b.UpdatedAt = time.Now()
	r.s.batches[id] = b
	return nil
}

// consumeLocked validates all draws before applying any; the caller holds mu.
func (r *BatchRepository) consumeLocked(draws []ledger.Draw) error {
	pending := make(map[uuid.UUID]decimal.Decimal, len(draws))
	for _, d := range draws {
		b, ok := r.s.batches[d.BatchID]
		if !ok {
			return shared.NewNotFoundError("batch", d.BatchID)
		}
		requested := pending[d.BatchID].Add(d.Quantity)
		if b.ConsumedQuantity.Add(requested).GreaterThan(b.Quantity) {
			return &ledger.MassBalanceError{
				BatchID:   d.BatchID,
				Available: b.Available(),
				Requested: requested,
			}
		}
		pending[d.BatchID] = requested
	}
	for id, qty := range pending {
		b := r.s.batches[id]
		b.ConsumedQuantity = b.ConsumedQuantity.Add(qty)
		r.s.batches[id] = b
	}
	return nil
}

func cloneBatch(b ledger.Batch) ledger.Batch {
	origin := make(map[string]any, len(b.OriginData))
	for k, v := range b.OriginData {
		origin[k] = v
	}
	b.OriginData = origin
	return b
}

// =============================================================================
// Gap actions
// =============================================================================

// GapActionRepository is the in-memory traceability.GapActionRepository
type GapActionRepository struct{ s *Store }

var _ traceability.GapActionRepository = (*GapActionRepository)(nil)

// FindByID finds a gap by ID
func (r *GapActionRepository) FindByID(_ context.Context, id uuid.UUID) (*traceability.GapAction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	g, ok := r.s.gaps[id]
	if !ok {
		return nil, shared.NewNotFoundError("gap", id)
	}
	return &g, nil
}

// FindByPO returns every gap of an order
func (r *GapActionRepository) FindByPO(_ context.Context, poID uuid.UUID) ([]traceability.GapAction, error) {
	return r.filter(func(g *traceability.GapAction) bool { return g.POID == poID }), nil
}

// FindPendingByCompany returns open gaps owned by a company
func (r *GapActionRepository) FindPendingByCompany(_ context.Context, companyID uuid.UUID) ([]traceability.GapAction, error) {
	return r.filter(func(g *traceability.GapAction) bool {
		return g.CompanyID == companyID && g.IsPending()
	}), nil
}

// Save upserts a gap by ID
func (r *GapActionRepository) Save(_ context.Context, gap *traceability.GapAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.gaps[gap.ID] = *gap
	return nil
}

// Count returns the number of stored gaps
func (r *GapActionRepository) Count() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.gaps)
}

func (r *GapActionRepository) filter(keep func(*traceability.GapAction) bool) []traceability.GapAction {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]traceability.GapAction, 0)
	for _, g := range r.s.gaps {
		if keep(&g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
