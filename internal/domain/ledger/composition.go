package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
)

// Composition is the share of a batch originating from each producing role.
// Unknown covers material whose origin cannot be established.
type Composition struct {
	Fractions map[supplychain.CompanyRole]decimal.Decimal
	Unknown   decimal.Decimal
}

func newComposition() Composition {
	return Composition{
		Fractions: make(map[supplychain.CompanyRole]decimal.Decimal),
		Unknown:   decimal.Zero,
	}
}

// FractionAtOrUpstreamOf sums the shares of roles at tier t or further upstream
func (c Composition) FractionAtOrUpstreamOf(t supplychain.Tier) decimal.Decimal {
	total := decimal.Zero
	for role, f := range c.Fractions {
		if role.IsAtOrUpstreamOf(t) {
			total = total.Add(f)
		}
	}
	return total
}

// Roles returns the roles present in the composition in stable order
func (c Composition) Roles() []supplychain.CompanyRole {
	roles := make([]supplychain.CompanyRole, 0, len(c.Fractions))
	for r := range c.Fractions {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func (c *Composition) addScaled(other Composition, weight decimal.Decimal) {
	for role, f := range other.Fractions {
		c.Fractions[role] = c.Fractions[role].Add(f.Mul(weight))
	}
	c.Unknown = c.Unknown.Add(other.Unknown.Mul(weight))
}

// CompositionResolver decomposes batches into origin shares. It memoizes
// every batch it resolves, so one resolver should serve one logical
// computation; it is not safe for concurrent use.
type CompositionResolver struct {
	batches   BatchRepository
	companies supplychain.CompanyRepository

	memo     map[uuid.UUID]Composition
	loaded   map[uuid.UUID]*Batch
	incoming map[uuid.UUID][]BatchTransaction
	roles    map[uuid.UUID]supplychain.CompanyRole
}

// NewCompositionResolver creates a resolver with empty memo tables
func NewCompositionResolver(batches BatchRepository, companies supplychain.CompanyRepository) *CompositionResolver {
	return &CompositionResolver{
		batches:   batches,
		companies: companies,
		memo:      make(map[uuid.UUID]Composition),
		loaded:    make(map[uuid.UUID]*Batch),
		incoming:  make(map[uuid.UUID][]BatchTransaction),
		roles:     make(map[uuid.UUID]supplychain.CompanyRole),
	}
}

// Resolve returns the origin composition of a batch.
//
// A batch with no incoming transactions is an origin batch and belongs
// wholly to its declared role (origin_data "role") or its owner's role.
// Otherwise each incoming transaction contributes the source composition
// weighted by quantity drawn over the destination quantity. When the draws
// exceed the destination quantity (conversion loss, e.g. FFB to CPO) the
// weights are normalised over the total drawn instead. A shortfall, or an
// edge closing a cycle, becomes Unknown.
func (r *CompositionResolver) Resolve(ctx context.Context, batchID uuid.UUID) (Composition, error) {
	return r.resolve(ctx, batchID, make(map[uuid.UUID]bool))
}

func (r *CompositionResolver) resolve(ctx context.Context, batchID uuid.UUID, onStack map[uuid.UUID]bool) (Composition, error) {
	if c, ok := r.memo[batchID]; ok {
		return c, nil
	}
	if err := ctx.Err(); err != nil {
		return Composition{}, err
	}

	batch, err := r.batch(ctx, batchID)
	if err != nil {
		return Composition{}, err
	}
	incoming, err := r.incomingOf(ctx, batchID)
	if err != nil {
		return Composition{}, err
	}

	comp := newComposition()
	if len(incoming) == 0 {
		role, err := r.originRole(ctx, batch)
		if err != nil {
			return Composition{}, err
		}
		comp.Fractions[role] = decimal.NewFromInt(1)
		r.memo[batchID] = comp
		return comp, nil
	}

	drawn := decimal.Zero
	for _, tx := range incoming {
		drawn = drawn.Add(tx.Quantity)
	}
	denominator := decimal.Max(batch.Quantity, drawn)

	onStack[batchID] = true
	defer delete(onStack, batchID)

	// shortfall is measured on raw quantities, not on the rounded weights
	covered := decimal.Zero
	for _, tx := range incoming {
		if onStack[tx.SourceBatchID] {
			continue
		}
		src, err := r.resolve(ctx, tx.SourceBatchID, onStack)
		if err != nil {
			return Composition{}, err
		}
		comp.addScaled(src, tx.Quantity.Div(denominator))
		covered = covered.Add(tx.Quantity)
	}
	if shortfall := denominator.Sub(covered); shortfall.IsPositive() {
		comp.Unknown = comp.Unknown.Add(shortfall.Div(denominator))
	}

	r.memo[batchID] = comp
	return comp, nil
}

// ChangedAt returns the latest modification time across the batch and its
// whole upstream lineage, including transaction times.
func (r *CompositionResolver) ChangedAt(ctx context.Context, batchID uuid.UUID) (time.Time, error) {
	return r.changedAt(ctx, batchID, make(map[uuid.UUID]bool))
}

func (r *CompositionResolver) changedAt(ctx context.Context, batchID uuid.UUID, visited map[uuid.UUID]bool) (time.Time, error) {
	if visited[batchID] {
		return time.Time{}, nil
	}
	visited[batchID] = true

	batch, err := r.batch(ctx, batchID)
	if err != nil {
		return time.Time{}, err
	}
	latest := batch.UpdatedAt
	incoming, err := r.incomingOf(ctx, batchID)
	if err != nil {
		return time.Time{}, err
	}
	for _, tx := range incoming {
		if tx.CreatedAt.After(latest) {
			latest = tx.CreatedAt
		}
		t, err := r.changedAt(ctx, tx.SourceBatchID, visited)
		if err != nil {
			return time.Time{}, err
		}
		if t.After(latest) {
			latest = t
		}
	}
	return latest, nil
}

// Batch returns a batch through the resolver's cache
func (r *CompositionResolver) Batch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return r.batch(ctx, id)
}

func (r *CompositionResolver) batch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	if b, ok := r.loaded[id]; ok {
		return b, nil
	}
	b, err := r.batches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.WrapDomainError(shared.CodeNotFound,
				fmt.Sprintf("batch %s referenced by the ledger does not exist", id), err)
		}
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}
	r.loaded[id] = b
	return b, nil
}

func (r *CompositionResolver) incomingOf(ctx context.Context, id uuid.UUID) ([]BatchTransaction, error) {
	if txs, ok := r.incoming[id]; ok {
		return txs, nil
	}
	txs, err := r.batches.FindIncoming(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions into batch %s: %w", id, err)
	}
	r.incoming[id] = txs
	return txs, nil
}

func (r *CompositionResolver) originRole(ctx context.Context, b *Batch) (supplychain.CompanyRole, error) {
	if role, ok := b.DeclaredRole(); ok {
		return role, nil
	}
	if role, ok := r.roles[b.CompanyID]; ok {
		return role, nil
	}
	company, err := r.companies.FindByID(ctx, b.CompanyID)
	if err != nil {
		return "", fmt.Errorf("failed to load owner of batch %s: %w", b.ID, err)
	}
	r.roles[b.CompanyID] = company.Role
	return company.Role, nil
}
