package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
)

// BatchLedger records batches and the mass-balance transformations between them.
//
// Every draw from a batch is serialised per source batch through the
// Locker, and the repository additionally applies it as a conditional
// update, so no batch can be overdrawn even across processes that do not
// share the locker.
type BatchLedger struct {
	batches   BatchRepository
	companies supplychain.CompanyRepository
	locker    shared.Locker
}

// NewBatchLedger creates a new BatchLedger
func NewBatchLedger(batches BatchRepository, companies supplychain.CompanyRepository, locker shared.Locker) *BatchLedger {
	return &BatchLedger{
		batches:   batches,
		companies: companies,
		locker:    locker,
	}
}

// BatchLockKey is the lock key serialising draws from a batch
func BatchLockKey(batchID uuid.UUID) string {
	return "lock:batch:" + batchID.String()
}

// RecordBatch stores a new batch owned by companyID
func (l *BatchLedger) RecordBatch(ctx context.Context, companyID uuid.UUID, quantity decimal.Decimal, unit string, originData map[string]any) (*Batch, error) {
	batch, err := NewBatch(companyID, quantity, unit, originData)
	if err != nil {
		return nil, err
	}
	company, err := l.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}

	role := company.Role
	if declared, ok := batch.DeclaredRole(); ok {
		role = declared
	}
	if role.IsAtOrUpstreamOf(supplychain.TierPlantation) {
		batch.TransparencyScore = decimal.NewFromInt(1)
	}

	if err := l.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}
	return batch, nil
}

// RecordTransaction draws quantity from the source batch into the
// destination batch, then refreshes the transparency score of the
// destination and of every batch downstream of it.
func (l *BatchLedger) RecordTransaction(ctx context.Context, sourceID, destinationID uuid.UUID, quantity decimal.Decimal) (*BatchTransaction, error) {
	tx, err := NewBatchTransaction(sourceID, destinationID, quantity)
	if err != nil {
		return nil, err
	}
	if _, err := l.batches.FindByID(ctx, sourceID); err != nil {
		return nil, err
	}
	if _, err := l.batches.FindByID(ctx, destinationID); err != nil {
		return nil, err
	}

	release, err := l.locker.Acquire(ctx, BatchLockKey(sourceID))
	if err != nil {
		return nil, err
	}
	err = l.batches.AppendTransaction(ctx, tx)
	release()
	if err != nil {
		return nil, err
	}

	if err := l.refreshScores(ctx, destinationID); err != nil {
		return nil, err
	}
	return tx, nil
}

// Allocate draws stock for a purchase order; all draws apply or none do.
func (l *BatchLedger) Allocate(ctx context.Context, draws []Draw) error {
	if len(draws) == 0 {
		return nil
	}
	for _, d := range draws {
		if d.Quantity.LessThanOrEqual(decimal.Zero) {
			return shared.NewValidationError(fmt.Sprintf("Quantity drawn from batch %s must be positive", d.BatchID))
		}
	}
	release, err := l.lockAll(ctx, draws)
	if err != nil {
		return err
	}
	defer release()
	return l.batches.Consume(ctx, draws)
}

// Release returns quantities drawn by Allocate
func (l *BatchLedger) Release(ctx context.Context, draws []Draw) error {
	if len(draws) == 0 {
		return nil
	}
	release, err := l.lockAll(ctx, draws)
	if err != nil {
		return err
	}
	defer release()
	return l.batches.Release(ctx, draws)
}

// OriginComposition decomposes a batch into the shares of its origin roles
func (l *BatchLedger) OriginComposition(ctx context.Context, batchID uuid.UUID) (Composition, error) {
	return l.NewResolver().Resolve(ctx, batchID)
}

// NewResolver returns a resolver that shares memoized results across calls
func (l *BatchLedger) NewResolver() *CompositionResolver {
	return NewCompositionResolver(l.batches, l.companies)
}

// Batch returns a batch by ID
func (l *BatchLedger) Batch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return l.batches.FindByID(ctx, id)
}

// Downstream returns batchID followed by every batch fed from it directly
// or transitively, in breadth-first order. Each batch appears once.
func (l *BatchLedger) Downstream(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	visited := map[uuid.UUID]bool{batchID: true}
	order := []uuid.UUID{batchID}
	for i := 0; i < len(order); i++ {
		outgoing, err := l.batches.FindOutgoing(ctx, order[i])
		if err != nil {
			return nil, fmt.Errorf("failed to load transactions out of batch %s: %w", order[i], err)
		}
		for _, tx := range outgoing {
			if visited[tx.DestinationBatchID] {
				continue
			}
			visited[tx.DestinationBatchID] = true
			order = append(order, tx.DestinationBatchID)
		}
	}
	return order, nil
}

// refreshScores rewrites the derived score of batchID and everything
// downstream of it. One resolver serves the whole walk.
func (l *BatchLedger) refreshScores(ctx context.Context, batchID uuid.UUID) error {
	affected, err := l.Downstream(ctx, batchID)
	if err != nil {
		return err
	}
	resolver := l.NewResolver()
	for _, id := range affected {
		comp, err := resolver.Resolve(ctx, id)
		if err != nil {
			return err
		}
		score := comp.FractionAtOrUpstreamOf(supplychain.TierPlantation).Round(6)
		if err := l.batches.UpdateTransparencyScore(ctx, id, score); err != nil {
			return err
		}
	}
	return nil
}

// lockAll takes the batch locks in id order so concurrent allocations
// over overlapping batches cannot deadlock.
func (l *BatchLedger) lockAll(ctx context.Context, draws []Draw) (func(), error) {
	ids := make([]uuid.UUID, 0, len(draws))
	seen := make(map[uuid.UUID]struct{}, len(draws))
	for _, d := range draws {
		if _, ok := seen[d.BatchID]; ok {
			continue
		}
		seen[d.BatchID] = struct{}{}
		ids = append(ids, d.BatchID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	releases := make([]func(), 0, len(ids))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, id := range ids {
		release, err := l.locker.Acquire(ctx, BatchLockKey(id))
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
