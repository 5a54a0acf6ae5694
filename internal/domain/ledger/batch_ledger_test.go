package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/infrastructure/lock"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	store  *memory.Store
	ledger *ledger.BatchLedger
}

func newLedgerFixture() *ledgerFixture {
	store := memory.NewStore()
	return &ledgerFixture{
		store:  store,
		ledger: ledger.NewBatchLedger(store.Batches(), store.Companies(), lock.NewKeyedMutex(0)),
	}
}

func (f *ledgerFixture) company(t *testing.T, role supplychain.CompanyRole) *supplychain.Company {
	c, err := supplychain.NewCompany(string(role)+" co", role)
	require.NoError(t, err)
	require.NoError(t, f.store.Companies().Save(context.Background(), c))
	return c
}

func (f *ledgerFixture) batch(t *testing.T, owner *supplychain.Company, qty int64, origin map[string]any) *ledger.Batch {
	b, err := f.ledger.RecordBatch(context.Background(), owner.ID, decimal.NewFromInt(qty), "MT", origin)
	require.NoError(t, err)
	return b
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestBatchLedger_RecordBatch(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	grower := f.company(t, supplychain.RolePlantationGrower)
	mill := f.company(t, supplychain.RoleMillProcessor)

	t.Run("origin batch of a grower scores 1", func(t *testing.T) {
		b := f.batch(t, grower, 100, map[string]any{"farm_id": "F-12"})
		assert.True(t, b.TransparencyScore.Equal(dec(1)))
		assert.True(t, b.Available().Equal(dec(100)))
	})

	t.Run("declared role overrides owner role", func(t *testing.T) {
		b := f.batch(t, mill, 100, map[string]any{"role": "smallholder"})
		assert.True(t, b.TransparencyScore.Equal(dec(1)))
	})

	t.Run("mill stock without lineage scores 0", func(t *testing.T) {
		b := f.batch(t, mill, 100, nil)
		assert.True(t, b.TransparencyScore.IsZero())
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := f.ledger.RecordBatch(ctx, grower.ID, decimal.Zero, "MT", nil)
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("unknown company", func(t *testing.T) {
		_, err := f.ledger.RecordBatch(ctx, uuid.New(), dec(1), "MT", nil)
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})
}

func TestBatchLedger_RecordTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("draws from source and refreshes destination score", func(t *testing.T) {
		f := newLedgerFixture()
		grower := f.company(t, supplychain.RolePlantationGrower)
		mill := f.company(t, supplychain.RoleMillProcessor)
		ffb := f.batch(t, grower, 100, nil)
		cpo := f.batch(t, mill, 50, nil)

		tx, err := f.ledger.RecordTransaction(ctx, ffb.ID, cpo.ID, dec(25))
		require.NoError(t, err)
		assert.Equal(t, ffb.ID, tx.SourceBatchID)

		src, err := f.ledger.Batch(ctx, ffb.ID)
		require.NoError(t, err)
		assert.True(t, src.ConsumedQuantity.Equal(dec(25)))

		dst, err := f.ledger.Batch(ctx, cpo.ID)
		require.NoError(t, err)
		assert.True(t, dst.TransparencyScore.Equal(decimal.NewFromFloat(0.5)), dst.TransparencyScore.String())
	})

	t.Run("rejects overselling", func(t *testing.T) {
		f := newLedgerFixture()
		grower := f.company(t, supplychain.RolePlantationGrower)
		src := f.batch(t, grower, 10, nil)
		dst := f.batch(t, grower, 10, nil)

		_, err := f.ledger.RecordTransaction(ctx, src.ID, dst.ID, dec(8))
		require.NoError(t, err)
		_, err = f.ledger.RecordTransaction(ctx, src.ID, dst.ID, dec(3))
		require.Error(t, err)

		var mb *ledger.MassBalanceError
		require.True(t, errors.As(err, &mb))
		assert.Equal(t, src.ID, mb.BatchID)
		assert.True(t, mb.Available.Equal(dec(2)))
		assert.True(t, errors.Is(err, shared.ErrMassBalance))

		txs, err := f.store.Batches().FindIncoming(ctx, dst.ID)
		require.NoError(t, err)
		assert.Len(t, txs, 1, "rejected transaction must not be stored")
	})

	t.Run("unknown batches", func(t *testing.T) {
		f := newLedgerFixture()
		grower := f.company(t, supplychain.RolePlantationGrower)
		b := f.batch(t, grower, 10, nil)

		_, err := f.ledger.RecordTransaction(ctx, uuid.New(), b.ID, dec(1))
		assert.True(t, errors.Is(err, shared.ErrNotFound))
		_, err = f.ledger.RecordTransaction(ctx, b.ID, uuid.New(), dec(1))
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})

	t.Run("validation", func(t *testing.T) {
		f := newLedgerFixture()
		grower := f.company(t, supplychain.RolePlantationGrower)
		b := f.batch(t, grower, 10, nil)

		_, err := f.ledger.RecordTransaction(ctx, b.ID, b.ID, dec(1))
		assert.True(t, errors.Is(err, shared.ErrValidation))
		_, err = f.ledger.RecordTransaction(ctx, b.ID, uuid.New(), dec(-1))
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})
}

func TestBatchLedger_ConcurrentTransactionsNeverOversell(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	grower := f.company(t, supplychain.RolePlantationGrower)
	mill := f.company(t, supplychain.RoleMillProcessor)
	src := f.batch(t, grower, 100, nil)

	const workers = 64
	dests := make([]*ledger.Batch, workers)
	for i := range dests {
		dests[i] = f.batch(t, mill, 10, nil)
	}

	var succeeded, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(dst *ledger.Batch) {
			defer wg.Done()
			_, err := f.ledger.RecordTransaction(ctx, src.ID, dst.ID, dec(7))
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, shared.ErrMassBalance):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(dests[i])
	}
	wg.Wait()

	// 100 / 7 = 14 draws fit
	assert.Equal(t, int32(14), succeeded)
	assert.Equal(t, int32(workers-14), rejected)

	b, err := f.ledger.Batch(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, b.ConsumedQuantity.Equal(dec(98)))
	assert.True(t, b.ConsumedQuantity.LessThanOrEqual(b.Quantity))
}

func TestBatchLedger_AllocateIsAllOrNothing(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	grower := f.company(t, supplychain.RolePlantationGrower)
	a := f.batch(t, grower, 10, nil)
	b := f.batch(t, grower, 5, nil)

	err := f.ledger.Allocate(ctx, []ledger.Draw{{BatchID: a.ID, Quantity: dec(10)}, {BatchID: b.ID, Quantity: dec(6)}})
	require.True(t, errors.Is(err, shared.ErrMassBalance))

	got, _ := f.ledger.Batch(ctx, a.ID)
	assert.True(t, got.ConsumedQuantity.IsZero(), "first draw must be rolled back")

	draws := []ledger.Draw{{BatchID: a.ID, Quantity: dec(4)}, {BatchID: b.ID, Quantity: dec(5)}}
	require.NoError(t, f.ledger.Allocate(ctx, draws))
	got, _ = f.ledger.Batch(ctx, b.ID)
	assert.True(t, got.Available().IsZero())

	require.NoError(t, f.ledger.Release(ctx, draws))
	got, _ = f.ledger.Batch(ctx, b.ID)
	assert.True(t, got.Available().Equal(dec(5)))
}

func TestBatchLedger_LateLineageRescoresDownstream(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	grower := f.company(t, supplychain.RolePlantationGrower)
	mill := f.company(t, supplychain.RoleMillProcessor)
	refinery := f.company(t, supplychain.RoleRefineryCrusher)

	ffb := f.batch(t, grower, 100, nil)
	cpo := f.batch(t, mill, 100, nil)
	olein := f.batch(t, refinery, 100, nil)

	_, err := f.ledger.RecordTransaction(ctx, cpo.ID, olein.ID, dec(100))
	require.NoError(t, err)
	got, err := f.ledger.Batch(ctx, olein.ID)
	require.NoError(t, err)
	require.True(t, got.TransparencyScore.IsZero())

	_, err = f.ledger.RecordTransaction(ctx, ffb.ID, cpo.ID, dec(100))
	require.NoError(t, err)

	for _, id := range []uuid.UUID{cpo.ID, olein.ID} {
		b, err := f.ledger.Batch(ctx, id)
		require.NoError(t, err)
		comp, err := f.ledger.OriginComposition(ctx, id)
		require.NoError(t, err)
		assert.True(t, b.TransparencyScore.Equal(comp.FractionAtOrUpstreamOf(supplychain.TierPlantation)),
			"batch %s stored %s", id, b.TransparencyScore)
		assert.True(t, b.TransparencyScore.Equal(dec(1)))
	}
}

func TestBatchLedger_Downstream(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	mill := f.company(t, supplychain.RoleMillProcessor)

	// a feeds b and c, both feed d
	a := f.batch(t, mill, 100, nil)
	b := f.batch(t, mill, 100, nil)
	c := f.batch(t, mill, 100, nil)
	d := f.batch(t, mill, 100, nil)
	for _, edge := range [][2]*ledger.Batch{{a, b}, {a, c}, {b, d}, {c, d}} {
		_, err := f.ledger.RecordTransaction(ctx, edge[0].ID, edge[1].ID, dec(10))
		require.NoError(t, err)
	}

	ids, err := f.ledger.Downstream(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.Equal(t, a.ID, ids[0])
	assert.ElementsMatch(t, []uuid.UUID{b.ID, c.ID}, ids[1:3])
	assert.Equal(t, d.ID, ids[3])

	leaf, err := f.ledger.Downstream(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{d.ID}, leaf)
}
