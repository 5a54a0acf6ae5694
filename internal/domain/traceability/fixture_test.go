package traceability_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/palmtrace/backend/internal/infrastructure/lock"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	ledger   *ledger.BatchLedger
	graph    *traceability.POGraph
	engine   *traceability.PropagationEngine
	detector *traceability.GapDetector
}

func newFixture(t *testing.T) *fixture {
	store := memory.NewStore()
	bl := ledger.NewBatchLedger(store.Batches(), store.Companies(), lock.NewKeyedMutex(0))
	graph := traceability.NewPOGraph(store.PurchaseOrders())
	return &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		ledger:   bl,
		graph:    graph,
		engine:   traceability.NewPropagationEngine(graph, bl, store.Companies()),
		detector: traceability.NewGapDetector(store.Gaps()),
	}
}

func (f *fixture) company(role supplychain.CompanyRole) *supplychain.Company {
	c, err := supplychain.NewCompany(string(role)+" co", role)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Companies().Save(f.ctx, c))
	return c
}

func (f *fixture) batch(owner *supplychain.Company, qty int64) *ledger.Batch {
	b, err := f.ledger.RecordBatch(f.ctx, owner.ID, decimal.NewFromInt(qty), "MT", nil)
	require.NoError(f.t, err)
	return b
}

// order creates a pending order, optionally linked under parent
func (f *fixture) order(buyer, seller *supplychain.Company, qty int64, parent *supplychain.PurchaseOrder) *supplychain.PurchaseOrder {
	po, err := supplychain.NewPurchaseOrder(buyer.ID, seller.ID, uuid.New(), decimal.NewFromInt(qty), decimal.NewFromInt(900), "MT")
	require.NoError(f.t, err)
	if parent != nil {
		require.NoError(f.t, po.LinkParent(parent, false))
	}
	require.NoError(f.t, f.store.PurchaseOrders().Create(f.ctx, po))
	return po
}

// confirm confirms an order as requested, drawing the given stock
func (f *fixture) confirm(po *supplychain.PurchaseOrder, stock ...supplychain.StockBatchAllocation) {
	current, err := f.store.PurchaseOrders().FindByID(f.ctx, po.ID)
	require.NoError(f.t, err)
	require.NoError(f.t, current.Confirm(supplychain.ConfirmationPayload{StockBatches: stock}))
	require.NoError(f.t, f.store.PurchaseOrders().SaveWithLock(f.ctx, current))
}

func (f *fixture) confirmWith(po *supplychain.PurchaseOrder, payload supplychain.ConfirmationPayload) {
	current, err := f.store.PurchaseOrders().FindByID(f.ctx, po.ID)
	require.NoError(f.t, err)
	require.NoError(f.t, current.Confirm(payload))
	require.NoError(f.t, f.store.PurchaseOrders().SaveWithLock(f.ctx, current))
}

func (f *fixture) link(child, parent *supplychain.PurchaseOrder) {
	current, err := f.store.PurchaseOrders().FindByID(f.ctx, child.ID)
	require.NoError(f.t, err)
	require.NoError(f.t, current.LinkParent(parent, false))
	require.NoError(f.t, f.store.PurchaseOrders().SaveWithLock(f.ctx, current))
}

func (f *fixture) score(po *supplychain.PurchaseOrder) (traceability.Score, *traceability.Session) {
	score, session, err := f.engine.Propagate(f.ctx, po.ID)
	require.NoError(f.t, err)
	return score, session
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func alloc(b *ledger.Batch, qty int64) supplychain.StockBatchAllocation {
	return supplychain.StockBatchAllocation{BatchID: b.ID, Quantity: decimal.NewFromInt(qty)}
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(actual),
		append([]any{"expected %s, got %s", expected, actual.String()}, msgAndArgs...)...)
}

func findingFor(findings []traceability.GapFinding, reason traceability.GapReason) (traceability.GapFinding, bool) {
	for _, f := range findings {
		if f.Reason == reason {
			return f, true
		}
	}
	return traceability.GapFinding{}, false
}
