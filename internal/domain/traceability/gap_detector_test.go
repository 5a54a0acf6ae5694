package traceability_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// millOrderWithPendingChild builds a mill order 70% covered by plantation
// stock and 30% by a child order the aggregator has not confirmed yet.
func millOrderWithPendingChild(f *fixture) (millPO, child *supplychain.PurchaseOrder, grower *supplychain.Company) {
	refinery := f.company(supplychain.RoleRefineryCrusher)
	mill := f.company(supplychain.RoleMillProcessor)
	grower = f.company(supplychain.RolePlantationGrower)
	aggregator := f.company(supplychain.RoleTraderAggregator)
	ffb := f.batch(grower, 200)

	millPO = f.order(refinery, mill, 100, nil)
	f.confirm(millPO, alloc(ffb, 70))
	child = f.order(mill, aggregator, 30, millPO)
	return millPO, child, grower
}

func TestGapDetector_SyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	millPO, _, _ := millOrderWithPendingChild(f)

	_, session := f.score(millPO)
	first, err := f.detector.Sync(f.ctx, session)
	require.NoError(t, err)
	assert.Len(t, first.Opened, 2)
	stored := f.store.Gaps().Count()

	for i := 0; i < 3; i++ {
		_, session = f.score(millPO)
		res, err := f.detector.Sync(f.ctx, session)
		require.NoError(t, err)
		assert.Empty(t, res.Opened)
		assert.Empty(t, res.Reopened)
		assert.Empty(t, res.AutoResolved)
		assert.Equal(t, 2, res.Unchanged)
	}
	assert.Equal(t, stored, f.store.Gaps().Count(), "no duplicate gaps")

	gap, err := f.store.Gaps().FindByID(f.ctx, traceability.GapID(millPO.ID, traceability.GapReasonMissingConfirmation))
	require.NoError(t, err)
	assert.Equal(t, traceability.SystemActor, gap.CreatedBy)
	assert.Equal(t, traceability.GapActionRequestData, gap.ActionType)
}

func TestGapDetector_AutoResolvesClearedGaps(t *testing.T) {
	f := newFixture(t)
	millPO, child, grower := millOrderWithPendingChild(f)

	_, session := f.score(millPO)
	_, err := f.detector.Sync(f.ctx, session)
	require.NoError(t, err)

	f.confirm(child, alloc(f.batch(grower, 30), 30))

	score, session := f.score(millPO)
	assertDecimal(t, "1", score.ToPlantation)

	res, err := f.detector.Sync(f.ctx, session)
	require.NoError(t, err)
	assert.Len(t, res.AutoResolved, 2)
	for _, g := range res.AutoResolved {
		assert.Equal(t, traceability.GapStatusResolved, g.Status)
		assert.Equal(t, traceability.AutoResolveNote, g.ResolutionNotes)
		assert.Nil(t, g.ResolvedBy)
	}

	pending, err := f.detector.OpenGapsFor(f.ctx, millPO.SellerCompanyID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGapDetector_ReopensResolvedGap(t *testing.T) {
	f := newFixture(t)
	millPO, _, _ := millOrderWithPendingChild(f)

	_, session := f.score(millPO)
	_, err := f.detector.Sync(f.ctx, session)
	require.NoError(t, err)

	gapID := traceability.GapID(millPO.ID, traceability.GapReasonMissingConfirmation)
	user := uuid.New()
	resolved, err := f.detector.Resolve(f.ctx, gapID, user, "  chased the aggregator  ")
	require.NoError(t, err)
	assert.Equal(t, "chased the aggregator", resolved.ResolutionNotes)
	assert.Equal(t, &user, resolved.ResolvedBy)

	_, session = f.score(millPO)
	res, err := f.detector.Sync(f.ctx, session)
	require.NoError(t, err)
	require.Len(t, res.Reopened, 1)
	assert.Equal(t, gapID, res.Reopened[0].ID)
	assert.True(t, res.Reopened[0].IsPending())
	assert.Nil(t, res.Reopened[0].ResolvedAt)
}

func TestGapDetector_Resolve(t *testing.T) {
	f := newFixture(t)
	millPO, _, _ := millOrderWithPendingChild(f)
	_, session := f.score(millPO)
	_, err := f.detector.Sync(f.ctx, session)
	require.NoError(t, err)
	gapID := traceability.GapID(millPO.ID, traceability.GapReasonMissingConfirmation)

	t.Run("requires a user", func(t *testing.T) {
		_, err := f.detector.Resolve(f.ctx, gapID, uuid.Nil, "")
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("unknown gap", func(t *testing.T) {
		_, err := f.detector.Resolve(f.ctx, uuid.New(), uuid.New(), "")
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})

	t.Run("twice", func(t *testing.T) {
		_, err := f.detector.Resolve(f.ctx, gapID, uuid.New(), "done")
		require.NoError(t, err)
		_, err = f.detector.Resolve(f.ctx, gapID, uuid.New(), "again")
		assert.True(t, errors.Is(err, shared.ErrInvalidState))
	})

	t.Run("does not recompute scores", func(t *testing.T) {
		po, err := f.store.PurchaseOrders().FindByID(f.ctx, millPO.ID)
		require.NoError(t, err)
		assert.Nil(t, po.TransparencyCalculatedAt)
	})
}

func TestGapID_IsStable(t *testing.T) {
	po := uuid.New()
	assert.Equal(t, traceability.GapID(po, traceability.GapReasonCycleDetected), traceability.GapID(po, traceability.GapReasonCycleDetected))
	assert.NotEqual(t, traceability.GapID(po, traceability.GapReasonCycleDetected), traceability.GapID(po, traceability.GapReasonMissingFulfillment))
}

func TestGapDetector_SyncOrdersLimitsScope(t *testing.T) {
	f := newFixture(t)
	millPO, child, _ := millOrderWithPendingChild(f)

	_, session := f.score(millPO)
	res, err := f.detector.SyncOrders(f.ctx, session, millPO.ID)
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, millPO.ID, res.Opened[0].POID)

	childGaps, err := f.store.Gaps().FindByPO(f.ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, childGaps, "child was evaluated but not in scope")

	_, err = f.detector.SyncOrders(f.ctx, session, uuid.New())
	assert.Error(t, err)
}
