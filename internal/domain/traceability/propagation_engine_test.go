package traceability_test

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropagate_PlantationSellerIsFullyTransparent(t *testing.T) {
	f := newFixture(t)
	mill := f.company(supplychain.RoleMillProcessor)
	grower := f.company(supplychain.RolePlantationGrower)
	ffb := f.batch(grower, 100)

	po := f.order(mill, grower, 100, nil)
	f.confirm(po, alloc(ffb, 100))

	score, session := f.score(po)
	assertDecimal(t, "1", score.ToMill)
	assertDecimal(t, "1", score.ToPlantation)
	assert.Empty(t, session.FindingsFor(po.ID))
}

func TestPropagate_MillSellerWithPlantationStock(t *testing.T) {
	f := newFixture(t)
	refinery := f.company(supplychain.RoleRefineryCrusher)
	mill := f.company(supplychain.RoleMillProcessor)
	grower := f.company(supplychain.RolePlantationGrower)
	ffb := f.batch(grower, 100)

	po := f.order(refinery, mill, 100, nil)
	f.confirm(po, alloc(ffb, 100))

	score, session := f.score(po)
	assertDecimal(t, "1", score.ToMill)
	assertDecimal(t, "1", score.ToPlantation)
	assert.Empty(t, session.FindingsFor(po.ID))
}

func TestPropagate_BrandOrderHalfUnconfirmedUpstream(t *testing.T) {
	f := newFixture(t)
	brand := f.company(supplychain.RoleBrand)
	trader := f.company(supplychain.RoleTraderAggregator)
	mill := f.company(supplychain.RoleMillProcessor)
	refinery := f.company(supplychain.RoleRefineryCrusher)
	cpo := f.batch(mill, 50)

	brandPO := f.order(brand, trader, 100, nil)
	f.confirm(brandPO)
	confirmedChild := f.order(trader, mill, 50, brandPO)
	f.confirm(confirmedChild, alloc(cpo, 50))
	pendingChild := f.order(trader, refinery, 50, brandPO)

	score, session := f.score(brandPO)

	childScore, ok := session.ScoreOf(confirmedChild.ID)
	require.True(t, ok)
	assertDecimal(t, "1", childScore.ToMill)
	assertDecimal(t, "0.5", score.ToMill)
	assertDecimal(t, "0", score.ToPlantation)

	gap, ok := findingFor(session.FindingsFor(brandPO.ID), traceability.GapReasonMissingConfirmation)
	require.True(t, ok)
	assertDecimal(t, "50", gap.Unmatched)
	assert.Equal(t, trader.ID, gap.CompanyID)

	childGap, ok := findingFor(session.FindingsFor(pendingChild.ID), traceability.GapReasonMissingConfirmation)
	require.True(t, ok)
	assert.Equal(t, refinery.ID, childGap.CompanyID)

	res, err := f.detector.Sync(f.ctx, session)
	require.NoError(t, err)
	assert.Len(t, res.Opened, 2, "brand order and its pending child")
}

func TestPropagate_MillOrderMixedStockAndUnresolvedChild(t *testing.T) {
	f := newFixture(t)
	refinery := f.company(supplychain.RoleRefineryCrusher)
	mill := f.company(supplychain.RoleMillProcessor)
	grower := f.company(supplychain.RolePlantationGrower)
	aggregator := f.company(supplychain.RoleTraderAggregator)
	ffb := f.batch(grower, 200)

	millPO := f.order(refinery, mill, 100, nil)
	f.confirm(millPO, alloc(ffb, 70))
	f.order(mill, aggregator, 30, millPO)

	score, session := f.score(millPO)
	assertDecimal(t, "1", score.ToMill)
	assertDecimal(t, "0.7", score.ToPlantation)

	findings := session.FindingsFor(millPO.ID)
	require.Len(t, findings, 1)
	assert.Equal(t, traceability.GapReasonMissingConfirmation, findings[0].Reason)
	assertDecimal(t, "30", findings[0].Unmatched)
}

func TestPropagate_StockOnlyOrderRecordsMissingFulfillment(t *testing.T) {
	f := newFixture(t)
	refinery := f.company(supplychain.RoleRefineryCrusher)
	mill := f.company(supplychain.RoleMillProcessor)
	grower := f.company(supplychain.RolePlantationGrower)
	ffb := f.batch(grower, 40)

	po := f.order(refinery, mill, 100, nil)
	f.confirm(po, alloc(ffb, 40))

	score, session := f.score(po)
	assertDecimal(t, "1", score.ToMill)
	assertDecimal(t, "0.4", score.ToPlantation)

	gap, ok := findingFor(session.FindingsFor(po.ID), traceability.GapReasonMissingFulfillment)
	require.True(t, ok)
	assertDecimal(t, "60", gap.Unmatched)
	assert.Equal(t, mill.ID, gap.CompanyID)
}

func TestPropagate_UnknownBatchLineageRecordsMissingBatchLink(t *testing.T) {
	f := newFixture(t)
	brand := f.company(supplychain.RoleBrand)
	refinery := f.company(supplychain.RoleRefineryCrusher)
	mill := f.company(supplychain.RoleMillProcessor)
	grower := f.company(supplychain.RolePlantationGrower)

	ffb := f.batch(grower, 100)
	cpo := f.batch(mill, 100)
	_, err := f.ledger.RecordTransaction(f.ctx, ffb.ID, cpo.ID, dec(50))
	require.NoError(t, err)
	olein := f.batch(refinery, 100)
	_, err = f.ledger.RecordTransaction(f.ctx, cpo.ID, olein.ID, dec(100))
	require.NoError(t, err)

	po := f.order(brand, refinery, 100, nil)
	f.confirm(po, alloc(olein, 100))

	score, session := f.score(po)
	assertDecimal(t, "0.5", score.ToMill)
	assertDecimal(t, "0.5", score.ToPlantation)

	gap, ok := findingFor(session.FindingsFor(po.ID), traceability.GapReasonMissingBatchLink)
	require.True(t, ok)
	assertDecimal(t, "50", gap.Unmatched)
}

func TestPropagate_EvenlySplitLineageHasNoBatchGap(t *testing.T) {
	f := newFixture(t)
	brand := f.company(supplychain.RoleBrand)
	mill := f.company(supplychain.RoleMillProcessor)
	grower := f.company(supplychain.RolePlantationGrower)

	cpo := f.batch(mill, 3)
	for i := 0; i < 3; i++ {
		ffb := f.batch(grower, 1)
		_, err := f.ledger.RecordTransaction(f.ctx, ffb.ID, cpo.ID, dec(1))
		require.NoError(t, err)
	}

	po := f.order(brand, mill, 3, nil)
	f.confirm(po, alloc(cpo, 3))

	score, session := f.score(po)
	assertDecimal(t, "1", score.ToMill)
	assertDecimal(t, "1", score.ToPlantation)
	_, ok := findingFor(session.FindingsFor(po.ID), traceability.GapReasonMissingBatchLink)
	assert.False(t, ok)
	assert.Empty(t, session.FindingsFor(po.ID))
}

func TestPropagate_UnconfirmedAndCancelledOrders(t *testing.T) {
	f := newFixture(t)
	brand := f.company(supplychain.RoleBrand)
	trader := f.company(supplychain.RoleTraderAggregator)

	t.Run("pending order scores zero with a confirmation gap", func(t *testing.T) {
		po := f.order(brand, trader, 10, nil)
		score, session := f.score(po)
		assertDecimal(t, "0", score.ToMill)
		assertDecimal(t, "0", score.ToPlantation)
		gap, ok := findingFor(session.FindingsFor(po.ID), traceability.GapReasonMissingConfirmation)
		require.True(t, ok)
		assertDecimal(t, "10", gap.Unmatched)
	})

	t.Run("cancelled order scores zero without gaps", func(t *testing.T) {
		po := f.order(brand, trader, 10, nil)
		current, err := f.store.PurchaseOrders().FindByID(f.ctx, po.ID)
		require.NoError(t, err)
		_, err = current.Cancel("buyer withdrew")
		require.NoError(t, err)
		require.NoError(t, f.store.PurchaseOrders().SaveWithLock(f.ctx, current))

		score, session := f.score(po)
		assertDecimal(t, "0", score.ToMill)
		assert.Empty(t, session.FindingsFor(po.ID))
	})

	t.Run("cancelled children are not fulfillment", func(t *testing.T) {
		parent := f.order(brand, trader, 10, nil)
		f.confirm(parent)
		grower := f.company(supplychain.RolePlantationGrower)
		child := f.order(trader, grower, 12, parent)
		f.confirmWith(child, supplychain.ConfirmationPayload{ConfirmedQuantity: decPtr(10)})

		score, _ := f.score(parent)
		assertDecimal(t, "1", score.ToPlantation)

		current, err := f.store.PurchaseOrders().FindByID(f.ctx, child.ID)
		require.NoError(t, err)
		_, err = current.Cancel("supplier out of stock")
		require.NoError(t, err)
		require.NoError(t, f.store.PurchaseOrders().SaveWithLock(f.ctx, current))

		score, session := f.score(parent)
		assertDecimal(t, "0", score.ToPlantation)
		_, ok := findingFor(session.FindingsFor(parent.ID), traceability.GapReasonMissingFulfillment)
		assert.True(t, ok)
	})
}

func TestPropagate_CycleTerminates(t *testing.T) {
	f := newFixture(t)
	brand := f.company(supplychain.RoleBrand)
	trader := f.company(supplychain.RoleTraderAggregator)

	a := f.order(brand, trader, 10, nil)
	b := f.order(trader, brand, 10, a)
	f.link(a, b)
	f.confirm(a)
	f.confirm(b)

	score, session := f.score(a)
	assertDecimal(t, "0", score.ToMill)

	gap, ok := findingFor(session.FindingsFor(b.ID), traceability.GapReasonCycleDetected)
	require.True(t, ok)
	assert.Equal(t, traceability.GapActionEscalate, gap.Reason.ActionType())

	chain, err := f.graph.CommercialChain(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestPropagate_SharedSubtreeIsScoredOnce(t *testing.T) {
	f := newFixture(t)
	brand := f.company(supplychain.RoleBrand)
	trader := f.company(supplychain.RoleTraderAggregator)
	grower := f.company(supplychain.RolePlantationGrower)

	parent := f.order(brand, trader, 20, nil)
	f.confirm(parent)
	left := f.order(trader, grower, 10, parent)
	f.confirm(left)
	right := f.order(trader, grower, 10, parent)
	f.confirm(right)

	session := f.engine.NewSession()
	_, err := session.Score(f.ctx, parent.ID)
	require.NoError(t, err)
	_, err = session.Score(f.ctx, left.ID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{parent.ID, left.ID, right.ID}, session.Evaluated())
}

func TestPropagate_ScoresStayWithinBounds(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	roles := []supplychain.CompanyRole{
		supplychain.RolePlantationGrower, supplychain.RoleMillProcessor,
		supplychain.RoleRefineryCrusher, supplychain.RoleTraderAggregator,
	}
	companies := make([]*supplychain.Company, 0)
	for _, r := range roles {
		companies = append(companies, f.company(r), f.company(r))
	}
	brand := f.company(supplychain.RoleBrand)

	for round := 0; round < 20; round++ {
		root := f.order(brand, pick(rng, companies, nil), int64(rng.Intn(90)+10), nil)
		f.confirm(root)
		frontier := []*supplychain.PurchaseOrder{root}
		for depth := 0; depth < 3; depth++ {
			next := make([]*supplychain.PurchaseOrder, 0)
			for _, parent := range frontier {
				seller := parentSeller(f, parent, companies)
				for k := rng.Intn(3); k > 0; k-- {
					child := f.order(seller, pick(rng, companies, seller), int64(rng.Intn(60)+1), parent)
					if rng.Intn(4) > 0 {
						stock := f.batch(pick(rng, companies, nil), 200)
						f.confirm(child, alloc(stock, int64(rng.Intn(int(child.Quantity.IntPart()))+1)))
					}
					next = append(next, child)
				}
			}
			frontier = next
		}

		session := f.engine.NewSession()
		_, err := session.Score(f.ctx, root.ID)
		require.NoError(t, err)
		for _, id := range session.Evaluated() {
			s, _ := session.ScoreOf(id)
			assert.True(t, s.ToPlantation.GreaterThanOrEqual(dec(0)), "plantation >= 0")
			assert.True(t, s.ToPlantation.LessThanOrEqual(s.ToMill), "plantation <= mill")
			assert.True(t, s.ToMill.LessThanOrEqual(dec(1)), "mill <= 1")
		}
	}
}

// pick returns a random company other than exclude
func pick(rng *rand.Rand, companies []*supplychain.Company, exclude *supplychain.Company) *supplychain.Company {
	for {
		c := companies[rng.Intn(len(companies))]
		if exclude == nil || c.ID != exclude.ID {
			return c
		}
	}
}

// parentSeller returns the company that sells parent, the buyer of its children
func parentSeller(f *fixture, parent *supplychain.PurchaseOrder, companies []*supplychain.Company) *supplychain.Company {
	for _, c := range companies {
		if c.ID == parent.SellerCompanyID {
			return c
		}
	}
	f.t.Fatalf("seller %s not in fixture", parent.SellerCompanyID)
	return nil
}
