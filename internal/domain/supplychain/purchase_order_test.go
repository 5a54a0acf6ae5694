package supplychain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPurchaseOrder(t *testing.T, qty int64) *PurchaseOrder {
	po, err := NewPurchaseOrder(uuid.New(), uuid.New(), uuid.New(), decimal.NewFromInt(qty), decimal.NewFromInt(700), "MT")
	require.NoError(t, err)
	return po
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestPOStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     POStatus
		to       POStatus
		canTrans bool
	}{
		{POStatusPending, POStatusConfirmed, true},
		{POStatusPending, POStatusDiscrepancy, true},
		{POStatusPending, POStatusCancelled, true},
		{POStatusDiscrepancy, POStatusConfirmed, true},
		{POStatusDiscrepancy, POStatusCancelled, true},
		{POStatusDiscrepancy, POStatusPending, false},
		{POStatusConfirmed, POStatusCancelled, false},
		{POStatusConfirmed, POStatusDiscrepancy, false},
		{POStatusCancelled, POStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.canTrans, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestNewPurchaseOrder(t *testing.T) {
	t.Run("creates pending order with event", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		assert.Equal(t, POStatusPending, po.Status)
		assert.True(t, po.TransparencyToMill.IsZero())
		assert.Nil(t, po.TransparencyCalculatedAt)
		assert.Contains(t, po.PONumber, "PO-")
		require.Len(t, po.GetDomainEvents(), 1)
		assert.Equal(t, EventTypePurchaseOrderCreated, po.GetDomainEvents()[0].EventType())
	})

	t.Run("rejects same buyer and seller", func(t *testing.T) {
		id := uuid.New()
		_, err := NewPurchaseOrder(id, id, uuid.New(), decimal.NewFromInt(1), decimal.Zero, "MT")
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := NewPurchaseOrder(uuid.New(), uuid.New(), uuid.New(), decimal.Zero, decimal.Zero, "MT")
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("rejects negative price", func(t *testing.T) {
		_, err := NewPurchaseOrder(uuid.New(), uuid.New(), uuid.New(), decimal.NewFromInt(1), decimal.NewFromInt(-1), "MT")
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})
}

func TestPurchaseOrder_LinkParent(t *testing.T) {
	parent := createTestPurchaseOrder(t, 100)

	t.Run("links when parent seller is the buyer", func(t *testing.T) {
		child, err := NewPurchaseOrder(parent.SellerCompanyID, uuid.New(), parent.ProductID, decimal.NewFromInt(50), decimal.Zero, "MT")
		require.NoError(t, err)
		require.NoError(t, child.LinkParent(parent, true))
		assert.Equal(t, parent.ID, *child.ParentPOID)
		assert.True(t, child.IsDropShipment)
	})

	t.Run("rejects inconsistent chain", func(t *testing.T) {
		child := createTestPurchaseOrder(t, 50)
		err := child.LinkParent(parent, false)
		assert.True(t, errors.Is(err, shared.ErrValidation))
		assert.Nil(t, child.ParentPOID)
	})

	t.Run("rejects self parent", func(t *testing.T) {
		err := parent.LinkParent(parent, false)
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})
}

func TestPurchaseOrder_Confirm(t *testing.T) {
	t.Run("confirms as requested", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		po.ClearDomainEvents()
		batchID := uuid.New()

		err := po.Confirm(ConfirmationPayload{
			StockBatches: []StockBatchAllocation{{BatchID: batchID, Quantity: decimal.NewFromInt(60)}},
		})
		require.NoError(t, err)

		assert.Equal(t, POStatusConfirmed, po.Status)
		assert.True(t, po.EffectiveQuantity().Equal(decimal.NewFromInt(100)))
		assert.True(t, po.AllocatedQuantity().Equal(decimal.NewFromInt(60)))
		assert.False(t, po.HasDiscrepancy())
		assert.NotNil(t, po.ConfirmedAt)
		require.Len(t, po.GetDomainEvents(), 1)
		assert.Equal(t, EventTypePurchaseOrderConfirmed, po.GetDomainEvents()[0].EventType())
	})

	t.Run("different quantity and price raise discrepancy without blocking", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		po.ClearDomainEvents()
		price := decimal.NewFromInt(720)

		err := po.Confirm(ConfirmationPayload{ConfirmedQuantity: decPtr(90), ConfirmedUnitPrice: &price})
		require.NoError(t, err)

		assert.Equal(t, POStatusDiscrepancy, po.Status)
		assert.True(t, po.IsSellerConfirmed())
		assert.ElementsMatch(t, []string{DiscrepancyQuantity, DiscrepancyPrice}, po.DiscrepancyReasons)
		assert.True(t, po.EffectiveQuantity().Equal(decimal.NewFromInt(90)))
		assert.Len(t, po.GetDomainEvents(), 2)
	})

	t.Run("different delivery date and location raise discrepancy", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		requested := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, po.SetDelivery(&requested, "Dumai"))

		sameDayLater := requested.Add(5 * time.Hour)
		require.NoError(t, po.Confirm(ConfirmationPayload{ConfirmedDeliveryDate: &sameDayLater, ConfirmedDeliveryLocation: "dumai"}))
		assert.Equal(t, POStatusConfirmed, po.Status)

		po2 := createTestPurchaseOrder(t, 100)
		require.NoError(t, po2.SetDelivery(&requested, "Dumai"))
		nextWeek := requested.AddDate(0, 0, 7)
		require.NoError(t, po2.Confirm(ConfirmationPayload{ConfirmedDeliveryDate: &nextWeek, ConfirmedDeliveryLocation: "Belawan"}))
		assert.ElementsMatch(t, []string{DiscrepancyDate, DiscrepancyLocation}, po2.DiscrepancyReasons)
	})

	t.Run("rejects allocations above confirmed quantity", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		err := po.Confirm(ConfirmationPayload{
			ConfirmedQuantity: decPtr(50),
			StockBatches: []StockBatchAllocation{
				{BatchID: uuid.New(), Quantity: decimal.NewFromInt(30)},
				{BatchID: uuid.New(), Quantity: decimal.NewFromInt(30)},
			},
		})
		assert.True(t, errors.Is(err, shared.ErrValidation))
		assert.Equal(t, POStatusPending, po.Status)
	})

	t.Run("rejects duplicate and non-positive allocations", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		id := uuid.New()
		err := po.Confirm(ConfirmationPayload{StockBatches: []StockBatchAllocation{
			{BatchID: id, Quantity: decimal.NewFromInt(1)},
			{BatchID: id, Quantity: decimal.NewFromInt(1)},
		}})
		assert.True(t, errors.Is(err, shared.ErrValidation))

		err = po.Confirm(ConfirmationPayload{StockBatches: []StockBatchAllocation{{BatchID: uuid.New(), Quantity: decimal.Zero}}})
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("cannot confirm twice", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		require.NoError(t, po.Confirm(ConfirmationPayload{}))
		err := po.Confirm(ConfirmationPayload{})
		assert.True(t, errors.Is(err, shared.ErrInvalidState))
	})
}

func TestPurchaseOrder_AcceptDiscrepancy(t *testing.T) {
	po := createTestPurchaseOrder(t, 100)
	assert.True(t, errors.Is(po.AcceptDiscrepancy(), shared.ErrInvalidState))

	require.NoError(t, po.Confirm(ConfirmationPayload{ConfirmedQuantity: decPtr(80)}))
	require.Equal(t, POStatusDiscrepancy, po.Status)

	require.NoError(t, po.AcceptDiscrepancy())
	assert.Equal(t, POStatusConfirmed, po.Status)
	assert.True(t, po.HasDiscrepancy(), "reasons are kept for audit")
}

func TestPurchaseOrder_Cancel(t *testing.T) {
	t.Run("releases allocations from discrepancy", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		alloc := StockBatchAllocation{BatchID: uuid.New(), Quantity: decimal.NewFromInt(40)}
		require.NoError(t, po.Confirm(ConfirmationPayload{ConfirmedQuantity: decPtr(40), StockBatches: []StockBatchAllocation{alloc}}))

		released, err := po.Cancel("buyer declined")
		require.NoError(t, err)
		assert.Equal(t, []StockBatchAllocation{alloc}, released)
		assert.Equal(t, POStatusCancelled, po.Status)
		assert.Empty(t, po.StockBatches)
	})

	t.Run("requires reason", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		_, err := po.Cancel("")
		assert.True(t, errors.Is(err, shared.ErrValidation))
	})

	t.Run("confirmed is terminal", func(t *testing.T) {
		po := createTestPurchaseOrder(t, 100)
		require.NoError(t, po.Confirm(ConfirmationPayload{}))
		_, err := po.Cancel("late")
		assert.True(t, errors.Is(err, shared.ErrInvalidState))
	})
}

func TestPurchaseOrder_RecordTransparency(t *testing.T) {
	po := createTestPurchaseOrder(t, 100)
	updated := po.UpdatedAt
	at := time.Now().Add(time.Minute)

	po.RecordTransparency(decimal.NewFromFloat(0.8), decimal.NewFromFloat(0.5), at)

	assert.True(t, po.TransparencyToMill.Equal(decimal.NewFromFloat(0.8)))
	assert.True(t, po.TransparencyToPlantation.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, at, *po.TransparencyCalculatedAt)
	assert.Equal(t, updated, po.UpdatedAt)
}
