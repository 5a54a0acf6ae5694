package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu      sync.Mutex
	types   []string
	handled []shared.DomainEvent
	err     error
}

func (h *recordingHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func newGapEvent() shared.DomainEvent {
	gap := traceability.NewGapAction(traceability.GapFinding{
		POID:      uuid.New(),
		CompanyID: uuid.New(),
		Reason:    traceability.GapReasonMissingFulfillment,
		Unmatched: decimal.NewFromInt(5),
	})
	return traceability.NewGapOpenedEvent(gap, false)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers by type and to wildcard handlers", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		gaps := &recordingHandler{types: []string{traceability.EventTypeGapOpened}}
		all := &recordingHandler{}
		other := &recordingHandler{types: []string{traceability.EventTypeGapResolved}}
		bus.Subscribe(gaps)
		bus.Subscribe(all)
		bus.Subscribe(other)

		require.NoError(t, bus.Publish(ctx, newGapEvent(), newGapEvent()))
		assert.Equal(t, 2, gaps.count())
		assert.Equal(t, 2, all.count())
		assert.Equal(t, 0, other.count())
		assert.Equal(t, int64(2), bus.Published())
	})

	t.Run("failing and panicking handlers do not stop delivery", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		failing := &recordingHandler{types: []string{traceability.EventTypeGapOpened}, err: errors.New("boom")}
		panicking := &HandlerFunc{
			Types: []string{traceability.EventTypeGapOpened},
			Fn:    func(context.Context, shared.DomainEvent) error { panic("handler bug") },
		}
		after := &recordingHandler{types: []string{traceability.EventTypeGapOpened}}
		bus.Subscribe(failing)
		bus.Subscribe(panicking)
		bus.Subscribe(after)

		assert.NoError(t, bus.Publish(ctx, newGapEvent()))
		assert.Equal(t, 1, failing.count())
		assert.Equal(t, 1, after.count())
	})

	t.Run("unsubscribe", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		h := &recordingHandler{types: []string{traceability.EventTypeGapOpened}}
		bus.Subscribe(h)
		bus.Subscribe(h)
		bus.Unsubscribe(h)

		require.NoError(t, bus.Publish(ctx, newGapEvent()))
		assert.Equal(t, 0, h.count())
	})

	t.Run("stopped bus drops events", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		h := &recordingHandler{}
		bus.Subscribe(h)

		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		require.NoError(t, bus.Stop(stopCtx))
		require.NoError(t, bus.Publish(ctx, newGapEvent()))
		assert.Equal(t, 0, h.count())

		require.NoError(t, bus.Start(ctx))
		require.NoError(t, bus.Publish(ctx, newGapEvent()))
		assert.Equal(t, 1, h.count())
	})
}

func TestInMemoryEventBus_PublishFrom(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	h := &recordingHandler{}
	bus.Subscribe(h)

	po, err := supplychain.NewPurchaseOrder(uuid.New(), uuid.New(), uuid.New(), decimal.NewFromInt(10), decimal.NewFromInt(1), "MT")
	require.NoError(t, err)
	require.Len(t, po.GetDomainEvents(), 1)

	require.NoError(t, bus.PublishFrom(context.Background(), po))
	assert.Equal(t, 1, h.count())
	assert.Equal(t, supplychain.EventTypePurchaseOrderCreated, h.handled[0].EventType())
	assert.Empty(t, po.GetDomainEvents())
}
