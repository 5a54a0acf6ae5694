package traceability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func newTestMetrics(t *testing.T) (*telemetry.TraceabilityMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProviderWithReader(reader, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := telemetry.NewTraceabilityMetrics(mp.Meter("palmtrace"))
	require.NoError(t, err)
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	want := attribute.NewSet(attrs...)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "expected int64 sum for %s, got %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestMetricsEventHandler_ThroughEventBus(t *testing.T) {
	m, reader := newTestMetrics(t)
	f := newServiceFixture(t)
	f.bus.Subscribe(NewMetricsEventHandler(m, zaptest.NewLogger(t)))
	f.recalc.SetMetrics(m)
	f.svc.SetMetrics(m)

	c := newBrandChain(f)
	_, err := f.svc.ConfirmPurchaseOrder(f.ctx, c.child, ConfirmPurchaseOrderRequest{
		StockBatches: []StockBatchInput{{BatchID: c.stock, Quantity: dec("50")}},
	})
	require.NoError(t, err)
	_, err = f.svc.ConfirmPurchaseOrder(f.ctx, c.root, ConfirmPurchaseOrderRequest{})
	require.NoError(t, err)

	gaps, err := f.svc.ListGaps(f.ctx, c.trader)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	_, err = f.svc.ResolveGap(f.ctx, gaps[0].ID, ResolveGapRequest{ResolvedBy: uuid.New()})
	require.NoError(t, err)

	_, err = f.svc.ConfirmPurchaseOrder(f.ctx, f.order(c.trader, c.mill, "451", nil), ConfirmPurchaseOrderRequest{
		StockBatches: []StockBatchInput{{BatchID: c.stock, Quantity: dec("451")}},
	})
	require.ErrorIs(t, err, shared.ErrMassBalance)

	assert.Equal(t, int64(1), counterValue(t, reader, "palmtrace_gaps_opened_total",
		telemetry.AttrReason.String("missing_confirmation")))
	assert.Equal(t, int64(1), counterValue(t, reader, "palmtrace_gaps_opened_total",
		telemetry.AttrReason.String("missing_fulfillment")))
	assert.Equal(t, int64(1), counterValue(t, reader, "palmtrace_gaps_resolved_total",
		telemetry.AttrReason.String("missing_confirmation"), telemetry.AttrResolution.String(ResolutionAuto)))
	assert.Equal(t, int64(1), counterValue(t, reader, "palmtrace_gaps_resolved_total",
		telemetry.AttrReason.String("missing_fulfillment"), telemetry.AttrResolution.String(ResolutionManual)))
	assert.Equal(t, int64(1), counterValue(t, reader, "palmtrace_mass_balance_rejections_total",
		telemetry.AttrOperation.String("allocate")))
	assert.Positive(t, counterValue(t, reader, "palmtrace_recalculations_total",
		telemetry.AttrTrigger.String(TriggerConfirmation)))
}

func TestMetricsEventHandler_RejectsForeignEvents(t *testing.T) {
	m, _ := newTestMetrics(t)
	h := NewMetricsEventHandler(m, zaptest.NewLogger(t))

	po, err := supplychain.NewPurchaseOrder(uuid.New(), uuid.New(), uuid.New(), dec("1"), dec("1"), "MT")
	require.NoError(t, err)
	err = h.Handle(context.Background(), supplychain.NewPurchaseOrderCreatedEvent(po))
	assert.Error(t, err)

	var _ shared.EventHandler = h
}
