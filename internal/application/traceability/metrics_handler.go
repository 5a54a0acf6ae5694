package traceability

import (
	"context"
	"fmt"

	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/palmtrace/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Gap resolution kinds recorded on metrics
const (
	ResolutionManual = "manual"
	ResolutionAuto   = "auto"
)

// MetricsEventHandler feeds transparency and gap events into TraceabilityMetrics
type MetricsEventHandler struct {
	metrics *telemetry.TraceabilityMetrics
	logger  *zap.Logger
}

// NewMetricsEventHandler creates a new handler recording traceability metrics
func NewMetricsEventHandler(metrics *telemetry.TraceabilityMetrics, logger *zap.Logger) *MetricsEventHandler {
	return &MetricsEventHandler{
		metrics: metrics,
		logger:  logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *MetricsEventHandler) EventTypes() []string {
	return []string{
		traceability.EventTypeTransparencyRecalculated,
		traceability.EventTypeGapOpened,
		traceability.EventTypeGapResolved,
	}
}

// Handle records one event
func (h *MetricsEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *traceability.TransparencyRecalculatedEvent:
		h.metrics.RecordScore(ctx, supplychain.TierMill.String(), e.ToMill)
		h.metrics.RecordScore(ctx, supplychain.TierPlantation.String(), e.ToPlantation)
	case *traceability.GapOpenedEvent:
		h.metrics.RecordGapOpened(ctx, string(e.Reason))
	case *traceability.GapResolvedEvent:
		resolution := ResolutionAuto
		if e.ResolvedBy != nil {
			resolution = ResolutionManual
		}
		h.metrics.RecordGapResolved(ctx, string(e.Reason), resolution)
	default:
		h.logger.Error("unexpected event type", zap.String("actual", event.EventType()))
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}
	return nil
}
