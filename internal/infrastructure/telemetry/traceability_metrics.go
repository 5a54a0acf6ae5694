package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// TraceabilityMetrics records recalculation, gap and ledger activity.
type TraceabilityMetrics struct {
	recalculations      *Counter
	propagationDuration *Histogram
	scores              *Histogram
	gapsOpened          *Counter
	gapsResolved        *Counter
	massBalanceRejected *Counter
	cacheLookups        *Counter
}

// NewTraceabilityMetrics registers the traceability instruments on meter.
func NewTraceabilityMetrics(meter metric.Meter) (*TraceabilityMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &TraceabilityMetrics{}
	var err error

	if m.recalculations, err = NewCounter(meter,
		"palmtrace_recalculations_total",
		"Transparency recalculations by trigger",
		"{recalculations}",
	); err != nil {
		return nil, err
	}
	if m.propagationDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "palmtrace_propagation_duration_seconds",
		Description: "Time spent scoring an order and its upstream tree",
		Unit:        "s",
		Boundaries:  PropagationDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.scores, err = NewHistogram(meter, HistogramOpts{
		Name:        "palmtrace_transparency_score",
		Description: "Distribution of recorded transparency scores by tier",
		Unit:        "1",
		Boundaries:  ScoreBuckets,
	}); err != nil {
		return nil, err
	}
	if m.gapsOpened, err = NewCounter(meter,
		"palmtrace_gaps_opened_total",
		"Gap actions opened or reopened by reason",
		"{gaps}",
	); err != nil {
		return nil, err
	}
	if m.gapsResolved, err = NewCounter(meter,
		"palmtrace_gaps_resolved_total",
		"Gap actions resolved, manually or by recalculation",
		"{gaps}",
	); err != nil {
		return nil, err
	}
	if m.massBalanceRejected, err = NewCounter(meter,
		"palmtrace_mass_balance_rejections_total",
		"Batch draws refused for exceeding remaining quantity",
		"{transactions}",
	); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = NewCounter(meter,
		"palmtrace_transparency_cache_lookups_total",
		"Transparency cache lookups by result",
		"{lookups}",
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRecalculation counts one recalculation and its duration.
func (m *TraceabilityMetrics) RecordRecalculation(ctx context.Context, trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.recalculations.Inc(ctx, AttrTrigger.String(trigger))
	m.propagationDuration.RecordDuration(ctx, d, AttrTrigger.String(trigger))
}

// RecordScore records a freshly computed score for tier.
func (m *TraceabilityMetrics) RecordScore(ctx context.Context, tier string, score decimal.Decimal) {
	if m == nil {
		return
	}
	f, _ := score.Float64()
	m.scores.Record(ctx, f, AttrTier.String(tier))
}

// RecordGapOpened counts an opened or reopened gap.
func (m *TraceabilityMetrics) RecordGapOpened(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.gapsOpened.Inc(ctx, AttrReason.String(reason))
}

// RecordGapResolved counts a resolved gap. resolution is "manual" or "auto".
func (m *TraceabilityMetrics) RecordGapResolved(ctx context.Context, reason, resolution string) {
	if m == nil {
		return
	}
	m.gapsResolved.Inc(ctx, AttrReason.String(reason), AttrResolution.String(resolution))
}

// RecordMassBalanceRejection counts a refused batch draw.
func (m *TraceabilityMetrics) RecordMassBalanceRejection(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.massBalanceRejected.Inc(ctx, AttrOperation.String(operation))
}

// RecordCacheLookup counts a transparency cache hit or miss.
func (m *TraceabilityMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Inc(ctx, AttrResult.String(result))
}
