package traceability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/domain/traceability"
	"github.com/palmtrace/backend/internal/infrastructure/logger"
	"github.com/palmtrace/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recalculation triggers
const (
	TriggerConfirmation        = "confirmation"
	TriggerDiscrepancyAccepted = "discrepancy_accepted"
	TriggerCancellation        = "cancellation"
	TriggerLink                = "link"
	TriggerManual              = "manual"
	TriggerLineage             = "lineage"
	TriggerRead                = "read"
)

const (
	defaultCacheTTL = 15 * time.Minute
	defaultWorkers  = 4
)

// RecalculatorConfig tunes caching and parallelism
type RecalculatorConfig struct {
	CacheTTL time.Duration
	Workers  int
}

// Outcome is the result of one recomputation: the scores written, in write
// order, and the gap changes it caused.
type Outcome struct {
	Order  []uuid.UUID
	Scores map[uuid.UUID]traceability.Transparency
	Gaps   traceability.GapSyncResult
}

func newOutcome() *Outcome {
	return &Outcome{Scores: make(map[uuid.UUID]traceability.Transparency)}
}

func (o *Outcome) merge(other *Outcome) {
	for _, id := range other.Order {
		if _, ok := o.Scores[id]; !ok {
			o.Order = append(o.Order, id)
		}
		o.Scores[id] = other.Scores[id]
	}
	o.Gaps.Opened = append(o.Gaps.Opened, other.Gaps.Opened...)
	o.Gaps.Reopened = append(o.Gaps.Reopened, other.Gaps.Reopened...)
	o.Gaps.AutoResolved = append(o.Gaps.AutoResolved, other.Gaps.AutoResolved...)
	o.Gaps.Unchanged += other.Gaps.Unchanged
}

// Recalculator owns the recomputation policy: which orders are rescored
// after a change, in which order, under which locks, and how results are
// cached and persisted.
type Recalculator struct {
	engine   *traceability.PropagationEngine
	detector *traceability.GapDetector
	orders   supplychain.PurchaseOrderRepository
	cache    shared.Cache
	locker   shared.Locker
	config   RecalculatorConfig
	logger   *zap.Logger

	eventPublisher shared.EventPublisher
	metrics        *telemetry.TraceabilityMetrics
}

// NewRecalculator creates a new Recalculator
func NewRecalculator(
	engine *traceability.PropagationEngine,
	detector *traceability.GapDetector,
	orders supplychain.PurchaseOrderRepository,
	cache shared.Cache,
	locker shared.Locker,
	cfg RecalculatorConfig,
	logger *zap.Logger,
) *Recalculator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recalculator{
		engine:   engine,
		detector: detector,
		orders:   orders,
		cache:    cache,
		locker:   locker,
		config:   cfg,
		logger:   logger.Named("recalculator"),
	}
}

// SetEventPublisher sets the publisher for recalculation and gap events
func (r *Recalculator) SetEventPublisher(publisher shared.EventPublisher) {
	r.eventPublisher = publisher
}

// SetMetrics sets the traceability metrics collector
func (r *Recalculator) SetMetrics(m *telemetry.TraceabilityMetrics) {
	r.metrics = m
}

// OrderLockKey is the lock key guarding an order's mutations and score writes
func OrderLockKey(poID uuid.UUID) string {
	return "lock:po:" + poID.String()
}

// CacheKey is the cache key of an order's transparency at a given version
func CacheKey(poID uuid.UUID, version int) string {
	return fmt.Sprintf("%s%d", cachePrefix(poID), version)
}

func cachePrefix(poID uuid.UUID) string {
	return "transparency:" + poID.String() + ":v"
}

// Cascade rescores an order and every ancestor above it, bottom-up, in one
// propagation session. The whole chain is locked for the duration so a
// concurrent cascade sharing any ancestor waits instead of interleaving
// stale writes.
func (r *Recalculator) Cascade(ctx context.Context, poID uuid.UUID, trigger string) (*Outcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "traceability", "cascade",
		telemetry.WithAttribute(telemetry.SpanAttrPOID, poID),
		telemetry.WithAttribute(telemetry.SpanAttrTrigger, trigger),
	)
	defer span.End()
	started := time.Now()

	ancestors, err := r.engine.Graph().Ancestors(ctx, poID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	chain := make([]uuid.UUID, 0, len(ancestors)+1)
	chain = append(chain, poID)
	for _, a := range ancestors {
		chain = append(chain, a.ID)
	}

	release, err := r.lockOrders(ctx, chain)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	calculatedAt := time.Now()
	session := r.engine.NewSession()
	for _, id := range chain {
		if _, err := session.Score(ctx, id); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to score order %s: %w", id, err)
		}
	}

	gaps, err := r.detector.Sync(ctx, session)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	outcome := newOutcome()
	outcome.Gaps = *gaps
	for _, id := range chain {
		t, err := r.store(ctx, session, id, calculatedAt)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		outcome.Order = append(outcome.Order, id)
		outcome.Scores[id] = t
	}

	r.finish(ctx, outcome, trigger, time.Since(started))
	telemetry.SetAttributes(span,
		telemetry.SpanAttrOrderCount, len(chain),
		telemetry.SpanAttrGapsOpened, len(gaps.Opened)+len(gaps.Reopened),
		telemetry.SpanAttrGapsClosed, len(gaps.AutoResolved),
	)
	telemetry.SetOK(span)
	return outcome, nil
}

// RecalculateCompany rescores every order the company buys or sells plus
// all their ancestors. Orders are grouped by height in the commercial
// chain and each level is processed in parallel after the one below it.
func (r *Recalculator) RecalculateCompany(ctx context.Context, companyID uuid.UUID, trigger string) (*Outcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "traceability", "recalculate_company",
		telemetry.WithAttribute(telemetry.SpanAttrCompanyID, companyID),
		telemetry.WithAttribute(telemetry.SpanAttrTrigger, trigger),
	)
	defer span.End()
	started := time.Now()

	ids, err := r.companyScope(ctx, companyID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	for _, id := range ids {
		r.invalidate(ctx, id)
	}

	levels, err := r.levels(ctx, ids)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	outcome := newOutcome()
	var mu sync.Mutex
	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.config.Workers)
		for _, id := range level {
			g.Go(func() error {
				one, err := r.recalculateOne(gctx, id)
				if err != nil {
					return err
				}
				mu.Lock()
				outcome.merge(one)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	r.finish(ctx, outcome, trigger, time.Since(started))
	telemetry.SetAttributes(span, telemetry.SpanAttrOrderCount, len(ids))
	telemetry.SetOK(span)
	return outcome, nil
}

// Invalidate drops every cached result of an order
func (r *Recalculator) Invalidate(ctx context.Context, poID uuid.UUID) {
	r.invalidate(ctx, poID)
}

// Lookup returns an order's transparency without recomputing when a
// cached or stored result is still current. A stale or missing result is
// recomputed synchronously. The returned source says which path served it.
func (r *Recalculator) Lookup(ctx context.Context, poID uuid.UUID) (traceability.Transparency, string, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "traceability", "lookup",
		telemetry.WithAttribute(telemetry.SpanAttrPOID, poID),
	)
	defer span.End()

	po, err := r.orders.FindByID(ctx, poID)
	if err != nil {
		telemetry.RecordError(span, err)
		return traceability.Transparency{}, "", err
	}
	changedAt, err := r.engine.NewSession().SubtreeChangedAt(ctx, poID)
	if err != nil {
		telemetry.RecordError(span, err)
		return traceability.Transparency{}, "", err
	}

	cached, err := r.cached(ctx, po, changedAt)
	if err == nil {
		r.metrics.RecordCacheLookup(ctx, true)
		telemetry.SetAttributes(span, telemetry.SpanAttrCacheResult, SourceCache)
		return cached, SourceCache, nil
	}
	r.metrics.RecordCacheLookup(ctx, false)
	if errors.Is(err, shared.ErrStaleCache) {
		r.logger.Debug("cached transparency is stale", zap.String("po_id", poID.String()))
	}

	if at := po.TransparencyCalculatedAt; at != nil && !changedAt.After(*at) {
		t := traceability.Transparency{
			Score:        traceability.Score{ToMill: po.TransparencyToMill, ToPlantation: po.TransparencyToPlantation},
			CalculatedAt: *at,
			Version:      po.Version,
		}
		r.put(ctx, po.ID, t)
		telemetry.SetAttributes(span, telemetry.SpanAttrCacheResult, SourceStored)
		return t, SourceStored, nil
	}

	outcome, err := r.Cascade(ctx, poID, TriggerRead)
	if err != nil {
		telemetry.RecordError(span, err)
		return traceability.Transparency{}, "", err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrCacheResult, SourceComputed)
	return outcome.Scores[poID], SourceComputed, nil
}

// cached returns the cache entry for the order's current version, or
// ErrStaleCache when something in its subtree changed after it was computed.
// Any cache failure is reported as a miss.
func (r *Recalculator) cached(ctx context.Context, po *supplychain.PurchaseOrder, changedAt time.Time) (traceability.Transparency, error) {
	raw, ok, err := r.cache.Get(ctx, CacheKey(po.ID, po.Version))
	if err != nil {
		logger.WithLogger(ctx, r.logger).Warn("transparency cache read failed", zap.Error(err))
		return traceability.Transparency{}, err
	}
	if !ok {
		return traceability.Transparency{}, shared.NewNotFoundError("cached transparency", po.ID)
	}
	var t traceability.Transparency
	if err := json.Unmarshal(raw, &t); err != nil {
		return traceability.Transparency{}, fmt.Errorf("decode cached transparency: %w", err)
	}
	if changedAt.After(t.CalculatedAt) {
		return traceability.Transparency{}, shared.ErrStaleCache
	}
	return t, nil
}

func (r *Recalculator) recalculateOne(ctx context.Context, poID uuid.UUID) (*Outcome, error) {
	release, err := r.locker.Acquire(ctx, OrderLockKey(poID))
	if err != nil {
		return nil, err
	}
	defer release()

	calculatedAt := time.Now()
	session := r.engine.NewSession()
	if _, err := session.Score(ctx, poID); err != nil {
		return nil, fmt.Errorf("failed to score order %s: %w", poID, err)
	}
	gaps, err := r.detector.SyncOrders(ctx, session, poID)
	if err != nil {
		return nil, err
	}
	t, err := r.store(ctx, session, poID, calculatedAt)
	if err != nil {
		return nil, err
	}

	outcome := newOutcome()
	outcome.Order = []uuid.UUID{poID}
	outcome.Scores[poID] = t
	outcome.Gaps = *gaps
	return outcome, nil
}

// store persists a freshly computed score and replaces the order's cache entry
func (r *Recalculator) store(ctx context.Context, session *traceability.Session, poID uuid.UUID, at time.Time) (traceability.Transparency, error) {
	score, ok := session.ScoreOf(poID)
	if !ok {
		return traceability.Transparency{}, fmt.Errorf("order %s was not scored", poID)
	}
	po, err := session.Order(ctx, poID)
	if err != nil {
		return traceability.Transparency{}, err
	}
	if err := r.orders.UpdateTransparency(ctx, poID, score.ToMill, score.ToPlantation, at); err != nil {
		return traceability.Transparency{}, fmt.Errorf("failed to store transparency of order %s: %w", poID, err)
	}

	t := traceability.Transparency{Score: score, CalculatedAt: at, Version: po.Version}
	r.invalidate(ctx, poID)
	r.put(ctx, poID, t)
	return t, nil
}

func (r *Recalculator) put(ctx context.Context, poID uuid.UUID, t traceability.Transparency) {
	raw, err := json.Marshal(t)
	if err != nil {
		r.logger.Error("failed to encode transparency", zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, CacheKey(poID, t.Version), raw, r.config.CacheTTL); err != nil {
		logger.WithLogger(ctx, r.logger).Warn("transparency cache write failed",
			zap.String("po_id", poID.String()), zap.Error(err))
	}
}

func (r *Recalculator) invalidate(ctx context.Context, poID uuid.UUID) {
	if err := r.cache.DeletePrefix(ctx, cachePrefix(poID)); err != nil {
		logger.WithLogger(ctx, r.logger).Warn("transparency cache invalidation failed",
			zap.String("po_id", poID.String()), zap.Error(err))
	}
}

// finish records metrics and publishes the events of a completed recomputation
func (r *Recalculator) finish(ctx context.Context, outcome *Outcome, trigger string, elapsed time.Duration) {
	r.metrics.RecordRecalculation(ctx, trigger, elapsed)

	events := make([]shared.DomainEvent, 0, len(outcome.Order)+len(outcome.Gaps.Opened))
	for _, id := range outcome.Order {
		events = append(events, traceability.NewTransparencyRecalculatedEvent(id, outcome.Scores[id].Score, trigger))
	}
	for i := range outcome.Gaps.Opened {
		events = append(events, traceability.NewGapOpenedEvent(&outcome.Gaps.Opened[i], false))
	}
	for i := range outcome.Gaps.Reopened {
		events = append(events, traceability.NewGapOpenedEvent(&outcome.Gaps.Reopened[i], true))
	}
	for i := range outcome.Gaps.AutoResolved {
		events = append(events, traceability.NewGapResolvedEvent(&outcome.Gaps.AutoResolved[i]))
	}

	logger.WithLogger(ctx, r.logger).Info("transparency recalculated",
		zap.String("trigger", trigger),
		zap.Int("orders", len(outcome.Order)),
		zap.Int("gaps_opened", len(outcome.Gaps.Opened)),
		zap.Int("gaps_reopened", len(outcome.Gaps.Reopened)),
		zap.Int("gaps_resolved", len(outcome.Gaps.AutoResolved)),
		zap.Duration("elapsed", elapsed),
	)

	if r.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := r.eventPublisher.Publish(ctx, events...); err != nil {
		logger.WithLogger(ctx, r.logger).Warn("failed to publish recalculation events", zap.Error(err))
	}
}

// lockOrders takes the order locks in id order so overlapping chains cannot deadlock
func (r *Recalculator) lockOrders(ctx context.Context, ids []uuid.UUID) (func(), error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, id := range sorted {
		release, err := r.locker.Acquire(ctx, OrderLockKey(id))
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// companyScope returns the company's orders and all their ancestors
func (r *Recalculator) companyScope(ctx context.Context, companyID uuid.UUID) ([]uuid.UUID, error) {
	orders, err := r.orders.FindByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0, len(orders))
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for i := range orders {
		add(orders[i].ID)
		ancestors, err := r.engine.Graph().Ancestors(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		for _, a := range ancestors {
			add(a.ID)
		}
	}
	return ids, nil
}

// levels groups orders by height within the set: an order with no child in
// the set is 0, a parent is one above its highest child. A child edge that
// closes a cycle is ignored.
func (r *Recalculator) levels(ctx context.Context, ids []uuid.UUID) ([][]uuid.UUID, error) {
	inSet := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}
	height := make(map[uuid.UUID]int, len(ids))
	onStack := make(map[uuid.UUID]bool)

	var visit func(id uuid.UUID) (int, error)
	visit = func(id uuid.UUID) (int, error) {
		if h, ok := height[id]; ok {
			return h, nil
		}
		onStack[id] = true
		defer delete(onStack, id)

		children, err := r.orders.FindByParent(ctx, id)
		if err != nil {
			return 0, err
		}
		h := 0
		for i := range children {
			child := children[i].ID
			if !inSet[child] || onStack[child] {
				continue
			}
			ch, err := visit(child)
			if err != nil {
				return 0, err
			}
			if ch+1 > h {
				h = ch + 1
			}
		}
		height[id] = h
		return h, nil
	}

	maxHeight := 0
	for _, id := range ids {
		h, err := visit(id)
		if err != nil {
			return nil, err
		}
		if h > maxHeight {
			maxHeight = h
		}
	}
	levels := make([][]uuid.UUID, maxHeight+1)
	for _, id := range ids {
		levels[height[id]] = append(levels[height[id]], id)
	}
	return levels, nil
}
