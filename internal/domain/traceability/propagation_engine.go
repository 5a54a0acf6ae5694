package traceability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
)

// PropagationEngine scores how much of an order's quantity can be traced
// back to the mill and plantation tiers.
type PropagationEngine struct {
	graph     *POGraph
	ledger    *ledger.BatchLedger
	companies supplychain.CompanyRepository
}

// NewPropagationEngine creates a new PropagationEngine
func NewPropagationEngine(graph *POGraph, batchLedger *ledger.BatchLedger, companies supplychain.CompanyRepository) *PropagationEngine {
	return &PropagationEngine{
		graph:     graph,
		ledger:    batchLedger,
		companies: companies,
	}
}

// Graph returns the order graph the engine walks
func (e *PropagationEngine) Graph() *POGraph {
	return e.graph
}

// NewSession starts a propagation session. A session memoizes every order
// and batch it evaluates, so scoring several related orders in one session
// costs one pass over their shared subgraph. Sessions are not safe for
// concurrent use.
func (e *PropagationEngine) NewSession() *Session {
	return &Session{
		engine:    e,
		resolver:  e.ledger.NewResolver(),
		orders:    make(map[uuid.UUID]*supplychain.PurchaseOrder),
		roles:     make(map[uuid.UUID]supplychain.CompanyRole),
		memo:      make(map[uuid.UUID]Score),
		onStack:   make(map[uuid.UUID]bool),
		findings:  make(map[uuid.UUID]map[GapReason]GapFinding),
		evaluated: make([]uuid.UUID, 0),
	}
}

// Propagate scores a single order in a fresh session
func (e *PropagationEngine) Propagate(ctx context.Context, poID uuid.UUID) (Score, *Session, error) {
	s := e.NewSession()
	score, err := s.Score(ctx, poID)
	if err != nil {
		return Score{}, nil, err
	}
	return score, s, nil
}

// Session is one propagation run over live persisted state
type Session struct {
	engine   *PropagationEngine
	resolver *ledger.CompositionResolver

	orders    map[uuid.UUID]*supplychain.PurchaseOrder
	roles     map[uuid.UUID]supplychain.CompanyRole
	memo      map[uuid.UUID]Score
	onStack   map[uuid.UUID]bool
	findings  map[uuid.UUID]map[GapReason]GapFinding
	evaluated []uuid.UUID
}

// Score returns the transparency of an order.
//
// Stock batches allocated at confirmation are consumed first, each weighted
// by the quantity drawn over the order's confirmed quantity and by the
// share of its origin composition at or upstream of the target tier. Child
// orders then cover what remains, each weighted by its confirmed quantity
// (capped at the remainder) and its own recursive score. Whatever stays
// uncovered scores 0 and is reported as a gap finding. A seller already at
// or upstream of a target tier makes the order fully traceable to it.
//
// Incomplete upstream data never fails the computation; only corrupt state
// (e.g. a transaction referencing a missing batch) returns an error.
func (s *Session) Score(ctx context.Context, poID uuid.UUID) (Score, error) {
	return s.score(ctx, poID)
}

func (s *Session) score(ctx context.Context, poID uuid.UUID) (Score, error) {
	if sc, ok := s.memo[poID]; ok {
		return sc, nil
	}
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}

	po, err := s.order(ctx, poID)
	if err != nil {
		return Score{}, err
	}
	s.evaluated = append(s.evaluated, po.ID)
	s.findings[po.ID] = make(map[GapReason]GapFinding)

	total := po.EffectiveQuantity()
	if po.IsCancelled() || total.LessThanOrEqual(decimal.Zero) {
		s.memo[poID] = Score{ToMill: scoreZero, ToPlantation: scoreZero}
		return s.memo[poID], nil
	}
	if !po.IsSellerConfirmed() {
		s.record(po, GapReasonMissingConfirmation, total)
		s.memo[poID] = Score{ToMill: scoreZero, ToPlantation: scoreZero}
		return s.memo[poID], nil
	}

	sellerRole, err := s.companyRole(ctx, po.SellerCompanyID)
	if err != nil {
		return Score{}, err
	}
	if sellerRole.IsAtOrUpstreamOf(supplychain.TierPlantation) {
		s.memo[poID] = Score{ToMill: scoreOne, ToPlantation: scoreOne}
		return s.memo[poID], nil
	}

	s.onStack[poID] = true
	defer delete(s.onStack, poID)

	fulfillments, err := s.engine.graph.FulfillmentsOf(ctx, po)
	if err != nil {
		return Score{}, fmt.Errorf("failed to load fulfillments of %s: %w", po.ID, err)
	}

	var (
		sum          = Score{ToMill: decimal.Zero, ToPlantation: decimal.Zero}
		remaining    = total
		unknownBatch = decimal.Zero
		cycle        bool
		unconfirmed  bool
	)
	for _, f := range fulfillments {
		if !remaining.IsPositive() {
			break
		}
		switch f.Kind {
		case FulfillmentStockBatch:
			take := decimal.Min(f.Quantity, remaining)
			comp, err := s.resolver.Resolve(ctx, f.BatchID)
			if err != nil {
				return Score{}, err
			}
			weight := take.Div(total)
			sum.ToMill = sum.ToMill.Add(weight.Mul(comp.FractionAtOrUpstreamOf(supplychain.TierMill)))
			sum.ToPlantation = sum.ToPlantation.Add(weight.Mul(comp.FractionAtOrUpstreamOf(supplychain.TierPlantation)))
			unknownBatch = unknownBatch.Add(take.Mul(comp.Unknown))
			remaining = remaining.Sub(take)

		case FulfillmentPurchaseOrder:
			if s.onStack[f.ChildPOID] {
				cycle = true
				continue
			}
			childScore, err := s.score(ctx, f.ChildPOID)
			if err != nil {
				return Score{}, err
			}
			child := s.orders[f.ChildPOID]
			if !child.IsSellerConfirmed() {
				unconfirmed = true
				continue
			}
			take := decimal.Min(child.EffectiveQuantity(), remaining)
			weight := take.Div(total)
			sum.ToMill = sum.ToMill.Add(weight.Mul(childScore.ToMill))
			sum.ToPlantation = sum.ToPlantation.Add(weight.Mul(childScore.ToPlantation))
			remaining = remaining.Sub(take)
		}
	}

	if remaining.IsPositive() {
		reason := GapReasonMissingFulfillment
		switch {
		case cycle:
			reason = GapReasonCycleDetected
		case unconfirmed:
			reason = GapReasonMissingConfirmation
		}
		s.record(po, reason, remaining)
	} else if cycle {
		s.record(po, GapReasonCycleDetected, decimal.Zero)
	}
	if unmatched := unknownBatch.Round(ScorePrecision); unmatched.IsPositive() {
		s.record(po, GapReasonMissingBatchLink, unmatched)
	}

	if sellerRole.IsAtOrUpstreamOf(supplychain.TierMill) {
		sum.ToMill = scoreOne
	}
	result := sum.normalize()
	s.memo[poID] = result
	return result, nil
}

// Findings returns the gaps detected so far, ordered by order id then reason
func (s *Session) Findings() []GapFinding {
	out := make([]GapFinding, 0)
	for _, byReason := range s.findings {
		for _, f := range byReason {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].POID != out[j].POID {
			return out[i].POID.String() < out[j].POID.String()
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// FindingsFor returns the gaps detected for one evaluated order
func (s *Session) FindingsFor(poID uuid.UUID) []GapFinding {
	out := make([]GapFinding, 0, len(s.findings[poID]))
	for _, f := range s.findings[poID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

// Evaluated returns the orders scored in this session, in evaluation order
func (s *Session) Evaluated() []uuid.UUID {
	return append([]uuid.UUID(nil), s.evaluated...)
}

// ScoreOf returns the memoized score of an evaluated order
func (s *Session) ScoreOf(poID uuid.UUID) (Score, bool) {
	sc, ok := s.memo[poID]
	return sc, ok
}

// Order returns an order through the session cache
func (s *Session) Order(ctx context.Context, id uuid.UUID) (*supplychain.PurchaseOrder, error) {
	return s.order(ctx, id)
}

// SubtreeChangedAt returns the latest modification time across the order,
// its descendants and the lineage of every batch they draw from.
func (s *Session) SubtreeChangedAt(ctx context.Context, poID uuid.UUID) (time.Time, error) {
	visited := make(map[uuid.UUID]bool)
	var latest time.Time

	var walk func(id uuid.UUID) error
	walk = func(id uuid.UUID) error {
		if visited[id] {
			return nil
		}
		visited[id] = true

		po, err := s.order(ctx, id)
		if err != nil {
			return err
		}
		if po.UpdatedAt.After(latest) {
			latest = po.UpdatedAt
		}
		fulfillments, err := s.engine.graph.FulfillmentsOf(ctx, po)
		if err != nil {
			return err
		}
		for _, f := range fulfillments {
			if f.Kind == FulfillmentStockBatch {
				t, err := s.resolver.ChangedAt(ctx, f.BatchID)
				if err != nil {
					return err
				}
				if t.After(latest) {
					latest = t
				}
				continue
			}
			if err := walk(f.ChildPOID); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(poID); err != nil {
		return time.Time{}, err
	}
	return latest, nil
}

func (s *Session) record(po *supplychain.PurchaseOrder, reason GapReason, unmatched decimal.Decimal) {
	s.findings[po.ID][reason] = GapFinding{
		POID:      po.ID,
		CompanyID: po.SellerCompanyID,
		Reason:    reason,
		Unmatched: unmatched,
	}
}

func (s *Session) order(ctx context.Context, id uuid.UUID) (*supplychain.PurchaseOrder, error) {
	if po, ok := s.orders[id]; ok {
		return po, nil
	}
	po, err := s.engine.graph.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	s.orders[id] = po
	return po, nil
}

func (s *Session) companyRole(ctx context.Context, id uuid.UUID) (supplychain.CompanyRole, error) {
	if role, ok := s.roles[id]; ok {
		return role, nil
	}
	company, err := s.engine.companies.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to load company %s: %w", id, err)
	}
	s.roles[id] = company.Role
	return company.Role, nil
}
