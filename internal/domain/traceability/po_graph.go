package traceability

import (
	"context"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
)

// FulfillmentKind distinguishes the two ways an order can be fulfilled
type FulfillmentKind string

const (
	FulfillmentStockBatch    FulfillmentKind = "stock_batch"
	FulfillmentPurchaseOrder FulfillmentKind = "purchase_order"
)

// Fulfillment is one upstream source of an order: either a stock batch
// allocated at confirmation or a child order linked through parent_po_id.
type Fulfillment struct {
	Kind      FulfillmentKind
	BatchID   uuid.UUID
	ChildPOID uuid.UUID
	Quantity  decimal.Decimal // allocated quantity; zero for child orders
}

// ChainLink is an order positioned relative to the order a chain was built for.
// Negative depths are ancestors, positive depths descendants.
type ChainLink struct {
	Order *supplychain.PurchaseOrder
	Depth int
}

// POGraph exposes the commercial-chain relations between purchase orders.
// Edges are plain id references; callers that recurse must carry their own
// visited set.
type POGraph struct {
	orders supplychain.PurchaseOrderRepository
}

// NewPOGraph creates a new POGraph
func NewPOGraph(orders supplychain.PurchaseOrderRepository) *POGraph {
	return &POGraph{orders: orders}
}

// Order loads an order
func (g *POGraph) Order(ctx context.Context, id uuid.UUID) (*supplychain.PurchaseOrder, error) {
	return g.orders.FindByID(ctx, id)
}

// FulfillmentsOf returns the stock batches allocated to the order, by batch
// id, followed by its non-cancelled child orders, oldest first. An order
// fulfilled purely from stock, or not at all, yields no child entries.
func (g *POGraph) FulfillmentsOf(ctx context.Context, po *supplychain.PurchaseOrder) ([]Fulfillment, error) {
	out := make([]Fulfillment, 0, len(po.StockBatches))
	for _, a := range po.SortedAllocations() {
		out = append(out, Fulfillment{Kind: FulfillmentStockBatch, BatchID: a.BatchID, Quantity: a.Quantity})
	}

	children, err := g.orders.FindByParent(ctx, po.ID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if children[i].IsCancelled() {
			continue
		}
		out = append(out, Fulfillment{Kind: FulfillmentPurchaseOrder, ChildPOID: children[i].ID})
	}
	return out, nil
}

// ParentOf returns the id of the order's parent, if linked
func (g *POGraph) ParentOf(ctx context.Context, poID uuid.UUID) (*uuid.UUID, error) {
	po, err := g.orders.FindByID(ctx, poID)
	if err != nil {
		return nil, err
	}
	return po.ParentPOID, nil
}

// Ancestors returns the parent chain nearest first. The walk stops at the
// first repeated order, so a cyclic chain terminates.
func (g *POGraph) Ancestors(ctx context.Context, poID uuid.UUID) ([]*supplychain.PurchaseOrder, error) {
	visited := map[uuid.UUID]bool{poID: true}
	out := make([]*supplychain.PurchaseOrder, 0)

	current, err := g.ParentOf(ctx, poID)
	if err != nil {
		return nil, err
	}
	for current != nil && !visited[*current] {
		visited[*current] = true
		parent, err := g.orders.FindByID(ctx, *current)
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		current = parent.ParentPOID
	}
	return out, nil
}

// Descendants returns the child orders breadth first with their depth
func (g *POGraph) Descendants(ctx context.Context, poID uuid.UUID) ([]ChainLink, error) {
	visited := map[uuid.UUID]bool{poID: true}
	out := make([]ChainLink, 0)

	type item struct {
		id    uuid.UUID
		depth int
	}
	queue := []item{{id: poID}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		children, err := g.orders.FindByParent(ctx, next.id)
		if err != nil {
			return nil, err
		}
		for i := range children {
			child := children[i]
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			out = append(out, ChainLink{Order: &child, Depth: next.depth + 1})
			queue = append(queue, item{id: child.ID, depth: next.depth + 1})
		}
	}
	return out, nil
}

// CommercialChain returns the ancestors root first, then the order itself,
// then its descendants breadth first.
func (g *POGraph) CommercialChain(ctx context.Context, poID uuid.UUID) ([]ChainLink, error) {
	po, err := g.orders.FindByID(ctx, poID)
	if err != nil {
		return nil, err
	}
	ancestors, err := g.Ancestors(ctx, poID)
	if err != nil {
		return nil, err
	}
	descendants, err := g.Descendants(ctx, poID)
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{po.ID: true}
	chain := make([]ChainLink, 0, len(ancestors)+1+len(descendants))
	for i := len(ancestors) - 1; i >= 0; i-- {
		seen[ancestors[i].ID] = true
		chain = append(chain, ChainLink{Order: ancestors[i], Depth: -(i + 1)})
	}
	chain = append(chain, ChainLink{Order: po, Depth: 0})
	// on a cyclic chain an order can be both ancestor and descendant
	for _, d := range descendants {
		if seen[d.Order.ID] {
			continue
		}
		chain = append(chain, d)
	}
	return chain, nil
}
