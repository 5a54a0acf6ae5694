package handler

import (
	"github.com/gin-gonic/gin"
	traceapp "github.com/palmtrace/backend/internal/application/traceability"
)

// TraceabilityHandler exposes the traceability service over HTTP
type TraceabilityHandler struct {
	BaseHandler
	service *traceapp.TraceabilityService
}

// NewTraceabilityHandler creates a new TraceabilityHandler
func NewTraceabilityHandler(service *traceapp.TraceabilityService) *TraceabilityHandler {
	return &TraceabilityHandler{service: service}
}

// ==================== Companies ====================

// RegisterCompany handles POST /companies
func (h *TraceabilityHandler) RegisterCompany(c *gin.Context) {
	var req traceapp.RegisterCompanyRequest
	if !h.BindJSON(c, &req) {
		return
	}
	company, err := h.service.RegisterCompany(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, company)
}

// GetCompany handles GET /companies/:id
func (h *TraceabilityHandler) GetCompany(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	company, err := h.service.GetCompany(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, company)
}

// ListGaps handles GET /companies/:id/gaps
func (h *TraceabilityHandler) ListGaps(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	gaps, err := h.service.ListGaps(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gaps)
}

// ==================== Purchase orders ====================

// CreatePurchaseOrder handles POST /purchase-orders
func (h *TraceabilityHandler) CreatePurchaseOrder(c *gin.Context) {
	var req traceapp.CreatePurchaseOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	order, err := h.service.CreatePurchaseOrder(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, order)
}

// GetPurchaseOrder handles GET /purchase-orders/:id
func (h *TraceabilityHandler) GetPurchaseOrder(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	order, err := h.service.GetPurchaseOrder(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// ConfirmPurchaseOrder handles POST /purchase-orders/:id/confirm.
// An empty body confirms the buyer's terms from stock already linked upstream.
func (h *TraceabilityHandler) ConfirmPurchaseOrder(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req traceapp.ConfirmPurchaseOrderRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	order, err := h.service.ConfirmPurchaseOrder(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// AcceptDiscrepancy handles POST /purchase-orders/:id/accept-discrepancy
func (h *TraceabilityHandler) AcceptDiscrepancy(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	order, err := h.service.AcceptDiscrepancy(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// CancelPurchaseOrder handles POST /purchase-orders/:id/cancel
func (h *TraceabilityHandler) CancelPurchaseOrder(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req traceapp.CancelPurchaseOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	order, err := h.service.CancelPurchaseOrder(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// GetTransparency handles GET /purchase-orders/:id/transparency
func (h *TraceabilityHandler) GetTransparency(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	t, err := h.service.GetTransparency(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, t)
}

// GetCommercialChain handles GET /purchase-orders/:id/chain
func (h *TraceabilityHandler) GetCommercialChain(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	chain, err := h.service.GetCommercialChain(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, chain)
}

// RecalculateTransparency handles POST /transparency/recalculate
func (h *TraceabilityHandler) RecalculateTransparency(c *gin.Context) {
	var req traceapp.RecalculateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	result, err := h.service.RecalculateTransparency(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ==================== Gaps ====================

// ResolveGap handles POST /gaps/:id/resolve
func (h *TraceabilityHandler) ResolveGap(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req traceapp.ResolveGapRequest
	if !h.BindJSON(c, &req) {
		return
	}
	gap, err := h.service.ResolveGap(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gap)
}

// ==================== Batches ====================

// RecordBatch handles POST /batches
func (h *TraceabilityHandler) RecordBatch(c *gin.Context) {
	var req traceapp.RecordBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}
	batch, err := h.service.RecordBatch(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, batch)
}

// GetBatch handles GET /batches/:id
func (h *TraceabilityHandler) GetBatch(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	batch, err := h.service.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// GetBatchComposition handles GET /batches/:id/composition
func (h *TraceabilityHandler) GetBatchComposition(c *gin.Context) {
	id, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	composition, err := h.service.GetBatchComposition(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, composition)
}

// RecordBatchTransaction handles POST /batch-transactions
func (h *TraceabilityHandler) RecordBatchTransaction(c *gin.Context) {
	var req traceapp.RecordBatchTransactionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	tx, err := h.service.RecordBatchTransaction(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, tx)
}
