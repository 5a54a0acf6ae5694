package handler

import (
	"github.com/palmtrace/backend/internal/interfaces/http/router"
)

// TraceabilityRoutes creates the route groups for the traceability API
func TraceabilityRoutes(h *TraceabilityHandler) []*router.DomainGroup {
	companies := router.NewDomainGroup("companies", "/companies")
	companies.POST("", h.RegisterCompany)
	companies.GET("/:id", h.GetCompany)
	companies.GET("/:id/gaps", h.ListGaps)

	orders := router.NewDomainGroup("purchase-orders", "/purchase-orders")
	orders.POST("", h.CreatePurchaseOrder)
	orders.GET("/:id", h.GetPurchaseOrder)
	orders.POST("/:id/confirm", h.ConfirmPurchaseOrder)
	orders.POST("/:id/accept-discrepancy", h.AcceptDiscrepancy)
	orders.POST("/:id/cancel", h.CancelPurchaseOrder)
	orders.GET("/:id/transparency", h.GetTransparency)
	orders.GET("/:id/chain", h.GetCommercialChain)

	transparency := router.NewDomainGroup("transparency", "/transparency")
	transparency.POST("/recalculate", h.RecalculateTransparency)

	gaps := router.NewDomainGroup("gaps", "/gaps")
	gaps.POST("/:id/resolve", h.ResolveGap)

	batches := router.NewDomainGroup("batches", "/batches")
	batches.POST("", h.RecordBatch)
	batches.GET("/:id", h.GetBatch)
	batches.GET("/:id/composition", h.GetBatchComposition)

	transactions := router.NewDomainGroup("batch-transactions", "/batch-transactions")
	transactions.POST("", h.RecordBatchTransaction)

	return []*router.DomainGroup{companies, orders, transparency, gaps, batches, transactions}
}

// SystemRoutes creates the route group for system endpoints
func SystemRoutes(h *SystemHandler) *router.DomainGroup {
	group := router.NewDomainGroup("system", "/system")
	group.GET("/info", h.GetSystemInfo)
	group.GET("/ping", h.Ping)
	return group
}
