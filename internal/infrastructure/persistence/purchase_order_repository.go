package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormPurchaseOrderRepository implements supplychain.PurchaseOrderRepository using GORM
type GormPurchaseOrderRepository struct {
	db *gorm.DB
}

var _ supplychain.PurchaseOrderRepository = (*GormPurchaseOrderRepository)(nil)

// NewGormPurchaseOrderRepository creates a new GormPurchaseOrderRepository
func NewGormPurchaseOrderRepository(db *gorm.DB) *GormPurchaseOrderRepository {
	return &GormPurchaseOrderRepository{db: db}
}

// FindByID finds a purchase order by its ID
func (r *GormPurchaseOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*supplychain.PurchaseOrder, error) {
	var model models.PurchaseOrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err, "purchase order", id)
	}
	return model.ToDomain(), nil
}

// FindByParent returns the children of an order, oldest first
func (r *GormPurchaseOrderRepository) FindByParent(ctx context.Context, parentID uuid.UUID) ([]supplychain.PurchaseOrder, error) {
	return r.find(ctx, "parent_po_id = ?", parentID)
}

// FindByCompany returns orders where the company is buyer or seller
func (r *GormPurchaseOrderRepository) FindByCompany(ctx context.Context, companyID uuid.UUID) ([]supplychain.PurchaseOrder, error) {
	return r.find(ctx, "buyer_company_id = ? OR seller_company_id = ?", companyID, companyID)
}

func (r *GormPurchaseOrderRepository) find(ctx context.Context, query string, args ...any) ([]supplychain.PurchaseOrder, error) {
	var rows []models.PurchaseOrderModel
	if err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]supplychain.PurchaseOrder, len(rows))
	for i := range rows {
		orders[i] = *rows[i].ToDomain()
	}
	return orders, nil
}

// Create inserts a new purchase order
func (r *GormPurchaseOrderRepository) Create(ctx context.Context, po *supplychain.PurchaseOrder) error {
	err := r.db.WithContext(ctx).Create(models.PurchaseOrderModelFromDomain(po)).Error
	return translate(err, "purchase order", po.ID)
}

// SaveWithLock saves with optimistic locking (version check). Score columns
// are left alone; they are owned by UpdateTransparency.
func (r *GormPurchaseOrderRepository) SaveWithLock(ctx context.Context, po *supplychain.PurchaseOrder) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.PurchaseOrderModel
		if err := tx.Select("id", "version").First(&current, "id = ?", po.ID).Error; err != nil {
			return translate(err, "purchase order", po.ID)
		}
		if current.Version != po.Version {
			return shared.ErrConcurrencyConflict
		}

		m := models.PurchaseOrderModelFromDomain(po)
		result := tx.Model(&models.PurchaseOrderModel{}).
			Where("id = ? AND version = ?", po.ID, current.Version).
			UpdateColumns(map[string]any{
				"status":                      m.Status,
				"parent_po_id":                m.ParentPOID,
				"is_drop_shipment":            m.IsDropShipment,
				"delivery_date":               m.DeliveryDate,
				"delivery_location":           m.DeliveryLocation,
				"confirmed_quantity":          m.ConfirmedQuantity,
				"confirmed_unit_price":        m.ConfirmedUnitPrice,
				"confirmed_delivery_date":     m.ConfirmedDeliveryDate,
				"confirmed_delivery_location": m.ConfirmedDeliveryLocation,
				"discrepancy_reasons":         m.DiscrepancyReasons,
				"stock_batches":               m.StockBatches,
				"confirmed_by":                m.ConfirmedBy,
				"confirmed_at":                m.ConfirmedAt,
				"cancelled_at":                m.CancelledAt,
				"cancel_reason":               m.CancelReason,
				"version":                     current.Version + 1,
				"updated_at":                  po.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}

		po.Version = current.Version + 1
		return nil
	})
}

// UpdateTransparency writes the score columns only. updated_at is not touched.
func (r *GormPurchaseOrderRepository) UpdateTransparency(ctx context.Context, id uuid.UUID, toMill, toPlantation decimal.Decimal, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.PurchaseOrderModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"transparency_to_mill":       toMill,
			"transparency_to_plantation": toPlantation,
			"transparency_calculated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("purchase order", id)
	}
	return nil
}

