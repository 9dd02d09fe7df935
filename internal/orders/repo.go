package orders

import (
	"context"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

// NewRepository binds the order repository to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// withGraph preloads lines in position order with products and reservations.
func withGraph(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Lines.Product").
		Preload("Lines.Reservations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Preload("Lines.Reservations.Stock").
		Preload("Lines.Reservations.Stock.Warehouse")
}

// Create inserts the order and its lines. Line products are not written.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(order).Error; err != nil {
		return err
	}
	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
		if err := db.Omit(clause.Associations).Create(&order.Lines[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := withGraph(r.db.WithContext(ctx)).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIDForClient hides orders of other clients behind gorm.ErrRecordNotFound.
func (r *repository) FindByIDForClient(ctx context.Context, id, clientID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := withGraph(r.db.WithContext(ctx)).
		Where("id = ? AND client_id = ?", id, clientID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockByID selects the order FOR UPDATE with its full graph.
func (r *repository) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	if tx == nil {
		tx = r.db
	}
	var order models.Order
	err := withGraph(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateStatus(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("status", order.Status).Error
}

// UpdateLifecycle persists the status along with the ship/cancel timestamps.
func (r *repository) UpdateLifecycle(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":      order.Status,
			"shipped_at":  order.ShippedAt,
			"canceled_at": order.CanceledAt,
		}).Error
}

const missingProductLine = `EXISTS (
	SELECT 1 FROM order_lines l
	WHERE l.order_id = orders.id
	  AND l.product_id IN ?
	  AND l.requested_quantity > (
		SELECT COALESCE(SUM(r.quantity), 0) FROM reservations r WHERE r.order_line_id = l.id
	  )
)`

// ListPartiallyReserved returns one page of partially reserved orders oldest
// first, with their lines and reservations. The product filter and the
// keyset run in SQL so the page limit never hides a matching order.
func (r *repository) ListPartiallyReserved(ctx context.Context, q CandidateQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Lines.Reservations").
		Where("status = ?", enums.OrderStatusPartiallyReserved)
	if len(q.ProductIDs) > 0 {
		query = query.Where(missingProductLine, q.ProductIDs)
	}
	if q.AfterID != uuid.Nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", q.AfterCreatedAt, q.AfterCreatedAt, q.AfterID)
	}
	query = query.Order("created_at ASC").Order("id ASC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
