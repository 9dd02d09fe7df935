package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvariantViolation means a stock mutation would break
// 0 <= reserved_quantity <= quantity. The surrounding transaction must abort.
var ErrInvariantViolation = errors.New("stock invariant violation")

// ProductStockSummary aggregates one product across every warehouse.
type ProductStockSummary struct {
	ID                uuid.UUID `gorm:"column:id"`
	SKU               string    `gorm:"column:sku"`
	Name              string    `gorm:"column:name"`
	TotalQuantity     int       `gorm:"column:total_quantity"`
	ReservedQuantity  int       `gorm:"column:reserved_quantity"`
	AvailableQuantity int       `gorm:"column:available_quantity"`
	WarehouseCount    int       `gorm:"column:warehouse_count"`
}

const productSummaryQuery = `
SELECT p.id,
       p.sku,
       p.name,
       COALESCE(SUM(s.quantity), 0) AS total_quantity,
       COALESCE(SUM(s.reserved_quantity), 0) AS reserved_quantity,
       COALESCE(SUM(s.quantity - s.reserved_quantity), 0) AS available_quantity,
       COUNT(s.id) AS warehouse_count
FROM products p
LEFT JOIN warehouse_stocks s ON s.product_id = p.id
GROUP BY p.id, p.sku, p.name
ORDER BY p.sku ASC
`

// Repository owns every read and write against stock rows and reservations.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// LockAvailableStock selects FOR UPDATE the stock rows of the products that
// still have units to give, ordered by warehouse then row id.
func (r *Repository) LockAvailableStock(ctx context.Context, productIDs []uuid.UUID) ([]models.WarehouseStock, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var rows []models.WarehouseStock
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id IN ?", productIDs).
		Where("quantity - reserved_quantity > 0").
		Order("warehouse_id ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) FindProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindProductsBySKUs returns the products found, keyed by SKU. Missing SKUs
// are simply absent from the map.
func (r *Repository) FindProductsBySKUs(ctx context.Context, skus []string) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("sku IN ?", skus).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.SKU] = p
	}
	return out, nil
}

// FindProductsByIDs returns the products found, keyed by id.
func (r *Repository) FindProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// IncrementReserved holds qty more units of the stock row.
func (r *Repository) IncrementReserved(ctx context.Context, stockID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.WarehouseStock{}).
		Where("id = ? AND reserved_quantity + ? <= quantity", stockID, qty).
		Update("reserved_quantity", gorm.Expr("reserved_quantity + ?", qty))
	return guardRows(res, "reserve", stockID, qty)
}

// ReleaseReserved gives qty held units back to the available pool.
func (r *Repository) ReleaseReserved(ctx context.Context, stockID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.WarehouseStock{}).
		Where("id = ? AND reserved_quantity >= ?", stockID, qty).
		Update("reserved_quantity", gorm.Expr("reserved_quantity - ?", qty))
	return guardRows(res, "release", stockID, qty)
}

// ConsumeReserved removes qty held units from the warehouse entirely.
func (r *Repository) ConsumeReserved(ctx context.Context, stockID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.WarehouseStock{}).
		Where("id = ? AND reserved_quantity >= ? AND quantity >= ?", stockID, qty, qty).
		Updates(map[string]any{
			"quantity":          gorm.Expr("quantity - ?", qty),
			"reserved_quantity": gorm.Expr("reserved_quantity - ?", qty),
		})
	return guardRows(res, "consume", stockID, qty)
}

func guardRows(res *gorm.DB, action string, stockID uuid.UUID, qty int) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %d units on stock %s", ErrInvariantViolation, action, qty, stockID)
	}
	return nil
}

func (r *Repository) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	if reservation.Quantity <= 0 {
		return fmt.Errorf("%w: reservation quantity %d", ErrInvariantViolation, reservation.Quantity)
	}
	return r.db.WithContext(ctx).Create(reservation).Error
}

// DeleteReservations removes every reservation of the given order lines.
func (r *Repository) DeleteReservations(ctx context.Context, lineIDs []uuid.UUID) (int64, error) {
	if len(lineIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("order_line_id IN ?", lineIDs).Delete(&models.Reservation{})
	return res.RowsAffected, res.Error
}

func (r *Repository) ListProducts(ctx context.Context) ([]ProductStockSummary, error) {
	var rows []ProductStockSummary
	if err := r.db.WithContext(ctx).Raw(productSummaryQuery).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListWarehouses returns every warehouse with its stock rows and products.
func (r *Repository) ListWarehouses(ctx context.Context) ([]models.Warehouse, error) {
	var rows []models.Warehouse
	err := r.db.WithContext(ctx).
		Preload("Stocks", func(db *gorm.DB) *gorm.DB { return db.Order("product_id ASC") }).
		Preload("Stocks.Product").
		Order("code ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) FindWarehouseByCode(ctx context.Context, code string) (*models.Warehouse, error) {
	var wh models.Warehouse
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&wh).Error; err != nil {
		return nil, err
	}
	return &wh, nil
}

// FindStock loads and locks the stock row of a product in a warehouse.
func (r *Repository) FindStock(ctx context.Context, warehouseID, productID uuid.UUID) (*models.WarehouseStock, error) {
	var stock models.WarehouseStock
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		First(&stock).Error
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

// UpsertStock adds qty physical units, creating the row on first receipt.
func (r *Repository) UpsertStock(ctx context.Context, warehouseID, productID uuid.UUID, qty int) (*models.WarehouseStock, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: restock quantity %d", ErrInvariantViolation, qty)
	}
	stock, err := r.FindStock(ctx, warehouseID, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stock = &models.WarehouseStock{
			WarehouseID: warehouseID,
			ProductID:   productID,
			Quantity:    qty,
		}
		if err := r.db.WithContext(ctx).Create(stock).Error; err != nil {
			return nil, err
		}
		return stock, nil
	}
	if err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).
		Model(&models.WarehouseStock{}).
		Where("id = ?", stock.ID).
		Update("quantity", gorm.Expr("quantity + ?", qty))
	if err := guardRows(res, "restock", stock.ID, qty); err != nil {
		return nil, err
	}
	stock.Quantity += qty
	return stock, nil
}
