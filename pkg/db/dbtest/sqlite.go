// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/angelmondragon/warehouse-allocator/pkg/db"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

// NewSQLite returns a client over a private in-memory database migrated with
// every model. A single connection keeps the shared cache free of table locks.
func NewSQLite(t testing.TB) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := db.Open(sqlite.Open(dsn))
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(models.All()...))
	return db.NewFromConn(conn)
}

// NewSQLiteFile returns a client over a database file in the test's temp dir
// with a real connection pool. Transactions begin IMMEDIATE and wait on the
// write lock, so concurrent callers serialize the way row locks make them on
// postgres.
func NewSQLiteFile(t testing.TB) *db.Client {
	t.Helper()

	path := filepath.Join(t.TempDir(), "allocator.db")
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL", path)
	conn, err := db.Open(sqlite.Open(dsn))
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(models.All()...))
	return db.NewFromConn(conn)
}

// MustCreateWarehouse inserts a warehouse with a fixed id so tests control
// allocation order.
func MustCreateWarehouse(t testing.TB, client *db.Client, id uuid.UUID, code string) *models.Warehouse {
	t.Helper()
	wh := &models.Warehouse{ID: id, Code: code, Name: "Warehouse " + code}
	require.NoError(t, client.DB().Create(wh).Error)
	return wh
}

// MustCreateProduct inserts a product for the SKU.
func MustCreateProduct(t testing.TB, client *db.Client, sku string) *models.Product {
	t.Helper()
	product := &models.Product{SKU: sku, Name: "Product " + sku}
	require.NoError(t, client.DB().Create(product).Error)
	return product
}

// MustCreateStock inserts a stock row with nothing reserved.
func MustCreateStock(t testing.TB, client *db.Client, warehouseID, productID uuid.UUID, quantity int) *models.WarehouseStock {
	t.Helper()
	stock := &models.WarehouseStock{WarehouseID: warehouseID, ProductID: productID, Quantity: quantity}
	require.NoError(t, client.DB().Create(stock).Error)
	return stock
}

// MustCreateClient inserts a tenant with a throwaway key prefix.
func MustCreateClient(t testing.TB, client *db.Client, name string) *models.Client {
	t.Helper()
	tenant := &models.Client{Name: name, APIKeyPrefix: uuid.NewString()[:12], APIKeyHash: "unused"}
	require.NoError(t, client.DB().Create(tenant).Error)
	return tenant
}

// ReloadStock reads the current counters of a stock row.
func ReloadStock(t testing.TB, client *db.Client, id uuid.UUID) models.WarehouseStock {
	t.Helper()
	var stock models.WarehouseStock
	require.NoError(t, client.DB().First(&stock, "id = ?", id).Error)
	return stock
}
