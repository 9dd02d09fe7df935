package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/dbtest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	warehouseA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	warehouseB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
)

func TestLockAvailableStockFiltersAndOrders(t *testing.T) {
	client := dbtest.NewSQLite(t)
	ctx := context.Background()

	dbtest.MustCreateWarehouse(t, client, warehouseB, "WH-B")
	dbtest.MustCreateWarehouse(t, client, warehouseA, "WH-A")
	small := dbtest.MustCreateProduct(t, client, "BOX-S")
	medium := dbtest.MustCreateProduct(t, client, "BOX-M")
	other := dbtest.MustCreateProduct(t, client, "BOX-L")

	inB := dbtest.MustCreateStock(t, client, warehouseB, small.ID, 10)
	inA := dbtest.MustCreateStock(t, client, warehouseA, medium.ID, 5)
	dbtest.MustCreateStock(t, client, warehouseA, small.ID, 0)
	dbtest.MustCreateStock(t, client, warehouseA, other.ID, 7)

	repo := NewRepository(client.DB())
	rows, err := repo.LockAvailableStock(ctx, []uuid.UUID{small.ID, medium.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, inA.ID, rows[0].ID)
	assert.Equal(t, inB.ID, rows[1].ID)

	rows, err = repo.LockAvailableStock(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReservedCountersAreGuarded(t *testing.T) {
	client := dbtest.NewSQLite(t)
	ctx := context.Background()

	dbtest.MustCreateWarehouse(t, client, warehouseA, "WH-A")
	product := dbtest.MustCreateProduct(t, client, "BOX-S")
	stock := dbtest.MustCreateStock(t, client, warehouseA, product.ID, 10)
	repo := NewRepository(client.DB())

	require.NoError(t, repo.IncrementReserved(ctx, stock.ID, 6))
	err := repo.IncrementReserved(ctx, stock.ID, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	err = repo.ReleaseReserved(ctx, stock.ID, 7)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
	require.NoError(t, repo.ReleaseReserved(ctx, stock.ID, 2))

	got := dbtest.ReloadStock(t, client, stock.ID)
	assert.Equal(t, 10, got.Quantity)
	assert.Equal(t, 4, got.ReservedQuantity)

	require.NoError(t, repo.ConsumeReserved(ctx, stock.ID, 4))
	got = dbtest.ReloadStock(t, client, stock.ID)
	assert.Equal(t, 6, got.Quantity)
	assert.Equal(t, 0, got.ReservedQuantity)

	err = repo.ConsumeReserved(ctx, stock.ID, 1)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestFindProductsBySKUs(t *testing.T) {
	client := dbtest.NewSQLite(t)
	ctx := context.Background()
	dbtest.MustCreateProduct(t, client, "BOX-S")
	dbtest.MustCreateProduct(t, client, "BOX-M")

	repo := NewRepository(client.DB())
	found, err := repo.FindProductsBySKUs(ctx, []string{"BOX-S", "NOPE"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "BOX-S")

	_, err = repo.FindProductBySKU(ctx, "NOPE")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestUpsertStockCreatesThenIncrements(t *testing.T) {
	client := dbtest.NewSQLite(t)
	ctx := context.Background()
	dbtest.MustCreateWarehouse(t, client, warehouseA, "WH-A")
	product := dbtest.MustCreateProduct(t, client, "BOX-S")
	repo := NewRepository(client.DB())

	created, err := repo.UpsertStock(ctx, warehouseA, product.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, created.Quantity)

	updated, err := repo.UpsertStock(ctx, warehouseA, product.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 7, updated.Quantity)
	assert.Equal(t, 7, dbtest.ReloadStock(t, client, created.ID).Quantity)

	_, err = repo.UpsertStock(ctx, warehouseA, product.ID, 0)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestListProductsAggregatesAcrossWarehouses(t *testing.T) {
	client := dbtest.NewSQLite(t)
	ctx := context.Background()
	dbtest.MustCreateWarehouse(t, client, warehouseA, "WH-A")
	dbtest.MustCreateWarehouse(t, client, warehouseB, "WH-B")
	small := dbtest.MustCreateProduct(t, client, "BOX-S")
	dbtest.MustCreateProduct(t, client, "BOX-M")
	stock := dbtest.MustCreateStock(t, client, warehouseA, small.ID, 30)
	dbtest.MustCreateStock(t, client, warehouseB, small.ID, 40)

	repo := NewRepository(client.DB())
	require.NoError(t, repo.IncrementReserved(ctx, stock.ID, 10))

	rows, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "BOX-M", rows[0].SKU)
	assert.Equal(t, 0, rows[0].TotalQuantity)
	assert.Equal(t, 0, rows[0].WarehouseCount)

	assert.Equal(t, "BOX-S", rows[1].SKU)
	assert.Equal(t, small.ID, rows[1].ID)
	assert.Equal(t, 70, rows[1].TotalQuantity)
	assert.Equal(t, 10, rows[1].ReservedQuantity)
	assert.Equal(t, 60, rows[1].AvailableQuantity)
	assert.Equal(t, 2, rows[1].WarehouseCount)

	warehouses, err := repo.ListWarehouses(ctx)
	require.NoError(t, err)
	require.Len(t, warehouses, 2)
	assert.Equal(t, "WH-A", warehouses[0].Code)
	require.Len(t, warehouses[0].Stocks, 1)
	require.NotNil(t, warehouses[0].Stocks[0].Product)
	assert.Equal(t, "BOX-S", warehouses[0].Stocks[0].Product.SKU)
}
