package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/dbtest"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubReoptimizer struct {
	calls [][]uuid.UUID
	err   error
}

func (s *stubReoptimizer) ReoptimizeForProducts(_ context.Context, ids []uuid.UUID) ([]models.Order, error) {
	s.calls = append(s.calls, ids)
	return nil, s.err
}

func newRestockService(t *testing.T, reopt *stubReoptimizer) (Service, *gorm.DB) {
	t.Helper()
	client := dbtest.NewSQLite(t)
	dbtest.MustCreateWarehouse(t, client, warehouseA, "WH-A")
	dbtest.MustCreateProduct(t, client, "BOX-S")

	svc, err := NewService(ServiceParams{
		Repository:          NewRepository(client.DB()),
		TxRunner:            client,
		Outbox:              outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Reoptimizer:         reopt,
		Logger:              logger.Nop(),
		ReoptimizeOnRestock: true,
	})
	require.NoError(t, err)
	return svc, client.DB()
}

func TestRestockAddsStockEmitsEventAndReoptimizes(t *testing.T) {
	reopt := &stubReoptimizer{}
	svc, conn := newRestockService(t, reopt)
	ctx := context.Background()

	stock, err := svc.Restock(ctx, RestockInput{WarehouseCode: "WH-A", SKU: "BOX-S", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, stock.Quantity)

	stock, err = svc.Restock(ctx, RestockInput{WarehouseCode: "WH-A", SKU: "BOX-S", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 15, stock.Quantity)

	var events []models.OutboxEvent
	require.NoError(t, conn.Order("created_at ASC").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, enums.EventStockRestocked, events[0].EventType)
	assert.Equal(t, stock.ID, events[1].AggregateID)

	require.Len(t, reopt.calls, 2)
	assert.Equal(t, []uuid.UUID{stock.ProductID}, reopt.calls[1])
}

func TestRestockReoptimizationFailureDoesNotFailRestock(t *testing.T) {
	reopt := &stubReoptimizer{err: errors.New("boom")}
	svc, _ := newRestockService(t, reopt)

	stock, err := svc.Restock(context.Background(), RestockInput{WarehouseCode: "WH-A", SKU: "BOX-S", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stock.Quantity)
}

func TestRestockErrors(t *testing.T) {
	svc, conn := newRestockService(t, &stubReoptimizer{})
	ctx := context.Background()

	cases := []struct {
		name  string
		input RestockInput
		code  pkgerrors.Code
	}{
		{name: "non positive quantity", input: RestockInput{WarehouseCode: "WH-A", SKU: "BOX-S"}, code: pkgerrors.CodeValidation},
		{name: "blank sku", input: RestockInput{WarehouseCode: "WH-A", Quantity: 1}, code: pkgerrors.CodeValidation},
		{name: "unknown warehouse", input: RestockInput{WarehouseCode: "WH-Z", SKU: "BOX-S", Quantity: 1}, code: pkgerrors.CodeNotFound},
		{name: "unknown sku", input: RestockInput{WarehouseCode: "WH-A", SKU: "NOPE", Quantity: 1}, code: pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Restock(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, tc.code), "got %v", err)
		})
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	client := dbtest.NewSQLite(t)
	_, err = NewService(ServiceParams{
		Repository:          NewRepository(client.DB()),
		TxRunner:            client,
		Outbox:              outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Logger:              logger.Nop(),
		ReoptimizeOnRestock: true,
	})
	require.Error(t, err)
}
