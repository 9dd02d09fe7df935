package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/warehouse-allocator/internal/allocation"
	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/pkg/db"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/dbtest"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wh1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	wh2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

type stubReoptimizer struct {
	calls [][]uuid.UUID
	err   error
}

func (s *stubReoptimizer) ReoptimizeForProducts(_ context.Context, ids []uuid.UUID) ([]models.Order, error) {
	s.calls = append(s.calls, ids)
	return nil, s.err
}

type harness struct {
	client *db.Client
	svc    Service
	reopt  *stubReoptimizer
	tenant *models.Client
	small  *models.Product
	medium *models.Product
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.NewSQLite(t)
	repo := NewRepository(client.DB())
	stock := inventory.NewRepository(client.DB())
	engine, err := allocation.NewEngine(allocation.EngineParams{
		Stock:  stock,
		Orders: repo,
		Logger: logger.Nop(),
	})
	require.NoError(t, err)

	reopt := &stubReoptimizer{}
	svc, err := NewService(ServiceParams{
		Repository:         repo,
		Stock:              stock,
		TxRunner:           client,
		Allocator:          engine,
		Reoptimizer:        reopt,
		Outbox:             outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Logger:             logger.Nop(),
		ReoptimizeOnCancel: true,
		Clock:              func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	dbtest.MustCreateWarehouse(t, client, wh1, "W1")
	dbtest.MustCreateWarehouse(t, client, wh2, "W2")
	return &harness{
		client: client,
		svc:    svc,
		reopt:  reopt,
		tenant: dbtest.MustCreateClient(t, client, "acme"),
		small:  dbtest.MustCreateProduct(t, client, "BOX-S"),
		medium: dbtest.MustCreateProduct(t, client, "BOX-M"),
	}
}

func (h *harness) create(t *testing.T, items map[string]int) *CreateOrderResult {
	t.Helper()
	result, err := h.svc.CreateAndAllocate(context.Background(), CreateOrderInput{ClientID: h.tenant.ID, Items: items})
	require.NoError(t, err)
	return result
}

func (h *harness) eventTypes(t *testing.T) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.client.DB().Order("rowid").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func (h *harness) countOrders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(&models.Order{}).Count(&n).Error)
	return n
}

func TestCreateAndAllocateReservesStock(t *testing.T) {
	h := newHarness(t)
	stock := dbtest.MustCreateStock(t, h.client, wh1, h.small.ID, 100)

	result := h.create(t, map[string]int{"BOX-S": 50})

	assert.True(t, result.Allocation.FullyAllocated)
	assert.Equal(t, 1, result.Allocation.WarehousesUsed)
	assert.Empty(t, result.Allocation.MissingItems)
	assert.Equal(t, enums.OrderStatusReserved, result.Order.Status)
	assert.Equal(t, 50, dbtest.ReloadStock(t, h.client, stock.ID).ReservedQuantity)

	dto := NewOrderDTO(result.Order)
	require.Len(t, dto.Lines, 1)
	assert.Equal(t, "BOX-S", dto.Lines[0].SKU)
	require.Len(t, dto.Lines[0].Reservations, 1)
	assert.Equal(t, "W1", dto.Lines[0].Reservations[0].WarehouseCode)
	assert.Equal(t, wh1, dto.Lines[0].Reservations[0].WarehouseID)
	assert.True(t, dto.Editable)

	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated}, h.eventTypes(t))
}

func TestCreateAndAllocateOrdersLinesBySKU(t *testing.T) {
	h := newHarness(t)
	result := h.create(t, map[string]int{"BOX-S": 1, "BOX-M": 2})

	require.Len(t, result.Order.Lines, 2)
	assert.Equal(t, "BOX-M", result.Order.Lines[0].SKU())
	assert.Equal(t, 0, result.Order.Lines[0].Position)
	assert.Equal(t, "BOX-S", result.Order.Lines[1].SKU())
	assert.Equal(t, map[string]int{"BOX-M": 2, "BOX-S": 1}, result.Allocation.MissingItems)
	assert.Equal(t, enums.OrderStatusPending, result.Order.Status)
}

func TestCreateAndAllocateEmptyOrder(t *testing.T) {
	h := newHarness(t)
	result := h.create(t, map[string]int{})

	assert.True(t, result.Allocation.FullyAllocated)
	assert.Zero(t, result.Allocation.WarehousesUsed)
	assert.Empty(t, result.Allocation.MissingItems)
	assert.Equal(t, enums.OrderStatusPending, result.Order.Status)
}

func TestCreateAndAllocateValidatesBeforePersisting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateAndAllocate(ctx, CreateOrderInput{ClientID: h.tenant.ID, Items: map[string]int{"BOX-S": 0}})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.CreateAndAllocate(ctx, CreateOrderInput{ClientID: h.tenant.ID, Items: map[string]int{"BOX-S": 1, "NOPE": 2}})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, map[string]any{"skus": []string{"NOPE"}}, pkgerrors.As(err).Details())
	assert.Equal(t, "resource not found", pkgerrors.As(err).PublicMessage())
	assert.False(t, pkgerrors.MetadataFor(pkgerrors.CodeNotFound).DetailsAllowed)

	_, err = h.svc.CreateAndAllocate(ctx, CreateOrderInput{Items: map[string]int{"BOX-S": 1}})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))

	assert.Zero(t, h.countOrders(t))
	assert.Empty(t, h.eventTypes(t))
}

func TestGetOrderScopesByClient(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, map[string]int{"BOX-S": 1})

	got, err := h.svc.GetOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Order.ID, got.ID)

	other := dbtest.MustCreateClient(t, h.client, "other")
	_, err = h.svc.GetOrder(context.Background(), created.Order.ID, other.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.CancelOrder(context.Background(), created.Order.ID, other.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestCancelReleasesReservationsAndReoptimizes(t *testing.T) {
	h := newHarness(t)
	stock := dbtest.MustCreateStock(t, h.client, wh1, h.small.ID, 100)
	before := h.create(t, map[string]int{"BOX-S": 10})
	created := h.create(t, map[string]int{"BOX-S": 40})
	require.Equal(t, 50, dbtest.ReloadStock(t, h.client, stock.ID).ReservedQuantity)

	canceled, err := h.svc.CancelOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.False(t, canceled.IsEditable())

	assert.Equal(t, 10, dbtest.ReloadStock(t, h.client, stock.ID).ReservedQuantity)
	var remaining int64
	require.NoError(t, h.client.DB().Model(&models.Reservation{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)

	require.Len(t, h.reopt.calls, 1)
	assert.Equal(t, []uuid.UUID{h.small.ID}, h.reopt.calls[0])

	got, err := h.svc.GetOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, got.Status)
	assert.Zero(t, got.Lines[0].ReservedQuantity())

	untouched, err := h.svc.GetOrder(context.Background(), before.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReserved, untouched.Status)

	assert.Equal(t, []enums.OutboxEventType{
		enums.EventOrderCreated,
		enums.EventOrderCreated,
		enums.EventOrderCanceled,
	}, h.eventTypes(t))
}

func TestCancelTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	dbtest.MustCreateStock(t, h.client, wh1, h.small.ID, 5)
	created := h.create(t, map[string]int{"BOX-S": 5})

	_, err := h.svc.CancelOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	again, err := h.svc.CancelOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, again.Status)
	assert.Len(t, h.reopt.calls, 1)
}

func TestCancelWithoutReservationsSkipsReoptimization(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, map[string]int{"BOX-S": 5})

	_, err := h.svc.CancelOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, h.reopt.calls)
}

func TestCancelSucceedsWhenReoptimizationFails(t *testing.T) {
	h := newHarness(t)
	h.reopt.err = errors.New("boom")
	dbtest.MustCreateStock(t, h.client, wh1, h.small.ID, 5)
	created := h.create(t, map[string]int{"BOX-S": 5})

	canceled, err := h.svc.CancelOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, canceled.Status)
}

func TestShipConsumesReservedStock(t *testing.T) {
	h := newHarness(t)
	first := dbtest.MustCreateStock(t, h.client, wh1, h.small.ID, 30)
	second := dbtest.MustCreateStock(t, h.client, wh2, h.small.ID, 40)
	created := h.create(t, map[string]int{"BOX-S": 50})
	require.Equal(t, 2, created.Allocation.WarehousesUsed)

	shipped, err := h.svc.ShipOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)
	require.NotNil(t, shipped.ShippedAt)

	a := dbtest.ReloadStock(t, h.client, first.ID)
	b := dbtest.ReloadStock(t, h.client, second.ID)
	assert.Equal(t, 0, a.Quantity)
	assert.Equal(t, 0, a.ReservedQuantity)
	assert.Equal(t, 20, b.Quantity)
	assert.Equal(t, 0, b.ReservedQuantity)

	var kept int64
	require.NoError(t, h.client.DB().Model(&models.Reservation{}).Count(&kept).Error)
	assert.Equal(t, int64(2), kept)

	got, err := h.svc.GetOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, got.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 50, got.Lines[0].ReservedQuantity())
	assert.Zero(t, got.Lines[0].MissingQuantity())
	assert.Len(t, got.Lines[0].Reservations, 2)
	assert.True(t, got.IsFullyReserved())

	_, err = h.svc.ShipOrder(context.Background(), created.Order.ID, h.tenant.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	_, err = h.svc.CancelOrder(context.Background(), created.Order.ID, h.tenant.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.True(t, errors.Is(err, models.ErrInvalidOrderState))
}

func TestShipPartiallyReservedOrderShipsWhatItHolds(t *testing.T) {
	h := newHarness(t)
	stock := dbtest.MustCreateStock(t, h.client, wh1, h.small.ID, 30)
	created := h.create(t, map[string]int{"BOX-S": 50})
	require.Equal(t, enums.OrderStatusPartiallyReserved, created.Order.Status)

	shipped, err := h.svc.ShipOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)
	got := dbtest.ReloadStock(t, h.client, stock.ID)
	assert.Equal(t, 0, got.Quantity)
	assert.Equal(t, 0, got.ReservedQuantity)

	order, err := h.svc.GetOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, order.Lines[0].ReservedQuantity())
	assert.Equal(t, 20, order.Lines[0].MissingQuantity())
	assert.Equal(t, enums.OrderStatusShipped, order.Status)
}

func TestShipCanceledOrderIsRejected(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, map[string]int{"BOX-S": 1})
	_, err := h.svc.CancelOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.NoError(t, err)

	_, err = h.svc.ShipOrder(context.Background(), created.Order.ID, h.tenant.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code pkgerrors.Code
	}{
		{name: "unclassified", err: errors.New("x"), code: pkgerrors.CodeInternal},
		{name: "state", err: &models.StateError{Action: "ship", Status: enums.OrderStatusCanceled}, code: pkgerrors.CodeStateConflict},
		{name: "invariant", err: inventory.ErrInvariantViolation, code: pkgerrors.CodeInvariant},
		{name: "coded", err: pkgerrors.New(pkgerrors.CodeValidation, "bad"), code: pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, pkgerrors.HasCode(mapError(tc.err, "act"), tc.code))
		})
	}
	assert.Nil(t, mapError(nil, "act"))

	state := pkgerrors.As(mapError(&models.StateError{Action: "cancel", Status: enums.OrderStatusShipped}, "cancel order"))
	require.NotNil(t, state)
	assert.Equal(t, "cannot perform this action", state.PublicMessage())
	assert.Equal(t, map[string]any{"action": "cancel", "status": enums.OrderStatusShipped}, state.Details())
	assert.False(t, pkgerrors.MetadataFor(state.Code()).DetailsAllowed)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
