package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/warehouse-allocator/internal/allocation"
	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service exposes the order lifecycle to clients.
type Service interface {
	CreateAndAllocate(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error)
	ShipOrder(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error)
}

// CreateOrderInput requests Items[sku] units for the client.
type CreateOrderInput struct {
	ClientID uuid.UUID
	Items    map[string]int
	Actor    *outbox.ActorRef
}

// ServiceParams groups the order service dependencies.
type ServiceParams struct {
	Repository  Repository
	Stock       *inventory.Repository
	TxRunner    txRunner
	Allocator   Allocator
	Reoptimizer Reoptimizer
	Outbox      outbox.Emitter
	Logger      *logger.Logger
	// ReoptimizeOnCancel hands freed stock to waiting orders after a cancel commits.
	ReoptimizeOnCancel bool
	Clock              func() time.Time
}

type service struct {
	repo               Repository
	stock              *inventory.Repository
	tx                 txRunner
	allocator          Allocator
	reoptimizer        Reoptimizer
	outbox             outbox.Emitter
	logg               *logger.Logger
	reoptimizeOnCancel bool
	now                func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.ReoptimizeOnCancel && params.Reoptimizer == nil {
		return nil, fmt.Errorf("reoptimizer required when reoptimize on cancel is enabled")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:               params.Repository,
		stock:              params.Stock,
		tx:                 params.TxRunner,
		allocator:          params.Allocator,
		reoptimizer:        params.Reoptimizer,
		outbox:             params.Outbox,
		logg:               params.Logger,
		reoptimizeOnCancel: params.ReoptimizeOnCancel,
		now:                clock,
	}, nil
}

// CreateAndAllocate validates the items, creates the order and allocates it
// in a single transaction. Lines are positioned by ascending SKU.
func (s *service) CreateAndAllocate(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if input.ClientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "client required")
	}
	skus, err := validateItems(input.Items)
	if err != nil {
		return nil, err
	}

	var (
		order  *models.Order
		result allocation.Result
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products, err := s.stock.WithTx(tx).FindProductsBySKUs(ctx, skus)
		if err != nil {
			return err
		}
		missing := []string{}
		for _, sku := range skus {
			if _, ok := products[sku]; !ok {
				missing = append(missing, sku)
			}
		}
		if len(missing) > 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"skus": missing})
		}

		order = &models.Order{
			ClientID: input.ClientID,
			Status:   enums.OrderStatusPending,
			Lines:    make([]models.OrderLine, 0, len(skus)),
		}
		for i, sku := range skus {
			product := products[sku]
			order.Lines = append(order.Lines, models.OrderLine{
				Position:          i,
				ProductID:         product.ID,
				Product:           &product,
				RequestedQuantity: input.Items[sku],
			})
		}
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}

		result, err = s.allocator.Allocate(ctx, tx, order)
		if err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor,
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				ClientID:       order.ClientID,
				Status:         order.Status,
				FullyAllocated: result.FullyAllocated,
				WarehousesUsed: result.WarehousesUsed,
				MissingItems:   result.MissingItems,
				Lines:          reservationLines(order),
			},
		})
	})
	if err != nil {
		return nil, mapError(err, "create order")
	}

	logCtx := s.logg.WithOrderID(s.logg.WithClientID(ctx, input.ClientID.String()), order.ID.String())
	logCtx = s.logg.WithAllocation(logCtx, string(order.Status), result.FullyAllocated, result.WarehousesUsed, result.MissingItems)
	s.logg.Info(logCtx, "order created")

	if reloaded, rerr := s.repo.FindByID(ctx, order.ID); rerr == nil {
		order = reloaded
	} else {
		s.logg.Warn(s.logg.WithField(logCtx, "error", rerr.Error()), "reload created order failed")
	}

	return &CreateOrderResult{Order: order, Allocation: result}, nil
}

func (s *service) GetOrder(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByIDForClient(ctx, orderID, clientID)
	if err != nil {
		return nil, mapError(err, "load order")
	}
	return order, nil
}

// ShipOrder takes every reserved unit out of its warehouse. The reservation
// rows stay as the record of what shipped from where, so a shipped line still
// reports its reserved quantity. Partially reserved orders ship what they hold.
func (s *service) ShipOrder(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error) {
	var (
		order    *models.Order
		previous enums.OrderStatus
		shipped  []payloads.ReservationLine
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.lockOwned(ctx, tx, orderID, clientID)
		if err != nil {
			return err
		}
		previous = order.Status
		if err := order.Ship(s.now()); err != nil {
			return err
		}

		shipped = reservationLines(order)
		stock := s.stock.WithTx(tx)
		for _, line := range order.Lines {
			for _, res := range line.Reservations {
				if err := stock.ConsumeReserved(ctx, res.WarehouseStockID, res.Quantity); err != nil {
					return err
				}
			}
		}

		if err := s.repo.WithTx(tx).UpdateLifecycle(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ClientID: clientID, Role: outbox.ActorRoleClient},
			Data: payloads.OrderShippedEvent{
				OrderID:       order.ID,
				ClientID:      order.ClientID,
				ShippedAt:     *order.ShippedAt,
				Lines:         shipped,
				ShippedInFull: previous == enums.OrderStatusReserved,
			},
		})
	})
	if err != nil {
		return nil, mapError(err, "ship order")
	}

	logCtx := s.logg.WithOrderID(s.logg.WithClientID(ctx, clientID.String()), orderID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"previous_status": previous,
		"shipped_in_full": previous == enums.OrderStatusReserved,
	})
	s.logg.Info(logCtx, "order shipped")
	return order, nil
}

// CancelOrder releases the order's reservations and, after commit, offers the
// freed products to partially reserved orders. Canceling twice is a no-op.
func (s *service) CancelOrder(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error) {
	var (
		order    *models.Order
		previous enums.OrderStatus
		freed    []uuid.UUID
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.lockOwned(ctx, tx, orderID, clientID)
		if err != nil {
			return err
		}
		previous = order.Status
		if previous == enums.OrderStatusCanceled {
			return nil
		}
		if err := order.Cancel(s.now()); err != nil {
			return err
		}

		stock := s.stock.WithTx(tx)
		released := 0
		seen := map[uuid.UUID]struct{}{}
		for _, line := range order.Lines {
			for _, res := range line.Reservations {
				if err := stock.ReleaseReserved(ctx, res.WarehouseStockID, res.Quantity); err != nil {
					return err
				}
				released += res.Quantity
				if _, ok := seen[line.ProductID]; !ok {
					seen[line.ProductID] = struct{}{}
					freed = append(freed, line.ProductID)
				}
			}
		}
		if _, err := stock.DeleteReservations(ctx, lineIDs(order)); err != nil {
			return err
		}
		clearReservations(order)

		if err := s.repo.WithTx(tx).UpdateLifecycle(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ClientID: clientID, Role: outbox.ActorRoleClient},
			Data: payloads.OrderCanceledEvent{
				OrderID:         order.ID,
				ClientID:        order.ClientID,
				PreviousStatus:  previous,
				CanceledAt:      *order.CanceledAt,
				ReleasedUnits:   released,
				FreedProductIDs: freed,
			},
		})
	})
	if err != nil {
		return nil, mapError(err, "cancel order")
	}

	logCtx := s.logg.WithOrderID(s.logg.WithClientID(ctx, clientID.String()), orderID.String())
	if previous == enums.OrderStatusCanceled {
		s.logg.Info(logCtx, "order already canceled")
		return order, nil
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"previous_status": previous,
		"freed_products":  len(freed),
	})
	s.logg.Info(logCtx, "order canceled")

	if s.reoptimizeOnCancel && len(freed) > 0 {
		improved, rerr := s.reoptimizer.ReoptimizeForProducts(ctx, freed)
		if rerr != nil {
			s.logg.Error(logCtx, "reoptimization after cancel failed", rerr)
		}
		if len(improved) > 0 {
			s.logg.Info(s.logg.WithField(logCtx, "improved_orders", len(improved)), "cancel reoptimized orders")
		}
	}
	return order, nil
}

// lockOwned locks the order and hides it when it belongs to another client.
func (s *service) lockOwned(ctx context.Context, tx *gorm.DB, orderID, clientID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.LockByID(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, gorm.ErrRecordNotFound
	}
	return order, nil
}

func validateItems(items map[string]int) ([]string, error) {
	skus := make([]string, 0, len(items))
	invalid := map[string]int{}
	for sku, qty := range items {
		if strings.TrimSpace(sku) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku must not be blank")
		}
		if qty <= 0 {
			invalid[sku] = qty
			continue
		}
		skus = append(skus, sku)
	}
	if len(invalid) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"invalidQuantities": invalid})
	}
	sort.Strings(skus)
	return skus, nil
}

func reservationLines(order *models.Order) []payloads.ReservationLine {
	lines := make([]payloads.ReservationLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, payloads.ReservationLine{
			SKU:               line.SKU(),
			RequestedQuantity: line.RequestedQuantity,
			ReservedQuantity:  line.ReservedQuantity(),
		})
	}
	return lines
}

func lineIDs(order *models.Order) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.ID)
	}
	return ids
}

func clearReservations(order *models.Order) {
	for i := range order.Lines {
		order.Lines[i].Reservations = nil
	}
}
