// Package reoptimization hands stock that became available to orders that
// are still waiting on part of their lines.
package reoptimization

import (
	"context"
	"fmt"

	"github.com/angelmondragon/warehouse-allocator/internal/allocation"
	"github.com/angelmondragon/warehouse-allocator/internal/orders"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/metrics"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox/payloads"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	resultImproved  = "improved"
	resultUnchanged = "unchanged"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// CandidateLister pages through partially reserved orders oldest first.
type CandidateLister interface {
	ListPartiallyReserved(ctx context.Context, query orders.CandidateQuery) ([]models.Order, error)
}

// OrderAllocator runs one locked allocation attempt per call.
type OrderAllocator interface {
	AllocateOrder(ctx context.Context, orderID uuid.UUID, hooks ...allocation.Hook) (*models.Order, allocation.Result, error)
}

// ServiceParams groups the reoptimization dependencies.
type ServiceParams struct {
	Orders    CandidateLister
	Allocator OrderAllocator
	Outbox    outbox.Emitter
	Metrics   *metrics.AllocationMetrics
	Logger    *logger.Logger
	// BatchLimit is the candidate page size. Every page is visited; zero
	// loads all candidates at once.
	BatchLimit int
}

// Service re-runs allocation for partially reserved orders.
type Service struct {
	orders     CandidateLister
	allocator  OrderAllocator
	outbox     outbox.Emitter
	metrics    *metrics.AllocationMetrics
	logg       *logger.Logger
	batchLimit int
}

// NewService validates the dependencies. Metrics may be nil.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order lister required")
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
	return &Service{
		orders:     params.Orders,
		allocator:  params.Allocator,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		logg:       params.Logger,
		batchLimit: params.BatchLimit,
	}, nil
}

// ReoptimizeForProducts visits the partially reserved orders that still miss
// units of at least one of the given products.
func (s *Service) ReoptimizeForProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.Order, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	return s.run(ctx, orders.CandidateQuery{ProductIDs: productIDs})
}

// ReoptimizePartialOrders visits every partially reserved order.
func (s *Service) ReoptimizePartialOrders(ctx context.Context) ([]models.Order, error) {
	return s.run(ctx, orders.CandidateQuery{})
}

func (s *Service) run(ctx context.Context, query orders.CandidateQuery) ([]models.Order, error) {
	query.Limit = s.batchLimit

	improved := []models.Order{}
	var errs error
	visited, pages := 0, 0
	for {
		page, err := s.orders.ListPartiallyReserved(ctx, query)
		if err != nil {
			if pages == 0 {
				return nil, fmt.Errorf("list partially reserved orders: %w", err)
			}
			errs = multierr.Append(errs, fmt.Errorf("list partially reserved orders: %w", err))
			break
		}
		pages++
		for _, candidate := range page {
			visited++
			order, ok, err := s.reoptimize(ctx, candidate.ID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("reoptimize order %s: %w", candidate.ID, err))
				continue
			}
			if ok {
				improved = append(improved, *order)
			}
		}
		if query.Limit <= 0 || len(page) < query.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		query = query.Next(page)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"pages":    pages,
		"visited":  visited,
		"improved": len(improved),
		"failed":   len(multierr.Errors(errs)),
	})
	s.logg.Info(logCtx, "reoptimization pass complete")
	return improved, errs
}

// reoptimize allocates one order in its own transaction. Orders that turned
// terminal or disappeared since listing are skipped.
func (s *Service) reoptimize(ctx context.Context, orderID uuid.UUID) (*models.Order, bool, error) {
	improved := false
	emit := func(tx *gorm.DB, order *models.Order, previous enums.OrderStatus, result allocation.Result) error {
		if order.Status == previous && result.WarehousesUsed == 0 {
			return nil
		}
		improved = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReoptimized,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Role: outbox.ActorRoleSystem},
			Data: payloads.OrderReoptimizedEvent{
				OrderID:        order.ID,
				ClientID:       order.ClientID,
				PreviousStatus: previous,
				Status:         order.Status,
				WarehousesUsed: result.WarehousesUsed,
				MissingItems:   result.MissingItems,
			},
		})
	}

	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	order, result, err := s.allocator.AllocateOrder(ctx, orderID, emit)
	if err != nil {
		if allocation.IsSkippable(err) {
			s.metrics.IncReoptimized(resultSkipped)
			s.logg.Debug(logCtx, "reoptimization skipped order no longer waiting")
			return nil, false, nil
		}
		s.metrics.IncReoptimized(resultFailed)
		s.logg.Error(logCtx, "reoptimization failed", err)
		return nil, false, err
	}
	if !improved {
		s.metrics.IncReoptimized(resultUnchanged)
		return order, false, nil
	}

	s.metrics.IncReoptimized(resultImproved)
	logCtx = s.logg.WithAllocation(logCtx, string(order.Status), result.FullyAllocated, result.WarehousesUsed, result.MissingItems)
	s.logg.Info(logCtx, "order reoptimized")
	return order, true, nil
}
