// Package allocation reserves warehouse stock for orders while keeping the
// number of warehouses touched per order as small as the greedy pass allows.
package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Result summarizes one allocation call. WarehousesUsed only counts the
// warehouses that received a reservation during that call.
type Result struct {
	FullyAllocated bool           `json:"fullyAllocated"`
	WarehousesUsed int            `json:"warehousesUsed"`
	MissingItems   map[string]int `json:"missingItems"`
}

// OrderStore persists and locks orders inside a caller's transaction.
type OrderStore interface {
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

// EngineParams groups the engine dependencies.
type EngineParams struct {
	Stock   *inventory.Repository
	Orders  OrderStore
	Metrics *metrics.AllocationMetrics
	Logger  *logger.Logger
}

// Engine runs the greedy allocation pass. It holds no state between calls.
type Engine struct {
	stock   *inventory.Repository
	orders  OrderStore
	metrics *metrics.AllocationMetrics
	logg    *logger.Logger
}

// NewEngine validates the dependencies. Metrics may be nil.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Stock == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Engine{
		stock:   params.Stock,
		orders:  params.Orders,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// warehouseGroup is the locked stock of one warehouse, keyed by product.
type warehouseGroup struct {
	warehouseID uuid.UUID
	byProduct   map[uuid.UUID]*models.WarehouseStock
}

// score counts the unfulfilled lines this warehouse can still contribute to.
func (g *warehouseGroup) score(lines []models.OrderLine) int {
	n := 0
	for i := range lines {
		if lines[i].MissingQuantity() == 0 {
			continue
		}
		if stock := g.byProduct[lines[i].ProductID]; stock != nil && stock.Available() > 0 {
			n++
		}
	}
	return n
}

// groupByWarehouse keeps the first-seen order of the rows, which is ascending
// warehouse id given how they were selected.
func groupByWarehouse(rows []models.WarehouseStock) []*warehouseGroup {
	groups := []*warehouseGroup{}
	index := map[uuid.UUID]*warehouseGroup{}
	for i := range rows {
		row := &rows[i]
		g, ok := index[row.WarehouseID]
		if !ok {
			g = &warehouseGroup{warehouseID: row.WarehouseID, byProduct: map[uuid.UUID]*models.WarehouseStock{}}
			index[row.WarehouseID] = g
			groups = append(groups, g)
		}
		if _, seen := g.byProduct[row.ProductID]; !seen {
			g.byProduct[row.ProductID] = row
		}
	}
	return groups
}

// Allocate reserves as much of the order's missing quantity as the locked
// stock allows and persists the derived status. It never releases existing
// reservations, so calling it again on the same order only adds to them.
func (e *Engine) Allocate(ctx context.Context, tx *gorm.DB, order *models.Order) (Result, error) {
	result, err := e.allocate(ctx, tx, order)
	if err != nil {
		e.metrics.ObserveAttempt(metrics.OutcomeError, 0)
		return Result{}, err
	}
	outcome := outcomeOf(order, result)
	e.metrics.ObserveAttempt(outcome, result.WarehousesUsed)
	e.logg.Debug(e.logg.WithFields(ctx, map[string]any{
		"order_id":        order.ID.String(),
		"outcome":         outcome,
		"warehouses_used": result.WarehousesUsed,
		"missing_skus":    len(result.MissingItems),
	}), "allocation pass complete")
	return result, nil
}

func (e *Engine) allocate(ctx context.Context, tx *gorm.DB, order *models.Order) (Result, error) {
	if tx == nil {
		return Result{}, errors.New("transaction required")
	}
	if order == nil {
		return Result{}, errors.New("order required")
	}
	if len(order.Lines) == 0 {
		return Result{FullyAllocated: true, MissingItems: map[string]int{}}, nil
	}

	repo := e.stock.WithTx(tx)
	if err := e.attachProducts(ctx, repo, order); err != nil {
		return Result{}, err
	}

	rows, err := repo.LockAvailableStock(ctx, openProductIDs(order.Lines))
	if err != nil {
		return Result{}, fmt.Errorf("lock stock: %w", err)
	}
	groups := groupByWarehouse(rows)

	used := map[uuid.UUID]struct{}{}
	for len(groups) > 0 && hasOpenLines(order.Lines) {
		best, bestScore := -1, 0
		for i, g := range groups {
			if s := g.score(order.Lines); s > bestScore {
				best, bestScore = i, s
			}
		}
		if bestScore == 0 {
			break
		}

		g := groups[best]
		for i := range order.Lines {
			line := &order.Lines[i]
			missing := line.MissingQuantity()
			if missing == 0 {
				continue
			}
			stock := g.byProduct[line.ProductID]
			if stock == nil || stock.Available() <= 0 {
				continue
			}
			if err := e.reserve(ctx, repo, line, stock, min(stock.Available(), missing)); err != nil {
				return Result{}, err
			}
			used[g.warehouseID] = struct{}{}
		}

		if g.score(order.Lines) == 0 {
			groups = append(groups[:best], groups[best+1:]...)
		}
	}

	order.UpdateStatusFromReservations()
	if err := e.orders.UpdateStatus(ctx, tx, order); err != nil {
		return Result{}, fmt.Errorf("persist order status: %w", err)
	}

	missing := map[string]int{}
	for _, line := range order.Lines {
		if m := line.MissingQuantity(); m > 0 {
			missing[line.SKU()] += m
		}
	}
	return Result{
		FullyAllocated: len(missing) == 0,
		WarehousesUsed: len(used),
		MissingItems:   missing,
	}, nil
}

func (e *Engine) reserve(ctx context.Context, repo *inventory.Repository, line *models.OrderLine, stock *models.WarehouseStock, qty int) error {
	if qty <= 0 || qty > stock.Available() {
		return fmt.Errorf("%w: reserving %d with %d available on stock %s", inventory.ErrInvariantViolation, qty, stock.Available(), stock.ID)
	}
	if err := repo.IncrementReserved(ctx, stock.ID, qty); err != nil {
		return err
	}
	reservation := models.Reservation{
		OrderLineID:      line.ID,
		WarehouseStockID: stock.ID,
		Quantity:         qty,
	}
	if err := repo.CreateReservation(ctx, &reservation); err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	stock.ReservedQuantity += qty
	line.Reservations = append(line.Reservations, reservation)
	return nil
}

// attachProducts loads the products of lines that arrived without them so
// missing items can be reported by SKU.
func (e *Engine) attachProducts(ctx context.Context, repo *inventory.Repository, order *models.Order) error {
	ids := []uuid.UUID{}
	for _, line := range order.Lines {
		if line.Product == nil {
			ids = append(ids, line.ProductID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	products, err := repo.FindProductsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	for i := range order.Lines {
		if order.Lines[i].Product != nil {
			continue
		}
		if p, ok := products[order.Lines[i].ProductID]; ok {
			order.Lines[i].Product = &p
		}
	}
	return nil
}

func openProductIDs(lines []models.OrderLine) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	ids := []uuid.UUID{}
	for _, line := range lines {
		if line.MissingQuantity() == 0 {
			continue
		}
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func hasOpenLines(lines []models.OrderLine) bool {
	for _, line := range lines {
		if line.MissingQuantity() > 0 {
			return true
		}
	}
	return false
}

func outcomeOf(order *models.Order, result Result) string {
	switch {
	case result.FullyAllocated:
		return metrics.OutcomeFull
	case order.IsPartiallyReserved():
		return metrics.OutcomePartial
	default:
		return metrics.OutcomeNone
	}
}
