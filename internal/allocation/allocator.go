package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Hook runs inside the allocation transaction once the engine has succeeded.
// Returning an error rolls the whole attempt back.
type Hook func(tx *gorm.DB, order *models.Order, previous enums.OrderStatus, result Result) error

// Allocator runs one allocation attempt per transaction against a locked order.
type Allocator struct {
	tx     txRunner
	orders OrderStore
	engine *Engine
}

// NewAllocator wires the engine to the transaction runner and the order store
// used to lock orders.
func NewAllocator(tx txRunner, orders OrderStore, engine *Engine) (*Allocator, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if engine == nil {
		return nil, fmt.Errorf("allocation engine required")
	}
	return &Allocator{tx: tx, orders: orders, engine: engine}, nil
}

// AllocateOrder locks the order, rejects terminal statuses with
// models.ErrInvalidOrderState and runs the engine. Everything commits or
// nothing does.
func (a *Allocator) AllocateOrder(ctx context.Context, orderID uuid.UUID, hooks ...Hook) (*models.Order, Result, error) {
	var (
		order  *models.Order
		result Result
	)
	err := a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := a.orders.LockByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			return &models.StateError{Action: "allocate", Status: locked.Status}
		}

		previous := locked.Status
		res, err := a.engine.Allocate(ctx, tx, locked)
		if err != nil {
			return err
		}
		for _, hook := range hooks {
			if hook == nil {
				continue
			}
			if err := hook(tx, locked, previous, res); err != nil {
				return err
			}
		}
		order, result = locked, res
		return nil
	})
	if err != nil {
		return nil, Result{}, err
	}
	return order, result, nil
}

// IsSkippable reports errors that mean the order no longer needs allocation.
func IsSkippable(err error) bool {
	return errors.Is(err, models.ErrInvalidOrderState) || errors.Is(err, gorm.ErrRecordNotFound)
}
