package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Reoptimizer gives freed or newly received stock to waiting orders.
type Reoptimizer interface {
	ReoptimizeForProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.Order, error)
}

// Service exposes catalog reads and stock receipts.
type Service interface {
	Restock(ctx context.Context, input RestockInput) (*models.WarehouseStock, error)
	ListProducts(ctx context.Context) ([]ProductStockSummary, error)
	ListWarehouses(ctx context.Context) ([]models.Warehouse, error)
}

// RestockInput adds Quantity units of SKU to the warehouse with WarehouseCode.
type RestockInput struct {
	WarehouseCode string
	SKU           string
	Quantity      int
	Actor         *outbox.ActorRef
}

// ServiceParams groups the inventory service dependencies.
type ServiceParams struct {
	Repository  *Repository
	TxRunner    txRunner
	Outbox      outbox.Emitter
	Reoptimizer Reoptimizer
	Logger      *logger.Logger
	// ReoptimizeOnRestock runs reoptimization for the product after commit.
	ReoptimizeOnRestock bool
}

type service struct {
	repo                *Repository
	tx                  txRunner
	outbox              outbox.Emitter
	reoptimizer         Reoptimizer
	logg                *logger.Logger
	reoptimizeOnRestock bool
}

// NewService validates dependencies and builds the inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.ReoptimizeOnRestock && params.Reoptimizer == nil {
		return nil, fmt.Errorf("reoptimizer required when reoptimize on restock is enabled")
	}
	return &service{
		repo:                params.Repository,
		tx:                  params.TxRunner,
		outbox:              params.Outbox,
		reoptimizer:         params.Reoptimizer,
		logg:                params.Logger,
		reoptimizeOnRestock: params.ReoptimizeOnRestock,
	}, nil
}

func (s *service) Restock(ctx context.Context, input RestockInput) (*models.WarehouseStock, error) {
	code := strings.TrimSpace(input.WarehouseCode)
	sku := strings.TrimSpace(input.SKU)
	if code == "" || sku == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "warehouse code and sku are required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"quantity": input.Quantity})
	}

	var stock *models.WarehouseStock
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		wh, err := repo.FindWarehouseByCode(ctx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "warehouse not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load warehouse")
		}
		product, err := repo.FindProductBySKU(ctx, sku)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}

		stock, err = repo.UpsertStock(ctx, wh.ID, product.ID, input.Quantity)
		if err != nil {
			if errors.Is(err, ErrInvariantViolation) {
				return pkgerrors.Wrap(pkgerrors.CodeInvariant, err, "restock violated stock invariant")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock")
		}
		stock.Warehouse = wh
		stock.Product = product

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockRestocked,
			AggregateType: enums.AggregateWarehouseStock,
			AggregateID:   stock.ID,
			Actor:         input.Actor,
			Data: payloads.StockRestockedEvent{
				StockID:       stock.ID,
				WarehouseCode: wh.Code,
				SKU:           product.SKU,
				AddedQuantity: input.Quantity,
				Quantity:      stock.Quantity,
				Reserved:      stock.ReservedQuantity,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"stock_id":       stock.ID.String(),
		"warehouse_code": code,
		"sku":            sku,
		"added":          input.Quantity,
		"quantity":       stock.Quantity,
	})
	s.logg.Info(logCtx, "stock restocked")

	if s.reoptimizeOnRestock {
		improved, rerr := s.reoptimizer.ReoptimizeForProducts(ctx, []uuid.UUID{stock.ProductID})
		if rerr != nil {
			s.logg.Error(logCtx, "reoptimization after restock failed", rerr)
		} else if len(improved) > 0 {
			s.logg.Info(s.logg.WithField(logCtx, "improved_orders", len(improved)), "restock reoptimized orders")
		}
	}

	return stock, nil
}

func (s *service) ListProducts(ctx context.Context) ([]ProductStockSummary, error) {
	rows, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	return rows, nil
}

func (s *service) ListWarehouses(ctx context.Context) ([]models.Warehouse, error) {
	rows, err := s.repo.ListWarehouses(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list warehouses")
	}
	return rows, nil
}
