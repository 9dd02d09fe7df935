package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/warehouse-allocator/api/responses"
	"github.com/angelmondragon/warehouse-allocator/api/validators"
	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/internal/orders"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
)

const maxCodeLength = 64

// Reoptimizer runs reoptimization passes on demand.
type Reoptimizer interface {
	ReoptimizeForProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.Order, error)
	ReoptimizePartialOrders(ctx context.Context) ([]models.Order, error)
}

// ProductResolver maps SKUs to catalog products.
type ProductResolver interface {
	FindProductsBySKUs(ctx context.Context, skus []string) (map[string]models.Product, error)
}

type reoptimizeRequest struct {
	SKUs []string `json:"skus,omitempty" validate:"omitempty,dive,code"`
}

type ReoptimizeResponse struct {
	Reoptimized []orders.OrderDTO `json:"reoptimized"`
	Failures    int               `json:"failures"`
}

type restockRequest struct {
	WarehouseCode string `json:"warehouseCode" validate:"required,code"`
	SKU           string `json:"sku" validate:"required,code"`
	Quantity      int    `json:"quantity" validate:"gt=0"`
}

// AdminReoptimize sweeps partially reserved orders. With skus it only visits
// orders still missing one of those products.
func AdminReoptimize(reopt Reoptimizer, products ProductResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reopt == nil || products == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reoptimizer unavailable"))
			return
		}

		var payload reoptimizeRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		skus := validators.SanitizeCodes(payload.SKUs, maxCodeLength)

		var (
			improved []models.Order
			err      error
		)
		if len(skus) == 0 {
			improved, err = reopt.ReoptimizePartialOrders(r.Context())
		} else {
			found, lookupErr := products.FindProductsBySKUs(r.Context(), skus)
			if lookupErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, lookupErr, "resolve skus"))
				return
			}
			ids := make([]uuid.UUID, 0, len(skus))
			var missing []string
			for _, sku := range skus {
				product, ok := found[sku]
				if !ok {
					missing = append(missing, sku)
					continue
				}
				ids = append(ids, product.ID)
			}
			if len(missing) > 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
					WithDetails(map[string]any{"skus": missing}))
				return
			}
			improved, err = reopt.ReoptimizeForProducts(r.Context(), ids)
		}

		// A nil slice with an error means the pass never started.
		if err != nil && improved == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reoptimize"))
			return
		}
		failures := len(multierr.Errors(err))
		if err != nil && logg != nil {
			logg.Error(logg.WithField(r.Context(), "failures", failures), "admin.reoptimize.partial_failure", err)
		}

		resp := ReoptimizeResponse{Reoptimized: make([]orders.OrderDTO, 0, len(improved)), Failures: failures}
		for i := range improved {
			resp.Reoptimized = append(resp.Reoptimized, orders.NewOrderDTO(&improved[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// AdminRestock receives stock into a warehouse.
func AdminRestock(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stock, err := svc.Restock(r.Context(), inventory.RestockInput{
			WarehouseCode: validators.SanitizeString(payload.WarehouseCode, maxCodeLength),
			SKU:           validators.SanitizeString(payload.SKU, maxCodeLength),
			Quantity:      payload.Quantity,
			Actor:         actorFor(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStockDTO(*stock))
	}
}
