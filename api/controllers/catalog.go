package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/warehouse-allocator/api/responses"
	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
)

type ProductDTO struct {
	ID                uuid.UUID `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	TotalQuantity     int       `json:"totalQuantity"`
	ReservedQuantity  int       `json:"reservedQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	WarehouseCount    int       `json:"warehouseCount"`
}

type StockDTO struct {
	ID                uuid.UUID `json:"id"`
	WarehouseID       uuid.UUID `json:"warehouseId"`
	WarehouseCode     string    `json:"warehouseCode,omitempty"`
	SKU               string    `json:"sku,omitempty"`
	Quantity          int       `json:"quantity"`
	ReservedQuantity  int       `json:"reservedQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
}

type WarehouseDTO struct {
	ID       uuid.UUID  `json:"id"`
	Code     string     `json:"code"`
	Name     string     `json:"name"`
	Location *string    `json:"location,omitempty"`
	Stock    []StockDTO `json:"stock"`
}

func newStockDTO(stock models.WarehouseStock) StockDTO {
	dto := StockDTO{
		ID:                stock.ID,
		WarehouseID:       stock.WarehouseID,
		Quantity:          stock.Quantity,
		ReservedQuantity:  stock.ReservedQuantity,
		AvailableQuantity: stock.Available(),
	}
	if stock.Warehouse != nil {
		dto.WarehouseCode = stock.Warehouse.Code
	}
	if stock.Product != nil {
		dto.SKU = stock.Product.SKU
	}
	return dto
}

func newWarehouseDTO(wh models.Warehouse) WarehouseDTO {
	dto := WarehouseDTO{
		ID:       wh.ID,
		Code:     wh.Code,
		Name:     wh.Name,
		Location: wh.Location,
		Stock:    make([]StockDTO, 0, len(wh.Stocks)),
	}
	for _, stock := range wh.Stocks {
		row := newStockDTO(stock)
		row.WarehouseCode = wh.Code
		dto.Stock = append(dto.Stock, row)
	}
	return dto
}

// ListProducts returns every product with its stock totals across warehouses.
func ListProducts(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		rows, err := svc.ListProducts(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]ProductDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, ProductDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

func ListWarehouses(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		rows, err := svc.ListWarehouses(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]WarehouseDTO, 0, len(rows))
		for _, wh := range rows {
			out = append(out, newWarehouseDTO(wh))
		}
		responses.WriteSuccess(w, out)
	}
}
