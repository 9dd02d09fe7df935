package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/warehouse-allocator/api/middleware"
	"github.com/angelmondragon/warehouse-allocator/api/responses"
	"github.com/angelmondragon/warehouse-allocator/api/validators"
	"github.com/angelmondragon/warehouse-allocator/internal/orders"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
)

type createOrderRequest struct {
	// Items maps SKU to requested quantity. Quantities are checked by the
	// service so every bad line is reported together.
	Items map[string]int `json:"items" validate:"required"`
}

// CreateOrder places an order and allocates it immediately.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		clientID, ok := requireClient(w, r, logg)
		if !ok {
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateAndAllocate(r.Context(), orders.CreateOrderInput{
			ClientID: clientID,
			Items:    payload.Items,
			Actor:    actorFor(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, orders.NewCreateOrderResponse(result))
	}
}

func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, orderID, ok := orderParams(w, r, logg)
		if !ok {
			return
		}
		order, err := svc.GetOrder(r.Context(), orderID, clientID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewOrderDTO(order))
	}
}

// ShipOrder consumes the order's reservations.
func ShipOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, orderID, ok := orderParams(w, r, logg)
		if !ok {
			return
		}
		order, err := svc.ShipOrder(r.Context(), orderID, clientID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewOrderDTO(order))
	}
}

// CancelOrder releases the order's reservations.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, orderID, ok := orderParams(w, r, logg)
		if !ok {
			return
		}
		order, err := svc.CancelOrder(r.Context(), orderID, clientID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewOrderDTO(order))
	}
}

func orderParams(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, uuid.UUID, bool) {
	clientID, ok := requireClient(w, r, logg)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return clientID, orderID, true
}

func requireClient(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	clientID := middleware.ClientIDFromContext(r.Context())
	if clientID == uuid.Nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "client context missing"))
		return uuid.Nil, false
	}
	return clientID, true
}

func actorFor(r *http.Request) *outbox.ActorRef {
	role := outbox.ActorRoleClient
	if middleware.IsAdminFromContext(r.Context()) {
		role = outbox.ActorRoleAdmin
	}
	return &outbox.ActorRef{ClientID: middleware.ClientIDFromContext(r.Context()), Role: role}
}
