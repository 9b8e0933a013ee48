package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/auth"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

type CartItemRequest struct {
	DishID     string   `json:"dish_id" validate:"required"`
	Quantity   int      `json:"quantity" validate:"max=1000"`
	Extras     []string `json:"extras,omitempty" validate:"omitempty,dive,required"`
	Exclusions []string `json:"exclusions,omitempty" validate:"omitempty,dive,required"`
}

type CreateOrderRequest struct {
	Items           []CartItemRequest `json:"items" validate:"dive"`
	DeliveryAddress string            `json:"delivery_address" validate:"required,max=500"`
	PaymentMethod   string            `json:"payment_method" validate:"required,max=50"`
	Notes           string            `json:"notes,omitempty" validate:"max=500"`
}

type UpdateStatusRequest struct {
	Status     string  `json:"status" validate:"required"`
	StatusNote *string `json:"status_note,omitempty" validate:"omitempty,max=500"`
}

type OrderItemResponse struct {
	ID         uuid.UUID   `json:"id"`
	DishID     string      `json:"dish_id"`
	Quantity   int         `json:"quantity"`
	BasePrice  order.Money `json:"base_price"`
	UnitPrice  order.Money `json:"unit_price"`
	LineTotal  order.Money `json:"line_total"`
	Extras     []string    `json:"extras"`
	Exclusions []string    `json:"exclusions"`
}

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	OwnerID         string              `json:"owner_id"`
	Status          string              `json:"status"`
	TotalPrice      order.Money         `json:"total_price"`
	DeliveryAddress string              `json:"delivery_address"`
	PaymentMethod   string              `json:"payment_method"`
	Notes           string              `json:"notes,omitempty"`
	StatusNote      *string             `json:"status_note,omitempty"`
	Items           []OrderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
	Count  int             `json:"count"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &OrderHandler{
		service:  service,
		validate: validate,
	}
}

// RegisterRoutes mounts the order routes. The router must already carry the auth middleware.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.handleCreateOrder)
		r.Get("/", h.handleListOrders)
		r.Get("/{id}", h.handleGetOrder)
		r.Put("/{id}/status", h.handleUpdateStatus)
		r.Delete("/{id}", h.handleCancelOrder)
		r.Post("/{id}/reorder", h.handleReorder)
	})

	router.Route("/api/admin/orders", func(r chi.Router) {
		r.Use(auth.RequireStaff)
		r.Get("/", h.handleListOrders)
		r.Put("/{id}/status", h.handleUpdateStatus)
	})
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var requestPayload CreateOrderRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	input := order.CreateOrderInput{
		Items:           make([]order.CartItem, 0, len(requestPayload.Items)),
		DeliveryAddress: requestPayload.DeliveryAddress,
		PaymentMethod:   requestPayload.PaymentMethod,
		Notes:           requestPayload.Notes,
	}
	for _, item := range requestPayload.Items {
		input.Items = append(input.Items, order.CartItem{
			DishID:     order.DishID(item.DishID),
			Quantity:   item.Quantity,
			Extras:     item.Extras,
			Exclusions: item.Exclusions,
		})
	}

	createdOrder, err := h.service.CreateOrder(r.Context(), actor, input)
	if err != nil {
		logServiceError(err, "Failed to create order via service")
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toOrderResponse(createdOrder))
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	foundOrder, err := h.service.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		logServiceError(err, "Failed to get order by id via service")
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(foundOrder))
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	filter := order.ListFilter{Timeframe: r.URL.Query().Get("timeframe")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := order.ParseStatus(strings.ToUpper(raw))
		if !ok {
			respondWithError(w, http.StatusBadRequest, kindValidation, fmt.Sprintf("Unknown status %q", raw))
			return
		}
		filter.Status = &status
	}

	orders, err := h.service.ListOrders(r.Context(), actor, filter)
	if err != nil {
		logServiceError(err, "Failed to list orders via service")
		respondWithServiceError(w, err)
		return
	}

	response := ListOrdersResponse{Orders: make([]OrderResponse, 0, len(orders)), Count: len(orders)}
	for i := range orders {
		response.Orders = append(response.Orders, toOrderResponse(&orders[i]))
	}
	respondWithJSON(w, http.StatusOK, response)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateStatusRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	target, ok := order.ParseStatus(requestPayload.Status)
	if !ok {
		respondWithError(w, http.StatusBadRequest, kindValidation, fmt.Sprintf("Unknown status %q", requestPayload.Status))
		return
	}

	updatedOrder, err := h.service.TransitionOrder(r.Context(), actor, orderID, target, requestPayload.StatusNote)
	if err != nil {
		logServiceError(err, "Failed to update order status via service")
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(updatedOrder))
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	cancelledOrder, err := h.service.CancelOrder(r.Context(), actor, orderID)
	if err != nil {
		logServiceError(err, "Failed to cancel order via service")
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(cancelledOrder))
}

func (h *OrderHandler) handleReorder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	newOrder, err := h.service.Reorder(r.Context(), actor, orderID)
	if err != nil {
		logServiceError(err, "Failed to reorder via service")
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toOrderResponse(newOrder))
}

func (h *OrderHandler) actor(w http.ResponseWriter, r *http.Request) (order.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, kindUnauthorized, "Invalid or missing token")
		return order.Actor{}, false
	}
	return actor, true
}

// decodeAndValidate reads a JSON body into dst and runs the struct validator. It writes the
// error response itself and reports whether the handler may continue.
func (h *OrderHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, kindValidation, "Invalid request payload")
		return false
	}

	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   kindValidation,
			Message: "Validation failed",
			Details: formatValidationErrors(validationErrors),
		})
		return false
	}

	log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
	respondWithError(w, http.StatusInternalServerError, kindInternal, "Internal validation error")
	return false
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, kindValidation, "Invalid id parameter")
		return uuid.Nil, false
	}
	return orderID, true
}

func logServiceError(err error, msg string) {
	if mapErrorToStatusCode(err) == http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		return
	}
	log.Warn().Err(err).Msg(msg)
}

func toOrderResponse(o *order.Order) OrderResponse {
	response := OrderResponse{
		ID:              o.ID,
		OwnerID:         o.OwnerID,
		Status:          o.Status.String(),
		TotalPrice:      o.TotalPrice,
		DeliveryAddress: o.DeliveryAddress,
		PaymentMethod:   o.PaymentMethod,
		Notes:           o.Notes,
		StatusNote:      o.StatusNote,
		Items:           make([]OrderItemResponse, 0, len(o.Items)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, item := range o.Items {
		response.Items = append(response.Items, OrderItemResponse{
			ID:         item.ID,
			DishID:     string(item.DishID),
			Quantity:   item.Quantity,
			BasePrice:  item.BasePrice,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal(),
			Extras:     nonNil(item.Extras),
			Exclusions: nonNil(item.Exclusions),
		})
	}
	return response
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
