package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

type ShippingAddressRequest struct {
	Name         string `json:"name" validate:"required"`
	Recipient    string `json:"recipient" validate:"required"`
	Address      string `json:"address" validate:"required"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city" validate:"required"`
	State        string `json:"state" validate:"required"`
	ZipCode      string `json:"zip_code" validate:"required"`
}

type PaymentMethodRequest struct {
	Type    string          `json:"type" validate:"required,oneof=credit_card debit_card pix boleto"`
	Details json.RawMessage `json:"details,omitempty"`
}

type PlaceOrderRequest struct {
	ShippingAddress *ShippingAddressRequest `json:"shipping_address" validate:"required"`
	PaymentMethod   *PaymentMethodRequest   `json:"payment_method" validate:"required"`
	ShippingPrice   decimal.Decimal         `json:"shipping_price"`
	TaxPrice        decimal.Decimal         `json:"tax_price"`
}

type PayOrderRequest struct {
	ID           string `json:"id" validate:"required"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

type ShipOrderRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required"`
}

type DeliverOrderRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

// OrderResponse adds the derived payment and delivery flags.
type OrderResponse struct {
	*order.Order
	IsPaid      bool `json:"is_paid"`
	IsDelivered bool `json:"is_delivered"`
}

func newOrderResponse(o *order.Order) OrderResponse {
	return OrderResponse{Order: o, IsPaid: o.IsPaid(), IsDelivered: o.IsDelivered()}
}

func newOrderResponses(orders []order.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	return out
}

type OrderHandler struct {
	orders   order.Service
	checkout checkout.Service
	validate *validator.Validate
}

func NewOrderHandler(orders order.Service, checkoutService checkout.Service) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		checkout: checkoutService,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Post("/orders", h.handlePlaceOrder)
		r.Get("/orders", h.handleListMyOrders)
		r.Get("/orders/all", h.handleListOrders)
		r.Get("/orders/{id}", h.handleGetOrderByID)
		r.Put("/orders/{id}/pay", h.handlePayOrder)
		r.Put("/orders/{id}/ship", h.handleShipOrder)
		r.Put("/orders/{id}/deliver", h.handleDeliverOrder)
		r.Put("/orders/{id}/cancel", h.handleCancelOrder)
	})
}

func (h *OrderHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload PlaceOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	address := order.ShippingAddress(*requestPayload.ShippingAddress)
	in := checkout.Input{
		ShippingAddress: &address,
		PaymentMethod: &order.PaymentMethod{
			Type:    order.PaymentType(requestPayload.PaymentMethod.Type),
			Details: requestPayload.PaymentMethod.Details,
		},
		ShippingPrice: requestPayload.ShippingPrice,
		TaxPrice:      requestPayload.TaxPrice,
	}

	placed, err := h.checkout.PlaceOrder(r.Context(), identityFrom(r), in)
	if err != nil {
		respondWithServiceError(w, err, "Failed to place order")
		return
	}
	respondWithJSON(w, http.StatusCreated, newOrderResponse(placed))
}

func (h *OrderHandler) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListMyOrders(r.Context(), identityFrom(r))
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	orders, err := h.orders.ListOrders(r.Context(), identityFrom(r), limit, offset)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	found, err := h.orders.GetOrderByID(r.Context(), identityFrom(r), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponse(found))
}

func (h *OrderHandler) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	var requestPayload PayOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	paid, err := h.orders.PayOrder(r.Context(), identityFrom(r), orderID, order.PaymentResult(requestPayload))
	h.respondWithOrder(w, paid, err, "Failed to pay order")
}

func (h *OrderHandler) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	var requestPayload ShipOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	shipped, err := h.orders.ShipOrder(r.Context(), identityFrom(r), orderID, requestPayload.TrackingNumber)
	h.respondWithOrder(w, shipped, err, "Failed to ship order")
}

func (h *OrderHandler) handleDeliverOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	// The body is optional here.
	var requestPayload DeliverOrderRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, h.validate, &requestPayload) {
			return
		}
	}

	delivered, err := h.orders.DeliverOrder(r.Context(), identityFrom(r), orderID, requestPayload.TrackingNumber)
	h.respondWithOrder(w, delivered, err, "Failed to mark order delivered")
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	cancelled, err := h.orders.CancelOrder(r.Context(), identityFrom(r), orderID)
	h.respondWithOrder(w, cancelled, err, "Failed to cancel order")
}

func (h *OrderHandler) respondWithOrder(w http.ResponseWriter, o *order.Order, err error, fallback string) {
	if err != nil {
		respondWithServiceError(w, err, fallback)
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponse(o))
}
