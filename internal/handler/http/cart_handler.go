package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
)

type AddCartItemRequest struct {
	ProductID     uuid.UUID       `json:"product_id" validate:"required"`
	Quantity      int             `json:"quantity" validate:"min=0"`
	Size          string          `json:"size" validate:"required"`
	Customization json.RawMessage `json:"customization,omitempty"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Get("/cart", h.handleGetCart)
		r.Post("/cart", h.handleAddItem)
		r.Delete("/cart", h.handleClearCart)
		r.Put("/cart/{itemId}", h.handleUpdateItem)
		r.Delete("/cart/{itemId}", h.handleRemoveItem)
	})
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)

	view, err := h.service.GetCartView(r.Context(), caller.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get cart")
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var requestPayload AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	customization, err := cart.ParseCustomization(requestPayload.Customization)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "customization must be a JSON object")
		return
	}

	caller := identityFrom(r)
	c, err := h.service.AddItem(r.Context(), caller.UserID, cart.AddItemInput{
		ProductID:     requestPayload.ProductID,
		Quantity:      requestPayload.Quantity,
		Size:          requestPayload.Size,
		Customization: customization,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to add item to cart")
		return
	}
	respondWithJSON(w, http.StatusCreated, c)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseUUIDParam(w, chi.URLParam(r, "itemId"), "itemId")
	if !ok {
		return
	}

	var requestPayload UpdateCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	caller := identityFrom(r)
	c, err := h.service.UpdateItemQuantity(r.Context(), caller.UserID, itemID, requestPayload.Quantity)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update cart item")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseUUIDParam(w, chi.URLParam(r, "itemId"), "itemId")
	if !ok {
		return
	}

	caller := identityFrom(r)
	c, err := h.service.RemoveItem(r.Context(), caller.UserID, itemID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to remove cart item")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)

	c, err := h.service.Clear(r.Context(), caller.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}
