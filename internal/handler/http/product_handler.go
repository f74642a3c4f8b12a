package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/product"
)

type CreateProductRequest struct {
	Name          string              `json:"name" validate:"required,min=2"`
	Description   string              `json:"description"`
	Category      string              `json:"category"`
	Images        []string            `json:"images"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discount_price"`
	Stock         int                 `json:"stock" validate:"min=0"`
	Sizes         []string            `json:"sizes" validate:"required,min=1,dive,required"`
}

// UpdateProductRequest replaces catalog fields. Stock is changed through SetStockRequest only.
type UpdateProductRequest struct {
	Name          string              `json:"name" validate:"required,min=2"`
	Description   string              `json:"description"`
	Category      string              `json:"category"`
	Images        []string            `json:"images"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discount_price"`
	Sizes         []string            `json:"sizes" validate:"required,min=1,dive,required"`
}

type SetStockRequest struct {
	Stock *int `json:"stock" validate:"required,min=0"`
}

type ProductHandler struct {
	service  product.Service
	validate *validator.Validate
}

func NewProductHandler(service product.Service) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *ProductHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products", h.handleListProducts)
	router.Get("/products/{id}", h.handleGetProduct)
	router.Group(func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Post("/products", h.handleCreateProduct)
		r.Put("/products/{id}", h.handleUpdateProduct)
		r.Put("/products/{id}/stock", h.handleSetStock)
		r.Delete("/products/{id}", h.handleDeleteProduct)
	})
}

func (h *ProductHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	products, err := h.service.ListProducts(r.Context(), limit, offset)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list products")
		return
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	p, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get product")
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *ProductHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateProductRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	created, err := h.service.CreateProduct(r.Context(), identityFrom(r), &product.Product{
		Name:          requestPayload.Name,
		Description:   requestPayload.Description,
		Category:      requestPayload.Category,
		Images:        requestPayload.Images,
		Price:         requestPayload.Price,
		DiscountPrice: requestPayload.DiscountPrice,
		Stock:         requestPayload.Stock,
		Sizes:         requestPayload.Sizes,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to create product")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *ProductHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	var requestPayload UpdateProductRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updated, err := h.service.UpdateProduct(r.Context(), identityFrom(r), &product.Product{
		ID:            productID,
		Name:          requestPayload.Name,
		Description:   requestPayload.Description,
		Category:      requestPayload.Category,
		Images:        requestPayload.Images,
		Price:         requestPayload.Price,
		DiscountPrice: requestPayload.DiscountPrice,
		Sizes:         requestPayload.Sizes,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to update product")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *ProductHandler) handleSetStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	var requestPayload SetStockRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updated, err := h.service.SetStock(r.Context(), identityFrom(r), productID, *requestPayload.Stock)
	if err != nil {
		respondWithServiceError(w, err, "Failed to set stock")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *ProductHandler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(r.Context(), identityFrom(r), productID); err != nil {
		respondWithServiceError(w, err, "Failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
