package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/telemetry"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var tracer = otel.Tracer("github.com/vasiliy-maslov/ecommerce-storefront/internal/product")

type Service interface {
	CreateProduct(ctx context.Context, caller auth.Identity, p *Product) (*Product, error)
	UpdateProduct(ctx context.Context, caller auth.Identity, p *Product) (*Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]Product, error)
	SetStock(ctx context.Context, caller auth.Identity, id uuid.UUID, stock int) (*Product, error)
	DeleteProduct(ctx context.Context, caller auth.Identity, id uuid.UUID) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateProduct(ctx context.Context, caller auth.Identity, p *Product) (*Product, error) {
	ctx, span := tracer.Start(ctx, "product.CreateProduct")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can create products")
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if p.Stock < 0 {
		return nil, apperr.Validation("stock cannot be negative")
	}

	p.ID = uuid.Nil
	if err := s.repo.Create(ctx, p); err != nil {
		telemetry.RecordError(span, err)
		if apperr.IsKnown(err) {
			return nil, err
		}
		log.Error().Err(err).Msg("service: failed to create product in repository")
		return nil, apperr.Storage("failed to create product", err)
	}

	log.Info().Stringer("product_id", p.ID).Str("name", p.Name).Msg("service: product created")
	return p, nil
}

func (s *service) UpdateProduct(ctx context.Context, caller auth.Identity, p *Product) (*Product, error) {
	ctx, span := tracer.Start(ctx, "product.UpdateProduct")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can update products")
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, p); err != nil {
		telemetry.RecordError(span, err)
		return nil, s.mapRepoError(err, p.ID, "failed to update product")
	}

	return s.GetProduct(ctx, p.ID)
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id, "failed to fetch product")
	}
	return p, nil
}

func (s *service) ListProducts(ctx context.Context, limit, offset int) ([]Product, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	products, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list products in repository")
		return nil, apperr.Storage("failed to list products", err)
	}
	return products, nil
}

func (s *service) SetStock(ctx context.Context, caller auth.Identity, id uuid.UUID, stock int) (*Product, error) {
	ctx, span := tracer.Start(ctx, "product.SetStock")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", id.String()), attribute.Int("product.stock", stock))

	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can change stock")
	}
	if stock < 0 {
		return nil, apperr.Validation("stock cannot be negative")
	}

	if err := s.repo.SetStock(ctx, id, stock); err != nil {
		telemetry.RecordError(span, err)
		return nil, s.mapRepoError(err, id, "failed to set stock")
	}

	log.Info().Stringer("product_id", id).Int("stock", stock).Msg("service: stock set")
	return s.GetProduct(ctx, id)
}

// DeleteProduct removes a product from the catalog. Carts still holding it
// fail at checkout with insufficient stock; placed orders are unaffected.
func (s *service) DeleteProduct(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "product.DeleteProduct")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", id.String()))

	if !caller.IsAdmin() {
		return apperr.Forbidden("only administrators can delete products")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		telemetry.RecordError(span, err)
		return s.mapRepoError(err, id, "failed to delete product")
	}

	log.Info().Stringer("product_id", id).Msg("service: product deleted")
	return nil
}

func (s *service) mapRepoError(err error, id uuid.UUID, message string) error {
	if errors.Is(err, ErrProductNotFound) {
		log.Warn().Stringer("product_id", id).Msg("service: product not found")
		return ErrProductNotFound
	}
	if apperr.IsKnown(err) {
		return err
	}
	log.Error().Err(err).Stringer("product_id", id).Msg("service: " + message)
	return apperr.Storage(message, fmt.Errorf("product %s: %w", id, err))
}

func validateProduct(p *Product) error {
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.Price.IsNegative() {
		return apperr.Validation("price cannot be negative")
	}
	if p.DiscountPrice.Valid && p.DiscountPrice.Decimal.IsNegative() {
		return apperr.Validation("discount price cannot be negative")
	}
	if len(p.Sizes) == 0 {
		return apperr.Validation("at least one size is required")
	}
	return nil
}
