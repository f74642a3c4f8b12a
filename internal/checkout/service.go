// Package checkout turns a user's cart into an order.
//
// Stock, orders and carts live in separate stores with no shared transaction,
// so PlaceOrder undoes its own side effects when a later step fails: stock it
// took is given back and the order it created is discarded. The whole run
// holds the user's cart lock, so the cart cannot change underneath it.
package checkout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/events"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/product"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/telemetry"
)

var tracer = otel.Tracer("github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout")

type CartStore interface {
	Drain(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, c *cart.Cart) error) error
}

type StockLedger interface {
	FindByID(ctx context.Context, id uuid.UUID) (*product.Product, error)
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) error
	IncrementStock(ctx context.Context, id uuid.UUID, qty int) error
}

type Orders interface {
	CreateOrder(ctx context.Context, orderInput *order.Order) (*order.Order, error)
	DiscardOrder(ctx context.Context, id uuid.UUID) error
}

type Input struct {
	ShippingAddress *order.ShippingAddress
	PaymentMethod   *order.PaymentMethod
	ShippingPrice   decimal.Decimal
	TaxPrice        decimal.Decimal
}

type Service interface {
	PlaceOrder(ctx context.Context, caller auth.Identity, in Input) (*order.Order, error)
}

type service struct {
	carts         CartStore
	stock         StockLedger
	orders        Orders
	publisher     events.Publisher
	meterProvider metric.MeterProvider
	metrics       instruments
}

func NewService(carts CartStore, stock StockLedger, orders Orders, publisher events.Publisher, opts ...Option) Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	s := &service{
		carts:     carts,
		stock:     stock,
		orders:    orders,
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newInstruments(s.meterProvider)
	return s
}

func (s *service) PlaceOrder(ctx context.Context, caller auth.Identity, in Input) (placed *order.Order, err error) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder", trace.WithAttributes(
		attribute.String("user.id", caller.UserID.String()),
	))
	defer func() {
		s.metrics.recordOutcome(ctx, err)
		telemetry.RecordError(span, err)
		span.End()
	}()

	if err := validateInput(in); err != nil {
		return nil, err
	}

	err = s.carts.Drain(ctx, caller.UserID, func(ctx context.Context, c *cart.Cart) error {
		o, err := s.reserve(ctx, caller, c, in)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		if placed != nil {
			// Stock and order are committed but the cart could not be emptied.
			log.Error().Err(err).Stringer("order_id", placed.ID).Stringer("user_id", caller.UserID).Msg("service: failed to empty cart after checkout, rolling back")
			return nil, apperr.Storage("failed to complete checkout", errors.Join(err, s.rollback(ctx, placed, placed.Items)))
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", placed.ID.String()))
	order.PublishCreated(ctx, s.publisher, placed)

	log.Info().Stringer("order_id", placed.ID).Stringer("user_id", caller.UserID).Str("total_price", placed.TotalPrice.StringFixed(2)).Msg("service: checkout completed")
	return placed, nil
}

// reserve checks stock, creates the order and takes the stock. On failure
// nothing it did survives.
func (s *service) reserve(ctx context.Context, caller auth.Identity, c *cart.Cart, in Input) (*order.Order, error) {
	if c.IsEmpty() {
		log.Warn().Stringer("user_id", caller.UserID).Msg("service: checkout of empty cart")
		return nil, apperr.EmptyCart()
	}

	// One product can sit in several lines (one per size), so stock is
	// checked against the total requested across them.
	requested := requestedByProduct(c.Items)
	products := make(map[uuid.UUID]*product.Product, len(requested))
	for _, item := range c.Items {
		if _, seen := products[item.ProductID]; seen {
			continue
		}
		p, err := s.stock.FindByID(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrProductNotFound) {
				log.Warn().Stringer("product_id", item.ProductID).Stringer("user_id", caller.UserID).Msg("service: cart item refers to a missing product")
				return nil, &apperr.InsufficientStockError{ProductID: item.ProductID, Requested: requested[item.ProductID]}
			}
			log.Error().Err(err).Stringer("product_id", item.ProductID).Msg("service: failed to load product for checkout")
			return nil, apperr.Storage("failed to check stock", err)
		}
		if p.Stock < requested[p.ID] {
			return nil, &apperr.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   requested[p.ID],
			}
		}
		products[p.ID] = p
	}

	orderInput := &order.Order{
		UserID:          caller.UserID,
		Items:           snapshot(c.Items, products),
		ShippingAddress: *in.ShippingAddress,
		PaymentMethod:   *in.PaymentMethod,
		ShippingPrice:   in.ShippingPrice,
		TaxPrice:        in.TaxPrice,
	}
	created, err := s.orders.CreateOrder(ctx, orderInput)
	if err != nil {
		return nil, err
	}

	for i, item := range created.Items {
		err := s.stock.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}

		log.Warn().Err(err).Stringer("order_id", created.ID).Stringer("product_id", item.ProductID).Int("quantity", item.Quantity).Msg("service: stock reservation failed, rolling back")
		if rbErr := s.rollback(ctx, created, created.Items[:i]); rbErr != nil {
			return nil, apperr.Storage("failed to roll back checkout", rbErr)
		}

		if errors.Is(err, apperr.ErrInsufficientStock) || errors.Is(err, product.ErrProductNotFound) {
			return nil, s.insufficientStock(ctx, item, requested[item.ProductID])
		}
		return nil, apperr.Storage("failed to reserve stock", err)
	}

	return created, nil
}

// rollback gives back the stock taken for items and discards the order. It
// runs to completion even if the caller has gone away and reports every step
// that failed.
func (s *service) rollback(ctx context.Context, o *order.Order, items []order.Item) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, item := range items {
		err := s.stock.IncrementStock(ctx, item.ProductID, item.Quantity)
		if errors.Is(err, product.ErrProductNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			log.Error().Err(err).
				Stringer("order_id", o.ID).
				Stringer("product_id", item.ProductID).
				Int("quantity", item.Quantity).
				Msg("service: failed to restore stock during checkout rollback")
		}
	}
	if err := s.orders.DiscardOrder(ctx, o.ID); err != nil {
		errs = append(errs, err)
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to discard order during checkout rollback")
	}
	err := errors.Join(errs...)
	s.metrics.recordRollback(ctx, err)
	return err
}

// insufficientStock reports the stock left once the rollback has run against
// the total the order asked for.
func (s *service) insufficientStock(ctx context.Context, item order.Item, requested int) error {
	stockErr := &apperr.InsufficientStockError{
		ProductID:   item.ProductID,
		ProductName: item.Name,
		Requested:   requested,
	}
	if p, err := s.stock.FindByID(context.WithoutCancel(ctx), item.ProductID); err == nil {
		stockErr.Available = p.Stock
	}
	return stockErr
}

func requestedByProduct(items []cart.Item) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		out[item.ProductID] += item.Quantity
	}
	return out
}

// snapshot freezes the cart lines: name and image from the product as it is
// now, the unit price the user saw when adding the item.
func snapshot(items []cart.Item, products map[uuid.UUID]*product.Product) []order.Item {
	out := make([]order.Item, 0, len(items))
	for _, item := range items {
		p := products[item.ProductID]
		out = append(out, order.Item{
			ProductID:     item.ProductID,
			Name:          p.Name,
			Quantity:      item.Quantity,
			Size:          item.Size,
			Customization: json.RawMessage(append([]byte(nil), item.Customization...)),
			Image:         p.MainImage(),
			Price:         item.Price,
		})
	}
	return out
}

func validateInput(in Input) error {
	if in.ShippingAddress == nil {
		return apperr.Validation("shipping address is required")
	}
	if in.PaymentMethod == nil {
		return apperr.Validation("payment method is required")
	}
	if !in.PaymentMethod.Type.Valid() {
		return apperr.Validation("unsupported payment method %q", in.PaymentMethod.Type)
	}
	if in.ShippingPrice.IsNegative() {
		return apperr.Validation("shipping price cannot be negative")
	}
	if in.TaxPrice.IsNegative() {
		return apperr.Validation("tax price cannot be negative")
	}
	return nil
}
