package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/events"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/telemetry"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var tracer = otel.Tracer("github.com/vasiliy-maslov/ecommerce-storefront/internal/order")

// StockRestorer gives reserved units back to the catalog.
type StockRestorer interface {
	IncrementStock(ctx context.Context, id uuid.UUID, qty int) error
}

type Service interface {
	CreateOrder(ctx context.Context, orderInput *Order) (*Order, error)
	// DiscardOrder removes an order that was never handed to a caller.
	DiscardOrder(ctx context.Context, id uuid.UUID) error
	GetOrderByID(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Order, error)
	ListMyOrders(ctx context.Context, caller auth.Identity) ([]Order, error)
	ListOrders(ctx context.Context, caller auth.Identity, limit, offset int) ([]Order, error)
	PayOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, result PaymentResult) (*Order, error)
	ShipOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, trackingNumber string) (*Order, error)
	DeliverOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, trackingNumber string) (*Order, error)
	CancelOrder(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Order, error)
}

type service struct {
	orderRepo Repository
	stock     StockRestorer
	publisher events.Publisher
	now       func() time.Time
}

func NewService(orderRepo Repository, stock StockRestorer, publisher events.Publisher) Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &service{
		orderRepo: orderRepo,
		stock:     stock,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreateOrder(ctx context.Context, orderInput *Order) (*Order, error) {
	if len(orderInput.Items) == 0 {
		log.Warn().Stringer("user_id", orderInput.UserID).Msg("service: attempt to create order with no items")
		return nil, apperr.Validation("order must contain at least one item")
	}
	if orderInput.UserID == uuid.Nil {
		return nil, apperr.Validation("order must belong to a user")
	}
	if orderInput.ShippingPrice.IsNegative() || orderInput.TaxPrice.IsNegative() {
		return nil, apperr.Validation("shipping and tax prices cannot be negative")
	}

	itemsPrice := decimal.Zero
	for i := range orderInput.Items {
		item := &orderInput.Items[i]

		if item.ProductID == uuid.Nil {
			return nil, apperr.Validation("product id in order item cannot be empty")
		}
		if item.Quantity <= 0 {
			return nil, apperr.Validation("order item quantity for product %s must be greater than zero", item.ProductID)
		}
		if item.Price.IsNegative() {
			return nil, apperr.Validation("order item price for product %s cannot be negative", item.ProductID)
		}

		item.ID = uuid.Nil
		item.OrderID = uuid.Nil
		itemsPrice = itemsPrice.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	orderInput.ID = uuid.Nil
	orderInput.Status = StatusCreated
	orderInput.PaymentResult = nil
	orderInput.PaidAt = nil
	orderInput.DeliveredAt = nil
	orderInput.TrackingNumber = ""
	orderInput.ItemsPrice = itemsPrice
	orderInput.TotalPrice = itemsPrice.Add(orderInput.ShippingPrice).Add(orderInput.TaxPrice)

	if err := s.orderRepo.CreateOrder(ctx, orderInput); err != nil {
		log.Error().Err(err).Stringer("user_id", orderInput.UserID).Msg("service: failed to create order in repository")
		return nil, apperr.Storage("failed to create order", err)
	}

	log.Info().Stringer("order_id", orderInput.ID).Stringer("user_id", orderInput.UserID).Msg("service: order created")
	return orderInput, nil
}

func (s *service) DiscardOrder(ctx context.Context, id uuid.UUID) error {
	if err := s.orderRepo.DeleteOrder(ctx, id); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to discard order")
		return apperr.Storage("failed to discard order", err)
	}
	log.Info().Stringer("order_id", id).Msg("service: order discarded")
	return nil
}

func (s *service) GetOrderByID(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(order.UserID) {
		log.Warn().Stringer("order_id", id).Stringer("caller_id", caller.UserID).Msg("service: order read denied")
		return nil, apperr.Forbidden("not allowed to view this order")
	}
	return order, nil
}

func (s *service) ListMyOrders(ctx context.Context, caller auth.Identity) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByUserID(ctx, caller.UserID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", caller.UserID).Msg("service: failed to fetch user orders in repository")
		return nil, apperr.Storage("failed to fetch orders", err)
	}
	return orders, nil
}

func (s *service) ListOrders(ctx context.Context, caller auth.Identity, limit, offset int) ([]Order, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can list all orders")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.orderRepo.ListOrders(ctx, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders in repository")
		return nil, apperr.Storage("failed to list orders", err)
	}
	return orders, nil
}

func (s *service) PayOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, result PaymentResult) (order *Order, err error) {
	ctx, span := s.startSpan(ctx, "order.PayOrder", id)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if result.ID == "" {
		return nil, apperr.Validation("payment result is required")
	}

	order, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(order.UserID) {
		return nil, apperr.Forbidden("not allowed to pay for this order")
	}
	if order.IsPaid() {
		return nil, apperr.InvalidTransition("order %s is already paid", id)
	}

	return s.transition(ctx, order, StatusProcessing, events.OrderPaid, func(o *Order, now time.Time) {
		o.PaymentResult = &result
		o.PaidAt = &now
	})
}

func (s *service) ShipOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, trackingNumber string) (order *Order, err error) {
	ctx, span := s.startSpan(ctx, "order.ShipOrder", id)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can ship orders")
	}
	if trackingNumber == "" {
		return nil, apperr.Validation("tracking number is required")
	}

	order, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid() {
		log.Warn().Stringer("order_id", id).Stringer("status", order.Status).Msg("service: attempt to ship unpaid order")
		return nil, apperr.InvalidTransition("order %s is not paid", id)
	}

	return s.transition(ctx, order, StatusShipped, events.OrderShipped, func(o *Order, _ time.Time) {
		o.TrackingNumber = trackingNumber
	})
}

func (s *service) DeliverOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, trackingNumber string) (order *Order, err error) {
	ctx, span := s.startSpan(ctx, "order.DeliverOrder", id)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can confirm delivery")
	}

	order, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid() {
		log.Warn().Stringer("order_id", id).Stringer("status", order.Status).Msg("service: attempt to deliver unpaid order")
		return nil, apperr.InvalidTransition("order %s is not paid", id)
	}

	return s.transition(ctx, order, StatusDelivered, events.OrderDelivered, func(o *Order, now time.Time) {
		o.DeliveredAt = &now
		if trackingNumber != "" {
			o.TrackingNumber = trackingNumber
		}
	})
}

// CancelOrder moves the order to cancelled and then returns every item's
// quantity to stock. The status write is the gate: only the request that wins
// it restores stock.
func (s *service) CancelOrder(ctx context.Context, caller auth.Identity, id uuid.UUID) (order *Order, err error) {
	ctx, span := s.startSpan(ctx, "order.CancelOrder", id)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	order, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(order.UserID) {
		return nil, apperr.Forbidden("not allowed to cancel this order")
	}

	order, err = s.transition(ctx, order, StatusCancelled, events.OrderCancelled, nil)
	if err != nil {
		return nil, err
	}

	restoreCtx := context.WithoutCancel(ctx)
	var failed error
	for _, item := range order.Items {
		err := s.stock.IncrementStock(restoreCtx, item.ProductID, item.Quantity)
		if errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Stringer("order_id", order.ID).Stringer("product_id", item.ProductID).Msg("service: product of cancelled order no longer exists, nothing to restock")
			continue
		}
		if err != nil {
			log.Error().Err(err).
				Stringer("order_id", order.ID).
				Stringer("product_id", item.ProductID).
				Int("quantity", item.Quantity).
				Msg("service: failed to restore stock for cancelled order")
			failed = errors.Join(failed, fmt.Errorf("product %s: %w", item.ProductID, err))
		}
	}
	if failed != nil {
		return nil, apperr.Storage("order cancelled but stock could not be fully restored", failed)
	}
	return order, nil
}

// transition applies mutate and writes the new status only if nobody else
// moved the order since it was loaded.
func (s *service) transition(ctx context.Context, order *Order, to Status, eventType events.Type, mutate func(o *Order, now time.Time)) (*Order, error) {
	from := order.Status
	if !CanTransition(from, to) {
		log.Warn().Stringer("order_id", order.ID).Stringer("current_status", from).Stringer("new_status", to).Msg("service: invalid status transition")
		return nil, apperr.InvalidTransition("cannot move order from %s to %s", from, to)
	}

	updated := order.clone()
	updated.Status = to
	if mutate != nil {
		mutate(updated, s.now())
	}

	if err := s.orderRepo.UpdateOrderStatus(ctx, updated, from); err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			return nil, ErrOrderNotFound
		case errors.Is(err, ErrStatusConflict):
			log.Warn().Stringer("order_id", order.ID).Stringer("expected_status", from).Msg("service: order status changed concurrently")
			return nil, ErrStatusConflict
		}
		log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: failed to update order status in repository")
		return nil, apperr.Storage("failed to update order", err)
	}

	log.Info().Stringer("order_id", order.ID).Stringer("old_status", from).Stringer("new_status", to).Msg("service: order status updated")
	s.publish(ctx, eventType, updated)
	return updated, nil
}

// PublishCreated announces a new order. Checkout calls it once the order is
// final.
func PublishCreated(ctx context.Context, publisher events.Publisher, order *Order) {
	publish(ctx, publisher, events.OrderCreated, order)
}

func (s *service) publish(ctx context.Context, eventType events.Type, order *Order) {
	publish(ctx, s.publisher, eventType, order)
}

func publish(ctx context.Context, publisher events.Publisher, eventType events.Type, order *Order) {
	event := events.OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status.String(),
		TotalPrice:     order.TotalPrice,
		TrackingNumber: order.TrackingNumber,
		OccurredAt:     time.Now().UTC(),
	}
	if err := publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Stringer("order_id", order.ID).Str("event", string(eventType)).Msg("service: failed to publish order event")
	}
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, apperr.Storage("failed to fetch order", err)
	}
	return order, nil
}

func (s *service) startSpan(ctx context.Context, name string, id uuid.UUID) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("order.id", id.String())))
}
