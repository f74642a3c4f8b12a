package checkout

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
)

const (
	outcomeCreated           = "created"
	outcomeInsufficientStock = "insufficient_stock"
	outcomeEmptyCart         = "empty_cart"
	outcomeInvalid           = "invalid"
	outcomeFailed            = "failed"
)

type Option func(*service)

// WithMeterProvider records checkout metrics on mp instead of the global
// meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) {
		s.meterProvider = mp
	}
}

type instruments struct {
	outcomes  metric.Int64Counter
	rollbacks metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout")
	fallback := noop.Meter{}

	outcomes, err := meter.Int64Counter("storefront.checkout.outcomes",
		metric.WithDescription("Checkout attempts by outcome"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create checkout outcome counter")
		outcomes, _ = fallback.Int64Counter("storefront.checkout.outcomes")
	}
	rollbacks, err := meter.Int64Counter("storefront.checkout.rollbacks",
		metric.WithDescription("Checkouts whose stock and order had to be undone"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create checkout rollback counter")
		rollbacks, _ = fallback.Int64Counter("storefront.checkout.rollbacks")
	}

	return instruments{outcomes: outcomes, rollbacks: rollbacks}
}

func (i instruments) recordOutcome(ctx context.Context, err error) {
	i.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

func (i instruments) recordRollback(ctx context.Context, err error) {
	i.rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("complete", err == nil)))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeCreated
	case errors.Is(err, apperr.ErrInsufficientStock):
		return outcomeInsufficientStock
	case errors.Is(err, apperr.ErrEmptyCart):
		return outcomeEmptyCart
	case errors.Is(err, apperr.ErrValidation):
		return outcomeInvalid
	default:
		return outcomeFailed
	}
}
