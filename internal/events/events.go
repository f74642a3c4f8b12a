// Package events publishes order lifecycle notifications.
package events

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	OrderCreated   Type = "order.created"
	OrderPaid      Type = "order.paid"
	OrderShipped   Type = "order.shipped"
	OrderDelivered Type = "order.delivered"
	OrderCancelled Type = "order.cancelled"
)

type OrderEvent struct {
	Type           Type            `json:"type"`
	OrderID        uuid.UUID       `json:"order_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Status         string          `json:"status"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Publisher delivers events. Callers treat a publish failure as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, OrderEvent) error { return nil }
