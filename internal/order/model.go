package order

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

type PaymentType string

const (
	PaymentCreditCard PaymentType = "credit_card"
	PaymentDebitCard  PaymentType = "debit_card"
	PaymentPix        PaymentType = "pix"
	PaymentBoleto     PaymentType = "boleto"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentCreditCard, PaymentDebitCard, PaymentPix, PaymentBoleto:
		return true
	}
	return false
}

type ShippingAddress struct {
	Name         string `json:"name"`
	Recipient    string `json:"recipient"`
	Address      string `json:"address"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
}

type PaymentMethod struct {
	Type    PaymentType     `json:"type"`
	Details json.RawMessage `json:"details,omitempty"`
}

// PaymentResult is the confirmation handed over by the payment provider.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// Item is a frozen copy of a cart line at checkout time.
type Item struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	ProductID     uuid.UUID       `json:"product_id"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	Size          string          `json:"size"`
	Customization json.RawMessage `json:"customization"`
	Image         string          `json:"image"`
	Price         decimal.Decimal `json:"price"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Items           []Item          `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentResult   *PaymentResult  `json:"payment_result,omitempty"`
	ItemsPrice      decimal.Decimal `json:"items_price"`
	ShippingPrice   decimal.Decimal `json:"shipping_price"`
	TaxPrice        decimal.Decimal `json:"tax_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Status          Status          `json:"status"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsPaid and IsDelivered are derived from the timestamps so they can never
// disagree with the status history.
func (o *Order) IsPaid() bool {
	return o.PaidAt != nil
}

func (o *Order) IsDelivered() bool {
	return o.DeliveredAt != nil
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Items = make([]Item, len(o.Items))
	for i, item := range o.Items {
		item.Customization = append(json.RawMessage(nil), item.Customization...)
		cp.Items[i] = item
	}
	cp.PaymentMethod.Details = append(json.RawMessage(nil), o.PaymentMethod.Details...)
	if o.PaymentResult != nil {
		result := *o.PaymentResult
		cp.PaymentResult = &result
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}
