package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var errCustomizationNotObject = errors.New("customization must be a JSON object")

var emptyCustomization = Customization(`{}`)

// Customization is an opaque JSON object kept in its original key order.
// Two customizations are equal when their compacted encodings are identical;
// absent, null and {} are all the same empty customization.
type Customization json.RawMessage

func ParseCustomization(raw []byte) (Customization, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyCustomization, nil
	}
	if trimmed[0] != '{' {
		return nil, errCustomizationNotObject
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	return Customization(buf.Bytes()), nil
}

func (c Customization) Equal(other Customization) bool {
	return bytes.Equal(c.normalized(), other.normalized())
}

func (c Customization) IsEmpty() bool {
	return bytes.Equal(c.normalized(), emptyCustomization)
}

func (c Customization) normalized() []byte {
	if len(c) == 0 {
		return emptyCustomization
	}
	return c
}

func (c Customization) MarshalJSON() ([]byte, error) {
	return c.normalized(), nil
}

func (c *Customization) UnmarshalJSON(data []byte) error {
	parsed, err := ParseCustomization(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type Item struct {
	ID            uuid.UUID       `json:"id"`
	ProductID     uuid.UUID       `json:"product_id"`
	Quantity      int             `json:"quantity"`
	Size          string          `json:"size"`
	Customization Customization   `json:"customization"`
	Price         decimal.Decimal `json:"price"`
	AddedAt       time.Time       `json:"added_at"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	UserID     uuid.UUID       `json:"user_id"`
	Items      []Item          `json:"items"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func newCart(userID uuid.UUID, now time.Time) *Cart {
	return &Cart{
		UserID:     userID,
		Items:      []Item{},
		TotalPrice: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Totals sums quantity and price over items. It is the only source of the
// cart totals; stored totals are never trusted.
func Totals(items []Item) (int, decimal.Decimal) {
	count := 0
	total := decimal.Zero
	for _, item := range items {
		count += item.Quantity
		total = total.Add(item.Subtotal())
	}
	return count, total
}

func (c *Cart) recalculate(now time.Time) {
	c.TotalItems, c.TotalPrice = Totals(c.Items)
	c.UpdatedAt = now
}

func (c *Cart) indexOf(itemID uuid.UUID) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfLine(productID uuid.UUID, size string, customization Customization) int {
	for i := range c.Items {
		item := &c.Items[i]
		if item.ProductID == productID && item.Size == size && item.Customization.Equal(customization) {
			return i
		}
	}
	return -1
}

func (c *Cart) clone() *Cart {
	cp := *c
	cp.Items = make([]Item, len(c.Items))
	for i, item := range c.Items {
		item.Customization = append(Customization(nil), item.Customization...)
		cp.Items[i] = item
	}
	return &cp
}
