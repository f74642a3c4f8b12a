package cart

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/product"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/telemetry"
)

var tracer = otel.Tracer("github.com/vasiliy-maslov/ecommerce-storefront/internal/cart")

type ProductReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*product.Product, error)
}

type AddItemInput struct {
	ProductID     uuid.UUID
	Quantity      int
	Size          string
	Customization Customization
}

// ItemView is a cart line with the product's current display fields.
type ItemView struct {
	Item
	ProductName string `json:"product_name"`
	Image       string `json:"image"`
	Available   bool   `json:"available"`
}

type View struct {
	UserID     uuid.UUID       `json:"user_id"`
	Items      []ItemView      `json:"items"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Service interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error)
	GetCartView(ctx context.Context, userID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*Cart, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) (*Cart, error)
	Drain(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, c *Cart) error) error
}

type service struct {
	repo     Repository
	products ProductReader
	locks    *userLocks
	now      func() time.Time
}

func NewService(repo Repository, products ProductReader) Service {
	return &service{
		repo:     repo,
		products: products,
		locks:    newUserLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	return s.loadOrCreate(ctx, userID)
}

func (s *service) GetCartView(ctx context.Context, userID uuid.UUID) (*View, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &View{
		UserID:     c.UserID,
		Items:      make([]ItemView, 0, len(c.Items)),
		TotalItems: c.TotalItems,
		TotalPrice: c.TotalPrice,
		UpdatedAt:  c.UpdatedAt,
	}
	for _, item := range c.Items {
		line := ItemView{Item: item}
		p, err := s.products.FindByID(ctx, item.ProductID)
		switch {
		case err == nil:
			line.ProductName = p.Name
			line.Image = p.MainImage()
			line.Available = p.Stock >= item.Quantity
		case errors.Is(err, product.ErrProductNotFound):
			log.Warn().Stringer("product_id", item.ProductID).Stringer("user_id", userID).Msg("service: cart references a missing product")
		default:
			log.Error().Err(err).Stringer("product_id", item.ProductID).Msg("service: failed to load product for cart view")
			return nil, apperr.Storage("failed to load cart", err)
		}
		view.Items = append(view.Items, line)
	}
	return view, nil
}

func (s *service) AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (c *Cart, err error) {
	ctx, span := tracer.Start(ctx, "cart.AddItem", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("product.id", input.ProductID.String()),
		attribute.Int("quantity", input.Quantity),
	))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if input.Quantity == 0 {
		input.Quantity = 1
	}
	if input.Quantity < 0 {
		return nil, apperr.Validation("quantity must be at least 1")
	}
	if input.Size == "" {
		return nil, apperr.Validation("size is required")
	}
	if input.ProductID == uuid.Nil {
		return nil, apperr.Validation("product id is required")
	}

	p, err := s.products.FindByID(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrProductNotFound) {
			log.Warn().Stringer("product_id", input.ProductID).Msg("service: add to cart for unknown product")
			return nil, apperr.NotFound("product %s not found", input.ProductID)
		}
		log.Error().Err(err).Stringer("product_id", input.ProductID).Msg("service: failed to load product for cart")
		return nil, apperr.Storage("failed to add item to cart", err)
	}
	if !p.HasSize(input.Size) {
		return nil, apperr.Validation("size %s is not available for %s", input.Size, p.Name)
	}
	if p.Stock < input.Quantity {
		return nil, &apperr.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Available:   p.Stock,
			Requested:   input.Quantity,
		}
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	c, err = s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if idx := c.indexOfLine(p.ID, input.Size, input.Customization); idx >= 0 {
		c.Items[idx].Quantity += input.Quantity
	} else {
		itemID, err := uuid.NewV4()
		if err != nil {
			return nil, apperr.Storage("failed to add item to cart", err)
		}
		customization := input.Customization
		if len(customization) == 0 {
			customization = emptyCustomization
		}
		c.Items = append(c.Items, Item{
			ID:            itemID,
			ProductID:     p.ID,
			Quantity:      input.Quantity,
			Size:          input.Size,
			Customization: customization,
			Price:         p.EffectivePrice(),
			AddedAt:       now,
		})
	}
	c.recalculate(now)

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}

	log.Info().Stringer("user_id", userID).Stringer("product_id", p.ID).Int("quantity", input.Quantity).Msg("service: item added to cart")
	return c, nil
}

func (s *service) UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (c *Cart, err error) {
	ctx, span := tracer.Start(ctx, "cart.UpdateItemQuantity")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if quantity < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	c, err = s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	idx := c.indexOf(itemID)
	if idx < 0 {
		return nil, apperr.NotFound("item %s not found in cart", itemID)
	}
	item := &c.Items[idx]

	p, err := s.products.FindByID(ctx, item.ProductID)
	if err != nil && !errors.Is(err, product.ErrProductNotFound) {
		log.Error().Err(err).Stringer("product_id", item.ProductID).Msg("service: failed to load product for quantity update")
		return nil, apperr.Storage("failed to update cart", err)
	}
	if p == nil || p.Stock < quantity {
		stockErr := &apperr.InsufficientStockError{ProductID: item.ProductID, Requested: quantity}
		if p != nil {
			stockErr.ProductName = p.Name
			stockErr.Available = p.Stock
		}
		return nil, stockErr
	}

	item.Quantity = quantity
	c.recalculate(s.now())

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*Cart, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	c, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	idx := c.indexOf(itemID)
	if idx < 0 {
		return nil, apperr.NotFound("item %s not found in cart", itemID)
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.recalculate(s.now())

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	c, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.Items = []Item{}
	c.recalculate(s.now())

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Drain runs fn against the user's cart while holding the user's cart lock
// and empties the cart once fn succeeds. A missing cart is passed to fn as an
// empty one. If fn fails the cart is left untouched and fn's error returned.
func (s *service) Drain(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, c *Cart) error) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	c, err := s.repo.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrCartNotFound) {
			log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to load cart for checkout")
			return apperr.Storage("failed to load cart", err)
		}
		c = newCart(userID, s.now())
	}
	c.recalculate(c.UpdatedAt)

	if err := fn(ctx, c.clone()); err != nil {
		return err
	}

	c.Items = []Item{}
	c.recalculate(s.now())
	return s.save(ctx, c)
}

func (s *service) load(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, ErrCartNotFound
		}
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to load cart")
		return nil, apperr.Storage("failed to load cart", err)
	}
	return c, nil
}

func (s *service) loadOrCreate(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.load(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, err
	}

	c = newCart(userID, s.now())
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	log.Debug().Stringer("user_id", userID).Msg("service: cart created")
	return c, nil
}

func (s *service) save(ctx context.Context, c *Cart) error {
	if err := s.repo.Save(ctx, c); err != nil {
		log.Error().Err(err).Stringer("user_id", c.UserID).Msg("service: failed to save cart")
		return apperr.Storage("failed to save cart", err)
	}
	return nil
}
