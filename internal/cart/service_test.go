package cart_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/product"
)

type fixture struct {
	svc      cart.Service
	carts    *cart.MemoryRepository
	products *product.MemoryRepository
	user     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	carts := cart.NewMemoryRepository()
	products := product.NewMemoryRepository()
	return &fixture{
		svc:      cart.NewService(carts, products),
		carts:    carts,
		products: products,
		user:     uuid.Must(uuid.NewV4()),
	}
}

func (f *fixture) product(t *testing.T, price string, stock int) *product.Product {
	t.Helper()
	p := &product.Product{
		Name:   "Sneaker " + price,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Sizes:  []string{"39", "40", "41"},
		Images: []string{"main.png", "side.png"},
	}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

func customization(t *testing.T, raw string) cart.Customization {
	t.Helper()
	c, err := cart.ParseCustomization([]byte(raw))
	require.NoError(t, err)
	return c
}

func TestCartService_GetCart_CreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetCart(ctx, f.user)
	require.NoError(t, err)
	assert.Empty(t, first.Items)
	assert.True(t, first.TotalPrice.IsZero())

	second, err := f.svc.GetCart(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestCartService_AddItem_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "10.00", 3)

	tests := []struct {
		name     string
		input    cart.AddItemInput
		wantKind error
	}{
		{name: "missing size", input: cart.AddItemInput{ProductID: p.ID, Quantity: 1}, wantKind: apperr.ErrValidation},
		{name: "unknown size", input: cart.AddItemInput{ProductID: p.ID, Quantity: 1, Size: "45"}, wantKind: apperr.ErrValidation},
		{name: "negative quantity", input: cart.AddItemInput{ProductID: p.ID, Quantity: -2, Size: "40"}, wantKind: apperr.ErrValidation},
		{name: "unknown product", input: cart.AddItemInput{ProductID: uuid.Must(uuid.NewV4()), Quantity: 1, Size: "40"}, wantKind: apperr.ErrNotFound},
		{name: "more than stock", input: cart.AddItemInput{ProductID: p.ID, Quantity: 4, Size: "40"}, wantKind: apperr.ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := f.svc.AddItem(context.Background(), f.user, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Nil(t, c)
		})
	}

	var stockErr *apperr.InsufficientStockError
	_, err := f.svc.AddItem(context.Background(), f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 4, Size: "40"})
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, p.ID, stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 4, stockErr.Requested)
}

func TestCartService_AddItem_DefaultsQuantityAndCapturesPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := &product.Product{
		Name:          "Discounted",
		Price:         decimal.RequireFromString("200.00"),
		DiscountPrice: decimal.NewNullDecimal(decimal.RequireFromString("150.00")),
		Stock:         5,
		Sizes:         []string{"40"},
	}
	require.NoError(t, f.products.Create(ctx, p))

	c, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Size: "40"})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 1, c.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("150.00").Equal(c.Items[0].Price))
	assert.True(t, c.Items[0].Customization.IsEmpty())

	// A later price change does not reprice the existing line.
	p.DiscountPrice = decimal.NullDecimal{}
	require.NoError(t, f.products.Update(ctx, p))

	c, err = f.svc.GetCart(ctx, f.user)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("150.00").Equal(c.TotalPrice))
}

func TestCartService_AddItem_MergesSameLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", 10)

	custom := `{"colors":{"laces":"white"}}`
	_, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 2, Size: "40", Customization: customization(t, custom)})
	require.NoError(t, err)
	c, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 2, Size: "40", Customization: customization(t, `{ "colors": { "laces": "white" } }`)})
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assert.Equal(t, 4, c.TotalItems)
	assert.True(t, decimal.RequireFromString("40.00").Equal(c.TotalPrice))
}

func TestCartService_AddItem_NullAndEmptyCustomizationMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", 10)

	_, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 1, Size: "40"})
	require.NoError(t, err)
	c, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 1, Size: "40", Customization: customization(t, "{}")})
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
}

func TestCartService_AddItem_DistinctLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", 10)

	inputs := []cart.AddItemInput{
		{ProductID: p.ID, Quantity: 1, Size: "40"},
		{ProductID: p.ID, Quantity: 1, Size: "41"},
		{ProductID: p.ID, Quantity: 1, Size: "40", Customization: customization(t, `{"colors":{"sole":"red"}}`)},
	}
	var (
		c   *cart.Cart
		err error
	)
	for _, in := range inputs {
		c, err = f.svc.AddItem(ctx, f.user, in)
		require.NoError(t, err)
	}

	assert.Len(t, c.Items, 3)
	assert.Equal(t, 3, c.TotalItems)
}

func TestCartService_UpdateItemQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "25.00", 5)

	c, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 1, Size: "40"})
	require.NoError(t, err)
	itemID := c.Items[0].ID

	c, err = f.svc.UpdateItemQuantity(ctx, f.user, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("100.00").Equal(c.TotalPrice))

	_, err = f.svc.UpdateItemQuantity(ctx, f.user, itemID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.UpdateItemQuantity(ctx, f.user, itemID, 6)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	_, err = f.svc.UpdateItemQuantity(ctx, f.user, uuid.Must(uuid.NewV4()), 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.UpdateItemQuantity(ctx, uuid.Must(uuid.NewV4()), itemID, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	c, err = f.svc.GetCart(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Items[0].Quantity, "failed updates must not change the cart")
}

func TestCartService_RemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.product(t, "10.00", 5)
	b := f.product(t, "7.50", 5)

	_, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: a.ID, Quantity: 2, Size: "40"})
	require.NoError(t, err)
	c, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: b.ID, Quantity: 2, Size: "40"})
	require.NoError(t, err)
	require.Len(t, c.Items, 2)

	c, err = f.svc.RemoveItem(ctx, f.user, c.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.True(t, decimal.RequireFromString("15.00").Equal(c.TotalPrice))

	c, err = f.svc.RemoveItem(ctx, f.user, c.Items[0].ID)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.Equal(t, 0, c.TotalItems)
	assert.True(t, c.TotalPrice.IsZero())

	_, err = f.svc.RemoveItem(ctx, f.user, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.RemoveItem(ctx, uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCartService_Clear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", 5)

	_, err := f.svc.Clear(ctx, f.user)
	require.ErrorIs(t, err, apperr.ErrNotFound, "no cart record yet")

	_, err = f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 2, Size: "40"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		c, err := f.svc.Clear(ctx, f.user)
		require.NoError(t, err)
		assert.Empty(t, c.Items)
		assert.True(t, c.TotalPrice.IsZero())
	}
}

func TestCartService_GetCartView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "10.00", 5)

	_, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 2, Size: "40"})
	require.NoError(t, err)

	view, err := f.svc.GetCartView(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, p.Name, view.Items[0].ProductName)
	assert.Equal(t, "main.png", view.Items[0].Image)
	assert.True(t, view.Items[0].Available)
	assert.Equal(t, 2, view.TotalItems)
}

func TestCartService_TotalsStayConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.product(t, "19.99", 50)
	b := f.product(t, "0.01", 50)

	_, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: a.ID, Quantity: 3, Size: "39"})
	require.NoError(t, err)
	c, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: b.ID, Quantity: 7, Size: "41"})
	require.NoError(t, err)
	c, err = f.svc.UpdateItemQuantity(ctx, f.user, c.Items[0].ID, 5)
	require.NoError(t, err)
	c, err = f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: b.ID, Quantity: 2, Size: "41"})
	require.NoError(t, err)

	expectedCount, expectedTotal := cart.Totals(c.Items)
	assert.Equal(t, expectedCount, c.TotalItems)
	assert.True(t, expectedTotal.Equal(c.TotalPrice))
	assert.True(t, decimal.RequireFromString("100.04").Equal(c.TotalPrice), "got %s", c.TotalPrice)
}

func TestCartService_ConcurrentAddsForOneUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "1.00", 100)

	const adds = 25
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(ctx, f.user, cart.AddItemInput{ProductID: p.ID, Quantity: 1, Size: "40"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := f.svc.GetCart(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, adds, c.Items[0].Quantity)
}

type failingSaveRepository struct {
	cart.Repository
	err error
}

func (r *failingSaveRepository) Save(ctx context.Context, c *cart.Cart) error {
	if r.err != nil {
		return r.err
	}
	return r.Repository.Save(ctx, c)
}

func TestCartService_Drain(t *testing.T) {
	ctx := context.Background()
	carts := cart.NewMemoryRepository()
	products := product.NewMemoryRepository()
	repo := &failingSaveRepository{Repository: carts}
	svc := cart.NewService(repo, products)
	user := uuid.Must(uuid.NewV4())

	p := &product.Product{Name: "Boot", Price: decimal.RequireFromString("80.00"), Stock: 4, Sizes: []string{"42"}}
	require.NoError(t, products.Create(ctx, p))
	_, err := svc.AddItem(ctx, user, cart.AddItemInput{ProductID: p.ID, Quantity: 2, Size: "42"})
	require.NoError(t, err)

	t.Run("callback failure keeps the cart", func(t *testing.T) {
		boom := errors.New("boom")
		err := svc.Drain(ctx, user, func(_ context.Context, c *cart.Cart) error {
			assert.Len(t, c.Items, 1)
			return boom
		})
		require.ErrorIs(t, err, boom)

		c, err := svc.GetCart(ctx, user)
		require.NoError(t, err)
		assert.Len(t, c.Items, 1)
	})

	t.Run("save failure is a storage error and keeps the cart", func(t *testing.T) {
		repo.err = errors.New("redis down")
		defer func() { repo.err = nil }()

		err := svc.Drain(ctx, user, func(context.Context, *cart.Cart) error { return nil })
		require.ErrorIs(t, err, apperr.ErrStorage)

		c, err := carts.Get(ctx, user)
		require.NoError(t, err)
		assert.Len(t, c.Items, 1)
	})

	t.Run("success empties the cart", func(t *testing.T) {
		var seen int
		err := svc.Drain(ctx, user, func(_ context.Context, c *cart.Cart) error {
			seen = c.TotalItems
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, seen)

		c, err := svc.GetCart(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, c.Items)
	})

	t.Run("missing cart is passed as empty", func(t *testing.T) {
		stranger := uuid.Must(uuid.NewV4())
		err := svc.Drain(ctx, stranger, func(_ context.Context, c *cart.Cart) error {
			assert.True(t, c.IsEmpty())
			assert.Equal(t, stranger, c.UserID)
			return apperr.EmptyCart()
		})
		assert.ErrorIs(t, err, apperr.ErrEmptyCart)
	})
}
