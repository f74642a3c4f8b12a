package checkout_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/events"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/product"
)

// flakyLedger fails DecrementStock for one product and, when incErr is set,
// every IncrementStock. It counts decrement attempts.
type flakyLedger struct {
	*product.MemoryRepository
	failOn     uuid.UUID
	err        error
	incErr     error
	decrements atomic.Int32
}

func (l *flakyLedger) IncrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	if l.incErr != nil {
		return l.incErr
	}
	return l.MemoryRepository.IncrementStock(ctx, id, qty)
}

func (l *flakyLedger) DecrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	l.decrements.Add(1)
	if id == l.failOn {
		return l.err
	}
	return l.MemoryRepository.DecrementStock(ctx, id, qty)
}

type flakyCarts struct {
	cart.Repository
	mu      sync.Mutex
	saveErr error
}

func (r *flakyCarts) Save(ctx context.Context, c *cart.Cart) error {
	r.mu.Lock()
	err := r.saveErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Repository.Save(ctx, c)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	products  *product.MemoryRepository
	ledger    *flakyLedger
	cartRepo  *flakyCarts
	carts     cart.Service
	orderRepo *order.MemoryRepository
	orders    order.Service
	publisher *recordingPublisher
	svc       checkout.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		products:  product.NewMemoryRepository(),
		cartRepo:  &flakyCarts{Repository: cart.NewMemoryRepository()},
		orderRepo: order.NewMemoryRepository(),
		publisher: &recordingPublisher{},
	}
	f.ledger = &flakyLedger{MemoryRepository: f.products}
	f.carts = cart.NewService(f.cartRepo, f.products)
	f.orders = order.NewService(f.orderRepo, f.products, f.publisher)
	f.svc = checkout.NewService(f.carts, f.ledger, f.orders, f.publisher)
	return f
}

func (f *fixture) product(t *testing.T, name, price string, stock int) *product.Product {
	t.Helper()
	p := &product.Product{
		Name:   name,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Sizes:  []string{"40", "41"},
		Images: []string{name + "-front.png", name + "-back.png"},
	}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	p, err := f.products.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	all, err := f.orderRepo.ListOrders(context.Background(), 0, 0)
	require.NoError(t, err)
	return len(all)
}

func customer() auth.Identity {
	return auth.Identity{UserID: uuid.Must(uuid.NewV4()), Role: auth.RoleUser}
}

func validInput() checkout.Input {
	return checkout.Input{
		ShippingAddress: &order.ShippingAddress{Name: "Home", Recipient: "Ana", Address: "Rua A, 10", City: "Recife", State: "PE", ZipCode: "50000-000"},
		PaymentMethod:   &order.PaymentMethod{Type: order.PaymentCreditCard},
		ShippingPrice:   decimal.RequireFromString("2"),
		TaxPrice:        decimal.RequireFromString("1"),
	}
}

func TestPlaceOrder_ReservesStockAndEmptiesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	x := f.product(t, "X", "10.00", 5)

	_, err := f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: x.ID, Quantity: 3, Size: "40"})
	require.NoError(t, err)

	o, err := f.svc.PlaceOrder(ctx, user, validInput())
	require.NoError(t, err)

	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, user.UserID, o.UserID)
	assert.True(t, decimal.RequireFromString("30.00").Equal(o.ItemsPrice), o.ItemsPrice.String())
	assert.True(t, decimal.RequireFromString("33.00").Equal(o.TotalPrice), o.TotalPrice.String())
	require.Len(t, o.Items, 1)
	assert.Equal(t, "X", o.Items[0].Name)
	assert.Equal(t, "X-front.png", o.Items[0].Image)
	assert.Equal(t, 3, o.Items[0].Quantity)

	assert.Equal(t, 2, f.stock(t, x.ID))

	c, err := f.carts.GetCart(ctx, user.UserID)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.True(t, c.TotalPrice.IsZero())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.OrderCreated, f.publisher.events[0].Type)
	assert.Equal(t, o.ID, f.publisher.events[0].OrderID)
}

func TestPlaceOrder_InsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	y := f.product(t, "Y", "15.00", 1)

	// Stock dropped after the item was added, so seed the cart directly.
	seeded := &cart.Cart{
		UserID: user.UserID,
		Items: []cart.Item{{
			ID:        uuid.Must(uuid.NewV4()),
			ProductID: y.ID,
			Quantity:  2,
			Size:      "40",
			Price:     y.Price,
		}},
	}
	require.NoError(t, f.cartRepo.Save(ctx, seeded))

	_, err := f.svc.PlaceOrder(ctx, user, validInput())
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)

	var stockErr *apperr.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, y.ID, stockErr.ProductID)
	assert.Equal(t, "Y", stockErr.ProductName)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)

	assert.Equal(t, 1, f.stock(t, y.ID))
	assert.Zero(t, f.orderCount(t))

	c, err := f.carts.GetCart(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Empty(t, f.publisher.events)
}

func TestPlaceOrder_SameProductInTwoSizes(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		wantErr   bool
		wantStock int
	}{
		{name: "total exceeds stock", stock: 5, wantErr: true, wantStock: 5},
		{name: "total fits stock exactly", stock: 6, wantStock: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			user := customer()
			shoe := f.product(t, "Shoe", "50.00", tt.stock)

			_, err := f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: shoe.ID, Quantity: 3, Size: "40"})
			require.NoError(t, err)
			_, err = f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: shoe.ID, Quantity: 3, Size: "41"})
			require.NoError(t, err)

			placed, err := f.svc.PlaceOrder(ctx, user, validInput())
			assert.Equal(t, tt.wantStock, f.stock(t, shoe.ID))

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Len(t, placed.Items, 2)
				return
			}

			require.ErrorIs(t, err, apperr.ErrInsufficientStock)
			var stockErr *apperr.InsufficientStockError
			require.True(t, errors.As(err, &stockErr))
			assert.Equal(t, shoe.ID, stockErr.ProductID)
			assert.Equal(t, 5, stockErr.Available)
			assert.Equal(t, 6, stockErr.Requested)

			assert.Zero(t, f.ledger.decrements.Load(), "no stock may be touched before the abort")
			assert.Zero(t, f.orderCount(t))
			assert.Empty(t, f.publisher.events)
		})
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)
	user := customer()

	_, err := f.svc.PlaceOrder(context.Background(), user, validInput())
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)

	_, err = f.carts.GetCart(context.Background(), user.UserID)
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(context.Background(), user, validInput())
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)
	assert.Zero(t, f.orderCount(t))
}

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *checkout.Input)
	}{
		{name: "missing address", mutate: func(in *checkout.Input) { in.ShippingAddress = nil }},
		{name: "missing payment method", mutate: func(in *checkout.Input) { in.PaymentMethod = nil }},
		{name: "unknown payment type", mutate: func(in *checkout.Input) { in.PaymentMethod = &order.PaymentMethod{Type: "cash"} }},
		{name: "negative shipping", mutate: func(in *checkout.Input) { in.ShippingPrice = decimal.NewFromInt(-1) }},
		{name: "negative tax", mutate: func(in *checkout.Input) { in.TaxPrice = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			user := customer()
			p := f.product(t, "Z", "5.00", 3)
			_, err := f.carts.AddItem(context.Background(), user.UserID, cart.AddItemInput{ProductID: p.ID, Size: "41"})
			require.NoError(t, err)

			in := validInput()
			tt.mutate(&in)
			_, err = f.svc.PlaceOrder(context.Background(), user, in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, 3, f.stock(t, p.ID))
		})
	}
}

func TestPlaceOrder_DefaultsShippingAndTaxToZero(t *testing.T) {
	f := newFixture(t)
	user := customer()
	p := f.product(t, "Plain", "7.25", 2)
	_, err := f.carts.AddItem(context.Background(), user.UserID, cart.AddItemInput{ProductID: p.ID, Quantity: 2, Size: "40"})
	require.NoError(t, err)

	in := validInput()
	in.ShippingPrice = decimal.Decimal{}
	in.TaxPrice = decimal.Decimal{}
	o, err := f.svc.PlaceOrder(context.Background(), user, in)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("14.50").Equal(o.TotalPrice), o.TotalPrice.String())
}

func TestPlaceOrder_RollsBackWhenReservationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	first := f.product(t, "First", "10.00", 5)
	second := f.product(t, "Second", "20.00", 5)

	_, err := f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: first.ID, Quantity: 2, Size: "40"})
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: second.ID, Quantity: 1, Size: "40"})
	require.NoError(t, err)

	// Someone else took the last units between the check and the decrement.
	f.ledger.failOn = second.ID
	f.ledger.err = product.ErrInsufficientStock

	_, err = f.svc.PlaceOrder(ctx, user, validInput())
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	var stockErr *apperr.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, second.ID, stockErr.ProductID)

	assert.Equal(t, 5, f.stock(t, first.ID), "first item must be restocked")
	assert.Equal(t, 5, f.stock(t, second.ID))
	assert.Zero(t, f.orderCount(t), "order must be discarded")

	c, err := f.carts.GetCart(ctx, user.UserID)
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
}

func TestPlaceOrder_FailedRollbackIsStorageError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	first := f.product(t, "First", "10.00", 5)
	second := f.product(t, "Second", "20.00", 5)

	_, err := f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: first.ID, Quantity: 2, Size: "40"})
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: second.ID, Quantity: 1, Size: "40"})
	require.NoError(t, err)

	f.ledger.failOn = second.ID
	f.ledger.err = product.ErrInsufficientStock
	f.ledger.incErr = errors.New("connection reset")

	_, err = f.svc.PlaceOrder(ctx, user, validInput())
	require.ErrorIs(t, err, apperr.ErrStorage)
	assert.NotErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Zero(t, f.orderCount(t), "order is discarded even when restock fails")
}

func TestPlaceOrder_StorageFailureDuringReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	p := f.product(t, "Only", "10.00", 5)
	_, err := f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: p.ID, Size: "40"})
	require.NoError(t, err)

	f.ledger.failOn = p.ID
	f.ledger.err = errors.New("connection reset")

	_, err = f.svc.PlaceOrder(ctx, user, validInput())
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Zero(t, f.orderCount(t))
	assert.Equal(t, 5, f.stock(t, p.ID))
}

func TestPlaceOrder_RollsBackWhenCartCannotBeEmptied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	p := f.product(t, "Boot", "80.00", 4)
	_, err := f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: p.ID, Quantity: 2, Size: "41"})
	require.NoError(t, err)

	f.cartRepo.saveErr = errors.New("redis down")

	_, err = f.svc.PlaceOrder(ctx, user, validInput())
	require.ErrorIs(t, err, apperr.ErrStorage)

	assert.Equal(t, 4, f.stock(t, p.ID))
	assert.Zero(t, f.orderCount(t))
	assert.Empty(t, f.publisher.events)

	f.cartRepo.saveErr = nil
	c, err := f.carts.GetCart(ctx, user.UserID)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestPlaceOrder_VanishedProductIsInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	ghost := uuid.Must(uuid.NewV4())

	require.NoError(t, f.cartRepo.Save(ctx, &cart.Cart{
		UserID: user.UserID,
		Items:  []cart.Item{{ID: uuid.Must(uuid.NewV4()), ProductID: ghost, Quantity: 1, Size: "40", Price: decimal.NewFromInt(5)}},
	}))

	_, err := f.svc.PlaceOrder(ctx, user, validInput())
	var stockErr *apperr.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, ghost, stockErr.ProductID)
	assert.Zero(t, stockErr.Available)
}

func TestPlaceOrder_SnapshotIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	p := f.product(t, "Classic", "100.00", 3)

	custom, err := cart.ParseCustomization([]byte(`{"sole": "gum", "accent": "navy"}`))
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: p.ID, Size: "40", Customization: custom})
	require.NoError(t, err)

	o, err := f.svc.PlaceOrder(ctx, user, validInput())
	require.NoError(t, err)

	changed, err := f.products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	changed.Name = "Classic Reloaded"
	changed.Price = decimal.RequireFromString("150.00")
	require.NoError(t, f.products.Update(ctx, changed))

	stored, err := f.orderRepo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Classic", stored.Items[0].Name)
	assert.True(t, decimal.RequireFromString("100.00").Equal(stored.Items[0].Price))
	assert.Equal(t, `{"sole":"gum","accent":"navy"}`, string(stored.Items[0].Customization))
}

func TestPlaceOrder_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Limited", "50.00", 10)

	const buyers = 30
	users := make([]auth.Identity, buyers)
	for i := range users {
		users[i] = customer()
		_, err := f.carts.AddItem(ctx, users[i].UserID, cart.AddItemInput{ProductID: p.ID, Size: "40"})
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for _, user := range users {
		wg.Add(1)
		go func(user auth.Identity) {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(ctx, user, validInput())
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
		}(user)
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, 0, f.stock(t, p.ID))
	assert.Equal(t, 10, f.orderCount(t))
}

func TestPlaceOrder_ThenCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := customer()
	p := f.product(t, "Loafer", "60.00", 4)
	_, err := f.carts.AddItem(ctx, user.UserID, cart.AddItemInput{ProductID: p.ID, Quantity: 3, Size: "41"})
	require.NoError(t, err)

	o, err := f.svc.PlaceOrder(ctx, user, validInput())
	require.NoError(t, err)
	assert.Equal(t, 1, f.stock(t, p.ID))

	orders := order.NewService(f.orderRepo, f.products, f.publisher)
	cancelled, err := orders.CancelOrder(ctx, user, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 4, f.stock(t, p.ID))
}
