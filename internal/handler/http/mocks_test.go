package http_test

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/product"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) GetCartView(ctx context.Context, userID uuid.UUID) (*cart.View, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.View), args.Error(1)
}

func (m *MockCartService) AddItem(ctx context.Context, userID uuid.UUID, input cart.AddItemInput) (*cart.Cart, error) {
	args := m.Called(ctx, userID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*cart.Cart, error) {
	args := m.Called(ctx, userID, itemID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, userID, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) Clear(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) Drain(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, c *cart.Cart) error) error {
	args := m.Called(ctx, userID, fn)
	return args.Error(0)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) orderResult(args mock.Arguments) (*order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) CreateOrder(ctx context.Context, orderInput *order.Order) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, orderInput))
}

func (m *MockOrderService) DiscardOrder(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, caller auth.Identity, id uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, caller, id))
}

func (m *MockOrderService) ListMyOrders(ctx context.Context, caller auth.Identity) ([]order.Order, error) {
	args := m.Called(ctx, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, caller auth.Identity, limit, offset int) ([]order.Order, error) {
	args := m.Called(ctx, caller, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) PayOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, result order.PaymentResult) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, caller, id, result))
}

func (m *MockOrderService) ShipOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, trackingNumber string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, caller, id, trackingNumber))
}

func (m *MockOrderService) DeliverOrder(ctx context.Context, caller auth.Identity, id uuid.UUID, trackingNumber string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, caller, id, trackingNumber))
}

func (m *MockOrderService) CancelOrder(ctx context.Context, caller auth.Identity, id uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, caller, id))
}

type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) PlaceOrder(ctx context.Context, caller auth.Identity, in checkout.Input) (*order.Order, error) {
	args := m.Called(ctx, caller, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockProductService struct {
	mock.Mock
}

func (m *MockProductService) productResult(args mock.Arguments) (*product.Product, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductService) CreateProduct(ctx context.Context, caller auth.Identity, p *product.Product) (*product.Product, error) {
	return m.productResult(m.Called(ctx, caller, p))
}

func (m *MockProductService) UpdateProduct(ctx context.Context, caller auth.Identity, p *product.Product) (*product.Product, error) {
	return m.productResult(m.Called(ctx, caller, p))
}

func (m *MockProductService) GetProduct(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	return m.productResult(m.Called(ctx, id))
}

func (m *MockProductService) ListProducts(ctx context.Context, limit, offset int) ([]product.Product, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]product.Product), args.Error(1)
}

func (m *MockProductService) SetStock(ctx context.Context, caller auth.Identity, id uuid.UUID, stock int) (*product.Product, error) {
	return m.productResult(m.Called(ctx, caller, id, stock))
}

func (m *MockProductService) DeleteProduct(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	args := m.Called(ctx, caller, id)
	return args.Error(0)
}
