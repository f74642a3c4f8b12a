package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[uuid.UUID]*Order)}
}

func (r *MemoryRepository) CreateOrder(_ context.Context, order *Order) error {
	if order.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		order.ID = id
	}
	for i := range order.Items {
		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		order.Items[i].ID = itemID
		order.Items[i].OrderID = order.ID
		order.Items[i].Customization = customizationOrEmpty(order.Items[i].Customization)
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("repository: order %s already exists", order.ID)
	}
	r.orders[order.ID] = order.clone()
	return nil
}

func (r *MemoryRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.clone(), nil
}

func (r *MemoryRepository) GetOrdersByUserID(_ context.Context, userID uuid.UUID) ([]Order, error) {
	return r.collect(func(o *Order) bool { return o.UserID == userID }, 0, 0), nil
}

func (r *MemoryRepository) ListOrders(_ context.Context, limit, offset int) ([]Order, error) {
	return r.collect(func(*Order) bool { return true }, limit, offset), nil
}

func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, order *Order, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Status != from {
		return ErrStatusConflict
	}

	order.UpdatedAt = time.Now().UTC()
	updated := order.clone()
	updated.Items = stored.Items
	updated.CreatedAt = stored.CreatedAt
	r.orders[order.ID] = updated
	return nil
}

func (r *MemoryRepository) DeleteOrder(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *MemoryRepository) collect(match func(*Order) bool, limit, offset int) []Order {
	r.mu.RLock()
	out := make([]Order, 0)
	for _, o := range r.orders {
		if match(o) {
			out = append(out, *o.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []Order{}
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end]
}
