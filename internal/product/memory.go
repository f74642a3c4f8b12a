package product

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// MemoryRepository keeps the catalog in process. A single mutex guards every
// stock mutation, which gives the same conditional-decrement guarantee as the
// SQL statement.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*Product
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{products: make(map[uuid.UUID]*Product)}
}

func (r *MemoryRepository) Create(_ context.Context, p *Product) error {
	if p.Stock < 0 {
		return ErrInvalidQuantity
	}
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate product ID: %w", err)
		}
		p.ID = id
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	if p.Sizes == nil {
		p.Sizes = []string{}
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[p.ID]; ok {
		return fmt.Errorf("repository: product %s already exists", p.ID)
	}
	r.products[p.ID] = p.clone()
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return p.clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]Product, error) {
	r.mu.RLock()
	all := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		all = append(all, *p.clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []Product{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *MemoryRepository) SetStock(_ context.Context, id uuid.UUID, stock int) error {
	if stock < 0 {
		return ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) DecrementStock(_ context.Context, id uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	if p.Stock < qty {
		return ErrInsufficientStock
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) IncrementStock(_ context.Context, id uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Update replaces catalog fields. Stock is left alone: it only moves through
// the ledger methods.
func (r *MemoryRepository) Update(_ context.Context, p *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.products[p.ID]
	if !ok {
		return ErrProductNotFound
	}
	p.UpdatedAt = time.Now().UTC()

	updated := p.clone()
	updated.Stock = stored.Stock
	updated.CreatedAt = stored.CreatedAt
	r.products[p.ID] = updated
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}
