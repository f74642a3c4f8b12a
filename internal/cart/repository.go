package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
)

var ErrCartNotFound = &apperr.Error{Kind: apperr.ErrNotFound, Message: "cart not found"}

// Repository persists one cart document per user.
type Repository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}

type redisRepository struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisRepository stores carts as JSON under <prefix>:cart:<userID>.
// A zero ttl keeps carts until they are overwritten.
func NewRedisRepository(client redis.Cmdable, prefix string, ttl time.Duration) Repository {
	return &redisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisRepository) key(userID uuid.UUID) string {
	return fmt.Sprintf("%s:cart:%s", r.prefix, userID)
}

func (r *redisRepository) Get(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("repository: failed to get cart for user %s: %w", userID, err)
	}

	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("repository: failed to decode cart for user %s: %w", userID, err)
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	return &c, nil
}

func (r *redisRepository) Save(ctx context.Context, c *Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("repository: failed to encode cart for user %s: %w", c.UserID, err)
	}

	if err := r.client.Set(ctx, r.key(c.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("repository: failed to save cart for user %s: %w", c.UserID, err)
	}
	return nil
}

type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[uuid.UUID]*Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[uuid.UUID]*Cart)}
}

func (r *MemoryRepository) Get(_ context.Context, userID uuid.UUID) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return c.clone(), nil
}

func (r *MemoryRepository) Save(_ context.Context, c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[c.UserID] = c.clone()
	return nil
}
