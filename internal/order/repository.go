package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]Order, error)
	// UpdateOrderStatus persists the lifecycle fields of order only if the
	// stored status still equals from.
	UpdateOrderStatus(ctx context.Context, order *Order, from Status) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
}

type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresRepository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, user_id, status, shipping_address, payment_method, payment_result,
	items_price, shipping_price, tax_price, total_price, tracking_number, paid_at, delivered_at, created_at, updated_at`

const itemColumns = `id, order_id, product_id, name, quantity, size, customization, image, price`

func (r *postgresRepository) CreateOrder(ctx context.Context, orderInput *Order) (err error) {
	if orderInput.ID == uuid.Nil {
		id, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		orderInput.ID = id
	}
	orderID := orderInput.ID

	address, err := json.Marshal(orderInput.ShippingAddress)
	if err != nil {
		return fmt.Errorf("repository: failed to encode shipping address: %w", err)
	}
	payment, err := json.Marshal(orderInput.PaymentMethod)
	if err != nil {
		return fmt.Errorf("repository: failed to encode payment method: %w", err)
	}
	paymentResult, err := encodePaymentResult(orderInput.PaymentResult)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id", orderID).Msg("Panic recovered during CreateOrder, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("Transaction for CreateOrder failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("Failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Stringer("order_id", orderID).Msg("Failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	now := time.Now().UTC()
	orderInput.CreatedAt = now
	orderInput.UpdatedAt = now

	queryOrder := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = tx.Exec(ctx, queryOrder,
		orderID,
		orderInput.UserID,
		string(orderInput.Status),
		json.RawMessage(address),
		json.RawMessage(payment),
		paymentResult,
		orderInput.ItemsPrice,
		orderInput.ShippingPrice,
		orderInput.TaxPrice,
		orderInput.TotalPrice,
		orderInput.TrackingNumber,
		orderInput.PaidAt,
		orderInput.DeliveredAt,
		orderInput.CreatedAt,
		orderInput.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order %s: %w", orderID, err)
	}

	queryItem := `INSERT INTO order_items (` + itemColumns + `, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for i := range orderInput.Items {
		item := &orderInput.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			err = fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			return err
		}
		item.ID = itemID
		item.OrderID = orderID

		_, err = tx.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Name,
			item.Quantity,
			item.Size,
			customizationOrEmpty(item.Customization),
			item.Image,
			item.Price,
			i,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", orderID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	orders := []Order{*order}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryOrders(ctx, query, userID)
}

func (r *postgresRepository) ListOrders(ctx context.Context, limit, offset int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	return r.queryOrders(ctx, query, limit, offset)
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, order *Order, from Status) error {
	paymentResult, err := encodePaymentResult(order.PaymentResult)
	if err != nil {
		return err
	}
	order.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE orders
		SET status = $1, payment_result = $2, tracking_number = $3, paid_at = $4, delivered_at = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`
	cmdTag, err := r.db.Exec(ctx, query,
		string(order.Status),
		paymentResult,
		order.TrackingNumber,
		order.PaidAt,
		order.DeliveredAt,
		order.UpdatedAt,
		order.ID,
		string(from),
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", order.ID).Stringer("new_status", order.Status).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", order.ID, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check order %s: %w", order.ID, err)
	}
	if !exists {
		log.Warn().Stringer("order_id", order.ID).Msg("repository: order not found for status update")
		return ErrOrderNotFound
	}
	return ErrStatusConflict
}

func (r *postgresRepository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	// order_items rows go with the order through ON DELETE CASCADE.
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the items of every order in one query.
func (r *postgresRepository) attachItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i := range orders {
		orders[i].Items = make([]Item, 0)
		ids = append(ids, orders[i].ID.String())
		index[orders[i].ID] = i
	}

	query := `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item          Item
			customization []byte
		)
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.Quantity,
			&item.Size,
			&customization,
			&item.Image,
			&item.Price,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		item.Customization = json.RawMessage(customization)

		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order                           Order
		address, payment, paymentResult []byte
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&address,
		&payment,
		&paymentResult,
		&order.ItemsPrice,
		&order.ShippingPrice,
		&order.TaxPrice,
		&order.TotalPrice,
		&order.TrackingNumber,
		&order.PaidAt,
		&order.DeliveredAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(payment, &order.PaymentMethod); err != nil {
		return nil, fmt.Errorf("decode payment method: %w", err)
	}
	if len(paymentResult) > 0 {
		order.PaymentResult = &PaymentResult{}
		if err := json.Unmarshal(paymentResult, order.PaymentResult); err != nil {
			return nil, fmt.Errorf("decode payment result: %w", err)
		}
	}
	return &order, nil
}

func encodePaymentResult(result *PaymentResult) (any, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to encode payment result: %w", err)
	}
	return json.RawMessage(data), nil
}

func customizationOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
