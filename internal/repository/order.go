package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/outbox"
)

const (
	orderColumns = `id, user_id, items, shipping_address, contact_email, total_amount,
		discount_amount, coupon_code, status, payment_status, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	getOrderByIDSQL     = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING payment_status`

	updatePaymentStatusSQL = `UPDATE orders SET payment_status = $3,
		status = CASE WHEN $5::text <> '' AND status = $4::text THEN $5::text ELSE status END,
		updated_at = $6
		WHERE id = $1 AND payment_status = $2
		RETURNING status`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// write records its outbox event in the same transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists o together with its order.created event.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, itemsJSON, addressJSON, o.ContactEmail, o.TotalAmount,
			o.DiscountAmount, o.CouponCode, string(o.Status), string(o.PaymentStatus), o.CreatedAt,
		); err != nil {
			return err
		}
		return insertEvent(ctx, tx, outbox.OrderCreated(o))
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with the given ID, or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}
	return orders, nil
}

// UpdateStatus moves the order from one status to the next. It returns
// order.ErrStaleStatus if the order is no longer in from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, next order.Status) error {
	now := time.Now()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var payment string
		err := tx.QueryRow(ctx, updateOrderStatusSQL, id, string(from), string(next), now).Scan(&payment)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missOrStale(ctx, tx, id)
			}
			return err
		}
		return insertEvent(ctx, tx, outbox.OrderStatusChanged(id, next, order.PaymentStatus(payment), now))
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrStaleStatus) {
			return err
		}
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	return nil
}

// UpdatePaymentStatus records a payment outcome, optionally advancing the
// order status in the same statement.
func (r *OrderRepository) UpdatePaymentStatus(
	ctx context.Context,
	id string,
	from, next order.PaymentStatus,
	statusFrom, statusNext order.Status,
) error {
	now := time.Now()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, updatePaymentStatusSQL,
			id, string(from), string(next), string(statusFrom), string(statusNext), now,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missOrStale(ctx, tx, id)
			}
			return err
		}
		return insertEvent(ctx, tx, outbox.OrderStatusChanged(id, order.Status(status), next, now))
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrStaleStatus) {
			return err
		}
		return fmt.Errorf("updating payment status of order %q: %w", id, err)
	}
	return nil
}

func (r *OrderRepository) missOrStale(ctx context.Context, q execer, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStaleStatus
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		itemsJSON     []byte
		addressJSON   []byte
		status        string
		paymentStatus string
	)
	if err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &addressJSON, &o.ContactEmail, &o.TotalAmount,
		&o.DiscountAmount, &o.CouponCode, &status, &paymentStatus, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, nil
}
