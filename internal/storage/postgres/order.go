package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/payment"
)

const (
	orderColumns = `id::text, code, user_id, items, shipping_address,
		subtotal, shipping_charge, shipping_discount, discount, total,
		payment_method, payment_status, status, previous_status, coupon_ids,
		cancel_reason, cancel_description, cancel_requested_at, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (
		id, code, user_id, items, shipping_address,
		subtotal, shipping_charge, shipping_discount, discount, total,
		payment_method, payment_status, status, previous_status, coupon_ids,
		created_at, updated_at
	) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1::uuid`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	getOrderByCodeForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE code = $1 FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	updateOrderSQL = `UPDATE orders SET
		status = $2, previous_status = $3, payment_status = $4,
		cancel_reason = $5, cancel_description = $6, cancel_requested_at = $7,
		updated_at = $8
		WHERE id = $1::uuid`
)

const ordersCodeKey = "orders_code_key"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items and the shipping address are stored as JSONB.
type OrderRepository struct {
	db DBTX
}

// Create inserts a new order. A clash on the order code maps to
// order.ErrDuplicateCode.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	addrJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}
	couponIDs := o.CouponIDs
	if couponIDs == nil {
		couponIDs = []string{}
	}

	_, err = r.db.Exec(ctx, createOrderSQL,
		o.ID, o.Code, o.UserID, itemsJSON, addrJSON,
		o.Subtotal, o.ShippingCharge, o.ShippingDiscount, o.Discount, o.Total,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status), string(o.PreviousStatus), couponIDs,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, ordersCodeKey) {
			return order.ErrDuplicateCode.With("code", o.Code)
		}
		return errors.Wrapf(err, "insert order %q", o.Code)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, id, "orderId")
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUpdateSQL, id, "orderId")
}

func (r *OrderRepository) GetByCodeForUpdate(ctx context.Context, code string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByCodeForUpdateSQL, code, "orderCode")
}

func (r *OrderRepository) getOne(ctx context.Context, query, key, detail string) (*order.Order, error) {
	if detail == "orderId" && !isUUID(key) {
		return nil, order.ErrNotFound.With(detail, key)
	}
	rows, err := r.db.Query(ctx, query, key)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound.With(detail, key)
		}
		return nil, errors.Wrap(err, "get order")
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Update writes the mutable lifecycle fields of an order.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	var (
		reason, description *string
		requestedAt         *time.Time
	)
	if c := o.Cancellation; c != nil {
		reason, description, requestedAt = &c.Reason, &c.Description, &c.RequestedAt
	}

	tag, err := r.db.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), string(o.PreviousStatus), string(o.PaymentStatus),
		reason, description, requestedAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound.With("orderId", o.ID)
	}
	return nil
}

// isUUID guards the ::uuid casts so malformed ids read as not found instead
// of failing the transaction.
func isUUID(s string) bool {
	return uuid.Validate(s) == nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                   order.Order
		itemsJSON, addrJSON []byte
		method, payStatus   string
		status, previous    string
		reason, description *string
		requestedAt         *time.Time
	)
	if err := row.Scan(
		&o.ID, &o.Code, &o.UserID, &itemsJSON, &addrJSON,
		&o.Subtotal, &o.ShippingCharge, &o.ShippingDiscount, &o.Discount, &o.Total,
		&method, &payStatus, &status, &previous, &o.CouponIDs,
		&reason, &description, &requestedAt, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal order items")
	}
	if err := json.Unmarshal(addrJSON, &o.ShippingAddress); err != nil {
		return o, errors.Wrap(err, "unmarshal shipping address")
	}

	o.PaymentMethod = payment.Method(method)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.Status = order.Status(status)
	o.PreviousStatus = order.Status(previous)
	if reason != nil {
		o.Cancellation = &order.Cancellation{Reason: *reason}
		if description != nil {
			o.Cancellation.Description = *description
		}
		if requestedAt != nil {
			o.Cancellation.RequestedAt = *requestedAt
		}
	}
	return o, nil
}
