package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

const orderColumns = "id, user_id, book_id, seller_id, amount, status, stripe_session_id, created_at, updated_at"

type OrderRepo struct {
	db *sqlx.DB
}

func NewOrderRepo(db *sqlx.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

// Insert writes a new order and fills in the server-assigned timestamps.
func (r *OrderRepo) Insert(ctx context.Context, o *models.Order) error {
	err := r.db.QueryRowxContext(ctx,
		"INSERT INTO orders (id, user_id, book_id, seller_id, amount, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at",
		o.ID, o.BuyerID, o.BookID, o.SellerID, o.Amount, o.Status,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	return models.Persistence(err, "failed to insert order")
}

// DeletePending removes an order that never progressed past pending.
func (r *OrderRepo) DeletePending(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1 AND status = $2", id, models.OrderStatusPending)
	if err != nil {
		return models.Persistence(err, "failed to delete order")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("pending order %s not found", id)
	}
	return nil
}

func (r *OrderRepo) FindByID(ctx context.Context, id string) (*models.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *OrderRepo) FindBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE stripe_session_id = $1", sessionID)
}

func (r *OrderRepo) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var o models.Order
	if err := r.db.GetContext(ctx, &o, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("order %v not found", arg)
		}
		return nil, models.Persistence(err, "failed to load order")
	}
	return &o, nil
}

// UpdateStatusIf moves the order to `to` only while it is still in `from`.
// ok is false when nothing matched: the order is missing or its status moved.
func (r *OrderRepo) UpdateStatusIf(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, bool, error) {
	var o models.Order
	err := r.db.GetContext(ctx, &o,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3 RETURNING "+orderColumns,
		to, id, from,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, models.Persistence(err, "failed to update order status")
	}
	return &o, true, nil
}

// AttachSession links a checkout session to the order. Re-attaching the same
// session is a no-op; an order linked to a different session is left alone.
func (r *OrderRepo) AttachSession(ctx context.Context, id, sessionID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET stripe_session_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND (stripe_session_id IS NULL OR stripe_session_id = $1)",
		sessionID, id,
	)
	if err != nil {
		return models.Persistence(err, "failed to attach payment session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("order %s not found or linked to another session", id)
	}
	return nil
}

func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", buyerID)
}

func (r *OrderRepo) ListBySeller(ctx context.Context, sellerID string) ([]models.Order, error) {
	return r.list(ctx, "SELECT "+orderColumns+" FROM orders WHERE seller_id = $1 ORDER BY created_at DESC, id DESC", sellerID)
}

// ListStalePending returns pending orders created before cutoff that are
// missing their payment session or their shipping row.
func (r *OrderRepo) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	return r.list(ctx, `
SELECT `+orderColumns+` FROM orders o
WHERE o.status = $1 AND o.created_at < $2
  AND (o.stripe_session_id IS NULL OR NOT EXISTS (SELECT 1 FROM shipping_details s WHERE s.order_id = o.id))
ORDER BY o.created_at, o.id`, models.OrderStatusPending, cutoff)
}

func (r *OrderRepo) list(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	orders := []models.Order{}
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, models.Persistence(err, "failed to list orders")
	}
	return orders, nil
}
