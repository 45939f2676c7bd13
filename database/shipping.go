package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

const shippingColumns = "order_id, full_name, address_line1, address_line2, city, state, postal_code, country, phone"

type ShippingRepo struct {
	db *sqlx.DB
}

func NewShippingRepo(db *sqlx.DB) *ShippingRepo {
	return &ShippingRepo{db: db}
}

func (r *ShippingRepo) Insert(ctx context.Context, d *models.ShippingDetails) error {
	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO shipping_details (`+shippingColumns+`)
VALUES (:order_id, :full_name, :address_line1, :address_line2, :city, :state, :postal_code, :country, :phone)`, d)
	return models.Persistence(err, "failed to insert shipping details")
}

// FindByOrderID returns nil without error when the order has no shipping row.
func (r *ShippingRepo) FindByOrderID(ctx context.Context, orderID string) (*models.ShippingDetails, error) {
	var d models.ShippingDetails
	err := r.db.GetContext(ctx, &d, "SELECT "+shippingColumns+" FROM shipping_details WHERE order_id = $1", orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, models.Persistence(err, "failed to load shipping details")
	}
	return &d, nil
}

func (r *ShippingRepo) FindByOrderIDs(ctx context.Context, orderIDs []string) (map[string]*models.ShippingDetails, error) {
	out := make(map[string]*models.ShippingDetails, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In("SELECT "+shippingColumns+" FROM shipping_details WHERE order_id IN (?)", orderIDs)
	if err != nil {
		return nil, models.Persistence(err, "failed to build shipping query")
	}
	var rows []models.ShippingDetails
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, models.Persistence(err, "failed to load shipping details")
	}
	for i := range rows {
		out[rows[i].OrderID] = &rows[i]
	}
	return out, nil
}
