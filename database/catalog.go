package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

const bookColumns = "id, title, author, price, owner_id, status, listing_type, condition"

// BookRepo is the core's read view of the catalog. The only write it
// performs is flagging a sold book unavailable.
type BookRepo struct {
	db *sqlx.DB
}

func NewBookRepo(db *sqlx.DB) *BookRepo {
	return &BookRepo{db: db}
}

func (r *BookRepo) FindByID(ctx context.Context, id string) (*models.Book, error) {
	var b models.Book
	if err := r.db.GetContext(ctx, &b, "SELECT "+bookColumns+" FROM books WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("book %s not found", id)
		}
		return nil, models.Persistence(err, "failed to load book")
	}
	return &b, nil
}

func (r *BookRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*models.Book, error) {
	out := make(map[string]*models.Book, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In("SELECT "+bookColumns+" FROM books WHERE id IN (?)", ids)
	if err != nil {
		return nil, models.Persistence(err, "failed to build book query")
	}
	var rows []models.Book
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, models.Persistence(err, "failed to load books")
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

func (r *BookRepo) MarkUnavailable(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE books SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		models.BookStatusUnavailable, id,
	)
	return models.Persistence(err, "failed to mark book unavailable")
}

type ProfileRepo struct {
	db *sqlx.DB
}

func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Ensure creates the profile if it does not exist yet. Existing profiles are
// never overwritten. created reports whether a row was inserted.
func (r *ProfileRepo) Ensure(ctx context.Context, p *models.Profile) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `
INSERT INTO profiles (id, username, full_name, email)
VALUES (:id, :username, :full_name, :email)
ON CONFLICT (id) DO NOTHING`, p)
	if err != nil {
		return false, models.Persistence(err, "failed to ensure profile")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *ProfileRepo) FindPublicByIDs(ctx context.Context, ids []string) (map[string]*models.PublicProfile, error) {
	out := make(map[string]*models.PublicProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In("SELECT id, username, full_name, email, phone FROM profiles WHERE id IN (?)", ids)
	if err != nil {
		return nil, models.Persistence(err, "failed to build profile query")
	}
	var rows []models.PublicProfile
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, models.Persistence(err, "failed to load profiles")
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

type WishlistRepo struct {
	db *sqlx.DB
}

func NewWishlistRepo(db *sqlx.DB) *WishlistRepo {
	return &WishlistRepo{db: db}
}

// Add is idempotent on (user, book); created is false for an existing entry.
func (r *WishlistRepo) Add(ctx context.Context, userID, bookID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO wishlist (user_id, book_id) VALUES ($1, $2) ON CONFLICT (user_id, book_id) DO NOTHING",
		userID, bookID,
	)
	if err != nil {
		return false, models.Persistence(err, "failed to add wishlist entry")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *WishlistRepo) Remove(ctx context.Context, userID, bookID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM wishlist WHERE user_id = $1 AND book_id = $2", userID, bookID)
	if err != nil {
		return false, models.Persistence(err, "failed to remove wishlist entry")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *WishlistRepo) List(ctx context.Context, userID string) ([]models.WishlistEntry, error) {
	entries := []models.WishlistEntry{}
	err := r.db.SelectContext(ctx, &entries,
		"SELECT user_id, book_id, created_at FROM wishlist WHERE user_id = $1 ORDER BY created_at DESC, book_id",
		userID,
	)
	if err != nil {
		return nil, models.Persistence(err, "failed to list wishlist")
	}
	return entries, nil
}
