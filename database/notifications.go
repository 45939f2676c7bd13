package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

const notificationColumns = "id, user_id, title, message, type, related_id, read, dedup_key, created_at"

type NotificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Insert appends n. When n carries a dedup key that already exists, n is
// replaced by the stored row and created is false.
func (r *NotificationRepo) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	err := r.db.QueryRowxContext(ctx, `
INSERT INTO notifications (id, user_id, title, message, type, related_id, read, dedup_key)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
ON CONFLICT (dedup_key) DO NOTHING
RETURNING created_at`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.RelatedID, n.DedupKey,
	).Scan(&n.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || n.DedupKey == nil {
		return false, models.Persistence(err, "failed to insert notification")
	}

	if err := r.db.GetContext(ctx, n, "SELECT "+notificationColumns+" FROM notifications WHERE dedup_key = $1", *n.DedupKey); err != nil {
		return false, models.Persistence(err, "failed to load deduplicated notification")
	}
	return false, nil
}

func (r *NotificationRepo) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, "SELECT "+notificationColumns+" FROM notifications WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("notification %s not found", id)
		}
		return nil, models.Persistence(err, "failed to load notification")
	}
	return &n, nil
}

func (r *NotificationRepo) List(ctx context.Context, userID string, filter models.NotificationFilter, limit int) ([]models.Notification, error) {
	// Build query dynamically
	query := "SELECT " + notificationColumns + " FROM notifications WHERE user_id = $1"
	args := []any{userID}
	argPos := 2

	if filter.Read != nil {
		query += " AND read = $" + strconv.Itoa(argPos)
		args = append(args, *filter.Read)
		argPos++
	}
	if filter.Type != "" {
		query += " AND type = $" + strconv.Itoa(argPos)
		args = append(args, filter.Type)
		argPos++
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(argPos)
	args = append(args, limit)

	out := []models.Notification{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, models.Persistence(err, "failed to list notifications")
	}
	return out, nil
}

func (r *NotificationRepo) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE", userID); err != nil {
		return 0, models.Persistence(err, "failed to count unread notifications")
	}
	return n, nil
}

// MarkRead flips the flag only for the recipient's own row. ok is false when
// no row matched both id and user.
func (r *NotificationRepo) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return false, models.Persistence(err, "failed to mark notification read")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE", userID)
	if err != nil {
		return 0, models.Persistence(err, "failed to mark notifications read")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
