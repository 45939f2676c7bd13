package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Store is the append-only notification table.
type Store interface {
	Insert(ctx context.Context, n *models.Notification) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, userID string, filter models.NotificationFilter, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type Emitter struct {
	store  Store
	logger *zap.Logger
}

func NewEmitter(store Store, logger *zap.Logger) *Emitter {
	return &Emitter{store: store, logger: logger.Named("notifications")}
}

// Notify appends one notification for userID. Order-scoped types with a
// related id are deduplicated per recipient; created is false when the
// notification already existed.
func (e *Emitter) Notify(ctx context.Context, userID string, typ models.NotificationType, title, message, relatedID string) (*models.Notification, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, models.Validation("recipient is required")
	}
	if _, err := models.ParseNotificationType(string(typ)); err != nil {
		return nil, false, err
	}

	n := &models.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Title:   title,
		Message: message,
		Type:    typ,
	}
	if relatedID != "" {
		n.RelatedID = &relatedID
		if typ.OrderScoped() {
			key := dedupKey(userID, typ, relatedID)
			n.DedupKey = &key
		}
	}

	created, err := e.store.Insert(ctx, n)
	if err != nil {
		middleware.RecordNotificationEmitted(string(typ), "error")
		return nil, false, err
	}

	result := "created"
	if !created {
		result = "duplicate"
	}
	middleware.RecordNotificationEmitted(string(typ), result)
	return n, created, nil
}

func dedupKey(userID string, typ models.NotificationType, relatedID string) string {
	return userID + "|" + string(typ) + "|" + relatedID
}

type message struct {
	to    string
	typ   models.NotificationType
	title string
	body  string
}

// NotifyOrderEvent fans an order status change out to the counter-parties.
// Every recipient is attempted; the first error is returned.
func (e *Emitter) NotifyOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	var msgs []message
	switch evt.Status {
	case models.OrderStatusPaid:
		msgs = []message{
			{evt.SellerID, models.NotificationPurchaseReceived, "New purchase", fmt.Sprintf("Your book has been purchased (order %s). Please ship it.", evt.OrderID)},
			{evt.BuyerID, models.NotificationPurchaseConfirmed, "Payment confirmed", fmt.Sprintf("Your payment for order %s was received.", evt.OrderID)},
		}
	case models.OrderStatusShipped:
		msgs = []message{
			{evt.BuyerID, models.NotificationPurchaseShipped, "Order shipped", fmt.Sprintf("Your order %s is on its way.", evt.OrderID)},
		}
	case models.OrderStatusCompleted:
		msgs = []message{
			{evt.SellerID, models.NotificationPurchaseCompleted, "Order completed", fmt.Sprintf("The buyer confirmed delivery of order %s.", evt.OrderID)},
		}
	case models.OrderStatusCancelled:
		msgs = []message{
			{evt.BuyerID, models.NotificationPurchaseCancelled, "Order cancelled", fmt.Sprintf("Order %s was cancelled.", evt.OrderID)},
			{evt.SellerID, models.NotificationPurchaseCancelled, "Order cancelled", fmt.Sprintf("Order %s was cancelled.", evt.OrderID)},
		}
	}

	var firstErr error
	for _, m := range msgs {
		if _, _, err := e.Notify(ctx, m.to, m.typ, m.title, m.body, evt.OrderID); err != nil {
			e.logger.Error("Failed to emit notification",
				zap.String("order_id", evt.OrderID),
				zap.String("user_id", m.to),
				zap.String("type", string(m.typ)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Emitter) ListForUser(ctx context.Context, userID string, filter models.NotificationFilter, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return e.store.List(ctx, userID, filter, limit)
}

func (e *Emitter) UnreadCount(ctx context.Context, userID string) (int, error) {
	return e.store.UnreadCount(ctx, userID)
}

// MarkRead sets the read flag on a notification owned by userID.
func (e *Emitter) MarkRead(ctx context.Context, notificationID, userID string) error {
	n, err := e.store.FindByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return models.Permission("notification %s belongs to another user", notificationID)
	}
	if n.Read {
		return nil
	}
	ok, err := e.store.MarkRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NotFound("notification %s not found", notificationID)
	}
	return nil
}

func (e *Emitter) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := e.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	e.logger.Debug("Notifications marked read", zap.String("user_id", userID), zap.Int64("count", n))
	return n, nil
}
