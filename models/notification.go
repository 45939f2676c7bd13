package models

import (
	"strings"
	"time"
)

type NotificationType string

const (
	NotificationPurchaseReceived  NotificationType = "purchase-received"
	NotificationPurchaseConfirmed NotificationType = "purchase-confirmed"
	NotificationPurchaseShipped   NotificationType = "purchase-shipped"
	NotificationPurchaseCompleted NotificationType = "purchase-completed"
	NotificationPurchaseCancelled NotificationType = "purchase-cancelled"
	NotificationBookRequest       NotificationType = "book-request"
	NotificationRequestUpdate     NotificationType = "request-update"
)

// ParseNotificationType accepts any casing and either '-' or '_' as separator.
func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	switch t {
	case NotificationPurchaseReceived, NotificationPurchaseConfirmed, NotificationPurchaseShipped,
		NotificationPurchaseCompleted, NotificationPurchaseCancelled,
		NotificationBookRequest, NotificationRequestUpdate:
		return t, nil
	}
	return "", Validation("unknown notification type %q", s)
}

// OrderScoped reports whether notifications of type t describe a single
// order event, which makes them safe to deduplicate per recipient.
func (t NotificationType) OrderScoped() bool {
	return strings.HasPrefix(string(t), "purchase-")
}

type Notification struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Type      NotificationType `json:"type" db:"type"`
	RelatedID *string          `json:"related_id,omitempty" db:"related_id"`
	Read      bool             `json:"read" db:"read"`
	DedupKey  *string          `json:"-" db:"dedup_key"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

type NotificationFilter struct {
	Read *bool
	Type NotificationType
}
