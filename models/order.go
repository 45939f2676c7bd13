package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusCompleted},
}

// ParseOrderStatus normalizes s to the canonical lower-case status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return status, nil
	}
	return "", Validation("unknown order status %q", s)
}

// CanTransitionTo reports whether s -> next is one of the allowed edges.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Settled reports whether payment has been confirmed for an order in s.
func (s OrderStatus) Settled() bool {
	return s == OrderStatusPaid || s == OrderStatusShipped || s == OrderStatusCompleted
}

type Order struct {
	ID              string          `json:"id" db:"id"`
	BuyerID         string          `json:"user_id" db:"user_id"`
	BookID          string          `json:"book_id" db:"book_id"`
	SellerID        string          `json:"seller_id" db:"seller_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Status          OrderStatus     `json:"status" db:"status"`
	StripeSessionID *string         `json:"stripe_session_id,omitempty" db:"stripe_session_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// HasParty reports whether userID is the buyer or the seller of the order.
func (o *Order) HasParty(userID string) bool {
	return userID != "" && (o.BuyerID == userID || o.SellerID == userID)
}

type CreateOrderRequest struct {
	BookID     string          `json:"book_id" binding:"required"`
	SellerID   string          `json:"seller_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Shipping   ShippingDetails `json:"shipping"`
	SuccessURL string          `json:"success_url"`
	CancelURL  string          `json:"cancel_url"`
}

type CreateOrderResponse struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type OrderEvent struct {
	OrderID   string          `json:"order_id"`
	BuyerID   string          `json:"user_id"`
	SellerID  string          `json:"seller_id"`
	BookID    string          `json:"book_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    OrderStatus     `json:"status"`
	Previous  OrderStatus     `json:"previous_status,omitempty"`
	EventType string          `json:"event_type"` // order_created, order_paid, order_shipped, order_completed, order_cancelled
	At        time.Time       `json:"at"`
}

// NewOrderEvent builds the event emitted after o reached its current status.
func NewOrderEvent(o *Order, previous OrderStatus) OrderEvent {
	eventType := "order_" + string(o.Status)
	if previous == "" {
		eventType = "order_created"
	}
	return OrderEvent{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		BookID:    o.BookID,
		Amount:    o.Amount,
		Status:    o.Status,
		Previous:  previous,
		EventType: eventType,
		At:        o.UpdatedAt,
	}
}

// OrderView is an order assembled with its related records for dashboards.
// Book, Shipping and Buyer are nil when the related row is absent.
type OrderView struct {
	Order    Order            `json:"order"`
	Book     *Book            `json:"book"`
	Shipping *ShippingDetails `json:"shipping"`
	Buyer    *PublicProfile   `json:"buyer,omitempty"`
}
