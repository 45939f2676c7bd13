package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
	"github.com/hadiulofficial/bookswap-pro-sub001/payment"
)

type CreateOrderInput struct {
	BuyerID    string
	BookID     string
	SellerID   string
	Amount     decimal.Decimal
	Shipping   models.ShippingDetails
	SuccessURL string
	CancelURL  string
}

type CreateOrderResult struct {
	OrderID     string
	RedirectURL string
}

// CreateOrder records a pending order with its shipping address and opens a
// checkout session for it. When any step fails the order is removed or
// cancelled before the error is returned.
func (l *Ledger) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.CreateOrder", trace.WithAttributes(
		attribute.String("book.id", in.BookID),
		attribute.String("buyer.id", in.BuyerID),
	))
	defer span.End()

	res, err := l.createOrder(ctx, in)
	if err != nil {
		recordSpanError(span, err)
		return CreateOrderResult{}, err
	}
	span.SetAttributes(attribute.String("order.id", res.OrderID))
	return res, nil
}

func (l *Ledger) createOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	traceID := middleware.GetTraceID(ctx)

	if err := validateInput(in); err != nil {
		return CreateOrderResult{}, err
	}

	book, err := l.catalog.FindByID(ctx, in.BookID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if book.OwnerID != in.SellerID {
		return CreateOrderResult{}, models.Validation("book %s is not listed by seller %s", in.BookID, in.SellerID)
	}
	if book.Status != models.BookStatusAvailable {
		return CreateOrderResult{}, models.Validation("book %s is not available", in.BookID)
	}

	order := &models.Order{
		ID:       uuid.NewString(),
		BuyerID:  in.BuyerID,
		BookID:   in.BookID,
		SellerID: in.SellerID,
		Amount:   in.Amount,
		Status:   models.OrderStatusPending,
	}
	if err := l.orders.Insert(ctx, order); err != nil {
		l.logger.Error("Failed to create order", zap.String("trace_id", traceID), zap.Error(err))
		return CreateOrderResult{}, err
	}

	if err := l.shipping.Record(ctx, order.ID, in.Shipping); err != nil {
		l.discardPending(ctx, order)
		return CreateOrderResult{}, err
	}

	req := payment.CheckoutRequest{
		OrderID:    order.ID,
		BookID:     book.ID,
		Title:      book.Title,
		Amount:     order.Amount,
		SuccessURL: firstNonEmpty(in.SuccessURL, l.successURL),
		CancelURL:  firstNonEmpty(in.CancelURL, l.cancelURL),
	}
	sess, err := l.gateway.CreateCheckoutSession(ctx, req)
	if errors.Is(err, payment.ErrTimeout) {
		// Same idempotency key, so the provider cannot open a second session.
		l.logger.Warn("Checkout session timed out, retrying",
			zap.String("trace_id", traceID),
			zap.String("order_id", order.ID),
		)
		sess, err = l.gateway.CreateCheckoutSession(ctx, req)
	}
	if err != nil {
		l.cancelPending(ctx, order, "gateway")
		if !errors.Is(err, models.ErrGateway) && !errors.Is(err, models.ErrValidation) {
			err = models.Gateway(err, "failed to create checkout session")
		}
		return CreateOrderResult{}, err
	}

	if err := l.orders.AttachSession(ctx, order.ID, sess.ID); err != nil {
		// The webhook can still resolve the order through the session metadata.
		middleware.RecordReconciliationCandidate()
		l.logger.Error("Failed to link payment session, order needs reconciliation",
			zap.String("trace_id", traceID),
			zap.String("order_id", order.ID),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	} else {
		order.StripeSessionID = &sess.ID
	}

	middleware.RecordOrderCreated()
	l.publish(ctx, models.NewOrderEvent(order, ""))
	l.logger.Info("Order created",
		zap.String("trace_id", traceID),
		zap.String("order_id", order.ID),
		zap.String("book_id", order.BookID),
		zap.String("amount", order.Amount.StringFixed(2)),
	)
	return CreateOrderResult{OrderID: order.ID, RedirectURL: sess.RedirectURL}, nil
}

func validateInput(in CreateOrderInput) error {
	var missing []string
	if strings.TrimSpace(in.BuyerID) == "" {
		missing = append(missing, "buyer_id")
	}
	if strings.TrimSpace(in.BookID) == "" {
		missing = append(missing, "book_id")
	}
	if strings.TrimSpace(in.SellerID) == "" {
		missing = append(missing, "seller_id")
	}
	if len(missing) > 0 {
		return models.Validation("missing %s", strings.Join(missing, ", "))
	}
	if in.BuyerID == in.SellerID {
		return models.Validation("buyer and seller must differ")
	}
	if !in.Amount.IsPositive() {
		return models.Validation("amount must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return models.Validation("amount %s has more than two decimal places", in.Amount)
	}
	return nil
}

// compensationTimeout bounds the writes that undo a failed creation.
const compensationTimeout = 5 * time.Second

// compensationContext keeps the request's values but not its cancellation,
// so a disconnected client cannot leave a dangling pending order.
func compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

// discardPending removes an order whose shipping row could not be written.
// If the delete fails the order is cancelled instead.
func (l *Ledger) discardPending(ctx context.Context, o *models.Order) {
	ctx, cancel := compensationContext(ctx)
	defer cancel()

	middleware.RecordOrderCompensation("shipping")
	err := l.orders.DeletePending(ctx, o.ID)
	if err == nil {
		l.logger.Info("Pending order discarded",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.ID),
		)
		return
	}
	l.logger.Warn("Failed to delete pending order, cancelling",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", o.ID),
		zap.Error(err),
	)
	l.cancelPending(ctx, o, "")
}

// cancelPending marks a pending order cancelled without notifying anyone;
// the buyer learns about it from the failed request.
func (l *Ledger) cancelPending(ctx context.Context, o *models.Order, step string) {
	ctx, cancel := compensationContext(ctx)
	defer cancel()

	if step != "" {
		middleware.RecordOrderCompensation(step)
	}
	updated, err := l.transition(ctx, o, models.OrderStatusCancelled)
	if err != nil {
		l.logger.Error("Failed to cancel pending order",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return
	}
	l.afterTransition(ctx, updated, o.Status, false)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
