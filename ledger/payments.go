package ledger

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

// ConfirmPayment marks the order behind a completed checkout session paid.
// Confirming an order that is already paid (or further along) succeeds
// without side effects, so provider retries are harmless.
func (l *Ledger) ConfirmPayment(ctx context.Context, sessionID, orderID string) (*models.Order, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.ConfirmPayment", trace.WithAttributes(
		attribute.String("payment.session_id", sessionID),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	o, err := l.resolveSessionOrder(ctx, sessionID, orderID, true)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if o.Status.Settled() {
		return o, nil
	}

	updated, err := l.transition(ctx, o, models.OrderStatusPaid)
	if err != nil {
		var te *models.TransitionError
		if errors.As(err, &te) && te.From.Settled() {
			return l.orders.FindByID(ctx, o.ID)
		}
		if errors.As(err, &te) && te.From == models.OrderStatusCancelled {
			l.logger.Error("Payment confirmed for a cancelled order",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("order_id", o.ID),
				zap.String("session_id", sessionID),
			)
		}
		recordSpanError(span, err)
		return nil, err
	}
	l.afterTransition(ctx, updated, o.Status, true)
	return updated, nil
}

// ExpirePayment cancels a pending order whose checkout session expired.
// Orders in any other status are left alone.
func (l *Ledger) ExpirePayment(ctx context.Context, sessionID, orderID string) (*models.Order, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.ExpirePayment", trace.WithAttributes(
		attribute.String("payment.session_id", sessionID),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	o, err := l.resolveSessionOrder(ctx, sessionID, orderID, false)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if o.Status != models.OrderStatusPending {
		return o, nil
	}

	updated, err := l.transition(ctx, o, models.OrderStatusCancelled)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return l.orders.FindByID(ctx, o.ID)
		}
		recordSpanError(span, err)
		return nil, err
	}
	l.afterTransition(ctx, updated, o.Status, true)
	return updated, nil
}

// resolveSessionOrder finds the order linked to sessionID, falling back to
// orderID from the session metadata. With attach set, an order that was never
// linked gets the session attached.
func (l *Ledger) resolveSessionOrder(ctx context.Context, sessionID, orderID string, attach bool) (*models.Order, error) {
	if sessionID != "" {
		o, err := l.orders.FindBySession(ctx, sessionID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	if orderID == "" {
		return nil, models.NotFound("no order for payment session %s", sessionID)
	}

	o, err := l.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return o, nil
	}
	if o.StripeSessionID != nil && *o.StripeSessionID != sessionID {
		return nil, models.Validation("payment session %s does not belong to order %s", sessionID, orderID)
	}
	if o.StripeSessionID == nil && attach {
		if err := l.orders.AttachSession(ctx, o.ID, sessionID); err != nil {
			l.logger.Error("Failed to link payment session during confirmation",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("order_id", o.ID),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		} else {
			o.StripeSessionID = &sessionID
			l.logger.Info("Payment session linked from metadata",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("order_id", o.ID),
				zap.String("session_id", sessionID),
			)
		}
	}
	return o, nil
}

// Reconcile cancels pending orders created before now-olderThan that never
// got both a shipping row and a payment session. It returns how many orders
// were cancelled.
func (l *Ledger) Reconcile(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Reconcile")
	defer span.End()

	cutoff := l.now().Add(-olderThan)
	stale, err := l.orders.ListStalePending(ctx, cutoff)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	cancelled := 0
	for i := range stale {
		o := &stale[i]
		updated, err := l.transition(ctx, o, models.OrderStatusCancelled)
		if err != nil {
			l.logger.Warn("Failed to cancel stale order",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
			continue
		}
		l.afterTransition(ctx, updated, o.Status, false)
		cancelled++
	}

	span.SetAttributes(attribute.Int("orders.cancelled", cancelled))
	l.logger.Info("Reconciliation finished",
		zap.Time("cutoff", cutoff),
		zap.Int("stale", len(stale)),
		zap.Int("cancelled", cancelled),
	)
	return cancelled, nil
}
