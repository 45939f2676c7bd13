package ledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
	"github.com/hadiulofficial/bookswap-pro-sub001/payment"
)

// OrderStore is the persistence the ledger needs for orders.
type OrderStore interface {
	Insert(ctx context.Context, o *models.Order) error
	DeletePending(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.Order, error)
	FindBySession(ctx context.Context, sessionID string) (*models.Order, error)
	UpdateStatusIf(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, bool, error)
	AttachSession(ctx context.Context, id, sessionID string) error
	ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error)
	ListBySeller(ctx context.Context, sellerID string) ([]models.Order, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

type Catalog interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
	MarkUnavailable(ctx context.Context, id string) error
}

type ShippingRecorder interface {
	Record(ctx context.Context, orderID string, details models.ShippingDetails) error
}

type Notifier interface {
	NotifyOrderEvent(ctx context.Context, evt models.OrderEvent) error
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error
}

// ViewInvalidator drops cached read models of an order.
type ViewInvalidator interface {
	Invalidate(ctx context.Context, orderID string) error
}

type Deps struct {
	Orders    OrderStore
	Catalog   Catalog
	Shipping  ShippingRecorder
	Gateway   payment.Gateway
	Notifier  Notifier
	Publisher EventPublisher  // optional
	Views     ViewInvalidator // optional
}

// Ledger owns order creation and every order status change.
type Ledger struct {
	orders    OrderStore
	catalog   Catalog
	shipping  ShippingRecorder
	gateway   payment.Gateway
	notifier  Notifier
	publisher EventPublisher
	views     ViewInvalidator

	successURL string
	cancelURL  string

	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Deps, successURL, cancelURL string, logger *zap.Logger) *Ledger {
	return &Ledger{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		shipping:   deps.Shipping,
		gateway:    deps.Gateway,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		views:      deps.Views,
		successURL: successURL,
		cancelURL:  cancelURL,
		tracer:     otel.Tracer("bookswap/ledger"),
		logger:     logger.Named("ledger"),
		now:        time.Now,
	}
}

func (l *Ledger) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return l.orders.FindByID(ctx, orderID)
}

// ListByBuyer returns the buyer's orders, newest first.
func (l *Ledger) ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	return l.orders.ListByBuyer(ctx, buyerID)
}

// ListBySeller returns the seller's orders, newest first.
func (l *Ledger) ListBySeller(ctx context.Context, sellerID string) ([]models.Order, error) {
	return l.orders.ListBySeller(ctx, sellerID)
}

// UpdateOrderStatus moves the order along one of the allowed edges and
// notifies the parties. The order is left unchanged on error.
func (l *Ledger) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
	))
	defer span.End()

	o, err := l.updateStatus(ctx, orderID, status, true)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return o, nil
}

// TransitionAs applies a status change requested by actorID, who must be a
// party to the order allowed to make that change.
func (l *Ledger) TransitionAs(ctx context.Context, actorID, orderID string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.TransitionAs", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
	))
	defer span.End()

	to, err := models.ParseOrderStatus(string(status))
	if err != nil {
		return nil, err
	}
	o, err := l.orders.FindByID(ctx, orderID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if !o.HasParty(actorID) {
		return nil, models.Permission("user %s is not a party to order %s", actorID, orderID)
	}

	switch to {
	case models.OrderStatusPaid:
		return nil, models.Permission("orders are marked paid by payment confirmation only")
	case models.OrderStatusShipped:
		if actorID != o.SellerID {
			return nil, models.Permission("only the seller can mark an order shipped")
		}
	case models.OrderStatusCompleted:
		if actorID != o.BuyerID {
			return nil, models.Permission("only the buyer can mark an order completed")
		}
	}

	updated, err := l.transition(ctx, o, to)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	l.afterTransition(ctx, updated, o.Status, true)
	return updated, nil
}

func (l *Ledger) updateStatus(ctx context.Context, orderID string, status models.OrderStatus, notify bool) (*models.Order, error) {
	to, err := models.ParseOrderStatus(string(status))
	if err != nil {
		return nil, err
	}
	o, err := l.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	updated, err := l.transition(ctx, o, to)
	if err != nil {
		return nil, err
	}
	l.afterTransition(ctx, updated, o.Status, notify)
	return updated, nil
}

// transition writes o.Status -> to with a compare-and-swap. When another
// writer moved the order first, the error reports the status it found.
func (l *Ledger) transition(ctx context.Context, o *models.Order, to models.OrderStatus) (*models.Order, error) {
	if !o.Status.CanTransitionTo(to) {
		return nil, &models.TransitionError{From: o.Status, To: to}
	}

	updated, ok, err := l.orders.UpdateStatusIf(ctx, o.ID, o.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := l.orders.FindByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		l.logger.Warn("Order status changed concurrently",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", o.ID),
			zap.String("expected", string(o.Status)),
			zap.String("actual", string(current.Status)),
		)
		return nil, &models.TransitionError{From: current.Status, To: to}
	}

	middleware.RecordOrderTransition(string(o.Status), string(to))
	l.logger.Info("Order status updated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

// afterTransition runs the side effects of a committed status change. None
// of them can undo the change; failures are logged.
func (l *Ledger) afterTransition(ctx context.Context, o *models.Order, previous models.OrderStatus, notify bool) {
	traceID := middleware.GetTraceID(ctx)

	if o.Status == models.OrderStatusPaid {
		if err := l.catalog.MarkUnavailable(ctx, o.BookID); err != nil {
			l.logger.Error("Failed to mark book unavailable",
				zap.String("trace_id", traceID),
				zap.String("order_id", o.ID),
				zap.String("book_id", o.BookID),
				zap.Error(err),
			)
		}
	}

	// After the catalog write, so a concurrent read cannot cache the old book.
	l.invalidate(ctx, o.ID)

	evt := models.NewOrderEvent(o, previous)
	l.publish(ctx, evt)

	if !notify {
		return
	}
	if err := l.notifier.NotifyOrderEvent(ctx, evt); err != nil {
		l.logger.Error("Failed to notify order parties",
			zap.String("trace_id", traceID),
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.Error(err),
		)
	}
}

func (l *Ledger) invalidate(ctx context.Context, orderID string) {
	if l.views == nil {
		return
	}
	if err := l.views.Invalidate(ctx, orderID); err != nil {
		l.logger.Warn("Failed to invalidate order view",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (l *Ledger) publish(ctx context.Context, evt models.OrderEvent) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishOrderEvent(ctx, evt); err != nil {
		l.logger.Error("Failed to publish order event",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", evt.OrderID),
			zap.String("event_type", evt.EventType),
			zap.Error(err),
		)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, models.KindOf(err))
}
