package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/kafka"
	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
	"github.com/hadiulofficial/bookswap-pro-sub001/payment"
)

const maxWebhookBody = 64 << 10

type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (payment.Event, error)
}

// EventClaimer records provider event ids that were already handled.
type EventClaimer interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type WebhookHandler struct {
	parser   WebhookParser
	claims   EventClaimer
	payments kafka.PaymentHandler
	logger   *zap.Logger
}

func NewWebhookHandler(parser WebhookParser, claims EventClaimer, payments kafka.PaymentHandler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, claims: claims, payments: payments, logger: logger}
}

// Stripe applies checkout session events to orders. Events that can never
// succeed are acknowledged with 200; only transient failures return 5xx so
// the provider redelivers them.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	ctx := c.Request.Context()
	traceID := middleware.GetTraceID(ctx)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, err)
		return
	}

	evt, err := h.parser.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		middleware.RecordPaymentWebhook("unknown", "rejected")
		h.logger.Warn("Rejected payment webhook", zap.String("trace_id", traceID), zap.Error(err))
		respondError(c, h.logger, "Rejected payment webhook", err)
		return
	}
	if evt.Kind == payment.EventIgnored {
		middleware.RecordPaymentWebhook(string(evt.Kind), "ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if h.claims != nil {
		first, err := h.claims.Claim(ctx, evt.ID)
		if err != nil {
			h.logger.Warn("Webhook dedup unavailable, processing anyway",
				zap.String("trace_id", traceID),
				zap.String("event_id", evt.ID),
				zap.Error(err),
			)
		} else if !first {
			middleware.RecordPaymentWebhook(string(evt.Kind), "duplicate")
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		}
	}

	var order *models.Order
	switch evt.Kind {
	case payment.EventPaid:
		order, err = h.payments.ConfirmPayment(ctx, evt.SessionID, evt.OrderID)
	case payment.EventExpired:
		order, err = h.payments.ExpirePayment(ctx, evt.SessionID, evt.OrderID)
	}
	if err != nil {
		if statusFor(err) < http.StatusInternalServerError {
			middleware.RecordPaymentWebhook(string(evt.Kind), "rejected")
			h.logger.Warn("Payment webhook not applicable",
				zap.String("trace_id", traceID),
				zap.String("event_id", evt.ID),
				zap.String("order_id", evt.OrderID),
				zap.String("kind", models.KindOf(err)),
				zap.Error(err),
			)
			c.JSON(http.StatusOK, gin.H{"received": true, "applied": false, "kind": models.KindOf(err)})
			return
		}
		if h.claims != nil {
			if rerr := h.claims.Release(ctx, evt.ID); rerr != nil {
				h.logger.Error("Failed to release webhook claim", zap.String("event_id", evt.ID), zap.Error(rerr))
			}
		}
		middleware.RecordPaymentWebhook(string(evt.Kind), "error")
		respondError(c, h.logger, "Failed to apply payment webhook", err)
		return
	}

	middleware.RecordPaymentWebhook(string(evt.Kind), "applied")
	h.logger.Info("Payment webhook applied",
		zap.String("trace_id", traceID),
		zap.String("event_id", evt.ID),
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"received": true, "order_id": order.ID, "status": order.Status})
}
