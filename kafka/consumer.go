package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/config"
	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

func InitConsumerGroup(cfg config.Kafka, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Net.DialTimeout = 5 * time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized", zap.String("group", cfg.ConsumerGroup))
	return group, nil
}

const (
	PaymentSucceeded = "succeeded"
	PaymentExpired   = "expired"
)

// PaymentEvent is the message published by the payment side on the payment
// events topic.
type PaymentEvent struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
}

// PaymentHandler applies payment outcomes to orders.
type PaymentHandler interface {
	ConfirmPayment(ctx context.Context, sessionID, orderID string) (*models.Order, error)
	ExpirePayment(ctx context.Context, sessionID, orderID string) (*models.Order, error)
}

type PaymentConsumer struct {
	group  sarama.ConsumerGroup
	topics []string
	logger *zap.Logger
	h      *cgHandler
}

func NewPaymentConsumer(group sarama.ConsumerGroup, topic string, payments PaymentHandler, logger *zap.Logger) *PaymentConsumer {
	logger = logger.Named("kafka")
	return &PaymentConsumer{
		group:  group,
		topics: []string{topic},
		logger: logger,
		h:      &cgHandler{payments: payments, logger: logger, maxAttempts: 3, backoff: time.Second},
	}
}

// Start consumes until ctx is cancelled.
func (c *PaymentConsumer) Start(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	c.logger.Info("Kafka consumer started", zap.Strings("topics", c.topics))
	for {
		// Consume returns on rebalance, on a stopped claim or on cancellation.
		if err := c.group.Consume(ctx, c.topics, c.h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Warn("Kafka consume session ended with error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.h.backoff):
		}
	}
}

type cgHandler struct {
	payments    PaymentHandler
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handleMessageWithRetry(sess.Context(), msg); err != nil {
			var poison *decodeError
			if errors.As(err, &poison) {
				h.logger.Error("Skipping undecodable payment event", zap.Int64("offset", msg.Offset), zap.Error(err))
				sess.MarkMessage(msg, "decode-error")
				continue
			}
			// Stop the claim so no later offset is marked past this one; the
			// session ends and the next one resumes from the committed offset.
			h.logger.Error("Failed to handle payment event, stopping claim",
				zap.String("key", string(msg.Key)),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// handleMessageWithRetry retries transient failures with a linear backoff.
func (h *cgHandler) handleMessageWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var lastErr error
	for attempt := 1; attempt <= max(h.maxAttempts, 1); attempt++ {
		lastErr = h.handleMessage(ctx, msg)
		var poison *decodeError
		if lastErr == nil || errors.As(lastErr, &poison) {
			return lastErr
		}
		if attempt < h.maxAttempts {
			backoff := time.Duration(attempt) * h.backoff
			h.logger.Warn("Retrying payment event",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", h.maxAttempts, lastErr)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode payment event: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (h *cgHandler) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	// Extract trace context from Kafka message headers
	ctx = otel.GetTextMapPropagator().Extract(ctx, saramaHeaderCarrierConsumer(msg.Headers))
	ctx, span := otel.Tracer("bookswap/kafka").Start(ctx, "ProcessPaymentEvent")
	defer span.End()

	var evt PaymentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		span.RecordError(err)
		return &decodeError{err: err}
	}
	if evt.SessionID == "" && evt.OrderID == "" {
		return &decodeError{err: errors.New("event names neither session nor order")}
	}

	span.SetAttributes(
		attribute.String("payment.status", evt.Status),
		attribute.String("order.id", evt.OrderID),
	)

	traceID := middleware.GetTraceID(ctx)
	h.logger.Info("Received payment event",
		zap.String("trace_id", traceID),
		zap.String("status", evt.Status),
		zap.String("order_id", evt.OrderID),
		zap.String("session_id", evt.SessionID),
	)

	var err error
	switch evt.Status {
	case PaymentSucceeded:
		_, err = h.payments.ConfirmPayment(ctx, evt.SessionID, evt.OrderID)
	case PaymentExpired:
		_, err = h.payments.ExpirePayment(ctx, evt.SessionID, evt.OrderID)
	default:
		h.logger.Warn("Ignoring payment event with unknown status", zap.String("trace_id", traceID), zap.String("status", evt.Status))
		return nil
	}

	// Outcomes that can never succeed on redelivery are consumed.
	if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation) {
		h.logger.Warn("Payment event rejected",
			zap.String("trace_id", traceID),
			zap.String("order_id", evt.OrderID),
			zap.String("kind", models.KindOf(err)),
			zap.Error(err),
		)
		middleware.RecordPaymentWebhook(evt.Status, "rejected")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		middleware.RecordPaymentWebhook(evt.Status, "error")
		return err
	}
	middleware.RecordPaymentWebhook(evt.Status, "applied")
	return nil
}
