package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/circuitbreaker"
	"github.com/hadiulofficial/bookswap-pro-sub001/config"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

// ErrTimeout is matched (together with models.ErrGateway) by errors returned
// when the provider did not answer within the configured timeout.
var ErrTimeout = errors.New("payment gateway timed out")

const (
	MetadataOrderID = "orderId"
	MetadataBookID  = "bookId"
)

type CheckoutRequest struct {
	OrderID    string
	BookID     string
	Title      string
	Amount     decimal.Decimal
	SuccessURL string
	CancelURL  string
}

type Session struct {
	ID          string
	RedirectURL string
}

// Gateway opens hosted checkout sessions.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error)
}

// MinorUnits converts amount to the smallest currency unit, rounding half up.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type sessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

type StripeGateway struct {
	newSession    sessionCreator
	breaker       *circuitbreaker.CircuitBreaker
	timeout       time.Duration
	currency      string
	webhookSecret string
	logger        *zap.Logger
}

func NewStripeGateway(cfg config.Payment, logger *zap.Logger) *StripeGateway {
	// Retries are owned by the caller, which reuses the order id as idempotency key.
	backendCfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	api := client.New(cfg.StripeSecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return newStripeGateway(api.CheckoutSessions.New, cfg, logger)
}

func newStripeGateway(create sessionCreator, cfg config.Payment, logger *zap.Logger) *StripeGateway {
	logger = logger.Named("payment")
	breaker := circuitbreaker.NewCircuitBreaker("stripe", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout,
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{
		newSession:    create,
		breaker:       breaker,
		timeout:       cfg.Timeout,
		currency:      currency,
		webhookSecret: cfg.StripeWebhookSecret,
		logger:        logger,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	minor := MinorUnits(req.Amount)
	if minor <= 0 {
		return Session{}, models.Validation("amount %s is below the smallest chargeable unit", req.Amount)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Book " + req.BookID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(g.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(title),
					},
					UnitAmount: stripe.Int64(minor),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.AddMetadata(MetadataBookID, req.BookID)
	params.SetIdempotencyKey(req.OrderID)

	var sess *stripe.CheckoutSession
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		params.Context = callCtx

		var err error
		sess, err = g.newSession(params)
		if err != nil && (callCtx.Err() == context.DeadlineExceeded || isTimeout(err)) {
			return fmt.Errorf("%w after %s: %v", ErrTimeout, g.timeout, err)
		}
		return err
	})
	if err != nil {
		g.logger.Error("Failed to create checkout session",
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		return Session{}, models.Gateway(err, "failed to create checkout session")
	}
	if sess == nil || sess.ID == "" || sess.URL == "" {
		return Session{}, models.Gateway(errors.New("empty session"), "payment provider returned no redirect")
	}

	g.logger.Info("Checkout session created",
		zap.String("order_id", req.OrderID),
		zap.String("session_id", sess.ID),
		zap.Int64("amount_minor", minor),
	)
	return Session{ID: sess.ID, RedirectURL: sess.URL}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
