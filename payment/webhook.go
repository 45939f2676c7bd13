package payment

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

type EventKind string

const (
	EventPaid    EventKind = "paid"
	EventExpired EventKind = "expired"
	EventIgnored EventKind = "ignored"
)

// Event is a verified provider notification reduced to what the ledger needs.
type Event struct {
	ID        string
	Type      string
	Kind      EventKind
	SessionID string
	OrderID   string
}

// ParseWebhook verifies the signature header and decodes the checkout event.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (Event, error) {
	return parseWebhook(payload, signature, g.webhookSecret)
}

func parseWebhook(payload []byte, signature, secret string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, models.Permission("invalid webhook signature: %v", err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type), Kind: EventIgnored}
	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		out.Kind = EventPaid
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		out.Kind = EventExpired
	default:
		return out, nil
	}

	var sess stripe.CheckoutSession
	if evt.Data == nil || json.Unmarshal(evt.Data.Raw, &sess) != nil {
		return Event{}, models.Validation("malformed checkout session in event %s", evt.ID)
	}

	// A completed session that is still awaiting an async payment is not paid yet.
	if evt.Type == "checkout.session.completed" && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		out.Kind = EventIgnored
	}

	out.SessionID = sess.ID
	out.OrderID = sess.Metadata[MetadataOrderID]
	if out.OrderID == "" {
		out.OrderID = sess.ClientReferenceID
	}
	return out, nil
}
