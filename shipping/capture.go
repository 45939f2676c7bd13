package shipping

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

// Store persists one shipping row per order.
type Store interface {
	Insert(ctx context.Context, d *models.ShippingDetails) error
}

// Capture validates and records the delivery address of an order.
type Capture struct {
	store    Store
	validate *validator.Validate
	logger   *zap.Logger
}

func NewCapture(store Store, logger *zap.Logger) *Capture {
	return &Capture{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("shipping"),
	}
}

// Record stores details for orderID. Nothing is written when validation fails.
func (c *Capture) Record(ctx context.Context, orderID string, details models.ShippingDetails) error {
	if strings.TrimSpace(orderID) == "" {
		return models.Validation("order id is required")
	}

	d := details.Normalize()
	d.OrderID = orderID
	if err := c.check(d); err != nil {
		return err
	}

	if err := c.store.Insert(ctx, &d); err != nil {
		c.logger.Error("Failed to store shipping details", zap.String("order_id", orderID), zap.Error(err))
		return err
	}

	c.logger.Info("Shipping details recorded", zap.String("order_id", orderID))
	return nil
}

func (c *Capture) check(d models.ShippingDetails) error {
	err := c.validate.Struct(d)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.Validation("invalid shipping details: %v", err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		name := fieldName(fe.StructField())
		if fe.Tag() == "required" {
			missing = append(missing, name)
		} else {
			invalid = append(invalid, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(invalid)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "too long "+strings.Join(invalid, ", "))
	}
	return models.Validation("invalid shipping details: %s", strings.Join(parts, "; "))
}

var fieldNames = map[string]string{
	"FullName":     "full_name",
	"AddressLine1": "address_line1",
	"AddressLine2": "address_line2",
	"City":         "city",
	"State":        "state",
	"PostalCode":   "postal_code",
	"Country":      "country",
	"Phone":        "phone",
}

func fieldName(field string) string {
	if n, ok := fieldNames[field]; ok {
		return n
	}
	return field
}
