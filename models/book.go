package models

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type BookStatus string

const (
	BookStatusAvailable   BookStatus = "available"
	BookStatusUnavailable BookStatus = "unavailable"
)

type ListingType string

const (
	ListingSale     ListingType = "sale"
	ListingSwap     ListingType = "swap"
	ListingDonation ListingType = "donation"
)

type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like-new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionPoor    Condition = "poor"
)

func canonical(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ReplaceAll(s, " ", "-")
}

func ParseBookStatus(s string) (BookStatus, error) {
	switch v := BookStatus(canonical(s)); v {
	case BookStatusAvailable, BookStatusUnavailable:
		return v, nil
	}
	return "", Validation("unknown book status %q", s)
}

func ParseListingType(s string) (ListingType, error) {
	switch v := ListingType(canonical(s)); v {
	case ListingSale, ListingSwap, ListingDonation:
		return v, nil
	}
	return "", Validation("unknown listing type %q", s)
}

func ParseCondition(s string) (Condition, error) {
	switch v := Condition(canonical(s)); v {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair, ConditionPoor:
		return v, nil
	}
	return "", Validation("unknown book condition %q", s)
}

// Scan normalizes legacy casing ("Available", "Sale") read from the catalog.
func (s *BookStatus) Scan(src any) error {
	v, err := parseScanned(src, func(raw string) (string, error) {
		p, err := ParseBookStatus(raw)
		return string(p), err
	})
	*s = BookStatus(v)
	return err
}

func (s BookStatus) Value() (driver.Value, error) { return string(s), nil }

func (l *ListingType) Scan(src any) error {
	v, err := parseScanned(src, func(raw string) (string, error) {
		p, err := ParseListingType(raw)
		return string(p), err
	})
	*l = ListingType(v)
	return err
}

func (l ListingType) Value() (driver.Value, error) { return string(l), nil }

func (c *Condition) Scan(src any) error {
	v, err := parseScanned(src, func(raw string) (string, error) {
		p, err := ParseCondition(raw)
		return string(p), err
	})
	*c = Condition(v)
	return err
}

func (c Condition) Value() (driver.Value, error) { return string(c), nil }

func parseScanned(src any, parse func(string) (string, error)) (string, error) {
	switch v := src.(type) {
	case nil:
		return "", nil
	case string:
		return parse(v)
	case []byte:
		return parse(string(v))
	default:
		return "", fmt.Errorf("unsupported scan type %T", src)
	}
}

type Book struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Author      string          `json:"author" db:"author"`
	Price       decimal.Decimal `json:"price" db:"price"`
	OwnerID     string          `json:"owner_id" db:"owner_id"`
	Status      BookStatus      `json:"status" db:"status"`
	ListingType ListingType     `json:"listing_type" db:"listing_type"`
	Condition   Condition       `json:"condition" db:"condition"`
}
