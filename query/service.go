package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

type OrderReader interface {
	FindByID(ctx context.Context, id string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error)
	ListBySeller(ctx context.Context, sellerID string) ([]models.Order, error)
}

type BookReader interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*models.Book, error)
}

type ShippingReader interface {
	FindByOrderID(ctx context.Context, orderID string) (*models.ShippingDetails, error)
	FindByOrderIDs(ctx context.Context, orderIDs []string) (map[string]*models.ShippingDetails, error)
}

type ProfileReader interface {
	FindPublicByIDs(ctx context.Context, ids []string) (map[string]*models.PublicProfile, error)
}

// ViewCache stores serialized order views. Get returns ok=false on a miss.
type ViewCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool, error)
	Set(ctx context.Context, orderID string, data []byte, ttl time.Duration) error
}

// Service assembles read models of orders for the dashboards.
type Service struct {
	orders   OrderReader
	books    BookReader
	shipping ShippingReader
	profiles ProfileReader
	cache    ViewCache
	ttl      time.Duration
	logger   *zap.Logger
}

func NewService(orders OrderReader, books BookReader, shipping ShippingReader, profiles ProfileReader, cache ViewCache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		orders:   orders,
		books:    books,
		shipping: shipping,
		profiles: profiles,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.Named("query"),
	}
}

// GetOrderView returns the order with its book, shipping address and, for
// the seller, the buyer's public profile. viewerID must be a party.
func (s *Service) GetOrderView(ctx context.Context, orderID, viewerID string) (*models.OrderView, error) {
	view, err := s.cachedView(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !view.Order.HasParty(viewerID) {
		return nil, models.Permission("order %s is not visible to user %s", orderID, viewerID)
	}
	if viewerID != view.Order.SellerID {
		view.Buyer = nil
	}
	return view, nil
}

func (s *Service) cachedView(ctx context.Context, orderID string) (*models.OrderView, error) {
	traceID := middleware.GetTraceID(ctx)

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, orderID)
		switch {
		case err != nil:
			s.logger.Warn("Order view cache read failed", zap.String("trace_id", traceID), zap.String("order_id", orderID), zap.Error(err))
		case ok:
			var view models.OrderView
			if err := json.Unmarshal(data, &view); err == nil {
				return &view, nil
			}
			s.logger.Warn("Discarding undecodable cached order view", zap.String("trace_id", traceID), zap.String("order_id", orderID))
		}
	}

	view, err := s.loadView(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		data, err := json.Marshal(view)
		if err == nil {
			err = s.cache.Set(ctx, orderID, data, s.ttl)
		}
		if err != nil {
			s.logger.Warn("Order view cache write failed", zap.String("trace_id", traceID), zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return view, nil
}

func (s *Service) loadView(ctx context.Context, orderID string) (*models.OrderView, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	view := &models.OrderView{Order: *o}

	book, err := s.books.FindByID(ctx, o.BookID)
	switch {
	case err == nil:
		view.Book = book
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	if view.Shipping, err = s.shipping.FindByOrderID(ctx, o.ID); err != nil {
		return nil, err
	}

	profiles, err := s.profiles.FindPublicByIDs(ctx, []string{o.BuyerID})
	if err != nil {
		return nil, err
	}
	view.Buyer = profiles[o.BuyerID]
	return view, nil
}

// ListBuyerViews returns the buyer's orders, newest first.
func (s *Service) ListBuyerViews(ctx context.Context, buyerID string) ([]models.OrderView, error) {
	orders, err := s.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, orders, false)
}

// ListSellerViews returns the seller's orders, newest first, with buyer profiles.
func (s *Service) ListSellerViews(ctx context.Context, sellerID string) ([]models.OrderView, error) {
	orders, err := s.orders.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, orders, true)
}

func (s *Service) assemble(ctx context.Context, orders []models.Order, withBuyers bool) ([]models.OrderView, error) {
	views := make([]models.OrderView, 0, len(orders))
	if len(orders) == 0 {
		return views, nil
	}

	orderIDs := make([]string, 0, len(orders))
	bookIDs := make([]string, 0, len(orders))
	buyerIDs := make([]string, 0, len(orders))
	seenBook := map[string]bool{}
	seenBuyer := map[string]bool{}
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
		if !seenBook[o.BookID] {
			seenBook[o.BookID] = true
			bookIDs = append(bookIDs, o.BookID)
		}
		if !seenBuyer[o.BuyerID] {
			seenBuyer[o.BuyerID] = true
			buyerIDs = append(buyerIDs, o.BuyerID)
		}
	}

	books, err := s.books.FindByIDs(ctx, bookIDs)
	if err != nil {
		return nil, err
	}
	addresses, err := s.shipping.FindByOrderIDs(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	var buyers map[string]*models.PublicProfile
	if withBuyers {
		if buyers, err = s.profiles.FindPublicByIDs(ctx, buyerIDs); err != nil {
			return nil, err
		}
	}

	for _, o := range orders {
		views = append(views, models.OrderView{
			Order:    o,
			Book:     books[o.BookID],
			Shipping: addresses[o.ID],
			Buyer:    buyers[o.BuyerID],
		})
	}
	return views, nil
}
