package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/hadiulofficial/bookswap-pro-sub001/models"
	"github.com/hadiulofficial/bookswap-pro-sub001/payment"
	"github.com/hadiulofficial/bookswap-pro-sub001/shipping"
)

type memOrders struct {
	mu           sync.Mutex
	rows         map[string]*models.Order
	clock        time.Time
	attachErr    error
	deleteErr    error
	insertErr    error
	beforeUpdate func(id string)
	hasShipping  func(orderID string) bool
	onDelete     func(orderID string)
	honorCtx     bool // fail writes on a done context, like database/sql
}

func newMemOrders() *memOrders {
	return &memOrders{rows: map[string]*models.Order{}, clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memOrders) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memOrders) put(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.tick()
	}
	o.UpdatedAt = o.CreatedAt
	m.rows[o.ID] = &o
}

func (m *memOrders) get(id string) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

func (m *memOrders) Insert(_ context.Context, o *models.Order) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o.CreatedAt = m.tick()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.rows[o.ID] = &cp
	return nil
}

func (m *memOrders) ctxErr(ctx context.Context) error {
	if m.honorCtx && ctx.Err() != nil {
		return models.Persistence(ctx.Err(), "failed to write order")
	}
	return nil
}

func (m *memOrders) DeletePending(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if err := m.ctxErr(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	o, ok := m.rows[id]
	if !ok || o.Status != models.OrderStatusPending {
		m.mu.Unlock()
		return models.NotFound("pending order %s not found", id)
	}
	delete(m.rows, id)
	m.mu.Unlock()
	if m.onDelete != nil {
		m.onDelete(id)
	}
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id string) (*models.Order, error) {
	if o := m.get(id); o != nil {
		return o, nil
	}
	return nil, models.NotFound("order %s not found", id)
}

func (m *memOrders) FindBySession(_ context.Context, sessionID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.StripeSessionID != nil && *o.StripeSessionID == sessionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, models.NotFound("order %s not found", sessionID)
}

func (m *memOrders) UpdateStatusIf(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, bool, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(id)
	}
	if err := m.ctxErr(ctx); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || o.Status != from {
		return nil, false, nil
	}
	o.Status = to
	o.UpdatedAt = m.tick()
	cp := *o
	return &cp, true, nil
}

func (m *memOrders) AttachSession(_ context.Context, id, sessionID string) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || (o.StripeSessionID != nil && *o.StripeSessionID != sessionID) {
		return models.NotFound("order %s not found or linked to another session", id)
	}
	o.StripeSessionID = &sessionID
	return nil
}

func (m *memOrders) ListByBuyer(_ context.Context, buyerID string) ([]models.Order, error) {
	return m.filter(func(o *models.Order) bool { return o.BuyerID == buyerID }), nil
}

func (m *memOrders) ListBySeller(_ context.Context, sellerID string) ([]models.Order, error) {
	return m.filter(func(o *models.Order) bool { return o.SellerID == sellerID }), nil
}

func (m *memOrders) ListStalePending(_ context.Context, cutoff time.Time) ([]models.Order, error) {
	out := m.filter(func(o *models.Order) bool {
		if o.Status != models.OrderStatusPending || !o.CreatedAt.Before(cutoff) {
			return false
		}
		return o.StripeSessionID == nil || m.hasShipping == nil || !m.hasShipping(o.ID)
	})
	return out, nil
}

func (m *memOrders) filter(keep func(*models.Order) bool) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.rows {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

type memShipping struct {
	mu       sync.Mutex
	rows     map[string]models.ShippingDetails
	err      error
	onInsert func()
}

func (s *memShipping) Insert(ctx context.Context, d *models.ShippingDetails) error {
	if s.onInsert != nil {
		s.onInsert()
	}
	if s.err != nil {
		return s.err
	}
	if ctx.Err() != nil {
		return models.Persistence(ctx.Err(), "failed to insert shipping details")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[d.OrderID]; ok {
		return models.Persistence(errors.New("duplicate key"), "failed to insert shipping details")
	}
	s.rows[d.OrderID] = *d
	return nil
}

func (s *memShipping) FindByOrderID(_ context.Context, orderID string) (*models.ShippingDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[orderID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *memShipping) has(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[orderID]
	return ok
}

func (s *memShipping) remove(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, orderID)
}

type fakeCatalog struct {
	mu     sync.Mutex
	books  map[string]*models.Book
	marked []string
	err    error
}

func (c *fakeCatalog) FindByID(_ context.Context, id string) (*models.Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[id]
	if !ok {
		return nil, models.NotFound("book %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (c *fakeCatalog) MarkUnavailable(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.marked = append(c.marked, id)
	return nil
}

type fakeGateway struct {
	mu     sync.Mutex
	reqs   []payment.CheckoutRequest
	errs   []error
	onCall func()
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.onCall != nil {
		g.onCall()
	}
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return payment.Session{}, err
		}
	}
	return payment.Session{ID: "cs_" + req.OrderID, RedirectURL: "https://checkout.example/pay/" + req.OrderID}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (n *fakeNotifier) NotifyOrderEvent(_ context.Context, evt models.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, evt models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeViews struct {
	mu           sync.Mutex
	invalidated  []string
	onInvalidate func(orderID string)
}

func (v *fakeViews) Invalidate(_ context.Context, orderID string) error {
	if v.onInvalidate != nil {
		v.onInvalidate(orderID)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalidated = append(v.invalidated, orderID)
	return nil
}

type fixture struct {
	ledger    *Ledger
	orders    *memOrders
	shipping  *memShipping
	catalog   *fakeCatalog
	gateway   *fakeGateway
	notifier  *fakeNotifier
	publisher *fakePublisher
	views     *fakeViews
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &fixture{
		orders:   newMemOrders(),
		shipping: &memShipping{rows: map[string]models.ShippingDetails{}},
		catalog: &fakeCatalog{books: map[string]*models.Book{
			"K1": {ID: "K1", Title: "The Left Hand of Darkness", Price: decimal.RequireFromString("19.99"), OwnerID: "S1", Status: models.BookStatusAvailable, ListingType: models.ListingSale, Condition: models.ConditionGood},
			"K2": {ID: "K2", Title: "Sold Out", OwnerID: "S1", Status: models.BookStatusUnavailable, ListingType: models.ListingSale},
		}},
		gateway:   &fakeGateway{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		views:     &fakeViews{},
	}
	f.orders.hasShipping = f.shipping.has
	f.orders.onDelete = f.shipping.remove

	f.ledger = New(Deps{
		Orders:    f.orders,
		Catalog:   f.catalog,
		Shipping:  shipping.NewCapture(f.shipping, logger),
		Gateway:   f.gateway,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Views:     f.views,
	}, "https://app.example/success", "https://app.example/cancel", logger)
	return f
}

func validShipping() models.ShippingDetails {
	return models.ShippingDetails{
		FullName:     "Buyer One",
		AddressLine1: "1 Main St",
		City:         "Springfield",
		State:        "IL",
		PostalCode:   "62701",
		Country:      "US",
	}
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		BuyerID:  "B1",
		BookID:   "K1",
		SellerID: "S1",
		Amount:   decimal.RequireFromString("19.99"),
		Shipping: validShipping(),
	}
}

// seedOrder stores an order between B1 and S1 for book K1 in status.
func (f *fixture) seedOrder(id string, status models.OrderStatus) {
	f.orders.put(models.Order{
		ID:       id,
		BuyerID:  "B1",
		BookID:   "K1",
		SellerID: "S1",
		Amount:   decimal.RequireFromString("19.99"),
		Status:   status,
	})
}
