package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hadiulofficial/bookswap-pro-sub001/ledger"
	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
	"github.com/hadiulofficial/bookswap-pro-sub001/payment"
)

// asUser stands in for the JWT middleware.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func newRouter(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(asUser(userID))
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type fakeLedger struct {
	mu         sync.Mutex
	created    []ledger.CreateOrderInput
	createErr  error
	transition func(actorID, orderID string, status models.OrderStatus) (*models.Order, error)
}

func (f *fakeLedger) CreateOrder(_ context.Context, in ledger.CreateOrderInput) (ledger.CreateOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	if f.createErr != nil {
		return ledger.CreateOrderResult{}, f.createErr
	}
	return ledger.CreateOrderResult{OrderID: "o-1", RedirectURL: "https://checkout.example/pay/o-1"}, nil
}

func (f *fakeLedger) TransitionAs(_ context.Context, actorID, orderID string, status models.OrderStatus) (*models.Order, error) {
	return f.transition(actorID, orderID, status)
}

type fakeViews struct {
	view   *models.OrderView
	err    error
	buyer  []models.OrderView
	seller []models.OrderView
	viewer string
}

func (f *fakeViews) GetOrderView(_ context.Context, _ string, viewerID string) (*models.OrderView, error) {
	f.viewer = viewerID
	return f.view, f.err
}

func (f *fakeViews) ListBuyerViews(context.Context, string) ([]models.OrderView, error) {
	return f.buyer, f.err
}

func (f *fakeViews) ListSellerViews(context.Context, string) ([]models.OrderView, error) {
	return f.seller, f.err
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.Validation("bad"), http.StatusBadRequest},
		{models.NotFound("missing"), http.StatusNotFound},
		{models.Permission("no"), http.StatusForbidden},
		{&models.TransitionError{From: models.OrderStatusPending, To: models.OrderStatusShipped}, http.StatusConflict},
		{models.Gateway(errors.New("down"), "checkout failed"), http.StatusBadGateway},
		{models.Persistence(errors.New("conn reset"), "insert failed"), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(models.KindOf(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestOrderHandler_CreateOrder(t *testing.T) {
	l := &fakeLedger{}
	h := NewOrderHandler(l, &fakeViews{}, zaptest.NewLogger(t))
	router := newRouter("B1")
	router.POST("/v1/orders", h.CreateOrder)

	w := doJSON(t, router, http.MethodPost, "/v1/orders", `{
		"book_id": "K1",
		"seller_id": "S1",
		"amount": "19.99",
		"shipping": {"full_name": "Buyer One", "address_line1": "1 Main St", "city": "Springfield", "state": "IL", "postal_code": "62701", "country": "US"}
	}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "o-1", body["order_id"])
	assert.Equal(t, "https://checkout.example/pay/o-1", body["redirect_url"])

	require.Len(t, l.created, 1)
	in := l.created[0]
	assert.Equal(t, "B1", in.BuyerID)
	assert.Equal(t, "K1", in.BookID)
	assert.True(t, in.Amount.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, "Springfield", in.Shipping.City)
}

func TestOrderHandler_CreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantKind string
	}{
		{"malformed body", `{"book_id":`, nil, http.StatusBadRequest, "validation"},
		{"missing book", `{"seller_id":"S1","amount":"1"}`, nil, http.StatusBadRequest, "validation"},
		{"ledger validation", `{"book_id":"K1","seller_id":"S1","amount":"1"}`, models.Validation("missing city"), http.StatusBadRequest, "validation"},
		{"gateway down", `{"book_id":"K1","seller_id":"S1","amount":"1"}`, models.Gateway(errors.New("timeout"), "checkout failed"), http.StatusBadGateway, "gateway"},
		{"storage failure", `{"book_id":"K1","seller_id":"S1","amount":"1"}`, models.Persistence(errors.New("conn reset"), "insert failed"), http.StatusInternalServerError, "persistence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewOrderHandler(&fakeLedger{createErr: tt.err}, &fakeViews{}, zaptest.NewLogger(t))
			router := newRouter("B1")
			router.POST("/v1/orders", h.CreateOrder)

			w := doJSON(t, router, http.MethodPost, "/v1/orders", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantKind, decodeBody(t, w)["kind"])
		})
	}
}

func TestOrderHandler_StorageErrorsHideDetail(t *testing.T) {
	h := NewOrderHandler(&fakeLedger{createErr: models.Persistence(errors.New("pq: password authentication failed"), "insert failed")}, &fakeViews{}, zaptest.NewLogger(t))
	router := newRouter("B1")
	router.POST("/v1/orders", h.CreateOrder)

	w := doJSON(t, router, http.MethodPost, "/v1/orders", `{"book_id":"K1","seller_id":"S1","amount":"1"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestOrderHandler_GetOrder(t *testing.T) {
	views := &fakeViews{view: &models.OrderView{Order: models.Order{ID: "o-1", Status: models.OrderStatusPaid}}}
	h := NewOrderHandler(&fakeLedger{}, views, zaptest.NewLogger(t))
	router := newRouter("S1")
	router.GET("/v1/orders/:id", h.GetOrder)

	w := doJSON(t, router, http.MethodGet, "/v1/orders/o-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "S1", views.viewer)
	order := decodeBody(t, w)["order"].(map[string]any)
	assert.Equal(t, "paid", order["status"])

	views.err = models.Permission("not a party")
	w = doJSON(t, router, http.MethodGet, "/v1/orders/o-1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOrderHandler_ListOrders(t *testing.T) {
	views := &fakeViews{
		buyer:  []models.OrderView{{Order: models.Order{ID: "o-b"}}},
		seller: []models.OrderView{{Order: models.Order{ID: "o-s1"}}, {Order: models.Order{ID: "o-s2"}}},
	}
	h := NewOrderHandler(&fakeLedger{}, views, zaptest.NewLogger(t))
	router := newRouter("U1")
	router.GET("/v1/orders", h.ListOrders)

	w := doJSON(t, router, http.MethodGet, "/v1/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["orders"], 1)

	w = doJSON(t, router, http.MethodGet, "/v1/orders?role=seller", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["orders"], 2)

	w = doJSON(t, router, http.MethodGet, "/v1/orders?role=admin", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderHandler_UpdateStatus(t *testing.T) {
	l := &fakeLedger{transition: func(actorID, orderID string, status models.OrderStatus) (*models.Order, error) {
		if status == models.OrderStatusCompleted {
			return nil, &models.TransitionError{From: models.OrderStatusPaid, To: status}
		}
		return &models.Order{ID: orderID, SellerID: actorID, Status: status}, nil
	}}
	h := NewOrderHandler(l, &fakeViews{}, zaptest.NewLogger(t))
	router := newRouter("S1")
	router.PATCH("/v1/orders/:id/status", h.UpdateStatus)

	w := doJSON(t, router, http.MethodPatch, "/v1/orders/o-1/status", `{"status":"shipped"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shipped", decodeBody(t, w)["status"])

	w = doJSON(t, router, http.MethodPatch, "/v1/orders/o-1/status", `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decodeBody(t, w)["kind"])

	w = doJSON(t, router, http.MethodPatch, "/v1/orders/o-1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeNotifications struct {
	filter   models.NotificationFilter
	limit    int
	markErr  error
	markedBy string
}

func (f *fakeNotifications) ListForUser(_ context.Context, userID string, filter models.NotificationFilter, limit int) ([]models.Notification, error) {
	f.filter, f.limit = filter, limit
	return []models.Notification{{ID: "n-1", UserID: userID}}, nil
}

func (f *fakeNotifications) UnreadCount(context.Context, string) (int, error) { return 3, nil }

func (f *fakeNotifications) MarkRead(_ context.Context, _ string, userID string) error {
	f.markedBy = userID
	return f.markErr
}

func (f *fakeNotifications) MarkAllRead(context.Context, string) (int64, error) { return 2, nil }

func setupNotificationRouter(t *testing.T, svc *fakeNotifications) *gin.Engine {
	h := NewNotificationHandler(svc, zaptest.NewLogger(t))
	router := newRouter("U1")
	router.GET("/v1/notifications", h.List)
	router.GET("/v1/notifications/unread-count", h.UnreadCount)
	router.POST("/v1/notifications/read-all", h.MarkAllRead)
	router.POST("/v1/notifications/:id/read", h.MarkRead)
	return router
}

func TestNotificationHandler_ListFilters(t *testing.T) {
	svc := &fakeNotifications{}
	router := setupNotificationRouter(t, svc)

	w := doJSON(t, router, http.MethodGet, "/v1/notifications?read=false&type=PURCHASE_SHIPPED&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.filter.Read)
	assert.False(t, *svc.filter.Read)
	assert.Equal(t, models.NotificationPurchaseShipped, svc.filter.Type)
	assert.Equal(t, 5, svc.limit)

	for _, q := range []string{"read=maybe", "type=purchase", "limit=-1", "limit=ten"} {
		w := doJSON(t, router, http.MethodGet, "/v1/notifications?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestNotificationHandler_Counts(t *testing.T) {
	router := setupNotificationRouter(t, &fakeNotifications{})

	w := doJSON(t, router, http.MethodGet, "/v1/notifications/unread-count", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decodeBody(t, w)["unread"])

	w = doJSON(t, router, http.MethodPost, "/v1/notifications/read-all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["updated"])
}

func TestNotificationHandler_MarkRead(t *testing.T) {
	svc := &fakeNotifications{}
	router := setupNotificationRouter(t, svc)

	w := doJSON(t, router, http.MethodPost, "/v1/notifications/n-1/read", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "U1", svc.markedBy)

	svc.markErr = models.Permission("not yours")
	w = doJSON(t, router, http.MethodPost, "/v1/notifications/n-1/read", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

type fakeProfiles struct {
	seen    map[string]*models.Profile
	entries map[string]bool
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{seen: map[string]*models.Profile{}, entries: map[string]bool{}}
}

func (f *fakeProfiles) Ensure(_ context.Context, p *models.Profile) (bool, error) {
	if _, ok := f.seen[p.ID]; ok {
		return false, nil
	}
	f.seen[p.ID] = p
	return true, nil
}

func (f *fakeProfiles) Add(_ context.Context, userID, bookID string) (bool, error) {
	key := userID + "/" + bookID
	if f.entries[key] {
		return false, nil
	}
	f.entries[key] = true
	return true, nil
}

func (f *fakeProfiles) Remove(_ context.Context, userID, bookID string) (bool, error) {
	key := userID + "/" + bookID
	ok := f.entries[key]
	delete(f.entries, key)
	return ok, nil
}

func (f *fakeProfiles) List(_ context.Context, userID string) ([]models.WishlistEntry, error) {
	out := []models.WishlistEntry{}
	for key := range f.entries {
		if strings.HasPrefix(key, userID+"/") {
			out = append(out, models.WishlistEntry{UserID: userID, BookID: strings.TrimPrefix(key, userID+"/")})
		}
	}
	return out, nil
}

func TestProfileHandler_EnsureSession(t *testing.T) {
	store := newFakeProfiles()
	h := NewProfileHandler(store, store, zaptest.NewLogger(t))
	router := newRouter("U1")
	router.POST("/v1/session", h.EnsureSession)

	w := doJSON(t, router, http.MethodPost, "/v1/session", `{"username":"reader","email":"reader@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["created"])
	require.NotNil(t, store.seen["U1"].Username)
	assert.Equal(t, "reader", *store.seen["U1"].Username)
	assert.Nil(t, store.seen["U1"].FullName)

	w = doJSON(t, router, http.MethodPost, "/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["created"])

	w = doJSON(t, router, http.MethodPost, "/v1/session", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProfileHandler_Wishlist(t *testing.T) {
	store := newFakeProfiles()
	h := NewProfileHandler(store, store, zaptest.NewLogger(t))
	router := newRouter("U1")
	router.GET("/v1/wishlist", h.ListWishlist)
	router.POST("/v1/wishlist/:bookId", h.AddToWishlist)
	router.DELETE("/v1/wishlist/:bookId", h.RemoveFromWishlist)

	assert.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/v1/wishlist/K1", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/v1/wishlist/K1", "").Code)

	w := doJSON(t, router, http.MethodGet, "/v1/wishlist", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["wishlist"], 1)

	assert.Equal(t, http.StatusNoContent, doJSON(t, router, http.MethodDelete, "/v1/wishlist/K1", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, router, http.MethodDelete, "/v1/wishlist/K1", "").Code)
}

type fakeParser struct {
	evt payment.Event
	err error
}

func (f *fakeParser) ParseWebhook([]byte, string) (payment.Event, error) { return f.evt, f.err }

type fakeClaims struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	err      error
}

func (f *fakeClaims) Claim(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeClaims) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, id)
	f.released = append(f.released, id)
	return nil
}

type fakePayments struct {
	confirmed []string
	expired   []string
	err       error
}

func (f *fakePayments) ConfirmPayment(_ context.Context, sessionID, orderID string) (*models.Order, error) {
	f.confirmed = append(f.confirmed, sessionID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusPaid}, nil
}

func (f *fakePayments) ExpirePayment(_ context.Context, sessionID, orderID string) (*models.Order, error) {
	f.expired = append(f.expired, sessionID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusCancelled}, nil
}

func setupWebhook(t *testing.T, parser *fakeParser, claims *fakeClaims, payments *fakePayments) *gin.Engine {
	h := NewWebhookHandler(parser, claims, payments, zaptest.NewLogger(t))
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/stripe", h.Stripe)
	return router
}

func TestWebhookHandler_ConfirmsOnce(t *testing.T) {
	parser := &fakeParser{evt: payment.Event{ID: "evt_1", Kind: payment.EventPaid, SessionID: "cs_1", OrderID: "o-1"}}
	claims := &fakeClaims{claimed: map[string]bool{}}
	payments := &fakePayments{}
	router := setupWebhook(t, parser, claims, payments)

	w := doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decodeBody(t, w)["status"])

	w = doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["duplicate"])

	assert.Equal(t, []string{"cs_1"}, payments.confirmed)
}

func TestWebhookHandler_Expired(t *testing.T) {
	parser := &fakeParser{evt: payment.Event{ID: "evt_2", Kind: payment.EventExpired, SessionID: "cs_2", OrderID: "o-2"}}
	payments := &fakePayments{}
	router := setupWebhook(t, parser, &fakeClaims{claimed: map[string]bool{}}, payments)

	w := doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"cs_2"}, payments.expired)
}

func TestWebhookHandler_BadSignature(t *testing.T) {
	parser := &fakeParser{err: models.Permission("invalid webhook signature")}
	payments := &fakePayments{}
	router := setupWebhook(t, parser, &fakeClaims{claimed: map[string]bool{}}, payments)

	w := doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, payments.confirmed)
}

func TestWebhookHandler_IgnoredEvent(t *testing.T) {
	parser := &fakeParser{evt: payment.Event{ID: "evt_3", Kind: payment.EventIgnored}}
	claims := &fakeClaims{claimed: map[string]bool{}}
	payments := &fakePayments{}
	router := setupWebhook(t, parser, claims, payments)

	w := doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, claims.claimed)
	assert.Empty(t, payments.confirmed)
}

func TestWebhookHandler_TransientFailureReleasesClaim(t *testing.T) {
	parser := &fakeParser{evt: payment.Event{ID: "evt_4", Kind: payment.EventPaid, SessionID: "cs_4", OrderID: "o-4"}}
	claims := &fakeClaims{claimed: map[string]bool{}}
	payments := &fakePayments{err: models.Persistence(errors.New("conn reset"), "update failed")}
	router := setupWebhook(t, parser, claims, payments)

	w := doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, []string{"evt_4"}, claims.released)

	payments.err = nil
	w = doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, payments.confirmed, 2)
}

func TestWebhookHandler_PermanentFailureAcknowledged(t *testing.T) {
	parser := &fakeParser{evt: payment.Event{ID: "evt_5", Kind: payment.EventPaid, SessionID: "cs_5", OrderID: "o-5"}}
	claims := &fakeClaims{claimed: map[string]bool{}}
	payments := &fakePayments{err: &models.TransitionError{From: models.OrderStatusCancelled, To: models.OrderStatusPaid}}
	router := setupWebhook(t, parser, claims, payments)

	w := doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["applied"])
	assert.Equal(t, "invalid_transition", body["kind"])
	assert.Empty(t, claims.released)
}

func TestWebhookHandler_DedupUnavailableStillProcesses(t *testing.T) {
	parser := &fakeParser{evt: payment.Event{ID: "evt_6", Kind: payment.EventPaid, SessionID: "cs_6", OrderID: "o-6"}}
	payments := &fakePayments{}
	router := setupWebhook(t, parser, &fakeClaims{err: errors.New("redis down")}, payments)

	w := doJSON(t, router, http.MethodPost, "/webhooks/stripe", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"cs_6"}, payments.confirmed)
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}
