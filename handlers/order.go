package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/ledger"
	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

type OrderLedger interface {
	CreateOrder(ctx context.Context, in ledger.CreateOrderInput) (ledger.CreateOrderResult, error)
	TransitionAs(ctx context.Context, actorID, orderID string, status models.OrderStatus) (*models.Order, error)
}

type OrderViews interface {
	GetOrderView(ctx context.Context, orderID, viewerID string) (*models.OrderView, error)
	ListBuyerViews(ctx context.Context, buyerID string) ([]models.OrderView, error)
	ListSellerViews(ctx context.Context, sellerID string) ([]models.OrderView, error)
}

type OrderHandler struct {
	ledger OrderLedger
	views  OrderViews
	logger *zap.Logger
}

func NewOrderHandler(l OrderLedger, views OrderViews, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{ledger: l, views: views, logger: logger}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("bookswap-http").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	buyerID := middleware.UserID(c)
	span.SetAttributes(
		attribute.String("buyer.id", buyerID),
		attribute.String("book.id", req.BookID),
	)

	res, err := h.ledger.CreateOrder(ctx, ledger.CreateOrderInput{
		BuyerID:    buyerID,
		BookID:     req.BookID,
		SellerID:   req.SellerID,
		Amount:     req.Amount,
		Shipping:   req.Shipping,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, "Failed to create order", err)
		return
	}

	span.SetAttributes(attribute.String("order.id", res.OrderID))
	c.JSON(http.StatusCreated, models.CreateOrderResponse{OrderID: res.OrderID, RedirectURL: res.RedirectURL})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("bookswap-http").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order.id", orderID))

	view, err := h.views.GetOrderView(ctx, orderID, middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to get order", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListOrders serves the caller's purchases (role=buyer, the default) or sales
// (role=seller).
func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx, span := otel.Tracer("bookswap-http").Start(c.Request.Context(), "ListOrders")
	defer span.End()

	userID := middleware.UserID(c)
	role := c.DefaultQuery("role", "buyer")
	span.SetAttributes(attribute.String("role", role))

	var (
		views []models.OrderView
		err   error
	)
	switch role {
	case "buyer":
		views, err = h.views.ListBuyerViews(ctx, userID)
	case "seller":
		views, err = h.views.ListSellerViews(ctx, userID)
	default:
		respondError(c, h.logger, "Invalid role", models.Validation("role must be buyer or seller, got %q", role))
		return
	}
	if err != nil {
		respondError(c, h.logger, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	ctx, span := otel.Tracer("bookswap-http").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	orderID := c.Param("id")
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", req.Status),
	)

	order, err := h.ledger.TransitionAs(ctx, middleware.UserID(c), orderID, models.OrderStatus(req.Status))
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, "Failed to update order status", err)
		return
	}

	h.logger.Info("Order status updated via API",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)
	c.JSON(http.StatusOK, order)
}
