package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

type NotificationService interface {
	ListForUser(ctx context.Context, userID string, filter models.NotificationFilter, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, notificationID, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type NotificationHandler struct {
	notifications NotificationService
	logger        *zap.Logger
}

func NewNotificationHandler(svc NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: svc, logger: logger}
}

func (h *NotificationHandler) List(c *gin.Context) {
	var filter models.NotificationFilter
	if v := c.Query("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, h.logger, "Invalid read filter", models.Validation("read must be true or false, got %q", v))
			return
		}
		filter.Read = &read
	}
	if v := c.Query("type"); v != "" {
		typ, err := models.ParseNotificationType(v)
		if err != nil {
			respondError(c, h.logger, "Invalid type filter", err)
			return
		}
		filter.Type = typ
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(c, h.logger, "Invalid limit", models.Validation("limit must be a non-negative integer, got %q", v))
			return
		}
		limit = n
	}

	list, err := h.notifications.ListForUser(c.Request.Context(), middleware.UserID(c), filter, limit)
	if err != nil {
		respondError(c, h.logger, "Failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.notifications.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to count notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		respondError(c, h.logger, "Failed to mark notification read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.notifications.MarkAllRead(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to mark notifications read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
