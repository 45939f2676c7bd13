package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/middleware"
	"github.com/hadiulofficial/bookswap-pro-sub001/models"
)

type ProfileStore interface {
	Ensure(ctx context.Context, p *models.Profile) (bool, error)
}

type WishlistStore interface {
	Add(ctx context.Context, userID, bookID string) (bool, error)
	Remove(ctx context.Context, userID, bookID string) (bool, error)
	List(ctx context.Context, userID string) ([]models.WishlistEntry, error)
}

type ProfileHandler struct {
	profiles ProfileStore
	wishlist WishlistStore
	logger   *zap.Logger
}

func NewProfileHandler(profiles ProfileStore, wishlist WishlistStore, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, wishlist: wishlist, logger: logger}
}

// EnsureSession creates the caller's profile on first sign-in. An existing
// profile is left untouched.
func (h *ProfileHandler) EnsureSession(c *gin.Context) {
	var req models.EnsureProfileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	userID := middleware.UserID(c)
	created, err := h.profiles.Ensure(c.Request.Context(), &models.Profile{
		ID:       userID,
		Username: optional(req.Username),
		FullName: optional(req.FullName),
		Email:    optional(req.Email),
	})
	if err != nil {
		respondError(c, h.logger, "Failed to ensure profile", err)
		return
	}
	if created {
		h.logger.Info("Profile created",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("user_id", userID),
		)
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "created": created})
}

func (h *ProfileHandler) ListWishlist(c *gin.Context) {
	entries, err := h.wishlist.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to list wishlist", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wishlist": entries})
}

func (h *ProfileHandler) AddToWishlist(c *gin.Context) {
	bookID := strings.TrimSpace(c.Param("bookId"))
	if bookID == "" {
		respondError(c, h.logger, "Invalid book", models.Validation("book id is required"))
		return
	}
	created, err := h.wishlist.Add(c.Request.Context(), middleware.UserID(c), bookID)
	if err != nil {
		respondError(c, h.logger, "Failed to add wishlist entry", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"book_id": bookID, "created": created})
}

func (h *ProfileHandler) RemoveFromWishlist(c *gin.Context) {
	removed, err := h.wishlist.Remove(c.Request.Context(), middleware.UserID(c), c.Param("bookId"))
	if err != nil {
		respondError(c, h.logger, "Failed to remove wishlist entry", err)
		return
	}
	if !removed {
		respondError(c, h.logger, "Wishlist entry not found", models.NotFound("book %s is not on the wishlist", c.Param("bookId")))
		return
	}
	c.Status(http.StatusNoContent)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
