package handlers

import (
	"log/slog"
	"net/http"

	"expertpanel-backend/service"

	"github.com/gin-gonic/gin"
)

// ReviewHandler handles HTTP requests for document review
type ReviewHandler struct {
	reviews *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(reviews *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewHandler{reviews: reviews, logger: logger}
}

// Review handles POST /api/review
func (h *ReviewHandler) Review(c *gin.Context) {
	var req service.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.reviews.Review(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// ReviewStream handles POST /api/review/stream
func (h *ReviewHandler) ReviewStream(c *gin.Context) {
	var req service.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sse := newSSEWriter(c, h.logger)
	if _, err := h.reviews.ReviewStream(c.Request.Context(), req, sse.Emit); err != nil {
		h.logger.Info("review stream ended with error", "plugin", req.PluginSlug, "error", err)
	}
}
