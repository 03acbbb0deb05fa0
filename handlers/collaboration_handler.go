package handlers

import (
	"log/slog"
	"net/http"

	"expertpanel-backend/service"

	"github.com/gin-gonic/gin"
)

// CollaborationHandler handles HTTP requests for multi-expert deliberation
type CollaborationHandler struct {
	collaboration *service.CollaborationService
	logger        *slog.Logger
}

// NewCollaborationHandler creates a new collaboration handler
func NewCollaborationHandler(collaboration *service.CollaborationService, logger *slog.Logger) *CollaborationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollaborationHandler{collaboration: collaboration, logger: logger}
}

// Collaborate handles POST /api/collaborate
func (h *CollaborationHandler) Collaborate(c *gin.Context) {
	var req service.CollaborateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.collaboration.Collaborate(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// CollaborateStream handles POST /api/collaborate/stream
func (h *CollaborationHandler) CollaborateStream(c *gin.Context) {
	var req service.CollaborateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sse := newSSEWriter(c, h.logger)
	if _, err := h.collaboration.CollaborateStream(c.Request.Context(), req, sse.Emit); err != nil {
		h.logger.Info("collaboration stream ended with error", "experts", req.PluginSlugs, "error", err)
	}
}
