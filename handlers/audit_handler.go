package handlers

import (
	"context"
	"net/http"
	"strconv"

	"expertpanel-backend/models"

	"github.com/gin-gonic/gin"
)

// AuditLog reads pipeline audit records
type AuditLog interface {
	ListRecent(ctx context.Context, kind models.AuditKind, limit int) ([]models.AuditRecord, error)
}

// AuditHandler exposes the audit log
type AuditHandler struct {
	audit AuditLog
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit AuditLog) *AuditHandler {
	return &AuditHandler{audit: audit}
}

const maxAuditLimit = 200

// ListRecent handles GET /api/audit?kind=answer&limit=50
func (h *AuditHandler) ListRecent(c *gin.Context) {
	kind := models.AuditKind(c.DefaultQuery("kind", string(models.AuditAnswer)))
	switch kind {
	case models.AuditAnswer, models.AuditCollaboration, models.AuditReview:
	default:
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "kind must be answer, collaboration or review")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > maxAuditLimit {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 200")
		return
	}

	records, err := h.audit.ListRecent(c.Request.Context(), kind, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}

	respondOK(c, http.StatusOK, records)
}
