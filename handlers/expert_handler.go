package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"expertpanel-backend/decision"
	"expertpanel-backend/models"
	"expertpanel-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TreeStore loads and replaces a plugin's active decision tree
type TreeStore interface {
	GetActive(ctx context.Context, pluginID uuid.UUID) (*models.DecisionTree, error)
	SaveActive(ctx context.Context, tree *models.DecisionTree) error
}

// ExpertHandler handles HTTP requests for single-expert operations
type ExpertHandler struct {
	answers *service.AnswerService
	trees   TreeStore
	logger  *slog.Logger
}

// NewExpertHandler creates a new expert handler
func NewExpertHandler(answers *service.AnswerService, trees TreeStore, logger *slog.Logger) *ExpertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpertHandler{answers: answers, trees: trees, logger: logger}
}

// askBody is the JSON body of the ask endpoints
type askBody struct {
	Query     string  `json:"query" binding:"required"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

// ListExperts handles GET /api/experts
func (h *ExpertHandler) ListExperts(c *gin.Context) {
	plugins, err := h.answers.ListExperts(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if plugins == nil {
		plugins = []models.Plugin{}
	}
	respondOK(c, http.StatusOK, plugins)
}

// GetExpert handles GET /api/experts/:slug
func (h *ExpertHandler) GetExpert(c *gin.Context) {
	plugin, err := h.answers.GetExpert(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, plugin)
}

// Ask handles POST /api/experts/:slug/ask
func (h *ExpertHandler) Ask(c *gin.Context) {
	req, ok := h.bindAsk(c)
	if !ok {
		return
	}

	answer, err := h.answers.Ask(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, answer)
}

// AskStream handles POST /api/experts/:slug/ask/stream
func (h *ExpertHandler) AskStream(c *gin.Context) {
	req, ok := h.bindAsk(c)
	if !ok {
		return
	}

	sse := newSSEWriter(c, h.logger)
	if _, err := h.answers.AskStream(c.Request.Context(), req, sse.Emit); err != nil {
		h.logger.Info("ask stream ended with error", "plugin", req.PluginSlug, "error", err)
	}
}

func (h *ExpertHandler) bindAsk(c *gin.Context) (service.AskRequest, bool) {
	var body askBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return service.AskRequest{}, false
	}
	return service.AskRequest{
		PluginSlug: c.Param("slug"),
		Query:      body.Query,
		TopK:       body.TopK,
		Threshold:  body.Threshold,
	}, true
}

// GetTreeGraph handles GET /api/experts/:slug/decision-tree/graph
func (h *ExpertHandler) GetTreeGraph(c *gin.Context) {
	plugin, err := h.answers.GetExpert(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	tree, err := h.trees.GetActive(c.Request.Context(), plugin.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", fmt.Sprintf("Failed to load decision tree: %v", err))
		return
	}
	if tree == nil {
		respondError(c, http.StatusNotFound, "TREE_NOT_FOUND", "Expert has no active decision tree")
		return
	}

	respondOK(c, http.StatusOK, decision.ToGraph(tree))
}

// SaveTreeGraph handles PUT /api/experts/:slug/decision-tree/graph.
// The saved tree becomes the plugin's only active tree.
func (h *ExpertHandler) SaveTreeGraph(c *gin.Context) {
	plugin, err := h.answers.GetExpert(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	var graph decision.Graph
	if err := c.ShouldBindJSON(&graph); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	tree, err := decision.FromGraph(graph)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_GRAPH", err.Error())
		return
	}
	tree.PluginID = plugin.ID
	if tree.Name == "" {
		tree.Name = plugin.Name + " decision tree"
	}

	if err := h.trees.SaveActive(c.Request.Context(), tree); err != nil {
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", fmt.Sprintf("Failed to save decision tree: %v", err))
		return
	}

	h.logger.Info("decision tree saved", "plugin", plugin.Slug, "tree_id", tree.ID, "nodes", len(tree.Nodes))
	respondOK(c, http.StatusOK, gin.H{
		"id":           tree.ID,
		"name":         tree.Name,
		"root_node_id": tree.RootNodeID,
		"nodes":        len(tree.Nodes),
	})
}
