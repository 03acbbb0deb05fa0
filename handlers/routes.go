package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers groups the API handlers mounted by RegisterRoutes. Nil handlers are skipped.
type Handlers struct {
	Experts       *ExpertHandler
	Collaboration *CollaborationHandler
	Reviews       *ReviewHandler
	Files         *FileHandler
	Audit         *AuditHandler
}

// RegisterRoutes mounts the health check and the /api routes
func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")

	if h.Experts != nil {
		api.GET("/experts", h.Experts.ListExperts)
		api.GET("/experts/:slug", h.Experts.GetExpert)
		api.POST("/experts/:slug/ask", h.Experts.Ask)
		api.POST("/experts/:slug/ask/stream", h.Experts.AskStream)
		api.GET("/experts/:slug/decision-tree/graph", h.Experts.GetTreeGraph)
		api.PUT("/experts/:slug/decision-tree/graph", h.Experts.SaveTreeGraph)
	}

	if h.Collaboration != nil {
		api.POST("/collaborate", h.Collaboration.Collaborate)
		api.POST("/collaborate/stream", h.Collaboration.CollaborateStream)
	}

	if h.Reviews != nil {
		api.POST("/review", h.Reviews.Review)
		api.POST("/review/stream", h.Reviews.ReviewStream)
	}

	if h.Files != nil {
		api.POST("/files/upload", h.Files.UploadFile)
		api.GET("/files/:id", h.Files.GetFile)
		api.DELETE("/files/:id", h.Files.DeleteFile)
	}

	if h.Audit != nil {
		api.GET("/audit", h.Audit.ListRecent)
	}
}
