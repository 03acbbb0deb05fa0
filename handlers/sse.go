package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"expertpanel-backend/models"

	"github.com/gin-gonic/gin"
)

// sseWriter writes pipeline events to a streaming response as
// "event: <name>\ndata: <json>\n\n" frames
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	failed  bool
}

// newSSEWriter sets the streaming headers and commits the 200 status
func newSSEWriter(c *gin.Context, logger *slog.Logger) *sseWriter {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	s := &sseWriter{w: c.Writer, logger: logger}
	if f, ok := c.Writer.(http.Flusher); ok {
		s.flusher = f
		f.Flush()
	}
	return s
}

// Emit writes one event. After the first write failure (client gone) later events are dropped.
func (s *sseWriter) Emit(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal stream event", "event", eventName(ev), "error", err)
		return
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventName(ev), data); err != nil {
		s.failed = true
		s.logger.Warn("Warning: stream client disconnected", "error", err)
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// eventName returns the SSE event name for ev
func eventName(ev models.Event) string {
	switch ev.(type) {
	case models.StatusEvent:
		return "status"
	case models.TextDeltaEvent:
		return "text-delta"
	case models.ToolCallEvent:
		return "tool-call"
	case models.ToolResultEvent:
		return "tool-result"
	case models.ExpertResolvedEvent:
		return "expert_resolved"
	case models.RoundStartEvent:
		return "round_start"
	case models.ExpertThinkingEvent:
		return "expert_thinking"
	case models.ExpertResponseEvent:
		return "expert_response"
	case models.RoundCompleteEvent:
		return "round_complete"
	case models.SynthesizingEvent:
		return "synthesizing"
	case models.ReviewStartEvent:
		return "review_start"
	case models.BatchStartEvent:
		return "batch_start"
	case models.AnnotationEvent:
		return "annotation"
	case models.BatchCompleteEvent:
		return "batch_complete"
	case models.BatchErrorEvent:
		return "batch_error"
	case models.DoneEvent:
		return "done"
	case models.ErrorEvent:
		return "error"
	default:
		panic(fmt.Sprintf("handlers: unhandled event type %T", ev))
	}
}
