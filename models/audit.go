package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditKind identifies which pipeline produced an audit record
type AuditKind string

const (
	AuditAnswer        AuditKind = "answer"
	AuditCollaboration AuditKind = "collaboration"
	AuditReview        AuditKind = "review"
)

// AuditRecord is an append-only log entry for one pipeline run
type AuditRecord struct {
	ID          uuid.UUID      `json:"id"`
	Kind        AuditKind      `json:"kind"`
	PluginSlugs []string       `json:"plugin_slugs"`
	Query       string         `json:"query"`
	Confidence  Confidence     `json:"confidence"`
	LatencyMs   int64          `json:"latency_ms"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
