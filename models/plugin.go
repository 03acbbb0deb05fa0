package models

import (
	"time"

	"github.com/google/uuid"
)

// Plugin is an expert persona. Its ID scopes the knowledge base it retrieves from.
type Plugin struct {
	ID           uuid.UUID `json:"id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	Domain       string    `json:"domain"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"-"`
	Version      string    `json:"version"`
	WebSearch    bool      `json:"web_search"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpertRef identifies a plugin taking part in a collaboration
type ExpertRef struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Ref returns the plugin's collaboration identity
func (p *Plugin) Ref() ExpertRef {
	return ExpertRef{Slug: p.Slug, Name: p.Name, Domain: p.Domain}
}

// Answer is the output of the single-expert pipeline
type Answer struct {
	PluginSlug     string          `json:"plugin_slug"`
	PluginVersion  string          `json:"plugin_version"`
	Query          string          `json:"query"`
	Answer         string          `json:"answer"`
	Citations      []CitationEntry `json:"citations"`
	DecisionPath   []DecisionStep  `json:"decision_path"`
	Recommendation *DecisionStep   `json:"recommendation,omitempty"`
	Confidence     Confidence      `json:"confidence"`
	Refused        bool            `json:"refused"`
	LatencyMs      int64           `json:"latency_ms"`
}
