package models

import (
	"github.com/google/uuid"
)

// Confidence grades how well an answer is grounded in its sources
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// CitationEntry is one retrieved chunk an answer actually cites
type CitationEntry struct {
	ID         string    `json:"id"`
	Document   string    `json:"document"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	SourceRank int       `json:"source_rank"` // the N in [Source N]
	Similarity float64   `json:"similarity"`
	Page       *int      `json:"page,omitempty"`
	Section    *string   `json:"section,omitempty"`
	Excerpt    string    `json:"excerpt"`
}

// CitationResult is the grounding verdict for a generated answer
type CitationResult struct {
	CleanedAnswer  string          `json:"cleaned_answer"`
	Citations      []CitationEntry `json:"citations"`
	Confidence     Confidence      `json:"confidence"`
	PhantomCount   int             `json:"phantom_count"`
	RealRefCount   int             `json:"real_ref_count"`
	UnresolvedRefs []string        `json:"unresolved_refs"`
	Refused        bool            `json:"refused"`
	RefusalReason  string          `json:"refusal_reason,omitempty"`
}
