package models

import (
	"github.com/google/uuid"
)

// AnnotationSeverity grades a review finding
type AnnotationSeverity string

const (
	SeverityError   AnnotationSeverity = "error"
	SeverityWarning AnnotationSeverity = "warning"
	SeverityInfo    AnnotationSeverity = "info"
	SeverityPass    AnnotationSeverity = "pass"
)

// Compliance is the overall verdict of a document review
type Compliance string

const (
	Compliant          Compliance = "compliant"
	PartiallyCompliant Compliance = "partially-compliant"
	NonCompliant       Compliance = "non-compliant"
)

// ReviewAnnotation is one finding against one document segment
type ReviewAnnotation struct {
	ID           string             `json:"id"`
	SegmentIndex int                `json:"segment_index"`
	StartLine    int                `json:"start_line"`
	EndLine      int                `json:"end_line"`
	OriginalText string             `json:"original_text"`
	Severity     AnnotationSeverity `json:"severity"`
	Category     string             `json:"category"`
	Issue        string             `json:"issue"`
	SuggestedFix string             `json:"suggested_fix,omitempty"`
	Citations    []CitationEntry    `json:"citations"`
	Confidence   Confidence         `json:"confidence"`
}

// ReviewSummary aggregates annotation counts
type ReviewSummary struct {
	TotalAnnotations  int        `json:"total_annotations"`
	Errors            int        `json:"errors"`
	Warnings          int        `json:"warnings"`
	Info              int        `json:"info"`
	Pass              int        `json:"pass"`
	FailedBatches     int        `json:"failed_batches"`
	OverallCompliance Compliance `json:"overall_compliance"`
}

// ReviewResult is the output of a document review
type ReviewResult struct {
	ID            uuid.UUID          `json:"id"`
	PluginSlug    string             `json:"plugin_slug"`
	DocumentTitle string             `json:"document_title"`
	TotalSegments int                `json:"total_segments"`
	TotalBatches  int                `json:"total_batches"`
	Annotations   []ReviewAnnotation `json:"annotations"`
	Summary       ReviewSummary      `json:"summary"`
	Confidence    Confidence         `json:"confidence"`
	LatencyMs     int64              `json:"latency_ms"`
}
