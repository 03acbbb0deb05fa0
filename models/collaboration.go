package models

import (
	"github.com/google/uuid"
)

// CollaborationMode selects the deliberation protocol
type CollaborationMode string

const (
	ModeDebate    CollaborationMode = "debate"
	ModeConsensus CollaborationMode = "consensus"
	ModeReview    CollaborationMode = "review"
)

// ExpertResponse is one expert's answer within one round
type ExpertResponse struct {
	PluginSlug   string          `json:"plugin_slug"`
	PluginName   string          `json:"plugin_name"`
	Domain       string          `json:"domain"`
	Answer       string          `json:"answer"`
	Citations    []CitationEntry `json:"citations"`
	Confidence   Confidence      `json:"confidence"`
	Revised      bool            `json:"revised"`
	RevisionNote string          `json:"revision_note,omitempty"`
}

// CollaborationRound groups the responses produced in one round
type CollaborationRound struct {
	RoundNumber int              `json:"round_number"`
	Responses   []ExpertResponse `json:"responses"`
}

// ConflictPosition is one expert's stance on a disputed topic
type ConflictPosition struct {
	PluginSlug string `json:"plugin_slug"`
	Position   string `json:"position"`
}

// Conflict is a topic the experts disagree on
type Conflict struct {
	Topic     string             `json:"topic"`
	Positions []ConflictPosition `json:"positions"`
}

// ExpertContribution summarizes what one expert brought to the consensus
type ExpertContribution struct {
	PluginSlug string   `json:"plugin_slug"`
	PluginName string   `json:"plugin_name"`
	Domain     string   `json:"domain"`
	KeyPoints  []string `json:"key_points"`
}

// ConsensusData is the synthesized outcome of a deliberation
type ConsensusData struct {
	Answer              string               `json:"answer"`
	Confidence          Confidence           `json:"confidence"`
	AgreementLevel      float64              `json:"agreement_level"`
	Citations           []CitationEntry      `json:"citations"`
	Conflicts           []Conflict           `json:"conflicts"`
	ExpertContributions []ExpertContribution `json:"expert_contributions"`
}

// CollaborationResult is the output of a multi-expert collaboration
type CollaborationResult struct {
	ID        uuid.UUID            `json:"id"`
	Query     string               `json:"query"`
	Mode      CollaborationMode    `json:"mode"`
	Experts   []ExpertRef          `json:"experts"`
	Rounds    []CollaborationRound `json:"rounds"`
	Consensus ConsensusData        `json:"consensus"`
	LatencyMs int64                `json:"latency_ms"`
}
