package service

import (
	"context"
	"fmt"
	"strings"

	"expertpanel-backend/llm"
	"expertpanel-backend/models"
)

const synthesisSystemPrompt = `You are a neutral moderator summarizing a panel of domain experts.
Return ONLY a JSON object with this exact structure:
{
  "answer": "the consolidated answer in plain prose",
  "confidence": "high" | "medium" | "low",
  "agreement_level": number between 0 and 1,
  "conflicts": [
    {"topic": "what they disagree on", "positions": [{"plugin_slug": "expert slug", "position": "their stance"}]}
  ],
  "expert_contributions": [
    {"plugin_slug": "expert slug", "key_points": ["short point", "short point"]}
  ]
}
Do not add facts the experts did not state.`

const (
	fallbackAgreement = 0.5
	fallbackKeyPoints = 2
)

// synthesisOutput mirrors the JSON the moderator is asked for
type synthesisOutput struct {
	Answer         string  `json:"answer"`
	Confidence     string  `json:"confidence"`
	AgreementLevel float64 `json:"agreement_level"`
	Conflicts      []struct {
		Topic     string `json:"topic"`
		Positions []struct {
			PluginSlug string `json:"plugin_slug"`
			Position   string `json:"position"`
		} `json:"positions"`
	} `json:"conflicts"`
	ExpertContributions []struct {
		PluginSlug string   `json:"plugin_slug"`
		KeyPoints  []string `json:"key_points"`
	} `json:"expert_contributions"`
}

// synthesize turns the transcript into a consensus. An unparseable reply
// falls back to the raw text; only a failed model call is an error.
func (s *CollaborationService) synthesize(
	ctx context.Context,
	query string,
	experts []*models.Plugin,
	rounds []models.CollaborationRound,
) (*models.ConsensusData, error) {
	prompt := fmt.Sprintf("## Question\n\n%s\n\n## Panel transcript\n\n%s\n", query, formatTranscript(rounds))

	raw, err := s.llm.Complete(ctx, llm.Request{
		System:      synthesisSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   synthesisMaxTokens,
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		return nil, upstreamErr(ErrGenerationFailed, err)
	}

	consensus := parseConsensus(raw, experts, rounds)
	if consensus == nil {
		s.logger.Warn("Warning: could not parse synthesis output, using raw text")
		consensus = fallbackConsensus(raw, rounds)
	}
	consensus.Citations = mergeCitations(rounds)
	return consensus, nil
}

// parseConsensus decodes the moderator reply. It returns nil when the reply
// is not the expected structure.
func parseConsensus(raw string, experts []*models.Plugin, rounds []models.CollaborationRound) *models.ConsensusData {
	var out synthesisOutput
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return nil
	}
	if strings.TrimSpace(out.Answer) == "" {
		return nil
	}

	bySlug := make(map[string]*models.Plugin, len(experts))
	for _, p := range experts {
		bySlug[p.Slug] = p
	}

	consensus := &models.ConsensusData{
		Answer:              strings.TrimSpace(out.Answer),
		Confidence:          normalizeConfidence(out.Confidence),
		AgreementLevel:      clamp01(out.AgreementLevel),
		Conflicts:           []models.Conflict{},
		ExpertContributions: []models.ExpertContribution{},
	}

	for _, c := range out.Conflicts {
		conflict := models.Conflict{Topic: c.Topic, Positions: []models.ConflictPosition{}}
		for _, p := range c.Positions {
			conflict.Positions = append(conflict.Positions, models.ConflictPosition{
				PluginSlug: p.PluginSlug,
				Position:   p.Position,
			})
		}
		consensus.Conflicts = append(consensus.Conflicts, conflict)
	}

	for _, c := range out.ExpertContributions {
		contribution := models.ExpertContribution{PluginSlug: c.PluginSlug, KeyPoints: c.KeyPoints}
		if p, ok := bySlug[c.PluginSlug]; ok {
			contribution.PluginName = p.Name
			contribution.Domain = p.Domain
		}
		if contribution.KeyPoints == nil {
			contribution.KeyPoints = []string{}
		}
		consensus.ExpertContributions = append(consensus.ExpertContributions, contribution)
	}
	if len(consensus.ExpertContributions) == 0 {
		consensus.ExpertContributions = lastRoundContributions(rounds)
	}

	return consensus
}

func fallbackConsensus(raw string, rounds []models.CollaborationRound) *models.ConsensusData {
	return &models.ConsensusData{
		Answer:              strings.TrimSpace(raw),
		Confidence:          models.ConfidenceMedium,
		AgreementLevel:      fallbackAgreement,
		Conflicts:           []models.Conflict{},
		ExpertContributions: lastRoundContributions(rounds),
	}
}

// lastRoundContributions derives contributions from the final round, using
// each answer's opening sentences as key points
func lastRoundContributions(rounds []models.CollaborationRound) []models.ExpertContribution {
	out := []models.ExpertContribution{}
	if len(rounds) == 0 {
		return out
	}

	for _, r := range rounds[len(rounds)-1].Responses {
		points := splitSentences(r.Answer)
		if len(points) > fallbackKeyPoints {
			points = points[:fallbackKeyPoints]
		}
		if points == nil {
			points = []string{}
		}
		out = append(out, models.ExpertContribution{
			PluginSlug: r.PluginSlug,
			PluginName: r.PluginName,
			Domain:     r.Domain,
			KeyPoints:  points,
		})
	}
	return out
}

// mergeCitations collects every round's citations, dropping exact
// (document, excerpt) duplicates and keeping first-seen order
func mergeCitations(rounds []models.CollaborationRound) []models.CitationEntry {
	type key struct{ document, excerpt string }

	seen := map[key]bool{}
	out := []models.CitationEntry{}
	for _, round := range rounds {
		for _, resp := range round.Responses {
			for _, c := range resp.Citations {
				k := key{c.Document, c.Excerpt}
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func normalizeConfidence(s string) models.Confidence {
	switch models.Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case models.ConfidenceHigh:
		return models.ConfidenceHigh
	case models.ConfidenceLow:
		return models.ConfidenceLow
	default:
		return models.ConfidenceMedium
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
