package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"expertpanel-backend/llm"
	"expertpanel-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	highAnswer   = "Use 45mm cover [Source 1]. Tolerance is 10mm [Source 2]."
	mediumAnswer = "Use 45mm cover [Source 1]."
)

// roundOf infers the round from the transcript embedded in an expert prompt
func roundOf(prompt string) int {
	switch {
	case strings.Contains(prompt, "### Round 2"):
		return 3
	case strings.Contains(prompt, "### Round 1"):
		return 2
	default:
		return 1
	}
}

func slugOf(system string) string {
	first, _, _ := strings.Cut(system, "\n")
	return strings.TrimPrefix(first, "persona:")
}

type panelScript struct {
	expert    func(slug string, round int) (string, error)
	synthesis func() (string, error)
}

func (p panelScript) respond(req llm.Request) (string, error) {
	if req.System == synthesisSystemPrompt {
		if p.synthesis == nil {
			return `{"answer": "Use 45mm cover.", "confidence": "high", "agreement_level": 0.9}`, nil
		}
		return p.synthesis()
	}
	return p.expert(slugOf(req.System), roundOf(req.Prompt))
}

func newPanelFixture(script panelScript) (*CollaborationService, *fakePlugins, *scriptedLLM, *fakeAudit) {
	shared := testChunk("Eurocode 2", "Minimum cover for XS3 exposure is 45mm.", 0.9)
	plugins := newFakePlugins(testPlugin("structural"), testPlugin("geotech"), testPlugin("durability"))
	retriever := &fakeRetriever{chunks: map[uuid.UUID][]models.RetrievedChunk{}}
	for slug, p := range plugins.plugins {
		retriever.chunks[p.ID] = []models.RetrievedChunk{
			shared,
			testChunk("Notes "+slug, "Expert specific guidance for "+slug+".", 0.7),
		}
	}

	model := &scriptedLLM{respond: script.respond}
	audit := &fakeAudit{}
	answers := NewAnswerService(
		AnswerWithPlugins(plugins),
		AnswerWithRetriever(retriever),
		AnswerWithLLM(model),
		AnswerWithLogger(quietLogger()),
	)
	svc := NewCollaborationService(
		CollaborationWithAnswerService(answers),
		CollaborationWithLLM(model),
		CollaborationWithAudit(audit),
		CollaborationWithLogger(quietLogger()),
	)
	return svc, plugins, model, audit
}

func TestCollaborate_ConsensusRunsOneRound(t *testing.T) {
	svc, _, model, audit := newPanelFixture(panelScript{
		expert: func(string, int) (string, error) { return mediumAnswer, nil },
	})

	result, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "What cover for a marine pile cap?",
		Mode:        models.ModeConsensus,
		MaxRounds:   3,
	})
	require.NoError(t, err)

	require.Len(t, result.Rounds, 1)
	assert.Len(t, result.Rounds[0].Responses, 2)
	assert.Equal(t, "structural", result.Rounds[0].Responses[0].PluginSlug)
	assert.Equal(t, "geotech", result.Rounds[0].Responses[1].PluginSlug)

	for _, req := range model.seen() {
		assert.NotContains(t, req.Prompt, "## Other experts so far")
	}

	assert.Equal(t, "Use 45mm cover.", result.Consensus.Answer)
	assert.Equal(t, models.ConfidenceHigh, result.Consensus.Confidence)
	assert.Equal(t, 0.9, result.Consensus.AgreementLevel)

	assert.Eventually(t, func() bool {
		recs := audit.snapshot()
		return len(recs) == 1 && recs[0].Kind == models.AuditCollaboration && recs[0].ID == result.ID
	}, time.Second, 10*time.Millisecond)
}

func TestCollaborate_DebateStopsEarlyWhenAllHigh(t *testing.T) {
	svc, _, _, _ := newPanelFixture(panelScript{
		expert: func(string, int) (string, error) { return highAnswer, nil },
	})

	result, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
		Mode:        models.ModeDebate,
		MaxRounds:   3,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rounds, 2)
}

func TestCollaborate_DebateRoundLimits(t *testing.T) {
	tests := []struct {
		name      string
		maxRounds int
		want      int
	}{
		{"default", 0, 2},
		{"one", 1, 1},
		{"capped", 7, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newPanelFixture(panelScript{
				expert: func(string, int) (string, error) { return mediumAnswer, nil },
			})

			result, err := svc.Collaborate(context.Background(), CollaborateRequest{
				PluginSlugs: []string{"structural", "geotech"},
				Query:       "cover?",
				MaxRounds:   tt.maxRounds,
			})
			require.NoError(t, err)
			assert.Equal(t, models.ModeDebate, result.Mode)
			assert.Len(t, result.Rounds, tt.want)
		})
	}
}

func TestCollaborate_DebateFlagsRevisions(t *testing.T) {
	svc, _, model, _ := newPanelFixture(panelScript{
		expert: func(slug string, round int) (string, error) {
			if round == 2 && slug == "geotech" {
				return "I am revising my estimate after the structural view. Use 45mm cover [Source 1].", nil
			}
			return mediumAnswer, nil
		},
	})

	result, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
		Mode:        models.ModeDebate,
		MaxRounds:   2,
	})
	require.NoError(t, err)
	require.Len(t, result.Rounds, 2)

	for _, r := range result.Rounds[0].Responses {
		assert.False(t, r.Revised)
	}

	second := result.Rounds[1].Responses
	assert.False(t, second[0].Revised)
	assert.True(t, second[1].Revised)
	assert.Equal(t, "I am revising my estimate after the structural view.", second[1].RevisionNote)

	transcriptSeen := false
	for _, req := range model.seen() {
		if strings.Contains(req.Prompt, "### Round 1") {
			transcriptSeen = true
			assert.Contains(t, req.Prompt, "Expert structural")
			assert.Contains(t, req.Prompt, "Expert geotech")
		}
	}
	assert.True(t, transcriptSeen)
}

func TestCollaborate_ReviewMode(t *testing.T) {
	svc, _, model, _ := newPanelFixture(panelScript{
		expert: func(slug string, _ int) (string, error) {
			if slug == "structural" {
				return "Primary assessment: use 45mm cover [Source 1].", nil
			}
			return mediumAnswer, nil
		},
	})

	result, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech", "durability"},
		Query:       "cover?",
		Mode:        models.ModeReview,
		MaxRounds:   3,
	})
	require.NoError(t, err)

	require.Len(t, result.Rounds, 2)
	require.Len(t, result.Rounds[0].Responses, 1)
	assert.Equal(t, "structural", result.Rounds[0].Responses[0].PluginSlug)
	require.Len(t, result.Rounds[1].Responses, 2)
	assert.Equal(t, "geotech", result.Rounds[1].Responses[0].PluginSlug)
	assert.Equal(t, "durability", result.Rounds[1].Responses[1].PluginSlug)

	for _, req := range model.seen() {
		switch slugOf(req.System) {
		case "geotech", "durability":
			assert.Contains(t, req.Prompt, "Primary assessment: use 45mm cover")
			assert.Contains(t, req.Prompt, "Review this assessment")
		case "structural":
			assert.NotContains(t, req.Prompt, "## Other experts so far")
		}
	}
}

func TestCollaborate_ValidationBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		req  CollaborateRequest
	}{
		{"one expert", CollaborateRequest{PluginSlugs: []string{"structural"}, Query: "q"}},
		{"six experts", CollaborateRequest{PluginSlugs: []string{"a", "b", "c", "d", "e", "f"}, Query: "q"}},
		{"duplicate experts", CollaborateRequest{PluginSlugs: []string{"structural", "structural"}, Query: "q"}},
		{"empty slug", CollaborateRequest{PluginSlugs: []string{"structural", ""}, Query: "q"}},
		{"empty query", CollaborateRequest{PluginSlugs: []string{"structural", "geotech"}, Query: " "}},
		{"unknown mode", CollaborateRequest{PluginSlugs: []string{"structural", "geotech"}, Query: "q", Mode: "vote"}},
		{"negative rounds", CollaborateRequest{PluginSlugs: []string{"structural", "geotech"}, Query: "q", MaxRounds: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, plugins, model, _ := newPanelFixture(panelScript{
				expert: func(string, int) (string, error) { return mediumAnswer, nil },
			})

			_, err := svc.Collaborate(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, plugins.lookupCount())
			assert.Empty(t, model.seen())
		})
	}
}

func TestCollaborate_UnknownExpert(t *testing.T) {
	svc, _, model, _ := newPanelFixture(panelScript{
		expert: func(string, int) (string, error) { return mediumAnswer, nil },
	})

	_, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "astrology"},
		Query:       "q",
	})
	assert.ErrorIs(t, err, ErrPluginNotFound)
	assert.Empty(t, model.seen())
}

func TestCollaborate_SynthesisFallback(t *testing.T) {
	svc, _, _, _ := newPanelFixture(panelScript{
		expert: func(slug string, _ int) (string, error) {
			return "Expert " + slug + " recommends 45mm [Source 1]. Second point here [Source 2]. Third point.", nil
		},
		synthesis: func() (string, error) { return "The panel broadly agrees on 45mm cover.", nil },
	})

	result, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
		Mode:        models.ModeConsensus,
	})
	require.NoError(t, err)

	c := result.Consensus
	assert.Equal(t, "The panel broadly agrees on 45mm cover.", c.Answer)
	assert.Equal(t, models.ConfidenceMedium, c.Confidence)
	assert.Equal(t, 0.5, c.AgreementLevel)
	assert.Empty(t, c.Conflicts)
	require.Len(t, c.ExpertContributions, 2)
	assert.Equal(t, "structural", c.ExpertContributions[0].PluginSlug)
	assert.Len(t, c.ExpertContributions[0].KeyPoints, 2)
}

func TestCollaborate_SynthesisParsing(t *testing.T) {
	svc, _, _, _ := newPanelFixture(panelScript{
		expert: func(string, int) (string, error) { return highAnswer, nil },
		synthesis: func() (string, error) {
			return "```json\n" + `{
  "answer": "Use 45mm cover.",
  "confidence": "HIGH",
  "agreement_level": 1.7,
  "conflicts": [{"topic": "tolerance", "positions": [{"plugin_slug": "geotech", "position": "15mm"}]}],
  "expert_contributions": [{"plugin_slug": "geotech", "key_points": ["pile caps are buried"]}]
}` + "\n```", nil
		},
	})

	result, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
		Mode:        models.ModeConsensus,
	})
	require.NoError(t, err)

	c := result.Consensus
	assert.Equal(t, models.ConfidenceHigh, c.Confidence)
	assert.Equal(t, 1.0, c.AgreementLevel)
	require.Len(t, c.Conflicts, 1)
	assert.Equal(t, "tolerance", c.Conflicts[0].Topic)
	require.Len(t, c.ExpertContributions, 1)
	assert.Equal(t, "Expert geotech", c.ExpertContributions[0].PluginName)
}

func TestCollaborate_CitationsMergedWithoutDuplicates(t *testing.T) {
	svc, _, _, _ := newPanelFixture(panelScript{
		expert: func(string, int) (string, error) { return highAnswer, nil },
	})

	result, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
		Mode:        models.ModeConsensus,
	})
	require.NoError(t, err)

	// each expert cites the shared chunk plus its own notes
	docs := map[string]int{}
	for _, c := range result.Consensus.Citations {
		docs[c.Document]++
	}
	assert.Equal(t, map[string]int{"Eurocode 2": 1, "Notes structural": 1, "Notes geotech": 1}, docs)
}

func TestCollaborate_ExpertFailureFailsCollaboration(t *testing.T) {
	svc, _, _, audit := newPanelFixture(panelScript{
		expert: func(slug string, _ int) (string, error) {
			if slug == "geotech" {
				return "", errors.New("upstream 500")
			}
			return mediumAnswer, nil
		},
	})

	_, err := svc.Collaborate(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
		Mode:        models.ModeConsensus,
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, audit.snapshot())
}

func TestCollaborateStream_EventOrder(t *testing.T) {
	svc, _, _, _ := newPanelFixture(panelScript{
		expert: func(string, int) (string, error) { return mediumAnswer, nil },
	})

	rec := &eventRecorder{}
	result, err := svc.CollaborateStream(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
		Mode:        models.ModeConsensus,
	}, rec.emit)
	require.NoError(t, err)

	events := rec.all()
	require.Len(t, events, 9)

	resolved, ok := events[0].(models.ExpertResolvedEvent)
	require.True(t, ok)
	assert.Len(t, resolved.Experts, 2)

	start, ok := events[1].(models.RoundStartEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"structural", "geotech"}, start.Experts)

	// per expert, thinking precedes its response
	thinking := map[string]int{}
	for i, ev := range events[2:6] {
		switch e := ev.(type) {
		case models.ExpertThinkingEvent:
			thinking[e.PluginSlug] = i
		case models.ExpertResponseEvent:
			at, seen := thinking[e.Response.PluginSlug]
			assert.True(t, seen)
			assert.Less(t, at, i)
		default:
			t.Fatalf("unexpected event %s inside round", eventName(ev))
		}
	}

	assert.IsType(t, models.RoundCompleteEvent{}, events[6])
	assert.IsType(t, models.SynthesizingEvent{}, events[7])
	done, ok := events[8].(models.DoneEvent)
	require.True(t, ok)
	assert.Same(t, result, done.Result)
}

func TestCollaborateStream_ErrorTerminates(t *testing.T) {
	svc, _, _, _ := newPanelFixture(panelScript{
		expert: func(string, int) (string, error) { return "", context.DeadlineExceeded },
	})

	rec := &eventRecorder{}
	_, err := svc.CollaborateStream(context.Background(), CollaborateRequest{
		PluginSlugs: []string{"structural", "geotech"},
		Query:       "cover?",
	}, rec.emit)
	require.ErrorIs(t, err, ErrTimeout)

	events := rec.all()
	last, ok := events[len(events)-1].(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "TIMEOUT", last.Code)
	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, "models.DoneEvent", eventName(ev))
	}
}

func TestDetectRevision(t *testing.T) {
	tests := []struct {
		answer  string
		revised bool
		note    string
	}{
		{"Use 45mm. I agree with the geotech expert on drainage.", true, "I agree with the geotech expert on drainage."},
		{"Correcting my earlier figure, 50mm applies.", true, "Correcting my earlier figure, 50mm applies."},
		{"UPDATING: the crack limit is 3mm!", true, "UPDATING: the crack limit is 3mm!"},
		{"My position stands. Use 45mm.", false, ""},
	}

	for _, tt := range tests {
		revised, note := detectRevision(tt.answer)
		assert.Equal(t, tt.revised, revised, tt.answer)
		assert.Equal(t, tt.note, note, tt.answer)
	}
}

func TestPlannedRounds(t *testing.T) {
	assert.Equal(t, 1, plannedRounds(models.ModeConsensus, 3))
	assert.Equal(t, 2, plannedRounds(models.ModeReview, 1))
	assert.Equal(t, 2, plannedRounds(models.ModeDebate, 0))
	assert.Equal(t, 3, plannedRounds(models.ModeDebate, 9))
}
