package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"expertpanel-backend/decision"
	"expertpanel-backend/grounding"
	"expertpanel-backend/llm"
	"expertpanel-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coverTree(pluginID uuid.UUID) *models.DecisionTree {
	return &models.DecisionTree{
		Name:       "concrete cover",
		PluginID:   pluginID,
		RootNodeID: "exposure",
		Nodes: models.DecisionNodes{
			"exposure": {
				ID:          "exposure",
				Type:        models.NodeQuestion,
				Text:        "What is the exposure class?",
				Options:     []string{"marine", "interior"},
				ExtractFrom: "exposure",
				Children:    map[string]string{"marine": "thickness", "interior": "standard"},
			},
			"thickness": {
				ID:           "thickness",
				Type:         models.NodeCondition,
				Field:        "thickness",
				Operator:     models.OperatorGt,
				Value:        200,
				TrueChildID:  "thick",
				FalseChildID: "thin",
			},
			"thick":    {ID: "thick", Type: models.NodeAction, Recommendation: "Use 45mm cover", Severity: "info"},
			"thin":     {ID: "thin", Type: models.NodeAction, Recommendation: "Use 50mm cover", Severity: "warning"},
			"standard": {ID: "standard", Type: models.NodeAction, Recommendation: "Use 25mm cover"},
		},
	}
}

func newAnswerFixture(reply func(llm.Request) (string, error)) (*AnswerService, *fakePlugins, *fakeRetriever, *scriptedLLM, *fakeAudit) {
	plugin := testPlugin("structural")
	plugins := newFakePlugins(plugin)
	retriever := &fakeRetriever{chunks: map[uuid.UUID][]models.RetrievedChunk{}}
	retriever.chunks[plugin.ID] = []models.RetrievedChunk{
		testChunk("Eurocode 2", "Minimum cover for XS3 exposure is 45mm.", 0.91),
		testChunk("Eurocode 2", "Cover tolerance is 10mm.", 0.82),
	}
	model := &scriptedLLM{respond: reply}
	audit := &fakeAudit{}

	svc := NewAnswerService(
		AnswerWithPlugins(plugins),
		AnswerWithRetriever(retriever),
		AnswerWithLLM(model),
		AnswerWithAudit(audit),
		AnswerWithLogger(quietLogger()),
	)
	return svc, plugins, retriever, model, audit
}

func TestAsk_GroundedAnswer(t *testing.T) {
	svc, _, _, model, audit := newAnswerFixture(func(llm.Request) (string, error) {
		return "Use 45mm cover [Source 1]. Allow 10mm tolerance [Source 2].", nil
	})

	answer, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "What cover for marine slabs?"})
	require.NoError(t, err)

	assert.Equal(t, "structural", answer.PluginSlug)
	assert.Equal(t, "1.0.0", answer.PluginVersion)
	assert.Len(t, answer.Citations, 2)
	assert.Equal(t, models.ConfidenceHigh, answer.Confidence)
	assert.False(t, answer.Refused)
	assert.Empty(t, answer.DecisionPath)

	reqs := model.seen()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "persona:structural")
	assert.Contains(t, reqs[0].Prompt, "[Source 1] Eurocode 2")
	assert.Contains(t, reqs[0].Prompt, "What cover for marine slabs?")

	assert.Eventually(t, func() bool {
		recs := audit.snapshot()
		return len(recs) == 1 && recs[0].Kind == models.AuditAnswer
	}, time.Second, 10*time.Millisecond)
}

func TestAsk_PhantomOnlyAnswerIsRefused(t *testing.T) {
	svc, _, _, _, _ := newAnswerFixture(func(llm.Request) (string, error) {
		return "Use 60mm cover [Source 9].", nil
	})

	answer, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "cover?"})
	require.NoError(t, err)

	assert.True(t, answer.Refused)
	assert.Equal(t, grounding.RefusalMessage, answer.Answer)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, models.ConfidenceLow, answer.Confidence)
}

func TestAsk_SkipAudit(t *testing.T) {
	svc, _, _, _, audit := newAnswerFixture(func(llm.Request) (string, error) {
		return "Use 45mm cover [Source 1].", nil
	})

	_, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "cover?", SkipAudit: true})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, audit.snapshot())
}

func TestAsk_AuditFailureDoesNotFailAnswer(t *testing.T) {
	svc, _, _, _, audit := newAnswerFixture(func(llm.Request) (string, error) {
		return "Use 45mm cover [Source 1].", nil
	})
	audit.err = errors.New("disk full")

	answer, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "cover?"})
	require.NoError(t, err)
	assert.Equal(t, models.ConfidenceMedium, answer.Confidence)
}

func TestAsk_Errors(t *testing.T) {
	t.Run("unknown plugin", func(t *testing.T) {
		svc, _, retriever, _, _ := newAnswerFixture(func(llm.Request) (string, error) { return "", nil })

		_, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "nope", Query: "q"})
		assert.ErrorIs(t, err, ErrPluginNotFound)
		assert.Equal(t, "PLUGIN_NOT_FOUND", ErrorCode(err))
		assert.Zero(t, retriever.callCount())
	})

	t.Run("empty query", func(t *testing.T) {
		svc, plugins, _, _, _ := newAnswerFixture(func(llm.Request) (string, error) { return "", nil })

		_, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "   "})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Zero(t, plugins.lookupCount())
	})

	t.Run("retrieval failure", func(t *testing.T) {
		svc, _, retriever, _, _ := newAnswerFixture(func(llm.Request) (string, error) { return "", nil })
		retriever.err = errors.New("connection refused")

		_, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "q"})
		assert.ErrorIs(t, err, ErrRetrievalFailed)
	})

	t.Run("generation failure", func(t *testing.T) {
		svc, _, _, _, _ := newAnswerFixture(func(llm.Request) (string, error) {
			return "", errors.New("quota exceeded")
		})

		_, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "q"})
		assert.ErrorIs(t, err, ErrGenerationFailed)
		assert.Equal(t, "GENERATION_FAILED", ErrorCode(err))
	})

	t.Run("deadline", func(t *testing.T) {
		svc, _, _, _, _ := newAnswerFixture(func(llm.Request) (string, error) {
			return "", context.DeadlineExceeded
		})

		_, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "q"})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, "TIMEOUT", ErrorCode(err))
	})
}

func TestAsk_DecisionTreeFromInlineParams(t *testing.T) {
	svc, plugins, _, model, _ := newAnswerFixture(func(req llm.Request) (string, error) {
		if req.JSON {
			t.Errorf("extraction should not call the model when every field is inline")
		}
		return "Use 45mm cover [Source 1].", nil
	})
	plugin, _ := plugins.GetBySlug(context.Background(), "structural")
	svc.trees = &fakeTrees{trees: map[uuid.UUID]*models.DecisionTree{plugin.ID: coverTree(plugin.ID)}}

	answer, err := svc.Ask(context.Background(), AskRequest{
		PluginSlug: "structural",
		Query:      "exposure: marine, thickness=250. What cover?",
	})
	require.NoError(t, err)

	require.Len(t, answer.DecisionPath, 3)
	assert.Equal(t, "marine", answer.DecisionPath[0].Branch)
	assert.Equal(t, "true", answer.DecisionPath[1].Branch)
	require.NotNil(t, answer.Recommendation)
	assert.Equal(t, "Use 45mm cover", answer.Recommendation.Recommendation)

	reqs := model.seen()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "## Decision analysis")
	assert.Contains(t, reqs[0].Prompt, "Recommendation: Use 45mm cover [info]")
}

func TestAsk_DecisionTreeFromModelExtraction(t *testing.T) {
	svc, plugins, _, _, _ := newAnswerFixture(func(req llm.Request) (string, error) {
		if req.JSON {
			return "```json\n{\"exposure\": \"Marine\", \"thickness\": 150}\n```", nil
		}
		return "Use 50mm cover [Source 1].", nil
	})
	plugin, _ := plugins.GetBySlug(context.Background(), "structural")
	svc.trees = &fakeTrees{trees: map[uuid.UUID]*models.DecisionTree{plugin.ID: coverTree(plugin.ID)}}

	answer, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "A 150mm slab by the sea?"})
	require.NoError(t, err)

	require.NotNil(t, answer.Recommendation)
	assert.Equal(t, "Use 50mm cover", answer.Recommendation.Recommendation)
}

func TestAsk_TreeLoadFailureIsStorageError(t *testing.T) {
	svc, _, retriever, _, _ := newAnswerFixture(func(llm.Request) (string, error) {
		return "Use 45mm cover [Source 1].", nil
	})
	svc.trees = &fakeTrees{err: errors.New("relation does not exist")}

	answer, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "cover?"})
	require.Error(t, err)
	assert.Nil(t, answer)
	assert.ErrorIs(t, err, ErrStorageFailed)
	assert.Equal(t, "STORAGE_FAILED", ErrorCode(err))
	assert.Equal(t, 1, retriever.callCount())
}

func TestAsk_TreeExtractionFailureDegrades(t *testing.T) {
	svc, plugins, _, _, _ := newAnswerFixture(func(req llm.Request) (string, error) {
		if req.JSON {
			return "", errors.New("model overloaded")
		}
		return "Use 45mm cover [Source 1].", nil
	})
	plugin, _ := plugins.GetBySlug(context.Background(), "structural")
	svc.trees = &fakeTrees{trees: map[uuid.UUID]*models.DecisionTree{plugin.ID: coverTree(plugin.ID)}}

	answer, err := svc.Ask(context.Background(), AskRequest{PluginSlug: "structural", Query: "cover?"})
	require.NoError(t, err)
	// the root question cannot be answered, so only it is recorded
	require.Len(t, answer.DecisionPath, 1)
	assert.Nil(t, answer.Recommendation)
}

func TestAskStream_EventOrder(t *testing.T) {
	svc, _, _, _, _ := newAnswerFixture(nil)
	svc.llm = &streamingLLM{parts: []string{"Use 45mm cover ", "[Source 1]."}}

	rec := &eventRecorder{}
	answer, err := svc.AskStream(context.Background(), AskRequest{PluginSlug: "structural", Query: "cover?"}, rec.emit)
	require.NoError(t, err)

	events := rec.all()
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = eventName(ev)
	}
	assert.Equal(t, []string{
		"models.StatusEvent",
		"models.StatusEvent",
		"models.TextDeltaEvent",
		"models.TextDeltaEvent",
		"models.DoneEvent",
	}, names)

	done := events[len(events)-1].(models.DoneEvent)
	assert.Same(t, answer, done.Result)
	assert.Equal(t, "Use 45mm cover [Source 1].", answer.Answer)
}

func TestAskStream_ErrorTerminates(t *testing.T) {
	svc, _, _, _, _ := newAnswerFixture(func(llm.Request) (string, error) { return "", nil })

	rec := &eventRecorder{}
	_, err := svc.AskStream(context.Background(), AskRequest{PluginSlug: "missing", Query: "q"}, rec.emit)
	require.Error(t, err)

	events := rec.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "PLUGIN_NOT_FOUND", ev.Code)
}

func TestExtractInlineParams(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		fields []string
		want   map[string]string
	}{
		{"colon", "exposure: marine", []string{"exposure"}, map[string]string{"exposure": "marine"}},
		{"equals and comma", "thickness=250, exposure = XS3", []string{"exposure", "thickness"},
			map[string]string{"thickness": "250", "exposure": "XS3"}},
		{"case insensitive", "Exposure: Interior.", []string{"exposure"}, map[string]string{"exposure": "Interior"}},
		{"absent", "what cover should I use?", []string{"exposure"}, map[string]string{}},
		{"no partial key match", "preexposure: high", []string{"exposure"}, map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractInlineParams(tt.query, tt.fields))
		})
	}
}

func TestBuildAnswerPrompt_DeliberationIsNotASource(t *testing.T) {
	prompt := buildAnswerPrompt("q", nil, decision.Result{}, "Expert A said 45mm.")

	assert.Contains(t, prompt, "(no sources were found)")
	assert.Contains(t, prompt, "Expert A said 45mm.")
	assert.True(t, strings.Index(prompt, "## Other experts so far") < strings.Index(prompt, "## Question"))
}
