package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"expertpanel-backend/decision"
	"expertpanel-backend/grounding"
	"expertpanel-backend/llm"
	"expertpanel-backend/models"

	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultTopK      = 8
	defaultThreshold = 0.3
	answerMaxTokens  = 2048
)

// AnswerService runs the single-expert grounded answer pipeline
type AnswerService struct {
	plugins   PluginSource
	trees     TreeSource
	retriever Retriever
	llm       llm.Provider
	audit     AuditSink
	logger    *slog.Logger
	topK      int
	threshold float64
}

// AnswerServiceOption is a functional option for AnswerService
type AnswerServiceOption func(*AnswerService)

// AnswerWithPlugins sets the plugin source
func AnswerWithPlugins(p PluginSource) AnswerServiceOption {
	return func(s *AnswerService) {
		s.plugins = p
	}
}

// AnswerWithTrees sets the decision tree source
func AnswerWithTrees(t TreeSource) AnswerServiceOption {
	return func(s *AnswerService) {
		s.trees = t
	}
}

// AnswerWithRetriever sets the knowledge retriever
func AnswerWithRetriever(r Retriever) AnswerServiceOption {
	return func(s *AnswerService) {
		s.retriever = r
	}
}

// AnswerWithLLM sets the language model provider
func AnswerWithLLM(p llm.Provider) AnswerServiceOption {
	return func(s *AnswerService) {
		s.llm = p
	}
}

// AnswerWithAudit sets the audit sink
func AnswerWithAudit(a AuditSink) AnswerServiceOption {
	return func(s *AnswerService) {
		s.audit = a
	}
}

// AnswerWithLogger sets the logger
func AnswerWithLogger(l *slog.Logger) AnswerServiceOption {
	return func(s *AnswerService) {
		s.logger = l
	}
}

// AnswerWithRetrieval sets the default number of chunks and the similarity floor
func AnswerWithRetrieval(topK int, threshold float64) AnswerServiceOption {
	return func(s *AnswerService) {
		s.topK = topK
		s.threshold = threshold
	}
}

// NewAnswerService creates a new answer service
func NewAnswerService(opts ...AnswerServiceOption) *AnswerService {
	s := &AnswerService{
		logger:    slog.Default(),
		topK:      defaultTopK,
		threshold: defaultThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AskRequest represents a question for one expert
type AskRequest struct {
	PluginSlug string
	Query      string  `validate:"required"`
	TopK       int     `validate:"gte=0,lte=50"`
	Threshold  float64 `validate:"gte=0,lte=1"`

	// Context is deliberation material from other experts, never cited
	Context string
	// SkipAudit suppresses the per-answer audit record
	SkipAudit bool
	// Plugin skips the slug lookup when the caller already resolved it
	Plugin *models.Plugin
}

// Ask answers a question and returns the grounded result
func (s *AnswerService) Ask(ctx context.Context, req AskRequest) (*models.Answer, error) {
	return withSpan(ctx, "expert.ask", askAttrs(req), func(ctx context.Context) (*models.Answer, error) {
		return s.answer(ctx, req, nil)
	})
}

// AskStream answers a question while emitting progress and text deltas.
// The stream always ends with a DoneEvent or an ErrorEvent.
func (s *AnswerService) AskStream(ctx context.Context, req AskRequest, emit Emitter) (*models.Answer, error) {
	answer, err := withSpan(ctx, "expert.ask_stream", askAttrs(req), func(ctx context.Context) (*models.Answer, error) {
		return s.answer(ctx, req, emit)
	})
	if err != nil {
		emit.emit(errorEvent(err))
		return nil, err
	}
	emit.emit(models.DoneEvent{Result: answer})
	return answer, nil
}

func askAttrs(req AskRequest) []attribute.KeyValue {
	slug := req.PluginSlug
	if req.Plugin != nil {
		slug = req.Plugin.Slug
	}
	return []attribute.KeyValue{attribute.String("expert.slug", slug)}
}

// ListExperts returns every registered expert plugin
func (s *AnswerService) ListExperts(ctx context.Context) ([]models.Plugin, error) {
	if s.plugins == nil {
		return nil, errors.New("plugin source not set")
	}
	return s.plugins.List(ctx)
}

// GetExpert resolves one expert plugin by slug
func (s *AnswerService) GetExpert(ctx context.Context, slug string) (*models.Plugin, error) {
	return s.resolvePlugin(ctx, slug)
}

func (s *AnswerService) answer(ctx context.Context, req AskRequest, emit Emitter) (*models.Answer, error) {
	if s.retriever == nil {
		return nil, errors.New("retriever not set")
	}
	if s.llm == nil {
		return nil, errors.New("llm provider not set")
	}

	start := time.Now()
	req.Query = strings.TrimSpace(req.Query)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Plugin == nil && req.PluginSlug == "" {
		return nil, fmt.Errorf("%w: plugin slug is required", ErrInvalidRequest)
	}

	// 1. Resolve the expert
	plugin := req.Plugin
	if plugin == nil {
		var err error
		plugin, err = s.resolvePlugin(ctx, req.PluginSlug)
		if err != nil {
			return nil, err
		}
	}

	topK, threshold := s.topK, s.threshold
	if req.TopK > 0 {
		topK = req.TopK
	}
	if req.Threshold > 0 {
		threshold = req.Threshold
	}

	// 2. Retrieve grounding sources
	emit.emit(models.StatusEvent{Message: "Searching knowledge base"})
	chunks, err := s.retriever.Retrieve(ctx, req.Query, plugin.ID, topK, threshold)
	if err != nil {
		return nil, upstreamErr(ErrRetrievalFailed, err)
	}

	// 3. Walk the decision tree, if the expert has one
	trace, err := s.evaluateTree(ctx, plugin, req.Query, emit)
	if err != nil {
		return nil, err
	}

	// 4. Generate
	emit.emit(models.StatusEvent{Message: "Generating answer"})
	genReq := llm.Request{
		System:      buildSystemPrompt(plugin),
		Prompt:      buildAnswerPrompt(req.Query, chunks, trace, req.Context),
		MaxTokens:   answerMaxTokens,
		Temperature: 0.2,
		WebSearch:   plugin.WebSearch,
	}

	var raw string
	if emit != nil {
		raw, err = llm.StreamOrComplete(ctx, s.llm, genReq, forwardStream(emit))
	} else {
		raw, err = s.llm.Complete(ctx, genReq)
	}
	if err != nil {
		return nil, upstreamErr(ErrGenerationFailed, err)
	}

	// 5. Verify citations and apply the refusal policy
	verdict := grounding.Guard(grounding.Resolve(raw, chunks))

	answer := &models.Answer{
		PluginSlug:     plugin.Slug,
		PluginVersion:  plugin.Version,
		Query:          req.Query,
		Answer:         verdict.CleanedAnswer,
		Citations:      verdict.Citations,
		DecisionPath:   trace.Path,
		Recommendation: trace.Recommendation,
		Confidence:     verdict.Confidence,
		Refused:        verdict.Refused,
		LatencyMs:      time.Since(start).Milliseconds(),
	}

	answersTotal.WithLabelValues(string(answer.Confidence)).Inc()
	if verdict.Refused {
		guardRefusalsTotal.WithLabelValues(verdict.RefusalReason).Inc()
	}
	pipelineDuration.WithLabelValues("answer").Observe(time.Since(start).Seconds())

	s.logger.Info("answer generated",
		"plugin", plugin.Slug,
		"sources", len(chunks),
		"citations", len(answer.Citations),
		"phantoms", verdict.PhantomCount,
		"confidence", answer.Confidence,
		"refused", verdict.Refused,
		"latency_ms", answer.LatencyMs,
	)

	if !req.SkipAudit {
		appendAudit(ctx, s.audit, s.logger, &models.AuditRecord{
			Kind:        models.AuditAnswer,
			PluginSlugs: []string{plugin.Slug},
			Query:       req.Query,
			Confidence:  answer.Confidence,
			LatencyMs:   answer.LatencyMs,
			Payload: map[string]any{
				"plugin_version":  plugin.Version,
				"sources":         len(chunks),
				"citations":       len(answer.Citations),
				"phantom_count":   verdict.PhantomCount,
				"unresolved_refs": verdict.UnresolvedRefs,
				"refused":         verdict.Refused,
				"refusal_reason":  verdict.RefusalReason,
				"decision_steps":  len(answer.DecisionPath),
			},
		})
	}

	return answer, nil
}

// resolvePlugin looks up a plugin and maps a missing row to ErrPluginNotFound
func (s *AnswerService) resolvePlugin(ctx context.Context, slug string) (*models.Plugin, error) {
	return lookupPlugin(ctx, s.plugins, slug)
}

// evaluateTree loads the plugin's active tree and walks it. A plugin without
// a tree yields an empty trace; a failed load is a storage error.
func (s *AnswerService) evaluateTree(ctx context.Context, plugin *models.Plugin, query string, emit Emitter) (decision.Result, error) {
	empty := decision.Result{Path: []models.DecisionStep{}}
	if s.trees == nil {
		return empty, nil
	}

	tree, err := s.trees.GetActive(ctx, plugin.ID)
	if err != nil {
		return empty, upstreamErr(ErrStorageFailed, fmt.Errorf("load decision tree: %w", err))
	}
	if tree == nil {
		return empty, nil
	}

	emit.emit(models.StatusEvent{Message: "Evaluating decision tree"})
	params := s.extractParams(ctx, tree, query)
	result := decision.Evaluate(tree, params)

	s.logger.Debug("decision tree evaluated",
		"plugin", plugin.Slug,
		"tree", tree.Name,
		"params", len(params),
		"steps", len(result.Path),
	)
	return result, nil
}

// forwardStream converts backend stream events into pipeline events
func forwardStream(emit Emitter) func(llm.StreamEvent) error {
	return func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.EventTextDelta:
			emit.emit(models.TextDeltaEvent{Text: ev.Text})
		case llm.EventToolCall:
			emit.emit(models.ToolCallEvent{Tool: ev.Tool, Input: ev.Text})
		case llm.EventToolResult:
			emit.emit(models.ToolResultEvent{Tool: ev.Tool, Output: ev.Text})
		}
		return nil
	}
}
