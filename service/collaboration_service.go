package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"expertpanel-backend/llm"
	"expertpanel-backend/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	collaborationTopK      = 6
	collaborationThreshold = 0.4
	defaultDebateRounds    = 2
	maxDebateRounds        = 3
	synthesisMaxTokens     = 3072
)

// Collaboration states, logged on every transition
const (
	stateResolvingExperts = "resolving_experts"
	stateRoundLoop        = "round_loop"
	stateSynthesizing     = "synthesizing"
	stateDone             = "done"
	stateError            = "error"
)

// revisionMarkers flag a later-round answer as a revision of the expert's earlier stance
var revisionMarkers = []string{"revising", "updating", "i agree with", "correcting"}

var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

// CollaborationService orchestrates multi-expert deliberation
type CollaborationService struct {
	answers   *AnswerService
	llm       llm.Provider
	audit     AuditSink
	logger    *slog.Logger
	topK      int
	threshold float64
}

// CollaborationServiceOption is a functional option for CollaborationService
type CollaborationServiceOption func(*CollaborationService)

// CollaborationWithAnswerService sets the per-expert answer pipeline
func CollaborationWithAnswerService(a *AnswerService) CollaborationServiceOption {
	return func(s *CollaborationService) {
		s.answers = a
	}
}

// CollaborationWithLLM sets the provider used for synthesis
func CollaborationWithLLM(p llm.Provider) CollaborationServiceOption {
	return func(s *CollaborationService) {
		s.llm = p
	}
}

// CollaborationWithAudit sets the audit sink
func CollaborationWithAudit(a AuditSink) CollaborationServiceOption {
	return func(s *CollaborationService) {
		s.audit = a
	}
}

// CollaborationWithLogger sets the logger
func CollaborationWithLogger(l *slog.Logger) CollaborationServiceOption {
	return func(s *CollaborationService) {
		s.logger = l
	}
}

// CollaborationWithRetrieval sets per-expert retrieval depth and similarity floor
func CollaborationWithRetrieval(topK int, threshold float64) CollaborationServiceOption {
	return func(s *CollaborationService) {
		s.topK = topK
		s.threshold = threshold
	}
}

// NewCollaborationService creates a new collaboration service
func NewCollaborationService(opts ...CollaborationServiceOption) *CollaborationService {
	s := &CollaborationService{
		logger:    slog.Default(),
		topK:      collaborationTopK,
		threshold: collaborationThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CollaborateRequest represents a multi-expert question
type CollaborateRequest struct {
	PluginSlugs []string                 `json:"plugin_slugs" validate:"min=2,max=5,unique,dive,required"`
	Query       string                   `json:"query" validate:"required"`
	Mode        models.CollaborationMode `json:"mode" validate:"omitempty,oneof=debate consensus review"`
	MaxRounds   int                      `json:"max_rounds" validate:"gte=0"`
}

// Collaborate runs the deliberation and returns the synthesized result
func (s *CollaborationService) Collaborate(ctx context.Context, req CollaborateRequest) (*models.CollaborationResult, error) {
	return withSpan(ctx, "collaboration.run", collaborationAttrs(req), func(ctx context.Context) (*models.CollaborationResult, error) {
		return s.collaborate(ctx, req, nil)
	})
}

// CollaborateStream runs the deliberation while emitting one event per state
// transition. The stream always ends with a DoneEvent or an ErrorEvent.
func (s *CollaborationService) CollaborateStream(ctx context.Context, req CollaborateRequest, emit Emitter) (*models.CollaborationResult, error) {
	result, err := withSpan(ctx, "collaboration.run_stream", collaborationAttrs(req), func(ctx context.Context) (*models.CollaborationResult, error) {
		return s.collaborate(ctx, req, emit.serialized())
	})
	if err != nil {
		emit.emit(errorEvent(err))
		return nil, err
	}
	emit.emit(models.DoneEvent{Result: result})
	return result, nil
}

func collaborationAttrs(req CollaborateRequest) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("collaboration.mode", string(req.Mode)),
		attribute.StringSlice("collaboration.experts", req.PluginSlugs),
	}
}

// plannedRounds returns how many rounds a mode may run
func plannedRounds(mode models.CollaborationMode, maxRounds int) int {
	switch mode {
	case models.ModeConsensus:
		return 1
	case models.ModeReview:
		return 2
	}
	if maxRounds <= 0 {
		return defaultDebateRounds
	}
	if maxRounds > maxDebateRounds {
		return maxDebateRounds
	}
	return maxRounds
}

func (s *CollaborationService) collaborate(ctx context.Context, req CollaborateRequest, emit Emitter) (*models.CollaborationResult, error) {
	if s.answers == nil {
		return nil, errors.New("answer service not set")
	}
	if s.llm == nil {
		return nil, errors.New("llm provider not set")
	}

	start := time.Now()
	req.Query = strings.TrimSpace(req.Query)
	if req.Mode == "" {
		req.Mode = models.ModeDebate
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	id := uuid.New()
	logger := s.logger.With("collaboration", id, "mode", req.Mode)
	fail := func(err error) (*models.CollaborationResult, error) {
		logger.Error("collaboration failed", "state", stateError, "error", err)
		collaborationsTotal.WithLabelValues(string(req.Mode), "error").Inc()
		return nil, err
	}

	// 1. Resolve experts
	logger.Info("collaboration state", "state", stateResolvingExperts, "experts", req.PluginSlugs)
	experts := make([]*models.Plugin, 0, len(req.PluginSlugs))
	refs := make([]models.ExpertRef, 0, len(req.PluginSlugs))
	for _, slug := range req.PluginSlugs {
		plugin, err := s.answers.resolvePlugin(ctx, slug)
		if err != nil {
			return fail(err)
		}
		experts = append(experts, plugin)
		refs = append(refs, plugin.Ref())
	}
	emit.emit(models.ExpertResolvedEvent{Experts: refs})

	// 2. Deliberate
	logger.Info("collaboration state", "state", stateRoundLoop, "planned_rounds", plannedRounds(req.Mode, req.MaxRounds))
	rounds, err := s.deliberate(ctx, req, experts, emit)
	if err != nil {
		return fail(err)
	}

	// 3. Synthesize
	logger.Info("collaboration state", "state", stateSynthesizing, "rounds", len(rounds))
	emit.emit(models.SynthesizingEvent{})
	consensus, err := s.synthesize(ctx, req.Query, experts, rounds)
	if err != nil {
		return fail(err)
	}

	result := &models.CollaborationResult{
		ID:        id,
		Query:     req.Query,
		Mode:      req.Mode,
		Experts:   refs,
		Rounds:    rounds,
		Consensus: *consensus,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	logger.Info("collaboration state",
		"state", stateDone,
		"rounds", len(rounds),
		"confidence", consensus.Confidence,
		"agreement", consensus.AgreementLevel,
		"latency_ms", result.LatencyMs,
	)
	collaborationsTotal.WithLabelValues(string(req.Mode), "success").Inc()
	pipelineDuration.WithLabelValues("collaboration").Observe(time.Since(start).Seconds())

	appendAudit(ctx, s.audit, s.logger, &models.AuditRecord{
		ID:          id,
		Kind:        models.AuditCollaboration,
		PluginSlugs: req.PluginSlugs,
		Query:       req.Query,
		Confidence:  consensus.Confidence,
		LatencyMs:   result.LatencyMs,
		Payload: map[string]any{
			"mode":            req.Mode,
			"rounds":          len(rounds),
			"agreement_level": consensus.AgreementLevel,
			"conflicts":       len(consensus.Conflicts),
			"citations":       len(consensus.Citations),
		},
	})

	return result, nil
}

// deliberate runs the rounds the mode calls for
func (s *CollaborationService) deliberate(
	ctx context.Context,
	req CollaborateRequest,
	experts []*models.Plugin,
	emit Emitter,
) ([]models.CollaborationRound, error) {
	rounds := []models.CollaborationRound{}

	switch req.Mode {
	case models.ModeConsensus:
		round, err := s.runRound(ctx, 1, experts, req.Query, "", emit)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)

	case models.ModeReview:
		first, err := s.runRound(ctx, 1, experts[:1], req.Query, "", emit)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, first)

		second, err := s.runRound(ctx, 2, experts[1:], req.Query, reviewContext(first), emit)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, second)

	default:
		total := plannedRounds(req.Mode, req.MaxRounds)
		for n := 1; n <= total; n++ {
			deliberation := ""
			if n >= 2 {
				deliberation = debateContext(rounds)
			}

			round, err := s.runRound(ctx, n, experts, req.Query, deliberation, emit)
			if err != nil {
				return nil, err
			}
			rounds = append(rounds, round)

			if n >= 2 && allHighConfidence(round) {
				s.logger.Debug("debate converged early", "round", n)
				break
			}
		}
	}

	return rounds, nil
}

// runRound asks every expert concurrently and joins before the round completes.
// Responses keep the order of experts.
func (s *CollaborationService) runRound(
	ctx context.Context,
	number int,
	experts []*models.Plugin,
	query string,
	deliberation string,
	emit Emitter,
) (models.CollaborationRound, error) {
	slugs := make([]string, len(experts))
	for i, p := range experts {
		slugs[i] = p.Slug
	}
	emit.emit(models.RoundStartEvent{Round: number, Experts: slugs})

	responses := make([]models.ExpertResponse, len(experts))
	g, gctx := errgroup.WithContext(ctx)
	for i, plugin := range experts {
		g.Go(func() error {
			emit.emit(models.ExpertThinkingEvent{Round: number, PluginSlug: plugin.Slug})

			answer, err := s.answers.Ask(gctx, AskRequest{
				PluginSlug: plugin.Slug,
				Plugin:     plugin,
				Query:      query,
				TopK:       s.topK,
				Threshold:  s.threshold,
				Context:    deliberation,
				SkipAudit:  true,
			})
			if err != nil {
				return fmt.Errorf("expert %s: %w", plugin.Slug, err)
			}

			resp := models.ExpertResponse{
				PluginSlug: plugin.Slug,
				PluginName: plugin.Name,
				Domain:     plugin.Domain,
				Answer:     answer.Answer,
				Citations:  answer.Citations,
				Confidence: answer.Confidence,
			}
			if number >= 2 {
				resp.Revised, resp.RevisionNote = detectRevision(answer.Answer)
			}
			responses[i] = resp

			emit.emit(models.ExpertResponseEvent{Round: number, Response: resp})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.CollaborationRound{}, err
	}

	emit.emit(models.RoundCompleteEvent{Round: number, Responses: len(responses)})
	return models.CollaborationRound{RoundNumber: number, Responses: responses}, nil
}

// detectRevision reports whether an answer announces a change of position and
// returns the sentence that does so
func detectRevision(answer string) (bool, string) {
	for _, sentence := range splitSentences(answer) {
		lower := strings.ToLower(sentence)
		for _, marker := range revisionMarkers {
			if strings.Contains(lower, marker) {
				return true, sentence
			}
		}
	}
	return false, ""
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func allHighConfidence(round models.CollaborationRound) bool {
	if len(round.Responses) == 0 {
		return false
	}
	for _, r := range round.Responses {
		if r.Confidence != models.ConfidenceHigh {
			return false
		}
	}
	return true
}

// formatTranscript renders rounds as markdown for prompts
func formatTranscript(rounds []models.CollaborationRound) string {
	var b strings.Builder
	for _, round := range rounds {
		fmt.Fprintf(&b, "### Round %d\n\n", round.RoundNumber)
		for _, r := range round.Responses {
			fmt.Fprintf(&b, "**%s** (%s, %s confidence):\n%s\n\n", r.PluginName, r.Domain, r.Confidence, r.Answer)
		}
	}
	return strings.TrimSpace(b.String())
}

func debateContext(rounds []models.CollaborationRound) string {
	return formatTranscript(rounds) + "\n\n" +
		"Consider the positions above. If they change your view, say explicitly that you are revising " +
		"or updating your position, or which expert you agree with. Otherwise defend your answer."
}

func reviewContext(first models.CollaborationRound) string {
	return formatTranscript([]models.CollaborationRound{first}) + "\n\n" +
		"Review this assessment from the perspective of your own domain. Point out errors and omissions, " +
		"and state where you agree."
}
