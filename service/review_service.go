package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"expertpanel-backend/grounding"
	"expertpanel-backend/llm"
	"expertpanel-backend/models"
	"expertpanel-backend/repository"
	"expertpanel-backend/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize     = 4
	defaultReviewWorkers = 3
	reviewTopK           = 5
	reviewThreshold      = 0.3
	reviewMaxTokens      = 4096
	maxDocumentBytes     = 5 * 1024 * 1024
	maxSegmentQueryRunes = 1000
	untitledDocument     = "Untitled document"
)

// ReviewService reviews documents segment by segment against an expert's knowledge base
type ReviewService struct {
	plugins   PluginSource
	retriever Retriever
	llm       llm.Provider
	files     FileSource
	storage   storage.Storage
	audit     AuditSink
	logger    *slog.Logger
	batchSize int
	workers   int
}

// ReviewServiceOption is a functional option for ReviewService
type ReviewServiceOption func(*ReviewService)

// ReviewWithPlugins sets the plugin source
func ReviewWithPlugins(p PluginSource) ReviewServiceOption {
	return func(s *ReviewService) {
		s.plugins = p
	}
}

// ReviewWithRetriever sets the knowledge retriever
func ReviewWithRetriever(r Retriever) ReviewServiceOption {
	return func(s *ReviewService) {
		s.retriever = r
	}
}

// ReviewWithLLM sets the language model provider
func ReviewWithLLM(p llm.Provider) ReviewServiceOption {
	return func(s *ReviewService) {
		s.llm = p
	}
}

// ReviewWithFiles sets the uploaded file source and the storage holding their bytes
func ReviewWithFiles(files FileSource, store storage.Storage) ReviewServiceOption {
	return func(s *ReviewService) {
		s.files = files
		s.storage = store
	}
}

// ReviewWithAudit sets the audit sink
func ReviewWithAudit(a AuditSink) ReviewServiceOption {
	return func(s *ReviewService) {
		s.audit = a
	}
}

// ReviewWithLogger sets the logger
func ReviewWithLogger(l *slog.Logger) ReviewServiceOption {
	return func(s *ReviewService) {
		s.logger = l
	}
}

// ReviewWithWorkers sets the batch size and the number of concurrent batch workers
func ReviewWithWorkers(batchSize, workers int) ReviewServiceOption {
	return func(s *ReviewService) {
		if batchSize > 0 {
			s.batchSize = batchSize
		}
		if workers > 0 {
			s.workers = workers
		}
	}
}

// NewReviewService creates a new review service
func NewReviewService(opts ...ReviewServiceOption) *ReviewService {
	s := &ReviewService{
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		workers:   defaultReviewWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReviewRequest represents a document submitted for review. Either Content
// or FileID must be set.
type ReviewRequest struct {
	PluginSlug string     `json:"plugin_slug" validate:"required"`
	Title      string     `json:"title"`
	Content    string     `json:"content" validate:"required_without=FileID"`
	FileID     *uuid.UUID `json:"file_id"`
}

// Review reviews a document and returns every annotation
func (s *ReviewService) Review(ctx context.Context, req ReviewRequest) (*models.ReviewResult, error) {
	return withSpan(ctx, "review.run", reviewAttrs(req), func(ctx context.Context) (*models.ReviewResult, error) {
		return s.review(ctx, req, nil)
	})
}

// ReviewStream reviews a document while emitting batch progress and
// annotations. The stream always ends with a DoneEvent or an ErrorEvent.
func (s *ReviewService) ReviewStream(ctx context.Context, req ReviewRequest, emit Emitter) (*models.ReviewResult, error) {
	result, err := withSpan(ctx, "review.run_stream", reviewAttrs(req), func(ctx context.Context) (*models.ReviewResult, error) {
		return s.review(ctx, req, emit)
	})
	if err != nil {
		emit.emit(errorEvent(err))
		return nil, err
	}
	emit.emit(models.DoneEvent{Result: result})
	return result, nil
}

func reviewAttrs(req ReviewRequest) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("expert.slug", req.PluginSlug)}
}

// batchOutcome is what one worker produced for one batch
type batchOutcome struct {
	annotations []models.ReviewAnnotation
	err         error
}

func (s *ReviewService) review(ctx context.Context, req ReviewRequest, emit Emitter) (*models.ReviewResult, error) {
	if s.retriever == nil {
		return nil, errors.New("retriever not set")
	}
	if s.llm == nil {
		return nil, errors.New("llm provider not set")
	}

	start := time.Now()
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// 1. Resolve the reviewing expert
	plugin, err := lookupPlugin(ctx, s.plugins, req.PluginSlug)
	if err != nil {
		return nil, err
	}

	// 2. Load and segment the document
	title, content, err := s.loadDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	segments := SegmentDocument(content)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: document has no content", ErrInvalidRequest)
	}

	batches := make([][]Segment, 0, (len(segments)+s.batchSize-1)/s.batchSize)
	for i := 0; i < len(segments); i += s.batchSize {
		batches = append(batches, segments[i:min(i+s.batchSize, len(segments))])
	}

	logger := s.logger.With("plugin", plugin.Slug, "document", title)
	logger.Info("review started", "segments", len(segments), "batches", len(batches))

	var mu sync.Mutex
	send := func(events ...models.Event) {
		if emit == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			emit(ev)
		}
	}
	send(models.ReviewStartEvent{DocumentTitle: title, TotalSegments: len(segments), TotalBatches: len(batches)})

	// 3. Fan out over a fixed pool pulling batch indexes from a shared cursor
	outcomes := make([]batchOutcome, len(batches))
	var cursor atomic.Int64
	var g errgroup.Group
	for range min(s.workers, len(batches)) {
		g.Go(func() error {
			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= len(batches) {
					return nil
				}

				send(models.BatchStartEvent{Batch: idx, Segments: len(batches[idx])})
				annotations, err := withSpan(ctx, "review.batch", []attribute.KeyValue{attribute.Int("review.batch", idx)},
					func(ctx context.Context) ([]models.ReviewAnnotation, error) {
						return s.reviewBatch(ctx, plugin, idx, batches[idx])
					})
				outcomes[idx] = batchOutcome{annotations: annotations, err: err}

				if err != nil {
					reviewBatchesTotal.WithLabelValues("error").Inc()
					logger.Warn("Warning: review batch failed", "batch", idx, "error", err)
					send(models.BatchErrorEvent{Batch: idx, Error: err.Error()})
					continue
				}

				reviewBatchesTotal.WithLabelValues("success").Inc()
				block := make([]models.Event, 0, len(annotations)+1)
				for _, a := range annotations {
					block = append(block, models.AnnotationEvent{Batch: idx, Annotation: a})
				}
				block = append(block, models.BatchCompleteEvent{Batch: idx, Annotations: len(annotations)})
				send(block...)
			}
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, contextErr(err)
	}

	// 4. Assemble in batch order
	annotations := []models.ReviewAnnotation{}
	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			continue
		}
		annotations = append(annotations, o.annotations...)
	}

	result := &models.ReviewResult{
		ID:            uuid.New(),
		PluginSlug:    plugin.Slug,
		DocumentTitle: title,
		TotalSegments: len(segments),
		TotalBatches:  len(batches),
		Annotations:   annotations,
		Summary:       summarize(annotations, failed),
		Confidence:    reviewConfidence(annotations),
		LatencyMs:     time.Since(start).Milliseconds(),
	}

	logger.Info("review finished",
		"annotations", len(annotations),
		"failed_batches", failed,
		"compliance", result.Summary.OverallCompliance,
		"confidence", result.Confidence,
		"latency_ms", result.LatencyMs,
	)
	pipelineDuration.WithLabelValues("review").Observe(time.Since(start).Seconds())

	appendAudit(ctx, s.audit, s.logger, &models.AuditRecord{
		ID:          result.ID,
		Kind:        models.AuditReview,
		PluginSlugs: []string{plugin.Slug},
		Query:       title,
		Confidence:  result.Confidence,
		LatencyMs:   result.LatencyMs,
		Payload: map[string]any{
			"segments":       len(segments),
			"batches":        len(batches),
			"failed_batches": failed,
			"annotations":    len(annotations),
			"compliance":     result.Summary.OverallCompliance,
		},
	})

	return result, nil
}

// loadDocument returns the title and text to review, downloading stored files
func (s *ReviewService) loadDocument(ctx context.Context, req ReviewRequest) (string, string, error) {
	title := strings.TrimSpace(req.Title)
	if req.FileID == nil {
		if title == "" {
			title = untitledDocument
		}
		return title, req.Content, nil
	}

	if s.files == nil || s.storage == nil {
		return "", "", errors.New("file storage not set")
	}

	file, err := s.files.GetByID(ctx, *req.FileID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && file == nil) {
		return "", "", fmt.Errorf("%w: %s", ErrFileNotFound, req.FileID)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load file record: %w", err)
	}

	rc, err := s.storage.Download(ctx, file.StoragePath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", "", fmt.Errorf("%w: %s: %w", ErrFileNotFound, req.FileID, err)
	}
	if err != nil {
		return "", "", upstreamErr(ErrStorageFailed, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes))
	if err != nil {
		return "", "", upstreamErr(ErrStorageFailed, err)
	}
	if !utf8.Valid(data) {
		return "", "", fmt.Errorf("%w: %s is not a text document", ErrInvalidRequest, file.Filename)
	}

	if title == "" {
		title = file.Filename
	}
	return title, string(data), nil
}

// annotationOutput mirrors one element of the JSON array the model returns
type annotationOutput struct {
	SegmentIndex int    `json:"segment_index"`
	Severity     string `json:"severity"`
	Category     string `json:"category"`
	Issue        string `json:"issue"`
	SuggestedFix string `json:"suggested_fix"`
}

// reviewBatch retrieves grounding for a batch, asks the model for findings
// and grounds each finding's text
func (s *ReviewService) reviewBatch(
	ctx context.Context,
	plugin *models.Plugin,
	batch int,
	segments []Segment,
) ([]models.ReviewAnnotation, error) {
	// 1. Retrieve sources per segment and merge them
	best := map[uuid.UUID]models.RetrievedChunk{}
	for _, seg := range segments {
		chunks, err := s.retriever.Retrieve(ctx, truncateRunes(seg.Text, maxSegmentQueryRunes), plugin.ID, reviewTopK, reviewThreshold)
		if err != nil {
			return nil, upstreamErr(ErrRetrievalFailed, err)
		}
		for _, c := range chunks {
			if prev, ok := best[c.ID]; !ok || c.Similarity > prev.Similarity {
				best[c.ID] = c
			}
		}
	}
	sources := make([]models.RetrievedChunk, 0, len(best))
	for _, c := range best {
		sources = append(sources, c)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Similarity != sources[j].Similarity {
			return sources[i].Similarity > sources[j].Similarity
		}
		return sources[i].ID.String() < sources[j].ID.String()
	})

	// 2. Ask for findings
	raw, err := s.llm.Complete(ctx, llm.Request{
		System:      buildSystemPrompt(plugin) + "\n\n" + reviewInstructions,
		Prompt:      buildReviewPrompt(sources, segments),
		MaxTokens:   reviewMaxTokens,
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		return nil, upstreamErr(ErrGenerationFailed, err)
	}

	var findings []annotationOutput
	if err := llm.DecodeJSON(raw, &findings); err != nil {
		return nil, fmt.Errorf("failed to parse annotations: %w", err)
	}

	// 3. Validate and ground each finding
	bySegment := make(map[int]Segment, len(segments))
	for _, seg := range segments {
		bySegment[seg.Index] = seg
	}

	annotations := []models.ReviewAnnotation{}
	for _, f := range findings {
		seg, ok := bySegment[f.SegmentIndex]
		if !ok {
			continue
		}

		issue, fix, citations, confidence := groundAnnotation(f.Issue, f.SuggestedFix, sources)
		annotations = append(annotations, models.ReviewAnnotation{
			ID:           fmt.Sprintf("ann-%d-%d", batch, len(annotations)),
			SegmentIndex: seg.Index,
			StartLine:    seg.StartLine,
			EndLine:      seg.EndLine,
			OriginalText: seg.Text,
			Severity:     normalizeSeverity(f.Severity),
			Category:     strings.TrimSpace(f.Category),
			Issue:        issue,
			SuggestedFix: fix,
			Citations:    citations,
			Confidence:   confidence,
		})
	}

	return annotations, nil
}

// groundAnnotation resolves citations in a finding's issue and fix text.
// Phantom markers are stripped from both. A finding that fails the refusal
// policy keeps its text but loses its citations and drops to low confidence.
func groundAnnotation(issue, fix string, sources []models.RetrievedChunk) (string, string, []models.CitationEntry, models.Confidence) {
	issueRes := grounding.Resolve(issue, sources)
	fixRes := grounding.Resolve(fix, sources)

	citations := []models.CitationEntry{}
	seen := map[int]bool{}
	for _, c := range append(issueRes.Citations, fixRes.Citations...) {
		if seen[c.SourceRank] {
			continue
		}
		seen[c.SourceRank] = true
		citations = append(citations, c)
	}

	realRefs := issueRes.RealRefCount + fixRes.RealRefCount
	phantomRefs := issueRes.PhantomCount + fixRes.PhantomCount
	verdict := grounding.Guard(models.CitationResult{
		CleanedAnswer: issueRes.CleanedAnswer,
		Citations:     citations,
		Confidence:    grounding.ScoreConfidence(len(sources), realRefs, phantomRefs),
		PhantomCount:  phantomRefs,
		RealRefCount:  realRefs,
	})

	if verdict.Refused {
		return issueRes.CleanedAnswer, fixRes.CleanedAnswer, []models.CitationEntry{}, models.ConfidenceLow
	}
	return issueRes.CleanedAnswer, fixRes.CleanedAnswer, verdict.Citations, verdict.Confidence
}

func normalizeSeverity(s string) models.AnnotationSeverity {
	switch sev := models.AnnotationSeverity(strings.ToLower(strings.TrimSpace(s))); sev {
	case models.SeverityError, models.SeverityWarning, models.SeverityInfo, models.SeverityPass:
		return sev
	default:
		return models.SeverityInfo
	}
}

// summarize counts annotations by severity and derives the compliance verdict
func summarize(annotations []models.ReviewAnnotation, failedBatches int) models.ReviewSummary {
	sum := models.ReviewSummary{
		TotalAnnotations: len(annotations),
		FailedBatches:    failedBatches,
	}
	for _, a := range annotations {
		switch a.Severity {
		case models.SeverityError:
			sum.Errors++
		case models.SeverityWarning:
			sum.Warnings++
		case models.SeverityPass:
			sum.Pass++
		default:
			sum.Info++
		}
	}

	switch {
	case sum.Errors == 0 && sum.Warnings == 0:
		sum.OverallCompliance = models.Compliant
	case sum.Errors == 0:
		sum.OverallCompliance = models.PartiallyCompliant
	default:
		sum.OverallCompliance = models.NonCompliant
	}
	return sum
}

// reviewConfidence grades a review by the share of annotations carrying a citation
func reviewConfidence(annotations []models.ReviewAnnotation) models.Confidence {
	if len(annotations) == 0 {
		return models.ConfidenceLow
	}

	cited := 0
	for _, a := range annotations {
		if len(a.Citations) > 0 {
			cited++
		}
	}

	ratio := float64(cited) / float64(len(annotations))
	switch {
	case ratio >= 0.6:
		return models.ConfidenceHigh
	case ratio >= 0.3:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
