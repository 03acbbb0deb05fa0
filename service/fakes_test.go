package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"expertpanel-backend/llm"
	"expertpanel-backend/models"
	"expertpanel-backend/repository"

	"github.com/google/uuid"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlugin(slug string) *models.Plugin {
	return &models.Plugin{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(slug)),
		Slug:         slug,
		Name:         "Expert " + slug,
		Domain:       slug + " engineering",
		SystemPrompt: "persona:" + slug,
		Version:      "1.0.0",
	}
}

func testChunk(doc, content string, similarity float64) models.RetrievedChunk {
	return models.RetrievedChunk{
		ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc+content)),
		Content:      content,
		Similarity:   similarity,
		DocumentID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc)),
		DocumentName: doc,
		FileType:     "md",
	}
}

// fakePlugins is an in-memory PluginSource
type fakePlugins struct {
	mu      sync.Mutex
	plugins map[string]*models.Plugin
	lookups int
}

func newFakePlugins(plugins ...*models.Plugin) *fakePlugins {
	f := &fakePlugins{plugins: map[string]*models.Plugin{}}
	for _, p := range plugins {
		f.plugins[p.Slug] = p
	}
	return f
}

func (f *fakePlugins) GetBySlug(_ context.Context, slug string) (*models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	p, ok := f.plugins[slug]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakePlugins) List(context.Context) ([]models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Plugin, 0, len(f.plugins))
	for _, p := range f.plugins {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePlugins) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

// fakeRetriever returns fixed chunks per plugin scope
type fakeRetriever struct {
	mu     sync.Mutex
	chunks map[uuid.UUID][]models.RetrievedChunk
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, scopeID uuid.UUID, topK int, _ float64) ([]models.RetrievedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	chunks := f.chunks[scopeID]
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

func (f *fakeRetriever) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeTrees serves one tree per plugin
type fakeTrees struct {
	trees map[uuid.UUID]*models.DecisionTree
	err   error
}

func (f *fakeTrees) GetActive(_ context.Context, pluginID uuid.UUID) (*models.DecisionTree, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.trees[pluginID], nil
}

// fakeAudit records appended audit entries
type fakeAudit struct {
	mu      sync.Mutex
	records []*models.AuditRecord
	err     error
}

func (f *fakeAudit) Append(_ context.Context, rec *models.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAudit) snapshot() []*models.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.AuditRecord(nil), f.records...)
}

// scriptedLLM answers each request through respond, which must be safe for concurrent use
type scriptedLLM struct {
	mu       sync.Mutex
	respond  func(req llm.Request) (string, error)
	requests []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.respond(req)
}

func (s *scriptedLLM) seen() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// streamingLLM delivers its reply as one delta per part
type streamingLLM struct {
	parts []string
}

func (s *streamingLLM) Complete(_ context.Context, _ llm.Request) (string, error) {
	out := ""
	for _, p := range s.parts {
		out += p
	}
	return out, nil
}

func (s *streamingLLM) Stream(_ context.Context, _ llm.Request, fn func(llm.StreamEvent) error) (string, error) {
	out := ""
	for _, p := range s.parts {
		if err := fn(llm.StreamEvent{Type: llm.EventTextDelta, Text: p}); err != nil {
			return "", err
		}
		out += p
	}
	return out, nil
}

// eventRecorder collects emitted events
type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) emit(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func eventName(ev models.Event) string {
	return fmt.Sprintf("%T", ev)
}
