package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"expertpanel-backend/llm"
	"expertpanel-backend/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ChunkStore persists a plugin's knowledge chunks
type ChunkStore interface {
	CountByDocument(ctx context.Context, pluginID uuid.UUID, documentName string) (int, error)
	DeleteByDocument(ctx context.Context, pluginID uuid.UUID, documentName string) error
	InsertBatch(ctx context.Context, chunks []models.KnowledgeChunk, embeddings [][]float32) error
}

// Ingestor chunks, embeds and stores documents
type Ingestor struct {
	store       ChunkStore
	embedder    llm.Embedder
	chunker     Chunker
	logger      *slog.Logger
	concurrency int
	batchSize   int
	dimension   int
}

// IngestorOption is a functional option for configuring the Ingestor
type IngestorOption func(*Ingestor)

// IngestWithChunker sets the chunk size and overlap
func IngestWithChunker(c Chunker) IngestorOption {
	return func(in *Ingestor) {
		in.chunker = c
	}
}

// IngestWithLogger sets the logger
func IngestWithLogger(l *slog.Logger) IngestorOption {
	return func(in *Ingestor) {
		in.logger = l
	}
}

// IngestWithConcurrency bounds parallel embedding calls
func IngestWithConcurrency(n int) IngestorOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.concurrency = n
		}
	}
}

// IngestWithDimension rejects embeddings whose length differs from the
// knowledge_chunks vector column
func IngestWithDimension(d int) IngestorOption {
	return func(in *Ingestor) {
		in.dimension = d
	}
}

// NewIngestor creates a new ingestor
func NewIngestor(store ChunkStore, embedder llm.Embedder, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		store:       store,
		embedder:    embedder,
		chunker:     Chunker{Size: 1200, Overlap: 200},
		logger:      slog.Default(),
		concurrency: 4,
		batchSize:   50,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Result reports what happened to one document
type Result struct {
	Document string
	Chunks   int
	Skipped  bool
	Duration time.Duration
}

// Count returns how many chunks Ingest would store for doc
func (in *Ingestor) Count(doc *Document) int {
	return len(in.chunker.Split(doc))
}

// Ingest stores doc in the plugin's knowledge base. A document that already
// has chunks is skipped unless replace is set, in which case its old chunks
// are removed once every new chunk has been embedded. progress, if set, is
// called once per embedded chunk and may be called concurrently.
func (in *Ingestor) Ingest(ctx context.Context, pluginID uuid.UUID, doc *Document, replace bool, progress func()) (*Result, error) {
	start := time.Now()
	res := &Result{Document: doc.Name}

	// 1. Skip documents already ingested
	existing, err := in.store.CountByDocument(ctx, pluginID, doc.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing chunks: %w", err)
	}
	if existing > 0 && !replace {
		in.logger.Info("document already ingested, skipping", "document", doc.Name, "chunks", existing)
		res.Skipped = true
		res.Chunks = existing
		return res, nil
	}

	// 2. Chunk
	pieces := in.chunker.Split(doc)
	if len(pieces) == 0 {
		return nil, errors.New("document has no text content")
	}

	documentID := uuid.NewSHA1(pluginID, []byte(doc.Name))
	chunks := make([]models.KnowledgeChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.KnowledgeChunk{
			ID:           uuid.NewSHA1(documentID, []byte(strconv.Itoa(i))),
			PluginID:     pluginID,
			DocumentID:   documentID,
			DocumentName: doc.Name,
			FileType:     doc.FileType,
			PageNumber:   p.PageNumber,
			SectionTitle: p.SectionTitle,
			ChunkIndex:   i,
			Content:      p.Content,
		}
	}

	// 3. Embed
	embeddings := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := in.embedder.Embed(gctx, embeddingText(doc, chunks[i]))
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d: %w", i, err)
			}
			if in.dimension > 0 && len(vec) != in.dimension {
				return fmt.Errorf("chunk %d: embedding has %d dimensions, expected %d", i, len(vec), in.dimension)
			}
			embeddings[i] = vec
			if progress != nil {
				progress()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 4. Replace stored chunks
	if existing > 0 {
		if err := in.store.DeleteByDocument(ctx, pluginID, doc.Name); err != nil {
			return nil, fmt.Errorf("failed to remove old chunks: %w", err)
		}
	}
	for lo := 0; lo < len(chunks); lo += in.batchSize {
		hi := min(lo+in.batchSize, len(chunks))
		if err := in.store.InsertBatch(ctx, chunks[lo:hi], embeddings[lo:hi]); err != nil {
			return nil, err
		}
	}

	res.Chunks = len(chunks)
	res.Duration = time.Since(start)
	in.logger.Info("document ingested",
		"document", doc.Name,
		"plugin_id", pluginID,
		"chunks", res.Chunks,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// embeddingText prefixes a chunk with its document and section so that short
// chunks still carry their context
func embeddingText(doc *Document, c models.KnowledgeChunk) string {
	prefix := doc.Title
	if c.SectionTitle != nil && *c.SectionTitle != doc.Title {
		prefix += " > " + *c.SectionTitle
	}
	if prefix == "" {
		return c.Content
	}
	return prefix + "\n\n" + c.Content
}
