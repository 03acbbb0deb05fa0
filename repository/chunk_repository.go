package repository

import (
	"context"
	"errors"
	"fmt"

	"expertpanel-backend/llm"
	"expertpanel-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles similarity search and ingestion for knowledge chunks
type ChunkRepository struct {
	db       *pgxpool.Pool
	embedder llm.Embedder
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *pgxpool.Pool, embedder llm.Embedder) *ChunkRepository {
	return &ChunkRepository{db: db, embedder: embedder}
}

// Retrieve embeds query and returns the plugin's closest chunks at or above threshold
func (r *ChunkRepository) Retrieve(
	ctx context.Context,
	query string,
	scopeID uuid.UUID,
	topK int,
	threshold float64,
) ([]models.RetrievedChunk, error) {
	if r.embedder == nil {
		return nil, errors.New("embedder not set")
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return r.SearchByEmbedding(ctx, embedding, scopeID, topK, threshold)
}

// SearchByEmbedding performs cosine similarity search within one plugin's knowledge base
// similarity: 1 - cosine distance, so 1.0 is identical
func (r *ChunkRepository) SearchByEmbedding(
	ctx context.Context,
	embedding []float32,
	scopeID uuid.UUID,
	topK int,
	threshold float64,
) ([]models.RetrievedChunk, error) {
	query := `
		SELECT
			id,
			content,
			1 - (embedding <=> $1) AS similarity,
			document_id,
			document_name,
			file_type,
			page_number,
			section_title,
			chunk_index
		FROM knowledge_chunks
		WHERE
			plugin_id = $2
			AND 1 - (embedding <=> $1) >= $3
		ORDER BY
			embedding <=> $1
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, pgvector.NewVector(embedding), scopeID, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.RetrievedChunk{}
	for rows.Next() {
		var chunk models.RetrievedChunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.Content,
			&chunk.Similarity,
			&chunk.DocumentID,
			&chunk.DocumentName,
			&chunk.FileType,
			&chunk.PageNumber,
			&chunk.SectionTitle,
			&chunk.ChunkIndex,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge chunks: %w", err)
	}

	return chunks, nil
}

// CountByDocument returns how many chunks a plugin already holds for a document
func (r *ChunkRepository) CountByDocument(ctx context.Context, pluginID uuid.UUID, documentName string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM knowledge_chunks WHERE plugin_id = $1 AND document_name = $2",
		pluginID, documentName,
	).Scan(&count)
	return count, err
}

// InsertBatch stores chunks with their embeddings in one transaction
func (r *ChunkRepository) InsertBatch(ctx context.Context, chunks []models.KnowledgeChunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO knowledge_chunks (
			id, plugin_id, document_id, document_name, file_type,
			page_number, section_title, chunk_index, content, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (plugin_id, document_name, chunk_index) DO UPDATE SET
			content = EXCLUDED.content,
			section_title = EXCLUDED.section_title,
			page_number = EXCLUDED.page_number,
			embedding = EXCLUDED.embedding`

	for i, chunk := range chunks {
		_, err := tx.Exec(ctx, query,
			chunk.ID,
			chunk.PluginID,
			chunk.DocumentID,
			chunk.DocumentName,
			chunk.FileType,
			chunk.PageNumber,
			chunk.SectionTitle,
			chunk.ChunkIndex,
			chunk.Content,
			pgvector.NewVector(embeddings[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteByDocument removes a document's chunks so it can be re-ingested
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, pluginID uuid.UUID, documentName string) error {
	_, err := r.db.Exec(ctx,
		"DELETE FROM knowledge_chunks WHERE plugin_id = $1 AND document_name = $2",
		pluginID, documentName,
	)
	return err
}
