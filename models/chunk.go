package models

import (
	"github.com/google/uuid"
)

// RetrievedChunk is a knowledge-base passage returned by similarity search
type RetrievedChunk struct {
	ID           uuid.UUID `json:"id"`
	Content      string    `json:"content"`
	Similarity   float64   `json:"similarity"` // 1 - cosine distance
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	FileType     string    `json:"file_type"`
	PageNumber   *int      `json:"page_number,omitempty"`
	SectionTitle *string   `json:"section_title,omitempty"`
	ChunkIndex   int       `json:"chunk_index"`
}

// KnowledgeChunk is a passage prepared for ingestion into a plugin's knowledge base
type KnowledgeChunk struct {
	ID           uuid.UUID `json:"id"`
	PluginID     uuid.UUID `json:"plugin_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	FileType     string    `json:"file_type"`
	PageNumber   *int      `json:"page_number,omitempty"`
	SectionTitle *string   `json:"section_title,omitempty"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
}
