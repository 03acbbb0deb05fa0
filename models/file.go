package models

import (
	"time"

	"github.com/google/uuid"
)

// File is an uploaded document that can be submitted for review
type File struct {
	ID          uuid.UUID `json:"id"`
	PluginSlug  *string   `json:"plugin_slug,omitempty"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}
