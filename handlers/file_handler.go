package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"expertpanel-backend/models"
	"expertpanel-backend/repository"
	"expertpanel-backend/service"
	"expertpanel-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FileStore persists uploaded file metadata
type FileStore interface {
	Create(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.File, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// FileHandler handles HTTP requests for file operations
type FileHandler struct {
	fileRepo         FileStore
	plugins          service.PluginSource
	storage          storage.Storage
	logger           *slog.Logger
	maxFileSize      int64
	allowedMimeTypes map[string]bool
}

// NewFileHandler creates a new file handler
func NewFileHandler(fileRepo FileStore, plugins service.PluginSource, storage storage.Storage, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{
		fileRepo:    fileRepo,
		plugins:     plugins,
		storage:     storage,
		logger:      logger,
		maxFileSize: 5 * 1024 * 1024, // 5MB, the review document limit
		allowedMimeTypes: map[string]bool{
			"text/plain":       true,
			"text/markdown":    true,
			"text/html":        true,
			"application/json": true,
		},
	}
}

// mimeByExtension infers a MIME type for reviewable text documents
var mimeByExtension = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".html":     "text/html",
	".htm":      "text/html",
	".json":     "application/json",
}

// UploadFile handles POST /api/files/upload
func (h *FileHandler) UploadFile(c *gin.Context) {
	ctx := c.Request.Context()

	// Optional owning expert
	var pluginSlug *string
	if slug := strings.TrimSpace(c.PostForm("plugin_slug")); slug != "" {
		if _, err := h.plugins.GetBySlug(ctx, slug); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				respondError(c, http.StatusBadRequest, "PLUGIN_NOT_FOUND", fmt.Sprintf("Expert %q not found", slug))
				return
			}
			respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
			return
		}
		pluginSlug = &slug
	}

	// Get file from form
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}

	// Validate file size
	if fileHeader.Size > h.maxFileSize {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE", fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	// Determine MIME type
	mimeType := strings.TrimSpace(strings.Split(fileHeader.Header.Get("Content-Type"), ";")[0])
	if mimeType == "" || mimeType == "application/octet-stream" {
		if inferred, ok := mimeByExtension[strings.ToLower(filepath.Ext(fileHeader.Filename))]; ok {
			mimeType = inferred
		} else {
			mimeType = "application/octet-stream"
		}
	}

	// Only text documents can be reviewed
	if !h.allowedMimeTypes[mimeType] && !strings.HasPrefix(mimeType, "text/") {
		respondError(c, http.StatusBadRequest, "INVALID_FILE_TYPE", "File type not allowed. Allowed types: TXT, MD, HTML, JSON")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	fileID := uuid.New()

	storagePath, err := h.storage.Upload(ctx, fileID, fileHeader.Filename, file)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "UPLOAD_FAILED", fmt.Sprintf("Failed to upload file: %v", err))
		return
	}

	fileRecord := &models.File{
		ID:          fileID,
		PluginSlug:  pluginSlug,
		Filename:    fileHeader.Filename,
		MimeType:    mimeType,
		Size:        fileHeader.Size,
		StoragePath: storagePath,
	}

	if err := h.fileRepo.Create(ctx, fileRecord); err != nil {
		// Try to clean up uploaded file
		if delErr := h.storage.Delete(ctx, storagePath); delErr != nil {
			h.logger.Warn("Warning: failed to remove orphaned upload", "path", storagePath, "error", delErr)
		}
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", fmt.Sprintf("Failed to save file record: %v", err))
		return
	}

	respondOK(c, http.StatusCreated, gin.H{
		"id":          fileRecord.ID,
		"plugin_slug": fileRecord.PluginSlug,
		"filename":    fileRecord.Filename,
		"mime_type":   fileRecord.MimeType,
		"size":        fileRecord.Size,
		"created_at":  fileRecord.CreatedAt,
	})
}

// GetFile handles GET /api/files/:id
func (h *FileHandler) GetFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid file ID format")
		return
	}

	file, err := h.fileRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), file.StoragePath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		respondError(c, http.StatusNotFound, "FILE_NOT_FOUND", "File content is missing from storage")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DOWNLOAD_FAILED", fmt.Sprintf("Failed to download file: %v", err))
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, reader, nil)
}

// DeleteFile handles DELETE /api/files/:id
func (h *FileHandler) DeleteFile(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid file ID format")
		return
	}

	file, err := h.fileRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}

	// Remove content before the record
	if err := h.storage.Delete(ctx, file.StoragePath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		respondError(c, http.StatusInternalServerError, "DELETE_FAILED", fmt.Sprintf("Failed to delete file content: %v", err))
		return
	}

	if err := h.fileRepo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", fmt.Sprintf("Failed to delete file record: %v", err))
		return
	}

	respondOK(c, http.StatusOK, gin.H{"id": id, "deleted": true})
}
