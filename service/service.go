package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"expertpanel-backend/models"
	"expertpanel-backend/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrPluginNotFound   = errors.New("expert plugin not found")
	ErrFileNotFound     = errors.New("document file not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrRetrievalFailed  = errors.New("failed to retrieve reference context")
	ErrGenerationFailed = errors.New("failed to generate content")
	ErrTimeout          = errors.New("upstream call timed out")
	ErrStorageFailed    = errors.New("storage operation failed")
	ErrCanceled         = errors.New("request canceled")
)

// Retriever returns the knowledge chunks most similar to query within one plugin's scope
type Retriever interface {
	Retrieve(ctx context.Context, query string, scopeID uuid.UUID, topK int, threshold float64) ([]models.RetrievedChunk, error)
}

// PluginSource resolves expert plugins
type PluginSource interface {
	GetBySlug(ctx context.Context, slug string) (*models.Plugin, error)
	List(ctx context.Context) ([]models.Plugin, error)
}

// TreeSource loads a plugin's active decision tree. It returns nil, nil when there is none.
type TreeSource interface {
	GetActive(ctx context.Context, pluginID uuid.UUID) (*models.DecisionTree, error)
}

// AuditSink stores pipeline audit records
type AuditSink interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
}

// FileSource resolves uploaded document metadata
type FileSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.File, error)
}

// Emitter receives stream events. A nil Emitter drops them.
type Emitter func(models.Event)

func (e Emitter) emit(ev models.Event) {
	if e != nil {
		e(ev)
	}
}

// serialized returns an Emitter that is safe to call from several goroutines
func (e Emitter) serialized() Emitter {
	if e == nil {
		return nil
	}
	var mu sync.Mutex
	return func(ev models.Event) {
		mu.Lock()
		defer mu.Unlock()
		e(ev)
	}
}

// ErrorCode maps a pipeline error to the code used in API envelopes and error events
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPluginNotFound):
		return "PLUGIN_NOT_FOUND"
	case errors.Is(err, ErrFileNotFound):
		return "FILE_NOT_FOUND"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrCanceled):
		return "CANCELED"
	case errors.Is(err, ErrRetrievalFailed):
		return "RETRIEVAL_FAILED"
	case errors.Is(err, ErrGenerationFailed):
		return "GENERATION_FAILED"
	case errors.Is(err, ErrStorageFailed):
		return "STORAGE_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// errorEvent builds the terminal event for a failed stream
func errorEvent(err error) models.ErrorEvent {
	return models.ErrorEvent{Code: ErrorCode(err), Message: err.Error()}
}

// upstreamErr tags err with sentinel. An expired deadline becomes ErrTimeout
// and a caller cancellation becomes ErrCanceled.
func upstreamErr(sentinel error, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextErr(err)
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// contextErr tags a context error with ErrTimeout or ErrCanceled
func contextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}

// lookupPlugin resolves slug and maps a missing row to ErrPluginNotFound
func lookupPlugin(ctx context.Context, src PluginSource, slug string) (*models.Plugin, error) {
	if src == nil {
		return nil, errors.New("plugin source not set")
	}

	plugin, err := src.GetBySlug(ctx, slug)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && plugin == nil) {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin %s: %w", slug, err)
	}
	return plugin, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest runs struct tag validation and tags failures with ErrInvalidRequest
func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}
