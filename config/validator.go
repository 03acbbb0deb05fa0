package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"expertpanel-backend/storage"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var knownProviders = map[string]bool{
	"google":    true,
	"gemini":    true,
	"anthropic": true,
	"openai":    true,
	"ollama":    true,
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	// Server
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		add("server.port", "port must be a number between 1 and 65535")
	}
	if _, err := ParseLogLevel(c.Server.LogLevel); err != nil {
		add("server.log_level", err.Error())
	}

	// Database
	if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		add("database.url", "database URL must be a postgres:// URL")
	}
	if c.Database.EmbeddingDim < 1 || c.Database.EmbeddingDim > 16000 {
		add("database.embedding_dim", "embedding_dim must be between 1 and 16000")
	}

	// LLM
	if !knownProviders[c.LLM.Provider] {
		add("llm.provider", fmt.Sprintf("unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.Provider == "ollama" {
		if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
			add("llm.base_url", "invalid Ollama base URL")
		}
	} else {
		if c.LLM.APIKey == "" {
			add("llm.api_key", fmt.Sprintf("an API key is required for provider %q", c.LLM.Provider))
		}
		if (c.LLM.Provider == "anthropic" || c.LLM.Provider == "openai") && c.LLM.EmbeddingAPIKey == "" {
			add("llm.embedding_api_key", "a Gemini API key is required for embeddings")
		}
	}
	if c.LLM.RequestsPerSecond < 0 {
		add("llm.requests_per_second", "requests_per_second must not be negative")
	}

	// Retrieval
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		add("retrieval.top_k", "top_k must be between 1 and 50")
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		add("retrieval.threshold", "threshold must be between 0 and 1")
	}

	// Review
	if c.Review.BatchSize < 1 {
		add("review.batch_size", "batch_size must be positive")
	}
	if c.Review.Workers < 1 {
		add("review.workers", "workers must be positive")
	}

	// Ingest
	if c.Ingest.ChunkSize < 100 {
		add("ingest.chunk_size", "chunk_size must be at least 100")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		add("ingest.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Storage
	switch storage.StorageType(c.Storage.Type) {
	case storage.StorageTypeLocal:
	case storage.StorageTypeS3:
		if c.Storage.S3Bucket == "" {
			add("storage.s3_bucket", "s3_bucket is required for S3 storage")
		}
	case storage.StorageTypeGCS:
		if c.Storage.GCSBucket == "" {
			add("storage.gcs_bucket", "gcs_bucket is required for GCS storage")
		}
	default:
		add("storage.type", fmt.Sprintf("unknown storage type %q", c.Storage.Type))
	}

	// Telemetry
	switch c.Telemetry.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			add("telemetry.otlp_endpoint", "otlp_endpoint is required for the otlp exporter")
		}
	default:
		add("telemetry.exporter", fmt.Sprintf("unknown trace exporter %q", c.Telemetry.Exporter))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		add("telemetry.sample_ratio", "sample_ratio must be between 0 and 1")
	}

	return errors
}

// ParseLogLevel maps debug, info, warn and error to slog levels
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}
