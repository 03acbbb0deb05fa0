package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"expertpanel-backend/decision"
	"expertpanel-backend/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "GIN_MODE", "DATABASE_URL", "EMBEDDING_DIM",
		"LLM_PROVIDER", "LLM_MODEL", "EMBEDDING_MODEL", "OLLAMA_BASE_URL",
		"GEMINI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "LLM_REQUESTS_PER_SECOND",
		"STORAGE_TYPE", "STORAGE_LOCAL_PATH", "AWS_S3_BUCKET", "AWS_REGION", "AWS_S3_PREFIX", "AWS_S3_ENDPOINT",
		"GCS_BUCKET", "GCS_PREFIX", "GOOGLE_APPLICATION_CREDENTIALS",
		"OTEL_TRACES_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_TRACES_SAMPLER_ARG", "APP_ENV",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9090"
  log_level: debug
llm:
  provider: ollama
  model: mistral
  base_url: http://ollama:11434
retrieval:
  top_k: 12
  threshold: 0.5
storage:
  type: s3
  s3_bucket: docs
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	t.Setenv("PORT", "7070")
	t.Setenv("EMBEDDING_DIM", "1024")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port, "env overrides file")
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 1024, cfg.Database.EmbeddingDim)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, "nomic-embed-text", cfg.LLM.EmbeddingModel)
	assert.Equal(t, 12, cfg.Retrieval.TopK)
	assert.Equal(t, 0.5, cfg.Retrieval.Threshold)
	assert.Equal(t, 4, cfg.Review.BatchSize)
	assert.Equal(t, 3, cfg.Review.Workers)

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.StorageTypeS3, sc.Type)
	assert.Equal(t, "docs", sc.S3Bucket)
	assert.Equal(t, "us-east-1", sc.S3Region)

	assert.Empty(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")
	assert.Nil(t, cfg)

	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "google", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, 768, cfg.Database.EmbeddingDim)
	assert.Equal(t, "local", cfg.Storage.Type)

	lc := cfg.LLMConfig()
	assert.Equal(t, "g-key", lc.APIKey)
	assert.Equal(t, "text-embedding-004", lc.EmbeddingModel)

	assert.Empty(t, cfg.Validate())
}

func TestLoad_ProviderKeys(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "a-key", cfg.LLM.APIKey)
	assert.Equal(t, "g-key", cfg.LLM.EmbeddingAPIKey)
	assert.Empty(t, cfg.Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Server.Port = "http"
	cfg.Server.LogLevel = "loud"
	cfg.Database.URL = "mysql://db"
	cfg.LLM.Provider = "openai"
	cfg.Retrieval.Threshold = 1.5
	cfg.Ingest.ChunkOverlap = cfg.Ingest.ChunkSize
	cfg.Storage.Type = "s3"
	cfg.Telemetry.Exporter = "jaeger"
	cfg.Telemetry.SampleRatio = 2

	fields := map[string]bool{}
	for _, e := range cfg.Validate() {
		fields[e.Field] = true
		assert.NotEmpty(t, e.Error())
	}

	for _, f := range []string{
		"server.port", "server.log_level", "database.url", "llm.api_key", "llm.embedding_api_key",
		"retrieval.threshold", "ingest.chunk_overlap", "storage.s3_bucket",
		"telemetry.exporter", "telemetry.sample_ratio",
	} {
		assert.True(t, fields[f], "expected a validation error for %s", f)
	}
}

func TestValidate_GCSBucket(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STORAGE_TYPE", "gcs")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load("")
	require.NoError(t, err)
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "storage.gcs_bucket", errs[0].Field)

	t.Setenv("GCS_BUCKET", "review-docs")
	t.Setenv("GCS_PREFIX", "/uploads/")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/secrets/sa.json")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Validate())

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.StorageTypeGCS, sc.Type)
	assert.Equal(t, "review-docs", sc.GCSBucket)
	assert.Equal(t, "/uploads/", sc.GCSPrefix)
	assert.Equal(t, "/secrets/sa.json", sc.GCSCredentialsFile)
}

func TestLoad_Telemetry(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OTEL_TRACES_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Validate())

	tc := cfg.TelemetryConfig("expertpanel", "1.2.0")
	assert.Equal(t, "otlp", tc.Exporter)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
	assert.True(t, tc.OTLPInsecure)
	assert.Equal(t, 0.25, tc.SampleRatio)
	assert.Equal(t, "development", tc.Environment)
	assert.Equal(t, "expertpanel", tc.ServiceName)
}

func TestParseLogLevel(t *testing.T) {
	l, err := ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLogLevel("verbose")
	assert.Error(t, err)
}

const seedYAML = `
plugins:
  - slug: concrete
    name: Concrete Engineer
    domain: structural concrete
    system_prompt: You are a chartered structural engineer.
    decision_tree:
      root_node_id: exposure
      nodes:
        exposure:
          type: condition
          field: exposure_class
          operator: in
          value: [XC3, XC4]
          true_child_id: thick
          false_child_id: thin
        thick:
          type: action
          recommendation: Use 45mm nominal cover
          severity: high
        thin:
          type: action
          recommendation: Use 25mm nominal cover
  - slug: fire-safety
    name: Fire Engineer
    web_search: true
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Plugins, 2)

	concrete := seed.Plugins[0]
	assert.Equal(t, "1.0.0", seed.Plugins[0].Version)
	require.NotNil(t, concrete.DecisionTree)
	assert.Equal(t, "Concrete Engineer decision tree", concrete.DecisionTree.Name)
	assert.Equal(t, "exposure", concrete.DecisionTree.Nodes["exposure"].ID)

	result := decision.Evaluate(concrete.DecisionTree, map[string]string{"exposure_class": "xc4"})
	require.NotNil(t, result.Recommendation)
	assert.Equal(t, "Use 45mm nominal cover", result.Recommendation.Recommendation)

	p := seed.Plugins[1].Plugin()
	assert.Equal(t, "fire-safety", p.Slug)
	assert.True(t, p.WebSearch)
	assert.Nil(t, seed.Plugins[1].DecisionTree)
}

func TestParseSeed_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad slug":       "plugins:\n  - slug: Concrete Eng\n    name: x\n",
		"duplicate slug": "plugins:\n  - slug: a\n    name: x\n  - slug: a\n    name: y\n",
		"missing name":   "plugins:\n  - slug: a\n",
		"dangling child": "plugins:\n  - slug: a\n    name: x\n    decision_tree:\n      root_node_id: q\n      nodes:\n        q:\n          type: condition\n          field: f\n          operator: eq\n          value: 1\n          true_child_id: missing\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed([]byte(doc))
			assert.Error(t, err)
		})
	}
}
