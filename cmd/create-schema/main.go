package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"expertpanel-backend/config"
	"expertpanel-backend/repository"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	reset := flag.Bool("reset", false, "drop existing tables first (destroys all data)")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := repository.Connect(ctx, cfg.Database.URL, 2, slog.Default())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if *reset {
		_, err = pool.Exec(ctx, "DROP TABLE IF EXISTS knowledge_chunks, decision_trees, document_files, audit_log, plugins CASCADE")
		if err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✓ Dropped existing tables")
	}

	tables := []struct {
		name string
		sql  string
	}{
		{
			name: "plugins",
			sql: `
CREATE TABLE IF NOT EXISTS plugins (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    slug VARCHAR(100) NOT NULL UNIQUE,
    name VARCHAR(255) NOT NULL,
    domain VARCHAR(255) NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL DEFAULT '',
    version VARCHAR(50) NOT NULL DEFAULT '1.0.0',
    web_search BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			name: "decision_trees",
			sql: `
CREATE TABLE IF NOT EXISTS decision_trees (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    plugin_id UUID NOT NULL REFERENCES plugins(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    root_node_id VARCHAR(100) NOT NULL,
    -- node id -> node, see models.DecisionNode
    nodes JSONB NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			name: "knowledge_chunks",
			sql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id UUID PRIMARY KEY,
    plugin_id UUID NOT NULL REFERENCES plugins(id) ON DELETE CASCADE,
    document_id UUID NOT NULL,
    document_name VARCHAR(500) NOT NULL,
    file_type VARCHAR(20) NOT NULL DEFAULT '',
    page_number INTEGER,
    section_title TEXT,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT knowledge_chunk_order_unique UNIQUE (plugin_id, document_name, chunk_index)
);`, cfg.Database.EmbeddingDim),
		},
		{
			name: "audit_log",
			sql: `
CREATE TABLE IF NOT EXISTS audit_log (
    id UUID PRIMARY KEY,
    kind VARCHAR(50) NOT NULL,
    plugin_slugs TEXT[] NOT NULL DEFAULT '{}',
    query TEXT NOT NULL DEFAULT '',
    confidence VARCHAR(20) NOT NULL,
    latency_ms BIGINT NOT NULL DEFAULT 0,
    payload JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			name: "document_files",
			sql: `
CREATE TABLE IF NOT EXISTS document_files (
    id UUID PRIMARY KEY,
    plugin_slug VARCHAR(100),
    filename VARCHAR(500) NOT NULL,
    mime_type VARCHAR(100) NOT NULL,
    size BIGINT NOT NULL,
    storage_path TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
	}

	for _, t := range tables {
		if _, err := pool.Exec(ctx, t.sql); err != nil {
			log.Fatalf("Failed to create %s table: %v", t.name, err)
		}
		log.Printf("✓ Created table: %s", t.name)
	}

	// Create indexes
	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "Vector similarity search (HNSW)",
			sql: `CREATE INDEX IF NOT EXISTS idx_knowledge_embedding_hnsw ON knowledge_chunks
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);`,
		},
		{
			name: "Plugin scope filtering",
			sql:  "CREATE INDEX IF NOT EXISTS idx_knowledge_plugin ON knowledge_chunks(plugin_id);",
		},
		{
			name: "Active decision tree lookup",
			sql:  "CREATE INDEX IF NOT EXISTS idx_decision_trees_active ON decision_trees(plugin_id, updated_at DESC) WHERE is_active = true;",
		},
		{
			name: "Recent audit records by kind",
			sql:  "CREATE INDEX IF NOT EXISTS idx_audit_kind_created ON audit_log(kind, created_at DESC);",
		},
	}

	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx.sql); err != nil {
			log.Printf("Warning: Failed to create index %s: %v", idx.name, err)
		} else {
			log.Printf("✓ Created index: %s", idx.name)
		}
	}

	fmt.Println("\n✅ Database schema created successfully!")
	fmt.Printf("   Tables: %d, embedding dimension: %d\n", len(tables), cfg.Database.EmbeddingDim)
}
