package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"expertpanel-backend/config"
	"expertpanel-backend/ingest"
	"expertpanel-backend/llm"
	"expertpanel-backend/repository"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type options struct {
	configPath   string
	pluginSlug   string
	dir          string
	replace      bool
	chunkSize    int
	chunkOverlap int
	concurrency  int
	cacheDir     string
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:   "build-embeddings",
		Short: "Chunk, embed and store reference documents in an expert's knowledge base",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cmd, opts)
		},
		SilenceUsage: true,
	}

	f := root.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to config.yaml")
	f.StringVarP(&opts.pluginSlug, "plugin", "p", "", "slug of the expert plugin that owns the documents")
	f.StringVarP(&opts.dir, "dir", "d", "./reference_docs", "directory of .txt, .md and .html documents")
	f.BoolVar(&opts.replace, "replace", false, "re-embed documents that were already ingested")
	f.IntVar(&opts.chunkSize, "chunk-size", 0, "maximum chunk size in characters (default from config)")
	f.IntVar(&opts.chunkOverlap, "chunk-overlap", -1, "characters carried between chunks (default from config)")
	f.IntVar(&opts.concurrency, "concurrency", 4, "parallel embedding calls")
	f.StringVar(&opts.cacheDir, "cache-dir", ".embedding-cache", "local embedding cache directory (empty disables the cache)")
	_ = root.MarkFlagRequired("plugin")

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command, opts options) error {
	config.LoadDotEnv()
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.chunkSize > 0 {
		cfg.Ingest.ChunkSize = opts.chunkSize
	}
	if opts.chunkOverlap >= 0 {
		cfg.Ingest.ChunkOverlap = opts.chunkOverlap
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return errs[0]
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	files, err := findDocuments(opts.dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported documents found in %s", opts.dir)
	}

	db, err := repository.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	plugin, err := repository.NewPluginRepository(db).GetBySlug(ctx, opts.pluginSlug)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("plugin %q not found, seed it first with: expertctl seed", opts.pluginSlug)
	}
	if err != nil {
		return err
	}

	llmCfg := cfg.LLMConfig()
	var embedder llm.Embedder
	embedder, err = llm.NewEmbedder(ctx, llmCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if opts.cacheDir != "" {
		cached, err := llm.NewCachedEmbedder(embedder, llm.CacheConfig{
			Dir:       opts.cacheDir,
			Namespace: llmCfg.EmbeddingModel,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer cached.Close()
		embedder = cached
	}

	ingestor := ingest.NewIngestor(
		repository.NewChunkRepository(db, embedder),
		embedder,
		ingest.IngestWithChunker(ingest.Chunker{Size: cfg.Ingest.ChunkSize, Overlap: cfg.Ingest.ChunkOverlap}),
		ingest.IngestWithConcurrency(opts.concurrency),
		ingest.IngestWithDimension(cfg.Database.EmbeddingDim),
		ingest.IngestWithLogger(logger),
	)

	color.Cyan("Ingesting %d documents into %s (%s)\n", len(files), plugin.Name, plugin.Slug)

	var stored, skipped, failed int
	for _, path := range files {
		doc, err := ingest.LoadFile(path)
		if err != nil {
			color.Red("✗ %s: %v\n", filepath.Base(path), err)
			failed++
			continue
		}

		bar := progressBar(ingestor.Count(doc), doc.Name)
		res, err := ingestor.Ingest(ctx, plugin.ID, doc, opts.replace, func() { _ = bar.Add(1) })
		_ = bar.Finish()
		fmt.Println()

		switch {
		case err != nil:
			color.Red("✗ %s: %v\n", doc.Name, err)
			failed++
			if ctx.Err() != nil {
				return ctx.Err()
			}
		case res.Skipped:
			color.Yellow("- %s already has %d chunks, skipped (use --replace to re-embed)\n", doc.Name, res.Chunks)
			skipped++
		default:
			color.Green("✓ %s: %d chunks in %s\n", doc.Name, res.Chunks, res.Duration.Round(time.Millisecond))
			stored++
		}
	}

	fmt.Printf("\nStored %d, skipped %d, failed %d\n", stored, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d documents failed", failed)
	}
	return nil
}

// findDocuments lists supported files under dir in a stable order
func findDocuments(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := ingest.SupportedExtensions[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func progressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetVisibility(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())),
	)
}
