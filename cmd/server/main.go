package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"expertpanel-backend/config"
	"expertpanel-backend/handlers"
	"expertpanel-backend/llm"
	"expertpanel-backend/repository"
	"expertpanel-backend/service"
	"expertpanel-backend/storage"
	"expertpanel-backend/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	serviceName = "expertpanel-backend"
	version     = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load .env file from the working directory or the project root
	hasDotEnv := config.LoadDotEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid config", "field", e.Field, "message", e.Message)
		}
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if !hasDotEnv {
		logger.Warn("Warning: no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.TelemetryConfig(serviceName, version))
	if err != nil {
		logger.Error("failed to initialize tracing", "exporter", cfg.Telemetry.Exporter, "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Warning: failed to flush traces", "error", err)
		}
	}()

	// Initialize database connections
	db, err := repository.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Error("failed to initialize postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize storage
	fileStorage, err := storage.NewStorage(ctx, cfg.StorageConfig())
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	logger.Info("storage initialized", "type", cfg.Storage.Type)

	// Initialize model backends
	llmCfg := cfg.LLMConfig()
	provider, err := llm.NewProvider(ctx, llmCfg)
	if err != nil {
		logger.Error("failed to initialize llm provider", "provider", llmCfg.Provider, "error", err)
		os.Exit(1)
	}
	embedder, err := llm.NewEmbedder(ctx, llmCfg)
	if err != nil {
		logger.Error("failed to initialize embedder", "model", llmCfg.EmbeddingModel, "error", err)
		os.Exit(1)
	}
	logger.Info("llm initialized", "provider", llmCfg.Provider, "model", llmCfg.Model, "embedding_model", llmCfg.EmbeddingModel)

	// Initialize repositories
	pluginRepo := repository.NewPluginRepository(db)
	treeRepo := repository.NewDecisionTreeRepository(db)
	chunkRepo := repository.NewChunkRepository(db, embedder)
	auditRepo := repository.NewAuditRepository(db)
	fileRepo := repository.NewFileRepository(db)

	// Initialize services
	answerService := service.NewAnswerService(
		service.AnswerWithPlugins(pluginRepo),
		service.AnswerWithTrees(treeRepo),
		service.AnswerWithRetriever(chunkRepo),
		service.AnswerWithLLM(provider),
		service.AnswerWithAudit(auditRepo),
		service.AnswerWithLogger(logger),
		service.AnswerWithRetrieval(cfg.Retrieval.TopK, cfg.Retrieval.Threshold),
	)

	collaborationService := service.NewCollaborationService(
		service.CollaborationWithAnswerService(answerService),
		service.CollaborationWithLLM(provider),
		service.CollaborationWithAudit(auditRepo),
		service.CollaborationWithLogger(logger),
		service.CollaborationWithRetrieval(cfg.Retrieval.TopK, cfg.Retrieval.Threshold),
	)

	reviewService := service.NewReviewService(
		service.ReviewWithPlugins(pluginRepo),
		service.ReviewWithRetriever(chunkRepo),
		service.ReviewWithLLM(provider),
		service.ReviewWithFiles(fileRepo, fileStorage),
		service.ReviewWithAudit(auditRepo),
		service.ReviewWithLogger(logger),
		service.ReviewWithWorkers(cfg.Review.BatchSize, cfg.Review.Workers),
	)

	// Setup Gin router
	gin.SetMode(cfg.Server.GinMode)
	r := gin.Default()
	r.Use(otelgin.Middleware(serviceName))

	handlers.RegisterRoutes(r, handlers.Handlers{
		Experts:       handlers.NewExpertHandler(answerService, treeRepo, logger),
		Collaboration: handlers.NewCollaborationHandler(collaborationService, logger),
		Reviews:       handlers.NewReviewHandler(reviewService, logger),
		Files:         handlers.NewFileHandler(fileRepo, pluginRepo, fileStorage, logger),
		Audit:         handlers.NewAuditHandler(auditRepo),
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
