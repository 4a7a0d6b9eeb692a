package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hubdocs/docpilot/internal/api"
	"github.com/hubdocs/docpilot/internal/config"
	"github.com/hubdocs/docpilot/internal/pipeline"
	"github.com/hubdocs/docpilot/internal/provider/cohere"
	"github.com/hubdocs/docpilot/internal/provider/openai"
	"github.com/hubdocs/docpilot/internal/provider/pinecone"
	"github.com/hubdocs/docpilot/internal/repository"
	"github.com/hubdocs/docpilot/internal/service"
	"github.com/hubdocs/docpilot/internal/watcher"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load .env before the config so env overrides apply
	_ = godotenv.Load()

	// Load configuration; missing provider credentials fail here, not at
	// request time
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize session database
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	sessionRepo := repository.NewSessionRepository(db)

	// Construct the provider clients once and inject them explicitly
	openaiClient := openai.New(openai.Config{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKey:         cfg.OpenAI.APIKey,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		ChatModel:      cfg.OpenAI.ChatModel,
	})
	vectorStore := pinecone.New(pinecone.Config{
		Host:      cfg.Pinecone.Host,
		APIKey:    cfg.Pinecone.APIKey,
		Namespace: cfg.Pinecone.Namespace,
	})
	reranker := cohere.New(cohere.Config{
		BaseURL: cfg.Cohere.BaseURL,
		APIKey:  cfg.Cohere.APIKey,
		Model:   cfg.Cohere.Model,
	})

	// Build the pipelines
	queryPipeline := pipeline.NewQuery(openaiClient, vectorStore, reranker, openaiClient, logger,
		pipeline.WithTopK(cfg.Query.TopKRaw, cfg.Query.TopKFinal))

	chunker, err := pipeline.NewChunker(cfg.Ingest.ChunkTokens, cfg.Ingest.ChunkOverlap)
	if err != nil {
		logger.Fatal("Failed to create chunker", zap.Error(err))
	}
	ingestor := pipeline.NewIngestor(openaiClient, vectorStore, chunker, cfg.Ingest.BatchSize, logger)

	chatService := service.NewChatService(sessionRepo, queryPipeline, logger)

	// Setup router
	handler := api.NewHandler(chatService, ingestor, cfg.Ingest.DocsDir, version, logger)
	router := api.SetupRouter(handler, api.RouterConfig{
		APIKey:       cfg.Admin.APIKey,
		AllowOrigins: []string{"*"},
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:        cfg.Address(),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional docs-dir watcher for automatic re-ingestion
	if cfg.Ingest.Watch {
		w, err := watcher.New(cfg.Ingest.DocsDir, func(ctx context.Context, dir string) error {
			_, err := ingestor.IngestDirectory(ctx, dir)
			return err
		}, logger)
		if err != nil {
			logger.Fatal("Failed to start document watcher", zap.Error(err))
		}
		defer w.Close()
		go w.Run(ctx)
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting DocPilot server",
			zap.String("address", cfg.Address()),
			zap.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
