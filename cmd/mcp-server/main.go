// Package main provides the MCP server entry point for the document
// question-answering library.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bull/docqa/internal/chunker"
	"github.com/bull/docqa/internal/config"
	"github.com/bull/docqa/internal/embedding"
	"github.com/bull/docqa/internal/indexer"
	"github.com/bull/docqa/internal/jobs"
	mcpserver "github.com/bull/docqa/internal/mcp"
	"github.com/bull/docqa/internal/memory"
	"github.com/bull/docqa/internal/metastore"
	"github.com/bull/docqa/internal/retriever"
	"github.com/bull/docqa/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load .env file if present (local development), ignore if missing
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(getEnv("DOCQA_CONFIG", "config.yaml"))
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	meta, err := metastore.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("Failed to open metadata store", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	vectors, err := storage.NewQdrantStorage(cfg.Qdrant.Host, cfg.Qdrant.Port)
	if err != nil {
		logger.Error("Failed to connect to Qdrant", "error", err)
		os.Exit(1)
	}
	defer vectors.Close()

	if err := vectors.EnsureCollection(ctx); err != nil {
		logger.Error("Failed to ensure collection", "error", err)
		os.Exit(1)
	}

	client, err := embedding.NewClient()
	if err != nil {
		logger.Error("Failed to create embedding client", "error", err)
		os.Exit(1)
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.BatchSize)

	ix := indexer.New(meta.DocumentSource(), vectors, embedder, chunker.New(cfg.Chunker.MaxChars), logger)
	scheduler := jobs.NewScheduler(meta, ix, cfg.Jobs.MaxWorkers, logger)
	defer scheduler.Wait()

	ret := retriever.New(vectors, meta, embedder, logger)

	summarizer := memory.NewChatSummarizer(client.Client())
	manager := memory.NewManager(meta, summarizer, memory.Config{
		RetainWindow:     cfg.Memory.RetainWindow,
		TriggerThreshold: cfg.Memory.TriggerThreshold,
		UpdateInterval:   cfg.Memory.UpdateInterval,
	}, logger)

	server := mcpserver.NewServer(&mcpserver.Config{
		Store:     meta,
		Retriever: ret,
		Scheduler: scheduler,
		Memory:    manager,
		Owner:     getEnv("DOCQA_OWNER", "default"),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(vectors, meta))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	if cfg.Server.Transport == "http" {
		logger.Info("Starting HTTP server", "addr", cfg.Server.Addr)
		if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
		return
	}

	// Stdio mode: serve MCP over stdin/stdout, health over HTTP in the
	// background for local checks.
	go func() {
		if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting MCP server (stdio mode)")
	if err := server.Run(ctx); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
