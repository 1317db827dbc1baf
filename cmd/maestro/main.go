// Maestro orchestrator server: exposes the WebSocket conversation channel,
// routes each message through the agent graph, and coordinates the CRM,
// email and link-tracking tool services.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openfunnel/maestro/pkg/agent"
	"github.com/openfunnel/maestro/pkg/api"
	"github.com/openfunnel/maestro/pkg/cleanup"
	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/database"
	"github.com/openfunnel/maestro/pkg/graph"
	"github.com/openfunnel/maestro/pkg/llm"
	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/schema"
	"github.com/openfunnel/maestro/pkg/session"
	"github.com/openfunnel/maestro/pkg/version"
	"github.com/openfunnel/maestro/pkg/workflows"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	logger := slog.Default()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		logger.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	logger.Info("Starting maestro",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	logger.Info("Configuration loaded",
		"services", stats.Services,
		"llm_providers", stats.LLMProviders,
		"prompts", stats.Prompts)

	// 2. Model client
	providerCfg, err := cfg.LLMProviders.Get(cfg.DefaultProvider)
	if err != nil {
		logger.Error("Default LLM provider not configured", "error", err)
		os.Exit(1)
	}
	llmClient, err := llm.NewClient(providerCfg, cfg.Defaults.LLMTimeout)
	if err != nil {
		logger.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	// 3. Tool services: eager pre-load so a broken service config fails
	// the process at startup instead of mid-conversation.
	tools := mcp.NewManager(cfg.Services, cfg.Defaults.ToolCallTimeout)
	if err := tools.PreloadTools(ctx); err != nil {
		logger.Error("Tool service validation failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Tool services validated", "services", stats.Services)

	// 4. Checkpoint store
	var store session.Store = session.NewMemoryStore()
	var checkpointDB *database.Client
	if cfg.System != nil && cfg.System.Storage != nil && cfg.System.Storage.CheckpointPath != "" {
		checkpointDB, err = database.NewClient(ctx,
			database.Config{Path: cfg.System.Storage.CheckpointPath},
			database.CheckpointMigrations)
		if err != nil {
			logger.Error("Failed to open checkpoint database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := checkpointDB.Close(); err != nil {
				logger.Error("Error closing checkpoint database", "error", err)
			}
		}()
		store = session.NewSQLiteStore(checkpointDB)
		logger.Info("Checkpoint store opened", "path", checkpointDB.Path())
	} else {
		logger.Info("No checkpoint path configured, sessions are in-memory only")
	}

	// 5. Schema context builder
	var schemaBuilder *schema.Builder
	if providerCfg.EmbeddingModel != "" {
		catalog := schema.DefaultCatalog()
		indexPath := getEnv("SCHEMA_INDEX_PATH", "")
		if cfg.System != nil && cfg.System.Storage != nil && cfg.System.Storage.SchemaIndexPath != "" {
			indexPath = cfg.System.Storage.SchemaIndexPath
		}
		if catalogPath := filepath.Join(*configDir, "schema.yaml"); fileExists(catalogPath) {
			if loaded, err := schema.LoadCatalog(catalogPath); err != nil {
				logger.Warn("Schema catalog file ignored", "path", catalogPath, "error", err)
			} else {
				catalog = loaded
			}
		}
		if indexPath != "" {
			schemaDB, err := database.NewClient(ctx,
				database.Config{Path: indexPath},
				database.SchemaIndexMigrations)
			if err != nil {
				logger.Error("Failed to open schema index database", "error", err)
				os.Exit(1)
			}
			defer func() {
				if err := schemaDB.Close(); err != nil {
					logger.Error("Error closing schema index database", "error", err)
				}
			}()
			index := schema.NewIndex(schemaDB, logger)
			if err := index.Load(ctx, catalog, llmClient); err != nil {
				logger.Error("Failed to load schema index", "error", err)
				os.Exit(1)
			}
			schemaBuilder = schema.NewBuilder(catalog, index, llmClient, logger)
			logger.Info("Schema context builder initialized", "objects", len(catalog.Names()))
		} else {
			logger.Info("No schema index path configured, planning runs without schema context")
		}
	}

	// 6. Agent graph
	opener := &agent.ManagerOpener{Manager: tools}
	planner := agent.NewPlanner(llmClient, logger)
	resolver := agent.NewResolver(logger)
	executor := agent.NewExecutor(opener, planner, resolver, cfg.Defaults.MaxPlannerIterations, logger)
	var catalog agent.FieldCatalog
	if schemaBuilder != nil {
		executor.SetSchemaProvider(schemaBuilder)
		catalog = schemaBuilder
	}

	runner := workflows.NewRunner(opener, logger)
	engine := graph.New(graph.Config{
		Orchestrator: agent.NewOrchestrator(cfg, tools, llmClient, logger),
		Caller:       agent.NewDynamicCaller(cfg, executor, logger),
		Completion:   agent.NewCompletion(llmClient, catalog, "", "", logger),
		Builder:      agent.NewEmailBuilder(llmClient, "", "", logger),
		EmailSend: workflows.NewEmailSend(runner,
			os.Getenv("SENDER_EMAIL"), os.Getenv("SENDER_NAME"), logger),
		Engagement:   workflows.NewEngagement(runner, logger),
		SaveTemplate: workflows.NewSaveTemplate(runner, logger),
		Catalog:      catalog,
		Logger:       logger,
	})

	sessions := session.NewManager(store, engine, cfg.Defaults.MaxIterations, logger)

	// 7. Checkpoint retention
	retention := cleanup.NewService(cleanup.DefaultConfig(), store)
	retention.Start(ctx)
	defer retention.Stop()

	// 8. HTTP server
	httpServer := api.NewServer(cfg, sessions, checkpointDB, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	tools.Close()
	logger.Info("Maestro stopped")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
