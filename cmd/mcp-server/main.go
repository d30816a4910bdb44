// Package main provides the MCP entry point for the trial eligibility engine.
// It requires no external databases: history lives in SQLite under the data directory.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/composer"
	"github.com/trial-eligibility-mcp-server/internal/config"
	"github.com/trial-eligibility-mcp-server/internal/history"
	"github.com/trial-eligibility-mcp-server/internal/mcp"
	"github.com/trial-eligibility-mcp-server/internal/ontology"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

func main() {
	// Load lightweight configuration
	cfg := config.LoadLiteConfig()
	logger := config.NewLogger(cfg.LoggingConfig())

	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"transport": cfg.Transport,
		"data_dir":  cfg.DataDir,
		"rules":     cfg.RulesFile,
	}).Info("Starting trial eligibility MCP server")

	ontologyService, closeOntology, err := ontology.New(cfg.OntologyConfig(), cfg.CacheConfig(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create ontology service")
	}
	defer closeOntology()

	engineConfig := cfg.EngineConfig()
	engine, err := service.BuildEngine(engineConfig, ontologyService, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build rule engine")
	}
	if cfg.WatchRules {
		if err := composer.NewWatcher(engine, cfg.RulesFile, logger).Start(); err != nil {
			logger.WithError(err).Warn("Rule hot reload disabled")
		}
	}

	store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open evaluation history")
	}
	defer store.Close()

	svc := service.NewEligibilityService(logger, engine, nil, store, engineConfig.BatchConcurrency)

	server, err := mcp.NewServer(svc, logger, mcp.WithHistoryExport(store, cfg.ExportDir()))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Run(ctx, cfg.Transport, fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("Trial eligibility MCP server stopped")
}
