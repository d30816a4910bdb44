package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/api"
	"github.com/trial-eligibility-mcp-server/internal/composer"
	"github.com/trial-eligibility-mcp-server/internal/config"
	"github.com/trial-eligibility-mcp-server/internal/database"
	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/history"
	"github.com/trial-eligibility-mcp-server/internal/ontology"
	"github.com/trial-eligibility-mcp-server/internal/repository"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

func main() {
	configFile := flag.String("config", "", "Path to config.yaml (default: search ., ./config, /etc/trial-eligibility)")
	migrate := flag.Bool("migrate", true, "Apply pending database migrations on startup")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManagerWithFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
	}).Info("Starting trial eligibility server")

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

	// Ontology
	ontologyService, closeOntology, err := ontology.New(cfg.Ontology, cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create ontology service")
	}
	defer closeOntology()

	// Rules
	engine, err := service.BuildEngine(cfg.Engine, ontologyService, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build rule engine")
	}
	if cfg.Engine.WatchRules {
		if err := composer.NewWatcher(engine, cfg.Engine.RulesFile, logger).Start(); err != nil {
			logger.WithError(err).Warn("Rule hot reload disabled")
		}
	}

	// Database
	dbConfig := database.FromDomainConfig(cfg.Database)
	requireDB := cfg.History.Enabled && strings.EqualFold(cfg.History.Backend, history.BackendPostgres)

	var records domain.PatientRecordRepository
	db, err := openDatabase(ctx, cfg.Database, dbConfig, *migrate, logger)
	switch {
	case err != nil && requireDB:
		logger.WithError(err).Fatal("Database is required for postgres history")
	case err != nil:
		logger.WithError(err).Warn("Database unavailable; stored patient records are disabled")
	default:
		defer db.Close()
		records = repository.NewPatientRecordRepository(db.Pool, logger)
	}

	// History
	store, err := history.Open(cfg.History, dbConfig.URL())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open evaluation history")
	}
	if store != nil {
		defer store.Close()
	}

	svc := service.NewEligibilityService(logger, engine, records, store, cfg.Engine.BatchConcurrency)

	// Create server
	server := api.NewServer(cfg.Server, svc, logger)

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}

	logger.Info("Server stopped")
}

func openDatabase(ctx context.Context, raw domain.DatabaseConfig, cfg database.Config, migrate bool, logger *logrus.Logger) (*database.DB, error) {
	if migrate {
		runner, err := database.NewMigrationRunner(cfg.URL(), raw.MigrationsPath, logger)
		if err != nil {
			return nil, err
		}
		defer runner.Close()
		if err := runner.Up(ctx); err != nil {
			return nil, err
		}
	}
	return database.NewConnection(ctx, cfg, logger)
}
