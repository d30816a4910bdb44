package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/trial-eligibility-mcp-server/internal/config"
	"github.com/trial-eligibility-mcp-server/internal/database"
)

func main() {
	var configFile string
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&configFile, "config", "", "Path to config.yaml used when -database is not set")
	flag.StringVar(&databaseURL, "database", "", "Database URL (overrides config and DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (default from config)")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	configManager, err := config.NewManagerWithFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)

	// Flag, then environment, then config
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = database.FromDomainConfig(cfg.Database).URL()
	}
	if migrationsPath == "" {
		migrationsPath = cfg.Database.MigrationsPath
	}

	logger.WithField("path", migrationsPath).Info("Connecting to database")

	runner, err := database.NewMigrationRunner(databaseURL, migrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	defer runner.Close()

	ctx := context.Background()

	switch command {
	case "up":
		if err := runner.Up(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}

	case "down":
		if err := runner.Down(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to roll back migration")
		}

	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			logger.WithError(err).Fatal("Failed to get version")
		}
		fmt.Printf("Current version: %d (dirty: %v)\n", version, dirty)

	case "force":
		if len(flag.Args()) < 1 {
			logger.Fatal("Force command requires a version number: -command force <version>")
		}
		var version int
		if _, err := fmt.Sscanf(flag.Arg(0), "%d", &version); err != nil {
			logger.WithError(err).Fatal("Invalid version number")
		}
		if err := runner.Force(version); err != nil {
			logger.WithError(err).Fatal("Failed to force version")
		}

	default:
		logger.Fatalf("Unknown command: %s (use: up, down, version, force)", command)
	}
}
