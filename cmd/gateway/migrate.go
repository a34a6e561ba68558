package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/config"
	"github.com/BaSui01/agentflow/internal/catalogue"
	"github.com/BaSui01/agentflow/internal/metricsink"
)

// runMigrate applies gorm AutoMigrate over every table this binary owns
// (the catalogue schema and the adapter metrics log). There is no up/down
// versioning here: AutoMigrate only ever adds columns and indexes, it
// never drops them, so there is nothing to roll back.
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}

	tables := append(catalogue.AllTables(), metricsink.AllTables()...)
	if err := db.AutoMigrate(tables...); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Migrated %d tables\n", len(tables))
}
