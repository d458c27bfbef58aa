package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/contentflow/contentflow/config"
	"github.com/contentflow/contentflow/internal/database"
)

// =============================================================================
// 🔄 账本数据库迁移命令
// =============================================================================

func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateUp(subargs)
	case "down":
		runMigrateDown(subargs)
	case "version":
		runMigrateVersion(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Ledger Database Migration Commands

Usage:
  contentflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  version   Show current migration version
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  contentflow migrate up
  contentflow migrate up --config /etc/contentflow/config.yaml
  contentflow migrate down
  contentflow migrate version`)
}

// openLedgerDB 从配置打开账本数据库连接
func openLedgerDB(fs *flag.FlagSet, args []string) (*sql.DB, string, error) {
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.Open(cfg.Ledger.Driver, cfg.Ledger.DSN())
	if err != nil {
		return nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, "", err
	}
	return sqlDB, cfg.Ledger.Driver, nil
}

func runMigrateUp(args []string) {
	fs := flag.NewFlagSet("migrate up", flag.ExitOnError)
	sqlDB, driver, err := openLedgerDB(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := database.Migrate(sqlDB, driver, initLogger(config.LogConfig{Level: "info", Format: "console"})); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}

func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	sqlDB, driver, err := openLedgerDB(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := database.MigrateDown(sqlDB, driver, initLogger(config.LogConfig{Level: "info", Format: "console"})); err != nil {
		fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Rolled back one migration")
}

func runMigrateVersion(args []string) {
	fs := flag.NewFlagSet("migrate version", flag.ExitOnError)
	sqlDB, driver, err := openLedgerDB(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	version, dirty, err := database.MigrationVersion(sqlDB, driver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if version == 0 && !dirty {
		fmt.Println("No migrations applied yet")
		return
	}
	fmt.Printf("Version: %d (dirty: %v)\n", version, dirty)
}
