package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/internal/migration"
)

// =============================================================================
// 🗄️ Database migration commands
// =============================================================================

// runMigrate handles "searchflow migrate <action> [options] [arg]".
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage(os.Stderr)
		os.Exit(1)
	}
	action := args[0]
	if action == "help" || action == "-h" || action == "--help" {
		printMigrateUsage(os.Stdout)
		return
	}

	fs := flag.NewFlagSet("migrate "+action, flag.ExitOnError)
	migrator, err := createMigrator(fs, args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), action, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", action, err)
		os.Exit(1)
	}
}

// createMigrator builds a migrator from --db-type/--db-url, falling back to
// the database section of the config file.
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  searchflow migrate <action> [options] [arg]

Actions:
  up          Apply all pending migrations
  down        Roll back the last migration
  reset       Roll back all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force the recorded version (use with caution)
  version     Show the current migration version
  status      Show migration status
  info        Show migrator details

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  searchflow migrate up --config /etc/searchflow/config.yaml
  searchflow migrate goto --db-type sqlite --db-url sqlite://searchflow.db 1
  searchflow migrate status`)
}
