package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/palmtrace/backend/internal/infrastructure/config"
	"github.com/palmtrace/backend/internal/infrastructure/logger"
	"github.com/palmtrace/backend/internal/infrastructure/persistence"
	"github.com/palmtrace/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
)

func main() {
	var (
		logLevel string
		timeout  time.Duration
	)
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Maximum time for the command")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Database.Driver == config.DriverMemory {
		log.Fatal("Nothing to migrate for the memory driver")
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:   log,
		LogLevel: logLevel,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("Schema CLI started",
		zap.String("command", command),
		zap.String("driver", db.Driver()),
	)

	migrator := db.DB.WithContext(ctx).Migrator()

	switch command {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			log.Fatal("Migration failed", zap.Error(err))
		}
		log.Info("Schema is up to date")

	case "status":
		for _, model := range models.All() {
			stmt := db.DB.Model(model).Statement
			if err := stmt.Parse(model); err != nil {
				log.Fatal("Failed to parse model", zap.Error(err))
			}
			fmt.Printf("  %-24s %v\n", stmt.Schema.Table, migrator.HasTable(model))
		}

	case "drop":
		confirm := false
		for _, arg := range args[1:] {
			if arg == "-confirm" || arg == "--confirm" {
				confirm = true
				break
			}
		}
		if !confirm {
			log.Fatal("Drop cancelled. Use 'migrate drop -confirm' to confirm.")
		}
		log.Warn("Dropping all traceability tables")
		all := models.All()
		// reverse order keeps dependent tables first
		for i := len(all) - 1; i >= 0; i-- {
			if err := migrator.DropTable(all[i]); err != nil {
				log.Fatal("Drop failed", zap.Error(err))
			}
		}
		log.Info("All tables dropped")

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`palmtrace schema tool

Usage:
  migrate [flags] <command>

Commands:
  up              Create or update every table
  status          Show which tables exist
  drop -confirm   Drop every table (DANGEROUS)

Flags:
  -log-level string   Log level: debug, info, warn, error (default: info)
  -timeout duration   Maximum time for the command (default: 2m)

Connection settings come from config.toml or PALMTRACE_DATABASE_* variables.`)
}
