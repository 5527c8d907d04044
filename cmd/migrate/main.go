package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"sentinal-call/config"
	"sentinal-call/pkg/database"
)

const usage = `
Sentinal Call - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Apply all pending migrations
  down        Roll back migrations (-steps, default 1)
  status      Show the current schema version

Flags:
  -steps int   Number of migrations to roll back (default 1)

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate down -steps 2
  go run ./cmd/migrate status
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	sub := flag.NewFlagSet(command, flag.ExitOnError)
	steps := sub.Int("steps", 1, "Number of migrations to roll back")
	_ = sub.Parse(flag.Args()[1:])

	cfg := config.LoadConfig()
	if cfg.DBDriver == "sqlite" {
		log.Fatalf("❌ versioned migrations target postgres; sqlite databases are created with DB_AUTO_MIGRATE=true")
	}
	url := database.URL(cfg)

	switch command {
	case "up":
		runMigrationsUp(url)
	case "down":
		runMigrationsDown(url, *steps)
	case "status":
		showStatus(url)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(url string) {
	log.Println("🚀 Running migrations UP...")

	result, err := database.MigrateUp(url)
	if err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	if !result.Changed {
		log.Printf("✅ Already up to date (version %d)", result.Version)
		return
	}
	log.Printf("✅ Migrated to version %d", result.Version)
}

func runMigrationsDown(url string, steps int) {
	log.Printf("⬇️  Rolling back %d migration(s)...", steps)

	result, err := database.MigrateDown(url, steps)
	if err != nil {
		log.Fatalf("❌ Rollback failed: %v", err)
	}
	log.Printf("✅ Rolled back to version %d", result.Version)
}

func showStatus(url string) {
	log.Println("🔍 Checking migration status...")

	result, err := database.MigrationStatus(url)
	if err != nil {
		log.Fatalf("❌ Status failed: %v", err)
	}
	if result.Dirty {
		log.Printf("⚠️  Version %d is dirty; fix the schema and force the version", result.Version)
		return
	}
	log.Printf("✅ Schema version: %d", result.Version)
}
