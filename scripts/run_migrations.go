package main

import (
	"context"
	"os"

	"github.com/safar/flycar/internal/config"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := context.Background()

	if len(os.Args) < 2 {
		logg.Error(ctx, "usage: go run scripts/run_migrations.go [up|down|status|reset]", nil)
		os.Exit(2)
	}

	command := os.Args[1]
	switch command {
	case "up", "down", "status", "reset", "version":
	default:
		logg.Error(ctx, "command must be one of up, down, status, reset, version", nil)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "load config", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logg.Error(ctx, "connect to database", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx = logg.WithField(ctx, "command", command)
	if err := database.Migrate(ctx, db, command, os.Args[2:]...); err != nil {
		logg.Error(ctx, "run migrations", err)
		os.Exit(1)
	}

	logg.Info(ctx, "migrations finished")
}
