package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/migrations"
	"github.com/noah-isme/citygrid-api/pkg/config"
	"github.com/noah-isme/citygrid-api/pkg/database"
	"github.com/noah-isme/citygrid-api/pkg/logger"
)

func main() {
	var (
		command = flag.String("command", "up", "migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "number of steps for up/down; 0 applies all")
		version = flag.Int("version", -1, "target version for force")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	switch *command {
	case "up", "down":
		v, err := database.Migrate(db.DB, migrations.FS, database.Direction(*command), *steps)
		if err != nil {
			logr.Fatal("migration failed", zap.String("command", *command), zap.Error(err))
		}
		logr.Info("migration complete", zap.String("command", *command), zap.Uint("version", v))
	case "version":
		v, dirty, err := database.Version(db.DB, migrations.FS)
		if err != nil {
			logr.Fatal("failed to read version", zap.Error(err))
		}
		logr.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	case "force":
		if *version < 0 {
			logr.Fatal("force requires -version")
		}
		if err := database.Force(db.DB, migrations.FS, *version); err != nil {
			logr.Fatal("force failed", zap.Error(err))
		}
		logr.Info("schema version forced", zap.Int("version", *version))
	default:
		logr.Fatal("unknown command", zap.String("command", *command))
	}
}
