package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/coldaine/recall-pipeline/internal/frames"
	"github.com/coldaine/recall-pipeline/pkg/config"
	"github.com/coldaine/recall-pipeline/pkg/database"
	"github.com/coldaine/recall-pipeline/pkg/logger"
)

const serviceName = "recall-migrate"

func main() {
	migrationsPath := flag.String("path", "migrations", "path to the migrations directory")
	strandedAge := flag.Duration("age", 30*time.Minute, "minimum claim age for recover-stranded")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment, *verbose); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	switch command {
	case "up", "down", "version":
		runMigration(cfg, *migrationsPath, command)
	case "recover-stranded":
		recoverStranded(cfg, *strandedAge)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|down|version|recover-stranded]\n", serviceName)
		os.Exit(2)
	}
}

func runMigration(cfg *config.Config, path, command string) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("Failed to create migration driver", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && verr != migrate.ErrNilVersion {
			logger.Fatal("Failed to read migration version", zap.Error(verr))
		}
		logger.Info("Migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return
	}

	if err != nil && err != migrate.ErrNoChange {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	logger.Info("Migrations applied", zap.String("command", command))
}

// recoverStranded resets frames stuck in a processing state by a crashed
// worker back to the preceding stage input state. Safe to run while workers
// are live: only claims older than the age cutoff are touched.
func recoverStranded(cfg *config.Config, age time.Duration) {
	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(pool)

	repo := frames.NewRepository(pool)
	ctx := context.Background()

	ocrReset, err := repo.RecoverStranded(ctx, frames.StatusOCRProcessing, age)
	if err != nil {
		logger.Fatal("Failed to recover stranded OCR frames", zap.Error(err))
	}

	visionReset, err := repo.RecoverStranded(ctx, frames.StatusVisionProcessing, age)
	if err != nil {
		logger.Fatal("Failed to recover stranded vision frames", zap.Error(err))
	}

	logger.Info("Stranded frames recovered",
		zap.Int64("ocr_reset", ocrReset),
		zap.Int64("vision_reset", visionReset),
		zap.Duration("age", age),
	)
}
