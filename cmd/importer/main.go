package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"quantstream/internal/infrastructure/storage"
)

type importerConfig struct {
	DatabaseDSN string
	Files       []string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	repo, err := storage.NewRepository(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer repo.Close()

	if err := repo.Init(ctx); err != nil {
		logger.Fatalf("migrate storage: %v", err)
	}

	total := 0
	for _, path := range cfg.Files {
		imported, err := importFile(ctx, repo, path)
		if err != nil {
			logger.Fatalf("import %s: %v", path, err)
		}
		logger.WithFields(logrus.Fields{
			"file": path,
			"rows": imported,
		}).Info("file imported")
		total += imported
	}
	logger.WithField("rows", total).Info("import finished")
}

func importFile(ctx context.Context, repo *storage.Repository, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	bars, err := storage.ParseBarCSV(file)
	if err != nil {
		return 0, err
	}
	if err := repo.UpsertBars(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func loadConfig() (*importerConfig, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}
	files := os.Args[1:]
	if len(files) == 0 {
		return nil, errors.New("usage: importer <ohlc.csv> [more.csv ...]")
	}
	return &importerConfig{DatabaseDSN: dsn, Files: files}, nil
}
