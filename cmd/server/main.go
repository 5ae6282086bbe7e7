package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"quantstream/internal/aggregator"
	"quantstream/internal/alerts"
	"quantstream/internal/analytics"
	appmarketdata "quantstream/internal/application/service/marketdata"
	"quantstream/internal/backtest"
	"quantstream/internal/config"
	marketdata "quantstream/internal/domain/entity/marketdata"
	"quantstream/internal/infrastructure/push"
	"quantstream/internal/infrastructure/storage"
	"quantstream/internal/ingestion"
	infrahttp "quantstream/internal/interfaces/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	repo, err := storage.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf("failed to init storage: %v", err)
	}
	defer repo.Close()

	if err := repo.Init(ctx); err != nil {
		logger.Fatalf("failed to migrate storage: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	hub := push.NewHub(logger)
	emitters := push.Multi{hub}
	if cfg.AMQP.URL != "" {
		publisher, err := push.NewAMQPPublisher(cfg.AMQP, logger)
		if err != nil {
			logger.Fatalf("failed to connect to amqp: %v", err)
		}
		defer publisher.Close()
		emitters = append(emitters, publisher)
	}

	store := appmarketdata.NewService(repo)
	agg := aggregator.New(store, marketdata.Timeframes, logger)
	analyticsEngine := analytics.NewEngine(store, logger)
	alertEngine := alerts.NewEngine(logger)
	simulator := backtest.NewSimulator(analyticsEngine, logger)

	feed := ingestion.NewBinanceFeed(cfg.Feed.URL, cfg.Feed.ReconnectBackoff, logger)
	pipeline := ingestion.NewPipeline(store, agg, alertEngine, emitters, logger)
	supervisor := ingestion.NewSupervisor(feed, pipeline, logger)
	if err := supervisor.Start(ctx, cfg.Feed.Symbols); err != nil {
		logger.Fatalf("failed to start ingestion: %v", err)
	}
	defer supervisor.Stop()

	handler := infrahttp.NewHandler(infrahttp.Deps{
		MarketData: store,
		Analytics:  analyticsEngine,
		Alerts:     alertEngine,
		Backtest:   simulator,
		Supervisor: supervisor,
		Hub:        hub,
		Emitter:    emitters,
		Cache:      redisClient,
		CacheTTL:   time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: handler,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown error: %v", err)
	}
	logger.Info("server stopped")
}
