package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RishiKendai/phosphorus/internal/analysis"
	"github.com/RishiKendai/phosphorus/internal/api"
	"github.com/RishiKendai/phosphorus/internal/config"
	"github.com/RishiKendai/phosphorus/internal/configs/env"
	"github.com/RishiKendai/phosphorus/internal/infra/mongo"
	redisInfra "github.com/RishiKendai/phosphorus/internal/infra/redis"
	"github.com/RishiKendai/phosphorus/internal/ingest"
	"github.com/RishiKendai/phosphorus/internal/logger"
	"github.com/RishiKendai/phosphorus/internal/metrics"
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
	"github.com/RishiKendai/phosphorus/internal/repository"
	"github.com/RishiKendai/phosphorus/internal/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := env.LoadEnv(); err != nil {
		log.Warn().Err(err).Msg("Failed to load .env file, continuing with system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log.Info().Msg("Starting phosphorus server")

	metrics.InitPrometheus()
	metricsServer := api.StartServer("metrics", api.MetricsMux(), cfg.MetricsPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect MongoDB
	mongoClient, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create MongoDB client")
	}
	defer mongoClient.Close(context.Background())

	// Connect Redis
	redisClient, err := redisInfra.NewClient(ctx, cfg.RedisHost, cfg.RedisPassword, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis client")
	}
	defer redisClient.Close()

	// Repositories
	mongoRepo := repository.NewMongoRepository(mongoClient)
	submissionsRepo := repository.NewSubmissionsRepository(mongoRepo)
	resultsRepo := repository.NewResultsRepository(mongoRepo)
	if err := submissionsRepo.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to ensure submission indexes")
	}
	if err := resultsRepo.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to ensure result indexes")
	}

	// Similarity engine
	engine, err := plagiarism.NewEngine(plagiarism.EngineConfig{
		Tool: plagiarism.ToolConfig{
			JavaBin: cfg.JavaBin,
			JarPath: cfg.JPlagJarPath,
			Timeout: cfg.ToolTimeout,
		},
		WorkDir:    cfg.WorkDir,
		ArchiveDir: cfg.ArchiveDir,
		Risk:       cfg.Risk,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create similarity engine")
	}

	workerPool := analysis.NewWorkerPool(ctx, cfg.WorkerPoolSize)

	analysisSvc, err := analysis.NewService(
		engine,
		submissionsRepo,
		resultsRepo,
		analysis.NewStatusTracker(redisClient.Client),
		workerPool,
		analysis.ServiceConfig{
			Defaults: analysis.Defaults{
				MinTokens:           cfg.DefaultMinTokens,
				SimilarityThreshold: cfg.DefaultSimilarityThreshold,
				PrimaryMetric:       cfg.PrimaryMetric,
			},
			ComputationTimeout: cfg.ComputationTimeout,
			ResultCacheSize:    cfg.ResultCacheSize,
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create analysis service")
	}

	if cfg.ArchiveRetention > 0 {
		go pruneArchivesPeriodically(ctx, engine, cfg.ArchiveRetention)
	}

	// Submission stream consumer
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	consumerName := fmt.Sprintf("consumer-%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
	consumer := stream.NewConsumer(
		redisClient.Client,
		stream.ConsumerConfig{
			StreamKey:     cfg.RedisStreamKey,
			ConsumerGroup: cfg.RedisConsumerGroup,
			ConsumerName:  consumerName,
			Retention:     cfg.StreamRetentionDuration,
		},
		ingest.NewService(submissionsRepo),
		stream.NewRetryHandler(redisClient.Client, cfg.RedisDeadLetterKey),
	)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Redis consumer error")
		}
	}()
	log.Info().Str("consumer_name", consumerName).Msg("Redis consumer started")

	handler := api.NewHandler(ctx, analysisSvc, cfg.MaxConcurrentCompute)
	router := api.SetupRoutes(cfg, handler)
	srv := api.StartServer("api", router, cfg.ServerPort)

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down gracefully...")

	if err := api.ShutdownServer(srv, 30*time.Second); err != nil {
		log.Error().Err(err).Msg("Error shutting down API server")
	}

	// Running computations see the cancelled context, record a failed step and release their lease
	cancel()
	workerPool.Close()
	if !handler.Wait(30 * time.Second) {
		log.Warn().Msg("Timed out waiting for running computations")
	}
	<-consumerDone

	if err := api.ShutdownServer(metricsServer, 5*time.Second); err != nil {
		log.Error().Err(err).Msg("Error shutting down metrics server")
	}

	log.Info().Msg("Shutdown complete")
}

// pruneArchivesPeriodically deletes retained result archives older than retention
func pruneArchivesPeriodically(ctx context.Context, engine *plagiarism.Engine, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		removed, err := engine.PruneArchives(retention)
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune result archives")
		} else if removed > 0 {
			log.Info().Int("removed", removed).Dur("retention", retention).Msg("Pruned result archives")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
