package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/channels"
	"github.com/inspectly/report-scheduler/internal/config"
	"github.com/inspectly/report-scheduler/internal/database"
	"github.com/inspectly/report-scheduler/internal/monitoring"
	"github.com/inspectly/report-scheduler/internal/notifier"
	"github.com/inspectly/report-scheduler/internal/queue"
	"github.com/inspectly/report-scheduler/internal/recipients"
	"github.com/inspectly/report-scheduler/internal/report"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Report Dispatch Scheduler")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize metrics
	metrics := monitoring.NewMetrics()

	// Connect to PostgreSQL
	postgres, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	// Connect to Redis (tick lock)
	redis, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	// Initialize Kafka producer for dispatch audit events
	producer := queue.NewProducer(cfg.Kafka)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	// Wire the dispatch evaluator
	store := notifier.NewStore(postgres.DB)
	resolver := recipients.NewResolver(postgres.DB, logger)
	builder := report.NewBuilder(postgres.DB)
	channelList := []notifier.Channel{
		channels.NewEmailChannel(cfg.Channels.SendGrid),
		channels.NewWhatsAppChannel(cfg.Channels.WhatsApp),
	}
	evaluator := notifier.NewEvaluator(store, resolver, builder, channelList, producer, redis.Client, cfg.Scheduler, metrics, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the tick loop
	go evaluator.Run(ctx)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()

	logger.Info("Scheduler exited")
}
