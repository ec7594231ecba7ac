package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/inspectly/report-scheduler/internal/config"
	"github.com/inspectly/report-scheduler/internal/database"
	"github.com/inspectly/report-scheduler/internal/notifier"
	"github.com/inspectly/report-scheduler/internal/queue"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Dispatch History Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to PostgreSQL
	postgres, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	store := notifier.NewStore(postgres.DB)

	// Initialize Kafka consumer
	consumer := queue.NewConsumer(cfg.Kafka, "history-service")
	defer consumer.Close()
	logger.Info("Kafka consumer initialized")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming dispatch events
	go func() {
		logger.Info("Starting to consume dispatch events")
		err := consumer.ConsumeDispatches(ctx, func(event queue.DispatchEvent) error {
			record := &notifier.DispatchRecord{
				NotificationID: event.NotificationID,
				Channel:        event.Channel,
				RecipientCount: event.RecipientCount,
				Success:        event.Success,
				ErrorMessage:   event.ErrorMessage,
				Manual:         event.Manual,
				SentAt:         event.SentAt,
			}
			if err := store.InsertDispatchRecord(ctx, record); err != nil {
				logger.Error("Failed to persist dispatch record",
					zap.String("notification_id", event.NotificationID),
					zap.Error(err))
				return err
			}
			logger.Info("Dispatch record persisted",
				zap.String("notification_id", event.NotificationID),
				zap.String("channel", event.Channel),
				zap.Bool("success", event.Success),
			)
			return nil
		})
		if err != nil && err != context.Canceled {
			logger.Error("Consumer error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down history service...")
	cancel()

	// Give some time for graceful shutdown
	time.Sleep(2 * time.Second)
	logger.Info("History service exited")
}
