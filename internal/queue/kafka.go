package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/inspectly/report-scheduler/internal/config"
)

// DispatchEvent records one channel attempt for a report notification.
// The scheduler publishes one event per channel per dispatch; the history
// service consumes them into dispatch_history.
type DispatchEvent struct {
	NotificationID   string    `json:"notification_id"`
	NotificationName string    `json:"notification_name"`
	Channel          string    `json:"channel"`
	RecipientCount   int       `json:"recipient_count"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Manual           bool      `json:"manual"`
	SentAt           time.Time `json:"sent_at"`
}

// Producer handles publishing dispatch events to Kafka
type Producer struct {
	writer *kafka.Writer
}

// Consumer handles consuming dispatch events from Kafka
type Consumer struct {
	reader *kafka.Reader
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Async:        false, // Synchronous for reliability
	}

	return &Producer{writer: writer}
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg config.KafkaConfig, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{reader: reader}
}

// PublishDispatch publishes a dispatch event to Kafka
func (p *Producer) PublishDispatch(ctx context.Context, event DispatchEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch event: %w", err)
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(event.NotificationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "channel", Value: []byte(event.Channel)},
		},
		Time: time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("failed to write dispatch event to Kafka: %w", err)
	}

	return nil
}

// ConsumeDispatches consumes dispatch events from Kafka
func (c *Consumer) ConsumeDispatches(ctx context.Context, handler func(DispatchEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("Error reading dispatch event from Kafka: %v", err)
				continue
			}

			var event DispatchEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Printf("Error unmarshaling dispatch event: %v", err)
				continue
			}

			if err := handler(event); err != nil {
				log.Printf("Error processing dispatch event for notification %s: %v", event.NotificationID, err)
				continue
			}
		}
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
