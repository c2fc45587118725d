package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes custody events to a Kafka topic, keyed by recipient
// so one recipient's notifications stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
	log    *slog.Logger
	topic  string
}

// NewKafkaSink creates a KafkaSink for the given brokers and topic.
func NewKafkaSink(brokers []string, topic string, log *slog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka sink configuration incomplete: brokers and topic are required")
	}
	if log == nil {
		log = slog.Default()
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},

		BatchTimeout: 100 * time.Millisecond,

		RequiredAcks: kafka.RequireOne,
		Async:        true,

		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf("kafka writer: "+msg, args...))
		}),
	}

	log.Info("kafka notification sink created", "brokers", brokers, "topic", topic)

	return &KafkaSink{writer: w, log: log, topic: topic}, nil
}

// Publish sends one event to the topic.
func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Recipient),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write to kafka buffer: %w", err)
	}
	return nil
}

// Close flushes buffered messages and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// SlogSink logs events instead of delivering them; the default sink when
// no brokers are configured.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) Publish(_ context.Context, event Event) error {
	s.log.Info("custody notification",
		"event_id", event.ID,
		"type", event.Type,
		"recipient", event.Recipient,
		"batch_id", event.BatchID,
		"request_id", event.RequestID,
		"message", event.Message)
	return nil
}

func (s *SlogSink) Close() error { return nil }

var (
	_ Sink = (*KafkaSink)(nil) // Compile-time interface checks
	_ Sink = (*SlogSink)(nil)
)
