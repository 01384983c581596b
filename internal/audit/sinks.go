package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"crew/internal/platform/kafka"
)

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "audit",
		"action", string(event.Action),
		"user_id", event.UserID,
		"email", event.Email,
		"tenant_id", event.TenantID,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"ip", event.IPAddress,
	)
	return nil
}

// KafkaSink publishes audit events to a topic, keyed by user id so per-user
// history stays ordered within a partition.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaSink constructs a Kafka-backed sink.
func NewKafkaSink(producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return s.producer.Produce(ctx, &kafka.Message{
		Topic: s.topic,
		Key:   []byte(event.UserID.String()),
		Value: payload,
	})
}
