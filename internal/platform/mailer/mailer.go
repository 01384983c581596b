// Package mailer delivers invitation emails. Delivery is best effort: the
// invitation service fires and forgets, so implementations must be safe to
// fail without side effects beyond a log line.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"crew/internal/platform/kafka"
)

// Invite is the payload handed to the mail template.
type Invite struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	Role        string `json:"role"`
	TenantName  string `json:"tenant_name"`
	InviterName string `json:"inviter_name"`
}

// Mailer sends invitation emails.
type Mailer interface {
	SendInvitation(ctx context.Context, invite Invite) error
}

// LogMailer writes invitations to the log. Used in development and as the
// fallback when no broker is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLog constructs a log-backed mailer.
func NewLog(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendInvitation(ctx context.Context, invite Invite) error {
	m.logger.InfoContext(ctx, "invitation mail (log delivery)",
		"email", invite.Email,
		"role", invite.Role,
		"tenant", invite.TenantName,
		"inviter", invite.InviterName,
	)
	return nil
}

// KafkaMailer publishes invitations to a topic consumed by the mail worker.
type KafkaMailer struct {
	producer *kafka.Producer
	topic    string
}

// NewKafka constructs a Kafka-backed mailer.
func NewKafka(producer *kafka.Producer, topic string) *KafkaMailer {
	return &KafkaMailer{producer: producer, topic: topic}
}

func (m *KafkaMailer) SendInvitation(ctx context.Context, invite Invite) error {
	payload, err := json.Marshal(invite)
	if err != nil {
		return fmt.Errorf("encode invitation mail: %w", err)
	}
	return m.producer.Produce(ctx, &kafka.Message{
		Topic: m.topic,
		Key:   []byte(invite.Email),
		Value: payload,
	})
}
