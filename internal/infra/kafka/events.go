package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.SecurityEventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed security event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	PrincipalID string           `json:"principal_id,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Version     string           `json:"version"`
	Payload     any              `json:"payload"`
	Metadata    envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, principalID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:     id,
		EventType:   eventType,
		PrincipalID: principalID,
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     payload,
		Metadata:    metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionInvalidated publishes access.session.invalidated events.
func (p *EventPublisher) PublishSessionInvalidated(ctx context.Context, event domain.SessionInvalidatedEvent) error {
	payload := struct {
		SessionID     string         `json:"session_id"`
		PrincipalID   string         `json:"principal_id"`
		Reason        string         `json:"reason"`
		InvalidatedAt time.Time      `json:"invalidated_at"`
		BulkCount     int            `json:"bulk_count,omitempty"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:     event.SessionID,
		PrincipalID:   event.PrincipalID,
		Reason:        event.Reason,
		InvalidatedAt: event.InvalidatedAt.UTC(),
		BulkCount:     event.BulkCount,
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, "access.session.invalidated", event.PrincipalID, event.InvalidatedAt, payload)
}

// PublishLockoutTriggered publishes access.lockout.triggered events.
func (p *EventPublisher) PublishLockoutTriggered(ctx context.Context, event domain.LockoutTriggeredEvent) error {
	payload := struct {
		PrincipalID    string    `json:"principal_id"`
		FailedAttempts int       `json:"failed_attempts"`
		LockedAt       time.Time `json:"locked_at"`
		Reason         string    `json:"reason,omitempty"`
	}{
		PrincipalID:    event.PrincipalID,
		FailedAttempts: event.FailedAttempts,
		LockedAt:       event.LockedAt.UTC(),
		Reason:         event.Reason,
	}

	return p.publish(ctx, event.EventID, "access.lockout.triggered", event.PrincipalID, event.LockedAt, payload)
}

// PublishHijackSuspected publishes access.session.hijack_suspected events.
func (p *EventPublisher) PublishHijackSuspected(ctx context.Context, event domain.HijackSuspectedEvent) error {
	payload := struct {
		SessionID   string    `json:"session_id"`
		PrincipalID string    `json:"principal_id"`
		Signal      string    `json:"signal"`
		DetectedAt  time.Time `json:"detected_at"`
	}{
		SessionID:   event.SessionID,
		PrincipalID: event.PrincipalID,
		Signal:      event.Signal,
		DetectedAt:  event.DetectedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "access.session.hijack_suspected", event.PrincipalID, event.DetectedAt, payload)
}

// PublishConsentChanged publishes access.consent.changed events.
func (p *EventPublisher) PublishConsentChanged(ctx context.Context, event domain.ConsentChangedEvent) error {
	payload := struct {
		PrincipalID string    `json:"principal_id"`
		ConsentType string    `json:"consent_type"`
		Granted     bool      `json:"granted"`
		ChangedAt   time.Time `json:"changed_at"`
	}{
		PrincipalID: event.PrincipalID,
		ConsentType: event.ConsentType,
		Granted:     event.Granted,
		ChangedAt:   event.ChangedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "access.consent.changed", event.PrincipalID, event.ChangedAt, payload)
}

// PublishDeletionRequested publishes access.deletion.requested events.
func (p *EventPublisher) PublishDeletionRequested(ctx context.Context, event domain.DeletionRequestedEvent) error {
	payload := struct {
		RequestID   string    `json:"request_id"`
		PrincipalID string    `json:"principal_id"`
		Scope       string    `json:"scope"`
		PurgeAfter  time.Time `json:"purge_after"`
		RequestedAt time.Time `json:"requested_at"`
	}{
		RequestID:   event.RequestID,
		PrincipalID: event.PrincipalID,
		Scope:       event.Scope,
		PurgeAfter:  event.PurgeAfter.UTC(),
		RequestedAt: event.RequestedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "access.deletion.requested", event.PrincipalID, event.RequestedAt, payload)
}

var _ port.SecurityEventPublisher = (*EventPublisher)(nil)
