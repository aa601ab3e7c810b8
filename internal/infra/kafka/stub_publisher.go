package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, principalID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("principal_id", principalID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishSessionInvalidated logs access.session.invalidated events.
func (p *StubPublisher) PublishSessionInvalidated(_ context.Context, event domain.SessionInvalidatedEvent) error {
	payload := map[string]any{
		"session_id":     event.SessionID,
		"principal_id":   event.PrincipalID,
		"reason":         event.Reason,
		"invalidated_at": event.InvalidatedAt,
		"bulk_count":     event.BulkCount,
		"metadata":       event.Metadata,
	}
	p.logEvent("access.session.invalidated", event.PrincipalID, event.InvalidatedAt, payload)
	return nil
}

// PublishLockoutTriggered logs access.lockout.triggered events.
func (p *StubPublisher) PublishLockoutTriggered(_ context.Context, event domain.LockoutTriggeredEvent) error {
	payload := map[string]any{
		"principal_id":    event.PrincipalID,
		"failed_attempts": event.FailedAttempts,
		"locked_at":       event.LockedAt,
		"reason":          event.Reason,
	}
	p.logEvent("access.lockout.triggered", event.PrincipalID, event.LockedAt, payload)
	return nil
}

// PublishHijackSuspected logs access.session.hijack_suspected events.
func (p *StubPublisher) PublishHijackSuspected(_ context.Context, event domain.HijackSuspectedEvent) error {
	payload := map[string]any{
		"session_id":   event.SessionID,
		"principal_id": event.PrincipalID,
		"signal":       event.Signal,
		"detected_at":  event.DetectedAt,
	}
	p.logEvent("access.session.hijack_suspected", event.PrincipalID, event.DetectedAt, payload)
	return nil
}

// PublishConsentChanged logs access.consent.changed events.
func (p *StubPublisher) PublishConsentChanged(_ context.Context, event domain.ConsentChangedEvent) error {
	payload := map[string]any{
		"principal_id": event.PrincipalID,
		"consent_type": event.ConsentType,
		"granted":      event.Granted,
		"changed_at":   event.ChangedAt,
	}
	p.logEvent("access.consent.changed", event.PrincipalID, event.ChangedAt, payload)
	return nil
}

// PublishDeletionRequested logs access.deletion.requested events.
func (p *StubPublisher) PublishDeletionRequested(_ context.Context, event domain.DeletionRequestedEvent) error {
	payload := map[string]any{
		"request_id":   event.RequestID,
		"principal_id": event.PrincipalID,
		"scope":        event.Scope,
		"purge_after":  event.PurgeAfter,
		"requested_at": event.RequestedAt,
	}
	p.logEvent("access.deletion.requested", event.PrincipalID, event.RequestedAt, payload)
	return nil
}

var _ port.SecurityEventPublisher = (*StubPublisher)(nil)
