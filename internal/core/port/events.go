package port

import (
	"context"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// SecurityEventPublisher publishes security-relevant domain events to the
// message bus.
type SecurityEventPublisher interface {
	PublishSessionInvalidated(ctx context.Context, event domain.SessionInvalidatedEvent) error
	PublishLockoutTriggered(ctx context.Context, event domain.LockoutTriggeredEvent) error
	PublishHijackSuspected(ctx context.Context, event domain.HijackSuspectedEvent) error
	PublishConsentChanged(ctx context.Context, event domain.ConsentChangedEvent) error
	PublishDeletionRequested(ctx context.Context, event domain.DeletionRequestedEvent) error
}
