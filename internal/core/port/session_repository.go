package port

import (
	"context"
	"time"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	ListActiveByPrincipal(ctx context.Context, principalID string) ([]domain.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	ExtendExpiry(ctx context.Context, sessionID string, expiresAt, at time.Time) error
	Invalidate(ctx context.Context, sessionID, reason string, at time.Time) error
	InvalidateAllForPrincipal(ctx context.Context, principalID, reason string, at time.Time) (int, error)
	Elevate(ctx context.Context, sessionID string, expiresAt time.Time, authenticatedAt *time.Time, at time.Time) error
	StoreEvent(ctx context.Context, event domain.SessionEvent) error
}
