package port

import (
	"context"
	"time"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// ConsentRepository stores per-principal consent flags and deletion requests.
type ConsentRepository interface {
	GetConsent(ctx context.Context, principalID string, consentType domain.ConsentType) (*domain.ConsentRecord, error)
	ListConsents(ctx context.Context, principalID string) ([]domain.ConsentRecord, error)
	UpsertConsent(ctx context.Context, record domain.ConsentRecord) error
	CreateDeletionRequest(ctx context.Context, request domain.DeletionRequest) error
	ListDueDeletionRequests(ctx context.Context, at time.Time) ([]domain.DeletionRequest, error)
	MarkDeletionStatus(ctx context.Context, requestID string, status domain.DeletionStatus, expectedVersion int64) error
}
