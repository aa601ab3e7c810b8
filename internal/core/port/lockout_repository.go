package port

import (
	"context"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// LockoutRepository persists per-principal lockout state. Save performs a
// compare-and-swap against expectedVersion (0 inserts a fresh row) and must
// fail with repository.ErrVersionConflict on a lost race.
type LockoutRepository interface {
	Get(ctx context.Context, principalID string) (*domain.LockoutState, error)
	Save(ctx context.Context, state domain.LockoutState, expectedVersion int64) error
}
