package port

import (
	"context"
	"time"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// GrantRepository manages permission grant storage.
type GrantRepository interface {
	Create(ctx context.Context, grant domain.PermissionGrant) error
	ListActiveForPrincipal(ctx context.Context, principalID string) ([]domain.PermissionGrant, error)
	// Deactivate flips a grant inactive. Idempotent: deactivating an already
	// inactive grant is not an error.
	Deactivate(ctx context.Context, grantID, reason string) error
	// ConsumeUse increments the use counter with a compare-and-swap on the
	// current count so two concurrent reads cannot both spend the last use.
	ConsumeUse(ctx context.Context, grantID string, expectedUses int) error
	// ListStaleActive returns active grants that are already expired or
	// exhausted, for the periodic hygiene sweep. The lazy read-side check
	// remains authoritative for correctness.
	ListStaleActive(ctx context.Context, at time.Time, limit int) ([]domain.PermissionGrant, error)
}
