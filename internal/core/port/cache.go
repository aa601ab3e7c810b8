package port

import (
	"context"
	"time"
)

// Cache exposes the short-TTL read-through cache used for session lookups.
// Entries must be deleted eagerly on any write to the cached record;
// correctness favors freshness over hit rate here.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DeletionConfirmationStore records session-scoped deletion confirmations.
// A confirmation is only honored within its TTL (default 5 minutes), so the
// store expires entries itself.
type DeletionConfirmationStore interface {
	Record(ctx context.Context, sessionID string, at time.Time) error
	Confirmed(ctx context.Context, sessionID string, at time.Time) (bool, error)
}
