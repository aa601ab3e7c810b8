package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voice4victims/medrecord-access/internal/core/port"
)

// ConfirmationRepository records session-scoped deletion confirmations with a
// Redis TTL so stale confirmations expire without a sweeper.
type ConfirmationRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewConfirmationRepository constructs a ConfirmationRepository. Zero ttl
// falls back to five minutes.
func NewConfirmationRepository(client *redis.Client, prefix string, ttl time.Duration) *ConfirmationRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ConfirmationRepository{client: client, prefix: prefix, ttl: ttl}
}

// Record marks the session as having confirmed a pending destructive action.
func (r *ConfirmationRepository) Record(ctx context.Context, sessionID string, at time.Time) error {
	value := fmt.Sprintf("%d", at.UTC().UnixNano())
	if err := r.client.Set(ctx, r.key(sessionID), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set confirmation: %w", err)
	}
	return nil
}

// Confirmed reports whether a live confirmation exists for the session.
func (r *ConfirmationRepository) Confirmed(ctx context.Context, sessionID string, _ time.Time) (bool, error) {
	err := r.client.Get(ctx, r.key(sessionID)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get confirmation: %w", err)
	}
	return true, nil
}

func (r *ConfirmationRepository) key(sessionID string) string {
	if r.prefix == "" {
		return sessionID
	}
	return fmt.Sprintf("%s:%s", r.prefix, sessionID)
}

var _ port.DeletionConfirmationStore = (*ConfirmationRepository)(nil)
