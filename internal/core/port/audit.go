package port

import (
	"context"
	"time"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// AuditSink is the append-only access log. Append failures must never abort
// the decision being logged; callers log the failure and raise a health
// signal instead.
type AuditSink interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}

// AuditQuery is the read side of the audit log used by the rate limiter: the
// failed-attempt budget is derived from denied entries in the trailing window
// rather than from a separate counter store.
type AuditQuery interface {
	CountDeniedByPrincipal(ctx context.Context, principalID string, since time.Time) (int, error)
	CountDeniedByOrigin(ctx context.Context, origin string, since time.Time) (int, error)
}
