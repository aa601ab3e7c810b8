package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
)

// AuditRepository implements the append-only audit log and the denied-count
// queries the rate limiter derives its budgets from.
type AuditRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAuditRepository(exec pgExecutor) *AuditRepository {
	repo := &AuditRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Append inserts one audit entry. Entries are never updated or deleted here.
func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	sqlStmt, args, err := r.builder.Insert("access.audit_log").
		Columns(
			"id",
			"principal_id",
			"action",
			"resource_type",
			"resource_id",
			"scope_id",
			"result",
			"reason",
			"detail",
			"session_id",
			"origin",
			"severity",
			"ts",
		).
		Values(
			entry.ID,
			entry.PrincipalID,
			entry.Action,
			entry.ResourceType,
			entry.ResourceID,
			entry.ScopeID,
			string(entry.Result),
			entry.Reason,
			entry.Detail,
			entry.SessionID,
			entry.Origin,
			string(entry.Severity),
			entry.Timestamp,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit entry sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

// CountDeniedByPrincipal counts denied entries for a principal since the
// supplied moment.
func (r *AuditRepository) CountDeniedByPrincipal(ctx context.Context, principalID string, since time.Time) (int, error) {
	return r.countDenied(ctx, squirrel.Eq{"principal_id": principalID}, since)
}

// CountDeniedByOrigin counts denied entries for an origin address since the
// supplied moment.
func (r *AuditRepository) CountDeniedByOrigin(ctx context.Context, origin string, since time.Time) (int, error) {
	return r.countDenied(ctx, squirrel.Eq{"origin": origin}, since)
}

func (r *AuditRepository) countDenied(ctx context.Context, match squirrel.Eq, since time.Time) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("access.audit_log").
		Where(squirrel.And{
			match,
			squirrel.Eq{"result": string(domain.AuditResultDenied)},
			squirrel.GtOrEq{"ts": since},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count denied sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count denied audit entries: %w", err)
	}

	return count, nil
}

var (
	_ port.AuditSink  = (*AuditRepository)(nil)
	_ port.AuditQuery = (*AuditRepository)(nil)
)
