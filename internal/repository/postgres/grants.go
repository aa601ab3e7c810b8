package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

var grantColumns = []string{
	"id",
	"granted_to",
	"scope",
	"role",
	"origin",
	"permissions",
	"granted_by",
	"granted_at",
	"expires_at",
	"max_uses",
	"uses_so_far",
	"active",
	"version",
}

// GrantRepository implements port.GrantRepository backed by PostgreSQL.
type GrantRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewGrantRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewGrantRepository(exec pgExecutor) *GrantRepository {
	repo := &GrantRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Create persists a new permission grant.
func (r *GrantRepository) Create(ctx context.Context, grant domain.PermissionGrant) error {
	version := grant.Version
	if version <= 0 {
		version = 1
	}

	permissions := make([]string, 0, len(grant.Permissions))
	for _, p := range grant.Permissions {
		permissions = append(permissions, string(p))
	}

	var maxUses any
	if grant.MaxUses != nil {
		maxUses = *grant.MaxUses
	}

	sqlStmt, args, err := r.builder.Insert("access.permission_grants").
		Columns(grantColumns...).
		Values(
			grant.ID,
			grant.GrantedTo,
			grant.Scope,
			grant.Role,
			string(grant.Origin),
			permissions,
			grant.GrantedBy,
			grant.GrantedAt,
			optionalTime(grant.ExpiresAt),
			maxUses,
			grant.UsesSoFar,
			grant.Active,
			version,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert grant sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}

	return nil
}

// ListActiveForPrincipal returns all active grants held by the principal.
// Expiry and exhaustion are judged by the caller so stale rows can be
// deactivated lazily.
func (r *GrantRepository) ListActiveForPrincipal(ctx context.Context, principalID string) ([]domain.PermissionGrant, error) {
	stmt, args, err := r.builder.
		Select(grantColumns...).
		From("access.permission_grants").
		Where(squirrel.Eq{"granted_to": principalID, "active": true}).
		OrderBy("granted_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list grants sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	grants := make([]domain.PermissionGrant, 0)
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, *grant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}

	return grants, nil
}

// Deactivate flips a grant inactive. Idempotent.
func (r *GrantRepository) Deactivate(ctx context.Context, grantID, reason string) error {
	stmt := `
        UPDATE access.permission_grants
           SET active = FALSE,
               deactivated_at = $2,
               deactivate_reason = $3,
               version = version + 1
         WHERE id = $1 AND active
    `

	if _, err := r.exec.Exec(ctx, stmt, grantID, time.Now().UTC(), reason); err != nil {
		return fmt.Errorf("deactivate grant: %w", err)
	}
	return nil
}

// ConsumeUse spends one use with a compare-and-swap on the current counter.
func (r *GrantRepository) ConsumeUse(ctx context.Context, grantID string, expectedUses int) error {
	stmt := `
        UPDATE access.permission_grants
           SET uses_so_far = uses_so_far + 1,
               version = version + 1
         WHERE id = $1 AND uses_so_far = $2 AND active
    `

	tag, err := r.exec.Exec(ctx, stmt, grantID, expectedUses)
	if err != nil {
		return fmt.Errorf("consume grant use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

// ListStaleActive returns active grants that have expired or exhausted their
// use budget, for the hygiene sweep.
func (r *GrantRepository) ListStaleActive(ctx context.Context, at time.Time, limit int) ([]domain.PermissionGrant, error) {
	stmt, args, err := r.builder.
		Select(grantColumns...).
		From("access.permission_grants").
		Where(squirrel.And{
			squirrel.Eq{"active": true},
			squirrel.Or{
				squirrel.LtOrEq{"expires_at": at},
				squirrel.Expr("max_uses IS NOT NULL AND uses_so_far >= max_uses"),
			},
		}).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list stale grants sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale grants: %w", err)
	}
	defer rows.Close()

	grants := make([]domain.PermissionGrant, 0)
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, *grant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale grants: %w", err)
	}

	return grants, nil
}

func scanGrant(row pgx.Row) (*domain.PermissionGrant, error) {
	var (
		grant       domain.PermissionGrant
		origin      string
		permissions []string
		expiresAt   sql.NullTime
		maxUses     sql.NullInt32
	)

	err := row.Scan(
		&grant.ID,
		&grant.GrantedTo,
		&grant.Scope,
		&grant.Role,
		&origin,
		&permissions,
		&grant.GrantedBy,
		&grant.GrantedAt,
		&expiresAt,
		&maxUses,
		&grant.UsesSoFar,
		&grant.Active,
		&grant.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	grant.Origin = domain.GrantOrigin(origin)
	grant.Permissions = make([]domain.Permission, 0, len(permissions))
	for _, p := range permissions {
		grant.Permissions = append(grant.Permissions, domain.Permission(p))
	}
	if expiresAt.Valid {
		at := expiresAt.Time
		grant.ExpiresAt = &at
	}
	if maxUses.Valid {
		uses := int(maxUses.Int32)
		grant.MaxUses = &uses
	}

	return &grant, nil
}

var _ port.GrantRepository = (*GrantRepository)(nil)
