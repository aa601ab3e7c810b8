package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

// LockoutRepository implements port.LockoutRepository backed by PostgreSQL.
type LockoutRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewLockoutRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewLockoutRepository(exec pgExecutor) *LockoutRepository {
	repo := &LockoutRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Get fetches the lockout state for a principal.
func (r *LockoutRepository) Get(ctx context.Context, principalID string) (*domain.LockoutState, error) {
	stmt, args, err := r.builder.
		Select("principal_id", "failed_attempts", "locked_at", "lock_reason", "updated_at", "version").
		From("access.lockouts").
		Where(squirrel.Eq{"principal_id": principalID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select lockout sql: %w", err)
	}

	var (
		state      domain.LockoutState
		lockedAt   sql.NullTime
		lockReason sql.NullString
	)

	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&state.PrincipalID,
		&state.FailedAttempts,
		&lockedAt,
		&lockReason,
		&state.UpdatedAt,
		&state.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan lockout: %w", err)
	}

	if lockedAt.Valid {
		at := lockedAt.Time
		state.LockedAt = &at
	}
	if lockReason.Valid {
		state.LockReason = &lockReason.String
	}

	return &state, nil
}

// Save writes the state with a compare-and-swap on expectedVersion. Zero
// inserts a fresh row; a duplicate insert or a stale version loses the race.
func (r *LockoutRepository) Save(ctx context.Context, state domain.LockoutState, expectedVersion int64) error {
	if expectedVersion == 0 {
		stmt := `
            INSERT INTO access.lockouts (principal_id, failed_attempts, locked_at, lock_reason, updated_at, version)
            VALUES ($1, $2, $3, $4, $5, 1)
        `
		_, err := r.exec.Exec(ctx, stmt,
			state.PrincipalID,
			state.FailedAttempts,
			optionalTime(state.LockedAt),
			optionalString(state.LockReason),
			state.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrVersionConflict
			}
			return fmt.Errorf("insert lockout: %w", err)
		}
		return nil
	}

	stmt := `
        UPDATE access.lockouts
           SET failed_attempts = $2,
               locked_at = $3,
               lock_reason = $4,
               updated_at = $5,
               version = version + 1
         WHERE principal_id = $1 AND version = $6
    `

	tag, err := r.exec.Exec(ctx, stmt,
		state.PrincipalID,
		state.FailedAttempts,
		optionalTime(state.LockedAt),
		optionalString(state.LockReason),
		state.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update lockout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

var _ port.LockoutRepository = (*LockoutRepository)(nil)
