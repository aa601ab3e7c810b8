package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
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

var sessionColumns = []string{
	"id",
	"principal_id",
	"created_at",
	"authenticated_at",
	"last_activity_at",
	"expires_at",
	"security_level",
	"origin_address",
	"client_signature",
	"valid",
	"invalidated_at",
	"invalidate_reason",
	"version",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	repo := &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	version := session.Version
	if version <= 0 {
		version = 1
	}

	sqlStmt, args, err := r.builder.Insert("access.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.PrincipalID,
			session.CreatedAt,
			session.AuthenticatedAt,
			session.LastActivityAt,
			session.ExpiresAt,
			string(session.SecurityLevel),
			optionalString(session.OriginAddress),
			optionalString(session.ClientSignature),
			session.Valid,
			optionalTime(session.InvalidatedAt),
			optionalString(session.InvalidateReason),
			version,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Get fetches a session by its identifier.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("access.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return session, nil
}

// ListActiveByPrincipal returns valid, unexpired sessions for a principal
// ordered oldest activity first, so eviction can pop index zero.
func (r *SessionRepository) ListActiveByPrincipal(ctx context.Context, principalID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("access.sessions").
		Where(squirrel.Eq{"principal_id": principalID, "valid": true}).
		OrderBy("last_activity_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// Touch refreshes last-activity metadata for a still-valid session.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	stmt := `
        UPDATE access.sessions
           SET last_activity_at = $2,
               version = version + 1
         WHERE id = $1 AND valid
    `

	tag, err := r.exec.Exec(ctx, stmt, sessionID, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ExtendExpiry pushes the expiry forward for a still-valid session.
func (r *SessionRepository) ExtendExpiry(ctx context.Context, sessionID string, expiresAt, at time.Time) error {
	stmt := `
        UPDATE access.sessions
           SET expires_at = $2,
               last_activity_at = $3,
               version = version + 1
         WHERE id = $1 AND valid
    `

	tag, err := r.exec.Exec(ctx, stmt, sessionID, expiresAt, at)
	if err != nil {
		return fmt.Errorf("extend session expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Invalidate marks the session invalid. The guard on valid makes the
// transition one-way and the call idempotent.
func (r *SessionRepository) Invalidate(ctx context.Context, sessionID, reason string, at time.Time) error {
	stmt := `
        UPDATE access.sessions
           SET valid = FALSE,
               invalidated_at = $2,
               invalidate_reason = $3,
               version = version + 1
         WHERE id = $1 AND valid
    `

	if _, err := r.exec.Exec(ctx, stmt, sessionID, at, reason); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// InvalidateAllForPrincipal invalidates every valid session owned by the
// principal and reports how many changed state.
func (r *SessionRepository) InvalidateAllForPrincipal(ctx context.Context, principalID, reason string, at time.Time) (int, error) {
	stmt := `
        UPDATE access.sessions
           SET valid = FALSE,
               invalidated_at = $2,
               invalidate_reason = $3,
               version = version + 1
         WHERE principal_id = $1 AND valid
    `

	tag, err := r.exec.Exec(ctx, stmt, principalID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("invalidate sessions for principal: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Elevate raises the security posture. The expiry only ever shortens, and
// authenticated_at moves only when a fresh identity proof accompanies the
// elevation; a nil proof leaves it untouched.
func (r *SessionRepository) Elevate(ctx context.Context, sessionID string, expiresAt time.Time, authenticatedAt *time.Time, at time.Time) error {
	stmt := `
        UPDATE access.sessions
           SET security_level = 'elevated',
               expires_at = LEAST(expires_at, $2),
               authenticated_at = COALESCE($4::timestamptz, authenticated_at),
               last_activity_at = $3,
               version = version + 1
         WHERE id = $1 AND valid
    `

	tag, err := r.exec.Exec(ctx, stmt, sessionID, expiresAt, at, optionalTime(authenticatedAt))
	if err != nil {
		return fmt.Errorf("elevate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// StoreEvent persists lifecycle events for auditability.
func (r *SessionRepository) StoreEvent(ctx context.Context, event domain.SessionEvent) error {
	details, err := marshalSessionEventDetails(event.Details)
	if err != nil {
		return err
	}

	sqlStmt, args, err := r.builder.Insert("access.session_events").
		Columns(
			"id",
			"session_id",
			"kind",
			"at",
			"origin",
			"signature",
			"details",
		).
		Values(
			event.ID,
			event.SessionID,
			event.Kind,
			event.At,
			optionalString(event.Origin),
			optionalString(event.Signature),
			details,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}

	return nil
}

func marshalSessionEventDetails(details map[string]any) (any, error) {
	if len(details) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal session event details: %w", err)
	}
	return payload, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session          domain.Session
		securityLevel    string
		originAddress    sql.NullString
		clientSignature  sql.NullString
		invalidatedAt    sql.NullTime
		invalidateReason sql.NullString
	)

	err := row.Scan(
		&session.ID,
		&session.PrincipalID,
		&session.CreatedAt,
		&session.AuthenticatedAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
		&securityLevel,
		&originAddress,
		&clientSignature,
		&session.Valid,
		&invalidatedAt,
		&invalidateReason,
		&session.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.SecurityLevel = domain.SecurityLevel(securityLevel)
	if originAddress.Valid {
		session.OriginAddress = &originAddress.String
	}
	if clientSignature.Valid {
		session.ClientSignature = &clientSignature.String
	}
	if invalidatedAt.Valid {
		at := invalidatedAt.Time
		session.InvalidatedAt = &at
	}
	if invalidateReason.Valid {
		session.InvalidateReason = &invalidateReason.String
	}

	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
