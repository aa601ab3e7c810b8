package postgres

import (
	"context"
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

// ConsentRepository implements port.ConsentRepository backed by PostgreSQL.
type ConsentRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewConsentRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewConsentRepository(exec pgExecutor) *ConsentRepository {
	repo := &ConsentRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// GetConsent fetches one consent flag for a principal.
func (r *ConsentRepository) GetConsent(ctx context.Context, principalID string, consentType domain.ConsentType) (*domain.ConsentRecord, error) {
	stmt, args, err := r.builder.
		Select("principal_id", "consent_type", "granted", "updated_at", "version").
		From("access.consents").
		Where(squirrel.Eq{"principal_id": principalID, "consent_type": string(consentType)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select consent sql: %w", err)
	}

	record, err := scanConsent(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan consent: %w", err)
	}

	return record, nil
}

// ListConsents returns all consent flags for the principal.
func (r *ConsentRepository) ListConsents(ctx context.Context, principalID string) ([]domain.ConsentRecord, error) {
	stmt, args, err := r.builder.
		Select("principal_id", "consent_type", "granted", "updated_at", "version").
		From("access.consents").
		Where(squirrel.Eq{"principal_id": principalID}).
		OrderBy("consent_type ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list consents sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query consents: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ConsentRecord, 0)
	for rows.Next() {
		record, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}

	return records, nil
}

// UpsertConsent inserts or replaces the consent flag.
func (r *ConsentRepository) UpsertConsent(ctx context.Context, record domain.ConsentRecord) error {
	stmt := `
        INSERT INTO access.consents (principal_id, consent_type, granted, updated_at, version)
        VALUES ($1, $2, $3, $4, 1)
        ON CONFLICT (principal_id, consent_type)
        DO UPDATE SET granted = EXCLUDED.granted,
                      updated_at = EXCLUDED.updated_at,
                      version = access.consents.version + 1
    `

	if _, err := r.exec.Exec(ctx, stmt, record.PrincipalID, string(record.Type), record.Granted, record.UpdatedAt); err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

// CreateDeletionRequest persists a scheduled purge marker.
func (r *ConsentRepository) CreateDeletionRequest(ctx context.Context, request domain.DeletionRequest) error {
	version := request.Version
	if version <= 0 {
		version = 1
	}

	sqlStmt, args, err := r.builder.Insert("access.deletion_requests").
		Columns("id", "principal_id", "scope", "requested_at", "purge_after", "status", "version").
		Values(
			request.ID,
			request.PrincipalID,
			request.Scope,
			request.RequestedAt,
			request.PurgeAfter,
			string(request.Status),
			version,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert deletion request sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert deletion request: %w", err)
	}
	return nil
}

// ListDueDeletionRequests returns pending requests whose grace period has
// elapsed.
func (r *ConsentRepository) ListDueDeletionRequests(ctx context.Context, at time.Time) ([]domain.DeletionRequest, error) {
	stmt, args, err := r.builder.
		Select("id", "principal_id", "scope", "requested_at", "purge_after", "status", "version").
		From("access.deletion_requests").
		Where(squirrel.And{
			squirrel.Eq{"status": string(domain.DeletionStatusPending)},
			squirrel.LtOrEq{"purge_after": at},
		}).
		OrderBy("purge_after ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list due deletions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query due deletions: %w", err)
	}
	defer rows.Close()

	requests := make([]domain.DeletionRequest, 0)
	for rows.Next() {
		var (
			request domain.DeletionRequest
			status  string
		)
		if err := rows.Scan(
			&request.ID,
			&request.PrincipalID,
			&request.Scope,
			&request.RequestedAt,
			&request.PurgeAfter,
			&status,
			&request.Version,
		); err != nil {
			return nil, fmt.Errorf("scan deletion request: %w", err)
		}
		request.Status = domain.DeletionStatus(status)
		requests = append(requests, request)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due deletions: %w", err)
	}

	return requests, nil
}

// MarkDeletionStatus advances a deletion request with a compare-and-swap on
// its version.
func (r *ConsentRepository) MarkDeletionStatus(ctx context.Context, requestID string, status domain.DeletionStatus, expectedVersion int64) error {
	stmt := `
        UPDATE access.deletion_requests
           SET status = $2,
               version = version + 1
         WHERE id = $1 AND version = $3
    `

	tag, err := r.exec.Exec(ctx, stmt, requestID, string(status), expectedVersion)
	if err != nil {
		return fmt.Errorf("mark deletion status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

func scanConsent(row pgx.Row) (*domain.ConsentRecord, error) {
	var (
		record      domain.ConsentRecord
		consentType string
	)

	err := row.Scan(
		&record.PrincipalID,
		&consentType,
		&record.Granted,
		&record.UpdatedAt,
		&record.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	record.Type = domain.ConsentType(consentType)
	return &record, nil
}

var _ port.ConsentRepository = (*ConsentRepository)(nil)
