package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

// DocumentStore implements port.RecordStore over a generic JSONB collection
// table. The engine's ownership checks only need the document envelope, not a
// medical schema.
type DocumentStore struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewDocumentStore constructs a store backed by any executor that satisfies pgExecutor.
func NewDocumentStore(exec pgExecutor) *DocumentStore {
	store := &DocumentStore{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		store.pool = pool
	}
	return store
}

// Get fetches one document.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*port.Document, error) {
	stmt, args, err := s.builder.
		Select("id", "version", "data").
		From("access.documents").
		Where(squirrel.Eq{"collection": collection, "id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select document sql: %w", err)
	}

	doc, err := scanDocument(s.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	return doc, nil
}

// Query returns every document in the collection matching the predicate.
func (s *DocumentStore) Query(ctx context.Context, collection string, predicate func(port.Document) bool) ([]port.Document, error) {
	stmt, args, err := s.builder.
		Select("id", "version", "data").
		From("access.documents").
		Where(squirrel.Eq{"collection": collection}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query documents sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	matches := make([]port.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if predicate == nil || predicate(*doc) {
			matches = append(matches, *doc)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return matches, nil
}

// ConditionalWrite inserts (expectedVersion zero) or updates the document with
// a compare-and-swap on the stored version.
func (s *DocumentStore) ConditionalWrite(ctx context.Context, collection, id string, expectedVersion int64, value port.Document) error {
	data, err := json.Marshal(value.Data)
	if err != nil {
		return fmt.Errorf("marshal document data: %w", err)
	}

	if expectedVersion == 0 {
		stmt := `
            INSERT INTO access.documents (collection, id, version, data)
            VALUES ($1, $2, 1, $3)
        `
		if _, err := s.exec.Exec(ctx, stmt, collection, id, data); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrVersionConflict
			}
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	}

	stmt := `
        UPDATE access.documents
           SET data = $4,
               version = version + 1
         WHERE collection = $1 AND id = $2 AND version = $3
    `

	tag, err := s.exec.Exec(ctx, stmt, collection, id, expectedVersion, data)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

func scanDocument(row pgx.Row) (*port.Document, error) {
	var (
		doc port.Document
		raw []byte
	)

	if err := row.Scan(&doc.ID, &doc.Version, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	doc.Data = make(map[string]any)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("unmarshal document data: %w", err)
		}
	}

	return &doc, nil
}

var _ port.RecordStore = (*DocumentStore)(nil)
