package postgres

import (
	"context"
	"fmt"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
)

// ChildRecordCollection is the document collection holding child record
// ownership envelopes.
const ChildRecordCollection = "child_records"

// ChildRecordRepository resolves ownership envelopes from the generic
// document store. The medical payload stays opaque to the engine.
type ChildRecordRepository struct {
	store port.RecordStore
}

// NewChildRecordRepository constructs a ChildRecordRepository.
func NewChildRecordRepository(store port.RecordStore) *ChildRecordRepository {
	return &ChildRecordRepository{store: store}
}

// Get fetches the ownership envelope for a child record.
func (r *ChildRecordRepository) Get(ctx context.Context, recordID string) (*domain.ChildRecord, error) {
	doc, err := r.store.Get(ctx, ChildRecordCollection, recordID)
	if err != nil {
		return nil, err
	}

	record := domain.ChildRecord{
		ID:      doc.ID,
		Version: doc.Version,
	}
	if owner, ok := doc.Data["owner_id"].(string); ok {
		record.OwnerID = owner
	}
	if deleted, ok := doc.Data["deleted_at"].(string); ok && deleted != "" {
		record.DeletedAt = &deleted
	}

	if record.OwnerID == "" {
		return nil, fmt.Errorf("child record %s has no owner", recordID)
	}

	return &record, nil
}

var _ port.ChildRecordRepository = (*ChildRecordRepository)(nil)
