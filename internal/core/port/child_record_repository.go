package port

import (
	"context"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// ChildRecordRepository resolves the ownership envelope of child records.
type ChildRecordRepository interface {
	Get(ctx context.Context, recordID string) (*domain.ChildRecord, error)
}
