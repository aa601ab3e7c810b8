package port

import "context"

// Document is a versioned record in a generic collection. The engine never
// assumes a specific query language or schema for the backing store; the
// medical data model lives behind this abstraction.
type Document struct {
	ID      string
	Version int64
	Data    map[string]any
}

// RecordStore is the generic document-collection abstraction the engine
// depends on. ConditionalWrite must fail with repository.ErrVersionConflict
// when the stored version differs from expectedVersion.
type RecordStore interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string, predicate func(Document) bool) ([]Document, error)
	ConditionalWrite(ctx context.Context, collection, id string, expectedVersion int64, value Document) error
}
