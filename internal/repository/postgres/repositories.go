package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Sessions     *SessionRepository
	Grants       *GrantRepository
	Consents     *ConsentRepository
	Lockouts     *LockoutRepository
	Audit        *AuditRepository
	Documents    *DocumentStore
	ChildRecords *ChildRecordRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	documents := NewDocumentStore(pool)
	return &Repositories{
		Sessions:     NewSessionRepository(pool),
		Grants:       NewGrantRepository(pool),
		Consents:     NewConsentRepository(pool),
		Lockouts:     NewLockoutRepository(pool),
		Audit:        NewAuditRepository(pool),
		Documents:    documents,
		ChildRecords: NewChildRecordRepository(documents),
	}
}
