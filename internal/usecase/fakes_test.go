package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

// fakeClock is a mutable clock shared across collaborators in a test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	events   []domain.SessionEvent
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]domain.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (r *memSessionRepo) ListActiveByPrincipal(_ context.Context, principalID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, session := range r.sessions {
		if session.PrincipalID == principalID && session.Valid {
			out = append(out, session)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Touch(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || !session.Valid {
		return repository.ErrNotFound
	}
	session.LastActivityAt = at
	r.sessions[sessionID] = session
	return nil
}

func (r *memSessionRepo) ExtendExpiry(_ context.Context, sessionID string, expiresAt, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || !session.Valid {
		return repository.ErrNotFound
	}
	session.ExpiresAt = expiresAt
	session.LastActivityAt = at
	r.sessions[sessionID] = session
	return nil
}

func (r *memSessionRepo) Invalidate(_ context.Context, sessionID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if !session.Valid {
		return nil
	}
	session.Valid = false
	session.InvalidatedAt = &at
	session.InvalidateReason = &reason
	r.sessions[sessionID] = session
	return nil
}

func (r *memSessionRepo) InvalidateAllForPrincipal(_ context.Context, principalID, reason string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, session := range r.sessions {
		if session.PrincipalID == principalID && session.Valid {
			session.Valid = false
			session.InvalidatedAt = &at
			session.InvalidateReason = &reason
			r.sessions[id] = session
			count++
		}
	}
	return count, nil
}

func (r *memSessionRepo) Elevate(_ context.Context, sessionID string, expiresAt time.Time, authenticatedAt *time.Time, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || !session.Valid {
		return repository.ErrNotFound
	}
	session.SecurityLevel = domain.SecurityLevelElevated
	session.ExpiresAt = expiresAt
	if authenticatedAt != nil {
		session.AuthenticatedAt = *authenticatedAt
	}
	session.LastActivityAt = at
	r.sessions[sessionID] = session
	return nil
}

func (r *memSessionRepo) StoreEvent(_ context.Context, event domain.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memSessionRepo) get(sessionID string) domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

type memGrantRepo struct {
	mu     sync.Mutex
	grants map[string]domain.PermissionGrant
}

func newMemGrantRepo() *memGrantRepo {
	return &memGrantRepo{grants: make(map[string]domain.PermissionGrant)}
}

func (r *memGrantRepo) Create(_ context.Context, grant domain.PermissionGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[grant.ID] = grant
	return nil
}

func (r *memGrantRepo) ListActiveForPrincipal(_ context.Context, principalID string) ([]domain.PermissionGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PermissionGrant
	for _, grant := range r.grants {
		if grant.GrantedTo == principalID && grant.Active {
			out = append(out, grant)
		}
	}
	return out, nil
}

func (r *memGrantRepo) Deactivate(_ context.Context, grantID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	grant, ok := r.grants[grantID]
	if !ok {
		return repository.ErrNotFound
	}
	grant.Active = false
	r.grants[grantID] = grant
	return nil
}

func (r *memGrantRepo) ConsumeUse(_ context.Context, grantID string, expectedUses int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	grant, ok := r.grants[grantID]
	if !ok {
		return repository.ErrNotFound
	}
	if grant.UsesSoFar != expectedUses {
		return repository.ErrVersionConflict
	}
	grant.UsesSoFar++
	grant.Version++
	r.grants[grantID] = grant
	return nil
}

func (r *memGrantRepo) ListStaleActive(_ context.Context, at time.Time, limit int) ([]domain.PermissionGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PermissionGrant
	for _, grant := range r.grants {
		if !grant.Active {
			continue
		}
		if grant.ExpiredAt(at) || grant.Exhausted() {
			out = append(out, grant)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memGrantRepo) get(grantID string) domain.PermissionGrant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grants[grantID]
}

type memConsentRepo struct {
	mu        sync.Mutex
	consents  map[string]domain.ConsentRecord
	deletions map[string]domain.DeletionRequest
}

func newMemConsentRepo() *memConsentRepo {
	return &memConsentRepo{
		consents:  make(map[string]domain.ConsentRecord),
		deletions: make(map[string]domain.DeletionRequest),
	}
}

func consentKey(principalID string, consentType domain.ConsentType) string {
	return principalID + "/" + string(consentType)
}

func (r *memConsentRepo) GetConsent(_ context.Context, principalID string, consentType domain.ConsentType) (*domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.consents[consentKey(principalID, consentType)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := record
	return &copied, nil
}

func (r *memConsentRepo) ListConsents(_ context.Context, principalID string) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ConsentRecord
	for _, record := range r.consents {
		if record.PrincipalID == principalID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memConsentRepo) UpsertConsent(_ context.Context, record domain.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := consentKey(record.PrincipalID, record.Type)
	if existing, ok := r.consents[key]; ok {
		record.Version = existing.Version + 1
	} else {
		record.Version = 1
	}
	r.consents[key] = record
	return nil
}

func (r *memConsentRepo) CreateDeletionRequest(_ context.Context, request domain.DeletionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletions[request.ID] = request
	return nil
}

func (r *memConsentRepo) ListDueDeletionRequests(_ context.Context, at time.Time) ([]domain.DeletionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeletionRequest
	for _, request := range r.deletions {
		if request.Due(at) {
			out = append(out, request)
		}
	}
	return out, nil
}

func (r *memConsentRepo) MarkDeletionStatus(_ context.Context, requestID string, status domain.DeletionStatus, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.deletions[requestID]
	if !ok {
		return repository.ErrNotFound
	}
	if request.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	request.Status = status
	request.Version++
	r.deletions[requestID] = request
	return nil
}

type memLockoutRepo struct {
	mu    sync.Mutex
	state map[string]domain.LockoutState
}

func newMemLockoutRepo() *memLockoutRepo {
	return &memLockoutRepo{state: make(map[string]domain.LockoutState)}
}

func (r *memLockoutRepo) Get(_ context.Context, principalID string) (*domain.LockoutState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.state[principalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := state
	return &copied, nil
}

func (r *memLockoutRepo) Save(_ context.Context, state domain.LockoutState, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.state[state.PrincipalID]
	if !ok {
		if expectedVersion != 0 {
			return repository.ErrVersionConflict
		}
		state.Version = 1
		r.state[state.PrincipalID] = state
		return nil
	}
	if existing.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	state.Version = existing.Version + 1
	r.state[state.PrincipalID] = state
	return nil
}

type memAuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	fail    error
}

func newMemAuditLog() *memAuditLog {
	return &memAuditLog{}
}

func (r *memAuditLog) Append(_ context.Context, entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memAuditLog) CountDeniedByPrincipal(_ context.Context, principalID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, entry := range r.entries {
		if entry.PrincipalID == principalID && entry.Result == domain.AuditResultDenied && !entry.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memAuditLog) CountDeniedByOrigin(_ context.Context, origin string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, entry := range r.entries {
		if entry.Origin == origin && entry.Result == domain.AuditResultDenied && !entry.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memAuditLog) all() []domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *memAuditLog) last() *domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	entry := r.entries[len(r.entries)-1]
	return &entry
}

type memRecordRepo struct {
	mu      sync.Mutex
	records map[string]domain.ChildRecord
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[string]domain.ChildRecord)}
}

func (r *memRecordRepo) put(record domain.ChildRecord) {
	r.mu.Lock()
	r.records[record.ID] = record
	r.mu.Unlock()
}

func (r *memRecordRepo) Get(_ context.Context, recordID string) (*domain.ChildRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[recordID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := record
	return &copied, nil
}

type memConfirmationStore struct {
	mu        sync.Mutex
	confirmed map[string]time.Time
	ttl       time.Duration
}

func newMemConfirmationStore(ttl time.Duration) *memConfirmationStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &memConfirmationStore{confirmed: make(map[string]time.Time), ttl: ttl}
}

func (r *memConfirmationStore) Record(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	r.confirmed[sessionID] = at
	r.mu.Unlock()
	return nil
}

func (r *memConfirmationStore) Confirmed(_ context.Context, sessionID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recorded, ok := r.confirmed[sessionID]
	if !ok {
		return false, nil
	}
	return at.Sub(recorded) <= r.ttl, nil
}

type capturedIncident struct {
	PrincipalID string
	Description string
	Severity    port.IncidentSeverity
}

type capturingIncidents struct {
	mu        sync.Mutex
	incidents []capturedIncident
}

func (r *capturingIncidents) ReportIncident(_ context.Context, principalID, description string, severity port.IncidentSeverity) error {
	r.mu.Lock()
	r.incidents = append(r.incidents, capturedIncident{PrincipalID: principalID, Description: description, Severity: severity})
	r.mu.Unlock()
	return nil
}

func (r *capturingIncidents) all() []capturedIncident {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capturedIncident, len(r.incidents))
	copy(out, r.incidents)
	return out
}

type capturingEvents struct {
	mu          sync.Mutex
	invalidated []domain.SessionInvalidatedEvent
	lockouts    []domain.LockoutTriggeredEvent
	hijacks     []domain.HijackSuspectedEvent
	consents    []domain.ConsentChangedEvent
	deletions   []domain.DeletionRequestedEvent
}

func (p *capturingEvents) PublishSessionInvalidated(_ context.Context, event domain.SessionInvalidatedEvent) error {
	p.mu.Lock()
	p.invalidated = append(p.invalidated, event)
	p.mu.Unlock()
	return nil
}

func (p *capturingEvents) PublishLockoutTriggered(_ context.Context, event domain.LockoutTriggeredEvent) error {
	p.mu.Lock()
	p.lockouts = append(p.lockouts, event)
	p.mu.Unlock()
	return nil
}

func (p *capturingEvents) PublishHijackSuspected(_ context.Context, event domain.HijackSuspectedEvent) error {
	p.mu.Lock()
	p.hijacks = append(p.hijacks, event)
	p.mu.Unlock()
	return nil
}

func (p *capturingEvents) PublishConsentChanged(_ context.Context, event domain.ConsentChangedEvent) error {
	p.mu.Lock()
	p.consents = append(p.consents, event)
	p.mu.Unlock()
	return nil
}

func (p *capturingEvents) PublishDeletionRequested(_ context.Context, event domain.DeletionRequestedEvent) error {
	p.mu.Lock()
	p.deletions = append(p.deletions, event)
	p.mu.Unlock()
	return nil
}

var (
	_ port.SessionRepository         = (*memSessionRepo)(nil)
	_ port.GrantRepository           = (*memGrantRepo)(nil)
	_ port.ConsentRepository         = (*memConsentRepo)(nil)
	_ port.LockoutRepository         = (*memLockoutRepo)(nil)
	_ port.AuditSink                 = (*memAuditLog)(nil)
	_ port.AuditQuery                = (*memAuditLog)(nil)
	_ port.ChildRecordRepository     = (*memRecordRepo)(nil)
	_ port.DeletionConfirmationStore = (*memConfirmationStore)(nil)
	_ port.IncidentReporter          = (*capturingIncidents)(nil)
	_ port.SecurityEventPublisher    = (*capturingEvents)(nil)
)
