package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	appLogger "github.com/voice4victims/medrecord-access/internal/infra/logger"
	"github.com/voice4victims/medrecord-access/internal/infra/security"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionForbidden indicates that the session is not owned by the caller.
	ErrSessionForbidden = errors.New("session not owned by principal")
	// ErrSessionInactive indicates the session is invalidated or expired.
	ErrSessionInactive = errors.New("session inactive")
)

// Invalidation reasons recorded on the session row and in the audit trail.
const (
	InvalidateReasonLogout        = "logout"
	InvalidateReasonExpired       = "expired"
	InvalidateReasonEvicted       = "concurrent_session_cap"
	InvalidateReasonHijack        = "hijack_suspected"
	InvalidateReasonCompromise    = "suspected_compromise"
	InvalidateReasonAdminRevoke   = "manual_revoke"
	InvalidateReasonPrincipalWipe = "principal_data_purge"
)

// Validation failure reasons surfaced to the engine and the caller.
const (
	ValidateReasonNotFound          = "not_found"
	ValidateReasonPrincipalMismatch = "principal_mismatch"
	ValidateReasonInvalidated       = "invalidated"
	ValidateReasonExpired           = "expired"
	ValidateReasonOriginChanged     = "origin_subnet_changed"
	ValidateReasonSignatureChanged  = "client_signature_changed"
)

// SessionConfig carries session lifecycle tuning.
type SessionConfig struct {
	MaxConcurrent   int
	StandardTTL     time.Duration
	ElevatedTTL     time.Duration
	ExtensionWindow time.Duration
	ReauthWindow    time.Duration
	CacheTTL        time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.StandardTTL <= 0 {
		c.StandardTTL = 15 * time.Minute
	}
	if c.ElevatedTTL <= 0 {
		c.ElevatedTTL = 5 * time.Minute
	}
	if c.ExtensionWindow <= 0 {
		c.ExtensionWindow = 5 * time.Minute
	}
	if c.ReauthWindow <= 0 {
		c.ReauthWindow = 5 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	return c
}

// ValidationResult is the outcome of a session validation.
type ValidationResult struct {
	Valid          bool
	Session        *domain.Session
	Reason         string
	RequiresReauth bool
}

// SessionManager issues, validates, extends, and invalidates sessions, and
// runs the hijack heuristics.
type SessionManager struct {
	sessions     port.SessionRepository
	cache        port.Cache
	audit        *AuditService
	incidents    port.IncidentReporter
	events       port.SecurityEventPublisher
	metrics      *EngineMetrics
	logger       *zap.Logger
	cfg          SessionConfig
	perPrincipal *keyedMutex
	now          func() time.Time
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(sessions port.SessionRepository, audit *AuditService, incidents port.IncidentReporter, events port.SecurityEventPublisher, cfg SessionConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		sessions:     sessions,
		audit:        audit,
		incidents:    incidents,
		events:       events,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		perPrincipal: newKeyedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// WithCache attaches a short-TTL read-through cache. Every write path deletes
// the cached copy eagerly; freshness wins over hit rate here.
func (m *SessionManager) WithCache(cache port.Cache) *SessionManager {
	m.cache = cache
	return m
}

// WithMetrics attaches decision metrics.
func (m *SessionManager) WithMetrics(metrics *EngineMetrics) *SessionManager {
	m.metrics = metrics
	return m
}

// CreateSession issues a new session for the principal, enforcing the
// concurrent-session cap by evicting the least-recently-active session before
// creating. The evict-then-create sequence is serialized per principal so two
// concurrent logins cannot both slip under the cap.
func (m *SessionManager) CreateSession(ctx context.Context, principal domain.Principal, origin, clientSignature string, level domain.SecurityLevel) (*domain.Session, error) {
	if strings.TrimSpace(principal.ID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}
	if m.sessions == nil {
		return nil, fmt.Errorf("session repository not configured")
	}
	if level == "" {
		level = domain.SecurityLevelStandard
	}

	unlock := m.perPrincipal.Lock(principal.ID)
	defer unlock()

	now := m.now()

	active, err := m.sessions.ListActiveByPrincipal(ctx, principal.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	live := make([]domain.Session, 0, len(active))
	for _, session := range active {
		if session.IsActive(now) {
			live = append(live, session)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].LastActivityAt.Before(live[j].LastActivityAt)
	})

	for len(live) >= m.cfg.MaxConcurrent {
		oldest := live[0]
		if err := m.invalidateStored(ctx, &oldest, InvalidateReasonEvicted); err != nil {
			return nil, fmt.Errorf("evict session: %w", err)
		}
		live = live[1:]
	}

	id, err := security.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	session := domain.Session{
		ID:              id,
		PrincipalID:     principal.ID,
		CreatedAt:       now,
		AuthenticatedAt: now,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(m.ttlFor(level)),
		SecurityLevel:   level,
		Valid:           true,
		Version:         1,
	}
	if origin = strings.TrimSpace(origin); origin != "" {
		session.OriginAddress = &origin
	}
	if clientSignature = strings.TrimSpace(clientSignature); clientSignature != "" {
		session.ClientSignature = &clientSignature
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.storeEvent(ctx, session, "session.created", nil)
	if m.audit != nil {
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  principal.ID,
			Action:       "login",
			ResourceType: string(domain.ResourceSession),
			Result:       domain.AuditResultGranted,
			SessionID:    security.HashToken(session.ID),
			Origin:       origin,
		})
	}

	return &session, nil
}

// Validate checks existence, ownership, expiry, then the hijack heuristics.
// A valid session with activity close to expiry gets its expiry extended by a
// full TTL, so sessions stay alive under continuous use but always expire
// under idleness.
func (m *SessionManager) Validate(ctx context.Context, sessionID, principalID, origin, clientSignature string) (ValidationResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return ValidationResult{Reason: ValidateReasonNotFound}, nil
	}

	session, err := m.fetch(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ValidationResult{Reason: ValidateReasonNotFound}, nil
		}
		return ValidationResult{}, err
	}

	if principalID != "" && session.PrincipalID != principalID {
		return ValidationResult{Reason: ValidateReasonPrincipalMismatch}, nil
	}

	now := m.now()

	if !session.Valid {
		return ValidationResult{Reason: ValidateReasonInvalidated, RequiresReauth: true}, nil
	}
	if session.Expired(now) {
		return ValidationResult{Reason: ValidateReasonExpired, RequiresReauth: true}, nil
	}

	if signal := m.hijackSignal(session, origin, clientSignature); signal != "" {
		m.onHijack(ctx, session, signal)
		return ValidationResult{Reason: signal, RequiresReauth: true}, nil
	}

	remaining := session.ExpiresAt.Sub(now)
	if remaining <= m.cfg.ExtensionWindow {
		newExpiry := now.Add(m.ttlFor(session.SecurityLevel))
		if err := m.sessions.ExtendExpiry(ctx, session.ID, newExpiry, now); err != nil {
			m.logger.Warn("extend session expiry failed", zap.Error(err))
		} else {
			session.ExpiresAt = newExpiry
			m.dropCached(ctx, session.ID)
		}
	}

	if err := m.sessions.Touch(ctx, session.ID, now); err != nil {
		m.logger.Warn("touch session failed", zap.Error(err))
	} else {
		session.Touch(now)
		m.dropCached(ctx, session.ID)
	}

	return ValidationResult{Valid: true, Session: session}, nil
}

// Invalidate performs the one-way transition to invalid. Idempotent.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID, reason string) error {
	session, err := m.fetch(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if !session.Valid {
		return nil
	}
	return m.invalidateStored(ctx, session, reason)
}

// InvalidateAll terminates every active session for the principal. Used on
// suspected compromise; invalidating more than one live session at once is
// itself a signal worth flagging, so the bulk path reports an incident at
// heightened severity.
func (m *SessionManager) InvalidateAll(ctx context.Context, principalID, reason string) (int, error) {
	if strings.TrimSpace(principalID) == "" {
		return 0, fmt.Errorf("principal id is required")
	}

	active, err := m.sessions.ListActiveByPrincipal(ctx, principalID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	now := m.now()
	count, err := m.sessions.InvalidateAllForPrincipal(ctx, principalID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("invalidate all sessions: %w", err)
	}

	for _, session := range active {
		m.dropCached(ctx, session.ID)
	}

	if m.events != nil {
		event := domain.SessionInvalidatedEvent{
			EventID:       uuid.NewString(),
			PrincipalID:   principalID,
			Reason:        reason,
			InvalidatedAt: now,
			BulkCount:     count,
		}
		if err := m.events.PublishSessionInvalidated(ctx, event); err != nil {
			m.logger.Warn("publish bulk invalidation failed", zap.Error(err))
		}
	}

	if count > 1 && m.incidents != nil {
		description := fmt.Sprintf("bulk session invalidation: %d sessions terminated (%s)", count, reason)
		if err := m.incidents.ReportIncident(ctx, principalID, description, port.IncidentSeverityHigh); err != nil {
			m.logger.Warn("report bulk invalidation incident failed", zap.Error(err))
		}
	}

	if m.audit != nil {
		severity := domain.AuditSeverityWarning
		if count > 1 {
			severity = domain.AuditSeverityCritical
		}
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  principalID,
			Action:       "invalidate_all_sessions",
			ResourceType: string(domain.ResourceSession),
			Result:       domain.AuditResultGranted,
			Reason:       reason,
			Detail:       fmt.Sprintf("%d sessions invalidated", count),
			Severity:     severity,
		})
	}

	return count, nil
}

// Elevate raises the session's security level and shortens its remaining
// lifetime for the rest of a sensitive-operation flow. provedAt is the moment
// the caller last proved their identity (the identity token's issue time);
// the re-auth window reopens only when that proof is itself fresh. Merely
// re-presenting the bearer token every request already carries is not proof.
func (m *SessionManager) Elevate(ctx context.Context, sessionID, principalID string, provedAt time.Time) (bool, error) {
	session, err := m.fetch(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrSessionNotFound
		}
		return false, err
	}
	if principalID != "" && session.PrincipalID != principalID {
		return false, ErrSessionForbidden
	}

	now := m.now()
	if !session.IsActive(now) {
		return false, ErrSessionInactive
	}

	var freshProof *time.Time
	if m.isFreshProof(provedAt, session.AuthenticatedAt, now) {
		proof := provedAt
		freshProof = &proof
	}

	expiresAt := now.Add(m.cfg.ElevatedTTL)
	if session.ExpiresAt.Before(expiresAt) {
		expiresAt = session.ExpiresAt
	}
	if err := m.sessions.Elevate(ctx, session.ID, expiresAt, freshProof, now); err != nil {
		return false, fmt.Errorf("elevate session: %w", err)
	}
	if freshProof != nil {
		session.RefreshAuthentication(*freshProof)
	}
	m.dropCached(ctx, session.ID)

	m.storeEvent(ctx, *session, "session.elevated", nil)
	if m.audit != nil {
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  session.PrincipalID,
			Action:       "elevate_session",
			ResourceType: string(domain.ResourceSession),
			Result:       domain.AuditResultGranted,
			SessionID:    security.HashToken(session.ID),
		})
	}

	return true, nil
}

// ListActive returns the principal's currently active sessions ordered by
// last activity, oldest first.
func (m *SessionManager) ListActive(ctx context.Context, principalID string) ([]domain.Session, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}
	sessions, err := m.sessions.ListActiveByPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	now := m.now()
	live := make([]domain.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.IsActive(now) {
			live = append(live, session)
		}
	}
	return live, nil
}

// CountActive returns the number of currently active sessions for the
// principal. Feeds the concurrent-session restriction overlay.
func (m *SessionManager) CountActive(ctx context.Context, principalID string) (int, error) {
	sessions, err := m.sessions.ListActiveByPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	now := m.now()
	count := 0
	for _, session := range sessions {
		if session.IsActive(now) {
			count++
		}
	}
	return count, nil
}

// isFreshProof accepts an identity proof only when it falls inside the
// trailing re-auth window, is not from the future, and is newer than the
// proof already on record.
func (m *SessionManager) isFreshProof(provedAt, authenticatedAt, now time.Time) bool {
	if provedAt.IsZero() || provedAt.After(now) {
		return false
	}
	if now.Sub(provedAt) > m.cfg.ReauthWindow {
		return false
	}
	return provedAt.After(authenticatedAt)
}

func (m *SessionManager) ttlFor(level domain.SecurityLevel) time.Duration {
	if level == domain.SecurityLevelElevated {
		return m.cfg.ElevatedTTL
	}
	return m.cfg.StandardTTL
}

// hijackSignal returns the tripped heuristic, or "" when the request looks
// consistent with the session's history.
func (m *SessionManager) hijackSignal(session *domain.Session, origin, clientSignature string) string {
	if origin = strings.TrimSpace(origin); origin != "" && session.OriginAddress != nil {
		if security.SubnetPrefix(*session.OriginAddress) != security.SubnetPrefix(origin) {
			return ValidateReasonOriginChanged
		}
	}
	if clientSignature = strings.TrimSpace(clientSignature); clientSignature != "" && session.ClientSignature != nil {
		if !security.SameFamily(*session.ClientSignature, clientSignature) {
			return ValidateReasonSignatureChanged
		}
	}
	return ""
}

// onHijack invalidates the session immediately and raises the alarm. The
// caller must force re-authentication, never silently continue.
func (m *SessionManager) onHijack(ctx context.Context, session *domain.Session, signal string) {
	fields := []zap.Field{
		zap.String("signal", signal),
		appLogger.SessionRef(security.HashToken(session.ID)),
	}
	if session.OriginAddress != nil {
		fields = append(fields, appLogger.Origin(*session.OriginAddress))
	}
	m.logger.Warn("session hijack suspected", fields...)

	if err := m.invalidateStored(ctx, session, InvalidateReasonHijack); err != nil {
		m.logger.Error("invalidate hijacked session failed", zap.Error(err))
	}

	if m.metrics != nil {
		m.metrics.HijackSignals.Inc()
	}

	if m.events != nil {
		event := domain.HijackSuspectedEvent{
			EventID:     uuid.NewString(),
			SessionID:   session.ID,
			PrincipalID: session.PrincipalID,
			Signal:      signal,
			DetectedAt:  m.now(),
		}
		if err := m.events.PublishHijackSuspected(ctx, event); err != nil {
			m.logger.Warn("publish hijack event failed", zap.Error(err))
		}
	}

	if m.incidents != nil {
		description := fmt.Sprintf("session hijack suspected: %s", signal)
		if err := m.incidents.ReportIncident(ctx, session.PrincipalID, description, port.IncidentSeverityCritical); err != nil {
			m.logger.Warn("report hijack incident failed", zap.Error(err))
		}
	}

	if m.audit != nil {
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  session.PrincipalID,
			Action:       "validate_session",
			ResourceType: string(domain.ResourceSession),
			Result:       domain.AuditResultDenied,
			Reason:       signal,
			SessionID:    security.HashToken(session.ID),
			Severity:     domain.AuditSeverityCritical,
		})
	}
}

func (m *SessionManager) invalidateStored(ctx context.Context, session *domain.Session, reason string) error {
	now := m.now()
	if err := m.sessions.Invalidate(ctx, session.ID, reason, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("invalidate session: %w", err)
	}
	session.Invalidate(now, reason)
	m.dropCached(ctx, session.ID)

	m.storeEvent(ctx, *session, "session.invalidated", map[string]any{"reason": reason})

	if m.events != nil {
		event := domain.SessionInvalidatedEvent{
			EventID:       uuid.NewString(),
			SessionID:     session.ID,
			PrincipalID:   session.PrincipalID,
			Reason:        reason,
			InvalidatedAt: now,
			BulkCount:     1,
		}
		if err := m.events.PublishSessionInvalidated(ctx, event); err != nil {
			m.logger.Warn("publish session invalidated failed", zap.Error(err))
		}
	}

	return nil
}

func (m *SessionManager) fetch(ctx context.Context, sessionID string) (*domain.Session, error) {
	if m.sessions == nil {
		return nil, fmt.Errorf("session repository not configured")
	}

	if cached := m.cachedSession(ctx, sessionID); cached != nil {
		return cached, nil
	}

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.cacheSession(ctx, *session)
	return session, nil
}

func (m *SessionManager) cacheKey(sessionID string) string {
	return "session:" + security.HashToken(sessionID)
}

func (m *SessionManager) cachedSession(ctx context.Context, sessionID string) *domain.Session {
	if m.cache == nil {
		return nil
	}
	raw, err := m.cache.Get(ctx, m.cacheKey(sessionID))
	if err != nil || raw == "" {
		return nil
	}
	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		m.logger.Warn("decode cached session failed", zap.Error(err))
		return nil
	}
	return &session
}

func (m *SessionManager) cacheSession(ctx context.Context, session domain.Session) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, m.cacheKey(session.ID), string(raw), m.cfg.CacheTTL); err != nil {
		m.logger.Warn("cache session failed", zap.Error(err))
	}
}

func (m *SessionManager) dropCached(ctx context.Context, sessionID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, m.cacheKey(sessionID)); err != nil {
		m.logger.Warn("drop cached session failed", zap.Error(err))
	}
}

func (m *SessionManager) storeEvent(ctx context.Context, session domain.Session, kind string, details map[string]any) {
	event := domain.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Kind:      kind,
		At:        m.now(),
		Origin:    session.OriginAddress,
		Signature: session.ClientSignature,
		Details:   details,
	}
	if err := m.sessions.StoreEvent(ctx, event); err != nil {
		m.logger.Warn("store session event failed", zap.String("kind", kind), zap.Error(err))
	}
}
