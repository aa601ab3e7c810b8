package domain

import "time"

// SecurityLevel describes the posture of a session.
type SecurityLevel string

const (
	// SecurityLevelStandard is the default posture for a freshly created session.
	SecurityLevelStandard SecurityLevel = "standard"
	// SecurityLevelElevated marks a session raised for a sensitive-operation flow.
	SecurityLevelElevated SecurityLevel = "elevated"
)

// Session represents a persisted login session bound to an origin address and
// client signature.
type Session struct {
	ID               string
	PrincipalID      string
	CreatedAt        time.Time
	AuthenticatedAt  time.Time
	LastActivityAt   time.Time
	ExpiresAt        time.Time
	SecurityLevel    SecurityLevel
	OriginAddress    *string
	ClientSignature  *string
	Valid            bool
	InvalidatedAt    *time.Time
	InvalidateReason *string
	Version          int64
}

// IsActive reports whether the session is still usable (valid and not expired
// at the supplied moment).
func (s Session) IsActive(at time.Time) bool {
	if !s.Valid {
		return false
	}
	return s.ExpiresAt.After(at)
}

// Expired reports whether the session has passed its expiry without regard to
// the validity flag.
func (s Session) Expired(at time.Time) bool {
	return !s.ExpiresAt.After(at)
}

// AuthenticatedWithin reports whether the principal proved their identity for
// this session within the trailing window. Sensitive operations require this.
func (s Session) AuthenticatedWithin(window time.Duration, at time.Time) bool {
	if s.AuthenticatedAt.IsZero() {
		return false
	}
	return at.Sub(s.AuthenticatedAt) <= window
}

// Touch updates last-activity metadata for the session.
func (s *Session) Touch(at time.Time) {
	s.LastActivityAt = at
}

// Invalidate marks the session invalid. The transition is one-way: once a
// session is invalid it can never become valid again. Returns true when the
// session changed state.
func (s *Session) Invalidate(at time.Time, reason string) bool {
	if !s.Valid {
		return false
	}
	s.Valid = false
	s.InvalidatedAt = &at
	s.InvalidateReason = &reason
	return true
}

// Elevate raises the security level and shortens the remaining lifetime for a
// sensitive-operation flow. Elevation changes posture only; it is not proof
// of identity and never moves AuthenticatedAt.
func (s *Session) Elevate(at time.Time, ttl time.Duration) {
	s.SecurityLevel = SecurityLevelElevated
	expiry := at.Add(ttl)
	if expiry.Before(s.ExpiresAt) {
		s.ExpiresAt = expiry
	}
}

// RefreshAuthentication records a demonstrated identity proof. The timestamp
// only ever moves forward.
func (s *Session) RefreshAuthentication(at time.Time) {
	if at.After(s.AuthenticatedAt) {
		s.AuthenticatedAt = at
	}
}

// SessionEvent captures lifecycle changes for sessions.
type SessionEvent struct {
	ID        string
	SessionID string
	Kind      string
	At        time.Time
	Origin    *string
	Signature *string
	Details   map[string]any
}
