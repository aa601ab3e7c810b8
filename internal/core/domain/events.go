package domain

import "time"

// SessionInvalidatedEvent is published when a session transitions to invalid.
type SessionInvalidatedEvent struct {
	EventID       string
	SessionID     string
	PrincipalID   string
	Reason        string
	InvalidatedAt time.Time
	BulkCount     int
	Metadata      map[string]any
}

// LockoutTriggeredEvent is published when a principal crosses the
// consecutive-failure threshold.
type LockoutTriggeredEvent struct {
	EventID        string
	PrincipalID    string
	FailedAttempts int
	LockedAt       time.Time
	Reason         string
}

// HijackSuspectedEvent is published when session validation trips a hijack
// heuristic.
type HijackSuspectedEvent struct {
	EventID     string
	SessionID   string
	PrincipalID string
	Signal      string
	DetectedAt  time.Time
}

// ConsentChangedEvent is published when a consent flag flips.
type ConsentChangedEvent struct {
	EventID     string
	PrincipalID string
	ConsentType string
	Granted     bool
	ChangedAt   time.Time
}

// DeletionRequestedEvent is published when a principal schedules a purge.
type DeletionRequestedEvent struct {
	EventID     string
	RequestID   string
	PrincipalID string
	Scope       string
	PurgeAfter  time.Time
	RequestedAt time.Time
}
