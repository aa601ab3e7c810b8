package domain

import "time"

// AuditResult is the outcome recorded on an audit entry.
type AuditResult string

const (
	AuditResultGranted AuditResult = "granted"
	AuditResultDenied  AuditResult = "denied"
)

// AuditSeverity grades how alarming an audited event is.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditEntry is one row of the append-only access log. Entries are never
// updated or deleted by normal code paths; retention is governed by policy,
// not by user action.
type AuditEntry struct {
	ID           string
	PrincipalID  string
	Action       string
	ResourceType string
	ResourceID   string
	ScopeID      string
	Result       AuditResult
	Reason       string
	Detail       string
	SessionID    string
	Origin       string
	Severity     AuditSeverity
	Timestamp    time.Time
}
