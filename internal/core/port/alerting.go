package port

import "context"

// IncidentSeverity grades a reported security incident.
type IncidentSeverity string

const (
	IncidentSeverityWarning  IncidentSeverity = "warning"
	IncidentSeverityHigh     IncidentSeverity = "high"
	IncidentSeverityCritical IncidentSeverity = "critical"
)

// IncidentReporter notifies the alerting collaborator about lockouts,
// multi-session invalidation, and hijack detections. Delivery mechanism is
// out of scope for the engine.
type IncidentReporter interface {
	ReportIncident(ctx context.Context, principalID, description string, severity IncidentSeverity) error
}
