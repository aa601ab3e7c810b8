package domain

import "time"

// ConsentType names a consent flag tracked per principal.
type ConsentType string

const (
	// ConsentResearchSharing gates the share_research permission: revoking it
	// strips that permission at the next resolution.
	ConsentResearchSharing ConsentType = "research_sharing"
	// ConsentProviderAccess gates standing provider grants.
	ConsentProviderAccess ConsentType = "provider_access"
	// ConsentDataRetention acknowledges the retention policy.
	ConsentDataRetention ConsentType = "data_retention"
)

// ConsentRecord is one consent flag for a principal.
type ConsentRecord struct {
	PrincipalID string
	Type        ConsentType
	Granted     bool
	UpdatedAt   time.Time
	Version     int64
}

// DeletionStatus tracks a deletion request through its lifecycle.
type DeletionStatus string

const (
	DeletionStatusPending   DeletionStatus = "pending"
	DeletionStatusPurged    DeletionStatus = "purged"
	DeletionStatusCancelled DeletionStatus = "cancelled"
)

// DeletionRequest is a scheduled-purge marker. The purge runs after the grace
// period elapses; until then the request can be cancelled.
type DeletionRequest struct {
	ID          string
	PrincipalID string
	Scope       string
	RequestedAt time.Time
	PurgeAfter  time.Time
	Status      DeletionStatus
	Version     int64
}

// Due reports whether the purge grace period has elapsed.
func (d DeletionRequest) Due(at time.Time) bool {
	return d.Status == DeletionStatusPending && !d.PurgeAfter.After(at)
}
