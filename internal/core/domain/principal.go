package domain

// Principal is an authenticated identity supplied by the external identity
// provider. The engine trusts the id but never any client-asserted role; all
// permissions are re-derived from stored grants.
type Principal struct {
	ID          string
	DisplayName string
	Email       string
}

// ChildRecord is the ownership envelope of a child's medical record. The
// medical data model itself lives in the surrounding application; the engine
// only needs the owner linkage.
type ChildRecord struct {
	ID        string
	OwnerID   string
	Version   int64
	DeletedAt *string
}

// IsOwnedBy reports whether the principal owns the record.
func (c ChildRecord) IsOwnedBy(principalID string) bool {
	return principalID != "" && c.OwnerID == principalID
}
