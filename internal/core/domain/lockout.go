package domain

import "time"

// LockoutState tracks consecutive authorization failures for a principal.
// Written with compare-and-swap so two concurrent failures cannot both miss
// the threshold.
type LockoutState struct {
	PrincipalID    string
	FailedAttempts int
	LockedAt       *time.Time
	LockReason     *string
	UpdatedAt      time.Time
	Version        int64
}

// Locked reports whether the lockout is still in force at the supplied moment.
func (l LockoutState) Locked(at time.Time, duration time.Duration) bool {
	if l.LockedAt == nil {
		return false
	}
	return at.Before(l.LockedAt.Add(duration))
}

// RecordFailure increments the counter and arms the lock once the threshold is
// crossed. Returns true when this failure triggered the lock.
func (l *LockoutState) RecordFailure(at time.Time, threshold int, reason string) bool {
	l.FailedAttempts++
	l.UpdatedAt = at
	if l.LockedAt == nil && l.FailedAttempts >= threshold {
		l.LockedAt = &at
		l.LockReason = &reason
		return true
	}
	return false
}

// Reset clears the counter and any expired lock. Called on successful
// authorized access and on auto-unlock.
func (l *LockoutState) Reset(at time.Time) {
	l.FailedAttempts = 0
	l.LockedAt = nil
	l.LockReason = nil
	l.UpdatedAt = at
}
