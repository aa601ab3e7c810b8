package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
)

type limiterFixture struct {
	clock     *fakeClock
	audit     *memAuditLog
	lockouts  *memLockoutRepo
	incidents *capturingIncidents
	events    *capturingEvents
	limiter   *AccessLimiter
}

func newLimiterFixture(t *testing.T) *limiterFixture {
	t.Helper()

	f := &limiterFixture{
		clock:     newFakeClock(time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)),
		audit:     newMemAuditLog(),
		lockouts:  newMemLockoutRepo(),
		incidents: &capturingIncidents{},
		events:    &capturingEvents{},
	}
	f.limiter = NewAccessLimiter(f.audit, f.lockouts, f.incidents, f.events, LimiterConfig{
		Window:           time.Hour,
		PrincipalBudget:  3,
		OriginBudget:     5,
		LockoutThreshold: 3,
		LockoutDuration:  30 * time.Minute,
	}, zap.NewNop()).WithClock(f.clock.Now)
	return f
}

func (f *limiterFixture) seedDenied(t *testing.T, principalID, origin string, at time.Time, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		if err := f.audit.Append(context.Background(), domain.AuditEntry{
			PrincipalID: principalID,
			Origin:      origin,
			Result:      domain.AuditResultDenied,
			Timestamp:   at,
		}); err != nil {
			t.Fatalf("seed denied entry: %v", err)
		}
	}
}

func TestAllowRatePrincipalBudget(t *testing.T) {
	f := newLimiterFixture(t)
	f.seedDenied(t, "parent-1", "", f.clock.Now(), 3)

	allowed, dimension, err := f.limiter.AllowRate(context.Background(), "parent-1", "")
	if err != nil {
		t.Fatalf("allow rate: %v", err)
	}
	if allowed || dimension != "principal" {
		t.Fatalf("allowed=%v dimension=%q, want blocked on principal", allowed, dimension)
	}
}

func TestAllowRateOriginBudget(t *testing.T) {
	f := newLimiterFixture(t)
	// Five different principals failing from one address blow the origin
	// budget without any principal reaching its own.
	for _, principal := range []string{"a", "b", "c", "d", "e"} {
		f.seedDenied(t, principal, testOrigin, f.clock.Now(), 1)
	}

	allowed, dimension, err := f.limiter.AllowRate(context.Background(), "fresh-principal", testOrigin)
	if err != nil {
		t.Fatalf("allow rate: %v", err)
	}
	if allowed || dimension != "origin" {
		t.Fatalf("allowed=%v dimension=%q, want blocked on origin", allowed, dimension)
	}
}

func TestAllowRateIgnoresEntriesOutsideWindow(t *testing.T) {
	f := newLimiterFixture(t)
	stale := f.clock.Now().Add(-2 * time.Hour)
	f.seedDenied(t, "parent-1", testOrigin, stale, 10)

	allowed, _, err := f.limiter.AllowRate(context.Background(), "parent-1", testOrigin)
	if err != nil {
		t.Fatalf("allow rate: %v", err)
	}
	if !allowed {
		t.Fatal("entries outside the trailing window counted against the budget")
	}
}

func TestRegisterFailureArmsLockout(t *testing.T) {
	f := newLimiterFixture(t)

	for i := 0; i < 3; i++ {
		f.limiter.RegisterFailure(context.Background(), "parent-1", "ownership_denied")
	}

	locked, err := f.limiter.CheckLockout(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("check lockout: %v", err)
	}
	if !locked {
		t.Fatal("threshold crossed but principal not locked")
	}

	if len(f.events.lockouts) != 1 {
		t.Fatalf("lockout events = %d, want 1", len(f.events.lockouts))
	}
	if f.events.lockouts[0].FailedAttempts != 3 {
		t.Fatalf("event failed attempts = %d, want 3", f.events.lockouts[0].FailedAttempts)
	}
	incidents := f.incidents.all()
	if len(incidents) != 1 || incidents[0].Severity != port.IncidentSeverityHigh {
		t.Fatalf("incidents = %+v, want one high-severity", incidents)
	}
}

func TestRegisterFailureBelowThresholdDoesNotLock(t *testing.T) {
	f := newLimiterFixture(t)

	f.limiter.RegisterFailure(context.Background(), "parent-1", "ownership_denied")
	f.limiter.RegisterFailure(context.Background(), "parent-1", "ownership_denied")

	locked, err := f.limiter.CheckLockout(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("check lockout: %v", err)
	}
	if locked {
		t.Fatal("locked below the threshold")
	}
	if len(f.events.lockouts) != 0 {
		t.Fatalf("lockout events = %d, want 0", len(f.events.lockouts))
	}
}

func TestCheckLockoutAutoClears(t *testing.T) {
	f := newLimiterFixture(t)

	for i := 0; i < 3; i++ {
		f.limiter.RegisterFailure(context.Background(), "parent-1", "ownership_denied")
	}

	f.clock.Advance(31 * time.Minute)

	locked, err := f.limiter.CheckLockout(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("check lockout: %v", err)
	}
	if locked {
		t.Fatal("lockout still in force after its window elapsed")
	}

	state, err := f.lockouts.Get(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.FailedAttempts != 0 || state.LockedAt != nil {
		t.Fatalf("state = %+v, want reset after auto-unlock", state)
	}
}

func TestResetFailuresClearsCounter(t *testing.T) {
	f := newLimiterFixture(t)

	f.limiter.RegisterFailure(context.Background(), "parent-1", "permission_denied")
	f.limiter.RegisterFailure(context.Background(), "parent-1", "permission_denied")
	f.limiter.ResetFailures(context.Background(), "parent-1")

	state, err := f.lockouts.Get(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.FailedAttempts != 0 {
		t.Fatalf("failed attempts = %d, want 0", state.FailedAttempts)
	}
}

func TestRegisterFailureConcurrent(t *testing.T) {
	f := newLimiterFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.limiter.RegisterFailure(context.Background(), "parent-1", "ownership_denied")
		}()
	}
	wg.Wait()

	state, err := f.lockouts.Get(context.Background(), "parent-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.FailedAttempts != 5 {
		t.Fatalf("failed attempts = %d, want 5 (no lost updates)", state.FailedAttempts)
	}
	if state.LockedAt == nil {
		t.Fatal("threshold crossed concurrently but lock never armed")
	}
	if len(f.events.lockouts) != 1 {
		t.Fatalf("lockout events = %d, want exactly 1", len(f.events.lockouts))
	}
}
