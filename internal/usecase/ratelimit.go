package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

// LimiterConfig tunes the failed-attempt budgets and the lockout policy.
type LimiterConfig struct {
	Window           time.Duration
	PrincipalBudget  int
	OriginBudget     int
	LockoutThreshold int
	LockoutDuration  time.Duration
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.PrincipalBudget <= 0 {
		c.PrincipalBudget = 20
	}
	if c.OriginBudget <= 0 {
		c.OriginBudget = 50
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 30 * time.Minute
	}
	return c
}

// AccessLimiter enforces the trailing-window failed-attempt budgets and the
// consecutive-failure lockout. The window counters are derived from denied
// audit entries rather than a separate counter store, trading a store read
// for simplicity.
type AccessLimiter struct {
	attempts     port.AuditQuery
	lockouts     port.LockoutRepository
	incidents    port.IncidentReporter
	events       port.SecurityEventPublisher
	metrics      *EngineMetrics
	logger       *zap.Logger
	cfg          LimiterConfig
	perPrincipal *keyedMutex
	now          func() time.Time
}

// NewAccessLimiter constructs an AccessLimiter.
func NewAccessLimiter(attempts port.AuditQuery, lockouts port.LockoutRepository, incidents port.IncidentReporter, events port.SecurityEventPublisher, cfg LimiterConfig, logger *zap.Logger) *AccessLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessLimiter{
		attempts:     attempts,
		lockouts:     lockouts,
		incidents:    incidents,
		events:       events,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		perPrincipal: newKeyedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (l *AccessLimiter) WithClock(clock func() time.Time) *AccessLimiter {
	if clock != nil {
		l.now = clock
	}
	return l
}

// WithMetrics attaches decision metrics.
func (l *AccessLimiter) WithMetrics(metrics *EngineMetrics) *AccessLimiter {
	l.metrics = metrics
	return l
}

// AllowRate checks the trailing-window denied-attempt budgets for the
// principal and the origin. Returns false with the exhausted dimension when a
// budget is blown.
func (l *AccessLimiter) AllowRate(ctx context.Context, principalID, origin string) (bool, string, error) {
	if l.attempts == nil {
		return false, "", fmt.Errorf("audit query not configured")
	}

	since := l.now().Add(-l.cfg.Window)

	count, err := l.attempts.CountDeniedByPrincipal(ctx, principalID, since)
	if err != nil {
		return false, "", fmt.Errorf("count denied by principal: %w", err)
	}
	if count >= l.cfg.PrincipalBudget {
		return false, "principal", nil
	}

	if origin = strings.TrimSpace(origin); origin != "" {
		count, err = l.attempts.CountDeniedByOrigin(ctx, origin, since)
		if err != nil {
			return false, "", fmt.Errorf("count denied by origin: %w", err)
		}
		if count >= l.cfg.OriginBudget {
			return false, "origin", nil
		}
	}

	return true, "", nil
}

// CheckLockout reports whether the principal is currently locked out,
// auto-clearing a lockout whose window has elapsed.
func (l *AccessLimiter) CheckLockout(ctx context.Context, principalID string) (bool, error) {
	if l.lockouts == nil {
		return false, fmt.Errorf("lockout repository not configured")
	}

	state, err := l.lockouts.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get lockout state: %w", err)
	}

	now := l.now()
	if state.Locked(now, l.cfg.LockoutDuration) {
		return true, nil
	}

	// Lockout window elapsed: clear it so the failure counter starts fresh.
	if state.LockedAt != nil {
		cleared := *state
		cleared.Reset(now)
		if err := l.lockouts.Save(ctx, cleared, state.Version); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
			l.logger.Warn("auto-unlock save failed", zap.String("principal_id", principalID), zap.Error(err))
		}
	}

	return false, nil
}

// RegisterFailure counts one failed authorization attempt, arming the lockout
// once the consecutive-failure threshold is crossed. Serialized per principal
// and written with compare-and-swap so two concurrent failures cannot both
// miss the threshold.
func (l *AccessLimiter) RegisterFailure(ctx context.Context, principalID, reason string) {
	if l.lockouts == nil || strings.TrimSpace(principalID) == "" {
		return
	}

	unlock := l.perPrincipal.Lock(principalID)
	defer unlock()

	for attempt := 0; attempt < 3; attempt++ {
		state, err := l.lockouts.Get(ctx, principalID)
		expected := int64(0)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				l.logger.Error("get lockout state failed", zap.String("principal_id", principalID), zap.Error(err))
				return
			}
			state = &domain.LockoutState{PrincipalID: principalID}
		} else {
			expected = state.Version
		}

		now := l.now()
		triggered := state.RecordFailure(now, l.cfg.LockoutThreshold, reason)

		if err := l.lockouts.Save(ctx, *state, expected); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			l.logger.Error("save lockout state failed", zap.String("principal_id", principalID), zap.Error(err))
			return
		}

		if triggered {
			l.onLockout(ctx, principalID, state.FailedAttempts, now, reason)
		}
		return
	}

	l.logger.Warn("lockout save retries exhausted", zap.String("principal_id", principalID))
}

// ResetFailures clears the failure counter after a successful authorized
// access.
func (l *AccessLimiter) ResetFailures(ctx context.Context, principalID string) {
	if l.lockouts == nil || strings.TrimSpace(principalID) == "" {
		return
	}

	unlock := l.perPrincipal.Lock(principalID)
	defer unlock()

	state, err := l.lockouts.Get(ctx, principalID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			l.logger.Warn("get lockout state failed", zap.String("principal_id", principalID), zap.Error(err))
		}
		return
	}
	if state.FailedAttempts == 0 && state.LockedAt == nil {
		return
	}

	cleared := *state
	cleared.Reset(l.now())
	if err := l.lockouts.Save(ctx, cleared, state.Version); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
		l.logger.Warn("reset lockout state failed", zap.String("principal_id", principalID), zap.Error(err))
	}
}

// onLockout raises the breach-style notification once the threshold is
// crossed.
func (l *AccessLimiter) onLockout(ctx context.Context, principalID string, failures int, at time.Time, reason string) {
	if l.metrics != nil {
		l.metrics.Lockouts.Inc()
	}

	if l.events != nil {
		event := domain.LockoutTriggeredEvent{
			EventID:        uuid.NewString(),
			PrincipalID:    principalID,
			FailedAttempts: failures,
			LockedAt:       at,
			Reason:         reason,
		}
		if err := l.events.PublishLockoutTriggered(ctx, event); err != nil {
			l.logger.Warn("publish lockout event failed", zap.Error(err))
		}
	}

	if l.incidents != nil {
		description := fmt.Sprintf("account locked after %d consecutive failed authorization attempts", failures)
		if err := l.incidents.ReportIncident(ctx, principalID, description, port.IncidentSeverityHigh); err != nil {
			l.logger.Warn("report lockout incident failed", zap.Error(err))
		}
	}
}
