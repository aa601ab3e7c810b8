package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

// RetentionSweeper runs the periodic hygiene pass: deactivating stale grants
// that lazy reads have not touched yet and executing due deletion requests.
// Correctness never depends on the sweep; the read-side checks are
// authoritative.
type RetentionSweeper struct {
	grants   port.GrantRepository
	consents port.ConsentRepository
	audit    *AuditService
	logger   *zap.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewRetentionSweeper constructs a RetentionSweeper.
func NewRetentionSweeper(grants port.GrantRepository, consents port.ConsentRepository, audit *AuditService, interval time.Duration, logger *zap.Logger) *RetentionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		grants:   grants,
		consents: consents,
		audit:    audit,
		logger:   logger,
		interval: interval,
		batch:    200,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *RetentionSweeper) WithClock(clock func() time.Time) *RetentionSweeper {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Run blocks until the context is cancelled, sweeping on the configured
// interval.
func (s *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one hygiene pass.
func (s *RetentionSweeper) Sweep(ctx context.Context) {
	now := s.now()
	s.sweepGrants(ctx, now)
	s.sweepDeletions(ctx, now)
}

func (s *RetentionSweeper) sweepGrants(ctx context.Context, now time.Time) {
	if s.grants == nil {
		return
	}
	stale, err := s.grants.ListStaleActive(ctx, now, s.batch)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("list stale grants failed", zap.Error(err))
		}
		return
	}
	for _, grant := range stale {
		reason := "expired"
		if grant.Exhausted() {
			reason = "exhausted"
		}
		if err := s.grants.Deactivate(ctx, grant.ID, reason); err != nil {
			s.logger.Warn("sweep grant deactivation failed", zap.String("grant_id", grant.ID), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		s.logger.Info("stale grants swept", zap.Int("count", len(stale)))
	}
}

func (s *RetentionSweeper) sweepDeletions(ctx context.Context, now time.Time) {
	if s.consents == nil {
		return
	}
	due, err := s.consents.ListDueDeletionRequests(ctx, now)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("list due deletion requests failed", zap.Error(err))
		}
		return
	}

	for _, request := range due {
		if err := s.consents.MarkDeletionStatus(ctx, request.ID, domain.DeletionStatusPurged, request.Version); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			s.logger.Warn("mark deletion purged failed", zap.String("request_id", request.ID), zap.Error(err))
			continue
		}

		if s.audit != nil {
			s.audit.Record(ctx, domain.AuditEntry{
				PrincipalID:  request.PrincipalID,
				Action:       "execute_purge",
				ResourceType: string(domain.ResourceChildData),
				ResourceID:   request.Scope,
				Result:       domain.AuditResultGranted,
				Detail:       "scheduled retention purge executed",
				Severity:     domain.AuditSeverityWarning,
			})
		}
	}
}
