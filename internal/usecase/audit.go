package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
)

// AuditService dispatches entries to the append-only audit sink. Append
// failures never abort the decision being logged: they are logged, counted,
// and surfaced through the health signal instead.
type AuditService struct {
	sink    port.AuditSink
	logger  *zap.Logger
	metrics *EngineMetrics
	timeout time.Duration
	now     func() time.Time

	healthMu      sync.Mutex
	lastFailure   error
	lastFailureAt time.Time
	appendsOK     uint64
}

// NewAuditService constructs an AuditService.
func NewAuditService(sink port.AuditSink, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		sink:    sink,
		logger:  logger,
		timeout: 3 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuditService) WithClock(clock func() time.Time) *AuditService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithMetrics attaches decision metrics so append failures are counted.
func (s *AuditService) WithMetrics(metrics *EngineMetrics) *AuditService {
	s.metrics = metrics
	return s
}

// WithTimeout bounds the sink append call.
func (s *AuditService) WithTimeout(timeout time.Duration) *AuditService {
	if timeout > 0 {
		s.timeout = timeout
	}
	return s
}

// Record appends the entry, filling in id and timestamp when absent. It never
// returns an error: the caller's decision must not depend on logging success.
func (s *AuditService) Record(ctx context.Context, entry domain.AuditEntry) {
	if s.sink == nil {
		s.noteFailure(errSinkNotConfigured)
		return
	}

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Severity == "" {
		entry.Severity = domain.AuditSeverityInfo
	}

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.sink.Append(appendCtx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String("principal_id", entry.PrincipalID),
			zap.String("action", entry.Action),
			zap.String("result", string(entry.Result)),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.AuditFailures.Inc()
		}
		s.noteFailure(err)
		return
	}

	s.noteSuccess()
}

// Healthy reports whether the most recent append succeeded. Exposed on the
// health endpoint so swallowed logging failures are still visible.
func (s *AuditService) Healthy() (bool, string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if s.lastFailure == nil {
		return true, ""
	}
	return false, s.lastFailure.Error()
}

func (s *AuditService) noteFailure(err error) {
	s.healthMu.Lock()
	s.lastFailure = err
	s.lastFailureAt = s.now()
	s.healthMu.Unlock()
}

func (s *AuditService) noteSuccess() {
	s.healthMu.Lock()
	s.lastFailure = nil
	s.appendsOK++
	s.healthMu.Unlock()
}

var errSinkNotConfigured = errors.New("audit sink not configured")
