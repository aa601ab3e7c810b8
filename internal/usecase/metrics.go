package usecase

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exposes Prometheus collectors for authorization decisions and
// audit health.
type EngineMetrics struct {
	Decisions     *prometheus.CounterVec
	AuditFailures prometheus.Counter
	Lockouts      prometheus.Counter
	HijackSignals prometheus.Counter
}

// NewEngineMetrics constructs the collectors and registers them with the
// provided registerer (defaulting to the global one).
func NewEngineMetrics(reg prometheus.Registerer) (*EngineMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medrecord",
		Subsystem: "authz",
		Name:      "decisions_total",
		Help:      "Authorization decisions partitioned by result and reason.",
	}, []string{"result", "reason"})
	if err := registerCounterVec(reg, &decisions); err != nil {
		return nil, err
	}

	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "medrecord",
		Subsystem: "authz",
		Name:      "audit_append_failures_total",
		Help:      "Audit sink append failures. The decision still stands; this is the health signal.",
	})
	if err := registerCounter(reg, &auditFailures); err != nil {
		return nil, err
	}

	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "medrecord",
		Subsystem: "authz",
		Name:      "lockouts_total",
		Help:      "Principals that crossed the consecutive-failure lockout threshold.",
	})
	if err := registerCounter(reg, &lockouts); err != nil {
		return nil, err
	}

	hijacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "medrecord",
		Subsystem: "authz",
		Name:      "hijack_signals_total",
		Help:      "Session validations that tripped a hijack heuristic.",
	})
	if err := registerCounter(reg, &hijacks); err != nil {
		return nil, err
	}

	return &EngineMetrics{
		Decisions:     decisions,
		AuditFailures: auditFailures,
		Lockouts:      lockouts,
		HijackSignals: hijacks,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, vec **prometheus.CounterVec) error {
	if err := reg.Register(*vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		*vec = existing
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, counter *prometheus.Counter) error {
	if err := reg.Register(*counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		*counter = existing
	}
	return nil
}
