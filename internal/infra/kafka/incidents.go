package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voice4victims/medrecord-access/internal/core/port"
)

// IncidentReporter publishes security incidents to Kafka. A token bucket caps
// the publish rate so a burst of hijack signals or lockouts cannot flood the
// alerting topic; throttled incidents are still logged.
type IncidentReporter struct {
	producer *Producer
	logger   *zap.Logger
	limiter  *rate.Limiter
}

// NewIncidentReporter constructs an IncidentReporter. perMinute and burst
// bound the publish rate; zero values fall back to 6/min with a burst of 10.
func NewIncidentReporter(producer *Producer, perMinute float64, burst int, logger *zap.Logger) *IncidentReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perMinute <= 0 {
		perMinute = 6
	}
	if burst <= 0 {
		burst = 10
	}
	return &IncidentReporter{
		producer: producer,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(perMinute/60), burst),
	}
}

type incidentPayload struct {
	IncidentID  string    `json:"incident_id"`
	PrincipalID string    `json:"principal_id"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	ReportedAt  time.Time `json:"reported_at"`
}

// ReportIncident publishes an incident unless the rate cap is exceeded.
func (r *IncidentReporter) ReportIncident(ctx context.Context, principalID, description string, severity port.IncidentSeverity) error {
	if !r.limiter.Allow() {
		r.logger.Warn("incident publish throttled",
			zap.String("principal_id", principalID),
			zap.String("severity", string(severity)),
			zap.String("description", description),
		)
		return nil
	}

	payload := incidentPayload{
		IncidentID:  uuid.NewString(),
		PrincipalID: principalID,
		Description: description,
		Severity:    string(severity),
		ReportedAt:  time.Now().UTC(),
	}

	bytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: r.producer.TopicName("access.security.incident"),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case r.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.IncidentReporter = (*IncidentReporter)(nil)

// LogIncidentReporter records incidents in the service log only. Used when
// Kafka is disabled.
type LogIncidentReporter struct {
	logger *zap.Logger
}

// NewLogIncidentReporter constructs a log-only incident reporter.
func NewLogIncidentReporter(logger *zap.Logger) *LogIncidentReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogIncidentReporter{logger: logger}
}

// ReportIncident logs the incident.
func (r *LogIncidentReporter) ReportIncident(_ context.Context, principalID, description string, severity port.IncidentSeverity) error {
	r.logger.Warn("security incident",
		zap.String("principal_id", principalID),
		zap.String("severity", string(severity)),
		zap.String("description", description),
	)
	return nil
}

var _ port.IncidentReporter = (*LogIncidentReporter)(nil)
