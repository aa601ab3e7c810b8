package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

func TestAuditRecordFillsDefaults(t *testing.T) {
	clock := newFakeClock(time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC))
	log := newMemAuditLog()
	svc := NewAuditService(log, zap.NewNop()).WithClock(clock.Now)

	svc.Record(context.Background(), domain.AuditEntry{
		PrincipalID: "parent-1",
		Action:      "read",
		Result:      domain.AuditResultGranted,
	})

	entry := log.last()
	if entry == nil {
		t.Fatal("no entry appended")
	}
	if entry.ID == "" {
		t.Fatal("entry id not filled")
	}
	if !entry.Timestamp.Equal(clock.Now()) {
		t.Fatalf("timestamp = %v, want %v", entry.Timestamp, clock.Now())
	}
	if entry.Severity != domain.AuditSeverityInfo {
		t.Fatalf("severity = %s, want info default", entry.Severity)
	}
}

func TestAuditRecordPreservesExplicitFields(t *testing.T) {
	log := newMemAuditLog()
	svc := NewAuditService(log, zap.NewNop())

	at := time.Date(2026, time.February, 1, 8, 0, 0, 0, time.UTC)
	svc.Record(context.Background(), domain.AuditEntry{
		ID:        "fixed-id",
		Timestamp: at,
		Severity:  domain.AuditSeverityCritical,
		Result:    domain.AuditResultDenied,
	})

	entry := log.last()
	if entry.ID != "fixed-id" || !entry.Timestamp.Equal(at) || entry.Severity != domain.AuditSeverityCritical {
		t.Fatalf("entry = %+v, want explicit fields preserved", entry)
	}
}

func TestAuditHealthTracksSinkFailures(t *testing.T) {
	log := newMemAuditLog()
	svc := NewAuditService(log, zap.NewNop())

	svc.Record(context.Background(), domain.AuditEntry{Result: domain.AuditResultGranted})
	if healthy, _ := svc.Healthy(); !healthy {
		t.Fatal("healthy sink reported unhealthy")
	}

	log.fail = errors.New("sink down")
	svc.Record(context.Background(), domain.AuditEntry{Result: domain.AuditResultGranted})
	healthy, detail := svc.Healthy()
	if healthy {
		t.Fatal("failed append not reflected in health")
	}
	if detail != "sink down" {
		t.Fatalf("detail = %q, want sink down", detail)
	}

	log.fail = nil
	svc.Record(context.Background(), domain.AuditEntry{Result: domain.AuditResultGranted})
	if healthy, _ := svc.Healthy(); !healthy {
		t.Fatal("recovered sink still reported unhealthy")
	}
}

func TestAuditWithoutSinkIsUnhealthy(t *testing.T) {
	svc := NewAuditService(nil, zap.NewNop())
	svc.Record(context.Background(), domain.AuditEntry{})
	if healthy, _ := svc.Healthy(); healthy {
		t.Fatal("missing sink reported healthy")
	}
}
