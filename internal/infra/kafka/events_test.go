package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 4),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()

	asyncProducer := newFakeAsyncProducer()
	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg: config.KafkaSettings{
			TopicPrefix: "medrec",
		},
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "medrecord-access",
		Env:  "test",
	}, zaptest.NewLogger(t))

	return publisher, asyncProducer
}

func TestPublishSessionInvalidated(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	invalidatedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	event := domain.SessionInvalidatedEvent{
		EventID:       "event-123",
		SessionID:     "session-456",
		PrincipalID:   "principal-789",
		Reason:        "hijack_suspected",
		InvalidatedAt: invalidatedAt,
	}

	if err := publisher.PublishSessionInvalidated(context.Background(), event); err != nil {
		t.Fatalf("PublishSessionInvalidated returned error: %v", err)
	}

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != "medrec.access.session.invalidated" {
			t.Fatalf("unexpected topic %q", msg.Topic)
		}

		raw, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("encode message value: %v", err)
		}

		var envelope struct {
			EventID     string          `json:"event_id"`
			EventType   string          `json:"event_type"`
			PrincipalID string          `json:"principal_id"`
			Version     string          `json:"version"`
			Payload     json.RawMessage `json:"payload"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}

		if envelope.EventID != "event-123" {
			t.Errorf("event id = %q, want event-123", envelope.EventID)
		}
		if envelope.EventType != "access.session.invalidated" {
			t.Errorf("event type = %q", envelope.EventType)
		}
		if envelope.PrincipalID != "principal-789" {
			t.Errorf("principal id = %q", envelope.PrincipalID)
		}
		if envelope.Version != schemaVersion {
			t.Errorf("schema version = %q", envelope.Version)
		}
		if envelope.Metadata["service"] != "medrecord-access" {
			t.Errorf("metadata service = %q", envelope.Metadata["service"])
		}

		var payload struct {
			SessionID string `json:"session_id"`
			Reason    string `json:"reason"`
		}
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.SessionID != "session-456" {
			t.Errorf("payload session id = %q", payload.SessionID)
		}
		if payload.Reason != "hijack_suspected" {
			t.Errorf("payload reason = %q", payload.Reason)
		}
	default:
		t.Fatal("no message produced")
	}
}

func TestPublishLockoutTriggeredTopic(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	event := domain.LockoutTriggeredEvent{
		PrincipalID:    "principal-1",
		FailedAttempts: 5,
		LockedAt:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	if err := publisher.PublishLockoutTriggered(context.Background(), event); err != nil {
		t.Fatalf("PublishLockoutTriggered returned error: %v", err)
	}

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != "medrec.access.lockout.triggered" {
			t.Fatalf("unexpected topic %q", msg.Topic)
		}
	default:
		t.Fatal("no message produced")
	}
}

func TestIncidentReporterThrottles(t *testing.T) {
	asyncProducer := newFakeAsyncProducer()
	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg:      config.KafkaSettings{TopicPrefix: "medrec"},
		errChan:  make(chan error, 1),
		done:     make(chan struct{}),
	}

	reporter := NewIncidentReporter(producer, 0.0001, 2, zaptest.NewLogger(t))

	for i := 0; i < 4; i++ {
		if err := reporter.ReportIncident(context.Background(), "principal-1", "lockout triggered", port.IncidentSeverityHigh); err != nil {
			t.Fatalf("ReportIncident returned error: %v", err)
		}
	}

	published := len(asyncProducer.input)
	if published != 2 {
		t.Fatalf("published %d incidents, want 2 (burst cap)", published)
	}
}
