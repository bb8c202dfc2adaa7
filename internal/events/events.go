// Package events publishes intake outcomes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/metrics"
)

// TypeIntakeProcessed is emitted for each finalized webhook delivery.
const TypeIntakeProcessed = "intake.processed"

// Event describes what the pipeline did with one delivery.
type Event struct {
	Type         string    `json:"type"`
	CallID       string    `json:"call_id"`
	EventType    string    `json:"event_type,omitempty"`
	Scenario     string    `json:"scenario,omitempty"`
	HomeownerID  string    `json:"homeowner_id,omitempty"`
	Similarity   float64   `json:"similarity,omitempty"`
	ClaimID      string    `json:"claim_id,omitempty"`
	ClaimNumber  int       `json:"claim_number,omitempty"`
	ClaimCreated bool      `json:"claim_created"`
	Urgent       bool      `json:"urgent"`
	Notified     bool      `json:"notified"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by call id, so all
// deliveries for one call land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, eris.New("events: at least one broker is required")
	}
	if topic == "" {
		return nil, eris.New("events: topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, topic: topic}, nil
}

// Publish serializes the event and writes it synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.Type == "" {
		e.Type = TypeIntakeProcessed
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		metrics.RecordEventPublish(p.topic, "error")
		return eris.Wrap(err, "events: marshal event")
	}

	msg := kafka.Message{
		Key:   []byte(e.CallID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordEventPublish(p.topic, "error")
		return eris.Wrapf(err, "events: publish %s for call %s", e.Type, e.CallID)
	}

	metrics.RecordEventPublish(p.topic, "ok")
	zap.L().Debug("events: published",
		zap.String("topic", p.topic),
		zap.String("call_id", e.CallID),
		zap.String("type", e.Type),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return eris.Wrap(p.writer.Close(), "events: close writer")
}
