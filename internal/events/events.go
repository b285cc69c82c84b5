// Package events publishes challenge lifecycle events to Kafka so other
// services can follow a challenge without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/model"
)

// TopicChallengeEvents is the default topic for lifecycle events.
const TopicChallengeEvents = "challenge_events"

// Type names an event.
type Type string

const (
	ChallengeStarted  Type = "challenge_started"
	StepAppended      Type = "step_appended"
	ChallengeFinished Type = "challenge_finished"
)

// Event is the JSON payload of every message. Step is set only for
// step_appended.
type Event struct {
	Type         Type              `json:"type"`
	ChallengeID  string            `json:"challenge_id"`
	Date         string            `json:"date"`
	FinalResult  model.FinalResult `json:"final_result"`
	TotalProfit  decimal.Decimal   `json:"total_profit"`
	CurrentTotal decimal.Decimal   `json:"current_total"`
	Step         *model.Step       `json:"step,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// NewEvent snapshots c into an event of type t.
func NewEvent(t Type, c model.Challenge) Event {
	e := Event{
		Type:         t,
		ChallengeID:  c.ID,
		Date:         c.Date,
		FinalResult:  c.FinalResult,
		TotalProfit:  c.TotalProfit,
		CurrentTotal: c.CurrentTotal(),
		OccurredAt:   c.UpdatedAt,
	}
	if t == StepAppended && len(c.Steps) > 0 {
		last := c.Steps[len(c.Steps)-1]
		e.Step = &last
	}
	return e
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// KafkaPublisher writes events as JSON messages keyed by challenge id, so
// all events of one challenge land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewKafkaPublisher creates a publisher for topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not provided")
	}
	if topic == "" {
		topic = TopicChallengeEvents
	}
	if log == nil {
		log = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}
	return &KafkaPublisher{writer: writer, log: log}, nil
}

// Publish serializes e and writes it to the configured topic.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(e.ChallengeID),
		Value: value,
		Time:  e.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}

	p.log.Debug("event published", "type", e.Type, "challenge", e.ChallengeID)
	return nil
}

// Close flushes pending messages and releases the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
