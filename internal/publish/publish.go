// Package publish announces terminal analyses to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// DefaultTopic receives analysis events when no topic is configured.
const DefaultTopic = "fallacy-analyses"

// Publisher is notified after a request reaches a terminal state.
type Publisher interface {
	Publish(ctx context.Context, r *model.AnalysisRequest) error
	Close() error
}

// Event is the message body written for every terminal analysis.
type Event struct {
	Type     string                 `json:"type"`
	Analysis *model.AnalysisRequest `json:"analysis"`
}

// EventType returns "analysis.completed" or "analysis.failed".
func EventType(s model.State) string {
	return "analysis." + string(s)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *model.AnalysisRequest) error { return nil }
func (Nop) Close() error                                          { return nil }

// messageWriter is the subset of *kafka.Writer used by Kafka.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes one message per analysis, keyed by request id so every event
// for a request lands on the same partition.
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka creates a publisher for the given brokers and topic.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	clean := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(clean...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &Kafka{writer: w, topic: topic}, nil
}

// Topic returns the destination topic.
func (k *Kafka) Topic() string {
	return k.topic
}

func (k *Kafka) Publish(ctx context.Context, r *model.AnalysisRequest) error {
	if !r.State.Terminal() {
		return fmt.Errorf("request %s is %s, not terminal", r.ID, r.State)
	}
	body, err := json.Marshal(Event{Type: EventType(r.State), Analysis: r})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.ID),
		Value: body,
		Time:  r.UpdatedAt,
		Headers: []kafka.Header{
			{Key: "state", Value: []byte(r.State)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
