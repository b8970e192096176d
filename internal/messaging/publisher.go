// Package messaging publishes desk domain events.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Topic is a kafka topic name without the configured prefix.
type Topic string

const (
	TopicDeals       Topic = "otc.deals"
	TopicSettlements Topic = "otc.settlements"
	TopicCustody     Topic = "otc.custody"
)

// Event is the envelope written to every topic.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent wraps payload in an envelope.
func NewEvent(eventType string, payload any) Event {
	return Event{ID: uuid.NewString(), Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}
}

// Publisher writes events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, key string, event Event) error
	Close() error
}

// Emitter publishes on behalf of services. Publication is best effort:
// failures are logged and never surface to the caller.
type Emitter struct {
	pub    Publisher
	logger *zap.Logger
}

func NewEmitter(pub Publisher, logger *zap.Logger) *Emitter {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Emitter{pub: pub, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, topic Topic, key, eventType string, payload any) {
	if e == nil {
		return
	}
	if err := e.pub.Publish(ctx, topic, key, NewEvent(eventType, payload)); err != nil {
		e.logger.Warn("failed to publish event",
			zap.String("topic", string(topic)),
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err))
	}
}

// KafkaPublisher writes JSON events with segmentio/kafka-go.
type KafkaPublisher struct {
	writer *kafka.Writer
	prefix string
}

func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
		},
		prefix: topicPrefix,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic Topic, key string, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.prefix + string(topic),
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Topic, string, Event) error { return nil }
func (NopPublisher) Close() error                                        { return nil }

// Published is an event captured by Recorder.
type Published struct {
	Topic Topic
	Key   string
	Event Event
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Published
	Err    error
}

func (r *Recorder) Publish(_ context.Context, topic Topic, key string, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, Published{Topic: topic, Key: key, Event: event})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns the captured events of the given type, all when eventType is empty.
func (r *Recorder) Events(eventType string) []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Published
	for _, e := range r.events {
		if eventType == "" || e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
