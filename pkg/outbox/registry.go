package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// NonRetryableError signals the publisher should park a row instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// ResolvedEvent is a validated outbox row ready to publish.
type ResolvedEvent struct {
	Topic    string
	Envelope PayloadEnvelope
}

// TopicRegistry routes event types to Pub/Sub topics.
type TopicRegistry struct {
	defaultTopic string
	overrides    map[enums.OutboxEventType]string
}

func NewTopicRegistry(defaultTopic string) (*TopicRegistry, error) {
	if defaultTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}
	return &TopicRegistry{defaultTopic: defaultTopic, overrides: map[enums.OutboxEventType]string{}}, nil
}

// Route sends eventType to topic instead of the default.
func (r *TopicRegistry) Route(eventType enums.OutboxEventType, topic string) {
	r.overrides[eventType] = topic
}

func (r *TopicRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	if !event.EventType.IsValid() {
		return nil, NonRetryableError{Err: fmt.Errorf("unsupported event type %s", event.EventType)}
	}
	if !event.AggregateType.IsValid() {
		return nil, NonRetryableError{Err: fmt.Errorf("unsupported aggregate type %s", event.AggregateType)}
	}
	if event.AggregateID == uuid.Nil {
		return nil, NonRetryableError{Err: fmt.Errorf("missing aggregate_id")}
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NonRetryableError{Err: fmt.Errorf("decode envelope: %w", err)}
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NonRetryableError{Err: fmt.Errorf("payload missing for %s", event.EventType)}
	}

	topic := r.defaultTopic
	if override, ok := r.overrides[event.EventType]; ok && override != "" {
		topic = override
	}
	return &ResolvedEvent{Topic: topic, Envelope: envelope}, nil
}
