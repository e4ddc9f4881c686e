package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/onchain-casino-settlement/internal/domain/shared"
)

// Message stores a settlement event for reliable publishing. It is written in
// the same transaction as the ledger mutation it describes.
type Message struct {
	ID            int64               `json:"id"`
	EventID       uuid.UUID           `json:"event_id"`
	AggregateID   string              `json:"aggregate_id"`
	EventType     shared.EventType    `json:"event_type"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

// Event is the published form of a message
type Event struct {
	EventID     uuid.UUID        `json:"event_id" bson:"event_id"`
	EventType   shared.EventType `json:"event_type" bson:"event_type"`
	AggregateID string           `json:"aggregate_id" bson:"aggregate_id"`
	Payload     json.RawMessage  `json:"payload" bson:"payload"`
	OccurredAt  time.Time        `json:"occurred_at" bson:"occurred_at"`
}

func NewMessage(eventType shared.EventType, aggregateID string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		EventID:     uuid.New(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     data,
		Status:      shared.OutboxStatusPending,
		Attempts:    0,
		CreatedAt:   time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailedToPublish
	now := time.Now()
	m.LastAttemptAt = &now
}

// ToEvent converts the message into the envelope written to the audit store and the bus
func (m *Message) ToEvent() *Event {
	return &Event{
		EventID:     m.EventID,
		EventType:   m.EventType,
		AggregateID: m.AggregateID,
		Payload:     m.Payload,
		OccurredAt:  m.CreatedAt,
	}
}
