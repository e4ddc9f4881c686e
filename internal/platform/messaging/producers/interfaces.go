package producers

import (
	"context"

	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/segmentio/kafka-go"
)

// EventPublisher relays settlement events to the events topic
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *outbox.Event) error
	Close() error
}

// DeadLetterPublisher handles publishing messages to a Dead Letter Queue
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
