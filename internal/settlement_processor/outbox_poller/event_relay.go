package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/platform/messaging/producers"
)

// Relay moves one outbox message to its downstream consumers
type Relay interface {
	Relay(ctx context.Context, message *outbox.Message) error
}

// EventRelay mirrors a message into the audit store, then publishes it to the
// events topic. Both steps are idempotent on the event ID, so a message that
// fails halfway is simply relayed again.
type EventRelay struct {
	outboxRepo outbox.Repository
	events     outbox.EventStore
	publisher  producers.EventPublisher
	logger     *slog.Logger
}

func NewEventRelay(
	outboxRepo outbox.Repository,
	events outbox.EventStore,
	publisher producers.EventPublisher,
	logger *slog.Logger,
) *EventRelay {
	return &EventRelay{
		outboxRepo: outboxRepo,
		events:     events,
		publisher:  publisher,
		logger:     logger.With("component", "event_relay"),
	}
}

func (r *EventRelay) Relay(ctx context.Context, message *outbox.Message) error {
	event := message.ToEvent()
	logger := r.logger.With(
		"outbox_id", message.ID,
		"event_id", event.EventID.String(),
		"event_type", string(event.EventType),
	)

	// 1. Audit mirror
	if err := r.events.Record(ctx, event); err != nil {
		return fmt.Errorf("failed to record event %s: %w", event.EventID, err)
	}

	// 2. Bus
	if err := r.publisher.PublishEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}

	// 3. Mark processed
	if err := r.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		return fmt.Errorf("event %s published, but failed to mark outbox %d as PROCESSED: %w", event.EventID, message.ID, err)
	}

	logger.Debug("Outbox message relayed")
	return nil
}
