package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/onchain-casino-settlement/internal/domain/shared"
)

// Events writes settlement events to the outbox in the same transaction as the
// mutation they describe
type Events struct {
	outboxRepo outbox.Repository
	logger     *slog.Logger
}

// NewEvents creates an outbox event writer
func NewEvents(outboxRepo outbox.Repository, logger *slog.Logger) *Events {
	return &Events{
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// Emit stores one event for aggregateID inside tx
func (e *Events) Emit(ctx context.Context, tx pgx.Tx, eventType shared.EventType, aggregateID string, payload any) error {
	message, err := outbox.NewMessage(eventType, aggregateID, payload)
	if err != nil {
		e.logger.Error("Failed to marshal outbox payload",
			"event_type", string(eventType),
			"aggregate_id", aggregateID,
			"error", err,
		)
		return fmt.Errorf("failed to create %s outbox message for %s: %w", eventType, aggregateID, err)
	}

	if err := e.outboxRepo.WithTx(tx).Create(ctx, message); err != nil {
		return fmt.Errorf("failed to create %s outbox message for %s: %w", eventType, aggregateID, err)
	}
	e.logger.Debug("Outbox message created",
		"event_type", string(eventType),
		"aggregate_id", aggregateID,
		"outbox_id", message.ID,
	)
	return nil
}
