package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onchain-casino-settlement/internal/platform/messaging/producers"
)

// parkMessage sends a message that can never succeed to the DLQ. A nil return
// lets the consumer commit the offset; without a DLQ the cause is returned so
// the message stays uncommitted.
func parkMessage(ctx context.Context, logger *slog.Logger, dlq producers.DeadLetterPublisher, key, value []byte, reason string, cause error) error {
	if dlq == nil {
		return cause
	}
	dlqReason := fmt.Sprintf("%s: %s", reason, cause.Error())
	if err := dlq.PublishToDLQ(ctx, string(key), value, dlqReason); err != nil {
		logger.Error("Failed to publish message to DLQ",
			"dlq_error", err,
			"original_error", cause,
			"message_key", string(key),
		)
		return cause
	}
	return nil
}
