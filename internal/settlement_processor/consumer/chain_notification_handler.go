package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/platform/messaging/producers"
	"github.com/onchain-casino-settlement/internal/settlement_processor/deposits"
)

// SignatureProcessor is the deposit reconciler entry point shared with the poller
type SignatureProcessor interface {
	ProcessSignature(ctx context.Context, signature string, source deposits.Source) (deposits.Result, error)
}

// ChainNotificationHandler feeds pushed treasury signatures into the reconciler
type ChainNotificationHandler struct {
	reconciler      SignatureProcessor
	producer        producers.DeadLetterPublisher
	treasuryAddress string
	logger          *slog.Logger
}

func NewChainNotificationHandler(
	logger *slog.Logger,
	reconciler SignatureProcessor,
	producer producers.DeadLetterPublisher,
	treasuryAddress string,
) *ChainNotificationHandler {
	return &ChainNotificationHandler{
		reconciler:      reconciler,
		producer:        producer,
		treasuryAddress: treasuryAddress,
		logger:          logger.With("component", "chain_notification_handler"),
	}
}

// HandleMessage processes Kafka messages
func (h *ChainNotificationHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var note shared.ChainNotification
	if err := json.Unmarshal(value, &note); err != nil {
		h.logger.Error("Failed to unmarshal chain notification", "error", err, "message_key", string(key))
		return parkMessage(ctx, h.logger, h.producer, key, value, "unmarshal chain notification", err)
	}
	if note.Signature == "" {
		err := shared.ValidationError{Field: "signature", Reason: "required"}
		return parkMessage(ctx, h.logger, h.producer, key, value, "invalid chain notification", err)
	}

	logger := h.logger.With("signature", note.Signature)

	// Another address on a shared topic is not ours to reconcile
	if note.Address != "" && note.Address != h.treasuryAddress {
		logger.Debug("Ignoring notification for foreign address", "address", note.Address)
		return nil
	}

	result, err := h.reconciler.ProcessSignature(ctx, note.Signature, deposits.SourcePush)
	if err != nil {
		if shared.IsBoundaryError(err) {
			logger.Warn("Chain notification rejected", "error", err)
			return parkMessage(ctx, logger, h.producer, key, value, "deposit rejected", err)
		}
		// The poller and the sweep pick the signature up as well, but keep the
		// offset uncommitted so the push path retries first
		logger.Error("Failed to process pushed signature", "error", err)
		return fmt.Errorf("processing signature %s failed: %w", note.Signature, err)
	}

	logger.Info("Processed pushed signature", "result", string(result))
	return nil
}
