package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onchain-casino-settlement/internal/config"
	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
)

// Poller processes pending outbox messages
type Poller struct {
	outboxRepo       outbox.Repository
	relay            Relay
	metrics          *metrics.SettlementMetrics
	logger           *slog.Logger
	batchSize        int
	maxRetryAttempts int
}

func NewPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	relay Relay,
	m *metrics.SettlementMetrics,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		outboxRepo:       outboxRepo,
		relay:            relay,
		metrics:          m,
		logger:           logger.With("component", "outbox_poller"),
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
	}
}

// PollOnce relays one batch of pending messages in commit order
func (p *Poller) PollOnce(ctx context.Context) error {
	messages, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Debug("Fetched pending outbox messages", "count", len(messages))

	for _, msg := range messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger := p.logger.With("outbox_id", msg.ID, "event_id", msg.EventID.String())

		err := p.relay.Relay(ctx, msg)
		if err == nil {
			p.metrics.OutboxHandled("published")
			continue
		}

		logger.Error("Failed to relay outbox message", "current_attempts", msg.Attempts, "error", err)

		if errInc := p.outboxRepo.IncrementAttempts(ctx, msg.ID); errInc != nil {
			logger.Error("Failed to increment attempts for outbox message", "error", errInc)
			continue
		}

		if msg.Attempts+1 >= p.maxRetryAttempts {
			logger.Warn("Max retry attempts reached for outbox message, marking as FAILED_TO_PUBLISH", "attempts_made", msg.Attempts+1)
			if errUpdate := p.outboxRepo.UpdateStatus(ctx, msg.ID, shared.OutboxStatusFailedToPublish); errUpdate != nil {
				logger.Error("Failed to update outbox status to FAILED_TO_PUBLISH", "error", errUpdate)
				continue
			}
			p.metrics.OutboxHandled("failed")
			continue
		}
		p.metrics.OutboxHandled("retry")
	}
	return nil
}
