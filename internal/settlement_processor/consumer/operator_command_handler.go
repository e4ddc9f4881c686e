package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/platform/messaging/producers"
)

// PayoutOperator resolves payout jobs held for approval
type PayoutOperator interface {
	ApprovePayoutJob(ctx context.Context, jobID uuid.UUID, adminID string) error
	RejectPayoutJob(ctx context.Context, jobID uuid.UUID, adminID, reason string) error
}

// OperatorCommandHandler applies approve and reject commands from the admin surface
type OperatorCommandHandler struct {
	operator PayoutOperator
	producer producers.DeadLetterPublisher
	logger   *slog.Logger
}

func NewOperatorCommandHandler(logger *slog.Logger, operator PayoutOperator, producer producers.DeadLetterPublisher) *OperatorCommandHandler {
	return &OperatorCommandHandler{
		operator: operator,
		producer: producer,
		logger:   logger.With("component", "operator_command_handler"),
	}
}

// HandleMessage processes Kafka messages
func (h *OperatorCommandHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var cmd shared.OperatorCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		h.logger.Error("Failed to unmarshal operator command", "error", err, "message_key", string(key))
		return parkMessage(ctx, h.logger, h.producer, key, value, "unmarshal operator command", err)
	}

	logger := h.logger
	if cmd.CorrelationID != "" {
		logger = h.logger.With("correlation_id", cmd.CorrelationID)
	}
	logger = logger.With("command", string(cmd.Command), "job_id", cmd.JobID.String(), "admin_id", cmd.AdminID)

	if cmd.JobID == uuid.Nil {
		err := shared.ValidationError{Field: "job_id", Reason: "required"}
		return parkMessage(ctx, logger, h.producer, key, value, "invalid operator command", err)
	}

	var err error
	switch cmd.Command {
	case shared.OperatorCommandApprove:
		err = h.operator.ApprovePayoutJob(ctx, cmd.JobID, cmd.AdminID)
	case shared.OperatorCommandReject:
		err = h.operator.RejectPayoutJob(ctx, cmd.JobID, cmd.AdminID, cmd.Reason)
	default:
		err = shared.ValidationError{Field: "command", Reason: fmt.Sprintf("unknown command %q", cmd.Command)}
	}

	if err != nil {
		if shared.IsBoundaryError(err) {
			logger.Warn("Operator command rejected", "error", err)
			return parkMessage(ctx, logger, h.producer, key, value, "operator command rejected", err)
		}
		logger.Error("Failed to apply operator command", "error", err)
		return fmt.Errorf("operator command %s on job %s failed: %w", cmd.Command, cmd.JobID, err)
	}

	logger.Info("Applied operator command")
	return nil
}
