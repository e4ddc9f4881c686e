package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/withdrawal"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

const pgUniqueViolation = "23505"

// WithdrawalRepository implements the withdrawal.Repository interface for PostgreSQL
type WithdrawalRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewWithdrawalRepository creates a new PostgreSQL withdrawal repository
func NewWithdrawalRepository(logger *slog.Logger, db *persistence.PostgresDB) withdrawal.Repository {
	return &WithdrawalRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the transaction
func (r *WithdrawalRepository) WithTx(tx pgx.Tx) withdrawal.Repository {
	return &WithdrawalRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const withdrawalColumns = `id, user_id, dest_address, amount_minor, status, signature, idempotency_key, failure_reason, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (*withdrawal.Withdrawal, error) {
	var w withdrawal.Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.DestAddress,
		&w.AmountMinor,
		&w.Status,
		&w.Signature,
		&w.IdempotencyKey,
		&w.FailureReason,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Create inserts a new withdrawal request
func (r *WithdrawalRepository) Create(ctx context.Context, w *withdrawal.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (id, user_id, dest_address, amount_minor, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		w.ID,
		w.UserID,
		w.DestAddress,
		w.AmountMinor,
		w.Status,
		w.IdempotencyKey,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ConflictError{Resource: "withdrawal", Key: w.IdempotencyKey}
		}
		r.logger.Error("Failed to create withdrawal",
			"withdrawal_id", w.ID.String(),
			"user_id", w.UserID,
			"error", err,
		)
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

// GetByID retrieves a withdrawal by id
func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*withdrawal.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`

	w, err := scanWithdrawal(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, withdrawal.ErrWithdrawalNotFound{ID: id}
		}
		r.logger.Error("Failed to get withdrawal", "withdrawal_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

// GetByIdempotencyKey finds the withdrawal a user created under a client key
func (r *WithdrawalRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*withdrawal.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 AND idempotency_key = $2`

	w, err := scanWithdrawal(r.querier.QueryRow(ctx, query, userID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, withdrawal.ErrWithdrawalNotFound{Key: key}
		}
		r.logger.Error("Failed to get withdrawal by idempotency key", "user_id", userID, "idempotency_key", key, "error", err)
		return nil, fmt.Errorf("failed to get withdrawal by idempotency key: %w", err)
	}
	return w, nil
}

// Transition moves the withdrawal from one status to another only if it is still in from
func (r *WithdrawalRepository) Transition(ctx context.Context, id uuid.UUID, from, to withdrawal.Status) (bool, error) {
	query := `
		UPDATE withdrawals SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.querier.Exec(ctx, query, id, from, to)
	if err != nil {
		r.logger.Error("Failed to transition withdrawal",
			"withdrawal_id", id.String(),
			"from", string(from),
			"to", string(to),
			"error", err,
		)
		return false, fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Complete records the chain signature of a confirmed payout
func (r *WithdrawalRepository) Complete(ctx context.Context, id uuid.UUID, signature string) error {
	query := `
		UPDATE withdrawals SET status = 'completed', signature = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.querier.Exec(ctx, query, id, signature)
	if err != nil {
		r.logger.Error("Failed to complete withdrawal", "withdrawal_id", id.String(), "error", err)
		return fmt.Errorf("failed to complete withdrawal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return withdrawal.ErrWithdrawalNotFound{ID: id}
	}
	return nil
}

// Fail moves a non-terminal withdrawal to failed or rejected with a reason
func (r *WithdrawalRepository) Fail(ctx context.Context, id uuid.UUID, to withdrawal.Status, reason string) error {
	query := `
		UPDATE withdrawals SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'pending_approval', 'processing')
	`

	result, err := r.querier.Exec(ctx, query, id, to, reason)
	if err != nil {
		r.logger.Error("Failed to fail withdrawal", "withdrawal_id", id.String(), "error", err)
		return fmt.Errorf("failed to fail withdrawal: %w", err)
	}
	if result.RowsAffected() == 0 {
		return withdrawal.ErrWithdrawalNotFound{ID: id}
	}
	return nil
}
