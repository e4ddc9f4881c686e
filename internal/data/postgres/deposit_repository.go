package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/deposit"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

// DepositRepository implements the deposit.Repository interface for PostgreSQL
type DepositRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewDepositRepository creates a new PostgreSQL deposit repository
func NewDepositRepository(logger *slog.Logger, db *persistence.PostgresDB) deposit.Repository {
	return &DepositRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the transaction
func (r *DepositRepository) WithTx(tx pgx.Tx) deposit.Repository {
	return &DepositRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const depositColumns = `signature, user_id, amount_minor, memo, slot, confirmations, status, confirmed_at, created_at`

func scanDeposit(row pgx.Row) (*deposit.Deposit, error) {
	var d deposit.Deposit
	err := row.Scan(
		&d.Signature,
		&d.UserID,
		&d.AmountMinor,
		&d.Memo,
		&d.Slot,
		&d.Confirmations,
		&d.Status,
		&d.ConfirmedAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// InsertPending stores the deposit unless the signature was seen before.
// The unique signature is what makes double-credit impossible.
func (r *DepositRepository) InsertPending(ctx context.Context, d *deposit.Deposit) (bool, error) {
	query := `
		INSERT INTO deposits (signature, user_id, amount_minor, memo, slot, confirmations, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature) DO NOTHING
	`

	result, err := r.querier.Exec(ctx, query,
		d.Signature,
		d.UserID,
		d.AmountMinor,
		d.Memo,
		d.Slot,
		d.Confirmations,
		deposit.StatusPending,
		d.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert deposit", "signature", d.Signature, "error", err)
		return false, fmt.Errorf("failed to insert deposit: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetBySignature retrieves a deposit by its chain signature
func (r *DepositRepository) GetBySignature(ctx context.Context, signature string) (*deposit.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE signature = $1`

	d, err := scanDeposit(r.querier.QueryRow(ctx, query, signature))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, deposit.ErrDepositNotFound{Signature: signature}
		}
		r.logger.Error("Failed to get deposit", "signature", signature, "error", err)
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return d, nil
}

// MarkConfirmed is a compare-and-set from pending to confirmed
func (r *DepositRepository) MarkConfirmed(ctx context.Context, signature string, confirmations int, at time.Time) (bool, error) {
	query := `
		UPDATE deposits SET status = 'confirmed', confirmations = $2, confirmed_at = $3
		WHERE signature = $1 AND status = 'pending'
	`

	result, err := r.querier.Exec(ctx, query, signature, confirmations, at)
	if err != nil {
		r.logger.Error("Failed to confirm deposit", "signature", signature, "error", err)
		return false, fmt.Errorf("failed to confirm deposit: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// UpdateConfirmations refreshes the observed confirmation count of a pending deposit
func (r *DepositRepository) UpdateConfirmations(ctx context.Context, signature string, confirmations int) error {
	query := `UPDATE deposits SET confirmations = $2 WHERE signature = $1 AND status = 'pending'`

	if _, err := r.querier.Exec(ctx, query, signature, confirmations); err != nil {
		r.logger.Error("Failed to update deposit confirmations", "signature", signature, "error", err)
		return fmt.Errorf("failed to update deposit confirmations: %w", err)
	}
	return nil
}

// ListConfirmedSignatures seeds the reconciler's processed set on startup
func (r *DepositRepository) ListConfirmedSignatures(ctx context.Context) ([]string, error) {
	query := `SELECT signature FROM deposits WHERE status = 'confirmed'`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list confirmed deposits", "error", err)
		return nil, fmt.Errorf("failed to list confirmed deposits: %w", err)
	}
	defer rows.Close()

	var sigs []string
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("failed to scan deposit signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over deposit signatures: %w", err)
	}
	return sigs, nil
}

// ListPending returns the oldest pending deposits
func (r *DepositRepository) ListPending(ctx context.Context, limit int) ([]*deposit.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.querier.Query(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list pending deposits", "error", err)
		return nil, fmt.Errorf("failed to list pending deposits: %w", err)
	}
	defer rows.Close()

	var deposits []*deposit.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over deposits: %w", err)
	}
	return deposits, nil
}

// SumConfirmed totals all credited deposits for the treasury check
func (r *DepositRepository) SumConfirmed(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_minor), 0)::BIGINT FROM deposits WHERE status = 'confirmed'`

	var sum int64
	if err := r.querier.QueryRow(ctx, query).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum confirmed deposits", "error", err)
		return 0, fmt.Errorf("failed to sum confirmed deposits: %w", err)
	}
	return sum, nil
}
