package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL treasury ledger repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the transaction
func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Append writes one immutable entry and fills in its id and timestamp
func (r *LedgerRepository) Append(ctx context.Context, entry *ledger.Entry) error {
	query := `
		INSERT INTO treasury_ledger (user_id, type, amount_delta, balance_after, reference_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.querier.QueryRow(ctx, query,
		entry.UserID,
		entry.Type,
		entry.AmountDelta,
		entry.BalanceAfter,
		entry.ReferenceID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to append ledger entry",
			"user_id", entry.UserID,
			"type", string(entry.Type),
			"reference_id", entry.ReferenceID,
			"error", err,
		)
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// ListByUser returns a user's entries, newest first
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*ledger.Entry, error) {
	query := `
		SELECT id, user_id, type, amount_delta, balance_after, reference_id, created_at
		FROM treasury_ledger
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.AmountDelta, &e.BalanceAfter, &e.ReferenceID, &e.CreatedAt); err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}
	return entries, nil
}

// SumByUser returns the sum of all deltas for a user; it must equal the cached balance
func (r *LedgerRepository) SumByUser(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_delta), 0)::BIGINT FROM treasury_ledger WHERE user_id = $1`

	var sum int64
	if err := r.querier.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum ledger entries", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}
