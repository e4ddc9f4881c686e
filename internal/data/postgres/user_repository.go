// Package postgres provides PostgreSQL implementations of the domain repositories.
// Every repository accepts either the pool or a transaction through persistence.Querier,
// so balance mutations, ledger appends and status changes can share one atomic unit.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

// UserRepository implements the user.Repository interface for PostgreSQL
type UserRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(logger *slog.Logger, db *persistence.PostgresDB) user.Repository {
	return &UserRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the transaction
func (r *UserRepository) WithTx(tx pgx.Tx) user.Repository {
	return &UserRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const userColumns = `address, balance, reserved_balance, pending_withdrawal, referred_by, flagged, flag_reason, created_at, updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	err := row.Scan(
		&u.Address,
		&u.Balance,
		&u.ReservedBalance,
		&u.PendingWithdrawal,
		&u.ReferredBy,
		&u.Flagged,
		&u.FlagReason,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureExists creates the user on first observed activity
func (r *UserRepository) EnsureExists(ctx context.Context, address string) error {
	query := `
		INSERT INTO users (address) VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`

	if _, err := r.querier.Exec(ctx, query, address); err != nil {
		r.logger.Error("Failed to ensure user exists", "address", address, "error", err)
		return fmt.Errorf("failed to ensure user exists: %w", err)
	}
	return nil
}

// GetByAddress retrieves a user by chain address
func (r *UserRepository) GetByAddress(ctx context.Context, address string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE address = $1`

	u, err := scanUser(r.querier.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrUserNotFound{Address: address}
		}
		r.logger.Error("Failed to get user", "address", address, "error", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ApplyDelta is the compare-and-update at the heart of the ledger primitive.
// The WHERE clause keeps balance non-negative and never below what stays reserved,
// so two concurrent debits cannot both pass against a stale read.
func (r *UserRepository) ApplyDelta(ctx context.Context, address string, delta, release int64) (int64, error) {
	query := `
		UPDATE users
		SET balance = balance + $2, reserved_balance = reserved_balance - $3, pending_withdrawal = GREATEST(pending_withdrawal - $3, 0), updated_at = NOW()
		WHERE address = $1 AND balance + $2 >= reserved_balance - $3 AND reserved_balance >= $3 AND balance + $2 >= 0
		RETURNING balance
	`

	var balance int64
	err := r.querier.QueryRow(ctx, query, address, delta, release).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, user.ErrBalanceGuard
		}
		r.logger.Error("Failed to apply balance delta", "address", address, "delta", delta, "error", err)
		return 0, fmt.Errorf("failed to apply balance delta: %w", err)
	}
	return balance, nil
}

// Reserve holds amount for a withdrawal if the available balance covers it
func (r *UserRepository) Reserve(ctx context.Context, address string, amount int64) error {
	query := `
		UPDATE users
		SET reserved_balance = reserved_balance + $2, pending_withdrawal = pending_withdrawal + $2, updated_at = NOW()
		WHERE address = $1 AND balance - reserved_balance >= $2
	`

	result, err := r.querier.Exec(ctx, query, address, amount)
	if err != nil {
		r.logger.Error("Failed to reserve balance", "address", address, "amount", amount, "error", err)
		return fmt.Errorf("failed to reserve balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return user.ErrBalanceGuard
	}
	return nil
}

// Release returns a reservation to the available balance
func (r *UserRepository) Release(ctx context.Context, address string, amount int64) error {
	query := `
		UPDATE users
		SET reserved_balance = reserved_balance - $2, pending_withdrawal = GREATEST(pending_withdrawal - $2, 0), updated_at = NOW()
		WHERE address = $1 AND reserved_balance >= $2
	`

	result, err := r.querier.Exec(ctx, query, address, amount)
	if err != nil {
		r.logger.Error("Failed to release reservation", "address", address, "amount", amount, "error", err)
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return user.ErrBalanceGuard
	}
	return nil
}

// SetReferrer links a referrer once; an existing link is never overwritten
func (r *UserRepository) SetReferrer(ctx context.Context, address, referrer string) error {
	if address == referrer {
		return user.ErrSelfReferral
	}
	query := `
		UPDATE users SET referred_by = $2, updated_at = NOW()
		WHERE address = $1 AND referred_by IS NULL
	`

	result, err := r.querier.Exec(ctx, query, address, referrer)
	if err != nil {
		r.logger.Error("Failed to set referrer", "address", address, "referrer", referrer, "error", err)
		return fmt.Errorf("failed to set referrer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return user.ErrAlreadyReferred
	}
	return nil
}

// Flag soft-flags a user for operator review
func (r *UserRepository) Flag(ctx context.Context, address, reason string) error {
	query := `UPDATE users SET flagged = TRUE, flag_reason = $2, updated_at = NOW() WHERE address = $1`

	result, err := r.querier.Exec(ctx, query, address, reason)
	if err != nil {
		r.logger.Error("Failed to flag user", "address", address, "error", err)
		return fmt.Errorf("failed to flag user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return user.ErrUserNotFound{Address: address}
	}
	return nil
}

// ListWithPendingActivity returns users with pending deposits or open withdrawals
func (r *UserRepository) ListWithPendingActivity(ctx context.Context, limit int) ([]*user.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.reserved_balance > 0
			OR EXISTS (SELECT 1 FROM deposits d WHERE d.user_id = u.address AND d.status = 'pending')
			OR EXISTS (SELECT 1 FROM withdrawals w WHERE w.user_id = u.address AND w.status IN ('pending', 'pending_approval', 'processing'))
		ORDER BY u.address
		LIMIT $1
	`

	rows, err := r.querier.Query(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list users with pending activity", "error", err)
		return nil, fmt.Errorf("failed to list users with pending activity: %w", err)
	}
	defer rows.Close()

	var users []*user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			r.logger.Error("Failed to scan user", "error", err)
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over users: %w", err)
	}
	return users, nil
}
