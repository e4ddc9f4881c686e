package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

// PayoutRepository implements the payout.Repository interface for PostgreSQL
type PayoutRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewPayoutRepository creates a new PostgreSQL payout job repository
func NewPayoutRepository(logger *slog.Logger, db *persistence.PostgresDB) payout.Repository {
	return &PayoutRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the transaction
func (r *PayoutRepository) WithTx(tx pgx.Tx) payout.Repository {
	return &PayoutRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const payoutColumns = `id, type, withdrawal_id, target_user_id, dest_address, amount_minor, status, tx_signature, attempts, max_attempts, last_error, approved_by, approved_at, created_at, updated_at`

func scanJob(row pgx.Row) (*payout.Job, error) {
	var j payout.Job
	err := row.Scan(
		&j.ID,
		&j.Type,
		&j.WithdrawalID,
		&j.TargetUserID,
		&j.DestAddress,
		&j.AmountMinor,
		&j.Status,
		&j.TxSignature,
		&j.Attempts,
		&j.MaxAttempts,
		&j.LastError,
		&j.ApprovedBy,
		&j.ApprovedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *PayoutRepository) collect(rows pgx.Rows) ([]*payout.Job, error) {
	defer rows.Close()

	var jobs []*payout.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			r.logger.Error("Failed to scan payout job", "error", err)
			return nil, fmt.Errorf("failed to scan payout job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over payout jobs: %w", err)
	}
	return jobs, nil
}

// Create inserts a new payout job
func (r *PayoutRepository) Create(ctx context.Context, job *payout.Job) error {
	query := `
		INSERT INTO payout_jobs (id, type, withdrawal_id, target_user_id, dest_address, amount_minor, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.querier.Exec(ctx, query,
		job.ID,
		job.Type,
		job.WithdrawalID,
		job.TargetUserID,
		job.DestAddress,
		job.AmountMinor,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create payout job",
			"job_id", job.ID.String(),
			"type", string(job.Type),
			"error", err,
		)
		return fmt.Errorf("failed to create payout job: %w", err)
	}
	return nil
}

// GetByID retrieves a payout job by id
func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*payout.Job, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_jobs WHERE id = $1`

	j, err := scanJob(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payout.ErrJobNotFound{ID: id}
		}
		r.logger.Error("Failed to get payout job", "job_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get payout job: %w", err)
	}
	return j, nil
}

// GetByWithdrawalID returns the single job created for a withdrawal
func (r *PayoutRepository) GetByWithdrawalID(ctx context.Context, withdrawalID uuid.UUID) (*payout.Job, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_jobs WHERE withdrawal_id = $1`

	j, err := scanJob(r.querier.QueryRow(ctx, query, withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payout.ErrJobNotFound{}
		}
		r.logger.Error("Failed to get payout job by withdrawal", "withdrawal_id", withdrawalID.String(), "error", err)
		return nil, fmt.Errorf("failed to get payout job by withdrawal: %w", err)
	}
	return j, nil
}

// ClaimPending locks and moves the oldest pending jobs to processing in one statement
func (r *PayoutRepository) ClaimPending(ctx context.Context, limit int) ([]*payout.Job, error) {
	query := `
		UPDATE payout_jobs SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM payout_jobs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + payoutColumns

	rows, err := r.querier.Query(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to claim pending payout jobs", "error", err)
		return nil, fmt.Errorf("failed to claim pending payout jobs: %w", err)
	}
	return r.collect(rows)
}

// Transition moves the job between statuses only if it is still in from
func (r *PayoutRepository) Transition(ctx context.Context, id uuid.UUID, from, to payout.Status) (bool, error) {
	query := `
		UPDATE payout_jobs SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.querier.Exec(ctx, query, id, from, to)
	if err != nil {
		r.logger.Error("Failed to transition payout job",
			"job_id", id.String(),
			"from", string(from),
			"to", string(to),
			"error", err,
		)
		return false, fmt.Errorf("failed to transition payout job: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Approve releases a job held for operator approval
func (r *PayoutRepository) Approve(ctx context.Context, id uuid.UUID, adminID string, at time.Time) (bool, error) {
	query := `
		UPDATE payout_jobs SET status = 'processing', approved_by = $2, approved_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_approval'
	`

	result, err := r.querier.Exec(ctx, query, id, adminID, at)
	if err != nil {
		r.logger.Error("Failed to approve payout job", "job_id", id.String(), "admin_id", adminID, "error", err)
		return false, fmt.Errorf("failed to approve payout job: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// RecordSignature stores the submitted transaction signature before confirmation is awaited
func (r *PayoutRepository) RecordSignature(ctx context.Context, id uuid.UUID, signature string) error {
	query := `UPDATE payout_jobs SET tx_signature = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.querier.Exec(ctx, query, id, signature)
	if err != nil {
		r.logger.Error("Failed to record payout signature", "job_id", id.String(), "error", err)
		return fmt.Errorf("failed to record payout signature: %w", err)
	}
	if result.RowsAffected() == 0 {
		return payout.ErrJobNotFound{ID: id}
	}
	return nil
}

// RecordAttempt persists the outcome of a failed processing cycle
func (r *PayoutRepository) RecordAttempt(ctx context.Context, job *payout.Job) error {
	query := `
		UPDATE payout_jobs SET status = $2, attempts = $3, last_error = $4, tx_signature = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.querier.Exec(ctx, query, job.ID, job.Status, job.Attempts, job.LastError, job.TxSignature, job.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to record payout attempt", "job_id", job.ID.String(), "error", err)
		return fmt.Errorf("failed to record payout attempt: %w", err)
	}
	if result.RowsAffected() == 0 {
		return payout.ErrJobNotFound{ID: job.ID}
	}
	return nil
}

// Complete finalizes a processing job
func (r *PayoutRepository) Complete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payout_jobs SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.querier.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to complete payout job", "job_id", id.String(), "error", err)
		return fmt.Errorf("failed to complete payout job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return payout.ErrJobNotFound{ID: id}
	}
	return nil
}

// ListProcessing returns processing jobs not touched since before
func (r *PayoutRepository) ListProcessing(ctx context.Context, before time.Time, limit int) ([]*payout.Job, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payout_jobs
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, before, limit)
	if err != nil {
		r.logger.Error("Failed to list processing payout jobs", "error", err)
		return nil, fmt.Errorf("failed to list processing payout jobs: %w", err)
	}
	return r.collect(rows)
}

// SumCompleted totals all completed payouts for the treasury check
func (r *PayoutRepository) SumCompleted(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(SUM(amount_minor), 0)::BIGINT FROM payout_jobs WHERE status = 'completed'`

	var sum int64
	if err := r.querier.QueryRow(ctx, query).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum completed payouts", "error", err)
		return 0, fmt.Errorf("failed to sum completed payouts: %w", err)
	}
	return sum, nil
}
