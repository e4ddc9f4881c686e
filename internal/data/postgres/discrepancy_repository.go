package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/discrepancy"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

// DiscrepancyRepository implements the discrepancy.Repository interface for PostgreSQL
type DiscrepancyRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewDiscrepancyRepository creates a new PostgreSQL discrepancy repository
func NewDiscrepancyRepository(logger *slog.Logger, db *persistence.PostgresDB) discrepancy.Repository {
	return &DiscrepancyRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the transaction
func (r *DiscrepancyRepository) WithTx(tx pgx.Tx) discrepancy.Repository {
	return &DiscrepancyRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *DiscrepancyRepository) Create(ctx context.Context, d *discrepancy.BalanceDiscrepancy) error {
	query := `
		INSERT INTO balance_discrepancies (kind, subject, expected, observed, delta, details, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		d.Kind,
		d.Subject,
		d.Expected,
		d.Observed,
		d.Delta,
		d.Details,
		d.Resolved,
		d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		r.logger.Error("Failed to create discrepancy",
			"kind", string(d.Kind),
			"subject", d.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to create discrepancy: %w", err)
	}
	return nil
}

func (r *DiscrepancyRepository) ListUnresolved(ctx context.Context, limit int) ([]*discrepancy.BalanceDiscrepancy, error) {
	query := `
		SELECT id, kind, subject, expected, observed, delta, details, resolved, created_at
		FROM balance_discrepancies
		WHERE NOT resolved
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.querier.Query(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list discrepancies", "error", err)
		return nil, fmt.Errorf("failed to list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []*discrepancy.BalanceDiscrepancy
	for rows.Next() {
		var d discrepancy.BalanceDiscrepancy
		if err := rows.Scan(&d.ID, &d.Kind, &d.Subject, &d.Expected, &d.Observed, &d.Delta, &d.Details, &d.Resolved, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over discrepancies: %w", err)
	}
	return out, nil
}

func (r *DiscrepancyRepository) ExistsUnresolved(ctx context.Context, kind discrepancy.Kind, subject string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM balance_discrepancies WHERE kind = $1 AND subject = $2 AND NOT resolved)`

	var exists bool
	if err := r.querier.QueryRow(ctx, query, kind, subject).Scan(&exists); err != nil {
		r.logger.Error("Failed to check discrepancy", "kind", string(kind), "subject", subject, "error", err)
		return false, fmt.Errorf("failed to check discrepancy: %w", err)
	}
	return exists, nil
}
