package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/game"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

// GameRepository implements the game.Repository interface for PostgreSQL
type GameRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewGameRepository creates a new PostgreSQL game play repository
func NewGameRepository(logger *slog.Logger, db *persistence.PostgresDB) game.Repository {
	return &GameRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the transaction
func (r *GameRepository) WithTx(tx pgx.Tx) game.Repository {
	return &GameRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const playColumns = `id, user_id, game_type, bet_amount, client_seed, client_commit, server_seed, server_commit, nonce, tx_ref, roll, won, payout, house_fee, balance_before, balance_after, final_hash, integrity_hash, created_at`

func scanPlay(row pgx.Row) (*game.Play, error) {
	var p game.Play
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.GameType,
		&p.BetAmount,
		&p.ClientSeed,
		&p.ClientCommit,
		&p.ServerSeed,
		&p.ServerCommit,
		&p.Nonce,
		&p.TxRef,
		&p.Roll,
		&p.Won,
		&p.Payout,
		&p.HouseFee,
		&p.BalanceBefore,
		&p.BalanceAfter,
		&p.FinalHash,
		&p.IntegrityHash,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create stores a sealed play
func (r *GameRepository) Create(ctx context.Context, p *game.Play) error {
	query := `
		INSERT INTO game_plays (` + playColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.querier.Exec(ctx, query,
		p.ID,
		p.UserID,
		p.GameType,
		p.BetAmount,
		p.ClientSeed,
		p.ClientCommit,
		p.ServerSeed,
		p.ServerCommit,
		p.Nonce,
		p.TxRef,
		p.Roll,
		p.Won,
		p.Payout,
		p.HouseFee,
		p.BalanceBefore,
		p.BalanceAfter,
		p.FinalHash,
		p.IntegrityHash,
		p.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create game play",
			"play_id", p.ID.String(),
			"user_id", p.UserID,
			"error", err,
		)
		return fmt.Errorf("failed to create game play: %w", err)
	}
	return nil
}

// GetByID retrieves a play by id
func (r *GameRepository) GetByID(ctx context.Context, id uuid.UUID) (*game.Play, error) {
	query := `SELECT ` + playColumns + ` FROM game_plays WHERE id = $1`

	p, err := scanPlay(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, game.ErrPlayNotFound{ID: id}
		}
		r.logger.Error("Failed to get game play", "play_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get game play: %w", err)
	}
	return p, nil
}

// ListByUser returns a user's plays, newest first
func (r *GameRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*game.Play, error) {
	query := `
		SELECT ` + playColumns + `
		FROM game_plays
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list game plays", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list game plays: %w", err)
	}
	defer rows.Close()

	var plays []*game.Play
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			r.logger.Error("Failed to scan game play", "error", err)
			return nil, fmt.Errorf("failed to scan game play: %w", err)
		}
		plays = append(plays, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over game plays: %w", err)
	}
	return plays, nil
}
