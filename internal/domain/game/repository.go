package game

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository stores settled game plays. Plays are immutable once written.
type Repository interface {
	Create(ctx context.Context, play *Play) error
	GetByID(ctx context.Context, id uuid.UUID) (*Play, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Play, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrPlayNotFound indicates missing game play
type ErrPlayNotFound struct {
	ID uuid.UUID
}

func (e ErrPlayNotFound) Error() string {
	return "game play not found: " + e.ID.String()
}
