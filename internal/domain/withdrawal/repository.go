package withdrawal

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines withdrawal persistence operations
type Repository interface {
	// Create inserts the withdrawal; returns shared.ConflictError if the user already used the idempotency key
	Create(ctx context.Context, w *Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*Withdrawal, error)
	// GetByIdempotencyKey looks a key up within one user's requests
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*Withdrawal, error)

	// Transition is a compare-and-set on status; returns false if the row was not in from
	Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, signature string) error
	Fail(ctx context.Context, id uuid.UUID, to Status, reason string) error
	WithTx(tx pgx.Tx) Repository
}

// ErrWithdrawalNotFound indicates missing withdrawal
type ErrWithdrawalNotFound struct {
	ID  uuid.UUID
	Key string
}

func (e ErrWithdrawalNotFound) Error() string {
	if e.Key != "" {
		return "withdrawal not found for idempotency key: " + e.Key
	}
	return "withdrawal not found: " + e.ID.String()
}
