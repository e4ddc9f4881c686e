package deposit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository defines deposit persistence operations
type Repository interface {
	// InsertPending stores a pending deposit; returns false if the signature already exists
	InsertPending(ctx context.Context, d *Deposit) (bool, error)
	GetBySignature(ctx context.Context, signature string) (*Deposit, error)

	// MarkConfirmed moves pending to confirmed; returns false if another writer got there first
	MarkConfirmed(ctx context.Context, signature string, confirmations int, at time.Time) (bool, error)
	UpdateConfirmations(ctx context.Context, signature string, confirmations int) error

	ListConfirmedSignatures(ctx context.Context) ([]string, error)
	ListPending(ctx context.Context, limit int) ([]*Deposit, error)
	SumConfirmed(ctx context.Context) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrDepositNotFound indicates missing deposit
type ErrDepositNotFound struct {
	Signature string
}

func (e ErrDepositNotFound) Error() string {
	return "deposit not found: " + e.Signature
}
