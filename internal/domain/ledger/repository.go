package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Repository appends and reads treasury ledger entries. Entries are append-only.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Entry, error)
	SumByUser(ctx context.Context, userID string) (int64, error)
	WithTx(tx pgx.Tx) Repository
}
