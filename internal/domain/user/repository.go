package user

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrBalanceGuard is returned when a compare-and-update on the balance row
// matched no row: either the user is missing or the guard rejected the change.
var ErrBalanceGuard = errors.New("balance guard rejected mutation")

// Repository defines user persistence operations
type Repository interface {
	// EnsureExists inserts a zero-balance row if the address is unknown
	EnsureExists(ctx context.Context, address string) error
	GetByAddress(ctx context.Context, address string) (*User, error)

	// ApplyDelta adds delta to balance and releases up to release from the
	// reserved amount in one guarded statement. Returns the new balance.
	ApplyDelta(ctx context.Context, address string, delta, release int64) (int64, error)

	// Reserve moves amount from available to reserved if available covers it
	Reserve(ctx context.Context, address string, amount int64) error

	// Release returns a reservation to the available balance
	Release(ctx context.Context, address string, amount int64) error

	SetReferrer(ctx context.Context, address, referrer string) error
	Flag(ctx context.Context, address, reason string) error

	// ListWithPendingActivity returns users that have pending deposits or open withdrawals
	ListWithPendingActivity(ctx context.Context, limit int) ([]*User, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrUserNotFound indicates missing user
type ErrUserNotFound struct {
	Address string
}

func (e ErrUserNotFound) Error() string {
	return "user not found: " + e.Address
}

// Is implements the errors.Is interface for ErrUserNotFound
func (e ErrUserNotFound) Is(target error) bool {
	t, ok := target.(ErrUserNotFound)
	if !ok {
		return false
	}
	return t.Address == "" || t.Address == e.Address
}
