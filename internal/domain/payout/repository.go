package payout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages payout job persistence
type Repository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	GetByWithdrawalID(ctx context.Context, withdrawalID uuid.UUID) (*Job, error)

	// ClaimPending moves up to limit of the oldest pending jobs to processing, skipping rows
	// locked by another processor instance
	ClaimPending(ctx context.Context, limit int) ([]*Job, error)

	// Transition is a compare-and-set on status; returns false if the row was not in from
	Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)

	// Approve moves pending_approval to processing and records the approver
	Approve(ctx context.Context, id uuid.UUID, adminID string, at time.Time) (bool, error)
	RecordSignature(ctx context.Context, id uuid.UUID, signature string) error

	// RecordAttempt persists attempts, status and last error after a failed cycle
	RecordAttempt(ctx context.Context, job *Job) error
	Complete(ctx context.Context, id uuid.UUID) error

	// ListProcessing returns processing jobs last touched before the cutoff
	ListProcessing(ctx context.Context, before time.Time, limit int) ([]*Job, error)
	SumCompleted(ctx context.Context) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrJobNotFound indicates missing payout job
type ErrJobNotFound struct {
	ID uuid.UUID
}

func (e ErrJobNotFound) Error() string {
	return "payout job not found: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrJobNotFound
func (e ErrJobNotFound) Is(target error) bool {
	t, ok := target.(ErrJobNotFound)
	if !ok {
		return false
	}
	return t.ID == uuid.Nil || t.ID == e.ID
}
