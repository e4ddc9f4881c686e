package withdrawal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
)

// Status of a withdrawal request
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusRejected        Status = "rejected"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusProcessing, StatusPendingApproval, StatusFailed},
	StatusPendingApproval: {StatusProcessing, StatusRejected},
	StatusProcessing:      {StatusCompleted, StatusFailed, StatusPending, StatusPendingApproval},
}

// CanTransition enforces the withdrawal state machine
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Withdrawal is a user-facing request to move funds back on-chain
type Withdrawal struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	DestAddress    string    `json:"dest_address"`
	AmountMinor    int64     `json:"amount_minor"`
	Status         Status    `json:"status"`
	Signature      string    `json:"signature,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SameRequest reports whether a replayed request asks for exactly this withdrawal
func (w *Withdrawal) SameRequest(userID, dest string, amount int64) bool {
	return w.UserID == userID && w.DestAddress == dest && w.AmountMinor == amount
}

// NewWithdrawal validates the request and builds a pending withdrawal
func NewWithdrawal(userID, dest string, amount int64, idempotencyKey string) (*Withdrawal, error) {
	if err := user.ValidateAddress(userID); err != nil {
		return nil, shared.ValidationError{Field: "user_id", Reason: err.Error()}
	}
	if err := user.ValidateAddress(dest); err != nil {
		return nil, shared.ValidationError{Field: "dest_address", Reason: err.Error()}
	}
	if amount <= 0 {
		return nil, shared.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if idempotencyKey == "" || len(idempotencyKey) > 128 {
		return nil, shared.ValidationError{Field: "idempotency_key", Reason: fmt.Sprintf("must be 1-128 characters, got %d", len(idempotencyKey))}
	}

	now := time.Now()
	return &Withdrawal{
		ID:             uuid.New(),
		UserID:         userID,
		DestAddress:    dest,
		AmountMinor:    amount,
		Status:         StatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
