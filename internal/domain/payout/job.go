package payout

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobType distinguishes user withdrawals from internal treasury payouts
type JobType string

const (
	JobTypeWithdrawal JobType = "withdrawal"
	JobTypeFaucet     JobType = "faucet"
)

// Status of a payout job
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusPendingApproval Status = "pending_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusRejected        Status = "rejected"
)

const DefaultMaxAttempts = 3

var (
	ErrInvalidAmount   = errors.New("payout amount must be positive")
	ErrMissingTarget   = errors.New("payout job needs a target user and destination")
	ErrMissingApproval = errors.New("payout job has no approver")
)

// Job is the internal work item that sends funds on-chain
type Job struct {
	ID           uuid.UUID  `json:"id"`
	Type         JobType    `json:"type"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id,omitempty"`
	TargetUserID string     `json:"target_user_id"`
	DestAddress  string     `json:"dest_address"`
	AmountMinor  int64      `json:"amount_minor"`
	Status       Status     `json:"status"`
	TxSignature  string     `json:"tx_signature,omitempty"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    string     `json:"last_error,omitempty"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewWithdrawalJob creates the single job serving a withdrawal request
func NewWithdrawalJob(withdrawalID uuid.UUID, userID, dest string, amount int64, maxAttempts int) (*Job, error) {
	job, err := newJob(JobTypeWithdrawal, userID, dest, amount, maxAttempts)
	if err != nil {
		return nil, err
	}
	job.WithdrawalID = &withdrawalID
	return job, nil
}

// NewFaucetJob creates a treasury-funded payout with no user debit
func NewFaucetJob(userID, dest string, amount int64, maxAttempts int) (*Job, error) {
	return newJob(JobTypeFaucet, userID, dest, amount, maxAttempts)
}

func newJob(jobType JobType, userID, dest string, amount int64, maxAttempts int) (*Job, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if userID == "" || dest == "" {
		return nil, ErrMissingTarget
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := time.Now()
	return &Job{
		ID:           uuid.New(),
		Type:         jobType,
		TargetUserID: userID,
		DestAddress:  dest,
		AmountMinor:  amount,
		Status:       StatusPending,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// DebitsUser reports whether completing the job settles a user reservation
func (j *Job) DebitsUser() bool {
	return j.Type == JobTypeWithdrawal
}

// NeedsApproval reports whether the job exceeds the auto-approval limit and has no approver yet
func (j *Job) NeedsApproval(autoApprovalLimit int64) bool {
	return j.AmountMinor > autoApprovalLimit && j.ApprovedBy == ""
}

// RecordFailure counts a failed processing cycle and returns the resulting status:
// pending while attempts remain, failed once attempts reach MaxAttempts.
func (j *Job) RecordFailure(err error) Status {
	j.Attempts++
	if err != nil {
		j.LastError = err.Error()
	}
	j.UpdatedAt = time.Now()
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
	} else {
		j.Status = StatusPending
	}
	return j.Status
}

// Approve records the operator that released the job from pending_approval
func (j *Job) Approve(adminID string, at time.Time) error {
	if adminID == "" {
		return ErrMissingApproval
	}
	j.ApprovedBy = adminID
	j.ApprovedAt = &at
	j.Status = StatusProcessing
	j.UpdatedAt = at
	return nil
}
