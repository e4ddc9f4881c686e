package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/onchain-casino-settlement/internal/domain/game"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/domain/withdrawal"
	"github.com/onchain-casino-settlement/internal/settlement_processor/abuse"
	"github.com/onchain-casino-settlement/internal/settlement_processor/deposits"
	"github.com/onchain-casino-settlement/internal/settlement_processor/fairness"
)

// FairnessEngine issues commitments and resolves bets
type FairnessEngine interface {
	Commit(ctx context.Context) (*fairness.Commitment, error)
	Reveal(ctx context.Context, req fairness.RevealRequest) (*fairness.Outcome, error)
	Verify(play *game.Play) error
}

// DepositIntents hands out deposit instructions
type DepositIntents interface {
	CreateDepositIntent(ctx context.Context, userID string) (*deposits.Intent, error)
}

// PayoutRequests creates and resolves payout work
type PayoutRequests interface {
	RequestWithdrawal(ctx context.Context, userID, dest string, amount int64, idempotencyKey string) (*withdrawal.Withdrawal, error)
	RequestFaucet(ctx context.Context, userID, dest string) (*payout.Job, error)
	Approve(ctx context.Context, jobID uuid.UUID, adminID string) error
	Reject(ctx context.Context, jobID uuid.UUID, adminID, reason string) error
}

// AbuseGuard gates multi-account sensitive actions
type AbuseGuard interface {
	AllowAccountActivity(ctx context.Context, userID string, client abuse.Client) (abuse.Decision, error)
	RecordAccount(ctx context.Context, userID string, client abuse.Client) error
	AllowFaucet(ctx context.Context, userID string, client abuse.Client) (abuse.Decision, error)
	RecordFaucet(ctx context.Context, userID string, client abuse.Client) error
	AllowReferral(ctx context.Context, userID, referrer string, alreadyReferred bool) (abuse.Decision, error)
	RecordReferral(ctx context.Context, userID, referrer string) error
	AllowWithdrawal(ctx context.Context, userID string, amount int64) (abuse.Decision, error)
	RecordWithdrawal(ctx context.Context, userID, withdrawalID string, amount int64) error
}
