// Package service is the inbound surface of the settlement core. Every method
// returns only after the ledger change it describes has committed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/game"
	ledgerdomain "github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/onchain-casino-settlement/internal/domain/withdrawal"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
	"github.com/onchain-casino-settlement/internal/settlement_processor/abuse"
	"github.com/onchain-casino-settlement/internal/settlement_processor/deposits"
	"github.com/onchain-casino-settlement/internal/settlement_processor/fairness"
	"github.com/onchain-casino-settlement/internal/settlement_processor/ledger"
)

// ErrIntegrityMismatch is returned by VerifyPlay when a stored play was altered
var ErrIntegrityMismatch = errors.New("game play integrity hash mismatch")

// PlayRequest is one bet. ServerCommit may be empty, in which case a
// commitment is issued and consumed in the same call.
type PlayRequest struct {
	UserID       string       `json:"user_id"`
	BetAmount    int64        `json:"bet_amount"`
	GameType     game.Type    `json:"game_type"`
	ClientSeed   string       `json:"client_seed"`
	ClientCommit string       `json:"client_commit,omitempty"`
	ServerCommit string       `json:"server_commit,omitempty"`
	Client       abuse.Client `json:"-"`
}

// WithdrawalRequest asks for funds to be sent to DestAddress
type WithdrawalRequest struct {
	UserID         string       `json:"user_id"`
	DestAddress    string       `json:"dest_address"`
	AmountMinor    int64        `json:"amount_minor"`
	IdempotencyKey string       `json:"idempotency_key"`
	Client         abuse.Client `json:"-"`
}

type CasinoService struct {
	db          persistence.TxRunner
	users       user.Repository
	withdrawals withdrawal.Repository
	plays       game.Repository
	ledger      *ledger.Service
	events      *ledger.Events
	fairness    FairnessEngine
	intents     DepositIntents
	payouts     PayoutRequests
	guard       AbuseGuard
	metrics     *metrics.SettlementMetrics
	logger      *slog.Logger

	newID func() uuid.UUID
	Now   func() time.Time
}

func NewCasinoService(
	db persistence.TxRunner,
	users user.Repository,
	withdrawals withdrawal.Repository,
	plays game.Repository,
	ledgerService *ledger.Service,
	events *ledger.Events,
	engine FairnessEngine,
	intents DepositIntents,
	payoutRequests PayoutRequests,
	guard AbuseGuard,
	m *metrics.SettlementMetrics,
	logger *slog.Logger,
) *CasinoService {
	return &CasinoService{
		db:          db,
		users:       users,
		withdrawals: withdrawals,
		plays:       plays,
		ledger:      ledgerService,
		events:      events,
		fairness:    engine,
		intents:     intents,
		payouts:     payoutRequests,
		guard:       guard,
		metrics:     m,
		logger:      logger.With("component", "casino_service"),
		newID:       uuid.New,
		Now:         time.Now,
	}
}

// Commit issues a server commitment for a later PlayGame call
func (s *CasinoService) Commit(ctx context.Context) (*fairness.Commitment, error) {
	return s.fairness.Commit(ctx)
}

func (s *CasinoService) CreateDepositIntent(ctx context.Context, userID string, client abuse.Client) (*deposits.Intent, error) {
	if err := s.check(ctx, func() (abuse.Decision, error) { return s.guard.AllowAccountActivity(ctx, userID, client) }); err != nil {
		return nil, err
	}
	intent, err := s.intents.CreateDepositIntent(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.record("account", s.guard.RecordAccount(ctx, userID, client))
	return intent, nil
}

// RequestWithdrawal reserves funds and queues a payout. A retried request with
// the same idempotency key returns the original withdrawal without re-checking limits.
// Keys are scoped to the requesting user.
func (s *CasinoService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*withdrawal.Withdrawal, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.withdrawals.GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			if !existing.SameRequest(req.UserID, req.DestAddress, req.AmountMinor) {
				return nil, shared.ConflictError{Resource: "withdrawal", Key: req.IdempotencyKey}
			}
			return existing, nil
		}
		if !errors.As(err, new(withdrawal.ErrWithdrawalNotFound)) {
			return nil, fmt.Errorf("failed to look up withdrawal %s: %w", req.IdempotencyKey, err)
		}
	}

	if err := s.check(ctx, func() (abuse.Decision, error) { return s.guard.AllowAccountActivity(ctx, req.UserID, req.Client) }); err != nil {
		return nil, err
	}
	if err := s.check(ctx, func() (abuse.Decision, error) { return s.guard.AllowWithdrawal(ctx, req.UserID, req.AmountMinor) }); err != nil {
		return nil, err
	}

	w, err := s.payouts.RequestWithdrawal(ctx, req.UserID, req.DestAddress, req.AmountMinor, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	s.record("withdrawal", s.guard.RecordWithdrawal(ctx, req.UserID, w.ID.String(), w.AmountMinor))
	s.record("account", s.guard.RecordAccount(ctx, req.UserID, req.Client))
	return w, nil
}

func (s *CasinoService) RequestFaucet(ctx context.Context, userID, dest string, client abuse.Client) (*payout.Job, error) {
	if err := s.check(ctx, func() (abuse.Decision, error) { return s.guard.AllowFaucet(ctx, userID, client) }); err != nil {
		return nil, err
	}
	job, err := s.payouts.RequestFaucet(ctx, userID, dest)
	if err != nil {
		return nil, err
	}
	s.record("faucet", s.guard.RecordFaucet(ctx, userID, client))
	return job, nil
}

// LinkReferral records referrer as the one who brought userID in. A user can be referred once.
func (s *CasinoService) LinkReferral(ctx context.Context, userID, referrer string, client abuse.Client) error {
	if err := user.ValidateAddress(userID); err != nil {
		return shared.ValidationError{Field: "user_id", Reason: err.Error()}
	}
	if err := user.ValidateAddress(referrer); err != nil {
		return shared.ValidationError{Field: "referrer", Reason: err.Error()}
	}
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return fmt.Errorf("failed to register user %s: %w", userID, err)
	}
	u, err := s.users.GetByAddress(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	if err := s.check(ctx, func() (abuse.Decision, error) { return s.guard.AllowAccountActivity(ctx, userID, client) }); err != nil {
		return err
	}
	if err := s.check(ctx, func() (abuse.Decision, error) {
		return s.guard.AllowReferral(ctx, userID, referrer, u.ReferredBy != nil)
	}); err != nil {
		return err
	}

	if err := s.users.SetReferrer(ctx, userID, referrer); err != nil {
		switch {
		case errors.Is(err, user.ErrSelfReferral):
			return shared.ValidationError{Field: "referrer", Reason: err.Error()}
		case errors.Is(err, user.ErrAlreadyReferred):
			return shared.ConflictError{Resource: "referral", Key: userID}
		}
		return fmt.Errorf("failed to link referral for %s: %w", userID, err)
	}

	s.record("referral", s.guard.RecordReferral(ctx, userID, referrer))
	s.record("account", s.guard.RecordAccount(ctx, userID, client))
	s.logger.Info("Referral linked", "user_id", userID, "referrer", referrer)
	return nil
}

func (s *CasinoService) ApprovePayoutJob(ctx context.Context, jobID uuid.UUID, adminID string) error {
	return s.payouts.Approve(ctx, jobID, adminID)
}

func (s *CasinoService) RejectPayoutJob(ctx context.Context, jobID uuid.UUID, adminID, reason string) error {
	return s.payouts.Reject(ctx, jobID, adminID, reason)
}

// PlayGame resolves one bet and settles it in a single transaction
func (s *CasinoService) PlayGame(ctx context.Context, req PlayRequest) (*game.Play, error) {
	logger := s.logger.With("user_id", req.UserID, "game_type", string(req.GameType))

	// 1. Validate the request
	if err := user.ValidateAddress(req.UserID); err != nil {
		return nil, shared.ValidationError{Field: "user_id", Reason: err.Error()}
	}
	if req.BetAmount <= 0 {
		return nil, shared.ValidationError{Field: "bet_amount", Reason: "must be positive"}
	}
	if req.ClientSeed == "" {
		return nil, shared.ValidationError{Field: "client_seed", Reason: "must not be empty"}
	}
	clientCommit := req.ClientCommit
	if clientCommit == "" {
		clientCommit = fairness.HashClientSeed(req.ClientSeed)
	}

	// 2. Cheap balance pre-check so a doomed bet does not burn a commitment.
	// The ledger primitive re-checks under the row guard.
	u, err := s.users.GetByAddress(ctx, req.UserID)
	switch {
	case errors.Is(err, user.ErrUserNotFound{}):
		return nil, shared.InsufficientFundsError{UserID: req.UserID, Requested: req.BetAmount}
	case err != nil:
		return nil, fmt.Errorf("failed to load user %s: %w", req.UserID, err)
	case !u.CanSpend(req.BetAmount):
		return nil, shared.InsufficientFundsError{UserID: req.UserID, Requested: req.BetAmount, Available: u.Available()}
	}

	// 3. Commit inline when the caller skipped the commit round trip
	serverCommit := req.ServerCommit
	if serverCommit == "" {
		commitment, err := s.fairness.Commit(ctx)
		if err != nil {
			return nil, err
		}
		serverCommit = commitment.ServerCommit
	}

	// 4. Reveal; the play id doubles as the transaction reference mixed into the hash
	playID := s.newID()
	outcome, err := s.fairness.Reveal(ctx, fairness.RevealRequest{
		ServerCommit: serverCommit,
		ClientCommit: clientCommit,
		ClientSeed:   req.ClientSeed,
		GameType:     req.GameType,
		BetAmount:    req.BetAmount,
		TxRef:        playID.String(),
	})
	if err != nil {
		logger.Warn("Reveal rejected", "server_commit", serverCommit, "error", err)
		return nil, err
	}

	// 5. Debit, credit, record and emit atomically
	play := &game.Play{
		ID:           playID,
		UserID:       req.UserID,
		GameType:     req.GameType,
		BetAmount:    req.BetAmount,
		ClientSeed:   req.ClientSeed,
		ClientCommit: outcome.ClientCommit,
		ServerSeed:   outcome.ServerSeed,
		ServerCommit: outcome.ServerCommit,
		Nonce:        outcome.Nonce,
		TxRef:        playID.String(),
		Roll:         outcome.Roll,
		Won:          outcome.Won,
		Payout:       outcome.Payout,
		HouseFee:     outcome.HouseFee,
		FinalHash:    outcome.FinalHash,
		CreatedAt:    s.Now(),
	}
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		bet, err := s.ledger.Apply(ctx, tx, ledger.Mutation{
			UserID:      req.UserID,
			Type:        ledgerdomain.EntryTypeBet,
			Delta:       -req.BetAmount,
			ReferenceID: playID.String(),
		})
		if err != nil {
			return err
		}
		play.BalanceBefore = bet.BalanceAfter + req.BetAmount
		play.BalanceAfter = bet.BalanceAfter

		if outcome.Won && outcome.Payout > 0 {
			win, err := s.ledger.Apply(ctx, tx, ledger.Mutation{
				UserID:      req.UserID,
				Type:        ledgerdomain.EntryTypeWin,
				Delta:       outcome.Payout,
				ReferenceID: playID.String(),
			})
			if err != nil {
				return err
			}
			play.BalanceAfter = win.BalanceAfter
		}

		play.Seal()
		if err := s.plays.WithTx(tx).Create(ctx, play); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, shared.EventGameSettled, playID.String(), shared.GameSettledPayload{
			PlayID:       playID,
			UserID:       req.UserID,
			GameType:     string(req.GameType),
			BetAmount:    req.BetAmount,
			Won:          outcome.Won,
			Payout:       outcome.Payout,
			HouseFee:     outcome.HouseFee,
			BalanceAfter: play.BalanceAfter,
			ServerCommit: outcome.ServerCommit,
		})
	})
	if err != nil {
		logger.Error("Failed to settle game play", "play_id", playID.String(), "error", err)
		if errors.Is(err, shared.InsufficientFundsError{}) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to settle game play %s: %w", playID, err)
	}

	s.metrics.GamePlayed(string(req.GameType), outcome.Won, req.BetAmount)
	logger.Info("Game play settled",
		"play_id", playID.String(),
		"roll", outcome.Roll,
		"won", outcome.Won,
		"payout", outcome.Payout,
		"balance_after", play.BalanceAfter,
	)
	return play, nil
}

// VerifyPlay checks a stored play for tampering and recomputes its outcome from the revealed seeds
func (s *CasinoService) VerifyPlay(ctx context.Context, playID uuid.UUID) (*game.Play, error) {
	play, err := s.plays.GetByID(ctx, playID)
	if err != nil {
		return nil, fmt.Errorf("failed to load game play %s: %w", playID, err)
	}
	if !play.VerifyIntegrity() {
		return play, ErrIntegrityMismatch
	}
	if err := s.fairness.Verify(play); err != nil {
		return play, err
	}
	return play, nil
}

// check runs a guard decision. Guard storage failures deny the action.
func (s *CasinoService) check(ctx context.Context, decide func() (abuse.Decision, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := decide()
	if err != nil {
		return shared.TransientInfraError{Op: "abuse check", Err: err}
	}
	return d.Err()
}

func (s *CasinoService) record(what string, err error) {
	if err != nil {
		s.logger.Warn("Failed to record activity", "activity", what, "error", err)
	}
}
