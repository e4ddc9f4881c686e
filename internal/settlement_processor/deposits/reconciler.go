// Package deposits credits inbound treasury transfers to users exactly once.
//
// A signature moves through unseen -> matched (pending row) -> credited
// (confirmed row plus one ledger entry). Polling, push notifications and the
// sweep all feed the same ProcessSignature, so whichever producer sees a
// signature first wins and the others become no-ops.
package deposits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/deposit"
	ledgerdomain "github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/onchain-casino-settlement/internal/platform/cache"
	"github.com/onchain-casino-settlement/internal/platform/chain"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
	"github.com/onchain-casino-settlement/internal/settlement_processor/ledger"
)

const (
	intentKeyPrefix = "deposit:intent:"
	pollCursorKey   = "deposit:poll:cursor"

	defaultSignatureLimit = 50
	defaultCursorTTL      = 30 * 24 * time.Hour
)

// Source labels the producer that handed a signature to the reconciler
type Source string

const (
	SourcePoll  Source = "poll"
	SourcePush  Source = "push"
	SourceSweep Source = "sweep"
)

// Result describes what ProcessSignature did with a signature
type Result string

const (
	ResultAlreadyProcessed Result = "already_processed"
	ResultIgnored          Result = "ignored"
	ResultUnparsable       Result = "unparsable_memo"
	ResultPending          Result = "pending"
	ResultCredited         Result = "credited"
	ResultDuplicate        Result = "duplicate"
)

// Config holds the reconciler settings
type Config struct {
	TreasuryAddress       string
	ConfirmationThreshold int
	SignatureLimit        int
	IntentTTL             time.Duration
	RPCTimeout            time.Duration
	// CursorTTL bounds how long the poll cursor survives in the cache. Losing it
	// only costs a walk over the full treasury history.
	CursorTTL time.Duration
}

// Intent tells a player where to send funds and which memo to attach
type Intent struct {
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	Memo      string    `json:"memo"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Reconciler matches treasury transfers to users and credits them
type Reconciler struct {
	db       persistence.TxRunner
	chain    chain.Client
	users    user.Repository
	deposits deposit.Repository
	ledger   *ledger.Service
	events   *ledger.Events
	cache    cache.Store
	metrics  *metrics.SettlementMetrics
	cfg      Config
	logger   *slog.Logger

	mu        sync.RWMutex
	processed map[string]struct{}
	// cursor is the newest signature of the last poll in which every older signature was handled
	cursor string

	Now func() time.Time
}

func NewReconciler(
	db persistence.TxRunner,
	chainClient chain.Client,
	users user.Repository,
	deposits deposit.Repository,
	ledgerService *ledger.Service,
	events *ledger.Events,
	store cache.Store,
	m *metrics.SettlementMetrics,
	cfg Config,
	logger *slog.Logger,
) *Reconciler {
	if cfg.ConfirmationThreshold <= 0 {
		cfg.ConfirmationThreshold = 1
	}
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = defaultSignatureLimit
	}
	if cfg.CursorTTL <= 0 {
		cfg.CursorTTL = defaultCursorTTL
	}
	return &Reconciler{
		db:        db,
		chain:     chainClient,
		users:     users,
		deposits:  deposits,
		ledger:    ledgerService,
		events:    events,
		cache:     store,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With("component", "deposit_reconciler"),
		processed: make(map[string]struct{}),
		Now:       time.Now,
	}
}

// CreateDepositIntent returns the treasury address and memo a user must deposit with.
// The intent is informational; a deposit is matched by its memo alone.
func (r *Reconciler) CreateDepositIntent(ctx context.Context, userID string) (*Intent, error) {
	if err := user.ValidateAddress(userID); err != nil {
		return nil, shared.ValidationError{Field: "user_id", Reason: err.Error()}
	}
	if err := r.users.EnsureExists(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to register user %s: %w", userID, err)
	}

	now := r.Now()
	intent := &Intent{
		UserID:    userID,
		Address:   r.cfg.TreasuryAddress,
		Memo:      deposit.NewMemo(userID, now),
		ExpiresAt: now.Add(r.cfg.IntentTTL),
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deposit intent: %w", err)
	}
	if err := r.cache.Set(ctx, intentKeyPrefix+intent.Memo, data, r.cfg.IntentTTL); err != nil {
		// the memo alone is enough to match the deposit later
		r.logger.Warn("Failed to cache deposit intent", "user_id", userID, "error", err)
	}

	r.logger.Info("Deposit intent created", "user_id", userID, "memo", intent.Memo)
	return intent, nil
}

// Seed loads already credited signatures so restarts skip them without an RPC
// call, and restores the poll cursor.
func (r *Reconciler) Seed(ctx context.Context) error {
	sigs, err := r.deposits.ListConfirmedSignatures(ctx)
	if err != nil {
		return fmt.Errorf("failed to load confirmed deposit signatures: %w", err)
	}

	cursor, err := r.cache.Get(ctx, pollCursorKey)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn("Failed to load poll cursor, next poll walks the full history", "error", err)
	}

	r.mu.Lock()
	for _, sig := range sigs {
		r.processed[sig] = struct{}{}
	}
	r.cursor = string(cursor)
	r.mu.Unlock()

	r.logger.Info("Processed signature set seeded", "count", len(sigs), "cursor", string(cursor))
	return nil
}

// PollOnce pages back through treasury signatures until it reaches the cursor
// left by the last clean poll, then processes them oldest first. The cursor only
// moves when every signature of the pass was handled, so a signature that fails
// transiently is picked up again on the next tick.
func (r *Reconciler) PollOnce(ctx context.Context) error {
	r.mu.RLock()
	cursor := r.cursor
	r.mu.RUnlock()

	sigs, err := r.signaturesSince(ctx, cursor)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return nil
	}

	var errs []error
	for i := len(sigs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := r.ProcessSignature(ctx, sigs[i], SourcePoll); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		r.logger.Warn("Poll left signatures unprocessed, cursor kept", "cursor", cursor, "new_signatures", len(sigs), "failed", len(errs))
		return errors.Join(errs...)
	}

	r.advanceCursor(ctx, sigs[0])
	r.logger.Debug("Poll finished", "new_signatures", len(sigs), "cursor", sigs[0])
	return nil
}

// signaturesSince returns every treasury signature newer than cursor, newest first
func (r *Reconciler) signaturesSince(ctx context.Context, cursor string) ([]string, error) {
	var (
		out    []string
		before string
	)
	for {
		rpcCtx, cancel := context.WithTimeout(ctx, r.cfg.RPCTimeout)
		page, err := r.chain.RecentSignatures(rpcCtx, r.cfg.TreasuryAddress, before, r.cfg.SignatureLimit)
		cancel()
		if err != nil {
			return nil, shared.TransientInfraError{Op: "list treasury signatures", Err: err}
		}

		for _, sig := range page {
			if sig == cursor {
				return out, nil
			}
			out = append(out, sig)
		}
		if len(page) < r.cfg.SignatureLimit {
			return out, nil
		}
		before = page[len(page)-1]
	}
}

func (r *Reconciler) advanceCursor(ctx context.Context, newest string) {
	r.mu.Lock()
	r.cursor = newest
	r.mu.Unlock()

	if err := r.cache.Set(ctx, pollCursorKey, []byte(newest), r.cfg.CursorTTL); err != nil {
		r.logger.Warn("Failed to persist poll cursor", "cursor", newest, "error", err)
	}
}

// ProcessSignature is the single idempotent consumer of treasury signatures
func (r *Reconciler) ProcessSignature(ctx context.Context, signature string, source Source) (Result, error) {
	logger := r.logger.With("signature", signature, "source", string(source))

	// 1. Skip signatures already credited or permanently rejected
	if r.isProcessed(signature) {
		return ResultAlreadyProcessed, nil
	}

	// 2. Fetch the transaction from the chain
	rpcCtx, cancel := context.WithTimeout(ctx, r.cfg.RPCTimeout)
	tx, err := r.chain.GetTransaction(rpcCtx, signature)
	cancel()
	if err != nil {
		logger.Warn("Transaction lookup failed, retrying next tick", "error", err)
		return "", shared.TransientInfraError{Op: "get transaction " + signature, Err: err}
	}

	// 3. Only successful transfers into the treasury are deposits
	amount := tx.AmountTo(r.cfg.TreasuryAddress)
	if tx.Err != "" || amount <= 0 {
		logger.Debug("Signature is not a deposit", "error", shared.ErrNotTreasuryTransfer, "chain_error", tx.Err)
		r.markProcessed(signature)
		r.metrics.DepositSkipped("not_treasury_transfer")
		return ResultIgnored, nil
	}

	// 4. The memo names the user; a bad memo is never retried
	userID, _, err := deposit.ParseMemo(tx.Memo)
	if err != nil {
		logger.Warn("Deposit memo rejected", "memo", tx.Memo, "amount", amount, "error", err)
		r.markProcessed(signature)
		r.metrics.DepositSkipped("unparsable_memo")
		return ResultUnparsable, nil
	}

	// 5. Record and, once confirmed, credit in one transaction
	var result Result
	var entry *ledgerdomain.Entry
	err = r.db.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		result, entry = "", nil
		if err := r.users.WithTx(dbTx).EnsureExists(ctx, userID); err != nil {
			return err
		}

		deposits := r.deposits.WithTx(dbTx)
		inserted, err := deposits.InsertPending(ctx, &deposit.Deposit{
			Signature:     signature,
			UserID:        userID,
			AmountMinor:   amount,
			Memo:          tx.Memo,
			Slot:          tx.Slot,
			Confirmations: tx.Confirmations,
			Status:        deposit.StatusPending,
			CreatedAt:     r.Now(),
		})
		if err != nil {
			return err
		}

		if tx.Confirmations < r.cfg.ConfirmationThreshold {
			result = ResultPending
			if inserted {
				return nil
			}
			return deposits.UpdateConfirmations(ctx, signature, tx.Confirmations)
		}

		confirmed, err := deposits.MarkConfirmed(ctx, signature, tx.Confirmations, r.Now())
		if err != nil {
			return err
		}
		if !confirmed {
			result = ResultDuplicate
			return nil
		}

		entry, err = r.ledger.Apply(ctx, dbTx, ledger.Mutation{
			UserID:      userID,
			Type:        ledgerdomain.EntryTypeDeposit,
			Delta:       amount,
			ReferenceID: signature,
		})
		if err != nil {
			return err
		}
		result = ResultCredited
		return r.events.Emit(ctx, dbTx, shared.EventDepositCredited, signature, shared.DepositCreditedPayload{
			Signature:    signature,
			UserID:       userID,
			Amount:       amount,
			BalanceAfter: entry.BalanceAfter,
			Slot:         tx.Slot,
		})
	})
	if err != nil {
		logger.Error("Failed to record deposit", "user_id", userID, "amount", amount, "error", err)
		return "", fmt.Errorf("failed to record deposit %s: %w", signature, err)
	}

	switch result {
	case ResultCredited:
		r.markProcessed(signature)
		r.metrics.DepositCredited(string(source), amount)
		logger.Info("Deposit credited",
			"user_id", userID,
			"amount", amount,
			"balance_after", entry.BalanceAfter,
			"confirmations", tx.Confirmations,
		)
	case ResultDuplicate:
		r.markProcessed(signature)
		logger.Debug("Deposit already credited", "user_id", userID)
	case ResultPending:
		logger.Info("Deposit awaiting confirmations",
			"user_id", userID,
			"amount", amount,
			"confirmations", tx.Confirmations,
			"threshold", r.cfg.ConfirmationThreshold,
		)
	}
	return result, nil
}

func (r *Reconciler) isProcessed(signature string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.processed[signature]
	return ok
}

func (r *Reconciler) markProcessed(signature string) {
	r.mu.Lock()
	r.processed[signature] = struct{}{}
	r.mu.Unlock()
}
