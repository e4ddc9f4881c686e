// Package payouts drains the payout queue back to the chain.
//
// A withdrawal request reserves the user's funds and creates exactly one job.
// Jobs are claimed in batches and processed on a bounded worker pool. The user
// is debited only after the chain confirms the transfer; a job that used up its
// attempts releases the reservation instead. Once a transfer is submitted it is
// never resubmitted unless the chain reports it failed.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	ledgerdomain "github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/onchain-casino-settlement/internal/domain/withdrawal"
	"github.com/onchain-casino-settlement/internal/platform/chain"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
	"github.com/onchain-casino-settlement/internal/settlement_processor/ledger"
	"github.com/panjf2000/ants/v2"
)

// Config holds the payout processor settings
type Config struct {
	TreasuryAddress   string
	BatchSize         int
	AutoApprovalLimit int64
	MaxAttempts       int
	Confirmations     int
	FaucetAmount      int64
	RPCTimeout        time.Duration
	PoolSize          int
	ShutdownTimeout   time.Duration
}

const signatureWriteAttempts = 3

// FinalizeResult describes what FinalizeSubmitted did with a submitted job
type FinalizeResult string

const (
	FinalizeCompleted   FinalizeResult = "completed"
	FinalizeRequeued    FinalizeResult = "requeued"
	FinalizeFailed      FinalizeResult = "failed"
	FinalizeUnconfirmed FinalizeResult = "unconfirmed"
)

// Processor owns the payout job lifecycle
type Processor struct {
	db          persistence.TxRunner
	chain       chain.Client
	users       user.Repository
	withdrawals withdrawal.Repository
	jobs        payout.Repository
	ledger      *ledger.Service
	events      *ledger.Events
	metrics     *metrics.SettlementMetrics
	cfg         Config
	logger      *slog.Logger
	pool        *ants.Pool

	// signatureRetryDelay is the base backoff between signature writes
	signatureRetryDelay time.Duration

	Now func() time.Time
}

func NewProcessor(
	db persistence.TxRunner,
	chainClient chain.Client,
	users user.Repository,
	withdrawals withdrawal.Repository,
	jobs payout.Repository,
	ledgerService *ledger.Service,
	events *ledger.Events,
	m *metrics.SettlementMetrics,
	cfg Config,
	logger *slog.Logger,
) (*Processor, error) {
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout worker pool: %w", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = payout.DefaultMaxAttempts
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 1
	}
	return &Processor{
		db:          db,
		chain:       chainClient,
		users:       users,
		withdrawals: withdrawals,
		jobs:        jobs,
		ledger:      ledgerService,
		events:      events,
		metrics:     m,
		cfg:         cfg,
		logger:      logger.With("component", "payout_processor"),
		pool:        pool,

		signatureRetryDelay: 100 * time.Millisecond,
		Now:                 time.Now,
	}, nil
}

// RequestWithdrawal reserves amount and queues its payout job. Repeating a
// request with the same idempotency key returns the original withdrawal; a key
// the user already spent on a different destination or amount is a ConflictError.
func (p *Processor) RequestWithdrawal(ctx context.Context, userID, dest string, amount int64, idempotencyKey string) (*withdrawal.Withdrawal, error) {
	w, err := withdrawal.NewWithdrawal(userID, dest, amount, idempotencyKey)
	if err != nil {
		return nil, err
	}

	job, err := payout.NewWithdrawalJob(w.ID, userID, dest, amount, p.cfg.MaxAttempts)
	if err != nil {
		return nil, shared.ValidationError{Field: "amount", Reason: err.Error()}
	}

	var existing *withdrawal.Withdrawal
	err = p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		withdrawals := p.withdrawals.WithTx(tx)
		found, err := withdrawals.GetByIdempotencyKey(ctx, userID, idempotencyKey)
		if err == nil {
			existing = found
			return nil
		}
		if !errors.As(err, new(withdrawal.ErrWithdrawalNotFound)) {
			return fmt.Errorf("failed to look up idempotency key: %w", err)
		}

		if err := p.ledger.Reserve(ctx, tx, userID, amount); err != nil {
			return err
		}
		if err := withdrawals.Create(ctx, w); err != nil {
			return err
		}
		if err := p.jobs.WithTx(tx).Create(ctx, job); err != nil {
			return err
		}
		return p.events.Emit(ctx, tx, shared.EventWithdrawalCreated, w.ID.String(), payloadOf(job, "", ""))
	})
	if err != nil {
		if errors.Is(err, shared.ConflictError{Resource: "withdrawal"}) {
			// a concurrent request with the same key won the insert
			if existing, err = p.withdrawals.GetByIdempotencyKey(ctx, userID, idempotencyKey); err != nil {
				return nil, err
			}
		} else {
			p.logger.Warn("Withdrawal request rejected", "user_id", userID, "amount", amount, "error", err)
			return nil, err
		}
	}
	if existing != nil {
		if !existing.SameRequest(userID, dest, amount) {
			p.logger.Warn("Idempotency key reused for a different withdrawal",
				"user_id", userID,
				"idempotency_key", idempotencyKey,
				"withdrawal_id", existing.ID.String(),
			)
			return nil, shared.ConflictError{Resource: "withdrawal", Key: idempotencyKey}
		}
		p.logger.Info("Withdrawal request replayed", "withdrawal_id", existing.ID.String(), "idempotency_key", idempotencyKey)
		return existing, nil
	}

	p.logger.Info("Withdrawal requested",
		"withdrawal_id", w.ID.String(),
		"job_id", job.ID.String(),
		"user_id", userID,
		"amount", amount,
	)
	return w, nil
}

// RequestFaucet queues a treasury-funded payout that debits no user balance
func (p *Processor) RequestFaucet(ctx context.Context, userID, dest string) (*payout.Job, error) {
	if err := user.ValidateAddress(userID); err != nil {
		return nil, shared.ValidationError{Field: "user_id", Reason: err.Error()}
	}
	if err := user.ValidateAddress(dest); err != nil {
		return nil, shared.ValidationError{Field: "dest_address", Reason: err.Error()}
	}
	job, err := payout.NewFaucetJob(userID, dest, p.cfg.FaucetAmount, p.cfg.MaxAttempts)
	if err != nil {
		return nil, shared.ValidationError{Field: "amount", Reason: err.Error()}
	}

	err = p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := p.users.WithTx(tx).EnsureExists(ctx, userID); err != nil {
			return err
		}
		return p.jobs.WithTx(tx).Create(ctx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue faucet payout for %s: %w", userID, err)
	}
	p.logger.Info("Faucet payout queued", "job_id", job.ID.String(), "user_id", userID, "amount", job.AmountMinor)
	return job, nil
}

// DrainOnce claims a batch of pending jobs and processes them on the worker pool.
// It returns once every claimed job has finished its cycle.
func (p *Processor) DrainOnce(ctx context.Context) (int, error) {
	claimed, err := p.jobs.ClaimPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim payout jobs: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	p.logger.Debug("Claimed payout jobs", "count", len(claimed))

	var wg sync.WaitGroup
	var errs []error
	for _, job := range claimed {
		job := job
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			p.process(ctx, job)
		})
		if err != nil {
			wg.Done()
			// hand the job back so the next tick picks it up
			if _, rbErr := p.jobs.Transition(ctx, job.ID, payout.StatusProcessing, payout.StatusPending); rbErr != nil {
				errs = append(errs, rbErr)
			}
			errs = append(errs, fmt.Errorf("failed to submit payout job %s to pool: %w", job.ID, err))
		}
	}
	wg.Wait()
	return len(claimed), errors.Join(errs...)
}

// Approve releases a job held for approval and runs it through the normal path
func (p *Processor) Approve(ctx context.Context, jobID uuid.UUID, adminID string) error {
	if adminID == "" {
		return shared.ValidationError{Field: "admin_id", Reason: "required"}
	}

	var job *payout.Job
	err := p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		jobs := p.jobs.WithTx(tx)
		ok, err := jobs.Approve(ctx, jobID, adminID, p.Now())
		if err != nil {
			return err
		}
		if !ok {
			return p.notAwaitingApproval(ctx, jobs, jobID)
		}
		if job, err = jobs.GetByID(ctx, jobID); err != nil {
			return err
		}
		if job.WithdrawalID != nil {
			if _, err := p.withdrawals.WithTx(tx).Transition(ctx, *job.WithdrawalID, withdrawal.StatusPendingApproval, withdrawal.StatusProcessing); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("Payout job approved", "job_id", jobID.String(), "admin_id", adminID, "amount", job.AmountMinor)
	return p.runInPool(ctx, job)
}

// Reject closes a job held for approval and returns the reservation to the user
func (p *Processor) Reject(ctx context.Context, jobID uuid.UUID, adminID, reason string) error {
	if adminID == "" {
		return shared.ValidationError{Field: "admin_id", Reason: "required"}
	}
	if reason == "" {
		reason = "rejected by operator"
	}

	err := p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		jobs := p.jobs.WithTx(tx)
		ok, err := jobs.Transition(ctx, jobID, payout.StatusPendingApproval, payout.StatusRejected)
		if err != nil {
			return err
		}
		if !ok {
			return p.notAwaitingApproval(ctx, jobs, jobID)
		}
		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.DebitsUser() {
			if err := p.withdrawals.WithTx(tx).Fail(ctx, *job.WithdrawalID, withdrawal.StatusRejected, reason); err != nil {
				return err
			}
			if err := p.ledger.Release(ctx, tx, job.TargetUserID, job.AmountMinor); err != nil {
				return err
			}
		}
		return p.events.Emit(ctx, tx, shared.EventPayoutRejected, job.ID.String(), payloadOf(job, reason, adminID))
	})
	if err != nil {
		return err
	}

	p.metrics.PayoutOutcome("withdrawal", "rejected")
	p.logger.Info("Payout job rejected", "job_id", jobID.String(), "admin_id", adminID, "reason", reason)
	return nil
}

func (p *Processor) notAwaitingApproval(ctx context.Context, jobs payout.Repository, jobID uuid.UUID) error {
	job, err := jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, payout.ErrJobNotFound{}) {
			return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
		}
		return err
	}
	return shared.ValidationError{Field: "status", Reason: fmt.Sprintf("job %s is %s, not %s", jobID, job.Status, payout.StatusPendingApproval)}
}

// FinalizeSubmitted settles a processing job that already carries a signature.
// The sweep calls it for jobs whose confirmation wait timed out.
func (p *Processor) FinalizeSubmitted(ctx context.Context, job *payout.Job) (FinalizeResult, error) {
	if job.TxSignature == "" {
		return "", fmt.Errorf("payout job %s has no signature to finalize", job.ID)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	tx, err := p.chain.GetTransaction(rpcCtx, job.TxSignature)
	cancel()
	switch {
	case errors.Is(err, chain.ErrTransactionNotFound):
		// the transfer never landed; it is safe to submit again
		return p.recordFailure(ctx, job, fmt.Errorf("transaction %s dropped: %w", job.TxSignature, err)), nil
	case err != nil:
		return "", shared.TransientInfraError{Op: "get payout transaction " + job.TxSignature, Err: err}
	case tx.Err != "":
		return p.recordFailure(ctx, job, fmt.Errorf("transaction %s failed on chain: %s", job.TxSignature, tx.Err)), nil
	case tx.Confirmations < p.cfg.Confirmations:
		return FinalizeUnconfirmed, nil
	}

	if err := p.complete(ctx, job, job.TxSignature); err != nil {
		return "", err
	}
	return FinalizeCompleted, nil
}

// Shutdown waits for running jobs up to the configured timeout. Jobs cut off
// stay processing and are recovered by the sweep.
func (p *Processor) Shutdown() error {
	p.logger.Info("Shutting down payout worker pool", "running_workers", p.pool.Running())
	if err := p.pool.ReleaseTimeout(p.cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("payout worker pool did not drain: %w", err)
	}
	return nil
}

// Running returns the number of busy workers
func (p *Processor) Running() int {
	return p.pool.Running()
}

func (p *Processor) runInPool(ctx context.Context, job *payout.Job) error {
	done := make(chan struct{})
	if err := p.pool.Submit(func() {
		defer close(done)
		p.process(ctx, job)
	}); err != nil {
		return fmt.Errorf("failed to submit payout job %s to pool: %w", job.ID, err)
	}
	<-done
	return nil
}

// process runs one cycle of a claimed job. Errors end up on the job row, not the caller.
func (p *Processor) process(ctx context.Context, job *payout.Job) {
	logger := p.logger.With("job_id", job.ID.String(), "job_type", string(job.Type), "amount", job.AmountMinor)

	// 1. Large payouts wait for an operator
	if job.NeedsApproval(p.cfg.AutoApprovalLimit) {
		if err := p.holdForApproval(ctx, job); err != nil {
			logger.Error("Failed to hold payout job for approval", "error", err)
			return
		}
		p.metrics.PayoutOutcome(string(job.Type), "pending_approval")
		logger.Info("Payout job awaiting approval", "limit", p.cfg.AutoApprovalLimit)
		return
	}

	// 2. The reservation must still cover the payout
	if job.DebitsUser() {
		if err := p.recheck(ctx, job); err != nil {
			if errors.Is(err, shared.InsufficientFundsError{}) {
				logger.Error("Reservation no longer covers payout", "error", err)
				p.fail(ctx, job, err.Error(), false)
				return
			}
			logger.Warn("Ledger re-check failed", "error", err)
			p.recordFailure(ctx, job, err)
			return
		}
	}

	// 3. Submit the transfer
	start := time.Now()
	rpcCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	signature, err := p.chain.SubmitTransfer(rpcCtx, p.cfg.TreasuryAddress, job.DestAddress, job.AmountMinor)
	cancel()
	if err != nil {
		logger.Warn("Payout submission failed", "attempt", job.Attempts+1, "error", err)
		p.recordFailure(ctx, job, err)
		return
	}
	job.TxSignature = signature
	logger = logger.With("signature", signature)

	// 4. Persist the signature before waiting so a crash never leads to a resubmit
	recorded := true
	if err := p.recordSignature(ctx, job, signature); err != nil {
		recorded = false
		logger.Error("Failed to record payout signature", "error", err)
	}

	// 5. Wait for confirmation
	rpcCtx, cancel = context.WithTimeout(ctx, p.cfg.RPCTimeout)
	tx, err := p.chain.AwaitConfirmation(rpcCtx, signature, p.cfg.Confirmations)
	cancel()
	if err != nil {
		if tx != nil && tx.Err != "" {
			logger.Warn("Payout failed on chain", "chain_error", tx.Err)
			p.recordFailure(ctx, job, err)
			return
		}
		// the sweep only finalizes jobs that carry their signature
		if !recorded {
			if err := p.recordSignature(ctx, job, signature); err != nil {
				logger.Error("Submitted payout has no stored signature, operator must settle it", "error", err)
				p.metrics.PayoutOutcome(string(job.Type), "unrecorded")
				return
			}
		}
		logger.Warn("Payout confirmation pending, leaving for the sweep", "error", err)
		p.metrics.PayoutOutcome(string(job.Type), "unconfirmed")
		return
	}
	p.metrics.ObservePayoutLatency(string(job.Type), time.Since(start))

	// 6. Settle
	if err := p.complete(ctx, job, signature); err != nil {
		logger.Error("Failed to settle confirmed payout, leaving for the sweep", "error", err)
		return
	}
	logger.Info("Payout completed")
}

// recordSignature retries the signature write with a linear backoff
func (p *Processor) recordSignature(ctx context.Context, job *payout.Job, signature string) error {
	var err error
	for attempt := 1; attempt <= signatureWriteAttempts; attempt++ {
		if err = p.jobs.RecordSignature(ctx, job.ID, signature); err == nil {
			return nil
		}
		p.logger.Warn("Signature write failed", "job_id", job.ID.String(), "signature", signature, "attempt", attempt, "error", err)
		if attempt == signatureWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * p.signatureRetryDelay):
		}
	}
	return err
}

func (p *Processor) holdForApproval(ctx context.Context, job *payout.Job) error {
	return p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		ok, err := p.jobs.WithTx(tx).Transition(ctx, job.ID, payout.StatusProcessing, payout.StatusPendingApproval)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("payout job %s left processing concurrently", job.ID)
		}
		job.Status = payout.StatusPendingApproval
		if job.WithdrawalID != nil {
			if _, err := p.withdrawals.WithTx(tx).Transition(ctx, *job.WithdrawalID, withdrawal.StatusPending, withdrawal.StatusPendingApproval); err != nil {
				return err
			}
		}
		return p.events.Emit(ctx, tx, shared.EventPayoutApproval, job.ID.String(), payloadOf(job, "", ""))
	})
}

func (p *Processor) recheck(ctx context.Context, job *payout.Job) error {
	u, err := p.users.GetByAddress(ctx, job.TargetUserID)
	if err != nil {
		return fmt.Errorf("failed to re-read user %s: %w", job.TargetUserID, err)
	}
	if u.ReservedBalance < job.AmountMinor || u.Balance < job.AmountMinor {
		return shared.InsufficientFundsError{UserID: u.Address, Requested: job.AmountMinor, Available: u.ReservedBalance}
	}
	if _, err := p.withdrawals.Transition(ctx, *job.WithdrawalID, withdrawal.StatusPending, withdrawal.StatusProcessing); err != nil {
		return err
	}
	return nil
}

func (p *Processor) complete(ctx context.Context, job *payout.Job, signature string) error {
	err := p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if job.DebitsUser() {
			if _, err := p.ledger.Apply(ctx, tx, ledger.Mutation{
				UserID:          job.TargetUserID,
				Type:            ledgerdomain.EntryTypeWithdrawal,
				Delta:           -job.AmountMinor,
				ReleaseReserved: job.AmountMinor,
				ReferenceID:     job.WithdrawalID.String(),
			}); err != nil {
				return err
			}
			if err := p.withdrawals.WithTx(tx).Complete(ctx, *job.WithdrawalID, signature); err != nil {
				return err
			}
		}
		if err := p.jobs.WithTx(tx).Complete(ctx, job.ID); err != nil {
			return err
		}
		job.Status = payout.StatusCompleted
		job.TxSignature = signature
		return p.events.Emit(ctx, tx, shared.EventPayoutCompleted, job.ID.String(), payloadOf(job, "", job.ApprovedBy))
	})
	if err != nil {
		return fmt.Errorf("failed to complete payout job %s: %w", job.ID, err)
	}
	p.metrics.PayoutOutcome(string(job.Type), "completed")
	return nil
}

// recordFailure counts a failed cycle; the job goes back to pending until it runs out of attempts
func (p *Processor) recordFailure(ctx context.Context, job *payout.Job, cause error) FinalizeResult {
	status := job.RecordFailure(cause)
	job.TxSignature = ""
	if status == payout.StatusFailed {
		reason := fmt.Sprintf("payout failed after %d attempts: %s", job.Attempts, job.LastError)
		p.fail(ctx, job, reason, true)
		return FinalizeFailed
	}

	if err := p.jobs.RecordAttempt(ctx, job); err != nil {
		p.logger.Error("Failed to record payout attempt", "job_id", job.ID.String(), "error", err)
	}
	p.metrics.PayoutOutcome(string(job.Type), "retry")
	return FinalizeRequeued
}

// fail closes the job and its withdrawal; release returns the reservation to the user
func (p *Processor) fail(ctx context.Context, job *payout.Job, reason string, release bool) {
	job.Status = payout.StatusFailed
	job.TxSignature = ""
	job.UpdatedAt = p.Now()
	err := p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := p.jobs.WithTx(tx).RecordAttempt(ctx, job); err != nil {
			return err
		}
		if job.DebitsUser() {
			if err := p.withdrawals.WithTx(tx).Fail(ctx, *job.WithdrawalID, withdrawal.StatusFailed, reason); err != nil {
				return err
			}
			if release {
				if err := p.ledger.Release(ctx, tx, job.TargetUserID, job.AmountMinor); err != nil {
					return err
				}
			}
		}
		return p.events.Emit(ctx, tx, shared.EventPayoutFailed, job.ID.String(), payloadOf(job, reason, ""))
	})
	if err != nil {
		p.logger.Error("Failed to mark payout job failed", "job_id", job.ID.String(), "error", err)
		return
	}

	p.metrics.PayoutOutcome(string(job.Type), "failed")
	p.logger.Error("Payout job failed permanently",
		"error", shared.FatalJobError{JobID: job.ID, Attempts: job.Attempts, Reason: reason},
		"user_id", job.TargetUserID,
	)
}

func payloadOf(job *payout.Job, reason, actor string) shared.PayoutPayload {
	return shared.PayoutPayload{
		JobID:        job.ID,
		WithdrawalID: job.WithdrawalID,
		JobType:      string(job.Type),
		UserID:       job.TargetUserID,
		DestAddress:  job.DestAddress,
		Amount:       job.AmountMinor,
		Status:       string(job.Status),
		TxSignature:  job.TxSignature,
		Attempts:     job.Attempts,
		Reason:       reason,
		Actor:        actor,
	}
}
