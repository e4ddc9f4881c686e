// Package sweep periodically cross-checks the books against the chain and
// finishes work the fast paths left behind. It flags discrepancies for
// operators and never corrects a balance itself.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/deposit"
	"github.com/onchain-casino-settlement/internal/domain/discrepancy"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/onchain-casino-settlement/internal/platform/chain"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
	"github.com/onchain-casino-settlement/internal/settlement_processor/deposits"
	"github.com/onchain-casino-settlement/internal/settlement_processor/ledger"
	"github.com/onchain-casino-settlement/internal/settlement_processor/payouts"
)

// Depositor re-drives deposits that are still waiting for confirmations
type Depositor interface {
	ProcessSignature(ctx context.Context, signature string, source deposits.Source) (deposits.Result, error)
}

// Finalizer settles payout jobs that were submitted but never confirmed
type Finalizer interface {
	FinalizeSubmitted(ctx context.Context, job *payout.Job) (payouts.FinalizeResult, error)
}

type Config struct {
	TreasuryAddress      string
	OpeningFloat         int64
	Tolerance            int64
	StaleProcessingAfter time.Duration
	RPCTimeout           time.Duration
	BatchSize            int
}

// Report summarizes one sweep pass
type Report struct {
	TreasuryDelta     int64
	UsersChecked      int
	DepositsRechecked int
	PayoutsFinalized  int
	Flagged           int
}

type Sweep struct {
	db            persistence.TxRunner
	chain         chain.Client
	users         user.Repository
	deposits      deposit.Repository
	jobs          payout.Repository
	discrepancies discrepancy.Repository
	ledger        *ledger.Service
	events        *ledger.Events
	depositor     Depositor
	finalizer     Finalizer
	metrics       *metrics.SettlementMetrics
	cfg           Config
	logger        *slog.Logger

	Now func() time.Time
}

func New(
	db persistence.TxRunner,
	chainClient chain.Client,
	users user.Repository,
	deposits deposit.Repository,
	jobs payout.Repository,
	discrepancies discrepancy.Repository,
	ledgerService *ledger.Service,
	events *ledger.Events,
	depositor Depositor,
	finalizer Finalizer,
	m *metrics.SettlementMetrics,
	cfg Config,
	logger *slog.Logger,
) *Sweep {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweep{
		db:            db,
		chain:         chainClient,
		users:         users,
		deposits:      deposits,
		jobs:          jobs,
		discrepancies: discrepancies,
		ledger:        ledgerService,
		events:        events,
		depositor:     depositor,
		finalizer:     finalizer,
		metrics:       m,
		cfg:           cfg,
		logger:        logger.With("component", "balance_sweep"),
		Now:           time.Now,
	}
}

// RunOnce performs every check once. A failing check does not stop the others;
// their errors are joined.
func (s *Sweep) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{}
	var errs []error

	// 1. Treasury balance against the books
	if err := s.checkTreasury(ctx, report); err != nil {
		errs = append(errs, err)
	}

	// 2. Cached balances against ledger sums for active users
	if err := s.checkLedgerDrift(ctx, report); err != nil {
		errs = append(errs, err)
	}

	// 3. Deposits still waiting for confirmations
	if err := s.recheckDeposits(ctx, report); err != nil {
		errs = append(errs, err)
	}

	// 4. Payouts stuck in processing
	if err := s.recoverPayouts(ctx, report); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("Sweep completed",
		"treasury_delta", report.TreasuryDelta,
		"users_checked", report.UsersChecked,
		"deposits_rechecked", report.DepositsRechecked,
		"payouts_finalized", report.PayoutsFinalized,
		"flagged", report.Flagged,
	)
	return report, errors.Join(errs...)
}

func (s *Sweep) checkTreasury(ctx context.Context, report *Report) error {
	rpcCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	observed, err := s.chain.GetBalance(rpcCtx, s.cfg.TreasuryAddress)
	cancel()
	if err != nil {
		return shared.TransientInfraError{Op: "get treasury balance", Err: err}
	}

	deposited, err := s.deposits.SumConfirmed(ctx)
	if err != nil {
		return fmt.Errorf("failed to sum confirmed deposits: %w", err)
	}
	paidOut, err := s.jobs.SumCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to sum completed payouts: %w", err)
	}

	expected := s.cfg.OpeningFloat + deposited - paidOut
	finding := discrepancy.New(discrepancy.KindTreasuryMismatch, s.cfg.TreasuryAddress, expected, observed,
		fmt.Sprintf("opening float %d, confirmed deposits %d, completed payouts %d", s.cfg.OpeningFloat, deposited, paidOut))
	report.TreasuryDelta = finding.Delta
	s.metrics.SetTreasuryDelta(finding.Delta)

	if !finding.Exceeds(s.cfg.Tolerance) {
		return nil
	}
	s.logger.Warn("Treasury balance does not match the books",
		"expected", expected,
		"observed", observed,
		"delta", finding.Delta,
		"tolerance", s.cfg.Tolerance,
	)
	return s.flag(ctx, finding, report)
}

func (s *Sweep) checkLedgerDrift(ctx context.Context, report *Report) error {
	users, err := s.users.ListWithPendingActivity(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list active users: %w", err)
	}

	var errs []error
	for _, u := range users {
		report.UsersChecked++
		sum, balance, err := s.ledger.Conservation(ctx, u.Address)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sum == balance {
			continue
		}
		s.logger.Error("Ledger drift detected", "user_id", u.Address, "ledger_sum", sum, "balance", balance)
		finding := discrepancy.New(discrepancy.KindLedgerDrift, u.Address, sum, balance, "cached balance differs from ledger sum")
		if err := s.flag(ctx, finding, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sweep) recheckDeposits(ctx context.Context, report *Report) error {
	pending, err := s.deposits.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending deposits: %w", err)
	}

	var errs []error
	for _, d := range pending {
		result, err := s.depositor.ProcessSignature(ctx, d.Signature, deposits.SourceSweep)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.DepositsRechecked++
		s.logger.Debug("Pending deposit rechecked", "signature", d.Signature, "result", string(result))
	}
	return errors.Join(errs...)
}

func (s *Sweep) recoverPayouts(ctx context.Context, report *Report) error {
	cutoff := s.Now().Add(-s.cfg.StaleProcessingAfter)
	stale, err := s.jobs.ListProcessing(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list processing payout jobs: %w", err)
	}

	var errs []error
	for _, job := range stale {
		logger := s.logger.With("job_id", job.ID.String(), "job_type", string(job.Type))

		// Without a signature the job may or may not have reached the chain.
		// Resubmitting could pay twice, so an operator decides.
		if job.TxSignature == "" {
			logger.Warn("Processing payout has no signature", "updated_at", job.UpdatedAt)
			finding := discrepancy.New(discrepancy.KindStalePayout, job.ID.String(), job.AmountMinor, 0,
				"processing since "+job.UpdatedAt.UTC().Format(time.RFC3339)+" without a transaction signature")
			if err := s.flag(ctx, finding, report); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		result, err := s.finalizer.FinalizeSubmitted(ctx, job)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("Submitted payout finalized", "signature", job.TxSignature, "result", string(result))
		if result != payouts.FinalizeUnconfirmed {
			report.PayoutsFinalized++
			continue
		}

		finding := discrepancy.New(discrepancy.KindUnconfirmedPayout, job.ID.String(), job.AmountMinor, 0,
			"transaction "+job.TxSignature+" still below the confirmation threshold")
		if err := s.flag(ctx, finding, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flag persists a finding and its outbox event unless the same subject is already open
func (s *Sweep) flag(ctx context.Context, finding *discrepancy.BalanceDiscrepancy, report *Report) error {
	finding.CreatedAt = s.Now()
	created := false
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		created = false
		repo := s.discrepancies.WithTx(tx)
		open, err := repo.ExistsUnresolved(ctx, finding.Kind, finding.Subject)
		if err != nil {
			return err
		}
		if open {
			return nil
		}
		if err := repo.Create(ctx, finding); err != nil {
			return err
		}
		created = true
		return s.events.Emit(ctx, tx, shared.EventDiscrepancyFlagged, strconv.FormatInt(finding.ID, 10), shared.DiscrepancyPayload{
			Kind:     string(finding.Kind),
			Subject:  finding.Subject,
			Expected: finding.Expected,
			Observed: finding.Observed,
			Delta:    finding.Delta,
			Details:  finding.Details,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to flag %s discrepancy for %s: %w", finding.Kind, finding.Subject, err)
	}
	if created {
		report.Flagged++
		s.metrics.DiscrepancyFlagged(string(finding.Kind))
	}
	return nil
}
