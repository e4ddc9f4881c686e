// Package ledger is the single entry point for balance mutations. Every change
// to users.balance goes through Apply, which pairs one guarded compare-and-update
// with exactly one treasury_ledger entry inside the caller's transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
)

// Mutation describes one balance change
type Mutation struct {
	UserID string
	Type   ledger.EntryType
	Delta  int64
	// ReleaseReserved is taken out of the reservation in the same statement;
	// used when a withdrawal completes
	ReleaseReserved int64
	ReferenceID     string
}

func (m Mutation) validate() error {
	switch {
	case m.UserID == "":
		return shared.ValidationError{Field: "user_id", Reason: "required"}
	case !m.Type.Valid():
		return shared.ValidationError{Field: "type", Reason: ledger.ErrInvalidEntryType.Error()}
	case m.Delta == 0:
		return shared.ValidationError{Field: "delta", Reason: "must not be zero"}
	case m.ReleaseReserved < 0:
		return shared.ValidationError{Field: "release_reserved", Reason: "must not be negative"}
	case m.ReferenceID == "":
		return shared.ValidationError{Field: "reference_id", Reason: "required"}
	}
	return nil
}

// Service applies balance mutations
type Service struct {
	users   user.Repository
	entries ledger.Repository
	logger  *slog.Logger
}

// NewService creates a ledger service
func NewService(users user.Repository, entries ledger.Repository, logger *slog.Logger) *Service {
	return &Service{
		users:   users,
		entries: entries,
		logger:  logger,
	}
}

// Apply performs the mutation inside tx and returns the appended entry.
// A rejected guard surfaces as InsufficientFundsError, a missing user as ErrNotFound.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, m Mutation) (*ledger.Entry, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	users := s.users.WithTx(tx)
	balance, err := users.ApplyDelta(ctx, m.UserID, m.Delta, m.ReleaseReserved)
	if err != nil {
		if errors.Is(err, user.ErrBalanceGuard) {
			return nil, s.guardError(ctx, users, m.UserID, -m.Delta, m.ReleaseReserved)
		}
		return nil, fmt.Errorf("failed to apply %s delta for %s: %w", m.Type, m.UserID, err)
	}

	entry := &ledger.Entry{
		UserID:       m.UserID,
		Type:         m.Type,
		AmountDelta:  m.Delta,
		BalanceAfter: balance,
		ReferenceID:  m.ReferenceID,
	}
	if err := s.entries.WithTx(tx).Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append %s entry for %s: %w", m.Type, m.UserID, err)
	}

	s.logger.Debug("Ledger mutation applied",
		"user_id", m.UserID,
		"type", string(m.Type),
		"delta", m.Delta,
		"released", m.ReleaseReserved,
		"balance_after", balance,
		"reference_id", m.ReferenceID,
	)
	return entry, nil
}

// Reserve holds amount of the user's available balance for a withdrawal
func (s *Service) Reserve(ctx context.Context, tx pgx.Tx, userID string, amount int64) error {
	if amount <= 0 {
		return shared.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	users := s.users.WithTx(tx)
	if err := users.Reserve(ctx, userID, amount); err != nil {
		if errors.Is(err, user.ErrBalanceGuard) {
			return s.guardError(ctx, users, userID, amount, 0)
		}
		return fmt.Errorf("failed to reserve %d for %s: %w", amount, userID, err)
	}
	return nil
}

// Release returns a reservation to the available balance
func (s *Service) Release(ctx context.Context, tx pgx.Tx, userID string, amount int64) error {
	if err := s.users.WithTx(tx).Release(ctx, userID, amount); err != nil {
		return fmt.Errorf("failed to release %d for %s: %w", amount, userID, err)
	}
	return nil
}

// Conservation returns the ledger sum and the cached balance of a user.
// The two must be equal; the sweep flags any drift.
func (s *Service) Conservation(ctx context.Context, userID string) (sum, balance int64, err error) {
	u, err := s.users.GetByAddress(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	sum, err = s.entries.SumByUser(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return sum, u.Balance, nil
}

func (s *Service) guardError(ctx context.Context, users user.Repository, userID string, requested, released int64) error {
	u, err := users.GetByAddress(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound{}) {
			return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
		}
		return fmt.Errorf("failed to read user %s after rejected mutation: %w", userID, err)
	}
	return shared.InsufficientFundsError{
		UserID:    userID,
		Requested: requested,
		Available: u.Available() + released,
	}
}
