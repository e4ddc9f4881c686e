// Package memory holds in-memory implementations of the settlement repositories.
// They back component tests and the local devnet mode. A Store keeps every table
// behind one mutex; ExecuteTx holds it for the whole callback and restores a
// snapshot when the callback fails, which gives the same all-or-nothing
// behaviour as a PostgreSQL transaction at a much coarser granularity.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/deposit"
	"github.com/onchain-casino-settlement/internal/domain/discrepancy"
	"github.com/onchain-casino-settlement/internal/domain/game"
	"github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/onchain-casino-settlement/internal/domain/withdrawal"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
)

var _ persistence.TxRunner = (*Store)(nil)

type tables struct {
	users         map[string]user.User
	entries       []ledger.Entry
	deposits      map[string]deposit.Deposit
	withdrawals   map[uuid.UUID]withdrawal.Withdrawal
	jobs          map[uuid.UUID]payout.Job
	plays         map[uuid.UUID]game.Play
	discrepancies []discrepancy.BalanceDiscrepancy
	messages      []outbox.Message
	events        map[uuid.UUID]outbox.Event
}

func newTables() tables {
	return tables{
		users:       make(map[string]user.User),
		deposits:    make(map[string]deposit.Deposit),
		withdrawals: make(map[uuid.UUID]withdrawal.Withdrawal),
		jobs:        make(map[uuid.UUID]payout.Job),
		plays:       make(map[uuid.UUID]game.Play),
		events:      make(map[uuid.UUID]outbox.Event),
	}
}

func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.deposits {
		c.deposits[k] = v
	}
	for k, v := range t.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range t.jobs {
		c.jobs[k] = v
	}
	for k, v := range t.plays {
		c.plays[k] = v
	}
	for k, v := range t.events {
		c.events[k] = v
	}
	c.entries = append([]ledger.Entry(nil), t.entries...)
	c.discrepancies = append([]discrepancy.BalanceDiscrepancy(nil), t.discrepancies...)
	c.messages = append([]outbox.Message(nil), t.messages...)
	return c
}

// Store is the shared backing state of all in-memory repositories
type Store struct {
	mu sync.Mutex
	t  tables

	// Now is the clock used for timestamps; tests may replace it
	Now func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{t: newTables(), Now: time.Now}
}

// ExecuteTx runs fn with the store locked and rolls every table back if fn
// returns an error or panics. The pgx.Tx passed to fn is nil; repositories
// obtained through WithTx inside fn skip their own locking.
func (s *Store) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.t.clone()
	defer func() {
		if r := recover(); r != nil {
			s.t = snapshot
			panic(r)
		}
	}()

	if err = fn(nil); err != nil {
		s.t = snapshot
	}
	return err
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Users returns a user repository over the store
func (s *Store) Users() user.Repository { return &UserRepository{store: s} }

// Ledger returns a treasury ledger repository over the store
func (s *Store) Ledger() ledger.Repository { return &LedgerRepository{store: s} }

// Deposits returns a deposit repository over the store
func (s *Store) Deposits() deposit.Repository { return &DepositRepository{store: s} }

// Withdrawals returns a withdrawal repository over the store
func (s *Store) Withdrawals() withdrawal.Repository { return &WithdrawalRepository{store: s} }

// Payouts returns a payout job repository over the store
func (s *Store) Payouts() payout.Repository { return &PayoutRepository{store: s} }

// Games returns a game play repository over the store
func (s *Store) Games() game.Repository { return &GameRepository{store: s} }

// Discrepancies returns a discrepancy repository over the store
func (s *Store) Discrepancies() discrepancy.Repository { return &DiscrepancyRepository{store: s} }

// Outbox returns an outbox repository over the store
func (s *Store) Outbox() outbox.Repository { return &OutboxRepository{store: s} }

// Events returns an audit event store over the store
func (s *Store) Events() outbox.EventStore { return &EventStore{store: s} }
