package ledger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/data/memory"
	"github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Users().EnsureExists(context.Background(), "UserA"))
	return NewService(store.Users(), store.Ledger(), newTestLogger()), store
}

func apply(t *testing.T, store *memory.Store, svc *Service, m Mutation) (*ledger.Entry, error) {
	t.Helper()
	var entry *ledger.Entry
	err := store.ExecuteTx(context.Background(), func(tx pgx.Tx) error {
		var err error
		entry, err = svc.Apply(context.Background(), tx, m)
		return err
	})
	return entry, err
}

func TestService_Apply(t *testing.T) {
	svc, store := newTestService(t)

	entry, err := apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeDeposit, Delta: 1000, ReferenceID: "sigA"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), entry.BalanceAfter)
	assert.Equal(t, int64(1), entry.ID)

	entry, err = apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeBet, Delta: -300, ReferenceID: "play-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(700), entry.BalanceAfter)

	sum, balance, err := svc.Conservation(context.Background(), "UserA")
	require.NoError(t, err)
	assert.Equal(t, int64(700), sum)
	assert.Equal(t, sum, balance)
}

func TestService_ApplyRejections(t *testing.T) {
	svc, store := newTestService(t)
	_, err := apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeDeposit, Delta: 100, ReferenceID: "sigA"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		m       Mutation
		wantErr error
	}{
		{"overdraft", Mutation{UserID: "UserA", Type: ledger.EntryTypeBet, Delta: -101, ReferenceID: "p"}, shared.InsufficientFundsError{UserID: "UserA"}},
		{"unknown user", Mutation{UserID: "Nobody", Type: ledger.EntryTypeDeposit, Delta: 5, ReferenceID: "p"}, shared.ErrNotFound},
		{"zero delta", Mutation{UserID: "UserA", Type: ledger.EntryTypeBet, ReferenceID: "p"}, shared.ValidationError{Field: "delta"}},
		{"bad type", Mutation{UserID: "UserA", Type: "bonus", Delta: 5, ReferenceID: "p"}, shared.ValidationError{Field: "type"}},
		{"missing reference", Mutation{UserID: "UserA", Type: ledger.EntryTypeWin, Delta: 5}, shared.ValidationError{Field: "reference_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := apply(t, store, svc, tt.m)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	sum, balance, err := svc.Conservation(context.Background(), "UserA")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	assert.Equal(t, sum, balance)
}

func TestService_ReserveAndSettle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	_, err := apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeDeposit, Delta: 1000, ReferenceID: "sigA"})
	require.NoError(t, err)

	require.NoError(t, store.ExecuteTx(ctx, func(tx pgx.Tx) error { return svc.Reserve(ctx, tx, "UserA", 800) }))

	err = store.ExecuteTx(ctx, func(tx pgx.Tx) error { return svc.Reserve(ctx, tx, "UserA", 300) })
	var insufficient shared.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(200), insufficient.Available)
	assert.Equal(t, int64(300), insufficient.Requested)

	_, err = apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeBet, Delta: -500, ReferenceID: "play-1"})
	assert.ErrorIs(t, err, shared.InsufficientFundsError{}, "reserved funds cannot be wagered")

	entry, err := apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeWithdrawal, Delta: -800, ReleaseReserved: 800, ReferenceID: "wd-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), entry.BalanceAfter)

	u, err := store.Users().GetByAddress(ctx, "UserA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.ReservedBalance)
	assert.Equal(t, int64(200), u.Available())
}

func TestService_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, store := newTestService(t)
	_, err := apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeDeposit, Delta: 1000, ReferenceID: "sigA"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := apply(t, store, svc, Mutation{UserID: "UserA", Type: ledger.EntryTypeBet, Delta: -100, ReferenceID: "play"}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	sum, balance, err := svc.Conservation(context.Background(), "UserA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assert.Equal(t, sum, balance)
}

func TestEvents_Emit(t *testing.T) {
	store := memory.NewStore()
	events := NewEvents(store.Outbox(), newTestLogger())
	ctx := context.Background()

	require.NoError(t, store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		return events.Emit(ctx, tx, shared.EventDepositCredited, "sigA", map[string]int64{"amount": 1000})
	}))

	pending, err := store.Outbox().GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, shared.EventDepositCredited, pending[0].EventType)
	assert.Equal(t, "sigA", pending[0].AggregateID)
}
