package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_InjectAndLookup(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()

	sig := sim.InjectTransfer("Payer", "Treasury", 500, "deposit_UserA_1", 2)
	tx, err := sim.GetTransaction(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(500), tx.AmountTo("Treasury"))
	assert.Equal(t, "deposit_UserA_1", tx.Memo)
	assert.Equal(t, 2, tx.Confirmations)

	bal, err := sim.GetBalance(ctx, "Treasury")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	_, err = sim.GetTransaction(ctx, "unknown")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSimulated_RecentSignaturesNewestFirst(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()
	a := sim.InjectTransfer("P", "Treasury", 1, "", 1)
	b := sim.InjectTransfer("P", "Treasury", 2, "", 1)
	c := sim.InjectTransfer("P", "Treasury", 3, "", 1)

	sigs, err := sim.RecentSignatures(ctx, "Treasury", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{c, b}, sigs)

	sigs, err = sim.RecentSignatures(ctx, "Treasury", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{c, b, a}, sigs)
}

func TestSimulated_RecentSignaturesPaging(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()
	a := sim.InjectTransfer("P", "Treasury", 1, "", 1)
	b := sim.InjectTransfer("P", "Treasury", 2, "", 1)
	c := sim.InjectTransfer("P", "Treasury", 3, "", 1)

	tests := []struct {
		name   string
		before string
		want   []string
	}{
		{name: "after newest", before: c, want: []string{b, a}},
		{name: "after oldest", before: a, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigs, err := sim.RecentSignatures(ctx, "Treasury", tt.before, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sigs)
		})
	}

	_, err := sim.RecentSignatures(ctx, "Treasury", "unknown", 10)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSimulated_SubmitTransfer(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()
	sim.Fund("Treasury", 1_000)

	sig, err := sim.SubmitTransfer(ctx, "Treasury", "DestB", 400)
	require.NoError(t, err)
	assert.Equal(t, 1, sim.Submitted())

	tx, err := sim.AwaitConfirmation(ctx, sig, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(400), tx.AmountTo("DestB"))

	bal, _ := sim.GetBalance(ctx, "Treasury")
	assert.Equal(t, int64(600), bal)

	_, err = sim.SubmitTransfer(ctx, "Treasury", "DestB", 601)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestSimulated_FailureInjection(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()
	sim.Fund("Treasury", 1_000)

	rpcDown := errors.New("rpc down")
	sim.FailSubmits(1, rpcDown)
	_, err := sim.SubmitTransfer(ctx, "Treasury", "DestB", 1)
	assert.ErrorIs(t, err, rpcDown)
	_, err = sim.SubmitTransfer(ctx, "Treasury", "DestB", 1)
	assert.NoError(t, err, "only the queued failure fires")

	sim.FailLookups(rpcDown)
	_, err = sim.RecentSignatures(ctx, "Treasury", "", 5)
	assert.ErrorIs(t, err, rpcDown)
	sim.FailLookups(nil)

	sim.RejectOnChain("custom program error: 0x1")
	sig, err := sim.SubmitTransfer(ctx, "Treasury", "DestB", 5)
	require.NoError(t, err)
	_, err = sim.AwaitConfirmation(ctx, sig, 1)
	assert.ErrorContains(t, err, "failed on chain")
}

func TestSimulated_AwaitConfirmationTimeout(t *testing.T) {
	sim := NewSimulated()
	sim.Fund("Treasury", 10)
	sim.ConfirmationsOnSubmit = 0

	sig, err := sim.SubmitTransfer(context.Background(), "Treasury", "DestB", 5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = sim.AwaitConfirmation(ctx, sig, 1)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)

	sim.SetConfirmations(sig, 1)
	tx, err := sim.AwaitConfirmation(context.Background(), sig, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Confirmations)
}
