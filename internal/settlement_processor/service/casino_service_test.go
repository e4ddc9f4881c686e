package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onchain-casino-settlement/internal/data/memory"
	"github.com/onchain-casino-settlement/internal/domain/game"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/withdrawal"
	"github.com/onchain-casino-settlement/internal/platform/cache"
	"github.com/onchain-casino-settlement/internal/platform/chain"
	"github.com/onchain-casino-settlement/internal/settlement_processor/abuse"
	"github.com/onchain-casino-settlement/internal/settlement_processor/deposits"
	"github.com/onchain-casino-settlement/internal/settlement_processor/fairness"
	"github.com/onchain-casino-settlement/internal/settlement_processor/ledger"
	"github.com/onchain-casino-settlement/internal/settlement_processor/payouts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	treasury     = "Treasury"
	scenarioSeed = "001f000000000000000000000000000000000000000000000000000000000000"
	zeroSeed     = "0000000000000000000000000000000000000000000000000000000000000000"
	testNonce    = "0102030405060708"
)

type fixture struct {
	store      *memory.Store
	chain      *chain.Simulated
	ledger     *ledger.Service
	reconciler *deposits.Reconciler
	processor  *payouts.Processor
	svc        *CasinoService
}

func seeds(t *testing.T, serverSeeds ...string) *bytes.Reader {
	t.Helper()
	var buf []byte
	for _, s := range serverSeeds {
		seed, err := hex.DecodeString(s)
		require.NoError(t, err)
		nonce, err := hex.DecodeString(testNonce)
		require.NoError(t, err)
		buf = append(append(buf, seed...), nonce...)
	}
	return bytes.NewReader(buf)
}

func newFixture(t *testing.T, serverSeeds ...string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store := memory.NewStore()
	sim := chain.NewSimulated()
	sim.Fund(treasury, 1_000_000_000_000)
	kv := cache.NewMemoryStore()
	ledgerService := ledger.NewService(store.Users(), store.Ledger(), logger)
	events := ledger.NewEvents(store.Outbox(), logger)

	engine := fairness.NewEngine(kv, fairness.DefaultRegistry(), 24*time.Hour, logger)
	engine.Entropy = seeds(t, serverSeeds...)

	reconciler := deposits.NewReconciler(store, sim, store.Users(), store.Deposits(), ledgerService, events, kv, nil,
		deposits.Config{TreasuryAddress: treasury, ConfirmationThreshold: 1, SignatureLimit: 20, IntentTTL: time.Hour, RPCTimeout: time.Second},
		logger)

	processor, err := payouts.NewProcessor(store, sim, store.Users(), store.Withdrawals(), store.Payouts(), ledgerService, events, nil,
		payouts.Config{
			TreasuryAddress:   treasury,
			BatchSize:         10,
			AutoApprovalLimit: 500_000_000,
			MaxAttempts:       3,
			Confirmations:     1,
			FaucetAmount:      1_000,
			RPCTimeout:        200 * time.Millisecond,
			PoolSize:          2,
			ShutdownTimeout:   time.Second,
		}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = processor.Shutdown() })

	guard := abuse.NewGuard(cache.NewMemoryStore(), abuse.Thresholds{
		Window:                  time.Hour,
		MaxAccountsPerIP:        2,
		FaucetCooldown:          24 * time.Hour,
		MaxFaucetPerIP:          5,
		MaxReferralsPerReferrer: 3,
		MaxWithdrawalsPerWindow: 2,
	}, nil, logger)

	svc := NewCasinoService(store, store.Users(), store.Withdrawals(), store.Games(), ledgerService, events,
		engine, reconciler, processor, guard, nil, logger)

	return &fixture{store: store, chain: sim, ledger: ledgerService, reconciler: reconciler, processor: processor, svc: svc}
}

func (f *fixture) deposit(t *testing.T, signature, userID string, amount int64) {
	t.Helper()
	f.chain.InjectTransaction(chain.Transaction{
		Signature:     signature,
		Transfers:     []chain.Transfer{{From: userID, To: treasury, Amount: amount}},
		Memo:          "deposit_" + userID + "_1700000000",
		Confirmations: 1,
	})
	result, err := f.reconciler.ProcessSignature(context.Background(), signature, deposits.SourcePush)
	require.NoError(t, err)
	require.Equal(t, deposits.ResultCredited, result)
}

func (f *fixture) assertConserved(t *testing.T, userID string) int64 {
	t.Helper()
	sum, balance, err := f.ledger.Conservation(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, sum, balance, "ledger sum must equal cached balance")
	return balance
}

func TestCasinoService_ExampleScenario(t *testing.T) {
	f := newFixture(t, scenarioSeed)
	ctx := context.Background()

	// deposit of 1,000,000,000 observed by polling; a second pass is a no-op
	f.chain.InjectTransaction(chain.Transaction{
		Signature:     "sigA",
		Transfers:     []chain.Transfer{{From: "UserA", To: treasury, Amount: 1_000_000_000}},
		Memo:          "deposit_UserA_1700000000",
		Confirmations: 1,
	})
	require.NoError(t, f.reconciler.PollOnce(ctx))
	require.NoError(t, f.reconciler.PollOnce(ctx))
	assert.Equal(t, int64(1_000_000_000), f.assertConserved(t, "UserA"))

	entries, err := f.store.Ledger().ListByUser(ctx, "UserA", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	commitment, err := f.svc.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5d59cda788196b47c30cd533fd9e7cad281c7a5a97778897544bdd0a158e94c5", commitment.ServerCommit)

	playID := uuid.MustParse("7b0c2f2e-7f7a-4a43-9a57-5d7b9bd0c001")
	f.svc.newID = func() uuid.UUID { return playID }

	req := PlayRequest{
		UserID:       "UserA",
		BetAmount:    100_000_000,
		GameType:     "dice/high",
		ClientSeed:   "abc",
		ServerCommit: commitment.ServerCommit,
	}
	play, err := f.svc.PlayGame(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, playID, play.ID)
	assert.Equal(t, "43f0baa1944fd22e2da303c1e0154c74723b0d52f53a29b6663b2439d1a7d9d2", play.FinalHash)
	assert.Equal(t, int64(62), play.Roll)
	assert.True(t, play.Won)
	assert.Equal(t, int64(196_020_000), play.Payout)
	assert.Equal(t, int64(1_980_000), play.HouseFee)
	assert.Equal(t, int64(1_000_000_000), play.BalanceBefore)
	assert.Equal(t, int64(1_096_020_000), play.BalanceAfter)
	assert.Equal(t, scenarioSeed, play.ServerSeed)
	assert.True(t, play.VerifyIntegrity())
	assert.Equal(t, int64(1_096_020_000), f.assertConserved(t, "UserA"))

	verified, err := f.svc.VerifyPlay(ctx, playID)
	require.NoError(t, err)
	assert.Equal(t, play.IntegrityHash, verified.IntegrityHash)

	// the commitment is single use
	req.ClientSeed = "abd"
	_, err = f.svc.PlayGame(ctx, req)
	assert.ErrorIs(t, err, shared.ErrCommitNotFound)
	assert.Equal(t, int64(1_096_020_000), f.assertConserved(t, "UserA"))

	pending, err := f.store.Outbox().GetPending(ctx, 10)
	require.NoError(t, err)
	var types []shared.EventType
	for _, m := range pending {
		types = append(types, m.EventType)
	}
	assert.Equal(t, []shared.EventType{shared.EventDepositCredited, shared.EventGameSettled}, types)
}

func TestCasinoService_PlayGameInlineCommit(t *testing.T) {
	f := newFixture(t, zeroSeed)
	ctx := context.Background()
	f.deposit(t, "sigA", "UserA", 1_000)

	play, err := f.svc.PlayGame(ctx, PlayRequest{UserID: "UserA", BetAmount: 100, GameType: "coinflip/heads", ClientSeed: "lucky"})
	require.NoError(t, err)

	expected := int64(900)
	if play.Won {
		expected += play.Payout
	}
	assert.Equal(t, expected, play.BalanceAfter)
	assert.Equal(t, expected, f.assertConserved(t, "UserA"))
	assert.Equal(t, fairness.ServerCommit(zeroSeed, testNonce), play.ServerCommit)
	assert.Equal(t, fairness.HashClientSeed("lucky"), play.ClientCommit)

	_, err = f.svc.VerifyPlay(ctx, play.ID)
	assert.NoError(t, err)
}

func TestCasinoService_PlayGameRejections(t *testing.T) {
	f := newFixture(t, zeroSeed, zeroSeed)
	ctx := context.Background()
	f.deposit(t, "sigA", "UserA", 1_000)

	tests := []struct {
		name string
		req  PlayRequest
		err  error
	}{
		{name: "bad user", req: PlayRequest{UserID: "0x", BetAmount: 1, GameType: "dice/high", ClientSeed: "s"}, err: shared.ValidationError{Field: "user_id"}},
		{name: "zero bet", req: PlayRequest{UserID: "UserA", GameType: "dice/high", ClientSeed: "s"}, err: shared.ValidationError{Field: "bet_amount"}},
		{name: "no client seed", req: PlayRequest{UserID: "UserA", BetAmount: 1, GameType: "dice/high"}, err: shared.ValidationError{Field: "client_seed"}},
		{name: "unknown user", req: PlayRequest{UserID: "Nobody", BetAmount: 1, GameType: "dice/high", ClientSeed: "s"}, err: shared.InsufficientFundsError{}},
		{name: "bet above balance", req: PlayRequest{UserID: "UserA", BetAmount: 1_001, GameType: "dice/high", ClientSeed: "s"}, err: shared.InsufficientFundsError{UserID: "UserA"}},
		{name: "unsupported game", req: PlayRequest{UserID: "UserA", BetAmount: 1, GameType: "roulette/red", ClientSeed: "s"}, err: shared.ErrUnsupportedGame},
		{name: "client commit mismatch", req: PlayRequest{UserID: "UserA", BetAmount: 1, GameType: "dice/high", ClientSeed: "s", ClientCommit: strings.Repeat("0", 64)}, err: shared.ErrClientCommitMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlayGame(ctx, tt.req)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, int64(1_000), f.assertConserved(t, "UserA"))
		})
	}
}

type tamperedPlays struct {
	game.Repository
}

func (r tamperedPlays) GetByID(ctx context.Context, id uuid.UUID) (*game.Play, error) {
	p, err := r.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Payout *= 2
	return p, nil
}

func TestCasinoService_VerifyPlayDetectsTampering(t *testing.T) {
	f := newFixture(t, zeroSeed)
	ctx := context.Background()
	f.deposit(t, "sigA", "UserA", 1_000)

	play, err := f.svc.PlayGame(ctx, PlayRequest{UserID: "UserA", BetAmount: 10, GameType: "dice/low", ClientSeed: "seed"})
	require.NoError(t, err)

	f.svc.plays = tamperedPlays{Repository: f.store.Games()}
	_, err = f.svc.VerifyPlay(ctx, play.ID)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)

	_, err = f.svc.VerifyPlay(ctx, uuid.New())
	assert.ErrorAs(t, err, new(game.ErrPlayNotFound))
}

func TestCasinoService_WithdrawalVelocity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "sigA", "UserA", 10_000)

	first, err := f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestB", AmountMinor: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusPending, first.Status)

	_, err = f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestB", AmountMinor: 100, IdempotencyKey: "k2"})
	require.NoError(t, err)

	_, err = f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestB", AmountMinor: 100, IdempotencyKey: "k3"})
	assert.ErrorIs(t, err, shared.ValidationError{Field: abuse.NameWithdrawalVelocity})

	replay, err := f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestB", AmountMinor: 100, IdempotencyKey: "k1"})
	require.NoError(t, err, "a replay is not a new withdrawal")
	assert.Equal(t, first.ID, replay.ID)

	u, err := f.store.Users().GetByAddress(ctx, "UserA")
	require.NoError(t, err)
	assert.Equal(t, int64(200), u.ReservedBalance)
}

func TestCasinoService_WithdrawalReplayMustMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "sigA", "UserA", 10_000)

	first, err := f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestB", AmountMinor: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, err = f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestC", AmountMinor: 900, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, shared.ConflictError{Resource: "withdrawal"})

	replay, err := f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestB", AmountMinor: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	u, err := f.store.Users().GetByAddress(ctx, "UserA")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.ReservedBalance)
}

func TestCasinoService_RejectRestoresFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "sigA", "UserA", 1_000_000_000)

	w, err := f.svc.RequestWithdrawal(ctx, WithdrawalRequest{UserID: "UserA", DestAddress: "DestB", AmountMinor: 600_000_000, IdempotencyKey: "big"})
	require.NoError(t, err)
	_, err = f.processor.DrainOnce(ctx)
	require.NoError(t, err)

	job, err := f.store.Payouts().GetByWithdrawalID(ctx, w.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := f.store.Payouts().GetByID(ctx, job.ID)
		return err == nil && j.Status == payout.StatusPendingApproval
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.RejectPayoutJob(ctx, job.ID, "Admin", "destination on watch list"))

	stored, err := f.store.Withdrawals().GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusRejected, stored.Status)

	u, err := f.store.Users().GetByAddress(ctx, "UserA")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), u.Balance)
	assert.Equal(t, int64(0), u.ReservedBalance)
	assert.Equal(t, 0, f.chain.Submitted())
}

func TestCasinoService_FaucetCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := abuse.Client{IP: "10.0.0.9"}

	job, err := f.svc.RequestFaucet(ctx, "UserA", "UserA", client)
	require.NoError(t, err)
	assert.Equal(t, payout.JobTypeFaucet, job.Type)

	_, err = f.svc.RequestFaucet(ctx, "UserA", "UserA", client)
	assert.ErrorIs(t, err, shared.ValidationError{Field: abuse.CheckFaucetClaim})
}

func TestCasinoService_LinkReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.LinkReferral(ctx, "UserB", "UserA", abuse.Client{}))
	u, err := f.store.Users().GetByAddress(ctx, "UserB")
	require.NoError(t, err)
	require.NotNil(t, u.ReferredBy)
	assert.Equal(t, "UserA", *u.ReferredBy)

	err = f.svc.LinkReferral(ctx, "UserB", "UserC", abuse.Client{})
	assert.ErrorIs(t, err, shared.ValidationError{Field: abuse.CheckReferralLink})

	err = f.svc.LinkReferral(ctx, "UserC", "UserC", abuse.Client{})
	assert.ErrorIs(t, err, shared.ValidationError{Field: abuse.CheckReferralLink})

	err = f.svc.LinkReferral(ctx, "UserC", "bad_referrer", abuse.Client{})
	assert.ErrorIs(t, err, shared.ValidationError{Field: "referrer"})
}

func TestCasinoService_DepositIntentMultiAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := abuse.Client{IP: "10.1.1.1"}

	for _, u := range []string{"UserA", "UserB"} {
		intent, err := f.svc.CreateDepositIntent(ctx, u, client)
		require.NoError(t, err)
		assert.Equal(t, treasury, intent.Address)
	}

	_, err := f.svc.CreateDepositIntent(ctx, "UserC", client)
	assert.ErrorIs(t, err, shared.ValidationError{Field: abuse.NameMultiAccount})

	_, err = f.svc.CreateDepositIntent(ctx, "UserC", abuse.Client{IP: "10.1.1.2"})
	assert.NoError(t, err)
}
