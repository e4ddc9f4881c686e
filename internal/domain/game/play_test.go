package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func samplePlay() *Play {
	return &Play{
		ID:            uuid.MustParse("7b0c2f2e-7f7a-4a43-9a57-5d7b9bd0c001"),
		UserID:        "UserA",
		GameType:      "dice/high",
		BetAmount:     100_000_000,
		ClientSeed:    "abc",
		ClientCommit:  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		ServerSeed:    "seed",
		ServerCommit:  "commit",
		Nonce:         "0102030405060708",
		TxRef:         "ref",
		Roll:          62,
		Won:           true,
		Payout:        194_000_000,
		HouseFee:      6_000_000,
		BalanceBefore: 1_000_000_000,
		BalanceAfter:  1_094_000_000,
		FinalHash:     "final",
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC),
	}
}

func TestPlay_SealAndVerify(t *testing.T) {
	p := samplePlay()
	p.Seal()

	assert.Len(t, p.IntegrityHash, 64)
	assert.True(t, p.VerifyIntegrity())
	assert.Equal(t, 123456000, p.CreatedAt.Nanosecond(), "created_at truncated to microseconds")

	again := samplePlay()
	again.Seal()
	assert.Equal(t, p.IntegrityHash, again.IntegrityHash, "hash is deterministic")
}

func TestPlay_TamperDetected(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(p *Play)
	}{
		{"payout", func(p *Play) { p.Payout++ }},
		{"won", func(p *Play) { p.Won = false }},
		{"balance after", func(p *Play) { p.BalanceAfter = 0 }},
		{"server seed", func(p *Play) { p.ServerSeed = "other" }},
		{"created at", func(p *Play) { p.CreatedAt = p.CreatedAt.Add(time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePlay()
			p.Seal()
			tt.tamper(p)
			assert.False(t, p.VerifyIntegrity())
		})
	}
}

func TestPlay_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := samplePlay()
	a.ClientSeed, a.ClientCommit = "ab", "c"
	b := samplePlay()
	b.ClientSeed, b.ClientCommit = "a", "bc"
	assert.NotEqual(t, a.ComputeIntegrityHash(), b.ComputeIntegrityHash())
}

func TestPlay_UnsealedFailsVerification(t *testing.T) {
	assert.False(t, samplePlay().VerifyIntegrity())
}
