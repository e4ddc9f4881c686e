package game

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies a game variant, e.g. "dice/high" or "d6/3"
type Type string

// Play is an immutable record of one settled bet
type Play struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id"`
	GameType      Type      `json:"game_type"`
	BetAmount     int64     `json:"bet_amount"`
	ClientSeed    string    `json:"client_seed"`
	ClientCommit  string    `json:"client_commit"`
	ServerSeed    string    `json:"server_seed"`
	ServerCommit  string    `json:"server_commit"`
	Nonce         string    `json:"nonce"`
	TxRef         string    `json:"tx_ref"`
	Roll          int64     `json:"roll"`
	Won           bool      `json:"won"`
	Payout        int64     `json:"payout"`
	HouseFee      int64     `json:"house_fee"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	FinalHash     string    `json:"final_hash"`
	IntegrityHash string    `json:"integrity_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// canonical encodes every field except IntegrityHash in a fixed order
func (p *Play) canonical() string {
	fields := []string{
		p.ID.String(),
		p.UserID,
		string(p.GameType),
		strconv.FormatInt(p.BetAmount, 10),
		p.ClientSeed,
		p.ClientCommit,
		p.ServerSeed,
		p.ServerCommit,
		p.Nonce,
		p.TxRef,
		strconv.FormatInt(p.Roll, 10),
		strconv.FormatBool(p.Won),
		strconv.FormatInt(p.Payout, 10),
		strconv.FormatInt(p.HouseFee, 10),
		strconv.FormatInt(p.BalanceBefore, 10),
		strconv.FormatInt(p.BalanceAfter, 10),
		p.FinalHash,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for i, f := range fields {
		fields[i] = strconv.Itoa(len(f)) + ":" + f
	}
	return strings.Join(fields, "|")
}

// ComputeIntegrityHash returns the hex SHA-256 of the canonical encoding
func (p *Play) ComputeIntegrityHash() string {
	sum := sha256.Sum256([]byte(p.canonical()))
	return hex.EncodeToString(sum[:])
}

// Seal stamps the integrity hash. CreatedAt is truncated to the store's precision first.
func (p *Play) Seal() {
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Microsecond)
	p.IntegrityHash = p.ComputeIntegrityHash()
}

// VerifyIntegrity reports whether the stored hash still matches the fields
func (p *Play) VerifyIntegrity() bool {
	return p.IntegrityHash != "" && p.IntegrityHash == p.ComputeIntegrityHash()
}
