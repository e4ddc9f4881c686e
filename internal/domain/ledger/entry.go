package ledger

import (
	"errors"
	"time"
)

// EntryType classifies a balance change
type EntryType string

const (
	EntryTypeDeposit    EntryType = "deposit"
	EntryTypeBet        EntryType = "bet"
	EntryTypeWin        EntryType = "win"
	EntryTypeWithdrawal EntryType = "withdrawal"
)

var ErrInvalidEntryType = errors.New("invalid ledger entry type")

// Valid reports whether t is a known entry type
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeDeposit, EntryTypeBet, EntryTypeWin, EntryTypeWithdrawal:
		return true
	}
	return false
}

// Entry is an immutable record of one balance change in treasury_ledger.
// The sum of AmountDelta per user equals that user's balance.
type Entry struct {
	ID           int64     `json:"id" bson:"id"`
	UserID       string    `json:"user_id" bson:"user_id"`
	Type         EntryType `json:"type" bson:"type"`
	AmountDelta  int64     `json:"amount_delta" bson:"amount_delta"` // lamports, signed
	BalanceAfter int64     `json:"balance_after" bson:"balance_after"`
	ReferenceID  string    `json:"reference_id" bson:"reference_id"` // deposit signature, play id or withdrawal id
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}
