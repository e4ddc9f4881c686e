package deposit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
)

const memoPrefix = "deposit"

// Status of a deposit row
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Deposit is an inbound treasury transfer matched to a user via its memo.
// Signature is globally unique and is the idempotency key against double-credit.
type Deposit struct {
	Signature     string     `json:"signature"`
	UserID        string     `json:"user_id"`
	AmountMinor   int64      `json:"amount_minor"`
	Memo          string     `json:"memo"`
	Slot          uint64     `json:"slot"`
	Confirmations int        `json:"confirmations"`
	Status        Status     `json:"status"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewMemo builds the memo a player attaches to their deposit transfer
func NewMemo(userID string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%d", memoPrefix, userID, now.Unix())
}

// ParseMemo recovers the user id and intent timestamp from a deposit memo
func ParseMemo(memo string) (string, time.Time, error) {
	parts := strings.Split(strings.TrimSpace(memo), "_")
	if len(parts) != 3 || parts[0] != memoPrefix {
		return "", time.Time{}, fmt.Errorf("%w: %q", shared.ErrUnparsableMemo, memo)
	}
	if err := user.ValidateAddress(parts[1]); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %q: %v", shared.ErrUnparsableMemo, memo, err)
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || ts <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: %q: bad timestamp", shared.ErrUnparsableMemo, memo)
	}
	return parts[1], time.Unix(ts, 0), nil
}

// IsConfirmed reports whether the deposit reached a terminal credited state
func (d *Deposit) IsConfirmed() bool {
	return d.Status == StatusConfirmed
}
