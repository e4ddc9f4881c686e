package user

import (
	"errors"
	"strings"
	"time"
)

// Common errors
var (
	ErrEmptyAddress    = errors.New("address cannot be empty")
	ErrInvalidAddress  = errors.New("address contains invalid characters")
	ErrSelfReferral    = errors.New("user cannot refer themselves")
	ErrAlreadyReferred = errors.New("user already has a referrer")
)

// User is a player identified by their chain address.
// Balance is a cached value derived from the treasury ledger; it only changes
// through the ledger mutation primitive.
type User struct {
	Address           string    `json:"address"`
	Balance           int64     `json:"balance"`            // lamports
	ReservedBalance   int64     `json:"reserved_balance"`   // held for in-flight withdrawals
	PendingWithdrawal int64     `json:"pending_withdrawal"` // sum of open withdrawal requests
	ReferredBy        *string   `json:"referred_by,omitempty"`
	Flagged           bool      `json:"flagged"`
	FlagReason        string    `json:"flag_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewUser creates a zero-balance user for a first observed address
func NewUser(address string) (*User, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	now := time.Now()
	return &User{
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Available returns the spendable part of the balance
func (u *User) Available() int64 {
	return u.Balance - u.ReservedBalance
}

// CanSpend checks if the available balance covers amount
func (u *User) CanSpend(amount int64) bool {
	return amount > 0 && u.Available() >= amount
}

// ValidateAddress performs a shape check on a base58 chain address.
// Signature verification and on-curve checks belong to the chain client.
func ValidateAddress(address string) error {
	if address == "" {
		return ErrEmptyAddress
	}
	if len(address) < 3 || len(address) > 64 {
		return ErrInvalidAddress
	}
	if strings.ContainsAny(address, "0OIl_ \t\n") {
		return ErrInvalidAddress
	}
	return nil
}
