// Package chain abstracts the ledger the treasury lives on. Callers see balance
// lookups, transaction lookups and transfer submission; each may fail, time out
// or return stale data.
package chain

import (
	"context"
	"errors"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrConfirmationTimeout = errors.New("confirmation not reached before deadline")
	ErrInsufficientFunds   = errors.New("treasury has insufficient funds")
)

// Transfer is one native-asset movement inside a transaction
type Transfer struct {
	From   string
	To     string
	Amount int64
}

// Transaction is the detail returned for a signature
type Transaction struct {
	Signature     string
	Transfers     []Transfer
	Memo          string
	Slot          uint64
	Confirmations int
	// Err is set when the chain executed the transaction but reported a failure
	Err string
}

// AmountTo sums transfers credited to address
func (t *Transaction) AmountTo(address string) int64 {
	var total int64
	for _, tr := range t.Transfers {
		if tr.To == address {
			total += tr.Amount
		}
	}
	return total
}

// Client is the chain abstraction consumed by the settlement components
type Client interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
	// SubmitTransfer blocks until the transfer is submitted and returns its signature
	SubmitTransfer(ctx context.Context, from, to string, amount int64) (string, error)
	// AwaitConfirmation blocks until the signature has at least confirmations or ctx ends
	AwaitConfirmation(ctx context.Context, signature string, confirmations int) (*Transaction, error)
	// RecentSignatures lists up to limit signatures touching address, newest first.
	// A non-empty before starts the page just past that signature, so callers
	// page back through history by passing the last signature of the previous page.
	RecentSignatures(ctx context.Context, address, before string, limit int) ([]string, error)
}
