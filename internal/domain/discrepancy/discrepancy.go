package discrepancy

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Kind classifies a reconciliation finding
type Kind string

const (
	KindTreasuryMismatch  Kind = "treasury_mismatch"
	KindLedgerDrift       Kind = "ledger_drift"
	KindStalePayout       Kind = "stale_payout"
	KindUnconfirmedPayout Kind = "unconfirmed_payout"
)

// BalanceDiscrepancy is an operator-facing finding. The sweep never corrects balances itself.
type BalanceDiscrepancy struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"kind"`
	Subject   string    `json:"subject"` // treasury address, user address or job id
	Expected  int64     `json:"expected"`
	Observed  int64     `json:"observed"`
	Delta     int64     `json:"delta"`
	Details   string    `json:"details,omitempty"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// New builds an unresolved finding with Delta = Observed - Expected
func New(kind Kind, subject string, expected, observed int64, details string) *BalanceDiscrepancy {
	return &BalanceDiscrepancy{
		Kind:      kind,
		Subject:   subject,
		Expected:  expected,
		Observed:  observed,
		Delta:     observed - expected,
		Details:   details,
		CreatedAt: time.Now(),
	}
}

// Exceeds reports whether the absolute delta is above tolerance
func (d *BalanceDiscrepancy) Exceeds(tolerance int64) bool {
	delta := d.Delta
	if delta < 0 {
		delta = -delta
	}
	return delta > tolerance
}

// Repository persists discrepancies for operator review
type Repository interface {
	WithTx(tx pgx.Tx) Repository
	Create(ctx context.Context, d *BalanceDiscrepancy) error
	ListUnresolved(ctx context.Context, limit int) ([]*BalanceDiscrepancy, error)
	// ExistsUnresolved avoids re-flagging the same subject on every sweep
	ExistsUnresolved(ctx context.Context, kind Kind, subject string) (bool, error)
}
