package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Simulated is an in-memory devnet. Tests use its knobs to inject external
// deposits, withhold confirmations and fail RPC calls.
type Simulated struct {
	mu       sync.Mutex
	balances map[string]int64
	txs      map[string]*Transaction
	history  map[string][]string
	slot     uint64

	submitErrs []error
	lookupErr  error
	balanceErr error
	chainErr   string
	submitted  int

	// ConfirmationsOnSubmit is the confirmation count a submitted transfer lands with
	ConfirmationsOnSubmit int
	PollInterval          time.Duration
}

var _ Client = (*Simulated)(nil)

func NewSimulated() *Simulated {
	return &Simulated{
		balances:              make(map[string]int64),
		txs:                   make(map[string]*Transaction),
		history:               make(map[string][]string),
		ConfirmationsOnSubmit: 1,
		PollInterval:          10 * time.Millisecond,
	}
}

// Fund credits address out of thin air (genesis / airdrop)
func (s *Simulated) Fund(address string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[address] += amount
}

// InjectTransfer records an externally signed transfer, such as a player deposit
func (s *Simulated) InjectTransfer(from, to string, amount int64, memo string, confirmations int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[to] += amount
	return s.record(from, to, amount, memo, confirmations, "")
}

// InjectTransaction stores an arbitrary transaction, e.g. a multi-transfer or a failed one
func (s *Simulated) InjectTransaction(tx Transaction) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot++
	if tx.Signature == "" {
		tx.Signature = s.signature()
	}
	tx.Slot = s.slot
	for _, tr := range tx.Transfers {
		if tx.Err == "" {
			s.balances[tr.To] += tr.Amount
		}
		s.history[tr.To] = append(s.history[tr.To], tx.Signature)
	}
	s.txs[tx.Signature] = &tx
	return tx.Signature
}

// SetConfirmations overrides the confirmation count of a signature
func (s *Simulated) SetConfirmations(signature string, confirmations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[signature]; ok {
		tx.Confirmations = confirmations
	}
}

// FailSubmits makes the next n SubmitTransfer calls return err
func (s *Simulated) FailSubmits(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.submitErrs = append(s.submitErrs, err)
	}
}

// FailLookups makes GetTransaction and RecentSignatures return err until reset with nil
func (s *Simulated) FailLookups(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupErr = err
}

// FailBalances makes GetBalance return err until reset with nil
func (s *Simulated) FailBalances(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceErr = err
}

// RejectOnChain makes submitted transfers land with a chain-reported error until reset with ""
func (s *Simulated) RejectOnChain(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainErr = reason
}

// Submitted returns the number of transfers accepted by SubmitTransfer
func (s *Simulated) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

func (s *Simulated) GetBalance(ctx context.Context, address string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balances[address], nil
}

func (s *Simulated) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	tx, ok := s.txs[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}
	cp := *tx
	cp.Transfers = append([]Transfer(nil), tx.Transfers...)
	return &cp, nil
}

func (s *Simulated) SubmitTransfer(ctx context.Context, from, to string, amount int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.submitErrs) > 0 {
		err := s.submitErrs[0]
		s.submitErrs = s.submitErrs[1:]
		return "", err
	}
	if amount <= 0 {
		return "", fmt.Errorf("invalid transfer amount %d", amount)
	}
	if s.chainErr != "" {
		s.submitted++
		return s.record(from, to, amount, "", s.ConfirmationsOnSubmit, s.chainErr), nil
	}
	if s.balances[from] < amount {
		return "", fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, s.balances[from], amount)
	}
	s.balances[from] -= amount
	s.balances[to] += amount
	s.submitted++
	return s.record(from, to, amount, "", s.ConfirmationsOnSubmit, ""), nil
}

func (s *Simulated) AwaitConfirmation(ctx context.Context, signature string, confirmations int) (*Transaction, error) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		tx, err := s.GetTransaction(ctx, signature)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if tx != nil {
			if tx.Err != "" {
				return tx, fmt.Errorf("transaction %s failed on chain: %s", signature, tx.Err)
			}
			if tx.Confirmations >= confirmations {
				return tx, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrConfirmationTimeout, signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Simulated) RecentSignatures(ctx context.Context, address, before string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	sigs := s.history[address]
	start := len(sigs) - 1
	if before != "" {
		start = -2
		for i := len(sigs) - 1; i >= 0; i-- {
			if sigs[i] == before {
				start = i - 1
				break
			}
		}
		if start == -2 {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, before)
		}
	}
	out := make([]string, 0, limit)
	for i := start; i >= 0 && len(out) < limit; i-- {
		out = append(out, sigs[i])
	}
	return out, nil
}

// record must be called with mu held
func (s *Simulated) record(from, to string, amount int64, memo string, confirmations int, chainErr string) string {
	s.slot++
	sig := s.signature()
	s.txs[sig] = &Transaction{
		Signature:     sig,
		Transfers:     []Transfer{{From: from, To: to, Amount: amount}},
		Memo:          memo,
		Slot:          s.slot,
		Confirmations: confirmations,
		Err:           chainErr,
	}
	s.history[to] = append(s.history[to], sig)
	if from != to {
		s.history[from] = append(s.history[from], sig)
	}
	return sig
}

func (s *Simulated) signature() string {
	sum := sha256.Sum256([]byte("sim-" + strconv.FormatUint(s.slot, 10)))
	return hex.EncodeToString(sum[:16])
}
