package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onchain-casino-settlement/internal/domain/deposit"
	"github.com/onchain-casino-settlement/internal/domain/discrepancy"
	"github.com/onchain-casino-settlement/internal/domain/game"
	"github.com/onchain-casino-settlement/internal/domain/ledger"
	"github.com/onchain-casino-settlement/internal/domain/outbox"
	"github.com/onchain-casino-settlement/internal/domain/payout"
	"github.com/onchain-casino-settlement/internal/domain/shared"
	"github.com/onchain-casino-settlement/internal/domain/user"
	"github.com/onchain-casino-settlement/internal/domain/withdrawal"
)

// UserRepository implements user.Repository
type UserRepository struct {
	store *Store
	inTx  bool
}

func (r *UserRepository) WithTx(pgx.Tx) user.Repository {
	return &UserRepository{store: r.store, inTx: true}
}

func (r *UserRepository) EnsureExists(_ context.Context, address string) error {
	defer r.store.lock(r.inTx)()
	if _, ok := r.store.t.users[address]; ok {
		return nil
	}
	now := r.store.Now()
	r.store.t.users[address] = user.User{Address: address, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (r *UserRepository) GetByAddress(_ context.Context, address string) (*user.User, error) {
	defer r.store.lock(r.inTx)()
	u, ok := r.store.t.users[address]
	if !ok {
		return nil, user.ErrUserNotFound{Address: address}
	}
	return &u, nil
}

func (r *UserRepository) ApplyDelta(_ context.Context, address string, delta, release int64) (int64, error) {
	defer r.store.lock(r.inTx)()
	u, ok := r.store.t.users[address]
	if !ok {
		return 0, user.ErrBalanceGuard
	}
	balance := u.Balance + delta
	reserved := u.ReservedBalance - release
	if release > u.ReservedBalance || balance < 0 || balance < reserved {
		return 0, user.ErrBalanceGuard
	}
	u.Balance = balance
	u.ReservedBalance = reserved
	u.PendingWithdrawal = max(u.PendingWithdrawal-release, 0)
	u.UpdatedAt = r.store.Now()
	r.store.t.users[address] = u
	return balance, nil
}

func (r *UserRepository) Reserve(_ context.Context, address string, amount int64) error {
	defer r.store.lock(r.inTx)()
	u, ok := r.store.t.users[address]
	if !ok || u.Balance-u.ReservedBalance < amount {
		return user.ErrBalanceGuard
	}
	u.ReservedBalance += amount
	u.PendingWithdrawal += amount
	u.UpdatedAt = r.store.Now()
	r.store.t.users[address] = u
	return nil
}

func (r *UserRepository) Release(_ context.Context, address string, amount int64) error {
	defer r.store.lock(r.inTx)()
	u, ok := r.store.t.users[address]
	if !ok || u.ReservedBalance < amount {
		return user.ErrBalanceGuard
	}
	u.ReservedBalance -= amount
	u.PendingWithdrawal = max(u.PendingWithdrawal-amount, 0)
	u.UpdatedAt = r.store.Now()
	r.store.t.users[address] = u
	return nil
}

func (r *UserRepository) SetReferrer(_ context.Context, address, referrer string) error {
	if address == referrer {
		return user.ErrSelfReferral
	}
	defer r.store.lock(r.inTx)()
	u, ok := r.store.t.users[address]
	if !ok || u.ReferredBy != nil {
		return user.ErrAlreadyReferred
	}
	u.ReferredBy = &referrer
	u.UpdatedAt = r.store.Now()
	r.store.t.users[address] = u
	return nil
}

func (r *UserRepository) Flag(_ context.Context, address, reason string) error {
	defer r.store.lock(r.inTx)()
	u, ok := r.store.t.users[address]
	if !ok {
		return user.ErrUserNotFound{Address: address}
	}
	u.Flagged = true
	u.FlagReason = reason
	r.store.t.users[address] = u
	return nil
}

func (r *UserRepository) ListWithPendingActivity(_ context.Context, limit int) ([]*user.User, error) {
	defer r.store.lock(r.inTx)()
	active := make(map[string]bool)
	for _, d := range r.store.t.deposits {
		if d.Status == deposit.StatusPending {
			active[d.UserID] = true
		}
	}
	for _, w := range r.store.t.withdrawals {
		if !w.Status.IsTerminal() {
			active[w.UserID] = true
		}
	}

	var out []*user.User
	for addr, u := range r.store.t.users {
		if u.ReservedBalance > 0 || active[addr] {
			u := u
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LedgerRepository implements ledger.Repository
type LedgerRepository struct {
	store *Store
	inTx  bool
}

func (r *LedgerRepository) WithTx(pgx.Tx) ledger.Repository {
	return &LedgerRepository{store: r.store, inTx: true}
}

func (r *LedgerRepository) Append(_ context.Context, entry *ledger.Entry) error {
	defer r.store.lock(r.inTx)()
	entry.ID = int64(len(r.store.t.entries) + 1)
	entry.CreatedAt = r.store.Now()
	r.store.t.entries = append(r.store.t.entries, *entry)
	return nil
}

func (r *LedgerRepository) ListByUser(_ context.Context, userID string, limit, offset int) ([]*ledger.Entry, error) {
	defer r.store.lock(r.inTx)()
	var out []*ledger.Entry
	for i := len(r.store.t.entries) - 1; i >= 0; i-- {
		e := r.store.t.entries[i]
		if e.UserID == userID {
			out = append(out, &e)
		}
	}
	return page(out, limit, offset), nil
}

func (r *LedgerRepository) SumByUser(_ context.Context, userID string) (int64, error) {
	defer r.store.lock(r.inTx)()
	var sum int64
	for _, e := range r.store.t.entries {
		if e.UserID == userID {
			sum += e.AmountDelta
		}
	}
	return sum, nil
}

// DepositRepository implements deposit.Repository
type DepositRepository struct {
	store *Store
	inTx  bool
}

func (r *DepositRepository) WithTx(pgx.Tx) deposit.Repository {
	return &DepositRepository{store: r.store, inTx: true}
}

func (r *DepositRepository) InsertPending(_ context.Context, d *deposit.Deposit) (bool, error) {
	defer r.store.lock(r.inTx)()
	if _, ok := r.store.t.deposits[d.Signature]; ok {
		return false, nil
	}
	row := *d
	row.Status = deposit.StatusPending
	r.store.t.deposits[d.Signature] = row
	return true, nil
}

func (r *DepositRepository) GetBySignature(_ context.Context, signature string) (*deposit.Deposit, error) {
	defer r.store.lock(r.inTx)()
	d, ok := r.store.t.deposits[signature]
	if !ok {
		return nil, deposit.ErrDepositNotFound{Signature: signature}
	}
	return &d, nil
}

func (r *DepositRepository) MarkConfirmed(_ context.Context, signature string, confirmations int, at time.Time) (bool, error) {
	defer r.store.lock(r.inTx)()
	d, ok := r.store.t.deposits[signature]
	if !ok || d.Status != deposit.StatusPending {
		return false, nil
	}
	d.Status = deposit.StatusConfirmed
	d.Confirmations = confirmations
	d.ConfirmedAt = &at
	r.store.t.deposits[signature] = d
	return true, nil
}

func (r *DepositRepository) UpdateConfirmations(_ context.Context, signature string, confirmations int) error {
	defer r.store.lock(r.inTx)()
	if d, ok := r.store.t.deposits[signature]; ok && d.Status == deposit.StatusPending {
		d.Confirmations = confirmations
		r.store.t.deposits[signature] = d
	}
	return nil
}

func (r *DepositRepository) ListConfirmedSignatures(context.Context) ([]string, error) {
	defer r.store.lock(r.inTx)()
	var sigs []string
	for sig, d := range r.store.t.deposits {
		if d.Status == deposit.StatusConfirmed {
			sigs = append(sigs, sig)
		}
	}
	sort.Strings(sigs)
	return sigs, nil
}

func (r *DepositRepository) ListPending(_ context.Context, limit int) ([]*deposit.Deposit, error) {
	defer r.store.lock(r.inTx)()
	var out []*deposit.Deposit
	for _, d := range r.store.t.deposits {
		if d.Status == deposit.StatusPending {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (r *DepositRepository) SumConfirmed(context.Context) (int64, error) {
	defer r.store.lock(r.inTx)()
	var sum int64
	for _, d := range r.store.t.deposits {
		if d.Status == deposit.StatusConfirmed {
			sum += d.AmountMinor
		}
	}
	return sum, nil
}

// WithdrawalRepository implements withdrawal.Repository
type WithdrawalRepository struct {
	store *Store
	inTx  bool
}

func (r *WithdrawalRepository) WithTx(pgx.Tx) withdrawal.Repository {
	return &WithdrawalRepository{store: r.store, inTx: true}
}

func (r *WithdrawalRepository) Create(_ context.Context, w *withdrawal.Withdrawal) error {
	defer r.store.lock(r.inTx)()
	for _, existing := range r.store.t.withdrawals {
		if existing.UserID == w.UserID && existing.IdempotencyKey == w.IdempotencyKey {
			return shared.ConflictError{Resource: "withdrawal", Key: w.IdempotencyKey}
		}
	}
	r.store.t.withdrawals[w.ID] = *w
	return nil
}

func (r *WithdrawalRepository) GetByID(_ context.Context, id uuid.UUID) (*withdrawal.Withdrawal, error) {
	defer r.store.lock(r.inTx)()
	w, ok := r.store.t.withdrawals[id]
	if !ok {
		return nil, withdrawal.ErrWithdrawalNotFound{ID: id}
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByIdempotencyKey(_ context.Context, userID, key string) (*withdrawal.Withdrawal, error) {
	defer r.store.lock(r.inTx)()
	for _, w := range r.store.t.withdrawals {
		if w.UserID == userID && w.IdempotencyKey == key {
			return &w, nil
		}
	}
	return nil, withdrawal.ErrWithdrawalNotFound{Key: key}
}

func (r *WithdrawalRepository) Transition(_ context.Context, id uuid.UUID, from, to withdrawal.Status) (bool, error) {
	defer r.store.lock(r.inTx)()
	w, ok := r.store.t.withdrawals[id]
	if !ok || w.Status != from {
		return false, nil
	}
	w.Status = to
	w.UpdatedAt = r.store.Now()
	r.store.t.withdrawals[id] = w
	return true, nil
}

func (r *WithdrawalRepository) Complete(_ context.Context, id uuid.UUID, signature string) error {
	defer r.store.lock(r.inTx)()
	w, ok := r.store.t.withdrawals[id]
	if !ok || w.Status != withdrawal.StatusProcessing {
		return withdrawal.ErrWithdrawalNotFound{ID: id}
	}
	w.Status = withdrawal.StatusCompleted
	w.Signature = signature
	w.UpdatedAt = r.store.Now()
	r.store.t.withdrawals[id] = w
	return nil
}

func (r *WithdrawalRepository) Fail(_ context.Context, id uuid.UUID, to withdrawal.Status, reason string) error {
	defer r.store.lock(r.inTx)()
	w, ok := r.store.t.withdrawals[id]
	if !ok || w.Status.IsTerminal() {
		return withdrawal.ErrWithdrawalNotFound{ID: id}
	}
	w.Status = to
	w.FailureReason = reason
	w.UpdatedAt = r.store.Now()
	r.store.t.withdrawals[id] = w
	return nil
}

// PayoutRepository implements payout.Repository
type PayoutRepository struct {
	store *Store
	inTx  bool
}

func (r *PayoutRepository) WithTx(pgx.Tx) payout.Repository {
	return &PayoutRepository{store: r.store, inTx: true}
}

func (r *PayoutRepository) Create(_ context.Context, job *payout.Job) error {
	defer r.store.lock(r.inTx)()
	if job.WithdrawalID != nil {
		for _, existing := range r.store.t.jobs {
			if existing.WithdrawalID != nil && *existing.WithdrawalID == *job.WithdrawalID {
				return shared.ConflictError{Resource: "payout_job", Key: job.WithdrawalID.String()}
			}
		}
	}
	r.store.t.jobs[job.ID] = *job
	return nil
}

func (r *PayoutRepository) GetByID(_ context.Context, id uuid.UUID) (*payout.Job, error) {
	defer r.store.lock(r.inTx)()
	j, ok := r.store.t.jobs[id]
	if !ok {
		return nil, payout.ErrJobNotFound{ID: id}
	}
	return &j, nil
}

func (r *PayoutRepository) GetByWithdrawalID(_ context.Context, withdrawalID uuid.UUID) (*payout.Job, error) {
	defer r.store.lock(r.inTx)()
	for _, j := range r.store.t.jobs {
		if j.WithdrawalID != nil && *j.WithdrawalID == withdrawalID {
			return &j, nil
		}
	}
	return nil, payout.ErrJobNotFound{}
}

func (r *PayoutRepository) ClaimPending(_ context.Context, limit int) ([]*payout.Job, error) {
	defer r.store.lock(r.inTx)()
	var pending []payout.Job
	for _, j := range r.store.t.jobs {
		if j.Status == payout.StatusPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, k int) bool { return pending[i].CreatedAt.Before(pending[k].CreatedAt) })

	now := r.store.Now()
	var out []*payout.Job
	for _, j := range pending {
		if len(out) >= limit {
			break
		}
		j.Status = payout.StatusProcessing
		j.UpdatedAt = now
		r.store.t.jobs[j.ID] = j
		claimed := j
		out = append(out, &claimed)
	}
	return out, nil
}

func (r *PayoutRepository) Transition(_ context.Context, id uuid.UUID, from, to payout.Status) (bool, error) {
	defer r.store.lock(r.inTx)()
	j, ok := r.store.t.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	j.UpdatedAt = r.store.Now()
	r.store.t.jobs[id] = j
	return true, nil
}

func (r *PayoutRepository) Approve(_ context.Context, id uuid.UUID, adminID string, at time.Time) (bool, error) {
	defer r.store.lock(r.inTx)()
	j, ok := r.store.t.jobs[id]
	if !ok || j.Status != payout.StatusPendingApproval {
		return false, nil
	}
	j.Status = payout.StatusProcessing
	j.ApprovedBy = adminID
	j.ApprovedAt = &at
	j.UpdatedAt = r.store.Now()
	r.store.t.jobs[id] = j
	return true, nil
}

func (r *PayoutRepository) RecordSignature(_ context.Context, id uuid.UUID, signature string) error {
	defer r.store.lock(r.inTx)()
	j, ok := r.store.t.jobs[id]
	if !ok {
		return payout.ErrJobNotFound{ID: id}
	}
	j.TxSignature = signature
	j.UpdatedAt = r.store.Now()
	r.store.t.jobs[id] = j
	return nil
}

func (r *PayoutRepository) RecordAttempt(_ context.Context, job *payout.Job) error {
	defer r.store.lock(r.inTx)()
	j, ok := r.store.t.jobs[job.ID]
	if !ok {
		return payout.ErrJobNotFound{ID: job.ID}
	}
	j.Status = job.Status
	j.Attempts = job.Attempts
	j.LastError = job.LastError
	j.TxSignature = job.TxSignature
	j.UpdatedAt = job.UpdatedAt
	r.store.t.jobs[job.ID] = j
	return nil
}

func (r *PayoutRepository) Complete(_ context.Context, id uuid.UUID) error {
	defer r.store.lock(r.inTx)()
	j, ok := r.store.t.jobs[id]
	if !ok || j.Status != payout.StatusProcessing {
		return payout.ErrJobNotFound{ID: id}
	}
	j.Status = payout.StatusCompleted
	j.UpdatedAt = r.store.Now()
	r.store.t.jobs[id] = j
	return nil
}

func (r *PayoutRepository) ListProcessing(_ context.Context, before time.Time, limit int) ([]*payout.Job, error) {
	defer r.store.lock(r.inTx)()
	var out []*payout.Job
	for _, j := range r.store.t.jobs {
		if j.Status == payout.StatusProcessing && j.UpdatedAt.Before(before) {
			j := j
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	return page(out, limit, 0), nil
}

func (r *PayoutRepository) SumCompleted(context.Context) (int64, error) {
	defer r.store.lock(r.inTx)()
	var sum int64
	for _, j := range r.store.t.jobs {
		if j.Status == payout.StatusCompleted {
			sum += j.AmountMinor
		}
	}
	return sum, nil
}

// GameRepository implements game.Repository
type GameRepository struct {
	store *Store
	inTx  bool
}

func (r *GameRepository) WithTx(pgx.Tx) game.Repository {
	return &GameRepository{store: r.store, inTx: true}
}

func (r *GameRepository) Create(_ context.Context, p *game.Play) error {
	defer r.store.lock(r.inTx)()
	if _, ok := r.store.t.plays[p.ID]; ok {
		return shared.ConflictError{Resource: "game_play", Key: p.ID.String()}
	}
	r.store.t.plays[p.ID] = *p
	return nil
}

func (r *GameRepository) GetByID(_ context.Context, id uuid.UUID) (*game.Play, error) {
	defer r.store.lock(r.inTx)()
	p, ok := r.store.t.plays[id]
	if !ok {
		return nil, game.ErrPlayNotFound{ID: id}
	}
	return &p, nil
}

func (r *GameRepository) ListByUser(_ context.Context, userID string, limit, offset int) ([]*game.Play, error) {
	defer r.store.lock(r.inTx)()
	var out []*game.Play
	for _, p := range r.store.t.plays {
		if p.UserID == userID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

// DiscrepancyRepository implements discrepancy.Repository
type DiscrepancyRepository struct {
	store *Store
	inTx  bool
}

func (r *DiscrepancyRepository) WithTx(pgx.Tx) discrepancy.Repository {
	return &DiscrepancyRepository{store: r.store, inTx: true}
}

func (r *DiscrepancyRepository) Create(_ context.Context, d *discrepancy.BalanceDiscrepancy) error {
	defer r.store.lock(r.inTx)()
	d.ID = int64(len(r.store.t.discrepancies) + 1)
	r.store.t.discrepancies = append(r.store.t.discrepancies, *d)
	return nil
}

func (r *DiscrepancyRepository) ListUnresolved(_ context.Context, limit int) ([]*discrepancy.BalanceDiscrepancy, error) {
	defer r.store.lock(false)()
	var out []*discrepancy.BalanceDiscrepancy
	for i := len(r.store.t.discrepancies) - 1; i >= 0; i-- {
		d := r.store.t.discrepancies[i]
		if !d.Resolved {
			out = append(out, &d)
		}
	}
	return page(out, limit, 0), nil
}

func (r *DiscrepancyRepository) ExistsUnresolved(_ context.Context, kind discrepancy.Kind, subject string) (bool, error) {
	defer r.store.lock(r.inTx)()
	for _, d := range r.store.t.discrepancies {
		if !d.Resolved && d.Kind == kind && d.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

// OutboxRepository implements outbox.Repository
type OutboxRepository struct {
	store *Store
	inTx  bool
}

func (r *OutboxRepository) WithTx(pgx.Tx) outbox.Repository {
	return &OutboxRepository{store: r.store, inTx: true}
}

func (r *OutboxRepository) Create(_ context.Context, m *outbox.Message) error {
	defer r.store.lock(r.inTx)()
	m.ID = int64(len(r.store.t.messages) + 1)
	r.store.t.messages = append(r.store.t.messages, *m)
	return nil
}

func (r *OutboxRepository) GetPending(_ context.Context, limit int) ([]*outbox.Message, error) {
	defer r.store.lock(r.inTx)()
	var out []*outbox.Message
	for _, m := range r.store.t.messages {
		if m.Status == shared.OutboxStatusPending {
			m := m
			out = append(out, &m)
		}
	}
	return page(out, limit, 0), nil
}

func (r *OutboxRepository) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	defer r.store.lock(r.inTx)()
	m, err := r.find(id)
	if err != nil {
		return err
	}
	now := r.store.Now()
	m.Status = status
	m.LastAttemptAt = &now
	return nil
}

func (r *OutboxRepository) IncrementAttempts(_ context.Context, id int64) error {
	defer r.store.lock(r.inTx)()
	m, err := r.find(id)
	if err != nil {
		return err
	}
	now := r.store.Now()
	m.Attempts++
	m.LastAttemptAt = &now
	return nil
}

func (r *OutboxRepository) GetByEventID(_ context.Context, eventID uuid.UUID) (*outbox.Message, error) {
	defer r.store.lock(r.inTx)()
	for _, m := range r.store.t.messages {
		if m.EventID == eventID {
			return &m, nil
		}
	}
	return nil, outbox.ErrMessageNotFound{}
}

func (r *OutboxRepository) find(id int64) (*outbox.Message, error) {
	if id < 1 || id > int64(len(r.store.t.messages)) {
		return nil, outbox.ErrMessageNotFound{ID: id}
	}
	return &r.store.t.messages[id-1], nil
}

// EventStore implements outbox.EventStore
type EventStore struct {
	store *Store
}

func (r *EventStore) Record(_ context.Context, event *outbox.Event) error {
	defer r.store.lock(false)()
	if _, ok := r.store.t.events[event.EventID]; !ok {
		r.store.t.events[event.EventID] = *event
	}
	return nil
}

func (r *EventStore) GetByEventID(_ context.Context, eventID uuid.UUID) (*outbox.Event, error) {
	defer r.store.lock(false)()
	e, ok := r.store.t.events[eventID]
	if !ok {
		return nil, outbox.ErrEventNotFound{EventID: eventID}
	}
	return &e, nil
}

func (r *EventStore) ListByAggregate(_ context.Context, aggregateID string, limit, offset int) ([]*outbox.Event, error) {
	defer r.store.lock(false)()
	var out []*outbox.Event
	for _, e := range r.store.t.events {
		if e.AggregateID == aggregateID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
