// Package store provides an in-memory referral.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/commission-engine/referral"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a referral.TxStore kept in process memory. WithTx holds the write
// lock for the whole callback, so transactions are fully serialised.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

// data holds the tables. Its methods assume the caller holds the lock; the
// transaction view handed to WithTx callbacks is data itself.
type data struct {
	affiliates  map[referral.AffiliateID]*affiliateRow
	commissions map[referral.CommissionID]*commissionRow
	keys        map[referral.CommissionKey]referral.CommissionID
	withdrawals map[referral.WithdrawalID]*withdrawalRow
	activations map[referral.AffiliateID][]referral.ActivationPayment
	seq         int64
}

type affiliateRow struct {
	a   referral.Affiliate
	seq int64
}

type commissionRow struct {
	c   referral.Commission
	seq int64
}

type withdrawalRow struct {
	w   referral.Withdrawal
	seq int64
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

func newData() *data {
	return &data{
		affiliates:  make(map[referral.AffiliateID]*affiliateRow),
		commissions: make(map[referral.CommissionID]*commissionRow),
		keys:        make(map[referral.CommissionKey]referral.CommissionID),
		withdrawals: make(map[referral.WithdrawalID]*withdrawalRow),
		activations: make(map[referral.AffiliateID][]referral.ActivationPayment),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot and a
// rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(referral.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.affiliates {
		row := *v
		c.affiliates[k] = &row
	}
	for k, v := range d.commissions {
		row := *v
		c.commissions[k] = &row
	}
	for k, v := range d.keys {
		c.keys[k] = v
	}
	for k, v := range d.withdrawals {
		row := *v
		c.withdrawals[k] = &row
	}
	for k, v := range d.activations {
		c.activations[k] = append([]referral.ActivationPayment(nil), v...)
	}
	c.seq = d.seq
	return c
}

func (d *data) next() int64 {
	d.seq++
	return d.seq
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) CreateAffiliate(ctx context.Context, a referral.Affiliate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateAffiliate(ctx, a)
}

func (m *Memory) GetAffiliate(ctx context.Context, id referral.AffiliateID) (*referral.Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetAffiliate(ctx, id)
}

func (m *Memory) SetAffiliateStatus(ctx context.Context, id referral.AffiliateID, status referral.AffiliateStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SetAffiliateStatus(ctx, id, status, at)
}

func (m *Memory) AddAffiliateTotals(ctx context.Context, id referral.AffiliateID, earnings, paid referral.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AddAffiliateTotals(ctx, id, earnings, paid)
}

func (m *Memory) ListChildren(ctx context.Context, parentID referral.AffiliateID) ([]referral.Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListChildren(ctx, parentID)
}

func (m *Memory) ListAffiliates(ctx context.Context) ([]referral.Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListAffiliates(ctx)
}

func (m *Memory) InsertCommission(ctx context.Context, c referral.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertCommission(ctx, c)
}

func (m *Memory) FindCommission(ctx context.Context, key referral.CommissionKey) (*referral.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.FindCommission(ctx, key)
}

func (m *Memory) GetCommission(ctx context.Context, id referral.CommissionID) (*referral.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetCommission(ctx, id)
}

func (m *Memory) UpdateCommission(ctx context.Context, c referral.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateCommission(ctx, c)
}

func (m *Memory) ListCommissions(ctx context.Context, f referral.CommissionFilter) ([]referral.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListCommissions(ctx, f)
}

func (m *Memory) InsertWithdrawal(ctx context.Context, w referral.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertWithdrawal(ctx, w)
}

func (m *Memory) GetWithdrawal(ctx context.Context, id referral.WithdrawalID) (*referral.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetWithdrawal(ctx, id)
}

func (m *Memory) UpdateWithdrawal(ctx context.Context, w referral.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateWithdrawal(ctx, w)
}

func (m *Memory) ListWithdrawals(ctx context.Context, f referral.WithdrawalFilter) ([]referral.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListWithdrawals(ctx, f)
}

func (m *Memory) RecordActivationPayment(ctx context.Context, p referral.ActivationPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.RecordActivationPayment(ctx, p)
}

func (m *Memory) IsActivationPaid(ctx context.Context, id referral.AffiliateID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.IsActivationPaid(ctx, id)
}

// =============================================================================
// AFFILIATES
// =============================================================================

func (d *data) CreateAffiliate(_ context.Context, a referral.Affiliate) error {
	if _, ok := d.affiliates[a.ID]; ok {
		return referral.ErrDuplicateAffiliate
	}
	d.affiliates[a.ID] = &affiliateRow{a: a, seq: d.next()}
	return nil
}

func (d *data) GetAffiliate(_ context.Context, id referral.AffiliateID) (*referral.Affiliate, error) {
	row, ok := d.affiliates[id]
	if !ok {
		return nil, nil
	}
	a := row.a
	return &a, nil
}

func (d *data) SetAffiliateStatus(_ context.Context, id referral.AffiliateID, status referral.AffiliateStatus, at time.Time) error {
	row, ok := d.affiliates[id]
	if !ok {
		return &referral.NotFoundError{Kind: "affiliate", ID: string(id)}
	}
	row.a.Status = status
	if status == referral.AffiliateStatusActive && row.a.ActivatedAt == nil {
		row.a.ActivatedAt = &at
	}
	return nil
}

func (d *data) AddAffiliateTotals(_ context.Context, id referral.AffiliateID, earnings, paid referral.Amount) error {
	row, ok := d.affiliates[id]
	if !ok {
		return &referral.NotFoundError{Kind: "affiliate", ID: string(id)}
	}
	row.a.TotalEarnings += earnings
	row.a.TotalPaid += paid
	return nil
}

func (d *data) ListChildren(_ context.Context, parentID referral.AffiliateID) ([]referral.Affiliate, error) {
	return d.affiliatesWhere(func(a referral.Affiliate) bool { return a.ParentID() == parentID }), nil
}

func (d *data) ListAffiliates(_ context.Context) ([]referral.Affiliate, error) {
	return d.affiliatesWhere(func(referral.Affiliate) bool { return true }), nil
}

func (d *data) affiliatesWhere(keep func(referral.Affiliate) bool) []referral.Affiliate {
	var rows []*affiliateRow
	for _, row := range d.affiliates {
		if keep(row.a) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	result := make([]referral.Affiliate, len(rows))
	for i, row := range rows {
		result[i] = row.a
	}
	return result
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (d *data) InsertCommission(_ context.Context, c referral.Commission) error {
	key := c.Key()
	if _, ok := d.keys[key]; ok {
		return referral.ErrDuplicateCommission
	}
	d.commissions[c.ID] = &commissionRow{c: c, seq: d.next()}
	d.keys[key] = c.ID
	return nil
}

func (d *data) FindCommission(_ context.Context, key referral.CommissionKey) (*referral.Commission, error) {
	id, ok := d.keys[key]
	if !ok {
		return nil, nil
	}
	c := d.commissions[id].c
	return &c, nil
}

func (d *data) GetCommission(_ context.Context, id referral.CommissionID) (*referral.Commission, error) {
	row, ok := d.commissions[id]
	if !ok {
		return nil, nil
	}
	c := row.c
	return &c, nil
}

// UpdateCommission replaces the mutable fields. The key fields are fixed.
func (d *data) UpdateCommission(_ context.Context, c referral.Commission) error {
	row, ok := d.commissions[c.ID]
	if !ok {
		return &referral.NotFoundError{Kind: "commission", ID: string(c.ID)}
	}
	row.c.Amount = c.Amount
	row.c.Status = c.Status
	row.c.RejectionReason = c.RejectionReason
	row.c.ApprovedAt = c.ApprovedAt
	row.c.UpdatedAt = c.UpdatedAt
	return nil
}

func (d *data) ListCommissions(_ context.Context, f referral.CommissionFilter) ([]referral.Commission, error) {
	var rows []*commissionRow
	for _, row := range d.commissions {
		if f.AffiliateID != "" && row.c.AffiliateID != f.AffiliateID {
			continue
		}
		if f.TransactionID != "" && row.c.TransactionID != f.TransactionID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, row.c.Status) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.c.CreatedAt.Equal(b.c.CreatedAt) {
			return a.c.CreatedAt.Before(b.c.CreatedAt)
		}
		return a.seq < b.seq
	})

	result := make([]referral.Commission, len(rows))
	for i, row := range rows {
		result[i] = row.c
	}
	return result, nil
}

func containsStatus[S comparable](set []S, s S) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func (d *data) InsertWithdrawal(_ context.Context, w referral.Withdrawal) error {
	if _, ok := d.withdrawals[w.ID]; ok {
		return referral.ErrStateConflict
	}
	d.withdrawals[w.ID] = &withdrawalRow{w: w, seq: d.next()}
	return nil
}

func (d *data) GetWithdrawal(_ context.Context, id referral.WithdrawalID) (*referral.Withdrawal, error) {
	row, ok := d.withdrawals[id]
	if !ok {
		return nil, nil
	}
	w := row.w
	return &w, nil
}

func (d *data) UpdateWithdrawal(_ context.Context, w referral.Withdrawal) error {
	row, ok := d.withdrawals[w.ID]
	if !ok {
		return &referral.NotFoundError{Kind: "withdrawal", ID: string(w.ID)}
	}
	row.w.Status = w.Status
	row.w.RejectionReason = w.RejectionReason
	row.w.ApprovedAt = w.ApprovedAt
	row.w.CompletedAt = w.CompletedAt
	return nil
}

// ListWithdrawals returns newest first.
func (d *data) ListWithdrawals(_ context.Context, f referral.WithdrawalFilter) ([]referral.Withdrawal, error) {
	var rows []*withdrawalRow
	for _, row := range d.withdrawals {
		w := row.w
		if f.UserID != "" && w.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, w.Status) {
			continue
		}
		if f.ApprovedBefore != nil && (w.ApprovedAt == nil || !w.ApprovedAt.Before(*f.ApprovedBefore)) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.w.RequestedAt.Equal(b.w.RequestedAt) {
			return a.w.RequestedAt.After(b.w.RequestedAt)
		}
		return a.seq > b.seq
	})

	result := make([]referral.Withdrawal, len(rows))
	for i, row := range rows {
		result[i] = row.w
	}
	return result, nil
}

// =============================================================================
// ACTIVATION PAYMENTS
// =============================================================================

func (d *data) RecordActivationPayment(_ context.Context, p referral.ActivationPayment) error {
	d.activations[p.AffiliateID] = append(d.activations[p.AffiliateID], p)
	return nil
}

func (d *data) IsActivationPaid(_ context.Context, id referral.AffiliateID) (bool, error) {
	return len(d.activations[id]) > 0, nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newData()
	return nil
}

var (
	_ referral.TxStore = (*Memory)(nil)
	_ referral.Store   = (*data)(nil)
)
