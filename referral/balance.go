package referral

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Balance is a user's money snapshot.
type Balance struct {
	UserID AffiliateID `json:"user_id"`

	// TotalEarned never shrinks when rows are spent: a debited row's lost
	// amount is exactly the completed withdrawal that consumed it.
	TotalEarned            Amount `json:"total_earned"`
	ApprovedBalance        Amount `json:"approved_balance"`
	PendingCommission      Amount `json:"pending_commission"`
	PendingWithdrawal      Amount `json:"pending_withdrawal"`
	AvailableForWithdrawal Amount `json:"available_for_withdrawal"`
	TotalWithdrawn         Amount `json:"total_withdrawn"`
}

// computeBalance reads through s, which is the transaction store on every
// write path.
func computeBalance(ctx context.Context, s Store, userID AffiliateID) (Balance, error) {
	b := Balance{UserID: userID}

	rows, err := s.ListCommissions(ctx, CommissionFilter{AffiliateID: userID})
	if err != nil {
		return Balance{}, fmt.Errorf("list commissions for %s: %w", userID, err)
	}
	for _, c := range rows {
		switch {
		case c.Status == CommissionRejected:
			continue
		case c.Status.Spendable():
			b.ApprovedBalance += c.Amount
		case c.Status == CommissionPending:
			b.PendingCommission += c.Amount
		}
		b.TotalEarned += c.Amount
	}

	withdrawals, err := s.ListWithdrawals(ctx, WithdrawalFilter{UserID: userID})
	if err != nil {
		return Balance{}, fmt.Errorf("list withdrawals for %s: %w", userID, err)
	}
	for _, w := range withdrawals {
		switch w.Status {
		case WithdrawalPending, WithdrawalApproved:
			b.PendingWithdrawal += w.Amount
		case WithdrawalCompleted:
			b.TotalWithdrawn += w.Amount
			b.TotalEarned += w.Amount
		}
	}

	b.AvailableForWithdrawal = b.ApprovedBalance - b.PendingWithdrawal
	if b.AvailableForWithdrawal < 0 {
		b.AvailableForWithdrawal = 0
	}
	return b, nil
}

// BalanceAggregator serves balance snapshots. Write paths never use Cached.
type BalanceAggregator struct {
	rt *runtime
}

// Live computes the balance from one consistent read of the store.
func (a *BalanceAggregator) Live(ctx context.Context, userID AffiliateID) (Balance, error) {
	var b Balance
	err := a.rt.store.WithTx(ctx, func(s Store) error {
		aff, err := s.GetAffiliate(ctx, userID)
		if err != nil {
			return fmt.Errorf("load affiliate: %w", err)
		}
		if aff == nil {
			return &NotFoundError{Kind: "affiliate", ID: string(userID)}
		}
		b, err = computeBalance(ctx, s, userID)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	return b, nil
}

// Cached returns the cached snapshot when present and fresh, otherwise a live
// one which is then cached. Cache failures degrade to a live read. A snapshot
// read while a write touched the user is returned but not cached.
func (a *BalanceAggregator) Cached(ctx context.Context, userID AffiliateID) (Balance, error) {
	b, ok, err := a.rt.cache.Get(ctx, userID)
	if err != nil {
		a.rt.log.Warn("balance cache read failed", zap.String("affiliate_id", string(userID)), zap.Error(err))
	} else if ok {
		return b, nil
	}

	seen := a.rt.gens.current(userID)
	b, err = a.Live(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	err = a.rt.gens.ifUnchanged(userID, seen, func() error {
		return a.rt.cache.Set(ctx, userID, b)
	})
	if err != nil {
		a.rt.log.Warn("balance cache write failed", zap.String("affiliate_id", string(userID)), zap.Error(err))
	}
	return b, nil
}
