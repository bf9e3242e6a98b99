package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/referral"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var base = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createAffiliate(t *testing.T, s *sqlite.Store, id, parent string, status referral.AffiliateStatus) {
	t.Helper()
	ctx := context.Background()
	a := referral.NewAffiliate(referral.AffiliateID(id), referral.AffiliateID(parent), "code-"+id)
	a.CreatedAt = base
	require.NoError(t, s.CreateAffiliate(ctx, a))
	if status != referral.AffiliateStatusPending {
		require.NoError(t, s.SetAffiliateStatus(ctx, a.ID, status, base))
	}
}

func commission(id, owner string, amount referral.Amount, status referral.CommissionStatus, created time.Time) referral.Commission {
	return referral.Commission{
		ID:            referral.CommissionID(id),
		AffiliateID:   referral.AffiliateID(owner),
		TransactionID: "tx-" + id,
		BuyerID:       "buyer",
		Level:         1,
		Kind:          referral.KindBase,
		Amount:        amount,
		Status:        status,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

// =============================================================================
// AFFILIATES
// =============================================================================

func TestAffiliates_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAffiliate(t, store, "root", "", referral.AffiliateStatusActive)
	createAffiliate(t, store, "child", "root", referral.AffiliateStatusPending)

	got, err := store.GetAffiliate(ctx, "child")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, referral.AffiliateID("root"), got.ParentID())
	assert.Equal(t, "code-child", got.Code)
	assert.Equal(t, referral.AffiliateStatusPending, got.Status)
	assert.Equal(t, base, got.CreatedAt)
	assert.Nil(t, got.ActivatedAt)

	root, err := store.GetAffiliate(ctx, "root")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	require.NotNil(t, root.ActivatedAt)

	children, err := store.ListChildren(ctx, "root")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, referral.AffiliateID("child"), children[0].ID)

	missing, err := store.GetAffiliate(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAffiliates_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	createAffiliate(t, store, "root", "", referral.AffiliateStatusActive)

	err := store.CreateAffiliate(context.Background(), referral.NewAffiliate("root", "", ""))

	assert.ErrorIs(t, err, referral.ErrDuplicateAffiliate)
}

func TestAffiliates_Totals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAffiliate(t, store, "A1", "", referral.AffiliateStatusActive)

	require.NoError(t, store.AddAffiliateTotals(ctx, "A1", 15_000, 15_000))
	require.NoError(t, store.AddAffiliateTotals(ctx, "A1", 5_000, 5_000))

	a, err := store.GetAffiliate(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, referral.Amount(20_000), a.TotalEarnings)
	assert.Equal(t, referral.Amount(20_000), a.TotalPaid)

	err = store.AddAffiliateTotals(ctx, "ghost", 1, 1)
	assert.True(t, referral.IsNotFound(err))
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func TestCommissions_UniqueKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := commission("C1", "A1", 50_000, referral.CommissionPending, base)
	require.NoError(t, store.InsertCommission(ctx, c))

	dup := c
	dup.ID = "C1-again"
	err := store.InsertCommission(ctx, dup)

	assert.ErrorIs(t, err, referral.ErrDuplicateCommission)

	found, err := store.FindCommission(ctx, c.Key())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, referral.CommissionID("C1"), found.ID)

	otherKind := c
	otherKind.ID = "C1-bonus"
	otherKind.Kind = referral.KindBonus
	assert.NoError(t, store.InsertCommission(ctx, otherKind))
}

func TestCommissions_OrderedByCreationThenInsertion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertCommission(ctx, commission("late", "U", 1, referral.CommissionApproved, base.Add(2*time.Hour))))
	require.NoError(t, store.InsertCommission(ctx, commission("tie-1", "U", 1, referral.CommissionApproved, base.Add(time.Hour))))
	require.NoError(t, store.InsertCommission(ctx, commission("early", "U", 1, referral.CommissionApproved, base.Add(time.Nanosecond))))
	require.NoError(t, store.InsertCommission(ctx, commission("tie-2", "U", 1, referral.CommissionApproved, base.Add(time.Hour))))

	rows, err := store.ListCommissions(ctx, referral.CommissionFilter{AffiliateID: "U"})
	require.NoError(t, err)

	ids := make([]referral.CommissionID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	assert.Equal(t, []referral.CommissionID{"early", "tie-1", "tie-2", "late"}, ids)
}

func TestCommissions_StatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertCommission(ctx, commission("A", "U", 1, referral.CommissionApproved, base)))
	require.NoError(t, store.InsertCommission(ctx, commission("P", "U", 1, referral.CommissionPending, base)))
	require.NoError(t, store.InsertCommission(ctx, commission("L", "U", 1, referral.CommissionPaid, base)))

	rows, err := store.ListCommissions(ctx, referral.CommissionFilter{AffiliateID: "U", Statuses: referral.SpendableStatuses})
	require.NoError(t, err)

	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.True(t, r.Status.Spendable())
	}
}

func TestCommissions_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := commission("C1", "U", 30_000, referral.CommissionPending, base)
	require.NoError(t, store.InsertCommission(ctx, c))

	approvedAt := base.Add(time.Minute)
	c.Status = referral.CommissionApproved
	c.Amount = 10_000
	c.ApprovedAt = &approvedAt
	c.UpdatedAt = approvedAt
	require.NoError(t, store.UpdateCommission(ctx, c))

	got, err := store.GetCommission(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, referral.CommissionApproved, got.Status)
	assert.Equal(t, referral.Amount(10_000), got.Amount)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, approvedAt, *got.ApprovedAt)

	missing := c
	missing.ID = "ghost"
	assert.True(t, referral.IsNotFound(store.UpdateCommission(ctx, missing)))
}

// =============================================================================
// WITHDRAWALS AND ACTIVATIONS
// =============================================================================

func TestWithdrawals_FilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	approvedAt := base.Add(time.Hour)
	for i, w := range []referral.Withdrawal{
		{ID: "W1", UserID: "U", Amount: 10_000, Status: referral.WithdrawalPending},
		{ID: "W2", UserID: "U", Amount: 20_000, Status: referral.WithdrawalApproved, ApprovedAt: &approvedAt},
		{ID: "W3", UserID: "V", Amount: 30_000, Status: referral.WithdrawalPending},
	} {
		w.RequestedAt = base.Add(time.Duration(i) * time.Minute)
		w.Destination = referral.Destination{BankName: "B", AccountNumber: "1", AccountHolder: "H"}
		require.NoError(t, store.InsertWithdrawal(ctx, w))
	}

	mine, err := store.ListWithdrawals(ctx, referral.WithdrawalFilter{UserID: "U"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, referral.WithdrawalID("W2"), mine[0].ID)
	assert.Equal(t, "B", mine[0].Destination.BankName)

	cutoff := base.Add(2 * time.Hour)
	due, err := store.ListWithdrawals(ctx, referral.WithdrawalFilter{
		Statuses:       []referral.WithdrawalStatus{referral.WithdrawalApproved},
		ApprovedBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, referral.WithdrawalID("W2"), due[0].ID)

	early := base
	none, err := store.ListWithdrawals(ctx, referral.WithdrawalFilter{ApprovedBefore: &early})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActivationPayments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	paid, err := store.IsActivationPaid(ctx, "A1")
	require.NoError(t, err)
	assert.False(t, paid)

	require.NoError(t, store.RecordActivationPayment(ctx, referral.ActivationPayment{
		ID: "p1", AffiliateID: "A1", InvoiceID: "inv-1", Amount: 500_000, PaidAt: base,
	}))

	paid, err = store.IsActivationPaid(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, paid)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx referral.Store) error {
		require.NoError(t, tx.InsertCommission(ctx, commission("C1", "U", 1, referral.CommissionPending, base)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetCommission(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWithTx_ReadsOwnWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx referral.Store) error {
		if err := tx.InsertCommission(ctx, commission("C1", "U", 1, referral.CommissionPending, base)); err != nil {
			return err
		}
		got, err := tx.GetCommission(ctx, "C1")
		if err != nil {
			return err
		}
		assert.NotNil(t, got)
		return nil
	})
	require.NoError(t, err)
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAffiliate(t, store, "A1", "", referral.AffiliateStatusActive)
	require.NoError(t, store.InsertCommission(ctx, commission("C1", "A1", 1, referral.CommissionPending, base)))

	require.NoError(t, store.Reset(ctx))

	all, err := store.ListAffiliates(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	rows, err := store.ListCommissions(ctx, referral.CommissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func newTestEngine(t *testing.T) (*referral.Engine, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	engine, err := referral.New(store, referral.Options{
		Schedule: referral.Schedule{
			MaxLevel:         10,
			Level1Base:       50_000,
			Level1Bonus:      25_000,
			LevelN:           10_000,
			QualifyingAmount: 500_000,
		},
		Cache: referral.NewMemoryCache(0),
	})
	require.NoError(t, err)
	return engine, store
}

func TestEngine_FanoutAndFIFODebit(t *testing.T) {
	// GIVEN: A1 <- buyer with the buyer's fee paid
	engine, store := newTestEngine(t)
	ctx := context.Background()
	createAffiliate(t, store, "A1", "", referral.AffiliateStatusActive)
	createAffiliate(t, store, "buyer", "A1", referral.AffiliateStatusPending)
	_, err := engine.Network.RecordActivation(ctx, "buyer", "inv-1", 500_000)
	require.NoError(t, err)

	// WHEN: The purchase fans out twice, the group is approved, and 60,000 is withdrawn
	first, err := engine.Fanout.Distribute(ctx, referral.PurchaseEvent{PurchaserID: "buyer", TransactionID: "tx-1", ProductAmount: 500_000, Quantity: 1})
	require.NoError(t, err)
	second, err := engine.Fanout.Distribute(ctx, referral.PurchaseEvent{PurchaserID: "buyer", TransactionID: "tx-1", ProductAmount: 500_000, Quantity: 1})
	require.NoError(t, err)

	_, err = engine.Approvals.ApproveAffiliate(ctx, "A1", nil)
	require.NoError(t, err)
	w, err := engine.Withdrawals.Request(ctx, referral.WithdrawalRequest{
		UserID:      "A1",
		Amount:      60_000,
		Destination: referral.Destination{BankName: "B", AccountNumber: "1", AccountHolder: "H"},
	})
	require.NoError(t, err)
	report, err := engine.Withdrawals.Complete(ctx, w.ID)
	require.NoError(t, err)

	// THEN:
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, second.Created)
	assert.True(t, first.Activated)

	require.Len(t, report.Deductions, 2)
	assert.Equal(t, referral.Amount(50_000), report.Deductions[0].Deducted)
	assert.Equal(t, referral.CommissionWithdrawn, report.Deductions[0].Status)
	assert.Equal(t, referral.Amount(10_000), report.Deductions[1].Deducted)
	assert.Equal(t, referral.Amount(15_000), report.Deductions[1].After)

	bal, err := engine.Balances.Live(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, referral.Amount(15_000), bal.ApprovedBalance)
	assert.Equal(t, referral.Amount(60_000), bal.TotalWithdrawn)
	assert.Equal(t, referral.Amount(75_000), bal.TotalEarned)
}

func TestEngine_ConcurrentCompletionsSerialise(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	createAffiliate(t, store, "U", "", referral.AffiliateStatusActive)
	for i, amount := range []referral.Amount{50_000, 30_000, 40_000} {
		c := commission(string(rune('a'+i)), "U", amount, referral.CommissionApproved, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.InsertCommission(ctx, c))
	}
	for _, id := range []referral.WithdrawalID{"W1", "W2"} {
		require.NoError(t, store.InsertWithdrawal(ctx, referral.Withdrawal{
			ID: id, UserID: "U", Amount: 70_000, Status: referral.WithdrawalApproved, RequestedAt: base,
			Destination: referral.Destination{BankName: "B", AccountNumber: "1", AccountHolder: "H"},
		}))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []referral.WithdrawalID{"W1", "W2"} {
		wg.Add(1)
		go func(id referral.WithdrawalID) {
			defer wg.Done()
			_, err := engine.Debits.Complete(ctx, id)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, referral.ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	bal, err := engine.Balances.Live(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, referral.Amount(50_000), bal.ApprovedBalance)
}
