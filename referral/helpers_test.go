package referral_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/referral"
	"github.com/warp/commission-engine/referral/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const qualifying referral.Amount = 500_000

func testSchedule() referral.Schedule {
	return referral.Schedule{
		MaxLevel:         10,
		Level1Base:       50_000,
		Level1Bonus:      25_000,
		LevelN:           10_000,
		QualifyingAmount: qualifying,
	}
}

// stepClock advances one second per reading, so every created row has a
// distinct timestamp.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// recordingDispatcher collects mirrored rows.
type recordingDispatcher struct {
	mu   sync.Mutex
	rows []referral.Commission
}

func (d *recordingDispatcher) Dispatch(c referral.Commission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = append(d.rows, c)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	engine *referral.Engine
	cache  *referral.MemoryCache
	clock  *stepClock
	mirror *recordingDispatcher
	ids    atomic.Int64
}

func newFixture(t *testing.T, mutate ...func(*referral.Options)) *fixture {
	t.Helper()
	return newFixtureOn(t, func(m *store.Memory) referral.TxStore { return m }, mutate...)
}

// newFixtureOn builds the engine on wrap(store) while seeding helpers keep
// writing to the bare memory store.
func newFixtureOn(t *testing.T, wrap func(*store.Memory) referral.TxStore, mutate ...func(*referral.Options)) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store.NewMemory(),
		cache:  referral.NewMemoryCache(time.Minute),
		clock:  newStepClock(),
		mirror: &recordingDispatcher{},
	}
	opts := referral.Options{
		Schedule:      testSchedule(),
		Cache:         f.cache,
		Mirror:        f.mirror,
		Clock:         f.clock.Now,
		MinWithdrawal: 10_000,
		NewID:         f.nextID,
	}
	for _, m := range mutate {
		m(&opts)
	}

	engine, err := referral.New(wrap(f.store), opts)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) nextID() string {
	return fmt.Sprintf("id-%03d", f.ids.Add(1))
}

// affiliate inserts a node directly, bypassing registration checks.
func (f *fixture) affiliate(id, parent string, status referral.AffiliateStatus) {
	f.t.Helper()
	a := referral.NewAffiliate(referral.AffiliateID(id), referral.AffiliateID(parent), id)
	a.CreatedAt = f.clock.Now()
	require.NoError(f.t, f.store.CreateAffiliate(f.ctx, a))
	if status != referral.AffiliateStatusPending {
		require.NoError(f.t, f.store.SetAffiliateStatus(f.ctx, a.ID, status, f.clock.Now()))
	}
}

// chain builds ids[0] <- ids[1] <- ... with ids[0] the root, all ACTIVE.
func (f *fixture) chain(ids ...string) {
	parent := ""
	for _, id := range ids {
		f.affiliate(id, parent, referral.AffiliateStatusActive)
		parent = id
	}
}

func (f *fixture) paidActivation(id string) {
	f.t.Helper()
	require.NoError(f.t, f.store.RecordActivationPayment(f.ctx, referral.ActivationPayment{
		ID:          "act-" + id,
		AffiliateID: referral.AffiliateID(id),
		InvoiceID:   "inv-" + id,
		Amount:      qualifying,
		PaidAt:      f.clock.Now(),
	}))
}

// commission inserts a row directly with the given status and amount.
func (f *fixture) commission(id, owner string, amount referral.Amount, status referral.CommissionStatus) referral.Commission {
	f.t.Helper()
	now := f.clock.Now()
	c := referral.Commission{
		ID:            referral.CommissionID(id),
		AffiliateID:   referral.AffiliateID(owner),
		TransactionID: "seed-" + id,
		BuyerID:       "seed-buyer",
		Level:         1,
		Kind:          referral.KindBase,
		Amount:        amount,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(f.t, f.store.InsertCommission(f.ctx, c))
	return c
}

func (f *fixture) withdrawal(id, owner string, amount referral.Amount, status referral.WithdrawalStatus) referral.Withdrawal {
	f.t.Helper()
	w := referral.Withdrawal{
		ID:     referral.WithdrawalID(id),
		UserID: referral.AffiliateID(owner),
		Amount: amount,
		Status: status,
		Destination: referral.Destination{
			BankName:      "Bank",
			AccountNumber: "123",
			AccountHolder: owner,
		},
		RequestedAt: f.clock.Now(),
	}
	require.NoError(f.t, f.store.InsertWithdrawal(f.ctx, w))
	return w
}

func (f *fixture) purchase(buyer, txID string) (*referral.FanoutResult, error) {
	return f.engine.Fanout.Distribute(f.ctx, referral.PurchaseEvent{
		PurchaserID:   referral.AffiliateID(buyer),
		TransactionID: txID,
		ProductAmount: qualifying,
		Quantity:      1,
	})
}

func (f *fixture) rowsFor(owner string) []referral.Commission {
	f.t.Helper()
	rows, err := f.store.ListCommissions(f.ctx, referral.CommissionFilter{AffiliateID: referral.AffiliateID(owner)})
	require.NoError(f.t, err)
	return rows
}

func (f *fixture) allRows() []referral.Commission {
	f.t.Helper()
	rows, err := f.store.ListCommissions(f.ctx, referral.CommissionFilter{})
	require.NoError(f.t, err)
	return rows
}

func (f *fixture) mustCommission(id string) referral.Commission {
	f.t.Helper()
	c, err := f.store.GetCommission(f.ctx, referral.CommissionID(id))
	require.NoError(f.t, err)
	require.NotNil(f.t, c)
	return *c
}

func (f *fixture) mustAffiliate(id string) referral.Affiliate {
	f.t.Helper()
	a, err := f.store.GetAffiliate(f.ctx, referral.AffiliateID(id))
	require.NoError(f.t, err)
	require.NotNil(f.t, a)
	return *a
}

func (f *fixture) mustWithdrawal(id string) referral.Withdrawal {
	f.t.Helper()
	w, err := f.store.GetWithdrawal(f.ctx, referral.WithdrawalID(id))
	require.NoError(f.t, err)
	require.NotNil(f.t, w)
	return *w
}

func sum(rows []referral.Commission) referral.Amount {
	var total referral.Amount
	for _, r := range rows {
		total += r.Amount
	}
	return total
}

func amountPtr(a referral.Amount) *referral.Amount { return &a }
