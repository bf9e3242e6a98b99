package referral_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/referral"
)

func withdrawalRequest(user string, amount referral.Amount) referral.WithdrawalRequest {
	return referral.WithdrawalRequest{
		UserID: referral.AffiliateID(user),
		Amount: amount,
		Destination: referral.Destination{
			BankName:      "Bank",
			AccountNumber: "000123",
			AccountHolder: "User",
		},
	}
}

func TestRequest_CreatesPendingWithdrawal(t *testing.T) {
	f := newFixture(t)
	seedRows(f)

	w, err := f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("U", 70_000))
	require.NoError(t, err)

	assert.Equal(t, referral.WithdrawalPending, w.Status)
	assert.Equal(t, referral.Amount(70_000), w.Amount)
	assert.False(t, w.RequestedAt.IsZero())
	assert.Equal(t, referral.WithdrawalPending, f.mustWithdrawal(string(w.ID)).Status)

	// Requesting reserves balance without touching any row.
	bal, err := f.engine.Balances.Live(f.ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, referral.Amount(120_000), bal.ApprovedBalance)
	assert.Equal(t, referral.Amount(70_000), bal.PendingWithdrawal)
	assert.Equal(t, referral.Amount(50_000), bal.AvailableForWithdrawal)
}

func TestRequest_InFlightWithdrawalsReserveBalance(t *testing.T) {
	// GIVEN: 70,000 of 120,000 already requested
	f := newFixture(t)
	seedRows(f)
	_, err := f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("U", 70_000))
	require.NoError(t, err)

	// WHEN: Requesting another 70,000
	_, err = f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("U", 70_000))

	// THEN: Only 50,000 is available
	var insufficient *referral.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, referral.Amount(50_000), insufficient.Available)
	assert.Equal(t, referral.Amount(20_000), insufficient.Shortfall)
}

func TestRequest_Validation(t *testing.T) {
	cases := []struct {
		name  string
		req   referral.WithdrawalRequest
		field string
	}{
		{"missing user", withdrawalRequest("", 20_000), "user_id"},
		{"zero amount", withdrawalRequest("U", 0), "amount"},
		{"below minimum", withdrawalRequest("U", 9_999), "amount"},
		{"missing bank", func() referral.WithdrawalRequest {
			r := withdrawalRequest("U", 20_000)
			r.Destination.BankName = ""
			return r
		}(), "bank_name"},
		{"missing account", func() referral.WithdrawalRequest {
			r := withdrawalRequest("U", 20_000)
			r.Destination.AccountNumber = " "
			return r
		}(), "account_number"},
		{"missing holder", func() referral.WithdrawalRequest {
			r := withdrawalRequest("U", 20_000)
			r.Destination.AccountHolder = ""
			return r
		}(), "account_holder"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			seedRows(f)

			_, err := f.engine.Withdrawals.Request(f.ctx, tc.req)

			var validation *referral.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tc.field, validation.Field)
		})
	}
}

func TestRequest_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("ghost", 20_000))

	assert.True(t, referral.IsNotFound(err))
}

func TestRequest_PendingCommissionsAreNotWithdrawable(t *testing.T) {
	f := newFixture(t)
	f.affiliate("U", "", referral.AffiliateStatusActive)
	f.commission("C1", "U", 90_000, referral.CommissionPending)

	_, err := f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("U", 20_000))

	assert.ErrorIs(t, err, referral.ErrInsufficientBalance)
}

func TestApproveWithdrawal(t *testing.T) {
	f := newFixture(t)
	seedRows(f)
	w, err := f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("U", 70_000))
	require.NoError(t, err)

	approved, err := f.engine.Withdrawals.Approve(f.ctx, w.ID)
	require.NoError(t, err)

	assert.Equal(t, referral.WithdrawalApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	_, err = f.engine.Withdrawals.Approve(f.ctx, w.ID)
	assert.ErrorIs(t, err, referral.ErrStateConflict)
}

func TestApproveWithdrawal_RechecksCoverage(t *testing.T) {
	// GIVEN: Two in-flight withdrawals that together exceed the approved rows
	f := newFixture(t)
	seedRows(f)
	f.withdrawal("W1", "U", 70_000, referral.WithdrawalPending)
	f.withdrawal("W2", "U", 70_000, referral.WithdrawalPending)

	// WHEN: Approving one of them
	_, err := f.engine.Withdrawals.Approve(f.ctx, "W2")

	// THEN: It is refused and stays PENDING
	var insufficient *referral.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, referral.Amount(50_000), insufficient.Available)
	assert.Equal(t, referral.WithdrawalPending, f.mustWithdrawal("W2").Status)
}

func TestRejectWithdrawal_ReleasesReservation(t *testing.T) {
	f := newFixture(t)
	seedRows(f)
	w, err := f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("U", 70_000))
	require.NoError(t, err)

	_, err = f.engine.Withdrawals.Reject(f.ctx, w.ID, "")
	assert.ErrorIs(t, err, referral.ErrValidation)

	rejected, err := f.engine.Withdrawals.Reject(f.ctx, w.ID, "account closed")
	require.NoError(t, err)
	assert.Equal(t, referral.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "account closed", rejected.RejectionReason)

	bal, err := f.engine.Balances.Live(f.ctx, "U")
	require.NoError(t, err)
	assert.Zero(t, bal.PendingWithdrawal)
	assert.Equal(t, referral.Amount(120_000), bal.AvailableForWithdrawal)

	_, err = f.engine.Withdrawals.Complete(f.ctx, w.ID)
	assert.ErrorIs(t, err, referral.ErrStateConflict)
}

func TestWithdrawalLifecycle_RequestApproveComplete(t *testing.T) {
	f := newFixture(t)
	seedRows(f)

	w, err := f.engine.Withdrawals.Request(f.ctx, withdrawalRequest("U", 70_000))
	require.NoError(t, err)
	_, err = f.engine.Withdrawals.Approve(f.ctx, w.ID)
	require.NoError(t, err)
	report, err := f.engine.Withdrawals.Complete(f.ctx, w.ID)
	require.NoError(t, err)

	assert.Equal(t, referral.WithdrawalCompleted, report.Withdrawal.Status)
	got, err := f.engine.Withdrawals.Get(f.ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, referral.WithdrawalCompleted, got.Status)

	bal, err := f.engine.Balances.Live(f.ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, referral.Balance{
		UserID:                 "U",
		TotalEarned:            120_000,
		ApprovedBalance:        50_000,
		AvailableForWithdrawal: 50_000,
		TotalWithdrawn:         70_000,
	}, bal)
}

func TestListWithdrawals_NewestFirst(t *testing.T) {
	f := newFixture(t)
	seedRows(f)
	f.withdrawal("W1", "U", 10_000, referral.WithdrawalPending)
	f.withdrawal("W2", "U", 10_000, referral.WithdrawalPending)

	list, err := f.engine.Withdrawals.List(f.ctx, referral.WithdrawalFilter{UserID: "U"})
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, referral.WithdrawalID("W2"), list[0].ID)
	assert.Equal(t, referral.WithdrawalID("W1"), list[1].ID)
}
