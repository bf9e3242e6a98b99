package referral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionTransitions(t *testing.T) {
	tests := []struct {
		from, to CommissionStatus
		ok       bool
	}{
		{CommissionPending, CommissionApproved, true},
		{CommissionPending, CommissionRejected, true},
		{CommissionPending, CommissionPaid, true},
		{CommissionPending, CommissionWithdrawn, false},
		{CommissionApproved, CommissionWithdrawn, true},
		{CommissionApproved, CommissionRejected, false},
		{CommissionApproved, CommissionPending, false},
		{CommissionPaid, CommissionWithdrawn, true},
		{CommissionRejected, CommissionApproved, false},
		{CommissionWithdrawn, CommissionApproved, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			c := Commission{ID: "C", Status: tt.from}
			err := c.transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, c.Status)
				return
			}
			assert.ErrorIs(t, err, ErrStateConflict)
			assert.Equal(t, tt.from, c.Status)
		})
	}
}

func TestWithdrawalTransitions(t *testing.T) {
	w := Withdrawal{ID: "W", Status: WithdrawalPending}
	require.NoError(t, w.transition(WithdrawalApproved))
	assert.ErrorIs(t, w.transition(WithdrawalRejected), ErrStateConflict)
	require.NoError(t, w.transition(WithdrawalCompleted))
	assert.ErrorIs(t, w.transition(WithdrawalApproved), ErrStateConflict)

	direct := Withdrawal{ID: "W2", Status: WithdrawalPending}
	assert.NoError(t, direct.transition(WithdrawalCompleted))
}

func TestDebit(t *testing.T) {
	c := Commission{ID: "C", Status: CommissionApproved, Amount: 30_000}

	require.NoError(t, c.debit(20_000))
	assert.Equal(t, Amount(10_000), c.Amount)
	assert.Equal(t, CommissionApproved, c.Status)

	assert.ErrorIs(t, c.debit(10_001), ErrValidation)
	assert.ErrorIs(t, c.debit(0), ErrValidation)

	require.NoError(t, c.debit(10_000))
	assert.Zero(t, c.Amount)
	assert.Equal(t, CommissionWithdrawn, c.Status)

	pending := Commission{ID: "P", Status: CommissionPending, Amount: 1}
	assert.ErrorIs(t, pending.debit(1), ErrStateConflict)
	assert.Equal(t, Amount(1), pending.Amount)
}

func TestAffiliateAdminTransitions(t *testing.T) {
	a := Affiliate{ID: "A", Status: AffiliateStatusPending}
	assert.ErrorIs(t, a.adminTransition(AffiliateStatusActive), ErrStateConflict)
	require.NoError(t, a.adminTransition(AffiliateStatusSuspended))
	require.NoError(t, a.adminTransition(AffiliateStatusActive))
	require.NoError(t, a.adminTransition(AffiliateStatusInactive))
	assert.False(t, AffiliateStatus("BANNED").Valid())
}

func TestScheduleValidate(t *testing.T) {
	valid := Schedule{MaxLevel: 10, Level1Base: 1, Level1Bonus: 1, LevelN: 1, QualifyingAmount: 1}
	require.NoError(t, valid.Validate())

	tooDeep := valid
	tooDeep.MaxLevel = 11
	assert.ErrorIs(t, tooDeep.Validate(), ErrValidation)

	unpaid := valid
	unpaid.LevelN = 0
	assert.ErrorIs(t, unpaid.Validate(), ErrValidation)

	free := valid
	free.QualifyingAmount = 0
	assert.ErrorIs(t, free.Validate(), ErrValidation)
}

func TestRowsFor(t *testing.T) {
	s := Schedule{MaxLevel: 10, Level1Base: 50_000, Level1Bonus: 25_000, LevelN: 10_000, QualifyingAmount: 500_000}

	assert.Equal(t, []scheduledRow{{KindBase, 50_000}, {KindBonus, 25_000}}, s.rowsFor(1))
	for level := 2; level <= 10; level++ {
		assert.Equal(t, []scheduledRow{{KindLevel, 10_000}}, s.rowsFor(level))
	}
}
