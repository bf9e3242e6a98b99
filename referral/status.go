package referral

// =============================================================================
// AFFILIATE STATUS
// =============================================================================

type AffiliateStatus string

const (
	AffiliateStatusPending   AffiliateStatus = "PENDING"
	AffiliateStatusActive    AffiliateStatus = "ACTIVE"
	AffiliateStatusSuspended AffiliateStatus = "SUSPENDED"
	AffiliateStatusInactive  AffiliateStatus = "INACTIVE"
)

// PENDING -> ACTIVE happens only through the activation flow, see
// FanoutEngine. Admin changes use affiliateAdminTransitions.
var affiliateAdminTransitions = map[AffiliateStatus][]AffiliateStatus{
	AffiliateStatusPending:   {AffiliateStatusSuspended, AffiliateStatusInactive},
	AffiliateStatusActive:    {AffiliateStatusSuspended, AffiliateStatusInactive},
	AffiliateStatusSuspended: {AffiliateStatusActive, AffiliateStatusInactive},
	AffiliateStatusInactive:  {AffiliateStatusActive, AffiliateStatusSuspended},
}

func (s AffiliateStatus) Valid() bool {
	_, ok := affiliateAdminTransitions[s]
	return ok
}

// =============================================================================
// COMMISSION STATUS
// =============================================================================

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "PENDING"
	CommissionApproved  CommissionStatus = "APPROVED"
	CommissionRejected  CommissionStatus = "REJECTED"
	CommissionPaid      CommissionStatus = "PAID" // legacy alias of APPROVED
	CommissionWithdrawn CommissionStatus = "WITHDRAWN"
)

var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionPending:   {CommissionApproved, CommissionRejected, CommissionPaid},
	CommissionApproved:  {CommissionWithdrawn},
	CommissionPaid:      {CommissionWithdrawn},
	CommissionRejected:  nil,
	CommissionWithdrawn: nil,
}

func (s CommissionStatus) Valid() bool {
	_, ok := commissionTransitions[s]
	return ok
}

// Spendable reports whether rows in this status fund withdrawals.
func (s CommissionStatus) Spendable() bool {
	return s == CommissionApproved || s == CommissionPaid
}

// SpendableStatuses lists the statuses counted as approved balance.
var SpendableStatuses = []CommissionStatus{CommissionApproved, CommissionPaid}

// =============================================================================
// WITHDRAWAL STATUS
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalApproved  WithdrawalStatus = "APPROVED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:   {WithdrawalApproved, WithdrawalRejected, WithdrawalCompleted},
	WithdrawalApproved:  {WithdrawalCompleted},
	WithdrawalRejected:  nil,
	WithdrawalCompleted: nil,
}

func (s WithdrawalStatus) Valid() bool {
	_, ok := withdrawalTransitions[s]
	return ok
}

// InFlightWithdrawalStatuses are the statuses that reserve approved balance.
var InFlightWithdrawalStatuses = []WithdrawalStatus{WithdrawalPending, WithdrawalApproved}

// =============================================================================
// TRANSITION CHECKS
// =============================================================================

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (c *Commission) transition(to CommissionStatus) error {
	if !allowed(commissionTransitions, c.Status, to) {
		return &StateConflictError{Kind: "commission", ID: string(c.ID), Current: string(c.Status), Requested: string(to)}
	}
	c.Status = to
	return nil
}

// debit lowers a spendable row's amount in place. A row debited down to zero
// becomes WITHDRAWN.
func (c *Commission) debit(n Amount) error {
	if !c.Status.Spendable() {
		return &StateConflictError{Kind: "commission", ID: string(c.ID), Current: string(c.Status), Requested: string(CommissionWithdrawn)}
	}
	if n <= 0 || n > c.Amount {
		return &ValidationError{Field: "amount", Message: "debit outside row amount"}
	}
	c.Amount -= n
	if c.Amount == 0 {
		return c.transition(CommissionWithdrawn)
	}
	return nil
}

func (w *Withdrawal) transition(to WithdrawalStatus) error {
	if !allowed(withdrawalTransitions, w.Status, to) {
		return &StateConflictError{Kind: "withdrawal", ID: string(w.ID), Current: string(w.Status), Requested: string(to)}
	}
	w.Status = to
	return nil
}

func (a *Affiliate) adminTransition(to AffiliateStatus) error {
	if !allowed(affiliateAdminTransitions, a.Status, to) {
		return &StateConflictError{Kind: "affiliate", ID: string(a.ID), Current: string(a.Status), Requested: string(to)}
	}
	a.Status = to
	return nil
}
