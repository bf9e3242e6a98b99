/*
store.go - Persistence interfaces

KEY INTERFACES:
  AffiliateStore:  network nodes (insert-only upline, status, totals)
  CommissionStore: commission rows, unique on CommissionKey
  WithdrawalStore: withdrawal requests
  ActivationStore: confirmed activation payments
  TxStore:         Store + WithTx for atomic, serialised multi-row writes

NOT-FOUND CONVENTION:
  Get* methods return (nil, nil) when the record does not exist. Engines turn
  that into a NotFoundError where the record is required, and into a chain
  termination where it is not (the walker).

ORDERING:
  ListCommissions returns rows ordered by CreatedAt ascending, ties broken by
  insertion order. The debit engine relies on this for FIFO consumption.

IMPLEMENTATIONS:
  - referral/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite
*/
package referral

import (
	"context"
	"time"
)

type AffiliateStore interface {
	// CreateAffiliate inserts a node. Returns ErrDuplicateAffiliate if the ID
	// exists. There is deliberately no way to change a node's parent.
	CreateAffiliate(ctx context.Context, a Affiliate) error
	GetAffiliate(ctx context.Context, id AffiliateID) (*Affiliate, error)
	SetAffiliateStatus(ctx context.Context, id AffiliateID, status AffiliateStatus, at time.Time) error
	AddAffiliateTotals(ctx context.Context, id AffiliateID, earnings, paid Amount) error
	ListChildren(ctx context.Context, parentID AffiliateID) ([]Affiliate, error)
	ListAffiliates(ctx context.Context) ([]Affiliate, error)
}

// CommissionFilter selects commission rows. Zero fields do not filter.
type CommissionFilter struct {
	AffiliateID   AffiliateID
	TransactionID string
	Statuses      []CommissionStatus
}

type CommissionStore interface {
	// InsertCommission returns ErrDuplicateCommission if the key exists.
	InsertCommission(ctx context.Context, c Commission) error
	FindCommission(ctx context.Context, key CommissionKey) (*Commission, error)
	GetCommission(ctx context.Context, id CommissionID) (*Commission, error)
	// UpdateCommission persists status, amount, approval and rejection fields.
	UpdateCommission(ctx context.Context, c Commission) error
	ListCommissions(ctx context.Context, f CommissionFilter) ([]Commission, error)
}

// WithdrawalFilter selects withdrawals. Zero fields do not filter.
type WithdrawalFilter struct {
	UserID         AffiliateID
	Statuses       []WithdrawalStatus
	ApprovedBefore *time.Time
}

type WithdrawalStore interface {
	InsertWithdrawal(ctx context.Context, w Withdrawal) error
	GetWithdrawal(ctx context.Context, id WithdrawalID) (*Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w Withdrawal) error
	// ListWithdrawals returns newest first.
	ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]Withdrawal, error)
}

type ActivationStore interface {
	RecordActivationPayment(ctx context.Context, p ActivationPayment) error
	IsActivationPaid(ctx context.Context, id AffiliateID) (bool, error)
}

type Store interface {
	AffiliateStore
	CommissionStore
	WithdrawalStore
	ActivationStore
}

// TxStore wraps Store with transaction support.
//
// WithTx must serialise: while fn runs, no other WithTx on the same store may
// observe or write the same rows. If fn returns an error every write made
// through the passed Store is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
