/*
Package referral provides the commission fan-out and withdrawal debit engine.

PURPOSE:
  A qualifying purchase by a network member credits every eligible upline
  ancestor with a fixed per-level commission, exactly once. Affiliates later
  withdraw approved commissions; completion consumes ledger rows oldest-first,
  splitting a row when it is larger than what is still owed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: integer money in the single currency unit
  - Affiliate: a network node with an immutable upline pointer
  - Commission: one ledger row per (purchase, level, beneficiary, kind)
  - Withdrawal: one cash-out attempt
  - Schedule: the configured payout table

DESIGN PRINCIPLES:
  1. Closed enumerations: statuses are typed constants with transition tables
  2. Immutable upline: ParentID is set by NewAffiliate and has no setter
  3. Exactly-once: CommissionKey is unique; re-delivery is a no-op
  4. All-or-nothing: every engine write runs inside one store transaction

SEE ALSO:
  - status.go: Transition tables
  - store.go: Persistence interfaces
  - fanout.go, debit.go: The two engines with real invariants
*/
package referral

import (
	"fmt"
	"time"
)

// =============================================================================
// AMOUNT
// =============================================================================

// Amount is money in the smallest (and only) currency unit.
type Amount int64

// MaxLevel is the deepest level that may ever receive a commission.
const MaxLevel = 10

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AffiliateID string
type CommissionID string
type WithdrawalID string

// =============================================================================
// AFFILIATE - Network node
// =============================================================================

// Affiliate is one member of the referral network.
//
// The upline pointer is unexported: it is fixed by NewAffiliate and the public
// contract offers no way to reassign it. That is what keeps the graph acyclic
// once the registration-time cycle check has passed.
type Affiliate struct {
	ID            AffiliateID
	Code          string
	Status        AffiliateStatus
	TotalEarnings Amount // cumulative approved amount, including later-withdrawn
	TotalPaid     Amount // legacy mirror of TotalEarnings
	CreatedAt     time.Time
	ActivatedAt   *time.Time

	parentID AffiliateID
}

// NewAffiliate builds a node with its upline. An empty parentID marks a root.
func NewAffiliate(id, parentID AffiliateID, code string) Affiliate {
	return Affiliate{
		ID:       id,
		Code:     code,
		Status:   AffiliateStatusPending,
		parentID: parentID,
	}
}

// ParentID returns the upline, or "" for a root node.
func (a Affiliate) ParentID() AffiliateID { return a.parentID }

// IsRoot reports whether the node has no upline.
func (a Affiliate) IsRoot() bool { return a.parentID == "" }

// =============================================================================
// COMMISSION - Ledger row
// =============================================================================

// CommissionKind distinguishes the two level-1 rows from the single row at
// deeper levels.
type CommissionKind string

const (
	KindBase  CommissionKind = "base"
	KindBonus CommissionKind = "bonus"
	KindLevel CommissionKind = "level"
)

// CommissionKey is the idempotency tuple. At most one row exists per key.
type CommissionKey struct {
	AffiliateID   AffiliateID
	TransactionID string
	Level         int
	Kind          CommissionKind
}

func (k CommissionKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", k.AffiliateID, k.TransactionID, k.Level, k.Kind)
}

type Commission struct {
	ID              CommissionID
	AffiliateID     AffiliateID
	TransactionID   string
	BuyerID         AffiliateID
	Level           int
	Kind            CommissionKind
	Amount          Amount
	Status          CommissionStatus
	RejectionReason string
	CreatedAt       time.Time
	ApprovedAt      *time.Time
	UpdatedAt       time.Time
}

// Key returns the idempotency tuple of the row.
func (c Commission) Key() CommissionKey {
	return CommissionKey{
		AffiliateID:   c.AffiliateID,
		TransactionID: c.TransactionID,
		Level:         c.Level,
		Kind:          c.Kind,
	}
}

// =============================================================================
// WITHDRAWAL - Cash-out attempt
// =============================================================================

// Destination is where the withdrawn money is sent.
type Destination struct {
	BankName      string
	AccountNumber string
	AccountHolder string
}

type Withdrawal struct {
	ID              WithdrawalID
	UserID          AffiliateID
	Amount          Amount
	Status          WithdrawalStatus
	Destination     Destination
	RejectionReason string
	RequestedAt     time.Time
	ApprovedAt      *time.Time
	CompletedAt     *time.Time
}

// =============================================================================
// ACTIVATION PAYMENT
// =============================================================================

// ActivationPayment records a confirmed one-time activation fee. Rows are
// written by the payment-gateway webhook; the engine only reads them.
type ActivationPayment struct {
	ID          string
	AffiliateID AffiliateID
	InvoiceID   string
	Amount      Amount
	PaidAt      time.Time
}

// =============================================================================
// SCHEDULE - Payout table
// =============================================================================

// Schedule is the externally configured payout table.
type Schedule struct {
	MaxLevel         int
	Level1Base       Amount
	Level1Bonus      Amount
	LevelN           Amount // uniform for levels 2..MaxLevel
	QualifyingAmount Amount // exact product price that triggers a fan-out
}

// Validate rejects schedules that cannot be paid out.
func (s Schedule) Validate() error {
	if s.MaxLevel < 1 || s.MaxLevel > MaxLevel {
		return &ValidationError{Field: "max_level", Message: fmt.Sprintf("must be between 1 and %d", MaxLevel)}
	}
	if s.Level1Base <= 0 || s.Level1Bonus <= 0 || s.LevelN <= 0 {
		return &ValidationError{Field: "schedule", Message: "level amounts must be positive"}
	}
	if s.QualifyingAmount <= 0 {
		return &ValidationError{Field: "qualifying_amount", Message: "must be positive"}
	}
	return nil
}

type scheduledRow struct {
	Kind   CommissionKind
	Amount Amount
}

// rowsFor returns the rows owed at a level, in creation order.
func (s Schedule) rowsFor(level int) []scheduledRow {
	if level == 1 {
		return []scheduledRow{
			{Kind: KindBase, Amount: s.Level1Base},
			{Kind: KindBonus, Amount: s.Level1Bonus},
		}
	}
	return []scheduledRow{{Kind: KindLevel, Amount: s.LevelN}}
}
