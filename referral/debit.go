/*
debit.go - FIFO splitting debit for withdrawal completion

ALGORITHM (one transaction):
  1. Withdrawal must be PENDING or APPROVED.
  2. Load the user's spendable rows (APPROVED, legacy PAID), oldest first.
  3. Pre-check: if their sum is below the withdrawal amount, fail with
     InsufficientBalanceError. No row has been touched yet.
  4. Walk the rows with remaining = amount:
       row.Amount <= remaining  -> row goes to 0 and WITHDRAWN
       row.Amount >  remaining  -> row is reduced in place, stays spendable
  5. Withdrawal becomes COMPLETED.

Example: rows 50,000 / 30,000 / 40,000, withdraw 70,000
  -> 0 (WITHDRAWN) / 10,000 (APPROVED) / 40,000 (untouched)

This is the only code that changes the amount of a spendable row.
*/
package referral

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Deduction reports what one withdrawal took from one commission row.
type Deduction struct {
	CommissionID CommissionID
	Before       Amount
	Deducted     Amount
	After        Amount
	Status       CommissionStatus
}

type DebitReport struct {
	Withdrawal Withdrawal
	Deductions []Deduction
}

type DebitEngine struct {
	rt *runtime
}

// Complete settles a withdrawal against the user's commission rows. It either
// fully succeeds or changes nothing.
func (e *DebitEngine) Complete(ctx context.Context, id WithdrawalID) (*DebitReport, error) {
	var report *DebitReport
	err := e.rt.run(ctx, func(tx *unitOfWork) error {
		w, err := tx.GetWithdrawal(ctx, id)
		if err != nil {
			return fmt.Errorf("load withdrawal: %w", err)
		}
		if w == nil {
			return &NotFoundError{Kind: "withdrawal", ID: string(id)}
		}
		if w.Status != WithdrawalPending && w.Status != WithdrawalApproved {
			return &StateConflictError{Kind: "withdrawal", ID: string(w.ID), Current: string(w.Status), Requested: string(WithdrawalCompleted)}
		}

		rows, err := tx.ListCommissions(ctx, CommissionFilter{AffiliateID: w.UserID, Statuses: SpendableStatuses})
		if err != nil {
			return fmt.Errorf("list spendable commissions: %w", err)
		}

		var available Amount
		for _, c := range rows {
			available += c.Amount
		}
		if available < w.Amount {
			return newInsufficient(w.UserID, available, w.Amount)
		}

		deductions, err := consumeFIFO(ctx, tx, rows, w.Amount, e.rt.clock)
		if err != nil {
			return err
		}

		if err := w.transition(WithdrawalCompleted); err != nil {
			return err
		}
		now := e.rt.clock()
		w.CompletedAt = &now
		if err := tx.UpdateWithdrawal(ctx, *w); err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}

		report = &DebitReport{Withdrawal: *w, Deductions: deductions}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.rt.log.Info("withdrawal completed",
		zap.String("withdrawal_id", string(id)),
		zap.String("affiliate_id", string(report.Withdrawal.UserID)),
		zap.Int64("amount", int64(report.Withdrawal.Amount)),
		zap.Int("rows_touched", len(report.Deductions)))
	return report, nil
}

// consumeFIFO debits rows in the order given until amount is covered. The
// caller has already checked that the rows cover amount.
func consumeFIFO(ctx context.Context, tx *unitOfWork, rows []Commission, amount Amount, clock func() time.Time) ([]Deduction, error) {
	remaining := amount
	var deductions []Deduction

	for i := range rows {
		if remaining == 0 {
			break
		}
		c := rows[i]
		if c.Amount <= 0 {
			continue
		}

		take := c.Amount
		if take > remaining {
			take = remaining
		}
		before := c.Amount
		if err := c.debit(take); err != nil {
			return nil, err
		}
		c.UpdatedAt = clock()
		if err := tx.UpdateCommission(ctx, c); err != nil {
			return nil, fmt.Errorf("update commission %s: %w", c.ID, err)
		}

		remaining -= take
		deductions = append(deductions, Deduction{
			CommissionID: c.ID,
			Before:       before,
			Deducted:     take,
			After:        c.Amount,
			Status:       c.Status,
		})
	}
	return deductions, nil
}
