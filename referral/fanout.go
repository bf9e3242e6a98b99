/*
fanout.go - Commission fan-out for one purchase event

FLOW:
  1. Preconditions, checked once before any write (all-or-nothing):
     - transaction ID present, quantity >= 1
     - product amount equals the configured qualifying price exactly
     - purchaser exists
     - purchaser's activation payment is confirmed
  2. Walk the chain once, then for each level in ascending order create the
     scheduled rows (level 1: base + bonus, deeper: one row), skipping every
     row whose CommissionKey already exists.
  3. A PENDING purchaser becomes ACTIVE (activation completes on the first
     qualifying purchase).
  4. After commit: beneficiaries' balances are invalidated and created rows
     are mirrored asynchronously.

IDEMPOTENCY:
  Re-delivering the same event (webhook retry) finds every key and creates
  nothing. The result still lists the rows, so the caller sees the same
  outcome both times. The key has no unit dimension, so an event credits
  each key once whatever its quantity; the quantity is only reported.
*/
package referral

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ActivationVerifier answers whether an affiliate's one-time activation fee
// has been paid. Implementations may call a payment gateway.
type ActivationVerifier interface {
	IsActivationPaid(ctx context.Context, id AffiliateID) (bool, error)
}

type PurchaseEvent struct {
	PurchaserID   AffiliateID
	TransactionID string
	ProductAmount Amount
	Quantity      int
}

type FanoutResult struct {
	TransactionID string
	Quantity      int
	// Commissions holds every row for the event, created now or earlier,
	// in level order.
	Commissions []Commission
	Created     int
	Skipped     int

	// CreatedByKind counts the rows created by this call.
	CreatedByKind map[CommissionKind]int
	Termination   Termination
	Activated     bool
}

// Total sums the amounts of all rows in the result.
func (r FanoutResult) Total() Amount {
	var total Amount
	for _, c := range r.Commissions {
		total += c.Amount
	}
	return total
}

type FanoutEngine struct {
	rt         *runtime
	schedule   Schedule
	walker     *ChainWalker
	activation ActivationVerifier
}

// Schedule returns the payout table in use.
func (e *FanoutEngine) Schedule() Schedule { return e.schedule }

func (e *FanoutEngine) Distribute(ctx context.Context, ev PurchaseEvent) (*FanoutResult, error) {
	if err := e.checkEvent(ev); err != nil {
		return nil, err
	}
	// The activation check may reach an external gateway, so it runs before
	// the transaction opens.
	if err := e.checkActivation(ctx, ev); err != nil {
		return nil, err
	}

	result := &FanoutResult{TransactionID: ev.TransactionID}
	err := e.rt.run(ctx, func(tx *unitOfWork) error {
		*result = FanoutResult{
			TransactionID: ev.TransactionID,
			Quantity:      ev.Quantity,
			CreatedByKind: make(map[CommissionKind]int),
		}

		purchaser, err := tx.GetAffiliate(ctx, ev.PurchaserID)
		if err != nil {
			return fmt.Errorf("load purchaser: %w", err)
		}
		if purchaser == nil {
			return &NotFoundError{Kind: "affiliate", ID: string(ev.PurchaserID)}
		}

		chain, err := e.walker.Walk(ctx, tx, *purchaser)
		if err != nil {
			return err
		}
		result.Termination = chain.Termination

		for _, link := range chain.Links {
			if err := e.creditLevel(ctx, tx, ev, link, result); err != nil {
				return err
			}
		}

		if purchaser.Status == AffiliateStatusPending {
			if err := tx.SetAffiliateStatus(ctx, purchaser.ID, AffiliateStatusActive, e.rt.clock()); err != nil {
				return fmt.Errorf("activate purchaser: %w", err)
			}
			result.Activated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.rt.log.Info("commissions distributed",
		zap.String("transaction_id", ev.TransactionID),
		zap.String("purchaser_id", string(ev.PurchaserID)),
		zap.Int("quantity", ev.Quantity),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.String("termination", string(result.Termination)))
	return result, nil
}

func (e *FanoutEngine) checkEvent(ev PurchaseEvent) error {
	switch {
	case ev.TransactionID == "":
		return &InvalidPurchaseError{Reason: "transaction id is required"}
	case ev.PurchaserID == "":
		return &InvalidPurchaseError{TransactionID: ev.TransactionID, Reason: "purchaser id is required"}
	case ev.Quantity < 1:
		return &InvalidPurchaseError{TransactionID: ev.TransactionID, Reason: "quantity must be at least 1"}
	case ev.ProductAmount != e.schedule.QualifyingAmount:
		return &InvalidPurchaseError{
			TransactionID: ev.TransactionID,
			Reason:        fmt.Sprintf("product amount %d does not match qualifying amount %d", ev.ProductAmount, e.schedule.QualifyingAmount),
		}
	}
	return nil
}

func (e *FanoutEngine) checkActivation(ctx context.Context, ev PurchaseEvent) error {
	paid, err := e.activation.IsActivationPaid(ctx, ev.PurchaserID)
	if err != nil {
		e.rt.log.Warn("activation payment lookup failed",
			zap.String("purchaser_id", string(ev.PurchaserID)),
			zap.Error(err))
		paid = false
	}
	if !paid {
		return &InvalidPurchaseError{TransactionID: ev.TransactionID, Reason: "activation payment not confirmed"}
	}
	return nil
}

func (e *FanoutEngine) creditLevel(ctx context.Context, tx *unitOfWork, ev PurchaseEvent, link ChainLink, result *FanoutResult) error {
	for _, row := range e.schedule.rowsFor(link.Level) {
		key := CommissionKey{
			AffiliateID:   link.AncestorID,
			TransactionID: ev.TransactionID,
			Level:         link.Level,
			Kind:          row.Kind,
		}
		existing, err := tx.FindCommission(ctx, key)
		if err != nil {
			return fmt.Errorf("check commission %s: %w", key, err)
		}
		if existing != nil {
			result.Commissions = append(result.Commissions, *existing)
			result.Skipped++
			continue
		}

		now := e.rt.clock()
		c := Commission{
			ID:            CommissionID(e.rt.newID()),
			AffiliateID:   link.AncestorID,
			TransactionID: ev.TransactionID,
			BuyerID:       ev.PurchaserID,
			Level:         link.Level,
			Kind:          row.Kind,
			Amount:        row.Amount,
			Status:        CommissionPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertCommission(ctx, c); err != nil {
			if errors.Is(err, ErrDuplicateCommission) {
				// Lost a race on the unique key. The row exists; treat as skip.
				result.Skipped++
				continue
			}
			return fmt.Errorf("insert commission %s: %w", key, err)
		}
		result.Commissions = append(result.Commissions, c)
		result.Created++
		result.CreatedByKind[c.Kind]++
	}
	return nil
}
