/*
approval.go - Admin approval of PENDING commission rows

OPERATIONS:
  Approve          PENDING -> APPROVED, optionally with a replacement amount
  ApproveBatch     Approve for each id, each in its own transaction
  ApproveAffiliate every PENDING row of one affiliate, optionally with one
                   replacement total for the whole group
  Reject           PENDING -> REJECTED with a mandatory reason

Every approval adds the credited amount to the beneficiary's TotalEarnings
and TotalPaid. A group total override is credited to those totals only; the
rows keep their own amounts.
*/
package referral

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type ApprovalWorkflow struct {
	rt *runtime
}

// BatchFailure is one id that could not be approved.
type BatchFailure struct {
	ID  CommissionID
	Err error
}

type BatchResult struct {
	Approved []Commission
	Failed   []BatchFailure
}

type GroupApproval struct {
	AffiliateID   AffiliateID
	Count         int
	OriginalTotal Amount // sum of the rows' amounts
	CreditedTotal Amount // what was added to the affiliate totals
	Commissions   []Commission
}

// Approve moves a PENDING row to APPROVED. A non-nil override replaces the
// row amount verbatim.
func (w *ApprovalWorkflow) Approve(ctx context.Context, id CommissionID, override *Amount) (*Commission, error) {
	if err := checkOverride(override); err != nil {
		return nil, err
	}

	var approved Commission
	err := w.rt.run(ctx, func(tx *unitOfWork) error {
		c, err := loadCommission(ctx, tx, id)
		if err != nil {
			return err
		}
		if override != nil && c.Status == CommissionPending {
			c.Amount = *override
		}
		if err := w.approveRow(ctx, tx, c); err != nil {
			return err
		}
		if err := tx.AddAffiliateTotals(ctx, c.AffiliateID, c.Amount, c.Amount); err != nil {
			return fmt.Errorf("credit affiliate totals: %w", err)
		}
		approved = *c
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.rt.log.Info("commission approved",
		zap.String("commission_id", string(id)),
		zap.String("affiliate_id", string(approved.AffiliateID)),
		zap.Int64("amount", int64(approved.Amount)),
		zap.Bool("overridden", override != nil))
	return &approved, nil
}

// ApproveBatch approves each id independently. Partial success is normal.
func (w *ApprovalWorkflow) ApproveBatch(ctx context.Context, ids []CommissionID) BatchResult {
	var result BatchResult
	for _, id := range ids {
		c, err := w.Approve(ctx, id, nil)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{ID: id, Err: err})
			continue
		}
		result.Approved = append(result.Approved, *c)
	}
	return result
}

// ApproveAffiliate approves every PENDING row of one affiliate in a single
// transaction. A non-nil totalOverride is credited in place of the sum.
func (w *ApprovalWorkflow) ApproveAffiliate(ctx context.Context, affiliateID AffiliateID, totalOverride *Amount) (*GroupApproval, error) {
	if err := checkOverride(totalOverride); err != nil {
		return nil, err
	}

	group := &GroupApproval{AffiliateID: affiliateID}
	err := w.rt.run(ctx, func(tx *unitOfWork) error {
		*group = GroupApproval{AffiliateID: affiliateID}

		aff, err := tx.GetAffiliate(ctx, affiliateID)
		if err != nil {
			return fmt.Errorf("load affiliate: %w", err)
		}
		if aff == nil {
			return &NotFoundError{Kind: "affiliate", ID: string(affiliateID)}
		}

		rows, err := tx.ListCommissions(ctx, CommissionFilter{
			AffiliateID: affiliateID,
			Statuses:    []CommissionStatus{CommissionPending},
		})
		if err != nil {
			return fmt.Errorf("list pending commissions: %w", err)
		}
		for i := range rows {
			c := rows[i]
			if err := w.approveRow(ctx, tx, &c); err != nil {
				return err
			}
			group.OriginalTotal += c.Amount
			group.Commissions = append(group.Commissions, c)
		}
		group.Count = len(group.Commissions)
		if group.Count == 0 {
			return nil
		}

		group.CreditedTotal = group.OriginalTotal
		if totalOverride != nil {
			group.CreditedTotal = *totalOverride
		}
		if err := tx.AddAffiliateTotals(ctx, affiliateID, group.CreditedTotal, group.CreditedTotal); err != nil {
			return fmt.Errorf("credit affiliate totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.rt.log.Info("affiliate commissions approved",
		zap.String("affiliate_id", string(affiliateID)),
		zap.Int("count", group.Count),
		zap.Int64("original_total", int64(group.OriginalTotal)),
		zap.Int64("credited_total", int64(group.CreditedTotal)))
	return group, nil
}

// Reject moves a PENDING row to REJECTED. The reason is required.
func (w *ApprovalWorkflow) Reject(ctx context.Context, id CommissionID, reason string) (*Commission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	var rejected Commission
	err := w.rt.run(ctx, func(tx *unitOfWork) error {
		c, err := loadCommission(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := c.transition(CommissionRejected); err != nil {
			return err
		}
		c.RejectionReason = reason
		c.UpdatedAt = w.rt.clock()
		if err := tx.UpdateCommission(ctx, *c); err != nil {
			return fmt.Errorf("update commission: %w", err)
		}
		rejected = *c
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.rt.log.Info("commission rejected",
		zap.String("commission_id", string(id)),
		zap.String("affiliate_id", string(rejected.AffiliateID)),
		zap.String("reason", reason))
	return &rejected, nil
}

func (w *ApprovalWorkflow) approveRow(ctx context.Context, tx *unitOfWork, c *Commission) error {
	if err := c.transition(CommissionApproved); err != nil {
		return err
	}
	now := w.rt.clock()
	c.ApprovedAt = &now
	c.UpdatedAt = now
	if err := tx.UpdateCommission(ctx, *c); err != nil {
		return fmt.Errorf("update commission %s: %w", c.ID, err)
	}
	return nil
}

func loadCommission(ctx context.Context, s Store, id CommissionID) (*Commission, error) {
	c, err := s.GetCommission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load commission: %w", err)
	}
	if c == nil {
		return nil, &NotFoundError{Kind: "commission", ID: string(id)}
	}
	return c, nil
}

func checkOverride(a *Amount) error {
	if a != nil && *a <= 0 {
		return &ValidationError{Field: "amount", Message: "override must be positive"}
	}
	return nil
}
