package referral

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RecordActivation stores a confirmed activation fee for id. The payment
// gateway webhook calls this; the affiliate stays PENDING until its first
// qualifying purchase.
func (n *Network) RecordActivation(ctx context.Context, id AffiliateID, invoiceID string, amount Amount) (*ActivationPayment, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, &ValidationError{Field: "invoice_id", Message: "is required"}
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	p := ActivationPayment{
		ID:          n.rt.newID(),
		AffiliateID: id,
		InvoiceID:   invoiceID,
		Amount:      amount,
		PaidAt:      n.rt.clock(),
	}
	err := n.rt.run(ctx, func(tx *unitOfWork) error {
		a, err := tx.GetAffiliate(ctx, id)
		if err != nil {
			return fmt.Errorf("load affiliate: %w", err)
		}
		if a == nil {
			return &NotFoundError{Kind: "affiliate", ID: string(id)}
		}
		return tx.RecordActivationPayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	n.rt.log.Info("activation payment recorded",
		zap.String("affiliate_id", string(id)),
		zap.String("invoice_id", invoiceID))
	return &p, nil
}

// storeVerifier confirms activation from recorded payments.
type storeVerifier struct {
	store ActivationStore
}

func (v storeVerifier) IsActivationPaid(ctx context.Context, id AffiliateID) (bool, error) {
	return v.store.IsActivationPaid(ctx, id)
}
