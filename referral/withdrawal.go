package referral

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type WithdrawalRequest struct {
	UserID      AffiliateID
	Amount      Amount
	Destination Destination
}

// WithdrawalService handles the request side of withdrawals. Completion is
// the DebitEngine's job. Balance checks always read live inside the
// transaction.
type WithdrawalService struct {
	rt            *runtime
	minWithdrawal Amount
	debits        *DebitEngine
}

func (s *WithdrawalService) Request(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var created Withdrawal
	err := s.rt.run(ctx, func(tx *unitOfWork) error {
		aff, err := tx.GetAffiliate(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("load affiliate: %w", err)
		}
		if aff == nil {
			return &NotFoundError{Kind: "affiliate", ID: string(req.UserID)}
		}

		bal, err := computeBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if req.Amount > bal.AvailableForWithdrawal {
			return newInsufficient(req.UserID, bal.AvailableForWithdrawal, req.Amount)
		}

		created = Withdrawal{
			ID:          WithdrawalID(s.rt.newID()),
			UserID:      req.UserID,
			Amount:      req.Amount,
			Status:      WithdrawalPending,
			Destination: req.Destination,
			RequestedAt: s.rt.clock(),
		}
		if err := tx.InsertWithdrawal(ctx, created); err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.log.Info("withdrawal requested",
		zap.String("withdrawal_id", string(created.ID)),
		zap.String("affiliate_id", string(created.UserID)),
		zap.Int64("amount", int64(created.Amount)))
	return &created, nil
}

func (s *WithdrawalService) validate(req WithdrawalRequest) error {
	switch {
	case req.UserID == "":
		return &ValidationError{Field: "user_id", Message: "is required"}
	case req.Amount <= 0:
		return &ValidationError{Field: "amount", Message: "must be positive"}
	case req.Amount < s.minWithdrawal:
		return &ValidationError{Field: "amount", Message: fmt.Sprintf("must be at least %d", s.minWithdrawal)}
	case strings.TrimSpace(req.Destination.BankName) == "":
		return &ValidationError{Field: "bank_name", Message: "is required"}
	case strings.TrimSpace(req.Destination.AccountNumber) == "":
		return &ValidationError{Field: "account_number", Message: "is required"}
	case strings.TrimSpace(req.Destination.AccountHolder) == "":
		return &ValidationError{Field: "account_holder", Message: "is required"}
	}
	return nil
}

// Approve moves a PENDING withdrawal to APPROVED after re-checking that the
// approved rows still cover every in-flight withdrawal.
func (s *WithdrawalService) Approve(ctx context.Context, id WithdrawalID) (*Withdrawal, error) {
	var approved Withdrawal
	err := s.rt.run(ctx, func(tx *unitOfWork) error {
		w, err := loadWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := w.transition(WithdrawalApproved); err != nil {
			return err
		}

		bal, err := computeBalance(ctx, tx, w.UserID)
		if err != nil {
			return err
		}
		if bal.PendingWithdrawal > bal.ApprovedBalance {
			// The pending total already includes w.
			others := bal.PendingWithdrawal - w.Amount
			return newInsufficient(w.UserID, max(0, bal.ApprovedBalance-others), w.Amount)
		}

		now := s.rt.clock()
		w.ApprovedAt = &now
		if err := tx.UpdateWithdrawal(ctx, *w); err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		approved = *w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.log.Info("withdrawal approved",
		zap.String("withdrawal_id", string(id)),
		zap.String("affiliate_id", string(approved.UserID)))
	return &approved, nil
}

func (s *WithdrawalService) Reject(ctx context.Context, id WithdrawalID, reason string) (*Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	var rejected Withdrawal
	err := s.rt.run(ctx, func(tx *unitOfWork) error {
		w, err := loadWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := w.transition(WithdrawalRejected); err != nil {
			return err
		}
		w.RejectionReason = reason
		if err := tx.UpdateWithdrawal(ctx, *w); err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		rejected = *w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rt.log.Info("withdrawal rejected",
		zap.String("withdrawal_id", string(id)),
		zap.String("affiliate_id", string(rejected.UserID)),
		zap.String("reason", reason))
	return &rejected, nil
}

// Complete settles the withdrawal through the debit engine.
func (s *WithdrawalService) Complete(ctx context.Context, id WithdrawalID) (*DebitReport, error) {
	return s.debits.Complete(ctx, id)
}

func (s *WithdrawalService) Get(ctx context.Context, id WithdrawalID) (*Withdrawal, error) {
	return loadWithdrawal(ctx, s.rt.store, id)
}

func (s *WithdrawalService) List(ctx context.Context, f WithdrawalFilter) ([]Withdrawal, error) {
	return s.rt.store.ListWithdrawals(ctx, f)
}

func loadWithdrawal(ctx context.Context, s Store, id WithdrawalID) (*Withdrawal, error) {
	w, err := s.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	if w == nil {
		return nil, &NotFoundError{Kind: "withdrawal", ID: string(id)}
	}
	return w, nil
}
