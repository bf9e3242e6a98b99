/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Money in request bodies is decoded as decimal.Decimal, so clients may send
  either 50000 or "50000". Values must be whole numbers; fractional amounts
  are rejected with 400. Responses carry plain integers.

VALIDATION:
  Struct tags are checked with go-playground/validator before the body
  reaches the engine. Domain rules (balance, state) are the engine's job.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/referral"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type RegisterAffiliateRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	ParentID string `json:"parent_id" validate:"max=64"`
	Code     string `json:"code" validate:"max=64"`
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING ACTIVE SUSPENDED INACTIVE"`
}

type RecordActivationRequest struct {
	InvoiceID string          `json:"invoice_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type PurchaseRequest struct {
	PurchaserID   string          `json:"purchaser_id" validate:"required"`
	TransactionID string          `json:"transaction_id" validate:"required"`
	ProductAmount decimal.Decimal `json:"product_amount"`
	Quantity      int             `json:"quantity" validate:"required,min=1,max=1000"`
}

// ApproveCommissionRequest optionally replaces the row amount.
type ApproveCommissionRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type BatchApproveRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// GroupApproveRequest optionally replaces the credited total.
type GroupApproveRequest struct {
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
}

type WithdrawalCreateRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	BankName      string          `json:"bank_name" validate:"required"`
	AccountNumber string          `json:"account_number" validate:"required"`
	AccountHolder string          `json:"account_holder" validate:"required"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type AffiliateDTO struct {
	ID            string  `json:"id"`
	ParentID      string  `json:"parent_id,omitempty"`
	Code          string  `json:"code,omitempty"`
	Status        string  `json:"status"`
	TotalEarnings int64   `json:"total_earnings"`
	TotalPaid     int64   `json:"total_paid"`
	CreatedAt     string  `json:"created_at"`
	ActivatedAt   *string `json:"activated_at,omitempty"`
}

type CommissionDTO struct {
	ID              string  `json:"id"`
	AffiliateID     string  `json:"affiliate_id"`
	TransactionID   string  `json:"transaction_id"`
	BuyerID         string  `json:"buyer_id"`
	Level           int     `json:"level"`
	Kind            string  `json:"kind"`
	Amount          int64   `json:"amount"`
	Status          string  `json:"status"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	CreatedAt       string  `json:"created_at"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	UpdatedAt       string  `json:"updated_at"`
}

type WithdrawalDTO struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	Amount          int64   `json:"amount"`
	Status          string  `json:"status"`
	BankName        string  `json:"bank_name"`
	AccountNumber   string  `json:"account_number"`
	AccountHolder   string  `json:"account_holder"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	RequestedAt     string  `json:"requested_at"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

type FanoutDTO struct {
	TransactionID string          `json:"transaction_id"`
	Quantity      int             `json:"quantity"`
	Created       int             `json:"created"`
	Skipped       int             `json:"skipped"`
	Total         int64           `json:"total"`
	Termination   string          `json:"termination"`
	Activated     bool            `json:"activated"`
	Commissions   []CommissionDTO `json:"commissions"`
}

type DeductionDTO struct {
	CommissionID string `json:"commission_id"`
	Before       int64  `json:"before"`
	Deducted     int64  `json:"deducted"`
	After        int64  `json:"after"`
	Status       string `json:"status"`
}

type DebitReportDTO struct {
	Withdrawal WithdrawalDTO  `json:"withdrawal"`
	Deductions []DeductionDTO `json:"deductions"`
}

type DownlineDTO struct {
	RootID   string `json:"root_id"`
	PerLevel []int  `json:"per_level"`
	Total    int    `json:"total"`
	Active   int    `json:"active"`
	Depth    int    `json:"depth"`
}

type BatchFailureDTO struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BatchResultDTO struct {
	Approved []CommissionDTO   `json:"approved"`
	Failed   []BatchFailureDTO `json:"failed"`
}

type GroupApprovalDTO struct {
	AffiliateID   string          `json:"affiliate_id"`
	Count         int             `json:"count"`
	OriginalTotal int64           `json:"original_total"`
	CreditedTotal int64           `json:"credited_total"`
	Commissions   []CommissionDTO `json:"commissions"`
}

type ActivationDTO struct {
	ID          string `json:"id"`
	AffiliateID string `json:"affiliate_id"`
	InvoiceID   string `json:"invoice_id"`
	Amount      int64  `json:"amount"`
	PaidAt      string `json:"paid_at"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toAffiliateDTO(a referral.Affiliate) AffiliateDTO {
	return AffiliateDTO{
		ID:            string(a.ID),
		ParentID:      string(a.ParentID()),
		Code:          a.Code,
		Status:        string(a.Status),
		TotalEarnings: int64(a.TotalEarnings),
		TotalPaid:     int64(a.TotalPaid),
		CreatedAt:     formatTime(a.CreatedAt),
		ActivatedAt:   formatTimePtr(a.ActivatedAt),
	}
}

func toCommissionDTO(c referral.Commission) CommissionDTO {
	return CommissionDTO{
		ID:              string(c.ID),
		AffiliateID:     string(c.AffiliateID),
		TransactionID:   c.TransactionID,
		BuyerID:         string(c.BuyerID),
		Level:           c.Level,
		Kind:            string(c.Kind),
		Amount:          int64(c.Amount),
		Status:          string(c.Status),
		RejectionReason: c.RejectionReason,
		CreatedAt:       formatTime(c.CreatedAt),
		ApprovedAt:      formatTimePtr(c.ApprovedAt),
		UpdatedAt:       formatTime(c.UpdatedAt),
	}
}

func toCommissionDTOs(list []referral.Commission) []CommissionDTO {
	dtos := make([]CommissionDTO, len(list))
	for i, c := range list {
		dtos[i] = toCommissionDTO(c)
	}
	return dtos
}

func toWithdrawalDTO(w referral.Withdrawal) WithdrawalDTO {
	return WithdrawalDTO{
		ID:              string(w.ID),
		UserID:          string(w.UserID),
		Amount:          int64(w.Amount),
		Status:          string(w.Status),
		BankName:        w.Destination.BankName,
		AccountNumber:   w.Destination.AccountNumber,
		AccountHolder:   w.Destination.AccountHolder,
		RejectionReason: w.RejectionReason,
		RequestedAt:     formatTime(w.RequestedAt),
		ApprovedAt:      formatTimePtr(w.ApprovedAt),
		CompletedAt:     formatTimePtr(w.CompletedAt),
	}
}

func toWithdrawalDTOs(list []referral.Withdrawal) []WithdrawalDTO {
	dtos := make([]WithdrawalDTO, len(list))
	for i, w := range list {
		dtos[i] = toWithdrawalDTO(w)
	}
	return dtos
}

func toFanoutDTO(r *referral.FanoutResult) FanoutDTO {
	return FanoutDTO{
		TransactionID: r.TransactionID,
		Quantity:      r.Quantity,
		Created:       r.Created,
		Skipped:       r.Skipped,
		Total:         int64(r.Total()),
		Termination:   string(r.Termination),
		Activated:     r.Activated,
		Commissions:   toCommissionDTOs(r.Commissions),
	}
}

func toDebitReportDTO(r *referral.DebitReport) DebitReportDTO {
	dto := DebitReportDTO{
		Withdrawal: toWithdrawalDTO(r.Withdrawal),
		Deductions: make([]DeductionDTO, len(r.Deductions)),
	}
	for i, d := range r.Deductions {
		dto.Deductions[i] = DeductionDTO{
			CommissionID: string(d.CommissionID),
			Before:       int64(d.Before),
			Deducted:     int64(d.Deducted),
			After:        int64(d.After),
			Status:       string(d.Status),
		}
	}
	return dto
}
