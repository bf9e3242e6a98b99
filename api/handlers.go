/*
handlers.go - HTTP API handlers for the commission engine

ENDPOINTS:
  Affiliates:
    GET    /api/affiliates                         List nodes
    POST   /api/affiliates                         Register node under a parent
    GET    /api/affiliates/{id}                    Node details
    PUT    /api/affiliates/{id}/status             Admin status change
    POST   /api/affiliates/{id}/activation         Confirmed activation payment
    GET    /api/affiliates/{id}/network?depth=N    Downline counts
    GET    /api/affiliates/{id}/balance            Balance snapshot (cached)
    GET    /api/affiliates/{id}/commissions        Rows, ?status=APPROVED,PAID
    GET    /api/affiliates/{id}/commissions/summary
    GET    /api/affiliates/{id}/withdrawals        History
    POST   /api/affiliates/{id}/withdrawals        Request a withdrawal

  Purchases:
    POST   /api/purchases                          Commission fan-out

  Admin:
    GET    /api/admin/commissions/pending
    POST   /api/admin/commissions/{id}/approve     Optional {"amount": ...}
    POST   /api/admin/commissions/{id}/reject      {"reason": ...}
    POST   /api/admin/commissions/approve-batch    {"ids": [...]}
    POST   /api/admin/affiliates/{id}/approve-commissions  Optional {"total_amount": ...}
    GET    /api/admin/withdrawals/pending          PENDING and APPROVED
    POST   /api/admin/withdrawals/{id}/approve
    POST   /api/admin/withdrawals/{id}/reject      {"reason": ...}
    POST   /api/admin/withdrawals/{id}/complete    FIFO debit

REQUEST FLOW:
  1. Decode JSON, check struct tags
  2. Convert money from decimal to referral.Amount
  3. Call the engine
  4. Serialize response, or map the error (see writeEngineError)

ERROR HANDLING:
  - 400: Validation errors, invalid input, referral cycles
  - 404: Affiliate, commission or withdrawal not found
  - 409: State conflict, duplicate affiliate
  - 422: Insufficient balance, with the shortfall in details
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo network loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/referral"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *referral.Engine
	Store  Resetter

	log      *zap.Logger
	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over an engine. store is cleared when a demo
// scenario is loaded.
func NewHandler(engine *referral.Engine, store Resetter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// AFFILIATE HANDLERS
// =============================================================================

func (h *Handler) ListAffiliates(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Network.List(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list affiliates", err)
		return
	}
	dtos := make([]AffiliateDTO, len(list))
	for i, a := range list {
		dtos[i] = toAffiliateDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RegisterAffiliate(w http.ResponseWriter, r *http.Request) {
	var req RegisterAffiliateRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Engine.Network.Register(r.Context(), referral.AffiliateID(req.ID), referral.AffiliateID(req.ParentID), req.Code)
	if err != nil {
		h.writeEngineError(w, "Failed to register affiliate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAffiliateDTO(*a))
}

func (h *Handler) GetAffiliate(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.Network.Get(r.Context(), affiliateParam(r))
	if err != nil {
		h.writeEngineError(w, "Failed to get affiliate", err)
		return
	}
	writeJSON(w, http.StatusOK, toAffiliateDTO(*a))
}

func (h *Handler) SetAffiliateStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Engine.Network.SetStatus(r.Context(), affiliateParam(r), referral.AffiliateStatus(req.Status))
	if err != nil {
		h.writeEngineError(w, "Failed to change status", err)
		return
	}
	writeJSON(w, http.StatusOK, toAffiliateDTO(*a))
}

func (h *Handler) RecordActivation(w http.ResponseWriter, r *http.Request) {
	var req RecordActivationRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := moneyParam(w, "amount", req.Amount)
	if !ok {
		return
	}

	p, err := h.Engine.Network.RecordActivation(r.Context(), affiliateParam(r), req.InvoiceID, amount)
	if err != nil {
		h.writeEngineError(w, "Failed to record activation", err)
		return
	}
	writeJSON(w, http.StatusCreated, ActivationDTO{
		ID:          p.ID,
		AffiliateID: string(p.AffiliateID),
		InvoiceID:   p.InvoiceID,
		Amount:      int64(p.Amount),
		PaidAt:      formatTime(p.PaidAt),
	})
}

func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			writeError(w, http.StatusBadRequest, "Invalid depth", err)
			return
		}
		depth = d
	}

	stats, err := h.Engine.Network.Downline(r.Context(), affiliateParam(r), depth)
	if err != nil {
		h.writeEngineError(w, "Failed to load network", err)
		return
	}
	perLevel := stats.PerLevel
	if perLevel == nil {
		perLevel = []int{}
	}
	writeJSON(w, http.StatusOK, DownlineDTO{
		RootID:   string(stats.RootID),
		PerLevel: perLevel,
		Total:    stats.Total,
		Active:   stats.Active,
		Depth:    stats.Depth,
	})
}

// GetBalance serves the dashboard snapshot, which may be up to one cache TTL
// old.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Balances.Cached(r.Context(), affiliateParam(r))
	if err != nil {
		h.writeEngineError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	id := affiliateParam(r)
	if _, err := h.Engine.Network.Get(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to list commissions", err)
		return
	}

	filter := referral.CommissionFilter{AffiliateID: id}
	for _, s := range splitList(r.URL.Query().Get("status")) {
		st := referral.CommissionStatus(strings.ToUpper(s))
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status filter", fmt.Errorf("unknown status %q", s))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	list, err := h.Engine.Ledger.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTOs(list))
}

func (h *Handler) GetCommissionSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Ledger.Summary(r.Context(), affiliateParam(r))
	if err != nil {
		h.writeEngineError(w, "Failed to summarise commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := config.AmountFromDecimal(req.ProductAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product_amount", err)
		return
	}

	result, err := h.Engine.Fanout.Distribute(r.Context(), referral.PurchaseEvent{
		PurchaserID:   referral.AffiliateID(req.PurchaserID),
		TransactionID: req.TransactionID,
		ProductAmount: amount,
		Quantity:      req.Quantity,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to distribute commissions", err)
		return
	}
	recordFanout(result)

	status := http.StatusCreated
	if result.Created == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, toFanoutDTO(result))
}

func (h *Handler) ListPendingCommissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Ledger.List(r.Context(), referral.CommissionFilter{
		Statuses: []referral.CommissionStatus{referral.CommissionPending},
	})
	if err != nil {
		h.writeEngineError(w, "Failed to list pending commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTOs(list))
}

func (h *Handler) ApproveCommission(w http.ResponseWriter, r *http.Request) {
	var req ApproveCommissionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	override, ok := optionalMoney(w, "amount", req.Amount)
	if !ok {
		return
	}

	c, err := h.Engine.Approvals.Approve(r.Context(), referral.CommissionID(chi.URLParam(r, "id")), override)
	if err != nil {
		h.writeEngineError(w, "Failed to approve commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(*c))
}

func (h *Handler) RejectCommission(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Engine.Approvals.Reject(r.Context(), referral.CommissionID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeEngineError(w, "Failed to reject commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(*c))
}

// ApproveBatch always answers 200; per-id failures are in the body.
func (h *Handler) ApproveBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchApproveRequest
	if !h.decode(w, r, &req) {
		return
	}

	ids := make([]referral.CommissionID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = referral.CommissionID(id)
	}
	result := h.Engine.Approvals.ApproveBatch(r.Context(), ids)

	dto := BatchResultDTO{
		Approved: toCommissionDTOs(result.Approved),
		Failed:   make([]BatchFailureDTO, len(result.Failed)),
	}
	for i, f := range result.Failed {
		dto.Failed[i] = BatchFailureDTO{ID: string(f.ID), Error: f.Err.Error()}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ApproveAffiliateCommissions(w http.ResponseWriter, r *http.Request) {
	var req GroupApproveRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	override, ok := optionalMoney(w, "total_amount", req.TotalAmount)
	if !ok {
		return
	}

	g, err := h.Engine.Approvals.ApproveAffiliate(r.Context(), affiliateParam(r), override)
	if err != nil {
		h.writeEngineError(w, "Failed to approve commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, GroupApprovalDTO{
		AffiliateID:   string(g.AffiliateID),
		Count:         g.Count,
		OriginalTotal: int64(g.OriginalTotal),
		CreditedTotal: int64(g.CreditedTotal),
		Commissions:   toCommissionDTOs(g.Commissions),
	})
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	id := affiliateParam(r)
	if _, err := h.Engine.Network.Get(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to list withdrawals", err)
		return
	}
	list, err := h.Engine.Withdrawals.List(r.Context(), referral.WithdrawalFilter{UserID: id})
	if err != nil {
		h.writeEngineError(w, "Failed to list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(list))
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalCreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := moneyParam(w, "amount", req.Amount)
	if !ok {
		return
	}

	wd, err := h.Engine.Withdrawals.Request(r.Context(), referral.WithdrawalRequest{
		UserID: affiliateParam(r),
		Amount: amount,
		Destination: referral.Destination{
			BankName:      req.BankName,
			AccountNumber: req.AccountNumber,
			AccountHolder: req.AccountHolder,
		},
	})
	if err != nil {
		h.writeEngineError(w, "Failed to request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(*wd))
}

func (h *Handler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Withdrawals.List(r.Context(), referral.WithdrawalFilter{
		Statuses: referral.InFlightWithdrawalStatuses,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to list pending withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(list))
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := h.Engine.Withdrawals.Approve(r.Context(), withdrawalParam(r))
	if err != nil {
		h.writeEngineError(w, "Failed to approve withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}

	wd, err := h.Engine.Withdrawals.Reject(r.Context(), withdrawalParam(r), req.Reason)
	if err != nil {
		h.writeEngineError(w, "Failed to reject withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wd))
}

func (h *Handler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Withdrawals.Complete(r.Context(), withdrawalParam(r))
	if err != nil {
		h.writeEngineError(w, "Failed to complete withdrawal", err)
		return
	}
	withdrawalsCompleted.Inc()
	writeJSON(w, http.StatusOK, toDebitReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func affiliateParam(r *http.Request) referral.AffiliateID {
	return referral.AffiliateID(chi.URLParam(r, "id"))
}

func withdrawalParam(r *http.Request) referral.WithdrawalID {
	return referral.WithdrawalID(chi.URLParam(r, "id"))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// decode reads a required JSON body into dst and checks its tags. On failure
// it writes the 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, dst any) bool {
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func moneyParam(w http.ResponseWriter, field string, d decimal.Decimal) (referral.Amount, bool) {
	amount, err := config.AmountFromDecimal(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field, err)
		return 0, false
	}
	if amount <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+field, errors.New("must be positive"))
		return 0, false
	}
	return amount, true
}

func optionalMoney(w http.ResponseWriter, field string, d *decimal.Decimal) (*referral.Amount, bool) {
	if d == nil {
		return nil, true
	}
	amount, ok := moneyParam(w, field, *d)
	if !ok {
		return nil, false
	}
	return &amount, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps referral errors to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	var insufficient *referral.InsufficientBalanceError
	var conflict *referral.StateConflictError

	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: message,
			Code:  "insufficient_balance",
			Details: map[string]any{
				"message":   insufficient.Error(),
				"available": int64(insufficient.Available),
				"requested": int64(insufficient.Requested),
				"shortfall": int64(insufficient.Shortfall),
			},
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: message,
			Code:  "state_conflict",
			Details: map[string]any{
				"message":   conflict.Error(),
				"current":   conflict.Current,
				"requested": conflict.Requested,
			},
		})
	case referral.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, referral.ErrDuplicateAffiliate):
		writeError(w, http.StatusConflict, message, err)
	case referral.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
