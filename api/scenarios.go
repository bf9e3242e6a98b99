/*
scenarios.go - Demo network loaders for testing and demonstrations

AVAILABLE SCENARIOS:

	broken-chain:    Buyer under A1 -> A2 -> A3 (INACTIVE) -> A4; a purchase
	                 pays A1 and A2 only
	deep-chain:      Twelve-deep upline; a purchase pays exactly ten levels
	fifo-withdrawal: One affiliate with approved rows and a pending
	                 withdrawal ready to complete

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register nodes root first
 3. Activate nodes: record the activation fee, then a qualifying purchase
 4. Apply admin status changes and approvals

Every step goes through the engine, so loaded data obeys the same rules as
live traffic.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "broken-chain"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handlers sharing the engine
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/commission-engine/referral"
)

// Resetter clears a store.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "broken-chain",
		Name:        "Broken Chain",
		Description: "An inactive ancestor at level 3 silences every deeper level",
	},
	{
		ID:          "deep-chain",
		Name:        "Deep Chain",
		Description: "Twelve-level upline, commissions stop at level 10",
	},
	{
		ID:          "fifo-withdrawal",
		Name:        "FIFO Withdrawal",
		Description: "Approved commissions and a pending withdrawal to settle oldest-first",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined network.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"broken-chain":    h.loadBrokenChainScenario,
		"deep-chain":      h.loadDeepChainScenario,
		"fifo-withdrawal": h.loadFIFOWithdrawalScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBrokenChainScenario(ctx context.Context) error {
	// Root first: A4 <- A3 <- A2 <- A1 <- buyer
	chain := []struct{ id, parent string }{
		{"A4", ""},
		{"A3", "A4"},
		{"A2", "A3"},
		{"A1", "A2"},
		{"buyer", "A1"},
	}
	for _, n := range chain {
		if err := h.registerActive(ctx, n.id, n.parent); err != nil {
			return err
		}
	}
	if _, err := h.Engine.Network.SetStatus(ctx, "A3", referral.AffiliateStatusInactive); err != nil {
		return err
	}
	return h.purchase(ctx, "buyer", "demo-broken-chain")
}

func (h *Handler) loadDeepChainScenario(ctx context.Context) error {
	parent := ""
	for i := 12; i >= 1; i-- {
		id := fmt.Sprintf("L%02d", i)
		if err := h.registerActive(ctx, id, parent); err != nil {
			return err
		}
		parent = id
	}
	if err := h.registerActive(ctx, "buyer", parent); err != nil {
		return err
	}
	return h.purchase(ctx, "buyer", "demo-deep-chain")
}

func (h *Handler) loadFIFOWithdrawalScenario(ctx context.Context) error {
	if err := h.registerActive(ctx, "earner", ""); err != nil {
		return err
	}
	for i := 1; i <= 3; i++ {
		if err := h.registerActive(ctx, fmt.Sprintf("buyer-%d", i), "earner"); err != nil {
			return err
		}
	}
	if _, err := h.Engine.Approvals.ApproveAffiliate(ctx, "earner", nil); err != nil {
		return err
	}

	bal, err := h.Engine.Balances.Live(ctx, "earner")
	if err != nil {
		return err
	}
	amount := bal.ApprovedBalance / 2
	if amount <= 0 {
		return nil
	}
	_, err = h.Engine.Withdrawals.Request(ctx, referral.WithdrawalRequest{
		UserID: "earner",
		Amount: amount,
		Destination: referral.Destination{
			BankName:      "Demo Bank",
			AccountNumber: "000123456789",
			AccountHolder: "Demo Earner",
		},
	})
	return err
}

// registerActive registers a node and activates it with a paid fee and a
// first qualifying purchase.
func (h *Handler) registerActive(ctx context.Context, id, parent string) error {
	if _, err := h.Engine.Network.Register(ctx, referral.AffiliateID(id), referral.AffiliateID(parent), id); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	schedule := h.Engine.Fanout.Schedule()
	if _, err := h.Engine.Network.RecordActivation(ctx, referral.AffiliateID(id), "demo-invoice-"+id, schedule.QualifyingAmount); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	return h.purchase(ctx, id, "demo-activation-"+id)
}

func (h *Handler) purchase(ctx context.Context, buyer, txID string) error {
	result, err := h.Engine.Fanout.Distribute(ctx, referral.PurchaseEvent{
		PurchaserID:   referral.AffiliateID(buyer),
		TransactionID: txID,
		ProductAmount: h.Engine.Fanout.Schedule().QualifyingAmount,
		Quantity:      1,
	})
	if err != nil {
		return fmt.Errorf("purchase %s: %w", txID, err)
	}
	recordFanout(result)
	return nil
}
