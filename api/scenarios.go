/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates handles, shops, and
	purchases that demonstrate specific engine behavior.

AVAILABLE SCENARIOS:

	transfer-basics:  Two funded handles and a transfer between them
	tavern-night:     A shop with consolidating orders at one table
	refund-flow:      A purchase refunded while the order is still active

HOW SCENARIOS WORK:
 1. Create the handles (skipped if they already exist)
 2. Fund buyers through the mint
 3. Create the shop and reset its open orders
 4. Run the purchases

USAGE VIA API:

	POST /api/scenarios/load
	{"id": "tavern-night"}

NOTE:

	Scenarios mutate live data. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: shared handler context
  - server.go: route wiring
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/economy-engine/economy"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "transfer-basics",
		Name:        "Transfer Basics",
		Description: "Two funded handles and a direct transfer between them",
	},
	{
		ID:          "tavern-night",
		Name:        "Tavern Night",
		Description: "A tavern with two purchases consolidating into one table order",
	},
	{
		ID:          "refund-flow",
		Name:        "Refund Flow",
		Description: "A purchase refunded while its order is still collecting",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   h.currentScenario,
		Name: h.currentScenario,
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ID {
	case "transfer-basics":
		err = h.loadTransferBasics(ctx)
	case "tavern-night":
		err = h.loadTavernNight(ctx)
	case "refund-flow":
		err = h.loadRefundFlow(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ID
	writeJSON(w, http.StatusOK, ResultDTO{OK: true, Report: fmt.Sprintf("scenario %s loaded", req.ID)})
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) ensureHandle(ctx context.Context, id economy.HandleID, owner economy.ActorID) error {
	err := h.Service.CreateHandle(ctx, id, owner)
	if err != nil && !errors.Is(err, economy.ErrHandleExists) {
		return err
	}
	return nil
}

func (h *Handler) ensureShop(ctx context.Context, s economy.Shop) error {
	existing, err := h.Service.Store.GetShop(ctx, s.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return h.Service.ResetShop(ctx, s.ID)
	}
	return h.Service.CreateShop(ctx, s)
}

func (h *Handler) loadTransferBasics(ctx context.Context) error {
	for _, hd := range []struct {
		id    economy.HandleID
		owner economy.ActorID
	}{
		{"alice", "player-alice"},
		{"bob", "player-bob"},
	} {
		if err := h.ensureHandle(ctx, hd.id, hd.owner); err != nil {
			return err
		}
	}

	if _, err := h.Service.Grant(ctx, "mint", "alice", 100); err != nil {
		return err
	}
	if _, err := h.Service.Grant(ctx, "mint", "bob", 20); err != nil {
		return err
	}

	_, err := h.Service.Coordinator.Transfer(ctx, "alice", "bob", 30, economy.CauseTransfer, nil)
	return err
}

func (h *Handler) loadTavernNight(ctx context.Context) error {
	if err := h.ensureHandle(ctx, "tav-buyer", "player-tav"); err != nil {
		return err
	}
	if _, err := h.Service.Grant(ctx, "mint", "tav-buyer", 100); err != nil {
		return err
	}

	if err := h.ensureShop(ctx, economy.Shop{
		ID:               "tavern",
		Name:             "The Rusty Tankard",
		TillHandle:       "tavern-till",
		CollectionWindow: 2 * time.Minute,
		Catalog:          map[string]economy.Money{"beer": 5, "water": 3, "stew": 8},
	}); err != nil {
		return err
	}

	if err := h.Service.SetDeliverySlot(ctx, "tavern", "tav-buyer", "T1"); err != nil {
		return err
	}

	// Two purchases inside the window: one consolidated order at table T1.
	for _, product := range []string{"beer", "water"} {
		res, _, err := h.Service.Purchase(ctx, "tav-buyer", "tavern", product)
		if err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("scenario purchase failed: %s", res.Report)
		}
	}
	return nil
}

func (h *Handler) loadRefundFlow(ctx context.Context) error {
	if err := h.ensureHandle(ctx, "ref-buyer", "player-ref"); err != nil {
		return err
	}
	if _, err := h.Service.Grant(ctx, "mint", "ref-buyer", 50); err != nil {
		return err
	}

	if err := h.ensureShop(ctx, economy.Shop{
		ID:               "bakery",
		Name:             "Hearth & Crust",
		TillHandle:       "bakery-till",
		CollectionWindow: 5 * time.Minute,
		Catalog:          map[string]economy.Money{"bread": 4, "pie": 7},
	}); err != nil {
		return err
	}

	res, tx, err := h.Service.Purchase(ctx, "ref-buyer", "bakery", "pie")
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("scenario purchase failed: %s", res.Report)
	}

	refund, err := h.Service.Refund(ctx, tx.ID, "player-ref")
	if err != nil {
		return err
	}
	if !refund.OK {
		return fmt.Errorf("scenario refund failed: %s", refund.Report)
	}
	return nil
}
