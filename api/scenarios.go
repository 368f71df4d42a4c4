/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built warehouse layouts with opening stock so the engine can
	be exercised end to end from an empty database.

AVAILABLE SCENARIOS:

	single-bin:      One bin holding 100 x SKU-X (allocate 30, then 80)
	fefo-lots:       SKU-1 in two lots with different expiries
	two-warehouses:  Staging in WH-A, storage in WH-B (custody transfer)

HOW SCENARIOS WORK:
 1. Build a factory.LayoutJSON
 2. Validate it with factory.FromJSON
 3. Apply it: bins are upserted, opening stock is posted once per key

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fefo-lots"}

NOTE:

	The ledger is append-only, so scenarios never reset anything. Loading a
	scenario twice is harmless: opening stock already posted is skipped.

SEE ALSO:
  - factory/layout.go: Layout schema and Apply
*/
package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/bin-ledger/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	layout func() factory.LayoutJSON
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "single-bin",
			Name:        "Single Bin",
			Description: "One storage bin with 100 x SKU-X: allocate 30, then 80 to see a shortfall of 10",
		},
		layout: singleBinLayout,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fefo-lots",
			Name:        "FEFO Lots",
			Description: "SKU-1 in lot L1 (expires later, received first) and L2 (expires sooner)",
		},
		layout: fefoLotsLayout,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "two-warehouses",
			Name:        "Two Warehouses",
			Description: "Receive into WH-A staging and put away into WH-B storage to create a custody transfer",
		},
		layout: twoWarehousesLayout,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, out)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	for _, s := range scenarios {
		if s.ID != req.ScenarioID {
			continue
		}
		if err := h.loadScenario(r.Context(), s.layout()); err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
		return
	}
	writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
}

func (h *Handler) loadScenario(ctx context.Context, lj factory.LayoutJSON) error {
	layout, err := factory.FromJSON(lj)
	if err != nil {
		return err
	}
	return layout.Apply(ctx, h.Locations, h.Ledger)
}

// =============================================================================
// SCENARIO LAYOUTS
// =============================================================================

func capacity(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func singleBinLayout() factory.LayoutJSON {
	return factory.LayoutJSON{
		Locations: []factory.LocationJSON{
			{ID: "STG-A", Warehouse: "WH-A", Role: "staging"},
			{ID: "A-01", Warehouse: "WH-A", Role: "storage", Capacity: capacity(500)},
		},
		Items: []factory.ItemJSON{{ID: "SKU-X", Name: "Sample item", UOM: "Nos"}},
		OpeningStock: []factory.StockJSON{
			{Location: "A-01", Item: "SKU-X", Qty: decimal.NewFromInt(100)},
		},
	}
}

func fefoLotsLayout() factory.LayoutJSON {
	return factory.LayoutJSON{
		Locations: []factory.LocationJSON{
			{ID: "STG-A", Warehouse: "WH-A", Role: "staging"},
			{ID: "A-01", Warehouse: "WH-A", Zone: "cold", Role: "storage", Capacity: capacity(200)},
			{ID: "A-02", Warehouse: "WH-A", Zone: "cold", Role: "storage", Capacity: capacity(200)},
		},
		Items: []factory.ItemJSON{{ID: "SKU-1", Name: "Yoghurt 500g", UOM: "Box"}},
		OpeningStock: []factory.StockJSON{
			{Location: "A-01", Item: "SKU-1", Batch: "L1", Qty: decimal.NewFromInt(40), Expiry: "2026-03-31"},
			{Location: "A-02", Item: "SKU-1", Batch: "L2", Qty: decimal.NewFromInt(30), Expiry: "2026-01-31"},
		},
	}
}

func twoWarehousesLayout() factory.LayoutJSON {
	return factory.LayoutJSON{
		Locations: []factory.LocationJSON{
			{ID: "STG-A", Warehouse: "WH-A", Role: "staging"},
			{ID: "B-01", Warehouse: "WH-B", Role: "storage", Capacity: capacity(100)},
		},
		Items: []factory.ItemJSON{{ID: "SKU-1", Name: "Yoghurt 500g", UOM: "Box"}},
	}
}
