/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected bins and opening stock and
	that loading a scenario twice posts nothing new.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/factory"
	"github.com/warp/bin-ledger/inventory"
)

func TestScenarios_AllLayoutsAreValid(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			_, err := factory.FromJSON(s.layout())
			require.NoError(t, err)
		})
	}
}

func TestScenario_FEFOLots(t *testing.T) {
	// GIVEN: The fefo-lots scenario
	// WHEN: Loading it twice and allocating 35
	// THEN: Opening stock exists once and the sooner-expiring lot L2 is taken first

	a := newTestAPI(t)
	a.loadScenario(t, "fefo-lots")
	a.loadScenario(t, "fefo-lots")

	var summary ItemSummaryDTO
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/warehouses/WH-A/items/SKU-1", nil, &summary))
	qtyEqual(t, 70, summary.Balance)

	a.createOrder(t, "SO-1", "SKU-1", 35)
	var order OrderDTO
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/orders/SO-1/allocate", nil, &order))
	require.Len(t, order.Lines[0].Allocations, 2)
	assert.Equal(t, inventory.BatchID("L2"), order.Lines[0].Allocations[0].Batch)
	qtyEqual(t, 30, order.Lines[0].Allocations[0].Qty)
	assert.Equal(t, inventory.BatchID("L1"), order.Lines[0].Allocations[1].Batch)
	qtyEqual(t, 5, order.Lines[0].Allocations[1].Qty)
}

func TestScenario_ListAndUnknown(t *testing.T) {
	a := newTestAPI(t)

	var list []ScenarioDTO
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/scenarios", nil, &list))
	assert.Len(t, list, len(scenarios))

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, nil))
}

func TestScenario_TwoWarehousesBins(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "two-warehouses")

	loc, err := a.store.Location(context.Background(), "B-01")
	require.NoError(t, err)
	assert.Equal(t, inventory.WarehouseID("WH-B"), loc.Warehouse)
	assert.Equal(t, inventory.RoleStorage, loc.Role)
}
