package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/inventory"
)

// allocatedOrder creates and allocates an order for qty units of item.
func allocatedOrder(t *testing.T, f *fixture, id, item string, n int64) *inventory.FulfillmentOrder {
	t.Helper()
	ctx := context.Background()
	svc := f.fulfillment()

	_, err := svc.CreateOrder(ctx, inventory.NewOrder{
		ID:        id,
		Warehouse: "WH-A",
		Lines:     []inventory.NewOrderLine{{Item: inventory.ItemID(item), Required: qty(n)}},
	}, "planner")
	require.NoError(t, err)

	o, err := svc.AllocateOrder(ctx, id, inventory.AllocateOptions{}, "planner")
	require.NoError(t, err)
	return o
}

// pickingList builds, assigns and starts a pick list over the given orders.
func pickingList(t *testing.T, f *fixture, svc *inventory.PickService, orders ...string) *inventory.PickList {
	t.Helper()
	ctx := context.Background()

	p, err := svc.Build(ctx, orders, "planner")
	require.NoError(t, err)
	_, err = svc.Release(ctx, p.ID, "planner")
	require.NoError(t, err)
	_, err = svc.Assign(ctx, p.ID, "picker-7", "planner")
	require.NoError(t, err)
	p, err = svc.Start(ctx, p.ID, "picker-7")
	require.NoError(t, err)
	return p
}

// =============================================================================
// SCENARIO TESTS
// =============================================================================

func TestPickList_ShortPick_PartiallyFulfilled(t *testing.T) {
	// GIVEN: An order for 50 allocated from a bin holding 100
	// WHEN: The picker only finds 40 and completes
	// THEN: short 10, completion 80%, order Partially Fulfilled,
	//       balance 60 with the 10 short units released

	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	ctx := context.Background()

	p := pickingList(t, f, svc, "SO-1")
	require.Len(t, p.Lines, 1)
	_, err := svc.RecordPick(ctx, p.ID, 1, qty(40), "picker-7")
	require.NoError(t, err)

	p, err = svc.Complete(ctx, p.ID, "picker-7")
	require.NoError(t, err)

	assert.Equal(t, inventory.PickCompleted, p.Status)
	assert.NotNil(t, p.CompletedAt)
	requireQty(t, 10, p.Lines[0].Short)
	requireQty(t, 40, p.TotalPicked)
	requireQty(t, 10, p.TotalShort)
	requireQty(t, 80, p.CompletionPct)
	assert.Equal(t, "CT-1", p.CustodyRef)
	assert.Equal(t, "SH-1", p.ShipmentRef)
	assert.Len(t, p.Entries, 2, "pick movement and remainder release")

	o, err := f.mem.Order(ctx, "SO-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderPacked, o.Status)
	assert.Equal(t, inventory.ResultPartiallyFulfilled, o.Result)
	requireQty(t, 40, o.Lines[0].Picked)
	requireQty(t, 10, o.Lines[0].Short)

	s := f.state(t, "A-01", "SKU-1", "")
	requireQty(t, 60, s.Balance)
	requireQty(t, 0, s.Reserved)
	requireQty(t, 60, s.Available)

	require.Len(t, f.docs.custody, 1)
	assert.Equal(t, inventory.PurposeMaterialIssue, f.docs.custody[0].Purpose)
	requireQty(t, 40, f.docs.custody[0].TotalQty())
	require.Len(t, f.docs.shipments, 1)
	assert.Equal(t, []string{"SO-1"}, f.docs.shipments[0].Orders)
}

func TestPickList_ShortRemainder_CanBeAllocatedAgain(t *testing.T) {
	// GIVEN: A pick of 40 of 50 from a bin of 100, later counted at 50
	// WHEN: A new order for 50 is allocated
	// THEN: The whole remaining bin is reservable, nothing stays stranded

	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	ctx := context.Background()

	p := pickingList(t, f, svc, "SO-1")
	_, err := svc.RecordPick(ctx, p.ID, 1, qty(40), "picker-7")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, p.ID, "picker-7")
	require.NoError(t, err)

	// Cycle count finds 10 units missing.
	key := inventory.StockKey{Location: "A-01", Item: "SKU-1"}
	_, err = f.ledger.Post(ctx, key, func(inventory.StockState) (inventory.Change, error) {
		return inventory.Change{
			Delta:   qty(-10),
			Kind:    inventory.KindMovement,
			Voucher: inventory.Voucher{Type: inventory.VoucherAdjustment, ID: "CC-1"},
			Actor:   "counter",
		}, nil
	})
	require.NoError(t, err)

	s := f.state(t, "A-01", "SKU-1", "")
	requireQty(t, 50, s.Balance)
	requireQty(t, 0, s.Reserved)
	requireQty(t, 50, s.Available)

	o := allocatedOrder(t, f, "SO-2", "SKU-1", 50)
	requireQty(t, 50, o.Lines[0].Allocated)
	requireQty(t, 0, f.state(t, "A-01", "SKU-1", "").Available)
}

func TestPickList_FullPick_FullyFulfilled(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	ctx := context.Background()

	p := pickingList(t, f, svc, "SO-1")
	_, err := svc.RecordPick(ctx, p.ID, 1, qty(50), "picker-7")
	require.NoError(t, err)
	p, err = svc.Complete(ctx, p.ID, "picker-7")
	require.NoError(t, err)

	requireQty(t, 100, p.CompletionPct)
	o, err := f.mem.Order(ctx, "SO-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.ResultFullyFulfilled, o.Result)

	s := f.state(t, "A-01", "SKU-1", "")
	requireQty(t, 50, s.Balance)
	requireQty(t, 0, s.Reserved)
}

func TestPickList_AggregatesOrdersByBin(t *testing.T) {
	// GIVEN: Two orders for the same item served from the same bin
	// WHEN: Building one pick list and picking 25 of 30
	// THEN: One line with two sources; picks fill the first order first

	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.bin(t, "A-02", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-02", "SKU-1", "", 100, nil)
	f.stock(t, "A-01", "SKU-2", "", 5, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 20)
	allocatedOrder(t, f, "SO-2", "SKU-1", 10)
	allocatedOrder(t, f, "SO-3", "SKU-2", 5)
	svc := f.picking()
	ctx := context.Background()

	p := pickingList(t, f, svc, "SO-1", "SO-2", "SO-3")
	require.Len(t, p.Lines, 2)
	// Walking order is by location.
	assert.Equal(t, inventory.LocationID("A-01"), p.Lines[0].Location)
	assert.Equal(t, 1, p.Lines[0].Seq)
	assert.Equal(t, "Item SKU-2", p.Lines[0].ItemName)
	assert.Equal(t, "Nos", p.Lines[0].UOM)
	line := p.Lines[1]
	assert.Equal(t, 2, line.Seq)
	requireQty(t, 30, line.Ordered)
	require.Len(t, line.Sources, 2)

	_, err := svc.RecordPick(ctx, p.ID, 1, qty(5), "picker-7")
	require.NoError(t, err)
	_, err = svc.RecordPick(ctx, p.ID, 2, qty(25), "picker-7")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, p.ID, "picker-7")
	require.NoError(t, err)

	o1, err := f.mem.Order(ctx, "SO-1")
	require.NoError(t, err)
	o2, err := f.mem.Order(ctx, "SO-2")
	require.NoError(t, err)
	assert.Equal(t, inventory.ResultFullyFulfilled, o1.Result)
	assert.Equal(t, inventory.ResultPartiallyFulfilled, o2.Result)
	requireQty(t, 5, o2.Lines[0].Picked)
	requireQty(t, 5, o2.Lines[0].Short)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestPickList_OverPick_NothingWritten(t *testing.T) {
	// GIVEN: A line ordered 50 whose picked quantity was set to 60
	// WHEN: Completing
	// THEN: OverPick, no ledger entry, pick list still Picking

	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	ctx := context.Background()
	p := pickingList(t, f, svc, "SO-1")

	_, err := svc.RecordPick(ctx, p.ID, 1, qty(60), "picker-7")
	var over *inventory.OverPickError
	require.ErrorAs(t, err, &over)
	requireQty(t, 50, over.Ordered)

	// Force the bad quantity past RecordPick to exercise Complete's own check.
	stored, err := f.mem.PickList(ctx, p.ID)
	require.NoError(t, err)
	stored.Lines[0].Picked = qty(60)
	require.NoError(t, f.mem.SavePickList(ctx, stored))
	before := len(f.mem.Entries())

	_, err = svc.Complete(ctx, p.ID, "picker-7")
	assert.ErrorIs(t, err, inventory.ErrOverPick)
	assert.Len(t, f.mem.Entries(), before)
	assert.Empty(t, f.docs.custody)

	stored, err = f.mem.PickList(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.PickPicking, stored.Status)
}

func TestPickList_NoPickedQuantity(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	p := pickingList(t, f, svc, "SO-1")
	before := len(f.mem.Entries())

	_, err := svc.Complete(context.Background(), p.ID, "picker-7")
	assert.ErrorIs(t, err, inventory.ErrNoPickedQuantity)
	assert.Len(t, f.mem.Entries(), before)
}

func TestPickList_Transitions(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 10)
	svc := f.picking()
	ctx := context.Background()

	p, err := svc.Build(ctx, []string{"SO-1"}, "planner")
	require.NoError(t, err)
	assert.Equal(t, inventory.PickDraft, p.Status)

	// Complete and Start are refused before assignment.
	_, err = svc.Complete(ctx, p.ID, "picker-7")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)
	_, err = svc.Start(ctx, p.ID, "picker-7")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)

	// Assign needs an assignee.
	_, err = svc.Assign(ctx, p.ID, "  ", "planner")
	var tr *inventory.TransitionError
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, "assignee is required", tr.Reason)

	// Draft -> Assigned directly is allowed.
	p, err = svc.Assign(ctx, p.ID, "picker-7", "planner")
	require.NoError(t, err)
	assert.Equal(t, inventory.PickAssigned, p.Status)
	assert.Equal(t, "picker-7", p.AssignedTo)

	_, err = svc.Release(ctx, p.ID, "planner")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)

	// Picks are recorded only while picking.
	_, err = svc.RecordPick(ctx, p.ID, 1, qty(1), "picker-7")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)

	p, err = svc.Start(ctx, p.ID, "picker-7")
	require.NoError(t, err)
	assert.NotNil(t, p.StartedAt)

	_, err = svc.RecordPick(ctx, p.ID, 9, qty(1), "picker-7")
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	var assigned []inventory.Event
	for _, e := range f.mem.Events() {
		if e.Kind == inventory.EventPickListAssigned {
			assigned = append(assigned, e)
		}
	}
	require.Len(t, assigned, 1)
	assert.Equal(t, "picker-7", assigned[0].Assignee)
	assert.Equal(t, inventory.Actor("planner"), assigned[0].Actor)
}

func TestPickList_BuildRequiresAllocatedOrders(t *testing.T) {
	f := newFixture(t)
	svc := f.picking()
	ctx := context.Background()

	_, err := f.fulfillment().CreateOrder(ctx, inventory.NewOrder{
		ID: "SO-9", Warehouse: "WH-A",
		Lines: []inventory.NewOrderLine{{Item: "SKU-1", Required: qty(1)}},
	}, "planner")
	require.NoError(t, err)

	_, err = svc.Build(ctx, []string{"SO-9"}, "planner")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)

	_, err = svc.Build(ctx, nil, "planner")
	assert.ErrorIs(t, err, inventory.ErrInvalidArgument)
}

// =============================================================================
// FAILURE HANDLING TESTS
// =============================================================================

func TestPickList_CustodyFailure_RollsBackLedger(t *testing.T) {
	// GIVEN: A pick of 40 where the custody record cannot be created
	// WHEN: Completing
	// THEN: The movement entry is reversed, stock and reservation are back

	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	ctx := context.Background()
	p := pickingList(t, f, svc, "SO-1")
	_, err := svc.RecordPick(ctx, p.ID, 1, qty(40), "picker-7")
	require.NoError(t, err)

	f.docs.failCustody = errors.New("document service down")
	_, err = svc.Complete(ctx, p.ID, "picker-7")
	require.Error(t, err)
	var partial *inventory.PartialCompletionError
	assert.False(t, errors.As(err, &partial), "fully rolled back, not partial")

	s := f.state(t, "A-01", "SKU-1", "")
	requireQty(t, 100, s.Balance)
	requireQty(t, 50, s.Reserved)

	stored, err := f.mem.PickList(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.PickPicking, stored.Status)

	// Retry once the service is back.
	f.docs.failCustody = nil
	done, err := svc.Complete(ctx, p.ID, "picker-7")
	require.NoError(t, err)
	assert.Equal(t, inventory.PickCompleted, done.Status)
	requireQty(t, 60, f.state(t, "A-01", "SKU-1", "").Balance)
}

func TestPickList_ShipmentFailure_ReportsCustodyRecord(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	ctx := context.Background()
	p := pickingList(t, f, svc, "SO-1")
	_, err := svc.RecordPick(ctx, p.ID, 1, qty(50), "picker-7")
	require.NoError(t, err)

	f.docs.failShipment = errors.New("carrier rejected")
	_, err = svc.Complete(ctx, p.ID, "picker-7")

	var partial *inventory.PartialCompletionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"CT-1"}, partial.Documents)
	assert.Empty(t, partial.Written, "ledger was rolled back")
	requireQty(t, 100, f.state(t, "A-01", "SKU-1", "").Balance)
}

// =============================================================================
// CANCEL TESTS
// =============================================================================

func TestPickList_Cancel_ReleasesReservations(t *testing.T) {
	// GIVEN: A pick list in progress for an order reserving 50
	// WHEN: Cancelling it
	// THEN: The reservation is offset, the order is Draft again and can be
	//       re-allocated

	f := newFixture(t)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	f.stock(t, "A-01", "SKU-1", "", 100, nil)
	allocatedOrder(t, f, "SO-1", "SKU-1", 50)
	svc := f.picking()
	ctx := context.Background()
	p := pickingList(t, f, svc, "SO-1")

	p, err := svc.Cancel(ctx, p.ID, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, inventory.PickCancelled, p.Status)
	requireQty(t, 0, f.state(t, "A-01", "SKU-1", "").Reserved)

	o, err := f.mem.Order(ctx, "SO-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderDraft, o.Status)
	assert.Empty(t, o.Lines[0].Allocations)
	assert.Empty(t, o.PickList)

	_, err = f.fulfillment().AllocateOrder(ctx, "SO-1", inventory.AllocateOptions{}, "planner")
	require.NoError(t, err)
	requireQty(t, 50, f.state(t, "A-01", "SKU-1", "").Reserved)

	_, err = svc.Cancel(ctx, p.ID, "supervisor")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)
}

func TestCompletionPct(t *testing.T) {
	requireQty(t, 100, inventory.CompletionPct(qty(0), qty(0)))
	requireQty(t, 80, inventory.CompletionPct(qty(40), qty(10)))
	assert.Equal(t, "33.33", inventory.CompletionPct(qty(1), qty(2)).StringFixed(2))
	requireQty(t, 0, inventory.CompletionPct(qty(0), qty(5)))
}
