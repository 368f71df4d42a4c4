package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/inventory"
)

// receive books a receipt of n units into STG-A and returns its task.
func receive(t *testing.T, f *fixture, svc *inventory.PutawayService, id string, n int64) *inventory.PutawayTask {
	t.Helper()
	tasks, err := svc.Receive(context.Background(), inventory.Receipt{
		ID:         id,
		StagingBin: "STG-A",
		Lines:      []inventory.ReceiptLine{{Item: "SKU-1", Batch: "L1", Qty: qty(n), Expiry: date(2026, 1, 31)}},
	}, "receiver")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func entriesFor(t *testing.T, f *fixture, v inventory.Voucher) []inventory.Entry {
	t.Helper()
	es, err := f.ledger.ByVoucher(context.Background(), v)
	require.NoError(t, err)
	return es
}

// =============================================================================
// SCENARIO TESTS
// =============================================================================

func TestPutaway_SameWarehouse_TwoEntriesNoCustody(t *testing.T) {
	// GIVEN: 25 units received into staging bin STG-A (warehouse A)
	// WHEN: Completing the task into storage bin A-01 (warehouse A)
	// THEN: Exactly two entries (-25, +25), no custody record

	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	svc := f.putaway(inventory.AnyOpenBin)
	ctx := context.Background()

	task := receive(t, f, svc, "RCPT-1", 25)
	assert.Equal(t, inventory.TaskPending, task.Status)
	assert.Equal(t, inventory.LocationID("A-01"), task.Suggested)

	done, err := svc.CompleteTask(ctx, task.ID, "A-01", "putter")
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.CustodyRef)
	assert.Empty(t, f.docs.custody)

	written := entriesFor(t, f, done.Voucher())
	require.Len(t, written, 2)
	requireQty(t, 0, written[0].Delta.Add(written[1].Delta))
	requireQty(t, -25, written[0].Delta)
	requireQty(t, 25, written[1].Delta)

	requireQty(t, 0, f.state(t, "STG-A", "SKU-1", "L1").Balance)
	dest := f.state(t, "A-01", "SKU-1", "L1")
	requireQty(t, 25, dest.Balance)
	require.NotNil(t, dest.Expiry, "expiry travels with the stock")

	stg, err := f.mem.Location(ctx, "STG-A")
	require.NoError(t, err)
	requireQty(t, 0, stg.Occupancy)
	a01, err := f.mem.Location(ctx, "A-01")
	require.NoError(t, err)
	requireQty(t, 25, a01.Occupancy)
}

func TestPutaway_CrossWarehouse_CreatesCustodyTransfer(t *testing.T) {
	// GIVEN: 25 units in staging of warehouse A
	// WHEN: Putting them away into a bin of warehouse B
	// THEN: One custody transfer A -> B for 25 plus the two entries

	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "B-01", "WH-B", inventory.RoleStorage)
	svc := f.putaway(inventory.AnyOpenBin)

	task := receive(t, f, svc, "RCPT-1", 25)
	done, err := svc.CompleteTask(context.Background(), task.ID, "B-01", "putter")
	require.NoError(t, err)

	require.Len(t, f.docs.custody, 1)
	ct := f.docs.custody[0]
	assert.Equal(t, inventory.PurposeMaterialTransfer, ct.Purpose)
	assert.Equal(t, inventory.WarehouseID("WH-A"), ct.FromWarehouse)
	assert.Equal(t, inventory.WarehouseID("WH-B"), ct.ToWarehouse)
	requireQty(t, 25, ct.TotalQty())
	assert.Equal(t, "CT-1", done.CustodyRef)
	assert.Len(t, entriesFor(t, f, done.Voucher()), 2)
}

func TestPutaway_CompleteTwice_AlreadyCompletedNoWrites(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	svc := f.putaway(nil)
	ctx := context.Background()

	task := receive(t, f, svc, "RCPT-1", 25)
	_, err := svc.CompleteTask(ctx, task.ID, "", "putter")
	require.NoError(t, err)
	before := len(f.mem.Entries())

	_, err = svc.CompleteTask(ctx, task.ID, "A-01", "putter")
	assert.ErrorIs(t, err, inventory.ErrAlreadyCompleted)
	assert.Len(t, f.mem.Entries(), before)
}

// =============================================================================
// FAILURE HANDLING TESTS
// =============================================================================

func TestPutaway_UnresolvedWarehouse_NoWrites(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "LOOSE", "", inventory.RoleStorage)
	svc := f.putaway(inventory.AnyOpenBin)
	ctx := context.Background()

	task := receive(t, f, svc, "RCPT-1", 25)
	before := len(f.mem.Entries())

	_, err := svc.CompleteTask(ctx, task.ID, "LOOSE", "putter")
	assert.ErrorIs(t, err, inventory.ErrUnresolvedWarehouse)
	assert.Len(t, f.mem.Entries(), before)

	_, err = svc.CompleteTask(ctx, task.ID, "NOWHERE", "putter")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestPutaway_CustodyFailure_ReversesMove(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "B-01", "WH-B", inventory.RoleStorage)
	svc := f.putaway(inventory.AnyOpenBin)
	ctx := context.Background()

	task := receive(t, f, svc, "RCPT-1", 25)
	f.docs.failCustody = errors.New("timeout")

	_, err := svc.CompleteTask(ctx, task.ID, "B-01", "putter")
	require.Error(t, err)

	requireQty(t, 25, f.state(t, "STG-A", "SKU-1", "L1").Balance)
	requireQty(t, 0, f.state(t, "B-01", "SKU-1", "L1").Balance)

	stored, err := svc.Task(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskPending, stored.Status)
}

func TestPutaway_Receive_Guards(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	svc := f.putaway(nil)
	ctx := context.Background()

	receive(t, f, svc, "RCPT-1", 5)
	_, err := svc.Receive(ctx, inventory.Receipt{
		ID: "RCPT-1", StagingBin: "STG-A",
		Lines: []inventory.ReceiptLine{{Item: "SKU-1", Qty: qty(5)}},
	}, "receiver")
	assert.ErrorIs(t, err, inventory.ErrAlreadyCompleted)

	_, err = svc.Receive(ctx, inventory.Receipt{
		ID: "RCPT-2", StagingBin: "A-01",
		Lines: []inventory.ReceiptLine{{Item: "SKU-1", Qty: qty(5)}},
	}, "receiver")
	assert.ErrorIs(t, err, inventory.ErrInvalidArgument, "not a staging bin")

	_, err = svc.Receive(ctx, inventory.Receipt{
		ID: "RCPT-3", StagingBin: "STG-A",
		Lines: []inventory.ReceiptLine{{Item: "SKU-1", Qty: qty(0)}},
	}, "receiver")
	assert.ErrorIs(t, err, inventory.ErrInvalidArgument)
}

func TestPutaway_CancelTask(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	svc := f.putaway(nil)
	ctx := context.Background()

	task := receive(t, f, svc, "RCPT-1", 5)
	cancelled, err := svc.CancelTask(ctx, task.ID, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskCancelled, cancelled.Status)
	requireQty(t, 5, f.state(t, "STG-A", "SKU-1", "L1").Balance)

	_, err = svc.CompleteTask(ctx, task.ID, "A-01", "putter")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)
	_, err = svc.CancelTask(ctx, task.ID, "supervisor")
	assert.ErrorIs(t, err, inventory.ErrAlreadyCancelled)
}

// =============================================================================
// DESTINATION STRATEGY TESTS
// =============================================================================

func bins(specs ...inventory.Location) []inventory.Location {
	return specs
}

func TestDestination_AnyOpenBin_SkipsFullBins(t *testing.T) {
	req := inventory.DestinationRequest{
		Item: "SKU-1", Qty: qty(10), Warehouse: "WH-A",
		Candidates: bins(
			inventory.Location{ID: "A-01", Capacity: qty(20), Occupancy: qty(15)},
			inventory.Location{ID: "A-02", Capacity: qty(20), Occupancy: qty(10)},
		),
	}
	got, err := inventory.AnyOpenBin(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, inventory.LocationID("A-02"), got)

	req.Qty = qty(50)
	_, err = inventory.AnyOpenBin(context.Background(), req)
	assert.ErrorIs(t, err, inventory.ErrNoDestination)
}

func TestDestination_ConsolidateBin_PrefersBinHoldingItem(t *testing.T) {
	req := inventory.DestinationRequest{
		Item: "SKU-1", Qty: qty(5), Warehouse: "WH-A",
		Candidates: bins(
			inventory.Location{ID: "A-01"},
			inventory.Location{ID: "A-02"},
		),
		Holdings: []inventory.Holding{
			{State: inventory.StockState{Key: key("A-02", "SKU-1", ""), Balance: qty(3)}},
		},
	}
	got, err := inventory.ConsolidateBin(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, inventory.LocationID("A-02"), got)

	req.Holdings = nil
	got, err = inventory.ConsolidateBin(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, inventory.LocationID("A-01"), got)
}

func TestDestination_HashBin_IsStable(t *testing.T) {
	req := inventory.DestinationRequest{
		Item: "SKU-1", Qty: qty(5), Warehouse: "WH-A",
		Candidates: bins(
			inventory.Location{ID: "A-01"},
			inventory.Location{ID: "A-02"},
			inventory.Location{ID: "A-03"},
		),
	}
	first, err := inventory.HashBin(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := inventory.HashBin(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// A full hashed bin probes to the next one.
	for i := range req.Candidates {
		if req.Candidates[i].ID == first {
			req.Candidates[i].Capacity = qty(1)
		}
	}
	next, err := inventory.HashBin(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first, next)

	_, err = inventory.HashBin(context.Background(), inventory.DestinationRequest{Item: "SKU-1"})
	assert.ErrorIs(t, err, inventory.ErrNoDestination)
}
