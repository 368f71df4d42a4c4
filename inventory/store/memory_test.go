package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/inventory"
	"github.com/warp/bin-ledger/inventory/store"
)

func entry(id, prev, loc string, balance int64) inventory.Entry {
	b := decimal.NewFromInt(balance)
	return inventory.Entry{
		ID:            inventory.EntryID(id),
		Prev:          inventory.EntryID(prev),
		PostedAt:      time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Location:      inventory.LocationID(loc),
		Warehouse:     "WH-A",
		Item:          "SKU-1",
		Delta:         b,
		ReservedDelta: decimal.Zero,
		Balance:       b,
		Reserved:      decimal.Zero,
		Available:     b,
		Kind:          inventory.KindMovement,
		Voucher:       inventory.Voucher{Type: inventory.VoucherReceipt, ID: "R-1"},
	}
}

func TestMemory_FailedBatchLeavesNoTrace(t *testing.T) {
	// GIVEN: A key with one entry
	// WHEN: A batch mixes a valid entry with one chained on a stale head
	// THEN: Nothing from the batch is written, including its cancel flags
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.Append(ctx, []inventory.Entry{entry("e1", "", "A-01", 10)})
	require.NoError(t, err)

	offset := entry("c1", "e1", "A-01", 0)
	offset.Kind = inventory.KindCancellation
	offset.Cancels = "e1"
	_, err = m.Append(ctx, []inventory.Entry{entry("e2", "", "A-02", 3), entry("e3", "", "A-01", 5), offset}, "e1")
	assert.ErrorIs(t, err, inventory.ErrConcurrentModification)

	assert.Len(t, m.Entries(), 1)
	e1, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, e1.Cancelled)

	_, ok, err := m.Head(ctx, inventory.StockKey{Location: "A-02", Item: "SKU-1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ChainsWithinOneBatch(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	written, err := m.Append(ctx, []inventory.Entry{entry("e1", "", "A-01", 10), entry("e2", "e1", "A-01", 4)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), written[0].Seq)
	assert.Equal(t, int64(2), written[1].Seq)

	head, ok, err := m.Head(ctx, inventory.StockKey{Location: "A-01", Item: "SKU-1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inventory.EntryID("e2"), head.ID)

	_, err = m.Append(ctx, []inventory.Entry{entry("e1", "e2", "A-01", 1)})
	assert.ErrorIs(t, err, inventory.ErrInvalidArgument, "duplicate id")
}

func TestMemory_ReadsAreCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	o := &inventory.FulfillmentOrder{
		ID:     "SO-1",
		Status: inventory.OrderAllocated,
		Lines: []inventory.DemandLine{{
			ID: "SO-1-1", Item: "SKU-1", Required: decimal.NewFromInt(5),
			Allocations: []inventory.Allocation{{Location: "A-01", Qty: decimal.NewFromInt(5)}},
		}},
	}
	require.NoError(t, m.SaveOrder(ctx, o))

	loaded, err := m.Order(ctx, "SO-1")
	require.NoError(t, err)
	loaded.Lines[0].Allocations[0].Location = "Z-99"
	loaded.Status = inventory.OrderCancelled

	again, err := m.Order(ctx, "SO-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.LocationID("A-01"), again.Lines[0].Allocations[0].Location)
	assert.Equal(t, inventory.OrderAllocated, again.Status)

	all, err := m.Orders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemory_OutboxSkipsExhaustedEvents(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.Enqueue(ctx,
		inventory.Event{ID: "ev-1", OccurredAt: at},
		inventory.Event{ID: "ev-2", OccurredAt: at},
		inventory.Event{ID: "ev-3", OccurredAt: at},
	))

	first, err := m.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "ev-1", first[0].ID)

	require.NoError(t, m.MarkDelivered(ctx, "ev-1", at))
	for i := 0; i < inventory.MaxDeliveryAttempts; i++ {
		require.NoError(t, m.MarkFailed(ctx, "ev-2", "down"))
	}

	pending, err := m.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ev-3", pending[0].ID)

	assert.ErrorIs(t, m.MarkDelivered(ctx, "ev-404", at), inventory.ErrNotFound)
}
