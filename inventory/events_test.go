package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/inventory"
)

func TestDispatch_DeliversPendingOnce(t *testing.T) {
	// GIVEN: A pick list assignment and a putaway receipt queued as events
	// WHEN: Dispatching twice
	// THEN: Each event reaches the notifier exactly once

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.Enqueue(ctx,
		inventory.Event{ID: "ev-1", Kind: inventory.EventPickListAssigned, RefType: "Pick List", RefID: "PL-1", Assignee: "picker-7", Actor: "supervisor"},
		inventory.Event{ID: "ev-2", Kind: inventory.EventPutawayCreated, RefType: "Putaway Task", RefID: "T-1"},
	))
	n := &fakeNotifier{}

	res, err := inventory.Dispatch(ctx, f.mem, n, f.rt, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	require.Len(t, n.sent, 2)
	assert.Equal(t, "picker-7", n.sent[0].Assignee)
	assert.Equal(t, inventory.Actor("supervisor"), n.sent[0].From)

	res, err = inventory.Dispatch(ctx, f.mem, n, f.rt, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)
	assert.Len(t, n.sent, 2)

	for _, ev := range f.mem.Events() {
		assert.NotNil(t, ev.DeliveredAt)
	}
}

func TestDispatch_FailureRetriesUntilMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.Enqueue(ctx, inventory.Event{ID: "ev-1", Kind: inventory.EventShortfall}))
	n := &fakeNotifier{fail: errors.New("smtp down")}

	for i := 0; i < inventory.MaxDeliveryAttempts; i++ {
		res, err := inventory.Dispatch(ctx, f.mem, n, f.rt, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	}

	ev := f.mem.Events()[0]
	assert.Equal(t, inventory.MaxDeliveryAttempts, ev.Attempts)
	assert.Equal(t, "smtp down", ev.LastError)
	assert.Nil(t, ev.DeliveredAt)

	// Exhausted events are no longer picked up.
	n.fail = nil
	res, err := inventory.Dispatch(ctx, f.mem, n, f.rt, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)
	assert.Empty(t, n.sent)
}

func TestDispatch_RecoversAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.bin(t, "STG-A", "WH-A", inventory.RoleStaging)
	f.bin(t, "A-01", "WH-A", inventory.RoleStorage)
	ctx := context.Background()

	receive(t, f, f.putaway(nil), "RCPT-1", 5)
	n := &fakeNotifier{fail: errors.New("timeout")}

	res, err := inventory.Dispatch(ctx, f.mem, n, f.rt, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	n.fail = nil
	res, err = inventory.Dispatch(ctx, f.mem, n, f.rt, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	require.Len(t, n.sent, 1)
	assert.Equal(t, inventory.EventPutawayCreated, n.sent[0].Kind)

	ev := f.mem.Events()[0]
	assert.Equal(t, 2, ev.Attempts)
	assert.Empty(t, ev.LastError)
}
