package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/inventory"
	"github.com/warp/bin-ledger/store/postgres"
)

// setupStore connects to TEST_DATABASE_URL and empties every table. The
// tests are skipped when it is not set so a live database is never touched.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := postgres.New(pool)
	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE ledger_entries, locations, fulfillment_orders, pick_lists,
			putaway_tasks, documents, outbox_events RESTART IDENTITY
	`)
	require.NoError(t, err)
	return s
}

func TestPostgres_ConcurrentAllocationNeverOversells(t *testing.T) {
	// GIVEN: Two ledgers (two engine processes) on one database, 100 units
	// WHEN: 20 allocations of 8 race across both
	// THEN: Exactly 12 succeed and the history verifies

	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveLocation(ctx, inventory.Location{ID: "A-01", Warehouse: "WH-A", Role: inventory.RoleStorage}))

	ledgers := []*inventory.Ledger{
		inventory.NewLedger(s, s, inventory.WithRetries(50)),
		inventory.NewLedger(s, s, inventory.WithRetries(50)),
	}
	key := inventory.StockKey{Location: "A-01", Item: "SKU-1"}
	_, err := ledgers[0].Post(ctx, key, func(inventory.StockState) (inventory.Change, error) {
		return inventory.Change{
			Delta:   decimal.NewFromInt(100),
			Kind:    inventory.KindMovement,
			Voucher: inventory.Voucher{Type: inventory.VoucherAdjustment, ID: "opening"},
		}, nil
	})
	require.NoError(t, err)

	var mu sync.Mutex
	ok := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			alloc := &inventory.Allocator{Ledger: ledgers[i%2]}
			_, err := alloc.Allocate(ctx, inventory.Demand{
				Item: "SKU-1", Quantity: decimal.NewFromInt(8), Warehouse: "WH-A",
				Voucher: inventory.Voucher{Type: inventory.VoucherFulfillmentOrder, ID: "SO"},
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 12, ok)
	history, err := s.History(ctx, key)
	require.NoError(t, err)
	require.NoError(t, inventory.Verify(history))

	head, _, err := s.Head(ctx, key)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(96).Equal(head.Reserved))
}

func TestPostgres_VersionedSaveAndOutbox(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	task := &inventory.PutawayTask{ID: "T-1", Item: "SKU-1", Qty: decimal.NewFromInt(5), Status: inventory.TaskPending}
	require.NoError(t, s.SaveTask(ctx, task))
	stale := *task
	task.Status = inventory.TaskCompleted
	require.NoError(t, s.SaveTask(ctx, task))
	assert.ErrorIs(t, s.SaveTask(ctx, &stale), inventory.ErrConcurrentModification)

	pending, err := s.Tasks(ctx, inventory.TaskPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.Enqueue(ctx, inventory.Event{ID: "ev-1", Kind: inventory.EventPutawayCompleted}))
	events, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NoError(t, s.MarkFailed(ctx, "ev-1", "down"))
	events, err = s.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, events[0].Attempts)
}
