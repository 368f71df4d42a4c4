package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/inventory"
	"github.com/warp/bin-ledger/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

// clock advances one second per reading so every entry gets its own
// timestamp unless a test pins it.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n)
}

type fixture struct {
	mem    *store.Memory
	ledger *inventory.Ledger
	rt     inventory.Runtime
	clock  *clock
	docs   *fakeDocs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemory()
	c := &clock{now: t0}
	ids := &sequence{}
	rt := inventory.Runtime{Now: c.Now, NewID: ids.Next}

	return &fixture{
		mem:    mem,
		ledger: inventory.NewLedger(mem, mem, inventory.WithRuntime(rt)),
		rt:     rt,
		clock:  c,
		docs:   &fakeDocs{},
	}
}

func (f *fixture) bin(t *testing.T, id, warehouse string, role inventory.LocationRole) {
	t.Helper()
	require.NoError(t, f.mem.SaveLocation(context.Background(), inventory.Location{
		ID:        inventory.LocationID(id),
		Warehouse: inventory.WarehouseID(warehouse),
		Zone:      "Z1",
		Role:      role,
		Occupancy: decimal.Zero,
	}))
}

// stock books qty units into a bin as an adjustment.
func (f *fixture) stock(t *testing.T, loc, item, batch string, qty int64, expiry *time.Time) inventory.Entry {
	t.Helper()
	e, err := f.ledger.Post(context.Background(), key(loc, item, batch), func(inventory.StockState) (inventory.Change, error) {
		return inventory.Change{
			Delta:   inventory.Qty(qty),
			Kind:    inventory.KindMovement,
			Voucher: inventory.Voucher{Type: inventory.VoucherAdjustment, ID: "opening"},
			Expiry:  expiry,
			Actor:   "tester",
		}, nil
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) state(t *testing.T, loc, item, batch string) inventory.StockState {
	t.Helper()
	s, err := inventory.BalanceCalculator{Ledger: f.ledger}.Current(context.Background(), key(loc, item, batch))
	require.NoError(t, err)
	return s
}

func (f *fixture) allocator() *inventory.Allocator {
	return &inventory.Allocator{Ledger: f.ledger, Outbox: f.mem, Runtime: f.rt}
}

func (f *fixture) fulfillment() *inventory.FulfillmentService {
	return inventory.NewFulfillmentService(f.mem, f.allocator(), f.rt)
}

func (f *fixture) picking() *inventory.PickService {
	return inventory.NewPickService(inventory.PickDeps{
		PickLists: f.mem,
		Orders:    f.mem,
		Ledger:    f.ledger,
		Locations: f.mem,
		Documents: f.docs,
		Catalog:   fakeCatalog{},
		Outbox:    f.mem,
		Runtime:   f.rt,
	})
}

func (f *fixture) putaway(strategy inventory.DestinationStrategy) *inventory.PutawayService {
	return inventory.NewPutawayService(inventory.PutawayDeps{
		Tasks:     f.mem,
		Ledger:    f.ledger,
		Locations: f.mem,
		Documents: f.docs,
		Outbox:    f.mem,
		Strategy:  strategy,
		Runtime:   f.rt,
	})
}

func key(loc, item, batch string) inventory.StockKey {
	return inventory.StockKey{
		Location: inventory.LocationID(loc),
		Item:     inventory.ItemID(item),
		Batch:    inventory.BatchID(batch),
	}
}

func qty(v int64) decimal.Decimal {
	return inventory.Qty(v)
}

func date(y int, m time.Month, d int) *time.Time {
	at := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &at
}

// requireQty compares decimals by value.
func requireQty(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, qty(want).Equal(got), "want %d, got %s", want, got)
}

// =============================================================================
// COLLABORATOR FAKES
// =============================================================================

type fakeDocs struct {
	mu        sync.Mutex
	custody   []inventory.CustodyTransfer
	shipments []inventory.Shipment

	failCustody  error
	failShipment error
}

func (d *fakeDocs) CreateCustodyTransfer(_ context.Context, c inventory.CustodyTransfer) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failCustody != nil {
		return "", d.failCustody
	}
	d.custody = append(d.custody, c)
	return fmt.Sprintf("CT-%d", len(d.custody)), nil
}

func (d *fakeDocs) CreateShipment(_ context.Context, s inventory.Shipment) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failShipment != nil {
		return "", d.failShipment
	}
	d.shipments = append(d.shipments, s)
	return fmt.Sprintf("SH-%d", len(d.shipments)), nil
}

type fakeCatalog struct{}

func (fakeCatalog) UOM(_ context.Context, item inventory.ItemID) (string, error) {
	return "Nos", nil
}

func (fakeCatalog) ItemName(_ context.Context, item inventory.ItemID) (string, error) {
	if item == "" {
		return "", errors.New("no item")
	}
	return "Item " + string(item), nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []inventory.Notification
	fail error
}

func (n *fakeNotifier) Notify(_ context.Context, msg inventory.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, msg)
	return nil
}
