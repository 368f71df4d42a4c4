/*
Package inventory provides the bin-level inventory engine.

PURPOSE:
  This package tracks physical stock at (location, item, batch) granularity
  and allocates it against outbound demand before anything moves. Receipts,
  reservations, picks and putaways are all expressed as entries in one
  append-only ledger, and every quantity the rest of the system sees is
  derived from that ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - StockKey: (location, item, batch), the unit of ledger state and locking
  - Entry: An immutable ledger record carrying the resulting state of its key
  - StockState: balance / reserved / available of a key at one point
  - Location: A bin with warehouse, zone, role and an occupancy counter

DESIGN PRINCIPLES:
  1. Immutability: Entries are never edited, only offset by cancellation
  2. Precision: Quantities are decimal.Decimal, never float64
  3. Type Safety: Distinct id types for locations, items, batches, entries
  4. Auditability: Every entry names its voucher (document type + id) and actor

USAGE:
  ledger := inventory.NewLedger(store, locations)
  entry, err := ledger.Post(ctx, key, func(cur inventory.StockState) (inventory.Change, error) {
      return inventory.Change{Delta: qty, Kind: inventory.KindMovement, Voucher: v}, nil
  })

SEE ALSO:
  - ledger.go: Append/Latest/Cancel and the read-modify-write path
  - allocation.go: FEFO / FIFO reservation against demand
  - picklist.go: Pick list state machine and pick completion
  - putaway.go: Staging to storage moves
*/
package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LocationID string
type WarehouseID string
type ItemID string
type BatchID string
type EntryID string

// Actor identifies the caller of a public operation. It is recorded on
// ledger entries and used as the "from" of notifications.
type Actor string

// SystemActor is used for work the engine performs on its own behalf
// (rollbacks, compensations).
const SystemActor Actor = "system"

// Qty builds a whole-unit quantity.
func Qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// =============================================================================
// LOCATION - A bin inside a warehouse
// =============================================================================

type LocationRole string

const (
	RoleStaging LocationRole = "staging"
	RoleStorage LocationRole = "storage"
)

func (r LocationRole) Valid() bool {
	return r == RoleStaging || r == RoleStorage
}

// Location is owned by warehouse configuration. The engine only touches
// Occupancy, as a side effect of moves.
type Location struct {
	ID        LocationID
	Warehouse WarehouseID
	Zone      string
	Role      LocationRole

	// Capacity of zero means unbounded.
	Capacity  decimal.Decimal
	Occupancy decimal.Decimal
}

// HasRoom reports whether qty more units fit into the bin.
func (l Location) HasRoom(qty decimal.Decimal) bool {
	if !l.Capacity.IsPositive() {
		return true
	}
	return l.Occupancy.Add(qty).LessThanOrEqual(l.Capacity)
}

// =============================================================================
// STOCK KEY
// =============================================================================

// StockKey is the unit of ledger state. Batch is empty for unbatched items.
type StockKey struct {
	Location LocationID
	Item     ItemID
	Batch    BatchID
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Location, k.Item, k.Batch)
}

// Less orders keys by location, item, batch. Multi-key writers lock in this
// order.
func (k StockKey) Less(o StockKey) bool {
	if k.Location != o.Location {
		return k.Location < o.Location
	}
	if k.Item != o.Item {
		return k.Item < o.Item
	}
	return k.Batch < o.Batch
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EntryKind string

const (
	KindMovement     EntryKind = "movement"     // Physical stock change (receipt, pick, putaway)
	KindReservation  EntryKind = "reservation"  // Stock earmarked for demand, no physical change
	KindCancellation EntryKind = "cancellation" // Offsets a cancelled entry
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindMovement, KindReservation, KindCancellation:
		return true
	}
	return false
}

// Voucher is the source document of an entry. Documents reference the
// ledger only through vouchers, never by entry id foreign keys.
type Voucher struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

const (
	VoucherReceipt          = "receipt"
	VoucherFulfillmentOrder = "fulfillment_order"
	VoucherPickList         = "pick_list"
	VoucherPutawayTask      = "putaway_task"
	VoucherAdjustment       = "adjustment"
)

func (v Voucher) String() string {
	return v.Type + ":" + v.ID
}

// Entry is an immutable ledger record. Balance, Reserved and Available are the
// state of the key after the entry was applied.
type Entry struct {
	ID       EntryID
	Seq      int64 // assigned by the store, strictly increasing
	Prev     EntryID
	PostedAt time.Time

	Location  LocationID
	Warehouse WarehouseID
	Zone      string
	Item      ItemID
	Batch     BatchID
	Expiry    *time.Time

	Delta         decimal.Decimal
	ReservedDelta decimal.Decimal
	Balance       decimal.Decimal
	Reserved      decimal.Decimal
	Available     decimal.Decimal

	Kind      EntryKind
	Voucher   Voucher
	Cancelled bool
	Cancels   EntryID // set on offsetting entries
	CreatedBy Actor
}

func (e Entry) Key() StockKey {
	return StockKey{Location: e.Location, Item: e.Item, Batch: e.Batch}
}

// State returns the key state recorded by the entry.
func (e Entry) State() StockState {
	return StockState{
		Key:       e.Key(),
		Warehouse: e.Warehouse,
		Balance:   e.Balance,
		Reserved:  e.Reserved,
		Available: e.Available,
		Expiry:    e.Expiry,
		EntryID:   e.ID,
		Seq:       e.Seq,
		AsOf:      e.PostedAt,
	}
}

// =============================================================================
// STOCK STATE - Derived quantities of one key
// =============================================================================

type StockState struct {
	Key       StockKey
	Warehouse WarehouseID
	Balance   decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
	Expiry    *time.Time

	// Zero when the key has no entries yet.
	EntryID EntryID
	Seq     int64
	AsOf    time.Time
}

func zeroState(key StockKey) StockState {
	return StockState{Key: key, Balance: decimal.Zero, Reserved: decimal.Zero, Available: decimal.Zero}
}

// Holding is the current state of one key together with the time stock first
// arrived there. Allocation orders holdings by these two.
type Holding struct {
	State         StockState
	FirstPostedAt time.Time
}
