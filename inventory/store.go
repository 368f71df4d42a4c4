/*
store.go - Persistence interfaces for the ledger and workflow documents

PURPOSE:
  Defines the interface between the engine and the database. Each entity
  gets its own narrow repository: the ledger Store, locations, fulfillment
  orders, pick lists, putaway tasks and the event outbox. There is no shared
  session state; every call carries its context.

APPEND-ONLY CONTRACT:
  Store exposes a single write, Append, which inserts entries and flags the
  entries they cancel. There is no Update and no Delete.

COMPARE-AND-APPEND:
  Every entry names the head of its key it was computed from (Entry.Prev,
  empty for the first entry of a key). Append fails with
  ErrConcurrentModification if the head moved. Several entries in one batch
  may chain on the same key. The batch is all-or-nothing.

VERSIONED DOCUMENTS:
  Orders, pick lists and tasks carry a Version. Save inserts when Version is
  0, otherwise it updates only if the stored version matches, then bumps
  Version on the passed document. A mismatch is ErrConcurrentModification.

IMPLEMENTATIONS:
  - inventory/store/memory.go: In-memory for tests and dev mode
  - store/sqlite/sqlite.go: SQLite, all repositories
  - store/postgres/postgres.go: Postgres ledger Store
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER STORE
// =============================================================================

type Store interface {
	// Append persists entries atomically and flags cancel as cancelled.
	// The store assigns Seq and returns the entries as written.
	// Fails with ErrConcurrentModification if an entry's Prev is not the head
	// of its key, and with ErrAlreadyCancelled if a cancel target is flagged.
	Append(ctx context.Context, entries []Entry, cancel ...EntryID) ([]Entry, error)

	// Head returns the newest entry of a key.
	Head(ctx context.Context, key StockKey) (Entry, bool, error)

	// Get returns one entry or ErrNotFound.
	Get(ctx context.Context, id EntryID) (Entry, error)

	// History returns every entry of a key ordered by Seq.
	History(ctx context.Context, key StockKey) ([]Entry, error)

	// ByVoucher returns every entry of a voucher ordered by Seq.
	ByVoucher(ctx context.Context, v Voucher) ([]Entry, error)

	// Holdings returns the head state of every key of an item in a warehouse.
	Holdings(ctx context.Context, warehouse WarehouseID, item ItemID) ([]Holding, error)
}

// =============================================================================
// WORKFLOW REPOSITORIES
// =============================================================================

type LocationStore interface {
	Location(ctx context.Context, id LocationID) (Location, error)

	// Locations lists bins of a warehouse ordered by id. An empty role
	// returns every bin.
	Locations(ctx context.Context, warehouse WarehouseID, role LocationRole) ([]Location, error)

	SaveLocation(ctx context.Context, loc Location) error

	// AdjustOccupancy adds delta to the occupancy counter, flooring at zero.
	AdjustOccupancy(ctx context.Context, id LocationID, delta decimal.Decimal) (Location, error)
}

type OrderStore interface {
	SaveOrder(ctx context.Context, o *FulfillmentOrder) error
	Order(ctx context.Context, id string) (*FulfillmentOrder, error)
	Orders(ctx context.Context, status OrderStatus) ([]*FulfillmentOrder, error)
}

type PickListStore interface {
	SavePickList(ctx context.Context, p *PickList) error
	PickList(ctx context.Context, id string) (*PickList, error)
	PickLists(ctx context.Context, status PickListStatus) ([]*PickList, error)
}

type TaskStore interface {
	SaveTask(ctx context.Context, t *PutawayTask) error
	Task(ctx context.Context, id string) (*PutawayTask, error)
	Tasks(ctx context.Context, status TaskStatus) ([]*PutawayTask, error)
}

// DocumentRecord is a collaborator document kept locally when no external
// document service is configured.
type DocumentRecord struct {
	ID        string
	Kind      string
	Voucher   Voucher
	Payload   []byte
	CreatedAt time.Time
}

type DocumentStore interface {
	SaveDocument(ctx context.Context, d DocumentRecord) error
	// DocumentsFor returns the documents of a voucher ordered by creation.
	DocumentsFor(ctx context.Context, v Voucher) ([]DocumentRecord, error)
}

// Outbox stores domain events until the dispatcher has delivered them.
type Outbox interface {
	Enqueue(ctx context.Context, events ...Event) error

	// Pending returns undelivered events with fewer than MaxDeliveryAttempts
	// attempts, oldest first.
	Pending(ctx context.Context, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}
