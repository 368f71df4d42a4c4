/*
Package sqlite provides a SQLite-backed implementation of the inventory
repositories.

PURPOSE:
  Implements every persistence interface of the inventory package (Store,
  LocationStore, OrderStore, PickListStore, TaskStore, DocumentStore, Outbox)
  on one SQLite database. store/postgres carries the same contract on
  PostgreSQL for multi-instance deployments.

APPEND-ONLY ENFORCEMENT:
  The ledger_entries table is append-only:
  - No DELETE statements on ledger_entries
  - The only UPDATE sets the cancelled flag, inside the same transaction
    that inserts the offsetting entry
  - Corrections via cancellation entries only

KEY TABLES:
  ledger_entries:     Immutable ledger, seq is the global append order
  locations:          Bins with warehouse, role and occupancy
  fulfillment_orders: Versioned order documents (JSON body)
  pick_lists:         Versioned pick list documents (JSON body)
  putaway_tasks:      Versioned task documents (JSON body)
  documents:          Locally recorded custody transfers and shipments
  outbox_events:      Domain events awaiting delivery

INDEXES:
  - idx_ledger_key_seq: Head and history lookups (hot path)
  - idx_ledger_voucher: Reversal and idempotence checks by voucher
  - idx_ledger_item_wh: Holdings of an item in a warehouse

COMPARE-AND-APPEND:
  Append reads the head of every key inside the write transaction and
  rejects the batch with ErrConcurrentModification if an entry's Prev is
  stale. Writers are serialized by the store mutex and SQLite's single
  writer, so the check and the insert cannot interleave.

ENCODING:
  Quantities are stored as decimal strings. Timestamps are UTC with a fixed
  nanosecond layout so that text order equals time order.

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := inventory.NewLedger(store, store)

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/bin-ledger/inventory"
)

// timeLayout keeps lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all inventory repositories using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		prev TEXT NOT NULL DEFAULT '',
		posted_at TEXT NOT NULL,
		location TEXT NOT NULL,
		warehouse TEXT NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		item TEXT NOT NULL,
		batch TEXT NOT NULL DEFAULT '',
		expiry TEXT,
		delta TEXT NOT NULL,
		reserved_delta TEXT NOT NULL,
		balance TEXT NOT NULL,
		reserved TEXT NOT NULL,
		available TEXT NOT NULL,
		kind TEXT NOT NULL,
		voucher_type TEXT NOT NULL,
		voucher_id TEXT NOT NULL,
		cancelled INTEGER NOT NULL DEFAULT 0,
		cancels TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_key_seq
		ON ledger_entries(location, item, batch, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_voucher
		ON ledger_entries(voucher_type, voucher_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_item_wh
		ON ledger_entries(item, warehouse);

	-- Bins
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		warehouse TEXT NOT NULL DEFAULT '',
		zone TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		capacity TEXT NOT NULL DEFAULT '0',
		occupancy TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_locations_warehouse_role
		ON locations(warehouse, role);

	-- Workflow documents
	CREATE TABLE IF NOT EXISTS fulfillment_orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		body_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pick_lists (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		body_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS putaway_tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		body_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON fulfillment_orders(status);
	CREATE INDEX IF NOT EXISTS idx_pick_lists_status ON pick_lists(status);
	CREATE INDEX IF NOT EXISTS idx_putaway_tasks_status ON putaway_tasks(status);

	-- Collaborator documents recorded locally
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		voucher_type TEXT NOT NULL,
		voucher_id TEXT NOT NULL,
		payload BLOB,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_voucher
		ON documents(voucher_type, voucher_id);

	-- Outbox
	CREATE TABLE IF NOT EXISTS outbox_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		ref_type TEXT NOT NULL DEFAULT '',
		ref_id TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		delivered_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox_events(delivered_at, attempts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (inventory.Store interface)
// =============================================================================

const entryColumns = `seq, id, prev, posted_at, location, warehouse, zone, item, batch, expiry,
	delta, reserved_delta, balance, reserved, available,
	kind, voucher_type, voucher_id, cancelled, cancels, created_by`

// Append writes entries and flags cancel targets in one transaction.
func (s *Store) Append(ctx context.Context, entries []inventory.Entry, cancel ...inventory.EntryID) ([]inventory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range cancel {
		var cancelled bool
		err := tx.QueryRowContext(ctx, "SELECT cancelled FROM ledger_entries WHERE id = ?", id).Scan(&cancelled)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("entry %s: %w", id, inventory.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", id, err)
		}
		if cancelled {
			return nil, fmt.Errorf("entry %s: %w", id, inventory.ErrAlreadyCancelled)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE ledger_entries SET cancelled = 1 WHERE id = ?", id); err != nil {
			return nil, fmt.Errorf("failed to flag entry %s: %w", id, err)
		}
	}

	heads := map[inventory.StockKey]inventory.EntryID{}
	written := make([]inventory.Entry, len(entries))
	for i, e := range entries {
		key := e.Key()
		head, ok := heads[key]
		if !ok {
			head, err = headID(ctx, tx, key)
			if err != nil {
				return nil, err
			}
		}
		if e.Prev != head {
			return nil, fmt.Errorf("%s: head is %q, entry chains on %q: %w", key, head, e.Prev, inventory.ErrConcurrentModification)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries
			(id, prev, posted_at, location, warehouse, zone, item, batch, expiry,
			 delta, reserved_delta, balance, reserved, available,
			 kind, voucher_type, voucher_id, cancelled, cancels, created_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID, e.Prev, formatTime(e.PostedAt),
			e.Location, e.Warehouse, e.Zone, e.Item, e.Batch, formatTimePtr(e.Expiry),
			e.Delta.String(), e.ReservedDelta.String(),
			e.Balance.String(), e.Reserved.String(), e.Available.String(),
			e.Kind, e.Voucher.Type, e.Voucher.ID, e.Cancelled, e.Cancels, e.CreatedBy,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, fmt.Errorf("%w: duplicate entry id %s", inventory.ErrInvalidArgument, e.ID)
			}
			return nil, fmt.Errorf("failed to append entry: %w", err)
		}
		if e.Seq, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		heads[key] = e.ID
		written[i] = e
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return written, nil
}

func headID(ctx context.Context, tx *sql.Tx, key inventory.StockKey) (inventory.EntryID, error) {
	var id inventory.EntryID
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM ledger_entries
		WHERE location = ? AND item = ? AND batch = ?
		ORDER BY seq DESC LIMIT 1
	`, key.Location, key.Item, key.Batch).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read head of %s: %w", key, err)
	}
	return id, nil
}

func (s *Store) Head(ctx context.Context, key inventory.StockKey) (inventory.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE location = ? AND item = ? AND batch = ?
		ORDER BY seq DESC LIMIT 1
	`, key.Location, key.Item, key.Batch)
	if err != nil || len(entries) == 0 {
		return inventory.Entry{}, false, err
	}
	return entries[0], true, nil
}

func (s *Store) Get(ctx context.Context, id inventory.EntryID) (inventory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryEntries(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", id)
	if err != nil {
		return inventory.Entry{}, err
	}
	if len(entries) == 0 {
		return inventory.Entry{}, fmt.Errorf("entry %s: %w", id, inventory.ErrNotFound)
	}
	return entries[0], nil
}

func (s *Store) History(ctx context.Context, key inventory.StockKey) ([]inventory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE location = ? AND item = ? AND batch = ?
		ORDER BY seq ASC
	`, key.Location, key.Item, key.Batch)
}

func (s *Store) ByVoucher(ctx context.Context, v inventory.Voucher) ([]inventory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE voucher_type = ? AND voucher_id = ?
		ORDER BY seq ASC
	`, v.Type, v.ID)
}

// Holdings picks the head of every key of the item, then keeps those whose
// head sits in the warehouse.
func (s *Store) Holdings(ctx context.Context, warehouse inventory.WarehouseID, item inventory.ItemID) ([]inventory.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`,
		       (SELECT f.posted_at FROM ledger_entries f
		        WHERE f.location = e.location AND f.item = e.item AND f.batch = e.batch
		        ORDER BY f.seq ASC LIMIT 1)
		FROM ledger_entries e
		WHERE e.item = ? AND e.warehouse = ?
		  AND e.seq = (SELECT MAX(h.seq) FROM ledger_entries h
		               WHERE h.location = e.location AND h.item = e.item AND h.batch = e.batch)
	`, item, warehouse)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []inventory.Holding
	for rows.Next() {
		var first string
		e, err := scanEntry(rows, &first)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, inventory.Holding{State: e.State(), FirstPostedAt: parseTime(first)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(holdings, func(i, j int) bool { return holdings[i].State.Key.Less(holdings[j].State.Key) })
	return holdings, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]inventory.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []inventory.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows, extra ...any) (inventory.Entry, error) {
	var (
		e                                    inventory.Entry
		postedAt                             string
		expiry                               sql.NullString
		delta, resDelta, balance, res, avail string
		voucherType, voucherID               string
	)

	dest := []any{
		&e.Seq, &e.ID, &e.Prev, &postedAt,
		&e.Location, &e.Warehouse, &e.Zone, &e.Item, &e.Batch, &expiry,
		&delta, &resDelta, &balance, &res, &avail,
		&e.Kind, &voucherType, &voucherID, &e.Cancelled, &e.Cancels, &e.CreatedBy,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.PostedAt = parseTime(postedAt)
	e.Expiry = parseTimePtr(expiry)
	e.Voucher = inventory.Voucher{Type: voucherType, ID: voucherID}

	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Delta, delta}, {&e.ReservedDelta, resDelta},
		{&e.Balance, balance}, {&e.Reserved, res}, {&e.Available, avail},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return e, fmt.Errorf("entry %s: bad quantity %q: %w", e.ID, f.src, err)
		}
	}
	return e, nil
}

// =============================================================================
// LOCATIONS (inventory.LocationStore interface)
// =============================================================================

func (s *Store) Location(ctx context.Context, id inventory.LocationID) (inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locs, err := s.queryLocations(ctx, "SELECT id, warehouse, zone, role, capacity, occupancy FROM locations WHERE id = ?", id)
	if err != nil {
		return inventory.Location{}, err
	}
	if len(locs) == 0 {
		return inventory.Location{}, fmt.Errorf("location %s: %w", id, inventory.ErrNotFound)
	}
	return locs[0], nil
}

func (s *Store) Locations(ctx context.Context, warehouse inventory.WarehouseID, role inventory.LocationRole) ([]inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, warehouse, zone, role, capacity, occupancy FROM locations WHERE warehouse = ?"
	args := []any{warehouse}
	if role != "" {
		query += " AND role = ?"
		args = append(args, role)
	}
	return s.queryLocations(ctx, query+" ORDER BY id", args...)
}

func (s *Store) SaveLocation(ctx context.Context, loc inventory.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, warehouse, zone, role, capacity, occupancy)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			warehouse = excluded.warehouse,
			zone = excluded.zone,
			role = excluded.role,
			capacity = excluded.capacity,
			occupancy = excluded.occupancy
	`, loc.ID, loc.Warehouse, loc.Zone, loc.Role, loc.Capacity.String(), loc.Occupancy.String())
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return nil
}

func (s *Store) AdjustOccupancy(ctx context.Context, id inventory.LocationID, delta decimal.Decimal) (inventory.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locs, err := s.queryLocations(ctx, "SELECT id, warehouse, zone, role, capacity, occupancy FROM locations WHERE id = ?", id)
	if err != nil {
		return inventory.Location{}, err
	}
	if len(locs) == 0 {
		return inventory.Location{}, fmt.Errorf("location %s: %w", id, inventory.ErrNotFound)
	}
	loc := locs[0]
	loc.Occupancy = decimal.Max(loc.Occupancy.Add(delta), decimal.Zero)

	if _, err := s.db.ExecContext(ctx, "UPDATE locations SET occupancy = ? WHERE id = ?", loc.Occupancy.String(), id); err != nil {
		return inventory.Location{}, fmt.Errorf("failed to update occupancy: %w", err)
	}
	return loc, nil
}

func (s *Store) queryLocations(ctx context.Context, query string, args ...any) ([]inventory.Location, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locs []inventory.Location
	for rows.Next() {
		var loc inventory.Location
		var capacity, occupancy string
		if err := rows.Scan(&loc.ID, &loc.Warehouse, &loc.Zone, &loc.Role, &capacity, &occupancy); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		loc.Capacity, _ = decimal.NewFromString(capacity)
		loc.Occupancy, _ = decimal.NewFromString(occupancy)
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

// =============================================================================
// VERSIONED DOCUMENTS (orders, pick lists, putaway tasks)
// =============================================================================

// saveVersioned inserts a document at version 1 or updates it if the stored
// version matches. On success *version is bumped.
func (s *Store) saveVersioned(ctx context.Context, table, kind, id, status string, createdAt time.Time, version *int64, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	given := *version
	*version = given + 1
	body, err := json.Marshal(doc)
	if err != nil {
		*version = given
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	var res sql.Result
	if given == 0 {
		res, err = s.db.ExecContext(ctx,
			"INSERT INTO "+table+" (id, status, version, created_at, body_json) VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
			id, status, *version, formatTime(createdAt), string(body))
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE "+table+" SET status = ?, version = ?, body_json = ? WHERE id = ? AND version = ?",
			status, *version, string(body), id, given)
	}
	if err != nil {
		*version = given
		return fmt.Errorf("failed to save %s %s: %w", kind, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		*version = given
		return fmt.Errorf("%s %s at version %d: %w", kind, id, given, inventory.ErrConcurrentModification)
	}
	return nil
}

func (s *Store) loadVersioned(ctx context.Context, table, kind, id string, doc any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body_json FROM "+table+" WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, inventory.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	return json.Unmarshal([]byte(body), doc)
}

// listVersioned returns the JSON bodies of a table, optionally filtered by
// status, ordered by creation.
func (s *Store) listVersioned(ctx context.Context, table, status string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT body_json FROM " + table
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY created_at ASC, id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
	}
	return bodies, rows.Err()
}

func (s *Store) SaveOrder(ctx context.Context, o *inventory.FulfillmentOrder) error {
	return s.saveVersioned(ctx, "fulfillment_orders", "order", o.ID, string(o.Status), o.CreatedAt, &o.Version, o)
}

func (s *Store) Order(ctx context.Context, id string) (*inventory.FulfillmentOrder, error) {
	var o inventory.FulfillmentOrder
	if err := s.loadVersioned(ctx, "fulfillment_orders", "order", id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) Orders(ctx context.Context, status inventory.OrderStatus) ([]*inventory.FulfillmentOrder, error) {
	bodies, err := s.listVersioned(ctx, "fulfillment_orders", string(status))
	if err != nil {
		return nil, err
	}
	result := make([]*inventory.FulfillmentOrder, 0, len(bodies))
	for _, b := range bodies {
		var o inventory.FulfillmentOrder
		if err := json.Unmarshal([]byte(b), &o); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		result = append(result, &o)
	}
	return result, nil
}

func (s *Store) SavePickList(ctx context.Context, p *inventory.PickList) error {
	return s.saveVersioned(ctx, "pick_lists", "pick list", p.ID, string(p.Status), p.CreatedAt, &p.Version, p)
}

func (s *Store) PickList(ctx context.Context, id string) (*inventory.PickList, error) {
	var p inventory.PickList
	if err := s.loadVersioned(ctx, "pick_lists", "pick list", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PickLists(ctx context.Context, status inventory.PickListStatus) ([]*inventory.PickList, error) {
	bodies, err := s.listVersioned(ctx, "pick_lists", string(status))
	if err != nil {
		return nil, err
	}
	result := make([]*inventory.PickList, 0, len(bodies))
	for _, b := range bodies {
		var p inventory.PickList
		if err := json.Unmarshal([]byte(b), &p); err != nil {
			return nil, fmt.Errorf("failed to decode pick list: %w", err)
		}
		result = append(result, &p)
	}
	return result, nil
}

func (s *Store) SaveTask(ctx context.Context, t *inventory.PutawayTask) error {
	return s.saveVersioned(ctx, "putaway_tasks", "putaway task", t.ID, string(t.Status), t.CreatedAt, &t.Version, t)
}

func (s *Store) Task(ctx context.Context, id string) (*inventory.PutawayTask, error) {
	var t inventory.PutawayTask
	if err := s.loadVersioned(ctx, "putaway_tasks", "putaway task", id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Tasks(ctx context.Context, status inventory.TaskStatus) ([]*inventory.PutawayTask, error) {
	bodies, err := s.listVersioned(ctx, "putaway_tasks", string(status))
	if err != nil {
		return nil, err
	}
	result := make([]*inventory.PutawayTask, 0, len(bodies))
	for _, b := range bodies {
		var t inventory.PutawayTask
		if err := json.Unmarshal([]byte(b), &t); err != nil {
			return nil, fmt.Errorf("failed to decode putaway task: %w", err)
		}
		result = append(result, &t)
	}
	return result, nil
}

// =============================================================================
// DOCUMENTS (inventory.DocumentStore interface)
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, d inventory.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, kind, voucher_type, voucher_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.Kind, d.Voucher.Type, d.Voucher.ID, d.Payload, formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *Store) DocumentsFor(ctx context.Context, v inventory.Voucher) ([]inventory.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, voucher_type, voucher_id, payload, created_at
		FROM documents
		WHERE voucher_type = ? AND voucher_id = ?
		ORDER BY seq ASC
	`, v.Type, v.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []inventory.DocumentRecord
	for rows.Next() {
		var d inventory.DocumentRecord
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Kind, &d.Voucher.Type, &d.Voucher.ID, &d.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.CreatedAt = parseTime(createdAt)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// =============================================================================
// OUTBOX (inventory.Outbox interface)
// =============================================================================

func (s *Store) Enqueue(ctx context.Context, events ...inventory.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_events
			(id, kind, ref_type, ref_id, assignee, actor, message, occurred_at, attempts, last_error, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.ID, ev.Kind, ev.RefType, ev.RefID, ev.Assignee, ev.Actor, ev.Message,
			formatTime(ev.OccurredAt), ev.Attempts, ev.LastError, formatTimePtr(ev.DeliveredAt))
		if err != nil {
			return fmt.Errorf("failed to enqueue event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Pending(ctx context.Context, limit int) ([]inventory.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, ref_type, ref_id, assignee, actor, message, occurred_at, attempts, last_error, delivered_at
		FROM outbox_events
		WHERE delivered_at IS NULL AND attempts < ?
		ORDER BY seq ASC
		LIMIT ?
	`, inventory.MaxDeliveryAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var events []inventory.Event
	for rows.Next() {
		var ev inventory.Event
		var occurredAt string
		var deliveredAt sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.RefType, &ev.RefID, &ev.Assignee, &ev.Actor,
			&ev.Message, &occurredAt, &ev.Attempts, &ev.LastError, &deliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.OccurredAt = parseTime(occurredAt)
		ev.DeliveredAt = parseTimePtr(deliveredAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.updateEvent(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1, delivered_at = ?, last_error = ''
		WHERE id = ?
	`, id, formatTime(at), id)
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.updateEvent(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, id, reason, id)
}

func (s *Store) updateEvent(ctx context.Context, query, id string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, inventory.ErrNotFound)
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
