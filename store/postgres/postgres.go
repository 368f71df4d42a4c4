/*
Package postgres provides a PostgreSQL-backed implementation of the inventory
repositories.

PURPOSE:
  Same contract as store/sqlite, for deployments where several engine
  processes share one database. The in-process key locks of the Ledger only
  serialize writers inside one process; across processes the store itself
  must make compare-and-append atomic.

COMPARE-AND-APPEND:
  Append takes a transaction-scoped advisory lock per stock key
  (pg_advisory_xact_lock(hashtext(key))) in sorted key order, then reads
  the heads and inserts. Two processes appending to the same key serialize
  on the lock; the loser sees the new head and fails with
  ErrConcurrentModification, which the Ledger retries.

KEY TABLES:
  Same tables as store/sqlite. Quantities are NUMERIC, timestamps are
  TIMESTAMPTZ and document bodies are JSONB.

USAGE:
  pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
  store := postgres.New(pool)
  if err := store.Migrate(ctx); err != nil { ... }

SEE ALSO:
  - inventory/store.go: Interface definitions
  - store/sqlite/sqlite.go: Single-file implementation
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/bin-ledger/inventory"
)

// Store implements all inventory repositories on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	if connStr == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		prev TEXT NOT NULL DEFAULT '',
		posted_at TIMESTAMPTZ NOT NULL,
		location TEXT NOT NULL,
		warehouse TEXT NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		item TEXT NOT NULL,
		batch TEXT NOT NULL DEFAULT '',
		expiry TIMESTAMPTZ,
		delta NUMERIC NOT NULL,
		reserved_delta NUMERIC NOT NULL,
		balance NUMERIC NOT NULL,
		reserved NUMERIC NOT NULL,
		available NUMERIC NOT NULL,
		kind TEXT NOT NULL,
		voucher_type TEXT NOT NULL,
		voucher_id TEXT NOT NULL,
		cancelled BOOLEAN NOT NULL DEFAULT false,
		cancels TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_key_seq ON ledger_entries(location, item, batch, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_voucher ON ledger_entries(voucher_type, voucher_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_item_wh ON ledger_entries(item, warehouse);

	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		warehouse TEXT NOT NULL DEFAULT '',
		zone TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		capacity NUMERIC NOT NULL DEFAULT 0,
		occupancy NUMERIC NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS fulfillment_orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		body JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pick_lists (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		body JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS putaway_tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		body JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		voucher_type TEXT NOT NULL,
		voucher_id TEXT NOT NULL,
		payload BYTEA,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_voucher ON documents(voucher_type, voucher_id);

	CREATE TABLE IF NOT EXISTS outbox_events (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		ref_type TEXT NOT NULL DEFAULT '',
		ref_id TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		delivered_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(seq) WHERE delivered_at IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

const entryColumns = `seq, id, prev, posted_at, location, warehouse, zone, item, batch, expiry,
	delta, reserved_delta, balance, reserved, available,
	kind, voucher_type, voucher_id, cancelled, cancels, created_by`

func (s *Store) Append(ctx context.Context, entries []inventory.Entry, cancel ...inventory.EntryID) ([]inventory.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	keys := make([]string, 0, len(entries))
	seen := map[string]bool{}
	for _, e := range entries {
		k := e.Key().String()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", k); err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", k, err)
		}
	}

	for _, id := range cancel {
		var cancelled bool
		err := tx.QueryRow(ctx, "SELECT cancelled FROM ledger_entries WHERE id = $1 FOR UPDATE", id).Scan(&cancelled)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("entry %s: %w", id, inventory.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", id, err)
		}
		if cancelled {
			return nil, fmt.Errorf("entry %s: %w", id, inventory.ErrAlreadyCancelled)
		}
		if _, err := tx.Exec(ctx, "UPDATE ledger_entries SET cancelled = true WHERE id = $1", id); err != nil {
			return nil, fmt.Errorf("failed to flag entry %s: %w", id, err)
		}
	}

	heads := map[inventory.StockKey]inventory.EntryID{}
	written := make([]inventory.Entry, len(entries))
	for i, e := range entries {
		key := e.Key()
		head, ok := heads[key]
		if !ok {
			err := tx.QueryRow(ctx, `
				SELECT id FROM ledger_entries
				WHERE location = $1 AND item = $2 AND batch = $3
				ORDER BY seq DESC LIMIT 1
			`, key.Location, key.Item, key.Batch).Scan(&head)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("failed to read head of %s: %w", key, err)
			}
		}
		if e.Prev != head {
			return nil, fmt.Errorf("%s: head is %q, entry chains on %q: %w", key, head, e.Prev, inventory.ErrConcurrentModification)
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO ledger_entries
			(id, prev, posted_at, location, warehouse, zone, item, batch, expiry,
			 delta, reserved_delta, balance, reserved, available,
			 kind, voucher_type, voucher_id, cancelled, cancels, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			RETURNING seq
		`,
			e.ID, e.Prev, e.PostedAt, e.Location, e.Warehouse, e.Zone, e.Item, e.Batch, e.Expiry,
			e.Delta, e.ReservedDelta, e.Balance, e.Reserved, e.Available,
			e.Kind, e.Voucher.Type, e.Voucher.ID, e.Cancelled, e.Cancels, e.CreatedBy,
		).Scan(&e.Seq)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: duplicate entry id %s", inventory.ErrInvalidArgument, e.ID)
			}
			return nil, fmt.Errorf("failed to append entry: %w", err)
		}
		heads[key] = e.ID
		written[i] = e
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return written, nil
}

func (s *Store) Head(ctx context.Context, key inventory.StockKey) (inventory.Entry, bool, error) {
	entries, err := s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE location = $1 AND item = $2 AND batch = $3
		ORDER BY seq DESC LIMIT 1
	`, key.Location, key.Item, key.Batch)
	if err != nil || len(entries) == 0 {
		return inventory.Entry{}, false, err
	}
	return entries[0], true, nil
}

func (s *Store) Get(ctx context.Context, id inventory.EntryID) (inventory.Entry, error) {
	entries, err := s.queryEntries(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", id)
	if err != nil {
		return inventory.Entry{}, err
	}
	if len(entries) == 0 {
		return inventory.Entry{}, fmt.Errorf("entry %s: %w", id, inventory.ErrNotFound)
	}
	return entries[0], nil
}

func (s *Store) History(ctx context.Context, key inventory.StockKey) ([]inventory.Entry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE location = $1 AND item = $2 AND batch = $3
		ORDER BY seq ASC
	`, key.Location, key.Item, key.Batch)
}

func (s *Store) ByVoucher(ctx context.Context, v inventory.Voucher) ([]inventory.Entry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE voucher_type = $1 AND voucher_id = $2
		ORDER BY seq ASC
	`, v.Type, v.ID)
}

func (s *Store) Holdings(ctx context.Context, warehouse inventory.WarehouseID, item inventory.ItemID) ([]inventory.Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`,
		       (SELECT f.posted_at FROM ledger_entries f
		        WHERE f.location = h.location AND f.item = h.item AND f.batch = h.batch
		        ORDER BY f.seq ASC LIMIT 1)
		FROM (
			SELECT DISTINCT ON (location, item, batch) *
			FROM ledger_entries
			WHERE item = $1
			ORDER BY location, item, batch, seq DESC
		) h
		WHERE h.warehouse = $2
	`, item, warehouse)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []inventory.Holding
	for rows.Next() {
		var first time.Time
		e, err := scanEntry(rows, &first)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, inventory.Holding{State: e.State(), FirstPostedAt: first.UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(holdings, func(i, j int) bool { return holdings[i].State.Key.Less(holdings[j].State.Key) })
	return holdings, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]inventory.Entry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func scanEntry(rows pgx.Rows, extra ...any) (inventory.Entry, error) {
	var (
		e                    inventory.Entry
		voucherType, voucher string
	)
	dest := []any{
		&e.Seq, &e.ID, &e.Prev, &e.PostedAt,
		&e.Location, &e.Warehouse, &e.Zone, &e.Item, &e.Batch, &e.Expiry,
		&e.Delta, &e.ReservedDelta, &e.Balance, &e.Reserved, &e.Available,
		&e.Kind, &voucherType, &voucher, &e.Cancelled, &e.Cancels, &e.CreatedBy,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.PostedAt = e.PostedAt.UTC()
	if e.Expiry != nil {
		t := e.Expiry.UTC()
		e.Expiry = &t
	}
	e.Voucher = inventory.Voucher{Type: voucherType, ID: voucher}
	return e, nil
}

// =============================================================================
// LOCATIONS
// =============================================================================

const locationColumns = "id, warehouse, zone, role, capacity, occupancy"

func (s *Store) Location(ctx context.Context, id inventory.LocationID) (inventory.Location, error) {
	var loc inventory.Location
	err := s.pool.QueryRow(ctx, "SELECT "+locationColumns+" FROM locations WHERE id = $1", id).
		Scan(&loc.ID, &loc.Warehouse, &loc.Zone, &loc.Role, &loc.Capacity, &loc.Occupancy)
	if errors.Is(err, pgx.ErrNoRows) {
		return loc, fmt.Errorf("location %s: %w", id, inventory.ErrNotFound)
	}
	if err != nil {
		return loc, fmt.Errorf("failed to load location: %w", err)
	}
	return loc, nil
}

func (s *Store) Locations(ctx context.Context, warehouse inventory.WarehouseID, role inventory.LocationRole) ([]inventory.Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+locationColumns+` FROM locations
		WHERE warehouse = $1 AND ($2 = '' OR role = $2)
		ORDER BY id
	`, warehouse, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locs []inventory.Location
	for rows.Next() {
		var loc inventory.Location
		if err := rows.Scan(&loc.ID, &loc.Warehouse, &loc.Zone, &loc.Role, &loc.Capacity, &loc.Occupancy); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

func (s *Store) SaveLocation(ctx context.Context, loc inventory.Location) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO locations (`+locationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			warehouse = EXCLUDED.warehouse,
			zone = EXCLUDED.zone,
			role = EXCLUDED.role,
			capacity = EXCLUDED.capacity,
			occupancy = EXCLUDED.occupancy
	`, loc.ID, loc.Warehouse, loc.Zone, loc.Role, loc.Capacity, loc.Occupancy)
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return nil
}

func (s *Store) AdjustOccupancy(ctx context.Context, id inventory.LocationID, delta decimal.Decimal) (inventory.Location, error) {
	var loc inventory.Location
	err := s.pool.QueryRow(ctx, `
		UPDATE locations SET occupancy = GREATEST(occupancy + $2, 0)
		WHERE id = $1
		RETURNING `+locationColumns,
		id, delta,
	).Scan(&loc.ID, &loc.Warehouse, &loc.Zone, &loc.Role, &loc.Capacity, &loc.Occupancy)
	if errors.Is(err, pgx.ErrNoRows) {
		return loc, fmt.Errorf("location %s: %w", id, inventory.ErrNotFound)
	}
	if err != nil {
		return loc, fmt.Errorf("failed to update occupancy: %w", err)
	}
	return loc, nil
}

// =============================================================================
// VERSIONED DOCUMENTS
// =============================================================================

func (s *Store) saveVersioned(ctx context.Context, table, kind, id, status string, createdAt time.Time, version *int64, doc any) error {
	given := *version
	*version = given + 1
	body, err := json.Marshal(doc)
	if err != nil {
		*version = given
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	var tag pgconn.CommandTag
	if given == 0 {
		tag, err = s.pool.Exec(ctx,
			"INSERT INTO "+table+" (id, status, version, created_at, body) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING",
			id, status, *version, createdAt, body)
	} else {
		tag, err = s.pool.Exec(ctx,
			"UPDATE "+table+" SET status = $2, version = $3, body = $4 WHERE id = $1 AND version = $5",
			id, status, *version, body, given)
	}
	if err != nil {
		*version = given
		return fmt.Errorf("failed to save %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		*version = given
		return fmt.Errorf("%s %s at version %d: %w", kind, id, given, inventory.ErrConcurrentModification)
	}
	return nil
}

func (s *Store) loadVersioned(ctx context.Context, table, kind, id string, doc any) error {
	var body []byte
	err := s.pool.QueryRow(ctx, "SELECT body FROM "+table+" WHERE id = $1", id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, inventory.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	return json.Unmarshal(body, doc)
}

func listVersioned[T any](ctx context.Context, s *Store, table, status string) ([]*T, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT body FROM `+table+`
		WHERE $1 = '' OR status = $1
		ORDER BY created_at ASC, id ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var result []*T
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		doc := new(T)
		if err := json.Unmarshal(body, doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", table, err)
		}
		result = append(result, doc)
	}
	return result, rows.Err()
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
	return listVersioned[inventory.FulfillmentOrder](ctx, s, "fulfillment_orders", string(status))
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
	return listVersioned[inventory.PickList](ctx, s, "pick_lists", string(status))
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
	return listVersioned[inventory.PutawayTask](ctx, s, "putaway_tasks", string(status))
}

// =============================================================================
// DOCUMENTS & OUTBOX
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, d inventory.DocumentRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, kind, voucher_type, voucher_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.Kind, d.Voucher.Type, d.Voucher.ID, d.Payload, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *Store) DocumentsFor(ctx context.Context, v inventory.Voucher) ([]inventory.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, voucher_type, voucher_id, payload, created_at
		FROM documents
		WHERE voucher_type = $1 AND voucher_id = $2
		ORDER BY seq ASC
	`, v.Type, v.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []inventory.DocumentRecord
	for rows.Next() {
		var d inventory.DocumentRecord
		if err := rows.Scan(&d.ID, &d.Kind, &d.Voucher.Type, &d.Voucher.ID, &d.Payload, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) Enqueue(ctx context.Context, events ...inventory.Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO outbox_events
			(id, kind, ref_type, ref_id, assignee, actor, message, occurred_at, attempts, last_error, delivered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, ev.ID, ev.Kind, ev.RefType, ev.RefID, ev.Assignee, ev.Actor, ev.Message,
			ev.OccurredAt, ev.Attempts, ev.LastError, ev.DeliveredAt)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to enqueue events: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Pending(ctx context.Context, limit int) ([]inventory.Event, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, ref_type, ref_id, assignee, actor, message, occurred_at, attempts, last_error, delivered_at
		FROM outbox_events
		WHERE delivered_at IS NULL AND attempts < $1
		ORDER BY seq ASC
		LIMIT $2
	`, inventory.MaxDeliveryAttempts, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var events []inventory.Event
	for rows.Next() {
		var ev inventory.Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.RefType, &ev.RefID, &ev.Assignee, &ev.Actor,
			&ev.Message, &ev.OccurredAt, &ev.Attempts, &ev.LastError, &ev.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.updateEvent(ctx, id, `
		UPDATE outbox_events SET attempts = attempts + 1, delivered_at = $2, last_error = ''
		WHERE id = $1
	`, id, at)
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.updateEvent(ctx, id, `
		UPDATE outbox_events SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`, id, reason)
}

func (s *Store) updateEvent(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, inventory.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
