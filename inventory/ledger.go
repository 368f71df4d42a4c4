/*
ledger.go - Append-only bin ledger

PURPOSE:
  The Ledger is the immutable source of truth for every quantity at every
  (location, item, batch). Receipts, reservations, picks and putaways all
  land here as entries; the current state of a key is the state recorded on
  its most recent non-cancelled entry.

CRITICAL INVARIANTS (checked on every write, see checkEntry):
  1. available == balance - reserved
  2. balance >= 0, reserved >= 0, available >= 0 (no oversell)
  3. balance == previous balance + delta
     reserved == previous reserved + reserved delta
  4. Reservation entries never move physical stock (delta == 0)

CONCURRENCY:
  Each key is a unit of pessimistic locking inside the process (keyLocks)
  and of optimistic locking in the store (compare-and-append on the head).
  The state a writer decided on is re-read under the key lock, and the
  store rejects the write if another process moved the head in between.
  Writers on different keys never block each other. Multi-key batches lock
  their keys in sorted order.

CORRECTIONS:
  Entries are never edited. Cancel flags the original and appends an
  equal-and-opposite cancellation entry in the same atomic write. The
  offsetting entry is always the newest entry of its key and cannot itself
  be cancelled, so the newest entry of a key is never a cancelled one.

TIMESTAMPS:
  PostedAt is kept monotonic per key (a writer never stamps an entry earlier
  than the head it chains on). Ordering by (PostedAt, Seq) and by Seq agree;
  equal timestamps are broken by the higher Seq.

SEE ALSO:
  - store.go: Store interface and the compare-and-append contract
  - balance.go: Derived views (current state, replay, audit)
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// errNoChange is returned by Post when the mutator decided not to write.
var errNoChange = errors.New("nothing to post")

const defaultRetries = 5

// =============================================================================
// CHANGE - What a writer wants to apply to a key
// =============================================================================

// Change is applied on top of the current state of a key. Kind
// KindCancellation is reserved for Cancel.
type Change struct {
	Delta         decimal.Decimal
	ReservedDelta decimal.Decimal
	Kind          EntryKind
	Voucher       Voucher
	Expiry        *time.Time
	Actor         Actor

	cancels EntryID
}

func (c Change) isZero() bool {
	return c.Delta.IsZero() && c.ReservedDelta.IsZero()
}

// Mutator computes a change from the freshly read state of a key. It runs
// while the key is locked and may run more than once if the store reports a
// concurrent modification. A zero change means "write nothing".
type Mutator func(cur StockState) (Change, error)

type PostRequest struct {
	Key    StockKey
	Mutate Mutator
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store     Store
	locations LocationStore
	locks     *keyLocks
	rt        Runtime
	retries   int
}

type LedgerOption func(*Ledger)

func WithRuntime(rt Runtime) LedgerOption {
	return func(l *Ledger) { l.rt = rt }
}

// WithRetries bounds how often a write is retried after losing a
// compare-and-append race.
func WithRetries(n int) LedgerOption {
	return func(l *Ledger) { l.retries = n }
}

func NewLedger(store Store, locations LocationStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:     store,
		locations: locations,
		locks:     newKeyLocks(),
		retries:   defaultRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store for read-only views.
func (l *Ledger) Store() Store {
	return l.store
}

// =============================================================================
// READS
// =============================================================================

// Latest returns the most recent non-cancelled entry of a key, or a zero
// state entry (balance = reserved = available = 0) if the key is empty.
func (l *Ledger) Latest(ctx context.Context, key StockKey) (Entry, error) {
	head, ok, err := l.store.Head(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{
			Location:  key.Location,
			Item:      key.Item,
			Batch:     key.Batch,
			Balance:   decimal.Zero,
			Reserved:  decimal.Zero,
			Available: decimal.Zero,
		}, nil
	}
	return head, nil
}

func (l *Ledger) state(ctx context.Context, key StockKey) (StockState, error) {
	head, ok, err := l.store.Head(ctx, key)
	if err != nil {
		return StockState{}, err
	}
	if !ok {
		return zeroState(key), nil
	}
	return head.State(), nil
}

func (l *Ledger) History(ctx context.Context, key StockKey) ([]Entry, error) {
	return l.store.History(ctx, key)
}

func (l *Ledger) ByVoucher(ctx context.Context, v Voucher) ([]Entry, error) {
	return l.store.ByVoucher(ctx, v)
}

func (l *Ledger) Holdings(ctx context.Context, warehouse WarehouseID, item ItemID) ([]Holding, error) {
	return l.store.Holdings(ctx, warehouse, item)
}

// =============================================================================
// WRITES
// =============================================================================

// Append validates a fully formed entry against the current state of its key
// and persists it. Prev, PostedAt and the location attributes are filled in
// by the ledger. Cancellation entries can only be produced by Cancel.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	key := e.Key()
	if err := validKey(key); err != nil {
		return Entry{}, err
	}
	if !e.Kind.Valid() || e.Kind == KindCancellation {
		return Entry{}, invalidf("entry kind %q cannot be appended directly", e.Kind)
	}
	loc, err := l.location(ctx, key.Location)
	if err != nil {
		return Entry{}, err
	}

	unlock := l.locks.Lock(key.String())
	defer unlock()

	for attempt := 0; ; attempt++ {
		prev, err := l.state(ctx, key)
		if err != nil {
			return Entry{}, err
		}
		if err := checkEntry(e, prev); err != nil {
			return Entry{}, err
		}

		e.Prev = prev.EntryID
		e.PostedAt = l.postTime(prev)
		e.Warehouse = loc.Warehouse
		e.Zone = loc.Zone
		e.Cancelled = false
		e.Cancels = ""
		if e.ID == "" {
			e.ID = EntryID(l.rt.id())
		}
		if e.Expiry == nil {
			e.Expiry = prev.Expiry
		}

		written, err := l.store.Append(ctx, []Entry{e})
		if errors.Is(err, ErrConcurrentModification) && attempt < l.retries {
			continue
		}
		if err != nil {
			return Entry{}, err
		}
		return written[0], nil
	}
}

// Post applies one change to a key using the read-modify-write path.
func (l *Ledger) Post(ctx context.Context, key StockKey, mutate Mutator) (Entry, error) {
	written, err := l.PostBatch(ctx, []PostRequest{{Key: key, Mutate: mutate}})
	if err != nil {
		return Entry{}, err
	}
	if len(written) == 0 {
		return Entry{}, errNoChange
	}
	return written[0], nil
}

// PostBatch applies several changes atomically: either every resulting entry
// is written or none is. Requests on the same key chain on each other in
// order. Zero changes are skipped.
func (l *Ledger) PostBatch(ctx context.Context, reqs []PostRequest) ([]Entry, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(reqs))
	locs := make(map[LocationID]Location)
	for i, r := range reqs {
		if err := validKey(r.Key); err != nil {
			return nil, err
		}
		keys[i] = r.Key.String()
		if _, ok := locs[r.Key.Location]; ok {
			continue
		}
		loc, err := l.location(ctx, r.Key.Location)
		if err != nil {
			return nil, err
		}
		locs[r.Key.Location] = loc
	}

	unlock := l.locks.LockAll(keys)
	defer unlock()

	for attempt := 0; ; attempt++ {
		entries, err := l.prepare(ctx, reqs, locs)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, nil
		}

		written, err := l.store.Append(ctx, entries)
		if errors.Is(err, ErrConcurrentModification) && attempt < l.retries {
			l.rt.log().Debug("ledger head moved, retrying batch",
				zap.Int("attempt", attempt+1), zap.Int("entries", len(entries)))
			continue
		}
		if err != nil {
			return nil, err
		}
		return written, nil
	}
}

func (l *Ledger) prepare(ctx context.Context, reqs []PostRequest, locs map[LocationID]Location) ([]Entry, error) {
	heads := make(map[StockKey]StockState)
	var entries []Entry

	for _, r := range reqs {
		cur, ok := heads[r.Key]
		if !ok {
			var err error
			if cur, err = l.state(ctx, r.Key); err != nil {
				return nil, err
			}
		}

		ch, err := r.Mutate(cur)
		if err != nil {
			return nil, err
		}
		if ch.isZero() {
			continue
		}
		if !ch.Kind.Valid() || ch.Kind == KindCancellation {
			return nil, invalidf("change kind %q cannot be posted", ch.Kind)
		}

		e := l.build(r.Key, cur, locs[r.Key.Location], ch)
		if err := checkEntry(e, cur); err != nil {
			return nil, err
		}
		entries = append(entries, e)
		heads[r.Key] = e.State()
	}
	return entries, nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancel flags an entry cancelled and appends its offsetting entry.
func (l *Ledger) Cancel(ctx context.Context, id EntryID, actor Actor) (Entry, error) {
	written, err := l.CancelAll(ctx, []EntryID{id}, actor)
	if err != nil {
		return Entry{}, err
	}
	return written[0], nil
}

// CancelAll cancels several entries in one atomic write.
func (l *Ledger) CancelAll(ctx context.Context, ids []EntryID, actor Actor) ([]Entry, error) {
	seen := make(map[EntryID]bool, len(ids))
	var origs []Entry
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		e, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.Kind == KindCancellation {
			return nil, invalidf("entry %s is a cancellation and cannot be cancelled", id)
		}
		if e.Cancelled {
			return nil, fmt.Errorf("entry %s: %w", id, ErrAlreadyCancelled)
		}
		origs = append(origs, e)
	}
	if len(origs) == 0 {
		return nil, invalidf("no entries to cancel")
	}
	return l.cancelEntries(ctx, origs, actor)
}

// ReverseVoucher cancels every live entry written for a voucher, optionally
// restricted to some kinds. It returns the offsetting entries.
func (l *Ledger) ReverseVoucher(ctx context.Context, v Voucher, actor Actor, kinds ...EntryKind) ([]Entry, error) {
	entries, err := l.store.ByVoucher(ctx, v)
	if err != nil {
		return nil, err
	}

	var live []Entry
	for _, e := range entries {
		if e.Cancelled || e.Kind == KindCancellation || !kindIn(e.Kind, kinds) {
			continue
		}
		live = append(live, e)
	}
	if len(live) == 0 {
		return nil, nil
	}
	return l.cancelEntries(ctx, live, actor)
}

func (l *Ledger) cancelEntries(ctx context.Context, origs []Entry, actor Actor) ([]Entry, error) {
	keys := make([]string, len(origs))
	ids := make([]EntryID, len(origs))
	for i, o := range origs {
		keys[i] = o.Key().String()
		ids[i] = o.ID
	}

	unlock := l.locks.LockAll(keys)
	defer unlock()

	for attempt := 0; ; attempt++ {
		heads := make(map[StockKey]StockState)
		entries := make([]Entry, 0, len(origs))

		for _, o := range origs {
			key := o.Key()
			cur, ok := heads[key]
			if !ok {
				var err error
				if cur, err = l.state(ctx, key); err != nil {
					return nil, err
				}
			}

			ch := Change{
				Delta:         o.Delta.Neg(),
				ReservedDelta: o.ReservedDelta.Neg(),
				Kind:          KindCancellation,
				Voucher:       o.Voucher,
				Actor:         actor,
				cancels:       o.ID,
			}
			e := l.build(key, cur, Location{Warehouse: o.Warehouse, Zone: o.Zone}, ch)
			if err := checkEntry(e, cur); err != nil {
				return nil, err
			}
			entries = append(entries, e)
			heads[key] = e.State()
		}

		written, err := l.store.Append(ctx, entries, ids...)
		if errors.Is(err, ErrConcurrentModification) && attempt < l.retries {
			continue
		}
		if err != nil {
			return nil, err
		}
		l.rt.log().Info("ledger entries cancelled",
			zap.Int("count", len(written)), zap.String("actor", string(actor)))
		return written, nil
	}
}

// compensate undoes entries written by an operation that failed afterwards.
// The result is a plain wrapped cause when everything was undone, and a
// *PartialCompletionError when entries survived or external documents were
// already created.
func (l *Ledger) compensate(ctx context.Context, op string, written []Entry, docs []string, cause error) error {
	ids := entryIDs(written)
	if len(ids) > 0 {
		if _, err := l.CancelAll(ctx, ids, SystemActor); err != nil {
			l.rt.log().Error("compensation failed, ledger left partially written",
				zap.String("op", op), zap.Int("entries", len(ids)), zap.Error(err))
			return &PartialCompletionError{Op: op, Written: ids, Documents: docs, Err: errors.Join(cause, err)}
		}
		l.rt.log().Warn("operation rolled back", zap.String("op", op), zap.Int("entries", len(ids)), zap.Error(cause))
	}

	if len(docs) > 0 {
		return &PartialCompletionError{Op: op, Documents: docs, Err: cause}
	}
	return fmt.Errorf("%s: %w", op, cause)
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) build(key StockKey, prev StockState, loc Location, ch Change) Entry {
	balance := prev.Balance.Add(ch.Delta)
	reserved := prev.Reserved.Add(ch.ReservedDelta)
	expiry := ch.Expiry
	if expiry == nil {
		expiry = prev.Expiry
	}
	actor := ch.Actor
	if actor == "" {
		actor = SystemActor
	}

	return Entry{
		ID:            EntryID(l.rt.id()),
		Prev:          prev.EntryID,
		PostedAt:      l.postTime(prev),
		Location:      key.Location,
		Warehouse:     loc.Warehouse,
		Zone:          loc.Zone,
		Item:          key.Item,
		Batch:         key.Batch,
		Expiry:        expiry,
		Delta:         ch.Delta,
		ReservedDelta: ch.ReservedDelta,
		Balance:       balance,
		Reserved:      reserved,
		Available:     balance.Sub(reserved),
		Kind:          ch.Kind,
		Voucher:       ch.Voucher,
		Cancels:       ch.cancels,
		CreatedBy:     actor,
	}
}

func (l *Ledger) postTime(prev StockState) time.Time {
	now := l.rt.now()
	if now.Before(prev.AsOf) {
		return prev.AsOf
	}
	return now
}

func (l *Ledger) location(ctx context.Context, id LocationID) (Location, error) {
	loc, err := l.locations.Location(ctx, id)
	if err != nil {
		return Location{}, err
	}
	if loc.Warehouse == "" {
		return Location{}, fmt.Errorf("location %s: %w", id, ErrUnresolvedWarehouse)
	}
	return loc, nil
}

// checkEntry enforces the ledger invariants of e against the state it
// chains on.
func checkEntry(e Entry, prev StockState) error {
	key := e.Key()
	fail := func(rule, format string, args ...any) error {
		return &InvariantError{Key: key, Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}

	if !e.Balance.Equal(prev.Balance.Add(e.Delta)) {
		return fail("balance_continuity", "previous %s + delta %s != %s", prev.Balance, e.Delta, e.Balance)
	}
	if !e.Reserved.Equal(prev.Reserved.Add(e.ReservedDelta)) {
		return fail("reserved_continuity", "previous %s + delta %s != %s", prev.Reserved, e.ReservedDelta, e.Reserved)
	}
	if !e.Available.Equal(e.Balance.Sub(e.Reserved)) {
		return fail("available_identity", "available %s != balance %s - reserved %s", e.Available, e.Balance, e.Reserved)
	}
	if e.Balance.IsNegative() {
		return fail("non_negative_balance", "balance would be %s", e.Balance)
	}
	if e.Reserved.IsNegative() {
		return fail("non_negative_reserved", "reserved would be %s", e.Reserved)
	}
	if e.Available.IsNegative() {
		return fail("no_oversell", "available would be %s", e.Available)
	}
	if e.Kind == KindReservation && !e.Delta.IsZero() {
		return fail("reservation_without_movement", "reservation carries delta %s", e.Delta)
	}
	return nil
}

func validKey(k StockKey) error {
	if k.Location == "" || k.Item == "" {
		return invalidf("stock key %s needs a location and an item", k)
	}
	return nil
}

func entryIDs(entries []Entry) []EntryID {
	ids := make([]EntryID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func kindIn(k EntryKind, kinds []EntryKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
