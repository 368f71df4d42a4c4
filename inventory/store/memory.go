// Package store provides in-memory repository implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bin-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements every repository of the inventory package behind one
// lock.
type Memory struct {
	mu sync.RWMutex

	entries []inventory.Entry // index = seq - 1
	byID    map[inventory.EntryID]int
	byKey   map[inventory.StockKey][]int

	locations map[inventory.LocationID]inventory.Location
	orders    map[string]*inventory.FulfillmentOrder
	pickLists map[string]*inventory.PickList
	tasks     map[string]*inventory.PutawayTask
	documents []inventory.DocumentRecord
	events    []inventory.Event
}

func NewMemory() *Memory {
	return &Memory{
		byID:      make(map[inventory.EntryID]int),
		byKey:     make(map[inventory.StockKey][]int),
		locations: make(map[inventory.LocationID]inventory.Location),
		orders:    make(map[string]*inventory.FulfillmentOrder),
		pickLists: make(map[string]*inventory.PickList),
		tasks:     make(map[string]*inventory.PutawayTask),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

// Append checks every cancel target and every Prev before writing anything,
// so a failed batch leaves no trace.
func (m *Memory) Append(_ context.Context, entries []inventory.Entry, cancel ...inventory.EntryID) ([]inventory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range cancel {
		i, ok := m.byID[id]
		if !ok {
			return nil, fmt.Errorf("entry %s: %w", id, inventory.ErrNotFound)
		}
		if m.entries[i].Cancelled {
			return nil, fmt.Errorf("entry %s: %w", id, inventory.ErrAlreadyCancelled)
		}
	}

	heads := map[inventory.StockKey]inventory.EntryID{}
	ids := map[inventory.EntryID]bool{}
	for _, e := range entries {
		key := e.Key()
		head, ok := heads[key]
		if !ok {
			head = m.headIDLocked(key)
		}
		if e.Prev != head {
			return nil, fmt.Errorf("%s: head is %q, entry chains on %q: %w", key, head, e.Prev, inventory.ErrConcurrentModification)
		}
		if _, dup := m.byID[e.ID]; dup || ids[e.ID] {
			return nil, fmt.Errorf("%w: duplicate entry id %s", inventory.ErrInvalidArgument, e.ID)
		}
		ids[e.ID] = true
		heads[key] = e.ID
	}

	for _, id := range cancel {
		m.entries[m.byID[id]].Cancelled = true
	}
	written := make([]inventory.Entry, len(entries))
	for i, e := range entries {
		e.Seq = int64(len(m.entries) + 1)
		idx := len(m.entries)
		m.entries = append(m.entries, e)
		m.byID[e.ID] = idx
		m.byKey[e.Key()] = append(m.byKey[e.Key()], idx)
		written[i] = e
	}
	return written, nil
}

func (m *Memory) headIDLocked(key inventory.StockKey) inventory.EntryID {
	idx := m.byKey[key]
	if len(idx) == 0 {
		return ""
	}
	return m.entries[idx[len(idx)-1]].ID
}

func (m *Memory) Head(_ context.Context, key inventory.StockKey) (inventory.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byKey[key]
	if len(idx) == 0 {
		return inventory.Entry{}, false, nil
	}
	return m.entries[idx[len(idx)-1]], true, nil
}

func (m *Memory) Get(_ context.Context, id inventory.EntryID) (inventory.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return inventory.Entry{}, fmt.Errorf("entry %s: %w", id, inventory.ErrNotFound)
	}
	return m.entries[i], nil
}

func (m *Memory) History(_ context.Context, key inventory.StockKey) ([]inventory.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byKey[key]
	result := make([]inventory.Entry, len(idx))
	for i, j := range idx {
		result[i] = m.entries[j]
	}
	return result, nil
}

func (m *Memory) ByVoucher(_ context.Context, v inventory.Voucher) ([]inventory.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []inventory.Entry
	for _, e := range m.entries {
		if e.Voucher == v {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) Holdings(_ context.Context, warehouse inventory.WarehouseID, item inventory.ItemID) ([]inventory.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []inventory.Holding
	for key, idx := range m.byKey {
		if key.Item != item || len(idx) == 0 {
			continue
		}
		head := m.entries[idx[len(idx)-1]]
		if head.Warehouse != warehouse {
			continue
		}
		result = append(result, inventory.Holding{
			State:         head.State(),
			FirstPostedAt: m.entries[idx[0]].PostedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].State.Key.Less(result[j].State.Key) })
	return result, nil
}

// Entries returns every entry in Seq order.
func (m *Memory) Entries() []inventory.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]inventory.Entry(nil), m.entries...)
}

// =============================================================================
// LOCATIONS
// =============================================================================

func (m *Memory) Location(_ context.Context, id inventory.LocationID) (inventory.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loc, ok := m.locations[id]
	if !ok {
		return inventory.Location{}, fmt.Errorf("location %s: %w", id, inventory.ErrNotFound)
	}
	return loc, nil
}

func (m *Memory) Locations(_ context.Context, warehouse inventory.WarehouseID, role inventory.LocationRole) ([]inventory.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []inventory.Location
	for _, loc := range m.locations {
		if loc.Warehouse != warehouse || (role != "" && loc.Role != role) {
			continue
		}
		result = append(result, loc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveLocation(_ context.Context, loc inventory.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = loc
	return nil
}

func (m *Memory) AdjustOccupancy(_ context.Context, id inventory.LocationID, delta decimal.Decimal) (inventory.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, ok := m.locations[id]
	if !ok {
		return inventory.Location{}, fmt.Errorf("location %s: %w", id, inventory.ErrNotFound)
	}
	loc.Occupancy = decimal.Max(loc.Occupancy.Add(delta), decimal.Zero)
	m.locations[id] = loc
	return loc, nil
}

// =============================================================================
// VERSIONED DOCUMENTS
// =============================================================================

func checkVersion(kind, id string, exists bool, stored, given int64) error {
	if given == 0 && !exists {
		return nil
	}
	if given != 0 && exists && stored == given {
		return nil
	}
	return fmt.Errorf("%s %s at version %d: %w", kind, id, given, inventory.ErrConcurrentModification)
}

func (m *Memory) SaveOrder(_ context.Context, o *inventory.FulfillmentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.orders[o.ID]
	var stored int64
	if ok {
		stored = cur.Version
	}
	if err := checkVersion("order", o.ID, ok, stored, o.Version); err != nil {
		return err
	}
	o.Version++
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *Memory) Order(_ context.Context, id string) (*inventory.FulfillmentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, inventory.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (m *Memory) Orders(_ context.Context, status inventory.OrderStatus) ([]*inventory.FulfillmentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*inventory.FulfillmentOrder
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SavePickList(_ context.Context, p *inventory.PickList) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.pickLists[p.ID]
	var stored int64
	if ok {
		stored = cur.Version
	}
	if err := checkVersion("pick list", p.ID, ok, stored, p.Version); err != nil {
		return err
	}
	p.Version++
	m.pickLists[p.ID] = clonePickList(p)
	return nil
}

func (m *Memory) PickList(_ context.Context, id string) (*inventory.PickList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pickLists[id]
	if !ok {
		return nil, fmt.Errorf("pick list %s: %w", id, inventory.ErrNotFound)
	}
	return clonePickList(p), nil
}

func (m *Memory) PickLists(_ context.Context, status inventory.PickListStatus) ([]*inventory.PickList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*inventory.PickList
	for _, p := range m.pickLists {
		if status == "" || p.Status == status {
			result = append(result, clonePickList(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) SaveTask(_ context.Context, t *inventory.PutawayTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tasks[t.ID]
	var stored int64
	if ok {
		stored = cur.Version
	}
	if err := checkVersion("putaway task", t.ID, ok, stored, t.Version); err != nil {
		return err
	}
	t.Version++
	cp := *t
	cp.Entries = append([]inventory.EntryID(nil), t.Entries...)
	m.tasks[t.ID] = &cp
	return nil
}

func (m *Memory) Task(_ context.Context, id string) (*inventory.PutawayTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("putaway task %s: %w", id, inventory.ErrNotFound)
	}
	cp := *t
	cp.Entries = append([]inventory.EntryID(nil), t.Entries...)
	return &cp, nil
}

func (m *Memory) Tasks(_ context.Context, status inventory.TaskStatus) ([]*inventory.PutawayTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*inventory.PutawayTask
	for _, t := range m.tasks {
		if status == "" || t.Status == status {
			cp := *t
			cp.Entries = append([]inventory.EntryID(nil), t.Entries...)
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func cloneOrder(o *inventory.FulfillmentOrder) *inventory.FulfillmentOrder {
	cp := *o
	cp.Lines = make([]inventory.DemandLine, len(o.Lines))
	for i, l := range o.Lines {
		l.Allocations = append([]inventory.Allocation(nil), l.Allocations...)
		cp.Lines[i] = l
	}
	return &cp
}

func clonePickList(p *inventory.PickList) *inventory.PickList {
	cp := *p
	cp.Orders = append([]string(nil), p.Orders...)
	cp.Entries = append([]inventory.EntryID(nil), p.Entries...)
	cp.Lines = make([]inventory.PickLine, len(p.Lines))
	for i, l := range p.Lines {
		l.Sources = append([]inventory.PickSource(nil), l.Sources...)
		cp.Lines[i] = l
	}
	return &cp
}

// =============================================================================
// DOCUMENTS & OUTBOX
// =============================================================================

func (m *Memory) SaveDocument(_ context.Context, d inventory.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, d)
	return nil
}

func (m *Memory) DocumentsFor(_ context.Context, v inventory.Voucher) ([]inventory.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []inventory.DocumentRecord
	for _, d := range m.documents {
		if d.Voucher == v {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *Memory) Enqueue(_ context.Context, events ...inventory.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) Pending(_ context.Context, limit int) ([]inventory.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []inventory.Event
	for _, e := range m.events {
		if e.DeliveredAt != nil || e.Attempts >= inventory.MaxDeliveryAttempts {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) MarkDelivered(_ context.Context, id string, at time.Time) error {
	return m.updateEvent(id, func(e *inventory.Event) {
		e.Attempts++
		e.DeliveredAt = &at
		e.LastError = ""
	})
}

func (m *Memory) MarkFailed(_ context.Context, id string, reason string) error {
	return m.updateEvent(id, func(e *inventory.Event) {
		e.Attempts++
		e.LastError = reason
	})
}

func (m *Memory) updateEvent(id string, fn func(*inventory.Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.events {
		if m.events[i].ID == id {
			fn(&m.events[i])
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", id, inventory.ErrNotFound)
}

// Events returns every event ever enqueued.
func (m *Memory) Events() []inventory.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]inventory.Event(nil), m.events...)
}
