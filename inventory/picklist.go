/*
picklist.go - Pick list state machine and pick completion

PURPOSE:
  A pick list aggregates the allocated demand of one or more fulfillment
  orders into walkable lines (one per item, location, batch) and is the only
  place where reserved stock turns into physical movement.

STATE MACHINE:
  Draft -> Released -> Assigned -> Picking -> Completed
  Draft -> Assigned is allowed (assign without a release step).
  Any non-terminal state -> Cancelled.

  Assign requires a non-empty assignee and notifies them through the outbox.
  Start records the start time. Only Picking -> Completed runs Complete.

COMPLETE:
  1. Validation, nothing written on failure:
       picked <= ordered on every line (OverPick)
       every line's bin resolves to a warehouse
       at least one line has picked > 0 (NoPickedQuantity)
  2. One atomic ledger batch for all picked lines:
       delta = -picked
       newReserved = max(reserved - picked, 0)
     plus one reservation entry per short line releasing the remainder
  3. Consolidated custody record (material issue) and the outbound shipment.
     If either fails the ledger batch is reversed; a custody record that was
     already created is reported through *PartialCompletionError.
  4. Occupancy of every bin decremented by picked, floored at zero.
  5. Totals and completion percentage
       completionPct = totalPicked / (totalPicked + totalShort) * 100
       (100 when both are zero)
  6. Source orders get their picked quantities and move to Packed with
     Fully Fulfilled or Partially Fulfilled.
  7. Completed, completion time recorded, picklist.completed emitted.

  The short remainder of a line is released by a reservation entry
  (reserved -= short) in the same batch as the picks. Stock a picker could
  not find is available again; a count adjustment then corrects the
  balance if it is really missing.

CANCEL:
  Reverses every live reservation of the source orders and returns them to
  Draft with allocations cleared.

SEE ALSO:
  - order.go: Source orders
  - ledger.go: PostBatch and compensation
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PickListStatus string

const (
	PickDraft     PickListStatus = "Draft"
	PickReleased  PickListStatus = "Released"
	PickAssigned  PickListStatus = "Assigned"
	PickPicking   PickListStatus = "Picking"
	PickCompleted PickListStatus = "Completed"
	PickCancelled PickListStatus = "Cancelled"
)

var pickTransitions = map[PickListStatus][]PickListStatus{
	PickDraft:    {PickReleased, PickAssigned, PickCancelled},
	PickReleased: {PickAssigned, PickCancelled},
	PickAssigned: {PickPicking, PickCancelled},
	PickPicking:  {PickCompleted, PickCancelled},
}

func (s PickListStatus) Terminal() bool {
	return s == PickCompleted || s == PickCancelled
}

// PickSource is the share of a pick line that belongs to one order line.
type PickSource struct {
	Order string          `json:"order"`
	Line  string          `json:"line"`
	Qty   decimal.Decimal `json:"qty"`
}

type PickLine struct {
	Seq       int             `json:"seq"`
	Item      ItemID          `json:"item"`
	ItemName  string          `json:"item_name,omitempty"`
	UOM       string          `json:"uom,omitempty"`
	Location  LocationID      `json:"location"`
	Batch     BatchID         `json:"batch,omitempty"`
	Warehouse WarehouseID     `json:"warehouse,omitempty"`
	Ordered   decimal.Decimal `json:"ordered"`
	Picked    decimal.Decimal `json:"picked"`
	Short     decimal.Decimal `json:"short"`
	Sources   []PickSource    `json:"sources"`
}

func (l PickLine) Key() StockKey {
	return StockKey{Location: l.Location, Item: l.Item, Batch: l.Batch}
}

type PickList struct {
	ID            string
	Warehouse     WarehouseID
	Status        PickListStatus
	Orders        []string
	Lines         []PickLine
	AssignedTo    string
	TotalPicked   decimal.Decimal
	TotalShort    decimal.Decimal
	CompletionPct decimal.Decimal
	CustodyRef    string
	ShipmentRef   string
	Entries       []EntryID
	CreatedBy     Actor
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Version       int64
}

func (p *PickList) Voucher() Voucher {
	return Voucher{Type: VoucherPickList, ID: p.ID}
}

func (p *PickList) transition(to PickListStatus, reason string) error {
	for _, allowed := range pickTransitions[p.Status] {
		if allowed == to {
			p.Status = to
			return nil
		}
	}
	return &TransitionError{Entity: "pick list", ID: p.ID, From: string(p.Status), To: string(to), Reason: reason}
}

// CompletionPct is picked / (picked + short) * 100, rounded to two places,
// and 100 when nothing was ordered.
func CompletionPct(picked, short decimal.Decimal) decimal.Decimal {
	total := picked.Add(short)
	if total.IsZero() {
		return decimal.NewFromInt(100)
	}
	return picked.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
}

// =============================================================================
// PICK SERVICE
// =============================================================================

type PickDeps struct {
	PickLists PickListStore
	Orders    OrderStore
	Ledger    *Ledger
	Locations LocationStore
	Resolver  WarehouseResolver
	Documents Documents
	Catalog   Catalog
	Outbox    Outbox
	Runtime   Runtime
}

type PickService struct {
	lists     PickListStore
	orders    OrderStore
	ledger    *Ledger
	locations LocationStore
	resolver  WarehouseResolver
	docs      Documents
	catalog   Catalog
	outbox    Outbox
	rt        Runtime
	locks     *keyLocks
}

func NewPickService(d PickDeps) *PickService {
	resolver := d.Resolver
	if resolver == nil {
		resolver = LocationResolver{Locations: d.Locations}
	}
	return &PickService{
		lists:     d.PickLists,
		orders:    d.Orders,
		ledger:    d.Ledger,
		locations: d.Locations,
		resolver:  resolver,
		docs:      d.Documents,
		catalog:   d.Catalog,
		outbox:    d.Outbox,
		rt:        d.Runtime,
		locks:     newKeyLocks(),
	}
}

func (s *PickService) PickList(ctx context.Context, id string) (*PickList, error) {
	return s.lists.PickList(ctx, id)
}

// Build aggregates the allocations of Allocated orders into a Draft pick
// list. Every order moves to Picking.
func (s *PickService) Build(ctx context.Context, orderIDs []string, actor Actor) (*PickList, error) {
	if len(orderIDs) == 0 {
		return nil, invalidf("pick list needs at least one order")
	}

	var orders []*FulfillmentOrder
	seen := map[string]bool{}
	for _, id := range orderIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		o, err := s.orders.Order(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.Status != OrderAllocated {
			return nil, &TransitionError{Entity: "fulfillment order", ID: id, From: string(o.Status), To: string(OrderPicking), Reason: "only allocated orders can be picked"}
		}
		if len(orders) > 0 && o.SourceWarehouse != orders[0].SourceWarehouse {
			return nil, invalidf("orders %s and %s ship from different warehouses", orders[0].ID, id)
		}
		orders = append(orders, o)
	}

	p := &PickList{
		ID:          s.rt.id(),
		Warehouse:   orders[0].SourceWarehouse,
		Status:      PickDraft,
		TotalPicked: decimal.Zero,
		TotalShort:  decimal.Zero,
		CreatedBy:   actor,
		CreatedAt:   s.rt.now(),
	}

	byKey := map[StockKey]*PickLine{}
	for _, o := range orders {
		p.Orders = append(p.Orders, o.ID)
		for _, dl := range o.Lines {
			for _, a := range dl.Allocations {
				key := StockKey{Location: a.Location, Item: dl.Item, Batch: a.Batch}
				line, ok := byKey[key]
				if !ok {
					line = &PickLine{
						Item:      dl.Item,
						Location:  a.Location,
						Batch:     a.Batch,
						Warehouse: o.SourceWarehouse,
						Ordered:   decimal.Zero,
						Picked:    decimal.Zero,
						Short:     decimal.Zero,
					}
					byKey[key] = line
				}
				line.Ordered = line.Ordered.Add(a.Qty)
				line.Sources = append(line.Sources, PickSource{Order: o.ID, Line: dl.ID, Qty: a.Qty})
			}
		}
	}
	if len(byKey) == 0 {
		return nil, invalidf("orders have no allocated lines")
	}

	for _, l := range byKey {
		s.describe(ctx, l)
		p.Lines = append(p.Lines, *l)
	}
	sort.Slice(p.Lines, func(i, j int) bool { return p.Lines[i].Key().Less(p.Lines[j].Key()) })
	for i := range p.Lines {
		p.Lines[i].Seq = i + 1
	}

	if err := s.lists.SavePickList(ctx, p); err != nil {
		return nil, err
	}

	for i, o := range orders {
		o.PickList = p.ID
		o.UpdatedAt = p.CreatedAt
		o.Status = OrderPicking
		if err := s.orders.SaveOrder(ctx, o); err != nil {
			return nil, s.abandonBuild(ctx, p, orders[:i], err)
		}
	}

	s.rt.log().Info("pick list built",
		zap.String("pick_list", p.ID), zap.Int("orders", len(p.Orders)), zap.Int("lines", len(p.Lines)))
	return p, nil
}

// abandonBuild cancels a pick list whose orders could not all be claimed and
// hands the claimed ones back.
func (s *PickService) abandonBuild(ctx context.Context, p *PickList, claimed []*FulfillmentOrder, cause error) error {
	var errs []error
	for _, o := range claimed {
		o.PickList = ""
		o.Status = OrderAllocated
		if err := s.orders.SaveOrder(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	p.Status = PickCancelled
	if err := s.lists.SavePickList(ctx, p); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &PartialCompletionError{Op: "build pick list " + p.ID, Err: errors.Join(append([]error{cause}, errs...)...)}
	}
	return fmt.Errorf("build pick list: %w", cause)
}

// describe fills catalog metadata. Lookups are best-effort.
func (s *PickService) describe(ctx context.Context, l *PickLine) {
	if s.catalog == nil {
		return
	}
	if name, err := s.catalog.ItemName(ctx, l.Item); err == nil {
		l.ItemName = name
	} else {
		s.rt.log().Debug("item name lookup failed", zap.String("item", string(l.Item)), zap.Error(err))
	}
	if uom, err := s.catalog.UOM(ctx, l.Item); err == nil {
		l.UOM = uom
	} else {
		s.rt.log().Debug("uom lookup failed", zap.String("item", string(l.Item)), zap.Error(err))
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// update loads a pick list under its lock, applies fn and saves the result.
func (s *PickService) update(ctx context.Context, id string, fn func(p *PickList) error) (*PickList, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.lists.PickList(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.lists.SavePickList(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PickService) Release(ctx context.Context, id string, actor Actor) (*PickList, error) {
	return s.update(ctx, id, func(p *PickList) error {
		return p.transition(PickReleased, "")
	})
}

func (s *PickService) Assign(ctx context.Context, id, assignee string, actor Actor) (*PickList, error) {
	assignee = strings.TrimSpace(assignee)
	p, err := s.update(ctx, id, func(p *PickList) error {
		if assignee == "" {
			return &TransitionError{Entity: "pick list", ID: id, From: string(p.Status), To: string(PickAssigned), Reason: "assignee is required"}
		}
		if err := p.transition(PickAssigned, ""); err != nil {
			return err
		}
		p.AssignedTo = assignee
		return nil
	})
	if err != nil {
		return nil, err
	}

	emit(ctx, s.outbox, s.rt, Event{
		Kind:     EventPickListAssigned,
		RefType:  VoucherPickList,
		RefID:    id,
		Assignee: assignee,
		Actor:    actor,
		Message:  fmt.Sprintf("pick list %s with %d lines assigned to you", id, len(p.Lines)),
	})
	return p, nil
}

func (s *PickService) Start(ctx context.Context, id string, actor Actor) (*PickList, error) {
	return s.update(ctx, id, func(p *PickList) error {
		if err := p.transition(PickPicking, ""); err != nil {
			return err
		}
		now := s.rt.now()
		p.StartedAt = &now
		return nil
	})
}

// RecordPick sets the picked quantity of a line.
func (s *PickService) RecordPick(ctx context.Context, id string, seq int, qty decimal.Decimal, actor Actor) (*PickList, error) {
	return s.update(ctx, id, func(p *PickList) error {
		if p.Status != PickPicking {
			return &TransitionError{Entity: "pick list", ID: id, From: string(p.Status), To: string(PickPicking), Reason: "picks are recorded while picking"}
		}
		if qty.IsNegative() {
			return invalidf("picked quantity must not be negative, got %s", qty)
		}
		for i := range p.Lines {
			l := &p.Lines[i]
			if l.Seq != seq {
				continue
			}
			if qty.GreaterThan(l.Ordered) {
				return &OverPickError{PickList: id, Seq: seq, Item: l.Item, Ordered: l.Ordered, Picked: qty}
			}
			l.Picked = qty
			return nil
		}
		return notFoundf("pick list %s has no line %d", id, seq)
	})
}

// =============================================================================
// COMPLETE
// =============================================================================

func (s *PickService) Complete(ctx context.Context, id string, actor Actor) (*PickList, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.lists.PickList(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != PickPicking {
		return nil, &TransitionError{Entity: "pick list", ID: id, From: string(p.Status), To: string(PickCompleted), Reason: "only a pick list being picked can be completed"}
	}

	// 1. Validation pass
	totalPicked, totalShort := decimal.Zero, decimal.Zero
	var picked []int
	var warehouse WarehouseID
	for i := range p.Lines {
		l := &p.Lines[i]
		if l.Picked.IsNegative() {
			return nil, invalidf("line %d has negative picked quantity %s", l.Seq, l.Picked)
		}
		if l.Picked.GreaterThan(l.Ordered) {
			return nil, &OverPickError{PickList: id, Seq: l.Seq, Item: l.Item, Ordered: l.Ordered, Picked: l.Picked}
		}
		wh, err := s.resolver.ResolveWarehouse(ctx, l.Location)
		if err != nil {
			return nil, fmt.Errorf("pick list %s line %d: %w", id, l.Seq, err)
		}
		if !l.Picked.IsPositive() {
			continue
		}
		if warehouse == "" {
			warehouse = wh
		} else if wh != warehouse {
			return nil, invalidf("pick list %s picks from warehouses %s and %s", id, warehouse, wh)
		}
		picked = append(picked, i)
	}
	if len(picked) == 0 {
		return nil, fmt.Errorf("pick list %s: %w", id, ErrNoPickedQuantity)
	}

	// 2. One atomic ledger batch
	reqs := make([]PostRequest, 0, len(picked))
	for _, i := range picked {
		qty := p.Lines[i].Picked
		reqs = append(reqs, PostRequest{
			Key: p.Lines[i].Key(),
			Mutate: func(cur StockState) (Change, error) {
				newReserved := decimal.Max(cur.Reserved.Sub(qty), decimal.Zero)
				return Change{
					Delta:         qty.Neg(),
					ReservedDelta: newReserved.Sub(cur.Reserved),
					Kind:          KindMovement,
					Voucher:       p.Voucher(),
					Actor:         actor,
				}, nil
			},
		})
	}
	// The unpicked remainder of each line is released in the same batch so
	// it can be allocated again once the bin is counted.
	for i := range p.Lines {
		short := p.Lines[i].Ordered.Sub(p.Lines[i].Picked)
		if !short.IsPositive() {
			continue
		}
		reqs = append(reqs, PostRequest{
			Key: p.Lines[i].Key(),
			Mutate: func(cur StockState) (Change, error) {
				return Change{
					ReservedDelta: decimal.Min(short, cur.Reserved).Neg(),
					Kind:          KindReservation,
					Voucher:       p.Voucher(),
					Actor:         actor,
				}, nil
			},
		})
	}
	written, err := s.ledger.PostBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("pick list %s: %w", id, err)
	}

	// 3. Paperwork
	op := "complete pick list " + id
	custody := CustodyTransfer{
		Purpose:       PurposeMaterialIssue,
		FromWarehouse: warehouse,
		Voucher:       p.Voucher(),
		Actor:         actor,
	}
	shipment := Shipment{
		PickList:  id,
		Orders:    p.Orders,
		Warehouse: warehouse,
		Actor:     actor,
	}
	for _, i := range picked {
		l := p.Lines[i]
		custody.Lines = append(custody.Lines, CustodyLine{Item: l.Item, Batch: l.Batch, Qty: l.Picked, From: l.Location})
		shipment.Lines = append(shipment.Lines, ShipmentLine{Item: l.Item, Batch: l.Batch, Location: l.Location, Qty: l.Picked, UOM: l.UOM})
	}

	custodyRef, err := s.docs.CreateCustodyTransfer(ctx, custody)
	if err != nil {
		return nil, s.ledger.compensate(ctx, op, written, nil, fmt.Errorf("custody transfer: %w", err))
	}
	shipmentRef, err := s.docs.CreateShipment(ctx, shipment)
	if err != nil {
		return nil, s.ledger.compensate(ctx, op, written, []string{custodyRef}, fmt.Errorf("shipment: %w", err))
	}

	// 4. Occupancy
	for _, i := range picked {
		l := p.Lines[i]
		if _, err := s.locations.AdjustOccupancy(ctx, l.Location, l.Picked.Neg()); err != nil {
			s.rt.log().Warn("occupancy update failed",
				zap.String("location", string(l.Location)), zap.String("pick_list", id), zap.Error(err))
		}
	}

	// 5. Totals
	for i := range p.Lines {
		l := &p.Lines[i]
		l.Short = l.Ordered.Sub(l.Picked)
		totalPicked = totalPicked.Add(l.Picked)
		totalShort = totalShort.Add(l.Short)
	}
	p.TotalPicked = totalPicked
	p.TotalShort = totalShort
	p.CompletionPct = CompletionPct(totalPicked, totalShort)

	// 6. Source orders
	orderErr := s.packOrders(ctx, p)

	// 7. Done
	now := s.rt.now()
	p.Status = PickCompleted
	p.CompletedAt = &now
	p.CustodyRef = custodyRef
	p.ShipmentRef = shipmentRef
	for _, e := range written {
		p.Entries = append(p.Entries, e.ID)
	}

	docs := []string{custodyRef, shipmentRef}
	if err := s.lists.SavePickList(ctx, p); err != nil {
		return nil, &PartialCompletionError{Op: op, Written: p.Entries, Documents: docs, Err: err}
	}

	s.rt.log().Info("pick list completed",
		zap.String("pick_list", id),
		zap.String("picked", totalPicked.String()),
		zap.String("short", totalShort.String()),
		zap.String("completion_pct", p.CompletionPct.String()))
	emit(ctx, s.outbox, s.rt, Event{
		Kind:     EventPickListCompleted,
		RefType:  VoucherPickList,
		RefID:    id,
		Assignee: p.AssignedTo,
		Actor:    actor,
		Message:  fmt.Sprintf("pick list %s completed at %s%%", id, p.CompletionPct.StringFixed(2)),
	})

	if orderErr != nil {
		return p, &PartialCompletionError{Op: op, Written: p.Entries, Documents: docs, Err: orderErr}
	}
	return p, nil
}

// packOrders hands picked quantities back to the order lines they came from
// and moves the orders to Packed.
func (s *PickService) packOrders(ctx context.Context, p *PickList) error {
	picked := map[string]map[string]decimal.Decimal{}
	for _, l := range p.Lines {
		left := l.Picked
		for _, src := range l.Sources {
			give := decimal.Min(left, src.Qty)
			left = left.Sub(give)
			if picked[src.Order] == nil {
				picked[src.Order] = map[string]decimal.Decimal{}
			}
			picked[src.Order][src.Line] = picked[src.Order][src.Line].Add(give)
		}
	}

	var errs []error
	for _, id := range p.Orders {
		o, err := s.orders.Order(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		o.TotalPicked, o.TotalShort = decimal.Zero, decimal.Zero
		for i := range o.Lines {
			dl := &o.Lines[i]
			dl.Picked = picked[id][dl.ID]
			dl.Short = dl.Required.Sub(dl.Picked)
			o.TotalPicked = o.TotalPicked.Add(dl.Picked)
			o.TotalShort = o.TotalShort.Add(dl.Short)
		}
		o.Result = ResultFullyFulfilled
		if o.TotalShort.IsPositive() {
			o.Result = ResultPartiallyFulfilled
		}
		if err := o.transition(OrderPacked, ""); err != nil {
			errs = append(errs, err)
			continue
		}
		o.UpdatedAt = s.rt.now()
		if err := s.orders.SaveOrder(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel stops a non-terminal pick list, releases the reservations of its
// orders and returns them to Draft.
func (s *PickService) Cancel(ctx context.Context, id string, actor Actor) (*PickList, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.lists.PickList(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.transition(PickCancelled, ""); err != nil {
		return nil, err
	}

	var reversed []Entry
	for _, oid := range p.Orders {
		o, err := s.orders.Order(ctx, oid)
		if err != nil {
			return nil, err
		}
		out, err := s.ledger.ReverseVoucher(ctx, o.Voucher(), actor, KindReservation)
		if err != nil {
			return nil, &PartialCompletionError{Op: "cancel pick list " + id, Written: entryIDs(reversed), Err: err}
		}
		reversed = append(reversed, out...)

		o.clearAllocations()
		o.PickList = ""
		if err := o.transition(OrderDraft, "pick list cancelled"); err != nil {
			return nil, err
		}
		o.UpdatedAt = s.rt.now()
		if err := s.orders.SaveOrder(ctx, o); err != nil {
			return nil, &PartialCompletionError{Op: "cancel pick list " + id, Written: entryIDs(reversed), Err: err}
		}
	}

	if err := s.lists.SavePickList(ctx, p); err != nil {
		return nil, &PartialCompletionError{Op: "cancel pick list " + id, Written: entryIDs(reversed), Err: err}
	}

	emit(ctx, s.outbox, s.rt, Event{
		Kind:     EventPickListCancelled,
		RefType:  VoucherPickList,
		RefID:    id,
		Assignee: p.AssignedTo,
		Actor:    actor,
		Message:  fmt.Sprintf("pick list %s cancelled", id),
	})
	return p, nil
}
