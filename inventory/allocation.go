/*
allocation.go - Reserving stock against demand

PURPOSE:
  Given a demand (item, quantity, source warehouse), pick the bins and
  batches to serve it from and write reservation entries until the demand
  is covered or stock runs out.

STRATEGIES:
  FEFO (first-expiry-first-out):
    Expiry ascending, bins without expiry last, then first receipt time.
  FIFO (first-in-first-out):
    First receipt time ascending.
  Both break remaining ties by location, then batch, so the walk is
  deterministic.

ALGORITHM:
  1. Candidates = holdings of the item in the warehouse with available > 0
  2. Order candidates by strategy
  3. For each candidate, under its key lock:
       take = min(remaining, available re-read from the head)
       append reservation entry (delta 0, reserved += take)
  4. Stop when remaining reaches zero

SHORTFALL POLICY:
  Full-or-nothing by default. If candidates run out with demand left, every
  reservation written by this call is cancelled with offsetting entries and
  a *ShortfallError is returned. Reservations made by earlier calls are never
  touched. A write failure in the middle of the walk rolls back the same way.

  Demand.AllowPartial keeps the reservations that were made. The returned
  allocations are then accompanied by a *ShortfallError with Partial set.

EXAMPLE:
  Bin A holds 100. Allocate 30 -> reserved 30, available 70.
  Allocate 80 -> ShortfallError{Short: 10}; nothing written by the second
  call remains and the first 30 stay reserved.

SEE ALSO:
  - order.go: Allocating whole fulfillment orders
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

// =============================================================================
// STRATEGY
// =============================================================================

type Strategy string

const (
	StrategyFEFO Strategy = "fefo"
	StrategyFIFO Strategy = "fifo"
)

// ParseStrategy accepts "fefo" or "fifo" in any case. Empty means FEFO.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StrategyFEFO):
		return StrategyFEFO, nil
	case string(StrategyFIFO):
		return StrategyFIFO, nil
	}
	return "", invalidf("unknown allocation strategy %q", s)
}

// OrderHoldings sorts holdings in the walk order of a strategy.
func OrderHoldings(hs []Holding, s Strategy) {
	sort.SliceStable(hs, func(i, j int) bool {
		a, b := hs[i], hs[j]
		if s == StrategyFEFO {
			if c := compareExpiry(a.State.Expiry, b.State.Expiry); c != 0 {
				return c < 0
			}
		}
		if !a.FirstPostedAt.Equal(b.FirstPostedAt) {
			return a.FirstPostedAt.Before(b.FirstPostedAt)
		}
		return a.State.Key.Less(b.State.Key)
	})
}

// compareExpiry orders known expiries ascending and unknown ones last.
func compareExpiry(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}

// =============================================================================
// ALLOCATOR
// =============================================================================

type Demand struct {
	Item         ItemID
	Quantity     decimal.Decimal
	Warehouse    WarehouseID
	Strategy     Strategy
	Voucher      Voucher
	AllowPartial bool
	Actor        Actor
}

// Allocation is one reservation made for a demand.
type Allocation struct {
	Location LocationID      `json:"location"`
	Batch    BatchID         `json:"batch,omitempty"`
	Qty      decimal.Decimal `json:"qty"`
	Expiry   *time.Time      `json:"expiry,omitempty"`
	Entry    EntryID         `json:"entry"`
}

// SumAllocations totals the reserved quantity.
func SumAllocations(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Qty)
	}
	return total
}

type Allocator struct {
	Ledger  *Ledger
	Outbox  Outbox
	Runtime Runtime
}

func (a *Allocator) Allocate(ctx context.Context, d Demand) ([]Allocation, error) {
	if d.Item == "" || d.Warehouse == "" {
		return nil, invalidf("demand needs an item and a source warehouse")
	}
	if !d.Quantity.IsPositive() {
		return nil, invalidf("demand quantity must be positive, got %s", d.Quantity)
	}
	strategy, err := ParseStrategy(string(d.Strategy))
	if err != nil {
		return nil, err
	}

	holdings, err := a.Ledger.Holdings(ctx, d.Warehouse, d.Item)
	if err != nil {
		return nil, err
	}
	candidates := holdings[:0:0]
	for _, h := range holdings {
		if h.State.Available.IsPositive() {
			candidates = append(candidates, h)
		}
	}
	OrderHoldings(candidates, strategy)

	remaining := d.Quantity
	var allocs []Allocation

	for _, h := range candidates {
		if !remaining.IsPositive() {
			break
		}

		var take decimal.Decimal
		var expiry *time.Time
		entry, err := a.Ledger.Post(ctx, h.State.Key, func(cur StockState) (Change, error) {
			take = decimal.Min(remaining, cur.Available)
			expiry = cur.Expiry
			if !take.IsPositive() {
				return Change{}, nil
			}
			return Change{
				ReservedDelta: take,
				Kind:          KindReservation,
				Voucher:       d.Voucher,
				Actor:         d.Actor,
			}, nil
		})
		if errors.Is(err, errNoChange) {
			// Drained by a concurrent writer since the holdings were read.
			continue
		}
		if err != nil {
			err = fmt.Errorf("reserve %s: %w", h.State.Key, err)
			if rbErr := a.rollback(ctx, allocs, d.Actor); rbErr != nil {
				return nil, &PartialCompletionError{Op: "allocate " + string(d.Item), Written: allocationEntries(allocs), Err: errors.Join(err, rbErr)}
			}
			return nil, err
		}

		allocs = append(allocs, Allocation{
			Location: h.State.Key.Location,
			Batch:    h.State.Key.Batch,
			Qty:      take,
			Expiry:   expiry,
			Entry:    entry.ID,
		})
		remaining = remaining.Sub(take)
	}

	if !remaining.IsPositive() {
		return allocs, nil
	}

	short := &ShortfallError{
		Item:       d.Item,
		Warehouse:  d.Warehouse,
		Requested:  d.Quantity,
		Reservable: d.Quantity.Sub(remaining),
		Short:      remaining,
	}
	a.Runtime.log().Info("allocation shortfall",
		zap.String("item", string(d.Item)),
		zap.String("warehouse", string(d.Warehouse)),
		zap.String("requested", d.Quantity.String()),
		zap.String("short", remaining.String()),
		zap.Bool("partial", d.AllowPartial))
	emit(ctx, a.Outbox, a.Runtime, Event{
		Kind:    EventShortfall,
		RefType: d.Voucher.Type,
		RefID:   d.Voucher.ID,
		Actor:   d.Actor,
		Message: short.Error(),
	})

	if d.AllowPartial {
		short.Partial = true
		short.Allocations = allocs
		return allocs, short
	}

	if err := a.rollback(ctx, allocs, d.Actor); err != nil {
		return nil, &PartialCompletionError{Op: "allocate " + string(d.Item), Written: allocationEntries(allocs), Err: errors.Join(short, err)}
	}
	return nil, short
}

func (a *Allocator) rollback(ctx context.Context, allocs []Allocation, actor Actor) error {
	if len(allocs) == 0 {
		return nil
	}
	_, err := a.Ledger.CancelAll(ctx, allocationEntries(allocs), actor)
	return err
}

func allocationEntries(allocs []Allocation) []EntryID {
	ids := make([]EntryID, len(allocs))
	for i, al := range allocs {
		ids[i] = al.Entry
	}
	return ids
}
