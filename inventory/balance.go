/*
balance.go - Balance calculation from ledger history

PURPOSE:
  Answers "how much is here, how much is promised, how much can I take?"
  for one (location, item, batch) or summed over every bin of an item.

KEY INSIGHT:
  Every entry already records the resulting state of its key, so the current
  state is simply the state on the most recent non-cancelled entry. Replay is
  only needed to reconstruct state from a raw history (imports, audits).

TIE-BREAK:
  History is ordered by (PostedAt, Seq). When two entries share a timestamp
  the one with the higher Seq (inserted later) wins. The ledger never stamps
  an entry earlier than the head it chains on, so this order and pure Seq
  order agree.

AUDIT:
  Verify walks a history and checks that every non-cancellation entry chains
  on the running state: balance and reserved continuity plus the identity
  available == balance - reserved. A cancelled entry stays in the chain; its
  offsetting entry restores the sums.

SEE ALSO:
  - ledger.go: Writes that keep these properties true
*/
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// BalanceCalculator derives balance views from the ledger.
type BalanceCalculator struct {
	Ledger *Ledger
}

// Current returns the state of a key, zero if it has no entries.
func (c BalanceCalculator) Current(ctx context.Context, key StockKey) (StockState, error) {
	return c.Ledger.state(ctx, key)
}

// ItemSummary sums every bin of an item in a warehouse.
type ItemSummary struct {
	Item      ItemID
	Warehouse WarehouseID
	Balance   decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
	Bins      []StockState
}

func (c BalanceCalculator) ItemSummary(ctx context.Context, warehouse WarehouseID, item ItemID) (ItemSummary, error) {
	holdings, err := c.Ledger.Holdings(ctx, warehouse, item)
	if err != nil {
		return ItemSummary{}, err
	}

	sum := ItemSummary{
		Item:      item,
		Warehouse: warehouse,
		Balance:   decimal.Zero,
		Reserved:  decimal.Zero,
		Available: decimal.Zero,
	}
	for _, h := range holdings {
		sum.Balance = sum.Balance.Add(h.State.Balance)
		sum.Reserved = sum.Reserved.Add(h.State.Reserved)
		sum.Available = sum.Available.Add(h.State.Available)
		sum.Bins = append(sum.Bins, h.State)
	}
	sort.Slice(sum.Bins, func(i, j int) bool { return sum.Bins[i].Key.Less(sum.Bins[j].Key) })
	return sum, nil
}

// =============================================================================
// REPLAY
// =============================================================================

// SortHistory orders entries by (PostedAt, Seq).
func SortHistory(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.Before(b.PostedAt)
		}
		return a.Seq < b.Seq
	})
}

// Replay derives the current state of a single key from its history: the
// state of the last non-cancelled entry in (PostedAt, Seq) order. An empty
// or fully cancelled history yields the zero state.
func Replay(key StockKey, entries []Entry) StockState {
	sorted := append([]Entry(nil), entries...)
	SortHistory(sorted)

	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Key() != key || sorted[i].Cancelled {
			continue
		}
		return sorted[i].State()
	}
	return zeroState(key)
}

// Verify audits a key's history and returns the first broken rule.
func Verify(entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	SortHistory(sorted)

	running := map[StockKey]StockState{}
	for _, e := range sorted {
		prev, ok := running[e.Key()]
		if !ok {
			prev = zeroState(e.Key())
		}
		if err := checkEntry(e, prev); err != nil {
			return fmt.Errorf("entry %s (seq %d): %w", e.ID, e.Seq, err)
		}
		running[e.Key()] = e.State()
	}
	return nil
}
