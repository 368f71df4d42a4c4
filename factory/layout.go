/*
Package factory turns configuration into engine objects.

PURPOSE:
  Converts a JSON warehouse layout (bins, item metadata, opening stock) into
  Locations, a StaticCatalog and opening ledger entries, and maps strategy
  names from the environment to allocation / putaway strategies. Warehouse
  setup can then change without code changes.

JSON SCHEMA:
  {
    "default_uom": "Nos",
    "locations": [
      {"id": "STG-A", "warehouse": "WH-A", "role": "staging"},
      {"id": "A-01", "warehouse": "WH-A", "zone": "cold", "role": "storage", "capacity": "500"}
    ],
    "items": [
      {"id": "SKU-1", "name": "Widget", "uom": "Box"}
    ],
    "opening_stock": [
      {"location": "A-01", "item": "SKU-1", "batch": "L1", "qty": "100", "expiry": "2026-01-31"}
    ]
  }

KEY FEATURES:
  - Validates roles, quantities and references between sections
  - Re-applying a layout keeps the occupancy counters of existing bins
  - Opening stock is posted once per key: the adjustment voucher
    "opening:<location>/<item>/<batch>" marks it as done

USAGE:
  layout, err := factory.LoadLayout("layout.json")
  err = layout.Apply(ctx, store, ledger)
  catalog := layout.Catalog()

SEE ALSO:
  - factory/strategy.go: Strategy names
  - collab/local.go: StaticCatalog
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bin-ledger/collab"
	"github.com/warp/bin-ledger/inventory"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// LayoutJSON is the JSON representation of a warehouse layout.
type LayoutJSON struct {
	DefaultUOM   string         `json:"default_uom,omitempty"`
	Locations    []LocationJSON `json:"locations"`
	Items        []ItemJSON     `json:"items,omitempty"`
	OpeningStock []StockJSON    `json:"opening_stock,omitempty"`
}

type LocationJSON struct {
	ID        string           `json:"id"`
	Warehouse string           `json:"warehouse"`
	Zone      string           `json:"zone,omitempty"`
	Role      string           `json:"role"`               // staging, storage
	Capacity  *decimal.Decimal `json:"capacity,omitempty"` // absent means unbounded
}

type ItemJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	UOM  string `json:"uom,omitempty"`
}

type StockJSON struct {
	Location string          `json:"location"`
	Item     string          `json:"item"`
	Batch    string          `json:"batch,omitempty"`
	Qty      decimal.Decimal `json:"qty"`
	Expiry   string          `json:"expiry,omitempty"` // YYYY-MM-DD
}

// =============================================================================
// LAYOUT
// =============================================================================

type OpeningStock struct {
	Key    inventory.StockKey
	Qty    decimal.Decimal
	Expiry *time.Time
}

// Layout is a validated warehouse layout.
type Layout struct {
	Locations    []inventory.Location
	Items        map[inventory.ItemID]collab.ItemInfo
	DefaultUOM   string
	OpeningStock []OpeningStock
}

// LoadLayout reads and parses a layout file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout parses JSON into a Layout.
func ParseLayout(data []byte) (*Layout, error) {
	var lj LayoutJSON
	if err := json.Unmarshal(data, &lj); err != nil {
		return nil, fmt.Errorf("failed to parse layout JSON: %w", err)
	}
	return FromJSON(lj)
}

// FromJSON validates a LayoutJSON and converts it.
func FromJSON(lj LayoutJSON) (*Layout, error) {
	layout := &Layout{
		Items:      make(map[inventory.ItemID]collab.ItemInfo),
		DefaultUOM: lj.DefaultUOM,
	}

	known := make(map[inventory.LocationID]bool)
	for _, l := range lj.Locations {
		loc, err := parseLocation(l)
		if err != nil {
			return nil, err
		}
		if known[loc.ID] {
			return nil, fmt.Errorf("%w: duplicate location %s", inventory.ErrInvalidArgument, loc.ID)
		}
		known[loc.ID] = true
		layout.Locations = append(layout.Locations, loc)
	}

	for _, it := range lj.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("%w: item without id", inventory.ErrInvalidArgument)
		}
		layout.Items[inventory.ItemID(it.ID)] = collab.ItemInfo{Name: it.Name, UOM: it.UOM}
	}

	for _, s := range lj.OpeningStock {
		st, err := parseStock(s)
		if err != nil {
			return nil, err
		}
		if !known[st.Key.Location] {
			return nil, fmt.Errorf("%w: opening stock in undeclared location %s",
				inventory.ErrInvalidArgument, st.Key.Location)
		}
		layout.OpeningStock = append(layout.OpeningStock, st)
	}

	return layout, nil
}

// Catalog serves the layout's item metadata.
func (l *Layout) Catalog() collab.StaticCatalog {
	return collab.StaticCatalog{Items: l.Items, DefaultUOM: l.DefaultUOM}
}

// Apply saves the locations and posts opening stock that has not been
// posted before.
func (l *Layout) Apply(ctx context.Context, locations inventory.LocationStore, ledger *inventory.Ledger) error {
	for _, loc := range l.Locations {
		existing, err := locations.Location(ctx, loc.ID)
		switch {
		case err == nil:
			loc.Occupancy = existing.Occupancy
		case !errors.Is(err, inventory.ErrNotFound):
			return fmt.Errorf("load location %s: %w", loc.ID, err)
		}
		if err := locations.SaveLocation(ctx, loc); err != nil {
			return fmt.Errorf("save location %s: %w", loc.ID, err)
		}
	}

	for _, s := range l.OpeningStock {
		voucher := OpeningVoucher(s.Key)
		prior, err := ledger.ByVoucher(ctx, voucher)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			continue
		}

		s := s
		_, err = ledger.Post(ctx, s.Key, func(inventory.StockState) (inventory.Change, error) {
			return inventory.Change{
				Delta:   s.Qty,
				Kind:    inventory.KindMovement,
				Voucher: voucher,
				Expiry:  s.Expiry,
				Actor:   inventory.SystemActor,
			}, nil
		})
		if err != nil {
			return fmt.Errorf("opening stock %s: %w", s.Key, err)
		}
		if _, err := locations.AdjustOccupancy(ctx, s.Key.Location, s.Qty); err != nil {
			return fmt.Errorf("opening stock %s: %w", s.Key, err)
		}
	}
	return nil
}

// OpeningVoucher is the adjustment voucher of the opening stock of a key.
func OpeningVoucher(key inventory.StockKey) inventory.Voucher {
	return inventory.Voucher{Type: inventory.VoucherAdjustment, ID: "opening:" + key.String()}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseLocation(l LocationJSON) (inventory.Location, error) {
	if l.ID == "" {
		return inventory.Location{}, fmt.Errorf("%w: location without id", inventory.ErrInvalidArgument)
	}
	role := inventory.LocationRole(l.Role)
	if l.Role == "" {
		role = inventory.RoleStorage
	}
	if !role.Valid() {
		return inventory.Location{}, fmt.Errorf("%w: location %s has unknown role %q",
			inventory.ErrInvalidArgument, l.ID, l.Role)
	}

	loc := inventory.Location{
		ID:        inventory.LocationID(l.ID),
		Warehouse: inventory.WarehouseID(l.Warehouse),
		Zone:      l.Zone,
		Role:      role,
		Capacity:  decimal.Zero,
		Occupancy: decimal.Zero,
	}
	if l.Capacity != nil {
		if l.Capacity.IsNegative() {
			return inventory.Location{}, fmt.Errorf("%w: location %s has negative capacity",
				inventory.ErrInvalidArgument, l.ID)
		}
		loc.Capacity = *l.Capacity
	}
	return loc, nil
}

func parseStock(s StockJSON) (OpeningStock, error) {
	if s.Location == "" || s.Item == "" {
		return OpeningStock{}, fmt.Errorf("%w: opening stock needs location and item", inventory.ErrInvalidArgument)
	}
	if !s.Qty.IsPositive() {
		return OpeningStock{}, fmt.Errorf("%w: opening stock of %s in %s must be positive",
			inventory.ErrInvalidArgument, s.Item, s.Location)
	}

	out := OpeningStock{
		Key: inventory.StockKey{
			Location: inventory.LocationID(s.Location),
			Item:     inventory.ItemID(s.Item),
			Batch:    inventory.BatchID(s.Batch),
		},
		Qty: s.Qty,
	}
	if s.Expiry != "" {
		t, err := time.Parse("2006-01-02", s.Expiry)
		if err != nil {
			return OpeningStock{}, fmt.Errorf("%w: invalid expiry format: %v", inventory.ErrInvalidArgument, err)
		}
		out.Expiry = &t
	}
	return out, nil
}
