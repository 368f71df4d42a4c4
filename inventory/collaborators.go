package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WAREHOUSE RESOLUTION
// =============================================================================

type WarehouseResolver interface {
	// ResolveWarehouse returns the owning warehouse of a bin, ErrNotFound for
	// an unknown bin and ErrUnresolvedWarehouse for a bin without one.
	ResolveWarehouse(ctx context.Context, id LocationID) (WarehouseID, error)
}

// LocationResolver resolves warehouses from the location repository.
type LocationResolver struct {
	Locations LocationStore
}

func (r LocationResolver) ResolveWarehouse(ctx context.Context, id LocationID) (WarehouseID, error) {
	loc, err := r.Locations.Location(ctx, id)
	if err != nil {
		return "", err
	}
	if loc.Warehouse == "" {
		return "", fmt.Errorf("location %s: %w", id, ErrUnresolvedWarehouse)
	}
	return loc.Warehouse, nil
}

// =============================================================================
// DOCUMENTS - Paperwork owned by downstream systems
// =============================================================================

type CustodyPurpose string

const (
	// PurposeMaterialIssue records stock leaving the warehouse for an order.
	PurposeMaterialIssue CustodyPurpose = "material_issue"
	// PurposeMaterialTransfer records stock changing warehouse.
	PurposeMaterialTransfer CustodyPurpose = "material_transfer"
)

type CustodyLine struct {
	Item  ItemID          `json:"item"`
	Batch BatchID         `json:"batch,omitempty"`
	Qty   decimal.Decimal `json:"qty"`
	From  LocationID      `json:"from,omitempty"`
	To    LocationID      `json:"to,omitempty"`
}

// CustodyTransfer is a transfer-of-custody record. ToWarehouse is empty for
// material issues.
type CustodyTransfer struct {
	Purpose       CustodyPurpose `json:"purpose"`
	FromWarehouse WarehouseID    `json:"from_warehouse"`
	ToWarehouse   WarehouseID    `json:"to_warehouse,omitempty"`
	Voucher       Voucher        `json:"voucher"`
	Lines         []CustodyLine  `json:"lines"`
	Actor         Actor          `json:"actor"`
}

// TotalQty sums the quantity of every line.
func (c CustodyTransfer) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Qty)
	}
	return total
}

type ShipmentLine struct {
	Item     ItemID          `json:"item"`
	Batch    BatchID         `json:"batch,omitempty"`
	Location LocationID      `json:"location"`
	Qty      decimal.Decimal `json:"qty"`
	UOM      string          `json:"uom,omitempty"`
}

// Shipment groups the picked lines of a pick list for delivery.
type Shipment struct {
	PickList  string         `json:"pick_list"`
	Orders    []string       `json:"orders"`
	Warehouse WarehouseID    `json:"warehouse"`
	Lines     []ShipmentLine `json:"lines"`
	Actor     Actor          `json:"actor"`
}

type Documents interface {
	CreateCustodyTransfer(ctx context.Context, t CustodyTransfer) (string, error)
	CreateShipment(ctx context.Context, s Shipment) (string, error)
}

// =============================================================================
// CATALOG & NOTIFICATIONS
// =============================================================================

// Catalog serves read-only item metadata.
type Catalog interface {
	UOM(ctx context.Context, item ItemID) (string, error)
	ItemName(ctx context.Context, item ItemID) (string, error)
}

type Notification struct {
	Assignee string    `json:"assignee"`
	Kind     EventKind `json:"kind"`
	RefType  string    `json:"ref_type"`
	RefID    string    `json:"ref_id"`
	From     Actor     `json:"from"`
	Message  string    `json:"message,omitempty"`
}

// Notifier delivers notifications. It is only ever called by Dispatch, never
// from inside an engine operation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
