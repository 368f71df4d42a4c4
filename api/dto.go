/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the inventory domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  Every quantity is a decimal serialized as a JSON string ("12.5") so no
  precision is lost in transit.

VALIDATION:
  Validation is done by the inventory services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bin-ledger/inventory"
)

// =============================================================================
// LEDGER
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	PostedAt      time.Time       `json:"posted_at"`
	Location      string          `json:"location"`
	Warehouse     string          `json:"warehouse"`
	Item          string          `json:"item"`
	Batch         string          `json:"batch,omitempty"`
	Expiry        *time.Time      `json:"expiry,omitempty"`
	Delta         decimal.Decimal `json:"delta"`
	ReservedDelta decimal.Decimal `json:"reserved_delta"`
	Balance       decimal.Decimal `json:"balance"`
	Reserved      decimal.Decimal `json:"reserved"`
	Available     decimal.Decimal `json:"available"`
	Kind          string          `json:"kind"`
	Voucher       string          `json:"voucher"`
	Cancelled     bool            `json:"cancelled"`
	Cancels       string          `json:"cancels,omitempty"`
	CreatedBy     string          `json:"created_by"`
}

func toEntryDTO(e inventory.Entry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		Seq:           e.Seq,
		PostedAt:      e.PostedAt,
		Location:      string(e.Location),
		Warehouse:     string(e.Warehouse),
		Item:          string(e.Item),
		Batch:         string(e.Batch),
		Expiry:        e.Expiry,
		Delta:         e.Delta,
		ReservedDelta: e.ReservedDelta,
		Balance:       e.Balance,
		Reserved:      e.Reserved,
		Available:     e.Available,
		Kind:          string(e.Kind),
		Voucher:       e.Voucher.String(),
		Cancelled:     e.Cancelled,
		Cancels:       string(e.Cancels),
		CreatedBy:     string(e.CreatedBy),
	}
}

func toEntryDTOs(entries []inventory.Entry) []EntryDTO {
	out := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	return out
}

// StockStateDTO is the derived state of one (location, item, batch) key.
type StockStateDTO struct {
	Location  string          `json:"location"`
	Item      string          `json:"item"`
	Batch     string          `json:"batch,omitempty"`
	Warehouse string          `json:"warehouse,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	Expiry    *time.Time      `json:"expiry,omitempty"`
	LastEntry string          `json:"last_entry,omitempty"`
}

func toStockStateDTO(s inventory.StockState) StockStateDTO {
	return StockStateDTO{
		Location:  string(s.Key.Location),
		Item:      string(s.Key.Item),
		Batch:     string(s.Key.Batch),
		Warehouse: string(s.Warehouse),
		Balance:   s.Balance,
		Reserved:  s.Reserved,
		Available: s.Available,
		Expiry:    s.Expiry,
		LastEntry: string(s.EntryID),
	}
}

// ItemSummaryDTO sums every bin of an item in a warehouse.
type ItemSummaryDTO struct {
	Item      string          `json:"item"`
	Warehouse string          `json:"warehouse"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	Bins      []StockStateDTO `json:"bins"`
}

// HistoryDTO is the history of a key plus the result of replaying it.
type HistoryDTO struct {
	Entries  []EntryDTO    `json:"entries"`
	Replayed StockStateDTO `json:"replayed"`
	Verified bool          `json:"verified"`
	Problem  string        `json:"problem,omitempty"`
}

// AdjustmentRequest posts a stock count correction to one key.
type AdjustmentRequest struct {
	ID       string          `json:"id"`
	Location string          `json:"location"`
	Item     string          `json:"item"`
	Batch    string          `json:"batch,omitempty"`
	Delta    decimal.Decimal `json:"delta"`
	Expiry   *time.Time      `json:"expiry,omitempty"`
}

// =============================================================================
// LOCATIONS
// =============================================================================

type LocationDTO struct {
	ID        string          `json:"id"`
	Warehouse string          `json:"warehouse"`
	Zone      string          `json:"zone,omitempty"`
	Role      string          `json:"role"`
	Capacity  decimal.Decimal `json:"capacity"`
	Occupancy decimal.Decimal `json:"occupancy"`
}

func toLocationDTO(l inventory.Location) LocationDTO {
	return LocationDTO{
		ID:        string(l.ID),
		Warehouse: string(l.Warehouse),
		Zone:      l.Zone,
		Role:      string(l.Role),
		Capacity:  l.Capacity,
		Occupancy: l.Occupancy,
	}
}

// =============================================================================
// FULFILLMENT ORDERS
// =============================================================================

type CreateOrderRequest struct {
	ID        string             `json:"id"`
	Warehouse string             `json:"warehouse"`
	Strategy  string             `json:"strategy,omitempty"`
	Lines     []OrderLineRequest `json:"lines"`
}

type OrderLineRequest struct {
	Item     string          `json:"item"`
	Quantity decimal.Decimal `json:"quantity"`
}

type AllocateOrderRequest struct {
	Strategy     string `json:"strategy,omitempty"`
	AllowPartial bool   `json:"allow_partial,omitempty"`
}

type OrderDTO struct {
	ID          string                 `json:"id"`
	Warehouse   string                 `json:"warehouse"`
	Strategy    string                 `json:"strategy"`
	Status      string                 `json:"status"`
	Result      string                 `json:"result,omitempty"`
	PickList    string                 `json:"pick_list,omitempty"`
	Lines       []inventory.DemandLine `json:"lines"`
	TotalPicked decimal.Decimal        `json:"total_picked"`
	TotalShort  decimal.Decimal        `json:"total_short"`
	CreatedBy   string                 `json:"created_by"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Version     int64                  `json:"version"`

	// Shortfalls lists the lines a partial allocation could not cover.
	Shortfalls []ShortfallDTO `json:"shortfalls,omitempty"`
}

func toOrderDTO(o *inventory.FulfillmentOrder) OrderDTO {
	lines := o.Lines
	if lines == nil {
		lines = []inventory.DemandLine{}
	}
	return OrderDTO{
		ID:          o.ID,
		Warehouse:   string(o.SourceWarehouse),
		Strategy:    string(o.Strategy),
		Status:      string(o.Status),
		Result:      string(o.Result),
		PickList:    o.PickList,
		Lines:       lines,
		TotalPicked: o.TotalPicked,
		TotalShort:  o.TotalShort,
		CreatedBy:   string(o.CreatedBy),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Version:     o.Version,
	}
}

// =============================================================================
// PICK LISTS
// =============================================================================

type BuildPickListRequest struct {
	Orders []string `json:"orders"`
}

type AssignRequest struct {
	Assignee string `json:"assignee"`
}

type RecordPickRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type PickListDTO struct {
	ID            string               `json:"id"`
	Warehouse     string               `json:"warehouse"`
	Status        string               `json:"status"`
	Orders        []string             `json:"orders"`
	Lines         []inventory.PickLine `json:"lines"`
	AssignedTo    string               `json:"assigned_to,omitempty"`
	TotalPicked   decimal.Decimal      `json:"total_picked"`
	TotalShort    decimal.Decimal      `json:"total_short"`
	CompletionPct decimal.Decimal      `json:"completion_pct"`
	CustodyRef    string               `json:"custody_ref,omitempty"`
	ShipmentRef   string               `json:"shipment_ref,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	Version       int64                `json:"version"`
}

func toPickListDTO(p *inventory.PickList) PickListDTO {
	return PickListDTO{
		ID:            p.ID,
		Warehouse:     string(p.Warehouse),
		Status:        string(p.Status),
		Orders:        p.Orders,
		Lines:         p.Lines,
		AssignedTo:    p.AssignedTo,
		TotalPicked:   p.TotalPicked,
		TotalShort:    p.TotalShort,
		CompletionPct: p.CompletionPct,
		CustodyRef:    p.CustodyRef,
		ShipmentRef:   p.ShipmentRef,
		CreatedAt:     p.CreatedAt,
		StartedAt:     p.StartedAt,
		CompletedAt:   p.CompletedAt,
		Version:       p.Version,
	}
}

// =============================================================================
// RECEIPTS & PUTAWAY
// =============================================================================

type ReceiptRequest struct {
	ID         string               `json:"id"`
	Warehouse  string               `json:"warehouse"`
	StagingBin string               `json:"staging_bin"`
	Lines      []ReceiptLineRequest `json:"lines"`
}

type ReceiptLineRequest struct {
	Item     string          `json:"item"`
	Batch    string          `json:"batch,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	Expiry   *time.Time      `json:"expiry,omitempty"`
}

type CompleteTaskRequest struct {
	// Location is the bin the stock was actually put in. Empty means the
	// suggested bin.
	Location string `json:"location,omitempty"`
}

type PutawayTaskDTO struct {
	ID          string          `json:"id"`
	Receipt     string          `json:"receipt"`
	Item        string          `json:"item"`
	Batch       string          `json:"batch,omitempty"`
	Expiry      *time.Time      `json:"expiry,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	From        string          `json:"from"`
	Suggested   string          `json:"suggested,omitempty"`
	To          string          `json:"to,omitempty"`
	Status      string          `json:"status"`
	CustodyRef  string          `json:"custody_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CompletedBy string          `json:"completed_by,omitempty"`
	Version     int64           `json:"version"`
}

func toPutawayTaskDTO(t *inventory.PutawayTask) PutawayTaskDTO {
	return PutawayTaskDTO{
		ID:          t.ID,
		Receipt:     t.Receipt,
		Item:        string(t.Item),
		Batch:       string(t.Batch),
		Expiry:      t.Expiry,
		Quantity:    t.Qty,
		From:        string(t.From),
		Suggested:   string(t.Suggested),
		To:          string(t.To),
		Status:      string(t.Status),
		CustodyRef:  t.CustodyRef,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
		CompletedBy: string(t.CompletedBy),
		Version:     t.Version,
	}
}

type SuggestionDTO struct {
	Location string `json:"location"`
}

// =============================================================================
// DOCUMENTS, DISPATCH, SCENARIOS, ERRORS
// =============================================================================

type DocumentDTO struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Voucher   string    `json:"voucher"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type DispatchDTO struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// Set for shortfalls.
	Shortfall *ShortfallDTO `json:"shortfall,omitempty"`
}

type ShortfallDTO struct {
	Item       string          `json:"item"`
	Warehouse  string          `json:"warehouse"`
	Requested  decimal.Decimal `json:"requested"`
	Reservable decimal.Decimal `json:"reservable"`
	Short      decimal.Decimal `json:"short"`
}

func toShortfallDTO(e *inventory.ShortfallError) ShortfallDTO {
	return ShortfallDTO{
		Item:       string(e.Item),
		Warehouse:  string(e.Warehouse),
		Requested:  e.Requested,
		Reservable: e.Reservable,
		Short:      e.Short,
	}
}
