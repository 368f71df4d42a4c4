/*
handlers.go - HTTP API handlers for the bin ledger

PURPOSE:
  Exposes the inventory engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the inventory services.

ENDPOINTS:
  Stock:
    GET    /api/stock/{location}/{item}             Current state (?batch=)
    GET    /api/stock/{location}/{item}/history     Entries + replay check
    GET    /api/warehouses/{warehouse}/items/{item} Per-item summary
    POST   /api/adjustments                          Stock count correction
    POST   /api/entries/{id}/cancel                  Cancel one entry
    GET    /api/vouchers/{type}/{id}/entries         Entries of a voucher
    GET    /api/vouchers/{type}/{id}/documents       Locally recorded documents

  Locations:
    GET    /api/locations                            ?warehouse=&role=
    POST   /api/locations                            Create or update a bin

  Fulfillment orders:
    GET    /api/orders                               ?status=
    POST   /api/orders
    GET    /api/orders/{id}
    POST   /api/orders/{id}/allocate
    POST   /api/orders/{id}/cancel

  Pick lists:
    GET    /api/pick-lists                           ?status=
    POST   /api/pick-lists                           Build from orders
    GET    /api/pick-lists/{id}
    POST   /api/pick-lists/{id}/release
    POST   /api/pick-lists/{id}/assign
    POST   /api/pick-lists/{id}/start
    POST   /api/pick-lists/{id}/lines/{seq}/pick
    POST   /api/pick-lists/{id}/complete
    POST   /api/pick-lists/{id}/cancel

  Receipts & putaway:
    POST   /api/receipts                             Receive into staging
    GET    /api/putaway/suggest                      ?warehouse=&item=&batch=&qty=
    GET    /api/putaway-tasks                        ?status=
    GET    /api/putaway-tasks/{id}
    POST   /api/putaway-tasks/{id}/complete
    POST   /api/putaway-tasks/{id}/cancel

  Admin:
    POST   /api/admin/dispatch                       Deliver pending events now
    GET    /api/health

ACTOR:
  Every mutating call is attributed to the X-Actor header ("api" when
  absent).

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input
  - 404: Unknown order, pick list, task, entry or bin
  - 409: State-machine guard, already completed/cancelled, lost race
  - 422: Shortfall, over-pick, nothing picked, no destination bin,
         ledger invariant
  - 500: Internal errors, including partial completions

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/bin-ledger/inventory"
)

// ActorHeader names the header carrying the acting user.
const ActorHeader = "X-Actor"

const defaultActor inventory.Actor = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services holds everything the handlers delegate to.
type Services struct {
	Ledger      *inventory.Ledger
	Locations   inventory.LocationStore
	Orders      inventory.OrderStore
	PickLists   inventory.PickListStore
	Tasks       inventory.TaskStore
	Documents   inventory.DocumentStore
	Fulfillment *inventory.FulfillmentService
	Picking     *inventory.PickService
	Putaway     *inventory.PutawayService
	Dispatcher  *OutboxDispatcher

	// DefaultStrategy applies to orders created without a strategy.
	DefaultStrategy inventory.Strategy

	// Ping checks the backing store for /api/health. Optional.
	Ping func(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services
	logger *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(s Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Services: s, logger: logger}
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

func stockKey(r *http.Request) inventory.StockKey {
	return inventory.StockKey{
		Location: inventory.LocationID(chi.URLParam(r, "location")),
		Item:     inventory.ItemID(chi.URLParam(r, "item")),
		Batch:    inventory.BatchID(r.URL.Query().Get("batch")),
	}
}

// GetStock returns the current state of one key.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	key := stockKey(r)
	state, err := inventory.BalanceCalculator{Ledger: h.Ledger}.Current(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockStateDTO(state))
}

// GetHistory returns every entry of a key and whether replaying it matches
// the ledger's rules.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key := stockKey(r)
	entries, err := h.Ledger.History(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := HistoryDTO{
		Entries:  toEntryDTOs(entries),
		Replayed: toStockStateDTO(inventory.Replay(key, entries)),
		Verified: true,
	}
	if err := inventory.Verify(entries); err != nil {
		resp.Verified = false
		resp.Problem = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetItemSummary sums an item over every bin of a warehouse.
func (h *Handler) GetItemSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := inventory.BalanceCalculator{Ledger: h.Ledger}.ItemSummary(r.Context(),
		inventory.WarehouseID(chi.URLParam(r, "warehouse")),
		inventory.ItemID(chi.URLParam(r, "item")))
	if err != nil {
		h.fail(w, err)
		return
	}

	bins := make([]StockStateDTO, 0, len(sum.Bins))
	for _, b := range sum.Bins {
		bins = append(bins, toStockStateDTO(b))
	}
	writeJSON(w, http.StatusOK, ItemSummaryDTO{
		Item:      string(sum.Item),
		Warehouse: string(sum.Warehouse),
		Balance:   sum.Balance,
		Reserved:  sum.Reserved,
		Available: sum.Available,
		Bins:      bins,
	})
}

// CreateAdjustment posts a physical correction (cycle count, damage) to one
// key and keeps the bin's occupancy in step.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Delta.IsZero() {
		writeError(w, http.StatusBadRequest, "id and a non-zero delta are required", nil)
		return
	}

	key := inventory.StockKey{
		Location: inventory.LocationID(req.Location),
		Item:     inventory.ItemID(req.Item),
		Batch:    inventory.BatchID(req.Batch),
	}
	actor := actorFrom(r)
	entry, err := h.Ledger.Post(r.Context(), key, func(inventory.StockState) (inventory.Change, error) {
		return inventory.Change{
			Delta:   req.Delta,
			Kind:    inventory.KindMovement,
			Voucher: inventory.Voucher{Type: inventory.VoucherAdjustment, ID: req.ID},
			Expiry:  req.Expiry,
			Actor:   actor,
		}, nil
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	if _, err := h.Locations.AdjustOccupancy(r.Context(), key.Location, req.Delta); err != nil {
		h.logger.Warn("occupancy not adjusted", zap.String("location", string(key.Location)), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// CancelEntry cancels one entry by appending its offset.
func (h *Handler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	id := inventory.EntryID(chi.URLParam(r, "id"))
	offset, err := h.Ledger.Cancel(r.Context(), id, actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(offset))
}

func voucherFrom(r *http.Request) inventory.Voucher {
	return inventory.Voucher{Type: chi.URLParam(r, "type"), ID: chi.URLParam(r, "id")}
}

func (h *Handler) GetVoucherEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.ByVoucher(r.Context(), voucherFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) GetVoucherDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Documents.DocumentsFor(r.Context(), voucherFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}

	out := make([]DocumentDTO, 0, len(docs))
	for _, d := range docs {
		var payload any
		if err := json.Unmarshal(d.Payload, &payload); err != nil {
			payload = string(d.Payload)
		}
		out = append(out, DocumentDTO{
			ID:        d.ID,
			Kind:      d.Kind,
			Voucher:   d.Voucher.String(),
			Payload:   payload,
			CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// LOCATION ENDPOINTS
// =============================================================================

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouse := q.Get("warehouse")
	if warehouse == "" {
		writeError(w, http.StatusBadRequest, "warehouse is required", nil)
		return
	}
	locs, err := h.Locations.Locations(r.Context(),
		inventory.WarehouseID(warehouse), inventory.LocationRole(q.Get("role")))
	if err != nil {
		h.fail(w, err)
		return
	}

	out := make([]LocationDTO, 0, len(locs))
	for _, l := range locs {
		out = append(out, toLocationDTO(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveLocation creates or updates a bin. The occupancy counter of an
// existing bin is kept.
func (h *Handler) SaveLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationDTO
	if !decode(w, r, &req) {
		return
	}
	role := inventory.LocationRole(req.Role)
	if req.ID == "" || !role.Valid() || req.Capacity.IsNegative() {
		writeError(w, http.StatusBadRequest, "id, a role of staging|storage and a non-negative capacity are required", nil)
		return
	}

	loc := inventory.Location{
		ID:        inventory.LocationID(req.ID),
		Warehouse: inventory.WarehouseID(req.Warehouse),
		Zone:      req.Zone,
		Role:      role,
		Capacity:  req.Capacity,
		Occupancy: decimal.Zero,
	}
	existing, err := h.Locations.Location(r.Context(), loc.ID)
	switch {
	case err == nil:
		loc.Occupancy = existing.Occupancy
	case !errors.Is(err, inventory.ErrNotFound):
		h.fail(w, err)
		return
	}
	if err := h.Locations.SaveLocation(r.Context(), loc); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(loc))
}

// =============================================================================
// FULFILLMENT ORDER ENDPOINTS
// =============================================================================

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.Orders(r.Context(), inventory.OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}

	in := inventory.NewOrder{
		ID:        req.ID,
		Warehouse: inventory.WarehouseID(req.Warehouse),
		Strategy:  h.DefaultStrategy,
	}
	if req.Strategy != "" {
		st, err := inventory.ParseStrategy(req.Strategy)
		if err != nil {
			h.fail(w, err)
			return
		}
		in.Strategy = st
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, inventory.NewOrderLine{Item: inventory.ItemID(l.Item), Required: l.Quantity})
	}

	order, err := h.Fulfillment.CreateOrder(r.Context(), in, actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Fulfillment.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// AllocateOrder reserves stock for every line. A partial allocation returns
// 200 with the order and its shortfalls; a rejected one returns 422.
func (h *Handler) AllocateOrder(w http.ResponseWriter, r *http.Request) {
	var req AllocateOrderRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}

	opts := inventory.AllocateOptions{AllowPartial: req.AllowPartial}
	if req.Strategy != "" {
		st, err := inventory.ParseStrategy(req.Strategy)
		if err != nil {
			h.fail(w, err)
			return
		}
		opts.Strategy = st
	}

	order, err := h.Fulfillment.AllocateOrder(r.Context(), chi.URLParam(r, "id"), opts, actorFrom(r))
	var short *inventory.ShortfallError
	if err != nil && !(errors.As(err, &short) && short.Partial && order != nil) {
		h.fail(w, err)
		return
	}
	resp := toOrderDTO(order)
	resp.Shortfalls = shortfallsOf(err)
	writeJSON(w, http.StatusOK, resp)
}

// shortfallsOf collects every ShortfallError in an error tree built with
// errors.Join and %w.
func shortfallsOf(err error) []ShortfallDTO {
	if err == nil {
		return nil
	}
	if short, ok := err.(*inventory.ShortfallError); ok {
		return []ShortfallDTO{toShortfallDTO(short)}
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var out []ShortfallDTO
		for _, e := range u.Unwrap() {
			out = append(out, shortfallsOf(e)...)
		}
		return out
	case interface{ Unwrap() error }:
		return shortfallsOf(u.Unwrap())
	}
	return nil
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Fulfillment.CancelOrder(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// =============================================================================
// PICK LIST ENDPOINTS
// =============================================================================

func (h *Handler) ListPickLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.PickLists.PickLists(r.Context(), inventory.PickListStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]PickListDTO, 0, len(lists))
	for _, p := range lists {
		out = append(out, toPickListDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) BuildPickList(w http.ResponseWriter, r *http.Request) {
	var req BuildPickListRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Picking.Build(r.Context(), req.Orders, actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPickListDTO(p))
}

func (h *Handler) GetPickList(w http.ResponseWriter, r *http.Request) {
	p, err := h.Picking.PickList(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPickListDTO(p))
}

func (h *Handler) ReleasePickList(w http.ResponseWriter, r *http.Request) {
	h.pickListAction(w, r, h.Picking.Release)
}

func (h *Handler) StartPickList(w http.ResponseWriter, r *http.Request) {
	h.pickListAction(w, r, h.Picking.Start)
}

func (h *Handler) CompletePickList(w http.ResponseWriter, r *http.Request) {
	h.pickListAction(w, r, h.Picking.Complete)
}

func (h *Handler) CancelPickList(w http.ResponseWriter, r *http.Request) {
	h.pickListAction(w, r, h.Picking.Cancel)
}

func (h *Handler) pickListAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, id string, actor inventory.Actor) (*inventory.PickList, error)) {
	p, err := action(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPickListDTO(p))
}

func (h *Handler) AssignPickList(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Picking.Assign(r.Context(), chi.URLParam(r, "id"), req.Assignee, actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPickListDTO(p))
}

func (h *Handler) RecordPick(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "line sequence must be a number", err)
		return
	}
	var req RecordPickRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Picking.RecordPick(r.Context(), chi.URLParam(r, "id"), seq, req.Quantity, actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPickListDTO(p))
}

// =============================================================================
// RECEIPT & PUTAWAY ENDPOINTS
// =============================================================================

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if !decode(w, r, &req) {
		return
	}

	receipt := inventory.Receipt{
		ID:         req.ID,
		Warehouse:  inventory.WarehouseID(req.Warehouse),
		StagingBin: inventory.LocationID(req.StagingBin),
	}
	for _, l := range req.Lines {
		receipt.Lines = append(receipt.Lines, inventory.ReceiptLine{
			Item:   inventory.ItemID(l.Item),
			Batch:  inventory.BatchID(l.Batch),
			Qty:    l.Quantity,
			Expiry: l.Expiry,
		})
	}

	tasks, err := h.Putaway.Receive(r.Context(), receipt, actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTOs(tasks))
}

func (h *Handler) SuggestDestination(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qty := decimal.NewFromInt(1)
	if raw := q.Get("qty"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "qty must be a decimal", err)
			return
		}
		qty = v
	}

	loc, err := h.Putaway.Suggest(r.Context(),
		inventory.WarehouseID(q.Get("warehouse")),
		inventory.ItemID(q.Get("item")),
		inventory.BatchID(q.Get("batch")),
		qty)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestionDTO{Location: string(loc)})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.Tasks(r.Context(), inventory.TaskStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTOs(tasks))
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Putaway.Task(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPutawayTaskDTO(t))
}

func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	t, err := h.Putaway.CompleteTask(r.Context(), chi.URLParam(r, "id"),
		inventory.LocationID(req.Location), actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPutawayTaskDTO(t))
}

func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Putaway.CancelTask(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPutawayTaskDTO(t))
}

func toTaskDTOs(tasks []*inventory.PutawayTask) []PutawayTaskDTO {
	out := make([]PutawayTaskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toPutawayTaskDTO(t))
	}
	return out
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerDispatch delivers pending outbox events immediately.
func (h *Handler) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	if h.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher not configured", nil)
		return
	}
	res, err := h.Dispatcher.RunOnce(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DispatchDTO{Delivered: res.Delivered, Failed: res.Failed})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFrom(r *http.Request) inventory.Actor {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return inventory.Actor(a)
	}
	return defaultActor
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	var partial *inventory.PartialCompletionError
	switch {
	case errors.As(err, &partial):
		return http.StatusInternalServerError
	case inventory.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrInvalidTransition),
		errors.Is(err, inventory.ErrAlreadyCompleted),
		errors.Is(err, inventory.ErrAlreadyCancelled),
		errors.Is(err, inventory.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrShortfall),
		errors.Is(err, inventory.ErrOverPick),
		errors.Is(err, inventory.ErrNoPickedQuantity),
		errors.Is(err, inventory.ErrNoDestination),
		errors.Is(err, inventory.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// fail writes err with the status StatusFor picks. Server errors are logged
// and keep their details out of the response.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, status, http.StatusText(status), fmt.Errorf("operation failed, see server logs"))
		return
	}

	resp := ErrorResponse{Error: http.StatusText(status), Details: err.Error()}
	var short *inventory.ShortfallError
	if errors.As(err, &short) {
		dto := toShortfallDTO(short)
		resp.Shortfall = &dto
	}
	writeJSON(w, status, resp)
}
