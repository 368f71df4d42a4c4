/*
order.go - Fulfillment orders and their demand lines

PURPOSE:
  A fulfillment order is the outbound work order that demand lines belong to.
  Allocation fills each line's Allocations; pick completion later fills
  Picked and Short and sets the fulfillment Result.

STATE MACHINE:
  Draft ──allocate──> Allocated ──build pick list──> Picking ──complete──> Packed
    │                    │                              │
    └──cancel──> Cancelled <──cancel──┘                 └──pick list cancelled──> Draft

  Allocated -> Draft is also allowed so a released allocation can be redone.

ORDER-LEVEL POLICY:
  AllocateOrder is full-or-nothing across lines: if any line comes up short,
  the reservations of every line of the order are reversed and the order
  stays Draft. AllowPartial keeps what could be reserved.
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderStatus string

const (
	OrderDraft     OrderStatus = "Draft"
	OrderAllocated OrderStatus = "Allocated"
	OrderPicking   OrderStatus = "Picking"
	OrderPacked    OrderStatus = "Packed"
	OrderCancelled OrderStatus = "Cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:     {OrderAllocated, OrderCancelled},
	OrderAllocated: {OrderPicking, OrderDraft, OrderCancelled},
	OrderPicking:   {OrderPacked, OrderDraft},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderDraft, OrderAllocated, OrderPicking, OrderPacked, OrderCancelled:
		return true
	}
	return false
}

type FulfillmentResult string

const (
	ResultFullyFulfilled     FulfillmentResult = "Fully Fulfilled"
	ResultPartiallyFulfilled FulfillmentResult = "Partially Fulfilled"
)

// DemandLine is one item requirement of an order. Batch and Location hold
// the primary (first) allocation; Allocations holds all of them.
type DemandLine struct {
	ID          string          `json:"id"`
	Item        ItemID          `json:"item"`
	Required    decimal.Decimal `json:"required"`
	Allocated   decimal.Decimal `json:"allocated"`
	Picked      decimal.Decimal `json:"picked"`
	Short       decimal.Decimal `json:"short"`
	Batch       BatchID         `json:"batch,omitempty"`
	Location    LocationID      `json:"location,omitempty"`
	Allocations []Allocation    `json:"allocations,omitempty"`
}

type FulfillmentOrder struct {
	ID              string
	SourceWarehouse WarehouseID
	Strategy        Strategy
	Status          OrderStatus
	Result          FulfillmentResult
	PickList        string
	Lines           []DemandLine
	TotalPicked     decimal.Decimal
	TotalShort      decimal.Decimal
	CreatedBy       Actor
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
}

func (o *FulfillmentOrder) Voucher() Voucher {
	return Voucher{Type: VoucherFulfillmentOrder, ID: o.ID}
}

func (o *FulfillmentOrder) transition(to OrderStatus, reason string) error {
	for _, allowed := range orderTransitions[o.Status] {
		if allowed == to {
			o.Status = to
			return nil
		}
	}
	return &TransitionError{Entity: "fulfillment order", ID: o.ID, From: string(o.Status), To: string(to), Reason: reason}
}

func (o *FulfillmentOrder) clearAllocations() {
	for i := range o.Lines {
		l := &o.Lines[i]
		l.Allocated = decimal.Zero
		l.Batch = ""
		l.Location = ""
		l.Allocations = nil
	}
}

// =============================================================================
// FULFILLMENT SERVICE
// =============================================================================

type NewOrderLine struct {
	Item     ItemID
	Required decimal.Decimal
}

type NewOrder struct {
	ID        string
	Warehouse WarehouseID
	Strategy  Strategy
	Lines     []NewOrderLine
}

type AllocateOptions struct {
	// Strategy overrides the order's strategy when set.
	Strategy     Strategy
	AllowPartial bool
}

type FulfillmentService struct {
	orders    OrderStore
	allocator *Allocator
	ledger    *Ledger
	rt        Runtime
	locks     *keyLocks
}

func NewFulfillmentService(orders OrderStore, allocator *Allocator, rt Runtime) *FulfillmentService {
	return &FulfillmentService{
		orders:    orders,
		allocator: allocator,
		ledger:    allocator.Ledger,
		rt:        rt,
		locks:     newKeyLocks(),
	}
}

func (s *FulfillmentService) Order(ctx context.Context, id string) (*FulfillmentOrder, error) {
	return s.orders.Order(ctx, id)
}

func (s *FulfillmentService) CreateOrder(ctx context.Context, in NewOrder, actor Actor) (*FulfillmentOrder, error) {
	if in.Warehouse == "" {
		return nil, invalidf("order needs a source warehouse")
	}
	if len(in.Lines) == 0 {
		return nil, invalidf("order needs at least one line")
	}
	if _, err := ParseStrategy(string(in.Strategy)); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.rt.id()
	}
	now := s.rt.now()

	o := &FulfillmentOrder{
		ID:              id,
		SourceWarehouse: in.Warehouse,
		Strategy:        in.Strategy,
		Status:          OrderDraft,
		TotalPicked:     decimal.Zero,
		TotalShort:      decimal.Zero,
		CreatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, l := range in.Lines {
		if l.Item == "" {
			return nil, invalidf("line %d has no item", i+1)
		}
		if !l.Required.IsPositive() {
			return nil, invalidf("line %d quantity must be positive, got %s", i+1, l.Required)
		}
		o.Lines = append(o.Lines, DemandLine{
			ID:        fmt.Sprintf("%s-%d", id, i+1),
			Item:      l.Item,
			Required:  l.Required,
			Allocated: decimal.Zero,
			Picked:    decimal.Zero,
			Short:     decimal.Zero,
		})
	}

	if err := s.orders.SaveOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// AllocateOrder reserves stock for every line of a Draft order. On success
// the order is Allocated. A shortfall on any line reverses the whole order's
// reservations unless opts.AllowPartial is set, in which case the order is
// Allocated with what was reservable and the partial shortfalls are
// returned alongside it.
func (s *FulfillmentService) AllocateOrder(ctx context.Context, id string, opts AllocateOptions, actor Actor) (*FulfillmentOrder, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.orders.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != OrderDraft {
		return nil, &TransitionError{Entity: "fulfillment order", ID: id, From: string(o.Status), To: string(OrderAllocated), Reason: "only draft orders can be allocated"}
	}

	strategy := o.Strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}

	var shortfalls []error
	for i := range o.Lines {
		line := &o.Lines[i]
		allocs, err := s.allocator.Allocate(ctx, Demand{
			Item:         line.Item,
			Quantity:     line.Required,
			Warehouse:    o.SourceWarehouse,
			Strategy:     strategy,
			Voucher:      o.Voucher(),
			AllowPartial: opts.AllowPartial,
			Actor:        actor,
		})

		var short *ShortfallError
		switch {
		case err == nil:
		case errors.As(err, &short) && short.Partial:
			shortfalls = append(shortfalls, fmt.Errorf("line %s: %w", line.ID, err))
		default:
			if _, rbErr := s.ledger.ReverseVoucher(ctx, o.Voucher(), actor, KindReservation); rbErr != nil {
				return nil, &PartialCompletionError{Op: "allocate order " + id, Err: errors.Join(err, rbErr)}
			}
			return nil, fmt.Errorf("order %s line %s: %w", id, line.ID, err)
		}

		line.Allocations = allocs
		line.Allocated = SumAllocations(allocs)
		if len(allocs) > 0 {
			line.Location = allocs[0].Location
			line.Batch = allocs[0].Batch
		}
	}

	if err := o.transition(OrderAllocated, ""); err != nil {
		return nil, err
	}
	o.UpdatedAt = s.rt.now()
	if err := s.orders.SaveOrder(ctx, o); err != nil {
		if _, rbErr := s.ledger.ReverseVoucher(ctx, o.Voucher(), SystemActor, KindReservation); rbErr != nil {
			return nil, &PartialCompletionError{Op: "allocate order " + id, Err: errors.Join(err, rbErr)}
		}
		return nil, err
	}

	s.rt.log().Info("order allocated",
		zap.String("order", id), zap.Int("lines", len(o.Lines)), zap.Int("short_lines", len(shortfalls)))
	return o, errors.Join(shortfalls...)
}

// CancelOrder cancels a Draft or Allocated order and releases its
// reservations. Orders on a pick list are cancelled through the pick list.
func (s *FulfillmentService) CancelOrder(ctx context.Context, id string, actor Actor) (*FulfillmentOrder, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.orders.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	wasAllocated := o.Status == OrderAllocated
	if err := o.transition(OrderCancelled, ""); err != nil {
		return nil, err
	}

	if wasAllocated {
		if _, err := s.ledger.ReverseVoucher(ctx, o.Voucher(), actor, KindReservation); err != nil {
			return nil, err
		}
	}
	o.UpdatedAt = s.rt.now()
	if err := s.orders.SaveOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}
