/*
putaway.go - Receiving into staging and moving stock to storage

PURPOSE:
  Inbound stock lands in a staging bin (Receive) and is then relocated to a
  storage bin by a putaway task (CompleteTask). The move is always written as
  a pair of movement entries in one atomic batch: -qty at the source bin and
  +qty at the destination, both under the task's voucher.

CROSS-WAREHOUSE MOVES:
  If the two bins resolve to different warehouses a transfer-of-custody
  record is created for (item, qty, from warehouse, to warehouse). If that
  call fails the pair of entries is reversed.

DESTINATION SELECTION:
  Pluggable through DestinationStrategy. The engine never hard-codes one.
  Built in:
    AnyOpenBin:     first storage bin (by id) with room for the quantity
    ConsolidateBin: a bin already holding the item, else AnyOpenBin
    HashBin:        stable FNV hash of the item code over storage bins
                    sorted by id, probing forward past full bins

IDEMPOTENCE:
  Completing a Completed task fails with ErrAlreadyCompleted and writes
  nothing. A receipt can only be booked once.
*/
package inventory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "Pending"
	TaskCompleted TaskStatus = "Completed"
	TaskCancelled TaskStatus = "Cancelled"
)

type PutawayTask struct {
	ID          string
	Receipt     string
	Item        ItemID
	Batch       BatchID
	Expiry      *time.Time
	Qty         decimal.Decimal
	From        LocationID
	Suggested   LocationID
	To          LocationID
	Status      TaskStatus
	CustodyRef  string
	Entries     []EntryID
	CreatedAt   time.Time
	CompletedAt *time.Time
	CompletedBy Actor
	Version     int64
}

func (t *PutawayTask) Voucher() Voucher {
	return Voucher{Type: VoucherPutawayTask, ID: t.ID}
}

type ReceiptLine struct {
	Item   ItemID
	Batch  BatchID
	Qty    decimal.Decimal
	Expiry *time.Time
}

// Receipt is inbound stock arriving at a staging bin.
type Receipt struct {
	ID         string
	Warehouse  WarehouseID
	StagingBin LocationID
	Lines      []ReceiptLine
}

func (r Receipt) Voucher() Voucher {
	return Voucher{Type: VoucherReceipt, ID: r.ID}
}

// =============================================================================
// DESTINATION STRATEGIES
// =============================================================================

type DestinationRequest struct {
	Item      ItemID
	Batch     BatchID
	Qty       decimal.Decimal
	Warehouse WarehouseID

	// Candidates are the storage bins of the warehouse, sorted by id.
	Candidates []Location
	// Holdings are the current holdings of the item in the warehouse.
	Holdings []Holding
}

type DestinationStrategy func(ctx context.Context, req DestinationRequest) (LocationID, error)

func AnyOpenBin(_ context.Context, req DestinationRequest) (LocationID, error) {
	for _, loc := range req.Candidates {
		if loc.HasRoom(req.Qty) {
			return loc.ID, nil
		}
	}
	return "", fmt.Errorf("%s x %s in %s: %w", req.Item, req.Qty, req.Warehouse, ErrNoDestination)
}

func ConsolidateBin(ctx context.Context, req DestinationRequest) (LocationID, error) {
	holding := map[LocationID]bool{}
	for _, h := range req.Holdings {
		if h.State.Balance.IsPositive() {
			holding[h.State.Key.Location] = true
		}
	}
	for _, loc := range req.Candidates {
		if holding[loc.ID] && loc.HasRoom(req.Qty) {
			return loc.ID, nil
		}
	}
	return AnyOpenBin(ctx, req)
}

func HashBin(_ context.Context, req DestinationRequest) (LocationID, error) {
	n := len(req.Candidates)
	if n == 0 {
		return "", fmt.Errorf("%s in %s: %w", req.Item, req.Warehouse, ErrNoDestination)
	}
	h := fnv.New32a()
	h.Write([]byte(req.Item))
	start := int(h.Sum32() % uint32(n))

	for i := 0; i < n; i++ {
		loc := req.Candidates[(start+i)%n]
		if loc.HasRoom(req.Qty) {
			return loc.ID, nil
		}
	}
	return "", fmt.Errorf("%s x %s in %s: %w", req.Item, req.Qty, req.Warehouse, ErrNoDestination)
}

// =============================================================================
// PUTAWAY SERVICE
// =============================================================================

type PutawayDeps struct {
	Tasks     TaskStore
	Ledger    *Ledger
	Locations LocationStore
	Resolver  WarehouseResolver
	Documents Documents
	Outbox    Outbox
	Strategy  DestinationStrategy
	Runtime   Runtime
}

type PutawayService struct {
	tasks     TaskStore
	ledger    *Ledger
	locations LocationStore
	resolver  WarehouseResolver
	docs      Documents
	outbox    Outbox
	strategy  DestinationStrategy
	rt        Runtime
	locks     *keyLocks
}

func NewPutawayService(d PutawayDeps) *PutawayService {
	resolver := d.Resolver
	if resolver == nil {
		resolver = LocationResolver{Locations: d.Locations}
	}
	strategy := d.Strategy
	if strategy == nil {
		strategy = ConsolidateBin
	}
	return &PutawayService{
		tasks:     d.Tasks,
		ledger:    d.Ledger,
		locations: d.Locations,
		resolver:  resolver,
		docs:      d.Documents,
		outbox:    d.Outbox,
		strategy:  strategy,
		rt:        d.Runtime,
		locks:     newKeyLocks(),
	}
}

func (s *PutawayService) Task(ctx context.Context, id string) (*PutawayTask, error) {
	return s.tasks.Task(ctx, id)
}

// Suggest runs the destination strategy for an item in a warehouse.
func (s *PutawayService) Suggest(ctx context.Context, warehouse WarehouseID, item ItemID, batch BatchID, qty decimal.Decimal) (LocationID, error) {
	candidates, err := s.locations.Locations(ctx, warehouse, RoleStorage)
	if err != nil {
		return "", err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	holdings, err := s.ledger.Holdings(ctx, warehouse, item)
	if err != nil {
		return "", err
	}
	return s.strategy(ctx, DestinationRequest{
		Item:       item,
		Batch:      batch,
		Qty:        qty,
		Warehouse:  warehouse,
		Candidates: candidates,
		Holdings:   holdings,
	})
}

// Receive books a receipt into its staging bin and opens one Pending task per
// line.
func (s *PutawayService) Receive(ctx context.Context, r Receipt, actor Actor) ([]*PutawayTask, error) {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" || r.StagingBin == "" {
		return nil, invalidf("receipt needs an id and a staging bin")
	}
	if len(r.Lines) == 0 {
		return nil, invalidf("receipt %s has no lines", r.ID)
	}
	for i, l := range r.Lines {
		if l.Item == "" {
			return nil, invalidf("receipt %s line %d has no item", r.ID, i+1)
		}
		if !l.Qty.IsPositive() {
			return nil, invalidf("receipt %s line %d quantity must be positive, got %s", r.ID, i+1, l.Qty)
		}
	}

	staging, err := s.locations.Location(ctx, r.StagingBin)
	if err != nil {
		return nil, err
	}
	if staging.Role != RoleStaging {
		return nil, invalidf("location %s is not a staging bin", staging.ID)
	}
	if staging.Warehouse == "" {
		return nil, fmt.Errorf("location %s: %w", staging.ID, ErrUnresolvedWarehouse)
	}
	if r.Warehouse != "" && r.Warehouse != staging.Warehouse {
		return nil, invalidf("staging bin %s belongs to %s, not %s", staging.ID, staging.Warehouse, r.Warehouse)
	}

	unlock := s.locks.Lock("receipt:" + r.ID)
	defer unlock()

	booked, err := s.ledger.ByVoucher(ctx, r.Voucher())
	if err != nil {
		return nil, err
	}
	for _, e := range booked {
		if !e.Cancelled && e.Kind == KindMovement {
			return nil, fmt.Errorf("receipt %s: %w", r.ID, ErrAlreadyCompleted)
		}
	}

	reqs := make([]PostRequest, len(r.Lines))
	for i, l := range r.Lines {
		l := l
		reqs[i] = PostRequest{
			Key: StockKey{Location: staging.ID, Item: l.Item, Batch: l.Batch},
			Mutate: func(StockState) (Change, error) {
				return Change{Delta: l.Qty, Kind: KindMovement, Voucher: r.Voucher(), Expiry: l.Expiry, Actor: actor}, nil
			},
		}
	}
	written, err := s.ledger.PostBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", r.ID, err)
	}

	var tasks []*PutawayTask
	for _, l := range r.Lines {
		if _, err := s.locations.AdjustOccupancy(ctx, staging.ID, l.Qty); err != nil {
			s.rt.log().Warn("occupancy update failed", zap.String("location", string(staging.ID)), zap.Error(err))
		}

		suggested, err := s.Suggest(ctx, staging.Warehouse, l.Item, l.Batch, l.Qty)
		if err != nil {
			s.rt.log().Warn("no putaway destination suggested",
				zap.String("receipt", r.ID), zap.String("item", string(l.Item)), zap.Error(err))
		}

		t := &PutawayTask{
			ID:        s.rt.id(),
			Receipt:   r.ID,
			Item:      l.Item,
			Batch:     l.Batch,
			Expiry:    l.Expiry,
			Qty:       l.Qty,
			From:      staging.ID,
			Suggested: suggested,
			Status:    TaskPending,
			CreatedAt: s.rt.now(),
		}
		if err := s.tasks.SaveTask(ctx, t); err != nil {
			return nil, s.ledger.compensate(ctx, "receive "+r.ID, written, nil, err)
		}
		tasks = append(tasks, t)
	}

	for _, t := range tasks {
		emit(ctx, s.outbox, s.rt, Event{
			Kind:    EventPutawayCreated,
			RefType: VoucherPutawayTask,
			RefID:   t.ID,
			Actor:   actor,
			Message: fmt.Sprintf("put away %s x %s from %s to %s", t.Item, t.Qty, t.From, t.Suggested),
		})
	}
	s.rt.log().Info("receipt booked", zap.String("receipt", r.ID), zap.Int("tasks", len(tasks)))
	return tasks, nil
}

// CompleteTask moves the task's stock into actual, or into the suggested bin
// when actual is empty.
func (s *PutawayService) CompleteTask(ctx context.Context, id string, actual LocationID, actor Actor) (*PutawayTask, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.tasks.Task(ctx, id)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case TaskCompleted:
		return nil, fmt.Errorf("putaway task %s: %w", id, ErrAlreadyCompleted)
	case TaskCancelled:
		return nil, &TransitionError{Entity: "putaway task", ID: id, From: string(t.Status), To: string(TaskCompleted)}
	}

	dest := actual
	if dest == "" {
		dest = t.Suggested
	}
	if dest == "" {
		return nil, fmt.Errorf("putaway task %s: %w", id, ErrNoDestination)
	}
	if dest == t.From {
		return nil, invalidf("putaway task %s: destination equals source bin %s", id, dest)
	}

	fromWH, err := s.resolver.ResolveWarehouse(ctx, t.From)
	if err != nil {
		return nil, fmt.Errorf("putaway task %s source: %w", id, err)
	}
	toWH, err := s.resolver.ResolveWarehouse(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("putaway task %s destination: %w", id, err)
	}

	move := func(key StockKey, delta decimal.Decimal, expiry *time.Time) PostRequest {
		return PostRequest{Key: key, Mutate: func(StockState) (Change, error) {
			return Change{Delta: delta, Kind: KindMovement, Voucher: t.Voucher(), Expiry: expiry, Actor: actor}, nil
		}}
	}
	written, err := s.ledger.PostBatch(ctx, []PostRequest{
		move(StockKey{Location: t.From, Item: t.Item, Batch: t.Batch}, t.Qty.Neg(), nil),
		move(StockKey{Location: dest, Item: t.Item, Batch: t.Batch}, t.Qty, t.Expiry),
	})
	if err != nil {
		return nil, fmt.Errorf("putaway task %s: %w", id, err)
	}

	op := "complete putaway task " + id
	if fromWH != toWH {
		ref, err := s.docs.CreateCustodyTransfer(ctx, CustodyTransfer{
			Purpose:       PurposeMaterialTransfer,
			FromWarehouse: fromWH,
			ToWarehouse:   toWH,
			Voucher:       t.Voucher(),
			Lines:         []CustodyLine{{Item: t.Item, Batch: t.Batch, Qty: t.Qty, From: t.From, To: dest}},
			Actor:         actor,
		})
		if err != nil {
			return nil, s.ledger.compensate(ctx, op, written, nil, fmt.Errorf("custody transfer: %w", err))
		}
		t.CustodyRef = ref
	}

	if _, err := s.locations.AdjustOccupancy(ctx, t.From, t.Qty.Neg()); err != nil {
		s.rt.log().Warn("occupancy update failed", zap.String("location", string(t.From)), zap.Error(err))
	}
	if _, err := s.locations.AdjustOccupancy(ctx, dest, t.Qty); err != nil {
		s.rt.log().Warn("occupancy update failed", zap.String("location", string(dest)), zap.Error(err))
	}

	now := s.rt.now()
	t.To = dest
	t.Status = TaskCompleted
	t.CompletedAt = &now
	t.CompletedBy = actor
	t.Entries = entryIDs(written)
	if err := s.tasks.SaveTask(ctx, t); err != nil {
		var docs []string
		if t.CustodyRef != "" {
			docs = append(docs, t.CustodyRef)
		}
		return nil, &PartialCompletionError{Op: op, Written: t.Entries, Documents: docs, Err: err}
	}

	s.rt.log().Info("putaway completed",
		zap.String("task", id),
		zap.String("from", string(t.From)),
		zap.String("to", string(dest)),
		zap.Bool("cross_warehouse", fromWH != toWH))
	emit(ctx, s.outbox, s.rt, Event{
		Kind:    EventPutawayCompleted,
		RefType: VoucherPutawayTask,
		RefID:   id,
		Actor:   actor,
		Message: fmt.Sprintf("%s x %s put away into %s", t.Item, t.Qty, dest),
	})
	return t, nil
}

// CancelTask cancels a Pending task and reverses anything written under its
// voucher. Received stock stays in staging.
func (s *PutawayService) CancelTask(ctx context.Context, id string, actor Actor) (*PutawayTask, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.tasks.Task(ctx, id)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case TaskCompleted:
		return nil, fmt.Errorf("putaway task %s: %w", id, ErrAlreadyCompleted)
	case TaskCancelled:
		return nil, fmt.Errorf("putaway task %s: %w", id, ErrAlreadyCancelled)
	}

	reversed, err := s.ledger.ReverseVoucher(ctx, t.Voucher(), actor)
	if err != nil {
		return nil, err
	}

	t.Status = TaskCancelled
	if err := s.tasks.SaveTask(ctx, t); err != nil {
		if len(reversed) > 0 {
			return nil, &PartialCompletionError{Op: "cancel putaway task " + id, Written: entryIDs(reversed), Err: err}
		}
		return nil, err
	}

	emit(ctx, s.outbox, s.rt, Event{
		Kind:    EventPutawayCancelled,
		RefType: VoucherPutawayTask,
		RefID:   id,
		Actor:   actor,
	})
	return t, nil
}

