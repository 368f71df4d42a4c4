/*
errors.go - Centralized error types for the inventory engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Sentinels are matched with errors.Is; structured errors carry the detail a
  caller needs to decide its next action and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Caller errors - InvalidArgument, InvalidTransition, OverPick
  2. Business outcomes - Shortfall, NoPickedQuantity
  3. Integrity failures - InvariantViolation, NotFound, UnresolvedWarehouse
  4. Idempotence guards - AlreadyCompleted, AlreadyCancelled
  5. Concurrency - ConcurrentModification (retryable)

PROPAGATION:
  Validation runs before the first ledger write and aborts the whole
  operation. Once writes have started, failures are rolled back with
  offsetting entries; if the rollback itself fails the caller receives a
  PartialCompletionError listing what was written.
*/
package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidArgument is returned for bad input. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvariantViolation means a write would corrupt the
	// balance/reserved/available relationship. Nothing was written.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrShortfall is returned when there is not enough available stock.
	ErrShortfall = errors.New("insufficient available stock")

	// ErrInvalidTransition is a state-machine guard failure.
	ErrInvalidTransition = errors.New("invalid state transition")

	ErrNotFound            = errors.New("not found")
	ErrUnresolvedWarehouse = errors.New("location has no warehouse")

	ErrAlreadyCompleted = errors.New("already completed")
	ErrAlreadyCancelled = errors.New("already cancelled")

	// ErrOverPick is returned when a picked quantity exceeds the ordered one.
	ErrOverPick = errors.New("picked quantity exceeds ordered quantity")

	// ErrNoPickedQuantity is returned when completing a pick list where
	// nothing was picked.
	ErrNoPickedQuantity = errors.New("no picked quantity")

	// ErrConcurrentModification is returned when a compare-and-append or a
	// versioned document save lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNoDestination is returned by putaway strategies with no usable bin.
	ErrNoDestination = errors.New("no destination bin available")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvariantError describes which ledger rule a write broke.
type InvariantError struct {
	Key    StockKey
	Rule   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant %q violated for %s: %s", e.Rule, e.Key, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// ShortfallError reports how much of a demand could not be reserved.
// When Partial is true the reservations in Allocations were kept.
type ShortfallError struct {
	Item       ItemID
	Warehouse  WarehouseID
	Requested  decimal.Decimal
	Reservable decimal.Decimal
	Short      decimal.Decimal

	Partial     bool
	Allocations []Allocation
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient stock for %s in %s: requested %s, reservable %s, short %s",
		e.Item, e.Warehouse, e.Requested, e.Reservable, e.Short)
}

func (e *ShortfallError) Unwrap() error {
	return ErrShortfall
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type OverPickError struct {
	PickList string
	Seq      int
	Item     ItemID
	Ordered  decimal.Decimal
	Picked   decimal.Decimal
}

func (e *OverPickError) Error() string {
	return fmt.Sprintf("pick list %s line %d (%s): picked %s exceeds ordered %s",
		e.PickList, e.Seq, e.Item, e.Picked, e.Ordered)
}

func (e *OverPickError) Unwrap() error {
	return ErrOverPick
}

// PartialCompletionError marks an operation that wrote to the ledger and then
// failed without being able to undo everything. Written lists the entries
// that remain in effect; Documents lists external records that were created.
type PartialCompletionError struct {
	Op        string
	Written   []EntryID
	Documents []string
	Err       error
}

func (e *PartialCompletionError) Error() string {
	ids := make([]string, len(e.Written))
	for i, id := range e.Written {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%s partially completed (entries [%s], documents [%s]): %v",
		e.Op, strings.Join(ids, ","), strings.Join(e.Documents, ","), e.Err)
}

func (e *PartialCompletionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is an expected outcome of the
// caller's input rather than a fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrShortfall) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOverPick) ||
		errors.Is(err, ErrNoPickedQuantity) ||
		errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrAlreadyCancelled)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnresolvedWarehouse)
}
