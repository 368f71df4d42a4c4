/*
events.go - Domain events and the outbox

PURPOSE:
  Engines never call notification delivery directly. They emit an Event into
  the Outbox after their own writes succeeded; Dispatch later hands pending
  events to the Notifier. A failed delivery is recorded on the event and
  retried on the next run, up to MaxDeliveryAttempts.

  A failure to enqueue is logged and does not fail the operation that
  emitted the event.

SEE ALSO:
  - api/scheduler.go: Schedules Dispatch with cron
*/
package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type EventKind string

const (
	EventPickListAssigned  EventKind = "picklist.assigned"
	EventPickListCompleted EventKind = "picklist.completed"
	EventPickListCancelled EventKind = "picklist.cancelled"
	EventPutawayCreated    EventKind = "putaway.created"
	EventPutawayCompleted  EventKind = "putaway.completed"
	EventPutawayCancelled  EventKind = "putaway.cancelled"
	EventShortfall         EventKind = "allocation.shortfall"
)

// MaxDeliveryAttempts bounds how often an event is handed to the notifier.
const MaxDeliveryAttempts = 5

type Event struct {
	ID         string
	Kind       EventKind
	RefType    string
	RefID      string
	Assignee   string
	Actor      Actor
	Message    string
	OccurredAt time.Time

	Attempts    int
	LastError   string
	DeliveredAt *time.Time
}

func (e Event) Notification() Notification {
	return Notification{
		Assignee: e.Assignee,
		Kind:     e.Kind,
		RefType:  e.RefType,
		RefID:    e.RefID,
		From:     e.Actor,
		Message:  e.Message,
	}
}

// emit enqueues an event. Outbox may be nil in which case nothing happens.
func emit(ctx context.Context, outbox Outbox, rt Runtime, ev Event) {
	if outbox == nil {
		return
	}
	ev.ID = rt.id()
	ev.OccurredAt = rt.now()
	if err := outbox.Enqueue(ctx, ev); err != nil {
		rt.log().Warn("failed to enqueue event",
			zap.String("kind", string(ev.Kind)),
			zap.String("ref", ev.RefType+":"+ev.RefID),
			zap.Error(err))
	}
}

// DispatchResult summarizes one dispatcher run.
type DispatchResult struct {
	Delivered int
	Failed    int
}

// Dispatch delivers up to limit pending events.
func Dispatch(ctx context.Context, outbox Outbox, notifier Notifier, rt Runtime, limit int) (DispatchResult, error) {
	var res DispatchResult

	events, err := outbox.Pending(ctx, limit)
	if err != nil {
		return res, err
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := notifier.Notify(ctx, ev.Notification()); err != nil {
			res.Failed++
			rt.log().Warn("event delivery failed",
				zap.String("event", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Int("attempt", ev.Attempts+1),
				zap.Error(err))
			if err := outbox.MarkFailed(ctx, ev.ID, err.Error()); err != nil {
				return res, err
			}
			continue
		}

		if err := outbox.MarkDelivered(ctx, ev.ID, rt.now()); err != nil {
			return res, err
		}
		res.Delivered++
	}
	return res, nil
}
