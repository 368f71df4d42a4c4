/*
scheduler.go - Outbox dispatcher

PURPOSE:
  Periodically hands pending outbox events (pick list assigned, putaway
  completed, shortfalls, ...) to the Notifier. Engine operations only
  enqueue events; delivery happens here, outside any ledger write.

DESIGN:
  - robfig/cron drives the runs (default "@every 15s")
  - Each run has its own timeout and delivers at most BatchSize events
  - Runs never overlap: a run still in progress makes the next tick a no-op
  - Failed deliveries stay pending until MaxDeliveryAttempts is reached

USAGE:
  d := NewOutboxDispatcher(outbox, notifier, rt, logger)
  d.Schedule = cfg.Outbox.Schedule
  if err := d.Start(); err != nil { ... }
  defer d.Stop()

SEE ALSO:
  - handlers.go: POST /api/admin/dispatch (manual run)
  - inventory/events.go: Dispatch
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/bin-ledger/inventory"
)

const DefaultOutboxSchedule = "@every 15s"

// OutboxDispatcher delivers outbox events on a cron schedule.
type OutboxDispatcher struct {
	Outbox    inventory.Outbox
	Notifier  inventory.Notifier
	Runtime   inventory.Runtime
	Schedule  string
	BatchSize int
	Timeout   time.Duration

	logger  *zap.Logger
	cron    *cron.Cron
	running sync.Mutex
	mu      sync.Mutex
}

// NewOutboxDispatcher creates a dispatcher with default settings.
func NewOutboxDispatcher(outbox inventory.Outbox, notifier inventory.Notifier, rt inventory.Runtime, logger *zap.Logger) *OutboxDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDispatcher{
		Outbox:    outbox,
		Notifier:  notifier,
		Runtime:   rt,
		Schedule:  DefaultOutboxSchedule,
		BatchSize: 100,
		Timeout:   time.Minute,
		logger:    logger,
	}
}

// Start schedules the dispatcher. Calling Start twice is a no-op.
func (d *OutboxDispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(d.Schedule, d.tick); err != nil {
		return fmt.Errorf("invalid outbox schedule %q: %w", d.Schedule, err)
	}
	c.Start()
	d.cron = c

	d.logger.Info("outbox dispatcher started", zap.String("schedule", d.Schedule))
	return nil
}

// Stop stops scheduling and waits for a running dispatch to finish.
func (d *OutboxDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	d.cron = nil
	d.logger.Info("outbox dispatcher stopped")
}

func (d *OutboxDispatcher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	if _, err := d.RunOnce(ctx); err != nil {
		d.logger.Error("outbox dispatch failed", zap.Error(err))
	}
}

// RunOnce delivers one batch of pending events. A call made while another
// run is in progress returns immediately with an empty result.
func (d *OutboxDispatcher) RunOnce(ctx context.Context) (inventory.DispatchResult, error) {
	if !d.running.TryLock() {
		return inventory.DispatchResult{}, nil
	}
	defer d.running.Unlock()

	res, err := inventory.Dispatch(ctx, d.Outbox, d.Notifier, d.Runtime, d.BatchSize)
	if res.Delivered > 0 || res.Failed > 0 {
		d.logger.Info("outbox dispatched",
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed))
	}
	return res, err
}
