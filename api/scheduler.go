/*
scheduler.go - Automated run scheduler

PURPOSE:
  Periodically triggers a catch-up run so due automations execute without
  a manual POST /api/runs. Paired with the idempotent runner, overlapping
  triggers (scheduler tick + manual run) are harmless.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick executes RunDueAutomations as of today
  - Run summaries are persisted by the runner for the ops dashboard

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRunScheduler(handler.Runner)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRun endpoint (manual runs)
  - engine/runner.go: RunDueAutomations
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgerline/automation-engine/engine"
)

// RunScheduler triggers catch-up runs on a fixed interval.
type RunScheduler struct {
	Runner        *engine.Runner
	CheckInterval time.Duration
	Enabled       bool
	Log           logrus.FieldLogger

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRunScheduler creates a new scheduler.
func NewRunScheduler(runner *engine.Runner) *RunScheduler {
	return &RunScheduler{
		Runner:        runner,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           logrus.StandardLogger(),
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RunScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info("scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Log.WithField("interval", rs.CheckInterval.String()).Info("scheduler started")
}

// Stop stops the scheduler.
func (rs *RunScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Log.Info("scheduler stopped")
	}
}

func (rs *RunScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.runOnce()

	for {
		select {
		case <-rs.ticker.C:
			rs.runOnce()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RunScheduler) runOnce() {
	ctx := context.Background()
	asOf := engine.Today()

	summary, err := rs.Runner.RunDueAutomations(ctx, asOf)
	if err != nil {
		rs.Log.WithError(err).Error("scheduled run failed")
		return
	}

	if summary.TransactionsCreated > 0 || len(summary.Errors) > 0 {
		rs.Log.WithFields(logrus.Fields{
			"run_id":       summary.RunID,
			"as_of":        asOf.String(),
			"processed":    summary.AutomationsProcessed,
			"transactions": summary.TransactionsCreated,
			"errors":       len(summary.Errors),
		}).Info("scheduled run completed")
	}
}

// RunNow triggers an immediate run (for testing/admin).
func (rs *RunScheduler) RunNow() {
	rs.runOnce()
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *RunScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
