/*
runner.go - The automation runner

PURPOSE:
  Orchestrates one batch pass: load automations, compute due occurrences
  since each checkpoint, realize each undone occurrence as a transaction
  with balance effects, record the execution, advance the checkpoint.
  Always safe to invoke repeatedly for the same day.

PER-OCCURRENCE WRITE ORDERING (load-bearing):
  1. Insert the transaction
  2. Apply balance/position effects
  3. Record the execution (LAST)
  A crash between steps leaves at worst an orphaned transaction with no
  execution record and no balance effect. The next run re-derives
  occurrences from the checkpoint, not from existing transactions, so the
  orphan is inert and the occurrence retries cleanly.

CHECKPOINT POLICY:
  The checkpoint never advances past the first occurrence whose effect
  failed to apply. The failure surfaces in the run summary as a blocking
  error and the occurrence is retried on every subsequent run until it
  succeeds or an operator intervenes. A silently dropped financial effect
  is worse than a noisy retry.

FAILURE ISOLATION:
  One automation's error is captured in the run summary and never aborts
  processing of sibling automations, and never crashes the process.

CONCURRENCY:
  Two simultaneous passes over the same automation race on
  RecordExecution; the loser reverts its own balance effects via the undo
  returned by Apply, discards its transaction, and treats the duplicate as
  success. Passes over different automations sharing an
  account are safe because balance deltas are atomic at the storage layer.

SEE ALSO:
  - calendar.go: Occurrence derivation
  - effects.go: Balance/position mutation
  - executions.go: The idempotence ledger
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultCatchUpMonths bounds the lookback window for automations that
// have never executed. Backfilling older gaps is an explicit operator
// action, not something a routine run does silently.
const DefaultCatchUpMonths = 1

// Runner executes due automation occurrences exactly once.
type Runner struct {
	Automations  AutomationStore
	Transactions TransactionStore
	Executions   *ExecutionLedger
	Effects      *Applier

	// Runs is optional; when set, every invocation persists its summary.
	Runs RunStore

	// CatchUpMonths overrides DefaultCatchUpMonths when positive.
	CatchUpMonths int

	Log logrus.FieldLogger
}

func NewRunner(store Store, prices PriceSource) *Runner {
	return &Runner{
		Automations:  store,
		Transactions: store,
		Executions:   NewExecutionLedger(store),
		Effects:      NewApplier(store, store, prices),
		Runs:         store,
	}
}

func (r *Runner) log() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

func (r *Runner) catchUpMonths() int {
	if r.CatchUpMonths > 0 {
		return r.CatchUpMonths
	}
	return DefaultCatchUpMonths
}

// RunDueAutomations processes every active automation up to asOf.
// Invoking it again with the same asOf is a guaranteed no-op for
// automations that completed cleanly.
func (r *Runner) RunDueAutomations(ctx context.Context, asOf Date) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		AsOf:      asOf,
		StartedAt: time.Now().UTC(),
	}

	automations, err := r.Automations.ListAutomations(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading automations: %v", ErrTransientStorage, err)
	}

	for _, a := range automations {
		if !a.Active {
			continue
		}
		created, runErr := r.processAutomation(ctx, a, asOf)
		summary.AutomationsProcessed++
		summary.TransactionsCreated += created
		if runErr != nil {
			summary.Errors = append(summary.Errors, *runErr)
			r.log().WithFields(logrus.Fields{
				"automation_id": runErr.AutomationID,
				"blocking":      runErr.Blocking,
			}).Warn(runErr.Message)
		}
	}

	summary.CompletedAt = time.Now().UTC()
	r.log().WithFields(logrus.Fields{
		"run_id":               summary.RunID,
		"as_of":                asOf.String(),
		"automations":          summary.AutomationsProcessed,
		"transactions_created": summary.TransactionsCreated,
		"errors":               len(summary.Errors),
	}).Info("automation run completed")

	if r.Runs != nil {
		if err := r.Runs.SaveRun(ctx, *summary); err != nil {
			r.log().WithError(err).Warn("failed to persist run summary")
		}
	}
	return summary, nil
}

// processAutomation runs the per-automation state machine. It returns the
// number of transactions created and, at most, one surfaced error.
func (r *Runner) processAutomation(ctx context.Context, a Automation, asOf Date) (int, *RunError) {
	windowStart := r.windowStart(a, asOf)

	occurrences, err := Occurrences(a.Cadence, windowStart, asOf)
	if err != nil {
		// Bad definition: skip without touching the checkpoint. Advancing
		// it would hide the misconfiguration behind an empty window.
		return 0, &RunError{AutomationID: a.ID, Message: err.Error()}
	}

	created := 0
	through := asOf
	var halt *RunError

	for _, occ := range occurrences {
		done, err := r.Executions.HasExecuted(ctx, a.ID, occ)
		if err != nil {
			halt, through = r.haltAt(a, occ, false, fmt.Sprintf("checking execution for %s: %v", occ, err))
			break
		}
		if done {
			continue // realized by a prior or concurrent run
		}

		tx := r.buildTransaction(a, occ)

		if err := r.Transactions.InsertTransaction(ctx, tx); err != nil {
			halt, through = r.haltAt(a, occ, false, fmt.Sprintf("writing transaction for %s: %v", occ, err))
			break
		}

		undo, err := r.Effects.Apply(ctx, tx)
		if err != nil {
			// Apply compensates its own partial legs, so nothing of this
			// occurrence remains on any balance.
			r.discardOrphan(ctx, tx)
			halt, through = r.haltAt(a, occ, true, fmt.Sprintf("applying effects for %s: %v", occ, err))
			break
		}

		if err := r.Executions.RecordExecution(ctx, a.ID, occ, tx.ID); err != nil {
			if IsDuplicate(err) {
				// Lost the race with a concurrent runner: its effects
				// already landed, so back ours out and discard our
				// transaction before moving on.
				if uerr := undo(ctx); uerr != nil {
					halt, through = r.haltAt(a, occ, true, fmt.Sprintf("reverting effects for superseded %s: %v; manual reconciliation required", occ, uerr))
					break
				}
				r.discardOrphan(ctx, tx)
				continue
			}
			// Effects landed but the record write failed. Retrying the
			// occurrence would double-apply, so stop here and demand
			// attention instead of guessing.
			halt, through = r.haltAt(a, occ, true, fmt.Sprintf("recording execution for %s after effects applied: %v; manual reconciliation required", occ, err))
			break
		}

		created++
	}

	// The checkpoint advances even when zero occurrences fired, so that
	// re-invocation on the same day is a no-op. It only ever moves forward.
	if a.LastExecutedThrough == nil || through.After(*a.LastExecutedThrough) {
		if err := r.Automations.AdvanceCheckpoint(ctx, a.ID, through); err != nil {
			if halt == nil {
				halt = &RunError{AutomationID: a.ID, Message: fmt.Sprintf("advancing checkpoint to %s: %v", through, err)}
			}
		}
	}

	return created, halt
}

// windowStart is the day after the checkpoint, or a bounded lookback for
// automations that have never executed.
func (r *Runner) windowStart(a Automation, asOf Date) Date {
	if a.LastExecutedThrough != nil {
		return a.LastExecutedThrough.AddDays(1)
	}
	return asOf.AddMonths(-r.catchUpMonths())
}

// haltAt stops the occurrence loop at occ, leaving the checkpoint on the
// day before so the next run re-derives occ first.
func (r *Runner) haltAt(a Automation, occ Date, blocking bool, msg string) (*RunError, Date) {
	return &RunError{AutomationID: a.ID, Message: msg, Blocking: blocking}, occ.AddDays(-1)
}

func (r *Runner) buildTransaction(a Automation, occ Date) Transaction {
	return Transaction{
		ID:           TransactionID(uuid.NewString()),
		UserID:       a.UserID,
		Type:         KindTransactionType(a.Kind),
		Amount:       a.Amount,
		Currency:     a.Currency,
		Date:         occ,
		AccountID:    a.AccountID,
		ToAccountID:  a.ToAccountID,
		InvestmentID: a.InvestmentID,
		CategoryID:   a.CategoryID,
		Note:         a.Note,
		AutomationID: a.ID,
		ExecutionKey: ExecutionKey(a.ID, occ),
		CreatedAt:    time.Now().UTC(),
	}
}

// discardOrphan removes a transaction that will never gain an execution
// record. Removal is best effort: a leftover orphan has no balance effect
// and is invisible to future runs.
func (r *Runner) discardOrphan(ctx context.Context, tx Transaction) {
	if err := r.Transactions.DeleteTransaction(ctx, tx.ID); err != nil {
		r.log().WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"automation_id":  tx.AutomationID,
		}).WithError(err).Warn("failed to discard orphaned transaction")
	}
}
