/*
executions.go - The execution ledger

PURPOSE:
  The durable record of "occurrence X of automation A was executed".
  The (automation_id, occurrence_date) key is unique forever, enforced at
  the point of durable write. This uniqueness is the sole synchronization
  primitive between concurrent runner invocations: no distributed lock
  exists or is needed.

CRITICAL INVARIANTS:
  1. At most one execution record per (automation, date). EVER.
  2. RecordExecution fails loudly on a duplicate - never silent success,
     never overwrite.
  3. Records are written LAST in the occurrence sequence, so a crash at
     any earlier point leaves at worst an orphaned transaction with no
     balance effect, which the next run safely re-derives.

SEE ALSO:
  - store.go: ExecutionStore contract
  - runner.go: Ordering requirements around RecordExecution
*/
package engine

import (
	"context"
	"time"
)

// ExecutionLedger answers "has this occurrence been realized?" and claims
// occurrences for exactly-once execution.
type ExecutionLedger struct {
	Store ExecutionStore
}

func NewExecutionLedger(store ExecutionStore) *ExecutionLedger {
	return &ExecutionLedger{Store: store}
}

// HasExecuted reports whether the occurrence was already realized.
func (l *ExecutionLedger) HasExecuted(ctx context.Context, id AutomationID, date Date) (bool, error) {
	return l.Store.HasExecuted(ctx, id, date)
}

// RecordExecution claims the occurrence. On ErrDuplicateExecution the
// caller lost a race with a concurrent runner and must discard its own
// transaction: the competing runner's effects already landed.
func (l *ExecutionLedger) RecordExecution(ctx context.Context, id AutomationID, date Date, txID TransactionID) error {
	return l.Store.RecordExecution(ctx, ExecutionRecord{
		AutomationID:  id,
		Date:          date,
		TransactionID: txID,
		RecordedAt:    time.Now().UTC(),
	})
}
