/*
store.go - Persistence interfaces for the automation engine

PURPOSE:
  Defines the interface between the engine and the database. Every durable
  read/write the runner performs goes through these interfaces, so both the
  SQLite store and the in-memory store can back the same engine.

KEY INTERFACES:
  AutomationStore: Automation definitions and checkpoint advancement
  AccountStore:    Account balances, mutated via atomic deltas
  InvestmentStore: Positions, mutated via the weighted-average purchase op
  TransactionStore: The shared financial ledger
  ExecutionStore:  The (automation_id, occurrence_date) idempotence keys
  RunStore:        Run summaries for the operational dashboard
  SnapshotStore:   Daily read-model rows for the snapshot aggregator
  PriceSource:     Externally supplied current investment prices

BALANCE MUTATION CONTRACT:
  ApplyBalanceDelta adds a signed delta to the stored balance atomically at
  the storage layer. The engine never does load-then-store on balances, so
  two runners touching different automations that share an account cannot
  lose updates.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing and demos

SEE ALSO:
  - executions.go: Ledger wrapper over ExecutionStore
  - runner.go: Orchestrates all of these
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AUTOMATION STORE
// =============================================================================

type AutomationStore interface {
	// ListAutomations returns all automations, active or not. The runner
	// filters on the active flag itself so skips are observable.
	ListAutomations(ctx context.Context) ([]Automation, error)

	GetAutomation(ctx context.Context, id AutomationID) (*Automation, error)

	// SaveAutomation inserts or replaces a definition (user edits).
	SaveAutomation(ctx context.Context, a Automation) error

	// SetAutomationActive soft-enables or soft-disables an automation.
	// The runner never deletes automations.
	SetAutomationActive(ctx context.Context, id AutomationID, active bool) error

	// AdvanceCheckpoint persists last_executed_through. Only the runner
	// calls this.
	AdvanceCheckpoint(ctx context.Context, id AutomationID, through Date) error
}

// =============================================================================
// ACCOUNT / INVESTMENT STORES
// =============================================================================

type AccountStore interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context, userID UserID) ([]Account, error)
	SaveAccount(ctx context.Context, a Account) error

	// ApplyBalanceDelta atomically adds delta (which may be negative) to
	// the account's stored balance. Fails with ErrAccountNotFound for
	// unknown accounts.
	ApplyBalanceDelta(ctx context.Context, id AccountID, delta decimal.Decimal) error
}

type InvestmentStore interface {
	GetInvestment(ctx context.Context, id InvestmentID) (*InvestmentPosition, error)
	ListInvestments(ctx context.Context, userID UserID) ([]InvestmentPosition, error)
	SaveInvestment(ctx context.Context, p InvestmentPosition) error

	// ApplyPurchase atomically folds one buy into the position:
	//   quantity += addQuantity
	//   avg      = (old_quantity*old_avg + cost) / new_quantity
	// Fails with ErrInvestmentNotFound for unknown positions.
	ApplyPurchase(ctx context.Context, id InvestmentID, addQuantity, cost decimal.Decimal) error
}

// =============================================================================
// TRANSACTION / EXECUTION STORES
// =============================================================================

type TransactionStore interface {
	// InsertTransaction appends one ledger entry. Entries are immutable;
	// there is no update operation.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// DeleteTransaction removes an orphaned entry: one that was written
	// but whose execution record went to a competing runner. It is never
	// used on executed transactions.
	DeleteTransaction(ctx context.Context, id TransactionID) error

	ListTransactions(ctx context.Context, userID UserID, from, to Date) ([]Transaction, error)
}

type ExecutionStore interface {
	// HasExecuted looks up the (automation, date) key. Keyed lookups; a
	// single run may probe dozens of occurrences per automation.
	HasExecuted(ctx context.Context, id AutomationID, date Date) (bool, error)

	// RecordExecution persists the key. Fails with ErrDuplicateExecution
	// (never silently succeeds, never overwrites) if the key exists.
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
}

// =============================================================================
// RUN / SNAPSHOT STORES
// =============================================================================

type RunStore interface {
	SaveRun(ctx context.Context, s RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

type SnapshotStore interface {
	// UpsertSnapshot writes the daily row keyed (user_id, date),
	// replacing any existing row for that key.
	UpsertSnapshot(ctx context.Context, s DailySnapshot) error

	GetSnapshot(ctx context.Context, userID UserID, date Date) (*DailySnapshot, error)
	ListSnapshots(ctx context.Context, userID UserID, from, to Date) ([]DailySnapshot, error)
}

// =============================================================================
// PRICE SOURCE
// =============================================================================

// PriceSource supplies current investment prices. Absence of a price is a
// valid, handled state: effects that need one fail with a retryable
// precondition error.
type PriceSource interface {
	CurrentPrice(ctx context.Context, id InvestmentID) (decimal.Decimal, error)
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

// Store is the full persistence surface. Both the SQLite store and the
// in-memory store satisfy it.
type Store interface {
	AutomationStore
	AccountStore
	InvestmentStore
	TransactionStore
	ExecutionStore
	RunStore
	SnapshotStore
}
