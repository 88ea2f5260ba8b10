/*
Package engine implements the recurring financial automation core.

PURPOSE:
  This package contains the domain types and algorithms for running
  user-defined recurring money movements: computing which calendar
  occurrences of an automation are due, executing each occurrence exactly
  once, and applying the resulting balance and position effects.

KEY CONCEPTS IN THIS FILE (types.go):
  - Automation: A user-owned recurring instruction (income, expense,
    transfer, investment purchase) with a weekly/monthly/yearly cadence
  - Transaction: The immutable financial record of one executed occurrence
  - ExecutionRecord: Durable proof that an occurrence has been realized
  - Account / InvestmentPosition: Aggregate state maintained incrementally
  - RunSummary: The observable outcome of one runner invocation

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money and quantity arithmetic
  2. Type Safety: Strong typing for IDs prevents mixing identifier kinds
  3. Idempotence: Execution records are the sole at-most-once mechanism
  4. Immutability: Transactions are never edited after creation

SEE ALSO:
  - calendar.go: Occurrence generation from cadences
  - runner.go: The per-automation execution state machine
  - effects.go: Balance and position mutation
  - executions.go: The idempotence ledger
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type AutomationID string
type AccountID string
type InvestmentID string
type CategoryID string
type TransactionID string

// =============================================================================
// CADENCE - Recurrence rule plus anchor
// =============================================================================

type CadenceType string

const (
	CadenceWeekly  CadenceType = "weekly"  // AnchorDay is a weekday index 0-6 (Sunday=0)
	CadenceMonthly CadenceType = "monthly" // AnchorDay is a day-of-month 1-31, clamped per month
	CadenceYearly  CadenceType = "yearly"  // AnchorDay as monthly, AnchorMonth fixes the month
)

// Cadence describes when an automation fires.
//
// For yearly cadences the month is an explicit stored field rather than
// being re-derived from the automation's creation date at run time; it is
// populated from the creation date when the definition omits it.
type Cadence struct {
	Type        CadenceType
	AnchorDay   int
	AnchorMonth time.Month // yearly only
}

// Validate checks the cadence for structural validity.
// Invalid cadences are configuration errors: non-retryable, surfaced
// per-automation, and never a reason to abort a whole run.
func (c Cadence) Validate() error {
	switch c.Type {
	case CadenceWeekly:
		if c.AnchorDay < 0 || c.AnchorDay > 6 {
			return &ConfigurationError{Field: "anchor_day", Value: fmt.Sprint(c.AnchorDay), Message: "weekly anchor must be a weekday index 0-6"}
		}
	case CadenceMonthly:
		if c.AnchorDay < 1 || c.AnchorDay > 31 {
			return &ConfigurationError{Field: "anchor_day", Value: fmt.Sprint(c.AnchorDay), Message: "monthly anchor must be a day-of-month 1-31"}
		}
	case CadenceYearly:
		if c.AnchorDay < 1 || c.AnchorDay > 31 {
			return &ConfigurationError{Field: "anchor_day", Value: fmt.Sprint(c.AnchorDay), Message: "yearly anchor must be a day-of-month 1-31"}
		}
		if c.AnchorMonth < time.January || c.AnchorMonth > time.December {
			return &ConfigurationError{Field: "anchor_month", Value: fmt.Sprint(int(c.AnchorMonth)), Message: "yearly cadence requires a month 1-12"}
		}
	default:
		return &ConfigurationError{Field: "cadence_type", Value: string(c.Type), Message: "unknown cadence type"}
	}
	return nil
}

// =============================================================================
// AUTOMATION - User-owned recurring instruction
// =============================================================================

type Kind string

const (
	KindIncome        Kind = "income"
	KindExpense       Kind = "expense"
	KindTransfer      Kind = "transfer"
	KindInvestmentBuy Kind = "investment_buy"
)

type Automation struct {
	ID       AutomationID
	UserID   UserID
	Name     string
	Kind     Kind
	Amount   decimal.Decimal
	Currency string
	Cadence  Cadence

	// AccountID is the source account: debited for expense, transfer and
	// investment_buy, credited for income. Optional for income only
	// (untracked income with no named account).
	AccountID    AccountID
	ToAccountID  AccountID    // transfer destination
	InvestmentID InvestmentID // investment_buy position
	CategoryID   CategoryID
	Note         string

	Active bool

	// LastExecutedThrough is the checkpoint: the processed frontier.
	// Mutated only by the runner; nil until the first run.
	LastExecutedThrough *Date

	// NextExpected is advisory only and never consulted by the runner.
	NextExpected *Date

	CreatedAt time.Time
}

// Validate checks the automation's structural invariants.
func (a Automation) Validate() error {
	if !a.Amount.IsPositive() {
		return &ConfigurationError{Field: "amount", Value: a.Amount.String(), Message: "amount must be positive"}
	}
	if err := a.Cadence.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case KindIncome:
		// Source account optional: pure income without a named account.
	case KindExpense:
		if a.AccountID == "" {
			return &ConfigurationError{Field: "account_id", Message: "expense requires a source account"}
		}
	case KindTransfer:
		if a.AccountID == "" || a.ToAccountID == "" {
			return &ConfigurationError{Field: "to_account_id", Message: "transfer requires source and destination accounts"}
		}
		if a.AccountID == a.ToAccountID {
			return &ConfigurationError{Field: "to_account_id", Value: string(a.ToAccountID), Message: "transfer destination must differ from source"}
		}
	case KindInvestmentBuy:
		if a.AccountID == "" {
			return &ConfigurationError{Field: "account_id", Message: "investment purchase requires a source account"}
		}
		if a.InvestmentID == "" {
			return &ConfigurationError{Field: "investment_id", Message: "investment purchase requires an investment"}
		}
	default:
		return &ConfigurationError{Field: "kind", Value: string(a.Kind), Message: "unknown automation kind"}
	}
	return nil
}

// =============================================================================
// TRANSACTION - The financial fact of one executed occurrence
// =============================================================================

type TransactionType string

const (
	TxIncome         TransactionType = "income"
	TxExpense        TransactionType = "expense"
	TxTransfer       TransactionType = "transfer"
	TxInvestmentBuy  TransactionType = "investment_buy"
	TxInvestmentSell TransactionType = "investment_sell" // never created by the runner; present for the shared ledger schema
)

// KindTransactionType maps an automation kind to its ledger entry type.
func KindTransactionType(k Kind) TransactionType {
	switch k {
	case KindIncome:
		return TxIncome
	case KindExpense:
		return TxExpense
	case KindTransfer:
		return TxTransfer
	case KindInvestmentBuy:
		return TxInvestmentBuy
	default:
		return TransactionType(k)
	}
}

// Transaction is immutable once written. Corrections are new
// counter-transactions, never edits.
type Transaction struct {
	ID       TransactionID
	UserID   UserID
	Type     TransactionType
	Amount   decimal.Decimal
	Currency string
	Date     Date

	AccountID    AccountID
	ToAccountID  AccountID
	InvestmentID InvestmentID
	CategoryID   CategoryID
	Note         string

	// Back-references to the originating automation and its execution key.
	AutomationID AutomationID
	ExecutionKey string

	CreatedAt time.Time
}

// =============================================================================
// EXECUTION RECORD - Durable idempotence marker
// =============================================================================

// ExecutionRecord proves that one occurrence of one automation has been
// realized as a transaction. The (AutomationID, Date) key is unique
// forever; this uniqueness is the sole at-most-once mechanism.
type ExecutionRecord struct {
	AutomationID  AutomationID
	Date          Date
	TransactionID TransactionID
	RecordedAt    time.Time
}

// ExecutionKey builds the deterministic key for an occurrence.
func ExecutionKey(id AutomationID, date Date) string {
	return string(id) + "@" + date.String()
}

// =============================================================================
// ACCOUNT / INVESTMENT POSITION - Incrementally maintained aggregates
// =============================================================================

type Account struct {
	ID       AccountID
	UserID   UserID
	Name     string
	Currency string
	Balance  decimal.Decimal
}

// InvestmentPosition tracks quantity and the volume-weighted average
// purchase price, recomputed on every buy.
type InvestmentPosition struct {
	ID               InvestmentID
	UserID           UserID
	Name             string
	Symbol           string
	Currency         string
	Quantity         decimal.Decimal
	AvgPurchasePrice decimal.Decimal
}

// =============================================================================
// RUN SUMMARY - Observable outcome of one runner invocation
// =============================================================================

type RunError struct {
	AutomationID AutomationID `json:"automation_id"`
	Message      string       `json:"message"`

	// Blocking marks a failure that halted the automation's checkpoint:
	// an occurrence whose effects could not be applied. These require
	// attention; they are retried every run until resolved.
	Blocking bool `json:"blocking"`
}

type RunSummary struct {
	RunID                string     `json:"run_id"`
	AsOf                 Date       `json:"-"`
	AutomationsProcessed int        `json:"automations_processed"`
	TransactionsCreated  int        `json:"transactions_created"`
	Errors               []RunError `json:"errors"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          time.Time  `json:"completed_at"`
}
