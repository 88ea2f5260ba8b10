/*
errors.go - Centralized error types for the automation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is / errors.As; the runner uses the
  classification to decide whether to skip, retry, or halt a checkpoint.

ERROR CATEGORIES:
  1. Configuration errors - bad cadence/anchor/reference values.
     Non-retryable. The automation is skipped, the run continues.
  2. Duplicate execution - a concurrent runner already realized the
     occurrence. Expected, non-fatal, treated as success.
  3. Failed preconditions - e.g. missing investment price. Retryable on a
     later run; the checkpoint must not advance past the occurrence.
  4. Transient storage errors - I/O failures. Safe to retry because the
     execution record is always the last write.

USAGE:
    if engine.IsDuplicate(err) {
        // lost the race, the competing runner's effects already landed
    }

SEE ALSO:
  - runner.go: Error isolation and checkpoint policy
  - effects.go: Precondition failures
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is the root of all invalid-definition errors.
	ErrConfiguration = errors.New("invalid automation configuration")

	// ErrDuplicateExecution is returned when an execution record for the
	// (automation, date) key already exists. Expected under concurrent or
	// repeated runner invocations.
	ErrDuplicateExecution = errors.New("occurrence already executed")

	// ErrFailedPrecondition is returned when an effect cannot be applied
	// yet (e.g. no current price for an investment). Retryable later.
	ErrFailedPrecondition = errors.New("effect precondition not met")

	// ErrTransientStorage marks I/O failures that may succeed on retry.
	ErrTransientStorage = errors.New("transient storage failure")

	// ErrAutomationNotFound is returned for unknown automation references.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrAccountNotFound is returned for unknown account references.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvestmentNotFound is returned for unknown investment references.
	ErrInvestmentNotFound = errors.New("investment not found")

	// ErrPriceUnavailable is returned by a PriceSource that has no current
	// price for an investment. A valid, handled state.
	ErrPriceUnavailable = errors.New("no current price available")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError describes an invalid automation definition.
type ConfigurationError struct {
	AutomationID AutomationID
	Field        string
	Value        string
	Message      string
}

func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("configuration error on %s=%s: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("configuration error on %s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DuplicateExecutionError identifies the occurrence that was already
// realized and, when known, the transaction that realized it.
type DuplicateExecutionError struct {
	AutomationID  AutomationID
	Date          Date
	TransactionID TransactionID
}

func (e *DuplicateExecutionError) Error() string {
	return fmt.Sprintf("occurrence %s already executed (tx: %s)",
		ExecutionKey(e.AutomationID, e.Date), e.TransactionID)
}

func (e *DuplicateExecutionError) Unwrap() error { return ErrDuplicateExecution }

// PreconditionError describes an effect that could not be applied.
type PreconditionError struct {
	AutomationID AutomationID
	InvestmentID InvestmentID
	Reason       string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot apply effect for automation %s: %s", e.AutomationID, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrFailedPrecondition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfiguration reports whether the error is a non-retryable definition error.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsDuplicate reports whether the error is a lost execution race.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicateExecution) }

// IsRetryable reports whether a later run might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFailedPrecondition) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrTransientStorage)
}

// IsNotFound reports whether the error indicates a missing referenced entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInvestmentNotFound)
}
