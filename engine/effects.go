/*
effects.go - The ledger effect applier

PURPOSE:
  Given a transaction produced from an automation occurrence, compute and
  apply the balance and position deltas for the involved accounts and
  investments.

EFFECTS BY TYPE:
  income:          destination balance += amount (no-op without an account)
  expense:         source balance -= amount
  transfer:        source -= amount, destination += amount
  investment_buy:  source -= amount,
                   quantity += amount / current_price,
                   avg = (old_qty*old_avg + amount) / new_qty

COMPENSATION:
  Multi-leg effects apply jointly or not at all: when a later leg fails,
  Apply puts the already-applied legs back before returning, so a retried
  occurrence never starts from a half-applied state. A successful Apply
  returns an undo that applies the exact inverse deltas; the runner uses
  it when a concurrent runner wins the execution-record race after this
  runner's effects already landed.

ORDERING:
  Effects are applied only after the transaction is durably written and
  before the execution record. An occurrence that fails or is superseded
  leaves no effect behind: failed legs are compensated here, superseded
  occurrences are undone by the runner, and the orphaned transaction is
  then removed.

PRECONDITIONS:
  investment_buy fails with a retryable precondition error when the price
  source has no current price or reports a non-positive one.

SEE ALSO:
  - runner.go: Write ordering, the lost-race undo, orphan handling
  - store.go: Atomic delta contracts
*/
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Applier mutates accounts and investment positions for one transaction.
// Balances are never cached across occurrences: every occurrence hits the
// store's atomic delta operations directly.
type Applier struct {
	Accounts    AccountStore
	Investments InvestmentStore
	Prices      PriceSource
}

func NewApplier(accounts AccountStore, investments InvestmentStore, prices PriceSource) *Applier {
	return &Applier{Accounts: accounts, Investments: investments, Prices: prices}
}

// Undo applies the exact inverse of a successfully applied effect.
type Undo func(ctx context.Context) error

// noEffect is the undo for effects that moved nothing.
func noEffect(context.Context) error { return nil }

// Apply performs the balance/position mutations for tx. On success the
// returned undo takes every delta back out. On error, nothing remains
// applied: partially applied legs have already been compensated.
func (ap *Applier) Apply(ctx context.Context, tx Transaction) (Undo, error) {
	switch tx.Type {
	case TxIncome:
		if tx.AccountID == "" {
			// Pure income without a named account: recorded in the
			// ledger, no balance effect.
			return noEffect, nil
		}
		if err := ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount); err != nil {
			return nil, err
		}
		return ap.balanceUndo(tx.AccountID, tx.Amount.Neg()), nil

	case TxExpense:
		if err := ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount.Neg()); err != nil {
			return nil, err
		}
		return ap.balanceUndo(tx.AccountID, tx.Amount), nil

	case TxTransfer:
		return ap.applyTransfer(ctx, tx)

	case TxInvestmentBuy:
		return ap.applyPurchase(ctx, tx)

	default:
		return nil, &PreconditionError{
			AutomationID: tx.AutomationID,
			Reason:       fmt.Sprintf("no effect defined for transaction type %q", tx.Type),
		}
	}
}

// applyTransfer moves amount between two accounts. Both legs land or
// neither does: a failed destination credit puts the source debit back
// before the error surfaces.
func (ap *Applier) applyTransfer(ctx context.Context, tx Transaction) (Undo, error) {
	if err := ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount.Neg()); err != nil {
		return nil, err
	}
	if err := ap.Accounts.ApplyBalanceDelta(ctx, tx.ToAccountID, tx.Amount); err != nil {
		if cerr := ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount); cerr != nil {
			return nil, fmt.Errorf("transfer credit failed (%v) and source compensation failed: %w", err, cerr)
		}
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := ap.Accounts.ApplyBalanceDelta(ctx, tx.ToAccountID, tx.Amount.Neg()); err != nil {
			return err
		}
		return ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount)
	}, nil
}

func (ap *Applier) applyPurchase(ctx context.Context, tx Transaction) (Undo, error) {
	price, err := ap.Prices.CurrentPrice(ctx, tx.InvestmentID)
	if err != nil {
		if errors.Is(err, ErrPriceUnavailable) {
			return nil, &PreconditionError{
				AutomationID: tx.AutomationID,
				InvestmentID: tx.InvestmentID,
				Reason:       "no current price for investment",
			}
		}
		return nil, err
	}
	if !price.IsPositive() {
		return nil, &PreconditionError{
			AutomationID: tx.AutomationID,
			InvestmentID: tx.InvestmentID,
			Reason:       fmt.Sprintf("non-positive price %s for investment", price),
		}
	}

	if err := ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount.Neg()); err != nil {
		return nil, err
	}
	quantity := tx.Amount.Div(price)
	if err := ap.Investments.ApplyPurchase(ctx, tx.InvestmentID, quantity, tx.Amount); err != nil {
		if cerr := ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount); cerr != nil {
			return nil, fmt.Errorf("purchase failed (%v) and balance compensation failed: %w", err, cerr)
		}
		return nil, err
	}
	// The undo folds the negated buy back through the position, using the
	// quantity that was actually applied, not a re-read of the price feed.
	return func(ctx context.Context) error {
		if err := ap.Investments.ApplyPurchase(ctx, tx.InvestmentID, quantity.Neg(), tx.Amount.Neg()); err != nil {
			return err
		}
		return ap.Accounts.ApplyBalanceDelta(ctx, tx.AccountID, tx.Amount)
	}, nil
}

func (ap *Applier) balanceUndo(id AccountID, delta decimal.Decimal) Undo {
	return func(ctx context.Context) error {
		return ap.Accounts.ApplyBalanceDelta(ctx, id, delta)
	}
}
