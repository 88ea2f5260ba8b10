/*
snapshot.go - Daily snapshot aggregator

PURPOSE:
  Produces the derived read-model row dashboards query: one row per
  (user, date) summarizing committed balances, positions, and the day's
  ledger activity. The aggregator is read-only with respect to the
  runner's writes and runs on its own schedule; it has no idempotence
  machinery of its own because the write is an upsert by key.

DERIVED DATA:
  Snapshot rows can always be rebuilt from accounts, positions, and the
  transaction ledger. Losing them loses nothing.

SEE ALSO:
  - store.go: SnapshotStore upsert contract
  - runner.go: The producer of the state this consumes
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DailySnapshot is one read-model row, keyed (UserID, Date).
type DailySnapshot struct {
	UserID UserID
	Date   Date

	// Sum of account balances as of aggregation time.
	TotalBalance decimal.Decimal

	// Ledger activity on Date, stored as positive numbers.
	DayIncome   decimal.Decimal
	DayExpense  decimal.Decimal
	DayInvested decimal.Decimal

	// Positions valued at current price, falling back to the average
	// purchase price when no current price exists.
	InvestmentValue decimal.Decimal

	TransactionCount int
	UpdatedAt        time.Time
}

// Aggregator builds daily snapshots from committed state.
type Aggregator struct {
	Accounts     AccountStore
	Investments  InvestmentStore
	Transactions TransactionStore
	Snapshots    SnapshotStore
	Prices       PriceSource
}

func NewAggregator(store Store, prices PriceSource) *Aggregator {
	return &Aggregator{
		Accounts:     store,
		Investments:  store,
		Transactions: store,
		Snapshots:    store,
		Prices:       prices,
	}
}

// AggregateDay computes and upserts the snapshot for one user and date.
// Re-running for the same key replaces the previous row.
func (ag *Aggregator) AggregateDay(ctx context.Context, userID UserID, date Date) (*DailySnapshot, error) {
	snap := &DailySnapshot{
		UserID:          userID,
		Date:            date,
		TotalBalance:    decimal.Zero,
		DayIncome:       decimal.Zero,
		DayExpense:      decimal.Zero,
		DayInvested:     decimal.Zero,
		InvestmentValue: decimal.Zero,
		UpdatedAt:       time.Now().UTC(),
	}

	accounts, err := ag.Accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		snap.TotalBalance = snap.TotalBalance.Add(a.Balance)
	}

	positions, err := ag.Investments.ListInvestments(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		price := p.AvgPurchasePrice
		if current, err := ag.Prices.CurrentPrice(ctx, p.ID); err == nil && current.IsPositive() {
			price = current
		} else if err != nil && !errors.Is(err, ErrPriceUnavailable) {
			return nil, err
		}
		snap.InvestmentValue = snap.InvestmentValue.Add(p.Quantity.Mul(price))
	}

	txs, err := ag.Transactions.ListTransactions(ctx, userID, date, date)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		snap.TransactionCount++
		switch tx.Type {
		case TxIncome:
			snap.DayIncome = snap.DayIncome.Add(tx.Amount)
		case TxExpense:
			snap.DayExpense = snap.DayExpense.Add(tx.Amount)
		case TxInvestmentBuy:
			snap.DayInvested = snap.DayInvested.Add(tx.Amount)
		case TxTransfer:
			// Internal movement: net zero for the user, not income or expense.
		}
	}

	if err := ag.Snapshots.UpsertSnapshot(ctx, *snap); err != nil {
		return nil, err
	}
	return snap, nil
}
