package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/automation-engine/engine"
	"github.com/ledgerline/automation-engine/engine/store"
)

func newApplier(m *store.Memory) *engine.Applier {
	return engine.NewApplier(m, m, m)
}

func tx(txType engine.TransactionType, amount int64) engine.Transaction {
	return engine.Transaction{
		ID:        "tx-1",
		UserID:    "user-1",
		Type:      txType,
		Amount:    decimal.NewFromInt(amount),
		Currency:  "EUR",
		Date:      date(2024, time.March, 1),
		AccountID: "acc-checking",
		CreatedAt: time.Now().UTC(),
	}
}

// =============================================================================
// ACCOUNT EFFECTS
// =============================================================================

func TestApply_Income_CreditsAccount(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)

	if _, err := newApplier(m).Apply(ctx, tx(engine.TxIncome, 200)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance := mustBalance(t, m, "acc-checking")
	if !balance.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("expected 1200, got %s", balance)
	}
}

func TestApply_Income_NoAccount_NoEffect(t *testing.T) {
	// Income without a destination account is a pure ledger entry.
	ctx := context.Background()
	m := newTestStore(t)

	entry := tx(engine.TxIncome, 200)
	entry.AccountID = ""
	if _, err := newApplier(m).Apply(ctx, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance := mustBalance(t, m, "acc-checking")
	if !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected balance untouched at 1000, got %s", balance)
	}
}

func TestApply_Expense_DebitsAccount(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)

	if _, err := newApplier(m).Apply(ctx, tx(engine.TxExpense, 300)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance := mustBalance(t, m, "acc-checking")
	if !balance.Equal(decimal.NewFromInt(700)) {
		t.Errorf("expected 700, got %s", balance)
	}
}

func TestApply_Expense_MayGoNegative(t *testing.T) {
	// Overdrafts are permitted; automations execute regardless of balance.
	ctx := context.Background()
	m := newTestStore(t)

	if _, err := newApplier(m).Apply(ctx, tx(engine.TxExpense, 1500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance := mustBalance(t, m, "acc-checking")
	if !balance.Equal(decimal.NewFromInt(-500)) {
		t.Errorf("expected -500, got %s", balance)
	}
}

func TestApply_Transfer_MovesBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)

	entry := tx(engine.TxTransfer, 400)
	entry.ToAccountID = "acc-savings"
	if _, err := newApplier(m).Apply(ctx, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checking := mustBalance(t, m, "acc-checking")
	savings := mustBalance(t, m, "acc-savings")
	if !checking.Equal(decimal.NewFromInt(600)) {
		t.Errorf("expected checking 600, got %s", checking)
	}
	if !savings.Equal(decimal.NewFromInt(400)) {
		t.Errorf("expected savings 400, got %s", savings)
	}
}

// =============================================================================
// INVESTMENT PURCHASES
// =============================================================================

func TestApply_InvestmentBuy_WeightedAverageCost(t *testing.T) {
	// GIVEN: Two buys of 100 at prices 10 then 20
	// WHEN: Both are applied
	// THEN: Quantity is 10 + 5 = 15 and the average purchase price is
	//       total cost / total quantity = 200/15, not the price midpoint

	ctx := context.Background()
	m := newTestStore(t)
	applier := newApplier(m)

	buy := tx(engine.TxInvestmentBuy, 100)
	buy.InvestmentID = "inv-etf"

	m.SetPrice("inv-etf", decimal.NewFromInt(10))
	if _, err := applier.Apply(ctx, buy); err != nil {
		t.Fatalf("first buy: %v", err)
	}

	m.SetPrice("inv-etf", decimal.NewFromInt(20))
	if _, err := applier.Apply(ctx, buy); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	position, err := m.GetInvestment(ctx, "inv-etf")
	if err != nil {
		t.Fatalf("loading position: %v", err)
	}
	if !position.Quantity.Equal(decimal.NewFromInt(15)) {
		t.Errorf("expected quantity 15, got %s", position.Quantity)
	}

	wantAvg := decimal.NewFromInt(200).Div(decimal.NewFromInt(15))
	if !position.AvgPurchasePrice.Equal(wantAvg) {
		t.Errorf("expected avg price %s, got %s", wantAvg, position.AvgPurchasePrice)
	}

	// Both buys debited the funding account.
	balance := mustBalance(t, m, "acc-checking")
	if !balance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("expected balance 800, got %s", balance)
	}
}

func TestApply_InvestmentBuy_NoPrice_FailsPrecondition(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)

	buy := tx(engine.TxInvestmentBuy, 100)
	buy.InvestmentID = "inv-etf"

	_, err := newApplier(m).Apply(ctx, buy)
	if !errors.Is(err, engine.ErrFailedPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	// Failed precondition is checked before any debit.
	balance := mustBalance(t, m, "acc-checking")
	if !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected balance untouched, got %s", balance)
	}
}

func TestApply_InvestmentBuy_NonPositivePrice_FailsPrecondition(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)
	m.SetPrice("inv-etf", decimal.Zero)

	buy := tx(engine.TxInvestmentBuy, 100)
	buy.InvestmentID = "inv-etf"

	_, err := newApplier(m).Apply(ctx, buy)
	if !errors.Is(err, engine.ErrFailedPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

// =============================================================================
// UNDO AND LEG COMPENSATION
// =============================================================================

// flakyAccounts rejects balance deltas for one account while tripped.
type flakyAccounts struct {
	engine.AccountStore
	failFor engine.AccountID
	tripped bool
}

func (f *flakyAccounts) ApplyBalanceDelta(ctx context.Context, id engine.AccountID, delta decimal.Decimal) error {
	if f.tripped && id == f.failFor {
		return engine.ErrTransientStorage
	}
	return f.AccountStore.ApplyBalanceDelta(ctx, id, delta)
}

// failingInvestments rejects every position mutation.
type failingInvestments struct {
	engine.InvestmentStore
}

func (failingInvestments) ApplyPurchase(context.Context, engine.InvestmentID, decimal.Decimal, decimal.Decimal) error {
	return engine.ErrTransientStorage
}

func TestApply_Transfer_UndoRestoresBothLegs(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)

	entry := tx(engine.TxTransfer, 400)
	entry.ToAccountID = "acc-savings"
	undo, err := newApplier(m).Apply(ctx, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}

	if balance := mustBalance(t, m, "acc-checking"); !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected checking restored to 1000, got %s", balance)
	}
	if balance := mustBalance(t, m, "acc-savings"); !balance.IsZero() {
		t.Errorf("expected savings restored to 0, got %s", balance)
	}
}

func TestApply_Transfer_CreditFailure_RestoresSourceDebit(t *testing.T) {
	// GIVEN: A destination account whose credit fails
	// WHEN: The transfer is applied
	// THEN: The source debit is put back, so neither balance moved

	ctx := context.Background()
	m := newTestStore(t)
	accounts := &flakyAccounts{AccountStore: m, failFor: "acc-savings", tripped: true}
	applier := engine.NewApplier(accounts, m, m)

	entry := tx(engine.TxTransfer, 400)
	entry.ToAccountID = "acc-savings"
	_, err := applier.Apply(ctx, entry)
	if !errors.Is(err, engine.ErrTransientStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}

	if balance := mustBalance(t, m, "acc-checking"); !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected source debit reverted to 1000, got %s", balance)
	}
	if balance := mustBalance(t, m, "acc-savings"); !balance.IsZero() {
		t.Errorf("expected destination untouched at 0, got %s", balance)
	}
}

func TestApply_InvestmentBuy_UndoRestoresPositionAndBalance(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)
	m.SetPrice("inv-etf", decimal.NewFromInt(20))

	buy := tx(engine.TxInvestmentBuy, 100)
	buy.InvestmentID = "inv-etf"
	undo, err := newApplier(m).Apply(ctx, buy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}

	position, err := m.GetInvestment(ctx, "inv-etf")
	if err != nil {
		t.Fatalf("loading position: %v", err)
	}
	if !position.Quantity.IsZero() {
		t.Errorf("expected quantity restored to 0, got %s", position.Quantity)
	}
	if balance := mustBalance(t, m, "acc-checking"); !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected balance restored to 1000, got %s", balance)
	}
}

func TestApply_InvestmentBuy_PositionFailure_RestoresDebit(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t)
	m.SetPrice("inv-etf", decimal.NewFromInt(20))
	applier := engine.NewApplier(m, failingInvestments{m}, m)

	buy := tx(engine.TxInvestmentBuy, 100)
	buy.InvestmentID = "inv-etf"
	_, err := applier.Apply(ctx, buy)
	if !errors.Is(err, engine.ErrTransientStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}

	if balance := mustBalance(t, m, "acc-checking"); !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected funding debit reverted to 1000, got %s", balance)
	}
}
