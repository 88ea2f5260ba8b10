package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/automation-engine/engine"
)

func newTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAccount(t *testing.T, s *Store, id string, balance int64) {
	t.Helper()
	err := s.SaveAccount(context.Background(), engine.Account{
		ID: engine.AccountID(id), UserID: "user-1", Name: id,
		Currency: "EUR", Balance: decimal.NewFromInt(balance),
	})
	require.NoError(t, err)
}

// =============================================================================
// AUTOMATIONS
// =============================================================================

func TestAutomation_SaveAndLoadRoundTrip(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	checkpoint := engine.NewDate(2024, time.February, 1)
	a := engine.Automation{
		ID:       "auto-1",
		UserID:   "user-1",
		Name:     "Yearly insurance",
		Kind:     engine.KindExpense,
		Amount:   decimal.RequireFromString("349.90"),
		Currency: "EUR",
		Cadence: engine.Cadence{
			Type:        engine.CadenceYearly,
			AnchorDay:   15,
			AnchorMonth: time.June,
		},
		AccountID:           "acc-checking",
		CategoryID:          "cat-insurance",
		Note:                "Household policy",
		Active:              true,
		LastExecutedThrough: &checkpoint,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, s.SaveAutomation(ctx, a))

	loaded, err := s.GetAutomation(ctx, "auto-1")
	require.NoError(t, err)

	assert.Equal(t, a.Name, loaded.Name)
	assert.Equal(t, a.Kind, loaded.Kind)
	assert.True(t, loaded.Amount.Equal(a.Amount), "amount should survive as exact decimal")
	assert.Equal(t, engine.CadenceYearly, loaded.Cadence.Type)
	assert.Equal(t, 15, loaded.Cadence.AnchorDay)
	assert.Equal(t, time.June, loaded.Cadence.AnchorMonth)
	require.NotNil(t, loaded.LastExecutedThrough)
	assert.Equal(t, "2024-02-01", loaded.LastExecutedThrough.String())
}

func TestAutomation_GetMissing_NotFound(t *testing.T) {
	s := newTestDB(t)

	_, err := s.GetAutomation(context.Background(), "nope")
	assert.ErrorIs(t, err, engine.ErrAutomationNotFound)
}

func TestAutomation_SetActiveAndAdvanceCheckpoint(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAutomation(ctx, engine.Automation{
		ID: "auto-1", UserID: "user-1", Name: "Rent",
		Kind: engine.KindExpense, Amount: decimal.NewFromInt(900), Currency: "EUR",
		Cadence:   engine.Cadence{Type: engine.CadenceMonthly, AnchorDay: 1},
		AccountID: "acc-checking", Active: true, CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, s.SetAutomationActive(ctx, "auto-1", false))
	loaded, err := s.GetAutomation(ctx, "auto-1")
	require.NoError(t, err)
	assert.False(t, loaded.Active)

	require.NoError(t, s.AdvanceCheckpoint(ctx, "auto-1", engine.NewDate(2024, time.March, 15)))
	loaded, err = s.GetAutomation(ctx, "auto-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.LastExecutedThrough)
	assert.Equal(t, "2024-03-15", loaded.LastExecutedThrough.String())

	assert.ErrorIs(t, s.SetAutomationActive(ctx, "nope", true), engine.ErrAutomationNotFound)
	assert.ErrorIs(t, s.AdvanceCheckpoint(ctx, "nope", engine.Today()), engine.ErrAutomationNotFound)
}

// =============================================================================
// EXECUTIONS (idempotence constraint)
// =============================================================================

func TestRecordExecution_DuplicateKey_ReturnsDuplicateError(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	rec := engine.ExecutionRecord{
		AutomationID:  "auto-1",
		Date:          engine.NewDate(2024, time.March, 1),
		TransactionID: "tx-1",
		RecordedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.RecordExecution(ctx, rec))

	rec.TransactionID = "tx-2"
	err := s.RecordExecution(ctx, rec)
	require.Error(t, err)

	var dup *engine.DuplicateExecutionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, engine.AutomationID("auto-1"), dup.AutomationID)
	assert.Equal(t, "2024-03-01", dup.Date.String())
	assert.Equal(t, engine.TransactionID("tx-1"), dup.TransactionID, "loser should learn the winner's transaction")
	assert.ErrorIs(t, err, engine.ErrDuplicateExecution)
}

func TestRecordExecution_SameAutomationDifferentDates_Allowed(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	for _, day := range []int{1, 2, 3} {
		err := s.RecordExecution(ctx, engine.ExecutionRecord{
			AutomationID:  "auto-1",
			Date:          engine.NewDate(2024, time.March, day),
			TransactionID: engine.TransactionID("tx-" + string(rune('0'+day))),
			RecordedAt:    time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	done, err := s.HasExecuted(ctx, "auto-1", engine.NewDate(2024, time.March, 2))
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.HasExecuted(ctx, "auto-1", engine.NewDate(2024, time.March, 4))
	require.NoError(t, err)
	assert.False(t, done)
}

// =============================================================================
// BALANCE DELTAS
// =============================================================================

func TestApplyBalanceDelta_ConcurrentDeltas_NoLostUpdates(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	seedAccount(t, s, "acc-checking", 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ApplyBalanceDelta(ctx, "acc-checking", decimal.NewFromInt(5))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	account, err := s.GetAccount(ctx, "acc-checking")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)),
		"expected 100, got %s", account.Balance)
}

func TestApplyBalanceDelta_PreservesDecimalPrecision(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	seedAccount(t, s, "acc-checking", 0)

	// 0.1 added ten times must be exactly 1, not 0.9999999999999999.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.ApplyBalanceDelta(ctx, "acc-checking", decimal.RequireFromString("0.1")))
	}

	account, err := s.GetAccount(ctx, "acc-checking")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(1)),
		"expected exactly 1, got %s", account.Balance)
}

func TestApplyBalanceDelta_MissingAccount(t *testing.T) {
	s := newTestDB(t)
	err := s.ApplyBalanceDelta(context.Background(), "nope", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, engine.ErrAccountNotFound)
}

// =============================================================================
// INVESTMENT PURCHASES
// =============================================================================

func TestApplyPurchase_RecomputesWeightedAverage(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInvestment(ctx, engine.InvestmentPosition{
		ID: "inv-etf", UserID: "user-1", Name: "World ETF", Currency: "EUR",
		Quantity: decimal.Zero, AvgPurchasePrice: decimal.Zero,
	}))

	// 10 units for 100, then 5 units for 100.
	require.NoError(t, s.ApplyPurchase(ctx, "inv-etf", decimal.NewFromInt(10), decimal.NewFromInt(100)))
	require.NoError(t, s.ApplyPurchase(ctx, "inv-etf", decimal.NewFromInt(5), decimal.NewFromInt(100)))

	position, err := s.GetInvestment(ctx, "inv-etf")
	require.NoError(t, err)
	assert.True(t, position.Quantity.Equal(decimal.NewFromInt(15)))

	wantAvg := decimal.NewFromInt(200).Div(decimal.NewFromInt(15))
	assert.True(t, position.AvgPurchasePrice.Equal(wantAvg),
		"expected %s, got %s", wantAvg, position.AvgPurchasePrice)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransactions_ListByUserAndDateRange(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	insert := func(id string, user string, day int) {
		require.NoError(t, s.InsertTransaction(ctx, engine.Transaction{
			ID: engine.TransactionID(id), UserID: engine.UserID(user),
			Type: engine.TxExpense, Amount: decimal.NewFromInt(10), Currency: "EUR",
			Date: engine.NewDate(2024, time.March, day), AccountID: "acc-checking",
			CreatedAt: time.Now().UTC(),
		}))
	}
	insert("tx-1", "user-1", 1)
	insert("tx-2", "user-1", 5)
	insert("tx-3", "user-1", 20)
	insert("tx-4", "user-2", 5)

	txs, err := s.ListTransactions(ctx, "user-1",
		engine.NewDate(2024, time.March, 1), engine.NewDate(2024, time.March, 10))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, engine.TransactionID("tx-1"), txs[0].ID)
	assert.Equal(t, engine.TransactionID("tx-2"), txs[1].ID)
}

func TestTransactions_DeleteOrphan(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTransaction(ctx, engine.Transaction{
		ID: "tx-orphan", UserID: "user-1", Type: engine.TxExpense,
		Amount: decimal.NewFromInt(10), Currency: "EUR",
		Date: engine.NewDate(2024, time.March, 1), AccountID: "acc-checking",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.DeleteTransaction(ctx, "tx-orphan"))

	txs, err := s.ListTransactions(ctx, "user-1",
		engine.NewDate(2024, time.March, 1), engine.NewDate(2024, time.March, 1))
	require.NoError(t, err)
	assert.Empty(t, txs)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSnapshots_UpsertOverwritesByKey(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	day := engine.NewDate(2024, time.March, 1)

	snap := engine.DailySnapshot{
		UserID: "user-1", Date: day,
		TotalBalance: decimal.NewFromInt(1000), DayIncome: decimal.Zero,
		DayExpense: decimal.Zero, DayInvested: decimal.Zero,
		InvestmentValue: decimal.Zero, TransactionCount: 0,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	snap.TotalBalance = decimal.NewFromInt(1200)
	snap.TransactionCount = 3
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	rows, err := s.ListSnapshots(ctx, "user-1", day, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].TotalBalance.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, 3, rows[0].TransactionCount)

	loaded, err := s.GetSnapshot(ctx, "user-1", day)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 3, loaded.TransactionCount)
}

func TestSnapshots_GetMissing_ReturnsNil(t *testing.T) {
	s := newTestDB(t)
	loaded, err := s.GetSnapshot(context.Background(), "user-1", engine.Today())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

// =============================================================================
// RUNS AND PRICES
// =============================================================================

func TestRuns_SaveAndListNewestFirst(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		require.NoError(t, s.SaveRun(ctx, engine.RunSummary{
			RunID: id, AsOf: engine.NewDate(2024, time.March, 1+i),
			AutomationsProcessed: i + 1, TransactionsCreated: i,
			Errors: []engine.RunError{
				{AutomationID: "auto-1", Message: "no current price", Blocking: true},
			},
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			CompletedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID)
	require.Len(t, runs[0].Errors, 1)
	assert.True(t, runs[0].Errors[0].Blocking)
}

func TestPrices_CurrentPriceLifecycle(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	_, err := s.CurrentPrice(ctx, "inv-etf")
	assert.ErrorIs(t, err, engine.ErrPriceUnavailable)

	require.NoError(t, s.SetPrice(ctx, "inv-etf", decimal.RequireFromString("101.25")))
	price, err := s.CurrentPrice(ctx, "inv-etf")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("101.25")))

	// Overwrite.
	require.NoError(t, s.SetPrice(ctx, "inv-etf", decimal.NewFromInt(99)))
	price, err = s.CurrentPrice(ctx, "inv-etf")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(99)))
}
