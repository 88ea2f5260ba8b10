/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements engine.Store and engine.PriceSource using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

IDEMPOTENCE ENFORCEMENT:
  The executions table carries a primary key on
  (automation_id, occurrence_date). RecordExecution translates the
  constraint violation into engine.DuplicateExecutionError; this single
  durable constraint is what makes concurrent and repeated runner
  invocations safe.

ATOMIC BALANCE DELTAS:
  ApplyBalanceDelta and ApplyPurchase run read-modify-write inside a
  database transaction under the store mutex, so the lost-update window
  of naive load-then-store is closed. Amounts are stored as decimal
  strings, never floats.

KEY TABLES:
  automations:     Recurring instructions and their checkpoints
  accounts:        Current balances
  investments:     Position quantity and average purchase price
  transactions:    The shared financial ledger
  executions:      (automation_id, occurrence_date) idempotence keys
  automation_runs: Run summaries for the ops dashboard
  daily_snapshots: The aggregator's read model, keyed (user_id, date)
  prices:          Current investment prices (externally supplied)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/automations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/automation-engine/engine"
)

// Store implements engine.Store and engine.PriceSource using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ engine.Store = (*Store)(nil)
var _ engine.PriceSource = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Automations (recurring instructions)
	CREATE TABLE IF NOT EXISTS automations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		cadence_type TEXT NOT NULL,
		anchor_day INTEGER NOT NULL,
		anchor_month INTEGER DEFAULT 0,
		account_id TEXT,
		to_account_id TEXT,
		investment_id TEXT,
		category_id TEXT,
		note TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_executed_through TEXT,
		next_expected TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_automations_user
		ON automations(user_id);
	CREATE INDEX IF NOT EXISTS idx_automations_active
		ON automations(active);

	-- Accounts (current balances, mutated additively)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user
		ON accounts(user_id);

	-- Investment positions (quantity + weighted average purchase price)
	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		symbol TEXT,
		currency TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		avg_purchase_price TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_investments_user
		ON investments(user_id);

	-- Transactions (the shared financial ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		account_id TEXT,
		to_account_id TEXT,
		investment_id TEXT,
		category_id TEXT,
		note TEXT,
		automation_id TEXT,
		execution_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_date
		ON transactions(user_id, tx_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_automation
		ON transactions(automation_id) WHERE automation_id IS NOT NULL;

	-- CRITICAL: the idempotence linchpin. At most one execution record
	-- per (automation, occurrence date) ever exists; concurrent runners
	-- race on this constraint and exactly one wins.
	CREATE TABLE IF NOT EXISTS executions (
		automation_id TEXT NOT NULL,
		occurrence_date TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (automation_id, occurrence_date)
	);

	-- Run summaries (for the operational dashboard)
	CREATE TABLE IF NOT EXISTS automation_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		automations_processed INTEGER NOT NULL,
		transactions_created INTEGER NOT NULL,
		errors_json TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_automation_runs_started
		ON automation_runs(started_at DESC);

	-- Daily snapshots (derived read model, rebuildable from the ledger)
	CREATE TABLE IF NOT EXISTS daily_snapshots (
		user_id TEXT NOT NULL,
		snapshot_date TEXT NOT NULL,
		total_balance TEXT NOT NULL,
		day_income TEXT NOT NULL,
		day_expense TEXT NOT NULL,
		day_invested TEXT NOT NULL,
		investment_value TEXT NOT NULL,
		transaction_count INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, snapshot_date)
	);

	-- Current prices (externally supplied feed)
	CREATE TABLE IF NOT EXISTS prices (
		investment_id TEXT PRIMARY KEY,
		price TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// AUTOMATIONS (engine.AutomationStore)
// =============================================================================

func (s *Store) ListAutomations(ctx context.Context) ([]engine.Automation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, kind, amount, currency, cadence_type,
		       anchor_day, anchor_month, account_id, to_account_id,
		       investment_id, category_id, note, active,
		       last_executed_through, next_expected, created_at
		FROM automations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var result []engine.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *Store) GetAutomation(ctx context.Context, id engine.AutomationID) (*engine.Automation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, kind, amount, currency, cadence_type,
		       anchor_day, anchor_month, account_id, to_account_id,
		       investment_id, category_id, note, active,
		       last_executed_through, next_expected, created_at
		FROM automations WHERE id = ?`, id)

	a, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrAutomationNotFound
	}
	return a, err
}

func (s *Store) SaveAutomation(ctx context.Context, a engine.Automation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO automations
		(id, user_id, name, kind, amount, currency, cadence_type, anchor_day,
		 anchor_month, account_id, to_account_id, investment_id, category_id,
		 note, active, last_executed_through, next_expected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Kind, a.Amount.String(), a.Currency,
		a.Cadence.Type, a.Cadence.AnchorDay, int(a.Cadence.AnchorMonth),
		nullString(string(a.AccountID)), nullString(string(a.ToAccountID)),
		nullString(string(a.InvestmentID)), nullString(string(a.CategoryID)),
		a.Note, a.Active, nullDate(a.LastExecutedThrough), nullDate(a.NextExpected),
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}
	return nil
}

func (s *Store) SetAutomationActive(ctx context.Context, id engine.AutomationID, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE automations SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}
	return requireRow(res, engine.ErrAutomationNotFound)
}

func (s *Store) AdvanceCheckpoint(ctx context.Context, id engine.AutomationID, through engine.Date) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automations SET last_executed_through = ? WHERE id = ?`,
		through.String(), id)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return requireRow(res, engine.ErrAutomationNotFound)
}

// =============================================================================
// ACCOUNTS (engine.AccountStore)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id engine.AccountID) (*engine.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, currency, balance FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *Store) ListAccounts(ctx context.Context, userID engine.UserID) ([]engine.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, currency, balance FROM accounts WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var result []engine.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *Store) SaveAccount(ctx context.Context, a engine.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO accounts (id, user_id, name, currency, balance)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Currency, a.Balance.String())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// ApplyBalanceDelta adds delta to the stored balance. The read and write
// happen inside one database transaction under the store mutex, so
// concurrent deltas against the same account serialize instead of losing
// updates. Balances stay decimal strings; no float arithmetic.
func (s *Store) ApplyBalanceDelta(ctx context.Context, id engine.AccountID, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin balance update: %w", err)
	}
	defer tx.Rollback()

	var balanceStr string
	err = tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, id).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		return engine.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return fmt.Errorf("corrupt balance %q for account %s: %w", balanceStr, id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`,
		balance.Add(delta).String(), id); err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// INVESTMENTS (engine.InvestmentStore)
// =============================================================================

func (s *Store) GetInvestment(ctx context.Context, id engine.InvestmentID) (*engine.InvestmentPosition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, symbol, currency, quantity, avg_purchase_price
		FROM investments WHERE id = ?`, id)
	return scanInvestment(row)
}

func (s *Store) ListInvestments(ctx context.Context, userID engine.UserID) ([]engine.InvestmentPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, symbol, currency, quantity, avg_purchase_price
		FROM investments WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer rows.Close()

	var result []engine.InvestmentPosition
	for rows.Next() {
		p, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *Store) SaveInvestment(ctx context.Context, p engine.InvestmentPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO investments
		(id, user_id, name, symbol, currency, quantity, avg_purchase_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Symbol, p.Currency,
		p.Quantity.String(), p.AvgPurchasePrice.String())
	if err != nil {
		return fmt.Errorf("failed to save investment: %w", err)
	}
	return nil
}

// ApplyPurchase folds one buy into the position inside a database
// transaction: quantity grows by addQuantity and the average purchase
// price is recomputed volume-weighted.
func (s *Store) ApplyPurchase(ctx context.Context, id engine.InvestmentID, addQuantity, cost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin position update: %w", err)
	}
	defer tx.Rollback()

	var quantityStr, avgStr string
	err = tx.QueryRowContext(ctx,
		`SELECT quantity, avg_purchase_price FROM investments WHERE id = ?`, id).
		Scan(&quantityStr, &avgStr)
	if err == sql.ErrNoRows {
		return engine.ErrInvestmentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read position: %w", err)
	}

	quantity, err := decimal.NewFromString(quantityStr)
	if err != nil {
		return fmt.Errorf("corrupt quantity %q for investment %s: %w", quantityStr, id, err)
	}
	avg, err := decimal.NewFromString(avgStr)
	if err != nil {
		return fmt.Errorf("corrupt avg price %q for investment %s: %w", avgStr, id, err)
	}

	newQuantity := quantity.Add(addQuantity)
	if newQuantity.IsPositive() {
		avg = quantity.Mul(avg).Add(cost).Div(newQuantity)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE investments SET quantity = ?, avg_purchase_price = ? WHERE id = ?`,
		newQuantity.String(), avg.String(), id); err != nil {
		return fmt.Errorf("failed to write position: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// TRANSACTIONS (engine.TransactionStore)
// =============================================================================

func (s *Store) InsertTransaction(ctx context.Context, tx engine.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, tx_type, amount, currency, tx_date, account_id,
		 to_account_id, investment_id, category_id, note, automation_id,
		 execution_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount.String(), tx.Currency,
		tx.Date.String(),
		nullString(string(tx.AccountID)), nullString(string(tx.ToAccountID)),
		nullString(string(tx.InvestmentID)), nullString(string(tx.CategoryID)),
		tx.Note, nullString(string(tx.AutomationID)), nullString(tx.ExecutionKey),
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id engine.TransactionID) error {
	// Only ever called on orphans: transactions with no execution record.
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID engine.UserID, from, to engine.Date) ([]engine.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tx_type, amount, currency, tx_date, account_id,
		       to_account_id, investment_id, category_id, note, automation_id,
		       execution_key, created_at
		FROM transactions
		WHERE user_id = ? AND tx_date >= ? AND tx_date <= ?
		ORDER BY tx_date, created_at`,
		userID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var result []engine.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	return result, rows.Err()
}

// =============================================================================
// EXECUTIONS (engine.ExecutionStore)
// =============================================================================

func (s *Store) HasExecuted(ctx context.Context, id engine.AutomationID, date engine.Date) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM executions WHERE automation_id = ? AND occurrence_date = ?`,
		id, date.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe execution: %w", err)
	}
	return true, nil
}

func (s *Store) RecordExecution(ctx context.Context, rec engine.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (automation_id, occurrence_date, transaction_id, recorded_at)
		VALUES (?, ?, ?, ?)`,
		rec.AutomationID, rec.Date.String(), rec.TransactionID,
		rec.RecordedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			existing := s.existingExecutionTx(ctx, rec.AutomationID, rec.Date)
			return &engine.DuplicateExecutionError{
				AutomationID:  rec.AutomationID,
				Date:          rec.Date,
				TransactionID: existing,
			}
		}
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

func (s *Store) existingExecutionTx(ctx context.Context, id engine.AutomationID, date engine.Date) engine.TransactionID {
	var txID string
	err := s.db.QueryRowContext(ctx,
		`SELECT transaction_id FROM executions WHERE automation_id = ? AND occurrence_date = ?`,
		id, date.String()).Scan(&txID)
	if err != nil {
		return ""
	}
	return engine.TransactionID(txID)
}

// =============================================================================
// RUNS (engine.RunStore)
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, summary engine.RunSummary) error {
	errorsJSON, err := json.Marshal(summary.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode run errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO automation_runs
		(id, as_of, automations_processed, transactions_created, errors_json,
		 started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, summary.AsOf.String(),
		summary.AutomationsProcessed, summary.TransactionsCreated,
		string(errorsJSON),
		summary.StartedAt.UTC().Format(time.RFC3339),
		summary.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]engine.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, as_of, automations_processed, transactions_created,
		       errors_json, started_at, completed_at
		FROM automation_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []engine.RunSummary
	for rows.Next() {
		var (
			summary           engine.RunSummary
			asOf              string
			errorsJSON        sql.NullString
			startedAt, doneAt string
		)
		if err := rows.Scan(&summary.RunID, &asOf, &summary.AutomationsProcessed,
			&summary.TransactionsCreated, &errorsJSON, &startedAt, &doneAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if summary.AsOf, err = engine.ParseDate(asOf); err != nil {
			return nil, err
		}
		if errorsJSON.Valid && errorsJSON.String != "" && errorsJSON.String != "null" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &summary.Errors); err != nil {
				return nil, fmt.Errorf("corrupt errors for run %s: %w", summary.RunID, err)
			}
		}
		summary.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		summary.CompletedAt, _ = time.Parse(time.RFC3339, doneAt)
		result = append(result, summary)
	}
	return result, rows.Err()
}

// =============================================================================
// SNAPSHOTS (engine.SnapshotStore)
// =============================================================================

func (s *Store) UpsertSnapshot(ctx context.Context, snap engine.DailySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO daily_snapshots
		(user_id, snapshot_date, total_balance, day_income, day_expense,
		 day_invested, investment_value, transaction_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.UserID, snap.Date.String(),
		snap.TotalBalance.String(), snap.DayIncome.String(),
		snap.DayExpense.String(), snap.DayInvested.String(),
		snap.InvestmentValue.String(), snap.TransactionCount,
		snap.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, userID engine.UserID, date engine.Date) (*engine.DailySnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, snapshot_date, total_balance, day_income, day_expense,
		       day_invested, investment_value, transaction_count, updated_at
		FROM daily_snapshots WHERE user_id = ? AND snapshot_date = ?`,
		userID, date.String())

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

func (s *Store) ListSnapshots(ctx context.Context, userID engine.UserID, from, to engine.Date) ([]engine.DailySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, snapshot_date, total_balance, day_income, day_expense,
		       day_invested, investment_value, transaction_count, updated_at
		FROM daily_snapshots
		WHERE user_id = ? AND snapshot_date >= ? AND snapshot_date <= ?
		ORDER BY snapshot_date`,
		userID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var result []engine.DailySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *snap)
	}
	return result, rows.Err()
}

// =============================================================================
// PRICES (engine.PriceSource)
// =============================================================================

// SetPrice installs or updates the externally supplied current price.
func (s *Store) SetPrice(ctx context.Context, id engine.InvestmentID, price decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO prices (investment_id, price, updated_at)
		VALUES (?, ?, ?)`,
		id, price.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set price: %w", err)
	}
	return nil
}

func (s *Store) CurrentPrice(ctx context.Context, id engine.InvestmentID) (decimal.Decimal, error) {
	var priceStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT price FROM prices WHERE investment_id = ?`, id).Scan(&priceStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, engine.ErrPriceUnavailable
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read price: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt price %q for investment %s: %w", priceStr, id, err)
	}
	return price, nil
}

// =============================================================================
// ROW SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*engine.Automation, error) {
	var (
		a                    engine.Automation
		amount               string
		anchorMonth          int
		accountID, toAccount sql.NullString
		investmentID, catID  sql.NullString
		note                 sql.NullString
		lastThrough, nextAt  sql.NullString
		createdAt            string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Kind, &amount, &a.Currency,
		&a.Cadence.Type, &a.Cadence.AnchorDay, &anchorMonth,
		&accountID, &toAccount, &investmentID, &catID, &note,
		&a.Active, &lastThrough, &nextAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q for automation %s: %w", amount, a.ID, err)
	}
	a.Cadence.AnchorMonth = time.Month(anchorMonth)
	a.AccountID = engine.AccountID(accountID.String)
	a.ToAccountID = engine.AccountID(toAccount.String)
	a.InvestmentID = engine.InvestmentID(investmentID.String)
	a.CategoryID = engine.CategoryID(catID.String)
	a.Note = note.String
	if lastThrough.Valid && lastThrough.String != "" {
		d, err := engine.ParseDate(lastThrough.String)
		if err != nil {
			return nil, err
		}
		a.LastExecutedThrough = &d
	}
	if nextAt.Valid && nextAt.String != "" {
		d, err := engine.ParseDate(nextAt.String)
		if err != nil {
			return nil, err
		}
		a.NextExpected = &d
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func scanAccount(row rowScanner) (*engine.Account, error) {
	var (
		a       engine.Account
		balance string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &balance)
	if err == sql.ErrNoRows {
		return nil, engine.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance %q for account %s: %w", balance, a.ID, err)
	}
	return &a, nil
}

func scanInvestment(row rowScanner) (*engine.InvestmentPosition, error) {
	var (
		p             engine.InvestmentPosition
		symbol        sql.NullString
		quantity, avg string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &symbol, &p.Currency, &quantity, &avg)
	if err == sql.ErrNoRows {
		return nil, engine.ErrInvestmentNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Symbol = symbol.String
	if p.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("corrupt quantity %q for investment %s: %w", quantity, p.ID, err)
	}
	if p.AvgPurchasePrice, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("corrupt avg price %q for investment %s: %w", avg, p.ID, err)
	}
	return &p, nil
}

func scanTransaction(row rowScanner) (*engine.Transaction, error) {
	var (
		tx                   engine.Transaction
		amount, txDate       string
		accountID, toAccount sql.NullString
		investmentID, catID  sql.NullString
		note, automationID   sql.NullString
		executionKey         sql.NullString
		createdAt            string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Type, &amount, &tx.Currency, &txDate,
		&accountID, &toAccount, &investmentID, &catID, &note,
		&automationID, &executionKey, &createdAt)
	if err != nil {
		return nil, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q for transaction %s: %w", amount, tx.ID, err)
	}
	if tx.Date, err = engine.ParseDate(txDate); err != nil {
		return nil, err
	}
	tx.AccountID = engine.AccountID(accountID.String)
	tx.ToAccountID = engine.AccountID(toAccount.String)
	tx.InvestmentID = engine.InvestmentID(investmentID.String)
	tx.CategoryID = engine.CategoryID(catID.String)
	tx.Note = note.String
	tx.AutomationID = engine.AutomationID(automationID.String)
	tx.ExecutionKey = executionKey.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &tx, nil
}

func scanSnapshot(row rowScanner) (*engine.DailySnapshot, error) {
	var (
		snap                                          engine.DailySnapshot
		date                                          string
		balance, income, expense, invested, investVal string
		updatedAt                                     string
	)
	err := row.Scan(&snap.UserID, &date, &balance, &income, &expense,
		&invested, &investVal, &snap.TransactionCount, &updatedAt)
	if err != nil {
		return nil, err
	}

	if snap.Date, err = engine.ParseDate(date); err != nil {
		return nil, err
	}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&snap.TotalBalance, balance},
		{&snap.DayIncome, income},
		{&snap.DayExpense, expense},
		{&snap.DayInvested, invested},
		{&snap.InvestmentValue, investVal},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("corrupt snapshot value %q: %w", f.src, err)
		}
	}
	snap.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &snap, nil
}

// =============================================================================
// SQL HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *engine.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
