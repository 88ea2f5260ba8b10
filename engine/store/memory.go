// Package store provides engine.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/automation-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.Store and engine.PriceSource. All mutations
// happen under one lock, which makes balance deltas and execution-record
// claims atomic the same way the SQLite store's constraints do.
type Memory struct {
	mu           sync.RWMutex
	automations  map[engine.AutomationID]engine.Automation
	accounts     map[engine.AccountID]engine.Account
	investments  map[engine.InvestmentID]engine.InvestmentPosition
	transactions map[engine.UserID][]engine.Transaction
	executions   map[string]engine.ExecutionRecord
	runs         []engine.RunSummary
	snapshots    map[snapshotKey]engine.DailySnapshot
	prices       map[engine.InvestmentID]decimal.Decimal
}

type snapshotKey struct {
	UserID engine.UserID
	Date   string
}

func NewMemory() *Memory {
	return &Memory{
		automations:  make(map[engine.AutomationID]engine.Automation),
		accounts:     make(map[engine.AccountID]engine.Account),
		investments:  make(map[engine.InvestmentID]engine.InvestmentPosition),
		transactions: make(map[engine.UserID][]engine.Transaction),
		executions:   make(map[string]engine.ExecutionRecord),
		snapshots:    make(map[snapshotKey]engine.DailySnapshot),
		prices:       make(map[engine.InvestmentID]decimal.Decimal),
	}
}

var _ engine.Store = (*Memory)(nil)
var _ engine.PriceSource = (*Memory)(nil)

// =============================================================================
// AUTOMATIONS
// =============================================================================

func (m *Memory) ListAutomations(_ context.Context) ([]engine.Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.Automation, 0, len(m.automations))
	for _, a := range m.automations {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetAutomation(_ context.Context, id engine.AutomationID) (*engine.Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.automations[id]
	if !ok {
		return nil, engine.ErrAutomationNotFound
	}
	return &a, nil
}

func (m *Memory) SaveAutomation(_ context.Context, a engine.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.automations[a.ID] = a
	return nil
}

func (m *Memory) SetAutomationActive(_ context.Context, id engine.AutomationID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.automations[id]
	if !ok {
		return engine.ErrAutomationNotFound
	}
	a.Active = active
	m.automations[id] = a
	return nil
}

func (m *Memory) AdvanceCheckpoint(_ context.Context, id engine.AutomationID, through engine.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.automations[id]
	if !ok {
		return engine.ErrAutomationNotFound
	}
	a.LastExecutedThrough = &through
	m.automations[id] = a
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id engine.AccountID) (*engine.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, engine.ErrAccountNotFound
	}
	return &a, nil
}

func (m *Memory) ListAccounts(_ context.Context, userID engine.UserID) ([]engine.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveAccount(_ context.Context, a engine.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) ApplyBalanceDelta(_ context.Context, id engine.AccountID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return engine.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(delta)
	m.accounts[id] = a
	return nil
}

// =============================================================================
// INVESTMENTS
// =============================================================================

func (m *Memory) GetInvestment(_ context.Context, id engine.InvestmentID) (*engine.InvestmentPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.investments[id]
	if !ok {
		return nil, engine.ErrInvestmentNotFound
	}
	return &p, nil
}

func (m *Memory) ListInvestments(_ context.Context, userID engine.UserID) ([]engine.InvestmentPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.InvestmentPosition
	for _, p := range m.investments {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveInvestment(_ context.Context, p engine.InvestmentPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.investments[p.ID] = p
	return nil
}

func (m *Memory) ApplyPurchase(_ context.Context, id engine.InvestmentID, addQuantity, cost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.investments[id]
	if !ok {
		return engine.ErrInvestmentNotFound
	}

	newQuantity := p.Quantity.Add(addQuantity)
	if newQuantity.IsPositive() {
		// Volume-weighted average purchase price.
		held := p.Quantity.Mul(p.AvgPurchasePrice)
		p.AvgPurchasePrice = held.Add(cost).Div(newQuantity)
	}
	p.Quantity = newQuantity
	m.investments[id] = p
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) InsertTransaction(_ context.Context, tx engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := m.transactions[tx.UserID]

	// Binary search for the insertion point keeps the slice date-ordered.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].Date.After(tx.Date)
	})
	txs = append(txs, engine.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.UserID] = txs
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id engine.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, txs := range m.transactions {
		for i, tx := range txs {
			if tx.ID == id {
				m.transactions[userID] = append(txs[:i], txs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, userID engine.UserID, from, to engine.Date) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Transaction
	for _, tx := range m.transactions[userID] {
		if from.BeforeOrEqual(tx.Date) && tx.Date.BeforeOrEqual(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

// =============================================================================
// EXECUTIONS
// =============================================================================

func (m *Memory) HasExecuted(_ context.Context, id engine.AutomationID, date engine.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.executions[engine.ExecutionKey(id, date)]
	return ok, nil
}

func (m *Memory) RecordExecution(_ context.Context, rec engine.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := engine.ExecutionKey(rec.AutomationID, rec.Date)
	if existing, ok := m.executions[key]; ok {
		return &engine.DuplicateExecutionError{
			AutomationID:  rec.AutomationID,
			Date:          rec.Date,
			TransactionID: existing.TransactionID,
		}
	}
	m.executions[key] = rec
	return nil
}

// ExecutionCount reports the number of recorded executions (test helper).
func (m *Memory) ExecutionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.executions)
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, s engine.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, s)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]engine.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	// Most recent first.
	result := make([]engine.RunSummary, 0, n)
	for i := len(m.runs) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, m.runs[i])
	}
	return result, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (m *Memory) UpsertSnapshot(_ context.Context, s engine.DailySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey{UserID: s.UserID, Date: s.Date.String()}] = s
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, userID engine.UserID, date engine.Date) (*engine.DailySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[snapshotKey{UserID: userID, Date: date.String()}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListSnapshots(_ context.Context, userID engine.UserID, from, to engine.Date) ([]engine.DailySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.DailySnapshot
	for _, s := range m.snapshots {
		if s.UserID == userID && from.BeforeOrEqual(s.Date) && s.Date.BeforeOrEqual(to) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// =============================================================================
// PRICES
// =============================================================================

// SetPrice installs or updates the current price for an investment.
func (m *Memory) SetPrice(id engine.InvestmentID, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[id] = price
}

// ClearPrice removes the current price, simulating feed gaps.
func (m *Memory) ClearPrice(id engine.InvestmentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prices, id)
}

func (m *Memory) CurrentPrice(_ context.Context, id engine.InvestmentID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	price, ok := m.prices[id]
	if !ok {
		return decimal.Zero, engine.ErrPriceUnavailable
	}
	return price, nil
}
