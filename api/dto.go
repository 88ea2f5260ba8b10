/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMATS:
  Monetary values cross the wire as decimal strings, dates as
  YYYY-MM-DD, timestamps as RFC3339. Never floats for money.

TYPES:
  Automation:
    AutomationDTO (creation uses factory.AutomationJSON directly)

  Ledger:
    TransactionDTO, AccountDTO, InvestmentDTO

  Runs:
    TriggerRunRequest, RunSummaryDTO

  Snapshots:
    SnapshotDTO, TriggerSnapshotRequest

VALIDATION:
  Validation is done in handlers and the factory, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/automation.go: AutomationJSON, the creation request shape
*/
package api

import (
	"time"

	"github.com/ledgerline/automation-engine/engine"
	"github.com/ledgerline/automation-engine/factory"
)

// =============================================================================
// AUTOMATION DTOs
// =============================================================================

// AutomationDTO is the API representation of an automation.
type AutomationDTO struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"user_id"`
	Name                string              `json:"name"`
	Kind                string              `json:"kind"`
	Amount              string              `json:"amount"`
	Currency            string              `json:"currency"`
	Cadence             factory.CadenceJSON `json:"cadence"`
	AccountID           string              `json:"account_id,omitempty"`
	ToAccountID         string              `json:"to_account_id,omitempty"`
	InvestmentID        string              `json:"investment_id,omitempty"`
	CategoryID          string              `json:"category_id,omitempty"`
	Note                string              `json:"note,omitempty"`
	Active              bool                `json:"active"`
	LastExecutedThrough string              `json:"last_executed_through,omitempty"`
	CreatedAt           string              `json:"created_at"`
}

func toAutomationDTO(a engine.Automation) AutomationDTO {
	dto := AutomationDTO{
		ID:       string(a.ID),
		UserID:   string(a.UserID),
		Name:     a.Name,
		Kind:     string(a.Kind),
		Amount:   a.Amount.String(),
		Currency: a.Currency,
		Cadence: factory.CadenceJSON{
			Type:        string(a.Cadence.Type),
			AnchorDay:   a.Cadence.AnchorDay,
			AnchorMonth: int(a.Cadence.AnchorMonth),
		},
		AccountID:    string(a.AccountID),
		ToAccountID:  string(a.ToAccountID),
		InvestmentID: string(a.InvestmentID),
		CategoryID:   string(a.CategoryID),
		Note:         a.Note,
		Active:       a.Active,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
	if a.LastExecutedThrough != nil {
		dto.LastExecutedThrough = a.LastExecutedThrough.String()
	}
	return dto
}

// =============================================================================
// TRANSACTION DTOs
// =============================================================================

// TransactionDTO is the API representation of a ledger transaction.
type TransactionDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Date         string `json:"date"`
	AccountID    string `json:"account_id,omitempty"`
	ToAccountID  string `json:"to_account_id,omitempty"`
	InvestmentID string `json:"investment_id,omitempty"`
	CategoryID   string `json:"category_id,omitempty"`
	Note         string `json:"note,omitempty"`
	AutomationID string `json:"automation_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toTransactionDTO(tx engine.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		UserID:       string(tx.UserID),
		Type:         string(tx.Type),
		Amount:       tx.Amount.String(),
		Currency:     tx.Currency,
		Date:         tx.Date.String(),
		AccountID:    string(tx.AccountID),
		ToAccountID:  string(tx.ToAccountID),
		InvestmentID: string(tx.InvestmentID),
		CategoryID:   string(tx.CategoryID),
		Note:         tx.Note,
		AutomationID: string(tx.AutomationID),
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []engine.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// =============================================================================
// ACCOUNT / INVESTMENT DTOs
// =============================================================================

// AccountDTO is the API representation of an account.
type AccountDTO struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

func toAccountDTO(a engine.Account) AccountDTO {
	return AccountDTO{
		ID:       string(a.ID),
		UserID:   string(a.UserID),
		Name:     a.Name,
		Currency: a.Currency,
		Balance:  a.Balance.String(),
	}
}

// CreateAccountRequest is the body for POST /api/accounts.
type CreateAccountRequest struct {
	ID       string `json:"id,omitempty"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Balance  string `json:"balance,omitempty"`
}

// InvestmentDTO is the API representation of a position.
type InvestmentDTO struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	Symbol           string `json:"symbol,omitempty"`
	Currency         string `json:"currency"`
	Quantity         string `json:"quantity"`
	AvgPurchasePrice string `json:"avg_purchase_price"`
}

func toInvestmentDTO(p engine.InvestmentPosition) InvestmentDTO {
	return InvestmentDTO{
		ID:               string(p.ID),
		UserID:           string(p.UserID),
		Name:             p.Name,
		Symbol:           p.Symbol,
		Currency:         p.Currency,
		Quantity:         p.Quantity.String(),
		AvgPurchasePrice: p.AvgPurchasePrice.String(),
	}
}

// CreateInvestmentRequest is the body for POST /api/investments.
type CreateInvestmentRequest struct {
	ID       string `json:"id,omitempty"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol,omitempty"`
	Currency string `json:"currency"`
	Price    string `json:"price,omitempty"` // Seeds the price feed when set
}

// SetPriceRequest is the body for PUT /api/investments/{id}/price.
type SetPriceRequest struct {
	Price string `json:"price"`
}

// =============================================================================
// RUN DTOs
// =============================================================================

// TriggerRunRequest is the body for POST /api/runs.
type TriggerRunRequest struct {
	AsOf string `json:"as_of,omitempty"` // YYYY-MM-DD, defaults to today
}

// RunSummaryDTO is the API representation of a run summary.
type RunSummaryDTO struct {
	RunID                string            `json:"run_id"`
	AsOf                 string            `json:"as_of"`
	AutomationsProcessed int               `json:"automations_processed"`
	TransactionsCreated  int               `json:"transactions_created"`
	Errors               []engine.RunError `json:"errors,omitempty"`
	StartedAt            string            `json:"started_at"`
	CompletedAt          string            `json:"completed_at"`
}

func toRunSummaryDTO(s engine.RunSummary) RunSummaryDTO {
	return RunSummaryDTO{
		RunID:                s.RunID,
		AsOf:                 s.AsOf.String(),
		AutomationsProcessed: s.AutomationsProcessed,
		TransactionsCreated:  s.TransactionsCreated,
		Errors:               s.Errors,
		StartedAt:            s.StartedAt.Format(time.RFC3339),
		CompletedAt:          s.CompletedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SNAPSHOT DTOs
// =============================================================================

// SnapshotDTO is the API representation of a daily snapshot.
type SnapshotDTO struct {
	UserID           string `json:"user_id"`
	Date             string `json:"date"`
	TotalBalance     string `json:"total_balance"`
	DayIncome        string `json:"day_income"`
	DayExpense       string `json:"day_expense"`
	DayInvested      string `json:"day_invested"`
	InvestmentValue  string `json:"investment_value"`
	TransactionCount int    `json:"transaction_count"`
	UpdatedAt        string `json:"updated_at"`
}

func toSnapshotDTO(s engine.DailySnapshot) SnapshotDTO {
	return SnapshotDTO{
		UserID:           string(s.UserID),
		Date:             s.Date.String(),
		TotalBalance:     s.TotalBalance.String(),
		DayIncome:        s.DayIncome.String(),
		DayExpense:       s.DayExpense.String(),
		DayInvested:      s.DayInvested.String(),
		InvestmentValue:  s.InvestmentValue.String(),
		TransactionCount: s.TransactionCount,
		UpdatedAt:        s.UpdatedAt.Format(time.RFC3339),
	}
}

// TriggerSnapshotRequest is the body for POST /api/users/{id}/snapshots.
type TriggerSnapshotRequest struct {
	Date string `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
}

// =============================================================================
// ERROR RESPONSE
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
