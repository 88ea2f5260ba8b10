/*
Package factory provides JSON to Go automation conversion.

PURPOSE:
  Converts JSON automation definitions into validated engine.Automation
  values. This enables automation configuration without code changes -
  users define recurring instructions in JSON (from the API or seed
  files), and the factory creates the proper Go structs.

WHY JSON?
  - Direct mapping from the HTTP API request body
  - Easy integration with admin UI
  - Version control for seed fixtures
  - Database storage of automation configs

JSON SCHEMA:
  {
    "id": "auto-salary",
    "user_id": "user-1",
    "name": "Monthly salary",
    "kind": "income",
    "amount": "5000",
    "currency": "EUR",
    "cadence": {
      "type": "monthly",
      "anchor_day": 28
    },
    "account_id": "acc-checking",
    "category_id": "cat-salary",
    "note": "Employer payroll"
  }

KEY FEATURES:
  - Validates JSON structure and amounts (decimal strings, never floats)
  - Validates ISO 4217 currency codes against the go-money registry
  - Defaults the yearly anchor month from the creation date
  - Generates an ID when none is supplied
  - Round-trips back to JSON for API responses

USAGE:
  factory := NewAutomationFactory()

  // From JSON string
  automation, err := factory.ParseAutomation(jsonStr)

  // From a preset (convenient for seeding and tests)
  jsonStr := MonthlyExpenseJSON("auto-rent", "user-1", "Rent", "1200", "EUR", 1, "acc-checking")
  automation, err := factory.ParseAutomation(jsonStr)

SEE ALSO:
  - engine/types.go: Automation type definition and Validate()
  - api/dto.go: HTTP request/response shapes built on the same JSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/automation-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// AutomationJSON is the JSON representation of an automation.
type AutomationJSON struct {
	ID           string      `json:"id,omitempty"`
	UserID       string      `json:"user_id"`
	Name         string      `json:"name"`
	Kind         string      `json:"kind"`
	Amount       string      `json:"amount"`
	Currency     string      `json:"currency"`
	Cadence      CadenceJSON `json:"cadence"`
	AccountID    string      `json:"account_id,omitempty"`
	ToAccountID  string      `json:"to_account_id,omitempty"`
	InvestmentID string      `json:"investment_id,omitempty"`
	CategoryID   string      `json:"category_id,omitempty"`
	Note         string      `json:"note,omitempty"`
	Active       *bool       `json:"active,omitempty"` // Default true
}

// CadenceJSON represents cadence configuration.
type CadenceJSON struct {
	Type        string `json:"type"`                   // weekly, monthly, yearly
	AnchorDay   int    `json:"anchor_day"`             // weekday 0-6 or day-of-month 1-31
	AnchorMonth int    `json:"anchor_month,omitempty"` // 1-12, yearly only
}

// =============================================================================
// AUTOMATION FACTORY
// =============================================================================

// AutomationFactory converts JSON automations to validated Go structs.
type AutomationFactory struct {
	// Now is the clock used for CreatedAt and yearly anchor month
	// defaulting. Overridable for tests.
	Now func() time.Time
}

// NewAutomationFactory creates a new automation factory.
func NewAutomationFactory() *AutomationFactory {
	return &AutomationFactory{Now: time.Now}
}

// ParseAutomation parses a JSON string into a validated Automation.
func (f *AutomationFactory) ParseAutomation(jsonStr string) (*engine.Automation, error) {
	var aj AutomationJSON
	if err := json.Unmarshal([]byte(jsonStr), &aj); err != nil {
		return nil, fmt.Errorf("failed to parse automation JSON: %w", err)
	}
	return f.FromJSON(aj)
}

// FromJSON converts AutomationJSON to a validated engine.Automation.
func (f *AutomationFactory) FromJSON(aj AutomationJSON) (*engine.Automation, error) {
	now := f.Now().UTC()

	amount, err := parseAmount(aj.Amount)
	if err != nil {
		return nil, &engine.ConfigurationError{
			AutomationID: engine.AutomationID(aj.ID),
			Field:        "amount",
			Value:        aj.Amount,
			Message:      err.Error(),
		}
	}

	if err := validateCurrency(aj.Currency); err != nil {
		return nil, &engine.ConfigurationError{
			AutomationID: engine.AutomationID(aj.ID),
			Field:        "currency",
			Value:        aj.Currency,
			Message:      err.Error(),
		}
	}

	id := aj.ID
	if id == "" {
		id = uuid.New().String()
	}

	automation := &engine.Automation{
		ID:           engine.AutomationID(id),
		UserID:       engine.UserID(aj.UserID),
		Name:         aj.Name,
		Kind:         engine.Kind(aj.Kind),
		Amount:       amount,
		Currency:     aj.Currency,
		Cadence:      parseCadence(aj.Cadence, now),
		AccountID:    engine.AccountID(aj.AccountID),
		ToAccountID:  engine.AccountID(aj.ToAccountID),
		InvestmentID: engine.InvestmentID(aj.InvestmentID),
		CategoryID:   engine.CategoryID(aj.CategoryID),
		Note:         aj.Note,
		Active:       aj.Active == nil || *aj.Active,
		CreatedAt:    now,
	}

	if err := automation.Validate(); err != nil {
		return nil, err
	}
	return automation, nil
}

// ToJSON converts an Automation back to its JSON representation.
func (f *AutomationFactory) ToJSON(a *engine.Automation) AutomationJSON {
	active := a.Active
	return AutomationJSON{
		ID:       string(a.ID),
		UserID:   string(a.UserID),
		Name:     a.Name,
		Kind:     string(a.Kind),
		Amount:   a.Amount.String(),
		Currency: a.Currency,
		Cadence: CadenceJSON{
			Type:        string(a.Cadence.Type),
			AnchorDay:   a.Cadence.AnchorDay,
			AnchorMonth: int(a.Cadence.AnchorMonth),
		},
		AccountID:    string(a.AccountID),
		ToAccountID:  string(a.ToAccountID),
		InvestmentID: string(a.InvestmentID),
		CategoryID:   string(a.CategoryID),
		Note:         a.Note,
		Active:       &active,
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal amount")
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// validateCurrency checks the code against the ISO 4217 registry.
func validateCurrency(code string) error {
	if code == "" {
		return fmt.Errorf("currency is required")
	}
	if money.GetCurrency(code) == nil {
		return fmt.Errorf("unknown currency code")
	}
	return nil
}

// parseCadence builds the engine cadence. Yearly automations missing an
// explicit anchor month inherit the creation month, so "every year on
// the 15th" created in June means June 15th.
func parseCadence(cj CadenceJSON, now time.Time) engine.Cadence {
	c := engine.Cadence{
		Type:        engine.CadenceType(cj.Type),
		AnchorDay:   cj.AnchorDay,
		AnchorMonth: time.Month(cj.AnchorMonth),
	}
	if c.Type == engine.CadenceYearly && c.AnchorMonth == 0 {
		c.AnchorMonth = now.Month()
	}
	return c
}

// =============================================================================
// PRESET AUTOMATIONS
// =============================================================================
//
// Convenience builders for seeding and tests. Amounts are decimal
// strings; anchor semantics match engine.Cadence.

// MonthlyIncomeJSON builds a monthly income automation definition.
func MonthlyIncomeJSON(id, userID, name, amount, currency string, anchorDay int, accountID string) string {
	return presetJSON(AutomationJSON{
		ID: id, UserID: userID, Name: name,
		Kind: string(engine.KindIncome), Amount: amount, Currency: currency,
		Cadence:   CadenceJSON{Type: string(engine.CadenceMonthly), AnchorDay: anchorDay},
		AccountID: accountID,
	})
}

// MonthlyExpenseJSON builds a monthly expense automation definition.
func MonthlyExpenseJSON(id, userID, name, amount, currency string, anchorDay int, accountID string) string {
	return presetJSON(AutomationJSON{
		ID: id, UserID: userID, Name: name,
		Kind: string(engine.KindExpense), Amount: amount, Currency: currency,
		Cadence:   CadenceJSON{Type: string(engine.CadenceMonthly), AnchorDay: anchorDay},
		AccountID: accountID,
	})
}

// WeeklyTransferJSON builds a weekly transfer automation definition.
// anchorWeekday follows time.Weekday: 0 is Sunday.
func WeeklyTransferJSON(id, userID, name, amount, currency string, anchorWeekday int, fromAccount, toAccount string) string {
	return presetJSON(AutomationJSON{
		ID: id, UserID: userID, Name: name,
		Kind: string(engine.KindTransfer), Amount: amount, Currency: currency,
		Cadence:     CadenceJSON{Type: string(engine.CadenceWeekly), AnchorDay: anchorWeekday},
		AccountID:   fromAccount,
		ToAccountID: toAccount,
	})
}

// MonthlyInvestmentJSON builds a recurring investment purchase plan.
func MonthlyInvestmentJSON(id, userID, name, amount, currency string, anchorDay int, accountID, investmentID string) string {
	return presetJSON(AutomationJSON{
		ID: id, UserID: userID, Name: name,
		Kind: string(engine.KindInvestmentBuy), Amount: amount, Currency: currency,
		Cadence:      CadenceJSON{Type: string(engine.CadenceMonthly), AnchorDay: anchorDay},
		AccountID:    accountID,
		InvestmentID: investmentID,
	})
}

func presetJSON(aj AutomationJSON) string {
	data, _ := json.Marshal(aj)
	return string(data)
}
