/*
handlers.go - HTTP API handlers for the automation engine

PURPOSE:
  Exposes the automation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Automations:
    GET    /api/automations               List all automations
    POST   /api/automations               Create automation from JSON
    GET    /api/automations/{id}          Get automation details
    POST   /api/automations/{id}/activate   Resume execution
    POST   /api/automations/{id}/deactivate Pause execution

  Runs:
    POST   /api/runs                      Trigger a catch-up run
    GET    /api/runs                      Run history

  Accounts / Investments:
    POST   /api/accounts                  Create account
    POST   /api/investments               Create investment position
    PUT    /api/investments/{id}/price    Set current price

  Per-user views:
    GET    /api/users/{id}/accounts       Accounts with balances
    GET    /api/users/{id}/investments    Positions
    GET    /api/users/{id}/transactions   Ledger history (date range)
    GET    /api/users/{id}/snapshots      Daily snapshots (date range)
    POST   /api/users/{id}/snapshots      Recompute a day's snapshot

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (engine.Store)
  - Runner: Catch-up execution
  - Aggregator: Snapshot recomputation
  - Factory: JSON to Automation conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate execution)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/runner.go: The execution semantics behind POST /api/runs
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/automation-engine/engine"
	"github.com/ledgerline/automation-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      engine.Store
	Runner     *engine.Runner
	Aggregator *engine.Aggregator
	Factory    *factory.AutomationFactory

	// SetPrice is wired to the store's price feed write side.
	SetPrice func(r *http.Request, id engine.InvestmentID, price decimal.Decimal) error
}

// NewHandler creates a new handler over the given store and price feed.
func NewHandler(store engine.Store, prices engine.PriceSource) *Handler {
	return &Handler{
		Store:      store,
		Runner:     engine.NewRunner(store, prices),
		Aggregator: engine.NewAggregator(store, prices),
		Factory:    factory.NewAutomationFactory(),
	}
}

// =============================================================================
// AUTOMATION HANDLERS
// =============================================================================

// ListAutomations returns all automations.
func (h *Handler) ListAutomations(w http.ResponseWriter, r *http.Request) {
	automations, err := h.Store.ListAutomations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list automations", err)
		return
	}

	dtos := make([]AutomationDTO, len(automations))
	for i, a := range automations {
		dtos[i] = toAutomationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAutomation returns a single automation.
func (h *Handler) GetAutomation(w http.ResponseWriter, r *http.Request) {
	id := engine.AutomationID(chi.URLParam(r, "id"))

	automation, err := h.Store.GetAutomation(r.Context(), id)
	if errors.Is(err, engine.ErrAutomationNotFound) {
		writeError(w, http.StatusNotFound, "Automation not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get automation", err)
		return
	}

	writeJSON(w, http.StatusOK, toAutomationDTO(*automation))
}

// CreateAutomation creates a new automation from its JSON definition.
func (h *Handler) CreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req factory.AutomationJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	automation, err := h.Factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid automation configuration", err)
		return
	}

	if err := h.Store.SaveAutomation(r.Context(), *automation); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create automation", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAutomationDTO(*automation))
}

// ActivateAutomation resumes execution of a paused automation.
func (h *Handler) ActivateAutomation(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateAutomation pauses an automation. Paused automations are
// skipped by runs but keep their checkpoint, so reactivation resumes
// within the catch-up window.
func (h *Handler) DeactivateAutomation(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := engine.AutomationID(chi.URLParam(r, "id"))

	err := h.Store.SetAutomationActive(r.Context(), id, active)
	if errors.Is(err, engine.ErrAutomationNotFound) {
		writeError(w, http.StatusNotFound, "Automation not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update automation", err)
		return
	}

	status := "paused"
	if active {
		status = "active"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     string(id),
		"status": status,
	})
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// TriggerRun executes all due automations and returns the run summary.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // Empty body means run as of today
	}

	asOf := engine.Today()
	if req.AsOf != "" {
		parsed, err := engine.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	summary, err := h.Runner.RunDueAutomations(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Run failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toRunSummaryDTO(*summary))
}

// ListRuns returns recent run summaries, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunSummaryDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunSummaryDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount creates a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" || req.Name == "" || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "user_id, name and currency are required", nil)
		return
	}

	balance := decimal.Zero
	if req.Balance != "" {
		var err error
		if balance, err = decimal.NewFromString(req.Balance); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid balance (use a decimal string)", err)
			return
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	account := engine.Account{
		ID:       engine.AccountID(id),
		UserID:   engine.UserID(req.UserID),
		Name:     req.Name,
		Currency: req.Currency,
		Balance:  balance,
	}

	if err := h.Store.SaveAccount(r.Context(), account); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// ListUserAccounts returns a user's accounts with balances.
func (h *Handler) ListUserAccounts(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	accounts, err := h.Store.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INVESTMENT HANDLERS
// =============================================================================

// CreateInvestment creates a new (empty) investment position.
func (h *Handler) CreateInvestment(w http.ResponseWriter, r *http.Request) {
	var req CreateInvestmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" || req.Name == "" || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "user_id, name and currency are required", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	position := engine.InvestmentPosition{
		ID:               engine.InvestmentID(id),
		UserID:           engine.UserID(req.UserID),
		Name:             req.Name,
		Symbol:           req.Symbol,
		Currency:         req.Currency,
		Quantity:         decimal.Zero,
		AvgPurchasePrice: decimal.Zero,
	}

	if err := h.Store.SaveInvestment(r.Context(), position); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create investment", err)
		return
	}

	if req.Price != "" && h.SetPrice != nil {
		price, err := decimal.NewFromString(req.Price)
		if err != nil || !price.IsPositive() {
			writeError(w, http.StatusBadRequest, "Invalid price (use a positive decimal string)", err)
			return
		}
		if err := h.SetPrice(r, position.ID, price); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to set price", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toInvestmentDTO(position))
}

// ListUserInvestments returns a user's positions.
func (h *Handler) ListUserInvestments(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	positions, err := h.Store.ListInvestments(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list investments", err)
		return
	}

	dtos := make([]InvestmentDTO, len(positions))
	for i, p := range positions {
		dtos[i] = toInvestmentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdatePrice sets the current price for an investment.
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id := engine.InvestmentID(chi.URLParam(r, "id"))

	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		writeError(w, http.StatusBadRequest, "Invalid price (use a positive decimal string)", err)
		return
	}

	if h.SetPrice == nil {
		writeError(w, http.StatusInternalServerError, "Price feed is not writable", nil)
		return
	}
	if err := h.SetPrice(r, id, price); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set price", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"investment_id": string(id),
		"price":         price.String(),
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListUserTransactions returns ledger history for a user within an
// optional ?from=YYYY-MM-DD&to=YYYY-MM-DD range (defaults to the
// trailing 90 days).
func (h *Handler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	from, to, err := parseDateRange(r, engine.Today().AddDays(-90), engine.Today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range (use YYYY-MM-DD)", err)
		return
	}

	txs, err := h.Store.ListTransactions(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// ListUserSnapshots returns daily snapshots within an optional range
// (defaults to the trailing 30 days).
func (h *Handler) ListUserSnapshots(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	from, to, err := parseDateRange(r, engine.Today().AddDays(-30), engine.Today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range (use YYYY-MM-DD)", err)
		return
	}

	snapshots, err := h.Store.ListSnapshots(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}

	dtos := make([]SnapshotDTO, len(snapshots))
	for i, s := range snapshots {
		dtos[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerSnapshot recomputes a day's snapshot for a user. Safe to call
// repeatedly: the row is keyed (user_id, date) and overwritten in full.
func (h *Handler) TriggerSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := engine.UserID(chi.URLParam(r, "id"))

	var req TriggerSnapshotRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	date := engine.Today()
	if req.Date != "" {
		parsed, err := engine.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		date = parsed
	}

	snapshot, err := h.Aggregator.AggregateDay(r.Context(), userID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate snapshot", err)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotDTO(*snapshot))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDateRange(r *http.Request, defaultFrom, defaultTo engine.Date) (engine.Date, engine.Date, error) {
	from, to := defaultFrom, defaultTo
	if s := r.URL.Query().Get("from"); s != "" {
		parsed, err := engine.ParseDate(s)
		if err != nil {
			return from, to, fmt.Errorf("invalid from: %w", err)
		}
		from = parsed
	}
	if s := r.URL.Query().Get("to"); s != "" {
		parsed, err := engine.ParseDate(s)
		if err != nil {
			return from, to, fmt.Errorf("invalid to: %w", err)
		}
		to = parsed
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
