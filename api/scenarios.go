/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built portfolios that populate the database with realistic
	data for testing and demos. Each scenario is a JSON import document
	loaded through the factory package, so demos exercise the same path as
	a back-office import.

AVAILABLE SCENARIOS:

	advance-three-months: 450 000 advance on a 150 000 rent, three months
	year-rollover:        Advance starting in December, window crosses the year
	partial-remainder:    Advance that does not divide the rent evenly
	rent-history:         No advance, only validated rent payments
	payment-validation:   Pending advance payment waiting for validation

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Parse the scenario document (factory.ParsePortfolio)
 3. Import contracts, payments, then explicit advances

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "year-rollover"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add its JSON document to 'scenarioDocuments'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - factory/portfolio.go: Import document format
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/rent-advance/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "advance-three-months",
		Name:        "Three Month Advance",
		Description: "450 000 advance on a 150 000 rent, paid with a validated advance payment",
	},
	{
		ID:          "year-rollover",
		Name:        "Year Rollover",
		Description: "Advance starting in December 2024 covering into February 2025",
	},
	{
		ID:          "partial-remainder",
		Name:        "Partial Remainder",
		Description: "400 000 advance on a 150 000 rent: two months and a 100 000 remainder",
	},
	{
		ID:          "rent-history",
		Name:        "Rent History",
		Description: "No advance, next payable month comes from validated rent payments",
	},
	{
		ID:          "payment-validation",
		Name:        "Payment Validation",
		Description: "Pending advance payment; validating it creates the advance",
	},
}

var scenarioDocuments = map[string]string{
	"advance-three-months": `{
  "contracts": [
    {"id": "c-001", "number": "BAIL-001", "monthly_rent": "150 000 F CFA",
     "monthly_charges": 10000, "start_date": "2025-01-01"}
  ],
  "payments": [
    {"ref": "p1", "contract_id": "c-001", "amount": 450000, "date": "2025-01-01",
     "type": "advance", "status": "validated", "reference": "VIR-2025-001"}
  ]
}`,
	"year-rollover": `{
  "contracts": [
    {"id": "c-002", "number": "BAIL-002", "monthly_rent": 100000, "start_date": "2024-12-01"}
  ],
  "advances": [
    {"contract_id": "c-002", "amount": "300 000", "advance_date": "2024-12-01",
     "notes": "three months paid at signature"}
  ]
}`,
	"partial-remainder": `{
  "contracts": [
    {"id": "c-003", "number": "BAIL-003", "monthly_rent": "150000", "start_date": "2025-03-01"}
  ],
  "advances": [
    {"contract_id": "c-003", "amount": "400 000 F CFA", "advance_date": "2025-03-01"}
  ]
}`,
	"rent-history": `{
  "contracts": [
    {"id": "c-004", "number": "BAIL-004", "monthly_rent": 120000, "start_date": "2025-01-01"}
  ],
  "payments": [
    {"contract_id": "c-004", "amount": 120000, "date": "2025-01-05", "type": "rent", "status": "validated"},
    {"contract_id": "c-004", "amount": 120000, "date": "2025-02-04", "type": "rent", "status": "validated"},
    {"contract_id": "c-004", "amount": 120000, "date": "2025-03-06", "type": "rent", "status": "validated"}
  ]
}`,
	"payment-validation": `{
  "contracts": [
    {"id": "c-005", "number": "BAIL-005", "monthly_rent": 200000, "start_date": "2025-02-01"}
  ],
  "payments": [
    {"ref": "p1", "contract_id": "c-005", "amount": 600000, "date": "2025-02-01",
     "type": "advance", "status": "pending", "reference": "CHQ-0042"}
  ]
}`,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	doc, ok := scenarioDocuments[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	report, err := h.loadPortfolio(ctx, doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.log.Info().
		Str("scenario", req.ScenarioID).
		Int("contracts", len(report.Contracts)).
		Int("advances", len(report.Advances)).
		Msg("scenario loaded")

	resp := LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		Contracts:  make([]string, 0, len(report.Contracts)),
		Advances:   make([]string, 0, len(report.Advances)),
	}
	for _, id := range report.Contracts {
		resp.Contracts = append(resp.Contracts, string(id))
	}
	for _, id := range report.Advances {
		resp.Advances = append(resp.Advances, string(id))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadPortfolio(ctx context.Context, doc string) (factory.ImportReport, error) {
	p, err := factory.ParsePortfolio([]byte(doc))
	if err != nil {
		return factory.ImportReport{}, err
	}
	return h.Importer.Import(ctx, p)
}
