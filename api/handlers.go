/*
handlers.go - HTTP API handlers for the rent advance engine

PURPOSE:
  Exposes the advance engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the advance service.

ENDPOINTS:
  Calculators:
    POST   /api/allocation                 Months an amount covers at a rent
    GET    /api/coverage?first=&months=    Consecutive covered months

  Contracts:
    GET    /api/contracts                  List contracts
    POST   /api/contracts                  Create or update contract
    GET    /api/contracts/{id}             Get contract
    GET    /api/contracts/{id}/payments    Payment history
    POST   /api/contracts/{id}/payments    Record payment
    GET    /api/contracts/{id}/advances    Advances with consumption progress
    POST   /api/contracts/{id}/advances    Create advance
    GET    /api/contracts/{id}/missing     Covered months not yet consumed
    POST   /api/contracts/{id}/sweep       Consume missing months
    GET    /api/contracts/{id}/next-payable Next month the tenant must pay
    GET    /api/contracts/{id}/due/{month} Amount due for a month

  Payments & advances:
    POST   /api/payments/{id}/status       Validate or refuse a payment
    GET    /api/advances/{id}              Get advance
    POST   /api/advances/{id}/consume      Consume one month
    POST   /api/advances/{id}/cancel       Cancel advance

  Admin:
    POST   /api/admin/sweep                Sweep every contract now
    GET    /api/admin/sweep                Last sweep run

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate, already consumed, inactive advance)
  - 422: Month outside the advance coverage window
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/factory"
	"github.com/warp/rent-advance/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need from persistence: the engine ports plus
// Reset for demo scenarios.
type Store interface {
	generic.TxStore
	Reset(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Service   *advance.Service
	Importer  *factory.Importer
	Scheduler *SweepScheduler

	log             zerolog.Logger
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler. scheduler may be nil, in which case
// the admin sweep runs the tracker directly.
func NewHandler(store Store, svc *advance.Service, scheduler *SweepScheduler, log zerolog.Logger) *Handler {
	return &Handler{
		Store:     store,
		Service:   svc,
		Importer:  factory.NewImporter(svc),
		Scheduler: scheduler,
		log:       log,
	}
}

// =============================================================================
// CALCULATORS
// =============================================================================

// CalculateAllocation returns how many months an amount covers.
// POST /api/allocation
func (h *Handler) CalculateAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	amount, err := generic.ParseMoney(req.Amount)
	if err != nil {
		h.writeDomainError(w, "invalid amount", err)
		return
	}
	rent, err := generic.ParseMoney(req.MonthlyRent)
	if err != nil {
		h.writeDomainError(w, "invalid monthly rent", err)
		return
	}

	alloc, err := generic.CalculateAllocation(amount, rent)
	if err != nil {
		h.writeDomainError(w, "allocation failed", err)
		return
	}

	resp := AllocationDTO{
		Amount:        money(amount),
		MonthlyRent:   money(rent),
		MonthsCovered: alloc.MonthsCovered,
		Remainder:     money(alloc.Remainder),
	}
	if req.FirstMonth != "" {
		first, err := generic.ParseMonth(req.FirstMonth)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid first_month", err)
			return
		}
		resp.Window = monthStrings(generic.BuildCoverageWindow(first, alloc.MonthsCovered))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CoverageWindow lists the months covered from a first month.
// GET /api/coverage?first=2024-12&months=3
func (h *Handler) CoverageWindow(w http.ResponseWriter, r *http.Request) {
	first, err := generic.ParseMonth(r.URL.Query().Get("first"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid first month", err)
		return
	}
	count, err := strconv.Atoi(r.URL.Query().Get("months"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid months", err)
		return
	}
	if count < 0 || count > generic.MaxMonthsCovered {
		writeError(w, http.StatusBadRequest, "invalid months",
			fmt.Errorf("months must be between 0 and %d", generic.MaxMonthsCovered))
		return
	}

	writeJSON(w, http.StatusOK, CoverageDTO{
		First:  first.String(),
		Count:  count,
		Months: monthStrings(generic.BuildCoverageWindow(first, count)),
	})
}

// =============================================================================
// CONTRACT ENDPOINTS
// =============================================================================

// ListContracts returns all contracts.
// GET /api/contracts
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, 0, len(contracts))
	for _, c := range contracts {
		dtos = append(dtos, toContractDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveContract creates or updates a contract.
// POST /api/contracts
func (h *Handler) SaveContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rent, err := generic.ParseMoney(req.MonthlyRent)
	if err != nil {
		h.writeDomainError(w, "invalid monthly rent", err)
		return
	}
	charges := decimal.Zero
	if req.MonthlyCharges != nil {
		if charges, err = generic.ParseMoney(req.MonthlyCharges); err != nil {
			h.writeDomainError(w, "invalid monthly charges", err)
			return
		}
	}
	var start time.Time
	if req.StartDate != "" {
		if start, err = parseDateParam(req.StartDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date", err)
			return
		}
	}

	saved, err := h.Service.SaveContract(r.Context(), generic.Contract{
		ID:             generic.ContractID(req.ID),
		Number:         req.Number,
		MonthlyRent:    rent,
		MonthlyCharges: charges,
		StartDate:      start,
		Active:         !req.Terminated && !req.Deleted,
		Terminated:     req.Terminated,
		Deleted:        req.Deleted,
	})
	if err != nil {
		h.writeDomainError(w, "failed to save contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(*saved))
}

// GetContract returns a single contract.
// GET /api/contracts/{id}
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetContract(r.Context(), contractParam(r))
	if err != nil {
		h.writeDomainError(w, "contract not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// ListPayments returns the payment history of a contract.
// GET /api/contracts/{id}/payments?type=rent&status=validated
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contractID := contractParam(r)
	if _, err := h.Store.GetContract(ctx, contractID); err != nil {
		h.writeDomainError(w, "contract not found", err)
		return
	}

	filter := generic.PaymentFilter{
		Type:   generic.PaymentType(r.URL.Query().Get("type")),
		Status: generic.PaymentStatus(r.URL.Query().Get("status")),
	}
	payments, err := h.Store.ListPayments(ctx, contractID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordPayment records a payment on a contract. A validated advance
// payment creates its advance in the same call; a rent payment is checked
// against the advance coverage and the response carries the warnings.
// POST /api/contracts/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contractID := contractParam(r)

	var req RecordPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := advance.RecordPaymentInput{
		ContractID: contractID,
		Type:       generic.PaymentType(req.Type),
		Status:     generic.PaymentStatus(req.Status),
		Reference:  req.Reference,
	}
	var err error
	if in.Amount, err = generic.ParseMoney(req.Amount); err != nil {
		h.writeDomainError(w, "invalid amount", err)
		return
	}
	if req.Date != "" {
		if in.Date, err = parseDateParam(req.Date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date", err)
			return
		}
	}
	if req.Month != "" {
		if in.Month, err = generic.ParseMonth(req.Month); err != nil {
			writeError(w, http.StatusBadRequest, "invalid month", err)
			return
		}
	}

	// Rent payments are checked before recording: afterwards the payment
	// itself would count as the latest paid month.
	var check *PaymentCheckDTO
	month := in.Month
	if month.IsZero() && !in.Date.IsZero() {
		month = generic.MonthOf(in.Date)
	}
	if (in.Type == "" || in.Type == generic.PaymentRent) && !month.IsZero() {
		if c, err := h.Service.CheckRentPayment(ctx, contractID, month); err == nil {
			dto := toPaymentCheckDTO(c)
			check = &dto
		} else if !generic.IsNotFound(err) {
			h.log.Warn().Err(err).Str("contract_id", string(contractID)).Msg("rent payment check failed")
		}
	}

	out, err := h.Service.RecordPayment(ctx, in)
	if err != nil {
		h.writeDomainError(w, "failed to record payment", err)
		return
	}

	resp := PaymentResponse{Payment: toPaymentDTO(out.Payment), Check: check}
	if out.Advance != nil {
		dto := toAdvanceDTO(*out.Advance)
		resp.Advance = &dto
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UpdatePaymentStatus moves a payment to validated or refused.
// POST /api/payments/{id}/status
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := generic.PaymentID(chi.URLParam(r, "id"))

	var req UpdatePaymentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.Service.UpdatePaymentStatus(r.Context(), id, generic.PaymentStatus(req.Status))
	if err != nil {
		h.writeDomainError(w, "failed to update payment status", err)
		return
	}

	resp := PaymentResponse{Payment: toPaymentDTO(out.Payment)}
	if out.Advance != nil {
		dto := toAdvanceDTO(*out.Advance)
		resp.Advance = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADVANCE ENDPOINTS
// =============================================================================

// CreateAdvance registers an advance on a contract.
// POST /api/contracts/{id}/advances
func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	var req CreateAdvanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := advance.CreateAdvanceInput{
		ContractID: contractParam(r),
		PaymentID:  generic.PaymentID(req.PaymentID),
		Notes:      req.Notes,
	}
	var err error
	if in.Amount, err = generic.ParseMoney(req.Amount); err != nil {
		h.writeDomainError(w, "invalid amount", err)
		return
	}
	if req.AdvanceDate != "" {
		if in.AdvanceDate, err = parseDateParam(req.AdvanceDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid advance_date", err)
			return
		}
	}
	if req.FirstMonth != "" {
		if in.FirstMonth, err = generic.ParseMonth(req.FirstMonth); err != nil {
			writeError(w, http.StatusBadRequest, "invalid first_month", err)
			return
		}
	}

	adv, err := h.Service.CreateAdvance(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "failed to create advance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(*adv))
}

// ListAdvances returns every advance of a contract with its progress.
// GET /api/contracts/{id}/advances
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	progress, err := h.Service.Progress(r.Context(), contractParam(r))
	if err != nil {
		h.writeDomainError(w, "failed to load advances", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractProgressDTO(progress))
}

// GetAdvance returns a single advance.
// GET /api/advances/{id}
func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	adv, err := h.Store.GetAdvance(r.Context(), advanceParam(r))
	if err != nil {
		h.writeDomainError(w, "advance not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(*adv))
}

// ConsumeAdvance marks one month as paid by the advance. Consuming a month
// twice answers 200 with status "already_consumed".
// POST /api/advances/{id}/consume
func (h *Handler) ConsumeAdvance(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	month, err := generic.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month", err)
		return
	}

	opts := []advance.ConsumeOption{advance.WithSource(generic.SourceManual)}
	if req.PaymentID != "" {
		opts = append(opts, advance.WithPayment(generic.PaymentID(req.PaymentID)))
	}

	result, err := h.Service.Tracker().Consume(r.Context(), advanceParam(r), month, opts...)
	if err != nil {
		h.writeDomainError(w, "failed to consume advance", err)
		return
	}

	status := http.StatusCreated
	if result.Status == advance.StatusAlreadyConsumed {
		status = http.StatusOK
	}
	writeJSON(w, status, toConsumptionResultDTO(result))
}

// CancelAdvance cancels an advance; its balance is no longer drawn.
// POST /api/advances/{id}/cancel
func (h *Handler) CancelAdvance(w http.ResponseWriter, r *http.Request) {
	var req CancelAdvanceRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	adv, err := h.Service.CancelAdvance(r.Context(), advanceParam(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, "failed to cancel advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(*adv))
}

// =============================================================================
// CONSUMPTION TRACKING
// =============================================================================

// DetectMissing lists covered months that are due but not consumed.
// GET /api/contracts/{id}/missing
func (h *Handler) DetectMissing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contractID := contractParam(r)

	missing, err := h.Service.Tracker().DetectMissingConsumptions(ctx, contractID)
	if err != nil {
		h.writeDomainError(w, "failed to detect missing consumptions", err)
		return
	}

	resp := MissingDTO{
		ContractID: string(contractID),
		Months:     []string{},
		Items:      make([]MissingItemDTO, 0, len(missing)),
	}
	seen := make(map[generic.Month]bool)
	for _, m := range missing {
		resp.Items = append(resp.Items, MissingItemDTO{AdvanceID: string(m.AdvanceID), Month: m.Month.String()})
		if !seen[m.Month] {
			seen[m.Month] = true
			resp.Months = append(resp.Months, m.Month.String())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SweepContract consumes every missing month of one contract.
// POST /api/contracts/{id}/sweep
func (h *Handler) SweepContract(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.Tracker().Sweep(r.Context(), contractParam(r))
	if err != nil {
		h.writeDomainError(w, "sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// SweepAll sweeps every contract with advances.
// POST /api/admin/sweep
func (h *Handler) SweepAll(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler != nil {
		run := h.Scheduler.RunNow(r.Context())
		status := http.StatusOK
		if run.Status == "failed" {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, toSweepRunDTO(run))
		return
	}

	report, err := h.Service.Tracker().SweepAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// LastSweep returns the most recent scheduler pass.
// GET /api/admin/sweep
func (h *Handler) LastSweep(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "sweep scheduler not configured", nil)
		return
	}
	run := h.Scheduler.LastRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "no sweep has run yet", nil)
		return
	}
	resp := map[string]any{"last_run": toSweepRunDTO(*run), "next_run": nil}
	if next := h.Scheduler.GetNextRunTime(); !next.IsZero() {
		resp["next_run"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REPORTS
// =============================================================================

// NextPayable returns the next month the tenant must pay and how much.
// The resolver never fails: on errors it answers the current month with
// "fallback": true.
// GET /api/contracts/{id}/next-payable
func (h *Handler) NextPayable(w http.ResponseWriter, r *http.Request) {
	res := h.Service.Resolver().Resolve(r.Context(), contractParam(r))
	writeJSON(w, http.StatusOK, toResolutionDTO(res))
}

// AmountDue returns rent plus charges minus the advance credit for a month.
// GET /api/contracts/{id}/due/{month}
func (h *Handler) AmountDue(w http.ResponseWriter, r *http.Request) {
	month, err := generic.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month", err)
		return
	}

	due, err := h.Service.AmountDueForMonth(r.Context(), contractParam(r), month)
	if err != nil {
		h.writeDomainError(w, "failed to compute amount due", err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyDueDTO(due))
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(message)
	}

	var oow *generic.OutOfWindowError
	if errors.As(err, &oow) {
		writeJSON(w, status, ErrorResponse{
			Error: message,
			Details: map[string]any{
				"message":    err.Error(),
				"advance_id": string(oow.AdvanceID),
				"month":      oow.Month.String(),
				"window":     monthStrings(oow.Window.Months()),
			},
		})
		return
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrOutOfWindow):
		return http.StatusUnprocessableEntity
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func contractParam(r *http.Request) generic.ContractID {
	return generic.ContractID(chi.URLParam(r, "id"))
}

func advanceParam(r *http.Request) generic.AdvanceID {
	return generic.AdvanceID(chi.URLParam(r, "id"))
}

func parseDateParam(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}
