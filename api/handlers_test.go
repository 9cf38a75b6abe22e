/*
handlers_test.go - HTTP tests for the rent advance API

Tests for:
- Allocation and coverage calculators
- Contract, advance and consumption flow (201 / 200 / 422)
- Error mapping (400, 404, 409)
- Next payable month and amount due
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/generic"
	"github.com/warp/rent-advance/generic/store"
	"github.com/warp/rent-advance/lease"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router http.Handler
	store  *store.TxMemory
	svc    *advance.Service
	h      *Handler
}

func newTestServer(t *testing.T, now time.Time) *testServer {
	t.Helper()
	s := store.NewTxMemory()
	svc := advance.NewService(s, generic.FixedClock{At: now}, advance.DefaultOptions(), zerolog.Nop())
	scheduler := NewSweepScheduler(svc.Tracker(), lease.Local{}, zerolog.Nop())
	h := NewHandler(s, svc, scheduler, zerolog.Nop())
	return &testServer{
		router: NewRouter(h, []string{"http://localhost:5173"}),
		store:  s,
		svc:    svc,
		h:      h,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// createContract posts c-001 at 150 000 starting January 2025.
func (ts *testServer) createContract(t *testing.T) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"id":              "c-001",
		"number":          "BAIL-001",
		"monthly_rent":    "150 000 F CFA",
		"monthly_charges": 10000,
		"start_date":      "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) createAdvance(t *testing.T, amount any) AdvanceDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/contracts/c-001/advances", map[string]any{
		"amount":       amount,
		"advance_date": "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AdvanceDTO](t, rec)
}

// =============================================================================
// CALCULATORS
// =============================================================================

func TestCalculateAllocation(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/allocation", map[string]any{
		"amount":       "450 000 F CFA",
		"monthly_rent": 150000,
		"first_month":  "2024-12",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[AllocationDTO](t, rec)
	assert.Equal(t, 3, got.MonthsCovered)
	assert.Equal(t, "0.00", got.Remainder)
	assert.Equal(t, "450000.00", got.Amount)
	assert.Equal(t, []string{"2024-12", "2025-01", "2025-02"}, got.Window)
}

func TestCalculateAllocation_Remainder(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/allocation", map[string]any{
		"amount":       400000,
		"monthly_rent": 150000,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[AllocationDTO](t, rec)
	assert.Equal(t, 2, got.MonthsCovered)
	assert.Equal(t, "100000.00", got.Remainder)
	assert.Empty(t, got.Window)
}

func TestCalculateAllocation_InvalidInput(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		body any
	}{
		{"zero rent", map[string]any{"amount": 450000, "monthly_rent": 0}},
		{"negative amount", map[string]any{"amount": -1, "monthly_rent": 150000}},
		{"unparseable amount", map[string]any{"amount": "beaucoup", "monthly_rent": 150000}},
		{"too many months", map[string]any{"amount": "100000000000000000000", "monthly_rent": 1}},
		{"malformed body", `{"amount":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/allocation", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCoverageWindow(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodGet, "/api/coverage?first=2024-11&months=3", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[CoverageDTO](t, rec)
	assert.Equal(t, []string{"2024-11", "2024-12", "2025-01"}, got.Months)

	rec = ts.do(t, http.MethodGet, "/api/coverage?first=2024-11&months=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/coverage?first=2024-11&months=3000000000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/coverage?first=2024-11&months=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CONSUMPTION FLOW
// =============================================================================

func TestConsumeAdvance_Flow(t *testing.T) {
	// GIVEN: a 450 000 advance on a 150 000 rent from January 2025
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	adv := ts.createAdvance(t, "450 000")
	assert.Equal(t, 3, adv.MonthsCovered)
	assert.Equal(t, "2025-01", adv.FirstMonth)
	assert.Equal(t, "2025-03", adv.LastMonth)

	consume := "/api/advances/" + adv.ID + "/consume"

	// WHEN: January is consumed
	rec := ts.do(t, http.MethodPost, consume, ConsumeRequest{Month: "2025-01"})

	// THEN: 201 with the consumption record
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[ConsumptionResultDTO](t, rec)
	assert.Equal(t, "consumed", first.Status)
	require.NotNil(t, first.Consumption)
	assert.Equal(t, "150000.00", first.Consumption.Amount)
	assert.Equal(t, "300000.00", first.Advance.RemainingBalance)

	// WHEN: January is consumed again
	rec = ts.do(t, http.MethodPost, consume, ConsumeRequest{Month: "2025-01"})

	// THEN: 200, nothing changes
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[ConsumptionResultDTO](t, rec)
	assert.Equal(t, "already_consumed", again.Status)
	assert.Nil(t, again.Consumption)
	assert.Equal(t, "300000.00", again.Advance.RemainingBalance)

	// WHEN: a month outside the window is consumed
	rec = ts.do(t, http.MethodPost, consume, ConsumeRequest{Month: "2025-04"})

	// THEN: 422 with the window in the details
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	var errResp struct {
		Error   string `json:"error"`
		Details struct {
			Month  string   `json:"month"`
			Window []string `json:"window"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "2025-04", errResp.Details.Month)
	assert.Equal(t, []string{"2025-01", "2025-02", "2025-03"}, errResp.Details.Window)
}

func TestConsumeAdvance_InvalidMonth(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	adv := ts.createAdvance(t, 450000)

	rec := ts.do(t, http.MethodPost, "/api/advances/"+adv.ID+"/consume", ConsumeRequest{Month: "janvier"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsumeAdvance_Cancelled(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	adv := ts.createAdvance(t, 450000)

	rec := ts.do(t, http.MethodPost, "/api/advances/"+adv.ID+"/cancel", CancelAdvanceRequest{Reason: "tenant left"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[AdvanceDTO](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/api/advances/"+adv.ID+"/consume", ConsumeRequest{Month: "2025-01"})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestDetectMissingAndSweep(t *testing.T) {
	// GIVEN: January consumed by hand, February and March never consumed
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	adv := ts.createAdvance(t, 450000)
	rec := ts.do(t, http.MethodPost, "/api/advances/"+adv.ID+"/consume", ConsumeRequest{Month: "2025-01"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// THEN: February is missing, March is not due yet
	rec = ts.do(t, http.MethodGet, "/api/contracts/c-001/missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	missing := decode[MissingDTO](t, rec)
	assert.Equal(t, []string{"2025-02"}, missing.Months)

	// WHEN: sweeping the contract
	rec = ts.do(t, http.MethodPost, "/api/contracts/c-001/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[SweepReportDTO](t, rec)
	require.Len(t, report.Consumed, 1)
	assert.Equal(t, "2025-02", report.Consumed[0].Month)
	assert.Equal(t, "sweep", report.Consumed[0].Source)

	// THEN: nothing is missing any more
	rec = ts.do(t, http.MethodGet, "/api/contracts/c-001/missing", nil)
	assert.Empty(t, decode[MissingDTO](t, rec).Months)
}

func TestListAdvances_Progress(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	adv := ts.createAdvance(t, 450000)
	ts.do(t, http.MethodPost, "/api/advances/"+adv.ID+"/consume", ConsumeRequest{Month: "2025-01"})

	rec := ts.do(t, http.MethodGet, "/api/contracts/c-001/advances", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[ContractProgressDTO](t, rec)
	require.Len(t, got.Advances, 1)
	assert.Equal(t, 1, got.Advances[0].MonthsConsumed)
	assert.Equal(t, 2, got.Advances[0].MonthsRemaining)
	assert.Equal(t, "2025-02", got.Advances[0].NextMonth)
	assert.Equal(t, "300000.00", got.TotalRemaining)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRecordPayment_ValidatedAdvanceCreatesAdvance(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)

	rec := ts.do(t, http.MethodPost, "/api/contracts/c-001/payments", RecordPaymentRequest{
		Amount: 450000,
		Date:   "2025-01-01",
		Type:   "advance",
		Status: "validated",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[PaymentResponse](t, rec)
	require.NotNil(t, got.Advance)
	assert.Equal(t, got.Payment.ID, got.Advance.PaymentID)
	assert.Equal(t, 3, got.Advance.MonthsCovered)
	assert.Nil(t, got.Check)
}

func TestRecordPayment_RentInsideAdvanceWindowWarns(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	ts.createAdvance(t, 450000)

	rec := ts.do(t, http.MethodPost, "/api/contracts/c-001/payments", RecordPaymentRequest{
		Amount: 150000,
		Month:  "2025-02",
		Type:   "rent",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[PaymentResponse](t, rec)
	require.NotNil(t, got.Check)
	assert.False(t, got.Check.OK)
	assert.NotEmpty(t, got.Check.CoveredBy)
	assert.NotEmpty(t, got.Check.Warnings)
}

func TestUpdatePaymentStatus(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	rec := ts.do(t, http.MethodPost, "/api/contracts/c-001/payments", RecordPaymentRequest{
		Amount: "450 000",
		Date:   "2025-01-01",
		Type:   "advance",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pending := decode[PaymentResponse](t, rec)
	require.Nil(t, pending.Advance)

	path := "/api/payments/" + pending.Payment.ID + "/status"
	rec = ts.do(t, http.MethodPost, path, UpdatePaymentStatusRequest{Status: "validated"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	validated := decode[PaymentResponse](t, rec)
	assert.Equal(t, "validated", validated.Payment.Status)
	require.NotNil(t, validated.Advance)

	// a validated payment never returns to pending
	rec = ts.do(t, http.MethodPost, path, UpdatePaymentStatusRequest{Status: "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestListPayments(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	for _, m := range []string{"2025-01", "2025-02"} {
		rec := ts.do(t, http.MethodPost, "/api/contracts/c-001/payments", RecordPaymentRequest{
			Amount: 150000, Month: m, Type: "rent", Status: "validated",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodGet, "/api/contracts/c-001/payments?type=rent&status=validated", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]PaymentDTO](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-01", got[0].Month)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestNextPayable(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	adv := ts.createAdvance(t, 450000)

	rec := ts.do(t, http.MethodGet, "/api/contracts/c-001/next-payable", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ResolutionDTO](t, rec)
	assert.Equal(t, "advance_active", got.State)
	assert.Equal(t, "2025-01", got.Month)
	assert.Equal(t, "0.00", got.AmountDue)
	assert.Equal(t, adv.ID, got.AdvanceID)
	assert.False(t, got.Fallback)
}

func TestNextPayable_UnknownContractFallsBack(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodGet, "/api/contracts/nope/next-payable", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ResolutionDTO](t, rec)
	assert.True(t, got.Fallback)
	assert.Equal(t, "2025-03", got.Month)
}

func TestAmountDue(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	ts.createAdvance(t, 450000)

	rec := ts.do(t, http.MethodGet, "/api/contracts/c-001/due/2025-02", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[MonthlyDueDTO](t, rec)
	assert.Equal(t, "160000.00", got.Total)
	assert.Equal(t, "150000.00", got.AdvanceApplied)
	assert.Equal(t, "10000.00", got.Due)

	rec = ts.do(t, http.MethodGet, "/api/contracts/c-001/due/02-2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	for _, path := range []string{
		"/api/contracts/nope",
		"/api/contracts/nope/payments",
		"/api/advances/nope",
	} {
		rec := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := ts.do(t, http.MethodPost, "/api/advances/nope/consume", ConsumeRequest{Month: "2025-01"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveContract_DuplicateNumber(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)

	rec := ts.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"id":           "c-002",
		"number":       "BAIL-001",
		"monthly_rent": 100000,
	})

	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestCreateAdvance_InactiveContract(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	rec := ts.do(t, http.MethodPost, "/api/contracts", map[string]any{
		"id": "c-009", "monthly_rent": 100000, "terminated": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/contracts/c-009/advances", map[string]any{"amount": 300000})

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

// =============================================================================
// ADMIN & INFRA
// =============================================================================

func TestAdminSweep(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)
	ts.createAdvance(t, 450000)

	rec := ts.do(t, http.MethodGet, "/api/admin/sweep", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[SweepRunDTO](t, rec)
	assert.Equal(t, "manual", run.Trigger)
	assert.Equal(t, "completed", run.Status)
	assert.Len(t, run.Report.Consumed, 2)

	rec = ts.do(t, http.MethodGet, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), run.ID)
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rent_advance_http_requests_total"))
}

func TestResetDatabase(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	ts.createContract(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	contracts, err := ts.store.ListContracts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, contracts)
}
