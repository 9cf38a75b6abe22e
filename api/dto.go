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

MONEY:
  Responses carry money as strings with two decimals ("150000.00") so no
  precision is lost in JavaScript clients. Requests accept numbers or
  free-form strings ("150 000 F CFA"), parsed by generic.ParseMoney.

MONTHS:
  Months are "YYYY-MM" strings in both directions. Requests also accept a
  full "YYYY-MM-DD" date.

SEE ALSO:
  - handlers.go: Uses these types
  - generic/money.go: money parsing
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/generic"
)

// =============================================================================
// CALCULATORS
// =============================================================================

// AllocationRequest asks how many months an amount covers.
type AllocationRequest struct {
	Amount      any    `json:"amount"`
	MonthlyRent any    `json:"monthly_rent"`
	FirstMonth  string `json:"first_month,omitempty"` // optional: also return the window
}

type AllocationDTO struct {
	Amount        string   `json:"amount"`
	MonthlyRent   string   `json:"monthly_rent"`
	MonthsCovered int      `json:"months_covered"`
	Remainder     string   `json:"remainder"`
	Window        []string `json:"window,omitempty"`
}

type CoverageDTO struct {
	First  string   `json:"first"`
	Count  int      `json:"count"`
	Months []string `json:"months"`
}

// =============================================================================
// CONTRACTS & PAYMENTS
// =============================================================================

type CreateContractRequest struct {
	ID             string `json:"id,omitempty"`
	Number         string `json:"number,omitempty"`
	MonthlyRent    any    `json:"monthly_rent"`
	MonthlyCharges any    `json:"monthly_charges,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	Terminated     bool   `json:"terminated,omitempty"`
	Deleted        bool   `json:"deleted,omitempty"`
}

type ContractDTO struct {
	ID             string    `json:"id"`
	Number         string    `json:"number,omitempty"`
	MonthlyRent    string    `json:"monthly_rent"`
	MonthlyCharges string    `json:"monthly_charges"`
	StartDate      string    `json:"start_date,omitempty"`
	Active         bool      `json:"active"`
	Terminated     bool      `json:"terminated"`
	CreatedAt      time.Time `json:"created_at"`
}

type RecordPaymentRequest struct {
	Amount    any    `json:"amount"`
	Date      string `json:"date,omitempty"`
	Month     string `json:"month,omitempty"`
	Type      string `json:"type,omitempty"`
	Status    string `json:"status,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type UpdatePaymentStatusRequest struct {
	Status string `json:"status"`
}

type PaymentDTO struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	Amount     string `json:"amount"`
	Date       string `json:"date"`
	Month      string `json:"month"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Reference  string `json:"reference,omitempty"`
}

// PaymentResponse wraps a recorded payment with what it triggered.
type PaymentResponse struct {
	Payment PaymentDTO       `json:"payment"`
	Advance *AdvanceDTO      `json:"advance,omitempty"`
	Check   *PaymentCheckDTO `json:"check,omitempty"`
}

type PaymentCheckDTO struct {
	Month        string   `json:"month"`
	CoveredBy    string   `json:"covered_by,omitempty"`
	ExpectedNext string   `json:"expected_next"`
	OK           bool     `json:"ok"`
	Warnings     []string `json:"warnings"`
}

// =============================================================================
// ADVANCES
// =============================================================================

type CreateAdvanceRequest struct {
	Amount      any    `json:"amount"`
	AdvanceDate string `json:"advance_date,omitempty"`
	FirstMonth  string `json:"first_month,omitempty"`
	PaymentID   string `json:"payment_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type CancelAdvanceRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AdvanceDTO struct {
	ID               string     `json:"id"`
	ContractID       string     `json:"contract_id"`
	PaymentID        string     `json:"payment_id,omitempty"`
	Amount           string     `json:"amount"`
	MonthlyRent      string     `json:"monthly_rent"`
	AdvanceDate      string     `json:"advance_date"`
	Status           string     `json:"status"`
	RemainingBalance string     `json:"remaining_balance"`
	FirstMonth       string     `json:"first_month"`
	LastMonth        string     `json:"last_month"`
	MonthsCovered    int        `json:"months_covered"`
	Remainder        string     `json:"remainder"`
	ExhaustedAt      *time.Time `json:"exhausted_at,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

type ConsumeRequest struct {
	Month     string `json:"month"`
	PaymentID string `json:"payment_id,omitempty"`
}

type ConsumptionDTO struct {
	ID             string    `json:"id"`
	AdvanceID      string    `json:"advance_id"`
	Month          string    `json:"month"`
	Amount         string    `json:"amount"`
	RemainingAfter string    `json:"remaining_after"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConsumptionResultDTO struct {
	Status      string          `json:"status"`
	AdvanceID   string          `json:"advance_id"`
	Month       string          `json:"month"`
	Consumption *ConsumptionDTO `json:"consumption,omitempty"`
	Advance     AdvanceDTO      `json:"advance"`
}

type MissingItemDTO struct {
	AdvanceID string `json:"advance_id"`
	Month     string `json:"month"`
}

type MissingDTO struct {
	ContractID string           `json:"contract_id"`
	Months     []string         `json:"months"`
	Items      []MissingItemDTO `json:"items"`
}

type SweepFailureDTO struct {
	ContractID string `json:"contract_id"`
	AdvanceID  string `json:"advance_id,omitempty"`
	Month      string `json:"month,omitempty"`
	Error      string `json:"error"`
}

type SweepReportDTO struct {
	Contracts       int               `json:"contracts"`
	Detected        int               `json:"detected"`
	Consumed        []ConsumptionDTO  `json:"consumed"`
	AlreadyConsumed int               `json:"already_consumed"`
	Failures        []SweepFailureDTO `json:"failures"`
}

type SweepRunDTO struct {
	ID          string         `json:"id"`
	Trigger     string         `json:"trigger"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Report      SweepReportDTO `json:"report"`
	Error       string         `json:"error,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type ResolutionDTO struct {
	ContractID string `json:"contract_id"`
	Month      string `json:"month"`
	AmountDue  string `json:"amount_due"`
	Reason     string `json:"reason"`
	State      string `json:"state"`
	AdvanceID  string `json:"advance_id,omitempty"`
	Fallback   bool   `json:"fallback"`
}

type MonthlyDueDTO struct {
	ContractID     string `json:"contract_id"`
	Month          string `json:"month"`
	Rent           string `json:"rent"`
	Charges        string `json:"charges"`
	Total          string `json:"total"`
	AdvanceApplied string `json:"advance_applied"`
	Due            string `json:"due"`
	AdvanceID      string `json:"advance_id,omitempty"`
}

type AdvanceProgressDTO struct {
	Advance         AdvanceDTO       `json:"advance"`
	MonthsConsumed  int              `json:"months_consumed"`
	MonthsRemaining int              `json:"months_remaining"`
	PercentConsumed string           `json:"percent_consumed"`
	AmountConsumed  string           `json:"amount_consumed"`
	NextMonth       string           `json:"next_month,omitempty"`
	Consumptions    []ConsumptionDTO `json:"consumptions"`
}

type ContractProgressDTO struct {
	ContractID     string               `json:"contract_id"`
	Advances       []AdvanceProgressDTO `json:"advances"`
	ActiveCount    int                  `json:"active_count"`
	TotalAdvanced  string               `json:"total_advanced"`
	TotalConsumed  string               `json:"total_consumed"`
	TotalRemaining string               `json:"total_remaining"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string   `json:"scenario_id"`
	Contracts  []string `json:"contracts"`
	Advances   []string `json:"advances"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(generic.MoneyPlaces)
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func toContractDTO(c generic.Contract) ContractDTO {
	return ContractDTO{
		ID:             string(c.ID),
		Number:         c.Number,
		MonthlyRent:    money(c.MonthlyRent),
		MonthlyCharges: money(c.MonthlyCharges),
		StartDate:      dateString(c.StartDate),
		Active:         c.Active,
		Terminated:     c.Terminated,
		CreatedAt:      c.CreatedAt,
	}
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		ContractID: string(p.ContractID),
		Amount:     money(p.Amount),
		Date:       dateString(p.Date),
		Month:      p.PaidMonth().String(),
		Type:       string(p.Type),
		Status:     string(p.Status),
		Reference:  p.Reference,
	}
}

func toAdvanceDTO(a generic.Advance) AdvanceDTO {
	return AdvanceDTO{
		ID:               string(a.ID),
		ContractID:       string(a.ContractID),
		PaymentID:        string(a.PaymentID),
		Amount:           money(a.Amount),
		MonthlyRent:      money(a.MonthlyRent),
		AdvanceDate:      dateString(a.AdvanceDate),
		Status:           string(a.Status),
		RemainingBalance: money(a.RemainingBalance),
		FirstMonth:       a.FirstMonth.String(),
		LastMonth:        a.LastMonth().String(),
		MonthsCovered:    a.MonthsCovered,
		Remainder:        money(a.Remainder),
		ExhaustedAt:      a.ExhaustedAt,
		Notes:            a.Notes,
	}
}

func toConsumptionDTO(c generic.Consumption) ConsumptionDTO {
	return ConsumptionDTO{
		ID:             string(c.ID),
		AdvanceID:      string(c.AdvanceID),
		Month:          c.Month.String(),
		Amount:         money(c.Amount),
		RemainingAfter: money(c.RemainingAfter),
		PaymentID:      string(c.PaymentID),
		Source:         string(c.Source),
		CreatedAt:      c.CreatedAt,
	}
}

func toConsumptionDTOs(list []generic.Consumption) []ConsumptionDTO {
	out := make([]ConsumptionDTO, 0, len(list))
	for _, c := range list {
		out = append(out, toConsumptionDTO(c))
	}
	return out
}

func toConsumptionResultDTO(r advance.ConsumptionResult) ConsumptionResultDTO {
	dto := ConsumptionResultDTO{
		Status:    string(r.Status),
		AdvanceID: string(r.AdvanceID),
		Month:     r.Month.String(),
		Advance:   toAdvanceDTO(r.Advance),
	}
	if r.Consumption != nil {
		c := toConsumptionDTO(*r.Consumption)
		dto.Consumption = &c
	}
	return dto
}

func toSweepReportDTO(r advance.SweepReport) SweepReportDTO {
	dto := SweepReportDTO{
		Contracts:       r.Contracts,
		Detected:        r.Detected,
		Consumed:        toConsumptionDTOs(r.Consumed),
		AlreadyConsumed: r.AlreadyConsumed,
		Failures:        make([]SweepFailureDTO, 0, len(r.Failures)),
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, SweepFailureDTO{
			ContractID: string(f.ContractID),
			AdvanceID:  string(f.AdvanceID),
			Month:      f.Month.String(),
			Error:      f.Err.Error(),
		})
	}
	return dto
}

func toSweepRunDTO(run SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:          run.ID,
		Trigger:     run.Trigger,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Report:      toSweepReportDTO(run.Report),
		Error:       run.Error,
	}
}

func toResolutionDTO(r advance.Resolution) ResolutionDTO {
	return ResolutionDTO{
		ContractID: string(r.ContractID),
		Month:      r.Month.String(),
		AmountDue:  money(r.AmountDue),
		Reason:     r.Reason,
		State:      string(r.State),
		AdvanceID:  string(r.AdvanceID),
		Fallback:   r.Fallback,
	}
}

func toMonthlyDueDTO(d advance.MonthlyDue) MonthlyDueDTO {
	return MonthlyDueDTO{
		ContractID:     string(d.ContractID),
		Month:          d.Month.String(),
		Rent:           money(d.Rent),
		Charges:        money(d.Charges),
		Total:          money(d.Total),
		AdvanceApplied: money(d.AdvanceApplied),
		Due:            money(d.Due),
		AdvanceID:      string(d.AdvanceID),
	}
}

func toPaymentCheckDTO(c advance.PaymentCheck) PaymentCheckDTO {
	return PaymentCheckDTO{
		Month:        c.Month.String(),
		CoveredBy:    string(c.CoveredBy),
		ExpectedNext: c.ExpectedNext.String(),
		OK:           c.OK(),
		Warnings:     c.Warnings,
	}
}

func toContractProgressDTO(p advance.ContractProgress) ContractProgressDTO {
	dto := ContractProgressDTO{
		ContractID:     string(p.ContractID),
		Advances:       make([]AdvanceProgressDTO, 0, len(p.Advances)),
		ActiveCount:    p.ActiveCount,
		TotalAdvanced:  money(p.TotalAdvanced),
		TotalConsumed:  money(p.TotalConsumed),
		TotalRemaining: money(p.TotalRemaining),
	}
	for _, a := range p.Advances {
		dto.Advances = append(dto.Advances, AdvanceProgressDTO{
			Advance:         toAdvanceDTO(a.Advance),
			MonthsConsumed:  a.MonthsConsumed,
			MonthsRemaining: a.MonthsRemaining,
			PercentConsumed: a.PercentConsumed.StringFixed(2),
			AmountConsumed:  money(a.AmountConsumed),
			NextMonth:       a.NextMonth.String(),
			Consumptions:    toConsumptionDTOs(a.Consumptions),
		})
	}
	return dto
}

func monthStrings(months []generic.Month) []string {
	out := make([]string, 0, len(months))
	for _, m := range months {
		out = append(out, m.String())
	}
	return out
}
