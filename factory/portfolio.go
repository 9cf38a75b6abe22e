/*
Package factory provides JSON to Go portfolio conversion.

PURPOSE:
  Converts JSON portfolio documents (contracts, payments, advances) into
  engine calls. Money fields accept whatever the back office exports:
  numbers, "150000", "150 000 F CFA", "1,234.50" or "1234,50".

JSON SCHEMA:
  {
    "contracts": [
      {"id": "c-001", "number": "BAIL-001", "monthly_rent": "150 000 F CFA",
       "monthly_charges": 10000, "start_date": "2025-01-01"}
    ],
    "payments": [
      {"ref": "p1", "contract_id": "c-001", "amount": 450000,
       "date": "2025-01-01", "type": "advance", "status": "validated"}
    ],
    "advances": [
      {"contract_id": "c-001", "amount": "300000", "advance_date": "2025-06-01",
       "first_month": "2025-07", "payment_ref": "p2"}
    ]
  }

  "ref" is a document-local key: payments get fresh IDs on import and
  advances point at them through "payment_ref".

KEY FEATURES:
  - Validates the whole document before touching the store
  - Reports every invalid field, not only the first
  - Validated advance payments create their advance automatically

USAGE:
  doc, err := factory.ParsePortfolio(data)
  report, err := factory.NewImporter(svc).Import(ctx, doc)

SEE ALSO:
  - generic/money.go: free-form money parsing
  - api/scenarios.go: demo portfolios loaded through this package
*/
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PortfolioJSON is the JSON representation of an import document.
type PortfolioJSON struct {
	Contracts []ContractJSON `json:"contracts"`
	Payments  []PaymentJSON  `json:"payments,omitempty"`
	Advances  []AdvanceJSON  `json:"advances,omitempty"`
}

// ContractJSON represents a lease.
type ContractJSON struct {
	ID             string `json:"id"`
	Number         string `json:"number,omitempty"`
	MonthlyRent    any    `json:"monthly_rent"`
	MonthlyCharges any    `json:"monthly_charges,omitempty"`
	StartDate      string `json:"start_date,omitempty"` // YYYY-MM-DD
	Terminated     bool   `json:"terminated,omitempty"`
}

// PaymentJSON represents a money-in event.
type PaymentJSON struct {
	Ref        string `json:"ref,omitempty"`
	ContractID string `json:"contract_id"`
	Amount     any    `json:"amount"`
	Date       string `json:"date"`            // YYYY-MM-DD
	Month      string `json:"month,omitempty"` // YYYY-MM, defaults to month of date
	Type       string `json:"type,omitempty"`  // rent, advance, deposit, charges, other
	Status     string `json:"status,omitempty"`
	Reference  string `json:"reference,omitempty"`
}

// AdvanceJSON represents an advance created without a payment record, or
// linked to one of the document's payments.
type AdvanceJSON struct {
	ContractID  string `json:"contract_id"`
	Amount      any    `json:"amount"`
	AdvanceDate string `json:"advance_date"`
	FirstMonth  string `json:"first_month,omitempty"`
	PaymentRef  string `json:"payment_ref,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// =============================================================================
// PARSED DOCUMENT
// =============================================================================

// Portfolio is a validated import document.
type Portfolio struct {
	Contracts []generic.Contract
	Payments  []ParsedPayment
	Advances  []ParsedAdvance
}

type ParsedPayment struct {
	Ref   string
	Input advance.RecordPaymentInput
}

type ParsedAdvance struct {
	PaymentRef string
	Input      advance.CreateAdvanceInput
}

// FieldError names the document field that failed validation.
type FieldError struct {
	Path string // e.g. "contracts[0].monthly_rent"
	Err  error
}

func (e *FieldError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

// ParsePortfolio decodes and validates a JSON portfolio. All field errors
// are joined into the returned error.
func ParsePortfolio(data []byte) (*Portfolio, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var doc PortfolioJSON
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid portfolio JSON: %w", err)
	}
	return doc.Parse()
}

// Parse validates a decoded document.
func (doc PortfolioJSON) Parse() (*Portfolio, error) {
	var errs []error
	fail := func(path string, err error) { errs = append(errs, &FieldError{Path: path, Err: err}) }

	out := &Portfolio{}
	known := make(map[string]bool)
	for i, cj := range doc.Contracts {
		path := fmt.Sprintf("contracts[%d]", i)
		if cj.ID == "" {
			fail(path+".id", errors.New("required"))
		}
		known[cj.ID] = true

		c := generic.Contract{
			ID:         generic.ContractID(cj.ID),
			Number:     cj.Number,
			Active:     !cj.Terminated,
			Terminated: cj.Terminated,
		}
		var err error
		if c.MonthlyRent, err = generic.ParseMoney(cj.MonthlyRent); err != nil {
			fail(path+".monthly_rent", err)
		}
		if cj.MonthlyCharges != nil {
			if c.MonthlyCharges, err = generic.ParseMoney(cj.MonthlyCharges); err != nil {
				fail(path+".monthly_charges", err)
			}
		}
		if cj.StartDate != "" {
			if c.StartDate, err = parseDate(cj.StartDate); err != nil {
				fail(path+".start_date", err)
			}
		}
		out.Contracts = append(out.Contracts, c)
	}

	refs := make(map[string]bool)
	for i, pj := range doc.Payments {
		path := fmt.Sprintf("payments[%d]", i)
		if !known[pj.ContractID] {
			fail(path+".contract_id", fmt.Errorf("unknown contract %q", pj.ContractID))
		}
		if pj.Ref != "" {
			if refs[pj.Ref] {
				fail(path+".ref", fmt.Errorf("duplicate ref %q", pj.Ref))
			}
			refs[pj.Ref] = true
		}

		in := advance.RecordPaymentInput{
			ContractID: generic.ContractID(pj.ContractID),
			Type:       generic.PaymentType(pj.Type),
			Status:     generic.PaymentStatus(pj.Status),
			Reference:  pj.Reference,
		}
		var err error
		if in.Amount, err = generic.ParseMoney(pj.Amount); err != nil {
			fail(path+".amount", err)
		}
		if in.Date, err = parseDate(pj.Date); err != nil {
			fail(path+".date", err)
		}
		if pj.Month != "" {
			if in.Month, err = generic.ParseMonth(pj.Month); err != nil {
				fail(path+".month", err)
			}
		}
		if in.Type != "" && !in.Type.Valid() {
			fail(path+".type", fmt.Errorf("%q: %w", pj.Type, generic.ErrInvalidPaymentType))
		}
		out.Payments = append(out.Payments, ParsedPayment{Ref: pj.Ref, Input: in})
	}

	for i, aj := range doc.Advances {
		path := fmt.Sprintf("advances[%d]", i)
		if !known[aj.ContractID] {
			fail(path+".contract_id", fmt.Errorf("unknown contract %q", aj.ContractID))
		}
		if aj.PaymentRef != "" && !refs[aj.PaymentRef] {
			fail(path+".payment_ref", fmt.Errorf("unknown payment ref %q", aj.PaymentRef))
		}

		in := advance.CreateAdvanceInput{
			ContractID: generic.ContractID(aj.ContractID),
			Notes:      aj.Notes,
		}
		var err error
		if in.Amount, err = generic.ParseMoney(aj.Amount); err != nil {
			fail(path+".amount", err)
		}
		if in.AdvanceDate, err = parseDate(aj.AdvanceDate); err != nil {
			fail(path+".advance_date", err)
		}
		if aj.FirstMonth != "" {
			if in.FirstMonth, err = generic.ParseMonth(aj.FirstMonth); err != nil {
				fail(path+".first_month", err)
			}
		}
		out.Advances = append(out.Advances, ParsedAdvance{PaymentRef: aj.PaymentRef, Input: in})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}

// =============================================================================
// IMPORTER
// =============================================================================

// Importer writes a parsed portfolio through the advance service.
type Importer struct {
	svc *advance.Service
}

func NewImporter(svc *advance.Service) *Importer {
	return &Importer{svc: svc}
}

// ImportReport lists what was created.
type ImportReport struct {
	Contracts []generic.ContractID
	Payments  map[string]generic.PaymentID // ref -> created ID (refs only)
	Advances  []generic.AdvanceID
}

// TotalAdvanced sums the amounts of the created advances.
func (r ImportReport) TotalAdvanced(ctx context.Context, s generic.AdvanceStore) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, id := range r.Advances {
		a, err := s.GetAdvance(ctx, id)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(a.Amount)
	}
	return total, nil
}

// Import saves contracts, then payments, then explicit advances. It stops
// at the first error; what was written before stays written.
func (im *Importer) Import(ctx context.Context, p *Portfolio) (ImportReport, error) {
	report := ImportReport{Payments: make(map[string]generic.PaymentID)}

	for _, c := range p.Contracts {
		saved, err := im.svc.SaveContract(ctx, c)
		if err != nil {
			return report, fmt.Errorf("contract %s: %w", c.ID, err)
		}
		report.Contracts = append(report.Contracts, saved.ID)
	}

	for i, pp := range p.Payments {
		out, err := im.svc.RecordPayment(ctx, pp.Input)
		if err != nil {
			return report, fmt.Errorf("payments[%d]: %w", i, err)
		}
		if pp.Ref != "" {
			report.Payments[pp.Ref] = out.Payment.ID
		}
		if out.Advance != nil {
			report.Advances = append(report.Advances, out.Advance.ID)
		}
	}

	for i, pa := range p.Advances {
		in := pa.Input
		if pa.PaymentRef != "" {
			in.PaymentID = report.Payments[pa.PaymentRef]
		}
		adv, err := im.svc.CreateAdvance(ctx, in)
		if err != nil {
			return report, fmt.Errorf("advances[%d]: %w", i, err)
		}
		report.Advances = append(report.Advances, adv.ID)
	}
	return report, nil
}
