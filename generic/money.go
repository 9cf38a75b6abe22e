package generic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fraction digits kept on every amount.
const MoneyPlaces = 2

// currencyMarkers are stripped from free-form amounts, longest first.
var currencyMarkers = []string{"F CFA", "FCFA", "XOF", "CFA", "F"}

// NormalizeMoney rounds an amount to MoneyPlaces (half away from zero).
func NormalizeMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ParseMoney converts a raw monetary value into a normalized decimal.
//
// Accepted inputs: strings ("150 000", "150 000 F CFA", "1,234.50",
// "1.234,50", "150.000", "1234,5"), Go integers and floats, decimal.Decimal
// and json.Number. json.Number is read as a plain JSON number, never as
// grouped thousands.
// Anything else, or an unparseable string, returns an *InvalidAmountError.
func ParseMoney(raw any) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case decimal.Decimal:
		d = v
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, &InvalidAmountError{Raw: raw}
		}
		d = *v
	case int:
		d = decimal.NewFromInt(int64(v))
	case int32:
		d = decimal.NewFromInt32(v)
	case int64:
		d = decimal.NewFromInt(v)
	case uint:
		d = decimal.NewFromUint64(uint64(v))
	case uint32:
		d = decimal.NewFromUint64(uint64(v))
	case uint64:
		d = decimal.NewFromUint64(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, &InvalidAmountError{Raw: raw, Err: err}
		}
		d = parsed
	case string:
		parsed, err := parseMoneyString(v)
		if err != nil {
			return decimal.Zero, &InvalidAmountError{Raw: raw, Err: err}
		}
		d = parsed
	default:
		return decimal.Zero, &InvalidAmountError{Raw: raw}
	}
	return NormalizeMoney(d), nil
}

// MoneyOrZero parses raw and falls back to zero on failure. Only for callers
// that explicitly want the lenient behavior, e.g. display code.
func MoneyOrZero(raw any) decimal.Decimal {
	d, err := ParseMoney(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMoneyString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	for _, marker := range currencyMarkers {
		if strings.HasSuffix(strings.ToUpper(s), marker) {
			s = strings.TrimSpace(s[:len(s)-len(marker)])
			break
		}
	}
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "_", "").Replace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	canonical, err := normalizeSeparators(s)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(canonical)
}

// normalizeSeparators rewrites s with "." as the only decimal separator and
// no grouping.
//
//	"1,234.50" / "1.234,50"  both present: the last one is decimal
//	"150,000" / "150.000"    one separator before exactly 3 digits: grouping
//	"1.500.000" / "1,500,000" repeated separator: grouping
//	"1234,5" / "1234.5"      otherwise: decimal
//
// Grouping must come in runs of 3 digits; anything else is rejected.
func normalizeSeparators(s string) (string, error) {
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")

	switch {
	case comma >= 0 && dot >= 0:
		group, dec := ",", "."
		if comma > dot {
			group, dec = ".", ","
		}
		whole, frac, _ := strings.Cut(s, dec)
		if strings.Contains(frac, dec) || strings.Contains(frac, group) {
			return "", fmt.Errorf("%w: mixed separators in %q", ErrInvalidAmount, s)
		}
		if !groupedByThousands(whole, group) {
			return "", fmt.Errorf("%w: misplaced %q grouping in %q", ErrInvalidAmount, group, s)
		}
		return strings.ReplaceAll(whole, group, "") + "." + frac, nil

	case comma >= 0:
		return normalizeSingleSeparator(s, ",")
	case dot >= 0:
		return normalizeSingleSeparator(s, ".")
	}
	return s, nil
}

func normalizeSingleSeparator(s, sep string) (string, error) {
	if strings.Count(s, sep) > 1 || len(s)-strings.Index(s, sep) == 4 {
		if !groupedByThousands(s, sep) {
			return "", fmt.Errorf("%w: misplaced %q grouping in %q", ErrInvalidAmount, sep, s)
		}
		return strings.ReplaceAll(s, sep, ""), nil
	}
	return strings.Replace(s, sep, ".", 1), nil
}

// groupedByThousands reports whether every group after the first has
// exactly 3 characters and the first has 1 to 3 digits.
func groupedByThousands(s, sep string) bool {
	groups := strings.Split(strings.TrimLeft(s, "+-"), sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return len(groups) == 1
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}
