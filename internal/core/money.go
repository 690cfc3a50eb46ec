// Package core provides money parsing and handling utilities.
//
// Amounts are stored as integer cents. Conversions to and from decimal
// strings go through shopspring/decimal so that JSON payloads and
// percentage splits never pass through float64.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents.
type Money struct {
	Cents int64
}

var (
	ErrInvalidAmount = errors.New("invalid amount")

	hundred = decimal.NewFromInt(100)
)

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two decimals, e.g. "1234.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MoneyFromDecimal rounds d half away from zero to whole cents.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Mul(hundred).Round(0).IntPart()}
}

// ParseMoney converts a decimal string to cents. It accepts both dot (12.34)
// and comma (12,34) decimal separators and rounds on the third decimal place.
// When both appear, the last one is the decimal separator and the other
// groups thousands (1,234.56 or 1.234,56); repeated commas alone group
// thousands too (1,234,567). Zero and negative values are allowed; callers
// validate sign where needed.
func ParseMoney(s string) (Money, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(normalizeSeparators(in))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, in)
	}
	return MoneyFromDecimal(d), nil
}

func normalizeSeparators(s string) string {
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case comma < 0:
		return s
	case dot > comma:
		return strings.ReplaceAll(s, ",", "")
	case dot >= 0:
		return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
	case strings.Count(s, ",") > 1:
		return strings.ReplaceAll(s, ",", "")
	}
	return strings.Replace(s, ",", ".", 1)
}

// Percent returns m * pct / 100 rounded to cents.
func (m Money) Percent(pct decimal.Decimal) Money {
	return MoneyFromDecimal(m.Decimal().Mul(pct).Div(hundred))
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*m = Money{}
		return nil
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
