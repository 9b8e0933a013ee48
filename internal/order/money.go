package order

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (cents).
type Money int64

// MoneyFromDecimal converts a decimal amount such as 12.50 into Money. Amounts with more
// than two fractional digits are rejected instead of being rounded.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-cent precision", d.String())
	}
	return Money(cents.IntPart()), nil
}

// ParseMoney parses a decimal string such as "0.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d)
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) Mul(qty int) Money {
	return m * Money(qty)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON renders Money as a fixed two-decimal string, e.g. "25.50".
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := MoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
