package core

import (
	"fmt"
	"math/big"
)

// DecimalScale is the number of implied fractional digits every Decimal
// carries. Amounts are stored as a scaled big.Int rather than a float so
// that repeated transfers and clearing passes never accumulate rounding
// error.
const DecimalScale = 1_000_000

// Decimal is a fixed-point signed amount: value/DecimalScale.
type Decimal struct {
	v *big.Int
}

// ZeroDecimal returns the additive identity.
func ZeroDecimal() Decimal { return Decimal{v: big.NewInt(0)} }

// NewDecimalFromInt64 builds a whole-unit amount (e.g. NewDecimalFromInt64(5) is 5.000000).
func NewDecimalFromInt64(units int64) Decimal {
	return Decimal{v: new(big.Int).Mul(big.NewInt(units), big.NewInt(DecimalScale))}
}

// NewDecimalFromScaled wraps an already-scaled integer (value = units * DecimalScale).
func NewDecimalFromScaled(scaled int64) Decimal { return Decimal{v: big.NewInt(scaled)} }

func (d Decimal) clone() Decimal {
	if d.v == nil {
		return ZeroDecimal()
	}
	return Decimal{v: new(big.Int).Set(d.v)}
}

func (d Decimal) Add(o Decimal) Decimal {
	a, b := d.clone(), o.clone()
	return Decimal{v: a.v.Add(a.v, b.v)}
}

func (d Decimal) Sub(o Decimal) Decimal {
	a, b := d.clone(), o.clone()
	return Decimal{v: a.v.Sub(a.v, b.v)}
}

func (d Decimal) Neg() Decimal {
	a := d.clone()
	return Decimal{v: a.v.Neg(a.v)}
}

// Cmp returns -1, 0, 1 as d is less than, equal to, or greater than o.
func (d Decimal) Cmp(o Decimal) int { return d.clone().v.Cmp(o.clone().v) }

func (d Decimal) IsNegative() bool { return d.clone().v.Sign() < 0 }
func (d Decimal) IsPositive() bool { return d.clone().v.Sign() > 0 }
func (d Decimal) IsZero() bool     { return d.clone().v.Sign() == 0 }

// Min returns the lesser of two decimals, used by clearing's minimum-edge
// reduction.
func (d Decimal) Min(o Decimal) Decimal {
	if d.Cmp(o) <= 0 {
		return d
	}
	return o
}

func (d Decimal) String() string {
	v := d.clone().v
	scale := big.NewInt(DecimalScale)
	whole := new(big.Int).Quo(v, scale)
	frac := new(big.Int).Mod(new(big.Int).Abs(v), scale)
	return fmt.Sprintf("%s.%06d", whole.String(), frac.Int64())
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.clone().v.String() + `"`), nil
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("%w: malformed decimal %q", ErrInvalidInput, string(data))
	}
	d.v = v
	return nil
}
