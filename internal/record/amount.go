package record

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// AtomicUnitsPerCoin is the fixed-point scale between atomic units and the
// display currency unit.
const AtomicUnitsPerCoin = 1_000_000_000_000

const coinExponent = 12

// Amount is a quantity in atomic units. All threshold and balance arithmetic
// stays in this type; floats are only produced for display.
type Amount uint64

// ParseAmount converts a display-unit decimal string such as "0.1" into
// atomic units without going through a float.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("parse amount %q: negative", s)
	}
	atomic := d.Shift(coinExponent)
	if !atomic.IsInteger() {
		return 0, fmt.Errorf("parse amount %q: more than %d decimal places", s, coinExponent)
	}
	n := atomic.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("parse amount %q: exceeds %d atomic units", s, uint64(math.MaxUint64))
	}
	return Amount(n.Uint64()), nil
}

// Decimal returns the amount in display units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -coinExponent)
}

// String formats the amount in display units with full precision.
func (a Amount) String() string {
	return a.Decimal().String()
}

// Display formats the amount with six decimals for logs.
func (a Amount) Display() string {
	return a.Decimal().StringFixed(6)
}

// Add returns a+b and false if the sum overflows.
func (a Amount) Add(b Amount) (Amount, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
