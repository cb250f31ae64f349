package tax

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// divisionScale is the number of fractional digits kept by intermediate
// quotients before the final two-place rounding.
const divisionScale = 24

// exact converts f to the decimal equal to its binary value, so 1.015
// becomes 1.01499999999999990230037... and rounds down to 1.01.
func exact(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("tax: non-finite amount %v", f)
	}
	// 1074 fractional digits hold the full expansion of any float64.
	s := strconv.FormatFloat(f, 'f', 1074, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return decimal.NewFromString(s)
}

// round2 rounds half to even at two decimal places.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

func quo(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, divisionScale)
}
