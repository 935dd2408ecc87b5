package ledger

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Decimals is the number of fractional digits used by the contracts.
const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ToFixedPoint scales km by 10^18. The conversion goes through the shortest
// decimal form of km so that 0.1 encodes as 100000000000000000 rather than
// the binary float's expansion. Digits beyond the 18th are truncated.
func ToFixedPoint(km float64) (*big.Int, error) {
	if km < 0 || math.IsNaN(km) || math.IsInf(km, 0) {
		return nil, fmt.Errorf("cannot encode distance %v", km)
	}
	s := strconv.FormatFloat(km, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("cannot encode distance %v", km)
	}
	return v, nil
}

// FromFixedPoint is the inverse of ToFixedPoint, rounded to float64.
func FromFixedPoint(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(v, unit).Float64()
	return f
}

// FormatEther renders a wei amount as a decimal ether string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(wei, unit).FloatString(6)
}

func unixSeconds(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0)
}
