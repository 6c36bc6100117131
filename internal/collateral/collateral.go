// Package collateral holds the collateral-ratio policy shared by the
// backend valuation path and the on-ledger guard, so both environments
// agree on the same numbers.
//
// The ratio is currently a constant 100% of par for any positive
// valuation. No liability (loan principal) is threaded through either
// path yet, so there is no denominator to divide by.
package collateral

import "github.com/shopspring/decimal"

const (
	// FullRatioBP is 100% expressed in basis points.
	FullRatioBP uint32 = 10000

	// MinPlanRatioBP is the minimum ratio a plan must meet to be confirmed.
	MinPlanRatioBP = FullRatioBP

	bpPerPercent = 100
)

// RatioBP returns the collateral ratio in basis points for a valuation.
// A positive valuation meets par; anything else is zero.
func RatioBP(valuationPositive bool) uint32 {
	if valuationPositive {
		return FullRatioBP
	}
	return 0
}

// RatioPercent converts basis points to a percentage (10000 bp → 100).
func RatioPercent(bp uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(bp)).Div(decimal.NewFromInt(bpPerPercent))
}

// Meets reports whether ratioBP satisfies minRatioBP.
func Meets(ratioBP, minRatioBP uint32) bool {
	return ratioBP >= minRatioBP
}
