// Package ledger is the contract-side mirror of the valuation engine. It
// re-checks price freshness and recomputes the collateral valuation from
// caller-supplied price data before a ledger-affecting action is
// authorized. It never reads the price store; there is no oracle push to
// the ledger.
//
// Numbers follow the contract's integer model: amounts are uint64,
// prices are unsigned 128-bit fixed point with PriceScale decimals, and
// every multiply is overflow-checked. Nothing ever wraps or saturates.
package ledger

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/collateral"
)

// PriceScale is the number of decimal places in a ledger price (USD × 1e8).
const PriceScale = 8

// DefaultAsset is recorded when the caller does not name one.
const DefaultAsset = "USDC"

// u128Bits is the width of the contract's U128 type.
const u128Bits = 128

// Env exposes the ledger's view of time for the enclosing transaction.
type Env interface {
	// LedgerTimestamp returns the ledger close time in unix seconds.
	LedgerTimestamp() uint64
}

// FixedEnv is an Env frozen at a given unix timestamp.
type FixedEnv uint64

func (e FixedEnv) LedgerTimestamp() uint64 { return uint64(e) }

// SystemEnv reads the wall clock. Used when simulating off-ledger.
type SystemEnv struct{}

func (SystemEnv) LedgerTimestamp() uint64 { return uint64(time.Now().Unix()) }

// Valuation is the contract-side collateral valuation result.
type Valuation struct {
	Asset             string
	Amount            uint64
	Price             *uint256.Int
	ValuationUSD      *uint256.Int // same scale as Price
	CollateralRatioBP uint32
}

// Guard performs the stateless checks. It is not safe for concurrent use;
// a ledger transaction is single-threaded by construction.
type Guard struct {
	env Env
}

// NewGuard creates a guard bound to a ledger environment.
func NewGuard(env Env) *Guard {
	return &Guard{env: env}
}

// VerifyPriceFreshness fails with ErrFutureTimestamp when priceTS is after
// the ledger time, and with ErrStale when the price is older than maxAge
// seconds. A price exactly maxAge old is still fresh.
func (g *Guard) VerifyPriceFreshness(priceTS, maxAge uint64) error {
	now := g.env.LedgerTimestamp()
	if priceTS > now {
		return fmt.Errorf("%w: price at %d, ledger at %d", apperr.ErrFutureTimestamp, priceTS, now)
	}
	if age := now - priceTS; age > maxAge {
		return fmt.Errorf("%w: age %ds exceeds %ds", apperr.ErrStale, age, maxAge)
	}
	return nil
}

// ValidateCollateral computes amount × price with an overflow-checked
// multiply and requires the resulting collateral ratio to be at least
// minRatioBP.
func (g *Guard) ValidateCollateral(amount uint64, price *uint256.Int, minRatioBP uint32) (Valuation, error) {
	if price == nil {
		return Valuation{}, fmt.Errorf("%w: price is required", apperr.ErrValidation)
	}
	if price.BitLen() > u128Bits {
		return Valuation{}, fmt.Errorf("%w: price wider than 128 bits", apperr.ErrValidation)
	}

	valuation, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), price)
	if overflow || valuation.BitLen() > u128Bits {
		return Valuation{}, fmt.Errorf("%w: %d × %s does not fit in 128 bits", apperr.ErrOverflow, amount, price.Dec())
	}

	ratioBP := collateral.RatioBP(!valuation.IsZero())
	if !collateral.Meets(ratioBP, minRatioBP) {
		return Valuation{}, fmt.Errorf("%w: %d bp below required %d bp", apperr.ErrInsufficientCollateral, ratioBP, minRatioBP)
	}

	return Valuation{
		Asset:             DefaultAsset,
		Amount:            amount,
		Price:             new(uint256.Int).Set(price),
		ValuationUSD:      valuation,
		CollateralRatioBP: ratioBP,
	}, nil
}

// CalculatePlanValuation is ValidateCollateral at the plan minimum ratio.
func (g *Guard) CalculatePlanValuation(amount uint64, price *uint256.Int) (Valuation, error) {
	return g.ValidateCollateral(amount, price, collateral.MinPlanRatioBP)
}

// PriceFromDecimal converts a backend decimal USD price into the ledger's
// fixed-point representation. Prices with more than PriceScale decimals
// are rejected rather than rounded.
func PriceFromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative price %s", apperr.ErrValidation, d)
	}
	scaled := d.Shift(PriceScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: price %s has more than %d decimals", apperr.ErrValidation, d, PriceScale)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow || v.BitLen() > u128Bits {
		return nil, fmt.Errorf("%w: price %s does not fit in 128 bits", apperr.ErrOverflow, d)
	}
	return v, nil
}

// ToDecimal converts a fixed-point ledger value back to a decimal.
func ToDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -PriceScale)
}
