package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/metrics"
)

// DefaultMaxPriceAge is the freshness window for plan confirmation, in seconds.
const DefaultMaxPriceAge uint64 = 3600

// Confirmation records that a collateral-backed plan was authorized.
type Confirmation struct {
	PlanID         string
	Valuation      Valuation
	PriceTimestamp uint64
	ConfirmedAt    uint64
}

// Contract is the plan-confirmation entry point. Each call behaves like
// one ledger transaction: every check runs before any state is written,
// so a rejected call leaves no trace.
type Contract struct {
	guard         *Guard
	env           Env
	maxPriceAge   uint64
	confirmations map[string]Confirmation
}

// NewContract creates a contract with the given freshness window.
// A zero maxPriceAge selects DefaultMaxPriceAge.
func NewContract(env Env, maxPriceAge uint64) *Contract {
	if maxPriceAge == 0 {
		maxPriceAge = DefaultMaxPriceAge
	}
	return &Contract{
		guard:         NewGuard(env),
		env:           env,
		maxPriceAge:   maxPriceAge,
		confirmations: make(map[string]Confirmation),
	}
}

// Guard exposes the stateless checks bound to this contract's environment.
func (c *Contract) Guard() *Guard { return c.guard }

// ConfirmPlan authorizes a collateral-backed plan with a caller-supplied
// price observation. It fails when the plan is already confirmed, the
// price is stale or from the future, the valuation overflows, or the
// collateral ratio is below the plan minimum.
func (c *Contract) ConfirmPlan(planID, asset string, amount uint64, price *uint256.Int, priceTS uint64) (Confirmation, error) {
	conf, err := c.confirm(planID, asset, amount, price, priceTS)
	if err != nil {
		metrics.LedgerRejections.WithLabelValues(apperr.Code(err)).Inc()
		return Confirmation{}, err
	}
	return conf, nil
}

func (c *Contract) confirm(planID, asset string, amount uint64, price *uint256.Int, priceTS uint64) (Confirmation, error) {
	if planID == "" {
		return Confirmation{}, fmt.Errorf("%w: plan id is required", apperr.ErrValidation)
	}
	if _, ok := c.confirmations[planID]; ok {
		return Confirmation{}, fmt.Errorf("%w: plan %s already confirmed", apperr.ErrValidation, planID)
	}
	if err := c.guard.VerifyPriceFreshness(priceTS, c.maxPriceAge); err != nil {
		return Confirmation{}, err
	}
	valuation, err := c.guard.CalculatePlanValuation(amount, price)
	if err != nil {
		return Confirmation{}, err
	}
	if asset != "" {
		valuation.Asset = asset
	}

	// All checks passed; commit.
	conf := Confirmation{
		PlanID:         planID,
		Valuation:      valuation,
		PriceTimestamp: priceTS,
		ConfirmedAt:    c.env.LedgerTimestamp(),
	}
	c.confirmations[planID] = conf
	return conf, nil
}

// Confirmation returns the recorded confirmation for a plan.
func (c *Contract) Confirmation(planID string) (Confirmation, error) {
	conf, ok := c.confirmations[planID]
	if !ok {
		return Confirmation{}, fmt.Errorf("%w: plan %s has no confirmation", apperr.ErrNotFound, planID)
	}
	return conf, nil
}
