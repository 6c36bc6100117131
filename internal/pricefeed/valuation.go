package pricefeed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/collateral"
	"github.com/inheritx/valuation-engine/internal/metrics"
	"github.com/inheritx/valuation-engine/internal/model"
)

// Value computes a collateral valuation from an amount and a resolved
// price. It has no side effects.
//
//	valuation_usd    = amount × price   (exact decimal multiply)
//	collateral_ratio = shared policy, in percent
//	last_updated     = price.Timestamp
func Value(amount decimal.Decimal, price model.AssetPrice) (model.CollateralValuation, error) {
	if !amount.IsPositive() {
		return model.CollateralValuation{}, fmt.Errorf("%w: amount must be greater than zero", apperr.ErrValidation)
	}
	if !price.Price.IsPositive() {
		return model.CollateralValuation{}, fmt.Errorf("%w: price for %s must be greater than zero", apperr.ErrValidation, price.AssetCode)
	}

	valuation := amount.Mul(price.Price)
	ratioBP := collateral.RatioBP(valuation.IsPositive())

	return model.CollateralValuation{
		AssetCode:       price.AssetCode,
		Amount:          amount,
		CurrentPrice:    price.Price,
		ValuationUSD:    valuation,
		CollateralRatio: collateral.RatioPercent(ratioBP),
		LastUpdated:     price.Timestamp,
	}, nil
}

// CalculateValuation values amount units of an asset at its current price.
// The amount is checked before any price lookup.
func (s *Service) CalculateValuation(ctx context.Context, assetCode string, amount decimal.Decimal) (model.CollateralValuation, error) {
	if !amount.IsPositive() {
		metrics.Valuations.WithLabelValues("rejected").Inc()
		return model.CollateralValuation{}, fmt.Errorf("%w: amount must be greater than zero", apperr.ErrValidation)
	}

	price, err := s.GetPrice(ctx, assetCode)
	if err != nil {
		metrics.Valuations.WithLabelValues("error").Inc()
		return model.CollateralValuation{}, err
	}

	v, err := Value(amount, price)
	if err != nil {
		metrics.Valuations.WithLabelValues("rejected").Inc()
		return model.CollateralValuation{}, err
	}
	metrics.Valuations.WithLabelValues("ok").Inc()
	return v, nil
}

// GetPlanValuation resolves a plan's asset and net amount and values it.
func (s *Service) GetPlanValuation(ctx context.Context, planID uuid.UUID) (model.CollateralValuation, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		if !apperr.Is(err, apperr.ErrNotFound) {
			s.logger.Error("failed to fetch plan", "plan_id", planID, "err", err)
		}
		return model.CollateralValuation{}, err
	}

	v, err := s.CalculateValuation(ctx, plan.AssetCode, plan.NetAmount)
	if err != nil {
		return model.CollateralValuation{}, err
	}
	v.PlanID = &planID
	return v, nil
}
