package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/ledger"
	"github.com/inheritx/valuation-engine/internal/metrics"
)

// LedgerPreflightResponse is what the on-ledger guard would compute for a
// plan confirmed now with the engine's current price.
type LedgerPreflightResponse struct {
	PlanID            uuid.UUID       `json:"plan_id"`
	AssetCode         string          `json:"asset_code"`
	Amount            uint64          `json:"amount"`
	Price             string          `json:"price"` // fixed point, 8 decimals
	PriceTimestamp    uint64          `json:"price_timestamp"`
	ValuationUSD      decimal.Decimal `json:"valuation_usd"`
	CollateralRatioBP uint32          `json:"collateral_ratio_bp"`
}

// LedgerPreflight handles GET /api/v1/plans/{planID}/ledger-preflight
// It converts the plan's backend valuation into the ledger's integer
// model and runs the guard's freshness and collateral checks, so a client
// learns about a rejection before submitting the transaction.
func (h *Handler) LedgerPreflight(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid plan id", apperr.ErrValidation))
		return
	}

	v, err := h.engine.GetPlanValuation(r.Context(), planID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.preflight(v.AssetCode, v.Amount, v.CurrentPrice, uint64(v.LastUpdated.Unix()))
	if err != nil {
		metrics.LedgerRejections.WithLabelValues(apperr.Code(err)).Inc()
		writeError(w, r, err)
		return
	}
	resp.PlanID = planID
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) preflight(assetCode string, amount, price decimal.Decimal, priceTS uint64) (LedgerPreflightResponse, error) {
	units, err := ledgerAmount(amount)
	if err != nil {
		return LedgerPreflightResponse{}, err
	}
	fixed, err := ledger.PriceFromDecimal(price)
	if err != nil {
		return LedgerPreflightResponse{}, err
	}

	guard := ledger.NewGuard(h.ledgerEnv)
	if err := guard.VerifyPriceFreshness(priceTS, uint64(h.maxPriceAge.Seconds())); err != nil {
		return LedgerPreflightResponse{}, err
	}
	lv, err := guard.CalculatePlanValuation(units, fixed)
	if err != nil {
		return LedgerPreflightResponse{}, err
	}

	return LedgerPreflightResponse{
		AssetCode:         assetCode,
		Amount:            lv.Amount,
		Price:             lv.Price.Dec(),
		PriceTimestamp:    priceTS,
		ValuationUSD:      ledger.ToDecimal(lv.ValuationUSD),
		CollateralRatioBP: lv.CollateralRatioBP,
	}, nil
}

// ledgerAmount converts a plan amount to the ledger's whole-unit uint64.
func ledgerAmount(amount decimal.Decimal) (uint64, error) {
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s is not a whole number of ledger units", apperr.ErrValidation, amount)
	}
	b := amount.BigInt()
	if b.Sign() < 0 || !b.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s does not fit in 64 bits", apperr.ErrOverflow, amount)
	}
	return b.Uint64(), nil
}
