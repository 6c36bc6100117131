// Package model defines the core domain types shared across the valuation
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source identifies where a price feed obtains its observations.
type Source string

const (
	SourcePyth      Source = "pyth"
	SourceChainlink Source = "chainlink"
	SourceCustom    Source = "custom"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourcePyth, SourceChainlink, SourceCustom:
		return true
	}
	return false
}

func (s Source) String() string { return string(s) }

// AssetPrice is one immutable price observation. A new observation is
// always a new history row, never an update.
type AssetPrice struct {
	AssetCode string          `json:"asset_code"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    Source          `json:"source"`
}

// PriceFeedConfig is the single registration record for an asset.
type PriceFeedConfig struct {
	ID          uuid.UUID  `json:"id"`
	AssetCode   string     `json:"asset_code"`
	Source      Source     `json:"source"`
	FeedID      string     `json:"feed_id"`
	IsActive    bool       `json:"is_active"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// CollateralValuation is derived on every request and never stored.
// LastUpdated is the timestamp of the price that produced it.
type CollateralValuation struct {
	PlanID          *uuid.UUID      `json:"plan_id,omitempty"`
	AssetCode       string          `json:"asset_code"`
	Amount          decimal.Decimal `json:"amount"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	ValuationUSD    decimal.Decimal `json:"valuation_usd"`
	CollateralRatio decimal.Decimal `json:"collateral_ratio"` // percent
	LastUpdated     time.Time       `json:"last_updated"`
}

// Plan is the slice of an inheritance plan record the engine reads.
// Plans are owned by other services; the engine never writes them.
type Plan struct {
	ID        uuid.UUID       `json:"id"`
	AssetCode string          `json:"asset_code"`
	NetAmount decimal.Decimal `json:"net_amount"`
}
