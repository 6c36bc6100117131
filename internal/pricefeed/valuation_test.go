package pricefeed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/model"
	"github.com/inheritx/valuation-engine/internal/pricefeed"
)

func TestValue_ExactDecimalMultiply(t *testing.T) {
	ts := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		amount, price, want string
	}{
		{"2.5", "100.00", "250.00"},
		{"0.000001", "45000.12345678", "0.04500012345678"},
		{"123456789.123456789", "1", "123456789.123456789"},
		{"1000000", "0.9998", "999800"},
		{"0.1", "0.2", "0.02"}, // not representable in binary floating point
	}
	for _, tt := range tests {
		v, err := pricefeed.Value(dec(tt.amount), model.AssetPrice{
			AssetCode: "TST", Price: dec(tt.price), Timestamp: ts, Source: model.SourceCustom,
		})
		if err != nil {
			t.Errorf("%s × %s: unexpected error: %v", tt.amount, tt.price, err)
			continue
		}
		if !v.ValuationUSD.Equal(dec(tt.want)) {
			t.Errorf("%s × %s = %s, want %s", tt.amount, tt.price, v.ValuationUSD, tt.want)
		}
		if !v.CollateralRatio.Equal(dec("100")) {
			t.Errorf("expected 100%% collateral ratio, got %s", v.CollateralRatio)
		}
		if !v.LastUpdated.Equal(ts) {
			t.Errorf("last_updated must be the price timestamp, got %v", v.LastUpdated)
		}
	}
}

func TestValue_RejectsNonPositiveAmount(t *testing.T) {
	p := model.AssetPrice{AssetCode: "TST", Price: dec("1"), Timestamp: time.Now()}
	for _, amount := range []string{"0", "-2.5"} {
		_, err := pricefeed.Value(dec(amount), p)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("expected ErrValidation for amount %s, got %v", amount, err)
		}
	}
}

func TestCalculateValuation_MatchesGetPrice(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	env.register(t, "ETH")
	if _, err := env.svc.UpdatePrice(ctx, "ETH", dec("100.00")); err != nil {
		t.Fatalf("update: %v", err)
	}

	v, err := env.svc.CalculateValuation(ctx, "ETH", dec("2.5"))
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	p, _ := env.svc.GetPrice(ctx, "ETH")
	if !v.ValuationUSD.Equal(dec("2.5").Mul(p.Price)) {
		t.Errorf("valuation %s != amount × price %s", v.ValuationUSD, p.Price)
	}
	if !v.ValuationUSD.Equal(dec("250.00")) {
		t.Errorf("expected 250.00, got %s", v.ValuationUSD)
	}
	if !v.LastUpdated.Equal(p.Timestamp) {
		t.Errorf("expected last_updated %v, got %v", p.Timestamp, v.LastUpdated)
	}
}

func TestCalculateValuation_Errors(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	if _, err := env.svc.CalculateValuation(ctx, "NOPE", dec("1")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown asset, got %v", err)
	}
	if _, err := env.svc.CalculateValuation(ctx, "NOPE", dec("0")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation for zero amount, got %v", err)
	}
	if n := env.store.latestReads.Load(); n != 1 {
		t.Errorf("a rejected amount must not touch the store, got %d reads", n)
	}
}
