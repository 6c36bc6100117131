package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/api"
	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/auth"
	"github.com/inheritx/valuation-engine/internal/model"
	"github.com/inheritx/valuation-engine/internal/pricecache"
	"github.com/inheritx/valuation-engine/internal/pricefeed"
	"github.com/inheritx/valuation-engine/internal/store"
)

const testSecret = "test-admin-secret"

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testEnv struct {
	store  *store.MemoryStore
	router chi.Router
	token  string
}

// newTestEnv wires a real engine over an in-memory store behind a chi router.
func newTestEnv(t *testing.T, opts ...pricefeed.Option) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := pricefeed.NewService(ms, pricecache.New(time.Minute), opts...)
	return newRouterEnv(t, ms, svc)
}

func newRouterEnv(t *testing.T, ms *store.MemoryStore, engine api.Engine) *testEnv {
	t.Helper()
	h := api.NewHandler(engine, 0)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		h.Mount(r, testSecret)
	})

	token, err := auth.IssueAdminToken(testSecret, "test", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return &testEnv{store: ms, router: r, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, admin bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func (e *testEnv) registerFeed(t *testing.T, code string) {
	t.Helper()
	w, _ := e.do(t, "POST", "/api/v1/admin/price-feeds", api.RegisterFeedRequest{
		AssetCode: code, Source: "custom", FeedID: code + "-usd",
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", code, w.Code, w.Body.String())
	}
}

func (e *testEnv) updatePrice(t *testing.T, code, price string) {
	t.Helper()
	w, _ := e.do(t, "POST", "/api/v1/admin/prices/"+code, api.UpdatePriceRequest{
		Price: decimal.RequireFromString(price),
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("update %s: expected 200, got %d: %s", code, w.Code, w.Body.String())
	}
}

// --- Price tests ---

func TestUpdateThenGetPrice(t *testing.T) {
	e := newTestEnv(t)
	e.registerFeed(t, "ETH")
	e.updatePrice(t, "ETH", "3000.25")

	w, env := e.do(t, "GET", "/api/v1/prices/eth", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if env.Status != "success" {
		t.Errorf("expected success envelope, got %q", env.Status)
	}

	var p model.AssetPrice
	json.Unmarshal(env.Data, &p)
	if p.AssetCode != "ETH" {
		t.Errorf("expected ETH, got %s", p.AssetCode)
	}
	if !p.Price.Equal(decimal.RequireFromString("3000.25")) {
		t.Errorf("expected 3000.25, got %s", p.Price)
	}
	if p.Source != model.SourceCustom {
		t.Errorf("expected custom source, got %s", p.Source)
	}
}

func TestGetPrice_NotFound(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, "GET", "/api/v1/prices/BTC", nil, false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if env.Error != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", env.Error)
	}
}

func TestGetPrice_InvalidCode(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, "GET", "/api/v1/prices/not-a-code", nil, false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env.Error != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", env.Error)
	}
}

func TestUpdatePrice_NoFeed(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, "POST", "/api/v1/admin/prices/BTC", api.UpdatePriceRequest{
		Price: decimal.NewFromInt(50000),
	}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if env.Error != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", env.Error)
	}
}

func TestUpdatePrice_RejectsNonPositive(t *testing.T) {
	e := newTestEnv(t)
	e.registerFeed(t, "ETH")

	for _, price := range []string{"0", "-1"} {
		w, _ := e.do(t, "POST", "/api/v1/admin/prices/ETH", api.UpdatePriceRequest{
			Price: decimal.RequireFromString(price),
		}, true)
		if w.Code != http.StatusBadRequest {
			t.Errorf("price %s: expected 400, got %d", price, w.Code)
		}
	}
}

func TestUpdatePrice_MalformedBody(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/admin/prices/ETH", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+e.token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// --- History tests ---

func TestGetPriceHistory(t *testing.T) {
	now := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	e := newTestEnv(t, pricefeed.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	e.registerFeed(t, "SOL")
	for _, p := range []string{"140", "141", "142"} {
		e.updatePrice(t, "SOL", p)
	}

	w, env := e.do(t, "GET", "/api/v1/prices/SOL/history?limit=2", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var prices []model.AssetPrice
	json.Unmarshal(env.Data, &prices)
	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %d", len(prices))
	}
	if !prices[0].Price.Equal(decimal.NewFromInt(142)) || !prices[1].Price.Equal(decimal.NewFromInt(141)) {
		t.Errorf("expected newest first [142 141], got [%s %s]", prices[0].Price, prices[1].Price)
	}
}

func TestGetPriceHistory_Empty(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, "GET", "/api/v1/prices/SOL/history", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if string(env.Data) != "[]" {
		t.Errorf("expected empty array, got %s", env.Data)
	}
}

func TestGetPriceHistory_BadLimit(t *testing.T) {
	e := newTestEnv(t)

	for _, q := range []string{"abc", "0", "-5"} {
		w, _ := e.do(t, "GET", "/api/v1/prices/SOL/history?limit="+q, nil, false)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", q, w.Code)
		}
	}
}

// --- Valuation tests ---

func TestCalculateValuation(t *testing.T) {
	e := newTestEnv(t)
	e.registerFeed(t, "ETH")
	e.updatePrice(t, "ETH", "100.00")

	w, env := e.do(t, "GET", "/api/v1/valuations/ETH/2.5", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var v model.CollateralValuation
	json.Unmarshal(env.Data, &v)
	if !v.ValuationUSD.Equal(decimal.NewFromInt(250)) {
		t.Errorf("expected 250, got %s", v.ValuationUSD)
	}
	if !v.CollateralRatio.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100%% ratio, got %s", v.CollateralRatio)
	}
	if v.PlanID != nil {
		t.Errorf("plain valuation must not carry a plan id, got %s", v.PlanID)
	}
}

func TestCalculateValuation_BadAmount(t *testing.T) {
	e := newTestEnv(t)
	e.registerFeed(t, "ETH")
	e.updatePrice(t, "ETH", "100")

	for _, amount := range []string{"abc", "0", "-1"} {
		w, env := e.do(t, "GET", "/api/v1/valuations/ETH/"+amount, nil, false)
		if w.Code != http.StatusBadRequest {
			t.Errorf("amount %s: expected 400, got %d", amount, w.Code)
		}
		if env.Error != "VALIDATION_ERROR" {
			t.Errorf("amount %s: expected VALIDATION_ERROR, got %s", amount, env.Error)
		}
	}
}

func TestGetPlanValuation(t *testing.T) {
	e := newTestEnv(t)
	e.registerFeed(t, "USDC")
	e.updatePrice(t, "USDC", "0.9998")

	planID := uuid.New()
	e.store.PutPlan(model.Plan{ID: planID, AssetCode: "USDC", NetAmount: decimal.NewFromInt(1000)})

	w, env := e.do(t, "GET", "/api/v1/plans/"+planID.String()+"/valuation", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var v model.CollateralValuation
	json.Unmarshal(env.Data, &v)
	if v.PlanID == nil || *v.PlanID != planID {
		t.Errorf("expected plan id %s, got %v", planID, v.PlanID)
	}
	if !v.ValuationUSD.Equal(decimal.RequireFromString("999.8")) {
		t.Errorf("expected 999.8, got %s", v.ValuationUSD)
	}

	w, _ = e.do(t, "GET", "/api/v1/plans/"+uuid.NewString()+"/valuation", nil, false)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown plan: expected 404, got %d", w.Code)
	}

	w, _ = e.do(t, "GET", "/api/v1/plans/not-a-uuid/valuation", nil, false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad plan id: expected 400, got %d", w.Code)
	}
}

// --- Admin tests ---

func TestAdminRoutes_RequireToken(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, "GET", "/api/v1/admin/price-feeds", nil, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if env.Error != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %s", env.Error)
	}

	w, _ = e.do(t, "POST", "/api/v1/admin/prices/ETH", api.UpdatePriceRequest{Price: decimal.NewFromInt(1)}, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated update, got %d", w.Code)
	}
}

func TestAdminRoutes_DisabledWithoutSecret(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := pricefeed.NewService(ms, pricecache.New(time.Minute))
	h := api.NewHandler(svc, 0)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) { h.Mount(r, "") })

	req := httptest.NewRequest("GET", "/api/v1/admin/price-feeds", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 with admin routes disabled, got %d", w.Code)
	}
}

func TestRegisterFeed_InvalidSource(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, "POST", "/api/v1/admin/price-feeds", api.RegisterFeedRequest{
		AssetCode: "ETH", Source: "oracle", FeedID: "eth-usd",
	}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env.Error != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", env.Error)
	}
}

func TestListFeeds(t *testing.T) {
	e := newTestEnv(t)
	e.registerFeed(t, "SOL")
	e.registerFeed(t, "BTC")
	e.store.DeactivateFeed("SOL")

	w, env := e.do(t, "GET", "/api/v1/admin/price-feeds", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var feeds []model.PriceFeedConfig
	json.Unmarshal(env.Data, &feeds)
	if len(feeds) != 1 || feeds[0].AssetCode != "BTC" {
		t.Errorf("expected only the active BTC feed, got %+v", feeds)
	}
}

// --- Error mapping ---

type failingEngine struct{ api.Engine }

func (failingEngine) GetPrice(context.Context, string) (model.AssetPrice, error) {
	return model.AssetPrice{}, fmt.Errorf("%w: dial tcp 10.0.0.7:5432: connection refused", apperr.ErrInternal)
}

func TestInternalErrorsHideDetail(t *testing.T) {
	e := newRouterEnv(t, nil, failingEngine{})

	w, env := e.do(t, "GET", "/api/v1/prices/ETH", nil, false)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if env.Error != "INTERNAL_ERROR" {
		t.Errorf("expected INTERNAL_ERROR, got %s", env.Error)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("10.0.0.7")) {
		t.Errorf("internal detail leaked: %s", w.Body.String())
	}
}

type cancelledEngine struct{ api.Engine }

func (cancelledEngine) GetPrice(context.Context, string) (model.AssetPrice, error) {
	return model.AssetPrice{}, context.Canceled
}

func TestCancelledRequestIsNotAServerFault(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := newRouterEnv(t, nil, cancelledEngine{})

	w, env := e.do(t, "GET", "/api/v1/prices/ETH", nil, false)
	if w.Code != apperr.StatusClientClosedRequest {
		t.Fatalf("expected %d, got %d", apperr.StatusClientClosedRequest, w.Code)
	}
	if env.Error != "REQUEST_CANCELED" {
		t.Errorf("expected REQUEST_CANCELED, got %s", env.Error)
	}
	if bytes.Contains(logs.Bytes(), []byte(`"level":"ERROR"`)) {
		t.Errorf("cancelled request logged as an error: %s", logs.String())
	}
}
