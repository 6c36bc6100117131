// Package api exposes the price feed engine over HTTP: public price,
// history and valuation reads, admin feed management behind a JWT guard,
// and a WebSocket stream of accepted price updates.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/auth"
	"github.com/inheritx/valuation-engine/internal/ledger"
	"github.com/inheritx/valuation-engine/internal/model"
	"github.com/inheritx/valuation-engine/internal/pricefeed"
)

// Engine is the slice of the price feed service the handlers need.
type Engine interface {
	GetPrice(ctx context.Context, assetCode string) (model.AssetPrice, error)
	GetPriceHistory(ctx context.Context, assetCode string, limit int) ([]model.AssetPrice, error)
	CalculateValuation(ctx context.Context, assetCode string, amount decimal.Decimal) (model.CollateralValuation, error)
	GetPlanValuation(ctx context.Context, planID uuid.UUID) (model.CollateralValuation, error)
	RegisterFeedTag(ctx context.Context, assetCode, sourceTag, feedID string) (model.PriceFeedConfig, error)
	UpdatePrice(ctx context.Context, assetCode string, price decimal.Decimal) (model.AssetPrice, error)
	GetActiveFeeds(ctx context.Context) ([]model.PriceFeedConfig, error)
}

var _ Engine = (*pricefeed.Service)(nil)

// Handler serves the engine's HTTP API.
type Handler struct {
	engine       Engine
	historyLimit int
	ledgerEnv    ledger.Env
	maxPriceAge  time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLedger sets the ledger clock and freshness window used by the plan
// preflight check.
func WithLedger(env ledger.Env, maxPriceAge time.Duration) HandlerOption {
	return func(h *Handler) {
		if env != nil {
			h.ledgerEnv = env
		}
		if maxPriceAge > 0 {
			h.maxPriceAge = maxPriceAge
		}
	}
}

// NewHandler creates the HTTP handlers. historyLimit is the page size for
// history requests without ?limit; zero selects the engine default.
func NewHandler(engine Engine, historyLimit int, opts ...HandlerOption) *Handler {
	if historyLimit <= 0 {
		historyLimit = pricefeed.DefaultHistoryLimit
	}
	h := &Handler{
		engine:       engine,
		historyLimit: historyLimit,
		ledgerEnv:    ledger.SystemEnv{},
		maxPriceAge:  time.Duration(ledger.DefaultMaxPriceAge) * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers the API routes on r, which is normally the /api/v1
// sub-router. Admin routes are only mounted when adminSecret is set.
func (h *Handler) Mount(r chi.Router, adminSecret string) {
	r.Get("/prices/{asset}", h.GetPrice)
	r.Get("/prices/{asset}/history", h.GetPriceHistory)
	r.Get("/valuations/{asset}/{amount}", h.CalculateValuation)
	r.Get("/plans/{planID}/valuation", h.GetPlanValuation)
	r.Get("/plans/{planID}/ledger-preflight", h.LedgerPreflight)

	if adminSecret == "" {
		slog.Warn("ADMIN_JWT_SECRET not set, admin routes disabled")
		return
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAdmin(adminSecret))
		r.Get("/price-feeds", h.ListFeeds)
		r.Post("/price-feeds", h.RegisterFeed)
		r.Post("/prices/{asset}", h.UpdatePrice)
	})
}

// --- Request/Response types ---

// RegisterFeedRequest is the JSON body for POST /admin/price-feeds.
type RegisterFeedRequest struct {
	AssetCode string `json:"asset_code"`
	Source    string `json:"source"` // pyth, chainlink or custom
	FeedID    string `json:"feed_id"`
}

// UpdatePriceRequest is the JSON body for POST /admin/prices/{asset}.
type UpdatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type successResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// --- HTTP Handlers ---

// GetPrice handles GET /api/v1/prices/{asset}
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetPrice(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPriceHistory handles GET /api/v1/prices/{asset}/history?limit=N
// Observations are returned newest first.
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: limit must be an integer", apperr.ErrValidation))
			return
		}
		limit = n
	}

	prices, err := h.engine.GetPriceHistory(r.Context(), chi.URLParam(r, "asset"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if prices == nil {
		prices = []model.AssetPrice{}
	}
	writeJSON(w, http.StatusOK, prices)
}

// CalculateValuation handles GET /api/v1/valuations/{asset}/{amount}
func (h *Handler) CalculateValuation(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(chi.URLParam(r, "amount"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: amount must be a decimal number", apperr.ErrValidation))
		return
	}

	v, err := h.engine.CalculateValuation(r.Context(), chi.URLParam(r, "asset"), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetPlanValuation handles GET /api/v1/plans/{planID}/valuation
func (h *Handler) GetPlanValuation(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, v)
}

// RegisterFeed handles POST /api/v1/admin/price-feeds
func (h *Handler) RegisterFeed(w http.ResponseWriter, r *http.Request) {
	var req RegisterFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", apperr.ErrValidation))
		return
	}

	feed, err := h.engine.RegisterFeedTag(r.Context(), req.AssetCode, req.Source, req.FeedID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

// UpdatePrice handles POST /api/v1/admin/prices/{asset}
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req UpdatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", apperr.ErrValidation))
		return
	}

	p, err := h.engine.UpdatePrice(r.Context(), chi.URLParam(r, "asset"), req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListFeeds handles GET /api/v1/admin/price-feeds
func (h *Handler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.engine.GetActiveFeeds(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if feeds == nil {
		feeds = []model.PriceFeedConfig{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(successResponse{Status: "success", Data: data})
}

// writeError writes a JSON error response. Internal details stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	switch {
	case apperr.Abandoned(err):
		slog.Warn("request abandoned", "method", r.Method, "path", r.URL.Path, "err", err)
	case status >= http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error:   apperr.Code(err),
		Message: apperr.PublicMessage(err),
	})
}
