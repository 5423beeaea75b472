// Package api provides the HTTP handlers for portfolio sync, trade import,
// and P&L queries. Handlers decode, validate, delegate, and encode; the
// semantics live in the engine packages.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coinledger/portfolio-engine/internal/aggregate"
	"github.com/coinledger/portfolio-engine/internal/importer"
	"github.com/coinledger/portfolio-engine/internal/model"
	"github.com/coinledger/portfolio-engine/internal/pnl"
	"github.com/coinledger/portfolio-engine/internal/store"
	"github.com/coinledger/portfolio-engine/internal/syncer"
)

// Service bundles the engines behind the HTTP surface.
type Service struct {
	syncer     *syncer.Coordinator
	importer   *importer.Importer
	pnl        *pnl.Engine
	aggregator *aggregate.Aggregator
}

// NewService creates the handler set.
func NewService(sc *syncer.Coordinator, im *importer.Importer, engine *pnl.Engine, agg *aggregate.Aggregator) *Service {
	return &Service{syncer: sc, importer: im, pnl: engine, aggregator: agg}
}

// Routes mounts every portfolio endpoint on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/portfolio/{userID}", func(r chi.Router) {
		r.Get("/", s.GetPortfolio)
		r.Get("/enhanced", s.GetEnhancedPortfolio)
		r.Get("/snapshot", s.GetSnapshot)
		r.Get("/performers", s.GetPerformers)
		r.Post("/sync", s.Sync)
		r.Get("/sync/status", s.SyncStatus)
		r.Post("/trades/import", s.ImportTrades)
		r.Get("/trades/analysis", s.TradeAnalysis)
		r.Get("/pnl", s.GetPnL)
		r.Get("/pnl/realized", s.GetRealized)
	})
}

// ImportRequest is the JSON body for POST /portfolio/{userID}/trades/import.
// Either Trades carries raw fills directly, or Symbols asks the service to
// pull history from the exchange for the given window.
type ImportRequest struct {
	Trades  []model.RawTrade `json:"trades,omitempty"`
	Symbols []string         `json:"symbols,omitempty"`
	Days    int              `json:"days,omitempty"` // window for exchange pulls, default 30
}

// Sync handles POST /api/v1/portfolio/{userID}/sync.
func (s *Service) Sync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, "userID is required", http.StatusBadRequest)
		return
	}

	res, err := s.syncer.Sync(r.Context(), userID)
	if err != nil {
		if res != nil {
			// Failure is recorded in sync state; surface both.
			writeJSON(w, http.StatusBadGateway, res)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncStatus handles GET /api/v1/portfolio/{userID}/sync/status.
func (s *Service) SyncStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	state, running, err := s.syncer.Status(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sync_state":  state,
		"in_progress": running,
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	p, err := s.aggregator.GetPortfolio(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetEnhancedPortfolio handles GET /api/v1/portfolio/{userID}/enhanced.
func (s *Service) GetEnhancedPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	p, err := s.aggregator.Enhanced(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetSnapshot handles GET /api/v1/portfolio/{userID}/snapshot. It returns
// today's snapshot, creating it on first call.
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	snap, err := s.aggregator.Snapshot(r.Context(), userID, time.Now().UTC())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetPerformers handles GET /api/v1/portfolio/{userID}/performers.
func (s *Service) GetPerformers(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, err := s.aggregator.Performers(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ImportTrades handles POST /api/v1/portfolio/{userID}/trades/import.
func (s *Service) ImportTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Trades) == 0 && len(req.Symbols) == 0 {
		writeError(w, "either trades or symbols is required", http.StatusBadRequest)
		return
	}

	var res *importer.ImportResult
	var err error
	if len(req.Trades) > 0 {
		res, err = s.importer.ImportBatch(r.Context(), userID, req.Trades)
	} else {
		days := req.Days
		if days <= 0 {
			days = 30
		}
		end := time.Now().UTC()
		res, err = s.importer.FetchAndImport(r.Context(), userID, req.Symbols, end.AddDate(0, 0, -days), end)
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// TradeAnalysis handles GET /api/v1/portfolio/{userID}/trades/analysis.
func (s *Service) TradeAnalysis(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	res, err := s.aggregator.Analyze(r.Context(), userID, tradeFilter(r))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPnL handles GET /api/v1/portfolio/{userID}/pnl?symbol=&days=.
func (s *Service) GetPnL(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	symbol := r.URL.Query().Get("symbol")
	days := queryInt(r, "days", 30)

	report, err := s.pnl.ComputeComprehensive(r.Context(), userID, symbol, days)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetRealized handles GET /api/v1/portfolio/{userID}/pnl/realized.
func (s *Service) GetRealized(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, err := s.aggregator.Realized(r.Context(), userID, tradeFilter(r))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// tradeFilter builds a store filter from ?symbol=&days= query parameters.
func tradeFilter(r *http.Request) store.TradeFilter {
	f := store.TradeFilter{Symbol: r.URL.Query().Get("symbol")}
	if days := queryInt(r, "days", 0); days > 0 {
		f.Since = time.Now().UTC().AddDate(0, 0, -days)
	}
	return f
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
