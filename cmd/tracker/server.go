package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/coin-tracker/internal/icon"
	"github.com/rickgao/coin-tracker/internal/store"
	"github.com/rickgao/coin-tracker/internal/view"
)

// healthReport is the /health body.
type healthReport struct {
	Status     string         `json:"status"`
	Uptime     string         `json:"uptime"`
	Components map[string]any `json:"components"`
}

// server serves the read-only HTTP API.
type server struct {
	store  *store.Store
	list   *view.ListModel
	icons  *icon.Loader // nil when icons are disabled
	health func() healthReport
	logger *slog.Logger
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /coins", s.handleCoins)
	mux.HandleFunc("GET /coins/{symbol}", s.handleCoin)
	mux.HandleFunc("GET /coins/{symbol}/icon", s.handleIcon)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health()
	status := http.StatusOK
	if report.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *server) handleCoins(w http.ResponseWriter, r *http.Request) {
	rows := s.list.Rows()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(rows),
		"coins": rows,
	})
}

func (s *server) handleCoin(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Get(strings.ToUpper(r.PathValue("symbol")))
	if !ok {
		s.writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"coin":    view.NewCoinView(rec),
		"current": rec.CurrentPrice,
		"min":     rec.MinPrice,
		"max":     rec.MaxPrice,
	})
}

func (s *server) handleIcon(w http.ResponseWriter, r *http.Request) {
	if s.icons == nil {
		s.writeError(w, http.StatusNotFound, errors.New("icons disabled"))
		return
	}
	rec, ok := s.store.Get(strings.ToUpper(r.PathValue("symbol")))
	if !ok {
		s.writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	if rec.IconURL == "" {
		s.writeError(w, http.StatusNotFound, icon.ErrEmptyURL)
		return
	}

	ic, err := s.icons.Fetch(r.Context(), rec.IconURL)
	if err != nil {
		s.logger.Warn("icon fetch failed", "symbol", rec.Symbol, "error", err)
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", ic.ContentType)
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(ic.Data)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func formatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
