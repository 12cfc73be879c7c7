package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mindloop/trendd/internal/metrics"
	"github.com/mindloop/trendd/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
func (s *TrendServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/trend/top", s.handleGlobalTop)
	mux.HandleFunc("GET /v1/trend/search", s.handleSearch)
	mux.HandleFunc("GET /v1/trend/{parentKeyword}", s.handleParentTrend)
	mux.HandleFunc("POST /v1/trend/events", s.handleEvents)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *TrendServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseQuery reads the shared period and limit parameters. Malformed or
// missing limits fall back to zero, which the service clamps to its
// default; an unknown period is a client error.
func parseQuery(r *http.Request) (model.Period, int, error) {
	periodParam := r.URL.Query().Get("period")
	if periodParam == "" {
		periodParam = string(model.Period30d)
	}
	period, err := model.ParsePeriod(periodParam)
	if err != nil {
		return "", 0, err
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return period, limit, nil
}

func (s *TrendServer) handleGlobalTop(w http.ResponseWriter, r *http.Request) {
	period, limit, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.GetGlobalTop(r.Context(), period, limit)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *TrendServer) handleParentTrend(w http.ResponseWriter, r *http.Request) {
	period, limit, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.GetParentTrend(r.Context(), r.PathValue("parentKeyword"), period, limit)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *TrendServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	period, limit, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	keyword := r.URL.Query().Get("keyword")
	if model.Normalize(keyword) == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	resp, err := s.SearchTrend(r.Context(), keyword, period, limit)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *TrendServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	var evs []*model.RelationEvent
	if err := json.NewDecoder(r.Body).Decode(&evs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	accepted, err := s.AcceptEvents(evs)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

// writeQueryError maps service errors to status codes: a cache backend
// failure is 503, a validation failure 400, anything else 500.
func (s *TrendServer) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCacheUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errBlankKeyword):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
