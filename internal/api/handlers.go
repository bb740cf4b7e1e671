package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/service"
)

// weightPrefix marks weight overrides in query strings: ?w.revenu_median=80.
const weightPrefix = "w."

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

type filterCategory struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Icon          string  `json:"icon"`
	Unit          string  `json:"unit,omitempty"`
	WeightDefault float64 `json:"weight_default"`
	DatasetID     string  `json:"dataset_id"`
}

type filterCategoriesResponse struct {
	Categories []filterCategory `json:"categories"`
	Count      int              `json:"count"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	data := "not_ready"
	if s.svc.Status().Ready {
		data = "ready"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Version:   s.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  map[string]string{"api": "healthy", "data": data},
	})
}

func (s *Server) listCommunes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), s.cfg.DefaultPageSize)
	if err != nil || limit < 1 || limit > s.cfg.MaxPageSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", s.cfg.MaxPageSize))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a positive integer")
		return
	}
	order := q.Get("order")
	if order == "" {
		order = "desc"
	}
	if order != "asc" && order != "desc" {
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	weights, err := weightParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.svc.List(r.Context(), service.ListOptions{
		Weights: weights,
		Limit:   limit,
		Offset:  offset,
		SortBy:  q.Get("sort_by"),
		Desc:    order == "desc",
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getCommune(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code_insee")
	weights, err := weightParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.svc.CommuneDetail(r.Context(), code, weights)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Commune avec le code INSEE %s non trouvée", code))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) searchCommunes(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearch(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) filterCategories(w http.ResponseWriter, _ *http.Request) {
	filters := s.svc.ListAvailableFilters()
	out := filterCategoriesResponse{Categories: make([]filterCategory, 0, len(filters)), Count: len(filters)}
	for _, f := range filters {
		out.Categories = append(out.Categories, filterCategory{
			ID:            f.ID,
			Name:          f.Name,
			Description:   f.Description,
			Icon:          f.Icon,
			Unit:          f.Unit,
			WeightDefault: f.Weight(),
			DatasetID:     f.DatasetID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) defaultWeights(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.DefaultWeights())
}

func (s *Server) dataStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) communesGeoJSON(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minScore, err := floatParam(q.Get("min_score"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min_score must be a number")
		return
	}
	simplified, err := boolParam(q.Get("simplified"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "simplified must be a boolean")
		return
	}
	s.writeGeoJSON(w, r, service.SearchRequest{MinScore: minScore}, simplified)
}

func (s *Server) searchGeoJSON(w http.ResponseWriter, r *http.Request) {
	simplified, err := boolParam(r.URL.Query().Get("simplified"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "simplified must be a boolean")
		return
	}
	req, ok := s.decodeSearch(w, r)
	if !ok {
		return
	}
	// Maps draw every match.
	req.Limit, req.Offset = 0, 0
	s.writeGeoJSON(w, r, req, simplified)
}

func (s *Server) writeGeoJSON(w http.ResponseWriter, r *http.Request, req service.SearchRequest, simplified bool) {
	fc, err := s.svc.GeoJSON(r.Context(), req, simplified)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		zap.L().Warn("api: encode geojson", zap.Error(err))
	}
}

// decodeSearch reads a search body and applies the page size bounds. It writes the error
// response itself and reports false on bad input.
func (s *Server) decodeSearch(w http.ResponseWriter, r *http.Request) (service.SearchRequest, bool) {
	var req service.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.DefaultPageSize
	}
	if req.Limit > s.cfg.MaxPageSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", s.cfg.MaxPageSize))
		return req, false
	}
	return req, true
}

// fail maps service errors: configuration problems are the caller's fault, the rest are
// logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if failure.Is(err, failure.Configuration) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// weightParams collects w.<filter> query parameters. It returns nil when none is set so the
// service applies the default weights.
func weightParams(r *http.Request) (map[string]float64, error) {
	var weights map[string]float64
	for key, vals := range r.URL.Query() {
		id, ok := strings.CutPrefix(key, weightPrefix)
		if !ok || id == "" || len(vals) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(vals[0], 64)
		if err != nil || v < 0 || v > 100 {
			return nil, eris.Errorf("weight %s must be a number between 0 and 100", id)
		}
		if weights == nil {
			weights = make(map[string]float64)
		}
		weights[id] = v
	}
	return weights, nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func floatParam(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseFloat(s, 64)
}

func boolParam(s string, def bool) (bool, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseBool(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
