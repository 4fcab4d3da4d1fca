package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"datanerd/internal/errs"
	"datanerd/internal/logging"
	"datanerd/internal/plan"
)

type metricPayload struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Kind        string   `json:"kind"`
	Table       string   `json:"table,omitempty"`
	Aggregation string   `json:"aggregation,omitempty"`
	Column      string   `json:"column,omitempty"`
	Filters     []string `json:"filters,omitempty"`
	Formula     string   `json:"formula,omitempty"`
}

type dimensionPayload struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name,omitempty"`
	Kind         string   `json:"kind"`
	Granularity  string   `json:"granularity,omitempty"`
	SampleValues []string `json:"sample_values,omitempty"`
}

type queryRequest struct {
	Metric     string   `json:"metric"`
	Dimensions []string `json:"dimensions,omitempty"`
	Filters    []string `json:"filters,omitempty"`
	OrderBy    string   `json:"order_by,omitempty"`
	Desc       bool     `json:"desc,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

type queryResponse struct {
	Metric      string     `json:"metric"`
	SQL         string     `json:"sql"`
	Columns     []string   `json:"columns"`
	Rows        [][]any    `json:"rows"`
	RowCount    int        `json:"row_count"`
	Cached      bool       `json:"cached"`
	Fingerprint string     `json:"fingerprint"`
	ElapsedMS   float64    `json:"elapsed_ms"`
}

type clearRequest struct {
	Metric  string `json:"metric,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	cat := s.store.Current()
	out := make([]metricPayload, 0, len(cat.Metrics))
	for _, m := range cat.Metrics {
		out = append(out, metricPayload{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Description: m.Description,
			Kind:        m.Kind,
			Aggregation: m.Aggregation,
			Formula:     m.Formula,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"metrics": out})
}

func (s *Server) handleGetMetric(w http.ResponseWriter, r *http.Request) {
	cat := s.store.Current()
	m, err := cat.Metric(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metricPayload{
		Name:        m.Name,
		DisplayName: m.DisplayName,
		Description: m.Description,
		Kind:        m.Kind,
		Table:       m.Table,
		Aggregation: m.Aggregation,
		Column:      m.Column,
		Filters:     m.Filters,
		Formula:     m.Formula,
	})
}

func (s *Server) handleListDimensions(w http.ResponseWriter, r *http.Request) {
	cat := s.store.Current()
	out := make([]dimensionPayload, 0, len(cat.Dimensions))
	for _, d := range cat.Dimensions {
		out = append(out, dimensionPayload{
			Name:         d.Name,
			DisplayName:  d.DisplayName,
			Kind:         d.Kind,
			Granularity:  d.Granularity,
			SampleValues: d.SampleValues,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"dimensions": out})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var in queryRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, errs.New(errs.KindInvalidInput, "Malformed query body").WithValue(err.Error()))
		return
	}

	req := plan.Request{
		Metric:     in.Metric,
		Dimensions: in.Dimensions,
		Filters:    in.Filters,
		Limit:      in.Limit,
	}
	if in.OrderBy != "" {
		req.Order = &plan.Order{Alias: in.OrderBy, Desc: in.Desc}
	}

	out, err := s.analyst.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, queryResponse{
		Metric:      in.Metric,
		SQL:         out.Result.SQL,
		Columns:     out.Result.Columns,
		Rows:        out.Result.Rows,
		RowCount:    len(out.Result.Rows),
		Cached:      out.Cached,
		Fingerprint: out.Fingerprint,
		ElapsedMS:   float64(out.Result.Elapsed.Microseconds()) / 1000,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var in clearRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.writeError(w, r, errs.New(errs.KindInvalidInput, "Malformed clear body").WithValue(err.Error()))
			return
		}
	}

	var removed int
	if in.Metric != "" {
		removed = s.cache.InvalidateMetric(in.Metric)
	} else {
		removed = s.cache.Invalidate(in.Pattern)
	}
	logging.HTTP("cache clear removed %d entries (metric=%q pattern=%q)", removed, in.Metric, in.Pattern)
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cat := s.store.Current()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"backend":        cat.Connection.Backend,
		"catalog": map[string]int{
			"metrics":    len(cat.Metrics),
			"dimensions": len(cat.Dimensions),
			"datasets":   len(cat.Datasets),
		},
		"cache":    s.cache.Stats(),
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryHTTP).Warn("encode response: %v", err)
	}
}

// statusFor maps error kinds onto HTTP statuses. Backend trouble is a bad
// gateway, not an internal error; the failure lives behind us.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindInvalidInput, errs.KindUnsafeExpression:
		return http.StatusBadRequest
	case errs.KindCatalogMiss, errs.KindDimensionUnresolvable, errs.KindDashboardMissing, errs.KindToolUnknown:
		return http.StatusNotFound
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindBackend:
		return http.StatusBadGateway
	case errs.KindCatalogInvalid, errs.KindJoinUnresolvable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errs.AsError(err)
	status := statusFor(err)
	if status >= 500 {
		logging.Get(logging.CategoryHTTP).Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logging.HTTPDebug("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSON(w, status, map[string]errorPayload{"error": {
		Kind:    e.Kind.String(),
		Title:   e.Title,
		Message: e.UserMessage(),
	}})
}
