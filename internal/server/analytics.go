package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datapulse/datapulse/internal/domain"
)

type queryRequest struct {
	SQL          string `json:"sql"`
	DataSourceID string `json:"dataSourceId,omitempty"`
	Params       []any  `json:"params,omitempty"`
	Cache        *bool  `json:"cache,omitempty"`
}

// handleQuery runs one free-form read-only statement. Caching defaults on;
// clients opt out per request.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	useCache := req.Cache == nil || *req.Cache
	result, err := s.engine.Execute(r.Context(), req.SQL, req.Params, req.DataSourceID, useCache)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req domain.AggregationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.engine.Aggregate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type metricValue struct {
	Name        string `json:"name"`
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

type metricsResponse struct {
	DataSourceID string        `json:"dataSourceId"`
	Metrics      []metricValue `json:"metrics"`
	CalculatedAt time.Time     `json:"calculatedAt"`
}

// handleMetrics reports the predefined per-source metrics from the catalog
// record, which the registry keeps in step with the store table.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, ok := s.registry.Get(id)
	if !ok {
		writeError(w, r, domain.ErrSourceNotFound(id))
		return
	}

	writeJSON(w, http.StatusOK, metricsResponse{
		DataSourceID: src.ID,
		Metrics: []metricValue{
			{Name: "row_count", Value: src.RowCount, Description: "Total number of rows", Unit: "rows"},
			{Name: "size_bytes", Value: src.SizeBytes, Description: "Ingested payload size", Unit: "bytes"},
			{Name: "column_count", Value: len(src.Schema), Description: "Number of columns", Unit: "columns"},
			{Name: "last_updated", Value: src.UpdatedAt, Description: "Last content change"},
		},
		CalculatedAt: time.Now().UTC(),
	})
}
