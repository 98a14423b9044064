package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datapulse/datapulse/internal/domain"
)

type dashboardRequest struct {
	Name            string                `json:"name"`
	Layout          []domain.WidgetLayout `json:"layout"`
	Filters         json.RawMessage       `json:"filters,omitempty"`
	DataSourceID    string                `json:"dataSourceId,omitempty"`
	RefreshInterval *int                  `json:"refreshInterval,omitempty"`
}

func (s *Server) handleListDashboards(w http.ResponseWriter, r *http.Request) {
	configs, err := s.dashboards.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if configs == nil {
		configs = []domain.DashboardConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleSaveDashboard(w http.ResponseWriter, r *http.Request) {
	var req dashboardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cfg, err := s.dashboards.Save(r.Context(), req.Name, req.Layout, req.Filters, req.DataSourceID, req.RefreshInterval)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.dashboards.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateDashboard(w http.ResponseWriter, r *http.Request) {
	var patch domain.DashboardPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	cfg, err := s.dashboards.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteDashboard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dashboards.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}
