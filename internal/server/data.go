package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/datapulse/datapulse/internal/domain"
	"github.com/datapulse/datapulse/internal/export"
	"github.com/datapulse/datapulse/internal/inference"
	"github.com/datapulse/datapulse/internal/logging"
)

// uploadResponse pairs the registered source with the row-level report.
type uploadResponse struct {
	DataSource domain.DataSource      `json:"dataSource"`
	Report     domain.IngestionReport `json:"report"`
}

// handleUpload ingests one multipart file: spool, infer, then validate and
// load inside the registration transaction. A failed load registers nothing.
// A sourceId form field re-ingests that existing source instead: the table is
// rebuilt, the version bumps, and subscribers receive a data:update.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, &domain.EngineError{Code: domain.CodeFileUpload, Message: "missing or oversized file field", Err: err})
		return
	}
	defer file.Close()

	spool, err := inference.NewSpool(header.Filename, file, s.cfg.MaxUploadBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer spool.Close()

	declared, err := declaredSchema(r.FormValue("schema"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = header.Filename
	}

	schema, stats, err := s.inference.Infer(r.Context(), spool, declared)
	if err != nil {
		writeError(w, r, err)
		return
	}

	loader := func(ctx context.Context, insert func(context.Context, []domain.Value) error) (domain.IngestionReport, error) {
		report, err := s.inference.Validate(ctx, spool, schema, inference.RowSink(insert))
		report.Columns = stats
		return report, err
	}

	var (
		src    domain.DataSource
		report domain.IngestionReport
	)
	status := http.StatusCreated
	if sourceID := strings.TrimSpace(r.FormValue("sourceId")); sourceID != "" {
		src, report, err = s.registry.Replace(r.Context(), sourceID, schema, spool.Size(), loader)
		status = http.StatusOK
	} else {
		src, report, err = s.registry.Register(r.Context(), name, domain.OriginFile, schema, spool.Size(), loader)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("upload ingested",
		"source", src.ID, "file", header.Filename, "rows", report.ValidRows, "errors", report.ErrorRows)
	writeJSON(w, status, uploadResponse{DataSource: src, Report: report})
}

func declaredSchema(raw string) ([]domain.ColumnSchema, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var declared []domain.ColumnSchema
	if err := json.Unmarshal([]byte(raw), &declared); err != nil {
		return nil, &domain.EngineError{Code: domain.CodeBadRequest, Message: "invalid schema field", Err: err}
	}
	return declared, nil
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Remove(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, ok := s.registry.Get(id)
	if !ok {
		writeError(w, r, domain.ErrSourceNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, src)
}

type previewRequest struct {
	Limit int `json:"limit"`
}

// handlePreview returns the first rows of a source; the limit is capped by
// configuration regardless of what the client asks for.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req := previewRequest{Limit: s.cfg.PreviewRowCap}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Limit <= 0 || req.Limit > s.cfg.PreviewRowCap {
		req.Limit = s.cfg.PreviewRowCap
	}

	result, err := s.engine.Preview(r.Context(), id, req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	src, ok := s.registry.Get(id)
	if !ok {
		writeError(w, r, domain.ErrSourceNotFound(id))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", exportFileName(src.Name, format)))
	if err := s.exporter.Export(r.Context(), w, id, format); err != nil {
		// The body may be partially written; all that is left is the log.
		logging.FromContext(r.Context()).Error("export failed", "source", id, "error", err)
	}
}

func exportFileName(name string, format export.Format) string {
	base := strings.TrimSuffix(name, "."+string(inference.FormatDelimited))
	base = strings.TrimSuffix(base, "."+string(inference.FormatWorkbook))
	base = strings.TrimSuffix(base, "."+string(inference.FormatLines))
	if base == "" {
		base = "export"
	}
	return base + "." + format.Extension()
}
