// Package dashboard persists named widget-layout documents. Layouts are
// validated as a whole before every write; a document in the store is always
// well-formed.
package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/datapulse/datapulse/internal/domain"
)

// Store is the dashboard_configs table. Writes go straight through; reads
// decode the stored JSON columns back into the document.
type Store struct {
	conn    *sql.DB
	sources SourceChecker
}

// New builds a store. sources may be nil to skip reference checks.
func New(conn *sql.DB, sources SourceChecker) *Store {
	return &Store{conn: conn, sources: sources}
}

// Save validates and persists a new dashboard document.
func (s *Store) Save(ctx context.Context, name string, layout []domain.WidgetLayout, filters json.RawMessage, dataSourceID string, refreshInterval *int) (domain.DashboardConfig, error) {
	cfg := domain.NewDashboardConfig(name, layout)
	cfg.Filters = filters
	cfg.DataSourceID = dataSourceID
	cfg.RefreshInterval = refreshInterval

	if err := validate(cfg, s.sources); err != nil {
		return domain.DashboardConfig{}, err
	}

	layoutJSON, filtersJSON, err := encodeDocument(cfg)
	if err != nil {
		return domain.DashboardConfig{}, err
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO dashboard_configs (id, name, layout, filters, data_source_id, refresh_interval, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, layoutJSON, filtersJSON, nullableString(cfg.DataSourceID), nullableInt(cfg.RefreshInterval),
		cfg.CreatedAt.Format(time.RFC3339Nano), cfg.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return domain.DashboardConfig{}, domain.ErrStorageFailure(err)
	}

	slog.Info("dashboard config saved", "id", cfg.ID, "name", cfg.Name, "widgets", len(cfg.Layout))
	return cfg, nil
}

// Update applies a partial patch, re-validates the whole document, and
// persists it.
func (s *Store) Update(ctx context.Context, id string, patch domain.DashboardPatch) (domain.DashboardConfig, error) {
	cfg, err := s.Get(ctx, id)
	if err != nil {
		return domain.DashboardConfig{}, err
	}

	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.Layout != nil {
		cfg.Layout = *patch.Layout
	}
	if patch.Filters != nil {
		cfg.Filters = patch.Filters
	}
	if patch.DataSourceID != nil {
		cfg.DataSourceID = *patch.DataSourceID
	}
	if patch.RefreshInterval != nil {
		cfg.RefreshInterval = patch.RefreshInterval
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := validate(cfg, s.sources); err != nil {
		return domain.DashboardConfig{}, err
	}

	layoutJSON, filtersJSON, err := encodeDocument(cfg)
	if err != nil {
		return domain.DashboardConfig{}, err
	}

	_, err = s.conn.ExecContext(ctx,
		`UPDATE dashboard_configs SET name = ?, layout = ?, filters = ?, data_source_id = ?, refresh_interval = ?, updated_at = ? WHERE id = ?`,
		cfg.Name, layoutJSON, filtersJSON, nullableString(cfg.DataSourceID), nullableInt(cfg.RefreshInterval),
		cfg.UpdatedAt.Format(time.RFC3339Nano), cfg.ID)
	if err != nil {
		return domain.DashboardConfig{}, domain.ErrStorageFailure(err)
	}

	slog.Info("dashboard config updated", "id", cfg.ID)
	return cfg, nil
}

// Get returns one document by id.
func (s *Store) Get(ctx context.Context, id string) (domain.DashboardConfig, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, name, layout, filters, data_source_id, refresh_interval, created_at, updated_at
		 FROM dashboard_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DashboardConfig{}, &domain.EngineError{Code: domain.CodeNotFound, Message: fmt.Sprintf("dashboard config %s not found", id)}
	}
	if err != nil {
		return domain.DashboardConfig{}, domain.ErrStorageFailure(err)
	}
	return cfg, nil
}

// Delete removes one document by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM dashboard_configs WHERE id = ?`, id)
	if err != nil {
		return domain.ErrStorageFailure(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.ErrStorageFailure(err)
	}
	if affected == 0 {
		return &domain.EngineError{Code: domain.CodeNotFound, Message: fmt.Sprintf("dashboard config %s not found", id)}
	}
	slog.Info("dashboard config deleted", "id", id)
	return nil
}

// List returns all documents, newest first.
func (s *Store) List(ctx context.Context) ([]domain.DashboardConfig, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, layout, filters, data_source_id, refresh_interval, created_at, updated_at
		 FROM dashboard_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, domain.ErrStorageFailure(err)
	}
	defer rows.Close()

	var configs []domain.DashboardConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, domain.ErrStorageFailure(err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStorageFailure(err)
	}
	return configs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (domain.DashboardConfig, error) {
	var (
		cfg             domain.DashboardConfig
		layoutJSON      string
		filtersJSON     sql.NullString
		dataSourceID    sql.NullString
		refreshInterval sql.NullInt64
		createdAt       string
		updatedAt       string
	)
	if err := row.Scan(&cfg.ID, &cfg.Name, &layoutJSON, &filtersJSON, &dataSourceID, &refreshInterval, &createdAt, &updatedAt); err != nil {
		return domain.DashboardConfig{}, err
	}
	if err := json.Unmarshal([]byte(layoutJSON), &cfg.Layout); err != nil {
		return domain.DashboardConfig{}, fmt.Errorf("failed to decode layout for %s: %w", cfg.ID, err)
	}
	if filtersJSON.Valid && filtersJSON.String != "" {
		cfg.Filters = json.RawMessage(filtersJSON.String)
	}
	if dataSourceID.Valid {
		cfg.DataSourceID = dataSourceID.String
	}
	if refreshInterval.Valid {
		interval := int(refreshInterval.Int64)
		cfg.RefreshInterval = &interval
	}
	var err error
	if cfg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return domain.DashboardConfig{}, fmt.Errorf("failed to parse created_at for %s: %w", cfg.ID, err)
	}
	if cfg.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return domain.DashboardConfig{}, fmt.Errorf("failed to parse updated_at for %s: %w", cfg.ID, err)
	}
	return cfg, nil
}

func encodeDocument(cfg domain.DashboardConfig) (layoutJSON string, filtersJSON any, err error) {
	layout := cfg.Layout
	if layout == nil {
		layout = []domain.WidgetLayout{}
	}
	encoded, err := json.Marshal(layout)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode layout: %w", err)
	}
	if len(cfg.Filters) > 0 {
		return string(encoded), string(cfg.Filters), nil
	}
	return string(encoded), nil, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
