// Package registry is the durable catalog of ingested data sources. It owns
// the DataSource records and the physical store tables behind them; the query
// engine and config store only ever hold source ids.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/datapulse/datapulse/internal/db"
	"github.com/datapulse/datapulse/internal/domain"
)

// Watcher observes catalog mutations. The query cache and the subscription
// broker register themselves to invalidate and fan out on change.
type Watcher interface {
	SourceChanged(src domain.DataSource)
	SourceRemoved(id string)
}

// Loader streams validated rows into the store table being built. It is
// called inside the registration transaction: if it fails or the context is
// cancelled, no catalog entry and no table survive.
type Loader func(ctx context.Context, insert func(context.Context, []domain.Value) error) (domain.IngestionReport, error)

// Registry keeps an in-memory snapshot of the catalog over the durable
// SQLite rows. Reads are served from the snapshot; mutations write through.
type Registry struct {
	conn *sql.DB

	mu      sync.RWMutex
	sources map[string]domain.DataSource

	watcherMu sync.RWMutex
	watchers  []Watcher
}

// New loads the persisted catalog into memory.
func New(ctx context.Context, conn *sql.DB) (*Registry, error) {
	sources, err := loadCatalog(ctx, conn)
	if err != nil {
		return nil, err
	}
	return &Registry{conn: conn, sources: sources}, nil
}

// Watch registers a catalog observer.
func (r *Registry) Watch(w Watcher) {
	r.watcherMu.Lock()
	defer r.watcherMu.Unlock()
	r.watchers = append(r.watchers, w)
}

func (r *Registry) notifyChanged(src domain.DataSource) {
	r.watcherMu.RLock()
	defer r.watcherMu.RUnlock()
	for _, w := range r.watchers {
		w.SourceChanged(src)
	}
}

func (r *Registry) notifyRemoved(id string) {
	r.watcherMu.RLock()
	defer r.watcherMu.RUnlock()
	for _, w := range r.watchers {
		w.SourceRemoved(id)
	}
}

// Get returns the source by id.
func (r *Registry) Get(id string) (domain.DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// List returns all registered sources, newest first.
func (r *Registry) List() []domain.DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DataSource, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sortByCreatedAtDesc(out)
	return out
}

// Register creates a fresh source: one transaction builds the store table,
// streams rows through load, and inserts the catalog row. Registration is
// all-or-nothing; a cancelled or failed load leaves nothing behind.
func (r *Registry) Register(ctx context.Context, name string, origin domain.SourceOrigin, schema []domain.ColumnSchema, sizeBytes int64, load Loader) (domain.DataSource, domain.IngestionReport, error) {
	if err := domain.ValidateSchema(schema); err != nil {
		return domain.DataSource{}, domain.IngestionReport{}, domain.ErrMalformedInput(err.Error())
	}

	src := domain.NewDataSource(name, origin, schema)
	report, err := r.buildTable(ctx, &src, sizeBytes, load)
	if err != nil {
		return domain.DataSource{}, report, err
	}

	r.mu.Lock()
	r.sources[src.ID] = src
	r.mu.Unlock()

	slog.Info("data source registered", "id", src.ID, "name", src.Name, "rows", src.RowCount)
	r.notifyChanged(src)
	return src, report, nil
}

// Replace re-ingests an existing source id: the old table is dropped and
// rebuilt in the same transaction, the schema may change, and the version
// bumps so cached queries keyed to the old content never match again.
func (r *Registry) Replace(ctx context.Context, id string, schema []domain.ColumnSchema, sizeBytes int64, load Loader) (domain.DataSource, domain.IngestionReport, error) {
	prev, ok := r.Get(id)
	if !ok {
		return domain.DataSource{}, domain.IngestionReport{}, domain.ErrSourceNotFound(id)
	}
	if err := domain.ValidateSchema(schema); err != nil {
		return domain.DataSource{}, domain.IngestionReport{}, domain.ErrMalformedInput(err.Error())
	}

	src := prev
	src.Schema = schema

	var report domain.IngestionReport
	err := withStoreTx(ctx, r.conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(TableName(id))); err != nil {
			return fmt.Errorf("failed to drop table for %s: %w", id, err)
		}
		inserted, loadReport, err := loadRows(ctx, tx, src.ID, schema, load)
		if err != nil {
			return err
		}
		report = loadReport
		src = src.WithStats(inserted, sizeBytes)

		schemaInfo, err := json.Marshal(src.Schema)
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE data_sources SET schema_info = ?, row_count = ?, size_bytes = ?, updated_at = ? WHERE id = ?`,
			string(schemaInfo), src.RowCount, src.SizeBytes,
			src.UpdatedAt.Format(time.RFC3339Nano), src.ID)
		if err != nil {
			return fmt.Errorf("failed to update catalog row: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.DataSource{}, report, err
	}

	r.mu.Lock()
	r.sources[src.ID] = src
	r.mu.Unlock()

	slog.Info("data source replaced", "id", src.ID, "rows", src.RowCount)
	r.notifyChanged(src)
	return src, report, nil
}

// Remove invalidates every cache entry and subscription keyed to the id
// (via watchers) before releasing the storage.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if _, ok := r.Get(id); !ok {
		return domain.ErrSourceNotFound(id)
	}

	r.notifyRemoved(id)

	err := withStoreTx(ctx, r.conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM data_sources WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete catalog row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(TableName(id))); err != nil {
			return fmt.Errorf("failed to drop table for %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.sources, id)
	r.mu.Unlock()

	slog.Info("data source removed", "id", id)
	return nil
}

// Optimize reclaims free pages left behind by dropped source tables and
// refreshes the planner statistics of the embedded store.
func (r *Registry) Optimize(ctx context.Context) error {
	for _, stmt := range []string{"VACUUM", "ANALYZE"} {
		if _, err := r.conn.ExecContext(ctx, stmt); err != nil {
			return domain.ErrStorageFailure(fmt.Errorf("%s failed: %w", stmt, err))
		}
	}
	slog.Info("store optimized")
	return nil
}

func (r *Registry) buildTable(ctx context.Context, src *domain.DataSource, sizeBytes int64, load Loader) (domain.IngestionReport, error) {
	var report domain.IngestionReport
	err := withStoreTx(ctx, r.conn, func(tx *sql.Tx) error {
		inserted, loadReport, err := loadRows(ctx, tx, src.ID, src.Schema, load)
		if err != nil {
			return err
		}
		report = loadReport
		*src = src.WithStats(inserted, sizeBytes)
		return insertCatalogRow(ctx, tx, *src)
	})
	return report, err
}

// loadRows creates the table and streams rows into it through a prepared
// insert, counting what was actually stored.
func loadRows(ctx context.Context, tx *sql.Tx, id string, schema []domain.ColumnSchema, load Loader) (int64, domain.IngestionReport, error) {
	if _, err := tx.ExecContext(ctx, createTableSQL(id, schema)); err != nil {
		return 0, domain.IngestionReport{}, domain.ErrStorageFailure(err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(id, schema))
	if err != nil {
		return 0, domain.IngestionReport{}, domain.ErrStorageFailure(err)
	}
	defer stmt.Close()

	var inserted int64
	insert := func(ctx context.Context, row []domain.Value) error {
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = v.Driver()
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return domain.ErrStorageFailure(err)
		}
		inserted++
		return nil
	}

	report, err := load(ctx, insert)
	if err != nil {
		return 0, report, err
	}
	return inserted, report, nil
}

// withStoreTx wraps transaction plumbing failures as storage errors while
// passing loader errors through untouched.
func withStoreTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) error {
	var fnErr error
	err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err != nil && !errors.Is(err, fnErr) {
		return domain.ErrStorageFailure(err)
	}
	return err
}

func sortByCreatedAtDesc(sources []domain.DataSource) {
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].CreatedAt.After(sources[j].CreatedAt)
	})
}
