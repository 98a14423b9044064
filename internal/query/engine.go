// Package query compiles and executes read-only analytical statements
// against registered sources, with a TTL result cache that collapses
// concurrent identical executions into one.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/datapulse/datapulse/internal/domain"
	"github.com/datapulse/datapulse/internal/registry"
)

// tablePlaceholder is what clients write in place of the physical store
// table; the engine substitutes it so table names never leak out.
const tablePlaceholder = "{{table}}"

// SourceResolver is the slice of the registry the engine needs.
type SourceResolver interface {
	Get(id string) (domain.DataSource, bool)
}

// Engine executes gated statements with caching, timeout, and
// thundering-herd collapsing.
type Engine struct {
	conn     *sql.DB
	resolver SourceResolver
	cache    *resultCache
	group    singleflight.Group
	timeout  time.Duration

	executions atomic.Int64
}

// Options tune the engine; zero values fall back to defaults.
type Options struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

// New creates an engine over the shared store connection.
func New(conn *sql.DB, resolver SourceResolver, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	return &Engine{
		conn:     conn,
		resolver: resolver,
		cache:    newResultCache(opts.CacheSize, opts.CacheTTL),
		timeout:  opts.Timeout,
	}
}

// Executions returns how many statements actually reached the store. Cache
// hits and collapsed concurrent callers do not increment it.
func (e *Engine) Executions() int64 { return e.executions.Load() }

// CacheLen reports the live cache entry count.
func (e *Engine) CacheLen() int { return e.cache.len() }

// SourceChanged implements registry.Watcher: a replaced source orphans its
// cached results.
func (e *Engine) SourceChanged(src domain.DataSource) {
	e.cache.invalidateSource(src.ID)
}

// SourceRemoved implements registry.Watcher.
func (e *Engine) SourceRemoved(id string) {
	e.cache.invalidateSource(id)
}

// Execute runs one read-only statement. When sourceID is set, the statement
// may reference the source through the {{table}} placeholder. useCache
// controls whether the result cache is consulted and populated.
func (e *Engine) Execute(ctx context.Context, stmt string, params []any, sourceID string, useCache bool) (domain.QueryResult, error) {
	if err := CheckStatement(stmt); err != nil {
		return domain.QueryResult{}, err
	}

	normalized := normalizeStatement(stmt)
	version := ""
	physical := normalized
	if sourceID != "" {
		src, ok := e.resolver.Get(sourceID)
		if !ok {
			return domain.QueryResult{}, domain.ErrSourceNotFound(sourceID)
		}
		version = src.Version()
		physical = strings.ReplaceAll(normalized, tablePlaceholder, quoteIdent(registry.TableName(src.ID)))
	} else if strings.Contains(normalized, tablePlaceholder) {
		return domain.QueryResult{}, domain.ErrRejectedStatement("statement references {{table}} without a data source id")
	}

	key, err := cacheKey(sourceID, version, normalized, params)
	if err != nil {
		return domain.QueryResult{}, domain.ErrStorageFailure(err)
	}

	if useCache {
		if result, ok := e.cache.get(key); ok {
			return result, nil
		}
	}

	// One execution per key: concurrent callers for the same key await the
	// in-flight result instead of re-executing.
	value, err, _ := e.group.Do(key, func() (any, error) {
		if useCache {
			if result, ok := e.cache.get(key); ok {
				return result, nil
			}
		}
		result, err := e.run(ctx, physical, params)
		if err != nil {
			// Failed executions are never cached.
			return domain.QueryResult{}, err
		}
		if useCache {
			e.cache.put(key, result)
		}
		return result, nil
	})
	if err != nil {
		return domain.QueryResult{}, err
	}
	return value.(domain.QueryResult), nil
}

// run performs the bounded store execution.
func (e *Engine) run(ctx context.Context, stmt string, params []any) (domain.QueryResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.executions.Add(1)
	started := time.Now()

	rows, err := e.conn.QueryContext(execCtx, stmt, params...)
	if err != nil {
		return domain.QueryResult{}, e.classify(execCtx, err, stmt)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return domain.QueryResult{}, domain.ErrStorageFailure(err)
	}

	var data [][]domain.Value
	raw := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return domain.QueryResult{}, domain.ErrStorageFailure(err)
		}
		row := make([]domain.Value, len(columns))
		for i, cell := range raw {
			row[i] = domain.FromDriver(cell, "")
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return domain.QueryResult{}, e.classify(execCtx, err, stmt)
	}

	slog.Debug("statement executed", "duration", time.Since(started), "rows", len(data))
	return domain.NewQueryResult(columns, data), nil
}

func (e *Engine) classify(ctx context.Context, err error, stmt string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTimeout(fmt.Sprintf("statement exceeded %s", e.timeout))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	slog.Error("statement failed", "error", err, "statement", stmt)
	return domain.ErrStorageFailure(err)
}

// Preview returns the first rows of a source, capped at limit.
func (e *Engine) Preview(ctx context.Context, sourceID string, limit int) (domain.QueryResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	stmt := fmt.Sprintf("SELECT * FROM %s LIMIT %d", tablePlaceholder, limit)
	return e.Execute(ctx, stmt, nil, sourceID, true)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
