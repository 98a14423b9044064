package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/datapulse/datapulse/internal/domain"
)

// TableName returns the physical store table backing a source id.
func TableName(id string) string {
	return "src_" + strings.ReplaceAll(id, "-", "_")
}

// quoteIdent wraps an identifier in double quotes for SQLite DDL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteType(t domain.ColumnType) string {
	switch t {
	case domain.ColumnInteger, domain.ColumnBoolean:
		return "INTEGER"
	case domain.ColumnDouble:
		return "REAL"
	default:
		// VARCHAR, DATE and TIMESTAMP are stored as ISO text.
		return "TEXT"
	}
}

func createTableSQL(id string, schema []domain.ColumnSchema) string {
	defs := make([]string, len(schema))
	for i, col := range schema {
		def := quoteIdent(col.Name) + " " + sqliteType(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(TableName(id)), strings.Join(defs, ", "))
}

func insertSQL(id string, schema []domain.ColumnSchema) string {
	names := make([]string, len(schema))
	placeholders := make([]string, len(schema))
	for i, col := range schema {
		names[i] = quoteIdent(col.Name)
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(TableName(id)), strings.Join(names, ", "), strings.Join(placeholders, ", "))
}

func insertCatalogRow(ctx context.Context, tx *sql.Tx, src domain.DataSource) error {
	schemaInfo, err := json.Marshal(src.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO data_sources (id, name, origin, schema_info, row_count, size_bytes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.Name, string(src.Origin), string(schemaInfo),
		src.RowCount, src.SizeBytes,
		src.CreatedAt.Format(time.RFC3339Nano), src.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert catalog row: %w", err)
	}
	return nil
}

func loadCatalog(ctx context.Context, conn *sql.DB) (map[string]domain.DataSource, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, name, origin, schema_info, row_count, size_bytes, created_at, updated_at
		 FROM data_sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	defer rows.Close()

	sources := make(map[string]domain.DataSource)
	for rows.Next() {
		var src domain.DataSource
		var schemaInfo, createdAt, updatedAt string
		if err := rows.Scan(&src.ID, &src.Name, (*string)(&src.Origin), &schemaInfo,
			&src.RowCount, &src.SizeBytes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		if err := json.Unmarshal([]byte(schemaInfo), &src.Schema); err != nil {
			return nil, fmt.Errorf("failed to decode schema for %s: %w", src.ID, err)
		}
		if src.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at for %s: %w", src.ID, err)
		}
		if src.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at for %s: %w", src.ID, err)
		}
		sources[src.ID] = src
	}
	return sources, rows.Err()
}
