// Package export streams a registered source back out as a file. The csv and
// json renditions round-trip: re-ingesting an export yields the same schema
// and row count.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/datapulse/datapulse/internal/domain"
	"github.com/datapulse/datapulse/internal/registry"
)

// Format names an export rendition.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat normalizes a client-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv", "":
		return FormatCSV, nil
	case "json", "jsonl", "ndjson":
		return FormatJSON, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", &domain.EngineError{Code: domain.CodeBadRequest, Message: fmt.Sprintf("unknown export format %q", name)}
}

// ContentType returns the MIME type for the rendition.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/x-ndjson"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string { return string(f) }

// SourceResolver looks up registered sources.
type SourceResolver interface {
	Get(id string) (domain.DataSource, bool)
}

// Exporter streams source rows straight from the store table, row by row,
// so exports never hold the full table in memory.
type Exporter struct {
	conn     *sql.DB
	resolver SourceResolver
}

// New builds an exporter over the shared store connection.
func New(conn *sql.DB, resolver SourceResolver) *Exporter {
	return &Exporter{conn: conn, resolver: resolver}
}

// Export writes the full content of the source to w in the given format.
func (e *Exporter) Export(ctx context.Context, w io.Writer, sourceID string, format Format) error {
	src, ok := e.resolver.Get(sourceID)
	if !ok {
		return domain.ErrSourceNotFound(sourceID)
	}

	rows, err := e.openRows(ctx, src)
	if err != nil {
		return err
	}
	defer rows.Close()

	switch format {
	case FormatJSON:
		return writeJSON(w, src.Schema, rows)
	case FormatXLSX:
		return writeXLSX(w, src.Schema, rows)
	default:
		return writeCSV(w, src.Schema, rows)
	}
}

// openRows selects every column in schema order so renditions agree on
// column positions.
func (e *Exporter) openRows(ctx context.Context, src domain.DataSource) (*sql.Rows, error) {
	quoted := make([]string, len(src.Schema))
	for i, col := range src.Schema {
		quoted[i] = `"` + strings.ReplaceAll(col.Name, `"`, `""`) + `"`
	}
	stmt := fmt.Sprintf(`SELECT %s FROM "%s"`, strings.Join(quoted, ", "), registry.TableName(src.ID))
	rows, err := e.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, domain.ErrStorageFailure(err)
	}
	return rows, nil
}

// scanRow reads one row as typed values.
func scanRow(rows *sql.Rows, schema []domain.ColumnSchema) ([]domain.Value, error) {
	raw := make([]any, len(schema))
	ptrs := make([]any, len(schema))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, domain.ErrStorageFailure(err)
	}
	row := make([]domain.Value, len(schema))
	for i, cell := range raw {
		row[i] = domain.FromDriver(cell, schema[i].Type)
	}
	return row, nil
}

func writeCSV(w io.Writer, schema []domain.ColumnSchema, rows *sql.Rows) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(schema))
	for i, col := range schema {
		header[i] = col.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(schema))
	for rows.Next() {
		row, err := scanRow(rows, schema)
		if err != nil {
			return err
		}
		for i, v := range row {
			if v.IsNull() {
				record[i] = ""
			} else {
				record[i] = v.String()
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ErrStorageFailure(err)
	}
	cw.Flush()
	return cw.Error()
}

// writeJSON emits newline-delimited objects, one per row.
func writeJSON(w io.Writer, schema []domain.ColumnSchema, rows *sql.Rows) error {
	enc := json.NewEncoder(w)
	for rows.Next() {
		row, err := scanRow(rows, schema)
		if err != nil {
			return err
		}
		obj := make(map[string]domain.Value, len(schema))
		for i, col := range schema {
			obj[col.Name] = row[i]
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ErrStorageFailure(err)
	}
	return nil
}

func writeXLSX(w io.Writer, schema []domain.ColumnSchema, rows *sql.Rows) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}

	header := make([]any, len(schema))
	for i, col := range schema {
		header[i] = col.Name
	}
	cell, _ := excelize.CoordinatesToCellName(1, 1)
	if err := sw.SetRow(cell, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	rowNum := 2
	for rows.Next() {
		row, err := scanRow(rows, schema)
		if err != nil {
			return err
		}
		cells := make([]any, len(row))
		for i, v := range row {
			if v.IsNull() {
				cells[i] = nil
			} else {
				cells[i] = v.Driver()
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rowNum, err)
		}
		rowNum++
	}
	if err := rows.Err(); err != nil {
		return domain.ErrStorageFailure(err)
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush workbook: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
