package export

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datapulse/datapulse/internal/db"
	"github.com/datapulse/datapulse/internal/domain"
	"github.com/datapulse/datapulse/internal/inference"
	"github.com/datapulse/datapulse/internal/registry"
)

func newTestSource(t *testing.T) (*Exporter, *registry.Registry, domain.DataSource) {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(`CREATE TABLE data_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		origin TEXT NOT NULL,
		schema_info TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("failed to create catalog table: %v", err)
	}

	reg, err := registry.New(context.Background(), conn)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	schema := []domain.ColumnSchema{
		{Name: "id", Type: domain.ColumnInteger},
		{Name: "name", Type: domain.ColumnVarchar, Nullable: true},
		{Name: "price", Type: domain.ColumnDouble},
	}
	rows := [][]domain.Value{
		{domain.IntegerValue(1), domain.TextValue("alpha"), domain.DoubleValue(1.5)},
		{domain.IntegerValue(2), domain.Null, domain.DoubleValue(2.25)},
	}
	loader := func(ctx context.Context, insert func(context.Context, []domain.Value) error) (domain.IngestionReport, error) {
		for _, row := range rows {
			if err := insert(ctx, row); err != nil {
				return domain.IngestionReport{}, err
			}
		}
		return domain.IngestionReport{TotalRows: 2, ValidRows: 2}, nil
	}

	src, _, err := reg.Register(context.Background(), "products", domain.OriginFile, schema, 10, loader)
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	return New(conn, reg), reg, src
}

func TestExportCSVRoundTrips(t *testing.T) {
	exporter, _, src := newTestSource(t)

	var buf bytes.Buffer
	if err := exporter.Export(context.Background(), &buf, src.ID, FormatCSV); err != nil {
		t.Fatalf("export returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "id,name,price" {
		t.Fatalf("unexpected header: %s", lines[0])
	}

	// Re-ingesting the export yields the same schema and row count.
	spool, err := inference.NewSpool("products.csv", &buf, 1<<20)
	if err != nil {
		t.Fatalf("failed to spool export: %v", err)
	}
	defer spool.Close()

	service := inference.New(inference.Options{SkipMalformed: true})
	schema, _, err := service.Infer(context.Background(), spool, nil)
	if err != nil {
		t.Fatalf("re-inference failed: %v", err)
	}
	if len(schema) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(schema))
	}
	wantTypes := map[string]domain.ColumnType{
		"id":    domain.ColumnInteger,
		"name":  domain.ColumnVarchar,
		"price": domain.ColumnDouble,
	}
	for _, col := range schema {
		if col.Type != wantTypes[col.Name] {
			t.Fatalf("column %s: expected %s, got %s", col.Name, wantTypes[col.Name], col.Type)
		}
	}

	rows := 0
	report, err := service.Validate(context.Background(), spool, schema,
		func(context.Context, []domain.Value) error { rows++; return nil })
	if err != nil {
		t.Fatalf("re-validation failed: %v", err)
	}
	if report.TotalRows != src.RowCount || rows != int(src.RowCount) {
		t.Fatalf("round trip lost rows: report %+v, delivered %d", report, rows)
	}
}

func TestExportJSONEmitsOneObjectPerRow(t *testing.T) {
	exporter, _, src := newTestSource(t)

	var buf bytes.Buffer
	if err := exporter.Export(context.Background(), &buf, src.ID, FormatJSON); err != nil {
		t.Fatalf("export returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"name":"alpha"`) {
		t.Fatalf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"name":null`) {
		t.Fatalf("null cell must encode as JSON null: %s", lines[1])
	}
}

func TestExportUnknownSource(t *testing.T) {
	exporter, _, _ := newTestSource(t)

	var buf bytes.Buffer
	err := exporter.Export(context.Background(), &buf, "ghost", FormatCSV)
	if !domain.IsCode(err, domain.CodeSourceNotFound) {
		t.Fatalf("expected SOURCE_NOT_FOUND, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"csv":    FormatCSV,
		"":       FormatCSV,
		"JSON":   FormatJSON,
		"ndjson": FormatJSON,
		"xlsx":   FormatXLSX,
		"excel":  FormatXLSX,
	}
	for name, want := range cases {
		got, err := ParseFormat(name)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseFormat("parquet"); !domain.IsCode(err, domain.CodeBadRequest) {
		t.Fatalf("expected BAD_REQUEST for unknown format, got %v", err)
	}
}
