package registry

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/datapulse/datapulse/internal/db"
	"github.com/datapulse/datapulse/internal/domain"
)

func openTestStore(t *testing.T) *sql.DB {
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
	return conn
}

func testSchema() []domain.ColumnSchema {
	return []domain.ColumnSchema{
		{Name: "id", Type: domain.ColumnInteger, Unique: true, PrimaryKey: true},
		{Name: "name", Type: domain.ColumnVarchar, Nullable: true},
	}
}

func rowsLoader(rows [][]domain.Value) Loader {
	return func(ctx context.Context, insert func(context.Context, []domain.Value) error) (domain.IngestionReport, error) {
		report := domain.IngestionReport{TotalRows: int64(len(rows)), ValidRows: int64(len(rows))}
		for _, row := range rows {
			if err := insert(ctx, row); err != nil {
				return report, err
			}
		}
		return report, nil
	}
}

type recordingWatcher struct {
	changed []string
	removed []string
}

func (w *recordingWatcher) SourceChanged(src domain.DataSource) { w.changed = append(w.changed, src.ID) }
func (w *recordingWatcher) SourceRemoved(id string)             { w.removed = append(w.removed, id) }

func TestRegisterPersistsSourceAndRows(t *testing.T) {
	conn := openTestStore(t)
	reg, err := New(context.Background(), conn)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	watcher := &recordingWatcher{}
	reg.Watch(watcher)

	rows := [][]domain.Value{
		{domain.IntegerValue(1), domain.TextValue("alpha")},
		{domain.IntegerValue(2), domain.Null},
	}
	src, report, err := reg.Register(context.Background(), "people", domain.OriginFile, testSchema(), 42, rowsLoader(rows))
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if src.RowCount != 2 || src.SizeBytes != 42 {
		t.Fatalf("unexpected stats: %+v", src)
	}
	if report.ValidRows != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(watcher.changed) != 1 || watcher.changed[0] != src.ID {
		t.Fatalf("expected change notification for %s, got %v", src.ID, watcher.changed)
	}

	var stored int64
	if err := conn.QueryRow(`SELECT count(*) FROM ` + quoteIdent(TableName(src.ID))).Scan(&stored); err != nil {
		t.Fatalf("failed to count stored rows: %v", err)
	}
	if stored != 2 {
		t.Fatalf("expected 2 stored rows, got %d", stored)
	}

	// A fresh registry instance sees the persisted catalog.
	reloaded, err := New(context.Background(), conn)
	if err != nil {
		t.Fatalf("failed to reload registry: %v", err)
	}
	got, ok := reloaded.Get(src.ID)
	if !ok {
		t.Fatalf("reloaded registry is missing %s", src.ID)
	}
	if got.Name != "people" || len(got.Schema) != 2 {
		t.Fatalf("unexpected reloaded source: %+v", got)
	}
}

func TestRegisterIsAllOrNothing(t *testing.T) {
	conn := openTestStore(t)
	reg, err := New(context.Background(), conn)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	loadErr := errors.New("stream broke")
	failing := func(ctx context.Context, insert func(context.Context, []domain.Value) error) (domain.IngestionReport, error) {
		if err := insert(ctx, []domain.Value{domain.IntegerValue(1), domain.TextValue("x")}); err != nil {
			return domain.IngestionReport{}, err
		}
		return domain.IngestionReport{}, loadErr
	}

	_, _, err = reg.Register(context.Background(), "broken", domain.OriginFile, testSchema(), 10, failing)
	if !errors.Is(err, loadErr) {
		t.Fatalf("expected load error, got %v", err)
	}

	if len(reg.List()) != 0 {
		t.Fatalf("failed registration must not register a source")
	}
	var catalogRows int64
	if err := conn.QueryRow(`SELECT count(*) FROM data_sources`).Scan(&catalogRows); err != nil {
		t.Fatalf("failed to count catalog rows: %v", err)
	}
	if catalogRows != 0 {
		t.Fatalf("expected empty catalog, got %d rows", catalogRows)
	}
}

func TestReplaceBumpsVersionAndNotifies(t *testing.T) {
	conn := openTestStore(t)
	reg, err := New(context.Background(), conn)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	src, _, err := reg.Register(context.Background(), "people", domain.OriginFile, testSchema(), 10,
		rowsLoader([][]domain.Value{{domain.IntegerValue(1), domain.TextValue("a")}}))
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	oldVersion := src.Version()

	watcher := &recordingWatcher{}
	reg.Watch(watcher)

	replaced, _, err := reg.Replace(context.Background(), src.ID, testSchema(), 20, rowsLoader([][]domain.Value{
		{domain.IntegerValue(1), domain.TextValue("a")},
		{domain.IntegerValue(2), domain.TextValue("b")},
	}))
	if err != nil {
		t.Fatalf("replace returned error: %v", err)
	}

	if replaced.ID != src.ID {
		t.Fatalf("replace must keep the source id")
	}
	if replaced.RowCount != 2 {
		t.Fatalf("expected 2 rows after replace, got %d", replaced.RowCount)
	}
	if replaced.Version() == oldVersion {
		t.Fatalf("replace must change the version")
	}
	if len(watcher.changed) != 1 {
		t.Fatalf("expected one change notification, got %v", watcher.changed)
	}
}

func TestRemoveNotifiesBeforeDropping(t *testing.T) {
	conn := openTestStore(t)
	reg, err := New(context.Background(), conn)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	src, _, err := reg.Register(context.Background(), "people", domain.OriginFile, testSchema(), 10,
		rowsLoader([][]domain.Value{{domain.IntegerValue(1), domain.TextValue("a")}}))
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	watcher := &recordingWatcher{}
	reg.Watch(watcher)

	if err := reg.Remove(context.Background(), src.ID); err != nil {
		t.Fatalf("remove returned error: %v", err)
	}
	if len(watcher.removed) != 1 || watcher.removed[0] != src.ID {
		t.Fatalf("expected removal notification, got %v", watcher.removed)
	}
	if _, ok := reg.Get(src.ID); ok {
		t.Fatalf("removed source must not resolve")
	}

	if err := reg.Remove(context.Background(), src.ID); !domain.IsCode(err, domain.CodeSourceNotFound) {
		t.Fatalf("expected SOURCE_NOT_FOUND on double remove, got %v", err)
	}
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	conn := openTestStore(t)
	reg, err := New(context.Background(), conn)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	bad := []domain.ColumnSchema{
		{Name: "id", Type: domain.ColumnInteger},
		{Name: "id", Type: domain.ColumnVarchar},
	}
	_, _, err = reg.Register(context.Background(), "dup", domain.OriginFile, bad, 1, rowsLoader(nil))
	if !domain.IsCode(err, domain.CodeMalformedInput) {
		t.Fatalf("expected MALFORMED_INPUT, got %v", err)
	}
}
