package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datapulse/datapulse/internal/db"
	"github.com/datapulse/datapulse/internal/domain"
)

type stubSources struct {
	known map[string]struct{}
}

func (s *stubSources) Get(id string) (domain.DataSource, bool) {
	_, ok := s.known[id]
	return domain.DataSource{ID: id}, ok
}

func openTestStore(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(`CREATE TABLE dashboard_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		layout TEXT NOT NULL,
		filters TEXT,
		data_source_id TEXT,
		refresh_interval INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	return conn
}

func validLayout() []domain.WidgetLayout {
	return []domain.WidgetLayout{
		{ID: "w1", Type: domain.WidgetChart, Position: domain.Position{X: 0, Y: 0, W: 6, H: 4}},
		{ID: "w2", Type: domain.WidgetMetric, Position: domain.Position{X: 6, Y: 0, W: 6, H: 4}},
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store := New(openTestStore(t), nil)

	interval := 30
	saved, err := store.Save(context.Background(), "sales overview", validLayout(),
		json.RawMessage(`{"region":"EU"}`), "", &interval)
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	got, err := store.Get(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if got.Name != "sales overview" || len(got.Layout) != 2 {
		t.Fatalf("unexpected config: %+v", got)
	}
	if got.RefreshInterval == nil || *got.RefreshInterval != 30 {
		t.Fatalf("refresh interval lost: %+v", got.RefreshInterval)
	}
	if string(got.Filters) != `{"region":"EU"}` {
		t.Fatalf("filters lost: %s", got.Filters)
	}
}

func TestSaveRejectsOverlappingWidgetsNamingAllPairs(t *testing.T) {
	store := New(openTestStore(t), nil)

	layout := []domain.WidgetLayout{
		{ID: "a", Type: domain.WidgetChart, Position: domain.Position{X: 0, Y: 0, W: 6, H: 4}},
		{ID: "b", Type: domain.WidgetGrid, Position: domain.Position{X: 3, Y: 2, W: 6, H: 4}},
		{ID: "c", Type: domain.WidgetMetric, Position: domain.Position{X: 4, Y: 3, W: 4, H: 4}},
	}
	_, err := store.Save(context.Background(), "overlapping", layout, nil, "", nil)
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}

	msg := err.Error()
	for _, pair := range []string{`"a" and "b"`, `"a" and "c"`, `"b" and "c"`} {
		if !strings.Contains(msg, pair) {
			t.Fatalf("expected all overlapping pairs reported, missing %s in: %s", pair, msg)
		}
	}
}

func TestSaveRejectsOutOfGridAndBadInterval(t *testing.T) {
	store := New(openTestStore(t), nil)

	interval := 2
	layout := []domain.WidgetLayout{
		{ID: "wide", Type: domain.WidgetChart, Position: domain.Position{X: 8, Y: 0, W: 6, H: 4}},
		{ID: "flat", Type: domain.WidgetGrid, Position: domain.Position{X: 0, Y: 10, W: 4, H: 0}},
	}
	_, err := store.Save(context.Background(), "bad", layout, nil, "", &interval)
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"past column", "non-positive size", "refreshInterval"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in: %s", fragment, msg)
		}
	}
}

func TestSaveChecksDataSourceReference(t *testing.T) {
	sources := &stubSources{known: map[string]struct{}{"known": {}}}
	store := New(openTestStore(t), sources)

	if _, err := store.Save(context.Background(), "ok", validLayout(), nil, "known", nil); err != nil {
		t.Fatalf("save with known source failed: %v", err)
	}
	_, err := store.Save(context.Background(), "dangling", validLayout(), nil, "ghost", nil)
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for unknown source, got %v", err)
	}
}

func TestUpdateAppliesPatchAndRevalidates(t *testing.T) {
	store := New(openTestStore(t), nil)

	saved, err := store.Save(context.Background(), "before", validLayout(), nil, "", nil)
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	name := "after"
	updated, err := store.Update(context.Background(), saved.ID, domain.DashboardPatch{Name: &name})
	if err != nil {
		t.Fatalf("update returned error: %v", err)
	}
	if updated.Name != "after" {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(saved.UpdatedAt) {
		t.Fatalf("updatedAt must advance")
	}

	// A patch that produces an invalid document is rejected whole.
	badLayout := []domain.WidgetLayout{
		{ID: "x", Type: domain.WidgetChart, Position: domain.Position{X: 0, Y: 0, W: 6, H: 4}},
		{ID: "y", Type: domain.WidgetChart, Position: domain.Position{X: 0, Y: 0, W: 6, H: 4}},
	}
	_, err = store.Update(context.Background(), saved.ID, domain.DashboardPatch{Layout: &badLayout})
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}

	// The stored document is untouched by the failed patch.
	got, err := store.Get(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if len(got.Layout) != 2 || got.Layout[0].ID != "w1" {
		t.Fatalf("failed patch must not modify the stored layout: %+v", got.Layout)
	}
}

func TestDeleteAndList(t *testing.T) {
	store := New(openTestStore(t), nil)

	first, err := store.Save(context.Background(), "first", validLayout(), nil, "", nil)
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}
	if _, err := store.Save(context.Background(), "second", validLayout(), nil, "", nil); err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	configs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}

	if err := store.Delete(context.Background(), first.ID); err != nil {
		t.Fatalf("delete returned error: %v", err)
	}
	if err := store.Delete(context.Background(), first.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND on double delete, got %v", err)
	}
}
