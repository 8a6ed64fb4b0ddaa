package db

import (
	"context"
	"errors"
	"testing"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	conn, err := Open(Config{DataDir: t.TempDir(), DBName: "test"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

func TestModelFor(t *testing.T) {
	flat := ModelFor(&widget.MarkerModel{Table: "stores", PopupFields: []string{"store_type", "name"}})
	want := []string{"name", "color", "description", "latitude", "longitude", "store_type"}
	if len(flat.Columns) != len(want) {
		t.Fatalf("columns = %v", flat.Columns)
	}
	for i, c := range flat.Columns {
		if c.Name != want[i] {
			t.Fatalf("column %d = %q, want %q", i, c.Name, want[i])
		}
	}
	if flat.Columns[3].Type != TypeDouble {
		t.Fatalf("latitude type = %q", flat.Columns[3].Type)
	}

	js := ModelFor(&widget.MarkerModel{Table: "stores", JSONColumn: "location"})
	if js.Columns[3].Name != "location" || js.Columns[3].Type != TypeText || len(js.Columns) != 4 {
		t.Fatalf("json columns = %v", js.Columns)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	model := ModelFor(&widget.MarkerModel{Table: "stores"})

	if err := s.EnsureModel(ctx, model); err != nil {
		t.Fatalf("EnsureModel: %v", err)
	}
	if err := s.EnsureModel(ctx, model); err != nil {
		t.Fatalf("EnsureModel again: %v", err)
	}

	first, err := s.Insert(ctx, "stores", map[string]any{
		"name": "Store A", "color": "red", "latitude": -8.05, "longitude": -34.9,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	second, err := s.Insert(ctx, "stores", map[string]any{
		"name": "Store B", "color": "green", "latitude": -23.5, "longitude": -46.6,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if second <= first {
		t.Fatalf("ids %d, %d not increasing", first, second)
	}

	records, err := s.List(ctx, "stores")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].Get("name") != "Store A" || records[1].Get("color") != "green" {
		t.Fatalf("records = %+v", records)
	}

	m := layer.FromRecord(records[0], (&widget.MarkerModel{Table: "stores"}).Mapping())
	mk, ok := m.Geometry.(layer.Marker)
	if !ok || mk.Lat != -8.05 || mk.Lng != -34.9 || mk.Color != layer.ColorRed {
		t.Fatalf("marker = %+v", m.Geometry)
	}
}

func TestInsertRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.EnsureModel(ctx, ModelFor(&widget.MarkerModel{Table: "stores"})); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Insert(ctx, "stores", map[string]any{`name"; DROP TABLE stores; --`: "x"}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("err = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := s.Insert(ctx, "stores", map[string]any{"missing_column": "x"}); err == nil {
		t.Fatal("insert into unknown column succeeded")
	}
	records, err := s.List(ctx, "stores")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("failed inserts left %d records", len(records))
	}
	if _, err := s.List(ctx, "bad table"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("err = %v", err)
	}
}

func TestDensity(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE visits (uf VARCHAR, total INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO visits VALUES ('PE', 3), ('PE', 4), ('SP', 10), (NULL, 1)`); err != nil {
		t.Fatal(err)
	}

	got, err := s.Density(ctx, `SELECT uf, SUM(total) FROM visits GROUP BY uf`)
	if err != nil {
		t.Fatalf("Density: %v", err)
	}
	if len(got) != 2 || got["PE"] != 7 || got["SP"] != 10 {
		t.Fatalf("density = %v", got)
	}

	if _, err := s.Density(ctx, `SELECT nope FROM missing`); err == nil {
		t.Fatal("expected query error")
	}
}
