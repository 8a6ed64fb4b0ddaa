package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/joeblew999/plat-mapwidget/internal/db"
	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/logger"
	"github.com/joeblew999/plat-mapwidget/internal/service"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

const storesYAML = `
name: stores
heading: Stores
center: [-8.05, -34.9]
zoom: 10
markers:
  table: stores
  color: blue
shapes:
  - type: marker
    id: hq
    lat: -8.06
    lng: -34.88
    action:
      name: notify
      args:
        message: Headquarters
  - type: circle
    center: [-8.1, -34.9]
    radius: 200
`

const plainYAML = `
name: plain
shapes:
  - type: marker
    lat: 1
    lng: 2
    action:
      name: notify
`

const geoYAML = `
name: geo
markers:
  table: places
  json_column: location
`

type memStore struct {
	mu      sync.Mutex
	rows    map[string][]map[string]any
	ensured []string
	failErr error
}

func newMemStore() *memStore {
	return &memStore{rows: map[string][]map[string]any{}}
}

func (s *memStore) EnsureModel(_ context.Context, m db.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = append(s.ensured, m.Table)
	return nil
}

func (s *memStore) Insert(_ context.Context, table string, data map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	s.rows[table] = append(s.rows[table], data)
	return int64(len(s.rows[table])), nil
}

func (s *memStore) List(_ context.Context, table string) ([]layer.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []layer.Record
	for i, row := range s.rows[table] {
		r := layer.Record{Columns: []string{"id"}, Values: map[string]any{"id": int64(i + 1)}}
		for k, v := range row {
			r.Columns = append(r.Columns, k)
			r.Values[k] = v
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) Density(context.Context, string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (s *memStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[table])
}

func newRegistry(t *testing.T) *widget.Registry {
	t.Helper()
	var defs []*widget.Definition
	for _, src := range []string{storesYAML, plainYAML, geoYAML} {
		d, err := widget.ParseDefinition([]byte(src))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		defs = append(defs, d)
	}
	reg, err := widget.NewRegistry(defs...)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newHandler(t *testing.T, store *memStore) (*Handler, *service.EventBus) {
	t.Helper()
	bus := service.NewEventBus()
	h := NewHandler(Options{Registry: newRegistry(t), Store: store, Bus: bus})
	return h, bus
}

// drain returns the events already queued on ch.
func drain(ch chan service.Event) []service.Event {
	var out []service.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSessions(t *testing.T) {
	s := NewSessions(2)
	a := s.Open("stores")
	if !strings.HasPrefix(a.Instance, "w") || a.Widget != "stores" {
		t.Fatalf("session=%+v", a)
	}
	if _, err := s.SetClicked(a.Instance, layer.LatLng{1, 2}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(a.Instance)
	if err != nil || got.Clicked == nil || *got.Clicked != (layer.LatLng{1, 2}) {
		t.Fatalf("get=%+v err=%v", got, err)
	}
	s.ClearClicked(a.Instance)
	if got, _ := s.Get(a.Instance); got.Clicked != nil {
		t.Fatalf("click not cleared: %+v", got)
	}

	if _, err := s.Get("nope"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("err=%v", err)
	}
	if _, err := s.SetClicked("nope", layer.LatLng{}); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("err=%v", err)
	}

	// a was used last; b is evicted first
	b := s.Open("stores")
	if _, err := s.Get(a.Instance); err != nil {
		t.Fatal(err)
	}
	s.Open("plain")
	if _, err := s.Get(b.Instance); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("b still present, err=%v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestMarkerFormValidate(t *testing.T) {
	tests := []struct {
		name string
		form MarkerForm
		ok   bool
	}{
		{"valid", MarkerForm{Name: "Store", Color: "red"}, true},
		{"color any case", MarkerForm{Name: "Store", Color: "Gold"}, true},
		{"missing name", MarkerForm{Color: "red"}, false},
		{"long name", MarkerForm{Name: strings.Repeat("a", 256), Color: "red"}, false},
		{"max name", MarkerForm{Name: strings.Repeat("ã", 255), Color: "red"}, true},
		{"missing color", MarkerForm{Name: "Store"}, false},
		{"unknown color", MarkerForm{Name: "Store", Color: "pink"}, false},
		{"long description", MarkerForm{Name: "Store", Color: "red", Description: strings.Repeat("d", 1001)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidMarker) {
				t.Fatalf("err=%v, want ErrInvalidMarker", err)
			}
		})
	}
}

func TestMarkerRow(t *testing.T) {
	form := MarkerForm{Name: "A", Color: "RED", Description: "open late"}

	flat, err := markerRow(&widget.MarkerModel{Table: "stores"}, form, layer.LatLng{-8, -34})
	if err != nil {
		t.Fatal(err)
	}
	if flat["name"] != "A" || flat["color"] != "red" || flat["description"] != "open late" ||
		flat["latitude"] != -8.0 || flat["longitude"] != -34.0 {
		t.Fatalf("flat=%v", flat)
	}

	js, err := markerRow(&widget.MarkerModel{Table: "places", JSONColumn: "location", TitleColumn: "label"},
		MarkerForm{Name: "B", Color: "green"}, layer.LatLng{1.5, 2.5})
	if err != nil {
		t.Fatal(err)
	}
	if js["label"] != "B" || js["location"] != `{"latitude":1.5,"longitude":2.5}` {
		t.Fatalf("json=%v", js)
	}
	if _, ok := js["latitude"]; ok {
		t.Fatal("flat coordinates written next to the JSON column")
	}
	if _, ok := js["description"]; ok {
		t.Fatal("empty description written")
	}
}

func TestEnsureModels(t *testing.T) {
	store := newMemStore()
	h, _ := newHandler(t, store)
	if err := h.EnsureModels(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.ensured) != 2 || store.ensured[0] != "places" || store.ensured[1] != "stores" {
		t.Fatalf("ensured=%v", store.ensured)
	}

	noStore := NewHandler(Options{Registry: newRegistry(t)})
	if err := noStore.EnsureModels(context.Background()); err == nil {
		t.Fatal("marker models without a store accepted")
	}
}

func TestOnMapClick(t *testing.T) {
	ctx := context.Background()
	h, bus := newHandler(t, newMemStore())
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	stores, _ := h.Open("stores")
	if err := h.OnMapClick(ctx, stores.Instance, -8.1, -34.9); err != nil {
		t.Fatal(err)
	}
	evs := drain(ch)
	if len(evs) != 1 || evs[0].Kind != service.EventOpenForm || evs[0].Instance != stores.Instance {
		t.Fatalf("events=%+v", evs)
	}
	sess, _ := h.sessions.Get(stores.Instance)
	if sess.Clicked == nil || sess.Clicked.Lat() != -8.1 || sess.Clicked.Lng() != -34.9 {
		t.Fatalf("clicked=%v", sess.Clicked)
	}

	plain, _ := h.Open("plain")
	if err := h.OnMapClick(ctx, plain.Instance, 1, 1); err != nil {
		t.Fatal(err)
	}
	if evs := drain(ch); len(evs) != 0 {
		t.Fatalf("widget without marker model published %+v", evs)
	}

	if err := h.OnMapClick(ctx, "missing", 1, 1); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("err=%v", err)
	}
}

func TestOnLayerClick(t *testing.T) {
	ctx := context.Background()
	h, bus := newHandler(t, newMemStore())
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	sess, _ := h.Open("stores")

	if err := h.OnLayerClick(ctx, sess.Instance, "hq"); err != nil {
		t.Fatal(err)
	}
	evs := drain(ch)
	if len(evs) != 1 {
		t.Fatalf("events=%+v", evs)
	}
	if ev := evs[0]; ev.Kind != service.EventNotify || ev.Message != "Headquarters" || ev.Instance != sess.Instance {
		t.Fatalf("event=%+v", ev)
	}

	// no action, and an id that does not exist
	for _, id := range []string{"circle-1", "marker-99"} {
		if err := h.OnLayerClick(ctx, sess.Instance, id); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
	}
	if evs := drain(ch); len(evs) != 0 {
		t.Fatalf("events=%+v", evs)
	}
}

func TestOnLayerClickDefaultMessageUsesAssignedID(t *testing.T) {
	h, bus := newHandler(t, newMemStore())
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	sess, _ := h.Open("plain")

	if err := h.OnLayerClick(context.Background(), sess.Instance, "marker-1"); err != nil {
		t.Fatal(err)
	}
	evs := drain(ch)
	if len(evs) != 1 || evs[0].Message != "Clicked marker-1" {
		t.Fatalf("events=%+v", evs)
	}
}

func TestCreateMarkerLogsSession(t *testing.T) {
	var buf bytes.Buffer
	log := logger.Build(logger.Config{Level: "info"}, &buf)
	h := NewHandler(Options{Registry: newRegistry(t), Store: newMemStore(), Bus: service.NewEventBus(), Logger: &log})
	ctx := context.Background()
	sess, _ := h.Open("stores")
	if err := h.OnMapClick(ctx, sess.Instance, -8.1, -34.9); err != nil {
		t.Fatal(err)
	}
	if _, err := h.CreateMarker(ctx, sess.Instance, MarkerForm{Name: "A", Color: "red"}); err != nil {
		t.Fatal(err)
	}

	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var line map[string]any
		if err := json.Unmarshal(raw, &line); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if line["msg"] != "marker created" {
			continue
		}
		if line["widget"] != "stores" || line["instance"] != sess.Instance || line["table"] != "stores" {
			t.Fatalf("line=%v", line)
		}
		return
	}
	t.Fatalf("no marker created line in %s", buf.String())
}

func TestRefresh(t *testing.T) {
	h, bus := newHandler(t, newMemStore())
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	if err := h.Refresh(context.Background(), "plain"); err != nil {
		t.Fatal(err)
	}
	evs := drain(ch)
	if len(evs) != 1 || evs[0].Kind != service.EventRefresh || evs[0].Widget != "plain" || evs[0].Instance != "" {
		t.Fatalf("events=%+v", evs)
	}
	if err := h.Refresh(context.Background(), "nope"); !errors.Is(err, widget.ErrUnknownWidget) {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateMarker(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h, bus := newHandler(t, store)
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	sess, _ := h.Open("stores")

	if _, err := h.CreateMarker(ctx, sess.Instance, MarkerForm{Name: "A", Color: "red"}); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err=%v, want ErrNoPosition", err)
	}

	_ = h.OnMapClick(ctx, sess.Instance, -8.1, -34.9)
	drain(ch)

	if _, err := h.CreateMarker(ctx, sess.Instance, MarkerForm{Color: "red"}); !errors.Is(err, ErrInvalidMarker) {
		t.Fatalf("err=%v, want ErrInvalidMarker", err)
	}
	if store.count("stores") != 0 {
		t.Fatal("invalid form stored a row")
	}

	id, err := h.CreateMarker(ctx, sess.Instance, MarkerForm{Name: "Store A", Color: "red", Description: "new"})
	if err != nil {
		t.Fatalf("CreateMarker: %v", err)
	}
	if id != 1 || store.count("stores") != 1 {
		t.Fatalf("id=%d rows=%d", id, store.count("stores"))
	}
	evs := drain(ch)
	if len(evs) != 2 || evs[0].Kind != service.EventRefresh || evs[0].Instance != "" ||
		evs[1].Kind != service.EventNotify || evs[1].Instance != sess.Instance {
		t.Fatalf("events=%+v", evs)
	}

	// the click is consumed
	if _, err := h.CreateMarker(ctx, sess.Instance, MarkerForm{Name: "B", Color: "red"}); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err=%v", err)
	}

	// the new marker is part of the next configuration
	cfg, err := h.Config(ctx, sess.Instance)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Layers) != 3 || cfg.Layers[0]["id"] != "stores-1" || cfg.Layers[0]["color"] != "red" {
		t.Fatalf("layers=%v", cfg.Layers)
	}
}

func TestCreateMarkerStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failErr = errors.New("constraint violated")
	h, bus := newHandler(t, store)
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	sess, _ := h.Open("stores")
	_ = h.OnMapClick(ctx, sess.Instance, 1, 1)
	drain(ch)

	_, err := h.CreateMarker(ctx, sess.Instance, MarkerForm{Name: "A", Color: "red"})
	if err == nil || !strings.HasPrefix(err.Error(), "creating marker: ") {
		t.Fatalf("err=%v", err)
	}
	if evs := drain(ch); len(evs) != 0 {
		t.Fatalf("failed insert published %+v", evs)
	}
	if got, _ := h.sessions.Get(sess.Instance); got.Clicked == nil {
		t.Fatal("failed insert consumed the click")
	}
}

func TestCreateMarkerWithoutModel(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t, newMemStore())
	sess, _ := h.Open("plain")
	_ = h.OnMapClick(ctx, sess.Instance, 1, 1)
	if _, err := h.CreateMarker(ctx, sess.Instance, MarkerForm{Name: "A", Color: "red"}); !errors.Is(err, widget.ErrNoMarkerModel) {
		t.Fatalf("err=%v", err)
	}
}
