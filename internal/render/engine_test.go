package render_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/render"
	"github.com/joeblew999/plat-mapwidget/internal/render/memsurface"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

type recordingBridge struct {
	mu          sync.Mutex
	mapClicks   []layer.LatLng
	layerClicks []string
}

func (b *recordingBridge) OnMapClick(lat, lng float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mapClicks = append(b.mapClicks, layer.LatLng{lat, lng})
}

func (b *recordingBridge) OnLayerClick(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.layerClicks = append(b.layerClicks, id)
}

type staticFetcher struct {
	body []byte
	err  error
}

func (f staticFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.body, f.err
}

const regionsJSON = `{
  "PE": {"name": "Pernambuco", "coordinates": [[[-41, -7], [-35, -7], [-35, -9], [-41, -9], [-41, -7]]]},
  "SP": {"name": "São Paulo", "coordinates": [[[-53, -20], [-44, -20], [-44, -25], [-53, -25], [-53, -20]]]}
}`

// queue collects background fetches so tests control when they run.
type queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queue) async(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, fn)
}

func (q *queue) run(i int) {
	q.mu.Lock()
	fn := q.fns[i]
	q.mu.Unlock()
	fn()
}

func baseConfig(layers ...layer.Entry) widget.Config {
	return widget.Config{
		DefaultCoord: [2]float64{-14.235, -51.9253},
		DefaultZoom:  4,
		MapHeight:    504,
		TileLayers:   []widget.TileLayerEntry{widget.OpenStreetMap.Entry()},
		ZoomConfig:   widget.ZoomConfig{Min: 2, Max: 18},
		GeoJSONData:  map[string]float64{},
		Layers:       layers,
	}
}

func marker(id string, lat, lng float64) layer.Entry {
	return layer.Entry{"type": "marker", "id": id, "lat": lat, "lng": lng}
}

func newEngine(t *testing.T, mapID string, opts render.Options) (*render.Engine, *memsurface.Target) {
	t.Helper()
	target := memsurface.NewTarget()
	opts.MapID = mapID
	opts.Target = target
	if opts.InstanceID == "" {
		opts.InstanceID = "w1"
	}
	if opts.Async == nil {
		opts.Async = func(fn func()) { fn() }
	}
	e := render.New(opts)
	t.Cleanup(e.Dispose)
	return e, target
}

func TestInitRendersValidLayers(t *testing.T) {
	bridge := &recordingBridge{}
	e, target := newEngine(t, "map-init", render.Options{Bridge: bridge})

	cfg := baseConfig(marker("marker-1", -8.05, -34.9), marker("marker-2", 91, 0))
	if err := e.Init(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if e.State() != render.Ready {
		t.Fatalf("state = %s, want ready", e.State())
	}

	m := target.Map("map-init")
	if got := len(m.LayersOf("tile")); got != 1 {
		t.Fatalf("tile layers = %d, want 1", got)
	}
	markers := m.LayersOf("marker")
	if len(markers) != 1 {
		t.Fatalf("markers = %d, want 1", len(markers))
	}
	if markers[0].At != (layer.LatLng{-8.05, -34.9}) {
		t.Fatalf("marker at %v", markers[0].At)
	}
	if got := len(m.ControlsOf("layers")); got != 0 {
		t.Fatalf("layer control installed with a single base layer")
	}
	center, zoom := m.View()
	if center != (layer.LatLng{-14.235, -51.9253}) || zoom != 4 {
		t.Fatalf("view = %v/%d", center, zoom)
	}
	if m.Invalidations() != 1 {
		t.Fatalf("invalidations = %d, want 1", m.Invalidations())
	}

	m.Click(layer.LatLng{1, 2})
	if len(bridge.mapClicks) != 1 || bridge.mapClicks[0] != (layer.LatLng{1, 2}) {
		t.Fatalf("map clicks = %v", bridge.mapClicks)
	}
}

func TestMarkerIconAndTitle(t *testing.T) {
	e, target := newEngine(t, "map-icon", render.Options{AssetsPath: "/assets"})

	entry := marker("marker-1", 0, 0)
	entry["color"] = "red"
	entry["popup"] = layer.Entry{"title": "Store 7", "content": "<p>open</p>"}
	if err := e.Init(context.Background(), baseConfig(entry)); err != nil {
		t.Fatal(err)
	}

	mk := target.Map("map-icon").LayersOf("marker")[0]
	if mk.Marker.Icon.IconURL != "/assets/marker-icon-2x-red.png" {
		t.Fatalf("icon = %q", mk.Marker.Icon.IconURL)
	}
	if mk.Marker.Icon.ShadowURL != "/assets/marker-shadow.png" {
		t.Fatalf("shadow = %q", mk.Marker.Icon.ShadowURL)
	}
	if mk.Marker.Icon.IconAnchor != [2]int{12, 41} || mk.Marker.Icon.IconSize != layer.DefaultIconSize {
		t.Fatalf("icon geometry = %+v", mk.Marker.Icon)
	}
	if mk.Marker.Title != "Store 7" {
		t.Fatalf("title = %q, want popup title", mk.Marker.Title)
	}
	want := `<div class="custom-popup-w1"><h4>Store 7</h4><p>open</p></div>`
	if mk.Popup() != want {
		t.Fatalf("popup = %q, want %q", mk.Popup(), want)
	}
}

func TestApplyReplacesLayers(t *testing.T) {
	e, target := newEngine(t, "map-apply", render.Options{})

	first := baseConfig(marker("marker-1", 1, 1), marker("marker-2", 2, 2))
	first.TileLayers = append(first.TileLayers, widget.CartoDarkMatter.Entry())
	grouped := marker("marker-3", 3, 3)
	grouped["group"] = "stores"
	first.Layers = append(first.Layers, grouped)

	if err := e.Init(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	m := target.Map("map-apply")
	if got := len(m.ControlsOf("layers")); got != 1 {
		t.Fatalf("layer controls = %d, want 1", got)
	}

	second := baseConfig(marker("marker-9", 9, 9))
	groupedB := marker("marker-10", 10, 10)
	groupedB["group"] = "depots"
	second.Layers = append(second.Layers, groupedB)

	if err := e.ApplyConfiguration(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyConfiguration(context.Background(), second); err != nil {
		t.Fatal(err)
	}

	markers := m.LayersOf("marker")
	if len(markers) != 1 || markers[0].At != (layer.LatLng{9, 9}) {
		t.Fatalf("markers after apply = %v", markers)
	}
	groups := m.LayersOf("group")
	if len(groups) != 1 || len(groups[0].Children()) != 1 {
		t.Fatalf("groups after apply = %v", groups)
	}
	if got := len(m.LayersOf("tile")); got != 1 {
		t.Fatalf("tile layers = %d, want the base layer kept", got)
	}

	ctls := m.ControlsOf("layers")
	if len(ctls) != 1 {
		t.Fatalf("layer controls = %d, want 1", len(ctls))
	}
	if strings.Join(ctls[0].Bases, ",") != "OpenStreetMap,Dark" {
		t.Fatalf("bases = %v", ctls[0].Bases)
	}
	if strings.Join(ctls[0].Overlays, ",") != "depots" {
		t.Fatalf("overlays = %v", ctls[0].Overlays)
	}
	if e.Config().Layers[0]["id"] != "marker-9" {
		t.Fatalf("engine did not keep the applied configuration")
	}
}

func TestLayerClickOnlyWithAction(t *testing.T) {
	bridge := &recordingBridge{}
	e, target := newEngine(t, "map-click", render.Options{Bridge: bridge})

	withAction := marker("marker-1", 1, 1)
	withAction["clickAction"] = true
	if err := e.Init(context.Background(), baseConfig(withAction, marker("marker-2", 2, 2))); err != nil {
		t.Fatal(err)
	}

	markers := target.Map("map-click").LayersOf("marker")
	if len(markers) != 2 {
		t.Fatalf("markers = %d", len(markers))
	}
	markers[0].Fire("click")
	markers[1].Fire("click")

	if len(bridge.layerClicks) != 1 || bridge.layerClicks[0] != "marker-1" {
		t.Fatalf("layer clicks = %v, want [marker-1]", bridge.layerClicks)
	}
	if markers[1].Handlers("click") != 0 {
		t.Fatal("click handler bound to a layer without an action")
	}
}

func TestHoverHandlers(t *testing.T) {
	e, target := newEngine(t, "map-hover", render.Options{})

	c := layer.Entry{
		"type": "circle", "id": "circle-1",
		"center": []float64{1, 1}, "radius": 300.0,
		"options":     map[string]any{"color": "red"},
		"onMouseOver": "highlight",
		"onMouseOut":  "reset",
	}
	p := layer.Entry{
		"type": "polygon", "id": "polygon-1",
		"points":      [][2]float64{{0, 0}, {0, 1}, {1, 1}},
		"onMouseOver": "alert(document.cookie)",
	}
	if err := e.Init(context.Background(), baseConfig(c, p)); err != nil {
		t.Fatal(err)
	}
	m := target.Map("map-hover")

	circle := m.LayersOf("circle")[0]
	circle.Fire("mouseover")
	if circle.Style()["weight"] != 5 {
		t.Fatalf("style after mouseover = %v", circle.Style())
	}
	circle.Fire("mouseout")
	if circle.Style()["color"] != "red" || circle.Style()["weight"] != nil {
		t.Fatalf("style after mouseout = %v", circle.Style())
	}

	poly := m.LayersOf("polygon")[0]
	if poly.Handlers("mouseover") != 0 {
		t.Fatal("unknown handler name was bound")
	}
}

func TestUnknownAndBrokenLayersSkipped(t *testing.T) {
	e, target := newEngine(t, "map-skip", render.Options{})

	cfg := baseConfig(
		layer.Entry{"type": "heatmap", "id": "heat-1"},
		layer.Entry{"type": "polygon", "id": "polygon-1", "points": []any{[]any{0.0, 0.0}}},
		layer.Entry{"type": "circle", "id": "circle-1", "center": []any{1.0, 1.0}, "radius": -5.0},
		layer.Entry{"type": "polyline", "id": "polyline-1", "points": []any{[]any{0.0, 0.0}, []any{1.0, 1.0}}},
	)
	if err := e.Init(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	ls := target.Map("map-skip").Layers()
	if len(ls) != 2 {
		t.Fatalf("layers = %v, want tile and polyline", ls)
	}
	if ls[1].Kind != "polyline" {
		t.Fatalf("kind = %q", ls[1].Kind)
	}
}

func TestClusterDecoratesChildren(t *testing.T) {
	bridge := &recordingBridge{}
	e, target := newEngine(t, "map-cluster", render.Options{Bridge: bridge})

	child := marker("marker-2", 1, 1)
	child["clickAction"] = true
	cl := layer.Entry{
		"type": "cluster", "id": "cluster-1", "clickAction": true,
		"markers": []layer.Entry{child, marker("marker-3", 95, 0), marker("marker-4", 2, 2)},
	}
	if err := e.Init(context.Background(), baseConfig(cl)); err != nil {
		t.Fatal(err)
	}

	clusters := target.Map("map-cluster").LayersOf("cluster")
	if len(clusters) != 1 {
		t.Fatalf("clusters = %d", len(clusters))
	}
	if n := clusters[0].Handlers("click"); n != 0 {
		t.Fatalf("cluster container click handlers = %d", n)
	}
	kids := clusters[0].Children()
	if len(kids) != 2 {
		t.Fatalf("cluster children = %d, want 2", len(kids))
	}
	kids[0].Fire("click")
	kids[1].Fire("click")
	if len(bridge.layerClicks) != 1 || bridge.layerClicks[0] != "marker-2" {
		t.Fatalf("layer clicks = %v", bridge.layerClicks)
	}
}

func TestChromeControls(t *testing.T) {
	e, target := newEngine(t, "map-chrome", render.Options{})

	cfg := baseConfig()
	cfg.MapControls = widget.MapControls{ScaleControl: true, FullscreenControl: true, SearchControl: true}
	if err := e.Init(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	m := target.Map("map-chrome")
	if len(m.ControlsOf("scale")) != 1 || len(m.ControlsOf("zoom")) != 0 {
		t.Fatalf("controls = %v", m.Controls())
	}
	fs := m.ControlsOf("fullscreen")[0]
	if fs.Options["title"] != "Full Screen" || fs.Options["forceSeparateButton"] != true {
		t.Fatalf("fullscreen options = %v", fs.Options)
	}
	search := m.ControlsOf("search")[0]
	if search.Options["searchLabel"] != "Enter address" {
		t.Fatalf("search options = %v", search.Options)
	}

	if err := e.ApplyConfiguration(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if len(m.ControlsOf("fullscreen")) != 1 {
		t.Fatal("chrome controls duplicated on apply")
	}
}

func choroplethConfig() widget.Config {
	cfg := baseConfig()
	cfg.GeoJSONURL = "/static/maps/brazil.json"
	cfg.GeoJSONData = map[string]float64{"PE": 50, "SP": 200, "XX": 1}
	cfg.GeoJSONColors = []string{"#FFEDA0", "#FEB24C", "#E31A1C", "#800026"}
	cfg.InfoText = "<h4>{state}</h4><b>Density: {density}</b>"
	return cfg
}

func TestChoropleth(t *testing.T) {
	e, target := newEngine(t, "map-choro", render.Options{
		Fetcher: staticFetcher{body: []byte(regionsJSON)},
	})
	if err := e.Init(context.Background(), choroplethConfig()); err != nil {
		t.Fatal(err)
	}
	m := target.Map("map-choro")

	geo := m.LayersOf("geojson")
	if len(geo) != 1 {
		t.Fatalf("geojson layers = %d, want 1", len(geo))
	}
	features := geo[0].Children()
	if len(features) != 2 {
		t.Fatalf("features = %d, want 2", len(features))
	}
	if features[0].Style()["fillColor"] != "#FFEDA0" {
		t.Fatalf("PE fill = %v", features[0].Style()["fillColor"])
	}
	if features[1].Style()["fillColor"] != "#800026" {
		t.Fatalf("SP fill = %v", features[1].Style()["fillColor"])
	}

	info := m.ControlsOf("info")
	if len(info) != 1 || info[0].ClassName != "info-w1" {
		t.Fatalf("info controls = %v", info)
	}
	features[1].Fire("mouseover")
	html, shown := info[0].Info()
	if !shown || html != "<h4>São Paulo</h4><b>Density: 200</b>" {
		t.Fatalf("info = %q shown=%v", html, shown)
	}
	features[1].Fire("mouseout")
	if _, shown := info[0].Info(); shown {
		t.Fatal("info still shown after mouseout")
	}

	features[0].Fire("click")
	fitted := m.Fitted()
	if len(fitted) != 1 || fitted[0].Min[0] != -41 || fitted[0].Max[1] != -7 {
		t.Fatalf("fitted = %v", fitted)
	}

	if err := e.ApplyConfiguration(context.Background(), choroplethConfig()); err != nil {
		t.Fatal(err)
	}
	if len(m.LayersOf("geojson")) != 1 || len(m.ControlsOf("info")) != 1 {
		t.Fatal("choropleth duplicated on apply")
	}
}

func TestStaleFetchDiscarded(t *testing.T) {
	q := &queue{}
	e, target := newEngine(t, "map-stale", render.Options{
		Fetcher: staticFetcher{body: []byte(regionsJSON)},
		Async:   q.async,
	})
	if err := e.Init(context.Background(), choroplethConfig()); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyConfiguration(context.Background(), choroplethConfig()); err != nil {
		t.Fatal(err)
	}
	m := target.Map("map-stale")

	q.run(0)
	if got := len(m.LayersOf("geojson")); got != 0 {
		t.Fatalf("stale fetch rendered %d geojson layers", got)
	}
	q.run(1)
	if got := len(m.LayersOf("geojson")); got != 1 {
		t.Fatalf("current fetch rendered %d geojson layers, want 1", got)
	}
}

func TestFetchAfterDisposeDiscarded(t *testing.T) {
	q := &queue{}
	e, target := newEngine(t, "map-disposed", render.Options{
		Fetcher: staticFetcher{body: []byte(regionsJSON)},
		Async:   q.async,
	})
	if err := e.Init(context.Background(), choroplethConfig()); err != nil {
		t.Fatal(err)
	}
	e.Dispose()
	q.run(0)

	m := target.Map("map-disposed")
	if !m.Removed() || len(m.Layers()) != 0 {
		t.Fatal("disposed map still holds layers")
	}
}

func TestFetchFailureKeepsMap(t *testing.T) {
	e, target := newEngine(t, "map-fetch-fail", render.Options{
		Fetcher: staticFetcher{err: errors.New("boom")},
	})
	if err := e.Init(context.Background(), choroplethConfig()); err != nil {
		t.Fatal(err)
	}
	if e.State() != render.Ready {
		t.Fatalf("state = %s", e.State())
	}
	if len(target.Map("map-fetch-fail").LayersOf("geojson")) != 0 {
		t.Fatal("geojson layer after a failed fetch")
	}
}

func TestLifecycleErrors(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, "map-life", render.Options{})

	if err := e.ApplyConfiguration(ctx, baseConfig()); !errors.Is(err, render.ErrInvalidState) {
		t.Fatalf("apply before init: err = %v", err)
	}
	if err := e.Init(ctx, baseConfig()); err != nil {
		t.Fatal(err)
	}
	if err := e.Init(ctx, baseConfig()); !errors.Is(err, render.ErrInvalidState) {
		t.Fatalf("second init: err = %v", err)
	}

	other, _ := newEngine(t, "map-life", render.Options{})
	if err := other.Init(ctx, baseConfig()); !errors.Is(err, render.ErrTargetInUse) {
		t.Fatalf("shared target: err = %v", err)
	}

	e.Dispose()
	e.Dispose()
	if e.State() != render.Disposed {
		t.Fatalf("state = %s", e.State())
	}
	if err := e.ApplyConfiguration(ctx, baseConfig()); !errors.Is(err, render.ErrInvalidState) {
		t.Fatalf("apply after dispose: err = %v", err)
	}

	again, _ := newEngine(t, "map-life", render.Options{})
	if err := again.Init(ctx, baseConfig()); err != nil {
		t.Fatalf("target not released by dispose: %v", err)
	}
}

func TestCreateMapFailure(t *testing.T) {
	target := memsurface.NewTarget()
	target.Err = errors.New("no container")
	e := render.New(render.Options{MapID: "map-missing", Target: target})
	if err := e.Init(context.Background(), baseConfig()); err == nil {
		t.Fatal("expected error")
	}
	if e.State() != render.Uninitialized {
		t.Fatalf("state = %s", e.State())
	}
	target.Err = nil
	if err := e.Init(context.Background(), baseConfig()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	e.Dispose()
}
