// Package memsurface is an in-memory render.Surface. It records what the
// engine draws and lets callers fire map and layer events, which makes it
// the surface of the tests and of the preview command.
package memsurface

import (
	"fmt"
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/render"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

// Target hands out in-memory maps and remembers them by id.
type Target struct {
	mu   sync.Mutex
	maps map[string]*Map

	// Err, when set, fails every CreateMap call.
	Err error
}

func NewTarget() *Target {
	return &Target{maps: make(map[string]*Map)}
}

func (t *Target) CreateMap(mapID string, opts widget.MapConfig) (render.Surface, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := &Map{ID: mapID, Options: opts}
	t.maps[mapID] = m
	return m, nil
}

// Map returns the last map created for id, or nil.
func (t *Target) Map(id string) *Map {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maps[id]
}

// Layer is a recorded drawable.
type Layer struct {
	Kind    string
	URL     string
	At      layer.LatLng
	Points  []layer.LatLng
	Radius  float64
	Options map[string]any
	Marker  render.MarkerOptions
	Tile    render.TileOptions
	Feature *geojson.Feature

	mu             sync.Mutex
	popup          string
	popupOptions   map[string]any
	tooltip        string
	tooltipOptions map[string]any
	style          map[string]any
	children       []*Layer
	handlers       map[string][]func()
}

func newLayer(kind string) *Layer {
	return &Layer{Kind: kind, handlers: make(map[string][]func())}
}

func (l *Layer) BindPopup(html string, options map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.popup, l.popupOptions = html, options
}

func (l *Layer) BindTooltip(content string, options map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tooltip, l.tooltipOptions = content, options
}

func (l *Layer) On(event string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[event] = append(l.handlers[event], fn)
}

func (l *Layer) SetStyle(style map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.style = style
}

func (l *Layer) AddLayer(h render.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.children = append(l.children, h.(*Layer))
}

// Popup returns the bound popup HTML.
func (l *Layer) Popup() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.popup
}

// Tooltip returns the bound tooltip content and options.
func (l *Layer) Tooltip() (string, map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tooltip, l.tooltipOptions
}

// Style returns the last style set by a hover handler.
func (l *Layer) Style() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.style
}

// Children returns the members of a group, cluster or GeoJSON layer.
func (l *Layer) Children() []*Layer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.children)
}

// Handlers reports how many handlers listen for event.
func (l *Layer) Handlers(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers[event])
}

// Fire invokes every handler registered for event.
func (l *Layer) Fire(event string) {
	l.mu.Lock()
	fns := slices.Clone(l.handlers[event])
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *Layer) String() string {
	return fmt.Sprintf("%s%v", l.Kind, l.At)
}

// Control is a recorded map control. Info controls track their content.
type Control struct {
	Kind      string
	Options   map[string]any
	ClassName string
	Bases     []string
	Overlays  []string

	mu      sync.Mutex
	html    string
	visible bool
}

func (c *Control) Update(html string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.html, c.visible = html, true
}

func (c *Control) Hide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = false
}

// Info returns the info overlay content and whether it is shown.
func (c *Control) Info() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.html, c.visible
}

// Map is an in-memory render.Surface.
type Map struct {
	ID      string
	Options widget.MapConfig

	mu            sync.Mutex
	center        layer.LatLng
	zoom          int
	attached      []*Layer
	controls      []*Control
	clicks        []func(layer.LatLng)
	fitted        []orb.Bound
	invalidations int
	removed       bool
}

var _ render.Surface = (*Map)(nil)

func (m *Map) SetView(center layer.LatLng, zoom int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center, m.zoom = center, zoom
}

func (m *Map) NewTileLayer(url string, opts render.TileOptions) render.Handle {
	l := newLayer("tile")
	l.URL, l.Tile = url, opts
	return l
}

func (m *Map) NewMarker(at layer.LatLng, opts render.MarkerOptions) render.Handle {
	l := newLayer(string(layer.KindMarker))
	l.At, l.Marker = at, opts
	return l
}

func (m *Map) NewCircle(center layer.LatLng, radius float64, opts map[string]any) render.Handle {
	l := newLayer(string(layer.KindCircle))
	l.At, l.Radius, l.Options = center, radius, opts
	return l
}

func (m *Map) NewCircleMarker(center layer.LatLng, radius float64, opts map[string]any) render.Handle {
	l := newLayer(string(layer.KindCircleMarker))
	l.At, l.Radius, l.Options = center, radius, opts
	return l
}

func (m *Map) NewRectangle(bounds []layer.LatLng, opts map[string]any) render.Handle {
	l := newLayer(string(layer.KindRectangle))
	l.Points, l.Options = bounds, opts
	return l
}

func (m *Map) NewPolygon(points []layer.LatLng, opts map[string]any) render.Handle {
	l := newLayer(string(layer.KindPolygon))
	l.Points, l.Options = points, opts
	return l
}

func (m *Map) NewPolyline(points []layer.LatLng, opts map[string]any) render.Handle {
	l := newLayer(string(layer.KindPolyline))
	l.Points, l.Options = points, opts
	return l
}

func (m *Map) NewCluster(opts map[string]any) render.Group {
	l := newLayer(string(layer.KindCluster))
	l.Options = opts
	return l
}

func (m *Map) NewGroup() render.Group {
	return newLayer("group")
}

func (m *Map) NewGeoJSON(fc *geojson.FeatureCollection, style render.FeatureStyle, each render.EachFeature) render.Handle {
	l := newLayer("geojson")
	for _, f := range fc.Features {
		fl := newLayer("feature")
		fl.Feature = f
		if style != nil {
			fl.style = style(f)
		}
		if each != nil {
			each(f, fl)
		}
		l.children = append(l.children, fl)
	}
	return l
}

func (m *Map) NewControl(kind render.ControlKind, opts map[string]any) render.Control {
	return &Control{Kind: string(kind), Options: opts}
}

func (m *Map) NewInfoControl(className string) render.InfoControl {
	return &Control{Kind: "info", ClassName: className}
}

func (m *Map) NewLayerControl(bases, overlays []render.Named) render.Control {
	c := &Control{Kind: "layers"}
	for _, b := range bases {
		c.Bases = append(c.Bases, b.Name)
	}
	for _, o := range overlays {
		c.Overlays = append(c.Overlays, o.Name)
	}
	return c
}

func (m *Map) AddLayer(h render.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := h.(*Layer)
	if !slices.Contains(m.attached, l) {
		m.attached = append(m.attached, l)
	}
}

func (m *Map) RemoveLayer(h render.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := h.(*Layer)
	m.attached = slices.DeleteFunc(m.attached, func(x *Layer) bool { return x == l })
}

func (m *Map) AddControl(c render.Control) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctl := c.(*Control)
	if !slices.Contains(m.controls, ctl) {
		m.controls = append(m.controls, ctl)
	}
}

func (m *Map) RemoveControl(c render.Control) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctl := c.(*Control)
	m.controls = slices.DeleteFunc(m.controls, func(x *Control) bool { return x == ctl })
}

func (m *Map) OnClick(fn func(at layer.LatLng)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, fn)
}

func (m *Map) FitBounds(b orb.Bound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fitted = append(m.fitted, b)
}

func (m *Map) InvalidateSize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
}

func (m *Map) Remove() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached, m.controls, m.clicks = nil, nil, nil
	m.removed = true
}

// Click fires the map click handlers at a coordinate.
func (m *Map) Click(at layer.LatLng) {
	m.mu.Lock()
	fns := slices.Clone(m.clicks)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(at)
	}
}

// View returns the current center and zoom.
func (m *Map) View() (layer.LatLng, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center, m.zoom
}

// Layers returns the layers attached to the map, in attach order.
func (m *Map) Layers() []*Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.attached)
}

// LayersOf returns attached layers of one kind.
func (m *Map) LayersOf(kind string) []*Layer {
	var out []*Layer
	for _, l := range m.Layers() {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

// Controls returns the installed controls, in install order.
func (m *Map) Controls() []*Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.controls)
}

// ControlsOf returns installed controls of one kind.
func (m *Map) ControlsOf(kind string) []*Control {
	var out []*Control
	for _, c := range m.Controls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Fitted returns every bound passed to FitBounds.
func (m *Map) Fitted() []orb.Bound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.fitted)
}

// Invalidations counts InvalidateSize calls.
func (m *Map) Invalidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidations
}

// Removed reports whether Remove was called.
func (m *Map) Removed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}
