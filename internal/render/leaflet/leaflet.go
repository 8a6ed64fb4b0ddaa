//go:build js && wasm

// Package leaflet binds render.Surface to a Leaflet map in the browser.
// It expects the page to load Leaflet together with the markercluster,
// fullscreen and leaflet-geosearch plugins.
package leaflet

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"syscall/js"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/render"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

var ErrNotLoaded = errors.New("leaflet is not loaded")

// Target creates Leaflet maps inside existing DOM containers.
type Target struct{}

func (Target) CreateMap(mapID string, opts widget.MapConfig) (render.Surface, error) {
	L := js.Global().Get("L")
	if L.IsUndefined() {
		return nil, ErrNotLoaded
	}
	el := js.Global().Get("document").Call("getElementById", mapID)
	if el.IsNull() || el.IsUndefined() {
		return nil, fmt.Errorf("map container %q not found", mapID)
	}
	m := L.Call("map", el, map[string]any{
		"scrollWheelZoom":    opts.ScrollWheelZoom,
		"doubleClickZoom":    opts.DoubleClickZoom,
		"dragging":           opts.Dragging,
		"zoomControl":        opts.ZoomControl,
		"attributionControl": opts.AttributionControl,
	})
	return &Map{L: L, m: m}, nil
}

// handle wraps a Leaflet layer and the Go callbacks it holds.
type handle struct {
	v        js.Value
	mu       sync.Mutex
	funcs    []js.Func
	children []*handle
}

func (h *handle) BindPopup(html string, options map[string]any) {
	h.v.Call("bindPopup", html, jsValue(options))
}

func (h *handle) BindTooltip(content string, options map[string]any) {
	h.v.Call("bindTooltip", content, jsValue(options))
}

func (h *handle) On(event string, fn func()) {
	f := js.FuncOf(func(this js.Value, args []js.Value) any {
		fn()
		return nil
	})
	h.keep(f)
	h.v.Call("on", event, f)
}

func (h *handle) SetStyle(style map[string]any) {
	if h.v.Get("setStyle").Type() == js.TypeFunction {
		h.v.Call("setStyle", jsValue(style))
	}
}

func (h *handle) AddLayer(child render.Handle) {
	c := child.(*handle)
	h.mu.Lock()
	h.children = append(h.children, c)
	h.mu.Unlock()
	h.v.Call("addLayer", c.v)
}

func (h *handle) keep(f js.Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, f)
}

// release frees the callbacks of h and its children.
func (h *handle) release() {
	h.mu.Lock()
	funcs, children := h.funcs, h.children
	h.funcs, h.children = nil, nil
	h.mu.Unlock()
	for _, f := range funcs {
		f.Release()
	}
	for _, c := range children {
		c.release()
	}
}

type control struct {
	v js.Value
}

type infoControl struct {
	control
	div js.Value
}

func (c *infoControl) Update(html string) {
	c.div.Set("innerHTML", html)
	c.div.Get("style").Set("display", "block")
}

func (c *infoControl) Hide() {
	c.div.Get("style").Set("display", "none")
}

// Map is a Leaflet map.
type Map struct {
	L js.Value
	m js.Value

	mu     sync.Mutex
	owned  []js.Func
	layers []*handle
}

func (m *Map) keep(f js.Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owned = append(m.owned, f)
}

func (m *Map) wrap(v js.Value) *handle {
	return &handle{v: v}
}

func (m *Map) SetView(center layer.LatLng, zoom int) {
	m.m.Call("setView", latLng(center), zoom)
}

func (m *Map) NewTileLayer(url string, opts render.TileOptions) render.Handle {
	return m.wrap(m.L.Call("tileLayer", url, map[string]any{
		"minZoom":     opts.MinZoom,
		"maxZoom":     opts.MaxZoom,
		"attribution": opts.Attribution,
	}))
}

func (m *Map) NewMarker(at layer.LatLng, opts render.MarkerOptions) render.Handle {
	return m.wrap(m.L.Call("marker", latLng(at), map[string]any{
		"icon":      m.icon(opts.Icon),
		"title":     opts.Title,
		"draggable": opts.Draggable,
	}))
}

func (m *Map) icon(i render.Icon) js.Value {
	o := map[string]any{
		"iconUrl":     i.IconURL,
		"iconSize":    pair(i.IconSize),
		"iconAnchor":  pair(i.IconAnchor),
		"popupAnchor": pair(i.PopupAnchor),
	}
	if i.ShadowURL != "" {
		o["shadowUrl"] = i.ShadowURL
		o["shadowSize"] = pair(i.ShadowSize)
	}
	return m.L.Call("icon", o)
}

func (m *Map) NewCircle(center layer.LatLng, radius float64, opts map[string]any) render.Handle {
	return m.wrap(m.L.Call("circle", latLng(center), withRadius(opts, radius)))
}

func (m *Map) NewCircleMarker(center layer.LatLng, radius float64, opts map[string]any) render.Handle {
	return m.wrap(m.L.Call("circleMarker", latLng(center), withRadius(opts, radius)))
}

func (m *Map) NewRectangle(bounds []layer.LatLng, opts map[string]any) render.Handle {
	return m.wrap(m.L.Call("rectangle", latLngs(bounds), jsValue(opts)))
}

func (m *Map) NewPolygon(points []layer.LatLng, opts map[string]any) render.Handle {
	return m.wrap(m.L.Call("polygon", latLngs(points), jsValue(opts)))
}

func (m *Map) NewPolyline(points []layer.LatLng, opts map[string]any) render.Handle {
	return m.wrap(m.L.Call("polyline", latLngs(points), jsValue(opts)))
}

func (m *Map) NewCluster(opts map[string]any) render.Group {
	if m.L.Get("markerClusterGroup").Type() != js.TypeFunction {
		return m.wrap(m.L.Call("featureGroup"))
	}
	return m.wrap(m.L.Call("markerClusterGroup", jsValue(opts)))
}

func (m *Map) NewGroup() render.Group {
	return m.wrap(m.L.Call("layerGroup"))
}

func (m *Map) NewGeoJSON(fc *geojson.FeatureCollection, style render.FeatureStyle, each render.EachFeature) render.Handle {
	raw, err := json.Marshal(fc)
	if err != nil {
		return m.wrap(m.L.Call("layerGroup"))
	}
	byID := make(map[string]*geojson.Feature, len(fc.Features))
	for _, f := range fc.Features {
		byID[fmt.Sprint(f.ID)] = f
	}
	lookup := func(v js.Value) *geojson.Feature {
		return byID[v.Get("id").String()]
	}

	geo := &handle{}
	styleFn := js.FuncOf(func(this js.Value, args []js.Value) any {
		f := lookup(args[0])
		if f == nil || style == nil {
			return nil
		}
		return jsValue(style(f))
	})
	eachFn := js.FuncOf(func(this js.Value, args []js.Value) any {
		f := lookup(args[0])
		if f == nil || each == nil {
			return nil
		}
		h := &handle{v: args[1]}
		geo.mu.Lock()
		geo.children = append(geo.children, h)
		geo.mu.Unlock()
		each(f, h)
		return nil
	})
	geo.keep(styleFn)
	geo.keep(eachFn)

	data := js.Global().Get("JSON").Call("parse", string(raw))
	geo.v = m.L.Call("geoJSON", data, map[string]any{
		"style":         styleFn,
		"onEachFeature": eachFn,
	})
	return geo
}

func (m *Map) NewControl(kind render.ControlKind, opts map[string]any) render.Control {
	ctl := m.L.Get("control")
	switch kind {
	case render.ControlAttribution:
		return &control{v: ctl.Call("attribution")}
	case render.ControlScale:
		return &control{v: ctl.Call("scale")}
	case render.ControlZoom:
		return &control{v: ctl.Call("zoom")}
	case render.ControlFullscreen:
		if ctl.Get("fullscreen").Type() == js.TypeFunction {
			return &control{v: ctl.Call("fullscreen", jsValue(opts))}
		}
	case render.ControlSearch:
		if gs := js.Global().Get("GeoSearch"); !gs.IsUndefined() {
			o := map[string]any{
				"provider": gs.Get("OpenStreetMapProvider").New(),
				"style":    "bar",
			}
			for k, v := range opts {
				if icon, ok := v.(render.Icon); ok {
					o["marker"] = map[string]any{"icon": m.icon(icon)}
					continue
				}
				o[k] = jsValue(v)
			}
			return &control{v: gs.Get("GeoSearchControl").New(o)}
		}
	}
	return nil
}

func (m *Map) NewInfoControl(className string) render.InfoControl {
	div := m.L.Get("DomUtil").Call("create", "div", "info "+className)
	div.Get("style").Set("display", "none")
	v := m.L.Call("control")
	onAdd := js.FuncOf(func(this js.Value, args []js.Value) any { return div })
	m.keep(onAdd)
	v.Set("onAdd", onAdd)
	return &infoControl{control: control{v: v}, div: div}
}

func (m *Map) NewLayerControl(bases, overlays []render.Named) render.Control {
	b := map[string]any{}
	for _, n := range bases {
		b[n.Name] = n.Layer.(*handle).v
	}
	o := map[string]any{}
	for _, n := range overlays {
		o[n.Name] = n.Layer.(*handle).v
	}
	return &control{v: m.L.Get("control").Call("layers", b, o)}
}

func (m *Map) AddLayer(h render.Handle) {
	hd := h.(*handle)
	m.mu.Lock()
	m.layers = append(m.layers, hd)
	m.mu.Unlock()
	m.m.Call("addLayer", hd.v)
}

func (m *Map) RemoveLayer(h render.Handle) {
	hd := h.(*handle)
	m.m.Call("removeLayer", hd.v)
	hd.release()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.layers {
		if l == hd {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			break
		}
	}
}

func (m *Map) AddControl(c render.Control) {
	if v, ok := controlValue(c); ok {
		m.m.Call("addControl", v)
	}
}

func (m *Map) RemoveControl(c render.Control) {
	if v, ok := controlValue(c); ok {
		m.m.Call("removeControl", v)
	}
}

func controlValue(c render.Control) (js.Value, bool) {
	switch ctl := c.(type) {
	case *control:
		if ctl != nil {
			return ctl.v, true
		}
	case *infoControl:
		if ctl != nil {
			return ctl.v, true
		}
	}
	return js.Undefined(), false
}

func (m *Map) OnClick(fn func(at layer.LatLng)) {
	f := js.FuncOf(func(this js.Value, args []js.Value) any {
		ll := args[0].Get("latlng")
		fn(layer.LatLng{ll.Get("lat").Float(), ll.Get("lng").Float()})
		return nil
	})
	m.keep(f)
	m.m.Call("on", "click", f)
}

func (m *Map) FitBounds(b orb.Bound) {
	m.m.Call("fitBounds", []any{
		[]any{b.Min.Lat(), b.Min.Lon()},
		[]any{b.Max.Lat(), b.Max.Lon()},
	})
}

func (m *Map) InvalidateSize() {
	m.m.Call("invalidateSize")
}

// Remove tears down the Leaflet map and frees every Go callback it held.
func (m *Map) Remove() {
	m.m.Call("remove")
	m.mu.Lock()
	owned, layers := m.owned, m.layers
	m.owned, m.layers = nil, nil
	m.mu.Unlock()
	for _, f := range owned {
		f.Release()
	}
	for _, l := range layers {
		l.release()
	}
}

func latLng(p layer.LatLng) []any {
	return []any{p.Lat(), p.Lng()}
}

func latLngs(ps []layer.LatLng) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = latLng(p)
	}
	return out
}

func pair(p [2]int) []any {
	return []any{p[0], p[1]}
}

func withRadius(opts map[string]any, radius float64) any {
	o := make(map[string]any, len(opts)+1)
	for k, v := range opts {
		o[k] = jsValue(v)
	}
	o["radius"] = radius
	return o
}

// jsValue converts option values into shapes js.ValueOf accepts.
func jsValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int, float64, js.Value, js.Func:
		return t
	case map[string]any:
		if t == nil {
			return nil
		}
		o := make(map[string]any, len(t))
		for k, x := range t {
			o[k] = jsValue(x)
		}
		return o
	case layer.Entry:
		return jsValue(map[string]any(t))
	case render.Entry:
		return jsValue(map[string]any(t))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = jsValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32:
		return rv.Float()
	case reflect.String:
		return rv.String()
	}
	return nil
}
