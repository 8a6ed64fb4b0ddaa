package render

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

// Handle is a drawable object created by a Surface.
type Handle interface {
	BindPopup(html string, options map[string]any)
	BindTooltip(content string, options map[string]any)
	On(event string, fn func())
}

// Styler is implemented by handles whose path style can change after
// creation. Markers usually are not stylable.
type Styler interface {
	SetStyle(style map[string]any)
}

// Group is a container handle, used for overlay groups and clusters.
type Group interface {
	Handle
	AddLayer(h Handle)
}

// Control is an opaque map control owned by a Surface.
type Control any

// InfoControl is the hover overlay of the choropleth.
type InfoControl interface {
	Update(html string)
	Hide()
}

// ControlKind selects a chrome control.
type ControlKind string

const (
	ControlAttribution ControlKind = "attribution"
	ControlScale       ControlKind = "scale"
	ControlZoom        ControlKind = "zoom"
	ControlFullscreen  ControlKind = "fullscreen"
	ControlSearch      ControlKind = "search"
)

// Named pairs a handle with its label in the layer-selection control.
type Named struct {
	Name  string
	Layer Handle
}

// TileOptions configures a base tile layer.
type TileOptions struct {
	MinZoom     int
	MaxZoom     int
	Attribution string
}

// Icon describes a marker image.
type Icon struct {
	IconURL     string
	ShadowURL   string
	IconSize    [2]int
	IconAnchor  [2]int
	PopupAnchor [2]int
	ShadowSize  [2]int
}

// MarkerOptions configures a marker.
type MarkerOptions struct {
	Icon      Icon
	Title     string
	Draggable bool
}

// FeatureStyle returns the path style of one GeoJSON feature.
type FeatureStyle func(f *geojson.Feature) map[string]any

// EachFeature is called once per feature with its drawn handle.
type EachFeature func(f *geojson.Feature, h Handle)

// Surface is the mapping engine a widget draws on. Implementations run on
// a single event loop; the Engine serializes its own calls.
type Surface interface {
	SetView(center layer.LatLng, zoom int)

	NewTileLayer(url string, opts TileOptions) Handle
	NewMarker(at layer.LatLng, opts MarkerOptions) Handle
	NewCircle(center layer.LatLng, radius float64, opts map[string]any) Handle
	NewCircleMarker(center layer.LatLng, radius float64, opts map[string]any) Handle
	NewRectangle(bounds []layer.LatLng, opts map[string]any) Handle
	NewPolygon(points []layer.LatLng, opts map[string]any) Handle
	NewPolyline(points []layer.LatLng, opts map[string]any) Handle
	NewCluster(opts map[string]any) Group
	NewGroup() Group
	NewGeoJSON(fc *geojson.FeatureCollection, style FeatureStyle, each EachFeature) Handle

	NewControl(kind ControlKind, opts map[string]any) Control
	NewInfoControl(className string) InfoControl
	NewLayerControl(bases, overlays []Named) Control

	AddLayer(h Handle)
	RemoveLayer(h Handle)
	AddControl(c Control)
	RemoveControl(c Control)

	OnClick(fn func(at layer.LatLng))
	FitBounds(b orb.Bound)
	InvalidateSize()
	Remove()
}

// Target creates map surfaces bound to view containers.
type Target interface {
	CreateMap(mapID string, opts widget.MapConfig) (Surface, error)
}

// Bridge carries user interactions to the server. Calls are fire-and-forget.
type Bridge interface {
	OnMapClick(lat, lng float64)
	OnLayerClick(id string)
}

// RefreshEvent is the browser event that carries a new configuration to an
// instance; its detail is the configuration.
func RefreshEvent(instance string) string {
	return "update-leaflet-" + instance
}

// Fetcher loads the GeoJSON region source.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
