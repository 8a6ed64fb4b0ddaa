package render

import (
	"github.com/joeblew999/plat-mapwidget/internal/layer"
)

// DefaultAssetsPath is where marker icon images are published. The
// colored icon set is deployed there alongside the wasm binary.
const DefaultAssetsPath = "/static/images"

// buildContext is what a builder may touch while constructing one entry.
type buildContext struct {
	surface  Surface
	assets   string
	decorate func(h Handle, e Entry)
}

// builderFunc constructs one layer from an entry. It reports false when the
// entry lacks usable geometry; the payload is never trusted blindly.
type builderFunc func(bc *buildContext, e Entry) (Handle, bool)

var builders = map[layer.Kind]builderFunc{
	layer.KindMarker:       buildMarker,
	layer.KindCluster:      buildCluster,
	layer.KindCircle:       buildCircle,
	layer.KindCircleMarker: buildCircleMarker,
	layer.KindRectangle:    buildRectangle,
	layer.KindPolygon:      buildPolygon,
	layer.KindPolyline:     buildPolyline,
}

func buildMarker(bc *buildContext, e Entry) (Handle, bool) {
	lat, ok1 := e.Float("lat")
	lng, ok2 := e.Float("lng")
	if !ok1 || !ok2 || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, false
	}
	return bc.surface.NewMarker(layer.LatLng{lat, lng}, MarkerOptions{
		Icon:      markerIcon(bc.assets, e),
		Title:     markerTitle(e),
		Draggable: e.Bool("draggable"),
	}), true
}

func markerTitle(e Entry) string {
	if t := e.String("title"); t != "" {
		return t
	}
	if t := e.Entry("popup").String("title"); t != "" {
		return t
	}
	return e.Entry("tooltip").String("content")
}

func markerIcon(assets string, e Entry) Icon {
	icon := Icon{
		IconSize:    layer.DefaultIconSize,
		IconAnchor:  [2]int{12, 41},
		PopupAnchor: [2]int{1, -34},
		ShadowSize:  [2]int{41, 41},
	}
	if size, ok := e.Size("iconSize"); ok {
		icon.IconSize = size
	}
	if url := e.String("icon"); url != "" {
		icon.IconURL = url
		return icon
	}
	color := e.String("color")
	if color == "" {
		color = string(layer.ColorBlue)
	}
	icon.IconURL = assets + "/marker-icon-2x-" + color + ".png"
	icon.ShadowURL = assets + "/marker-shadow.png"
	return icon
}

// buildCluster builds and decorates every child marker individually, then
// returns the container as a single layer.
func buildCluster(bc *buildContext, e Entry) (Handle, bool) {
	children := e.Entries("markers")
	if len(children) == 0 {
		return nil, false
	}
	cluster := bc.surface.NewCluster(e.Map("config"))
	n := 0
	for _, child := range children {
		m, ok := buildMarker(bc, child)
		if !ok {
			continue
		}
		bc.decorate(m, child)
		cluster.AddLayer(m)
		n++
	}
	if n == 0 {
		return nil, false
	}
	return cluster, true
}

func buildCircle(bc *buildContext, e Entry) (Handle, bool) {
	center, ok := e.LatLng("center")
	radius, ok2 := e.Float("radius")
	if !ok || !ok2 || radius <= 0 {
		return nil, false
	}
	return bc.surface.NewCircle(center, radius, e.Map("options")), true
}

func buildCircleMarker(bc *buildContext, e Entry) (Handle, bool) {
	center, ok := e.LatLng("center")
	radius, ok2 := e.Float("radius")
	if !ok || !ok2 || radius <= 0 {
		return nil, false
	}
	return bc.surface.NewCircleMarker(center, radius, e.Map("options")), true
}

func buildRectangle(bc *buildContext, e Entry) (Handle, bool) {
	bounds, ok := e.LatLngs("bounds")
	if !ok || len(bounds) != 2 {
		return nil, false
	}
	return bc.surface.NewRectangle(bounds, e.Map("options")), true
}

func buildPolygon(bc *buildContext, e Entry) (Handle, bool) {
	points, ok := e.LatLngs("points")
	if !ok || len(points) < 3 {
		return nil, false
	}
	return bc.surface.NewPolygon(points, e.Map("options")), true
}

func buildPolyline(bc *buildContext, e Entry) (Handle, bool) {
	points, ok := e.LatLngs("points")
	if !ok || len(points) < 2 {
		return nil, false
	}
	return bc.surface.NewPolyline(points, e.Map("options")), true
}
