package layer

import (
	"github.com/paulmach/orb"
)

// Geometry is the closed set of layer variants. The unexported methods keep
// implementations inside this package.
type Geometry interface {
	Kind() Kind
	valid() bool
	bound() orb.Bound
	fields() Entry
}

// DefaultIconSize is the Leaflet default marker icon size in pixels.
var DefaultIconSize = [2]int{25, 41}

// Marker is a pin at a coordinate.
type Marker struct {
	Lat       float64
	Lng       float64
	Color     Color
	IconURL   string
	IconSize  [2]int
	Draggable bool
}

func (Marker) Kind() Kind { return KindMarker }

func (m Marker) valid() bool {
	return m.Lat >= -90 && m.Lat <= 90 && m.Lng >= -180 && m.Lng <= 180
}

func (m Marker) bound() orb.Bound {
	return orb.Point{m.Lng, m.Lat}.Bound()
}

func (m Marker) fields() Entry {
	size := m.IconSize
	if size == [2]int{} {
		size = DefaultIconSize
	}
	color := m.Color
	if color == "" {
		color = ColorBlue
	}
	e := Entry{
		"lat":       m.Lat,
		"lng":       m.Lng,
		"color":     string(color),
		"iconSize":  []int{size[0], size[1]},
		"draggable": m.Draggable,
	}
	if m.IconURL != "" {
		e["icon"] = m.IconURL
	}
	return e
}

// Circle is a circle with a radius in meters.
type Circle struct {
	Center  LatLng
	Radius  float64
	Options map[string]any
}

func (Circle) Kind() Kind { return KindCircle }

func (c Circle) valid() bool { return c.Radius > 0 }

func (c Circle) bound() orb.Bound { return c.Center.Point().Bound() }

func (c Circle) fields() Entry {
	return Entry{
		"center":  []float64{c.Center[0], c.Center[1]},
		"radius":  c.Radius,
		"options": optionsOrNil(c.Options),
	}
}

// DefaultCircleMarkerRadius is the pixel radius used when none is set.
const DefaultCircleMarkerRadius = 10

// CircleMarker is a circle with a fixed radius in screen pixels.
type CircleMarker struct {
	Center  LatLng
	Radius  int
	Options map[string]any
}

func (CircleMarker) Kind() Kind { return KindCircleMarker }

func (c CircleMarker) valid() bool { return c.radius() > 0 }

func (c CircleMarker) radius() int {
	if c.Radius == 0 {
		return DefaultCircleMarkerRadius
	}
	return c.Radius
}

func (c CircleMarker) bound() orb.Bound { return c.Center.Point().Bound() }

func (c CircleMarker) fields() Entry {
	return Entry{
		"center":  []float64{c.Center[0], c.Center[1]},
		"radius":  c.radius(),
		"options": optionsOrNil(c.Options),
	}
}

// Rectangle is an axis-aligned box between two opposite corners.
type Rectangle struct {
	Bounds  []LatLng
	Options map[string]any
}

// NewRectangle builds a rectangle from loose coordinates.
func NewRectangle(lat1, lng1, lat2, lng2 float64) Rectangle {
	return Rectangle{Bounds: []LatLng{{lat1, lng1}, {lat2, lng2}}}
}

func (Rectangle) Kind() Kind { return KindRectangle }

func (r Rectangle) valid() bool { return len(r.Bounds) == 2 }

func (r Rectangle) bound() orb.Bound {
	return pointsBound(r.Bounds)
}

func (r Rectangle) fields() Entry {
	return Entry{
		"bounds":  latLngs(r.Bounds),
		"options": optionsOrNil(r.Options),
	}
}

// Polygon is a closed area. It needs at least three points.
type Polygon struct {
	Points  []LatLng
	Options map[string]any
}

func (Polygon) Kind() Kind { return KindPolygon }

func (p Polygon) valid() bool { return len(p.Points) >= 3 }

func (p Polygon) bound() orb.Bound { return pointsBound(p.Points) }

func (p Polygon) fields() Entry {
	return Entry{
		"points":  latLngs(p.Points),
		"options": optionsOrNil(p.Options),
	}
}

// Polyline is an open path. It needs at least two points and is never filled.
type Polyline struct {
	Points  []LatLng
	Options map[string]any
}

func (Polyline) Kind() Kind { return KindPolyline }

func (p Polyline) valid() bool { return len(p.Points) >= 2 }

func (p Polyline) bound() orb.Bound { return pointsBound(p.Points) }

func (p Polyline) fields() Entry {
	opts := map[string]any{"fill": false}
	for k, v := range p.Options {
		opts[k] = v
	}
	return Entry{
		"points":  latLngs(p.Points),
		"options": opts,
	}
}

// Cluster groups marker layers into one clustering container. Each child
// keeps its own decoration.
type Cluster struct {
	Markers []Layer
	Options map[string]any
}

func (Cluster) Kind() Kind { return KindCluster }

func (c Cluster) valid() bool {
	for _, m := range c.Markers {
		if m.Kind() == KindMarker && m.Valid() {
			return true
		}
	}
	return false
}

func (c Cluster) bound() orb.Bound {
	var b orb.Bound
	first := true
	for _, m := range c.Markers {
		if !m.Valid() {
			continue
		}
		if first {
			b = m.Bound()
			first = false
			continue
		}
		b = b.Union(m.Bound())
	}
	return b
}

// fields leaves "markers" to the serializer, which owns id assignment.
func (c Cluster) fields() Entry {
	return Entry{"config": optionsOrNil(c.Options)}
}

// Malformed stands in for a layer whose source coordinates could not be
// read. It keeps the declared kind for id assignment and never validates.
type Malformed struct {
	Of Kind
}

func (m Malformed) Kind() Kind { return m.Of }

func (Malformed) valid() bool { return false }

func (Malformed) bound() orb.Bound { return orb.Bound{} }

func (Malformed) fields() Entry { return nil }

func latLngs(pts []LatLng) [][]float64 {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}

func pointsBound(pts []LatLng) orb.Bound {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = p.Point()
	}
	return mp.Bound()
}

func optionsOrNil(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}
