package widget

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
)

// Source supplies the data half of a widget payload.
type Source interface {
	Layers(ctx context.Context) ([]layer.Layer, error)
	GeoJSONData(ctx context.Context) (map[string]float64, error)
}

// RecordStore is the persistence a definition-backed widget reads from.
type RecordStore interface {
	List(ctx context.Context, table string) ([]layer.Record, error)
	Density(ctx context.Context, query string) (map[string]float64, error)
}

// DefinitionSource produces layers from a YAML definition: stored marker
// records first, then the static shapes.
type DefinitionSource struct {
	Def     *Definition
	Store   RecordStore
	Actions *Actions
}

// Layers returns the widget's current layer list. The result is built anew
// on every call.
func (s DefinitionSource) Layers(ctx context.Context) ([]layer.Layer, error) {
	var layers []layer.Layer

	if m := s.Def.Markers; m != nil && s.Store != nil {
		records, err := s.Store.List(ctx, m.Table)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", m.Table, err)
		}
		mapping := m.Mapping()
		markers := make([]layer.Layer, 0, len(records))
		for _, r := range records {
			l := layer.FromRecord(r, mapping)
			if key := r.Key(); key != "" {
				l.ID = m.Table + "-" + key
			}
			if m.Action != nil {
				fn, err := s.Actions.Bind(s.Def.Name, m.Action)
				if err != nil {
					return nil, err
				}
				l.Action = fn
			}
			markers = append(markers, l)
		}
		if m.Cluster {
			if len(markers) > 0 {
				layers = append(layers, layer.New(layer.Cluster{Markers: markers}, layer.WithID(m.Table+"-cluster")))
			}
		} else {
			layers = append(layers, markers...)
		}
	}

	for i, sd := range s.Def.Shapes {
		l, err := s.shape(sd)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", i, err)
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// GeoJSONData returns the static density map merged with the query result.
func (s DefinitionSource) GeoJSONData(ctx context.Context) (map[string]float64, error) {
	g := s.Def.GeoJSON
	if g == nil {
		return map[string]float64{}, nil
	}
	out := maps.Clone(g.Density)
	if out == nil {
		out = map[string]float64{}
	}
	if g.DensityQuery != "" && s.Store != nil {
		queried, err := s.Store.Density(ctx, g.DensityQuery)
		if err != nil {
			return nil, fmt.Errorf("density query: %w", err)
		}
		maps.Copy(out, queried)
	}
	return out, nil
}

func (s DefinitionSource) shape(sd ShapeDef) (layer.Layer, error) {
	var g layer.Geometry
	kind := layer.Kind(sd.Type)
	switch kind {
	case layer.KindMarker:
		c, _ := layer.ParseColor(sd.Color)
		g = layer.Marker{Lat: sd.Lat, Lng: sd.Lng, Color: c, IconURL: sd.Icon, Draggable: sd.Draggable}
	case layer.KindCircle:
		center, ok := latLng(sd.Center)
		if !ok || sd.Radius == nil {
			g = layer.Malformed{Of: kind}
			break
		}
		g = layer.Circle{Center: center, Radius: *sd.Radius, Options: sd.Options}
	case layer.KindCircleMarker:
		center, ok := latLng(sd.Center)
		radius, rok := pixelRadius(sd.Radius)
		if !ok || !rok {
			g = layer.Malformed{Of: kind}
			break
		}
		g = layer.CircleMarker{Center: center, Radius: radius, Options: sd.Options}
	case layer.KindRectangle:
		bounds, ok := latLngs(sd.Bounds)
		if !ok {
			g = layer.Malformed{Of: kind}
			break
		}
		g = layer.Rectangle{Bounds: bounds, Options: sd.Options}
	case layer.KindPolygon:
		points, ok := latLngs(sd.Points)
		if !ok {
			g = layer.Malformed{Of: kind}
			break
		}
		g = layer.Polygon{Points: points, Options: sd.Options}
	case layer.KindPolyline:
		points, ok := latLngs(sd.Points)
		if !ok {
			g = layer.Malformed{Of: kind}
			break
		}
		g = layer.Polyline{Points: points, Options: sd.Options}
	case layer.KindCluster:
		children := make([]layer.Layer, 0, len(sd.Markers))
		for _, m := range sd.Markers {
			m.Type = string(layer.KindMarker)
			child, err := s.shape(m)
			if err != nil {
				return layer.Layer{}, err
			}
			children = append(children, child)
		}
		g = layer.Cluster{Markers: children, Options: sd.Options}
	default:
		return layer.Layer{}, fmt.Errorf("unknown type %q", sd.Type)
	}

	opts := []layer.Option{
		layer.WithID(sd.ID),
		layer.WithGroup(sd.Group),
		layer.WithTitle(sd.Title),
		layer.WithHover(sd.OnMouseOver, sd.OnMouseOut),
	}
	if t := sd.Tooltip; t != nil {
		opts = append(opts, layer.WithTooltip(layer.Tooltip{
			Content:   t.Content,
			Permanent: t.Permanent,
			Direction: layer.Direction(t.Direction),
		}))
	}
	if p := sd.Popup; p != nil {
		title := p.Title
		if title == "" {
			title = sd.Title
		}
		opts = append(opts, layer.WithPopup(layer.Popup{Title: title, Content: p.Content, Fields: p.Fields}))
	}
	if sd.Action != nil {
		fn, err := s.Actions.Bind(s.Def.Name, sd.Action)
		if err != nil {
			return layer.Layer{}, err
		}
		opts = append(opts, layer.WithAction(fn))
	}
	return layer.New(g, opts...), nil
}

func latLng(v []float64) (layer.LatLng, bool) {
	if len(v) != 2 {
		return layer.LatLng{}, false
	}
	return layer.LatLng{v[0], v[1]}, true
}

// latLngs fails on the first point that is not a [lat, lng] pair.
func latLngs(vs [][]float64) ([]layer.LatLng, bool) {
	out := make([]layer.LatLng, 0, len(vs))
	for _, v := range vs {
		p, ok := latLng(v)
		if !ok {
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

// pixelRadius reads a circle marker radius: unset means the default, a set
// value must be a positive whole number of pixels.
func pixelRadius(r *float64) (int, bool) {
	if r == nil {
		return 0, true
	}
	if *r < 1 || *r != math.Trunc(*r) {
		return 0, false
	}
	return int(*r), true
}
