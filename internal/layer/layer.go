// Package layer models the visual features drawn on a map widget and
// serializes them into the transport-safe configuration tree consumed by
// the render engine.
//
// A Layer is a shared decoration record (popup, tooltip, click action,
// hover handlers, overlay group) around exactly one Geometry variant.
package layer

import (
	"context"

	"github.com/paulmach/orb"
)

// Kind is the type tag sent to the client. It drives builder dispatch.
type Kind string

const (
	KindMarker       Kind = "marker"
	KindCircle       Kind = "circle"
	KindCircleMarker Kind = "circleMarker"
	KindRectangle    Kind = "rectangle"
	KindPolygon      Kind = "polygon"
	KindPolyline     Kind = "polyline"
	KindCluster      Kind = "cluster"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{
	KindMarker, KindCircle, KindCircleMarker, KindRectangle,
	KindPolygon, KindPolyline, KindCluster,
}

// LatLng is a [latitude, longitude] pair, in that order, as the client expects.
type LatLng [2]float64

// Lat returns the latitude.
func (p LatLng) Lat() float64 { return p[0] }

// Lng returns the longitude.
func (p LatLng) Lng() float64 { return p[1] }

// Point converts to an orb.Point, which is ordered [lng, lat].
func (p LatLng) Point() orb.Point { return orb.Point{p[1], p[0]} }

// ActionFunc is a server-side click callback. Only its presence reaches the
// client, as the clickAction flag.
type ActionFunc func(ctx context.Context) error

// Direction is a tooltip placement.
type Direction string

const (
	DirectionAuto   Direction = "auto"
	DirectionTop    Direction = "top"
	DirectionBottom Direction = "bottom"
	DirectionLeft   Direction = "left"
	DirectionRight  Direction = "right"
)

// Tooltip is the hover label bound to a layer.
type Tooltip struct {
	Content   string
	Permanent bool
	Direction Direction
	Options   map[string]any
}

// Field is one label/value row of a popup.
type Field struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Popup is the click bubble bound to a layer. Fields keep insertion order.
type Popup struct {
	Title   string
	Content string
	Fields  []Field
	Options map[string]any
}

// Layer is one visual feature of the map.
type Layer struct {
	ID          string
	Group       string
	Tooltip     *Tooltip
	Popup       *Popup
	Action      ActionFunc
	OnMouseOver string // named client handler
	OnMouseOut  string // named client handler
	Geometry    Geometry
}

// Option configures a Layer built with New.
type Option func(*Layer)

// New wraps a geometry in a Layer and applies opts in order.
func New(g Geometry, opts ...Option) Layer {
	l := Layer{Geometry: g}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// WithID sets an explicit id, bypassing auto-generation.
func WithID(id string) Option {
	return func(l *Layer) { l.ID = id }
}

// WithGroup puts the layer into a named, toggleable overlay group.
func WithGroup(group string) Option {
	return func(l *Layer) { l.Group = group }
}

// WithTooltip sets the tooltip. An empty direction means auto.
func WithTooltip(t Tooltip) Option {
	return func(l *Layer) {
		if t.Direction == "" {
			t.Direction = DirectionAuto
		}
		l.Tooltip = &t
	}
}

// WithPopup sets the popup, replacing any previous one.
func WithPopup(p Popup) Option {
	return func(l *Layer) { l.Popup = &p }
}

// WithTitle sets both the tooltip content and the popup title.
func WithTitle(title string) Option {
	return func(l *Layer) {
		if title == "" {
			return
		}
		if l.Tooltip == nil {
			l.Tooltip = &Tooltip{Direction: DirectionAuto}
		}
		l.Tooltip.Content = title
		if l.Popup == nil {
			l.Popup = &Popup{}
		}
		l.Popup.Title = title
	}
}

// WithPopupFields appends rows to the popup, creating it if needed.
func WithPopupFields(fields ...Field) Option {
	return func(l *Layer) {
		if l.Popup == nil {
			l.Popup = &Popup{}
		}
		l.Popup.Fields = append(l.Popup.Fields, fields...)
	}
}

// WithAction binds a server-side click callback.
func WithAction(fn ActionFunc) Option {
	return func(l *Layer) { l.Action = fn }
}

// WithHover binds named client-side hover handlers. Empty names are skipped.
func WithHover(over, out string) Option {
	return func(l *Layer) {
		l.OnMouseOver = over
		l.OnMouseOut = out
	}
}

// Kind returns the variant tag, or "" for a layer without geometry.
func (l Layer) Kind() Kind {
	if l.Geometry == nil {
		return ""
	}
	return l.Geometry.Kind()
}

// Valid reports whether the geometry is well-formed.
func (l Layer) Valid() bool {
	return l.Geometry != nil && l.Geometry.valid()
}

// Bound returns the geographic extent of the layer.
func (l Layer) Bound() orb.Bound {
	if l.Geometry == nil {
		return orb.Bound{}
	}
	return l.Geometry.bound()
}

type idKey struct{}

// Exec runs the click action with the layer id on ctx. Layers without one
// are a no-op.
func (l Layer) Exec(ctx context.Context) error {
	if l.Action == nil {
		return nil
	}
	return l.Action(context.WithValue(ctx, idKey{}, l.ID))
}

// IDFrom returns the id of the layer whose action is running, or "".
func IDFrom(ctx context.Context) string {
	id, _ := ctx.Value(idKey{}).(string)
	return id
}

func (l Layer) String() string {
	return string(l.Kind()) + " [" + l.ID + "]"
}
