package layer

import (
	"fmt"
	"strings"
)

// Color names a marker icon. Icons are published as
// marker-icon-2x-{color}.png under the widget's asset path.
type Color string

const (
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorViolet Color = "violet"
	ColorGrey   Color = "grey"
	ColorBlack  Color = "black"
	ColorGold   Color = "gold"
)

// Colors lists every marker color in display order.
var Colors = []Color{
	ColorBlue, ColorRed, ColorGreen, ColorOrange, ColorYellow,
	ColorViolet, ColorGrey, ColorBlack, ColorGold,
}

var colorHex = map[Color]string{
	ColorBlue:   "#2A81CB",
	ColorRed:    "#CB2B3E",
	ColorGreen:  "#2AAD27",
	ColorOrange: "#CB8427",
	ColorYellow: "#CAC428",
	ColorViolet: "#9C2BCB",
	ColorGrey:   "#7B7B7B",
	ColorBlack:  "#3D3D3D",
	ColorGold:   "#FFD326",
}

// ParseColor accepts a color name in any case. Empty input yields "".
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	c := Color(s)
	if _, ok := colorHex[c]; !ok {
		return "", fmt.Errorf("unknown color %q", s)
	}
	return c, nil
}

// Label is the human-readable name, e.g. "Blue".
func (c Color) Label() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Hex returns the CSS color matching the icon, or "" for unknown colors.
func (c Color) Hex() string {
	return colorHex[c]
}

// Style is a typed helper for the path options shared by shapes.
// Zero fields are left out.
type Style struct {
	Color       string
	FillColor   string
	Weight      float64
	Opacity     float64
	FillOpacity float64
	DashArray   string
}

// Options converts the style into the option map sent to the client.
func (s Style) Options() map[string]any {
	m := map[string]any{}
	if s.Color != "" {
		m["color"] = s.Color
	}
	if s.FillColor != "" {
		m["fillColor"] = s.FillColor
	}
	if s.Weight != 0 {
		m["weight"] = s.Weight
	}
	if s.Opacity != 0 {
		m["opacity"] = s.Opacity
	}
	if s.FillOpacity != 0 {
		m["fillOpacity"] = s.FillOpacity
	}
	if s.DashArray != "" {
		m["dashArray"] = s.DashArray
	}
	return m
}
