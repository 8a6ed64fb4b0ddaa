package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Bucket maps a density to a palette index on a fixed linear scale:
// ceil(value/max * n) - 1, clamped to [0, n-1]. Skewed data piles up in the
// extreme buckets; the scale is not quantile based.
func Bucket(value, max float64, n int) int {
	if n <= 0 || max <= 0 || math.IsNaN(value) {
		return 0
	}
	idx := int(math.Ceil(value/max*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// ChoroplethStyle returns the feature style of the density overlay.
func ChoroplethStyle(colors []string, density map[string]float64) FeatureStyle {
	max := 0.0
	for _, v := range density {
		if v > max {
			max = v
		}
	}
	return func(f *geojson.Feature) map[string]any {
		fill := ""
		if len(colors) > 0 {
			v, _ := number(f.Properties["density"])
			fill = colors[Bucket(v, max, len(colors))]
		}
		return map[string]any{
			"fillColor":   fill,
			"weight":      2,
			"opacity":     1,
			"color":       "white",
			"dashArray":   "3",
			"fillOpacity": 0.8,
		}
	}
}

// InfoHTML fills the info template for one region.
func InfoHTML(template, name string, density float64) string {
	return strings.NewReplacer(
		"{state}", html.EscapeString(name),
		"{density}", formatNumber(density),
	).Replace(template)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var errNoRegions = errors.New("region source holds no usable regions")

// ParseRegions joins a region source with density values. The source is
// either a GeoJSON FeatureCollection (regions keyed by feature id, or by the
// "id" or "key" property) or an object of {key: {name, coordinates}} with
// polygon coordinates. Only keys present on both sides become features,
// in key order, each carrying "name" and "density" properties.
func ParseRegions(data []byte, density map[string]float64) (*geojson.FeatureCollection, error) {
	var probe struct {
		Type any `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}

	var regions map[string]region
	var err error
	if probe.Type == "FeatureCollection" {
		regions, err = featureRegions(data)
	} else {
		regions, err = keyedRegions(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}

	keys := make([]string, 0, len(density))
	for k := range density {
		if _, ok := regions[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	fc := geojson.NewFeatureCollection()
	for _, k := range keys {
		r := regions[k]
		f := geojson.NewFeature(r.geometry)
		f.ID = k
		name := r.name
		if name == "" {
			name = k
		}
		f.Properties["name"] = name
		f.Properties["density"] = density[k]
		fc.Append(f)
	}
	return fc, nil
}

type region struct {
	name     string
	geometry orb.Geometry
}

func featureRegions(data []byte) (map[string]region, error) {
	src, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]region, len(src.Features))
	for _, f := range src.Features {
		if f.Geometry == nil {
			continue
		}
		key := featureKey(f)
		if key == "" {
			continue
		}
		name, _ := f.Properties["name"].(string)
		out[key] = region{name: name, geometry: f.Geometry}
	}
	return out, nil
}

func featureKey(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return formatNumber(id)
	}
	for _, p := range []string{"id", "key"} {
		switch v := f.Properties[p].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return formatNumber(v)
		}
	}
	return ""
}

func keyedRegions(data []byte) (map[string]region, error) {
	var raw map[string]struct {
		Name        string          `json:"name"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]region, len(raw))
	for k, r := range raw {
		g, ok := polygonal(r.Coordinates)
		if !ok {
			continue
		}
		out[k] = region{name: r.Name, geometry: g}
	}
	if len(raw) > 0 && len(out) == 0 {
		return nil, errNoRegions
	}
	return out, nil
}

// polygonal decodes [lng, lat] rings as a Polygon, or a MultiPolygon when
// nested one level deeper.
func polygonal(raw json.RawMessage) (orb.Geometry, bool) {
	var poly [][][]float64
	if err := json.Unmarshal(raw, &poly); err == nil && len(poly) > 0 {
		p, ok := toPolygon(poly)
		return p, ok
	}
	var multi [][][][]float64
	if err := json.Unmarshal(raw, &multi); err != nil || len(multi) == 0 {
		return nil, false
	}
	mp := make(orb.MultiPolygon, 0, len(multi))
	for _, poly := range multi {
		p, ok := toPolygon(poly)
		if !ok {
			return nil, false
		}
		mp = append(mp, p)
	}
	return mp, true
}

func toPolygon(rings [][][]float64) (orb.Polygon, bool) {
	p := make(orb.Polygon, 0, len(rings))
	for _, ring := range rings {
		r := make(orb.Ring, 0, len(ring))
		for _, pt := range ring {
			if len(pt) < 2 {
				return nil, false
			}
			r = append(r, orb.Point{pt[0], pt[1]})
		}
		p = append(p, r)
	}
	return p, len(p) > 0
}
