package render

import (
	"encoding/json"
	"reflect"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
)

// Entry wraps one untrusted configuration entry. Values may come straight
// from the layer serializer (typed slices, layer.Entry) or from decoded JSON
// (float64, []any, map[string]any); accessors accept both.
type Entry layer.Entry

// String returns a string value, or "" if missing or not a string.
func (e Entry) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Float returns a numeric value and whether one was present.
func (e Entry) Float(key string) (float64, bool) {
	return number(e[key])
}

// Bool returns a bool value, or false.
func (e Entry) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// Map returns a nested object, or nil.
func (e Entry) Map(key string) map[string]any {
	return object(e[key])
}

// Entry returns a nested entry, or nil.
func (e Entry) Entry(key string) Entry {
	m := object(e[key])
	if m == nil {
		return nil
	}
	return Entry(m)
}

// Entries returns a nested list of objects, skipping non-object items.
func (e Entry) Entries(key string) []Entry {
	items := list(e[key])
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if m := object(it); m != nil {
			out = append(out, Entry(m))
		}
	}
	return out
}

// LatLng reads a [lat, lng] pair.
func (e Entry) LatLng(key string) (layer.LatLng, bool) {
	return latLng(e[key])
}

// LatLngs reads a list of [lat, lng] pairs. Any malformed pair fails the
// whole list.
func (e Entry) LatLngs(key string) ([]layer.LatLng, bool) {
	items := list(e[key])
	if items == nil {
		return nil, false
	}
	out := make([]layer.LatLng, 0, len(items))
	for _, it := range items {
		p, ok := latLng(it)
		if !ok {
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

// Size reads a [w, h] pixel pair.
func (e Entry) Size(key string) ([2]int, bool) {
	items := list(e[key])
	if len(items) != 2 {
		return [2]int{}, false
	}
	w, ok1 := number(items[0])
	h, ok2 := number(items[1])
	if !ok1 || !ok2 {
		return [2]int{}, false
	}
	return [2]int{int(w), int(h)}, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func object(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case layer.Entry:
		return m
	case Entry:
		return m
	}
	return nil
}

func list(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func latLng(v any) (layer.LatLng, bool) {
	items := list(v)
	if len(items) < 2 {
		return layer.LatLng{}, false
	}
	lat, ok1 := number(items[0])
	lng, ok2 := number(items[1])
	if !ok1 || !ok2 {
		return layer.LatLng{}, false
	}
	return layer.LatLng{lat, lng}, true
}
