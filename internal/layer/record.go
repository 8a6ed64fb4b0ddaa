package layer

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
)

// Record is a stored row with its column order preserved.
type Record struct {
	Columns []string
	Values  map[string]any
}

// Get returns a column value, or nil.
func (r Record) Get(col string) any {
	if r.Values == nil {
		return nil
	}
	return r.Values[col]
}

// Key returns the primary key ("id" column) as a string.
func (r Record) Key() string {
	return stringify(r.Get("id"))
}

// RecordMapperInput carries everything a RecordMapper may use.
type RecordMapperInput struct {
	Record Record
	Layer  Layer
}

// RecordMapper adjusts the marker built from a record. It must not keep
// references to its input.
type RecordMapper func(in RecordMapperInput) Layer

// RecordMapping describes how a record becomes a marker.
type RecordMapping struct {
	LatColumn         string // default "latitude"
	LngColumn         string // default "longitude"
	JSONColumn        string // when set, coordinates are read from this column
	TitleColumn       string // default "title"
	DescriptionColumn string // default "description"
	ColorColumn       string // per-record color; falls back to Color
	PopupFields       []string
	Color             Color
	IconURL           string
	Group             string
	Mapper            RecordMapper
}

func (m RecordMapping) withDefaults() RecordMapping {
	if m.LatColumn == "" {
		m.LatColumn = "latitude"
	}
	if m.LngColumn == "" {
		m.LngColumn = "longitude"
	}
	if m.TitleColumn == "" {
		m.TitleColumn = "title"
	}
	if m.DescriptionColumn == "" {
		m.DescriptionColumn = "description"
	}
	return m
}

// FromRecord builds a marker layer from a record. Missing coordinates read
// as 0, which places the marker at (0, 0); only out-of-range coordinates
// make the layer invalid.
func FromRecord(r Record, m RecordMapping) Layer {
	m = m.withDefaults()

	var lat, lng float64
	if m.JSONColumn != "" {
		coords := decodeCoords(r.Get(m.JSONColumn))
		lat = toFloat(coords[m.LatColumn])
		lng = toFloat(coords[m.LngColumn])
	} else {
		lat = toFloat(r.Get(m.LatColumn))
		lng = toFloat(r.Get(m.LngColumn))
	}

	color := m.Color
	if m.ColorColumn != "" {
		if c, err := ParseColor(stringify(r.Get(m.ColorColumn))); err == nil && c != "" {
			color = c
		}
	}

	l := New(Marker{Lat: lat, Lng: lng, Color: color, IconURL: m.IconURL},
		WithID(r.Key()),
		WithGroup(m.Group),
		WithTitle(stringify(r.Get(m.TitleColumn))),
	)

	if desc := stringify(r.Get(m.DescriptionColumn)); desc != "" {
		if l.Popup == nil {
			l.Popup = &Popup{}
		}
		l.Popup.Content = "<p>" + html.EscapeString(desc) + "</p>"
	}

	if fields := popupFields(r, m); len(fields) > 0 {
		WithPopupFields(fields...)(&l)
	}

	if m.Mapper != nil {
		l = m.Mapper(RecordMapperInput{Record: r, Layer: l})
	}
	return l
}

func popupFields(r Record, m RecordMapping) []Field {
	var cols []string
	if m.PopupFields != nil {
		cols = m.PopupFields
	} else {
		skip := map[string]bool{
			"id": true, "created_at": true, "updated_at": true,
			m.LatColumn: true, m.LngColumn: true,
			m.TitleColumn: true, m.DescriptionColumn: true,
		}
		if m.JSONColumn != "" {
			skip[m.JSONColumn] = true
		}
		if m.ColorColumn != "" {
			skip[m.ColorColumn] = true
		}
		for _, c := range r.Columns {
			if !skip[c] {
				cols = append(cols, c)
			}
		}
	}

	var fields []Field
	for _, c := range cols {
		v, ok := r.Values[c]
		if !ok || v == nil {
			continue
		}
		fields = append(fields, Field{Label: Humanize(c), Value: stringify(v)})
	}
	return fields
}

// Humanize turns a column name into a label: "first_name" → "First Name".
func Humanize(col string) string {
	words := strings.Fields(strings.ReplaceAll(col, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func decodeCoords(v any) map[string]any {
	switch c := v.(type) {
	case map[string]any:
		return c
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(c), &out); err == nil {
			return out
		}
	case []byte:
		var out map[string]any
		if err := json.Unmarshal(c, &out); err == nil {
			return out
		}
	}
	return map[string]any{}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	}
	return 0
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.Format(time.DateTime)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
