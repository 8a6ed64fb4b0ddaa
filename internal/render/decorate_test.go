package render

import (
	"testing"
)

func TestPopupHTML(t *testing.T) {
	p := Entry{
		"title":   `<script>alert(1)</script>`,
		"content": "<p>trusted</p>",
		"fields": []map[string]any{
			{"label": "Store Type", "value": "Outlet & Co"},
			{"label": "Floors", "value": 3},
		},
	}
	got := PopupHTML("w1", p)
	want := `<div class="custom-popup-w1"><h4>&lt;script&gt;alert(1)&lt;/script&gt;</h4><p>trusted</p>` +
		`<p><span class="field-label">Store Type:</span> Outlet &amp; Co</p>` +
		`<p><span class="field-label">Floors:</span> 3</p></div>`
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestPopupHTMLFieldObject(t *testing.T) {
	p := Entry{"fields": map[string]any{"b": true, "a": 1.5}}
	got := PopupHTML("x", p)
	want := `<div class="custom-popup-x"><p><span class="field-label">a:</span> 1.5</p>` +
		`<p><span class="field-label">b:</span> true</p></div>`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHandlersLookup(t *testing.T) {
	var nilRegistry *Handlers
	if _, ok := nilRegistry.Lookup("highlight"); ok {
		t.Fatal("nil registry resolved a handler")
	}

	h := NewHandlers()
	for _, name := range []string{"highlight", "reset"} {
		if _, ok := h.Lookup(name); !ok {
			t.Fatalf("built-in %q missing", name)
		}
	}
	called := ""
	h.Register("pulse", func(hc HoverContext) { called = hc.LayerID })
	fn, ok := h.Lookup("pulse")
	if !ok {
		t.Fatal("registered handler missing")
	}
	fn(HoverContext{LayerID: "marker-1"})
	if called != "marker-1" {
		t.Fatalf("called = %q", called)
	}
}

func TestEntryAccessors(t *testing.T) {
	e := Entry{
		"lat":      "not a number",
		"radius":   12,
		"center":   [2]float64{1, 2},
		"bounds":   []any{[]any{0.0, 0.0}, []any{1.0, "x"}},
		"iconSize": []int{30, 48},
	}
	if _, ok := e.Float("lat"); ok {
		t.Fatal("string parsed as a number")
	}
	if r, ok := e.Float("radius"); !ok || r != 12 {
		t.Fatalf("radius = %v %v", r, ok)
	}
	if c, ok := e.LatLng("center"); !ok || c.Lat() != 1 || c.Lng() != 2 {
		t.Fatalf("center = %v %v", c, ok)
	}
	if _, ok := e.LatLngs("bounds"); ok {
		t.Fatal("malformed pair accepted")
	}
	if s, ok := e.Size("iconSize"); !ok || s != [2]int{30, 48} {
		t.Fatalf("size = %v %v", s, ok)
	}
	if e.Entry("missing") != nil || e.Entry("missing").String("title") != "" {
		t.Fatal("missing entry not empty")
	}
}
