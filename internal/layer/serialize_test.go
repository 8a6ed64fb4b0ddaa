package layer

import (
	"context"
	"encoding/json"
	"testing"
)

func TestSerializeAssignsPerTypeIDs(t *testing.T) {
	layers := []Layer{
		New(Marker{Lat: 1, Lng: 1}),
		New(Polygon{Points: []LatLng{{0, 0}, {0, 1}, {1, 1}}}),
		New(Marker{Lat: 2, Lng: 2}),
		New(Marker{Lat: 3, Lng: 3}, WithID("custom")),
		New(Marker{Lat: 4, Lng: 4}),
	}

	entries := Serialize(layers, nil)
	want := []string{"marker-1", "polygon-1", "marker-2", "custom", "marker-3"}
	if len(entries) != len(want) {
		t.Fatalf("entries=%d want %d", len(entries), len(want))
	}
	seen := map[string]bool{}
	for i, e := range entries {
		id, _ := e["id"].(string)
		if id != want[i] {
			t.Fatalf("entry %d id=%q want %q", i, id, want[i])
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestSerializeCountersResetPerCall(t *testing.T) {
	layers := []Layer{New(Marker{Lat: 1, Lng: 1})}
	a := Serialize(layers, nil)
	b := Serialize(layers, nil)
	if a[0]["id"] != "marker-1" || b[0]["id"] != "marker-1" {
		t.Fatalf("ids=%v,%v want marker-1 twice", a[0]["id"], b[0]["id"])
	}
	if layers[0].ID != "" {
		t.Fatalf("input mutated: id=%q", layers[0].ID)
	}
}

func TestSerializeDropsInvalidMarkers(t *testing.T) {
	cases := []struct {
		name     string
		lat, lng float64
		keep     bool
	}{
		{"latitude out of range", 91, 0, false},
		{"longitude out of range", 45, 200, false},
		{"brazil", -14.2, -51.9, true},
		{"south pole", -90, 180, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var dropped []Kind
			got := Serialize([]Layer{New(Marker{Lat: tc.lat, Lng: tc.lng})}, func(k Kind) {
				dropped = append(dropped, k)
			})
			if tc.keep && len(got) != 1 {
				t.Fatalf("expected marker kept, got %d entries", len(got))
			}
			if !tc.keep {
				if len(got) != 0 {
					t.Fatalf("expected marker dropped, got %v", got)
				}
				if len(dropped) != 1 || dropped[0] != KindMarker {
					t.Fatalf("dropped=%v want [marker]", dropped)
				}
			}
		})
	}
}

func TestSerializeShapeValidity(t *testing.T) {
	cases := []struct {
		name string
		l    Layer
		keep bool
	}{
		{"polygon with 2 points", New(Polygon{Points: []LatLng{{0, 0}, {1, 1}}}), false},
		{"polygon with 3 points", New(Polygon{Points: []LatLng{{0, 0}, {1, 1}, {1, 0}}}), true},
		{"polyline with 1 point", New(Polyline{Points: []LatLng{{0, 0}}}), false},
		{"polyline with 2 points", New(Polyline{Points: []LatLng{{0, 0}, {1, 1}}}), true},
		{"rectangle with 1 corner", New(Rectangle{Bounds: []LatLng{{0, 0}}}), false},
		{"rectangle", New(NewRectangle(0, 0, 1, 1)), true},
		{"circle without radius", New(Circle{Center: LatLng{0, 0}}), false},
		{"circle", New(Circle{Center: LatLng{0, 0}, Radius: 500}), true},
		{"circle marker negative radius", New(CircleMarker{Center: LatLng{0, 0}, Radius: -1}), false},
		{"circle marker default radius", New(CircleMarker{Center: LatLng{0, 0}}), true},
		{"empty cluster", New(Cluster{}), false},
		{"cluster", New(Cluster{Markers: []Layer{New(Marker{Lat: 1, Lng: 1})}}), true},
		{"no geometry", Layer{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Serialize([]Layer{tc.l}, nil)
			if (len(got) == 1) != tc.keep {
				t.Fatalf("kept=%v want %v", len(got) == 1, tc.keep)
			}
		})
	}
}

func TestSerializeOmitsNullFields(t *testing.T) {
	layers := []Layer{
		New(Marker{Lat: 1, Lng: 2}),
		New(Circle{Center: LatLng{1, 2}, Radius: 10}),
		New(CircleMarker{Center: LatLng{1, 2}}),
		New(NewRectangle(1, 2, 3, 4)),
		New(Polygon{Points: []LatLng{{0, 0}, {0, 1}, {1, 1}}}),
		New(Polyline{Points: []LatLng{{0, 0}, {0, 1}}}),
		New(Cluster{Markers: []Layer{New(Marker{Lat: 1, Lng: 1}), New(Marker{Lat: 100, Lng: 1})}}),
		New(Marker{Lat: 1, Lng: 2}, WithPopup(Popup{})),
	}
	for _, e := range Serialize(layers, nil) {
		assertNoNulls(t, e)
	}
}

func assertNoNulls(t *testing.T, e Entry) {
	t.Helper()
	for k, v := range e {
		switch x := v.(type) {
		case nil:
			t.Fatalf("field %q is nil in %v", k, e)
		case string:
			if x == "" {
				t.Fatalf("field %q is empty in %v", k, e)
			}
		case map[string]any:
			if x == nil {
				t.Fatalf("field %q is a nil map in %v", k, e)
			}
		case []Entry:
			for _, c := range x {
				assertNoNulls(t, c)
			}
		}
	}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for k, v := range back {
		if v == nil {
			t.Fatalf("json field %q is null", k)
		}
	}
}

func TestSerializeDecoration(t *testing.T) {
	l := New(Marker{Lat: 1, Lng: 2, Color: ColorRed},
		WithGroup("stores"),
		WithTitle("Store"),
		WithPopupFields(Field{Label: "City", Value: "Recife"}, Field{Label: "State", Value: "PE"}),
		WithAction(func(context.Context) error { return nil }),
		WithHover("highlight", ""),
	)
	e := Serialize([]Layer{l}, nil)[0]

	if e["group"] != "stores" {
		t.Fatalf("group=%v", e["group"])
	}
	if e["clickAction"] != true {
		t.Fatalf("clickAction=%v want true", e["clickAction"])
	}
	if e["onMouseOver"] != "highlight" {
		t.Fatalf("onMouseOver=%v", e["onMouseOver"])
	}
	if _, ok := e["onMouseOut"]; ok {
		t.Fatalf("onMouseOut should be omitted")
	}
	if e["color"] != "red" {
		t.Fatalf("color=%v", e["color"])
	}

	tip := e["tooltip"].(Entry)
	if tip["content"] != "Store" {
		t.Fatalf("tooltip content=%v", tip["content"])
	}
	opts := tip["options"].(map[string]any)
	if opts["direction"] != "auto" || opts["permanent"] != false {
		t.Fatalf("tooltip options=%v", opts)
	}

	pop := e["popup"].(Entry)
	fields := pop["fields"].([]map[string]any)
	if len(fields) != 2 || fields[0]["label"] != "City" || fields[1]["label"] != "State" {
		t.Fatalf("fields=%v", fields)
	}
}

func TestSerializeClusterChildren(t *testing.T) {
	cluster := New(Cluster{Markers: []Layer{
		New(Marker{Lat: 1, Lng: 1}, WithTitle("a")),
		New(Marker{Lat: 91, Lng: 1}),
		New(Marker{Lat: 2, Lng: 2}),
	}})
	entries := Serialize([]Layer{New(Marker{Lat: 0, Lng: 0}), cluster}, nil)
	if len(entries) != 2 {
		t.Fatalf("entries=%d want 2", len(entries))
	}
	c := entries[1]
	if c["id"] != "cluster-1" {
		t.Fatalf("cluster id=%v", c["id"])
	}
	children := c["markers"].([]Entry)
	if len(children) != 2 {
		t.Fatalf("children=%d want 2", len(children))
	}
	if children[0]["id"] != "marker-2" || children[1]["id"] != "marker-4" {
		t.Fatalf("child ids=%v,%v", children[0]["id"], children[1]["id"])
	}
}

func TestFind(t *testing.T) {
	var hit bool
	layers := []Layer{
		New(Marker{Lat: 1, Lng: 1}),
		New(Marker{Lat: 2, Lng: 2}, WithAction(func(context.Context) error {
			hit = true
			return nil
		})),
	}
	l, ok := Find(layers, "marker-2")
	if !ok {
		t.Fatal("marker-2 not found")
	}
	if err := l.Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Fatal("action not executed")
	}
	if _, ok := Find(layers, "marker-9"); ok {
		t.Fatal("unexpected match for marker-9")
	}
}

func TestPolylineNeverFilled(t *testing.T) {
	e := Serialize([]Layer{New(Polyline{
		Points:  []LatLng{{0, 0}, {1, 1}},
		Options: Style{Color: "#f00", Weight: 3}.Options(),
	})}, nil)[0]
	opts := e["options"].(map[string]any)
	if opts["fill"] != false || opts["color"] != "#f00" {
		t.Fatalf("options=%v", opts)
	}
}
