package widget

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TileLayer names a built-in base map provider.
type TileLayer string

const (
	OpenStreetMap    TileLayer = "openstreetmap"
	OpenTopoMap      TileLayer = "opentopomap"
	EsriWorldImagery TileLayer = "esri-world-imagery"
	CartoPositron    TileLayer = "carto-positron"
	CartoDarkMatter  TileLayer = "carto-dark-matter"
)

type tileProvider struct {
	label       string
	url         string
	attribution string
}

var tileProviders = map[TileLayer]tileProvider{
	OpenStreetMap: {
		label:       "OpenStreetMap",
		url:         "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		attribution: `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`,
	},
	OpenTopoMap: {
		label:       "OpenTopoMap",
		url:         "https://{s}.tile.opentopomap.org/{z}/{x}/{y}.png",
		attribution: `Map data: &copy; OpenStreetMap contributors, SRTM | Map style: &copy; <a href="https://opentopomap.org">OpenTopoMap</a> (CC-BY-SA)`,
	},
	EsriWorldImagery: {
		label:       "Satellite",
		url:         "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
		attribution: "Tiles &copy; Esri",
	},
	CartoPositron: {
		label:       "Light",
		url:         "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
		attribution: `&copy; OpenStreetMap contributors &copy; <a href="https://carto.com/attributions">CARTO</a>`,
	},
	CartoDarkMatter: {
		label:       "Dark",
		url:         "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}{r}.png",
		attribution: `&copy; OpenStreetMap contributors &copy; <a href="https://carto.com/attributions">CARTO</a>`,
	},
}

// ParseTileLayer resolves a provider name, case-insensitively.
func ParseTileLayer(s string) (TileLayer, error) {
	t := TileLayer(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tileProviders[t]; !ok {
		return "", fmt.Errorf("unknown tile provider %q", s)
	}
	return t, nil
}

func (t TileLayer) Label() string       { return tileProviders[t].label }
func (t TileLayer) URL() string         { return tileProviders[t].url }
func (t TileLayer) Attribution() string { return tileProviders[t].attribution }

// Entry returns the provider as a payload entry.
func (t TileLayer) Entry() TileLayerEntry {
	attr := t.Attribution()
	return TileLayerEntry{Label: t.Label(), URL: t.URL(), Attribution: &attr}
}

// TileLayerEntry is one base layer of the payload. It encodes as the
// [label, url, attribution] tuple; a custom layer has a null attribution.
type TileLayerEntry struct {
	Label       string
	URL         string
	Attribution *string
}

func (e TileLayerEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{e.Label, e.URL, e.Attribution})
}

func (e *TileLayerEntry) UnmarshalJSON(b []byte) error {
	var raw []*string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("tile layer: %w", err)
	}
	if len(raw) < 2 || raw[0] == nil || raw[1] == nil {
		return fmt.Errorf("tile layer: want [label, url, attribution], got %s", b)
	}
	e.Label = *raw[0]
	e.URL = *raw[1]
	e.Attribution = nil
	if len(raw) > 2 {
		e.Attribution = raw[2]
	}
	return nil
}
