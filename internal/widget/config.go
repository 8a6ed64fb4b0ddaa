package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
)

// Config is the payload handed to the render engine, both at first render
// and on every refresh. Field names follow the client contract.
type Config struct {
	DefaultCoord  [2]float64         `json:"defaultCoord"`
	DefaultZoom   int                `json:"defaultZoom"`
	MapHeight     int                `json:"mapHeight"`
	TileLayers    []TileLayerEntry   `json:"tileLayersUrl"`
	ZoomConfig    ZoomConfig         `json:"zoomConfig"`
	MapConfig     MapConfig          `json:"mapConfig"`
	MapControls   MapControls        `json:"mapControls"`
	GeoJSONData   map[string]float64 `json:"geoJsonData"`
	GeoJSONColors []string           `json:"geoJsonColors"`
	GeoJSONURL    string             `json:"geoJsonUrl,omitempty"`
	InfoText      string             `json:"infoText"`
	Layers        []layer.Entry      `json:"layers"`
	Version       string             `json:"version,omitempty"`
}

// ZoomConfig bounds the zoom of every base layer.
type ZoomConfig struct {
	Max int `json:"max"`
	Min int `json:"min"`
}

// MapConfig holds the map construction options.
type MapConfig struct {
	ScrollWheelZoom    bool `json:"scrollWheelZoom"`
	DoubleClickZoom    bool `json:"doubleClickZoom"`
	Dragging           bool `json:"dragging"`
	ZoomControl        bool `json:"zoomControl"`
	AttributionControl bool `json:"attributionControl"`
}

// MapControls lists the controls added after the map is created.
type MapControls struct {
	AttributionControl bool `json:"attributionControl"`
	ScaleControl       bool `json:"scaleControl"`
	ZoomControl        bool `json:"zoomControl"`
	FullscreenControl  bool `json:"fullscreenControl"`
	SearchControl      bool `json:"searchControl"`
}

// BuildOption tunes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	onDrop layer.DropFunc
}

// WithDropHook observes layers dropped for invalid geometry.
func WithDropHook(fn layer.DropFunc) BuildOption {
	return func(o *buildOptions) { o.onDrop = fn }
}

// Build assembles a fresh Config from a definition and its data source.
// It never reuses or mutates a previously returned Config.
func Build(ctx context.Context, def *Definition, src Source, opts ...BuildOption) (Config, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	layers, err := src.Layers(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("build %s: layers: %w", def.Name, err)
	}
	density, err := src.GeoJSONData(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("build %s: geojson data: %w", def.Name, err)
	}

	cfg := Config{
		DefaultCoord:  DefaultCenter,
		DefaultZoom:   def.zoom(),
		MapHeight:     def.Height,
		TileLayers:    def.tileLayers(),
		MapConfig:     def.mapConfig(),
		MapControls:   def.mapControls(),
		GeoJSONData:   map[string]float64{},
		GeoJSONColors: DefaultColors,
		GeoJSONURL:    DefaultGeoJSONURL,
		InfoText:      DefaultInfoText,
		Layers:        layer.Serialize(layers, o.onDrop),
	}
	if len(def.Center) == 2 {
		cfg.DefaultCoord = [2]float64{def.Center[0], def.Center[1]}
	}
	if cfg.MapHeight == 0 {
		cfg.MapHeight = DefaultHeight
	}
	cfg.ZoomConfig.Min, cfg.ZoomConfig.Max = def.zoomRange()

	if g := def.GeoJSON; g != nil {
		if g.URL != "" {
			cfg.GeoJSONURL = g.URL
		}
		if len(g.Colors) > 0 {
			cfg.GeoJSONColors = g.Colors
		}
		if g.Tooltip != "" {
			cfg.InfoText = g.Tooltip
		}
	}
	maps.Copy(cfg.GeoJSONData, density)
	cfg.GeoJSONColors = append([]string(nil), cfg.GeoJSONColors...)

	v, err := Fingerprint(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("build %s: %w", def.Name, err)
	}
	cfg.Version = v
	return cfg, nil
}

// Fingerprint hashes the payload without its version field. Map keys are
// encoded in sorted order, so equal payloads hash equally.
func Fingerprint(cfg Config) (string, error) {
	cfg.Version = ""
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(raw), 16), nil
}

func (d *Definition) tileLayers() []TileLayerEntry {
	if len(d.TileLayers) == 0 {
		return []TileLayerEntry{OpenStreetMap.Entry()}
	}
	out := make([]TileLayerEntry, 0, len(d.TileLayers))
	for i, t := range d.TileLayers {
		if t.Provider != "" {
			p, err := ParseTileLayer(t.Provider)
			if err != nil {
				continue
			}
			e := p.Entry()
			if t.Label != "" {
				e.Label = t.Label
			}
			out = append(out, e)
			continue
		}
		e := TileLayerEntry{Label: t.Label, URL: t.URL}
		if e.Label == "" {
			e.Label = "Layer " + strconv.Itoa(i+1)
		}
		if t.Attribution != "" {
			attr := t.Attribution
			e.Attribution = &attr
		}
		out = append(out, e)
	}
	return out
}

func (d *Definition) mapConfig() MapConfig {
	on := func(b *bool) bool { return b == nil || *b }
	return MapConfig{
		ScrollWheelZoom:    on(d.Interaction.ScrollWheelZoom),
		DoubleClickZoom:    on(d.Interaction.DoubleClickZoom),
		Dragging:           on(d.Interaction.Dragging),
		ZoomControl:        on(d.Interaction.ZoomControl),
		AttributionControl: d.Attribution,
	}
}

func (d *Definition) mapControls() MapControls {
	return MapControls{
		AttributionControl: d.Controls.Attribution,
		ScaleControl:       d.Controls.Scale,
		ZoomControl:        d.Controls.Zoom,
		FullscreenControl:  d.Controls.Fullscreen,
		SearchControl:      d.Controls.Search,
	}
}
