// Package render is the map render engine: it turns a widget configuration
// into layers on a Surface and keeps them in sync with later refreshes.
//
// An Engine moves through Uninitialized → Initializing → Ready, cycles
// through Reinitializing on every ApplyConfiguration, and ends in Disposed.
// The Surface is abstract; the leaflet package binds it to a browser map and
// memsurface keeps it in memory for tests and previews.
package render

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

var (
	ErrInvalidState = errors.New("invalid engine state")
	ErrTargetInUse  = errors.New("map target already has an engine attached")
)

// State is the lifecycle position of an Engine.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Reinitializing
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Reinitializing:
		return "reinitializing"
	case Disposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options wires an Engine to its collaborators.
type Options struct {
	InstanceID string // widget instance; scopes popup and info CSS classes
	MapID      string // view container id
	Target     Target
	Bridge     Bridge
	Fetcher    Fetcher
	Handlers   *Handlers
	AssetsPath string
	Logger     *zerolog.Logger

	// Async runs the GeoJSON fetch, always outside the engine lock.
	// Defaults to a new goroutine.
	Async func(fn func())
}

// Engine renders one widget instance.
type Engine struct {
	opts Options
	log  *zerolog.Logger

	mu         sync.Mutex
	state      State
	cfg        widget.Config
	surface    Surface
	bases      []Named
	chrome     []Control
	built      []Handle
	groups     []Named
	geo        Handle
	info       InfoControl
	layerCtl   Control
	generation uint64
	cancel     context.CancelFunc
}

// New returns an uninitialized engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.Handlers == nil {
		opts.Handlers = NewHandlers()
	}
	if opts.AssetsPath == "" {
		opts.AssetsPath = DefaultAssetsPath
	}
	if opts.Async == nil {
		opts.Async = func(fn func()) { go fn() }
	}
	l := opts.Logger.With().Str("component", "render").Str("map", opts.MapID).Logger()
	return &Engine{opts: opts, log: &l}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config returns the configuration currently rendered.
func (e *Engine) Config() widget.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Init creates the map surface and renders cfg. Valid only once, from
// Uninitialized.
func (e *Engine) Init(ctx context.Context, cfg widget.Config) error {
	fetch, err := e.init(ctx, cfg)
	if err != nil {
		return err
	}
	e.launch(fetch)
	return nil
}

func (e *Engine) init(ctx context.Context, cfg widget.Config) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Uninitialized {
		return nil, fmt.Errorf("init: %w: %s", ErrInvalidState, e.state)
	}
	if e.opts.Target == nil {
		return nil, errors.New("init: no render target")
	}
	if err := attach(e.opts.MapID, e); err != nil {
		return nil, fmt.Errorf("init %s: %w", e.opts.MapID, err)
	}
	e.state = Initializing

	surface, err := e.opts.Target.CreateMap(e.opts.MapID, cfg.MapConfig)
	if err != nil {
		detach(e.opts.MapID, e)
		e.state = Uninitialized
		return nil, fmt.Errorf("init %s: create map: %w", e.opts.MapID, err)
	}
	e.surface = surface
	e.cfg = cfg

	surface.SetView(layer.LatLng(cfg.DefaultCoord), cfg.DefaultZoom)
	e.addTileLayers(cfg)
	e.addChrome(cfg.MapControls)
	fetch := e.startChoropleth(ctx, cfg)
	e.buildLayers(cfg)

	if b := e.opts.Bridge; b != nil {
		surface.OnClick(func(at layer.LatLng) { b.OnMapClick(at.Lat(), at.Lng()) })
	}

	e.installLayerControl()
	surface.InvalidateSize()

	e.state = Ready
	e.log.Debug().Int("layers", len(cfg.Layers)).Msg("map initialized")
	return fetch, nil
}

// ApplyConfiguration replaces the data-driven content with cfg. The map,
// its base tiles, chrome controls and click handler are kept. Every layer,
// group, choropleth and the selection control of the previous configuration
// is detached first.
func (e *Engine) ApplyConfiguration(ctx context.Context, cfg widget.Config) error {
	fetch, err := e.apply(ctx, cfg)
	if err != nil {
		return err
	}
	e.launch(fetch)
	return nil
}

func (e *Engine) apply(ctx context.Context, cfg widget.Config) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Ready {
		return nil, fmt.Errorf("apply: %w: %s", ErrInvalidState, e.state)
	}
	e.state = Reinitializing

	e.clear()
	e.cfg = cfg
	fetch := e.startChoropleth(ctx, cfg)
	e.buildLayers(cfg)
	e.installLayerControl()

	e.state = Ready
	e.log.Debug().Int("layers", len(cfg.Layers)).Str("version", cfg.Version).Msg("configuration applied")
	return fetch, nil
}

// launch runs a pending fetch outside the engine lock.
func (e *Engine) launch(fetch func()) {
	if fetch != nil {
		e.opts.Async(fetch)
	}
}

// Dispose releases the surface and frees the map target. It is terminal and
// safe to call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Disposed {
		return
	}
	e.generation++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.surface != nil {
		e.surface.Remove()
		detach(e.opts.MapID, e)
	}
	e.surface = nil
	e.bases, e.chrome, e.built, e.groups = nil, nil, nil, nil
	e.geo, e.info, e.layerCtl = nil, nil, nil
	e.state = Disposed
}

func (e *Engine) addTileLayers(cfg widget.Config) {
	for i, t := range cfg.TileLayers {
		attr := ""
		if t.Attribution != nil {
			attr = *t.Attribution
		}
		h := e.surface.NewTileLayer(t.URL, TileOptions{
			MinZoom:     cfg.ZoomConfig.Min,
			MaxZoom:     cfg.ZoomConfig.Max,
			Attribution: attr,
		})
		e.bases = append(e.bases, Named{Name: t.Label, Layer: h})
		if i == 0 {
			e.surface.AddLayer(h)
		}
	}
}

func (e *Engine) addChrome(mc widget.MapControls) {
	add := func(on bool, kind ControlKind, opts map[string]any) {
		if !on {
			return
		}
		c := e.surface.NewControl(kind, opts)
		e.surface.AddControl(c)
		e.chrome = append(e.chrome, c)
	}
	add(mc.AttributionControl, ControlAttribution, nil)
	add(mc.ScaleControl, ControlScale, nil)
	add(mc.ZoomControl, ControlZoom, nil)
	add(mc.FullscreenControl, ControlFullscreen, map[string]any{
		"title":               "Full Screen",
		"titleCancel":         "Exit Full Screen",
		"forceSeparateButton": true,
	})
	add(mc.SearchControl, ControlSearch, map[string]any{
		"notFoundMessage": "Sorry, that address could not be found.",
		"searchLabel":     "Enter address",
		"markerIcon":      markerIcon(e.opts.AssetsPath, Entry{"color": string(layer.ColorBlue)}),
	})
}

// buildLayers builds every entry, adding ungrouped layers as they are built
// and grouped layers after the whole batch.
func (e *Engine) buildLayers(cfg widget.Config) {
	bc := &buildContext{surface: e.surface, assets: e.opts.AssetsPath, decorate: e.decorate}
	groups := map[string]Group{}

	for _, raw := range cfg.Layers {
		entry := Entry(raw)
		kind := layer.Kind(entry.String("type"))
		build, ok := builders[kind]
		if !ok {
			e.log.Warn().Str("type", string(kind)).Str("layer", entry.String("id")).Msg("unknown layer type, skipped")
			continue
		}
		h, ok := build(bc, entry)
		if !ok {
			e.log.Warn().Str("type", string(kind)).Str("layer", entry.String("id")).Msg("layer without usable geometry, skipped")
			continue
		}
		e.decorate(h, entry)

		if name := entry.String("group"); name != "" {
			g, ok := groups[name]
			if !ok {
				g = e.surface.NewGroup()
				groups[name] = g
				e.groups = append(e.groups, Named{Name: name, Layer: g})
			}
			g.AddLayer(h)
			continue
		}
		e.surface.AddLayer(h)
		e.built = append(e.built, h)
	}

	for _, g := range e.groups {
		e.surface.AddLayer(g.Layer)
	}
}

// installLayerControl adds the base/overlay selector when it offers a real
// choice: more than one base layer, or at least one overlay group.
func (e *Engine) installLayerControl() {
	if e.layerCtl != nil {
		e.surface.RemoveControl(e.layerCtl)
		e.layerCtl = nil
	}
	if len(e.bases) <= 1 && len(e.groups) == 0 {
		return
	}
	e.layerCtl = e.surface.NewLayerControl(e.bases, e.groups)
	e.surface.AddControl(e.layerCtl)
}

// clear detaches everything built from the current configuration and
// invalidates any in-flight GeoJSON fetch.
func (e *Engine) clear() {
	e.generation++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	for _, h := range e.built {
		e.surface.RemoveLayer(h)
	}
	e.built = nil
	for _, g := range e.groups {
		e.surface.RemoveLayer(g.Layer)
	}
	e.groups = nil
	if e.geo != nil {
		e.surface.RemoveLayer(e.geo)
		e.geo = nil
	}
	if e.info != nil {
		e.surface.RemoveControl(e.info)
		e.info = nil
	}
	if e.layerCtl != nil {
		e.surface.RemoveControl(e.layerCtl)
		e.layerCtl = nil
	}
}

// startChoropleth installs the info overlay and returns the background
// fetch of the region source, or nil. A result arriving after the
// configuration changed, or after dispose, is discarded.
func (e *Engine) startChoropleth(ctx context.Context, cfg widget.Config) func() {
	if len(cfg.GeoJSONData) == 0 {
		return nil
	}
	info := e.surface.NewInfoControl("info-" + e.opts.InstanceID)
	e.surface.AddControl(info)
	e.info = info

	if cfg.GeoJSONURL == "" || e.opts.Fetcher == nil {
		return nil
	}

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	gen := e.generation
	url := cfg.GeoJSONURL
	density := maps.Clone(cfg.GeoJSONData)
	colors := append([]string(nil), cfg.GeoJSONColors...)
	template := cfg.InfoText

	return func() {
		defer cancel()
		raw, err := e.opts.Fetcher.Fetch(fetchCtx, url)
		if err != nil {
			e.log.Error().Err(err).Str("url", url).Msg("geojson fetch failed")
			return
		}
		fc, err := ParseRegions(raw, density)
		if err != nil {
			e.log.Error().Err(err).Str("url", url).Msg("geojson parse failed")
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.generation != gen || e.state == Disposed || e.surface == nil {
			e.log.Debug().Uint64("generation", gen).Msg("stale geojson result discarded")
			return
		}
		e.geo = e.surface.NewGeoJSON(fc, ChoroplethStyle(colors, density), e.featureHandlers(info, template))
		e.surface.AddLayer(e.geo)
	}
}

func (e *Engine) featureHandlers(info InfoControl, template string) EachFeature {
	surface := e.surface
	return func(f *geojson.Feature, h Handle) {
		name, _ := f.Properties["name"].(string)
		density, _ := number(f.Properties["density"])
		h.On("mouseover", func() { info.Update(InfoHTML(template, name, density)) })
		h.On("mouseout", func() { info.Hide() })
		if f.Geometry != nil {
			bound := f.Geometry.Bound()
			h.On("click", func() { surface.FitBounds(bound) })
		}
	}
}

var attachments = struct {
	sync.Mutex
	engines map[string]*Engine
}{engines: make(map[string]*Engine)}

func attach(mapID string, e *Engine) error {
	attachments.Lock()
	defer attachments.Unlock()
	if cur, ok := attachments.engines[mapID]; ok && cur != e {
		return ErrTargetInUse
	}
	attachments.engines[mapID] = e
	return nil
}

func detach(mapID string, e *Engine) {
	attachments.Lock()
	defer attachments.Unlock()
	if attachments.engines[mapID] == e {
		delete(attachments.engines, mapID)
	}
}
