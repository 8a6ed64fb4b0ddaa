package widget

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
)

// Defaults applied to a definition that leaves a setting unset.
var (
	DefaultCenter     = [2]float64{-14.235, -51.9253}
	DefaultZoom       = 4
	DefaultHeight     = 504
	DefaultMinZoom    = 2
	DefaultMaxZoom    = 18
	DefaultGeoJSONURL = "/static/data/brazil-states.json"
	DefaultInfoText   = "<h4>{state}</h4><b>Density: {density}</b>"
	DefaultColors     = []string{"#FED976", "#FEB24C", "#FD8D3C", "#FC4E2A", "#E31A1C", "#BD0026", "#800026"}
	DefaultFormCols   = 2
)

var (
	ErrUnknownWidget = errors.New("unknown widget")
	ErrNoMarkerModel = errors.New("widget has no marker model")
)

var (
	namePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Definition is one widget as declared in YAML.
type Definition struct {
	Name        string         `yaml:"name"`
	Heading     string         `yaml:"heading"`
	Center      []float64      `yaml:"center"`
	Zoom        *int           `yaml:"zoom"`
	Height      int            `yaml:"height"`
	MinZoom     int            `yaml:"min_zoom"`
	MaxZoom     int            `yaml:"max_zoom"`
	Attribution bool           `yaml:"attribution"`
	TileLayers  []TileLayerDef `yaml:"tile_layers"`
	Controls    Controls       `yaml:"controls"`
	Interaction Interaction    `yaml:"interaction"`
	GeoJSON     *GeoJSONDef    `yaml:"geojson"`
	Markers     *MarkerModel   `yaml:"markers"`
	Shapes      []ShapeDef     `yaml:"shapes"`
}

// TileLayerDef is either a built-in provider or a custom URL.
type TileLayerDef struct {
	Provider    string `yaml:"provider"`
	Label       string `yaml:"label"`
	URL         string `yaml:"url"`
	Attribution string `yaml:"attribution"`
}

// Controls toggles the optional map chrome.
type Controls struct {
	Attribution bool `yaml:"attribution"`
	Scale       bool `yaml:"scale"`
	Zoom        bool `yaml:"zoom"`
	Fullscreen  bool `yaml:"fullscreen"`
	Search      bool `yaml:"search"`
}

// Interaction switches built-in map gestures. Unset means enabled.
type Interaction struct {
	ScrollWheelZoom *bool `yaml:"scroll_wheel_zoom"`
	DoubleClickZoom *bool `yaml:"double_click_zoom"`
	Dragging        *bool `yaml:"dragging"`
	ZoomControl     *bool `yaml:"zoom_control"`
}

// GeoJSONDef configures the choropleth overlay.
type GeoJSONDef struct {
	URL          string             `yaml:"url"`
	Colors       []string           `yaml:"colors"`
	Tooltip      string             `yaml:"tooltip"`
	Density      map[string]float64 `yaml:"density"`
	DensityQuery string             `yaml:"density_query"`
}

// MarkerModel binds the widget to a table of user-created markers.
type MarkerModel struct {
	Table             string     `yaml:"table"`
	LatColumn         string     `yaml:"lat_column"`
	LngColumn         string     `yaml:"lng_column"`
	JSONColumn        string     `yaml:"json_column"`
	TitleColumn       string     `yaml:"title_column"`
	DescriptionColumn string     `yaml:"description_column"`
	ColorColumn       string     `yaml:"color_column"`
	PopupFields       []string   `yaml:"popup_fields"`
	Color             string     `yaml:"color"`
	Icon              string     `yaml:"icon"`
	Group             string     `yaml:"group"`
	FormColumns       int        `yaml:"form_columns"`
	Cluster           bool       `yaml:"cluster"`
	Action            *ActionRef `yaml:"action"`
}

// ActionRef names a registered server-side click action.
type ActionRef struct {
	Name string            `yaml:"name"`
	Args map[string]string `yaml:"args"`
}

// LatColumnName returns the configured latitude column.
func (m *MarkerModel) LatColumnName() string {
	if m.LatColumn == "" {
		return "latitude"
	}
	return m.LatColumn
}

// LngColumnName returns the configured longitude column.
func (m *MarkerModel) LngColumnName() string {
	if m.LngColumn == "" {
		return "longitude"
	}
	return m.LngColumn
}

// DescriptionColumnName returns the column holding the form description.
func (m *MarkerModel) DescriptionColumnName() string {
	if m.DescriptionColumn == "" {
		return "description"
	}
	return m.DescriptionColumn
}

// Columns returns the form columns of the creation form.
func (m *MarkerModel) Columns() int {
	if m.FormColumns <= 0 {
		return DefaultFormCols
	}
	return m.FormColumns
}

// Mapping converts the model into a record mapping. Form-created markers
// store their label in "name" and their color in "color".
func (m *MarkerModel) Mapping() layer.RecordMapping {
	title := m.TitleColumn
	if title == "" {
		title = "name"
	}
	color := m.ColorColumn
	if color == "" {
		color = "color"
	}
	c, _ := layer.ParseColor(m.Color)
	return layer.RecordMapping{
		LatColumn:         m.LatColumnName(),
		LngColumn:         m.LngColumnName(),
		JSONColumn:        m.JSONColumn,
		TitleColumn:       title,
		DescriptionColumn: m.DescriptionColumn,
		ColorColumn:       color,
		PopupFields:       m.PopupFields,
		Color:             c,
		IconURL:           m.Icon,
		Group:             m.Group,
	}
}

// TooltipDef is the YAML form of a tooltip.
type TooltipDef struct {
	Content   string `yaml:"content"`
	Permanent bool   `yaml:"permanent"`
	Direction string `yaml:"direction"`
}

// PopupDef is the YAML form of a popup.
type PopupDef struct {
	Title   string        `yaml:"title"`
	Content string        `yaml:"content"`
	Fields  []layer.Field `yaml:"fields"`
}

// ShapeDef is a static layer declared in YAML.
type ShapeDef struct {
	Type        string         `yaml:"type"`
	ID          string         `yaml:"id"`
	Group       string         `yaml:"group"`
	Title       string         `yaml:"title"`
	Lat         float64        `yaml:"lat"`
	Lng         float64        `yaml:"lng"`
	Center      []float64      `yaml:"center"`
	Radius      *float64       `yaml:"radius"`
	Points      [][]float64    `yaml:"points"`
	Bounds      [][]float64    `yaml:"bounds"`
	Color       string         `yaml:"color"`
	Icon        string         `yaml:"icon"`
	Draggable   bool           `yaml:"draggable"`
	Options     map[string]any `yaml:"options"`
	Tooltip     *TooltipDef    `yaml:"tooltip"`
	Popup       *PopupDef      `yaml:"popup"`
	Action      *ActionRef     `yaml:"action"`
	OnMouseOver string         `yaml:"on_mouse_over"`
	OnMouseOut  string         `yaml:"on_mouse_out"`
	Markers     []ShapeDef     `yaml:"markers"`
}

// Validate checks the definition for errors that would make it unusable.
// Geometry problems are not errors: such layers are dropped at build time.
func (d *Definition) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("widget name %q: must match %s", d.Name, namePattern)
	}
	if d.Center != nil && len(d.Center) != 2 {
		return fmt.Errorf("widget %s: center needs [lat, lng]", d.Name)
	}
	minZ, maxZ := d.zoomRange()
	if minZ > maxZ {
		return fmt.Errorf("widget %s: min_zoom %d above max_zoom %d", d.Name, minZ, maxZ)
	}
	if z := d.zoom(); z < minZ || z > maxZ {
		return fmt.Errorf("widget %s: zoom %d outside %d..%d", d.Name, z, minZ, maxZ)
	}
	for i, t := range d.TileLayers {
		if t.Provider == "" && t.URL == "" {
			return fmt.Errorf("widget %s: tile layer %d needs provider or url", d.Name, i)
		}
		if t.Provider != "" {
			if _, err := ParseTileLayer(t.Provider); err != nil {
				return fmt.Errorf("widget %s: %w", d.Name, err)
			}
		}
	}
	if m := d.Markers; m != nil {
		if err := m.validate(); err != nil {
			return fmt.Errorf("widget %s: markers: %w", d.Name, err)
		}
	}
	for i, s := range d.Shapes {
		if err := s.validate(); err != nil {
			return fmt.Errorf("widget %s: shape %d: %w", d.Name, i, err)
		}
	}
	return nil
}

func (m *MarkerModel) validate() error {
	if !identPattern.MatchString(m.Table) {
		return fmt.Errorf("table %q is not a valid identifier", m.Table)
	}
	cols := []string{m.LatColumn, m.LngColumn, m.JSONColumn, m.TitleColumn, m.DescriptionColumn, m.ColorColumn}
	cols = append(cols, m.PopupFields...)
	for _, c := range cols {
		if c != "" && !identPattern.MatchString(c) {
			return fmt.Errorf("column %q is not a valid identifier", c)
		}
	}
	if _, err := layer.ParseColor(m.Color); err != nil {
		return err
	}
	return nil
}

func (s ShapeDef) validate() error {
	kind := layer.Kind(s.Type)
	if !slices.Contains(layer.Kinds, kind) {
		return fmt.Errorf("unknown type %q", s.Type)
	}
	if _, err := layer.ParseColor(s.Color); err != nil {
		return err
	}
	if kind == layer.KindCluster {
		for _, m := range s.Markers {
			if m.Type != "" && layer.Kind(m.Type) != layer.KindMarker {
				return fmt.Errorf("cluster children must be markers, got %q", m.Type)
			}
		}
	}
	return nil
}

func (d *Definition) zoom() int {
	if d.Zoom == nil {
		return DefaultZoom
	}
	return *d.Zoom
}

func (d *Definition) zoomRange() (int, int) {
	minZ, maxZ := d.MinZoom, d.MaxZoom
	if minZ == 0 {
		minZ = DefaultMinZoom
	}
	if maxZ == 0 {
		maxZ = DefaultMaxZoom
	}
	return minZ, maxZ
}

// Registry holds the loaded widget definitions. It is read-only once built.
type Registry struct {
	defs  map[string]*Definition
	names []string
}

// NewRegistry validates defs and indexes them by name.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate widget %q", d.Name)
		}
		r.defs[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (*Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWidget, name)
	}
	return d, nil
}

// Names lists widget names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// LoadDefinitions reads one YAML file, or every *.yaml / *.yml file of a
// directory. A file may hold several documents.
func LoadDefinitions(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("widgets path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read widgets dir: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		slices.Sort(files)
	}

	var defs []*Definition
	for _, f := range files {
		parsed, err := parseFile(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, parsed...)
	}
	return NewRegistry(defs...)
}

func parseFile(path string) ([]*Definition, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)

	var defs []*Definition
	for {
		var d Definition
		err := dec.Decode(&d)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		defs = append(defs, &d)
	}
	return defs, nil
}

// ParseDefinition decodes a single YAML document.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
