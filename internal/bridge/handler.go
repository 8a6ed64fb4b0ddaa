package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-mapwidget/internal/db"
	"github.com/joeblew999/plat-mapwidget/internal/humastar"
	"github.com/joeblew999/plat-mapwidget/internal/layer"
	"github.com/joeblew999/plat-mapwidget/internal/logger"
	"github.com/joeblew999/plat-mapwidget/internal/observability"
	"github.com/joeblew999/plat-mapwidget/internal/service"
	"github.com/joeblew999/plat-mapwidget/internal/templates"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

var (
	ErrInvalidMarker = errors.New("invalid marker")
	ErrNoPosition    = errors.New("no map position selected")
)

// Store is the record persistence behind marker models.
type Store interface {
	widget.RecordStore
	EnsureModel(ctx context.Context, m db.Model) error
	Insert(ctx context.Context, table string, data map[string]any) (int64, error)
}

// MarkerForm is the creation form of a marker model.
type MarkerForm struct {
	Name        string `json:"name" minLength:"1" maxLength:"255" doc:"Name"`
	Color       string `json:"color" enum:"blue,red,green,orange,yellow,violet,grey,black,gold" default:"blue" doc:"Color"`
	Description string `json:"description,omitempty" maxLength:"1000" input:"textarea" doc:"Description"`
}

// Validate checks the form the way the schema declares it.
func (f MarkerForm) Validate() error {
	switch n := utf8.RuneCountInString(f.Name); {
	case n == 0:
		return fmt.Errorf("%w: name is required", ErrInvalidMarker)
	case n > 255:
		return fmt.Errorf("%w: name exceeds 255 characters", ErrInvalidMarker)
	}
	c, err := layer.ParseColor(f.Color)
	if err != nil || c == "" {
		return fmt.Errorf("%w: color must be one of %v", ErrInvalidMarker, layer.Colors)
	}
	if utf8.RuneCountInString(f.Description) > 1000 {
		return fmt.Errorf("%w: description exceeds 1000 characters", ErrInvalidMarker)
	}
	return nil
}

// Options wires a Handler.
type Options struct {
	Registry *widget.Registry
	Store    Store // optional; widgets without marker models need none
	Bus      service.Bus
	Actions  *widget.Actions
	Sessions *Sessions
	Renderer *templates.Renderer
	Logger   *zerolog.Logger
}

// Handler is the server half of the interaction bridge.
type Handler struct {
	humastar.Handler
	registry *widget.Registry
	store    Store
	bus      service.Bus
	actions  *widget.Actions
	sessions *Sessions
	log      *zerolog.Logger

	// Set by RegisterRoutes once the form schema exists: the data-signals
	// init of widget pages and the signals clearing a submitted form.
	signals string
	reset   map[string]any
}

func NewHandler(opts Options) *Handler {
	if opts.Bus == nil {
		opts.Bus = service.DefaultBus
	}
	if opts.Actions == nil {
		opts.Actions = widget.NewActions()
	}
	if opts.Sessions == nil {
		opts.Sessions = NewSessions(0)
	}
	if opts.Renderer == nil {
		opts.Renderer = templates.Default()
	}
	if opts.Logger == nil {
		nop := logger.Nop()
		opts.Logger = &nop
	}
	l := opts.Logger.With().Str("component", "bridge").Logger()
	h := &Handler{
		Handler:  humastar.Handler{Renderer: opts.Renderer},
		registry: opts.Registry,
		store:    opts.Store,
		bus:      opts.Bus,
		actions:  opts.Actions,
		sessions: opts.Sessions,
		log:      &l,
		signals:  "{}",
	}
	h.registerActions()
	return h
}

// registerActions adds the built-in click actions usable from YAML.
func (h *Handler) registerActions() {
	h.actions.Register("notify", func(ctx context.Context, ac widget.ActionContext) error {
		msg := ac.Args["message"]
		if msg == "" {
			msg = "Clicked " + ac.LayerID
		}
		return h.bus.Publish(ctx, service.Event{
			Kind:     service.EventNotify,
			Widget:   ac.Widget,
			Instance: ac.Instance,
			Message:  msg,
		})
	})
	h.actions.Register("refresh", func(ctx context.Context, ac widget.ActionContext) error {
		return h.Refresh(ctx, ac.Widget)
	})
}

// EnsureModels creates the record table of every marker model.
func (h *Handler) EnsureModels(ctx context.Context) error {
	for _, name := range h.registry.Names() {
		def, _ := h.registry.Get(name)
		if def.Markers == nil {
			continue
		}
		if h.store == nil {
			return fmt.Errorf("widget %s: marker model needs a record store", name)
		}
		if err := h.store.EnsureModel(ctx, db.ModelFor(def.Markers)); err != nil {
			return fmt.Errorf("widget %s: %w", name, err)
		}
	}
	return nil
}

// Open starts a new instance of a widget.
func (h *Handler) Open(name string) (Session, error) {
	if _, err := h.registry.Get(name); err != nil {
		return Session{}, err
	}
	sess := h.sessions.Open(name)
	h.log.Debug().Str("widget", name).Str("instance", sess.Instance).Msg("instance opened")
	return sess, nil
}

func (h *Handler) source(def *widget.Definition) widget.DefinitionSource {
	src := widget.DefinitionSource{Def: def, Actions: h.actions}
	if h.store != nil {
		src.Store = h.store
	}
	return src
}

// Build assembles a fresh configuration for a widget.
func (h *Handler) Build(ctx context.Context, name string) (widget.Config, error) {
	def, err := h.registry.Get(name)
	if err != nil {
		return widget.Config{}, err
	}
	start := time.Now()
	cfg, err := widget.Build(ctx, def, h.source(def), widget.WithDropHook(func(k layer.Kind) {
		observability.IncLayerDropped(string(k))
	}))
	observability.ObserveBuild(name, time.Since(start).Seconds())
	return cfg, err
}

// Config builds the configuration of a live instance.
func (h *Handler) Config(ctx context.Context, instance string) (widget.Config, error) {
	sess, err := h.sessions.Get(instance)
	if err != nil {
		return widget.Config{}, err
	}
	return h.Build(ctx, sess.Widget)
}

// OnMapClick stores the clicked position. Widgets with a marker model get
// the creation form opened; for the rest this is a no-op.
func (h *Handler) OnMapClick(ctx context.Context, instance string, lat, lng float64) error {
	sess, err := h.sessions.SetClicked(instance, layer.LatLng{lat, lng})
	if err != nil {
		return err
	}
	observability.IncInteraction(sess.Widget, "map")

	def, err := h.registry.Get(sess.Widget)
	if err != nil {
		return err
	}
	if def.Markers == nil {
		return nil
	}
	return h.bus.Publish(ctx, service.Event{Kind: service.EventOpenForm, Widget: sess.Widget, Instance: instance})
}

// OnLayerClick runs the click action of a layer. Unknown ids and layers
// without an action are ignored.
func (h *Handler) OnLayerClick(ctx context.Context, instance, id string) error {
	sess, err := h.sessions.Get(instance)
	if err != nil {
		return err
	}
	observability.IncInteraction(sess.Widget, "layer")

	def, err := h.registry.Get(sess.Widget)
	if err != nil {
		return err
	}
	layers, err := h.source(def).Layers(ctx)
	if err != nil {
		return err
	}
	ctx = sessionContext(ctx, sess)
	l, ok := layer.Find(layers, id)
	if !ok {
		logger.FromContext(ctx, h.log).Debug().Str("layer", id).Msg("click on unknown layer")
		return nil
	}
	return l.Exec(widget.WithInstance(ctx, instance))
}

// sessionContext tags ctx with the widget and instance of sess for logging.
func sessionContext(ctx context.Context, sess Session) context.Context {
	return logger.WithInstance(logger.WithWidget(ctx, sess.Widget), sess.Instance)
}

// Refresh asks every instance of a widget to rebuild its configuration.
func (h *Handler) Refresh(ctx context.Context, name string) error {
	if _, err := h.registry.Get(name); err != nil {
		return err
	}
	return h.bus.Publish(ctx, service.Event{Kind: service.EventRefresh, Widget: name})
}

// CreateMarker stores a marker at the instance's last clicked position.
// Nothing is stored when validation or the insert fails.
func (h *Handler) CreateMarker(ctx context.Context, instance string, form MarkerForm) (id int64, err error) {
	sess, err := h.sessions.Get(instance)
	if err != nil {
		return 0, err
	}
	defer func() { observability.IncMarkerCreated(sess.Widget, err) }()

	def, err := h.registry.Get(sess.Widget)
	if err != nil {
		return 0, err
	}
	m := def.Markers
	if m == nil || h.store == nil {
		return 0, widget.ErrNoMarkerModel
	}
	if sess.Clicked == nil {
		return 0, ErrNoPosition
	}
	if err := form.Validate(); err != nil {
		return 0, err
	}

	data, err := markerRow(m, form, *sess.Clicked)
	if err != nil {
		return 0, fmt.Errorf("creating marker: %w", err)
	}
	id, err = h.store.Insert(ctx, m.Table, data)
	if err != nil {
		return 0, fmt.Errorf("creating marker: %w", err)
	}
	h.sessions.ClearClicked(instance)
	log := logger.FromContext(sessionContext(ctx, sess), h.log)
	log.Info().Str("table", m.Table).Int64("id", id).Msg("marker created")

	if err := h.bus.Publish(ctx, service.Event{Kind: service.EventRefresh, Widget: sess.Widget}); err != nil {
		log.Warn().Err(err).Msg("publish refresh")
	}
	if err := h.bus.Publish(ctx, service.Event{
		Kind: service.EventNotify, Widget: sess.Widget, Instance: instance, Message: "Marker created",
	}); err != nil {
		log.Warn().Err(err).Msg("publish notify")
	}
	return id, nil
}

// markerRow maps a form onto the columns of a marker model. Coordinates go
// to two columns, or to one JSON object column when the model has one.
func markerRow(m *widget.MarkerModel, form MarkerForm, at layer.LatLng) (map[string]any, error) {
	mapping := m.Mapping()
	c, _ := layer.ParseColor(form.Color)
	row := map[string]any{
		mapping.TitleColumn: form.Name,
		mapping.ColorColumn: string(c),
	}
	if form.Description != "" {
		row[m.DescriptionColumnName()] = form.Description
	}
	if m.JSONColumn != "" {
		raw, err := json.Marshal(map[string]float64{
			m.LatColumnName(): at.Lat(),
			m.LngColumnName(): at.Lng(),
		})
		if err != nil {
			return nil, err
		}
		row[m.JSONColumn] = string(raw)
	} else {
		row[m.LatColumnName()] = at.Lat()
		row[m.LngColumnName()] = at.Lng()
	}
	return row, nil
}

// Widgets lists the loaded widget names.
func (h *Handler) Widgets() []string {
	return h.registry.Names()
}
