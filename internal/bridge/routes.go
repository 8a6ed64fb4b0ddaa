package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"maps"
	"net/http"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapwidget/internal/bridge/client"
	"github.com/joeblew999/plat-mapwidget/internal/humastar"
	"github.com/joeblew999/plat-mapwidget/internal/logger"
	"github.com/joeblew999/plat-mapwidget/internal/observability"
	"github.com/joeblew999/plat-mapwidget/internal/render"
	"github.com/joeblew999/plat-mapwidget/internal/service"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

// MarkerFormSchema binds MarkerForm to its Datastar signals and form
// template.
var MarkerFormSchema = humastar.DatastarSchemaConfig{
	Type:     reflect.TypeOf(MarkerForm{}),
	Prefix:   "marker",
	FormTmpl: "marker-form",
}

// WasmURL is where the browser loads the compiled render engine from.
const WasmURL = "/static/wasm/mapwidget.wasm"

// RegisterRoutes registers the bridge operations and the widget page. It
// also generates the marker creation form, so call it before serving.
func (h *Handler) RegisterRoutes(api huma.API) error {
	huma.Post(api, "/api/v1/widgets/{widget}/instances", h.OpenInstance,
		huma.OperationTags("widgets"), withStatus(http.StatusCreated))
	huma.Post(api, "/api/v1/widgets/{widget}/refresh", h.RefreshWidget,
		huma.OperationTags("widgets"), withStatus(http.StatusAccepted))

	huma.Get(api, "/api/v1/instances/{instance}/config", h.GetConfig,
		huma.OperationTags("instances"))
	huma.Post(api, "/api/v1/instances/{instance}/map-click", h.MapClick,
		huma.OperationTags("instances"))
	huma.Post(api, "/api/v1/instances/{instance}/layer-click", h.LayerClick,
		huma.OperationTags("instances"))
	huma.Post(api, "/api/v1/instances/{instance}/markers", h.PostMarker,
		huma.OperationTags("instances"))
	huma.Get(api, "/api/v1/instances/{instance}/events", h.Events,
		huma.OperationTags("instances"))

	huma.Get(api, "/widgets/{widget}", h.Page, func(o *huma.Operation) {
		o.Hidden = true
	})

	// The form schema is not referenced by any operation body.
	api.OpenAPI().Components.Schemas.Schema(MarkerFormSchema.Type, true, "")
	humastar.InjectExtensions(api, []humastar.DatastarSchemaConfig{MarkerFormSchema})
	if err := humastar.RegisterFormTemplates(api, h.Renderer); err != nil {
		return err
	}
	h.reset = humastar.ResetSignals(api, MarkerFormSchema)
	h.signals = humastar.PageSignals(api, MarkerFormSchema, map[string]any{
		"error":      "",
		"success":    "",
		"markeropen": false,
	})
	return nil
}

func withStatus(code int) func(*huma.Operation) {
	return func(o *huma.Operation) { o.DefaultStatus = code }
}

// httpError maps bridge errors onto Huma status errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, widget.ErrUnknownWidget), errors.Is(err, ErrUnknownInstance):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, widget.ErrNoMarkerModel):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, ErrInvalidMarker), errors.Is(err, ErrNoPosition):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError("internal error", err)
}

type WidgetInput struct {
	Widget string `path:"widget" doc:"Widget name"`
}

type InstanceInput struct {
	Instance string `path:"instance" doc:"Widget instance id"`
}

type InstanceBody struct {
	Widget    string `json:"widget" doc:"Widget name"`
	Instance  string `json:"instance" doc:"Instance id"`
	ConfigURL string `json:"config_url" doc:"Configuration of the instance"`
	EventsURL string `json:"events_url" doc:"Refresh stream of the instance"`
}

func instanceBody(s Session) InstanceBody {
	base := "/api/v1/instances/" + s.Instance
	return InstanceBody{Widget: s.Widget, Instance: s.Instance, ConfigURL: base + "/config", EventsURL: base + "/events"}
}

func (h *Handler) OpenInstance(ctx context.Context, input *WidgetInput) (*struct{ Body InstanceBody }, error) {
	sess, err := h.Open(input.Widget)
	if err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body InstanceBody }{Body: instanceBody(sess)}, nil
}

func (h *Handler) RefreshWidget(ctx context.Context, input *WidgetInput) (*struct{}, error) {
	if err := h.Refresh(ctx, input.Widget); err != nil {
		return nil, httpError(err)
	}
	return nil, nil
}

type ConfigInput struct {
	InstanceInput
	IfNoneMatch string `header:"If-None-Match" doc:"Version of a cached configuration"`
}

type ConfigOutput struct {
	ETag string `header:"ETag"`
	Body widget.Config
}

func (h *Handler) GetConfig(ctx context.Context, input *ConfigInput) (*ConfigOutput, error) {
	cfg, err := h.Config(ctx, input.Instance)
	if err != nil {
		return nil, httpError(err)
	}
	etag := `"` + cfg.Version + `"`
	if strings.Trim(input.IfNoneMatch, `W/"`) == cfg.Version {
		return nil, huma.Status304NotModified()
	}
	return &ConfigOutput{ETag: etag, Body: cfg}, nil
}

type MapClickInput struct {
	InstanceInput
	Body client.MapClick
}

func (h *Handler) MapClick(ctx context.Context, input *MapClickInput) (*struct{}, error) {
	if err := h.OnMapClick(ctx, input.Instance, input.Body.Lat, input.Body.Lng); err != nil {
		return nil, httpError(err)
	}
	return nil, nil
}

type LayerClickInput struct {
	InstanceInput
	Body client.LayerClick
}

func (h *Handler) LayerClick(ctx context.Context, input *LayerClickInput) (*struct{}, error) {
	if err := h.OnLayerClick(ctx, input.Instance, input.Body.ID); err != nil {
		return nil, httpError(err)
	}
	return nil, nil
}

type MarkerInput struct {
	InstanceInput
	RawBody []byte
}

// PostMarker creates a marker from the Datastar form signals. Outcomes are
// reported as signals on the response stream.
func (h *Handler) PostMarker(ctx context.Context, input *MarkerInput) (*huma.StreamResponse, error) {
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	fields := signals.Prefixed(MarkerFormSchema.Prefix)
	form := MarkerForm{
		Name:        strings.TrimSpace(fields.String("name")),
		Color:       fields.String("color"),
		Description: strings.TrimSpace(fields.String("description")),
	}

	return h.Stream(func(sse humastar.SSE) {
		if _, err := h.CreateMarker(ctx, input.Instance, form); err != nil {
			h.log.Warn().Err(err).Str("instance", input.Instance).Msg("marker not created")
			sse.Error(err.Error())
			return
		}
		reset := map[string]any{"error": "", "markeropen": false}
		maps.Copy(reset, h.reset)
		sse.Signals(reset)
	}), nil
}

// Events streams refreshes, notifications and the creation form to one
// instance until the client disconnects.
func (h *Handler) Events(ctx context.Context, input *InstanceInput) (*huma.StreamResponse, error) {
	sess, err := h.sessions.Get(input.Instance)
	if err != nil {
		return nil, httpError(err)
	}
	return h.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if !ev.Matches(sess.Widget, sess.Instance) {
					continue
				}
				h.push(ctx, sse, sess, ev)
			}
		}
	}), nil
}

func (h *Handler) push(ctx context.Context, sse humastar.SSE, sess Session, ev service.Event) {
	log := logger.FromContext(sessionContext(ctx, sess), h.log).With().Str("event", string(ev.Kind)).Logger()

	switch ev.Kind {
	case service.EventRefresh:
		cfg, err := h.Build(ctx, sess.Widget)
		if err != nil {
			log.Error().Err(err).Msg("rebuild configuration")
			sse.Error("Map could not be refreshed")
			return
		}
		if err := sse.DispatchCustomEvent(render.RefreshEvent(sess.Instance), cfg); err != nil {
			log.Debug().Err(err).Msg("dispatch refresh")
			return
		}
		observability.IncRefresh(sess.Widget)

	case service.EventOpenForm:
		current, err := h.sessions.Get(sess.Instance)
		if err != nil || current.Clicked == nil {
			return
		}
		def, err := h.registry.Get(sess.Widget)
		if err != nil || def.Markers == nil {
			return
		}
		html, err := h.Renderer.Render("marker-form-shell", map[string]any{
			"Cols":   def.Markers.Columns(),
			"Action": "/api/v1/instances/" + sess.Instance + "/markers",
			"Lat":    current.Clicked.Lat(),
			"Lng":    current.Clicked.Lng(),
		})
		if err != nil {
			log.Error().Err(err).Msg("render form")
			return
		}
		sse.Patch(html, "#form-"+sess.Instance)
		sse.Signals(map[string]any{"markeropen": true, "error": ""})

	case service.EventNotify:
		html, err := h.Renderer.Render("notice", map[string]any{"Kind": "success", "Message": ev.Message})
		if err != nil {
			log.Error().Err(err).Msg("render notice")
			return
		}
		sse.Patch(html, "#notices-"+sess.Instance)
		sse.Success(ev.Message)
	}
}

// PageInput selects the widget to render.
type PageInput struct {
	WidgetInput
}

type PageOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Page serves a standalone page hosting one new instance of a widget.
func (h *Handler) Page(ctx context.Context, input *PageInput) (*PageOutput, error) {
	def, err := h.registry.Get(input.Widget)
	if err != nil {
		return nil, httpError(err)
	}
	sess, err := h.Open(input.Widget)
	if err != nil {
		return nil, httpError(err)
	}
	cfg, err := h.Build(ctx, input.Widget)
	if err != nil {
		return nil, httpError(err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, httpError(err)
	}

	body, err := h.Renderer.Render("widget-page", map[string]any{
		"Heading":    def.Heading,
		"Signals":    h.signals,
		"EventsURL":  instanceBody(sess).EventsURL,
		"MapID":      "map-" + sess.Instance,
		"Height":     cfg.MapHeight,
		"Instance":   sess.Instance,
		"ConfigJSON": template.JS(raw),
		"APIBase":    "",
		"WasmURL":    WasmURL,
	})
	if err != nil {
		return nil, httpError(err)
	}
	return &PageOutput{ContentType: "text/html; charset=utf-8", Body: []byte(body)}, nil
}
