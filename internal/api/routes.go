// Package api defines the Huma routes describing the server and its widgets.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapwidget/internal/humastar"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

// Builder assembles widget configurations.
type Builder interface {
	Build(ctx context.Context, name string) (widget.Config, error)
}

// Types

type WidgetInput struct {
	Name string `path:"widget" doc:"Widget name" example:"stores"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type WidgetSummary struct {
	Name       string `json:"name" doc:"Widget name"`
	Heading    string `json:"heading,omitempty" doc:"Heading shown above the map"`
	Markers    string `json:"markers,omitempty" doc:"Table of user-created markers"`
	Shapes     int    `json:"shapes" doc:"Number of static shapes"`
	Choropleth bool   `json:"choropleth" doc:"Whether the widget draws a density overlay"`
	PageURL    string `json:"page_url" doc:"Standalone page hosting the widget"`
}

type WidgetDetail struct {
	WidgetSummary
	Config widget.Config `json:"config" doc:"Configuration a new instance starts with"`
}

var widgetActions = []humastar.ActionDef{
	{Rel: "open", Pattern: "/api/v1/widgets/%s/instances", Method: "POST", Title: "Open an instance"},
	{Rel: "refresh", Pattern: "/api/v1/widgets/%s/refresh", Method: "POST", Title: "Push a fresh configuration to every instance"},
	{Rel: "records", Pattern: "/api/v1/widgets/%s/records", Method: "GET", Title: "Stored markers"},
}

// Actions lists what can be done with the widget; records only exist
// behind a marker model.
func (d WidgetDetail) Actions() []humastar.Action {
	return humastar.ActionsFor(d.Name, widgetActions, func(rel string) bool {
		return rel != "records" || d.Markers != ""
	})
}

// APIHandler holds the REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	registry *widget.Registry
	builder  Builder
}

func NewAPIHandler(registry *widget.Registry, builder Builder) *APIHandler {
	return &APIHandler{registry: registry, builder: builder}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterWidgets registers widget listing routes.
func (h *APIHandler) RegisterWidgets(api huma.API) {
	huma.Get(api, "/api/v1/widgets", h.GetWidgets, huma.OperationTags("widgets"))
	huma.Get(api, "/api/v1/widgets/{widget}", h.GetWidget, huma.OperationTags("widgets"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func summary(d *widget.Definition) WidgetSummary {
	s := WidgetSummary{
		Name:       d.Name,
		Heading:    d.Heading,
		Shapes:     len(d.Shapes),
		Choropleth: d.GeoJSON != nil,
		PageURL:    "/widgets/" + d.Name,
	}
	if d.Markers != nil {
		s.Markers = d.Markers.Table
	}
	return s
}

func (h *APIHandler) GetWidgets(ctx context.Context, input *struct{}) (*struct{ Body []WidgetSummary }, error) {
	out := []WidgetSummary{}
	for _, name := range h.registry.Names() {
		d, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		out = append(out, summary(d))
	}
	return &struct{ Body []WidgetSummary }{Body: out}, nil
}

func (h *APIHandler) GetWidget(ctx context.Context, input *WidgetInput) (*struct{ Body WidgetDetail }, error) {
	d, err := h.registry.Get(input.Name)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	cfg, err := h.builder.Build(ctx, input.Name)
	if err != nil {
		if errors.Is(err, widget.ErrUnknownWidget) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("Failed to build configuration", err)
	}
	return &struct{ Body WidgetDetail }{Body: WidgetDetail{WidgetSummary: summary(d), Config: cfg}}, nil
}
