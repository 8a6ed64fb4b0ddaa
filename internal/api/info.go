package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	bus     string
	widgets int
}

func NewInfoHandler(dataDir string, dbOK bool, bus string, widgets int) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, bus: bus, widgets: widgets}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether database is available"`
	Bus      string   `json:"bus" doc:"Event bus carrying refreshes" enum:"memory,redis"`
	Widgets  int      `json:"widgets" doc:"Number of loaded widgets"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"leaflet", "datastar", "choropleth"}
	if h.dbOK {
		features = append(features, "duckdb", "markers")
	}
	if h.bus == "redis" {
		features = append(features, "redis")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-mapwidget",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Bus:      h.bus,
		Widgets:  h.widgets,
		Features: features,
	}}, nil
}
