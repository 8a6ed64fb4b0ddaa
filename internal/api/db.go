package api

import (
	"context"
	"database/sql"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

// DBHandler exposes the stored marker records.
type DBHandler struct {
	db       *sql.DB
	store    widget.RecordStore
	registry *widget.Registry
}

// NewDBHandler creates a new database handler. db and store may be nil when
// the server runs without a database.
func NewDBHandler(db *sql.DB, store widget.RecordStore, registry *widget.Registry) *DBHandler {
	return &DBHandler{db: db, store: store, registry: registry}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("records"))
	huma.Get(api, "/api/v1/widgets/{widget}/records", h.ListRecords, huma.OperationTags("records"))
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			out.Body.Tables = append(out.Body.Tables, name)
		}
	}
	return out, nil
}

// RecordsOutput is the response for listing a widget's marker records.
type RecordsOutput struct {
	Body struct {
		Table   string           `json:"table" doc:"Record table"`
		Columns []string         `json:"columns" doc:"Column names"`
		Rows    []map[string]any `json:"rows" doc:"Stored records ordered by id"`
		Count   int              `json:"count" doc:"Number of rows returned"`
	}
}

// ListRecords returns the marker records behind a widget.
func (h *DBHandler) ListRecords(ctx context.Context, input *WidgetInput) (*RecordsOutput, error) {
	d, err := h.registry.Get(input.Name)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	if d.Markers == nil {
		return nil, huma.Error404NotFound("widget has no marker model")
	}
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	records, err := h.store.List(ctx, d.Markers.Table)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list records", err)
	}

	out := &RecordsOutput{}
	out.Body.Table = d.Markers.Table
	out.Body.Columns = []string{}
	out.Body.Rows = make([]map[string]any, 0, len(records))
	for i, r := range records {
		if i == 0 {
			out.Body.Columns = r.Columns
		}
		out.Body.Rows = append(out.Body.Rows, r.Values)
	}
	out.Body.Count = len(out.Body.Rows)
	return out, nil
}
