// extensions.go: Injects x-datastar extensions into OpenAPI schemas.
//
// At server startup, InjectExtensions walks registered schemas and adds:
//   - x-datastar (per-schema): prefix, formTemplate
//   - x-signal, x-input (per-property): from Go struct tags
//
// These extensions make the OpenAPI document carry all Datastar metadata, so
// the form renderer and the page signal builder read from it instead of
// re-walking struct tags.
package humastar

import (
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// DatastarSchema defines per-schema Datastar form metadata.
// This is injected as the "x-datastar" extension on OpenAPI schemas.
type DatastarSchema struct {
	Prefix   string `json:"prefix"`       // Signal prefix (e.g. "marker")
	FormTmpl string `json:"formTemplate"` // HTML template name (e.g. "marker-form")
}

// DatastarSchemaConfig registers a Go type for Datastar form extensions.
type DatastarSchemaConfig struct {
	Type     reflect.Type
	Prefix   string // Signal prefix (e.g. "marker")
	FormTmpl string // Template name (e.g. "marker-form")
}

// InjectExtensions walks the OpenAPI schema registry and adds x-datastar,
// x-signal and x-input extensions from Go struct tags.
// Call after all routes are registered so schemas exist.
func InjectExtensions(api huma.API, configs []DatastarSchemaConfig) {
	schemas := api.OpenAPI().Components.Schemas.Map()

	for _, cfg := range configs {
		name := cfg.Type.Name()
		schema, ok := schemas[name]
		if !ok {
			continue
		}

		// Per-schema extension
		if schema.Extensions == nil {
			schema.Extensions = map[string]any{}
		}
		schema.Extensions["x-datastar"] = DatastarSchema{
			Prefix:   cfg.Prefix,
			FormTmpl: cfg.FormTmpl,
		}

		// Per-property extensions from struct tags
		injectPropertyExtensions(schema, cfg.Type)
	}
}

func injectPropertyExtensions(schema *huma.Schema, t reflect.Type) {
	for i := range t.NumField() {
		sf := t.Field(i)

		// Find the matching property in the schema
		jsonName := jsonFieldName(sf)
		if jsonName == "" {
			continue
		}

		prop, ok := schema.Properties[jsonName]
		if !ok {
			continue
		}

		// Collect custom tags
		ext := map[string]any{}

		if sig := sf.Tag.Get("signal"); sig != "" {
			ext["x-signal"] = sig
		}
		if inp := sf.Tag.Get("input"); inp != "" {
			ext["x-input"] = inp
		}

		if len(ext) > 0 {
			if prop.Extensions == nil {
				prop.Extensions = map[string]any{}
			}
			for k, v := range ext {
				prop.Extensions[k] = v
			}
		}
	}
}

// jsonFieldName returns the JSON property name of a struct field, or "".
func jsonFieldName(sf reflect.StructField) string {
	name := sf.Tag.Get("json")
	if idx := strings.IndexByte(name, ','); idx >= 0 {
		name = name[:idx]
	}
	if name == "-" {
		return ""
	}
	return name
}
