// pagedata.go: OpenAPI schemas to page signals.
//
// The widget page initializes its Datastar signals from the form schema
// defaults, so the HTML never hardcodes signal names. Sending the same
// values again clears a submitted form.
package humastar

import (
	"encoding/json"
	"maps"

	"github.com/danielgtaylor/huma/v2"
)

// PageSignals returns the data-signals JSON of a page hosting cfg's form.
// ui signals override schema defaults of the same name.
func PageSignals(api huma.API, cfg DatastarSchemaConfig, ui map[string]any) string {
	signals := ResetSignals(api, cfg)
	maps.Copy(signals, ui)
	b, _ := json.Marshal(signals)
	return string(b)
}

// ResetSignals produces the initial signal values from the OpenAPI schema.
// Sending them again clears a submitted form.
func ResetSignals(api huma.API, cfg DatastarSchemaConfig) map[string]any {
	schemas := api.OpenAPI().Components.Schemas.Map()
	schema, ok := schemas[cfg.Type.Name()]
	if !ok {
		return map[string]any{}
	}

	signals := map[string]any{}
	t := cfg.Type

	for i := range t.NumField() {
		sf := t.Field(i)

		jsonName := jsonFieldName(sf)
		if jsonName == "" {
			continue
		}

		prop, ok := schema.Properties[jsonName]
		if !ok {
			continue
		}

		// Skip non-primitive
		if prop.Type == "array" || prop.Type == "object" {
			continue
		}

		signal := cfg.Prefix + SignalSuffix(jsonName, prop)

		// Default value
		if prop.Default != nil {
			signals[signal] = prop.Default
		} else {
			switch prop.Type {
			case "boolean":
				signals[signal] = false
			case "number", "integer":
				signals[signal] = 0
			default:
				signals[signal] = ""
			}
		}
	}

	return signals
}
