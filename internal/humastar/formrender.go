// formrender.go: Runtime HTML form generation from OpenAPI schemas.
//
// At server startup, RegisterFormTemplates walks schemas with x-datastar
// extensions and builds Datastar-bound HTML form fragments:
//
//	string                      → <input type="text">
//	string + enum               → <select> with options
//	string + x-input:"textarea" → <textarea>
//	boolean                     → <input type="checkbox">
//	number/integer              → <input type="number"> with min/max/step
//
// Each form is registered as a named Go template (e.g. "marker-form") in
// the Renderer.
package humastar

import (
	"fmt"
	"html"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapwidget/internal/templates"
)

// RegisterFormTemplates walks OpenAPI schemas with x-datastar extensions and
// registers their form templates in the Renderer.
//
// Call after InjectExtensions and before serving pages.
func RegisterFormTemplates(api huma.API, r *templates.Renderer) error {
	schemas := api.OpenAPI().Components.Schemas.Map()

	for name, schema := range schemas {
		ds, ok := schema.Extensions["x-datastar"]
		if !ok {
			continue
		}
		dsMeta, ok := ds.(DatastarSchema)
		if !ok || dsMeta.FormTmpl == "" {
			continue
		}
		if err := r.Define(dsMeta.FormTmpl, FormHTML(name, schema, dsMeta)); err != nil {
			return err
		}
	}
	return nil
}

// FormHTML builds the HTML form groups for a schema.
func FormHTML(name string, schema *huma.Schema, ds DatastarSchema) string {
	var b strings.Builder

	// Walk properties in required-first order, then alphabetical
	for _, jsonName := range sortedPropertyNames(schema) {
		prop := schema.Properties[jsonName]

		// Skip $schema (OpenAPI meta-property)
		if strings.HasPrefix(jsonName, "$") {
			continue
		}
		if prop.Type == "array" || prop.Type == "object" {
			continue
		}

		signal := ds.Prefix + SignalSuffix(jsonName, prop)
		required := slices.Contains(schema.Required, jsonName)
		label := prop.Description
		if label == "" {
			label = jsonName
		}
		label = html.EscapeString(label)

		xInput, _ := prop.Extensions["x-input"].(string)

		switch {
		case prop.Type == "boolean":
			renderCheckbox(&b, label, signal)
		case len(prop.Enum) > 0:
			renderEnumSelect(&b, label, signal, prop, required)
		case xInput == "textarea":
			renderTextarea(&b, label, signal, prop, required)
		case prop.Type == "number" || prop.Type == "integer":
			renderNumberInput(&b, label, signal, prop, required)
		default: // string text input
			renderTextInput(&b, label, signal, prop, required)
		}
	}

	return b.String()
}

// SignalSuffix returns the Datastar signal suffix of a property: the
// x-signal override or the lowercase JSON name.
func SignalSuffix(jsonName string, prop *huma.Schema) string {
	if sig, ok := prop.Extensions["x-signal"]; ok {
		return fmt.Sprint(sig)
	}
	return strings.ToLower(jsonName)
}

func renderTextInput(b *strings.Builder, label, signal string, prop *huma.Schema, required bool) {
	b.WriteString(`<div class="form-group">`)
	fmt.Fprintf(b, "\n    <label>%s</label>\n", label)
	fmt.Fprintf(b, `    <input type="text" data-bind:%s`, signal)
	if prop.MaxLength != nil {
		fmt.Fprintf(b, ` maxlength="%d"`, *prop.MaxLength)
	}
	if required {
		b.WriteString(` required`)
	}
	b.WriteString(">\n</div>\n")
}

func renderTextarea(b *strings.Builder, label, signal string, prop *huma.Schema, required bool) {
	b.WriteString(`<div class="form-group form-group-wide">`)
	fmt.Fprintf(b, "\n    <label>%s</label>\n", label)
	fmt.Fprintf(b, `    <textarea rows="3" data-bind:%s`, signal)
	if prop.MaxLength != nil {
		fmt.Fprintf(b, ` maxlength="%d"`, *prop.MaxLength)
	}
	if required {
		b.WriteString(` required`)
	}
	b.WriteString("></textarea>\n</div>\n")
}

func renderNumberInput(b *strings.Builder, label, signal string, prop *huma.Schema, required bool) {
	b.WriteString(`<div class="form-group">`)
	fmt.Fprintf(b, "\n    <label>%s</label>\n", label)
	fmt.Fprintf(b, `    <input type="number" data-bind:%s`, signal)
	if prop.Minimum != nil {
		fmt.Fprintf(b, ` min="%v"`, *prop.Minimum)
	}
	if prop.Maximum != nil {
		fmt.Fprintf(b, ` max="%v"`, *prop.Maximum)
	}
	// Step: use any for floats, 1 for integers
	if prop.Type == "number" {
		b.WriteString(` step="any"`)
	}
	if required {
		b.WriteString(` required`)
	}
	b.WriteString(">\n</div>\n")
}

func renderCheckbox(b *strings.Builder, label, signal string) {
	b.WriteString(`<div class="form-group">`)
	// Checkboxes: unchecked is a valid state, never mark required
	fmt.Fprintf(b, "\n    <label><input type=\"checkbox\" data-bind:%s> %s</label>\n</div>\n", signal, label)
}

func renderEnumSelect(b *strings.Builder, label, signal string, prop *huma.Schema, required bool) {
	b.WriteString(`<div class="form-group">`)
	fmt.Fprintf(b, "\n    <label>%s</label>\n", label)
	fmt.Fprintf(b, `    <select data-bind:%s`, signal)
	if required {
		b.WriteString(` required`)
	}
	b.WriteString(">\n")
	for _, v := range prop.Enum {
		s := html.EscapeString(fmt.Sprint(v))
		fmt.Fprintf(b, "        <option value=\"%s\">%s</option>\n", s, s)
	}
	b.WriteString("    </select>\n</div>\n")
}

// sortedPropertyNames returns property names: required first, then optional, both alphabetical.
func sortedPropertyNames(schema *huma.Schema) []string {
	var req, opt []string
	for name := range schema.Properties {
		if slices.Contains(schema.Required, name) {
			req = append(req, name)
		} else {
			opt = append(opt, name)
		}
	}
	slices.Sort(req)
	slices.Sort(opt)
	return append(req, opt...)
}
