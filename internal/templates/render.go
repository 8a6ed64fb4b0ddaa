// Package templates renders the widget page and the HTML fragments pushed
// over Datastar SSE.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"sync"
)

//go:embed fragments/*.html
var builtin embed.FS

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	// raw marks server-built markup as safe
	"raw": func(s string) template.HTML { return template.HTML(s) },
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// New parses every *.html file of fsys.
func New(fsys fs.FS) (*Renderer, error) {
	tmpl, err := parse(fsys)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// Default returns a renderer over the embedded fragments.
func Default() *Renderer {
	sub, err := fs.Sub(builtin, "fragments")
	if err != nil {
		panic(err)
	}
	r, err := New(sub)
	if err != nil {
		panic(err)
	}
	return r
}

func parse(fsys fs.FS) (*template.Template, error) {
	return template.New("").Funcs(funcMap).ParseFS(fsys, "*.html")
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Define adds or replaces a named template at runtime.
func (r *Renderer) Define(name, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.templates.Parse(fmt.Sprintf(`{{define %q}}%s{{end}}`, name, text)); err != nil {
		return fmt.Errorf("define %s: %w", name, err)
	}
	return nil
}
