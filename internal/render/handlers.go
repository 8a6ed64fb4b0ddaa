package render

import (
	"maps"
	"sync"
)

// HoverContext is passed to a hover handler.
type HoverContext struct {
	Handle  Handle
	LayerID string
	Options map[string]any
}

// HoverFunc reacts to a mouseover or mouseout on a layer.
type HoverFunc func(hc HoverContext)

// Handlers resolves the hover handler names carried by layer entries.
// Entries can only reference handlers registered here; no script text from
// the payload is ever evaluated.
type Handlers struct {
	mu  sync.RWMutex
	fns map[string]HoverFunc
}

// HighlightStyle is applied by the built-in "highlight" handler.
var HighlightStyle = map[string]any{
	"weight":      5,
	"color":       "#666",
	"dashArray":   "",
	"fillOpacity": 0.7,
}

// NewHandlers returns a registry holding the built-in handlers:
// "highlight" restyles the layer, "reset" restores its configured options.
func NewHandlers() *Handlers {
	h := &Handlers{fns: make(map[string]HoverFunc)}
	h.Register("highlight", func(hc HoverContext) {
		if s, ok := hc.Handle.(Styler); ok {
			s.SetStyle(maps.Clone(HighlightStyle))
		}
	})
	h.Register("reset", func(hc HoverContext) {
		if s, ok := hc.Handle.(Styler); ok {
			style := maps.Clone(hc.Options)
			if style == nil {
				style = map[string]any{}
			}
			s.SetStyle(style)
		}
	})
	return h
}

// Register adds or replaces a named handler.
func (h *Handlers) Register(name string, fn HoverFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns[name] = fn
}

// Lookup finds a handler by name. A nil registry has none.
func (h *Handlers) Lookup(name string) (HoverFunc, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.fns[name]
	return fn, ok
}
