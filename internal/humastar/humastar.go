// Package humastar bridges Huma operations with Datastar server-sent events.
//
// A map instance talks to the server through two Datastar channels: the
// events stream, which patches fragments and signals into the instance's
// page, and form posts, whose body is the flat signal object. This package
// holds the pieces both sides share:
//   - SSE: a Datastar generator bound to a Huma streaming context, via [Handler.Stream]
//   - Signals: prefixed form signals, via [ParseSignals] and [Signals.Prefixed]
//   - Forms: Datastar-bound form fragments rendered from OpenAPI schemas
//   - Actions: state-dependent RFC 8288 action links via [Actor]
//
// Usage:
//
//	type Bridge struct {
//	    humastar.Handler
//	}
//
//	func (b *Bridge) Events(ctx context.Context, in *InstanceInput) (*huma.StreamResponse, error) {
//	    html, err := b.Renderer.Render("notice", data)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return b.Stream(func(sse humastar.SSE) {
//	        sse.Patch(html, "#notices-"+in.Instance)
//	    }), nil
//	}
package humastar

import (
	"encoding/json"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-mapwidget/internal/templates"
)

// Handler is embedded by Huma handlers that answer with Datastar streams.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream returns a StreamResponse that hands fn a ready SSE generator.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// SSE is a Datastar generator with the patches the map page uses.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE binds a Datastar generator to a Huma streaming context. The
// context must come from the chi adapter.
func NewSSE(ctx huma.Context) SSE {
	r, w := humachi.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the inner HTML of the element matching selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
		datastar.WithViewTransitions(),
	)
}

// Error sets the page's error signal.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Success sets the page's success signal.
func (s SSE) Success(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"success": msg})
}

// Signals patches arbitrary signals.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Signals is the flat signal object Datastar posts as the request body.
type Signals map[string]any

// ParseSignals decodes a Datastar request body.
func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns the string value of key, or "" when it is missing or not a
// string.
func (s Signals) String(key string) string {
	str, _ := s[key].(string)
	return str
}

// Prefixed returns the signals under prefix with the prefix stripped.
func (s Signals) Prefixed(prefix string) Signals {
	out := Signals{}
	for k, v := range s {
		if name, ok := strings.CutPrefix(k, prefix); ok && name != "" {
			out[name] = v
		}
	}
	return out
}
