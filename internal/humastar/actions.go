package humastar

import "fmt"

// Action is a state-dependent hypermedia action link. Response bodies
// implement Actor to emit them as RFC 8288 Link headers:
//
//	</api/v1/widgets/stores/instances>; rel="open"; method="POST"; title="Open an instance"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
	Schema string // optional JSON Schema URL for the request body
}

// Actor is implemented by response bodies that provide state-dependent actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as a Link header value.
func (a Action) LinkHeader() string {
	h := fmt.Sprintf(`<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		h += fmt.Sprintf(`; method="%s"`, a.Method)
	}
	if a.Title != "" {
		h += fmt.Sprintf(`; title="%s"`, a.Title)
	}
	if a.Schema != "" {
		h += fmt.Sprintf(`; schema="%s"`, a.Schema)
	}
	return h
}

// ActionDef is an action template; Pattern holds one %s for the resource id.
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
	Schema  string
}

// ActionsFor expands defs for one resource id. A def is kept only when
// enabled reports true for its rel; nil keeps them all.
func ActionsFor(id string, defs []ActionDef, enabled func(rel string) bool) []Action {
	actions := make([]Action, 0, len(defs))
	for _, d := range defs {
		if enabled != nil && !enabled(d.Rel) {
			continue
		}
		actions = append(actions, Action{
			Rel:    d.Rel,
			Href:   fmt.Sprintf(d.Pattern, id),
			Method: d.Method,
			Title:  d.Title,
			Schema: d.Schema,
		})
	}
	return actions
}
