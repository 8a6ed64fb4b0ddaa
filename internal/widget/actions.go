package widget

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
)

// ActionContext identifies the click that triggered an action.
type ActionContext struct {
	Widget   string
	Instance string // empty when the click did not come from a live instance
	LayerID  string
	Args     map[string]string
}

type instanceKey struct{}

// WithInstance tags ctx with the widget instance a click came from.
func WithInstance(ctx context.Context, instance string) context.Context {
	return context.WithValue(ctx, instanceKey{}, instance)
}

func instanceFrom(ctx context.Context) string {
	s, _ := ctx.Value(instanceKey{}).(string)
	return s
}

// Action is a named server-side click handler usable from YAML.
type Action func(ctx context.Context, ac ActionContext) error

// Actions is the registry of named click actions. The zero value is not
// usable; call NewActions.
type Actions struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActions returns an empty registry.
func NewActions() *Actions {
	return &Actions{actions: make(map[string]Action)}
}

// Register adds or replaces a named action.
func (a *Actions) Register(name string, fn Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions[name] = fn
}

// Names lists registered actions in sorted order.
func (a *Actions) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.actions))
	for n := range a.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bind resolves ref into a layer click callback. The layer id is read from
// the context at click time, after id assignment.
func (a *Actions) Bind(widget string, ref *ActionRef) (layer.ActionFunc, error) {
	if ref == nil {
		return nil, nil
	}
	if a == nil {
		return nil, fmt.Errorf("action %q: no actions registered", ref.Name)
	}
	a.mu.RLock()
	fn, ok := a.actions[ref.Name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown action %q", ref.Name)
	}
	return func(ctx context.Context) error {
		return fn(ctx, ActionContext{
			Widget:   widget,
			Instance: instanceFrom(ctx),
			LayerID:  layer.IDFrom(ctx),
			Args:     ref.Args,
		})
	}, nil
}
