package layer

import (
	"strconv"
)

// Entry is one node of the configuration tree: plain maps, slices and
// scalars only, safe to encode as JSON.
type Entry map[string]any

// DropFunc observes layers removed by Serialize for failing validation.
type DropFunc func(kind Kind)

// AssignIDs returns a copy of layers where every layer without an explicit id
// gets "{type}-{n}", n counting from 1 per type within this call. Counters
// advance over every layer, valid or not, so the same input always maps to
// the same ids. Cluster children draw from the marker counter.
func AssignIDs(layers []Layer) []Layer {
	counters := map[Kind]int{}
	next := func(k Kind) string {
		counters[k]++
		return string(k) + "-" + strconv.Itoa(counters[k])
	}

	out := make([]Layer, len(layers))
	for i, l := range layers {
		if l.ID == "" && l.Geometry != nil {
			l.ID = next(l.Kind())
		}
		if c, ok := l.Geometry.(Cluster); ok {
			children := make([]Layer, len(c.Markers))
			for j, m := range c.Markers {
				if m.ID == "" && m.Geometry != nil {
					m.ID = next(m.Kind())
				}
				children[j] = m
			}
			c.Markers = children
			l.Geometry = c
		}
		out[i] = l
	}
	return out
}

// Serialize converts layers to configuration entries. Layers failing
// validation are dropped without error; onDrop, if non-nil, sees each one.
func Serialize(layers []Layer, onDrop DropFunc) []Entry {
	entries := make([]Entry, 0, len(layers))
	for _, l := range AssignIDs(layers) {
		if !l.Valid() {
			if onDrop != nil {
				onDrop(l.Kind())
			}
			continue
		}
		entries = append(entries, l.entry(onDrop))
	}
	return entries
}

// Find returns the layer with the given id after id assignment, searching
// cluster children too.
func Find(layers []Layer, id string) (Layer, bool) {
	for _, l := range AssignIDs(layers) {
		if l.ID == id {
			return l, true
		}
		if c, ok := l.Geometry.(Cluster); ok {
			for _, m := range c.Markers {
				if m.ID == id {
					return m, true
				}
			}
		}
	}
	return Layer{}, false
}

func (l Layer) entry(onDrop DropFunc) Entry {
	e := Entry{
		"id":          l.ID,
		"type":        string(l.Kind()),
		"group":       l.Group,
		"clickAction": l.Action != nil,
		"onMouseOver": l.OnMouseOver,
		"onMouseOut":  l.OnMouseOut,
	}
	if t := l.Tooltip.entry(); t != nil {
		e["tooltip"] = t
	}
	if p := l.Popup.entry(); p != nil {
		e["popup"] = p
	}
	for k, v := range l.Geometry.fields() {
		e[k] = v
	}
	if c, ok := l.Geometry.(Cluster); ok {
		children := make([]Entry, 0, len(c.Markers))
		for _, m := range c.Markers {
			if m.Kind() != KindMarker || !m.Valid() {
				if onDrop != nil {
					onDrop(m.Kind())
				}
				continue
			}
			children = append(children, m.entry(onDrop))
		}
		e["markers"] = children
	}
	return compact(e)
}

func (t *Tooltip) entry() Entry {
	if t == nil || t.Content == "" {
		return nil
	}
	opts := map[string]any{}
	for k, v := range t.Options {
		opts[k] = v
	}
	opts["permanent"] = t.Permanent
	dir := t.Direction
	if dir == "" {
		dir = DirectionAuto
	}
	opts["direction"] = string(dir)
	return Entry{"content": t.Content, "options": opts}
}

func (p *Popup) entry() Entry {
	if p == nil {
		return nil
	}
	e := Entry{}
	if p.Title != "" {
		e["title"] = p.Title
	}
	if p.Content != "" {
		e["content"] = p.Content
	}
	if len(p.Fields) > 0 {
		fields := make([]map[string]any, len(p.Fields))
		for i, f := range p.Fields {
			fields[i] = map[string]any{"label": f.Label, "value": f.Value}
		}
		e["fields"] = fields
	}
	if len(p.Options) > 0 {
		e["options"] = p.Options
	}
	if len(e) == 0 {
		return nil
	}
	return e
}

// compact removes absent values: nil, empty strings and nil maps.
func compact(e Entry) Entry {
	for k, v := range e {
		switch x := v.(type) {
		case nil:
			delete(e, k)
		case string:
			if x == "" {
				delete(e, k)
			}
		case map[string]any:
			if x == nil {
				delete(e, k)
			}
		case Entry:
			if x == nil {
				delete(e, k)
			}
		}
	}
	return e
}
