package render

import (
	"html"
	"sort"
	"strings"

	"github.com/joeblew999/plat-mapwidget/internal/layer"
)

// PopupHTML composes the popup markup of an entry's popup object. Title,
// labels and values are escaped; content is trusted markup from the server.
func PopupHTML(instance string, p Entry) string {
	var b strings.Builder
	b.WriteString(`<div class="custom-popup-`)
	b.WriteString(html.EscapeString(instance))
	b.WriteString(`">`)

	if title := p.String("title"); title != "" {
		b.WriteString("<h4>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</h4>")
	}
	b.WriteString(p.String("content"))

	for _, f := range popupFields(p) {
		b.WriteString(`<p><span class="field-label">`)
		b.WriteString(html.EscapeString(f[0]))
		b.WriteString(":</span> ")
		b.WriteString(html.EscapeString(f[1]))
		b.WriteString("</p>")
	}

	b.WriteString("</div>")
	return b.String()
}

// popupFields reads the ordered [{label, value}] list. A plain object is
// accepted too and rendered in key order.
func popupFields(p Entry) [][2]string {
	if m := p.Map("fields"); m != nil {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([][2]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, [2]string{k, text(m[k])})
		}
		return out
	}
	var out [][2]string
	for _, f := range p.Entries("fields") {
		out = append(out, [2]string{f.String("label"), text(f["value"])})
	}
	return out
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	if n, ok := number(v); ok {
		return formatNumber(n)
	}
	if b, ok := v.(bool); ok {
		if b {
			return "true"
		}
		return "false"
	}
	return ""
}

// decorate binds popup, tooltip, click and hover handlers to a built layer.
func (e *Engine) decorate(h Handle, entry Entry) {
	if p := entry.Entry("popup"); p != nil {
		h.BindPopup(PopupHTML(e.opts.InstanceID, p), p.Map("options"))
	}
	if t := entry.Entry("tooltip"); t != nil {
		if content := t.String("content"); content != "" {
			h.BindTooltip(content, t.Map("options"))
		}
	}

	// child clicks bubble to the cluster container, so only children
	// report clicks
	id := entry.String("id")
	isCluster := layer.Kind(entry.String("type")) == layer.KindCluster
	if entry.Bool("clickAction") && id != "" && !isCluster && e.opts.Bridge != nil {
		bridge := e.opts.Bridge
		h.On("click", func() { bridge.OnLayerClick(id) })
	}

	for _, hover := range [][2]string{{"mouseover", "onMouseOver"}, {"mouseout", "onMouseOut"}} {
		event, name := hover[0], entry.String(hover[1])
		if name == "" {
			continue
		}
		fn, ok := e.opts.Handlers.Lookup(name)
		if !ok {
			e.log.Warn().Str("layer", id).Str("handler", name).Msg("unknown hover handler, skipped")
			continue
		}
		hc := HoverContext{Handle: h, LayerID: id, Options: entry.Map("options")}
		h.On(event, func() { fn(hc) })
	}
}
