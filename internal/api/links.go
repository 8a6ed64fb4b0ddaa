package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapwidget/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/widgets>; rel="widgets"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/widgets>; rel="widgets"`,
	},
	"/api/v1/widgets": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/tables>; rel="tables"`,
	},
	"/api/v1/widgets/{widget}": {
		`</api/v1/widgets>; rel="collection"`,
	},
	"/api/v1/widgets/{widget}/records": {
		`</api/v1/widgets>; rel="up"`,
	},
	"/api/v1/instances/{instance}/config": {
		`</api/v1/widgets>; rel="widgets"`,
	},
	"/api/v1/tables": {
		`</api/v1/widgets>; rel="widgets"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if a, ok := v.(humastar.Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}
