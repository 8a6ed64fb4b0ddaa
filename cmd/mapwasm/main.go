//go:build js && wasm

// Command mapwasm is the browser half of a widget page. The page starts it
// with argv [name, instance, mapID, apiBase]; it renders the configuration
// embedded in the page and re-renders whenever the server dispatches the
// instance's refresh event.
package main

import (
	"context"
	"encoding/json"
	"os"
	"syscall/js"

	"github.com/joeblew999/plat-mapwidget/internal/bridge/client"
	"github.com/joeblew999/plat-mapwidget/internal/logger"
	"github.com/joeblew999/plat-mapwidget/internal/render"
	"github.com/joeblew999/plat-mapwidget/internal/render/leaflet"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

func main() {
	log := logger.Build(logger.Config{Level: "info", Console: true, Component: "mapwasm"}, os.Stdout)
	if len(os.Args) < 3 {
		log.Error().Strs("args", os.Args).Msg("usage: mapwasm <instance> <map-id> [api-base]")
		return
	}
	instance, mapID := os.Args[1], os.Args[2]
	apiBase := ""
	if len(os.Args) > 3 {
		apiBase = os.Args[3]
	}
	if apiBase == "" {
		apiBase = js.Global().Get("location").Get("origin").String()
	}

	doc := js.Global().Get("document")
	el := doc.Call("getElementById", "config-"+instance)
	if el.IsNull() {
		log.Error().Str("instance", instance).Msg("configuration element missing")
		return
	}
	var cfg widget.Config
	if err := json.Unmarshal([]byte(el.Get("textContent").String()), &cfg); err != nil {
		log.Error().Err(err).Msg("decode configuration")
		return
	}

	engine := render.New(render.Options{
		InstanceID: instance,
		MapID:      mapID,
		Target:     leaflet.Target{},
		Bridge:     client.New(apiBase, instance, &log),
		Fetcher:    render.NewHTTPFetcher(apiBase),
		Logger:     &log,
	})
	ctx := context.Background()
	if err := engine.Init(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("init map")
		return
	}

	refresh := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) == 0 {
			return nil
		}
		raw := js.Global().Get("JSON").Call("stringify", args[0].Get("detail")).String()
		go func() {
			var next widget.Config
			if err := json.Unmarshal([]byte(raw), &next); err != nil {
				log.Warn().Err(err).Msg("decode refreshed configuration")
				return
			}
			if err := engine.ApplyConfiguration(ctx, next); err != nil {
				log.Warn().Err(err).Msg("apply configuration")
			}
		}()
		return nil
	})
	doc.Call("addEventListener", render.RefreshEvent(instance), refresh)

	unload := js.FuncOf(func(this js.Value, args []js.Value) any {
		doc.Call("removeEventListener", render.RefreshEvent(instance), refresh)
		engine.Dispose()
		return nil
	})
	js.Global().Call("addEventListener", "pagehide", unload)

	select {}
}
