package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http/httptest"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-mapwidget/internal/logger"
	"github.com/joeblew999/plat-mapwidget/internal/render"
	"github.com/joeblew999/plat-mapwidget/internal/render/memsurface"
	"github.com/joeblew999/plat-mapwidget/internal/server"
)

// Options defines all CLI flags and env vars for the widget server.
// Flags: --host, --port, --data-dir, --web-dir, --widgets-path, --log-level,
// --log-console, --redis-addr, --session-cache-size
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host             string `doc:"Host to bind to" default:"0.0.0.0"`
	Port             int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir          string `doc:"Directory for the marker database (empty keeps it in memory)" default:".data"`
	WebDir           string `doc:"Path to web/ directory" default:"web"`
	WidgetsPath      string `doc:"Widget definition file or directory" default:"widgets"`
	LogLevel         string `doc:"Log level: debug, info, warn, error" default:"info"`
	LogConsole       bool   `doc:"Human readable logs" default:"false"`
	RedisAddr        string `doc:"Redis address carrying refreshes between replicas (empty: in-process)"`
	SessionCacheSize int    `doc:"Live widget instances kept in memory" default:"4096"`
}

func newLogger(opts *Options) *zerolog.Logger {
	l := logger.Build(logger.Config{Level: opts.LogLevel, Console: opts.LogConsole, Component: "mapwidget"}, os.Stderr)
	return &l
}

func newServer(ctx context.Context, opts *Options) *server.Server {
	srv, err := server.New(ctx, server.Config{
		Host:             opts.Host,
		Port:             fmt.Sprintf("%d", opts.Port),
		DataDir:          opts.DataDir,
		WebDir:           opts.WebDir,
		WidgetsPath:      opts.WidgetsPath,
		RedisAddr:        opts.RedisAddr,
		SessionCacheSize: opts.SessionCacheSize,
	}, newLogger(opts))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return srv
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := newServer(ctx, opts)
			defer srv.Close()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-mapwidget server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Widgets: %s\n", opts.WidgetsPath)
			fmt.Println()
			fmt.Printf("  Pages:   %s/widgets/{name}\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := srv.Run(ctx, addr); err != nil {
				fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
				os.Exit(1)
			}
		})
	})

	cli.Root().Use = "mapwidget"
	cli.Root().Short = "Declarative map widgets served over HTTP"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(cmd.Context(), opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// config subcommand: print the payload a new instance starts with
	configCmd := &cobra.Command{
		Use:   "config <widget>",
		Short: "Print the built configuration of a widget",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(cmd.Context(), opts)
			defer srv.Close()
			cfg, err := srv.Bridge().Build(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			out, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(out))
		}),
	}
	cli.Root().AddCommand(configCmd)

	// preview subcommand: render a widget off-screen
	previewCmd := &cobra.Command{
		Use:   "preview <widget>",
		Short: "Render a widget on an in-memory map and summarize the result",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			if err := preview(cmd.Context(), opts, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	cli.Root().AddCommand(previewCmd)

	cli.Run()
}

// preview serves the widget in-process so relative GeoJSON URLs resolve
// against the static files, then renders it on a memsurface map.
func preview(ctx context.Context, opts *Options, name string) error {
	srv := newServer(ctx, opts)
	defer srv.Close()

	sess, err := srv.Bridge().Open(name)
	if err != nil {
		return err
	}
	cfg, err := srv.Bridge().Config(ctx, sess.Instance)
	if err != nil {
		return err
	}

	ts := httptest.NewServer(srv)
	defer ts.Close()

	target := memsurface.NewTarget()
	mapID := "map-" + sess.Instance
	engine := render.New(render.Options{
		InstanceID: sess.Instance,
		MapID:      mapID,
		Target:     target,
		Fetcher:    render.NewHTTPFetcher(ts.URL),
		Logger:     newLogger(opts),
		Async:      func(fn func()) { fn() },
	})
	if err := engine.Init(ctx, cfg); err != nil {
		return err
	}
	defer engine.Dispose()

	m := target.Map(mapID)
	center, zoom := m.View()
	fmt.Printf("widget %s (instance %s, version %s)\n", name, sess.Instance, cfg.Version)
	fmt.Printf("  view:     %.5f, %.5f @ zoom %d\n", center.Lat(), center.Lng(), zoom)

	kinds := map[string]int{}
	for _, l := range m.Layers() {
		kinds[l.Kind]++
	}
	fmt.Println("  layers:")
	for _, k := range slices.Sorted(maps.Keys(kinds)) {
		fmt.Printf("    %-14s %d\n", k, kinds[k])
	}

	fmt.Println("  controls:")
	for _, c := range m.Controls() {
		switch {
		case len(c.Bases)+len(c.Overlays) > 0:
			fmt.Printf("    %-14s bases=%v overlays=%v\n", c.Kind, c.Bases, c.Overlays)
		case c.ClassName != "":
			fmt.Printf("    %-14s %s\n", c.Kind, c.ClassName)
		default:
			fmt.Printf("    %s\n", c.Kind)
		}
	}
	return nil
}
