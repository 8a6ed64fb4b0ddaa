// Package server wires the widget registry, the record store, the event bus
// and the bridge into one chi router serving the Huma API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-mapwidget/internal/api"
	"github.com/joeblew999/plat-mapwidget/internal/bridge"
	"github.com/joeblew999/plat-mapwidget/internal/db"
	"github.com/joeblew999/plat-mapwidget/internal/logger"
	"github.com/joeblew999/plat-mapwidget/internal/service"
	"github.com/joeblew999/plat-mapwidget/internal/templates"
	"github.com/joeblew999/plat-mapwidget/internal/widget"
)

// Config holds the server configuration.
type Config struct {
	Host        string
	Port        string
	DataDir     string // empty keeps the record store in memory
	WebDir      string // Path to web/ directory for static files and templates
	WidgetsPath string // YAML file or directory of widget definitions
	RedisAddr   string // empty uses the in-process bus
	// SessionCacheSize bounds the live instances kept per replica.
	SessionCacheSize int
}

// Server is the map widget HTTP server.
type Server struct {
	config   Config
	log      *zerolog.Logger
	router   chi.Router
	humaAPI  huma.API
	db       *sql.DB
	store    *db.Store
	registry *widget.Registry
	bridge   *bridge.Handler
	redis    *service.RedisBus
}

// New loads the widget definitions and builds the server around them.
func New(ctx context.Context, cfg Config, log *zerolog.Logger) (*Server, error) {
	if log == nil {
		nop := logger.Nop()
		log = &nop
	}

	registry, err := widget.LoadDefinitions(cfg.WidgetsPath)
	if err != nil {
		return nil, fmt.Errorf("load widgets: %w", err)
	}

	s := &Server{config: cfg, log: log, registry: registry}

	// a nil *db.Store must not reach the store interfaces
	var store bridge.Store
	conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "mapwidget"})
	if err != nil {
		log.Warn().Err(err).Msg("duckdb unavailable, marker models disabled")
	} else {
		s.db = conn
		s.store = db.NewStore(conn)
		store = s.store
	}

	var bus service.Bus = service.DefaultBus
	if cfg.RedisAddr != "" {
		rb, err := service.NewRedisBus(ctx, cfg.RedisAddr, "", log)
		if err != nil {
			return nil, err
		}
		s.redis = rb
		bus = rb
	}

	renderer := templates.Default()
	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if _, err := os.Stat(fragmentsDir); err == nil {
			r, err := templates.New(os.DirFS(fragmentsDir))
			if err != nil {
				return nil, fmt.Errorf("templates %s: %w", fragmentsDir, err)
			}
			renderer = r
			log.Info().Str("dir", fragmentsDir).Msg("loaded fragment templates")
		}
	}

	s.bridge = bridge.NewHandler(bridge.Options{
		Registry: registry,
		Store:    store,
		Bus:      bus,
		Sessions: bridge.NewSessions(cfg.SessionCacheSize),
		Renderer: renderer,
		Logger:   log,
	})
	if err := s.bridge.EnsureModels(ctx); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.routes(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) routes() error {
	sl := logger.NewSlog(s.log)
	r := chi.NewRouter()
	r.Use(Recover(sl))
	r.Use(Logging(sl))

	humaConfig := huma.DefaultConfig("plat-mapwidget API", "1.0.0")
	humaConfig.Info.Description = "Declarative map widgets: configuration payloads, interaction callbacks and refresh streams."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", s.config.Host, s.config.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s.humaAPI = humachi.New(r, humaConfig)

	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.registry, s.bridge))
	busName := "memory"
	if s.redis != nil {
		busName = "redis"
	}
	api.NewInfoHandler(s.config.DataDir, s.db != nil, busName, len(s.registry.Names())).RegisterRoutes(s.humaAPI)

	var records widget.RecordStore
	if s.store != nil {
		records = s.store
	}
	api.NewDBHandler(s.db, records, s.registry).RegisterRoutes(s.humaAPI)

	if err := s.bridge.RegisterRoutes(s.humaAPI); err != nil {
		return fmt.Errorf("bridge routes: %w", err)
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	r.Get("/", s.handleRoot)

	s.router = r
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Bridge returns the interaction bridge.
func (s *Server) Bridge() *bridge.Handler {
	return s.bridge
}

// Close closes server resources.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, db.Close())
	return errors.Join(errs...)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: event streams stay open
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"service":"plat-mapwidget","status":"running"}`)
}
