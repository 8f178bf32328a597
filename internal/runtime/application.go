// Package runtime wires the gateway's dependencies and manages the
// HTTP server lifecycle.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/callgate/callgate/internal/config"
	"github.com/callgate/callgate/internal/db"
	"github.com/callgate/callgate/internal/dispatch"
	"github.com/callgate/callgate/internal/i18n"
	"github.com/callgate/callgate/internal/logging"
	"github.com/callgate/callgate/internal/metrics"
	"github.com/callgate/callgate/internal/middleware"
	"github.com/callgate/callgate/internal/router"
	"github.com/callgate/callgate/internal/websession"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logging.Logger
	dbSvc      *db.Service
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
	cron       *cron.Cron
	redis      *redis.Client
}

// NewApplication constructs an application from the given configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	log := logging.New(cfg.Logging)

	dbSvc, err := db.New(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dbSvc.AddObserver(metrics.CallObserver{})

	var redisClient *redis.Client
	var backend websession.Backend
	switch cfg.Session.Backend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		backend = websession.NewRedisBackend(redisClient, cfg.Session.Redis.KeyPrefix)
	default:
		backend = websession.NewMemoryBackend()
	}
	sessions := websession.NewManager(backend, cfg.Session.CookieName, cfg.Session.TTL.Std())

	var localization i18n.Resolver
	if len(cfg.Locale.Files) > 0 {
		bundles, err := i18n.Load(cfg.Locale.Files)
		if err != nil {
			return nil, fmt.Errorf("load locale bundles: %w", err)
		}
		localization = bundles
	}

	var source router.Source
	if len(cfg.Routes.Static) > 0 {
		source = router.StaticSource{Routes: router.Definition(cfg.Routes.Static)}
	} else {
		source = router.QuerySource{DB: dbSvc, IndexProcedure: cfg.Routes.IndexProcedure}
	}

	dispatcher := dispatch.New(dispatch.Config{
		DB:           dbSvc,
		Source:       source,
		Compiler:     &router.Compiler{IndexProcedure: cfg.Routes.IndexProcedure, Log: log},
		Sessions:     sessions,
		Localization: localization,
		LocaleBundle: cfg.Locale.Bundle,
		RefreshEntry: cfg.Routes.RefreshEntry,
		EnableGzip:   cfg.Server.EnableGzip,
		TraceEnabled: cfg.Trace.Enabled,
		Trace:        dispatch.LogTraceSink{Log: log},
		Log:          log,
	})

	r := mux.NewRouter()
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(dispatcher)

	var handler http.Handler = r
	if cfg.Server.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst, log)
		handler = rl.Handler(handler)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		handler = middleware.NewCORS(cfg.Server.CORSOrigins).Handler(handler)
	}

	app := &Application{
		cfg:        cfg,
		log:        log,
		dbSvc:      dbSvc,
		dispatcher: dispatcher,
		redis:      redisClient,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout.Std(),
			WriteTimeout: cfg.Server.WriteTimeout.Std(),
		},
	}

	if cfg.Routes.RefreshSchedule != "" {
		app.cron = cron.New()
		if _, err := app.cron.AddFunc(cfg.Routes.RefreshSchedule, app.scheduledRefresh); err != nil {
			return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.Routes.RefreshSchedule, err)
		}
	}
	return app, nil
}

// Dispatcher exposes the request dispatcher, mainly for tests.
func (a *Application) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Run loads the initial route table, starts the HTTP server and blocks
// until the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.dispatcher.Refresh(ctx); err != nil {
		// The gateway still serves the refresh entry, so a transient
		// bootstrap failure is not fatal.
		a.log.WithError(err).Warn("initial route table load failed")
	}
	if a.cron != nil {
		a.cron.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *Application) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.dispatcher.Refresh(ctx); err != nil {
		a.log.WithError(err).Warn("scheduled route table refresh failed")
	}
}

// Shutdown stops the server and releases held resources.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if a.cron != nil {
		a.cron.Stop()
	}
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if err := a.dbSvc.Close(); err != nil {
		a.log.WithError(err).Warn("error closing database connection")
	}
	return nil
}
