// Package app wires the Tavolo server runtime: config, logging, storage,
// the auth API, and the session event gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tavolo/cmd/identity"
	authapi "tavolo/cmd/internal/auth/api"
	"tavolo/cmd/internal/auth/session"
	"tavolo/cmd/internal/sessionhub"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the server runtime. It owns the HTTP server wiring and the
// lifecycle of the DB pool when one is configured.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions *session.Manager
	auth     *authapi.Handler
	hub      *sessionhub.Hub
	events   *sessionhub.Gateway
	metrics  *Metrics
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var (
		pool      *pgxpool.Pool
		dbEnabled bool
		users     identity.Store
		tokens    session.Store
	)
	if cfg.DatabaseURL == "" {
		// No database configured: sessions and users live in process
		// memory. Useful for dev and tests, not for production.
		log.Info("db.disabled.inmemory_store")
		users = identity.NewMemoryStore()
		tokens = session.NewMemoryStore(sessCfg.MaxRefreshTokens)
	} else {
		pool, err = NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")

		users, err = identity.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		tokens, err = session.NewPostgresStore(pool, session.WithMaxTokens(sessCfg.MaxRefreshTokens))
		if err != nil {
			pool.Close()
			return nil, err
		}
		dbEnabled = true
	}

	sessions, err := session.NewManager(sessCfg, users, tokens, log)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	hub := sessionhub.NewHub(log)
	events := sessionhub.NewGateway(log, hub, sessions)

	auth, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), sessions, pool,
		authapi.WithSessionNotifier(hub))
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		sessions:  sessions,
		auth:      auth,
		hub:       hub,
		events:    events,
		metrics:   NewMetrics(),
	}, nil
}

// Handler builds the full HTTP handler chain (also used by tests).
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth, a.events, a.metrics)

	var h http.Handler = mux
	h = a.metrics.WithMetrics(h)
	h = WithCORS(h, a.cfg.CORSAllowedOrigins)
	h = WithRequestLogging(h, a.log)
	return h
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
