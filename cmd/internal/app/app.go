// Package app wires the easel server runtime: config, logging, HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"easel/cmd/internal/auth/api"
	"easel/cmd/internal/auth/session"
	"easel/cmd/internal/catalog"
	"easel/cmd/internal/invite"
	"easel/cmd/internal/realtime"
	"easel/cmd/security/password"
)

// App is the easel server runtime: it owns the HTTP server wiring, the
// realtime hub, and the session gate.
type App struct {
	cfg Config
	log Logger

	catalog   catalog.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	ledger *session.Ledger
	// reissueWindow drives the ledger pruner: it runs on this period with a
	// max age of twice the window, so a pending mark always survives a full
	// reissue cycle.
	reissueWindow time.Duration
	promReg       *prometheus.Registry

	ws   *realtime.WSGateway
	auth *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, invStore, dbPool, dbEnabled, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		closeStores(store, dbPool)
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		closeStores(store, dbPool)
		return nil, err
	}

	ledger := session.NewLedger()
	reg := realtime.NewRegistry(log)
	gate := session.NewGate(sessCfg, log, ledger, store, reg)

	codec, err := session.NewTokenCodec(sessCfg)
	if err != nil {
		closeStores(store, dbPool)
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(promReg)

	hub := realtime.NewHub(log, store, reg, metrics)
	ws := realtime.NewWSGateway(log, hub, reg, gate, codec, metrics)

	invSvc, err := invite.NewService(invStore)
	if err != nil {
		closeStores(store, dbPool)
		return nil, err
	}

	auth, err := api.NewHandler(log, api.LoadConfigFromEnv(), sessCfg, store, gate, codec, pwCfg, invSvc, reg)
	if err != nil {
		closeStores(store, dbPool)
		return nil, err
	}

	return &App{
		cfg:           cfg,
		log:           log,
		catalog:       store,
		dbPool:        dbPool,
		dbEnabled:     dbEnabled,
		ledger:        ledger,
		reissueWindow: sessCfg.ReissueWindow,
		promReg:       promReg,
		ws:            ws,
		auth:          auth,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.promReg, a.ws, a.auth)

	var handler http.Handler = WithSecurityHeaders(mux)
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		handler = WithCORS(handler, a.cfg, a.log)
	}
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.ledger.RunPruner(runCtx, a.log, a.reissueWindow)

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

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	closeStores(a.catalog, a.dbPool)

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

// newStores decides between Postgres-backed persistence and the in-memory dev
// stores. Ownership model: app owns the pool lifecycle; the catalog store's
// Close is a no-op in Postgres mode.
func newStores(ctx context.Context, cfg Config, log Logger) (catalog.Store, invite.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return catalog.NewInMemoryStore(), invite.NewInMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, false, err
	}

	store, err := catalog.NewPostgresStore(pool) // default schema "easel"
	if err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}
	invStore, err := invite.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return store, invStore, pool, true, nil
}

func closeStores(store catalog.Store, pool *pgxpool.Pool) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
