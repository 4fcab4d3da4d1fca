package main

import (
	"context"

	"github.com/redis/go-redis/v9"

	"datanerd/internal/analyst"
	"datanerd/internal/cache"
	"datanerd/internal/catalog"
	"datanerd/internal/dashboard"
	"datanerd/internal/driver"
	"datanerd/internal/logging"
	"datanerd/internal/session"
)

// app is the assembled service: catalog, backend, cache, sessions,
// dashboards, and the orchestrator on top.
type app struct {
	store      *catalog.Store
	drv        driver.Driver
	handle     driver.Handle
	cache      *cache.Cache
	sessions   *session.Manager
	dashboards *dashboard.Manager
	analyst    *analyst.Analyst

	redis *redis.Client
}

// buildApp wires everything in dependency order. Failures carry the
// sentinels the exit-code mapping looks for.
func buildApp(ctx context.Context) (*app, error) {
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	cat := store.Current()
	logging.Boot("catalog %s: %d metrics, %d dimensions, %d datasets",
		cfg.Catalog.Path, len(cat.Metrics), len(cat.Dimensions), len(cat.Datasets))

	drv, err := driver.ForBackend(cat.Connection.Backend)
	if err != nil {
		return nil, err
	}
	handle, err := drv.Open(ctx, cat.Connection)
	if err != nil {
		return nil, err
	}

	a := &app{store: store, drv: drv, handle: handle}

	var shared cache.SharedStore
	if cfg.Cache.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		shared = cache.NewRedisStore(a.redis)
		logging.Boot("shared cache tier at %s", cfg.Cache.RedisAddr)
	}
	a.cache = cache.New(cache.Config{
		TTL:        cfg.CacheTTL(),
		MaxEntries: cfg.Cache.MaxEntries,
		Shared:     shared,
	})

	a.sessions = session.NewManager(cfg.SessionTTL(), cfg.Session.MaxSessions)

	a.dashboards, err = dashboard.NewManager(cfg.Dashboard.Path)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.analyst = analyst.New(store, analyst.NewExecutor(drv, handle, a.cache), a.sessions, a.dashboards, 0)
	logging.Boot("datanerd %s ready on backend %s", version, cat.Connection.Backend)
	return a, nil
}

func (a *app) Close() {
	if a.handle != nil {
		_ = a.drv.Close(a.handle)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
