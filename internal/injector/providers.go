// Package injector assembles the server from its configuration. The
// provider set is declared in wire.go; wire_gen.go is the generated graph.
package injector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/worldcore/internal/config"
	"github.com/zeusync/worldcore/internal/core/events/bus"
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/internal/core/observability/metrics"
	"github.com/zeusync/worldcore/internal/core/persist"
	"github.com/zeusync/worldcore/internal/core/session"
	"github.com/zeusync/worldcore/internal/core/storage"
	"github.com/zeusync/worldcore/internal/core/world"
	"github.com/zeusync/worldcore/internal/gateway"
)

// ConfigPath is the configuration file; empty runs on defaults.
type ConfigPath string

// App is the assembled server.
type App struct {
	Store    *config.Store
	Log      *log.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Pool     *persist.Pool
	World    *world.World
	Gateway  *gateway.Gateway
}

func NewApp(store *config.Store, logger *log.Logger, m *metrics.Metrics, reg *prometheus.Registry,
	pool *persist.Pool, w *world.World, g *gateway.Gateway,
) *App {
	return &App{Store: store, Log: logger, Metrics: m, Registry: reg, Pool: pool, World: w, Gateway: g}
}

func ProvideStore(path ConfigPath) (*config.Store, error) {
	return config.NewStore(string(path))
}

func ProvideConfig(store *config.Store) config.Config {
	return store.Current()
}

func ProvideLogger(cfg config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return log.New(level), nil
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

// ProvideDB opens the database and brings the schema up to date.
func ProvideDB(ctx context.Context, cfg config.Config) (*sql.DB, func(), error) {
	p := cfg.Persistence
	db, err := persist.OpenDB(p.Driver, p.DSN, p.SyncConnections+p.AsyncConnections)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

// ProvidePool opens every pool connection and checks the schema version.
func ProvidePool(ctx context.Context, cfg config.Config, db *sql.DB, logger *log.Logger, m *metrics.Metrics) (*persist.Pool, func(), error) {
	p := cfg.Persistence
	opts := persist.Options{
		Name:             "world",
		SyncConnections:  p.SyncConnections,
		AsyncConnections: p.AsyncConnections,
		QueueSize:        p.QueueSize,
		Retry:            retryPolicy(cfg),
	}
	pool := persist.NewPool(opts, persist.SQLDialer(db, storage.Catalog()), logger, m)
	if err := pool.Open(ctx); err != nil {
		return nil, nil, fmt.Errorf("open pool: %w", err)
	}
	if err := storage.VerifySchema(ctx, pool, p.SchemaVersion); err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return pool, func() { _ = pool.Close() }, nil
}

func ProvideBus(m *metrics.Metrics) bus.EventBus {
	b := bus.New()
	b.AddObserver(m)
	return b
}

func ProvideWorld(cfg config.Config, logger *log.Logger, pool *persist.Pool, b bus.EventBus, m *metrics.Metrics) (*world.World, error) {
	return world.New(worldOptions(cfg), world.Deps{
		Log:      logger,
		Pool:     pool,
		Bus:      b,
		Hub:      session.NewHub(cfg.Gateway.MaxSessions),
		Ingress:  session.NewIngress(64 * cfg.Gateway.MaxSessions),
		Recorder: m,
	})
}

func ProvideGateway(cfg config.Config, store *config.Store, w *world.World, pool *persist.Pool,
	logger *log.Logger, m *metrics.Metrics, reg *prometheus.Registry,
) *gateway.Gateway {
	store.OnReload(func(_, cur config.Config) {
		applyHotFields(cur, w, pool, logger)
	})
	return gateway.New(gatewayOptions(cfg), w, gateway.Deps{
		Log:      logger,
		Metrics:  m,
		Gatherer: reg,
		Reload: func() error {
			_, err := store.Reload()
			return err
		},
	})
}

// applyHotFields pushes the reloadable settings into running components.
func applyHotFields(cfg config.Config, w *world.World, pool *persist.Pool, logger *log.Logger) {
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warn("ignoring log level", log.String("level", cfg.Log.Level), log.Error(err))
	}
	pool.SetRetryPolicy(retryPolicy(cfg))
	w.Post(func() {
		w.SetIntervals(cfg.Timers.Autosave, cfg.Persistence.KeepAlive)
		err := w.Bus().Publish(bus.Event{Kind: bus.ConfigReloaded, Tick: uint64(w.Now()), Data: cfg})
		if err != nil {
			logger.Warn("config.reloaded subscriber failed", log.Error(err))
		}
		logger.Info("configuration reloaded",
			log.String("level", cfg.Log.Level),
			log.Duration("autosave", cfg.Timers.Autosave),
			log.Int("retry_attempts", cfg.Persistence.RetryAttempts),
		)
	})
}

func retryPolicy(cfg config.Config) persist.RetryPolicy {
	return persist.RetryPolicy{
		Attempts: cfg.Persistence.RetryAttempts,
		Backoff:  cfg.Persistence.RetryBackoff,
	}
}

func worldOptions(cfg config.Config) world.Options {
	opts := world.DefaultOptions()
	opts.Region.RegionSize = cfg.World.RegionSize
	opts.Region.MapWidth = cfg.World.MapWidth
	opts.Region.MapHeight = cfg.World.MapHeight
	opts.Region.Radius = cfg.World.VisibleRadius
	opts.TickRate = cfg.World.TickRate
	opts.Autosave = cfg.Timers.Autosave
	opts.KeepAlive = cfg.Persistence.KeepAlive

	for _, r := range cfg.Respawns {
		interval := r.Interval
		if interval <= 0 {
			interval = cfg.Timers.Respawn
		}
		opts.Respawns = append(opts.Respawns, world.SpawnArea{
			MonsterID: r.MonsterID,
			Level:     r.Level,
			Health:    r.Health,
			Left:      r.Left,
			Top:       r.Top,
			Right:     r.Right,
			Bottom:    r.Bottom,
			Layer:     r.Layer,
			Count:     r.Count,
			MaxCount:  r.MaxCount,
			Increment: r.Increment,
			Interval:  interval,
		})
	}
	return opts
}

func gatewayOptions(cfg config.Config) gateway.Options {
	g := cfg.Gateway
	opts := gateway.DefaultOptions()
	opts.Addr = g.Addr
	opts.QUICAddr = g.QUICAddr
	opts.AllowedOrigins = g.AllowedOrigins
	opts.Session = session.Options{
		SendQueue: g.SendQueue,
		RateLimit: g.RateLimit,
		RateBurst: g.RateBurst,
	}
	return opts
}
