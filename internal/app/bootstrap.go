// Package app is the composition root: it wires config, schema, plugins,
// runtime, bridges, and the admin HTTP surface into one Application.
// Bootstrap stays orchestration-only; behavior lives in the packages it
// wires.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"moduforge.dev/moduforge/internal/bridge/persistence"
	"moduforge.dev/moduforge/internal/bridge/search"
	"moduforge.dev/moduforge/internal/config"
	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pkg/worker"
	"moduforge.dev/moduforge/internal/resource"
	"moduforge.dev/moduforge/internal/runtime"
	"moduforge.dev/moduforge/internal/runtime/adminapi"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/plugins/builtin/historytrack"
	"moduforge.dev/moduforge/plugins/builtin/wordcount"
)

// defaultSchemaYAML is the built-in demo schema, used when config names no
// schema file.
const defaultSchemaYAML = `
top_node: doc
nodes:
  doc:
    content: "paragraph*"
  paragraph:
    content: "text*"
    marks: [strong, em]
    attrs:
      align:
        default: left
  text:
    content: ""
    attrs:
      value:
        default: ""
marks:
  strong: {}
  em:
    excludes: []
`

// Application holds composed application dependencies.
type Application struct {
	Config      *config.Config
	Runtime     *runtime.ForgeAsyncRuntime
	Router      *gin.Engine
	Pools       *worker.Pools
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
	Committer   *persistence.Committer
	Indexer     *search.MemoryIndexer
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	schema, err := loadSchema(cfg)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	mgr := state.NewPluginManager()
	for _, p := range []*state.Plugin{historytrack.Plugin(), wordcount.Plugin()} {
		if err := mgr.Register(p); err != nil {
			return nil, fmt.Errorf("register builtin plugin: %w", err)
		}
	}
	stateCfg, err := state.NewConfiguration(schema, mgr)
	if err != nil {
		return nil, fmt.Errorf("build configuration: %w", err)
	}
	if cfg.Runtime.MaxAppendsPerTransaction > 0 {
		stateCfg.MaxAppendsPerTransaction = cfg.Runtime.MaxAppendsPerTransaction
	}
	if cfg.Runtime.ApplyTimeout > 0 {
		stateCfg.ApplyTimeout = cfg.Runtime.ApplyTimeout
	}

	resources := resource.NewTable()
	initial, err := state.Create(ctx, stateCfg, resources)
	if err != nil {
		return nil, fmt.Errorf("create initial state: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		DispatchPoolSize: cfg.Worker.DispatchPoolSize,
		BridgePoolSize:   cfg.Worker.BridgePoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	rt := runtime.NewAsync(initial, runtime.Options{
		QueueSize:          cfg.Runtime.QueueSize,
		MiddlewareTimeout:  cfg.Runtime.MiddlewareTimeout,
		MaxMiddlewareDepth: cfg.Runtime.MaxMiddlewareDepth,
		HistoryLimit:       cfg.History.Limit,
	})

	appl := &Application{
		Config:  cfg,
		Runtime: rt,
		Pools:   pools,
	}

	if cfg.Persistence.Enabled {
		if err := appl.initPersistence(ctx, cfg); err != nil {
			pools.Shutdown()
			return nil, err
		}
	}

	appl.Indexer = search.NewMemoryIndexer()
	indexDispatcher := search.NewDispatcher(appl.Indexer, pools)
	rt.OnCommitted(indexDispatcher.OnCommitted)
	// Shared services live in the resource table so plugins and middleware
	// can reach them without package-level wiring.
	resource.Insert(resources, appl.Indexer)

	if cfg.Server.Enabled {
		router, err := adminapi.NewRouter(adminapi.NewServer(rt), cfg.Server.JWTSecret)
		if err != nil {
			appl.Close()
			return nil, fmt.Errorf("build admin router: %w", err)
		}
		appl.Router = router
	}

	return appl, nil
}

func loadSchema(cfg *config.Config) (*model.Schema, error) {
	var spec model.SchemaSpec
	var err error
	if cfg.Schema.Path != "" {
		spec, err = model.LoadSchemaSpecFile(cfg.Schema.Path)
	} else {
		spec, err = model.LoadSchemaSpecBytes([]byte(defaultSchemaYAML))
	}
	if err != nil {
		return nil, err
	}
	return model.CompileSchema(spec)
}

// initPersistence wires the event-store bridge: shared pgx pool, queries,
// and, for async mode, the River client consuming the persistence queue.
func (a *Application) initPersistence(ctx context.Context, cfg *config.Config) error {
	mode := persistence.CommitMode(cfg.Persistence.Mode)
	if mode == persistence.MemoryOnly {
		committer, err := persistence.NewCommitter(mode, persistence.NewMemoryStore(), nil, cfg.Persistence.GroupWindow)
		if err != nil {
			return err
		}
		a.Committer = committer
		a.Runtime.OnCommitted(committer.OnCommitted)
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.Pool = pool

	queries := persistence.NewQueries(pool)
	if cfg.Persistence.AutoMigrate {
		if err := queries.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
	}

	var riverClient *river.Client[pgx.Tx]
	if mode == persistence.AsyncDurable {
		workers := river.NewWorkers()
		if err := river.AddWorkerSafely(workers, persistence.NewPersistBatchWorker(queries)); err != nil {
			pool.Close()
			return fmt.Errorf("register persistence worker: %w", err)
		}
		riverClient, err = river.NewClient(riverpgxv5.New(pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				"moduforge_persistence": {MaxWorkers: cfg.Persistence.RiverWorkers},
			},
			Workers: workers,
		})
		if err != nil {
			pool.Close()
			return fmt.Errorf("create river client: %w", err)
		}
		a.RiverClient = riverClient
	}

	committer, err := persistence.NewCommitter(mode, queries, riverClient, cfg.Persistence.GroupWindow)
	if err != nil {
		pool.Close()
		return err
	}
	a.Committer = committer
	a.Runtime.OnCommitted(committer.OnCommitted)
	return nil
}

// Close releases everything Bootstrap acquired, usable on partial failure.
func (a *Application) Close() {
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
