package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BaSui01/agentflow/config"
	"github.com/BaSui01/agentflow/internal/catalogue"
	"github.com/BaSui01/agentflow/internal/database"
	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/metricsink"
	"github.com/BaSui01/agentflow/internal/server"
	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/factory"
)

// app bundles everything runServe needs to answer requests and shut down
// cleanly: the Gateway facade plus the resources it was built over, closed
// in reverse acquisition order.
type app struct {
	gateway   *llm.Gateway
	dbPool    *database.PoolManager
	rdb       *redis.Client
	collector *metrics.Collector
	stopSampl chan struct{}
	logger    *zap.Logger
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	dbPool, err := database.NewPoolManager(db, toDBPoolConfig(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("configure database pool: %w", err)
	}

	if err := db.AutoMigrate(append(catalogue.AllTables(), metricsink.AllTables()...)...); err != nil {
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}

	gormCat := catalogue.New(db, logger)

	var cat llm.Catalogue = gormCat
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis not available, catalogue cache disabled", zap.Error(err))
			rdb = nil
		} else {
			ttl := time.Duration(cfg.Redis.CacheTTLSeconds) * time.Second
			cat = catalogue.NewCached(gormCat, rdb, ttl, logger)
		}
	}

	sink := metricsink.NewBoundedSink(db, "agentflow", logger)

	pool := llm.NewAdapterPool(toPoolConfig(cfg.Pool), newAdapterFactory(cat, logger), sink, logger)
	router := llm.NewRouter(cat, pool, toRouterConfig(cfg.Router), logger)
	gateway := llm.NewGateway(cat, pool, router, logger)

	collector := metrics.NewCollector("agentflow", logger)
	a := &app{
		gateway:   gateway,
		dbPool:    dbPool,
		rdb:       rdb,
		collector: collector,
		stopSampl: make(chan struct{}),
		logger:    logger,
	}
	go a.sampleDBStats()
	return a, nil
}

// sampleDBStats mirrors the database pool's connection gauges into
// Prometheus every few seconds, the same way dbPool's own health check
// loop samples Ping on an interval.
func (a *app) sampleDBStats() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st := a.dbPool.GetStats()
			a.collector.RecordDBConnections("catalogue", st.OpenConnections, st.Idle)
		case <-a.stopSampl:
			return
		}
	}
}

func (a *app) Close() {
	close(a.stopSampl)
	a.gateway.Close()
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if err := a.dbPool.Close(); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
}

func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if dbCfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func toDBPoolConfig(dbCfg config.DatabaseConfig) database.PoolConfig {
	pc := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	return pc
}

// newAdapterFactory resolves a live Provider for one (model, provider)
// pairing by reading the provider's base URL and best-ranked credential
// straight from the catalogue, then handing both to the shared provider
// factory. The pool calls this only on a cache miss.
func newAdapterFactory(cat llm.Catalogue, logger *zap.Logger) llm.AdapterFactory {
	return func(ctx context.Context, modelName, providerCode string) (llm.Provider, error) {
		prov, err := cat.ProviderByName(ctx, providerCode)
		if err != nil {
			return nil, fmt.Errorf("lookup provider %q: %w", providerCode, err)
		}
		if prov == nil {
			return nil, fmt.Errorf("provider %q not found", providerCode)
		}

		key, err := cat.BestAPIKey(ctx, prov.ID)
		if err != nil {
			return nil, fmt.Errorf("lookup api key for provider %q: %w", providerCode, err)
		}
		if key == nil {
			return nil, fmt.Errorf("no usable api key for provider %q", providerCode)
		}

		return factory.NewProviderFromConfig(prov.Code, factory.ProviderConfig{
			APIKey:  key.APIKey,
			BaseURL: prov.BaseURL,
			Model:   modelName,
		}, logger)
	}
}

func toPoolConfig(c config.PoolConfig) llm.PoolConfig {
	return llm.PoolConfig{
		NumShards:       c.NumShards,
		MaxPerShard:     c.MaxPerShard,
		MaxIdle:         c.MaxIdle,
		MaxUseCount:     c.MaxUseCount,
		AcquireWait:     c.AcquireWait,
		AcquirePoll:     c.AcquirePoll,
		CleanupInterval: c.CleanupInterval,
		HealthInterval:  c.HealthInterval,
	}
}

func toRouterConfig(c config.RouterConfig) llm.RouterConfig {
	return llm.RouterConfig{
		Weights: llm.RouterWeights{
			ResponseTime: c.WeightResponseTime,
			Cost:         c.WeightCost,
			SuccessRate:  c.WeightSuccessRate,
		},
	}
}

// newHTTPServer builds the gateway's single operability listener: /healthz
// reports pool occupancy, /metrics serves the Prometheus registry every
// sink and collector in this binary registers into.
func newHTTPServer(cfg *config.Config, a *app, logger *zap.Logger) *server.Manager {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Adapters llm.Stats          `json:"adapters"`
			Database database.PoolStats `json:"database"`
		}{
			Adapters: a.gateway.PoolStats(),
			Database: a.dbPool.GetStats(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srvCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	return server.NewManager(mux, srvCfg, logger)
}

func newShutdownContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
