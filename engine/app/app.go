// Package app assembles the assistant from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/utakatik/utakatik/engine/chat"
	"github.com/utakatik/utakatik/engine/completion"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/corpus/pgstore"
	"github.com/utakatik/utakatik/engine/corpus/postgrest"
	"github.com/utakatik/utakatik/engine/corpus/sqlitestore"
	"github.com/utakatik/utakatik/engine/embedding"
	"github.com/utakatik/utakatik/engine/embedding/hfapi"
	"github.com/utakatik/utakatik/engine/embedding/langchain"
	"github.com/utakatik/utakatik/engine/indexer"
	"github.com/utakatik/utakatik/engine/infra/cache"
	"github.com/utakatik/utakatik/engine/infra/monitoring"
	"github.com/utakatik/utakatik/engine/infra/server"
	"github.com/utakatik/utakatik/engine/infra/server/middleware/ratelimit"
	"github.com/utakatik/utakatik/pkg/config"
	"github.com/utakatik/utakatik/pkg/logger"
)

const (
	ProviderHTTP   = "http"
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"

	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverPostgREST = "postgrest"
)

const sqliteBusyTimeout = 5 * time.Second

// App holds the wired services. Close releases them in reverse order.
type App struct {
	Config     *config.Config
	Embedder   embedding.Embedder
	Store      corpus.Store
	Writer     corpus.Writer
	Chat       *chat.Engine
	Relay      *completion.Relay
	Reindexer  *indexer.Reindexer
	Indexer    *indexer.Indexer
	Monitoring *monitoring.Service
	Redis      *cache.Redis

	checks   []server.HealthCheck
	cleanups []func(ctx context.Context) error
}

// Build wires every service from cfg. Nothing performs model inference here;
// the embedding model loads on first use.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{Config: cfg}
	if err := a.setup(ctx); err != nil {
		if cerr := a.Close(ctx); cerr != nil {
			logger.FromContext(ctx).Warn("Failed to release partially built assistant", "error", cerr)
		}
		return nil, err
	}
	logger.FromContext(ctx).Info("Assistant ready",
		"embedder", cfg.Embedder.Provider,
		"model", a.Embedder.ModelID(),
		"store", cfg.Store.Driver,
	)
	return a, nil
}

func (a *App) setup(ctx context.Context) error {
	a.setupMonitoring(ctx)
	if err := a.setupRedis(ctx); err != nil {
		return err
	}
	if err := a.setupEmbedder(ctx); err != nil {
		return err
	}
	if err := a.setupStore(ctx); err != nil {
		return err
	}
	return a.setupEngines()
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.cleanups = append(a.cleanups, fn)
}

// Close runs the registered cleanups and joins their errors.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

// HealthChecks lists the probes reported by /healthz.
func (a *App) HealthChecks() []server.HealthCheck {
	return a.checks
}

func (a *App) setupMonitoring(ctx context.Context) {
	mc := a.Config.Monitoring
	svc := monitoring.NewServiceWithFallback(ctx, &monitoring.Config{Enabled: mc.Enabled, Path: mc.Path})
	if svc.IsInitialized() {
		svc.SetAsGlobal()
	}
	a.Monitoring = svc
	a.onClose(svc.Shutdown)
}

func (a *App) setupRedis(ctx context.Context) error {
	url := a.Config.Cache.RedisURL.Value()
	if url == "" {
		return nil
	}
	r, err := cache.NewRedis(ctx, &cache.Config{URL: url})
	if err != nil {
		return fmt.Errorf("app: redis: %w", err)
	}
	a.Redis = r
	a.checks = append(a.checks, server.HealthCheck{Name: "redis", Check: r.HealthCheck})
	a.onClose(func(context.Context) error { return r.Close() })
	return nil
}

func (a *App) setupEmbedder(ctx context.Context) error {
	ec := a.Config.Embedder
	load, err := NewLoader(&ec)
	if err != nil {
		return err
	}
	svc, err := embedding.NewService(embedding.NewModel(ec.Model, load), ec.Dimension)
	if err != nil {
		return fmt.Errorf("app: embedder: %w", err)
	}
	var remote embedding.RemoteCache
	if a.Redis != nil {
		remote = embedding.NewRedisCache(a.Redis.Client(), a.Config.Cache.Prefix, a.Config.Cache.TTL)
	}
	cached, err := embedding.NewCached(svc, ec.CacheSize, remote)
	if err != nil {
		return fmt.Errorf("app: embedder: %w", err)
	}
	a.Embedder = cached
	logger.FromContext(ctx).Debug("Embedder configured",
		"provider", ec.Provider,
		"dimension", ec.Dimension,
		"cache_size", ec.CacheSize,
		"shared_cache", remote != nil,
	)
	return nil
}

// NewLoader returns the deferred constructor for the configured provider.
func NewLoader(ec *config.EmbedderConfig) (embedding.Loader, error) {
	switch ec.Provider {
	case ProviderHTTP:
		return func(context.Context) (embedding.FeatureExtractor, error) {
			return hfapi.New(hfapi.Config{
				BaseURL: ec.BaseURL,
				Model:   ec.Model,
				APIKey:  ec.APIKey.Value(),
				Timeout: ec.Timeout,
			})
		}, nil
	case ProviderLocal:
		return func(context.Context) (embedding.FeatureExtractor, error) {
			return langchain.NewLocal(ec.Model, ec.ModelsDir)
		}, nil
	case ProviderOpenAI:
		return func(context.Context) (embedding.FeatureExtractor, error) {
			return langchain.NewOpenAI(ec.Model, ec.APIKey.Value(), ec.BaseURL)
		}, nil
	default:
		return nil, fmt.Errorf("app: unknown embedder provider %q", ec.Provider)
	}
}

func (a *App) setupStore(ctx context.Context) error {
	store, err := OpenStore(ctx, &a.Config.Store, a.Config.Embedder.Dimension)
	if err != nil {
		return err
	}
	a.onClose(func(context.Context) error { return store.Close() })
	if w, ok := store.(corpus.Writer); ok {
		a.Writer = w
	}
	a.Store = corpus.WithTimeout(store, a.Config.Store.Timeout)
	a.checks = append(a.checks, server.HealthCheck{Name: "store", Check: a.pingStore})
	return nil
}

func (a *App) pingStore(ctx context.Context) error {
	_, err := a.Store.ItemsMissingVector(ctx, 1)
	return err
}

// OpenStore opens the configured backend, migrating it first when asked.
func OpenStore(ctx context.Context, sc *config.StoreConfig, dimension int) (corpus.Store, error) {
	log := logger.FromContext(ctx)
	switch sc.Driver {
	case DriverMemory:
		log.Warn("Using in-memory corpus index; data is lost on exit")
		return corpus.NewMemoryStore(dimension), nil
	case DriverSQLite:
		return sqlitestore.Open(ctx, sqlitestore.Config{
			Path:        sc.Path,
			BusyTimeout: sqliteBusyTimeout,
			Migrate:     sc.AutoMigrate,
		}, dimension)
	case DriverPostgres:
		dsn := sc.DSN.Value()
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("app: store dsn is required for the postgres driver")
		}
		if sc.AutoMigrate {
			if err := pgstore.ApplyMigrations(ctx, dsn, dimension); err != nil {
				return nil, err
			}
		}
		return pgstore.Open(ctx, dsn, sc.MaxConns, dimension)
	case DriverPostgREST:
		return postgrest.New(postgrest.Config{
			URL:     sc.URL,
			APIKey:  sc.APIKey.Value(),
			Timeout: sc.Timeout,
		}, dimension)
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", sc.Driver)
	}
}

// Migrate applies the schema of a SQL backend without building the rest of the app.
func Migrate(ctx context.Context, sc *config.StoreConfig, dimension int) error {
	switch sc.Driver {
	case DriverSQLite:
		st, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:        sc.Path,
			BusyTimeout: sqliteBusyTimeout,
			Migrate:     true,
		}, dimension)
		if err != nil {
			return err
		}
		return st.Close()
	case DriverPostgres:
		return pgstore.ApplyMigrations(ctx, sc.DSN.Value(), dimension)
	default:
		return fmt.Errorf("app: driver %q has no migrations", sc.Driver)
	}
}

func (a *App) setupEngines() error {
	cc := a.Config.Completion
	client, err := completion.NewClient(completion.Config{
		Service:    "completion",
		BaseURL:    cc.BaseURL,
		APIKey:     cc.APIKey.Value(),
		Model:      cc.Model,
		Timeout:    cc.Timeout,
		MaxRetries: cc.MaxRetries,
		Referer:    cc.Referer,
		Title:      cc.Title,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	rc := a.Config.Relay
	relayKey := rc.APIKey.Value()
	if relayKey == "" {
		relayKey = a.Config.Embedder.APIKey.Value()
	}
	relayClient, err := completion.NewClient(completion.Config{
		Service:    "relay",
		BaseURL:    rc.BaseURL,
		APIKey:     relayKey,
		Model:      rc.Model,
		Timeout:    cc.Timeout,
		MaxRetries: cc.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("app: relay: %w", err)
	}
	if a.Relay, err = completion.NewRelay(relayClient, rc.SystemPrompt); err != nil {
		return err
	}
	rt := a.Config.Retrieval
	a.Chat, err = chat.NewEngine(a.Embedder, a.Store, client, chat.Config{
		TopK:          rt.TopK,
		MinSimilarity: rt.MinSimilarity,
		FallbackQuery: rt.FallbackQuery,
		Temperature:   cc.Temperature,
	})
	if err != nil {
		return err
	}
	if a.Reindexer, err = indexer.NewReindexer(a.Embedder, a.Store, a.Config.Reindex.BatchLimit); err != nil {
		return err
	}
	a.Indexer, err = indexer.NewIndexer(a.Embedder, a.Store)
	return err
}

// RateLimiter builds the limiter for completion-backed routes, or nil when disabled.
func (a *App) RateLimiter() (*ratelimit.Manager, error) {
	rl := a.Config.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	cfg := ratelimit.DefaultConfig()
	cfg.Limit = rl.Limit
	cfg.Period = rl.Period
	var m *ratelimit.Manager
	var err error
	if a.Redis != nil {
		m, err = ratelimit.NewManager(cfg, a.Redis.Client())
	} else {
		m, err = ratelimit.NewManager(cfg, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("app: rate limiter: %w", err)
	}
	return m, nil
}

// Server wires the HTTP surface onto the built services.
func (a *App) Server(ctx context.Context) (*server.Server, error) {
	limiter, err := a.RateLimiter()
	if err != nil {
		return nil, err
	}
	return server.NewServer(ctx, &a.Config.Server, server.Dependencies{
		Answerer:     a.Chat,
		Relay:        a.Relay,
		Reindexer:    a.Reindexer,
		Indexer:      a.Indexer,
		Monitoring:   a.Monitoring,
		RateLimiter:  limiter,
		HealthChecks: a.HealthChecks(),
	})
}
