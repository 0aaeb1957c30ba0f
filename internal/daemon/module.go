package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/api"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/bus"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/cache"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/config"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/copilot"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/lock"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/logging"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/metrics"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/session"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/status"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/suggest"
	intsync "github.com/Osvaldoduarte/cosmos-copilot/internal/sync"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	// Program names the log file and is recorded in the cache lock.
	Program string
	Config  *config.Config
	// Quiet keeps log lines off stderr; the log file is still written.
	Quiet bool
	// Logger overrides the file logger; used by tests.
	Logger *zap.Logger
}

// Module returns the fx module for one session, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideCacheBackend,
			provideMessageCache,
			provideClient,
			provideStore,
			provideSuggester,
			provideEngine,
		),
		fx.Invoke(registerLifecycle, registerStatusLog, registerMetricsServer),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	cfg := config.Default()
	return &cfg
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(logging.Options{
		Path:    session.LogPath(p.SessionName, p.Program),
		Session: p.SessionName,
		Program: p.Program,
		Level:   cfg.LogLevel,
		Console: !p.Quiet,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func cachePath(p Params, cfg *config.Config) string {
	if cfg.Cache.Path != "" {
		return cfg.Cache.Path
	}
	return session.CachePath(p.SessionName, cfg.Cache.Backend)
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	path := cachePath(p, cfg)
	logger.Info("acquiring cache lock", zap.String("path", path))
	l, err := lock.Acquire(path, p.Program)
	if err != nil {
		return nil, err
	}
	logger.Info("cache lock acquired")
	return l, nil
}

// provideCacheBackend depends on the lock so the file is never opened by two
// processes.
func provideCacheBackend(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (cache.Backend, error) {
	path := cachePath(p, cfg)
	backend, err := cache.Open(cfg.Cache.Backend, path)
	if err != nil {
		return nil, err
	}
	logger.Info("message cache opened",
		zap.String("backend", cfg.Cache.Backend),
		zap.String("path", path))
	return backend, nil
}

func provideMessageCache(backend cache.Backend, logger *zap.Logger) *cache.MessageCache {
	return cache.NewMessageCache(backend, logger.Named("cache"))
}

func provideClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.API.BaseURL, cfg.API.Token, &http.Client{Timeout: cfg.API.Timeout.Duration})
}

func provideStore() *store.Store {
	return store.New()
}

func provideSuggester(cfg *config.Config, client *api.Client, st *store.Store, logger *zap.Logger) copilot.Suggester {
	if cfg.Copilot.Provider != config.ProviderOpenAI {
		return client
	}
	history := func(convID string) []store.Message {
		list, _ := st.Messages(convID)
		return list
	}
	logger.Info("copilot suggestions from openai", zap.String("model", cfg.Copilot.Model))
	return suggest.NewOpenAI(suggest.Config{
		APIKey:  cfg.Copilot.APIKey,
		BaseURL: cfg.Copilot.BaseURL,
		Model:   cfg.Copilot.Model,
	}, history, logger.Named("suggest"))
}

type engineParams struct {
	fx.In

	Config    *config.Config
	Client    *api.Client
	Suggester copilot.Suggester
	Store     *store.Store
	Cache     *cache.MessageCache
	Bus       *bus.Bus
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Dial      transport.Dialer `optional:"true"`
}

func provideEngine(p engineParams) (*intsync.Engine, error) {
	cfg := intsync.Config{
		DedupWindow:    p.Config.Sync.DedupWindow.Duration,
		PollInterval:   p.Config.Sync.PollInterval.Duration,
		ReconnectDelay: p.Config.Sync.ReconnectDelay.Duration,
	}
	if p.Config.Sync.Push {
		url, err := transport.PushURL(p.Config.API.BaseURL, p.Config.API.Token)
		if err != nil {
			// Without a token there is no push endpoint; polling still works.
			p.Logger.Warn("push channel disabled", zap.Error(err))
		} else {
			cfg.PushURL = url
		}
	}
	return intsync.NewEngine(cfg, intsync.Deps{
		Backend:   p.Client,
		Suggester: p.Suggester,
		Dial:      p.Dial,
		Store:     p.Store,
		Cache:     p.Cache,
		Bus:       p.Bus,
		Metrics:   p.Metrics,
		Logger:    p.Logger.Named("sync"),
	})
}

func registerLifecycle(lc fx.Lifecycle, engine *intsync.Engine, backend cache.Backend, lk *lock.Lock, logger *zap.Logger) {
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				if err := engine.Run(context.Background()); err != nil && !errors.Is(err, intsync.ErrClosed) {
					logger.Error("sync engine stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := engine.Close(); err != nil {
				logger.Warn("error closing engine", zap.Error(err))
			}
			select {
			case <-done:
			case <-ctx.Done():
			}
			if err := backend.Close(); err != nil {
				logger.Warn("error closing message cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// registerStatusLog logs push channel state changes.
func registerStatusLog(lc fx.Lifecycle, b *bus.Bus, logger *zap.Logger) {
	events, unsubscribe := b.Subscribe(bus.TransportStatus, 16)
	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				for {
					select {
					case <-stop:
						return
					case evt := <-events:
						if change, ok := evt.Payload.(status.StatusChange); ok {
							logger.Info("push channel state",
								zap.String("from", string(change.From)),
								zap.String("to", string(change.To)))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			close(stop)
			unsubscribe()
			return nil
		},
	})
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
