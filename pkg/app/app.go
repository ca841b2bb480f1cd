// Package app wires the configured provider, the timeline engine, the virtualized
// viewport and the offline cache into one client.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bep/debounce"
	"gorm.io/gorm"

	"Murmur/pkg/config"
	"Murmur/pkg/core"
	"Murmur/pkg/db"
	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/models"
	"Murmur/pkg/providers"
	"Murmur/pkg/store"
	"Murmur/pkg/timeline"
	"Murmur/pkg/virtualizer"
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("app not started")

// Options are the optional UI collaborators of the client.
type Options struct {
	Renderer  virtualizer.Renderer
	Notifier  timeline.Notifier
	Navigator timeline.Navigator
	// Highlighter receives jump highlights. When nil they are only logged.
	Highlighter timeline.Highlighter
}

// App struct
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Metrics

	database        *gorm.DB
	cache           *db.Cache
	providerManager *core.ProviderManager
	provider        core.Provider

	store    *store.Store
	engine   *timeline.Engine
	viewport *virtualizer.Viewport

	eventCancel context.CancelFunc
	listenerWG  sync.WaitGroup
	unsubscribe func()
	metricsSrv  *http.Server

	connMu    sync.RWMutex
	connState core.ConnectionState

	// pending cache writes, flushed by the debouncer
	flushMu      sync.Mutex
	debounced    func(func())
	dirtyConvs   map[string]struct{}
	removedConvs map[string]struct{}
	listDirty    bool
	writeMu      sync.Mutex
	closed       bool
}

// New opens the cache database and registers the available providers.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger, err := logging.GetLogger("app", "murmur")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &App{
		cfg:          cfg,
		opts:         opts,
		logger:       logger,
		metrics:      metrics.New(),
		dirtyConvs:   make(map[string]struct{}),
		removedConvs: make(map[string]struct{}),
		debounced:    debounce.New(cfg.Cache.WriteDelay),
	}

	if cfg.Cache.Enabled {
		path, err := cfg.CachePath()
		if err != nil {
			return nil, err
		}
		database, err := db.InitDatabase(path, cfg.Cache.Driver)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.database = database
		a.cache = db.NewCache(database)
	}

	a.providerManager = core.NewProviderManager(a.database, logger)
	registerProviders(a.providerManager)
	return a, nil
}

func registerProviders(pm *core.ProviderManager) {
	pm.RegisterProvider("mock", core.ProviderInfo{
		ID:          "mock",
		Name:        "Mock",
		Description: "In-memory backend for development and testing",
		ConfigSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{"type": "string"},
			},
		},
	}, func() core.Provider {
		return providers.NewMockProvider()
	})

	pm.RegisterProvider("rest", core.ProviderInfo{
		ID:          "rest",
		Name:        "REST",
		Description: "Chat server reached over HTTP with a WebSocket event stream",
		ConfigSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"base_url"},
			"properties": map[string]interface{}{
				"base_url":        map[string]interface{}{"type": "string"},
				"ws_url":          map[string]interface{}{"type": "string"},
				"token":           map[string]interface{}{"type": "string"},
				"reconnect_delay": map[string]interface{}{"type": "string"},
				"timeout":         map[string]interface{}{"type": "string"},
			},
		},
	}, providers.NewRestProvider)

	pm.RegisterProvider("slack", core.ProviderInfo{
		ID:          "slack",
		Name:        "Slack",
		Description: "Slack workspace through the Web API",
		ConfigSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"token"},
			"properties": map[string]interface{}{
				"token":         map[string]interface{}{"type": "string"},
				"d_cookie":      map[string]interface{}{"type": "string"},
				"api_url":       map[string]interface{}{"type": "string"},
				"poll_interval": map[string]interface{}{"type": "string"},
			},
		},
	}, providers.NewSlackProvider)
}

// Providers lists the registered backends.
func (a *App) Providers() []core.ProviderInfo {
	return a.providerManager.GetAvailableProviders()
}

// Metrics returns the client metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Start connects the configured provider, restores cached conversations and starts
// consuming real-time events.
func (a *App) Start(ctx context.Context) error {
	provider, err := a.selectProvider()
	if err != nil {
		return err
	}
	a.provider = provider

	if err := provider.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect provider %s: %w", a.cfg.Provider.ID, err)
	}

	userID := a.cfg.User.ID
	if userID == "" {
		userID = provider.CurrentUserID()
	}
	a.store = store.New(userID)
	a.viewport = virtualizer.NewViewport(a.store, a.cfg.Virtualizer, a.opts.Renderer, a.logger, a.metrics)
	a.engine = timeline.New(a.store, provider, a.cfg.Timeline, timeline.Deps{
		Logger:      a.logger,
		Metrics:     a.metrics,
		Navigator:   a,
		Notifier:    a,
		Viewport:    a.viewport,
		Highlighter: a,
	})

	a.hydrateConversations()
	if convs, err := provider.GetConversations(ctx); err != nil {
		a.logger.Warnf("failed to fetch conversations, keeping cached list: %v", err)
	} else {
		a.store.SetConversations(convs)
	}

	if a.cache != nil {
		a.unsubscribe = a.store.Subscribe(a.onStoreChange)
	}
	a.startEventListener(ctx)
	a.startMetricsServer()
	a.logger.Infof("started with provider %s as %s", a.cfg.Provider.ID, userID)
	return nil
}

// selectProvider restores the stored configuration of the configured provider, or
// creates it from the config file when settings were given there.
func (a *App) selectProvider() (core.Provider, error) {
	id := a.cfg.Provider.ID
	settings := a.cfg.ProviderSettings()

	var provider core.Provider
	if len(settings) == 0 {
		configs, err := a.providerManager.LoadProviderConfigs()
		if err != nil {
			a.logger.Warnf("failed to load provider configs: %v", err)
			configs = []models.ProviderConfiguration{}
		}
		for _, stored := range configs {
			if stored.ProviderID != id {
				continue
			}
			provider, err = a.providerManager.RestoreProvider(stored)
			if err != nil {
				a.logger.Warnf("failed to restore provider %s: %v", id, err)
				provider = nil
			}
			break
		}
	}
	if provider == nil {
		var err error
		provider, err = a.providerManager.CreateProvider(id, settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", id, err)
		}
	}
	if err := a.providerManager.SetActiveProvider(id); err != nil {
		return nil, err
	}
	return provider, nil
}

// startEventListener feeds provider events into the reconciler until ctx ends or the
// provider closes its channel.
func (a *App) startEventListener(ctx context.Context) {
	if a.eventCancel != nil {
		a.eventCancel()
	}
	eventChan, err := a.provider.StreamEvents()
	if err != nil {
		a.logger.Errorf("failed to get event stream: %v", err)
		return
	}
	eventCtx, cancel := context.WithCancel(ctx)
	a.eventCancel = cancel

	a.listenerWG.Add(1)
	go func() {
		defer a.listenerWG.Done()
		for {
			select {
			case event, ok := <-eventChan:
				if !ok {
					a.logger.Infof("event channel closed")
					return
				}
				a.handleEvent(event)
			case <-eventCtx.Done():
				a.logger.Debugf("event listener stopped")
				return
			}
		}
	}()
}

func (a *App) handleEvent(event core.ProviderEvent) {
	if st, ok := event.(core.ConnectionStatusEvent); ok {
		a.connMu.Lock()
		a.connState = st.State
		a.connMu.Unlock()
		if st.Err != nil {
			a.logger.Warnf("connection %s: %v", st.State, st.Err)
		} else {
			a.logger.Infof("connection %s", st.State)
		}
		return
	}
	outcome := a.engine.Reconciler.Apply(event)
	a.logger.Debugf("event %s: %s", event.Type(), outcome)
}

// ConnectionState returns the last state reported by the provider.
func (a *App) ConnectionState() core.ConnectionState {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.connState
}

func (a *App) startMetricsServer() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf("metrics server: %v", err)
		}
	}()
	a.logger.Infof("serving metrics on %s/metrics", a.cfg.Metrics.Addr)
}

// Close stops the event listener, waits for outstanding sends, flushes the cache and
// disconnects the providers.
func (a *App) Close() error {
	if a.eventCancel != nil {
		a.eventCancel()
	}
	a.listenerWG.Wait()
	if a.engine != nil {
		a.engine.Close()
	}
	if a.viewport != nil {
		a.viewport.Close()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.flush()
	a.writeMu.Lock()
	a.closed = true
	a.writeMu.Unlock()
	a.providerManager.DisconnectAll()

	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if a.database != nil {
		if err := db.Close(a.database); err != nil {
			return err
		}
	}
	return nil
}
