package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/coin-tracker/internal/api"
	"github.com/rickgao/coin-tracker/internal/auth"
	"github.com/rickgao/coin-tracker/internal/config"
	"github.com/rickgao/coin-tracker/internal/connection"
	"github.com/rickgao/coin-tracker/internal/icon"
	"github.com/rickgao/coin-tracker/internal/poller"
	"github.com/rickgao/coin-tracker/internal/publish"
	"github.com/rickgao/coin-tracker/internal/router"
	"github.com/rickgao/coin-tracker/internal/store"
	"github.com/rickgao/coin-tracker/internal/view"
	"github.com/rickgao/coin-tracker/internal/writer"
)

const shutdownTimeout = 30 * time.Second

// app owns every component of a running tracker.
type app struct {
	cfg       *config.TrackerConfig
	logger    *slog.Logger
	startedAt time.Time

	store    *store.Store
	list     *view.ListModel
	listSub  *store.Subscription
	manager  connection.Manager
	router   router.Router
	writer   *writer.CoinWriter
	poller   *poller.Poller
	icons    *icon.Loader
	prefetch *icon.Prefetcher
	redis    *redis.Client
	pub      *publish.Publisher
	http     *http.Server

	fatal chan error
}

func newApp(ctx context.Context, cfg *config.TrackerConfig, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
		list:      view.NewListModel(),
		fatal:     make(chan error, 1),
	}

	logger.Info("opening store", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
	st, err := store.Open(ctx, cfg.Store, "coin-tracker-"+cfg.Instance.ID, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	logger.Info("store opened", "coins", st.Len())

	var signer auth.Signer
	if cfg.Feed.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(cfg.Feed.APIKey, cfg.Feed.PrivateKeyPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		signer = creds
		logger.Info("using feed credentials", "key_id", creds.KeyID)
	}

	apiOpts := []api.ClientOption{
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.Feed.Timeout),
		api.WithRetries(cfg.Feed.MaxRetries, time.Second),
	}
	if signer != nil {
		apiOpts = append(apiOpts, api.WithSigner(signer))
	}
	apiClient := api.NewClient(cfg.Feed.RestURL, apiOpts...)

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.Client.URL = cfg.Feed.WSURL
	mgrCfg.Client.Signer = signer
	mgrCfg.Client.PingTimeout = cfg.Feed.PingTimeout
	mgrCfg.Client.WriteTimeout = cfg.Feed.WriteTimeout
	mgrCfg.EventBuffer = cfg.Feed.EventBuffer
	a.manager = connection.NewManager(mgrCfg, logger.With("component", "connection"))

	a.router = router.NewRouter(router.RouterConfig{BufferSize: cfg.Writer.BufferSize},
		a.manager.Events(), logger.With("component", "router"))

	a.writer = writer.NewCoinWriter(writer.WriterConfig{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
	}, a.router.Output(), st, logger.With("component", "writer"))

	a.poller = poller.New(poller.Config{
		Interval: cfg.Poller.Interval,
		Timeout:  cfg.Poller.Timeout,
	}, apiClient, a.router.Output(), logger.With("component", "poller"))

	if cfg.Icons.Enabled {
		a.icons = icon.NewLoader(icon.Config{
			Timeout:  cfg.Icons.Timeout,
			MaxBytes: cfg.Icons.MaxBytes,
		}, nil, logger.With("component", "icons"))
		a.prefetch = icon.NewPrefetcher(a.icons, st, logger.With("component", "icons"))
	}

	if cfg.Publish.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Publish.Addr,
			Password: cfg.Publish.Password,
			DB:       cfg.Publish.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, change publishing disabled", "addr", cfg.Publish.Addr, "error", err)
			a.redis.Close()
			a.redis = nil
		} else {
			a.pub = publish.New(publish.Config{
				Channel: cfg.Publish.Channel,
				HashKey: cfg.Publish.HashKey,
			}, a.redis, st, logger.With("component", "publish"))
		}
	}

	srv := &server{
		store:  st,
		list:   a.list,
		icons:  a.icons,
		health: a.healthReport,
		logger: logger.With("component", "http"),
	}
	a.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// run starts every component and blocks until ctx is cancelled or a
// component fails. It always shuts down before returning.
func (a *app) run(ctx context.Context) error {
	a.listSub = a.store.Subscribe()
	go a.viewLoop(ctx)

	comps := a.components()
	for i, c := range comps {
		if err := c.start(ctx); err != nil {
			a.stopComponents(comps[:i])
			return fmt.Errorf("start %s: %w", c.name, err)
		}
	}

	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server", "addr", a.http.Addr)
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	a.logger.Info("tracker running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", a.cfg.HTTP.Port),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-a.writer.Err():
		runErr = err
	case err := <-a.fatal:
		runErr = err
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	a.logger.Info("shutting down...")
	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.http.Shutdown(httpCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	cancel()
	a.stopComponents(comps)
	return runErr
}

// viewLoop keeps the list model in step with the store. A broken change
// stream is fatal.
func (a *app) viewLoop(ctx context.Context) {
	for c := range a.listSub.C {
		if _, err := a.list.Apply(c); err != nil {
			if ctx.Err() != nil || errors.Is(err, store.ErrClosed) {
				return
			}
			select {
			case a.fatal <- fmt.Errorf("change stream: %w", err):
			default:
			}
			return
		}
	}
}

// component is a started service with a bounded stop.
type component struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// components lists services in start order: consumers before producers.
func (a *app) components() []component {
	comps := []component{
		{"writer", a.writer.Start, a.writer.Stop},
		{"router", a.router.Start, a.router.Stop},
		{"connection manager", a.manager.Start, a.manager.Stop},
		{"poller", a.poller.Start, a.poller.Stop},
	}
	if a.prefetch != nil {
		comps = append(comps, component{"icon prefetcher", a.prefetch.Start, a.prefetch.Stop})
	}
	if a.pub != nil {
		comps = append(comps, component{"change publisher", a.pub.Start, a.pub.Stop})
	}
	return comps
}

// stopComponents stops in reverse start order, so upstream stages stop
// first and the writer drains last, then releases the store.
func (a *app) stopComponents(comps []component) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(comps) - 1; i >= 0; i-- {
		if err := comps[i].stop(ctx); err != nil {
			a.logger.Warn("component stop failed", "component", comps[i].name, "error", err)
		}
	}

	if a.listSub != nil {
		a.listSub.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", "error", err)
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func (a *app) healthReport() healthReport {
	report := healthReport{
		Status:     "healthy",
		Uptime:     formatUptime(time.Since(a.startedAt)),
		Components: make(map[string]any),
	}

	mgr := a.manager.Stats()
	conn := map[string]any{
		"state":       mgr.State.String(),
		"connects":    mgr.Connects,
		"disconnects": mgr.Disconnects,
		"failures":    mgr.Failures,
	}
	if !mgr.RetryAt.IsZero() {
		conn["retry_at"] = mgr.RetryAt
	}
	report.Components["stream"] = conn
	if mgr.State != connection.StateConnected {
		report.Status = "degraded"
	}

	rs := a.router.Stats()
	report.Components["router"] = map[string]any{
		"observations": rs.Observations,
		"parse_errors": rs.ParseErrors,
		"queued":       rs.Output.Count,
	}

	ws := a.writer.Stats()
	report.Components["writer"] = ws
	if ws.Errors > 0 {
		report.Status = "unhealthy"
	}

	ps := a.poller.Stats()
	report.Components["poller"] = ps

	ss := a.store.Stats()
	report.Components["store"] = ss
	if ss.Records == 0 && report.Status == "healthy" {
		report.Status = "degraded"
	}

	if a.icons != nil {
		report.Components["icons"] = iconHealth(a.icons, a.prefetch)
	}
	if a.pub != nil {
		report.Components["publish"] = a.pub.Stats()
	}
	return report
}

// iconHealth merges loader counters with prefetch outcomes.
func iconHealth(loader *icon.Loader, pf *icon.Prefetcher) map[string]any {
	ls := loader.Stats()
	h := map[string]any{
		"cached":     ls.Cached,
		"hits":       ls.Hits,
		"fetches":    ls.Fetches,
		"failures":   ls.Failures,
		"superseded": ls.Superseded,
	}
	if pf != nil {
		loaded, failed := pf.Stats()
		h["prefetch_loaded"] = loaded
		h["prefetch_failed"] = failed
	}
	return h
}
