package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/enflame-media/syncrelay/internal/alarm"
	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/auth"
	"github.com/enflame-media/syncrelay/internal/auth/authorization"
	"github.com/enflame-media/syncrelay/internal/config"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/metrics"
	"github.com/enflame-media/syncrelay/internal/registry"
	"github.com/enflame-media/syncrelay/internal/router"
	"github.com/enflame-media/syncrelay/internal/server"
	"github.com/enflame-media/syncrelay/internal/sessioncache"
	"github.com/enflame-media/syncrelay/internal/websocket"
)

// ErrNoLocalTokenStore is returned by SeedToken when tokens are not kept in memory.
var ErrNoLocalTokenStore = errors.New("tokens can only be seeded into the memory storage backend")

// App is an assembled relay.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	backends  *backends
	metrics   *metrics.Metrics
	cache     *sessioncache.Cache
	registry  *registry.Registry
	scheduler *alarm.Scheduler
	router    *router.Router
	sockets   *websocket.Handler
	http      *server.Router
}

// New wires every relay component from cfg. It opens the storage backends
// but does not listen.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	enforcer, err := authorization.NewEnforcer(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authorization: %w", err)
	}

	b, err := initializeBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	promRegistry := metrics.NewRegistry()
	m := metrics.New(promRegistry)

	cache := sessioncache.New(b.repos.Sessions, sessioncache.Config{
		TTL:         cfg.SessionCacheTTL,
		NegativeTTL: cfg.SessionCacheNegativeTTL,
	}, m, log)

	conns := registry.New(registry.Config{
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		ConnectionTimeout:     cfg.ConnectionTimeout,
		AllowDuplicates: map[api.Scope]bool{
			api.ScopeUser:    cfg.AllowDuplicateUserConnections,
			api.ScopeSession: cfg.AllowDuplicateSessionConnections,
			api.ScopeMachine: cfg.AllowDuplicateMachineConnections,
		},
	}, m, log)

	scheduler := alarm.New(alarm.Config{
		MaxRetries:   cfg.AlarmMaxRetries,
		BaseDelayMs:  cfg.AlarmBaseDelayMs,
		MaxDelayMs:   cfg.AlarmMaxDelayMs,
		JitterFactor: cfg.AlarmJitterFactor,
	}, b.repos.DeadLetters, m, log)

	deps := router.Dependencies{
		Updates:     b.repos.Updates,
		Sessions:    cache,
		Connections: conns,
		Metrics:     m,
		Logger:      log,
	}
	if store := b.recorder(cfg); store != nil {
		deps.Recorder = store
	}
	eventRouter := router.New(deps, router.Config{
		EnableAutoResponse: cfg.EnableAutoResponse,
		ReplayLimit:        cfg.ReplayLimit,
	})

	verifier := auth.NewVerifier(b.repos.Tokens, log)

	sockets := websocket.NewHandler(websocket.Config{
		MaxMessageSize: cfg.MaxMessageSize,
		AuthTimeout:    cfg.AuthTimeout,
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		SendBufferSize: cfg.SendBufferSize,
	}, websocket.Dependencies{
		Verifier:  verifier,
		Registry:  conns,
		Router:    eventRouter,
		Scheduler: scheduler,
		Metrics:   m,
		Logger:    log,
	})

	a := &App{
		cfg:       cfg,
		logger:    log,
		backends:  b,
		metrics:   m,
		cache:     cache,
		registry:  conns,
		scheduler: scheduler,
		router:    eventRouter,
		sockets:   sockets,
		http: server.NewRouter(server.Dependencies{
			Sockets:       sockets,
			Registry:      conns,
			DeadLetters:   b.repos.DeadLetters,
			Authenticator: verifier,
			Authorizer:    enforcer,
			Metrics:       metrics.Handler(promRegistry),
			Logger:        log,
		}),
	}

	if err := a.scheduleMaintenance(); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

// scheduleMaintenance arms the recurring idle sweep and cache cleanup.
func (a *App) scheduleMaintenance() error {
	tasks := []struct {
		task     alarm.Task
		interval time.Duration
	}{
		{
			task: alarm.Task{
				ID:      constants.AlarmContextConnectionTimeout,
				Context: constants.AlarmContextConnectionTimeout,
				Run: func(context.Context) error {
					if reaped := a.registry.ReapIdle(time.Now()); reaped > 0 {
						a.logger.Info("closed idle connections", "context", map[string]any{"count": reaped})
					}
					return nil
				},
			},
			interval: a.cfg.ReapInterval,
		},
		{
			task: alarm.Task{
				ID:      constants.AlarmContextCleanup,
				Context: constants.AlarmContextCleanup,
				Run:     a.cache.Cleanup,
			},
			interval: a.cfg.SessionCacheCleanupInterval,
		},
	}

	for _, t := range tasks {
		if _, err := a.scheduler.ScheduleRecurring(t.task, t.interval); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", t.task.Context, err)
		}
	}
	return nil
}

// Handler returns the relay HTTP handler.
func (a *App) Handler() http.Handler {
	return a.http
}

// SeedToken stores a bearer token for userID in the memory token store.
// An empty role seeds a plain user token.
func (a *App) SeedToken(ctx context.Context, token, userID, role string) error {
	if a.cfg.StorageBackend != constants.MemoryBackend || a.backends.store == nil {
		return ErrNoLocalTokenStore
	}
	if _, err := authorization.ParseRole(role); err != nil {
		return err
	}
	return a.backends.store.PutToken(ctx, &api.TokenRecord{
		TokenHash: auth.HashToken(token),
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().Unix(),
	})
}

// Run listens on the configured port until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(a.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the relay on ln until ctx is cancelled, then shuts down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := server.New(ln.Addr().String(), a.http, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ServerShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown closes every socket with 1001, waits for their goroutines, stops
// the scheduler and releases the backends.
func (a *App) Shutdown(ctx context.Context) error {
	closed := a.registry.CloseAll(constants.CloseGoingAway, constants.CloseReasonShutdown)
	a.logger.Info("closing relay connections", "context", map[string]any{"count": closed})

	var errs []error
	if err := a.sockets.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sockets did not drain: %w", err))
	}
	if err := a.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("alarm scheduler did not stop: %w", err))
	}
	for _, closeFn := range a.backends.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.backends.closers = nil
	return errors.Join(errs...)
}
