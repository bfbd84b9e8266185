// Package app wires the real-time experience runtime's subsystems into a
// running process (SPEC_FULL.md's component dependency order, leaves
// first).
//
// The App struct owns the full lifecycle: New creates and connects every
// collaborator — event bus, state store, template registry, AOI builder,
// dispatcher with its handlers, session endpoint, gateway proxy, audit
// trail, ops notifications, and health checks — Run starts the HTTP
// listeners and blocks until the context is cancelled, and Shutdown tears
// everything down in dependency order.
//
// For testing, inject fakes via functional options (WithEventBus,
// WithStateStore, ...). When an option is not provided, New builds the real
// implementation from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/kestrel-run/aoi-runtime/internal/aoi"
	"github.com/kestrel-run/aoi-runtime/internal/audit"
	"github.com/kestrel-run/aoi-runtime/internal/chatproxy"
	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/eventbus"
	"github.com/kestrel-run/aoi-runtime/internal/gateway"
	"github.com/kestrel-run/aoi-runtime/internal/handlers"
	"github.com/kestrel-run/aoi-runtime/internal/health"
	"github.com/kestrel-run/aoi-runtime/internal/observe"
	"github.com/kestrel-run/aoi-runtime/internal/opsnotify"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
	"github.com/kestrel-run/aoi-runtime/internal/wsapi"
)

// verbAliases implements §4.5's "lightweight natural-language alias
// resolution at the edge" for the synonyms named there directly.
var verbAliases = map[string]string{
	"take":    "collect",
	"grab":    "collect",
	"pick up": "collect",
	"leave":   "drop",
	"walk":    "go",
	"move":    "go",
	"speak":   "talk",
	"items":   "inventory",
	"inv":     "inventory",
}

// healthListenAddr is the address the health/readiness endpoints bind to.
// It is intentionally separate from the session and gateway listeners so an
// orchestrator's liveness probe never contends with client traffic.
const healthListenAddr = ":9100"

// App owns every subsystem of one runtime process.
type App struct {
	cfg *config.Config

	bus         eventbus.Client
	store       statestore.Store
	templates   *template.Registry
	builder     *aoi.Builder
	dispatcher  *dispatcher.Dispatcher
	chatClient  chatproxy.Client
	auditPool   *pgxpool.Pool
	recorder    audit.Recorder
	notifier    opsnotify.Notifier
	metrics     *observe.Metrics
	auth        wsapi.Authenticator
	metricsStop func(context.Context) error

	sessionRegistry *wsapi.Registry
	sessionServer   *wsapi.Server
	gatewayProxy    *gateway.Proxy
	healthHandler   *health.Handler

	sessionHTTP *http.Server
	gatewayHTTP *http.Server
	healthHTTP  *http.Server
}

// Option customizes New, primarily to substitute fakes in tests.
type Option func(*App)

// WithEventBus overrides the default Redis-backed, publish-guarded event bus client.
func WithEventBus(bus eventbus.Client) Option {
	return func(a *App) { a.bus = bus }
}

// WithStateStore overrides the default file-backed state store.
func WithStateStore(store statestore.Store) Option {
	return func(a *App) { a.store = store }
}

// WithAuditRecorder overrides the default Postgres-backed audit recorder.
func WithAuditRecorder(rec audit.Recorder) Option {
	return func(a *App) { a.recorder = rec }
}

// WithOpsNotifier overrides the default Discord ops notifier.
func WithOpsNotifier(n opsnotify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithAuthenticator overrides the default HMAC bearer-token authenticator.
func WithAuthenticator(auth wsapi.Authenticator) Option {
	return func(a *App) { a.auth = auth }
}

// WithChatClient overrides the default HTTP chat-service client the talk
// handler proxies to.
func WithChatClient(client chatproxy.Client) Option {
	return func(a *App) { a.chatClient = client }
}

// WithMetrics overrides the default metrics built from the global meter
// provider — useful for tests that don't call [observe.InitProvider].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsShutdown registers a shutdown function for [App.Shutdown] to
// call — normally the function [observe.InitProvider] returned in main.
func WithMetricsShutdown(fn func(context.Context) error) Option {
	return func(a *App) { a.metricsStop = fn }
}

// New builds every collaborator named in SPEC_FULL.md's component list and
// returns an App ready to [App.Run]. dataRoot is the filesystem root for
// experience content and player-view JSON (§6.3).
func New(ctx context.Context, cfg *config.Config, dataRoot string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.notifier == nil {
		notifier, err := opsnotify.NewDiscordNotifier(cfg.OpsNotify)
		if err != nil {
			return nil, fmt.Errorf("app: build ops notifier: %w", err)
		}
		a.notifier = notifier
	}
	if err := a.initEventBus(ctx, cfg); err != nil {
		return nil, err
	}
	if a.store == nil {
		a.store = statestore.NewFileStore(cfg, dataRoot, a.bus)
	}
	a.templates = template.NewRegistry(dataRoot)
	a.builder = aoi.NewBuilder(a.store, a.templates)

	if err := a.initAudit(ctx, cfg); err != nil {
		return nil, err
	}
	if a.metrics == nil {
		metrics, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: build metrics: %w", err)
		}
		a.metrics = metrics
	}
	if a.auth == nil {
		auth, err := wsapi.NewHMACAuthenticator(cfg.Server.AuthSecret)
		if err != nil {
			return nil, fmt.Errorf("app: build authenticator: %w", err)
		}
		a.auth = auth
	}
	if a.chatClient == nil {
		a.chatClient = chatproxy.NewHTTPClient(cfg.ChatService, a.notifier)
	}

	a.dispatcher = dispatcher.New(a.store)
	registerHandlers(a.dispatcher, a.store, a.templates, a.recorder, a.chatClient, a.notifier)
	for alias, canonical := range verbAliases {
		a.dispatcher.Alias(alias, canonical)
	}

	a.sessionRegistry = wsapi.NewRegistry()
	a.sessionServer = &wsapi.Server{
		Store:             a.store,
		Templates:         a.templates,
		Builder:           a.builder,
		Dispatcher:        a.dispatcher,
		Bus:               a.bus,
		Auth:              a.auth,
		Registry:          a.sessionRegistry,
		Metrics:           a.metrics,
		HeartbeatInterval: time.Duration(cfg.Server.HeartbeatIntervalSeconds) * time.Second,
	}

	a.gatewayProxy = &gateway.Proxy{
		BackendAddr:    "ws://" + cfg.Server.SessionBackendAddr + "/ws",
		Auth:           a.auth,
		MaxConnections: int64(cfg.Server.MaxGatewayConnections),
		Metrics:        a.metrics,
	}

	a.healthHandler = health.New(
		health.Checker{Name: "event_bus", Check: func(context.Context) error {
			if !a.bus.IsConnected() {
				return errors.New("event bus not connected")
			}
			return nil
		}},
		health.Checker{Name: "experiences", Check: func(context.Context) error {
			if len(cfg.Experiences) == 0 {
				return errors.New("no experiences configured")
			}
			return nil
		}},
	)

	return a, nil
}

// initEventBus wires the publish-guarded Redis event bus client (§4.1: a
// publish failure must never fail a state write) and connects it. A connect
// failure at startup is returned, so New fails; [eventbus.Reconnector] only
// retries connections lost after a successful first connect.
func (a *App) initEventBus(ctx context.Context, cfg *config.Config) error {
	if a.bus == nil {
		redisClient := eventbus.NewRedisClient(eventbus.RedisConfig{
			Addr:     cfg.EventBus.Addr,
			Username: cfg.EventBus.Username,
			Password: cfg.EventBus.Password,
			DB:       cfg.EventBus.DB,
		})
		redisClient.SetNotifier(a.notifier)
		a.bus = eventbus.NewPublishGuard(redisClient)
	}
	if err := a.bus.Connect(ctx); err != nil {
		return fmt.Errorf("app: event bus connect: %w", err)
	}
	return nil
}

// initAudit opens the Postgres audit pool and migrates its schema when
// audit.postgres_dsn is set, else falls back to [audit.NopRecorder] so the
// runtime still starts without a durable history for `@stats`/`@find`.
func (a *App) initAudit(ctx context.Context, cfg *config.Config) error {
	if a.recorder != nil {
		return nil
	}
	if cfg.Audit.PostgresDSN == "" {
		a.recorder = audit.NopRecorder{}
		return nil
	}
	pool, err := pgxpool.New(ctx, cfg.Audit.PostgresDSN)
	if err != nil {
		return fmt.Errorf("app: connect audit db: %w", err)
	}
	rec := audit.NewPostgresRecorder(pool)
	if err := rec.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("app: migrate audit schema: %w", err)
	}
	a.auditPool = pool
	a.recorder = rec
	return nil
}

// registerHandlers wires every command handler of §4.6 into disp, keyed by
// its canonical verb (§2 component 6: "Command Handlers").
func registerHandlers(disp *dispatcher.Dispatcher, store statestore.Store, templates *template.Registry, recorder audit.Recorder, chat chatproxy.Client, notifier opsnotify.Notifier) {
	disp.Register("collect", &handlers.CollectHandler{Store: store})
	disp.Register("drop", &handlers.DropHandler{Store: store})
	disp.Register("give", &handlers.GiveHandler{Store: store})
	disp.Register("go", &handlers.GoHandler{Store: store})
	disp.Register("inventory", &handlers.InventoryHandler{Store: store, Templates: templates})
	lookHandler := &handlers.LookHandler{Store: store, Templates: templates}
	disp.Register("look", lookHandler)
	disp.Register("examine", &handlers.ExamineHandler{Store: store, Templates: templates, Look: lookHandler})
	disp.Register("talk", &handlers.TalkHandler{Store: store, Templates: templates, Chat: chat})

	disp.Register("@list", &handlers.AdminListHandler{Store: store})
	disp.Register("@inspect", &handlers.AdminInspectHandler{Store: store})
	disp.Register("@where", &handlers.AdminWhereHandler{Store: store})
	disp.Register("@find", &handlers.AdminFindHandler{Audit: recorder})
	disp.Register("@stats", &handlers.AdminStatsHandler{Audit: recorder})
	disp.Register("@create", &handlers.AdminCreateHandler{Store: store})
	disp.Register("@edit", &handlers.AdminEditHandler{Store: store})
	disp.Register("@delete", &handlers.AdminDeleteHandler{Store: store})
	disp.Register("@connect", &handlers.AdminConnectHandler{Store: store})
	disp.Register("@disconnect", &handlers.AdminDisconnectHandler{Store: store})
	disp.Register("@reset", &handlers.AdminResetHandler{Store: store, Notifier: notifier})
}

// Run starts the session endpoint, gateway proxy, and health listeners and
// blocks until ctx is cancelled or a listener fails.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", a.sessionServer)
	a.sessionHTTP = &http.Server{Addr: a.cfg.Server.SessionListenAddr, Handler: mux}

	gwMux := http.NewServeMux()
	gwMux.Handle("/ws", a.gatewayProxy)
	a.gatewayHTTP = &http.Server{Addr: a.cfg.Server.GatewayListenAddr, Handler: gwMux}

	healthMux := http.NewServeMux()
	a.healthHandler.Register(healthMux)
	a.healthHTTP = &http.Server{Addr: healthListenAddr, Handler: healthMux}

	errs := make(chan error, 3)
	go func() { errs <- serveOrNil(a.sessionHTTP) }()
	go func() { errs <- serveOrNil(a.gatewayHTTP) }()
	go func() { errs <- serveOrNil(a.healthHTTP) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

func serveOrNil(srv *http.Server) error {
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown tears down every subsystem in dependency order: HTTP listeners
// first so no new work arrives, then the event bus, then the audit pool and
// metrics provider.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	for _, srv := range []*http.Server{a.sessionHTTP, a.gatewayHTTP, a.healthHTTP} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event bus close: %w", err))
		}
	}
	if a.auditPool != nil {
		a.auditPool.Close()
	}
	if a.metricsStop != nil {
		if err := a.metricsStop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// SessionRegistry exposes the connection registry for tests and admin
// tooling that need to introspect active connections.
func (a *App) SessionRegistry() *wsapi.Registry { return a.sessionRegistry }

// Dispatcher exposes the command dispatcher for tests.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Store exposes the state store for tests.
func (a *App) Store() statestore.Store { return a.store }
