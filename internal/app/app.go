package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clawwork/livebench/internal/audit"
	"github.com/clawwork/livebench/internal/config"
	"github.com/clawwork/livebench/internal/handlers"
	"github.com/clawwork/livebench/internal/hub"
	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/middleware"
	"github.com/clawwork/livebench/internal/ratelimit"
	"github.com/clawwork/livebench/internal/simulation"
	"github.com/clawwork/livebench/internal/store"
	"github.com/clawwork/livebench/internal/telemetry"
	"github.com/clawwork/livebench/internal/tenant"
	"github.com/clawwork/livebench/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

// Builder wires LiveBench application dependencies.
type Builder struct {
	cfg      *config.Config
	version  string
	logger   logger.Logger
	fiberApp *fiber.App

	auditSink    audit.Sink
	limiter      *ratelimit.Limiter
	resolver     *tenant.Resolver
	supervisor   *simulation.Supervisor
	broadcastHub *hub.BroadcastHub
	fileWatcher  *watcher.Watcher
	settings     *store.Settings
	agentData    *store.AgentData

	closers []func()
}

// NewBuilder creates a new application builder.
func NewBuilder(cfg *config.Config, version string) *Builder {
	return &Builder{cfg: cfg, version: version}
}

// Build assembles the LiveBench application components.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.initLogger()
	b.initFiber()
	b.initTracing(ctx)
	b.initMiddleware()

	if err := b.initComponents(); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	b.initRoutes()

	return &App{
		cfg:         b.cfg,
		logger:      b.logger,
		fiberApp:    b.fiberApp,
		fileWatcher: b.fileWatcher,
		closers:     b.closers,
	}, nil
}

func (b *Builder) initLogger() {
	b.logger = logger.NewFromConfig(b.cfg.Log.Level, b.cfg.Log.Format)
	logger.SetDefault(b.logger)

	b.logger.Info("Starting LiveBench",
		logger.String("version", b.version),
		logger.String("address", b.cfg.Address()),
		logger.String("data_root", b.cfg.Tenancy.DataRoot),
		logger.String("log_level", b.cfg.Log.Level),
	)
}

func (b *Builder) initFiber() {
	b.fiberApp = fiber.New()
}

func (b *Builder) initTracing(ctx context.Context) {
	tracingCfg := telemetry.TracingConfig{
		Enabled:        b.cfg.Tracing.Enabled,
		Endpoint:       b.cfg.Tracing.Endpoint,
		ServiceName:    b.cfg.Tracing.ServiceName,
		ServiceVersion: b.cfg.Tracing.ServiceVersion,
		Environment:    b.cfg.Tracing.Environment,
		SamplingRatio:  b.cfg.Tracing.SamplingRatio,
		InsecureConn:   b.cfg.Tracing.InsecureConn,
	}

	provider, err := telemetry.InitTracing(ctx, tracingCfg)
	if err != nil {
		b.logger.Error("Failed to initialize tracing", logger.Error(err))
		return
	}

	if b.cfg.Tracing.Enabled {
		b.logger.Info("OpenTelemetry tracing initialized",
			logger.String("endpoint", b.cfg.Tracing.Endpoint),
			logger.String("service_name", b.cfg.Tracing.ServiceName),
		)

		b.addCloser(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				b.logger.Error("Failed to shutdown tracer provider", logger.Error(err))
			}
		})
	}
}

func (b *Builder) initMiddleware() {
	b.fiberApp.Use(middleware.RequestLogging(b.logger))
	b.fiberApp.Use(middleware.MetricsMiddleware())
	b.fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: b.cfg.API.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " +
			b.cfg.Tenancy.Header + ", " + b.cfg.Auth.TokenHeader,
	}))

	if b.cfg.Tracing.Enabled {
		b.fiberApp.Use(middleware.TracingMiddleware(b.cfg.Tracing.ServiceName))
	}
}

func (b *Builder) initComponents() error {
	sink, err := audit.New(audit.Config{
		Enabled:  b.cfg.Audit.Enabled,
		Sink:     b.cfg.Audit.Sink,
		FilePath: b.cfg.Audit.FilePath,
	}, b.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit sink: %w", err)
	}
	b.auditSink = sink
	b.addCloser(func() {
		if err := sink.Close(); err != nil {
			b.logger.Error("Failed to close audit sink", logger.Error(err))
		}
	})

	b.limiter = ratelimit.NewLimiter(ratelimit.Config{
		Enabled:       b.cfg.RateLimit.Enabled,
		Window:        b.cfg.RateLimit.Window,
		ReadLimit:     b.cfg.RateLimit.ReadLimit,
		WriteLimit:    b.cfg.RateLimit.WriteLimit,
		SweepInterval: b.cfg.RateLimit.SweepInterval,
	})
	b.addCloser(b.limiter.Close)

	if b.cfg.RateLimit.Enabled {
		b.logger.Info("Rate limiting enabled",
			logger.Duration("window", b.cfg.RateLimit.Window),
			logger.Int("read_limit", b.cfg.RateLimit.ReadLimit),
			logger.Int("write_limit", b.cfg.RateLimit.WriteLimit),
		)
	}

	b.resolver = tenant.NewResolver(b.cfg.Tenancy.DataRoot, b.cfg.Tenancy.Required)

	b.supervisor = simulation.NewSupervisor(simulation.Config{
		WorkerExec:     b.cfg.Simulation.WorkerExec,
		WorkerScript:   b.cfg.Simulation.WorkerScript,
		ProjectRoot:    b.cfg.Simulation.ProjectRoot,
		AllowedEnvKeys: b.cfg.Simulation.AllowedEnvKeys,
	}, simulation.NewOSProcessManager(), sink, b.logger)

	b.broadcastHub = hub.NewBroadcastHub(b.logger)
	b.addCloser(b.broadcastHub.Close)

	b.fileWatcher = watcher.New(watcher.Config{
		Enabled:  b.cfg.Watcher.Enabled,
		Interval: b.cfg.Watcher.Interval,
	}, b.cfg.Tenancy.DataRoot, b.broadcastHub, b.logger)

	b.settings = store.NewSettings(b.logger)
	b.agentData = store.NewAgentData(b.cfg.API.TaskValuesPath, b.supervisor, b.logger)

	return nil
}

func (b *Builder) initRoutes() {
	gateCfg := middleware.GateConfig{
		Limiter:      b.limiter,
		Sink:         b.auditSink,
		Resolver:     b.resolver,
		TenantHeader: b.cfg.Tenancy.Header,
		Token:        b.cfg.Auth.Token,
		TokenHeader:  b.cfg.Auth.TokenHeader,
		RequireRead:  b.cfg.Auth.RequireRead,
		RequireWrite: b.cfg.Auth.RequireWrite,
	}
	read := func(action string) fiber.Handler { return middleware.ReadGate(gateCfg, action) }
	write := func(action string) fiber.Handler { return middleware.WriteGate(gateCfg, action) }

	rootHandler := handlers.NewRootHandler(b.version)
	agentHandler := handlers.NewAgentHandler(b.agentData, int64(b.cfg.API.TerminalLogMaxBytes))
	simHandler := handlers.NewSimulationHandler(b.supervisor)
	settingsHandler := handlers.NewSettingsHandler(b.settings)
	artifactHandler := handlers.NewArtifactHandler(b.agentData)
	broadcastHandler := handlers.NewBroadcastHandler(b.broadcastHub)
	wsHandler := handlers.NewWSHandler(b.broadcastHub, b.resolver, b.cfg.Tenancy.Header, b.logger)

	b.fiberApp.Get("/", rootHandler.Index)
	b.fiberApp.Get("/healthz", rootHandler.Health)
	b.fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := b.fiberApp.Group("/api")

	api.Get("/agents", read("agents.list"), agentHandler.List)
	api.Get("/agents/:signature", read("agents.detail"), agentHandler.Detail)
	api.Get("/agents/:signature/tasks", read("agents.tasks"), agentHandler.Tasks)
	api.Get("/agents/:signature/learning", read("agents.learning"), agentHandler.Learning)
	api.Get("/agents/:signature/economic", read("agents.economic"), agentHandler.Economic)
	api.Get("/agents/:signature/terminal-log/:date", read("agents.terminal_log"), agentHandler.TerminalLog)
	api.Get("/leaderboard", read("leaderboard"), agentHandler.Leaderboard)

	api.Post("/simulations", write("simulation.start"), simHandler.Start)
	api.Get("/simulations", read("simulation.list"), simHandler.List)
	api.Post("/simulations/:id/stop", write("simulation.stop"), simHandler.Stop)

	api.Get("/settings/hidden-agents", read("settings.hidden_agents"), settingsHandler.GetHiddenAgents)
	api.Put("/settings/hidden-agents", write("settings.hidden_agents"), settingsHandler.SetHiddenAgents)
	api.Get("/settings/displaying-names", read("settings.display_names"), settingsHandler.GetDisplayNames)
	api.Put("/settings/displaying-names", write("settings.display_names"), settingsHandler.SetDisplayNames)

	api.Get("/artifacts/random", read("artifacts.random"), artifactHandler.Random)
	api.Get("/artifacts/file", read("artifacts.file"), artifactHandler.File)

	api.Post("/broadcast", write("broadcast"), broadcastHandler.Send)

	b.fiberApp.Get("/ws", wsHandler.Upgrade, wsHandler.Serve())
}

func (b *Builder) addCloser(closer func()) {
	b.closers = append(b.closers, closer)
}

func (b *Builder) cleanupOnError() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// App represents a configured LiveBench application ready to run.
type App struct {
	cfg         *config.Config
	logger      logger.Logger
	fiberApp    *fiber.App
	fileWatcher *watcher.Watcher
	closers     []func()
}

// Run starts the LiveBench application and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		a.fileWatcher.Run(watcherCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.fiberApp.Listen(a.cfg.Address())
	}()

	a.logger.Info("Server starting", logger.String("address", a.cfg.Address()))

	select {
	case err := <-serverErr:
		cancelWatcher()
		<-watcherDone
		a.runClosers()
		if err != nil {
			a.logger.Error("Failed to start server", logger.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")

	cancelWatcher()
	<-watcherDone

	if err := a.fiberApp.Shutdown(); err != nil {
		a.logger.Error("Server forced to shutdown", logger.Error(err))
	}

	a.runClosers()

	if err := <-serverErr; err != nil {
		return err
	}

	a.logger.Info("Server exited gracefully")
	return nil
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
