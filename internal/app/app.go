package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/discovery/internal/config"
	"github.com/MrSnakeDoc/discovery/internal/fanout"
	"github.com/MrSnakeDoc/discovery/internal/httpserver"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discovery/internal/lifecycle"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/redis"
	"github.com/MrSnakeDoc/discovery/internal/registry"
	"github.com/MrSnakeDoc/discovery/internal/registry/memory"
	"github.com/MrSnakeDoc/discovery/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/discovery/internal/store/redis"
	"github.com/MrSnakeDoc/discovery/internal/transport/ws"
	"github.com/MrSnakeDoc/discovery/internal/validation"
	"github.com/MrSnakeDoc/discovery/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	ws          *ws.Handler
	engine      *fanout.Engine
	announcer   *scheduler.Announcer
	reaper      *scheduler.Reaper
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	reg, redisClient := newRegistry(cfg, loggerClient)

	// One feed per distinct query, shared by every subscriber of that query.
	engine := fanout.NewEngine(reg, loggerClient)

	prober := validation.NewHTTPProber(cfg.ProbeTimeout, cfg.ProbeCacheTTL, loggerClient)
	pipeline := validation.New(prober, loggerClient)

	lc := lifecycle.New(reg, engine, pipeline, loggerClient,
		lifecycle.WithPageSize(cfg.PageSize),
		lifecycle.WithCleanupTimeout(cfg.ShutdownTimeout),
	)

	wsHandler := ws.NewHandler(lc, ws.Options{
		SendBuffer: cfg.WSSendBuffer,
		Rate:       cfg.WSRate,
		Burst:      cfg.WSBurst,
	}, loggerClient)

	// Create manual announce trigger channel
	announceTrigger := make(chan struct{}, 1)

	announcer := scheduler.NewAnnouncer(
		cfg.AnnounceFile,
		cfg.PublicEndpoint,
		lc,
		lc,
		loggerClient,
		cfg.AnnounceInterval,
		announceTrigger,
	)

	reaper := scheduler.NewReaper(
		reg,
		lc,
		loggerClient,
		cfg.ReapInterval,
		cfg.ReapThreshold,
	)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		Backend:      cfg.RegistryBackend,
		RedisClient:  redisClient,
		Registry:     reg,
		Engine:       engine,
		Lifecycle:    lc,
		WS:           wsHandler,
		PageSize:     cfg.PageSize,
		APIRate:      cfg.APIRate,
		APIBurst:     cfg.APIBurst,
		APITimeout:   2 * time.Second,

		AnnounceTrigger: announceTrigger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		ws:          wsHandler,
		engine:      engine,
		announcer:   announcer,
		reaper:      reaper,
	}
}

// newRegistry picks the backend. Redis is connected eagerly: fail fast if unavailable.
func newRegistry(cfg *config.Config, loggerClient logger.Logger) (registry.Registry, *goredis.Client) {
	if cfg.RegistryBackend == config.BackendMemory {
		loggerClient.Info("using in-memory registry (single node, nothing persisted)")
		return memory.New(), nil
	}

	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.Connect(context.Background(), redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	return redisstore.NewStore(redisClient, loggerClient), redisClient
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Discovery v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Discovery %s (commit=%s, built=%s, go=%s, backend=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion, a.cfg.RegistryBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// Announce self (registers now and refreshes periodically)
	if err := a.announcer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start announcer: %w", err)
	}
	a.logger.Info("announcer started",
		logger.Duration("interval", a.cfg.AnnounceInterval))

	// Start stale reaper
	if err := a.reaper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	a.logger.Info("reaper started",
		logger.Duration("interval", a.cfg.ReapInterval),
		logger.Duration("threshold", a.cfg.ReapThreshold))

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.announcer.Stop()
	a.reaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.announcer.Withdraw(shutdownCtx); err != nil {
		a.logger.Warn("failed to withdraw self", logger.Error(err))
	}

	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// Websocket connections are hijacked and survive Shutdown.
	a.ws.CloseAll()
	a.engine.Close()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ Discovery stopped cleanly")
	return nil
}
