package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/snehaltandel/process-map-agent/api/handlers"
	"github.com/snehaltandel/process-map-agent/coach"
	"github.com/snehaltandel/process-map-agent/config"
	"github.com/snehaltandel/process-map-agent/internal/metrics"
	"github.com/snehaltandel/process-map-agent/internal/server"
	"github.com/snehaltandel/process-map-agent/internal/telemetry"
	"github.com/snehaltandel/process-map-agent/llm"
	"github.com/snehaltandel/process-map-agent/session"
)

// maintenanceInterval 过期会话清理与连接池指标的采集周期
const maintenanceInterval = time.Minute

func newServeCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket API",
		Long: `Starts the session API on server.http_port and Prometheus metrics on
server.metrics_port. SIGINT or SIGTERM triggers a graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			logger, level := newLogger(cfg.Log)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			provider, err := newProvider(ctx, cfg, logger)
			if err != nil {
				return err
			}
			srv, err := newServer(ctx, cfg, logger, provider)
			if err != nil {
				return err
			}
			defer srv.close()

			var reloader *config.Reloader
			if global.configPath != "" {
				reloader, err = config.NewReloader(config.NewLoader().WithConfigPath(global.configPath), cfg,
					config.WithReloaderLogger(logger))
				if err != nil {
					return err
				}
				reloader.OnReload(func(old, updated *config.Config) {
					if old.Log.Level != updated.Log.Level {
						level.SetLevel(parseLevel(updated.Log.Level))
						logger.Info("log level changed", zap.String("level", updated.Log.Level))
					}
				})
			}

			logger.Info("starting cicoach",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit))
			return srv.run(ctx, reloader)
		},
	}
}

// apiServer 组装 serve 命令的全部组件
type apiServer struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers
	collector *metrics.Collector
	store     session.Store
	rawStore  session.Store
	provider  llm.Provider
	sessions  *handlers.SessionHandler
	health    *handlers.HealthHandler
	handler   http.Handler

	// 限流器清理 goroutine 的生命周期
	limiterCancel context.CancelFunc
}

func newServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, provider llm.Provider) (*apiServer, error) {
	s := &apiServer{cfg: cfg, logger: logger, provider: provider}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		// 导出器不可用时降级为 noop，服务照常启动
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.telemetry = providers

	s.collector = metrics.NewCollector("cicoach", logger)
	turns, err := telemetry.NewTurnInstruments(nil)
	if err != nil {
		logger.Warn("failed to create turn instruments", zap.Error(err))
	}

	s.rawStore, err = session.New(ctx, cfg, logger)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	backend := session.Type(cfg.Session.Store)
	if backend == "" {
		backend = session.TypeMemory
	}
	s.store = session.Instrument(s.rawStore, backend, s.collector, logger)

	opts := coachOptions(cfg, logger, s.collector)
	s.sessions = handlers.NewSessionHandler(
		func(id string) (*coach.Coach, error) {
			return coach.New(s.provider, append(opts[:len(opts):len(opts)],
				coach.WithArtifactsDir(filepath.Join(cfg.Coach.ArtifactsDir, id)))...)
		},
		s.store, logger,
		handlers.WithTurnHook(func(ctx context.Context, route, status string, d time.Duration) {
			s.collector.RecordTurn(status)
			turns.Record(ctx, route, status, d)
		}),
		handlers.WithLiveSessionsGauge(s.collector.SetActiveSessions),
		handlers.WithMaxLiveSessions(cfg.Session.MaxLive),
	)

	s.health = handlers.NewHealthHandler(logger)
	s.health.RegisterCheck(handlers.NewProviderHealthCheck(s.provider))
	s.health.RegisterCheck(handlers.NewCheck("session_store", s.store.Ping))

	s.handler = s.routes()
	return s, nil
}

// routes 注册路由并构建中间件链
func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	s.sessions.Register(mux)

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))

	limiterCtx, cancel := context.WithCancel(context.Background())
	s.limiterCancel = cancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		APIKeyAuth(s.cfg.Server.APIKeys, publicPaths, s.logger),
	}
	if s.cfg.JWT.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, publicPaths, s.logger))
	}
	// 放在认证之后，按 JWT subject 限流
	middlewares = append(middlewares,
		RateLimiter(limiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))

	return Chain(mux, middlewares...)
}

// run 并行运行 API、Metrics 服务与后台任务，任一失败即全部退出
func (s *apiServer) run(ctx context.Context, reloader *config.Reloader) error {
	g, gctx := errgroup.WithContext(ctx)

	api := server.NewManager("api", s.handler, server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	g.Go(func() error { return api.Run(gctx) })

	if s.cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", s.collector.Handler())
		ms := server.NewManager("metrics", metricsMux, server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
		g.Go(func() error { return ms.Run(gctx) })
	}

	if reloader != nil {
		g.Go(func() error { return reloader.Run(gctx) })
	}
	g.Go(func() error {
		s.maintain(gctx)
		return nil
	})

	err := g.Wait()
	s.logger.Info("cicoach stopped", zap.Error(err))
	return err
}

// maintain 周期性清理 SQL 存储中的过期会话并上报连接池指标
func (s *apiServer) maintain(ctx context.Context) {
	sqlStore, ok := s.rawStore.(*session.SQLStore)
	if !ok {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sqlStore.Purge(ctx); err != nil {
				s.logger.Warn("session purge failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("expired sessions purged", zap.Int64("count", n))
			}
			if stats, err := sqlStore.Stats(); err == nil {
				s.collector.RecordDBStats(s.cfg.Database.Driver, stats)
			}
		}
	}
}

// close 释放存储与遥测资源
func (s *apiServer) close() {
	if s.limiterCancel != nil {
		s.limiterCancel()
	}
	if s.rawStore != nil {
		if err := s.rawStore.Close(); err != nil {
			s.logger.Warn("session store close failed", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
