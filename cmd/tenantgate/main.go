package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantgate/pkg/api"
	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/bootstrap"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/guard"
	"github.com/platinummonkey/tenantgate/pkg/invitations"
	"github.com/platinummonkey/tenantgate/pkg/maintenance"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tenantgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("starting tenantgate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	var (
		registry    *prometheus.Registry
		metrics     *observability.Metrics
		otelMetrics *observability.OTelMetrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return err
		}
	}

	conn, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.ConnectTimeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return err
	}
	db := conn.DB()

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			conn.Close()
			return err
		}
	}
	conn.StartStatsRoutine(ctx, metrics, 0)

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = postgres.NewRedisClient(ctx, postgres.RedisOptions{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			conn.Close()
			return err
		}
		logger.Info("redis connection established")
	}

	resolver, err := buildResolver(ctx, cfg.Auth)
	if err != nil {
		conn.Close()
		return err
	}

	profileStore := profiles.NewPostgresStore(db)
	orgStore := orgs.NewPostgresStore(db)
	membership := orgs.NewResolver(orgStore, cfg.Guard.StoreTimeout)
	orgService := orgs.NewService(orgStore, membership, orgs.WithLogger(logger))
	inviteService := invitations.NewService(orgStore, membership, invitations.Config{
		TTL:               cfg.Invitations.TTL,
		RequireEmailMatch: cfg.Invitations.RequireEmailMatch,
		PurgeAfter:        cfg.Invitations.PurgeAfter,
	}, logger)

	coordinator := bootstrap.NewCoordinator(profileStore, auth.NewPostgresRegistrar(db),
		bootstrap.WithLogger(logger),
		bootstrap.WithMetrics(metrics, otelMetrics),
	)

	g := guard.New(profileStore,
		guard.WithBootstrap(coordinator),
		guard.WithPaths(guard.Paths{
			SignIn:  cfg.Guard.SignInPath,
			Landing: cfg.Guard.LandingPath,
			Setup:   cfg.Guard.SetupPath,
		}),
		guard.WithStoreTimeout(cfg.Guard.StoreTimeout),
		guard.WithMetrics(metrics, otelMetrics),
		guard.WithLogger(logger),
		guard.WithTracer(observability.Tracer()),
	)

	provisioner := profiles.NewProvisioner(profileStore,
		profiles.WithProvisionTimeout(cfg.Guard.StoreTimeout),
		profiles.WithProvisionLogger(logger),
	)

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		conn.Close()
		return err
	}
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewLogLogger(logger))

	srv := api.NewServer(api.Dependencies{
		Resolver:       resolver,
		Guard:          g,
		Bootstrap:      coordinator,
		Profiles:       profileStore,
		Orgs:           orgService,
		Invitations:    inviteService,
		Provisioner:    provisioner,
		Audit:          auditLogger,
		Logger:         logger,
		Metrics:        metrics,
		SensitiveLimit: buildRateLimit(cfg.RateLimit, rdb, metrics, otelMetrics),
	})

	var janitor *maintenance.Janitor
	if cfg.Maintenance.Enabled {
		janitor = maintenance.NewJanitor(inviteService, logger,
			maintenance.WithAuditLogger(auditLogger),
			maintenance.WithMetrics(metrics),
		)
		if err := janitor.SchedulePurge(cfg.Maintenance.PurgeSchedule); err != nil {
			conn.Close()
			return err
		}
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(db, rdb,
		observability.WithVersion(cfg.Observability.OTelServiceVersion),
	))
	if registry != nil {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health-server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return dbAudit.Close() })
	if rdb != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return rdb.Close() })
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return conn.Close() })
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if janitor != nil {
		group.Go(func() error {
			return janitor.Run(gctx)
		})
	}

	if path := os.Getenv(config.ConfigFileEnv); path != "" {
		group.Go(func() error {
			if err := config.Watch(gctx, path, logger, config.LogLevelReloader(logger)); err != nil {
				logger.WithError(err).Warn("config watcher stopped")
			}
			return nil
		})
	}

	group.Go(func() error {
		return shutdown.Wait(gctx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("tenantgate stopped")
	return nil
}

// buildResolver chains the session cookie resolver with OIDC bearer tokens
// when an issuer is configured.
func buildResolver(ctx context.Context, cfg config.AuthConfig) (auth.Resolver, error) {
	var chain auth.ChainResolver
	if cfg.SessionSecret != "" {
		chain = append(chain, auth.NewSessionResolver(cfg.SessionSecret,
			auth.WithSessionCookie(cfg.SessionCookie),
			auth.WithSessionIssuer(cfg.SessionIssuer),
		))
	}
	if cfg.OIDCIssuerURL != "" {
		discoverCtx, cancel := context.WithTimeout(ctx, cfg.OIDCTimeout)
		defer cancel()
		oidcResolver, err := auth.NewOIDCResolver(discoverCtx, auth.OIDCConfig{
			IssuerURL:        cfg.OIDCIssuerURL,
			ClientID:         cfg.OIDCClientID,
			UserInfoFallback: cfg.UserInfoFallback,
			Timeout:          cfg.OIDCTimeout,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, oidcResolver)
	}
	if len(chain) == 0 {
		return nil, errors.New("no principal resolver configured: set a session secret or an OIDC issuer")
	}
	return chain, nil
}

// buildRateLimit limits the setup and redemption endpoints. With Redis the
// counters are shared and the local limiter takes over when Redis fails.
func buildRateLimit(cfg config.RateLimitConfig, rdb *redis.Client, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics) *middleware.RateLimit {
	rlc := middleware.DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		rlc.RequestsPerWindow = cfg.RequestsPerMinute
	}
	if cfg.MaxKeys > 0 {
		rlc.MaxKeys = cfg.MaxKeys
	}
	local := middleware.NewRateLimiter(rlc)

	if cfg.Distributed && rdb != nil {
		return middleware.NewRateLimit("sensitive",
			middleware.NewDistributedRateLimiter(rdb, rlc, "tenantgate:ratelimit:sensitive"),
			rlc.WindowDuration,
			middleware.WithFallback(local),
			middleware.WithRateLimitMetrics(metrics, otelMetrics),
		)
	}
	return middleware.NewRateLimit("sensitive", local, rlc.WindowDuration,
		middleware.WithRateLimitMetrics(metrics, otelMetrics),
	)
}
