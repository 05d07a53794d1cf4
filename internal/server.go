package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"

	"github.com/fettsack/geschmackstest/internal/auth"
	"github.com/fettsack/geschmackstest/internal/blog"
	"github.com/fettsack/geschmackstest/internal/config"
	"github.com/fettsack/geschmackstest/internal/db"
	"github.com/fettsack/geschmackstest/internal/middleware"
	"github.com/fettsack/geschmackstest/internal/storage"
	"github.com/fettsack/geschmackstest/internal/telemetry/metrics"
	"github.com/fettsack/geschmackstest/internal/telemetry/tracing"
	"github.com/fettsack/geschmackstest/pkg"
)

const sessionsCleanupInterval = 8 * time.Hour

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server

	config      *config.Config
	storageKind storage.Kind
	dbPool      *pgxpool.Pool
	store       storage.Storage

	redisClient  *redis.Client
	sessionStore auth.SessionStore
	rateLimiter  middleware.RequestRateLimiter
	authService  *auth.Service
	cookieCodec  *auth.CookieCodec

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	DatabaseURL             string
	SessionSecret           string
	RedisPassword           string
	Seed                    storage.SeedUser
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (_ *Server, err error) {
	cfg := params.Config

	storageKind, err := storage.ResolveKind(cfg.StorageBackend, params.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Infof("using [%s] storage backend", storageKind)

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "geschmackstest-backend")
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:       cfg,
		storageKind:  storageKind,
		otelShutdown: otelShutdown,
	}
	// release what was already opened when setup fails half way
	defer func() {
		if err != nil {
			_ = s.closeResources()
		}
	}()

	s.cookieCodec, err = auth.NewCookieCodec(params.SessionSecret, cfg.SessionMaxAge, cfg.SecureCookies)
	if err != nil {
		return nil, fmt.Errorf("session cookie codec: %w", err)
	}

	var extraCollectors []prometheus.Collector
	if storageKind == storage.KindPostgres {
		s.dbPool, err = db.NewDBPool(ctx, db.NewDBPoolParams{
			ConnString:     params.DatabaseURL,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}

		if err := s.dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}

		if cfg.MigrateOnStart {
			if err := db.MigratePool(ctx, s.dbPool); err != nil {
				return nil, fmt.Errorf("migrate db: %w", err)
			}
		}

		extraCollectors = append(extraCollectors, pgxpoolprometheus.NewCollector(
			s.dbPool,
			map[string]string{"db_name": "geschmackstest_db"},
		))
	}

	s.promRegistry = metrics.SetupPrometheus(extraCollectors...)
	s.metricsManager = metrics.NewManager("geschmackstest", "main", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	if storageKind == storage.KindBadger {
		exists, err := pkg.PathExists(cfg.BadgerDir, true)
		if err != nil {
			return nil, fmt.Errorf("badger dir: %w", err)
		}
		if !exists {
			log.Infof("badger dir [%s] not found, starting with an empty store", cfg.BadgerDir)
		}
	}

	s.store, err = storage.Open(ctx, storage.OpenParams{
		Kind:   storageKind,
		Seed:   params.Seed,
		DBPool: s.dbPool,
		Badger: storage.BadgerOptions{Dir: cfg.BadgerDir},
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	if cfg.RedisEnabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})
		if params.HoneycombTracingEnabled {
			s.redisClient.AddHook(redisotel.NewTracingHook())
		}

		rdbStatus := s.redisClient.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}

		redisSessions := auth.NewRedisSessionStore(s.redisClient)
		s.sessionStore = redisSessions
		s.rateLimiter = redis_rate.NewLimiter(s.redisClient)
		go s.cleanSessionsPeriodically(ctx, redisSessions)
	} else {
		log.Debugln("redis disabled, keeping sessions in memory")
		s.sessionStore = auth.NewMemorySessionStore(auth.DefaultMemorySessionCacheSize)
		s.rateLimiter = middleware.NewLocalRateLimiter()
	}

	s.authService = auth.NewAuthService(s.store, s.sessionStore, cfg.SessionMaxAge)

	return s, nil
}

func (s *Server) cleanSessionsPeriodically(ctx context.Context, sessions *auth.RedisSessionStore) {
	ticker := time.NewTicker(sessionsCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := sessions.ScanAndClean(ctx, s.config.SessionMaxAge)
			s.metricsManager.CounterSessionsCleaned.Add(float64(removed))
		}
	}
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("geschmackstest-router"))

	authHandler := auth.NewHandler(s.authService, s.cookieCodec, s.metricsManager)
	authHandler.SetupRoutes(r, middleware.RateLimit(
		s.rateLimiter,
		"login",
		s.config.LoginRateLimitAllowedPerMin,
		s.metricsManager,
	))

	blogHandler := blog.NewBlogHandler(s.store, s.metricsManager)
	blogHandler.SetupRoutes(r)

	r.HandleFunc("/api/health", s.handleHealth).Methods("GET").Name("health")

	// all the rest - unhandled paths
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteJSONMessage(w, http.StatusNotFound, "Nicht gefunden")
	})

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.authService, s.cookieCodec)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest(middleware.MaxRequestBodyBytes))

	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.dbPool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.dbPool.Ping(ctx); err != nil {
			log.Errorf("health, ping db: %s", err)
			pkg.WriteJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
				Status:  "db unavailable",
				Storage: string(s.storageKind),
			})
			return
		}
	}

	pkg.WriteJSONResponse(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Storage: string(s.storageKind),
	})
}

func (s *Server) Serve(host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", otelhttp.NewHandler(
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
		"metrics",
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() error {
	log.Debug("graceful shutdown initiated ...")
	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown http server: %w", shutdownErr))
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if shutdownErr := s.metricsHttpServer.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown metrics http server: %w", shutdownErr))
		}
		log.Warnln("metrics server shut down")
	}

	err = multierr.Append(err, s.closeResources())

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	return err
}

// closeResources releases storage, redis, the db pool and tracing.
func (s *Server) closeResources() error {
	var err error

	if s.store != nil {
		if closeErr := s.store.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close storage: %w", closeErr))
		}
		s.store = nil
	}

	if s.redisClient != nil {
		if closeErr := s.redisClient.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close redis client: %w", closeErr))
		}
		s.redisClient = nil
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		s.dbPool = nil
		log.Debugln("db pool closed")
	}

	if s.otelShutdown != nil {
		s.otelShutdown()
		s.otelShutdown = nil
		log.Trace("otel shut down ...")
	}

	return err
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
