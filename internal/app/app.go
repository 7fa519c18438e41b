package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/idempotency"
	"github.com/xenking/storefront-checkout/internal/metrics"
	"github.com/xenking/storefront-checkout/internal/outbox"
	"github.com/xenking/storefront-checkout/internal/repository"
	"github.com/xenking/storefront-checkout/internal/token"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

const serviceName = "storefront-checkout"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	ctx = zctx.Base(ctx, lg)
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	ledger := repository.NewCouponLedger(pool)

	stats := metrics.New()
	stats.Registry().MustRegister(outboxBacklogGauge(outboxRepo))

	// Domain services.
	orchestrator := checkout.NewOrchestrator(
		checkout.NewResolver(productRepo),
		coupon.NewEvaluator(couponRepo),
		ledger,
		order.NewAssembler(orderRepo),
		checkout.WithTracerProvider(m.TracerProvider()),
		checkout.WithRecorder(stats),
		checkout.WithReleaseAuditor(outboxRepo),
	)

	idem, closeIdem, err := newIdempotencyStore(ctx, cfg.Redis)
	if err != nil {
		return errors.Wrap(err, "idempotency store")
	}
	defer closeIdem()

	publisher, closePublisher := newPublisher(lg, cfg.Kafka)
	defer closePublisher()
	relay := outbox.NewRelay(outboxRepo, publisher, stats, outbox.RelayConfig{
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
	})

	// Health check service.
	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", pool.Ping, health.WithTimeout(5*time.Second))
	healthSvc.Register(health.Readiness, "outbox", health.BacklogCheck(outboxRepo.Pending, cfg.Outbox.BacklogLimit),
		health.Optional(),
	)
	if rs, ok := idem.(*idempotency.RedisStore); ok {
		healthSvc.Register(health.Readiness, "redis", rs.Ping, health.Optional(), health.WithTimeout(2*time.Second))
	}
	healthSvc.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.New(handler.Config{
		ImageBaseURL: cfg.ImageBaseURL,
		APIKeyPepper: []byte(cfg.APIKeyPepper),
	}, handler.Deps{
		Products:    productRepo,
		Checkout:    orchestrator,
		Orders:      order.NewService(orderRepo),
		Coupons:     coupon.NewService(couponRepo),
		Verifier:    token.NewHMAC([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
		APIKeys:     apikeyRepo,
		Idempotency: idem,
	})

	// Mux: health, metrics and API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("GET /metrics", stats.Handler())
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type", "Authorization",
					handler.HeaderAPIKey, handler.HeaderIdempotencyKey, httpmiddleware.HeaderRequestID,
				},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:        cfg.RateLimit.Max,
				Window:     cfg.RateLimit.Window,
				TrustProxy: cfg.RateLimit.TrustProxy,
				Skip:       httpmiddleware.SkipPaths("/livez", "/readyz", "/metrics"),
			}),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}

// newIdempotencyStore connects to Redis when an address is configured and
// falls back to a process-local store otherwise.
func newIdempotencyStore(ctx context.Context, cfg RedisConfig) (idempotency.Store, func(), error) {
	lg := zctx.From(ctx)
	if cfg.Addr == "" {
		lg.Warn("Redis not configured, idempotency keys are kept in memory")
		return idempotency.NewMemoryStore(cfg.IdempotencyTTL, idempotency.WithLease(cfg.IdempotencyLease)), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}

	lg.Info("Idempotency store ready", zap.String("redis", cfg.Addr))
	return idempotency.NewRedisStore(client, cfg.IdempotencyTTL, idempotency.WithLease(cfg.IdempotencyLease)), func() {
		if err := client.Close(); err != nil {
			lg.Warn("Close redis", zap.Error(err))
		}
	}, nil
}

// newPublisher returns the Kafka publisher, or a logging stand-in when no
// brokers are configured.
func newPublisher(lg *zap.Logger, cfg KafkaConfig) (outbox.Publisher, func()) {
	brokers := outbox.ParseBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		lg.Warn("Kafka not configured, outbox events are logged only")
		return outbox.LogPublisher{Log: func(e outbox.Event) {
			lg.Info("Outbox event",
				zap.String("event_id", e.ID),
				zap.String("type", e.Type),
				zap.String("aggregate_id", e.AggregateID),
			)
		}}, func() {}
	}

	p := outbox.NewKafkaPublisher(brokers, cfg.Topic)
	lg.Info("Outbox publishing to Kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.Topic),
	)
	return p, func() {
		if err := p.Close(); err != nil {
			lg.Warn("Close kafka writer", zap.Error(err))
		}
	}
}

func outboxBacklogGauge(repo *repository.OutboxRepository) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "storefront",
		Subsystem: "outbox",
		Name:      "pending_events",
		Help:      "Outbox events not yet delivered.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := repo.Pending(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	})
}
