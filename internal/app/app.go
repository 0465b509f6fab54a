// Package app wires the storefront together: configuration, storage,
// domain services, HTTP transport, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	sdkapp "github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/telshop/storefront/internal/api"
	"github.com/telshop/storefront/internal/cache"
	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/checkout"
	"github.com/telshop/storefront/internal/domain/notify"
	"github.com/telshop/storefront/internal/domain/order"
	"github.com/telshop/storefront/internal/domain/pricing"
	"github.com/telshop/storefront/internal/notification"
	"github.com/telshop/storefront/internal/repository"
	"github.com/telshop/storefront/pkg/health"
	"github.com/telshop/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *sdkapp.Telemetry, cfg *Config) error {
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

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	db := repository.NewDB(pool)
	catalogRepo := repository.NewCatalogRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	cartRepo := repository.NewCartRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	ledger := repository.NewBonusLedger(db)
	addressBook := repository.NewAddressBook(db)

	// Order event dispatcher: RabbitMQ when configured, log otherwise.
	var notifier notify.Dispatcher = notify.NewLogDispatcher(lg.Named("notify"))
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return errors.Wrap(err, "dial amqp")
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			return errors.Wrap(err, "open amqp channel")
		}
		notifier, err = notification.NewAMQPDispatcher(ch)
		if err != nil {
			return errors.Wrap(err, "create amqp dispatcher")
		}
		lg.Info("Publishing order events to RabbitMQ")
	}

	// Checkout idempotency guard: optional, Redis-backed.
	var idempotency cache.IdempotencyStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		idempotency = cache.NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL)
		lg.Info("Checkout idempotency guard enabled")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	policy := pricing.Policy{
		FreeDeliveryThreshold: decimal.NewFromInt(cfg.Delivery.FreeThreshold),
		DeliveryFee:           decimal.NewFromInt(cfg.Delivery.Fee),
	}
	cartSvc := cart.NewService(cartRepo, catalogRepo, promoRepo, policy)
	checkoutSvc := checkout.NewService(cartRepo, catalogRepo, promoRepo, ledger, addressBook, orderRepo, notifier, db)
	orderSvc := order.NewService(orderRepo, catalogRepo, ledger, notifier, db, cfg.Bonus.EarnDivisor)

	// HTTP routes: health endpoints + API.
	h := api.NewHandler(catalogRepo, cartSvc, checkoutSvc, orderSvc, ledger, policy, idempotency)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

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
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-Account-ID", "X-Session-Key", "Idempotency-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Drain in-flight requests before shutting down: flip readiness first so
	// load balancers stop sending traffic, then close the listener.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
