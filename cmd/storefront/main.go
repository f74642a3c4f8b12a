package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/config"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/db"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/events"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/product"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/telemetry"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/transport"
)

type stores struct {
	products product.Repository
	carts    cart.Repository
	orders   order.Repository
	health   func(ctx context.Context) error
	close    func()
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "storefront").Logger()

	log.Info().Msg("Storefront service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	configureLogger(cfg.App)

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, cfg.App.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open storage")
	}

	publisher, closePublisher := newPublisher(cfg.RabbitMQ)

	productSvc := product.NewService(st.products)
	cartSvc := cart.NewService(st.carts, st.products)
	orderSvc := order.NewService(st.orders, st.products, publisher)
	checkoutSvc := checkout.NewService(cartSvc, st.products, orderSvc, publisher)

	router := transport.NewRouter(transport.Services{
		Carts:    cartSvc,
		Orders:   orderSvc,
		Checkout: checkoutSvc,
		Products: productSvc,
		Health:   st.health,
	}, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      otelhttp.NewHandler(router, cfg.App.Name),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Str("storage", cfg.Storage.Driver).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	closePublisher()
	st.close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}
	log.Info().Msg("Server stopped")
}

func configureLogger(app config.AppConfig) {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.Env != "development" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", app.Name).Logger()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return &stores{
			products: product.NewMemoryRepository(),
			carts:    cart.NewMemoryRepository(),
			orders:   order.NewMemoryRepository(),
			close:    func() {},
		}, nil
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.ApplyMigrations(cfg.Postgres); err != nil {
		pg.Close()
		return nil, err
	}

	redisClient, err := db.NewRedis(ctx, cfg.Redis)
	if err != nil {
		pg.Close()
		return nil, err
	}

	return &stores{
		products: product.NewRepository(pg.Pool),
		carts:    cart.NewRedisRepository(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.CartTTL),
		orders:   order.NewRepository(pg.Pool),
		health: func(ctx context.Context) error {
			if err := pg.Pool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
		close: func() {
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Redis client")
			}
			pg.Close()
		},
	}, nil
}

// newPublisher falls back to dropping events when the broker is disabled or
// unreachable at startup.
func newPublisher(cfg config.RabbitMQConfig) (events.Publisher, func()) {
	if !cfg.Enabled {
		return events.NoopPublisher{}, func() {}
	}

	pool, err := events.NewChannelPool(cfg.URL, cfg.Exchange, cfg.PoolSize)
	if err != nil {
		log.Error().Err(err).Msg("RabbitMQ unavailable, order events will not be published")
		return events.NoopPublisher{}, func() {}
	}
	return events.NewRabbitPublisher(pool, cfg.Exchange), pool.Close
}
