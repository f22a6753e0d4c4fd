package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	cartapp "github.com/dmehra2102/drop-checkout/internal/cart/application"
	cartpg "github.com/dmehra2102/drop-checkout/internal/cart/infrastructure/postgres"
	checkoutapp "github.com/dmehra2102/drop-checkout/internal/checkout/application"
	checkouthttp "github.com/dmehra2102/drop-checkout/internal/checkout/infrastructure/http"
	"github.com/dmehra2102/drop-checkout/internal/config"
	invapp "github.com/dmehra2102/drop-checkout/internal/inventory/application"
	invpg "github.com/dmehra2102/drop-checkout/internal/inventory/infrastructure/postgres"
	orderapp "github.com/dmehra2102/drop-checkout/internal/order/application"
	orderkafka "github.com/dmehra2102/drop-checkout/internal/order/infrastructure/kafka"
	orderoutbox "github.com/dmehra2102/drop-checkout/internal/order/infrastructure/outbox"
	orderpg "github.com/dmehra2102/drop-checkout/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/drop-checkout/internal/platform/health"
	"github.com/dmehra2102/drop-checkout/internal/platform/pg"
	"github.com/dmehra2102/drop-checkout/pkg/idempotency"
	"github.com/dmehra2102/drop-checkout/pkg/logging"
	"github.com/dmehra2102/drop-checkout/pkg/outbox"
	"github.com/dmehra2102/drop-checkout/pkg/retry"
	"github.com/dmehra2102/drop-checkout/pkg/shutdown"
	"github.com/dmehra2102/drop-checkout/pkg/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "checkout-service", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		log.Error("pg migrate failed", "err", err)
		os.Exit(1)
	}
	db := pg.NewDB(log, pool, cfg.LockTimeout)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	writer := orderkafka.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Inventory
	policy := retry.DefaultPolicy(cfg.RetryAttempts)
	manager := invapp.NewManager(log, db, invpg.NewVariantRepository(log, db), invpg.NewReservationRepository(log, db),
		invapp.WithMetrics(invapp.NewMetrics(reg)))
	sweeper := invapp.NewSweeper(log, manager, cfg.SweepInterval, cfg.SweepBatch)

	// Orders and notifications
	outboxStore := orderpg.NewOutboxStore(log, db)
	orders := orderapp.NewService(log, db, orderpg.NewRepository(log, db), manager,
		orderoutbox.NewNotifier(outboxStore), orderapp.WithRetry(policy))
	relay := outbox.NewRelay(log, outboxStore, outbox.NewDispatcher(log, writer, cfg.OrderEventsTopic), "checkout-service-relay")

	// Carts and checkout
	cartRepo := cartpg.NewRepository(log, db)
	carts := cartapp.NewService(log, cartRepo)
	janitor := cartapp.NewJanitor(log, cartRepo, cfg.CartMaxAge)
	checkout := checkoutapp.NewOrchestrator(log, db, carts, manager, orders,
		checkoutapp.WithTTL(cfg.ReservationTTL),
		checkoutapp.WithRetry(policy),
		checkoutapp.WithFrontendURL(cfg.FrontendURL))

	// HTTP
	dedupe := idempotency.Middleware(log, idempotency.NewStore(rdb, 24*time.Hour))
	handler := checkouthttp.NewHandler(log, checkout, orders, manager)
	r := chi.NewRouter()
	r.Mount("/", handler.Routes(dedupe))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// gRPC health
	monitor := health.NewMonitor(log, "checkout-service", map[string]health.Pinger{
		"postgres": db,
		"redis":    health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	})
	gs, err := health.Serve(cfg.GRPCAddr, monitor)
	if err != nil {
		log.Error("grpc server failed", "err", err)
		os.Exit(1)
	}
	defer gs.GracefulStop()

	err = shutdown.Run(ctx,
		sweeper.Run,
		janitor.Run,
		relay.Run,
		monitor.Run,
		func(ctx context.Context) error {
			log.Info("http listening", "addr", cfg.HTTPAddr)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	)
	if err != nil {
		log.Error("checkout-service stopped with error", "err", err)
	}
	log.Info("checkout-service shutdown complete")
}
