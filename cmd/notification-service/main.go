package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/drop-checkout/internal/config"
	"github.com/dmehra2102/drop-checkout/internal/notification/application"
	notifkafka "github.com/dmehra2102/drop-checkout/internal/notification/infrastructure/kafka"
	"github.com/dmehra2102/drop-checkout/internal/notification/infrastructure/mail"
	"github.com/dmehra2102/drop-checkout/pkg/idempotency"
	"github.com/dmehra2102/drop-checkout/pkg/logging"
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

	tp, err := tracing.Init(ctx, "notification-service", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	svc := application.NewService(log, mail.NewLogMailer(log), cfg.FrontendURL)
	reader := notifkafka.NewReader([]string{cfg.KafkaAddr}, cfg.OrderEventsTopic, "notification-service")
	consumer := notifkafka.NewConsumer(log, reader, svc, idem)

	if err := shutdown.Run(ctx, consumer.Run); err != nil {
		log.Error("consumer stopped", "err", err)
	}
	log.Info("notification-service shutdown")
}
