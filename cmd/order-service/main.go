package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/audit"
	"github.com/vasiliy-maslov/food-ordering/internal/auth"
	"github.com/vasiliy-maslov/food-ordering/internal/catalog"
	"github.com/vasiliy-maslov/food-ordering/internal/config"
	"github.com/vasiliy-maslov/food-ordering/internal/db"
	orderHttp "github.com/vasiliy-maslov/food-ordering/internal/handler/http"
	"github.com/vasiliy-maslov/food-ordering/internal/metrics"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
	"github.com/vasiliy-maslov/food-ordering/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "order-service").Logger()

	log.Info().Msg("Order service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.App.LogLevel).Msg("Unknown log level, falling back to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := db.Migrate(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	catalogDSN := cfg.Catalog.DSN
	if catalogDSN == "" {
		catalogDSN = cfg.Postgres.URL()
	}
	catalogDB, err := catalog.Connect(catalogDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to catalog database")
	}
	defer catalogDB.Close()

	surcharge, err := order.ParseMoney(cfg.Pricing.ExtraSurcharge)
	if err != nil {
		log.Fatal().Err(err).Str("extra_surcharge", cfg.Pricing.ExtraSurcharge).Msg("Invalid extras surcharge")
	}

	var sinks audit.Multi
	if cfg.Audit.Postgres {
		sinks = append(sinks, audit.NewPostgresSink(dbPool.Pool))
	}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(audit.NewKafkaWriter(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic))
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka audit writer")
			}
		}()
		sinks = append(sinks, kafkaSink)
		log.Info().Strs("brokers", cfg.Audit.KafkaBrokers).Str("topic", cfg.Audit.KafkaTopic).Msg("Kafka audit sink enabled")
	}
	var auditSink audit.Recorder = sinks
	if len(sinks) == 0 {
		auditSink = audit.Nop{}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serviceMetrics := metrics.New(registry)

	orderRepository := order.NewRepository(dbPool.Pool)
	orderSvc, err := order.NewService(order.ServiceDeps{
		Repository: orderRepository,
		Catalog:    catalog.NewAccessor(catalogDB),
		Pricing:    order.NewPricingEngine(surcharge),
		Audit:      auditSink,
		Metrics:    serviceMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create order service")
	}

	sweeper, err := order.NewSweeper(orderRepository, order.SweeperConfig{
		RetentionWindow: cfg.Retention.Window,
		Interval:        cfg.Retention.Interval,
		TerminalOnly:    cfg.Retention.TerminalOnly,
		BatchSize:       cfg.Retention.BatchSize,
	}, serviceMetrics, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create retention sweeper")
	}

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	gate := auth.NewGate(cfg.Auth.CustomerSecret, cfg.Auth.StaffSecret)
	router := transport.NewRouter(transport.RouterConfig{
		Authenticate:   gate.Middleware,
		Metrics:        serviceMetrics,
		Gatherer:       registry,
		Health:         dbPool.Pool.Ping,
		RequestTimeout: 30 * time.Second,
	}, orderHttp.NewOrderHandler(orderSvc))

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	select {
	case <-sweeperDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Retention sweeper did not stop before shutdown timeout")
	}

	log.Info().Msg("Order service stopped")
}
