package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/memory"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	envErr := godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "err", envErr)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	collector := metrics.NewCollector(service)

	backend, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("store init failed", "err", err)
		panic(err)
	}
	defer backend.close()

	locker, err := openLocker(logger)
	if err != nil {
		logger.Error("locker init failed", "err", err)
		panic(err)
	}
	defer locker.close()

	svc := booking.NewService(backend.store, logger, booking.Options{
		Locker:  locker.locker,
		Metrics: collector,
	})

	pollEvery, err := config.Duration("OUTBOX_POLL_EVERY", 2*time.Second)
	if err != nil {
		panic(err)
	}
	batchSize, err := config.Int("OUTBOX_BATCH_SIZE", 50)
	if err != nil {
		panic(err)
	}
	brokers := config.String("KAFKA_BROKERS", "")
	var writer outbox.MessageWriter
	var kafkaReady func(context.Context) error
	if list := kafkax.SplitBrokers(brokers); len(list) > 0 {
		kw := kafkax.NewWriter(list)
		defer func() { _ = kw.Close() }()
		writer = kw
		kafkaReady = kafkax.ReadyCheck(brokers)
	} else if mem, ok := backend.source.(*memory.Store); ok {
		// Nothing will ever drain the in-memory outbox.
		mem.DiscardEvents()
	}
	publisher := outbox.NewPublisher(backend.source, writer, logger, outbox.PublisherConfig{
		PollEvery: pollEvery,
		BatchSize: batchSize,
		OnPublish: collector.OutboxPublished,
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: backend.ready},
		runtime.ReadyCheck{Name: "redis", Check: locker.ready},
		runtime.ReadyCheck{Name: "kafka", Check: kafkaReady},
	)
	mux.Handle("/metrics", collector.Handler())
	handlers.NewBookingHandler(svc, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSFromList(config.String("CORS_ALLOWED_ORIGINS", ""))),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		panic(err)
	}
}
