package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/agrimarket/internal/config"
	"github.com/joao-fontenele/agrimarket/internal/messaging"
	"github.com/joao-fontenele/agrimarket/internal/telemetry"
	"github.com/joao-fontenele/agrimarket/internal/worker"
)

func main() {
	cfg, err := config.Load[config.Worker]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, "assignment-worker", cfg.ServiceVersion, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	} else {
		telemetry.InitPropagator()
	}

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, messaging.TopicOrderPlaced, cfg.GroupID)
	defer func() { _ = consumer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	handler := worker.NewAssignmentHandler(cfg.OrdersServiceURL, cfg.NotifyServiceURL, cfg.NotifyChannel, cfg.RetryDelay, httpClient, logger,
		worker.WithRetryPolicy(cfg.CallRetryInterval, cfg.CallAttempts))

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting assignment worker", "brokers", cfg.KafkaBrokers, "group_id", cfg.GroupID, "retry_delay", cfg.RetryDelay)

	if err := consumer.Consume(ctx, handler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
