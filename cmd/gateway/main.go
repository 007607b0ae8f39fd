package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/agrimarket/internal/config"
	"github.com/joao-fontenele/agrimarket/internal/gateway"
	"github.com/joao-fontenele/agrimarket/internal/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load[config.Gateway]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", cfg.ServiceVersion, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(ctx) }()
	} else {
		telemetry.InitPropagator()
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	// Partners are administered by the orders service.
	ordersProxy := gateway.NewServiceProxy(cfg.OrdersServiceURL, httpClient)
	handler := gateway.NewHandler(ordersProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("POST /orders/{id}/assign", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /delivery-partners", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("POST /delivery-partners", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /delivery-partners/{id}", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("PUT /delivery-partners/{id}/availability", telemetry.WithHTTPRoute(handler.HandleOrders))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(mux, "gateway", otelhttp.WithSpanNameFormatter(telemetry.SpanName)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
