package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/agrimarket/internal/assignment"
	"github.com/joao-fontenele/agrimarket/internal/config"
	"github.com/joao-fontenele/agrimarket/internal/domain"
	"github.com/joao-fontenele/agrimarket/internal/memstore"
	"github.com/joao-fontenele/agrimarket/internal/messaging"
	"github.com/joao-fontenele/agrimarket/internal/orders"
	"github.com/joao-fontenele/agrimarket/internal/partners"
	"github.com/joao-fontenele/agrimarket/internal/store"
	"github.com/joao-fontenele/agrimarket/internal/telemetry"
)

const serviceName = "orders"

type backend struct {
	orders   interface {
		assignment.OrderStore
		orders.Reader
	}
	partners partners.Directory
	uow      assignment.UnitOfWork
	close    func() error
}

func main() {
	cfg, err := config.Load[config.Orders]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(ctx) }()
	} else {
		telemetry.InitPropagator()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	match, _ := domain.ParseLocationMatch(cfg.LocationMatch)
	selector, _ := assignment.SelectorByName(cfg.Selector)

	b, err := openBackend(cfg, match)
	if err != nil {
		logger.Error("failed to open storage", "error", err, "storage", cfg.Storage)
		os.Exit(1)
	}
	defer func() { _ = b.close() }()

	service, err := assignment.NewService(b.orders, b.uow, logger, assignment.WithSelector(selector))
	if err != nil {
		logger.Error("failed to create assignment service", "error", err)
		os.Exit(1)
	}

	var publisher orders.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicOrderPlaced)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	ordersHandler := orders.NewHandler(service, b.orders, publisher, logger)
	partnersHandler := partners.NewHandler(b.partners, service, logger)

	mux := http.NewServeMux()
	ordersHandler.Register(mux, telemetry.WithHTTPRoute)
	partnersHandler.Register(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(mux, serviceName, otelhttp.WithSpanNameFormatter(telemetry.SpanName)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service",
			"port", cfg.Port, "storage", cfg.Storage, "selector", cfg.Selector, "location_match", cfg.LocationMatch)
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

func openBackend(cfg config.Orders, match domain.LocationMatch) (*backend, error) {
	if cfg.Storage == config.StorageMemory {
		mem := memstore.New(match)
		return &backend{
			orders:   mem.Orders(),
			partners: mem.Partners(),
			uow:      mem,
			close:    func() error { return nil },
		}, nil
	}

	dsn, err := config.WithSearchPath(cfg.PostgresURL, config.Schema)
	if err != nil {
		return nil, err
	}

	db, err := telemetry.OpenDB("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := pingDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &backend{
		orders:   orders.NewOrderRepository(db),
		partners: partners.NewPartnerRepository(db, match),
		uow:      store.NewPostgres(db, match),
		close:    db.Close,
	}, nil
}

func pingDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
