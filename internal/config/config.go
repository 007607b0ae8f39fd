// Package config reads per-binary settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/joao-fontenele/agrimarket/internal/assignment"
	"github.com/joao-fontenele/agrimarket/internal/domain"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Schema holds every marketplace table.
const Schema = "marketplace"

type Telemetry struct {
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"0.1.0"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"true"`
}

type Log struct {
	Level slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// Logger builds the JSON logger every binary writes to stdout.
func (l Log) Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l.Level}))
}

type Orders struct {
	Log
	Telemetry

	Port          string   `env:"PORT" envDefault:"8081"`
	Storage       string   `env:"STORAGE" envDefault:"postgres"`
	PostgresURL   string   `env:"POSTGRES_URL"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	Selector      string   `env:"PARTNER_SELECTOR" envDefault:"first"`
	LocationMatch string   `env:"LOCATION_MATCH" envDefault:"exact"`
}

func (c Orders) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required for %s storage", StoragePostgres)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}

	if _, err := assignment.SelectorByName(c.Selector); err != nil {
		return err
	}
	if _, err := domain.ParseLocationMatch(c.LocationMatch); err != nil {
		return err
	}

	return nil
}

type Gateway struct {
	Log
	Telemetry

	Port             string `env:"PORT" envDefault:"8080"`
	OrdersServiceURL string `env:"ORDERS_SERVICE_URL,required,notEmpty"`
}

type Worker struct {
	Log
	Telemetry

	KafkaBrokers     []string      `env:"KAFKA_BROKERS,required,notEmpty" envSeparator:","`
	GroupID          string        `env:"KAFKA_GROUP_ID" envDefault:"assignment-worker"`
	OrdersServiceURL string        `env:"ORDERS_SERVICE_URL,required,notEmpty"`
	NotifyServiceURL string        `env:"NOTIFY_SERVICE_URL,required,notEmpty"`
	RetryDelay       time.Duration `env:"ASSIGN_RETRY_DELAY" envDefault:"30s"`
	NotifyChannel    string        `env:"NOTIFY_CHANNEL" envDefault:"sms"`

	// CallAttempts bounds the calls made to the orders and notify services
	// for one event before it is dropped.
	CallAttempts      uint          `env:"CALL_ATTEMPTS" envDefault:"5"`
	CallRetryInterval time.Duration `env:"CALL_RETRY_INTERVAL" envDefault:"500ms"`
}

type Notify struct {
	Log

	Port string `env:"PORT" envDefault:"8084"`
}

type Migrate struct {
	Log

	PostgresURL    string `env:"POSTGRES_URL,required,notEmpty"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`
}

// Load parses the process environment into a T.
func Load[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom[T any](environ map[string]string) (T, error) {
	var cfg T
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// WithSearchPath points a lib/pq connection string at schema so that every
// pooled connection resolves unqualified table names there.
func WithSearchPath(dsn, schema string) (string, error) {
	if !strings.Contains(dsn, "://") {
		return dsn + " search_path=" + schema, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
