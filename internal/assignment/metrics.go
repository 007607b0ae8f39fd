package assignment

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/joao-fontenele/agrimarket/internal/assignment"

const (
	outcomeAssigned = "assigned"
	outcomePending  = "pending"
	outcomeFailed   = "failed"
)

type serviceMetrics struct {
	ordersPlaced metric.Int64Counter
	assignments  metric.Int64Counter
	releases     metric.Int64Counter
}

func newServiceMetrics() (*serviceMetrics, error) {
	meter := otel.Meter(instrumentationName)

	ordersPlaced, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders persisted by the placement flow"),
	)
	if err != nil {
		return nil, err
	}

	assignments, err := meter.Int64Counter("orders.partner_assignments",
		metric.WithDescription("Partner assignment attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	releases, err := meter.Int64Counter("partners.released",
		metric.WithDescription("Partners returned to the available pool on order completion"),
	)
	if err != nil {
		return nil, err
	}

	return &serviceMetrics{
		ordersPlaced: ordersPlaced,
		assignments:  assignments,
		releases:     releases,
	}, nil
}

func (m *serviceMetrics) recordAssignment(ctx context.Context, outcome string) {
	m.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
