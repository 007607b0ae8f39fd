package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

var tracer = otel.Tracer(instrumentationName)

// Service places orders and binds them to delivery partners.
type Service struct {
	orders   OrderStore
	uow      UnitOfWork
	selector Selector
	logger   *slog.Logger
	metrics  *serviceMetrics
	now      func() time.Time
}

type Option func(*Service)

func WithSelector(selector Selector) Option {
	return func(s *Service) {
		s.selector = selector
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(orders OrderStore, uow UnitOfWork, logger *slog.Logger, opts ...Option) (*Service, error) {
	m, err := newServiceMetrics()
	if err != nil {
		return nil, fmt.Errorf("create assignment metrics: %w", err)
	}

	s := &Service{
		orders:   orders,
		uow:      uow,
		selector: FirstEligible{},
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// PlaceAndAssign validates and persists the draft as a pending order, then
// tries to reserve an eligible partner for it. An order without an eligible
// partner is returned unassigned and without error. If the reservation step
// fails the persisted, unassigned order is returned along with the error.
func (s *Service) PlaceAndAssign(ctx context.Context, draft domain.OrderDraft) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "assignment.PlaceAndAssign")
	defer span.End()

	order, err := domain.NewOrder(draft, s.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.orders.Create(ctx, order); err != nil {
		err = persistenceError("create order", err)
		recordSpanError(span, err)
		return nil, err
	}
	s.metrics.ordersPlaced.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", order.ID))

	s.logger.Info("order placed",
		"order_id", order.ID,
		"buyer_id", order.BuyerID,
		"items", len(order.Items),
		"total_amount", order.TotalAmount.String(),
	)

	assigned, err := s.assign(ctx, span, order.ID)
	if err != nil {
		s.logger.Error("partner assignment failed, order left unassigned", "error", err, "order_id", order.ID)
		return order, err
	}

	return assigned, nil
}

// Assign retries partner assignment for an existing order.
func (s *Service) Assign(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "assignment.Assign",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer span.End()

	order, err := s.assign(ctx, span, orderID)
	if err != nil {
		s.logger.Error("partner assignment failed", "error", err, "order_id", orderID)
		return nil, err
	}

	return order, nil
}

func (s *Service) assign(ctx context.Context, span trace.Span, orderID string) (*domain.Order, error) {
	var result *domain.Order

	err := s.uow.Do(ctx, func(ctx context.Context, tx Stores) error {
		order, err := tx.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.AssignedPartnerID != nil {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrAlreadyAssigned)
		}
		if order.Status.Terminal() {
			return fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrInvalidStatus)
		}

		location := order.DeliveryAddress.Location()
		candidates, err := tx.Partners.FindAvailableByLocation(ctx, location)
		if err != nil {
			return err
		}

		for _, partner := range s.selector.Rank(candidates) {
			if err := tx.Partners.Reserve(ctx, partner.ID); err != nil {
				if errors.Is(err, domain.ErrPartnerUnavailable) {
					s.logger.Debug("partner reserved by another order, trying next",
						"order_id", orderID, "partner_id", partner.ID)
					continue
				}
				return err
			}

			if err := tx.Orders.SetAssignment(ctx, order.ID, partner.ID); err != nil {
				return err
			}

			partnerID := partner.ID
			order.AssignedPartnerID = &partnerID
			break
		}

		result = order
		return nil
	})
	if err != nil {
		err = persistenceError("assign partner", err)
		s.metrics.recordAssignment(ctx, outcomeFailed)
		recordSpanError(span, err)
		return nil, err
	}

	if result.AssignedPartnerID == nil {
		s.metrics.recordAssignment(ctx, outcomePending)
		span.SetAttributes(attribute.Bool("assignment.pending", true))
		s.logger.Info("no eligible delivery partner, assignment pending",
			"order_id", result.ID, "location", result.DeliveryAddress.Location())
		return result, nil
	}

	s.metrics.recordAssignment(ctx, outcomeAssigned)
	span.SetAttributes(attribute.String("partner.id", *result.AssignedPartnerID))
	s.logger.Info("delivery partner assigned", "order_id", result.ID, "partner_id", *result.AssignedPartnerID)

	return result, nil
}

// UpdateStatus moves an order along its lifecycle. Reaching delivered or
// cancelled returns the assigned partner to the available pool in the same
// unit of work.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "assignment.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", string(status)),
		),
	)
	defer span.End()

	if !status.Valid() {
		err := fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var (
		result   *domain.Order
		released bool
	)

	err := s.uow.Do(ctx, func(ctx context.Context, tx Stores) error {
		released = false

		order, err := tx.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(status) {
			return fmt.Errorf("cannot move order %s from %s to %s: %w", orderID, order.Status, status, domain.ErrInvalidStatus)
		}
		if order.Status == status {
			result = order
			return nil
		}

		if err := tx.Orders.SetStatus(ctx, orderID, status); err != nil {
			return err
		}
		order.Status = status

		if status.Terminal() && order.AssignedPartnerID != nil {
			if err := tx.Partners.SetAvailability(ctx, *order.AssignedPartnerID, true); err != nil {
				return err
			}
			released = true
		}

		result = order
		return nil
	})
	if err != nil {
		err = persistenceError("update order status", err)
		recordSpanError(span, err)
		return nil, err
	}

	if released {
		s.metrics.releases.Add(ctx, 1)
		s.logger.Info("delivery partner released", "order_id", orderID, "partner_id", *result.AssignedPartnerID, "status", status)
	}

	return result, nil
}

// SetPartnerAvailability is the administrative availability override. A
// partner may always be taken off duty, but cannot be made available while
// an active order still holds it.
func (s *Service) SetPartnerAvailability(ctx context.Context, partnerID string, available bool) (*domain.DeliveryPartner, error) {
	ctx, span := tracer.Start(ctx, "assignment.SetPartnerAvailability",
		trace.WithAttributes(
			attribute.String("partner.id", partnerID),
			attribute.Bool("partner.available", available),
		),
	)
	defer span.End()

	var result *domain.DeliveryPartner

	err := s.uow.Do(ctx, func(ctx context.Context, tx Stores) error {
		if _, err := tx.Partners.Get(ctx, partnerID); err != nil {
			return err
		}

		if available {
			busy, err := tx.Orders.HasActiveAssignment(ctx, partnerID)
			if err != nil {
				return err
			}
			if busy {
				return fmt.Errorf("partner %s: %w", partnerID, domain.ErrPartnerBusy)
			}
		}

		if err := tx.Partners.SetAvailability(ctx, partnerID, available); err != nil {
			return err
		}

		partner, err := tx.Partners.Get(ctx, partnerID)
		if err != nil {
			return err
		}
		result = partner
		return nil
	})
	if err != nil {
		err = persistenceError("set partner availability", err)
		recordSpanError(span, err)
		return nil, err
	}

	s.logger.Info("partner availability updated", "partner_id", partnerID, "available", available)
	return result, nil
}

var domainErrors = []error{
	domain.ErrValidation,
	domain.ErrNotFound,
	domain.ErrAlreadyAssigned,
	domain.ErrInvalidStatus,
	domain.ErrPartnerUnavailable,
	domain.ErrPartnerBusy,
	domain.ErrPersistence,
}

// persistenceError passes domain errors through untouched and marks
// everything else as a storage failure.
func persistenceError(op string, err error) error {
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
