// Package memstore keeps orders and delivery partners in process memory.
// It backs development runs without Postgres and the service tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/agrimarket/internal/assignment"
	"github.com/joao-fontenele/agrimarket/internal/domain"
)

type state struct {
	orders   map[string]*domain.Order
	partners map[string]*domain.DeliveryPartner
	// partnerSeq preserves insertion order for stable lookups.
	partnerSeq []string
	orderSeq   []string
}

func newState() *state {
	return &state{
		orders:   make(map[string]*domain.Order),
		partners: make(map[string]*domain.DeliveryPartner),
	}
}

func (s *state) clone() *state {
	c := &state{
		orders:     make(map[string]*domain.Order, len(s.orders)),
		partners:   make(map[string]*domain.DeliveryPartner, len(s.partners)),
		partnerSeq: slices.Clone(s.partnerSeq),
		orderSeq:   slices.Clone(s.orderSeq),
	}
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	for id, p := range s.partners {
		cp := *p
		c.partners[id] = &cp
	}
	return c
}

// Store is safe for concurrent use. Units of work are serialized and applied
// by swapping in a modified copy of the data, so a failed unit leaves no trace.
type Store struct {
	mu    sync.Mutex
	data  *state
	match domain.LocationMatch
	now   func() time.Time
}

func New(match domain.LocationMatch) *Store {
	return &Store{
		data:  newState(),
		match: match,
		now:   time.Now,
	}
}

func (s *Store) Orders() *Orders {
	return &Orders{store: s}
}

func (s *Store) Partners() *Partners {
	return &Partners{store: s}
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx assignment.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.data.clone()
	v := view{data: working, match: s.match, now: s.now}
	if err := fn(ctx, assignment.Stores{Orders: orderView{v}, Partners: partnerView{v}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data = working
	return nil
}

// locked runs fn against the live data under the store mutex.
func (s *Store) locked(fn func(v view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(view{data: s.data, match: s.match, now: s.now})
}

type view struct {
	data  *state
	match domain.LocationMatch
	now   func() time.Time
}

func (v view) createOrder(order *domain.Order) {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = v.now().UTC()
	}
	v.data.orders[order.ID] = order.Clone()
	v.data.orderSeq = append(v.data.orderSeq, order.ID)
}

func (v view) getOrder(id string) (*domain.Order, error) {
	o, ok := v.data.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

// listOrders returns the newest orders first.
func (v view) listOrders(filter domain.OrderFilter) []domain.Order {
	out := []domain.Order{}
	for i := len(v.data.orderSeq) - 1; i >= 0; i-- {
		o := v.data.orders[v.data.orderSeq[i]]
		if filter.Matches(o) {
			out = append(out, *o.Clone())
		}
	}
	return out
}

func (v view) setAssignment(orderID, partnerID string) error {
	o, ok := v.data.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.AssignedPartnerID != nil {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrAlreadyAssigned)
	}
	id := partnerID
	o.AssignedPartnerID = &id
	return nil
}

func (v view) setStatus(orderID string, status domain.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	o, ok := v.data.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	o.Status = status
	return nil
}

func (v view) hasActiveAssignment(partnerID string) bool {
	for _, o := range v.data.orders {
		if o.AssignedPartnerID != nil && *o.AssignedPartnerID == partnerID && o.Status.Active() {
			return true
		}
	}
	return false
}

func (v view) createPartner(p *domain.DeliveryPartner) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = v.now().UTC()
	}
	cp := *p
	v.data.partners[p.ID] = &cp
	v.data.partnerSeq = append(v.data.partnerSeq, p.ID)
}

func (v view) getPartner(id string) (*domain.DeliveryPartner, error) {
	p, ok := v.data.partners[id]
	if !ok {
		return nil, fmt.Errorf("partner %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (v view) listPartners(availableOnly bool, location string) []domain.DeliveryPartner {
	out := []domain.DeliveryPartner{}
	for _, id := range v.data.partnerSeq {
		p := v.data.partners[id]
		if availableOnly && !p.Available {
			continue
		}
		if location != "" && !v.match.Matches(p.Location, location) {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func (v view) setAvailability(id string, available bool) error {
	p, ok := v.data.partners[id]
	if !ok {
		return fmt.Errorf("partner %s: %w", id, domain.ErrNotFound)
	}
	p.Available = available
	return nil
}

func (v view) reserve(id string) error {
	p, ok := v.data.partners[id]
	if !ok || !p.Available {
		return fmt.Errorf("partner %s: %w", id, domain.ErrPartnerUnavailable)
	}
	p.Available = false
	return nil
}

// orderView and partnerView are the unsynchronized stores handed to a unit
// of work; the caller already holds the store mutex.
type orderView struct{ v view }

func (o orderView) Create(_ context.Context, order *domain.Order) error {
	o.v.createOrder(order)
	return nil
}

func (o orderView) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return o.v.getOrder(id)
}

func (o orderView) SetAssignment(_ context.Context, orderID, partnerID string) error {
	return o.v.setAssignment(orderID, partnerID)
}

func (o orderView) SetStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	return o.v.setStatus(orderID, status)
}

func (o orderView) HasActiveAssignment(_ context.Context, partnerID string) (bool, error) {
	return o.v.hasActiveAssignment(partnerID), nil
}

type partnerView struct{ v view }

func (p partnerView) FindAvailableByLocation(_ context.Context, location string) ([]domain.DeliveryPartner, error) {
	return p.v.listPartners(true, location), nil
}

func (p partnerView) Get(_ context.Context, id string) (*domain.DeliveryPartner, error) {
	return p.v.getPartner(id)
}

func (p partnerView) SetAvailability(_ context.Context, id string, available bool) error {
	return p.v.setAvailability(id, available)
}

func (p partnerView) Reserve(_ context.Context, id string) error {
	return p.v.reserve(id)
}
