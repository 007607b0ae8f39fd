package memstore

import (
	"context"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// Orders is the synchronized order repository over a Store.
type Orders struct {
	store *Store
}

func (r *Orders) Create(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.store.locked(func(v view) error {
		v.createOrder(order)
		return nil
	})
}

func (r *Orders) GetByID(_ context.Context, id string) (order *domain.Order, err error) {
	err = r.store.locked(func(v view) error {
		order, err = v.getOrder(id)
		return err
	})
	return order, err
}

func (r *Orders) List(_ context.Context, filter domain.OrderFilter) (orders []domain.Order, err error) {
	err = r.store.locked(func(v view) error {
		orders = v.listOrders(filter)
		return nil
	})
	return orders, err
}

func (r *Orders) SetAssignment(_ context.Context, orderID, partnerID string) error {
	return r.store.locked(func(v view) error {
		return v.setAssignment(orderID, partnerID)
	})
}

func (r *Orders) SetStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	return r.store.locked(func(v view) error {
		return v.setStatus(orderID, status)
	})
}

func (r *Orders) HasActiveAssignment(_ context.Context, partnerID string) (busy bool, err error) {
	err = r.store.locked(func(v view) error {
		busy = v.hasActiveAssignment(partnerID)
		return nil
	})
	return busy, err
}

// Partners is the synchronized partner repository over a Store.
type Partners struct {
	store *Store
}

func (r *Partners) Create(ctx context.Context, partner *domain.DeliveryPartner) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.store.locked(func(v view) error {
		v.createPartner(partner)
		return nil
	})
}

func (r *Partners) Get(_ context.Context, id string) (partner *domain.DeliveryPartner, err error) {
	err = r.store.locked(func(v view) error {
		partner, err = v.getPartner(id)
		return err
	})
	return partner, err
}

func (r *Partners) List(_ context.Context) (partners []domain.DeliveryPartner, err error) {
	err = r.store.locked(func(v view) error {
		partners = v.listPartners(false, "")
		return nil
	})
	return partners, err
}

func (r *Partners) FindAvailableByLocation(_ context.Context, location string) (partners []domain.DeliveryPartner, err error) {
	err = r.store.locked(func(v view) error {
		partners = v.listPartners(true, location)
		return nil
	})
	return partners, err
}

func (r *Partners) SetAvailability(_ context.Context, id string, available bool) error {
	return r.store.locked(func(v view) error {
		return v.setAvailability(id, available)
	})
}

func (r *Partners) Reserve(_ context.Context, id string) error {
	return r.store.locked(func(v view) error {
		return v.reserve(id)
	})
}
