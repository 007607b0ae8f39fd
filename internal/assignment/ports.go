package assignment

import (
	"context"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// OrderStore persists orders. SetAssignment must refuse to overwrite an
// existing assignment with domain.ErrAlreadyAssigned.
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	SetAssignment(ctx context.Context, orderID, partnerID string) error
	SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
	HasActiveAssignment(ctx context.Context, partnerID string) (bool, error)
}

// PartnerDirectory exposes delivery partners. FindAvailableByLocation must
// return a stable order for a given snapshot of data.
type PartnerDirectory interface {
	FindAvailableByLocation(ctx context.Context, location string) ([]domain.DeliveryPartner, error)
	Get(ctx context.Context, id string) (*domain.DeliveryPartner, error)
	SetAvailability(ctx context.Context, partnerID string, available bool) error
	// Reserve flips available from true to false, failing with
	// domain.ErrPartnerUnavailable when the partner was not available.
	Reserve(ctx context.Context, partnerID string) error
}

// Stores are the store views bound to one unit of work.
type Stores struct {
	Orders   OrderStore
	Partners PartnerDirectory
}

// UnitOfWork runs fn atomically: either every write made through the given
// stores becomes visible or none does.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
