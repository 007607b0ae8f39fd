package assignment

import (
	"fmt"
	"slices"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// Selector ranks eligible partners; the service tries them in the returned
// order until one reservation succeeds.
type Selector interface {
	Rank(candidates []domain.DeliveryPartner) []domain.DeliveryPartner
}

// FirstEligible keeps the directory's natural ordering.
type FirstEligible struct{}

func (FirstEligible) Rank(candidates []domain.DeliveryPartner) []domain.DeliveryPartner {
	return candidates
}

// Balanced prefers partners with fewer completed deliveries, then higher
// rating, then the directory order.
type Balanced struct{}

func (Balanced) Rank(candidates []domain.DeliveryPartner) []domain.DeliveryPartner {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b domain.DeliveryPartner) int {
		if a.CompletedDeliveries != b.CompletedDeliveries {
			return a.CompletedDeliveries - b.CompletedDeliveries
		}
		switch {
		case a.Rating > b.Rating:
			return -1
		case a.Rating < b.Rating:
			return 1
		}
		return 0
	})
	return ranked
}

func SelectorByName(name string) (Selector, error) {
	switch name {
	case "", "first":
		return FirstEligible{}, nil
	case "balanced":
		return Balanced{}, nil
	}
	return nil, fmt.Errorf("unknown partner selection policy %q", name)
}
