package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderPlacedEvent struct {
	OrderID           string          `json:"order_id"`
	BuyerID           string          `json:"buyer_id"`
	City              string          `json:"city"`
	ContactPhone      string          `json:"contact_phone"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	AssignedPartnerID string          `json:"assigned_partner_id,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	event := OrderPlacedEvent{
		OrderID:      o.ID,
		BuyerID:      o.BuyerID,
		City:         o.DeliveryAddress.Location(),
		ContactPhone: o.DeliveryAddress.Phone,
		TotalAmount:  o.TotalAmount,
		Timestamp:    o.CreatedAt,
	}
	if o.AssignedPartnerID != nil {
		event.AssignedPartnerID = *o.AssignedPartnerID
	}
	return event
}
