package domain

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// statusRank orders the forward progression of an order. Cancelled sits
// outside the chain and is reachable from any non-terminal status.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Active reports whether an order in this status still holds its partner.
func (s OrderStatus) Active() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing || s == OrderStatusShipped
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition reports whether an order may move from s to next.
// Moving to the current status is allowed and treated as a no-op.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return statusRank[next] > statusRank[s]
}

type LineItem struct {
	ProductID string           `json:"product_id"`
	Name      string           `json:"name"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Quantity  int              `json:"quantity"`
	Weight    *decimal.Decimal `json:"weight,omitempty"`
	LineTotal decimal.Decimal  `json:"line_total"`
}

// ComputeLineTotal returns quantity × unit price, or quantity × weight × unit
// price for weight-denominated produce, rounded to cents.
func (i LineItem) ComputeLineTotal() decimal.Decimal {
	total := i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
	if i.Weight != nil {
		total = total.Mul(*i.Weight)
	}
	return total.Round(2)
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`
}

// Location is the coarse identifier used to match delivery partners.
func (a Address) Location() string {
	return strings.TrimSpace(a.City)
}

type Order struct {
	ID                string          `json:"id"`
	BuyerID           string          `json:"buyer_id"`
	Items             []LineItem      `json:"items"`
	DeliveryAddress   Address         `json:"delivery_address"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Status            OrderStatus     `json:"status"`
	AssignedPartnerID *string         `json:"assigned_partner_id"`
	CreatedAt         time.Time       `json:"created_at"`
}

// AssignmentPending reports whether the order is live but still has no partner.
func (o *Order) AssignmentPending() bool {
	return o.AssignedPartnerID == nil && o.Status.Active()
}

func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.AssignedPartnerID != nil {
		id := *o.AssignedPartnerID
		c.AssignedPartnerID = &id
	}
	return &c
}

// OrderDraft is the unvalidated input of order placement. TotalAmount is
// accepted for compatibility with existing clients and never trusted.
type OrderDraft struct {
	BuyerID         string           `json:"buyer_id"`
	Items           []DraftItem      `json:"items"`
	DeliveryAddress Address          `json:"delivery_address"`
	TotalAmount     *decimal.Decimal `json:"total_amount,omitempty"`
}

type DraftItem struct {
	ProductID string           `json:"product_id"`
	Name      string           `json:"name"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Quantity  int              `json:"quantity"`
	Weight    *decimal.Decimal `json:"weight,omitempty"`
}

func (d OrderDraft) Validate() error {
	if strings.TrimSpace(d.BuyerID) == "" {
		return &ValidationError{Field: "buyer_id", Reason: "is required"}
	}
	if len(d.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}

	total := decimal.Zero
	for i, item := range d.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return &ValidationError{Field: itemField(i, "product_id"), Reason: "is required"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: itemField(i, "quantity"), Reason: "must be positive"}
		}
		if item.Quantity > MaxQuantity {
			return &ValidationError{Field: itemField(i, "quantity"), Reason: "must not exceed " + strconv.Itoa(MaxQuantity)}
		}
		if item.UnitPrice.IsNegative() {
			return &ValidationError{Field: itemField(i, "unit_price"), Reason: "must not be negative"}
		}
		if reason := checkScale(item.UnitPrice, priceScale, maxAmount); reason != "" {
			return &ValidationError{Field: itemField(i, "unit_price"), Reason: reason}
		}
		if item.Weight != nil {
			if !item.Weight.IsPositive() {
				return &ValidationError{Field: itemField(i, "weight"), Reason: "must be positive"}
			}
			if reason := checkScale(*item.Weight, weightScale, maxWeight); reason != "" {
				return &ValidationError{Field: itemField(i, "weight"), Reason: reason}
			}
		}

		line := LineItem{UnitPrice: item.UnitPrice, Quantity: item.Quantity, Weight: item.Weight}
		lineTotal := line.ComputeLineTotal()
		if lineTotal.GreaterThanOrEqual(maxAmount) {
			return &ValidationError{Field: itemField(i, "line_total"), Reason: "is too large"}
		}
		total = total.Add(lineTotal)
	}
	if total.GreaterThanOrEqual(maxAmount) {
		return &ValidationError{Field: "total_amount", Reason: "is too large"}
	}

	addr := d.DeliveryAddress
	fields := []struct {
		name  string
		value string
	}{
		{"delivery_address.street", addr.Street},
		{"delivery_address.city", addr.City},
		{"delivery_address.state", addr.State},
		{"delivery_address.postal_code", addr.PostalCode},
		{"delivery_address.phone", addr.Phone},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "is required"}
		}
	}

	return nil
}

// NewOrder validates the draft and builds a pending, unassigned order whose
// totals are derived from the line items alone.
func NewOrder(d OrderDraft, now time.Time) (*Order, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	order := &Order{
		BuyerID:         strings.TrimSpace(d.BuyerID),
		Items:           make([]LineItem, 0, len(d.Items)),
		DeliveryAddress: d.DeliveryAddress,
		TotalAmount:     decimal.Zero,
		Status:          OrderStatusPending,
		CreatedAt:       now.UTC(),
	}

	for _, di := range d.Items {
		item := LineItem{
			ProductID: di.ProductID,
			Name:      di.Name,
			UnitPrice: di.UnitPrice,
			Quantity:  di.Quantity,
			Weight:    di.Weight,
		}
		item.LineTotal = item.ComputeLineTotal()
		order.TotalAmount = order.TotalAmount.Add(item.LineTotal)
		order.Items = append(order.Items, item)
	}

	return order, nil
}

// Limits of the order columns: quantities are INTEGER, money is NUMERIC(14,2)
// and weights are NUMERIC(12,3).
const (
	MaxQuantity = math.MaxInt32
	priceScale  = 2
	weightScale = 3
)

var (
	maxAmount = decimal.New(1, 12)
	maxWeight = decimal.New(1, 9)
)

// checkScale returns why d cannot be stored with places decimal places
// below limit, or "" when it can.
func checkScale(d decimal.Decimal, places int32, limit decimal.Decimal) string {
	if !d.Equal(d.Truncate(places)) {
		return "must have at most " + strconv.Itoa(int(places)) + " decimal places"
	}
	if d.GreaterThanOrEqual(limit) {
		return "is too large"
	}
	return ""
}

func itemField(i int, name string) string {
	return "items[" + strconv.Itoa(i) + "]." + name
}

// OrderFilter narrows order listings; zero fields match everything.
type OrderFilter struct {
	BuyerID   string
	Status    OrderStatus
	PartnerID string
}

func (f OrderFilter) Matches(o *Order) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.PartnerID != "" && (o.AssignedPartnerID == nil || *o.AssignedPartnerID != f.PartnerID) {
		return false
	}
	return true
}
