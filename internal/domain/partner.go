package domain

import "time"

type DeliveryPartner struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Phone               string    `json:"phone"`
	VehicleDescription  string    `json:"vehicle_description"`
	Location            string    `json:"location"`
	Available           bool      `json:"available"`
	Rating              float64   `json:"rating"`
	CompletedDeliveries int       `json:"completed_deliveries"`
	CreatedAt           time.Time `json:"created_at"`
}
