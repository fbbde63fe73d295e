package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/pricing"
)

// Vehicle is the read side of the vehicle catalogue owned by the vehicle
// service. Bookings only read it.
type Vehicle struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         uuid.UUID        `gorm:"type:uuid;index;not null" json:"ownerId"`
	Name            string           `gorm:"type:varchar(255)" json:"name"`
	VehicleType     string           `gorm:"type:varchar(50)" json:"vehicleType"`
	ServicesOffered ServiceOfferings `gorm:"type:jsonb;not null" json:"servicesOffered"`
	LocationLat     float64          `gorm:"type:numeric(10,7)" json:"locationLat"`
	LocationLng     float64          `gorm:"type:numeric(10,7)" json:"locationLng"`
	ServiceRadiusKm float64          `gorm:"type:numeric(6,2);not null;default:10" json:"serviceRadiusKm"`
	IsAvailable     bool             `gorm:"not null;default:true" json:"isAvailable"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	DeletedAt       gorm.DeletedAt   `gorm:"index" json:"-"`
}

// ServiceOffering is one priced service a vehicle performs. Only the rate
// matching PricingType is meaningful.
type ServiceOffering struct {
	ServiceName string           `json:"serviceName"`
	PricingType pricing.Type     `json:"pricingType"`
	HourlyRate  *decimal.Decimal `json:"hourlyRate,omitempty"`
	PerAcreRate *decimal.Decimal `json:"perAcreRate,omitempty"`
	FixedPrice  *decimal.Decimal `json:"fixedPrice,omitempty"`
}

// Rate returns the rate for the offering's pricing type.
func (o ServiceOffering) Rate() (decimal.Decimal, bool) {
	var r *decimal.Decimal
	switch o.PricingType {
	case pricing.Hourly:
		r = o.HourlyRate
	case pricing.PerAcre:
		r = o.PerAcreRate
	case pricing.Fixed:
		r = o.FixedPrice
	}
	if r == nil {
		return decimal.Zero, false
	}
	return *r, true
}

type ServiceOfferings []ServiceOffering

// Find looks up an offering by service name.
func (s ServiceOfferings) Find(name string) (ServiceOffering, bool) {
	for _, o := range s {
		if o.ServiceName == name {
			return o, true
		}
	}
	return ServiceOffering{}, false
}

func (s ServiceOfferings) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *ServiceOfferings) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("services_offered: cannot scan %T", value)
	}
	return json.Unmarshal(raw, s)
}
