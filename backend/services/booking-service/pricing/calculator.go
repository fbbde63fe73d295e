// Package pricing derives the farmer/owner/platform split of a booking.
//
// All amounts are decimal rupees rounded to two places, half away from zero,
// which is round-half-up for the non-negative amounts handled here. The
// totals are derived from the already rounded fee and commission so that
// farmer pays minus owner receives always equals the platform earning.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Type is how a vehicle service is charged.
type Type string

const (
	Hourly  Type = "hourly"
	PerAcre Type = "per_acre"
	Fixed   Type = "fixed"
)

func (t Type) Valid() bool {
	switch t {
	case Hourly, PerAcre, Fixed:
		return true
	}
	return false
}

const currencyPlaces = 2

var (
	ErrInvalidType     = errors.New("pricing type must be hourly, per_acre or fixed")
	ErrInvalidRate     = errors.New("rate must not be negative")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidFeeRate  = errors.New("fee rates must be in [0, 1)")
)

// DefaultFarmerFeeRate and DefaultOwnerFeeRate are 5% each.
var (
	DefaultFarmerFeeRate = decimal.RequireFromString("0.05")
	DefaultOwnerFeeRate  = decimal.RequireFromString("0.05")
)

// Rates are the platform's commission rates.
type Rates struct {
	FarmerFeeRate decimal.Decimal
	OwnerFeeRate  decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{FarmerFeeRate: DefaultFarmerFeeRate, OwnerFeeRate: DefaultOwnerFeeRate}
}

func (r Rates) Validate() error {
	one := decimal.NewFromInt(1)
	for _, rate := range []decimal.Decimal{r.FarmerFeeRate, r.OwnerFeeRate} {
		if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
			return ErrInvalidFeeRate
		}
	}
	return nil
}

// Summary is the pricing breakdown returned to clients and persisted on the
// booking.
type Summary struct {
	BaseAmount       decimal.Decimal `json:"baseAmount"`
	FarmerServiceFee decimal.Decimal `json:"farmerServiceFee"`
	OwnerCommission  decimal.Decimal `json:"ownerCommission"`
	TotalFarmerPays  decimal.Decimal `json:"totalFarmerPays"`
	OwnerReceives    decimal.Decimal `json:"ownerReceives"`
	PlatformEarning  decimal.Decimal `json:"platformEarning"`
}

// Quote is a rate applied to a quantity. Quantity is hours for Hourly, acres
// for PerAcre and ignored for Fixed.
type Quote struct {
	Type     Type
	Rate     decimal.Decimal
	Quantity decimal.Decimal
}

// Calculator is safe for concurrent use.
type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) (*Calculator, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{rates: rates}, nil
}

func (c *Calculator) Rates() Rates { return c.rates }

// Base computes the base amount for q.
func (c *Calculator) Base(q Quote) (decimal.Decimal, error) {
	if !q.Type.Valid() {
		return decimal.Zero, ErrInvalidType
	}
	if q.Rate.IsNegative() {
		return decimal.Zero, ErrInvalidRate
	}
	if q.Type == Fixed {
		return round(q.Rate), nil
	}
	if !q.Quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidQuantity, q.Quantity)
	}
	return round(q.Rate.Mul(q.Quantity)), nil
}

// Price computes the base amount for q and splits it.
func (c *Calculator) Price(q Quote) (Summary, error) {
	base, err := c.Base(q)
	if err != nil {
		return Summary{}, err
	}
	return c.Split(base)
}

// Split applies the commission rates to an already known base amount.
func (c *Calculator) Split(base decimal.Decimal) (Summary, error) {
	if base.IsNegative() {
		return Summary{}, fmt.Errorf("base amount must not be negative: %s", base)
	}
	base = round(base)
	fee := round(base.Mul(c.rates.FarmerFeeRate))
	commission := round(base.Mul(c.rates.OwnerFeeRate))

	return Summary{
		BaseAmount:       base,
		FarmerServiceFee: fee,
		OwnerCommission:  commission,
		TotalFarmerPays:  base.Add(fee),
		OwnerReceives:    base.Sub(commission),
		PlatformEarning:  fee.Add(commission),
	}, nil
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(currencyPlaces)
}
