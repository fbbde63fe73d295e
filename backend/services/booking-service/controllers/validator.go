package controllers

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators teaches gin's binding validator about decimal request
// fields and adds the money and positive tags. Safe to call more than once.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected binding validator %T", binding.Validator.Engine())
			return
		}
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
		if err := v.RegisterValidation("money", validateMoney); err != nil {
			registerErr = err
			return
		}
		registerErr = v.RegisterValidation("positive", validatePositive)
	})
	return registerErr
}

// decimalValue lets tags run against a decimal's string form.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.String()
	}
	return nil
}

// validateMoney accepts a positive amount with at most two decimal places.
func validateMoney(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && d.IsPositive() && d.Equal(d.Round(2))
}

func validatePositive(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && d.IsPositive()
}
