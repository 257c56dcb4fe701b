// Package validation wraps go-playground/validator with rules for decimal amounts.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	customError "github.com/segyhp/microlend-ledger/pkg/errors"
)

// New returns a validator with the decimal_gt and decimal_gte rules registered.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("decimal_gt", decimalCompare(func(d, limit decimal.Decimal) bool {
		return d.GreaterThan(limit)
	}))
	_ = v.RegisterValidation("decimal_gte", decimalCompare(func(d, limit decimal.Decimal) bool {
		return d.GreaterThanOrEqual(limit)
	}))
	return v
}

func decimalCompare(cmp func(d, limit decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		var d decimal.Decimal
		switch value := fl.Field().Interface().(type) {
		case decimal.Decimal:
			d = value
		case *decimal.Decimal:
			if value == nil {
				return false
			}
			d = *value
		default:
			return false
		}
		limit, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return cmp(d, limit)
	}
}

// Struct validates s and converts failures into a validation BusinessError.
func Struct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return customError.WrapInvalidInput(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return customError.WrapInvalidInput(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "decimal_gt", "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "decimal_gte", "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
